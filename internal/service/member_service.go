package service

import (
	"context"
	"errors"
	"fmt"

	"crmbridge/internal/domain"
	"crmbridge/internal/models"
	"crmbridge/internal/sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// MemberService owns the local member rows and keeps them mirrored into the
// CRM. A deferred sync (ErrCrmUnavailable) is not an error for callers: the
// local change stands and the scheduler replays the intent later.
type MemberService struct {
	repo        domain.MemberRepository
	coordinator domain.Coordinator
	logger      *zerolog.Logger
}

func NewMemberService(repo domain.MemberRepository, coordinator domain.Coordinator, logger *zerolog.Logger) *MemberService {
	return &MemberService{
		repo:        repo,
		coordinator: coordinator,
		logger:      logger,
	}
}

func (s *MemberService) CreateMember(ctx context.Context, member *models.Member) error {
	if member.ID == "" {
		member.ID = uuid.NewString()
	}
	if member.Email == "" {
		return errors.New("member email is required")
	}
	if member.FirstName == "" {
		return errors.New("member first name is required")
	}

	if err := s.repo.CreateMember(ctx, member); err != nil {
		return err
	}

	return s.syncMember(ctx, member)
}

func (s *MemberService) UpdateMember(ctx context.Context, member *models.Member) error {
	if err := s.repo.UpdateMember(ctx, member); err != nil {
		return err
	}
	return s.syncMember(ctx, member)
}

// DeleteMember soft-deletes the local row so the CRM id survives until the
// remote delete has actually replayed.
func (s *MemberService) DeleteMember(ctx context.Context, id string) error {
	member, err := s.repo.GetMember(ctx, id)
	if err != nil {
		return err
	}

	if err := s.repo.SoftDeleteMember(ctx, id); err != nil {
		return err
	}

	err = s.coordinator.DeleteMember(ctx, member)
	if errors.Is(err, sync.ErrCrmUnavailable) {
		s.logger.Info().Str("member_id", id).Msg("crm delete deferred")
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete member in crm: %w", err)
	}

	return s.repo.SetMemberCrmID(ctx, id, "")
}

func (s *MemberService) GetMember(ctx context.Context, id string) (*models.Member, error) {
	return s.repo.GetMember(ctx, id)
}

// ResyncAll pushes members that never made it to the CRM. Used by the full
// resync job; stops early when the CRM goes down mid-pass.
func (s *MemberService) ResyncAll(ctx context.Context) error {
	members, err := s.repo.ListMembersMissingCrmID(ctx)
	if err != nil {
		return err
	}

	for i := range members {
		member := &members[i]
		crmID, err := s.coordinator.SyncMember(ctx, member)
		if errors.Is(err, sync.ErrCrmUnavailable) {
			return nil
		}
		if err != nil {
			s.logger.Error().Err(err).Str("member_id", member.ID).Msg("full resync: member sync failed")
			continue
		}
		if err := s.repo.SetMemberCrmID(ctx, member.ID, crmID); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemberService) syncMember(ctx context.Context, member *models.Member) error {
	crmID, err := s.coordinator.SyncMember(ctx, member)
	if errors.Is(err, sync.ErrCrmUnavailable) {
		s.logger.Info().Str("member_id", member.ID).Msg("crm sync deferred, local change kept")
		return nil
	}
	if err != nil {
		return fmt.Errorf("sync member to crm: %w", err)
	}

	if crmID != member.CrmID {
		if err := s.repo.SetMemberCrmID(ctx, member.ID, crmID); err != nil {
			return err
		}
		member.CrmID = crmID
	}
	return nil
}
