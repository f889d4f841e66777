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

// VehicleService owns the local vehicle rows and their CRM mirror state.
type VehicleService struct {
	repo        domain.VehicleRepository
	coordinator domain.Coordinator
	logger      *zerolog.Logger
}

func NewVehicleService(repo domain.VehicleRepository, coordinator domain.Coordinator, logger *zerolog.Logger) *VehicleService {
	return &VehicleService{
		repo:        repo,
		coordinator: coordinator,
		logger:      logger,
	}
}

func (s *VehicleService) CreateVehicle(ctx context.Context, vehicle *models.Vehicle) error {
	if vehicle.ID == "" {
		vehicle.ID = uuid.NewString()
	}
	if vehicle.VIN == "" {
		return errors.New("vehicle vin is required")
	}
	if vehicle.OwnerID == "" {
		return errors.New("vehicle owner is required")
	}

	if err := s.repo.CreateVehicle(ctx, vehicle); err != nil {
		return err
	}

	return s.syncVehicle(ctx, vehicle)
}

func (s *VehicleService) UpdateVehicle(ctx context.Context, vehicle *models.Vehicle) error {
	if err := s.repo.UpdateVehicle(ctx, vehicle); err != nil {
		return err
	}
	return s.syncVehicle(ctx, vehicle)
}

func (s *VehicleService) GetVehicle(ctx context.Context, id string) (*models.Vehicle, error) {
	return s.repo.GetVehicle(ctx, id)
}

// ResyncAll pushes vehicles that never made it to the CRM. Used by the full
// resync job; stops early when the CRM goes down mid-pass.
func (s *VehicleService) ResyncAll(ctx context.Context) error {
	vehicles, err := s.repo.ListVehiclesMissingCrmID(ctx)
	if err != nil {
		return err
	}

	for i := range vehicles {
		vehicle := &vehicles[i]
		crmID, verified, err := s.coordinator.SyncVehicle(ctx, vehicle)
		if errors.Is(err, sync.ErrCrmUnavailable) {
			return nil
		}
		if err != nil {
			s.logger.Error().Err(err).Str("vehicle_id", vehicle.ID).Msg("full resync: vehicle sync failed")
			continue
		}
		if err := s.repo.SetVehicleCrmState(ctx, vehicle.ID, crmID, verified); err != nil {
			return err
		}
	}
	return nil
}

func (s *VehicleService) syncVehicle(ctx context.Context, vehicle *models.Vehicle) error {
	crmID, verified, err := s.coordinator.SyncVehicle(ctx, vehicle)
	if errors.Is(err, sync.ErrCrmUnavailable) {
		s.logger.Info().Str("vehicle_id", vehicle.ID).Msg("crm sync deferred, local change kept")
		return nil
	}
	if err != nil {
		return fmt.Errorf("sync vehicle to crm: %w", err)
	}

	if crmID != vehicle.CrmID || verified != vehicle.Verified {
		if err := s.repo.SetVehicleCrmState(ctx, vehicle.ID, crmID, verified); err != nil {
			return err
		}
		vehicle.CrmID = crmID
		vehicle.Verified = verified
	}
	return nil
}
