package sync

import (
	"context"
	"errors"
	"fmt"

	"crmbridge/internal/crm"
	"crmbridge/internal/database"
	"crmbridge/internal/domain"
	"crmbridge/internal/metrics"
	"crmbridge/internal/models"

	"github.com/rs/zerolog"
)

// ErrCrmUnavailable marks a sync that was deferred to the fallback queue
// because the CRM liveness probe failed. Callers must treat it as "accepted
// for later processing" and proceed with their local state change.
var ErrCrmUnavailable = errors.New("crm unavailable, sync deferred")

type handlerKey struct {
	entityType string
	action     string
}

// Coordinator decides between immediate CRM sync and deferral. It never
// retries internally: all retrying happens in the scheduler, operating only
// on queue contents.
type Coordinator struct {
	crm      domain.CrmClient
	queue    domain.FallbackQueue
	store    domain.EntityStore
	logger   *zerolog.Logger
	handlers map[handlerKey]func(ctx context.Context, entityID string) error
}

func NewCoordinator(crmClient domain.CrmClient, queue domain.FallbackQueue, store domain.EntityStore, logger *zerolog.Logger) *Coordinator {
	c := &Coordinator{
		crm:    crmClient,
		queue:  queue,
		store:  store,
		logger: logger,
	}

	// One table drives the whole resync path so it stays symmetric with the
	// synchronous path instead of duplicating type/action branching.
	c.handlers = map[handlerKey]func(ctx context.Context, entityID string) error{
		{models.EntityMember, models.ActionCreate}:  c.resyncMemberCreate,
		{models.EntityMember, models.ActionUpdate}:  c.resyncMemberUpdate,
		{models.EntityMember, models.ActionDelete}:  c.resyncMemberDelete,
		{models.EntityVehicle, models.ActionCreate}: c.resyncVehicleCreate,
		{models.EntityVehicle, models.ActionUpdate}: c.resyncVehicleUpdate,
	}

	return c
}

// Probe checks CRM liveness. Any transport error means "not alive";
// the error is never propagated.
func (c *Coordinator) Probe(ctx context.Context) bool {
	alive, err := c.crm.IsAlive(ctx)
	if err != nil {
		c.logger.Debug().Err(err).Msg("crm liveness probe failed")
		return false
	}
	return alive
}

// SyncMember pushes the member to the CRM, or defers when the CRM is down.
// Returns the CRM id on success; the caller persists it.
func (c *Coordinator) SyncMember(ctx context.Context, member *models.Member) (string, error) {
	action := models.ActionCreate
	if member.CrmID != "" {
		action = models.ActionUpdate
	}

	if !c.Probe(ctx) {
		if err := c.deferSync(ctx, member.ID, models.EntityMember, action); err != nil {
			return "", err
		}
		return "", ErrCrmUnavailable
	}

	var crmID string
	var err error
	if action == models.ActionCreate {
		crmID, err = c.crm.CreateMember(ctx, member)
	} else {
		crmID, err = c.crm.UpdateMember(ctx, member)
	}
	if err != nil {
		metrics.IncSync(models.EntityMember, action, metrics.OutcomeFailed)
		c.logger.Error().Err(err).Str("member_id", member.ID).Str("action", action).Msg("member sync failed")
		return "", err
	}

	metrics.IncSync(models.EntityMember, action, metrics.OutcomeSuccess)
	return crmID, nil
}

// SyncVehicle pushes the vehicle to the CRM, or defers when the CRM is down.
// A failed update degrades to (existing crm id, verified=false, nil error):
// a usable crm id from an earlier create must not be blocked by a stale
// verification state. Member syncs carry no such policy.
func (c *Coordinator) SyncVehicle(ctx context.Context, vehicle *models.Vehicle) (string, bool, error) {
	action := models.ActionCreate
	if vehicle.CrmID != "" {
		action = models.ActionUpdate
	}

	if !c.Probe(ctx) {
		if err := c.deferSync(ctx, vehicle.ID, models.EntityVehicle, action); err != nil {
			return "", false, err
		}
		return "", false, ErrCrmUnavailable
	}

	if action == models.ActionCreate {
		crmID, err := c.crm.CreateVehicle(ctx, vehicle)
		if err != nil {
			metrics.IncSync(models.EntityVehicle, action, metrics.OutcomeFailed)
			c.logger.Error().Err(err).Str("vehicle_id", vehicle.ID).Msg("vehicle create sync failed")
			return "", false, err
		}

		verified := c.verifyVehicle(ctx, vehicle, crmID)
		metrics.IncSync(models.EntityVehicle, action, metrics.OutcomeSuccess)
		return crmID, verified, nil
	}

	if err := c.crm.UpdateVehicle(ctx, vehicle); err != nil {
		metrics.IncSync(models.EntityVehicle, action, metrics.OutcomeDegraded)
		c.logger.Error().Err(err).Str("vehicle_id", vehicle.ID).Str("crm_id", vehicle.CrmID).
			Msg("vehicle update failed, returning degraded result")
		return vehicle.CrmID, false, nil
	}

	metrics.IncSync(models.EntityVehicle, action, metrics.OutcomeSuccess)
	return vehicle.CrmID, true, nil
}

// DeleteMember removes the member from the CRM, or defers when the CRM is
// down. Delete-on-already-absent counts as success.
func (c *Coordinator) DeleteMember(ctx context.Context, member *models.Member) error {
	if !c.Probe(ctx) {
		if err := c.deferSync(ctx, member.ID, models.EntityMember, models.ActionDelete); err != nil {
			return err
		}
		return ErrCrmUnavailable
	}

	if member.CrmID == "" {
		// Never reached the CRM in the first place.
		c.logger.Debug().Str("member_id", member.ID).Msg("member has no crm id, nothing to delete")
		return nil
	}

	if err := c.crm.DeleteMember(ctx, member.CrmID); err != nil {
		if errors.Is(err, crm.ErrNotFound) {
			metrics.IncSync(models.EntityMember, models.ActionDelete, metrics.OutcomeAbsorbed)
			c.logger.Warn().Str("member_id", member.ID).Str("crm_id", member.CrmID).
				Msg("remote member already absent, treating delete as success")
			return nil
		}
		metrics.IncSync(models.EntityMember, models.ActionDelete, metrics.OutcomeFailed)
		c.logger.Error().Err(err).Str("member_id", member.ID).Str("crm_id", member.CrmID).Msg("member delete failed")
		return err
	}

	metrics.IncSync(models.EntityMember, models.ActionDelete, metrics.OutcomeSuccess)
	return nil
}

// Resync replays a deferred intent through the handler table. Errors leave
// the record active; the scheduler records the attempt.
func (c *Coordinator) Resync(ctx context.Context, item models.PendingEntity) error {
	handler, ok := c.handlers[handlerKey{item.EntityType, item.Action}]
	if !ok {
		return fmt.Errorf("no resync handler for %s/%s", item.EntityType, item.Action)
	}

	if err := handler(ctx, item.EntityID); err != nil {
		metrics.IncResync(item.EntityType, item.Action, metrics.OutcomeFailed)
		return err
	}
	metrics.IncResync(item.EntityType, item.Action, metrics.OutcomeSuccess)
	return nil
}

func (c *Coordinator) deferSync(ctx context.Context, entityID, entityType, action string) error {
	if _, err := c.queue.Upsert(ctx, entityID, entityType, action); err != nil {
		c.logger.Error().Err(err).Str("entity_id", entityID).Str("action", action).
			Msg("failed to record deferred sync intent")
		return fmt.Errorf("record pending sync: %w", err)
	}
	c.logger.Warn().Str("entity_id", entityID).Str("entity_type", entityType).Str("action", action).
		Msg("crm unreachable, sync deferred")
	return nil
}

func (c *Coordinator) verifyVehicle(ctx context.Context, vehicle *models.Vehicle, crmID string) bool {
	// Best effort: verification failure never fails the sync itself.
	verifyTarget := *vehicle
	verifyTarget.CrmID = crmID
	verified, err := c.crm.VerifyVehicle(ctx, &verifyTarget)
	if err != nil {
		c.logger.Warn().Err(err).Str("vehicle_id", vehicle.ID).Str("crm_id", crmID).
			Msg("vehicle verification failed")
		return false
	}
	return verified
}

func (c *Coordinator) resyncMemberCreate(ctx context.Context, entityID string) error {
	member, err := c.store.GetMember(ctx, entityID)
	if err != nil {
		return fmt.Errorf("load member %s: %w", entityID, err)
	}

	crmID, err := c.crm.CreateMember(ctx, member)
	if err != nil {
		return err
	}
	return c.store.SetMemberCrmID(ctx, entityID, crmID)
}

func (c *Coordinator) resyncMemberUpdate(ctx context.Context, entityID string) error {
	member, err := c.store.GetMember(ctx, entityID)
	if err != nil {
		return fmt.Errorf("load member %s: %w", entityID, err)
	}
	if member.CrmID == "" {
		// Coalesced from create before the first sync ever happened.
		return c.resyncMemberCreate(ctx, entityID)
	}

	crmID, err := c.crm.UpdateMember(ctx, member)
	if err != nil {
		return err
	}
	return c.store.SetMemberCrmID(ctx, entityID, crmID)
}

func (c *Coordinator) resyncMemberDelete(ctx context.Context, entityID string) error {
	member, err := c.store.GetMember(ctx, entityID)
	if errors.Is(err, database.ErrNotFound) {
		// Local row hard-gone: no crm id left to delete with.
		c.logger.Warn().Str("member_id", entityID).Msg("member row missing, dropping deferred delete")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load member %s: %w", entityID, err)
	}
	if member.CrmID == "" {
		return nil
	}

	if err := c.crm.DeleteMember(ctx, member.CrmID); err != nil && !errors.Is(err, crm.ErrNotFound) {
		return err
	}
	return c.store.SetMemberCrmID(ctx, entityID, "")
}

func (c *Coordinator) resyncVehicleCreate(ctx context.Context, entityID string) error {
	vehicle, err := c.store.GetVehicle(ctx, entityID)
	if err != nil {
		return fmt.Errorf("load vehicle %s: %w", entityID, err)
	}

	crmID, err := c.crm.CreateVehicle(ctx, vehicle)
	if err != nil {
		return err
	}

	verified := c.verifyVehicle(ctx, vehicle, crmID)
	return c.store.SetVehicleCrmState(ctx, entityID, crmID, verified)
}

func (c *Coordinator) resyncVehicleUpdate(ctx context.Context, entityID string) error {
	vehicle, err := c.store.GetVehicle(ctx, entityID)
	if err != nil {
		return fmt.Errorf("load vehicle %s: %w", entityID, err)
	}
	if vehicle.CrmID == "" {
		return c.resyncVehicleCreate(ctx, entityID)
	}

	// No degrade here: a failed replay must leave the record active so the
	// next drain retries it.
	if err := c.crm.UpdateVehicle(ctx, vehicle); err != nil {
		return err
	}
	return c.store.SetVehicleCrmState(ctx, entityID, vehicle.CrmID, true)
}
