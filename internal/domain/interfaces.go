package domain

import (
	"context"

	"crmbridge/internal/models"
)

// CrmClient is the boundary to the external CRM. Every call is expected to
// carry a bounded timeout; a timeout surfaces as a transport error.
type CrmClient interface {
	IsAlive(ctx context.Context) (bool, error)
	CreateMember(ctx context.Context, member *models.Member) (string, error)
	UpdateMember(ctx context.Context, member *models.Member) (string, error)
	DeleteMember(ctx context.Context, crmID string) error
	CreateVehicle(ctx context.Context, vehicle *models.Vehicle) (string, error)
	UpdateVehicle(ctx context.Context, vehicle *models.Vehicle) error
	VerifyVehicle(ctx context.Context, vehicle *models.Vehicle) (bool, error)
}

// PendingStore is the durable store behind the fallback queue. The queue is
// its only consumer.
type PendingStore interface {
	UpsertPending(ctx context.Context, entityID, entityType, action string) (*models.PendingEntity, error)
	FindActiveByEntityID(ctx context.Context, entityID string) (*models.PendingEntity, error)
	FetchActive(ctx context.Context, limit int, orderAsc bool) ([]models.PendingEntity, error)
	MarkDone(ctx context.Context, ids []string) (int64, error)
	IncrementAttempts(ctx context.Context, failures map[string]string) (int64, error)
	MarkStuckOverThreshold(ctx context.Context, maxAttempts int) ([]models.PendingEntity, error)
	ListStuck(ctx context.Context) ([]models.PendingEntity, error)
	CountActive(ctx context.Context) (int, error)
}

// FallbackQueue records deferred sync intents and hands them back to the
// drain loop in batches.
type FallbackQueue interface {
	Upsert(ctx context.Context, entityID, entityType, action string) (*models.PendingEntity, error)
	FetchBatch(ctx context.Context, limit int) ([]models.PendingEntity, error)
	Complete(ctx context.Context, succeededIDs []string, failures map[string]string) error
	Depth(ctx context.Context) (int, error)
	Stuck(ctx context.Context) ([]models.PendingEntity, error)
}

// Coordinator gates CRM synchronization on liveness and defers to the
// fallback queue when the CRM is unreachable.
type Coordinator interface {
	SyncMember(ctx context.Context, member *models.Member) (string, error)
	SyncVehicle(ctx context.Context, vehicle *models.Vehicle) (string, bool, error)
	DeleteMember(ctx context.Context, member *models.Member) error
	Probe(ctx context.Context) bool
	Resync(ctx context.Context, item models.PendingEntity) error
}

// EntityStore is the slice of local storage the coordinator's resync path
// needs to replay deferred intents.
type EntityStore interface {
	GetMember(ctx context.Context, id string) (*models.Member, error)
	SetMemberCrmID(ctx context.Context, id, crmID string) error
	GetVehicle(ctx context.Context, id string) (*models.Vehicle, error)
	SetVehicleCrmState(ctx context.Context, id, crmID string, verified bool) error
}

// MemberRepository is the local system-of-record for members.
type MemberRepository interface {
	CreateMember(ctx context.Context, member *models.Member) error
	GetMember(ctx context.Context, id string) (*models.Member, error)
	UpdateMember(ctx context.Context, member *models.Member) error
	SetMemberCrmID(ctx context.Context, id, crmID string) error
	SoftDeleteMember(ctx context.Context, id string) error
	ListMembersMissingCrmID(ctx context.Context) ([]models.Member, error)
}

// VehicleRepository is the local system-of-record for vehicles.
type VehicleRepository interface {
	CreateVehicle(ctx context.Context, vehicle *models.Vehicle) error
	GetVehicle(ctx context.Context, id string) (*models.Vehicle, error)
	UpdateVehicle(ctx context.Context, vehicle *models.Vehicle) error
	SetVehicleCrmState(ctx context.Context, id, crmID string, verified bool) error
	ListVehiclesMissingCrmID(ctx context.Context) ([]models.Vehicle, error)
}

// Resyncer is a bulk resync entry point used by the full resync job.
type Resyncer interface {
	ResyncAll(ctx context.Context) error
}
