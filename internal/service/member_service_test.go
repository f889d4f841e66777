package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"crmbridge/internal/database"
	"crmbridge/internal/models"
	"crmbridge/internal/sync"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCoordinator struct {
	down      bool
	memberID  string
	memberErr error
	vehicleID string
	verified  bool
	deleteErr error
	deletes   int
}

func (s *stubCoordinator) SyncMember(ctx context.Context, m *models.Member) (string, error) {
	if s.down {
		return "", sync.ErrCrmUnavailable
	}
	return s.memberID, s.memberErr
}

func (s *stubCoordinator) SyncVehicle(ctx context.Context, v *models.Vehicle) (string, bool, error) {
	if s.down {
		return "", false, sync.ErrCrmUnavailable
	}
	return s.vehicleID, s.verified, nil
}

func (s *stubCoordinator) DeleteMember(ctx context.Context, m *models.Member) error {
	if s.down {
		return sync.ErrCrmUnavailable
	}
	s.deletes++
	return s.deleteErr
}

func (s *stubCoordinator) Probe(ctx context.Context) bool { return !s.down }

func (s *stubCoordinator) Resync(ctx context.Context, item models.PendingEntity) error { return nil }

func setupDB(t *testing.T) (*database.DB, *zerolog.Logger) {
	t.Helper()
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "test.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, &logger
}

func TestCreateMemberSyncsAndPersistsCrmID(t *testing.T) {
	db, logger := setupDB(t)
	svc := NewMemberService(db, &stubCoordinator{memberID: "crm-1"}, logger)
	ctx := context.Background()

	member := &models.Member{Email: "ann@example.com", FirstName: "Ann"}
	require.NoError(t, svc.CreateMember(ctx, member))
	assert.NotEmpty(t, member.ID)
	assert.Equal(t, "crm-1", member.CrmID)

	stored, err := svc.GetMember(ctx, member.ID)
	require.NoError(t, err)
	assert.Equal(t, "crm-1", stored.CrmID)
}

func TestCreateMemberValidation(t *testing.T) {
	db, logger := setupDB(t)
	svc := NewMemberService(db, &stubCoordinator{}, logger)
	ctx := context.Background()

	assert.Error(t, svc.CreateMember(ctx, &models.Member{FirstName: "Ann"}))
	assert.Error(t, svc.CreateMember(ctx, &models.Member{Email: "ann@example.com"}))
}

func TestCreateMemberKeepsLocalRowWhenDeferred(t *testing.T) {
	db, logger := setupDB(t)
	svc := NewMemberService(db, &stubCoordinator{down: true}, logger)
	ctx := context.Background()

	member := &models.Member{Email: "ann@example.com", FirstName: "Ann"}
	require.NoError(t, svc.CreateMember(ctx, member))

	// The deferred sync is invisible to the caller, the row exists unsynced.
	stored, err := svc.GetMember(ctx, member.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.CrmID)
}

func TestDeleteMemberDeferredKeepsCrmID(t *testing.T) {
	db, logger := setupDB(t)
	svc := NewMemberService(db, &stubCoordinator{down: true}, logger)
	ctx := context.Background()

	member := &models.Member{ID: "m-1", Email: "ann@example.com", FirstName: "Ann", CrmID: "crm-1"}
	require.NoError(t, db.CreateMember(ctx, member))

	require.NoError(t, svc.DeleteMember(ctx, "m-1"))

	// Soft-deleted, crm id kept for the deferred remote delete.
	stored, err := db.GetMember(ctx, "m-1")
	require.NoError(t, err)
	assert.NotNil(t, stored.DeletedAt)
	assert.Equal(t, "crm-1", stored.CrmID)
}

func TestDeleteMemberClearsCrmIDOnSuccess(t *testing.T) {
	db, logger := setupDB(t)
	coordinator := &stubCoordinator{}
	svc := NewMemberService(db, coordinator, logger)
	ctx := context.Background()

	member := &models.Member{ID: "m-1", Email: "ann@example.com", FirstName: "Ann", CrmID: "crm-1"}
	require.NoError(t, db.CreateMember(ctx, member))

	require.NoError(t, svc.DeleteMember(ctx, "m-1"))
	assert.Equal(t, 1, coordinator.deletes)

	stored, err := db.GetMember(ctx, "m-1")
	require.NoError(t, err)
	assert.Empty(t, stored.CrmID)
}

func TestMemberResyncAll(t *testing.T) {
	db, logger := setupDB(t)
	svc := NewMemberService(db, &stubCoordinator{memberID: "crm-9"}, logger)
	ctx := context.Background()

	require.NoError(t, db.CreateMember(ctx, &models.Member{ID: "m-1", Email: "a@b.c", FirstName: "A"}))
	require.NoError(t, db.CreateMember(ctx, &models.Member{ID: "m-2", Email: "b@b.c", FirstName: "B", CrmID: "crm-2"}))

	require.NoError(t, svc.ResyncAll(ctx))

	stored, err := db.GetMember(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, "crm-9", stored.CrmID)

	// Already synced members are untouched.
	stored, err = db.GetMember(ctx, "m-2")
	require.NoError(t, err)
	assert.Equal(t, "crm-2", stored.CrmID)
}
