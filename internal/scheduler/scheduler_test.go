package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"crmbridge/internal/config"
	"crmbridge/internal/database"
	"crmbridge/internal/domain"
	"crmbridge/internal/models"
	"crmbridge/internal/queue"
	syncpkg "crmbridge/internal/sync"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCoordinator struct {
	alive        bool
	resyncErr    error
	failEntities map[string]error
	resynced     []string
	attempts     map[string]int
}

func (f *fakeCoordinator) SyncMember(ctx context.Context, m *models.Member) (string, error) {
	return "", nil
}

func (f *fakeCoordinator) SyncVehicle(ctx context.Context, v *models.Vehicle) (string, bool, error) {
	return "", false, nil
}

func (f *fakeCoordinator) DeleteMember(ctx context.Context, m *models.Member) error { return nil }

func (f *fakeCoordinator) Probe(ctx context.Context) bool { return f.alive }

func (f *fakeCoordinator) Resync(ctx context.Context, item models.PendingEntity) error {
	if f.attempts == nil {
		f.attempts = make(map[string]int)
	}
	f.attempts[item.EntityID]++

	if f.resyncErr != nil {
		return f.resyncErr
	}
	if err, ok := f.failEntities[item.EntityID]; ok {
		return err
	}
	f.resynced = append(f.resynced, item.EntityID)
	return nil
}

type fakeResyncer struct {
	calls int
}

func (f *fakeResyncer) ResyncAll(ctx context.Context) error {
	f.calls++
	return nil
}

func setupScheduler(t *testing.T, coordinator domain.Coordinator) (*Scheduler, *queue.FallbackQueue) {
	t.Helper()

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "test.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	q := queue.NewFallbackQueue(db, nil, 10, &logger)
	cfg := config.SyncConfig{
		HealthInterval:     time.Minute,
		DrainInterval:      time.Minute,
		FullResyncInterval: time.Hour,
		BatchSize:          2,
		MaxAttempts:        10,
		RateRPS:            1000,
		RateBurst:          100,
	}
	return NewScheduler(coordinator, q, nil, cfg, &logger), q
}

func TestDrainNowProcessesWholeBacklog(t *testing.T) {
	coordinator := &fakeCoordinator{alive: true}
	s, q := setupScheduler(t, coordinator)
	ctx := context.Background()

	for _, id := range []string{"e-1", "e-2", "e-3"} {
		_, err := q.Upsert(ctx, id, models.EntityMember, models.ActionCreate)
		require.NoError(t, err)
	}

	s.DrainNow(ctx)

	// Batch size 2 forces two fetch rounds; all three must drain in one tick.
	assert.Len(t, coordinator.resynced, 3)
	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestDrainNowLeavesFailedActive(t *testing.T) {
	coordinator := &fakeCoordinator{alive: true, resyncErr: errors.New("crm rejects")}
	s, q := setupScheduler(t, coordinator)
	ctx := context.Background()

	_, err := q.Upsert(ctx, "e-1", models.EntityMember, models.ActionCreate)
	require.NoError(t, err)

	s.DrainNow(ctx)

	batch, err := q.FetchBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, 1, batch[0].Attempts)
	require.NotNil(t, batch[0].LastError)
	assert.Equal(t, "crm rejects", *batch[0].LastError)
}

func TestDrainNowSkipsWhenCrmDown(t *testing.T) {
	coordinator := &fakeCoordinator{alive: false}
	s, q := setupScheduler(t, coordinator)
	ctx := context.Background()

	_, err := q.Upsert(ctx, "e-1", models.EntityMember, models.ActionCreate)
	require.NoError(t, err)

	s.DrainNow(ctx)

	assert.Empty(t, coordinator.resynced)
	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
}

func TestDrainNowAttemptsFailedRecordOncePerTick(t *testing.T) {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "test.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	q := queue.NewFallbackQueue(db, nil, 10, &logger)
	coordinator := &fakeCoordinator{
		alive:        true,
		failEntities: map[string]error{"e-bad": errors.New("crm rejects")},
	}
	cfg := config.SyncConfig{BatchSize: 2, MaxAttempts: 10, RateRPS: 1000, RateBurst: 100}
	s := NewScheduler(coordinator, q, nil, cfg, &logger)
	ctx := context.Background()

	_, err = q.Upsert(ctx, "e-bad", models.EntityMember, models.ActionCreate)
	require.NoError(t, err)
	for i := 0; i < 8; i++ {
		_, err := q.Upsert(ctx, fmt.Sprintf("e-%d", i), models.EntityMember, models.ActionCreate)
		require.NoError(t, err)
	}
	// Oldest record, so it leads every re-fetch within the tick.
	_, err = db.ExecContext(ctx,
		`UPDATE pending_entities SET updated_at = ? WHERE entity_id = ?`,
		time.Now().Add(-time.Hour), "e-bad")
	require.NoError(t, err)

	s.DrainNow(ctx)

	// A failing record amid a multi-batch backlog must not burn its whole
	// retry budget in one tick.
	assert.Equal(t, 1, coordinator.attempts["e-bad"])
	assert.Len(t, coordinator.resynced, 8)

	remaining, err := q.FetchBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "e-bad", remaining[0].EntityID)
	assert.Equal(t, 1, remaining[0].Attempts)

	// The next tick gets its own attempt.
	s.DrainNow(ctx)
	assert.Equal(t, 2, coordinator.attempts["e-bad"])
}

func TestFullResyncNow(t *testing.T) {
	coordinator := &fakeCoordinator{alive: true}
	s, _ := setupScheduler(t, coordinator)
	resyncer := &fakeResyncer{}
	s.resyncers = []domain.Resyncer{resyncer}

	s.FullResyncNow(context.Background())
	assert.Equal(t, 1, resyncer.calls)

	coordinator.alive = false
	s.FullResyncNow(context.Background())
	assert.Equal(t, 1, resyncer.calls)
}

type flipCrm struct {
	alive bool
}

func (f *flipCrm) IsAlive(ctx context.Context) (bool, error) {
	if !f.alive {
		return false, errors.New("connection refused")
	}
	return true, nil
}

func (f *flipCrm) CreateMember(ctx context.Context, m *models.Member) (string, error) {
	return "crm-" + m.ID, nil
}

func (f *flipCrm) UpdateMember(ctx context.Context, m *models.Member) (string, error) {
	return m.CrmID, nil
}

func (f *flipCrm) DeleteMember(ctx context.Context, crmID string) error { return nil }

func (f *flipCrm) CreateVehicle(ctx context.Context, v *models.Vehicle) (string, error) {
	return "crm-" + v.ID, nil
}

func (f *flipCrm) UpdateVehicle(ctx context.Context, v *models.Vehicle) error { return nil }

func (f *flipCrm) VerifyVehicle(ctx context.Context, v *models.Vehicle) (bool, error) {
	return true, nil
}

func TestDeferredVehicleSyncDrainsAfterRecovery(t *testing.T) {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "test.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	crmClient := &flipCrm{alive: false}
	q := queue.NewFallbackQueue(db, nil, 10, &logger)
	coordinator := syncpkg.NewCoordinator(crmClient, q, db, &logger)

	cfg := config.SyncConfig{BatchSize: 10, RateRPS: 1000, RateBurst: 100}
	s := NewScheduler(coordinator, q, nil, cfg, &logger)
	ctx := context.Background()

	vehicle := &models.Vehicle{ID: "v-1", VIN: "VIN123", OwnerID: "m-1"}
	require.NoError(t, db.CreateVehicle(ctx, vehicle))

	// CRM down: the sync defers and the local record keeps no crm id.
	_, _, err = coordinator.SyncVehicle(ctx, vehicle)
	require.ErrorIs(t, err, syncpkg.ErrCrmUnavailable)

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, depth)

	// CRM recovers: the next drain replays the deferred create.
	crmClient.alive = true
	s.DrainNow(ctx)

	depth, err = q.Depth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)

	stored, err := db.GetVehicle(ctx, "v-1")
	require.NoError(t, err)
	assert.Equal(t, "crm-v-1", stored.CrmID)
	assert.True(t, stored.Verified)
}
