package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"crmbridge/internal/models"

	"github.com/google/uuid"
)

const pendingColumns = `id, entity_id, entity_type, action, is_done, is_stuck, attempts, last_error, created_at, updated_at, done_at`

// UpsertPending inserts a new active pending record for entityID or, when one
// already exists, replaces its action and refreshes updated_at in place. The
// conflict target is the partial unique index on active records, so two
// concurrent callers can never produce two active rows for the same entity.
func (db *DB) UpsertPending(ctx context.Context, entityID, entityType, action string) (*models.PendingEntity, error) {
	now := time.Now()
	query := `INSERT INTO pending_entities (id, entity_id, entity_type, action, is_done, is_stuck, attempts, created_at, updated_at)
              VALUES (?, ?, ?, ?, 0, 0, 0, ?, ?)
              ON CONFLICT (entity_id) WHERE is_done = 0 AND is_stuck = 0
              DO UPDATE SET action = excluded.action, updated_at = excluded.updated_at`

	_, err := db.ExecContext(ctx, query, uuid.NewString(), entityID, entityType, action, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert pending entity: %w", err)
	}

	pending, err := db.FindActiveByEntityID(ctx, entityID)
	if err != nil {
		return nil, err
	}
	if pending == nil {
		return nil, fmt.Errorf("pending entity vanished after upsert: %s", entityID)
	}
	return pending, nil
}

// FindActiveByEntityID returns the active pending record for entityID,
// or nil when none exists.
func (db *DB) FindActiveByEntityID(ctx context.Context, entityID string) (*models.PendingEntity, error) {
	query := `SELECT ` + pendingColumns + ` FROM pending_entities
              WHERE entity_id = ? AND is_done = 0 AND is_stuck = 0`

	var p models.PendingEntity
	err := scanPending(db.QueryRowContext(ctx, query, entityID), &p)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find active pending entity: %w", err)
	}
	return &p, nil
}

// FetchActive returns up to limit active pending records ordered by
// updated_at. Ascending order means longest-untouched first, which gives
// freshly coalesced records a grace period before replay.
func (db *DB) FetchActive(ctx context.Context, limit int, orderAsc bool) ([]models.PendingEntity, error) {
	direction := "DESC"
	if orderAsc {
		direction = "ASC"
	}
	query := `SELECT ` + pendingColumns + ` FROM pending_entities
              WHERE is_done = 0 AND is_stuck = 0
              ORDER BY updated_at ` + direction + ` LIMIT ?`

	rows, err := db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch active pending entities: %w", err)
	}
	defer rows.Close()

	return collectPending(rows)
}

// MarkDone flips the given records to done. The transition is terminal:
// records that are already done or stuck are left untouched.
func (db *DB) MarkDone(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	query := `UPDATE pending_entities SET is_done = 1, done_at = ?, updated_at = ?
              WHERE id IN (` + placeholders(len(ids)) + `) AND is_done = 0 AND is_stuck = 0`
	now := time.Now()
	args := append([]interface{}{now, now}, idArgs(ids)...)

	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to mark pending entities done: %w", err)
	}
	return result.RowsAffected()
}

// IncrementAttempts bumps the attempt counter for failed replays and records
// each record's own failure cause. The records stay active; updated_at is
// left alone so retried records keep their place in the drain order.
func (db *DB) IncrementAttempts(ctx context.Context, failures map[string]string) (int64, error) {
	if len(failures) == 0 {
		return 0, nil
	}

	query := `UPDATE pending_entities SET attempts = attempts + 1, last_error = ?
              WHERE id = ? AND is_done = 0 AND is_stuck = 0`

	var total int64
	for id, cause := range failures {
		result, err := db.ExecContext(ctx, query, cause, id)
		if err != nil {
			return total, fmt.Errorf("failed to increment pending attempts: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return total, err
		}
		total += affected
	}
	return total, nil
}

// MarkStuckOverThreshold marks active records whose attempts reached
// maxAttempts as stuck and returns them so the caller can dead-letter them.
// Stuck is terminal and requires manual intervention.
func (db *DB) MarkStuckOverThreshold(ctx context.Context, maxAttempts int) ([]models.PendingEntity, error) {
	if maxAttempts <= 0 {
		return nil, nil
	}

	selectQuery := `SELECT ` + pendingColumns + ` FROM pending_entities
              WHERE is_done = 0 AND is_stuck = 0 AND attempts >= ?`
	rows, err := db.QueryContext(ctx, selectQuery, maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("failed to select over-threshold pending entities: %w", err)
	}
	over, err := collectPending(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}
	if len(over) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(over))
	for i := range over {
		ids = append(ids, over[i].ID)
		over[i].IsStuck = true
	}

	updateQuery := `UPDATE pending_entities SET is_stuck = 1, updated_at = ?
              WHERE id IN (` + placeholders(len(ids)) + `) AND is_done = 0`
	args := append([]interface{}{time.Now()}, idArgs(ids)...)
	if _, err := db.ExecContext(ctx, updateQuery, args...); err != nil {
		return nil, fmt.Errorf("failed to mark pending entities stuck: %w", err)
	}

	return over, nil
}

// ListStuck returns stuck records, newest first.
func (db *DB) ListStuck(ctx context.Context) ([]models.PendingEntity, error) {
	query := `SELECT ` + pendingColumns + ` FROM pending_entities
              WHERE is_stuck = 1 ORDER BY updated_at DESC`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list stuck pending entities: %w", err)
	}
	defer rows.Close()

	return collectPending(rows)
}

// CountActive returns the number of active pending records.
func (db *DB) CountActive(ctx context.Context) (int, error) {
	var count int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pending_entities WHERE is_done = 0 AND is_stuck = 0`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active pending entities: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPending(row rowScanner, p *models.PendingEntity) error {
	return row.Scan(
		&p.ID, &p.EntityID, &p.EntityType, &p.Action, &p.IsDone, &p.IsStuck,
		&p.Attempts, &p.LastError, &p.CreatedAt, &p.UpdatedAt, &p.DoneAt,
	)
}

func collectPending(rows *sql.Rows) ([]models.PendingEntity, error) {
	var pending []models.PendingEntity
	for rows.Next() {
		var p models.PendingEntity
		if err := scanPending(rows, &p); err != nil {
			return nil, fmt.Errorf("failed to scan pending entity: %w", err)
		}
		pending = append(pending, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return pending, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func idArgs(ids []string) []interface{} {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
