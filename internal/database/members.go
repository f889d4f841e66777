package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"crmbridge/internal/models"
)

const memberColumns = `id, email, first_name, last_name, phone, crm_id, deleted_at, created_at, updated_at`

func (db *DB) CreateMember(ctx context.Context, member *models.Member) error {
	query := `INSERT INTO members (id, email, first_name, last_name, phone, crm_id, created_at, updated_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now()
	_, err := db.ExecContext(ctx, query,
		member.ID,
		member.Email,
		member.FirstName,
		member.LastName,
		member.Phone,
		member.CrmID,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create member: %w", err)
	}
	member.CreatedAt = now
	member.UpdatedAt = now
	return nil
}

// GetMember returns a member by id, including soft-deleted rows. Deleted
// rows keep their crm_id so a deferred remote delete can still replay.
func (db *DB) GetMember(ctx context.Context, id string) (*models.Member, error) {
	query := `SELECT ` + memberColumns + ` FROM members WHERE id = ?`

	var m models.Member
	err := db.QueryRowContext(ctx, query, id).Scan(
		&m.ID, &m.Email, &m.FirstName, &m.LastName, &m.Phone,
		&m.CrmID, &m.DeletedAt, &m.CreatedAt, &m.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	return &m, nil
}

func (db *DB) UpdateMember(ctx context.Context, member *models.Member) error {
	query := `UPDATE members SET email = ?, first_name = ?, last_name = ?, phone = ?, updated_at = ?
              WHERE id = ? AND deleted_at IS NULL`
	now := time.Now()
	result, err := db.ExecContext(ctx, query,
		member.Email, member.FirstName, member.LastName, member.Phone, now, member.ID)
	if err != nil {
		return fmt.Errorf("failed to update member: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	member.UpdatedAt = now
	return nil
}

func (db *DB) SetMemberCrmID(ctx context.Context, id, crmID string) error {
	query := `UPDATE members SET crm_id = ?, updated_at = ? WHERE id = ?`
	_, err := db.ExecContext(ctx, query, crmID, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to set member crm id: %w", err)
	}
	return nil
}

func (db *DB) SoftDeleteMember(ctx context.Context, id string) error {
	query := `UPDATE members SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`
	now := time.Now()
	result, err := db.ExecContext(ctx, query, now, now, id)
	if err != nil {
		return fmt.Errorf("failed to delete member: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListMembersMissingCrmID returns live members never synced to the CRM.
// Used by the full resync job.
func (db *DB) ListMembersMissingCrmID(ctx context.Context) ([]models.Member, error) {
	query := `SELECT ` + memberColumns + ` FROM members
              WHERE crm_id = '' AND deleted_at IS NULL ORDER BY created_at ASC`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list unsynced members: %w", err)
	}
	defer rows.Close()

	var members []models.Member
	for rows.Next() {
		var m models.Member
		err := rows.Scan(
			&m.ID, &m.Email, &m.FirstName, &m.LastName, &m.Phone,
			&m.CrmID, &m.DeletedAt, &m.CreatedAt, &m.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return members, nil
}
