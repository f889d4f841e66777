package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"crmbridge/internal/models"
)

const vehicleColumns = `id, vin, plate, model, owner_id, crm_id, verified, created_at, updated_at`

func (db *DB) CreateVehicle(ctx context.Context, vehicle *models.Vehicle) error {
	query := `INSERT INTO vehicles (id, vin, plate, model, owner_id, crm_id, verified, created_at, updated_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now()
	_, err := db.ExecContext(ctx, query,
		vehicle.ID,
		vehicle.VIN,
		vehicle.Plate,
		vehicle.Model,
		vehicle.OwnerID,
		vehicle.CrmID,
		vehicle.Verified,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create vehicle: %w", err)
	}
	vehicle.CreatedAt = now
	vehicle.UpdatedAt = now
	return nil
}

func (db *DB) GetVehicle(ctx context.Context, id string) (*models.Vehicle, error) {
	query := `SELECT ` + vehicleColumns + ` FROM vehicles WHERE id = ?`

	var v models.Vehicle
	err := db.QueryRowContext(ctx, query, id).Scan(
		&v.ID, &v.VIN, &v.Plate, &v.Model, &v.OwnerID,
		&v.CrmID, &v.Verified, &v.CreatedAt, &v.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get vehicle: %w", err)
	}
	return &v, nil
}

func (db *DB) UpdateVehicle(ctx context.Context, vehicle *models.Vehicle) error {
	query := `UPDATE vehicles SET vin = ?, plate = ?, model = ?, owner_id = ?, updated_at = ?
              WHERE id = ?`
	now := time.Now()
	result, err := db.ExecContext(ctx, query,
		vehicle.VIN, vehicle.Plate, vehicle.Model, vehicle.OwnerID, now, vehicle.ID)
	if err != nil {
		return fmt.Errorf("failed to update vehicle: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	vehicle.UpdatedAt = now
	return nil
}

func (db *DB) SetVehicleCrmState(ctx context.Context, id, crmID string, verified bool) error {
	query := `UPDATE vehicles SET crm_id = ?, verified = ?, updated_at = ? WHERE id = ?`
	_, err := db.ExecContext(ctx, query, crmID, verified, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to set vehicle crm state: %w", err)
	}
	return nil
}

// ListVehiclesMissingCrmID returns vehicles never synced to the CRM.
// Used by the full resync job.
func (db *DB) ListVehiclesMissingCrmID(ctx context.Context) ([]models.Vehicle, error) {
	query := `SELECT ` + vehicleColumns + ` FROM vehicles
              WHERE crm_id = '' ORDER BY created_at ASC`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list unsynced vehicles: %w", err)
	}
	defer rows.Close()

	var vehicles []models.Vehicle
	for rows.Next() {
		var v models.Vehicle
		err := rows.Scan(
			&v.ID, &v.VIN, &v.Plate, &v.Model, &v.OwnerID,
			&v.CrmID, &v.Verified, &v.CreatedAt, &v.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan vehicle: %w", err)
		}
		vehicles = append(vehicles, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return vehicles, nil
}
