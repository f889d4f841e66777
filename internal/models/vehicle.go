package models

import "time"

// Vehicle is a local system-of-record row mirrored into the CRM.
// Verified tracks the best-effort CRM verification state and may lag
// behind the actual CRM data after a degraded update.
type Vehicle struct {
	ID        string    `json:"id"`
	VIN       string    `json:"vin"`
	Plate     string    `json:"plate"`
	Model     string    `json:"model"`
	OwnerID   string    `json:"owner_id"`
	CrmID     string    `json:"crm_id"`
	Verified  bool      `json:"verified"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
