package models

import "time"

// Member is a local system-of-record row mirrored into the CRM.
// CrmID is empty until the first successful create sync. Members are
// soft-deleted so a deferred remote delete still has the CRM id to replay.
type Member struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	FirstName string     `json:"first_name"`
	LastName  string     `json:"last_name"`
	Phone     string     `json:"phone"`
	CrmID     string     `json:"crm_id"`
	DeletedAt *time.Time `json:"deleted_at"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}
