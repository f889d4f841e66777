package models

import "time"

// PendingEntity is a deferred CRM sync intent. At most one active
// (not done, not stuck) record exists per EntityID; newer intents replace
// the action of the active record instead of queueing a second one.
type PendingEntity struct {
	ID         string     `json:"id"`
	EntityID   string     `json:"entity_id"`
	EntityType string     `json:"entity_type"`
	Action     string     `json:"action"`
	IsDone     bool       `json:"is_done"`
	IsStuck    bool       `json:"is_stuck"`
	Attempts   int        `json:"attempts"`
	LastError  *string    `json:"last_error"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	DoneAt     *time.Time `json:"done_at"`
}

// Active reports whether the record is still eligible for draining.
func (p *PendingEntity) Active() bool {
	return !p.IsDone && !p.IsStuck
}
