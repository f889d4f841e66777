package models

// Entity types carried by pending sync records.
const (
	EntityMember  = "member"
	EntityVehicle = "vehicle"
)

// Sync actions. Coalescing keeps only the newest action per entity.
const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

const (
	// DefaultDrainBatchSize is the page size for one FetchBatch call.
	DefaultDrainBatchSize = 50

	// DefaultMaxAttempts is the number of failed replays before a pending
	// record is marked stuck and pushed to the dead-letter list.
	DefaultMaxAttempts = 10

	// DeadLetterKey is the redis list holding stuck pending records.
	DeadLetterKey = "crm:deadletter"
)

// ValidEntityType reports whether t is a known entity type.
func ValidEntityType(t string) bool {
	return t == EntityMember || t == EntityVehicle
}

// ValidAction reports whether a is a known sync action.
func ValidAction(a string) bool {
	return a == ActionCreate || a == ActionUpdate || a == ActionDelete
}
