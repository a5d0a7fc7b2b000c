package sync

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EntityType is the closed set of syncable entity types. New types are
// added here and registered in the handler table, never discovered
// dynamically.
type EntityType string

const (
	EntityPatient        EntityType = "patient"
	EntityAppointment    EntityType = "appointment"
	EntityRecord         EntityType = "record"
	EntityDentalChart    EntityType = "dental_chart"
	EntityPrenatalVisit  EntityType = "prenatal_visit"
	EntityOphthalmicExam EntityType = "ophthalmic_exam"
)

func (e EntityType) Valid() bool {
	switch e {
	case EntityPatient, EntityAppointment, EntityRecord,
		EntityDentalChart, EntityPrenatalVisit, EntityOphthalmicExam:
		return true
	}
	return false
}

type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
)

func (a Action) Valid() bool {
	return a == ActionCreate || a == ActionUpdate
}

// BatchStatus is the lifecycle of a ledger row.
type BatchStatus string

const (
	StatusPending    BatchStatus = "pending"
	StatusProcessing BatchStatus = "processing"
	StatusCompleted  BatchStatus = "completed"
	StatusPartial    BatchStatus = "partial"
	StatusFailed     BatchStatus = "failed"
)

// Operation is a single change recorded on a disconnected device. The Data
// payload stays opaque until the entity handler decodes it into its typed
// create/update structure.
type Operation struct {
	Entity    EntityType      `json:"entity"`
	Action    Action          `json:"action"`
	LocalID   string          `json:"local_id"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// Batch is one ledger row: a batch submission with its raw payload kept for
// replay and audit. Mutated only by the dispatcher/worker, purged only by
// retention cleanup.
type Batch struct {
	ID             uuid.UUID
	ClinicID       uuid.UUID
	UserID         uuid.UUID
	DeviceID       string
	Operations     []Operation
	OperationCount int
	Status         BatchStatus
	Result         *BatchResult
	ErrorMessage   string
	Attempts       int
	CreatedAt      time.Time
	ProcessedAt    *time.Time
}

// BatchResult holds the aggregate tallies of one processing run. There is
// no per-operation detail table; the breakdown goes back to the client in
// the response.
type BatchResult struct {
	AppliedCount   int `json:"applied_count"`
	ConflictsCount int `json:"conflicts_count"`
	ErrorsCount    int `json:"errors_count"`
	UpdatesCount   int `json:"updates_count,omitempty"`
}

// DeriveStatus maps tallies to a final batch status: any errors with zero
// applied is a failure, errors alongside applied is partial, otherwise
// completed. Conflicts alone do not degrade the status.
func (r BatchResult) DeriveStatus() BatchStatus {
	if r.ErrorsCount > 0 {
		if r.AppliedCount == 0 {
			return StatusFailed
		}
		return StatusPartial
	}
	return StatusCompleted
}

// Mapping is one row of the idempotency ledger: a device-local id bound to
// the server-assigned id for the same entity. Append-only; a
// (clinic, device, entity, local id) key resolves to at most one server id
// ever.
type Mapping struct {
	ID        uuid.UUID
	ClinicID  uuid.UUID
	DeviceID  string
	Entity    EntityType
	LocalID   string
	ServerID  uuid.UUID
	CreatedAt time.Time
}
