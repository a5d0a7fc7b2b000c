package sync

import (
	"time"

	"github.com/google/uuid"
)

// BatchRequest is a batch of offline operations submitted by one device.
type BatchRequest struct {
	DeviceID   string      `json:"device_id"`
	LastSync   time.Time   `json:"last_sync"`
	Operations []Operation `json:"operations"`
}

// Applied reports one successfully applied operation. Status is "applied",
// or "already_applied" for a replayed create that hit an existing mapping.
type Applied struct {
	LocalID  string     `json:"local_id"`
	ServerID string     `json:"server_id"`
	Entity   EntityType `json:"entity"`
	Action   Action     `json:"action"`
	Status   string     `json:"status"`
}

// Conflict reports an operation rejected by the resolver. The server
// version snapshot lets the client reconcile instead of silently losing
// the write.
type Conflict struct {
	LocalID       string         `json:"local_id"`
	Entity        EntityType     `json:"entity"`
	Action        Action         `json:"action"`
	Status        string         `json:"status"`
	Reason        string         `json:"reason"`
	ServerVersion map[string]any `json:"server_version,omitempty"`
}

// OpError reports an operation that failed inside its handler.
type OpError struct {
	LocalID string     `json:"local_id"`
	Entity  EntityType `json:"entity"`
	Action  Action     `json:"action"`
	Status  string     `json:"status"`
	Error   string     `json:"error"`
}

// ServerUpdate is one server-side change the device missed since its
// checkpoint.
type ServerUpdate struct {
	Entity    EntityType     `json:"entity"`
	ServerID  string         `json:"server_id"`
	Action    Action         `json:"action"`
	Data      map[string]any `json:"data"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// BatchResponse is the structured breakdown returned for an inline batch.
// ServerTime is the client's next checkpoint.
type BatchResponse struct {
	BatchID    uuid.UUID      `json:"batch_id"`
	Applied    []Applied      `json:"applied"`
	Conflicts  []Conflict     `json:"conflicts"`
	Errors     []OpError      `json:"errors"`
	Updates    []ServerUpdate `json:"updates"`
	ServerTime time.Time      `json:"server_time"`
	Summary    string         `json:"summary"`
}

// QueuedResponse acknowledges a batch handed to the async queue.
type QueuedResponse struct {
	BatchID        uuid.UUID `json:"batch_id"`
	Status         string    `json:"status"`
	OperationCount int       `json:"operation_count"`
	Message        string    `json:"message"`
}

// BatchStatusResponse is the poll result for one ledger row.
type BatchStatusResponse struct {
	BatchID        uuid.UUID    `json:"batch_id"`
	Status         BatchStatus  `json:"status"`
	OperationCount int          `json:"operation_count"`
	Result         *BatchResult `json:"result,omitempty"`
	ErrorMessage   string       `json:"error_message,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	ProcessedAt    *time.Time   `json:"processed_at,omitempty"`
}

// DeviceStatusResponse is the poll result for one device.
type DeviceStatusResponse struct {
	DeviceID       string     `json:"device_id"`
	LastSync       *time.Time `json:"last_sync,omitempty"`
	PendingBatches int        `json:"pending_batches"`
	TotalMappings  int        `json:"total_mappings"`
}
