package sync

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository is the durable side of the engine: the batch ledger and the
// device id mapping store. Mapping reads must be read-after-write
// consistent within one batch's processing.
type Repository interface {
	// WithTx runs fn within one storage transaction: repository calls and
	// entity handler writes made with the context fn receives commit or
	// roll back as a unit.
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	// Ledger
	CreateBatch(ctx context.Context, batch *Batch) error
	GetBatch(ctx context.Context, clinicID, batchID uuid.UUID) (*Batch, error)
	// GetBatchByID loads a ledger row without a tenant filter; only the
	// worker uses it, with the tenant restored from the row itself.
	GetBatchByID(ctx context.Context, batchID uuid.UUID) (*Batch, error)
	SetBatchStatus(ctx context.Context, batchID uuid.UUID, status BatchStatus) error
	IncrementBatchAttempts(ctx context.Context, batchID uuid.UUID) (int, error)
	// FinishBatch persists the final status, tallies, error message and
	// processed_at in one write.
	FinishBatch(ctx context.Context, batch *Batch) error
	ListPendingBatches(ctx context.Context, olderThan time.Time, limit int) ([]uuid.UUID, error)
	CountPendingBatches(ctx context.Context, clinicID uuid.UUID, deviceID string) (int, error)
	LastSuccessfulSync(ctx context.Context, clinicID uuid.UUID, deviceID string) (*time.Time, error)
	// PurgeBefore removes finished batches and old mappings past the
	// retention window. Returns (batches, mappings) deleted.
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, int64, error)

	// Mapping store
	GetMapping(ctx context.Context, clinicID uuid.UUID, deviceID string, entity EntityType, localID string) (*Mapping, error)
	RecordMapping(ctx context.Context, m *Mapping) error
	CountMappings(ctx context.Context, clinicID uuid.UUID, deviceID string) (int, error)
}

// Enqueuer hands a persisted ledger row to the durable work queue. Intake
// is the producer; the worker consumes by batch id, so delivery is
// at-least-once and replays are made safe by the mapping store.
type Enqueuer interface {
	Enqueue(ctx context.Context, batchID uuid.UUID) error
}
