package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"clinisync/internal/domain/sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/exp/slog"
)

// SyncRepository persists the batch ledger and the device id mapping store.
type SyncRepository struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

func NewSyncRepository(pool *pgxpool.Pool, log *slog.Logger) *SyncRepository {
	return &SyncRepository{
		pool: pool,
		log:  log.With("component", "sync_repository"),
	}
}

// WithTx runs fn within one database transaction. Every repository call
// made with the context fn receives joins it, so an entity write and its
// mapping insert commit or roll back together.
func (r *SyncRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return runInTx(ctx, r.pool, fn)
}

func (r *SyncRepository) CreateBatch(ctx context.Context, batch *sync.Batch) error {
	const query = `
		INSERT INTO sync_batches
			(id, clinic_id, user_id, device_id, operations, operation_count, status, attempts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`

	opsJSON, err := json.Marshal(batch.Operations)
	if err != nil {
		return fmt.Errorf("marshal operations: %w", err)
	}

	err = db(ctx, r.pool).QueryRow(ctx, query,
		batch.ID, batch.ClinicID, batch.UserID, batch.DeviceID,
		opsJSON, batch.OperationCount, batch.Status, batch.Attempts,
	).Scan(&batch.CreatedAt)

	if err != nil {
		r.log.Error("failed to create batch",
			"batch_id", batch.ID, "clinic_id", batch.ClinicID, "error", err)
		return fmt.Errorf("create batch: %w", err)
	}
	return nil
}

func (r *SyncRepository) GetBatch(ctx context.Context, clinicID, batchID uuid.UUID) (*sync.Batch, error) {
	const query = `
		SELECT id, clinic_id, user_id, device_id, operations, operation_count,
		       status, result, error_message, attempts, created_at, processed_at
		FROM sync_batches
		WHERE id = $1 AND clinic_id = $2`

	return r.scanBatch(db(ctx, r.pool).QueryRow(ctx, query, batchID, clinicID))
}

func (r *SyncRepository) GetBatchByID(ctx context.Context, batchID uuid.UUID) (*sync.Batch, error) {
	const query = `
		SELECT id, clinic_id, user_id, device_id, operations, operation_count,
		       status, result, error_message, attempts, created_at, processed_at
		FROM sync_batches
		WHERE id = $1`

	return r.scanBatch(db(ctx, r.pool).QueryRow(ctx, query, batchID))
}

func (r *SyncRepository) SetBatchStatus(ctx context.Context, batchID uuid.UUID, status sync.BatchStatus) error {
	const query = `UPDATE sync_batches SET status = $1 WHERE id = $2`

	result, err := db(ctx, r.pool).Exec(ctx, query, status, batchID)
	if err != nil {
		r.log.Error("failed to set batch status",
			"batch_id", batchID, "status", status, "error", err)
		return fmt.Errorf("set batch status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return sync.ErrBatchNotFound
	}
	return nil
}

func (r *SyncRepository) IncrementBatchAttempts(ctx context.Context, batchID uuid.UUID) (int, error) {
	const query = `
		UPDATE sync_batches SET attempts = attempts + 1
		WHERE id = $1
		RETURNING attempts`

	var attempts int
	err := db(ctx, r.pool).QueryRow(ctx, query, batchID).Scan(&attempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, sync.ErrBatchNotFound
		}
		return 0, fmt.Errorf("increment batch attempts: %w", err)
	}
	return attempts, nil
}

func (r *SyncRepository) FinishBatch(ctx context.Context, batch *sync.Batch) error {
	const query = `
		UPDATE sync_batches
		SET status = $1, result = $2, error_message = $3, processed_at = $4
		WHERE id = $5`

	var resultJSON []byte
	if batch.Result != nil {
		var err error
		if resultJSON, err = json.Marshal(batch.Result); err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
	}

	result, err := db(ctx, r.pool).Exec(ctx, query,
		batch.Status, resultJSON, batch.ErrorMessage, batch.ProcessedAt, batch.ID)
	if err != nil {
		r.log.Error("failed to finish batch", "batch_id", batch.ID, "error", err)
		return fmt.Errorf("finish batch: %w", err)
	}
	if result.RowsAffected() == 0 {
		return sync.ErrBatchNotFound
	}
	return nil
}

func (r *SyncRepository) ListPendingBatches(ctx context.Context, olderThan time.Time, limit int) ([]uuid.UUID, error) {
	const query = `
		SELECT id FROM sync_batches
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2`

	rows, err := db(ctx, r.pool).Query(ctx, query, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending batches: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan pending batch id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *SyncRepository) CountPendingBatches(ctx context.Context, clinicID uuid.UUID, deviceID string) (int, error) {
	const query = `
		SELECT COUNT(*) FROM sync_batches
		WHERE clinic_id = $1 AND device_id = $2 AND status IN ('pending', 'processing')`

	var count int
	if err := db(ctx, r.pool).QueryRow(ctx, query, clinicID, deviceID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count pending batches: %w", err)
	}
	return count, nil
}

func (r *SyncRepository) LastSuccessfulSync(ctx context.Context, clinicID uuid.UUID, deviceID string) (*time.Time, error) {
	const query = `
		SELECT MAX(processed_at) FROM sync_batches
		WHERE clinic_id = $1 AND device_id = $2 AND status IN ('completed', 'partial')`

	var last *time.Time
	if err := db(ctx, r.pool).QueryRow(ctx, query, clinicID, deviceID).Scan(&last); err != nil {
		return nil, fmt.Errorf("last successful sync: %w", err)
	}
	return last, nil
}

func (r *SyncRepository) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, int64, error) {
	const batchQuery = `
		DELETE FROM sync_batches
		WHERE created_at < $1 AND status IN ('completed', 'partial', 'failed')`

	batchResult, err := db(ctx, r.pool).Exec(ctx, batchQuery, cutoff)
	if err != nil {
		return 0, 0, fmt.Errorf("purge batches: %w", err)
	}

	const mappingQuery = `DELETE FROM sync_device_mappings WHERE created_at < $1`

	mappingResult, err := db(ctx, r.pool).Exec(ctx, mappingQuery, cutoff)
	if err != nil {
		return batchResult.RowsAffected(), 0, fmt.Errorf("purge mappings: %w", err)
	}

	return batchResult.RowsAffected(), mappingResult.RowsAffected(), nil
}

func (r *SyncRepository) GetMapping(ctx context.Context, clinicID uuid.UUID, deviceID string, entity sync.EntityType, localID string) (*sync.Mapping, error) {
	const query = `
		SELECT id, clinic_id, device_id, entity_type, local_id, server_id, created_at
		FROM sync_device_mappings
		WHERE clinic_id = $1 AND device_id = $2 AND entity_type = $3 AND local_id = $4`

	var m sync.Mapping
	err := db(ctx, r.pool).QueryRow(ctx, query, clinicID, deviceID, entity, localID).Scan(
		&m.ID, &m.ClinicID, &m.DeviceID, &m.Entity, &m.LocalID, &m.ServerID, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.log.Error("failed to get mapping",
			"clinic_id", clinicID, "device_id", deviceID,
			"entity", entity, "local_id", localID, "error", err)
		return nil, fmt.Errorf("get mapping: %w", err)
	}
	return &m, nil
}

func (r *SyncRepository) RecordMapping(ctx context.Context, m *sync.Mapping) error {
	const query = `
		INSERT INTO sync_device_mappings
			(clinic_id, device_id, entity_type, local_id, server_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (clinic_id, device_id, entity_type, local_id) DO NOTHING
		RETURNING id, created_at`

	err := db(ctx, r.pool).QueryRow(ctx, query,
		m.ClinicID, m.DeviceID, m.Entity, m.LocalID, m.ServerID,
	).Scan(&m.ID, &m.CreatedAt)

	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		r.log.Error("failed to record mapping",
			"clinic_id", m.ClinicID, "local_id", m.LocalID, "error", err)
		return fmt.Errorf("record mapping: %w", err)
	}

	// Lost the insert race: the key is already bound. Binding to the same
	// server id is an idempotent no-op, anything else is a fault.
	existing, err := r.GetMapping(ctx, m.ClinicID, m.DeviceID, m.Entity, m.LocalID)
	if err != nil {
		return err
	}
	if existing == nil || existing.ServerID != m.ServerID {
		return sync.ErrMappingExists
	}
	m.ID = existing.ID
	m.CreatedAt = existing.CreatedAt
	return nil
}

func (r *SyncRepository) CountMappings(ctx context.Context, clinicID uuid.UUID, deviceID string) (int, error) {
	const query = `
		SELECT COUNT(*) FROM sync_device_mappings
		WHERE clinic_id = $1 AND device_id = $2`

	var count int
	if err := db(ctx, r.pool).QueryRow(ctx, query, clinicID, deviceID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count mappings: %w", err)
	}
	return count, nil
}

func (r *SyncRepository) scanBatch(row pgx.Row) (*sync.Batch, error) {
	var (
		b          sync.Batch
		opsJSON    []byte
		resultJSON []byte
	)

	err := row.Scan(
		&b.ID, &b.ClinicID, &b.UserID, &b.DeviceID, &opsJSON, &b.OperationCount,
		&b.Status, &resultJSON, &b.ErrorMessage, &b.Attempts, &b.CreatedAt, &b.ProcessedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sync.ErrBatchNotFound
		}
		return nil, fmt.Errorf("scan batch: %w", err)
	}

	if err := json.Unmarshal(opsJSON, &b.Operations); err != nil {
		return nil, fmt.Errorf("unmarshal operations: %w", err)
	}
	if len(resultJSON) > 0 {
		b.Result = &sync.BatchResult{}
		if err := json.Unmarshal(resultJSON, b.Result); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
	}
	return &b, nil
}

var _ sync.Repository = (*SyncRepository)(nil)
