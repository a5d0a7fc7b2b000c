package sync

import (
	"context"
	"fmt"
	"time"

	"clinisync/internal/app/server/api/http/middleware/auth"
	"clinisync/internal/metrics"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"
)

// Servicer is the sync engine's entry point, shared identically by the
// request path and the background worker.
type Servicer interface {
	// Submit validates a batch and routes it by size: processed inline at
	// or under the async threshold, persisted and queued above it. Exactly
	// one of the responses is non-nil.
	Submit(ctx context.Context, req BatchRequest) (*BatchResponse, *QueuedResponse, error)

	// Enqueue persists the batch as a pending ledger row and hands it to
	// the work queue regardless of size.
	Enqueue(ctx context.Context, req BatchRequest) (*QueuedResponse, error)

	// ProcessLedger reruns the dispatcher over a persisted ledger row.
	// This is the worker's entry point; redelivery of an already processed
	// row is a no-op.
	ProcessLedger(ctx context.Context, batchID uuid.UUID) error

	// BatchStatus reports the ledger row for polling.
	BatchStatus(ctx context.Context, batchID uuid.UUID) (*BatchStatusResponse, error)

	// DeviceStatus reports a device's checkpoint, pending batches and
	// known mappings.
	DeviceStatus(ctx context.Context, deviceID string) (*DeviceStatusResponse, error)
}

type ServiceConfig struct {
	MaxBatchSize    int
	AsyncThreshold  int
	DeltaLimit      int
	MappingCacheTTL time.Duration
}

// Service implements the offline sync engine: batch intake, the operation
// dispatcher, the last-write-wins resolver and the server delta provider.
type Service struct {
	repo       Repository
	enqueuer   Enqueuer
	dispatcher *dispatcher
	log        *slog.Logger
	config     *ServiceConfig
}

func NewService(repo Repository, registry *Registry, enqueuer Enqueuer, log *slog.Logger, config *ServiceConfig) *Service {
	if config == nil {
		config = &ServiceConfig{
			MaxBatchSize:    500,
			AsyncThreshold:  50,
			DeltaLimit:      200,
			MappingCacheTTL: 5 * time.Minute,
		}
	}

	return &Service{
		repo:     repo,
		enqueuer: enqueuer,
		dispatcher: &dispatcher{
			repo:     repo,
			registry: registry,
			cache:    newMappingCache(config.MappingCacheTTL),
			log:      log,
		},
		log:    log.With("component", "sync_service"),
		config: config,
	}
}

func (s *Service) Submit(ctx context.Context, req BatchRequest) (*BatchResponse, *QueuedResponse, error) {
	actor, ok := auth.GetActor(ctx)
	if !ok {
		return nil, nil, fmt.Errorf("user not authenticated")
	}
	if err := s.validate(req); err != nil {
		return nil, nil, err
	}

	if len(req.Operations) > s.config.AsyncThreshold {
		queued, err := s.enqueue(ctx, actor, req)
		return nil, queued, err
	}

	resp, err := s.processInline(ctx, actor, req)
	return resp, nil, err
}

func (s *Service) Enqueue(ctx context.Context, req BatchRequest) (*QueuedResponse, error) {
	actor, ok := auth.GetActor(ctx)
	if !ok {
		return nil, fmt.Errorf("user not authenticated")
	}
	if err := s.validate(req); err != nil {
		return nil, err
	}
	return s.enqueue(ctx, actor, req)
}

// processInline runs the batch within the caller's request. Every
// submission gets its own ledger row for audit, even an identical retry;
// the mapping store keeps the underlying mutations idempotent.
func (s *Service) processInline(ctx context.Context, actor auth.Actor, req BatchRequest) (*BatchResponse, error) {
	start := time.Now()

	batch := s.newBatch(actor, req, StatusProcessing)
	if err := s.repo.CreateBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("create batch ledger row: %w", err)
	}

	applied, conflicts, opErrors := s.runOperations(ctx, actor, req.DeviceID, req.Operations)

	updates, err := s.serverUpdates(ctx, actor.ClinicID, req.LastSync)
	if err != nil {
		// Push-down changes are best effort on this pass; the client can
		// fetch them on its next sync.
		s.log.Warn("failed to collect server updates", "clinic_id", actor.ClinicID, "error", err)
		updates = nil
	}

	now := time.Now().UTC()
	batch.Result = &BatchResult{
		AppliedCount:   len(applied),
		ConflictsCount: len(conflicts),
		ErrorsCount:    len(opErrors),
		UpdatesCount:   len(updates),
	}
	batch.Status = batch.Result.DeriveStatus()
	if len(opErrors) > 0 {
		batch.ErrorMessage = fmt.Sprintf("%d operations failed", len(opErrors))
	}
	batch.ProcessedAt = &now

	if err := s.repo.FinishBatch(ctx, batch); err != nil {
		// A row parked in processing is invisible to the pending sweep, so
		// it must not stay there. Best effort: record the system failure.
		if serr := s.repo.SetBatchStatus(ctx, batch.ID, StatusFailed); serr != nil {
			s.log.Error("failed to mark batch failed after finish error",
				"batch_id", batch.ID, "error", serr)
		}
		return nil, fmt.Errorf("finish batch ledger row: %w", err)
	}

	metrics.BatchesProcessed.WithLabelValues(string(batch.Status), "inline").Inc()
	metrics.BatchDuration.Observe(time.Since(start).Seconds())
	metrics.BatchSize.Observe(float64(batch.OperationCount))

	total := len(applied) + len(conflicts) + len(opErrors)
	return &BatchResponse{
		BatchID:    batch.ID,
		Applied:    applied,
		Conflicts:  conflicts,
		Errors:     opErrors,
		Updates:    updates,
		ServerTime: now,
		Summary: fmt.Sprintf("processed %d operations: %d applied, %d conflicts, %d errors, %d server updates",
			total, len(applied), len(conflicts), len(opErrors), len(updates)),
	}, nil
}

func (s *Service) enqueue(ctx context.Context, actor auth.Actor, req BatchRequest) (*QueuedResponse, error) {
	batch := s.newBatch(actor, req, StatusPending)
	if err := s.repo.CreateBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("create batch ledger row: %w", err)
	}

	// The row is durable at this point. If the publish fails the pending
	// sweep re-enqueues it, so the hand-off stays at-least-once.
	if err := s.enqueuer.Enqueue(ctx, batch.ID); err != nil {
		s.log.Warn("failed to enqueue batch, sweep will retry",
			"batch_id", batch.ID, "error", err)
	}

	s.log.Info("batch queued for async processing",
		"batch_id", batch.ID, "device_id", req.DeviceID, "operations", batch.OperationCount)

	return &QueuedResponse{
		BatchID:        batch.ID,
		Status:         "queued",
		OperationCount: batch.OperationCount,
		Message:        "batch queued for processing; poll its status by batch id",
	}, nil
}

func (s *Service) ProcessLedger(ctx context.Context, batchID uuid.UUID) error {
	start := time.Now()

	batch, err := s.repo.GetBatchByID(ctx, batchID)
	if err != nil {
		return fmt.Errorf("load batch %s: %w", batchID, err)
	}

	if batch.Status != StatusPending {
		// At-least-once delivery: a redelivered or swept row that some
		// other worker already picked up is skipped, not reprocessed.
		s.log.Info("batch is not pending, skipping",
			"batch_id", batchID, "status", batch.Status)
		return nil
	}

	if err := s.repo.SetBatchStatus(ctx, batchID, StatusProcessing); err != nil {
		return fmt.Errorf("mark batch processing: %w", err)
	}

	actor := auth.Actor{UserID: batch.UserID, ClinicID: batch.ClinicID}
	applied, conflicts, opErrors := s.runOperations(ctx, actor, batch.DeviceID, batch.Operations)

	now := time.Now().UTC()
	batch.Result = &BatchResult{
		AppliedCount:   len(applied),
		ConflictsCount: len(conflicts),
		ErrorsCount:    len(opErrors),
	}
	batch.Status = batch.Result.DeriveStatus()
	if len(opErrors) > 0 {
		batch.ErrorMessage = fmt.Sprintf("%d of %d operations failed", len(opErrors), batch.OperationCount)
	}
	batch.ProcessedAt = &now

	if err := s.repo.FinishBatch(ctx, batch); err != nil {
		return fmt.Errorf("finish batch ledger row: %w", err)
	}

	metrics.BatchesProcessed.WithLabelValues(string(batch.Status), "queued").Inc()
	metrics.BatchDuration.Observe(time.Since(start).Seconds())

	s.log.Info("batch processed",
		"batch_id", batchID,
		"applied", len(applied),
		"conflicts", len(conflicts),
		"errors", len(opErrors),
	)
	return nil
}

// runOperations executes the batch strictly in submission order. Handler
// failures are caught at the single-operation boundary and recorded; one
// bad operation never aborts the batch.
func (s *Service) runOperations(ctx context.Context, actor auth.Actor, deviceID string, ops []Operation) ([]Applied, []Conflict, []OpError) {
	run := s.dispatcher.newRun(actor, deviceID)

	applied := make([]Applied, 0, len(ops))
	conflicts := make([]Conflict, 0)
	opErrors := make([]OpError, 0)

	for _, op := range ops {
		a, c, err := run.process(ctx, op)
		switch {
		case err != nil:
			s.log.Error("operation failed",
				"entity", op.Entity, "action", op.Action, "local_id", op.LocalID, "error", err)
			opErrors = append(opErrors, OpError{
				LocalID: op.LocalID,
				Entity:  op.Entity,
				Action:  op.Action,
				Status:  "error",
				Error:   err.Error(),
			})
			metrics.OperationsProcessed.WithLabelValues(string(op.Entity), "error").Inc()
		case c != nil:
			conflicts = append(conflicts, *c)
			metrics.OperationsProcessed.WithLabelValues(string(op.Entity), "conflict").Inc()
		default:
			applied = append(applied, *a)
			metrics.OperationsProcessed.WithLabelValues(string(op.Entity), a.Status).Inc()
		}
	}

	return applied, conflicts, opErrors
}

func (s *Service) BatchStatus(ctx context.Context, batchID uuid.UUID) (*BatchStatusResponse, error) {
	actor, ok := auth.GetActor(ctx)
	if !ok {
		return nil, fmt.Errorf("user not authenticated")
	}

	batch, err := s.repo.GetBatch(ctx, actor.ClinicID, batchID)
	if err != nil {
		return nil, err
	}

	return &BatchStatusResponse{
		BatchID:        batch.ID,
		Status:         batch.Status,
		OperationCount: batch.OperationCount,
		Result:         batch.Result,
		ErrorMessage:   batch.ErrorMessage,
		CreatedAt:      batch.CreatedAt,
		ProcessedAt:    batch.ProcessedAt,
	}, nil
}

func (s *Service) DeviceStatus(ctx context.Context, deviceID string) (*DeviceStatusResponse, error) {
	actor, ok := auth.GetActor(ctx)
	if !ok {
		return nil, fmt.Errorf("user not authenticated")
	}
	if deviceID == "" {
		return nil, validationErrorf("device_id is required")
	}

	lastSync, err := s.repo.LastSuccessfulSync(ctx, actor.ClinicID, deviceID)
	if err != nil {
		return nil, fmt.Errorf("last successful sync: %w", err)
	}
	pending, err := s.repo.CountPendingBatches(ctx, actor.ClinicID, deviceID)
	if err != nil {
		return nil, fmt.Errorf("count pending batches: %w", err)
	}
	mappings, err := s.repo.CountMappings(ctx, actor.ClinicID, deviceID)
	if err != nil {
		return nil, fmt.Errorf("count mappings: %w", err)
	}

	return &DeviceStatusResponse{
		DeviceID:       deviceID,
		LastSync:       lastSync,
		PendingBatches: pending,
		TotalMappings:  mappings,
	}, nil
}

func (s *Service) newBatch(actor auth.Actor, req BatchRequest, status BatchStatus) *Batch {
	return &Batch{
		ID:             uuid.New(),
		ClinicID:       actor.ClinicID,
		UserID:         actor.UserID,
		DeviceID:       req.DeviceID,
		Operations:     req.Operations,
		OperationCount: len(req.Operations),
		Status:         status,
	}
}

// validate rejects a malformed batch before anything is persisted.
func (s *Service) validate(req BatchRequest) error {
	if req.DeviceID == "" {
		return validationErrorf("device_id is required")
	}
	if len(req.DeviceID) > 100 {
		return validationErrorf("device_id exceeds 100 characters")
	}
	if len(req.Operations) == 0 {
		return validationErrorf("batch contains no operations")
	}
	if len(req.Operations) > s.config.MaxBatchSize {
		return validationErrorf("batch exceeds %d operations", s.config.MaxBatchSize)
	}

	for i, op := range req.Operations {
		if !op.Entity.Valid() {
			return validationErrorf("operation %d: unknown entity type %q", i, op.Entity)
		}
		if !op.Action.Valid() {
			return validationErrorf("operation %d: unknown action %q", i, op.Action)
		}
		if op.LocalID == "" {
			return validationErrorf("operation %d: local_id is required", i)
		}
		if op.Timestamp.IsZero() {
			return validationErrorf("operation %d: timestamp is required", i)
		}
		if len(op.Data) == 0 {
			return validationErrorf("operation %d: data payload is required", i)
		}
	}
	return nil
}

var _ Servicer = (*Service)(nil)
