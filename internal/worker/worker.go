package worker

import (
	"context"
	"errors"
	"fmt"
	stdsync "sync"
	"time"

	"clinisync/internal/app/server/config"
	"clinisync/internal/domain/sync"
	"clinisync/internal/infrastructure/queue"
	"clinisync/internal/metrics"
	"clinisync/internal/utils/backoff"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"
)

const (
	// sweepLimit bounds how many stuck pending rows one sweep re-enqueues.
	sweepLimit = 20

	cleanupInterval = 24 * time.Hour
)

// Worker drains the batch queue, re-enqueues pending rows the broker lost,
// and purges ledger rows past the retention window.
type Worker struct {
	repo     sync.Repository
	svc      sync.Servicer
	enqueuer sync.Enqueuer
	cfg      *config.Config
	log      *slog.Logger
}

func New(repo sync.Repository, svc sync.Servicer, enqueuer sync.Enqueuer, cfg *config.Config, log *slog.Logger) *Worker {
	return &Worker{
		repo:     repo,
		svc:      svc,
		enqueuer: enqueuer,
		cfg:      cfg,
		log:      log.With("component", "sync_worker"),
	}
}

// Run blocks until ctx is cancelled. The consume loop reconnects with
// jittered exponential backoff; the sweep and cleanup tickers run
// alongside it.
func (w *Worker) Run(ctx context.Context) {
	var wg stdsync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		w.sweepLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		w.cleanupLoop(ctx)
	}()

	w.consumeLoop(ctx)
	wg.Wait()
}

func (w *Worker) consumeLoop(ctx context.Context) {
	bo := backoff.New(time.Second, time.Minute, 2.0)

	for {
		consumer, err := queue.NewRabbitMQConsumer(
			w.cfg.Queue.AMQPURL, w.cfg.Queue.QueueName,
			w.cfg.Sync.RetryDelay, w.Handle, w.log,
		)
		if err != nil {
			w.log.Error("failed to connect consumer", "error", err)
			if !w.sleep(ctx, bo.Next()) {
				return
			}
			continue
		}
		bo.Reset()

		err = consumer.Listen(ctx)
		consumer.Close()

		if ctx.Err() != nil {
			return
		}
		if err != nil {
			w.log.Warn("consumer stopped, reconnecting", "error", err)
		}
		if !w.sleep(ctx, bo.Next()) {
			return
		}
	}
}

// Handle processes one delivered batch id. A nil return acknowledges the
// delivery; terminal failures are recorded in the ledger before returning
// nil so the delivery is not retried forever.
func (w *Worker) Handle(ctx context.Context, batchID uuid.UUID) error {
	attempts, err := w.repo.IncrementBatchAttempts(ctx, batchID)
	if err != nil {
		if errors.Is(err, sync.ErrBatchNotFound) {
			// Retention cleanup may have purged the row between enqueue and
			// delivery. Nothing left to process.
			w.log.Warn("delivered batch no longer exists", "batch_id", batchID)
			return nil
		}
		return err
	}

	perr := w.svc.ProcessLedger(ctx, batchID)
	if perr == nil {
		return nil
	}

	if attempts >= w.cfg.Sync.MaxAttempts {
		w.markFailed(ctx, batchID, attempts, perr)
		return nil
	}

	// ProcessLedger may have left the row in processing. Restore pending so
	// the requeued delivery is not skipped as already picked up.
	if err := w.repo.SetBatchStatus(ctx, batchID, sync.StatusPending); err != nil {
		w.log.Error("failed to restore pending status", "batch_id", batchID, "error", err)
	}

	w.log.Warn("batch processing failed, will retry",
		"batch_id", batchID, "attempt", attempts, "error", perr)
	return perr
}

func (w *Worker) markFailed(ctx context.Context, batchID uuid.UUID, attempts int, cause error) {
	batch, err := w.repo.GetBatchByID(ctx, batchID)
	if err != nil {
		w.log.Error("failed to load batch for terminal failure",
			"batch_id", batchID, "error", err)
		return
	}

	now := time.Now().UTC()
	batch.Status = sync.StatusFailed
	batch.ErrorMessage = fmt.Sprintf("processing failed after %d attempts: %v", attempts, cause)
	batch.ProcessedAt = &now

	if err := w.repo.FinishBatch(ctx, batch); err != nil {
		w.log.Error("failed to mark batch failed", "batch_id", batchID, "error", err)
		return
	}

	metrics.BatchesProcessed.WithLabelValues(string(sync.StatusFailed), "queued").Inc()
	w.log.Error("batch failed permanently",
		"batch_id", batchID, "attempts", attempts, "error", cause)
}

// sweepLoop re-enqueues pending ledger rows whose publish was lost, e.g.
// when the broker was down at intake time.
func (w *Worker) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Sync.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *Worker) sweep(ctx context.Context) {
	olderThan := time.Now().Add(-w.cfg.Sync.PendingTimeout)

	ids, err := w.repo.ListPendingBatches(ctx, olderThan, sweepLimit)
	if err != nil {
		w.log.Error("pending sweep failed", "error", err)
		return
	}
	metrics.PendingBatches.Set(float64(len(ids)))
	if len(ids) == 0 {
		return
	}

	w.log.Info("re-enqueueing stuck pending batches", "count", len(ids))
	for _, id := range ids {
		if err := w.enqueuer.Enqueue(ctx, id); err != nil {
			w.log.Warn("failed to re-enqueue batch", "batch_id", id, "error", err)
		}
	}
}

func (w *Worker) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.cleanup(ctx)
		}
	}
}

func (w *Worker) cleanup(ctx context.Context) {
	cutoff := time.Now().AddDate(0, 0, -w.cfg.Sync.RetentionDays)

	batches, mappings, err := w.repo.PurgeBefore(ctx, cutoff)
	if err != nil {
		w.log.Error("retention cleanup failed", "error", err)
		return
	}
	if batches > 0 || mappings > 0 {
		w.log.Info("retention cleanup done",
			"batches_purged", batches, "mappings_purged", mappings, "cutoff", cutoff)
	}
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
