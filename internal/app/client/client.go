package client

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"clinisync/internal/app/client/config"
	"clinisync/internal/domain/sync"
	"clinisync/internal/utils/backoff"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"
)

// App связывает локальное хранилище операций с HTTP-клиентом сервера.
type App struct {
	cfg   *config.Config
	store *SQLiteStore
	http  *HTTPClient
	log   *slog.Logger
}

// SyncOutcome is what one push attempt produced: either an inline result or
// a queued acknowledgement.
type SyncOutcome struct {
	Result *sync.BatchResponse
	Queued *sync.QueuedResponse
}

// StatusInfo combines the local queue view with the server-side device
// status. Server is nil when the server could not be reached.
type StatusInfo struct {
	DeviceID     string
	PendingLocal int
	LastSync     time.Time
	Server       *sync.DeviceStatusResponse
}

func New(cfg *config.Config, log *slog.Logger) (*App, error) {
	store, err := NewSQLiteStore(cfg.DataPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия локального хранилища: %w", err)
	}

	token, err := loadToken(cfg.TokenPath)
	if err != nil {
		store.Close()
		return nil, err
	}

	return &App{
		cfg:   cfg,
		store: store,
		http:  NewHTTPClient(cfg.ServerAddress, token, log),
		log:   log,
	}, nil
}

func (a *App) Close() error {
	return a.store.Close()
}

// QueueOperation records one change in the local outbox. A missing local id
// gets a fresh uuid so creates can be matched to server ids later.
func (a *App) QueueOperation(entity, action, localID string, data json.RawMessage) (string, error) {
	if !sync.EntityType(entity).Valid() {
		return "", fmt.Errorf("неизвестный тип сущности: %s", entity)
	}
	if !sync.Action(action).Valid() {
		return "", fmt.Errorf("неизвестное действие: %s", action)
	}
	if !json.Valid(data) {
		return "", fmt.Errorf("данные операции не являются корректным JSON")
	}
	if localID == "" {
		localID = uuid.NewString()
	}

	err := a.store.Queue(PendingOp{
		LocalID:   localID,
		Entity:    entity,
		Action:    action,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return "", err
	}
	return localID, nil
}

// Sync pushes one batch of pending operations and applies the server's
// answer to the local store. Returns nil outcome when nothing was pending.
func (a *App) Sync(ctx context.Context) (*SyncOutcome, error) {
	ops, err := a.store.Pending(a.cfg.BatchSize)
	if err != nil {
		return nil, err
	}
	if len(ops) == 0 {
		return nil, nil
	}

	deviceID, err := a.deviceID()
	if err != nil {
		return nil, err
	}
	lastSync, err := a.store.LastSync()
	if err != nil {
		return nil, err
	}

	req := sync.BatchRequest{
		DeviceID: deviceID,
		LastSync: lastSync,
	}
	for _, op := range ops {
		req.Operations = append(req.Operations, sync.Operation{
			Entity:    sync.EntityType(op.Entity),
			Action:    sync.Action(op.Action),
			LocalID:   op.LocalID,
			Data:      op.Data,
			Timestamp: op.Timestamp,
		})
	}

	result, queued, err := a.http.Submit(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("ошибка отправки пакета: %w", err)
	}

	if result != nil {
		if err := a.applyResult(result); err != nil {
			return nil, err
		}
		return &SyncOutcome{Result: result}, nil
	}
	return &SyncOutcome{Queued: queued}, nil
}

// applyResult records confirmed id mappings, marks finished operations and
// advances the checkpoint. Conflicted operations are marked too: the server
// kept its version and resubmitting the same stale write cannot win.
func (a *App) applyResult(result *sync.BatchResponse) error {
	var done []string
	for _, applied := range result.Applied {
		if applied.Action == sync.ActionCreate {
			if err := a.store.SaveMapping(string(applied.Entity), applied.LocalID, applied.ServerID); err != nil {
				return err
			}
		}
		done = append(done, applied.LocalID)
	}
	for _, conflict := range result.Conflicts {
		done = append(done, conflict.LocalID)
	}

	if err := a.store.MarkSynced(done); err != nil {
		return err
	}
	return a.store.SetLastSync(result.ServerTime)
}

// WaitForBatch polls a queued batch until it reaches a terminal status.
// On completion all operations that were pending at submit time are marked
// synced: creates are replay-safe through the server's id mappings.
func (a *App) WaitForBatch(ctx context.Context, batchID string, timeout time.Duration) (*sync.BatchStatusResponse, error) {
	deadline := time.Now().Add(timeout)
	bo := backoff.New(time.Second, 15*time.Second, 2.0)

	for {
		status, err := a.http.BatchStatus(ctx, batchID)
		if err != nil {
			return nil, err
		}

		switch status.Status {
		case sync.StatusCompleted, sync.StatusPartial, sync.StatusFailed:
			if status.Status == sync.StatusCompleted {
				if err := a.markPendingSynced(); err != nil {
					return status, err
				}
				if status.ProcessedAt != nil {
					if err := a.store.SetLastSync(*status.ProcessedAt); err != nil {
						return status, err
					}
				}
			}
			return status, nil
		}

		if time.Now().After(deadline) {
			return status, fmt.Errorf("пакет %s не обработан за %s", batchID, timeout)
		}

		select {
		case <-ctx.Done():
			return status, ctx.Err()
		case <-time.After(bo.Next()):
		}
	}
}

func (a *App) markPendingSynced() error {
	ops, err := a.store.Pending(a.cfg.BatchSize)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(ops))
	for _, op := range ops {
		ids = append(ids, op.LocalID)
	}
	return a.store.MarkSynced(ids)
}

// BatchStatus asks the server for the state of one submitted batch.
func (a *App) BatchStatus(ctx context.Context, batchID string) (*sync.BatchStatusResponse, error) {
	return a.http.BatchStatus(ctx, batchID)
}

// Status reports the local queue and, when reachable, the server's view of
// this device.
func (a *App) Status(ctx context.Context) (*StatusInfo, error) {
	deviceID, err := a.deviceID()
	if err != nil {
		return nil, err
	}
	pending, err := a.store.PendingCount()
	if err != nil {
		return nil, err
	}
	lastSync, err := a.store.LastSync()
	if err != nil {
		return nil, err
	}

	info := &StatusInfo{
		DeviceID:     deviceID,
		PendingLocal: pending,
		LastSync:     lastSync,
	}

	server, err := a.http.DeviceStatus(ctx, deviceID)
	if err != nil {
		a.log.Debug("server unreachable", "error", err)
	} else {
		info.Server = server
	}
	return info, nil
}

// deviceID prefers the configured id, otherwise the one persisted in the
// local store.
func (a *App) deviceID() (string, error) {
	if a.cfg.DeviceID != "" {
		return a.cfg.DeviceID, nil
	}
	return a.store.DeviceID()
}

func loadToken(path string) (string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("ошибка чтения токена: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// SaveToken persists the bearer token with owner-only permissions.
func SaveToken(path, token string) error {
	if err := os.WriteFile(path, []byte(strings.TrimSpace(token)+"\n"), 0600); err != nil {
		return fmt.Errorf("ошибка сохранения токена: %w", err)
	}
	return nil
}
