package client

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// PendingOp is one locally recorded change waiting to be pushed.
type PendingOp struct {
	LocalID   string          `json:"local_id"`
	Entity    string          `json:"entity"`
	Action    string          `json:"action"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// SQLiteStore is the device-local operation queue plus the local view of
// the id mappings the server has confirmed.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия базы данных: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ошибка инициализации таблиц: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initTables() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS operations (
			local_id TEXT PRIMARY KEY,
			entity TEXT NOT NULL,
			action TEXT NOT NULL,
			data TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			synced INTEGER NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_operations_synced ON operations(synced, created_at);

		CREATE TABLE IF NOT EXISTS mappings (
			entity TEXT NOT NULL,
			local_id TEXT NOT NULL,
			server_id TEXT NOT NULL,
			PRIMARY KEY (entity, local_id)
		);

		CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`)
	return err
}

// Queue appends one operation to the local outbox.
func (s *SQLiteStore) Queue(op PendingOp) error {
	_, err := s.db.Exec(`
		INSERT INTO operations (local_id, entity, action, data, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, op.LocalID, op.Entity, op.Action, string(op.Data), op.Timestamp.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("ошибка сохранения операции: %w", err)
	}
	return nil
}

// Pending returns unsynced operations in recording order.
func (s *SQLiteStore) Pending(limit int) ([]PendingOp, error) {
	rows, err := s.db.Query(`
		SELECT local_id, entity, action, data, created_at
		FROM operations
		WHERE synced = 0
		ORDER BY created_at ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка выполнения запроса: %w", err)
	}
	defer rows.Close()

	var ops []PendingOp
	for rows.Next() {
		var op PendingOp
		var data, createdAt string
		if err := rows.Scan(&op.LocalID, &op.Entity, &op.Action, &data, &createdAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования операции: %w", err)
		}
		op.Data = json.RawMessage(data)
		op.Timestamp, _ = time.Parse(time.RFC3339Nano, createdAt)
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

func (s *SQLiteStore) MarkSynced(localIDs []string) error {
	if len(localIDs) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(localIDs)), ",")
	args := make([]interface{}, len(localIDs))
	for i, id := range localIDs {
		args[i] = id
	}

	_, err := s.db.Exec(
		"UPDATE operations SET synced = 1 WHERE local_id IN ("+placeholders+")", args...)
	if err != nil {
		return fmt.Errorf("ошибка отметки операций: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveMapping(entity, localID, serverID string) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO mappings (entity, local_id, server_id)
		VALUES (?, ?, ?)
	`, entity, localID, serverID)
	if err != nil {
		return fmt.Errorf("ошибка сохранения маппинга: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Mapping(entity, localID string) (string, error) {
	var serverID string
	err := s.db.QueryRow(`
		SELECT server_id FROM mappings WHERE entity = ? AND local_id = ?
	`, entity, localID).Scan(&serverID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("ошибка получения маппинга: %w", err)
	}
	return serverID, nil
}

func (s *SQLiteStore) LastSync() (time.Time, error) {
	value, err := s.getMeta("last_sync")
	if err != nil || value == "" {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, value)
}

func (s *SQLiteStore) SetLastSync(t time.Time) error {
	return s.setMeta("last_sync", t.UTC().Format(time.RFC3339Nano))
}

// DeviceID returns the persistent device identifier, generating one on
// first use.
func (s *SQLiteStore) DeviceID() (string, error) {
	id, err := s.getMeta("device_id")
	if err != nil {
		return "", err
	}
	if id != "" {
		return id, nil
	}

	id = uuid.NewString()
	if err := s.setMeta("device_id", id); err != nil {
		return "", err
	}
	return id, nil
}

func (s *SQLiteStore) PendingCount() (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM operations WHERE synced = 0").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчета операций: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) getMeta(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("ошибка чтения meta: %w", err)
	}
	return value, nil
}

func (s *SQLiteStore) setMeta(key, value string) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)
	`, key, value)
	if err != nil {
		return fmt.Errorf("ошибка записи meta: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
