package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	"github.com/ggonzalez94/lp-agent/internal/model"
)

// Store persists the records of positions this wallet opened. Records are
// written on open, deleted on close, and consulted when reconciling positions
// the aggregator no longer reports.
type Store struct {
	db   *sql.DB
	lock *flock.Flock
}

func Open(path, lockPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create record store directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create record lock directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open record sqlite: %w", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		`CREATE TABLE IF NOT EXISTS lp_records (
			pos_id TEXT NOT NULL,
			chain_id INTEGER NOT NULL,
			protocol TEXT NOT NULL,
			opened_at INTEGER NOT NULL,
			payload BLOB NOT NULL,
			PRIMARY KEY (chain_id, pos_id)
		);`,
		"CREATE INDEX IF NOT EXISTS idx_lp_records_opened ON lp_records(opened_at DESC);",
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init record schema: %w", err)
		}
	}
	return &Store{db: db, lock: flock.New(lockPath)}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Save(record model.EvmLpRecord) error {
	if strings.TrimSpace(record.PosID) == "" {
		return fmt.Errorf("save record: missing position id")
	}
	locked, err := s.lock.TryLockContext(context.Background(), 5*time.Second)
	if err != nil {
		return fmt.Errorf("lock record store: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock record store: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	openedUnix := record.OpenedAt.UTC().Unix()
	if record.OpenedAt.IsZero() {
		openedUnix = time.Now().UTC().Unix()
	}

	_, err = s.db.Exec(`
		INSERT INTO lp_records (pos_id, chain_id, protocol, opened_at, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(chain_id, pos_id) DO UPDATE SET
			protocol=excluded.protocol,
			opened_at=excluded.opened_at,
			payload=excluded.payload
	`, record.PosID, record.ChainID, record.Protocol, openedUnix, payload)
	if err != nil {
		return fmt.Errorf("save record: %w", err)
	}
	return nil
}

func (s *Store) Get(chainID int64, posID string) (model.EvmLpRecord, error) {
	var payload []byte
	err := s.db.QueryRow("SELECT payload FROM lp_records WHERE chain_id = ? AND pos_id = ?", chainID, posID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.EvmLpRecord{}, fmt.Errorf("record not found: %d/%s", chainID, posID)
		}
		return model.EvmLpRecord{}, fmt.Errorf("read record: %w", err)
	}
	var record model.EvmLpRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return model.EvmLpRecord{}, fmt.Errorf("decode record payload: %w", err)
	}
	return record, nil
}

// List returns all records, most recently opened first.
func (s *Store) List() ([]model.EvmLpRecord, error) {
	rows, err := s.db.Query("SELECT payload FROM lp_records ORDER BY opened_at DESC, pos_id ASC")
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	records := make([]model.EvmLpRecord, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan record row: %w", err)
		}
		var record model.EvmLpRecord
		if err := json.Unmarshal(payload, &record); err != nil {
			return nil, fmt.Errorf("decode record row: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate record rows: %w", err)
	}
	return records, nil
}

// Delete removes a record after its position is closed. Deleting a record
// that is already gone is not an error.
func (s *Store) Delete(chainID int64, posID string) error {
	locked, err := s.lock.TryLockContext(context.Background(), 5*time.Second)
	if err != nil {
		return fmt.Errorf("lock record store: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock record store: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()

	if _, err := s.db.Exec("DELETE FROM lp_records WHERE chain_id = ? AND pos_id = ?", chainID, posID); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}
