package discovery

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	"github.com/ggonzalez94/lp-agent/internal/model"
)

// Snapshot persists the last completed discovery scan so a restarted agent
// can serve ranked pools before its first fresh fetch, and so a total fetch
// failure can degrade to the last known-good list.
type Snapshot struct {
	db   *sql.DB
	lock *flock.Flock
}

func OpenSnapshot(path, lockPath string) (*Snapshot, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite snapshot: %w", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"CREATE TABLE IF NOT EXISTS discovery_snapshot (id INTEGER PRIMARY KEY CHECK (id = 1), fetched_at INTEGER NOT NULL, payload BLOB NOT NULL);",
	}
	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init snapshot schema: %w", err)
		}
	}

	return &Snapshot{db: db, lock: flock.New(lockPath)}, nil
}

func (s *Snapshot) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Load returns the persisted scan and its fetch time. A missing snapshot is
// not an error; it returns (nil, zero time, nil).
func (s *Snapshot) Load() ([]model.ScoredPool, time.Time, error) {
	if s == nil || s.db == nil {
		return nil, time.Time{}, nil
	}
	var payload []byte
	var fetchedUnix int64
	err := s.db.QueryRow("SELECT payload, fetched_at FROM discovery_snapshot WHERE id = 1").Scan(&payload, &fetchedUnix)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, time.Time{}, nil
		}
		return nil, time.Time{}, fmt.Errorf("snapshot read: %w", err)
	}
	var pools []model.ScoredPool
	if err := json.Unmarshal(payload, &pools); err != nil {
		return nil, time.Time{}, fmt.Errorf("snapshot decode: %w", err)
	}
	return pools, time.Unix(fetchedUnix, 0).UTC(), nil
}

func (s *Snapshot) Save(pools []model.ScoredPool, fetchedAt time.Time) error {
	if s == nil || s.db == nil {
		return nil
	}
	locked, err := s.lock.TryLockContext(context.Background(), 5*time.Second)
	if err != nil {
		return fmt.Errorf("lock snapshot: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock snapshot: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()

	payload, err := json.Marshal(pools)
	if err != nil {
		return fmt.Errorf("snapshot encode: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO discovery_snapshot (id, fetched_at, payload)
		VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			fetched_at=excluded.fetched_at,
			payload=excluded.payload
	`, fetchedAt.UTC().Unix(), payload)
	if err != nil {
		return fmt.Errorf("snapshot write: %w", err)
	}
	return nil
}
