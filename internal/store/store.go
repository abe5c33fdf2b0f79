// Package store provides the durable persistent store backing the offline
// sync core. Three independent collections (sync queue, cache, conflicts)
// plus the operation ledger and a small meta collection live in one SQLite
// file and survive process restarts.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	apperrors "github.com/odtrack/core/internal/errors"
	"github.com/odtrack/core/internal/logging"
)

// Collection names a typed key space inside the store. Collections are
// independently consistent; no cross-collection transactions are offered.
type Collection string

const (
	CollectionSyncQueue  Collection = "sync_queue"
	CollectionCache      Collection = "cache"
	CollectionConflicts  Collection = "conflicts"
	CollectionOperations Collection = "operations"
	CollectionMeta       Collection = "meta"
)

// Collections lists every registered collection.
func Collections() []Collection {
	return []Collection{
		CollectionSyncQueue,
		CollectionCache,
		CollectionConflicts,
		CollectionOperations,
		CollectionMeta,
	}
}

const dbFileName = "odsync.db"

// Store is a durable key-addressed store over SQLite. Per-key writes are
// atomic; values are opaque JSON documents.
type Store struct {
	mu          sync.RWMutex
	db          *sql.DB
	dataDir     string
	initialized bool
	closed      bool

	// Prepared statement cache for frequently used queries.
	stmtCache sync.Map // map[string]*sql.Stmt
}

// Stats summarizes store contents for diagnostics.
type Stats struct {
	ItemCounts map[Collection]int `json:"item_counts"`
	TotalItems int                `json:"total_items"`
	SizeBytes  int64              `json:"size_bytes"` // approximate serialized size
}

// New creates a Store rooted at dataDir. Initialize must be called before use.
func New(dataDir string) *Store {
	return &Store{dataDir: dataDir}
}

// Initialize opens the database and applies pending schema migrations.
// Safe to call when already open.
func (s *Store) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return nil
	}
	if s.closed {
		return apperrors.New(apperrors.ErrStoreClosed, "store has been closed")
	}

	if err := os.MkdirAll(s.dataDir, 0755); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to create data directory", err)
	}

	dbPath := filepath.Join(s.dataDir, dbFileName)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to open database", err)
	}

	// SQLite doesn't support multiple writers
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// WAL mode lets foreground reads proceed while the worker writes
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return apperrors.Wrap(apperrors.ErrStorage, "failed to enable WAL mode", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON;"); err != nil {
		db.Close()
		return apperrors.Wrap(apperrors.ErrStorage, "failed to enable foreign keys", err)
	}

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return err
	}

	s.db = db
	s.initialized = true

	logging.Info("Persistent store initialized", map[string]interface{}{"path": dbPath})
	return nil
}

// conn returns the open database handle or a STORE_CLOSED error.
func (s *Store) conn() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized || s.closed {
		return nil, apperrors.New(apperrors.ErrStoreClosed, "store is not open")
	}
	return s.db, nil
}

// prepare gets or creates a prepared statement from the cache.
func (s *Store) prepare(db *sql.DB, query string) (*sql.Stmt, error) {
	if stmt, ok := s.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := db.Prepare(query)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to prepare statement", err)
	}

	actual, loaded := s.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		// Another goroutine already prepared this, close our duplicate
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}
	return stmt, nil
}

// Put upserts a value under (collection, key). The write is atomic per key.
func (s *Store) Put(ctx context.Context, collection Collection, key string, value json.RawMessage) error {
	if key == "" {
		return apperrors.New(apperrors.ErrValidation, "key must not be empty")
	}
	db, err := s.conn()
	if err != nil {
		return err
	}

	stmt, err := s.prepare(db, `
	INSERT INTO kv_entries (collection, key, value, updated_at)
	VALUES (?, ?, ?, strftime('%s','now'))
	ON CONFLICT(collection, key) DO UPDATE SET
		value = excluded.value,
		updated_at = excluded.updated_at
	`)
	if err != nil {
		return err
	}
	if _, err := stmt.ExecContext(ctx, string(collection), key, []byte(value)); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage,
			fmt.Sprintf("failed to write %s/%s", collection, key), err)
	}
	return nil
}

// Get returns the value under (collection, key). The second return value is
// false when the key is absent.
func (s *Store) Get(ctx context.Context, collection Collection, key string) (json.RawMessage, bool, error) {
	db, err := s.conn()
	if err != nil {
		return nil, false, err
	}

	stmt, err := s.prepare(db, "SELECT value FROM kv_entries WHERE collection = ? AND key = ?")
	if err != nil {
		return nil, false, err
	}

	var value []byte
	err = stmt.QueryRowContext(ctx, string(collection), key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperrors.Wrap(apperrors.ErrStorage,
			fmt.Sprintf("failed to read %s/%s", collection, key), err)
	}
	return json.RawMessage(value), true, nil
}

// Delete removes the value under (collection, key). Deleting an absent key
// is not an error.
func (s *Store) Delete(ctx context.Context, collection Collection, key string) error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	stmt, err := s.prepare(db, "DELETE FROM kv_entries WHERE collection = ? AND key = ?")
	if err != nil {
		return err
	}
	if _, err := stmt.ExecContext(ctx, string(collection), key); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage,
			fmt.Sprintf("failed to delete %s/%s", collection, key), err)
	}
	return nil
}

// Keys returns a snapshot of all keys in the collection.
func (s *Store) Keys(ctx context.Context, collection Collection) ([]string, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx,
		"SELECT key FROM kv_entries WHERE collection = ? ORDER BY key", string(collection))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage,
			fmt.Sprintf("failed to list keys of %s", collection), err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to scan key", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to iterate keys", err)
	}
	return keys, nil
}

// Clear removes every entry in the collection and returns the removed count.
func (s *Store) Clear(ctx context.Context, collection Collection) (int, error) {
	db, err := s.conn()
	if err != nil {
		return 0, err
	}

	res, err := db.ExecContext(ctx,
		"DELETE FROM kv_entries WHERE collection = ?", string(collection))
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrStorage,
			fmt.Sprintf("failed to clear %s", collection), err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Stats returns per-collection item counts and approximate stored size.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
	SELECT collection, COUNT(*), COALESCE(SUM(LENGTH(value)), 0)
	FROM kv_entries GROUP BY collection`)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to compute stats", err)
	}
	defer rows.Close()

	stats := &Stats{ItemCounts: make(map[Collection]int)}
	for _, c := range Collections() {
		stats.ItemCounts[c] = 0
	}
	for rows.Next() {
		var collection string
		var count int
		var size int64
		if err := rows.Scan(&collection, &count, &size); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to scan stats row", err)
		}
		stats.ItemCounts[Collection(collection)] = count
		stats.TotalItems += count
		stats.SizeBytes += size
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to iterate stats", err)
	}
	return stats, nil
}

// Optimize reclaims free pages after large deletes.
func (s *Store) Optimize(ctx context.Context) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE);"); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to checkpoint WAL", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA optimize;"); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "failed to optimize database", err)
	}
	return nil
}

// Close releases the database handle and cached statements. Idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || !s.initialized {
		s.closed = true
		return nil
	}
	s.closed = true
	s.initialized = false

	var firstErr error
	s.stmtCache.Range(func(key, value interface{}) bool {
		stmt := value.(*sql.Stmt)
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	s.stmtCache = sync.Map{}

	if err := s.db.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	s.db = nil
	return firstErr
}
