package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	apperrors "github.com/odtrack/core/internal/errors"
	"github.com/odtrack/core/internal/logging"
)

// migration is one schema step. Migrations are embedded because the store
// ships as a library with no migrations directory alongside the binary.
type migration struct {
	version     int
	description string
	sql         string
}

var migrations = []migration{
	{
		version:     1,
		description: "initial key-value schema",
		sql: `
		CREATE TABLE IF NOT EXISTS kv_entries (
			collection TEXT NOT NULL,
			key TEXT NOT NULL,
			value BLOB NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (collection, key)
		);
		CREATE INDEX IF NOT EXISTS idx_kv_entries_collection ON kv_entries(collection);
		`,
	},
	{
		version:     2,
		description: "updated_at index for retention sweeps",
		sql: `
		CREATE INDEX IF NOT EXISTS idx_kv_entries_updated ON kv_entries(collection, updated_at);
		`,
	},
}

// migrate applies all pending embedded migrations inside transactions,
// tracking them in schema_migrations.
func migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY CHECK(version > 0),
		applied_at INTEGER NOT NULL CHECK(applied_at > 0),
		description TEXT NOT NULL CHECK(length(description) > 0),
		checksum TEXT NOT NULL CHECK(length(checksum) = 64)
	);`)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrMigration, "failed to create schema_migrations", err)
	}

	var current int
	if err := db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return apperrors.Wrap(apperrors.ErrMigration, "failed to read schema version", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrMigration, "failed to begin migration transaction", err)
		}

		if _, err := tx.ExecContext(ctx, m.sql); err != nil {
			tx.Rollback()
			return apperrors.Wrap(apperrors.ErrMigration,
				fmt.Sprintf("migration %d (%s) failed", m.version, m.description), err)
		}

		checksum := sha256.Sum256([]byte(m.sql))
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, applied_at, description, checksum) VALUES (?, ?, ?, ?)",
			m.version, time.Now().Unix(), m.description, hex.EncodeToString(checksum[:])); err != nil {
			tx.Rollback()
			return apperrors.Wrap(apperrors.ErrMigration,
				fmt.Sprintf("failed to record migration %d", m.version), err)
		}

		if err := tx.Commit(); err != nil {
			return apperrors.Wrap(apperrors.ErrMigration,
				fmt.Sprintf("failed to commit migration %d", m.version), err)
		}

		logging.Info("Applied schema migration", map[string]interface{}{
			"version":     m.version,
			"description": m.description,
		})
	}

	return nil
}
