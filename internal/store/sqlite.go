// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite.
// ABOUTME: Provides provider catalog persistence with automatic schema creation.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS providers (
			id                TEXT PRIMARY KEY,
			name              TEXT NOT NULL,
			capabilities_json TEXT NOT NULL,
			endpoint          TEXT NOT NULL,
			registered_at     DATETIME NOT NULL,
			updated_at        DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_providers_name ON providers(name);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// SaveProvider inserts a provider record. Returns ErrDuplicateProvider if
// the id is already present.
func (s *SQLiteStore) SaveProvider(ctx context.Context, rec *ProviderRecord) error {
	caps, err := json.Marshal(rec.Capabilities)
	if err != nil {
		return fmt.Errorf("encoding capabilities: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO providers (id, name, capabilities_json, endpoint, registered_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Name, string(caps), rec.Endpoint,
		rec.RegisteredAt.UTC().Format(time.RFC3339Nano),
		rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateProvider
		}
		return fmt.Errorf("inserting provider: %w", err)
	}
	return nil
}

// DeleteProvider removes a provider record. Returns ErrNotFound if the id
// does not exist.
func (s *SQLiteStore) DeleteProvider(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM providers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting provider: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListProviders returns all persisted providers ordered by id.
func (s *SQLiteStore) ListProviders(ctx context.Context) ([]*ProviderRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, capabilities_json, endpoint, registered_at, updated_at
		FROM providers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying providers: %w", err)
	}
	defer rows.Close()

	var recs []*ProviderRecord
	for rows.Next() {
		var rec ProviderRecord
		var caps, registeredAt, updatedAt string
		if err := rows.Scan(&rec.ID, &rec.Name, &caps, &rec.Endpoint, &registeredAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning provider: %w", err)
		}
		if err := json.Unmarshal([]byte(caps), &rec.Capabilities); err != nil {
			return nil, fmt.Errorf("decoding capabilities for %s: %w", rec.ID, err)
		}
		if rec.RegisteredAt, err = time.Parse(time.RFC3339Nano, registeredAt); err != nil {
			return nil, fmt.Errorf("parsing registered_at for %s: %w", rec.ID, err)
		}
		if rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
			return nil, fmt.Errorf("parsing updated_at for %s: %w", rec.ID, err)
		}
		recs = append(recs, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating providers: %w", err)
	}
	return recs, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
