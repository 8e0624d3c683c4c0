// Package sqlite persists per-user category overrides in a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/dvloznov/statement-categorizer/internal/domain"
	"github.com/dvloznov/statement-categorizer/internal/overrides"
)

// migrations are applied in order; the index plus one is the schema version.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS user_overrides (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id      TEXT NOT NULL,
		treated_name TEXT NOT NULL,
		category     TEXT NOT NULL,
		subcategory  TEXT NOT NULL DEFAULT '',
		created_at   DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_user_overrides_user ON user_overrides(user_id)`,
}

// Store implements overrides.Store on a SQLite database.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore opens (creating if needed) the database at path and runs pending
// migrations.
func NewStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("NewStore: creating data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("NewStore: opening database: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("NewStore: running migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var current int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	for i := current; i < len(migrations); i++ {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", i+1); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", i+1, err)
		}
	}
	return nil
}

// Lookup implements overrides.Store.
func (s *Store) Lookup(ctx context.Context, userID string) ([]domain.UserOverride, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT treated_name, category, subcategory
		FROM user_overrides
		WHERE user_id = ?
		ORDER BY id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("Lookup: querying overrides: %w", err)
	}
	defer rows.Close()

	var out []domain.UserOverride
	for rows.Next() {
		var o domain.UserOverride
		if err := rows.Scan(&o.Key, &o.Category, &o.Subcategory); err != nil {
			return nil, fmt.Errorf("Lookup: scanning row: %w", err)
		}
		o.Key = strings.ToLower(strings.TrimSpace(o.Key))
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Lookup: iterating rows: %w", err)
	}
	return out, nil
}

// Save implements overrides.Store. All rows are written in one transaction.
func (s *Store) Save(ctx context.Context, userID string, items []domain.UserOverride) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("Save: beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO user_overrides (user_id, treated_name, category, subcategory, created_at)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("Save: preparing insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, o := range items {
		if strings.TrimSpace(o.Key) == "" {
			continue
		}
		if _, err := stmt.ExecContext(ctx, userID, o.Key, o.Category, o.Subcategory, now); err != nil {
			return fmt.Errorf("Save: inserting %q: %w", o.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("Save: committing: %w", err)
	}
	return nil
}

var _ overrides.Store = (*Store)(nil)
