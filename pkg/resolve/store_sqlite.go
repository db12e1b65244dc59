package resolve

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteOverrideStore persists overrides in a sqlite database, for hosts that
// prefer a single durable file shared by multiple tools.
type SQLiteOverrideStore struct {
	db *sql.DB
}

// NewSQLiteOverrideStore opens (and if needed initializes) the database at
// path.
func NewSQLiteOverrideStore(path string) (*SQLiteOverrideStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open override database: %w", err)
	}

	const schema = `
		CREATE TABLE IF NOT EXISTS remote_overrides (
			name    TEXT PRIMARY KEY,
			address TEXT NOT NULL
		)
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize override database: %w", err)
	}

	return &SQLiteOverrideStore{db: db}, nil
}

// All implements OverrideStore.
func (s *SQLiteOverrideStore) All(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name, address FROM remote_overrides")
	if err != nil {
		return nil, fmt.Errorf("failed to list overrides: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var name, address string
		if err := rows.Scan(&name, &address); err != nil {
			return nil, fmt.Errorf("failed to scan override: %w", err)
		}
		values[name] = address
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list overrides: %w", err)
	}

	return values, nil
}

// Set implements OverrideStore.
func (s *SQLiteOverrideStore) Set(ctx context.Context, name, address string) error {
	if name == "" || address == "" {
		return fmt.Errorf("override name and address are required")
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO remote_overrides (name, address) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET address = excluded.address`,
		name, address)
	if err != nil {
		return fmt.Errorf("failed to set override: %w", err)
	}
	return nil
}

// Delete implements OverrideStore.
func (s *SQLiteOverrideStore) Delete(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM remote_overrides WHERE name = ?", name); err != nil {
		return fmt.Errorf("failed to delete override: %w", err)
	}
	return nil
}

// Clear implements OverrideStore.
func (s *SQLiteOverrideStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM remote_overrides"); err != nil {
		return fmt.Errorf("failed to clear overrides: %w", err)
	}
	return nil
}

// Close implements OverrideStore.
func (s *SQLiteOverrideStore) Close() error {
	return s.db.Close()
}
