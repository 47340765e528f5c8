package meta

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLiteBackend stores entries in the meta table created by the store
// migrations.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLite returns a backend over db. The meta table must already exist.
func NewSQLite(db *sql.DB) *SQLiteBackend {
	return &SQLiteBackend{db: db}
}

// Get returns the entry for key or ErrNotFound when absent.
func (b *SQLiteBackend) Get(ctx context.Context, key string) (Entry, error) {
	var (
		e       Entry
		typ     string
		updated string
	)
	err := b.db.QueryRowContext(ctx,
		`SELECT key, value, type, updated_at FROM meta WHERE key = ?`, key,
	).Scan(&e.Key, &e.Raw, &typ, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("meta: get %q: %w", key, err)
	}
	e.Type = Type(typ)
	e.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return e, nil
}

// Put upserts the entry.
func (b *SQLiteBackend) Put(ctx context.Context, e Entry) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO meta (key, value, type, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value      = excluded.value,
			type       = excluded.type,
			updated_at = excluded.updated_at
	`, e.Key, e.Raw, string(e.Type), e.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("meta: set %q: %w", e.Key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key returns nil.
func (b *SQLiteBackend) Delete(ctx context.Context, key string) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM meta WHERE key = ?`, key); err != nil {
		return fmt.Errorf("meta: delete %q: %w", key, err)
	}
	return nil
}

// List returns all entries ordered by key.
func (b *SQLiteBackend) List(ctx context.Context) ([]Entry, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT key, value, type, updated_at FROM meta ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("meta: list: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			typ     string
			updated string
		)
		if err := rows.Scan(&e.Key, &e.Raw, &typ, &updated); err != nil {
			return nil, fmt.Errorf("meta: list scan: %w", err)
		}
		e.Type = Type(typ)
		e.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("meta: list rows: %w", err)
	}
	return out, nil
}
