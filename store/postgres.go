package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/tracewright/tracewright/trace"
)

// ErrNotFound is returned when a requested item does not exist.
var ErrNotFound = errors.New("not found")

// PostgresStore persists items as JSONB rows, one row per item, for
// deployments where the dataset is shared rather than a local file. It
// implements the orchestrator's persistence collaborator.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres connects via the pgx stdlib driver and verifies the
// connection.
func OpenPostgres(databaseURL string) (*PostgresStore, error) {
	if databaseURL == "" {
		return nil, errors.New("OpenPostgres: database URL is empty")
	}
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("OpenPostgres: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("OpenPostgres: ping: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

// EnsureSchema creates the items table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS trace_items (
  id TEXT PRIMARY KEY,
  data JSONB NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`)
	if err != nil {
		return fmt.Errorf("EnsureSchema: %w", err)
	}
	return nil
}

// SaveItem upserts the item's JSON document and clears its dirty flag.
func (s *PostgresStore) SaveItem(ctx context.Context, it *trace.Item) error {
	if it == nil {
		return errors.New("SaveItem: item is nil")
	}
	if it.ID == "" {
		return errors.New("SaveItem: item has no id")
	}
	data, err := json.Marshal(it)
	if err != nil {
		return fmt.Errorf("SaveItem: marshal %s: %w", it.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO trace_items (id, data)
VALUES ($1, $2)
ON CONFLICT (id) DO UPDATE
SET data = EXCLUDED.data,
    updated_at = now()
`, it.ID, data)
	if err != nil {
		return fmt.Errorf("SaveItem: upsert %s: %w", it.ID, err)
	}
	it.HasUnsavedChanges = false
	return nil
}

// GetItem loads one item by ID.
func (s *PostgresStore) GetItem(ctx context.Context, id string) (*trace.Item, error) {
	var data []byte
	row := s.db.QueryRowContext(ctx, `SELECT data FROM trace_items WHERE id = $1`, id)
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("GetItem: %w", err)
	}
	it := &trace.Item{}
	if err := json.Unmarshal(data, it); err != nil {
		return nil, fmt.Errorf("GetItem: unmarshal %s: %w", id, err)
	}
	it.ID = id
	return it, nil
}

// ListItems pages through the stored items in insertion order.
func (s *PostgresStore) ListItems(ctx context.Context, limit, offset int) ([]*trace.Item, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, data FROM trace_items
ORDER BY created_at, id
LIMIT $1 OFFSET $2
`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ListItems: %w", err)
	}
	defer rows.Close()

	var out []*trace.Item
	for rows.Next() {
		var id string
		var data []byte
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("ListItems: scan: %w", err)
		}
		it := &trace.Item{}
		if err := json.Unmarshal(data, it); err != nil {
			return nil, fmt.Errorf("ListItems: unmarshal %s: %w", id, err)
		}
		it.ID = id
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListItems: %w", err)
	}
	return out, nil
}

// DeleteItem removes one item.
func (s *PostgresStore) DeleteItem(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM trace_items WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("DeleteItem: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("DeleteItem: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
