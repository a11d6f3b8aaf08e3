package sqlxkv

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/planner/core"
)

// Store keeps values in the kv_entries table.
type Store struct {
	db *sqlx.DB
}

var _ core.KeyValueStore = (*Store)(nil) // interface compliance check

func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.GetContext(ctx, &value, `SELECT value FROM kv_entries WHERE key = $1`, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrKeyNotFound
		}
		return nil, errors.Wrap(err, "selecting kv entry")
	}
	return value, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	const q = `
		INSERT INTO kv_entries (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`
	_, err := s.db.ExecContext(ctx, q, key, value)
	return errors.Wrap(err, "upserting kv entry")
}

func (s *Store) Close() error {
	return s.db.Close()
}
