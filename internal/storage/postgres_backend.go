package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresBackend is the durable Backend implementation, used wherever
// the decentralized content-addressed store is fronted by a local
// durability layer rather than queried directly.
type PostgresBackend struct {
	db *sqlx.DB
}

type storageRow struct {
	EntityKey string `db:"entity_key"`
	Wrapped   []byte `db:"wrapped"`
}

// NewPostgresBackend wraps an already-open *sqlx.DB. The caller owns
// migrations; this package only issues DML against a table shaped like:
//
//	CREATE TABLE storage_entries (
//	    isolation_key TEXT PRIMARY KEY,
//	    entity_key    TEXT NOT NULL,
//	    wrapped       BYTEA NOT NULL,
//	    updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
//	)
func NewPostgresBackend(db *sqlx.DB) *PostgresBackend {
	return &PostgresBackend{db: db}
}

func (p *PostgresBackend) Write(ctx context.Context, isolationKey string, wrapped []byte) (string, error) {
	entityKey := uuid.NewString()
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO storage_entries (isolation_key, entity_key, wrapped, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (isolation_key) DO UPDATE SET wrapped = EXCLUDED.wrapped, updated_at = now()
		RETURNING entity_key
	`, isolationKey, entityKey, wrapped)
	if err != nil {
		return "", err
	}
	return entityKey, nil
}

func (p *PostgresBackend) Read(ctx context.Context, isolationKey string) ([]byte, string, bool, error) {
	var row storageRow
	err := p.db.GetContext(ctx, &row, `SELECT entity_key, wrapped FROM storage_entries WHERE isolation_key = $1`, isolationKey)
	if errors.Is(err, sqlx.ErrNotMapped) {
		return nil, "", false, err
	}
	if err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, "", false, nil
		}
		return nil, "", false, err
	}
	return row.Wrapped, row.EntityKey, true, nil
}

func (p *PostgresBackend) Delete(ctx context.Context, isolationKey string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM storage_entries WHERE isolation_key = $1`, isolationKey)
	return err
}

func (p *PostgresBackend) QueryPrefix(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := p.db.SelectContext(ctx, &keys, `SELECT isolation_key FROM storage_entries WHERE isolation_key LIKE $1`, prefix+"%")
	return keys, err
}

func (p *PostgresBackend) Healthy(ctx context.Context) bool {
	return p.db.PingContext(ctx) == nil
}
