package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/modmail/internal/domain"
)

const (
	upsertSnapshotSQL = `INSERT INTO modmail_snapshot (id, data, updated_at)
VALUES (1, $1, NOW())
ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`
	selectSnapshotSQL = `SELECT data FROM modmail_snapshot WHERE id = 1`
)

// PostgresSnapshotter keeps the snapshot as a single JSONB row.
type PostgresSnapshotter struct {
	pool *pgxpool.Pool
}

// NewPostgresSnapshotter returns a snapshotter backed by pool.
func NewPostgresSnapshotter(pool *pgxpool.Pool) *PostgresSnapshotter {
	return &PostgresSnapshotter{pool: pool}
}

func (p *PostgresSnapshotter) Save(ctx context.Context, snapshot domain.Snapshot) error {
	data, err := encodeSnapshot(snapshot)
	if err != nil {
		return err
	}
	if _, err := p.pool.Exec(ctx, upsertSnapshotSQL, data); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (p *PostgresSnapshotter) Load(ctx context.Context) (domain.Snapshot, bool, error) {
	var data []byte
	err := p.pool.QueryRow(ctx, selectSnapshotSQL).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Snapshot{}, false, nil
	}
	if err != nil {
		return domain.Snapshot{}, false, fmt.Errorf("load snapshot: %w", err)
	}
	snapshot, err := decodeSnapshot(data)
	if err != nil {
		return domain.Snapshot{}, false, err
	}
	return snapshot, true, nil
}
