package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/jmerrifield20/minichain/internal/chain"
)

// PostgresStore persists chains to a PostgreSQL database.
// It implements the Store interface.
//
// Timestamps are kept twice: ts for humans and SQL, and ts_unix_ns as the
// authoritative nanosecond value the block hash was computed over.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore creates a PostgresStore backed by the given connection pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

// Save implements Store.
// It takes a transaction-scoped advisory lock on the chain name, replaces the
// chain's rows, and bulk-loads the blocks with COPY.
func (s *PostgresStore) Save(ctx context.Context, name string, c *chain.Chain) error {
	recs := c.Records()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Serialise concurrent saves of the same chain. Released on commit/rollback.
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", name); err != nil {
		return fmt.Errorf("acquire advisory lock: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO chains (name) VALUES ($1)
		 ON CONFLICT (name) DO UPDATE SET updated_at = now()`, name,
	); err != nil {
		return fmt.Errorf("upsert chain: %w", err)
	}

	if _, err := tx.Exec(ctx, "DELETE FROM blocks WHERE chain_name = $1", name); err != nil {
		return fmt.Errorf("clear blocks: %w", err)
	}

	rows := make([][]any, len(recs))
	for i, r := range recs {
		rows[i] = []any{name, r.Index, r.Timestamp, r.Timestamp.UnixNano(), r.Transaction, r.PreviousHash, r.Hash}
	}
	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"blocks"},
		[]string{"chain_name", "idx", "ts", "ts_unix_ns", "transaction", "prev_hash", "hash"},
		pgx.CopyFromRows(rows),
	); err != nil {
		return fmt.Errorf("copy blocks: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit chain tx: %w", err)
	}

	s.logger.Debug("chain saved",
		zap.String("chain", name),
		zap.Int("blocks", len(recs)),
	)
	return nil
}

// Load implements Store.
func (s *PostgresStore) Load(ctx context.Context, name string) (*chain.Chain, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM chains WHERE name = $1)", name,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("lookup chain %q: %w", name, err)
	}
	if !exists {
		return nil, fmt.Errorf("load %q: %w", name, ErrNotFound)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT idx, ts_unix_ns, transaction, prev_hash, hash
		 FROM blocks WHERE chain_name = $1 ORDER BY idx ASC`, name,
	)
	if err != nil {
		return nil, fmt.Errorf("query blocks: %w", err)
	}

	recs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (chain.Record, error) {
		var r chain.Record
		var ns int64
		err := row.Scan(&r.Index, &ns, &r.Transaction, &r.PreviousHash, &r.Hash)
		r.Timestamp = time.Unix(0, ns).UTC()
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan blocks: %w", err)
	}

	c, err := chain.Restore(recs)
	if err != nil {
		return nil, fmt.Errorf("restore %q: %w", name, err)
	}
	return c, nil
}

// List implements Store.
func (s *PostgresStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, "SELECT name FROM chains ORDER BY name ASC")
	if err != nil {
		return nil, fmt.Errorf("list chains: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan chain names: %w", err)
	}
	return names, nil
}

// Delete implements Store. Blocks are removed by ON DELETE CASCADE.
func (s *PostgresStore) Delete(ctx context.Context, name string) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM chains WHERE name = $1", name)
	if err != nil {
		return fmt.Errorf("delete chain %q: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete %q: %w", name, ErrNotFound)
	}
	return nil
}

// Ping checks connectivity; used by the gRPC health service.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}
