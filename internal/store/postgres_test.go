package store_test

import (
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jmerrifield20/minichain/internal/store"
)

// TestPostgresStore runs the store suite against a live database. Set
// MINICHAIN_TEST_DATABASE_URL to a disposable database to enable it.
func TestPostgresStore(t *testing.T) {
	dbURL := os.Getenv("MINICHAIN_TEST_DATABASE_URL")
	if dbURL == "" || testing.Short() {
		t.Skip("MINICHAIN_TEST_DATABASE_URL not set")
	}

	pool, err := pgxpool.New(ctx, dbURL)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = store.Migrate(pool, zap.NewNop())
	require.NoError(t, err)

	runStoreSuite(t, func(t *testing.T) store.Store {
		_, err := pool.Exec(ctx, "TRUNCATE chains CASCADE")
		require.NoError(t, err)
		return store.NewPostgresStore(pool, zap.NewNop())
	})
}
