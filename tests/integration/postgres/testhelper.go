package integration

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/require"

	"github.com/reconcore/core/internal/storage/postgres"
)

// dsnEnvVar names the environment variable carrying the test database's
// connection string. Tests in this package skip rather than fail when it's
// unset, so `go test ./...` stays usable without a running PostgreSQL.
const dsnEnvVar = "RECON_TEST_DB_DSN"

// setupTestStore opens a migrated PostgreSQL store and truncates every
// domain table once the test finishes.
func setupTestStore(t *testing.T) (*postgres.Store, context.Context) {
	t.Helper()

	dsn := testDSN(t)
	ctx := context.Background()

	store, err := postgres.NewPostgresStore(ctx, dsn)
	require.NoError(t, err)

	t.Cleanup(func() {
		truncateAll(t, dsn)
		store.Close()
	})

	return store, ctx
}

func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv(dsnEnvVar)
	if dsn == "" {
		t.Skipf("set %s to run postgres integration tests", dsnEnvVar)
	}
	return dsn
}

func truncateAll(t *testing.T, dsn string) {
	t.Helper()
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return
	}
	defer db.Close()
	_, _ = db.Exec(`TRUNCATE TABLE
		workflow_events, workflows, reconciliation_audit_entries,
		reconciliation_jobs, transactions, tokens, addresses,
		scheduler_leases, api_keys CASCADE`)
}
