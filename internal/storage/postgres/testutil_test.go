package postgres

import (
	"context"
	"path/filepath"
	"runtime"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// migrationScripts lists the schema files in apply order. They are located
// relative to this file so the test does not depend on the working directory.
func migrationScripts(t *testing.T) []string {
	t.Helper()
	_, here, _, ok := runtime.Caller(0)
	require.True(t, ok, "cannot locate test source")

	scripts, err := filepath.Glob(filepath.Join(filepath.Dir(here), "..", "migrations", "postgres", "*.sql"))
	require.NoError(t, err)
	require.NotEmpty(t, scripts, "no postgres migrations found")
	sort.Strings(scripts)
	return scripts
}

// setupTestDB starts a PostgreSQL container with the schema applied through
// its init scripts. The returned cleanup must be called when done.
func setupTestDB(t *testing.T) (*Pool, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("monitor"),
		tcpostgres.WithUsername("monitor"),
		tcpostgres.WithPassword("monitor"),
		tcpostgres.WithInitScripts(migrationScripts(t)...),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "start postgres container")

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := NewPool(ctx, dsn, WithMaxConns(4))
	require.NoError(t, err, "connect pool")

	return pool, func() {
		pool.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate container: %v", err)
		}
	}
}
