package clickhouse

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// schemaStatements reads the ClickHouse schema files next to this package and
// returns their statements in apply order.
func schemaStatements(t *testing.T) []string {
	t.Helper()
	_, here, _, ok := runtime.Caller(0)
	require.True(t, ok, "cannot locate test source")

	files, err := filepath.Glob(filepath.Join(filepath.Dir(here), "..", "migrations", "clickhouse", "*.sql"))
	require.NoError(t, err)
	require.NotEmpty(t, files, "no clickhouse migrations found")
	sort.Strings(files)

	var stmts []string
	for _, f := range files {
		data, err := os.ReadFile(f)
		require.NoError(t, err)
		var body strings.Builder
		for _, line := range strings.Split(string(data), "\n") {
			if !strings.HasPrefix(strings.TrimSpace(line), "--") {
				body.WriteString(line)
				body.WriteByte('\n')
			}
		}
		for _, s := range strings.Split(body.String(), ";") {
			if s = strings.TrimSpace(s); s != "" {
				stmts = append(stmts, s)
			}
		}
	}
	return stmts
}

// setupTestDB starts a ClickHouse server, applies the schema and returns a
// connection. The returned cleanup must be called when done.
func setupTestDB(t *testing.T) (*Conn, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "clickhouse/clickhouse-server:24.1-alpine",
			ExposedPorts: []string{"9000/tcp"},
			Env: map[string]string{
				"CLICKHOUSE_DB":       "monitor",
				"CLICKHOUSE_USER":     "default",
				"CLICKHOUSE_PASSWORD": "",
			},
			WaitingFor: wait.ForAll(
				wait.ForLog("Ready for connections").WithStartupTimeout(60*time.Second),
				wait.ForListeningPort("9000/tcp"),
			),
		},
		Started: true,
	})
	require.NoError(t, err, "start clickhouse container")

	endpoint, err := container.PortEndpoint(ctx, "9000/tcp", "")
	require.NoError(t, err)

	conn, err := NewConn(ctx, fmt.Sprintf("clickhouse://%s/monitor", endpoint))
	require.NoError(t, err, "connect clickhouse")

	for _, stmt := range schemaStatements(t) {
		require.NoError(t, conn.Exec(ctx, stmt), "apply schema")
	}

	return conn, func() {
		conn.Close()
		_ = container.Terminate(ctx)
	}
}
