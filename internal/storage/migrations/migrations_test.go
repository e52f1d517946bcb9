package migrations

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedFiles(t *testing.T) {
	files, err := sqlFiles(PostgresFS, "postgres")
	require.NoError(t, err)
	assert.Equal(t, []string{"001_wallet_monitor.sql"}, files)

	files, err = sqlFiles(ClickhouseFS, "clickhouse")
	require.NoError(t, err)
	assert.Equal(t, []string{"001_transfer_events.sql"}, files)
}

func TestSplitStatements(t *testing.T) {
	input := `
-- header comment
CREATE TABLE a (x UInt8) ENGINE = Memory;

CREATE TABLE b (y String) ENGINE = Memory;
`
	stmts := splitStatements(input)
	require.Len(t, stmts, 2)
	assert.Equal(t, "CREATE TABLE a (x UInt8) ENGINE = Memory", stmts[0])
	assert.Equal(t, "CREATE TABLE b (y String) ENGINE = Memory", stmts[1])
}

func TestEmbeddedClickhouseMigrationsAreSplittable(t *testing.T) {
	files, err := sqlFiles(ClickhouseFS, "clickhouse")
	require.NoError(t, err)
	for _, f := range files {
		data, err := ClickhouseFS.ReadFile("clickhouse/" + f)
		require.NoError(t, err)
		assert.NoError(t, checkNoSemicolonInStrings(string(data)), f)
		assert.NotEmpty(t, splitStatements(string(data)), f)
	}
}

func TestCheckNoSemicolonInStrings(t *testing.T) {
	assert.NoError(t, checkNoSemicolonInStrings(`SELECT 'a''b'; SELECT 1;`))
	assert.Error(t, checkNoSemicolonInStrings(`SELECT 'a;b'`))
}

func TestDatabaseFromDSN(t *testing.T) {
	db, err := databaseFromDSN("clickhouse://localhost:9000/monitor")
	require.NoError(t, err)
	assert.Equal(t, "monitor", db)

	_, err = databaseFromDSN("clickhouse://localhost:9000")
	assert.Error(t, err)
}

func TestDatabaseFromDSN_RejectsUnsafeName(t *testing.T) {
	_, err := databaseFromDSN("clickhouse://localhost:9000/monitor%3BDROP")
	assert.Error(t, err)
}

func TestPending(t *testing.T) {
	files := []string{"001_a.sql", "002_b.sql", "003_c.sql"}
	assert.Equal(t, files, pending(files, nil))
	assert.Equal(t, []string{"002_b.sql"}, pending(files, map[string]bool{"001_a.sql": true, "003_c.sql": true}))
	assert.Empty(t, pending(files, map[string]bool{"001_a.sql": true, "002_b.sql": true, "003_c.sql": true}))
}

func TestValidIdentifier(t *testing.T) {
	assert.True(t, validIdentifier("wallet_monitor"))
	assert.True(t, validIdentifier("_m1"))
	assert.False(t, validIdentifier("1monitor"))
	assert.False(t, validIdentifier("mon-itor"))
	assert.False(t, validIdentifier(""))
}
