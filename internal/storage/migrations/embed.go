package migrations

import "embed"

// PostgresFS embeds the PostgreSQL schema.
//
//go:embed postgres/*.sql
var PostgresFS embed.FS

// ClickhouseFS embeds the ClickHouse schema.
//
//go:embed clickhouse/*.sql
var ClickhouseFS embed.FS
