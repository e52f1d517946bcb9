package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2"

	chstore "solana-wallet-monitor/internal/storage/clickhouse"
)

// RunClickhouseMigrations creates the target database when missing, applies
// every embedded file not yet in the ledger and returns a connection to that database.
func RunClickhouseMigrations(ctx context.Context, dsn string) (*chstore.Conn, error) {
	dbName, err := databaseFromDSN(dsn)
	if err != nil {
		return nil, err
	}

	admin, err := chstore.NewConnWithDatabase(ctx, dsn, "")
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse admin: %w", err)
	}
	createErr := admin.Exec(ctx, "CREATE DATABASE IF NOT EXISTS "+dbName)
	admin.Close()
	if createErr != nil {
		return nil, fmt.Errorf("create database %s: %w", dbName, createErr)
	}

	conn, err := chstore.NewConnWithDatabase(ctx, dsn, dbName)
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse db: %w", err)
	}
	if err := migrateClickhouse(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func migrateClickhouse(ctx context.Context, conn *chstore.Conn) error {
	if err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+ledgerTable+` (
			version    String,
			applied_at DateTime64(3) DEFAULT now64(3)
		) ENGINE = ReplacingMergeTree(applied_at)
		ORDER BY version
	`); err != nil {
		return fmt.Errorf("create migration ledger: %w", err)
	}

	rows, err := conn.Query(ctx, `SELECT DISTINCT version FROM `+ledgerTable)
	if err != nil {
		return fmt.Errorf("read migration ledger: %w", err)
	}
	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return fmt.Errorf("scan migration ledger: %w", err)
		}
		applied[v] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("read migration ledger: %w", err)
	}

	files, err := sqlFiles(ClickhouseFS, "clickhouse")
	if err != nil {
		return err
	}
	for _, file := range pending(files, applied) {
		data, err := fs.ReadFile(ClickhouseFS, "clickhouse/"+file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		if err := checkNoSemicolonInStrings(string(data)); err != nil {
			return fmt.Errorf("validate migration %s: %w", file, err)
		}
		// The native protocol runs one statement per Exec.
		for _, stmt := range splitStatements(string(data)) {
			if err := conn.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("apply migration %s: %w", file, err)
			}
		}
		if err := conn.Exec(ctx, `INSERT INTO `+ledgerTable+` (version) VALUES (?)`, file); err != nil {
			return fmt.Errorf("record migration %s: %w", file, err)
		}
	}
	return nil
}

// splitStatements drops -- comment lines and splits on semicolons.
// Semicolons inside string literals are rejected earlier by checkNoSemicolonInStrings.
func splitStatements(input string) []string {
	var kept []string
	for _, line := range strings.Split(input, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		kept = append(kept, line)
	}

	var stmts []string
	for _, part := range strings.Split(strings.Join(kept, "\n"), ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}

// checkNoSemicolonInStrings rejects SQL with a semicolon inside a quoted literal.
func checkNoSemicolonInStrings(sql string) error {
	inString := false
	for i := 0; i < len(sql); i++ {
		switch sql[i] {
		case '\'':
			if inString && i+1 < len(sql) && sql[i+1] == '\'' {
				i++
				continue
			}
			inString = !inString
		case ';':
			if inString {
				return fmt.Errorf("semicolon inside string literal at offset %d", i)
			}
		}
	}
	return nil
}

// databaseFromDSN returns the database named in dsn. It must be a plain
// identifier since it is interpolated into CREATE DATABASE.
func databaseFromDSN(dsn string) (string, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	db := opts.Auth.Database
	if db == "" {
		return "", fmt.Errorf("clickhouse dsn missing database")
	}
	if !validIdentifier(db) {
		return "", fmt.Errorf("clickhouse database %q is not a plain identifier", db)
	}
	return db, nil
}
