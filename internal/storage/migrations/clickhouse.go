package migrations

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	chstore "walkforward-lab/internal/storage/clickhouse"
)

// RunClickhouseMigrations creates the target database if needed and applies the
// embedded tables, then returns a connection bound to that database. database
// overrides the one named in dsn when non-empty. Statements are idempotent
// (IF NOT EXISTS), so nothing records which files were applied.
func RunClickhouseMigrations(ctx context.Context, dsn, database string) (*chstore.Conn, error) {
	dbName, err := targetDatabase(dsn, database)
	if err != nil {
		return nil, err
	}

	adminConn, err := chstore.NewConnWithDatabase(ctx, dsn, "")
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse admin: %w", err)
	}
	if err := adminConn.Exec(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", dbName)); err != nil {
		adminConn.Close()
		return nil, fmt.Errorf("create database %s: %w", dbName, err)
	}
	if err := adminConn.Close(); err != nil {
		return nil, fmt.Errorf("close admin connection: %w", err)
	}

	conn, err := chstore.NewConnWithDatabase(ctx, dsn, dbName)
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse db: %w", err)
	}

	files, err := loadMigrations(ClickhouseFS, "clickhouse")
	if err != nil {
		conn.Close()
		return nil, err
	}

	for _, m := range files {
		// Validate SQL doesn't contain semicolons in strings (would break splitter)
		if err := validateNoSemicolonInStrings(m.SQL); err != nil {
			conn.Close()
			return nil, fmt.Errorf("validate migration %s: %w", m.Name, err)
		}

		// ClickHouse driver doesn't support multiquery in Exec
		for _, stmt := range splitStatements(m.SQL) {
			if err := conn.Exec(ctx, stmt); err != nil {
				conn.Close()
				return nil, fmt.Errorf("apply migration %s: %w", m.Name, err)
			}
		}
	}

	return conn, nil
}

// splitStatements drops blank and -- comment lines, then splits on ";".
// Migrations must not put semicolons inside string literals or block comments;
// validateNoSemicolonInStrings rejects the first case before splitting.
func splitStatements(input string) []string {
	var filtered []string
	for _, line := range strings.Split(input, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		filtered = append(filtered, line)
	}
	joined := strings.Join(filtered, "\n")

	var stmts []string
	for _, part := range strings.Split(joined, ";") {
		stmt := strings.TrimSpace(part)
		if stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}

// validateNoSemicolonInStrings reports a semicolon inside a single-quoted literal.
func validateNoSemicolonInStrings(sql string) error {
	inString := false
	for i := 0; i < len(sql); i++ {
		ch := sql[i]
		if ch == '\'' {
			if i+1 < len(sql) && sql[i+1] == '\'' {
				i++
				continue
			}
			inString = !inString
		} else if ch == ';' && inString {
			return fmt.Errorf("semicolon found inside string literal - this breaks the migration splitter")
		}
	}
	return nil
}

// targetDatabase picks override, or else the database in dsn, and checks it
// is a plain identifier since it is interpolated into CREATE DATABASE.
func targetDatabase(dsn, override string) (string, error) {
	db := override
	if db == "" {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", fmt.Errorf("parse clickhouse dsn: %w", err)
		}
		db = strings.Trim(u.Path, "/")
	}
	if db == "" {
		return "", fmt.Errorf("clickhouse database not set in dsn or config")
	}
	for _, r := range db {
		if !(r == '_' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			return "", fmt.Errorf("invalid clickhouse database name %q", db)
		}
	}
	return db, nil
}
