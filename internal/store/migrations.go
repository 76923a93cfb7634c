package store

import (
	"context"
	"database/sql"
	"embed"
	"strings"

	"github.com/flowline-dev/flowline/pkg/schema"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// runMigrations applies every migrations/*.sql file not yet recorded in
// schema_migrations, in lexical order (files carry a numeric prefix). Each
// file runs in its own transaction together with its bookkeeping row, so a
// failed migration leaves the database at the previous version.
func runMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return migrationErr("create schema_migrations", err)
	}

	applied, err := appliedMigrations(ctx, db)
	if err != nil {
		return err
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return migrationErr("read embedded migrations", err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if applied[name] {
			continue
		}
		script, err := migrationFiles.ReadFile("migrations/" + name)
		if err != nil {
			return migrationErr("read "+name, err)
		}
		if err := applyMigration(ctx, db, name, string(script)); err != nil {
			return err
		}
	}
	return nil
}

func appliedMigrations(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT filename FROM schema_migrations`)
	if err != nil {
		return nil, migrationErr("read schema_migrations", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, migrationErr("scan schema_migrations", err)
		}
		applied[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, migrationErr("read schema_migrations", err)
	}
	return applied, nil
}

func applyMigration(ctx context.Context, db *sql.DB, name, script string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return migrationErr("begin "+name, err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range sqlStatements(script) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return migrationErr("apply "+name, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (filename) VALUES (?)`, name); err != nil {
		return migrationErr("record "+name, err)
	}
	if err := tx.Commit(); err != nil {
		return migrationErr("commit "+name, err)
	}
	return nil
}

// sqlStatements drops comment lines and splits the remainder on semicolons.
// Good enough for DDL scripts; none of ours embed ";" in literals.
func sqlStatements(script string) []string {
	var kept []string
	for _, line := range strings.Split(script, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		kept = append(kept, line)
	}

	var stmts []string
	for _, raw := range strings.Split(strings.Join(kept, "\n"), ";") {
		if s := strings.TrimSpace(raw); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}

func migrationErr(op string, err error) error {
	return schema.NewErrorf(schema.ErrCodeStore, "migration: %s: %v", op, err).WithCause(err)
}
