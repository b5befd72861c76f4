package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	goose "github.com/pressly/goose/v3"
)

//go:embed migrations/postgresql/*.sql
var migrationsFS embed.FS

// RunMigrations applies all up migrations from the embedded FS. It
// opens its own short-lived database/sql handle because goose speaks
// database/sql, not pgx directly.
func RunMigrations(ctx context.Context, dsn string) error {
	handle, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer func() {
		_ = handle.Close()
	}()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}

	if err := goose.UpContext(ctx, handle, "migrations/postgresql"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
