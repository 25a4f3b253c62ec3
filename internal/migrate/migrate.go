// Package migrate applies embedded SQL migrations on startup.
package migrate

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/and161185/face-gate/migrations"
)

// Up runs all pending migrations for the given backend from the embedded
// filesystem. The memory backend has no schema and is not accepted here.
func Up(ctx context.Context, backend, dsn string) error {
	var driver, dialect, dir string
	switch backend {
	case "postgres":
		driver, dialect, dir = "pgx", "postgres", "postgres"
	case "sqlite":
		driver, dialect, dir = "sqlite", "sqlite3", "sqlite"
	default:
		return fmt.Errorf("migrate: unsupported backend %q", backend)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect(dialect); err != nil {
		return err
	}

	return goose.UpContext(ctx, db, dir)
}
