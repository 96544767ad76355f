// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// runMigrations applies all pending migrations and returns the resulting
// schema version.
func runMigrations(ctx context.Context, db *sql.DB) (int64, error) {
	const op = "sqlite.runMigrations"
	migrationFS, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return 0, fmt.Errorf("%s: unable to read migrations: %w", op, err)
	}
	provider, err := goose.NewProvider(database.DialectSQLite3, db, migrationFS)
	if err != nil {
		return 0, fmt.Errorf("%s: unable to create migration provider: %w", op, err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return 0, fmt.Errorf("%s: unable to apply migrations: %w", op, err)
	}
	version, err := provider.GetDBVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: unable to read schema version: %w", op, err)
	}
	return version, nil
}
