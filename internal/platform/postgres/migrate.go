package postgres

import (
	"context"
	"embed"
	"fmt"
	"io/fs"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrations exposes the embedded schema migrations rooted at the migrations directory.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// MigrationResult summarises an applied migration.
type MigrationResult struct {
	Version int64
	Source  string
}

// Migrate applies pending migrations using goose over the provider's pool.
func (p *Provider) Migrate(ctx context.Context) ([]MigrationResult, error) {
	pool, err := p.Pool(ctx)
	if err != nil {
		return nil, err
	}

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	migrator, err := goose.NewProvider(goose.DialectPostgres, db, Migrations())
	if err != nil {
		return nil, fmt.Errorf("postgres: init migrations: %w", err)
	}

	results, err := migrator.Up(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: apply migrations: %w", err)
	}

	applied := make([]MigrationResult, 0, len(results))
	for _, res := range results {
		if res == nil || res.Source == nil {
			continue
		}
		applied = append(applied, MigrationResult{Version: res.Source.Version, Source: res.Source.Path})
	}
	return applied, nil
}
