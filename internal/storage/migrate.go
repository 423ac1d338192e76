package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/lock"
	"github.com/rs/zerolog"
)

// Migrations holds the ordered schema scripts.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// Migrate applies every pending script in Migrations. A Postgres advisory
// lock serializes instances migrating the same database. It returns the
// scripts it applied.
func Migrate(ctx context.Context, pool *pgxpool.Pool) ([]string, error) {
	db := stdlib.OpenDBFromPool(pool)
	provider, err := newProvider(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	defer provider.Close()

	results, err := provider.Up(ctx)
	if err != nil {
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	applied := make([]string, 0, len(results))
	for _, res := range results {
		name := path.Base(res.Source.Path)
		zerolog.Ctx(ctx).Info().
			Str("migration", name).
			Dur("duration", res.Duration).
			Msg("migration applied")
		applied = append(applied, name)
	}
	return applied, nil
}

func newProvider(db *sql.DB) (*goose.Provider, error) {
	scripts, err := fs.Sub(Migrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("open migrations: %w", err)
	}
	locker, err := lock.NewPostgresSessionLocker()
	if err != nil {
		return nil, fmt.Errorf("create migration lock: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, scripts, goose.WithSessionLocker(locker))
	if err != nil {
		return nil, fmt.Errorf("load migrations: %w", err)
	}
	return provider, nil
}
