package storage

import (
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationSourcesAreOrdered(t *testing.T) {
	cfg, err := pgx.ParseConfig("postgres://bucketsvc@localhost:5432/bucketsvc?sslmode=disable")
	require.NoError(t, err)
	db := stdlib.OpenDB(*cfg)
	defer db.Close()

	provider, err := newProvider(db)
	require.NoError(t, err)

	sources := provider.ListSources()
	require.NotEmpty(t, sources)
	assert.Equal(t, int64(1), sources[0].Version)
	for i := 1; i < len(sources); i++ {
		assert.Less(t, sources[i-1].Version, sources[i].Version)
	}
}

func TestInitialSchemaDeclaresUniqueness(t *testing.T) {
	script, err := Migrations.ReadFile("migrations/0001_init.sql")
	require.NoError(t, err)

	sql := string(script)
	assert.True(t, strings.HasPrefix(sql, "-- +goose Up"))
	for _, constraint := range []string{
		"users_username_key UNIQUE (username)",
		"users_email_key UNIQUE (email)",
		"buckets_owner_name_key UNIQUE (owner_id, name)",
		"files_bucket_filename_key UNIQUE (bucket_id, filename)",
	} {
		assert.True(t, strings.Contains(sql, constraint), constraint)
	}
}
