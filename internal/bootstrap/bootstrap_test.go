package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/koustreak/orma/internal/config"
	"github.com/koustreak/orma/internal/errs"
	"github.com/koustreak/orma/internal/logger"
	"github.com/koustreak/orma/internal/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const models = `
models:
  - id: library.Author
    primary_key: id
    fields:
      - {name: id, type: integer, auto_increment: true}
      - {name: name, type: text, size: 100}
  - id: library.Book
    primary_key: id
    fields:
      - {name: id, type: integer, auto_increment: true}
      - {name: title, type: text, size: 200}
      - {name: pages, type: integer, nullable: true}
    relations:
      - {name: author, kind: foreign_key, target: library.Author, on_delete: CASCADE}
`

func sqliteConfig(t *testing.T, withModels bool) *config.Config {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "orma.yaml")
	body := "database: {engine: sqlite, dsn: " + filepath.Join(dir, "app.db") + "}\n" +
		"pool: {min_connections: 1, max_connections: 2}\n" +
		"models: " + filepath.Join(dir, "models.yaml") + "\n" +
		"migrations: {dir: " + filepath.Join(dir, "migrations") + "}\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	if withModels {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "models.yaml"), []byte(models), 0o600))
	}
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

func TestOpen_EndToEnd(t *testing.T) {
	ctx := context.Background()
	rt, err := Open(ctx, sqliteConfig(t, true), logger.Nop())
	require.NoError(t, err)
	defer rt.Close()
	require.NotNil(t, rt.DB)

	ops, err := rt.Migrations.DiffSchema(ctx)
	require.NoError(t, err)
	migs, err := rt.Migrations.WriteMigration(ctx, ops, "initial")
	require.NoError(t, err)
	require.Len(t, migs, 1)
	assert.Equal(t, "library/0001_initial", migs[0].ID())

	ran, err := rt.Migrations.Migrate(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"library/0001_initial"}, ran)

	author, err := rt.DB.Insert(ctx, "library.Author", map[string]any{"name": "Le Guin"})
	require.NoError(t, err)
	for _, title := range []string{"The Dispossessed", "The Lathe of Heaven"} {
		_, err := rt.DB.Insert(ctx, "library.Book", map[string]any{"title": title, "author": author})
		require.NoError(t, err)
	}

	books, err := rt.DB.Model("library.Book").
		Filter(query.Eq("author.name", "Le Guin")).
		SelectRelated("author").
		OrderBy("-title").
		All(ctx)
	require.NoError(t, err)
	require.Len(t, books, 2)
	assert.Equal(t, "The Lathe of Heaven", books[0].Get("title"))
	assert.Equal(t, "Le Guin", books[0].Get("author.name"))
}

func TestOpen_WithoutModels(t *testing.T) {
	ctx := context.Background()
	rt, err := Open(ctx, sqliteConfig(t, false), logger.Nop())
	require.NoError(t, err)
	defer rt.Close()

	assert.Nil(t, rt.Registry)
	assert.Nil(t, rt.DB)
	_, err = rt.Migrations.DiffSchema(ctx)
	assert.True(t, errs.IsInvalidInput(err))

	pending, err := rt.Migrations.PendingMigrations(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestOpenDriver_Unsupported(t *testing.T) {
	cfg := sqliteConfig(t, false).DriverConfig()
	cfg.Engine = "oracle"
	_, err := OpenDriver(cfg)
	assert.True(t, errs.IsInvalidInput(err))
}
