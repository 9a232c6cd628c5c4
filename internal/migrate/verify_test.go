package migrate

import (
	"context"
	"testing"

	"github.com/koustreak/orma/internal/schema/schematest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_Verify(t *testing.T) {
	f := newFixture(t)
	e := f.engine(schematest.Blog())
	ctx := context.Background()

	drift, err := e.Verify(ctx)
	require.NoError(t, err)
	assert.True(t, drift.Empty())

	makeMigrations(t, e, "initial")
	drift, err = e.Verify(ctx)
	require.NoError(t, err)
	assert.True(t, drift.Empty(), "nothing applied yet")

	_, err = e.Migrate(ctx)
	require.NoError(t, err)
	drift, err = e.Verify(ctx)
	require.NoError(t, err)
	assert.True(t, drift.Empty(), "%+v", drift)

	for _, stmt := range []string{
		`CREATE TABLE scratch (id INTEGER)`,
		`ALTER TABLE tags ADD COLUMN color TEXT`,
		`DROP TABLE posts_tags`,
	} {
		_, err := f.pool.Exec(ctx, stmt)
		require.NoError(t, err)
	}

	drift, err = e.Verify(ctx)
	require.NoError(t, err)
	assert.False(t, drift.Empty())
	assert.Equal(t, []string{"posts_tags"}, drift.MissingTables)
	assert.Equal(t, []string{"scratch"}, drift.UnexpectedTables)
	assert.Equal(t, []string{"tags.color"}, drift.UnexpectedColumns)
	assert.Empty(t, drift.MissingColumns)
	assert.Empty(t, drift.MissingForeignKeys)
}
