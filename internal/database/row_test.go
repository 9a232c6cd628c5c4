package database_test

import (
	"context"
	"testing"

	"github.com/koustreak/orma/internal/database"
	"github.com/koustreak/orma/internal/database/dbtest"
	"github.com/koustreak/orma/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openFake(t *testing.T, res *dbtest.Result) database.Conn {
	t.Helper()
	drv := dbtest.New("postgres")
	drv.Handle(func(context.Context, string, []any) (*dbtest.Result, error) { return res, nil })
	conn, err := drv.Open(context.Background())
	require.NoError(t, err)
	return conn
}

func TestScanRows(t *testing.T) {
	conn := openFake(t, &dbtest.Result{
		Columns: []string{"id", "name"},
		Rows:    [][]any{{int64(1), "ada"}, {int64(2), nil}},
	})

	rows, err := conn.Query(context.Background(), "SELECT id, name FROM users")
	require.NoError(t, err)

	got, err := database.ScanRows(rows)
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{
		{"id": int64(1), "name": "ada"},
		{"id": int64(2), "name": nil},
	}, got)
}

func TestScanRows_Empty(t *testing.T) {
	conn := openFake(t, &dbtest.Result{Columns: []string{"id"}})

	rows, err := conn.Query(context.Background(), "SELECT id FROM users")
	require.NoError(t, err)

	got, err := database.ScanRows(rows)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestScanValue(t *testing.T) {
	conn := openFake(t, &dbtest.Result{Columns: []string{"count"}, Rows: [][]any{{int64(42)}}})
	rows, err := conn.Query(context.Background(), "SELECT COUNT(*) FROM users")
	require.NoError(t, err)

	v, err := database.ScanValue(rows)
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)

	empty := openFake(t, &dbtest.Result{Columns: []string{"count"}})
	rows, err = empty.Query(context.Background(), "SELECT 1 WHERE false")
	require.NoError(t, err)
	_, err = database.ScanValue(rows)
	assert.True(t, errs.IsNotFound(err))
}
