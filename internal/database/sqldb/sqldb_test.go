package sqldb

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/koustreak/orma/internal/database"
	"github.com/koustreak/orma/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T, opts Options) (*Driver, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New("mysql", db, opts), mock
}

func TestDriver_ExecAndQuery(t *testing.T) {
	d, mock := newMock(t, Options{})
	ctx := context.Background()

	mock.ExpectExec("UPDATE users SET name = \\? WHERE id = \\?").
		WithArgs("ada", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT id, name FROM users").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(1, "ada").AddRow(2, "grace"))

	conn, err := d.Open(ctx)
	require.NoError(t, err)

	n, err := conn.Exec(ctx, "UPDATE users SET name = ? WHERE id = ?", "ada", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	rows, err := conn.Query(ctx, "SELECT id, name FROM users")
	require.NoError(t, err)
	got, err := database.ScanRows(rows)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "grace", got[1]["name"])

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDriver_InitStatements(t *testing.T) {
	d, mock := newMock(t, Options{Init: []string{"PRAGMA foreign_keys = ON"}})

	mock.ExpectExec("PRAGMA foreign_keys = ON").WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := d.Open(context.Background())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDriver_Transaction(t *testing.T) {
	d, mock := newMock(t, Options{TransactionalDDL: true})
	ctx := context.Background()
	assert.True(t, d.SupportsTransactionalDDL())

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE t").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec("DROP TABLE t").WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	conn, err := d.Open(ctx)
	require.NoError(t, err)

	tx, err := conn.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.Exec(ctx, "CREATE TABLE t (id INTEGER)")
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	tx, err = conn.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.Exec(ctx, "DROP TABLE t")
	require.Error(t, err)
	assert.True(t, errs.IsSQLExecution(err))
	require.NoError(t, tx.Rollback(ctx))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDriver_QueryRowNotFound(t *testing.T) {
	d, mock := newMock(t, Options{})
	ctx := context.Background()

	mock.ExpectQuery("SELECT name FROM users").WillReturnRows(sqlmock.NewRows([]string{"name"}))

	conn, err := d.Open(ctx)
	require.NoError(t, err)

	var name string
	err = conn.QueryRow(ctx, "SELECT name FROM users WHERE id = ?", 9).Scan(&name)
	assert.True(t, errs.IsNotFound(err))
}

func TestDriver_CustomMapper(t *testing.T) {
	mapped := errs.New(errs.ErrKindTimeout, "lock wait")
	d, mock := newMock(t, Options{MapError: func(err error, msg string) error {
		if err == nil {
			return nil
		}
		return mapped
	}})
	ctx := context.Background()

	mock.ExpectExec("UPDATE").WillReturnError(errors.New("1205"))

	conn, err := d.Open(ctx)
	require.NoError(t, err)
	_, err = conn.Exec(ctx, "UPDATE t SET x = 1")
	assert.Same(t, mapped, err)
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want errs.ErrKind
	}{
		{"deadline", context.DeadlineExceeded, errs.ErrKindTimeout},
		{"bad conn", driver.ErrBadConn, errs.ErrKindConnectionFailed},
		{"other", errors.New("syntax error"), errs.ErrKindSQLExecution},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errs.KindOf(MapError(tt.err, "x")))
		})
	}
	assert.NoError(t, MapError(nil, "x"))
}
