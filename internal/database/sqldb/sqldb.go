// Package sqldb adapts database/sql to the database.Driver interface. It
// backs the MySQL and SQLite drivers, which ship as database/sql drivers.
//
// The *sql.DB is only used as a dialer: every Open takes a dedicated
// *sql.Conn, and callers are expected to configure the DB with
// SetMaxIdleConns(0) so that closing a Conn closes the physical connection.
package sqldb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"

	"github.com/koustreak/orma/internal/database"
	"github.com/koustreak/orma/internal/errs"
)

// ErrorMapper converts a native driver error into an *errs.Error.
type ErrorMapper func(err error, msg string) error

// Options configures a Driver.
type Options struct {
	// TransactionalDDL is reported by SupportsTransactionalDDL.
	TransactionalDDL bool

	// MapError classifies backend errors. Defaults to MapError.
	MapError ErrorMapper

	// Init statements run on every new connection before it is handed out.
	Init []string
}

// Driver implements database.Driver over a *sql.DB.
type Driver struct {
	name string
	db   *sql.DB
	opts Options
}

// New wraps db. The Driver owns db and closes it on Close.
func New(name string, db *sql.DB, opts Options) *Driver {
	if opts.MapError == nil {
		opts.MapError = MapError
	}
	return &Driver{name: name, db: db, opts: opts}
}

// DB returns the underlying *sql.DB.
func (d *Driver) DB() *sql.DB { return d.db }

// --- database.Driver implementation ---

func (d *Driver) Name() string { return d.name }

func (d *Driver) SupportsTransactionalDDL() bool { return d.opts.TransactionalDDL }

func (d *Driver) Close() error { return d.db.Close() }

func (d *Driver) Open(ctx context.Context) (database.Conn, error) {
	raw, err := d.db.Conn(ctx)
	if err != nil {
		return nil, d.connectErr(err)
	}
	c := &sqlConn{conn: raw, mapErr: d.opts.MapError}
	for _, stmt := range d.opts.Init {
		if _, err := raw.ExecContext(ctx, stmt); err != nil {
			_ = raw.Close()
			return nil, d.connectErr(err)
		}
	}
	return c, nil
}

// connectErr classifies dial failures. Anything that is not a timeout is a
// connection failure, whatever the driver reported.
func (d *Driver) connectErr(err error) error {
	mapped := d.opts.MapError(err, "connect failed")
	if errs.IsTimeout(mapped) || errs.IsConnectionFailed(mapped) {
		return mapped
	}
	return errs.Wrap(errs.ErrKindConnectionFailed, "connect failed", err)
}

// MapError is the fallback classification shared by database/sql backends.
func MapError(err error, msg string) error {
	if err == nil {
		return nil
	}

	var already *errs.Error
	if errors.As(err, &already) {
		return err
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	case errors.Is(err, sql.ErrNoRows):
		return errs.Wrap(errs.ErrKindNotFound, "record not found", err)
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, sql.ErrConnDone):
		return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
	case errors.Is(err, sql.ErrTxDone):
		return errs.Wrap(errs.ErrKindInvalidInput, msg, err)
	}
	return errs.Wrap(errs.ErrKindSQLExecution, msg, err)
}

// --- sqlConn wraps *sql.Conn ---

type sqlConn struct {
	conn   *sql.Conn
	mapErr ErrorMapper
}

func (c *sqlConn) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := c.conn.ExecContext(ctx, query, args...)
	return rowsAffected(res, err, c.mapErr)
}

func (c *sqlConn) Query(ctx context.Context, query string, args ...any) (database.Rows, error) {
	rows, err := c.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, c.mapErr(err, "query failed")
	}
	return &sqlRows{rows: rows, mapErr: c.mapErr}, nil
}

func (c *sqlConn) QueryRow(ctx context.Context, query string, args ...any) database.Row {
	return &sqlRow{row: c.conn.QueryRowContext(ctx, query, args...), mapErr: c.mapErr}
}

func (c *sqlConn) Begin(ctx context.Context) (database.Tx, error) {
	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, c.mapErr(err, "begin failed")
	}
	return &sqlTx{tx: tx, mapErr: c.mapErr}, nil
}

func (c *sqlConn) Ping(ctx context.Context) error {
	return c.mapErr(c.conn.PingContext(ctx), "ping failed")
}

func (c *sqlConn) Close(context.Context) error {
	err := c.conn.Close()
	if errors.Is(err, sql.ErrConnDone) {
		return nil
	}
	return c.mapErr(err, "close failed")
}

// --- sqlRows wraps *sql.Rows ---

type sqlRows struct {
	rows   *sql.Rows
	mapErr ErrorMapper
}

func (r *sqlRows) Next() bool             { return r.rows.Next() }
func (r *sqlRows) Scan(dest ...any) error { return r.mapErr(r.rows.Scan(dest...), "scan failed") }
func (r *sqlRows) Close()                 { _ = r.rows.Close() }
func (r *sqlRows) Err() error             { return r.mapErr(r.rows.Err(), "row iteration failed") }

func (r *sqlRows) Columns() ([]string, error) {
	cols, err := r.rows.Columns()
	if err != nil {
		return nil, r.mapErr(err, "columns failed")
	}
	return cols, nil
}

// --- sqlRow wraps *sql.Row ---

type sqlRow struct {
	row    *sql.Row
	mapErr ErrorMapper
}

func (r *sqlRow) Scan(dest ...any) error { return r.mapErr(r.row.Scan(dest...), "scan failed") }

// --- sqlTx wraps *sql.Tx ---

type sqlTx struct {
	tx     *sql.Tx
	mapErr ErrorMapper
}

func (t *sqlTx) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := t.tx.ExecContext(ctx, query, args...)
	return rowsAffected(res, err, t.mapErr)
}

func (t *sqlTx) Query(ctx context.Context, query string, args ...any) (database.Rows, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, t.mapErr(err, "query failed")
	}
	return &sqlRows{rows: rows, mapErr: t.mapErr}, nil
}

func (t *sqlTx) QueryRow(ctx context.Context, query string, args ...any) database.Row {
	return &sqlRow{row: t.tx.QueryRowContext(ctx, query, args...), mapErr: t.mapErr}
}

func (t *sqlTx) Commit(context.Context) error   { return t.mapErr(t.tx.Commit(), "commit failed") }
func (t *sqlTx) Rollback(context.Context) error { return t.mapErr(t.tx.Rollback(), "rollback failed") }

func rowsAffected(res sql.Result, err error, mapErr ErrorMapper) (int64, error) {
	if err != nil {
		return 0, mapErr(err, "exec failed")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, mapErr(err, "rows affected failed")
	}
	return n, nil
}
