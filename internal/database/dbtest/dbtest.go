// Package dbtest provides a scriptable in-memory database.Driver for tests
// of the layers above the backends (pool, orm, diagnostics).
//
//	drv := dbtest.New("postgres")
//	drv.Handle(func(ctx context.Context, sql string, args []any) (*dbtest.Result, error) {
//	    return &dbtest.Result{Columns: []string{"n"}, Rows: [][]any{{int64(1)}}}, nil
//	})
package dbtest

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/koustreak/orma/internal/database"
	"github.com/koustreak/orma/internal/errs"
)

// Result is the scripted outcome of one statement.
type Result struct {
	Columns  []string
	Rows     [][]any
	Affected int64
}

// HandlerFunc decides the outcome of a statement. It may block on ctx.
type HandlerFunc func(ctx context.Context, sql string, args []any) (*Result, error)

// Statement is one recorded call.
type Statement struct {
	ConnID int
	SQL    string
	Args   []any
	InTx   bool
}

// Driver is a fake database.Driver. The zero value is not usable; call New.
type Driver struct {
	name  string
	txDDL bool

	mu      sync.Mutex
	handler HandlerFunc
	openErr func(attempt int) error
	pingErr func(connID int) error
	log     []Statement
	conns   []*Conn

	attempts atomic.Int64
	open     atomic.Int64
	maxOpen  atomic.Int64
}

// New returns a driver reporting name and transactional DDL support.
func New(name string) *Driver {
	return &Driver{name: name, txDDL: true}
}

// WithoutTransactionalDDL makes SupportsTransactionalDDL return false.
func (d *Driver) WithoutTransactionalDDL() *Driver {
	d.txDDL = false
	return d
}

// Handle installs the statement handler. Without one, every statement
// succeeds with an empty result.
func (d *Driver) Handle(h HandlerFunc) {
	d.mu.Lock()
	d.handler = h
	d.mu.Unlock()
}

// FailOpen makes Open fail whenever f returns an error. attempt counts from 1.
func (d *Driver) FailOpen(f func(attempt int) error) {
	d.mu.Lock()
	d.openErr = f
	d.mu.Unlock()
}

// FailPing makes Ping fail for connections for which f returns an error.
func (d *Driver) FailPing(f func(connID int) error) {
	d.mu.Lock()
	d.pingErr = f
	d.mu.Unlock()
}

// Statements returns a copy of the recorded statements.
func (d *Driver) Statements() []Statement {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Statement(nil), d.log...)
}

// OpenConns is the number of connections currently open.
func (d *Driver) OpenConns() int { return int(d.open.Load()) }

// MaxOpenConns is the highest number of simultaneously open connections seen.
func (d *Driver) MaxOpenConns() int { return int(d.maxOpen.Load()) }

// Dials is the number of Open calls, successful or not.
func (d *Driver) Dials() int { return int(d.attempts.Load()) }

// --- database.Driver implementation ---

func (d *Driver) Name() string { return d.name }

func (d *Driver) SupportsTransactionalDDL() bool { return d.txDDL }

func (d *Driver) Close() error { return nil }

func (d *Driver) Open(ctx context.Context) (database.Conn, error) {
	attempt := int(d.attempts.Add(1))
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(errs.ErrKindTimeout, "dial cancelled", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.openErr != nil {
		if err := d.openErr(attempt); err != nil {
			return nil, err
		}
	}
	c := &Conn{d: d, ID: len(d.conns) + 1}
	d.conns = append(d.conns, c)

	n := d.open.Add(1)
	for {
		m := d.maxOpen.Load()
		if n <= m || d.maxOpen.CompareAndSwap(m, n) {
			break
		}
	}
	return c, nil
}

// Conn is a fake connection.
type Conn struct {
	d      *Driver
	ID     int
	closed atomic.Bool
	inTx   bool
}

func (c *Conn) run(ctx context.Context, sql string, args []any) (*Result, error) {
	if c.closed.Load() {
		return nil, errs.New(errs.ErrKindConnectionFailed, "connection closed")
	}
	c.d.mu.Lock()
	c.d.log = append(c.d.log, Statement{ConnID: c.ID, SQL: sql, Args: args, InTx: c.inTx})
	h := c.d.handler
	c.d.mu.Unlock()

	if h == nil {
		return &Result{}, nil
	}
	res, err := h(ctx, sql, args)
	if err != nil {
		return nil, err
	}
	if res == nil {
		res = &Result{}
	}
	return res, nil
}

func (c *Conn) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	res, err := c.run(ctx, sql, args)
	if err != nil {
		return 0, err
	}
	return res.Affected, nil
}

func (c *Conn) Query(ctx context.Context, sql string, args ...any) (database.Rows, error) {
	res, err := c.run(ctx, sql, args)
	if err != nil {
		return nil, err
	}
	return &Rows{res: res, pos: -1}, nil
}

func (c *Conn) QueryRow(ctx context.Context, sql string, args ...any) database.Row {
	rows, err := c.Query(ctx, sql, args...)
	if err != nil {
		return database.ErrRow{Err: err}
	}
	return &row{rows: rows.(*Rows)}
}

func (c *Conn) Begin(ctx context.Context) (database.Tx, error) {
	if _, err := c.run(ctx, "BEGIN", nil); err != nil {
		return nil, err
	}
	c.inTx = true
	return &Tx{c: c}, nil
}

func (c *Conn) Ping(ctx context.Context) error {
	if c.closed.Load() {
		return errs.New(errs.ErrKindConnectionFailed, "connection closed")
	}
	c.d.mu.Lock()
	f := c.d.pingErr
	c.d.mu.Unlock()
	if f != nil {
		return f(c.ID)
	}
	return ctx.Err()
}

func (c *Conn) Close(context.Context) error {
	if c.closed.CompareAndSwap(false, true) {
		c.d.open.Add(-1)
	}
	return nil
}

// Closed reports whether the connection was closed.
func (c *Conn) Closed() bool { return c.closed.Load() }

// Tx is a fake transaction; statements are recorded with InTx set.
type Tx struct {
	c    *Conn
	done bool
}

func (t *Tx) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	return t.c.Exec(ctx, sql, args...)
}

func (t *Tx) Query(ctx context.Context, sql string, args ...any) (database.Rows, error) {
	return t.c.Query(ctx, sql, args...)
}

func (t *Tx) QueryRow(ctx context.Context, sql string, args ...any) database.Row {
	return t.c.QueryRow(ctx, sql, args...)
}

func (t *Tx) Commit(ctx context.Context) error  { return t.finish(ctx, "COMMIT") }
func (t *Tx) Rollback(ctx context.Context) error { return t.finish(ctx, "ROLLBACK") }

func (t *Tx) finish(ctx context.Context, stmt string) error {
	if t.done {
		return errs.New(errs.ErrKindInvalidInput, "transaction already finished")
	}
	t.done = true
	t.c.inTx = false
	_, err := t.c.run(ctx, stmt, nil)
	return err
}

// Rows iterates a scripted Result.
type Rows struct {
	res    *Result
	pos    int
	closed bool
}

func (r *Rows) Next() bool {
	if r.closed || r.pos+1 >= len(r.res.Rows) {
		return false
	}
	r.pos++
	return true
}

func (r *Rows) Scan(dest ...any) error {
	if r.pos < 0 || r.pos >= len(r.res.Rows) {
		return errs.New(errs.ErrKindInvalidInput, "scan called without a current row")
	}
	return assign(r.res.Rows[r.pos], dest)
}

func (r *Rows) Columns() ([]string, error) { return r.res.Columns, nil }
func (r *Rows) Close()                     { r.closed = true }
func (r *Rows) Err() error                 { return nil }

type row struct{ rows *Rows }

func (r *row) Scan(dest ...any) error {
	defer r.rows.Close()
	if !r.rows.Next() {
		return errs.New(errs.ErrKindNotFound, "no rows in result set")
	}
	return r.rows.Scan(dest...)
}

// assign copies values into pointer destinations of matching kinds.
func assign(values []any, dest []any) error {
	if len(values) != len(dest) {
		return fmt.Errorf("dbtest: %d values for %d destinations", len(values), len(dest))
	}
	for i, v := range values {
		if p, ok := dest[i].(*any); ok {
			*p = v
			continue
		}
		dv := reflect.ValueOf(dest[i])
		if dv.Kind() != reflect.Pointer || dv.IsNil() {
			return fmt.Errorf("dbtest: destination %d is not a pointer", i)
		}
		if v == nil {
			dv.Elem().Set(reflect.Zero(dv.Elem().Type()))
			continue
		}
		sv := reflect.ValueOf(v)
		if !sv.Type().ConvertibleTo(dv.Elem().Type()) {
			return fmt.Errorf("dbtest: cannot assign %T to %s", v, dv.Elem().Type())
		}
		dv.Elem().Set(sv.Convert(dv.Elem().Type()))
	}
	return nil
}
