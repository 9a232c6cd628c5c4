package pool

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/koustreak/orma/internal/database"
	"github.com/koustreak/orma/internal/errs"
)

// Conn is one lease on a pooled connection. It satisfies database.Executor.
// Statements are bounded by Config.StatementTimeout; a connection that times
// out or reports a connection-level error is evicted on Release.
//
// A Conn must not be used after Release. Release may be called any number of
// times; only the first call returns the connection.
type Conn struct {
	p        *Pool
	pc       *pooledConn
	released atomic.Bool
}

func newConn(p *Pool, pc *pooledConn) *Conn {
	return &Conn{p: p, pc: pc}
}

// ID identifies the physical connection across leases.
func (c *Conn) ID() string { return c.pc.id.String() }

// State reports the lifecycle state of the underlying connection.
func (c *Conn) State() State {
	c.p.mu.Lock()
	defer c.p.mu.Unlock()
	return c.pc.state
}

// Release hands the connection back to the pool.
func (c *Conn) Release() {
	if !c.released.CompareAndSwap(false, true) {
		return
	}
	c.p.release(c.pc)
}

// Discard marks the connection broken so Release closes it.
func (c *Conn) Discard() {
	c.p.mu.Lock()
	c.pc.broken = true
	c.p.mu.Unlock()
}

// Raw returns the backend connection, bypassing statement timeouts.
func (c *Conn) Raw() database.Conn { return c.pc.raw }

func (c *Conn) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	if err := c.check(); err != nil {
		return 0, err
	}
	sctx, cancel := c.stmtContext(ctx)
	defer cancel()
	n, err := c.pc.raw.Exec(sctx, sql, args...)
	return n, c.observe(ctx, sctx, err)
}

func (c *Conn) Query(ctx context.Context, sql string, args ...any) (database.Rows, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	sctx, cancel := c.stmtContext(ctx)
	rows, err := c.pc.raw.Query(sctx, sql, args...)
	if err != nil {
		cancel()
		return nil, c.observe(ctx, sctx, err)
	}
	return &leasedRows{Rows: rows, c: c, ctx: ctx, sctx: sctx, cancel: cancel}, nil
}

func (c *Conn) QueryRow(ctx context.Context, sql string, args ...any) database.Row {
	rows, err := c.Query(ctx, sql, args...)
	if err != nil {
		return database.ErrRow{Err: err}
	}
	return &firstRow{rows: rows}
}

// Begin starts a transaction on the leased connection. The transaction lives
// as long as ctx; StatementTimeout bounds each statement run inside it, not
// the transaction as a whole.
func (c *Conn) Begin(ctx context.Context) (*Tx, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	tx, err := c.pc.raw.Begin(ctx)
	if err != nil {
		return nil, c.observe(ctx, ctx, err)
	}
	return &Tx{c: c, tx: tx}, nil
}

// Ping checks the connection.
func (c *Conn) Ping(ctx context.Context) error {
	if err := c.check(); err != nil {
		return err
	}
	sctx, cancel := c.stmtContext(ctx)
	defer cancel()
	return c.observe(ctx, sctx, c.pc.raw.Ping(sctx))
}

func (c *Conn) check() error {
	if c.released.Load() {
		return errs.New(errs.ErrKindInvalidInput, "connection used after release")
	}
	return nil
}

func (c *Conn) stmtContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.p.cfg.StatementTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.p.cfg.StatementTimeout)
}

// observe classifies err and marks the connection broken when its state can
// no longer be trusted.
func (c *Conn) observe(parent, sctx context.Context, err error) error {
	if err == nil {
		return nil
	}

	stmtExpired := parent.Err() == nil && errors.Is(sctx.Err(), context.DeadlineExceeded)
	if stmtExpired || parent.Err() != nil || errs.IsConnectionFailed(err) || errs.IsTimeout(err) {
		c.Discard()
	}

	if stmtExpired {
		c.p.log.WarnWith("statement timeout, evicting connection", err, map[string]any{
			"conn":    c.ID(),
			"timeout": c.p.cfg.StatementTimeout.String(),
		})
		return errs.Wrap(errs.ErrKindTimeout, "statement timeout exceeded", err)
	}
	if errs.KindOf(err) == errs.ErrKindUnknown {
		return errs.Wrap(errs.ErrKindSQLExecution, "statement failed", err)
	}
	return err
}

// --- leasedRows keeps the statement context alive until Close ---

type leasedRows struct {
	database.Rows
	c      *Conn
	ctx    context.Context
	sctx   context.Context
	cancel context.CancelFunc
	onDone func()
	closed bool
}

func (r *leasedRows) Scan(dest ...any) error {
	return r.c.observe(r.ctx, r.sctx, r.Rows.Scan(dest...))
}

func (r *leasedRows) Err() error {
	return r.c.observe(r.ctx, r.sctx, r.Rows.Err())
}

func (r *leasedRows) Close() {
	if r.closed {
		return
	}
	r.closed = true
	r.Rows.Close()
	_ = r.c.observe(r.ctx, r.sctx, r.Rows.Err())
	r.cancel()
	if r.onDone != nil {
		r.onDone()
	}
}

// firstRow scans the first row of a result and closes it.
type firstRow struct {
	rows database.Rows
}

func (r *firstRow) Scan(dest ...any) error {
	defer r.rows.Close()
	if !r.rows.Next() {
		if err := r.rows.Err(); err != nil {
			return err
		}
		return errs.New(errs.ErrKindNotFound, "record not found")
	}
	if err := r.rows.Scan(dest...); err != nil {
		return err
	}
	return r.rows.Err()
}

// --- Tx ---

// Tx is a transaction on a leased connection. It satisfies database.Executor.
type Tx struct {
	c  *Conn
	tx database.Tx
}

func (t *Tx) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	if err := t.c.check(); err != nil {
		return 0, err
	}
	sctx, cancel := t.c.stmtContext(ctx)
	defer cancel()
	n, err := t.tx.Exec(sctx, sql, args...)
	return n, t.c.observe(ctx, sctx, err)
}

func (t *Tx) Query(ctx context.Context, sql string, args ...any) (database.Rows, error) {
	if err := t.c.check(); err != nil {
		return nil, err
	}
	sctx, cancel := t.c.stmtContext(ctx)
	rows, err := t.tx.Query(sctx, sql, args...)
	if err != nil {
		cancel()
		return nil, t.c.observe(ctx, sctx, err)
	}
	return &leasedRows{Rows: rows, c: t.c, ctx: ctx, sctx: sctx, cancel: cancel}, nil
}

func (t *Tx) QueryRow(ctx context.Context, sql string, args ...any) database.Row {
	rows, err := t.Query(ctx, sql, args...)
	if err != nil {
		return database.ErrRow{Err: err}
	}
	return &firstRow{rows: rows}
}

func (t *Tx) Commit(ctx context.Context) error {
	sctx, cancel := t.c.stmtContext(ctx)
	defer cancel()
	return t.c.observe(ctx, sctx, t.tx.Commit(sctx))
}

func (t *Tx) Rollback(ctx context.Context) error {
	sctx, cancel := t.c.stmtContext(ctx)
	defer cancel()
	return t.c.observe(ctx, sctx, t.tx.Rollback(sctx))
}
