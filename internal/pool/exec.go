package pool

import (
	"context"
	"fmt"
	"time"

	"github.com/koustreak/orma/internal/database"
	"github.com/koustreak/orma/internal/errs"
)

// rollbackTimeout bounds a rollback issued after the caller's context ended.
const rollbackTimeout = 5 * time.Second

// Exec acquires a connection, runs one statement and releases it.
// Connection-level failures are retried on a fresh connection.
func (p *Pool) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	var n int64
	err := p.withRetry(ctx, func(c *Conn) error {
		var err error
		n, err = c.Exec(ctx, sql, args...)
		return err
	})
	return n, err
}

// Query runs a statement that returns rows. The lease is held until the
// returned Rows are closed.
func (p *Pool) Query(ctx context.Context, sql string, args ...any) (database.Rows, error) {
	for attempt := 0; ; attempt++ {
		c, err := p.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		rows, err := c.Query(ctx, sql, args...)
		if err == nil {
			lr := rows.(*leasedRows)
			lr.onDone = c.Release
			return lr, nil
		}
		c.Release()
		if !p.shouldRetry(ctx, err, attempt) {
			return nil, err
		}
	}
}

// QueryRow runs a statement expected to return at most one row.
func (p *Pool) QueryRow(ctx context.Context, sql string, args ...any) database.Row {
	rows, err := p.Query(ctx, sql, args...)
	if err != nil {
		return database.ErrRow{Err: err}
	}
	return &firstRow{rows: rows}
}

func (p *Pool) withRetry(ctx context.Context, fn func(c *Conn) error) error {
	for attempt := 0; ; attempt++ {
		c, err := p.Acquire(ctx)
		if err != nil {
			return err
		}
		err = fn(c)
		c.Release()
		if err == nil || !p.shouldRetry(ctx, err, attempt) {
			return err
		}
	}
}

func (p *Pool) shouldRetry(ctx context.Context, err error, attempt int) bool {
	if ctx.Err() != nil || !errs.IsConnectionFailed(err) || attempt >= p.cfg.ConnectRetries {
		return false
	}
	p.log.WarnWith("connection failed, retrying on a fresh connection", err, map[string]any{"attempt": attempt + 1})
	return true
}

// WithTransaction runs fn inside a transaction on one leased connection.
// It commits when fn returns nil and rolls back when fn returns an error or
// panics; a panic is re-raised after the rollback. The lease is released on
// every path.
func (p *Pool) WithTransaction(ctx context.Context, fn func(tx *Tx) error) error {
	c, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer c.Release()

	tx, err := c.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			p.rollback(ctx, c, tx)
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		p.rollback(ctx, c, tx)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		c.Discard()
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// rollback uses a detached context when ctx already ended, so the
// connection is not left inside an open transaction.
func (p *Pool) rollback(ctx context.Context, c *Conn, tx *Tx) {
	rctx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
		defer cancel()
	}
	if err := tx.Rollback(rctx); err != nil {
		p.log.WarnWith("rollback failed, evicting connection", err, map[string]any{"conn": c.ID()})
		c.Discard()
	}
}
