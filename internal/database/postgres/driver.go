package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/koustreak/orma/internal/database"
	"github.com/koustreak/orma/internal/errs"
)

// Driver opens single pgx connections to PostgreSQL or CockroachDB.
// Pooling is done by internal/pool, so each Open dials a fresh *pgx.Conn.
type Driver struct {
	name    string
	connCfg *pgx.ConnConfig
}

// New parses cfg.DSN and returns a Driver. It does not dial.
// cfg.Engine selects the flavour; CockroachDB speaks the PostgreSQL wire
// protocol and differs only in dialect.
func New(cfg *database.Config) (*Driver, error) {
	name := cfg.Engine
	switch name {
	case "":
		name = database.EnginePostgres
	case database.EnginePostgres, database.EngineCockroach:
	default:
		return nil, errs.Newf(errs.ErrKindInvalidInput, "postgres driver cannot serve engine %q", cfg.Engine)
	}

	connCfg, err := pgx.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "invalid DSN", err)
	}
	if cfg.ConnectTimeout > 0 {
		connCfg.ConnectTimeout = cfg.ConnectTimeout
	}

	return &Driver{name: name, connCfg: connCfg}, nil
}

// --- database.Driver implementation ---

func (d *Driver) Name() string { return d.name }

// PostgreSQL rolls back DDL with the transaction. CockroachDB runs schema
// changes asynchronously after commit, so a late failure cannot be undone by
// the transaction and migrations take the compensated path.
func (d *Driver) SupportsTransactionalDDL() bool { return d.name == database.EnginePostgres }

func (d *Driver) Close() error { return nil }

func (d *Driver) Open(ctx context.Context) (database.Conn, error) {
	conn, err := pgx.ConnectConfig(ctx, d.connCfg.Copy())
	if err != nil {
		return nil, mapError(err, "connect failed")
	}
	return &pgConn{conn: conn}, nil
}

// --- pgConn wraps *pgx.Conn ---

type pgConn struct{ conn *pgx.Conn }

func (c *pgConn) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := c.conn.Exec(ctx, sql, args...)
	if err != nil {
		return 0, mapError(err, "exec failed")
	}
	return tag.RowsAffected(), nil
}

func (c *pgConn) Query(ctx context.Context, sql string, args ...any) (database.Rows, error) {
	rows, err := c.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapError(err, "query failed")
	}
	return &pgRows{rows: rows}, nil
}

func (c *pgConn) QueryRow(ctx context.Context, sql string, args ...any) database.Row {
	return &pgRow{row: c.conn.QueryRow(ctx, sql, args...)}
}

func (c *pgConn) Begin(ctx context.Context) (database.Tx, error) {
	tx, err := c.conn.Begin(ctx)
	if err != nil {
		return nil, mapError(err, "begin failed")
	}
	return &pgTx{tx: tx}, nil
}

func (c *pgConn) Ping(ctx context.Context) error {
	return mapError(c.conn.Ping(ctx), "ping failed")
}

func (c *pgConn) Close(ctx context.Context) error {
	if c.conn.IsClosed() {
		return nil
	}
	return mapError(c.conn.Close(ctx), "close failed")
}

// --- pgRows wraps pgx.Rows ---

type pgRows struct{ rows pgx.Rows }

func (r *pgRows) Next() bool             { return r.rows.Next() }
func (r *pgRows) Scan(dest ...any) error { return mapError(r.rows.Scan(dest...), "scan failed") }
func (r *pgRows) Close()                 { r.rows.Close() }
func (r *pgRows) Err() error             { return mapError(r.rows.Err(), "row iteration failed") }

func (r *pgRows) Columns() ([]string, error) {
	descs := r.rows.FieldDescriptions()
	cols := make([]string, len(descs))
	for i, d := range descs {
		cols[i] = d.Name
	}
	return cols, nil
}

// --- pgRow wraps pgx.Row ---

type pgRow struct{ row pgx.Row }

func (r *pgRow) Scan(dest ...any) error { return mapError(r.row.Scan(dest...), "scan failed") }

// --- pgTx wraps pgx.Tx ---

type pgTx struct{ tx pgx.Tx }

func (t *pgTx) Query(ctx context.Context, sql string, args ...any) (database.Rows, error) {
	rows, err := t.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapError(err, "query failed")
	}
	return &pgRows{rows: rows}, nil
}

func (t *pgTx) QueryRow(ctx context.Context, sql string, args ...any) database.Row {
	return &pgRow{row: t.tx.QueryRow(ctx, sql, args...)}
}

func (t *pgTx) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := t.tx.Exec(ctx, sql, args...)
	if err != nil {
		return 0, mapError(err, "exec failed")
	}
	return tag.RowsAffected(), nil
}

func (t *pgTx) Commit(ctx context.Context) error {
	return mapError(t.tx.Commit(ctx), "commit failed")
}

func (t *pgTx) Rollback(ctx context.Context) error {
	return mapError(t.tx.Rollback(ctx), "rollback failed")
}
