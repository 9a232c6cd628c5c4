package database

import "context"

// Driver is the capability interface implemented once per database engine.
// It opens live connections; it does not pool them. All layers above this
// package talk only to these interfaces and never import the backend
// packages directly (except for construction).
type Driver interface {
	// Name is the engine name; it selects the SQL dialect.
	Name() string

	// Open dials one new live connection.
	Open(ctx context.Context) (Conn, error)

	// SupportsTransactionalDDL reports whether DDL statements can be rolled
	// back as part of a transaction.
	SupportsTransactionalDDL() bool

	// Close releases resources shared by all connections of this driver.
	Close() error
}

// Executor runs statements. Conn and Tx both satisfy it.
type Executor interface {
	// Exec executes a statement and returns the number of rows affected.
	Exec(ctx context.Context, sql string, args ...any) (int64, error)

	// Query executes a statement that returns rows.
	Query(ctx context.Context, sql string, args ...any) (Rows, error)

	// QueryRow executes a statement expected to return at most one row.
	QueryRow(ctx context.Context, sql string, args ...any) Row
}

// Conn is one live backend connection. It is not safe for concurrent use:
// the pool hands a Conn to exactly one caller at a time.
type Conn interface {
	Executor

	// Begin starts a transaction on this connection.
	Begin(ctx context.Context) (Tx, error)

	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error

	// Close terminates the connection.
	Close(ctx context.Context) error
}

// Tx is a transaction bound to one connection.
type Tx interface {
	Executor
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Rows is an abstraction over a database result set.
// Callers must always call Close() when done, even on error.
type Rows interface {
	// Next advances to the next row.
	// Returns false when no more rows exist or on error.
	Next() bool

	// Scan copies the current row's columns into the provided destinations.
	Scan(dest ...any) error

	// Columns returns the column names of the result set.
	Columns() ([]string, error)

	// Close releases resources held by the result set.
	Close()

	// Err returns any error encountered during iteration.
	Err() error
}

// Row is an abstraction over a single database row.
type Row interface {
	Scan(dest ...any) error
}

// ErrRow is a Row whose Scan always fails with Err. Backends and the pool
// return it when a statement fails before any row exists.
type ErrRow struct {
	Err error
}

func (r ErrRow) Scan(...any) error { return r.Err }
