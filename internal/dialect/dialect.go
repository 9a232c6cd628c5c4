// Package dialect lowers query trees and DDL operations into SQL text plus
// positional parameters, one implementation per supported engine.
//
// Compilation is pure: no dialect talks to a database, and the same input
// always produces the same statement and argument list.
package dialect

import (
	"encoding/binary"
	"strings"

	"github.com/koustreak/orma/internal/database"
	"github.com/koustreak/orma/internal/ddl"
	"github.com/koustreak/orma/internal/errs"
	"github.com/koustreak/orma/internal/query"
	"github.com/zeebo/blake3"
)

// Dialect renders SQL for one database engine.
type Dialect interface {
	// Name is the engine name, as in database.Config.Engine.
	Name() string

	// Quote quotes an identifier.
	Quote(ident string) string

	// Placeholder returns the n-th (1-based) parameter marker.
	Placeholder(n int) string

	// ColumnType maps a column definition to its native type.
	ColumnType(c ddl.Column) string

	// CompileQuery lowers a resolved query into exactly one statement.
	CompileQuery(ast *query.Ast) (string, []any, error)

	// CompileDDL lowers one operation. state is the schema before op runs;
	// dialects that rebuild tables read the current definition from it.
	CompileDDL(op ddl.Operation, state *ddl.Schema) ([]string, error)

	// AdvisoryLock returns the statements that take and release a
	// session-level lock named key. ok is false when the engine has no
	// usable advisory lock.
	AdvisoryLock(key string) (lock, unlock Statement, ok bool)

	// MigrationSession returns statements to run on the migration
	// connection outside any transaction, before and after a migration.
	MigrationSession() (before, after []string)

	// InsertIDQuery returns the statement reading the key generated by the
	// last INSERT on the same connection, or "" when INSERT returns it.
	InsertIDQuery() string
}

// Statement is SQL text with its arguments.
type Statement struct {
	SQL  string
	Args []any
}

// ForName returns the dialect of an engine.
func ForName(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case database.EnginePostgres, "postgresql", "pgx":
		return NewPostgres(), nil
	case database.EngineCockroach, "cockroach", "crdb":
		return NewCockroachDB(), nil
	case database.EngineMySQL:
		return NewMySQL(), nil
	case database.EngineSQLite, "sqlite3":
		return NewSQLite(), nil
	}
	return nil, errs.Newf(errs.ErrKindInvalidInput, "unsupported dialect %q", name)
}

// lockID folds a lock name into the int64 key space of PostgreSQL
// advisory locks.
func lockID(key string) int64 {
	sum := blake3.Sum256([]byte(key))
	return int64(binary.BigEndian.Uint64(sum[:8]))
}

func compileErr(format string, args ...any) error {
	return errs.Newf(errs.ErrKindQueryBuild, format, args...)
}

func ddlErr(op ddl.Operation, format string, args ...any) error {
	return errs.Newf(errs.ErrKindMigrationApply, format, args...).WithOp(op.Describe())
}
