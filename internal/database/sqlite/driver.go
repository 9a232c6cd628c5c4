// Package sqlite provides the SQLite backend. The pure-Go modernc.org/sqlite
// driver is used by default; build with -tags cgo_sqlite to use
// github.com/mattn/go-sqlite3 instead.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/koustreak/orma/internal/database"
	"github.com/koustreak/orma/internal/database/sqldb"
	"github.com/koustreak/orma/internal/errs"
)

// Primary SQLite result codes.
// Full list: https://www.sqlite.org/rescode.html
const (
	sqliteBusy     = 5
	sqliteLocked   = 6
	sqliteCantOpen = 14
	sqliteNotADB   = 26
)

// connInit runs on every new connection. Foreign keys are off by default in
// SQLite and the setting is per connection.
var connInit = []string{
	"PRAGMA foreign_keys = ON",
	"PRAGMA busy_timeout = 5000",
}

// New opens a SQLite database at cfg.DSN (a file path or file: URI).
// In-memory databases are private to each connection, so use a file when
// more than one connection is needed.
func New(cfg *database.Config) (*sqldb.Driver, error) {
	if cfg.DSN == "" {
		return nil, errs.New(errs.ErrKindInvalidInput, "sqlite DSN is required")
	}
	db, err := sql.Open(sqlDriverName, cfg.DSN)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "invalid DSN", err)
	}
	db.SetMaxIdleConns(0)

	return sqldb.New(database.EngineSQLite, db, sqldb.Options{
		TransactionalDDL: true,
		MapError:         mapError,
		Init:             connInit,
	}), nil
}

func mapError(err error, msg string) error {
	if err == nil {
		return nil
	}
	var already *errs.Error
	if errors.As(err, &already) {
		return err
	}

	code, ok := resultCode(err)
	if !ok {
		return sqldb.MapError(err, msg)
	}

	kind := errs.ErrKindSQLExecution
	switch code & 0xff {
	case sqliteBusy, sqliteLocked:
		kind = errs.ErrKindTimeout
	case sqliteCantOpen, sqliteNotADB:
		kind = errs.ErrKindConnectionFailed
	}
	return errs.Wrap(kind, msg, err).WithCode(fmt.Sprint(code))
}
