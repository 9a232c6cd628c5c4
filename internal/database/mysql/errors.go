package mysql

import (
	"errors"
	"fmt"
	"strconv"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/koustreak/orma/internal/database/sqldb"
	"github.com/koustreak/orma/internal/errs"
)

// MySQL error numbers
// Full list: https://dev.mysql.com/doc/mysql-errors/8.0/en/server-error-reference.html
const (
	errAccessDenied     = 1045
	errUnknownDatabase  = 1049
	errLockWaitTimeout  = 1205
	errQueryInterrupted = 1317
	errServerShutdown   = 1053
	errMaxExecTime      = 3024
	errConnRefused      = 2003
	errServerGone       = 2006
	errServerLost       = 2013
)

// mapError converts a MySQL driver error into an *errs.Error carrying the
// server error number as Code.
func mapError(err error, msg string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, gomysql.ErrInvalidConn) {
		return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
	}

	var mysqlErr *gomysql.MySQLError
	if errors.As(err, &mysqlErr) {
		kind := classifyMySQLCode(mysqlErr.Number)
		return errs.Wrap(kind, fmt.Sprintf("%s: %s", msg, mysqlErr.Message), err).
			WithCode(strconv.Itoa(int(mysqlErr.Number)))
	}

	return sqldb.MapError(err, msg)
}

func classifyMySQLCode(n uint16) errs.ErrKind {
	switch n {
	case errAccessDenied, errUnknownDatabase, errConnRefused, errServerGone, errServerLost, errServerShutdown:
		return errs.ErrKindConnectionFailed
	case errLockWaitTimeout, errQueryInterrupted, errMaxExecTime:
		return errs.ErrKindTimeout
	default:
		return errs.ErrKindSQLExecution
	}
}
