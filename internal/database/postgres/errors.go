package postgres

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/koustreak/orma/internal/errs"
)

// PostgreSQL SQLSTATE codes that need special handling.
// Full list: https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	pgClassConnection     = "08"
	pgErrAdminShutdown    = "57P01"
	pgErrCrashShutdown    = "57P02"
	pgErrCannotConnectNow = "57P03"
	pgErrQueryCanceled    = "57014"
	pgErrLockNotAvailable = "55P03"
)

// mapError translates pgx / pgconn native errors into *errs.Error.
// Server errors keep their SQLSTATE in Code.
func mapError(err error, msg string) error {
	if err == nil {
		return nil
	}

	var already *errs.Error
	if errors.As(err, &already) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || pgconn.Timeout(err) {
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return errs.Wrap(errs.ErrKindNotFound, "record not found", err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		kind := errs.ErrKindSQLExecution
		switch {
		case strings.HasPrefix(pgErr.Code, pgClassConnection),
			pgErr.Code == pgErrAdminShutdown,
			pgErr.Code == pgErrCrashShutdown,
			pgErr.Code == pgErrCannotConnectNow:
			kind = errs.ErrKindConnectionFailed
		case pgErr.Code == pgErrQueryCanceled, pgErr.Code == pgErrLockNotAvailable:
			kind = errs.ErrKindTimeout
		}
		return errs.Wrap(kind, fmt.Sprintf("%s: %s", msg, pgErr.Message), err).WithCode(pgErr.Code)
	}

	// Dial, TLS, auth and broken-socket errors.
	var connectErr *pgconn.ConnectError
	var netErr net.Error
	if errors.As(err, &connectErr) || errors.As(err, &netErr) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
	}

	return errs.Wrap(errs.ErrKindSQLExecution, msg, err)
}
