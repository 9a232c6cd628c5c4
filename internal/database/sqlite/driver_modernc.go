//go:build !cgo_sqlite

package sqlite

import (
	"errors"

	"modernc.org/sqlite"
)

const sqlDriverName = "sqlite"

// resultCode extracts the (extended) SQLite result code.
func resultCode(err error) (int, bool) {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code(), true
	}
	return 0, false
}
