//go:build cgo_sqlite

package sqlite

import (
	"errors"

	"github.com/mattn/go-sqlite3"
)

const sqlDriverName = "sqlite3"

// resultCode extracts the (extended) SQLite result code.
func resultCode(err error) (int, bool) {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return int(se.ExtendedCode), true
	}
	return 0, false
}
