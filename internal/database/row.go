package database

import (
	"github.com/koustreak/orma/internal/errs"
)

// ScanRows reads all rows from the result set and returns them as a slice
// of maps, where each key is the column name and each value is the Go-native
// representation of the DB value.
//
// The returned slice is always non-nil (empty slice on zero rows).
// ScanRows always closes rows.
func ScanRows(rows Rows) ([]map[string]any, error) {
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindSQLExecution, "failed to read column names", err)
	}

	result := make([]map[string]any, 0)

	for rows.Next() {
		// Allocate scan targets as *any so the driver can write any type.
		dest := make([]any, len(columns))
		destPtrs := make([]any, len(columns))
		for i := range dest {
			destPtrs[i] = &dest[i]
		}

		if err := rows.Scan(destPtrs...); err != nil {
			return nil, errs.Wrap(errs.ErrKindSQLExecution, "failed to scan row", err)
		}

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = dest[i]
		}
		result = append(result, row)
	}

	if err := rows.Err(); err != nil {
		return nil, wrapIterErr(err)
	}

	return result, nil
}

// ScanValue reads the first column of the first row, or returns a NotFound
// error when the result set is empty. It always closes rows.
func ScanValue(rows Rows) (any, error) {
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, wrapIterErr(err)
		}
		return nil, errs.New(errs.ErrKindNotFound, "query returned no rows")
	}

	columns, err := rows.Columns()
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindSQLExecution, "failed to read column names", err)
	}
	dest := make([]any, len(columns))
	destPtrs := make([]any, len(columns))
	for i := range dest {
		destPtrs[i] = &dest[i]
	}
	if err := rows.Scan(destPtrs...); err != nil {
		return nil, errs.Wrap(errs.ErrKindSQLExecution, "failed to scan value", err)
	}
	if len(dest) == 0 {
		return nil, errs.New(errs.ErrKindSQLExecution, "query returned no columns")
	}
	return dest[0], nil
}

// wrapIterErr keeps already-classified backend errors intact.
func wrapIterErr(err error) error {
	if errs.KindOf(err) != errs.ErrKindUnknown {
		return err
	}
	return errs.Wrap(errs.ErrKindSQLExecution, "error during row iteration", err)
}
