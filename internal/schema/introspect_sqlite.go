package schema

import (
	"context"

	"github.com/koustreak/orma/internal/database"
	"github.com/koustreak/orma/internal/errs"
)

// SQLiteIntrospector implements Reader for SQLite using sqlite_master and
// the table-valued pragma functions.
type SQLiteIntrospector struct {
	db database.Executor
}

// NewSQLiteIntrospector creates a new SQLite schema introspector
func NewSQLiteIntrospector(db database.Executor) *SQLiteIntrospector {
	return &SQLiteIntrospector{db: db}
}

// ListTables returns all user tables of the main database
func (s *SQLiteIntrospector) ListTables(ctx context.Context) ([]string, error) {
	const q = `
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name`

	rows, err := s.db.Query(ctx, q)
	if err != nil {
		return nil, errs.Wrap(errs.KindOf(err), "failed to list tables", err)
	}
	return scanStrings(rows, "table name")
}

// TableExists checks whether a specific table exists
func (s *SQLiteIntrospector) TableExists(ctx context.Context, table string) (bool, error) {
	const q = `SELECT COUNT(*) > 0 FROM sqlite_master WHERE type = 'table' AND name = ?`

	var exists bool
	if err := s.db.QueryRow(ctx, q, table).Scan(&exists); err != nil {
		return false, errs.Wrap(errs.KindOf(err), "table exists check failed", err)
	}
	return exists, nil
}

// InspectTable returns column details for a single table. Declared types
// are reported as written, lowercased.
func (s *SQLiteIntrospector) InspectTable(ctx context.Context, table string) (*TableInfo, error) {
	const q = `
		SELECT name, lower(type), "notnull" = 0, pk > 0
		FROM pragma_table_info(?)
		ORDER BY cid`

	rows, err := s.db.Query(ctx, q, table)
	if err != nil {
		return nil, errs.Wrap(errs.KindOf(err), "failed to inspect table "+table, err)
	}
	return scanColumns(rows, table)
}

// InspectSchema returns all tables and foreign keys
func (s *SQLiteIntrospector) InspectSchema(ctx context.Context) (*SchemaInfo, error) {
	return inspectAll(ctx, s, s.listForeignKeys)
}

// listForeignKeys joins every table with its foreign key list. SQLite does
// not keep constraint names, so one is derived from table and column.
func (s *SQLiteIntrospector) listForeignKeys(ctx context.Context) ([]ForeignKeyInfo, error) {
	const q = `
		SELECT
			m.name || '_' || fk."from" || '_fkey',
			m.name,
			fk."from",
			fk."table",
			COALESCE(fk."to", '')
		FROM sqlite_master m
		JOIN pragma_foreign_key_list(m.name) fk
		WHERE m.type = 'table' AND m.name NOT LIKE 'sqlite_%'
		ORDER BY m.name, fk.id, fk.seq`

	rows, err := s.db.Query(ctx, q)
	if err != nil {
		return nil, errs.Wrap(errs.KindOf(err), "failed to list foreign keys", err)
	}
	return scanForeignKeys(rows)
}
