package schema

import (
	"context"

	"github.com/koustreak/orma/internal/database"
	"github.com/koustreak/orma/internal/errs"
)

// MySQLIntrospector implements Reader for MySQL using information_schema,
// scoped to DATABASE().
type MySQLIntrospector struct {
	db database.Executor
}

// NewMySQLIntrospector creates a new MySQL schema introspector
func NewMySQLIntrospector(db database.Executor) *MySQLIntrospector {
	return &MySQLIntrospector{db: db}
}

// ListTables returns all user-defined table names in the current database
func (m *MySQLIntrospector) ListTables(ctx context.Context) ([]string, error) {
	const q = `
		SELECT table_name AS table_name
		FROM information_schema.tables
		WHERE table_schema = DATABASE()
		  AND table_type = 'BASE TABLE'
		ORDER BY table_name`

	rows, err := m.db.Query(ctx, q)
	if err != nil {
		return nil, errs.Wrap(errs.KindOf(err), "failed to list tables", err)
	}
	return scanStrings(rows, "table name")
}

// TableExists checks whether a specific table exists
func (m *MySQLIntrospector) TableExists(ctx context.Context, table string) (bool, error) {
	const q = `
		SELECT COUNT(*) > 0
		FROM information_schema.tables
		WHERE table_schema = DATABASE() AND table_name = ?`

	var exists bool
	if err := m.db.QueryRow(ctx, q, table).Scan(&exists); err != nil {
		return false, errs.Wrap(errs.KindOf(err), "table exists check failed", err)
	}
	return exists, nil
}

// InspectTable returns column details for a single table
func (m *MySQLIntrospector) InspectTable(ctx context.Context, table string) (*TableInfo, error) {
	const q = `
		SELECT
			c.column_name                                 AS column_name,
			c.data_type                                   AS data_type,
			c.is_nullable = 'YES'                         AS is_nullable,
			(c.column_key = 'PRI')                        AS is_primary_key
		FROM information_schema.columns c
		WHERE c.table_schema = DATABASE()
		  AND c.table_name   = ?
		ORDER BY c.ordinal_position`

	rows, err := m.db.Query(ctx, q, table)
	if err != nil {
		return nil, errs.Wrap(errs.KindOf(err), "failed to inspect table "+table, err)
	}
	return scanColumns(rows, table)
}

// InspectSchema returns all tables and foreign keys for the current database
func (m *MySQLIntrospector) InspectSchema(ctx context.Context) (*SchemaInfo, error) {
	return inspectAll(ctx, m, m.listForeignKeys)
}

// listForeignKeys returns all FK relationships in the database
func (m *MySQLIntrospector) listForeignKeys(ctx context.Context) ([]ForeignKeyInfo, error) {
	const q = `
		SELECT
			rc.constraint_name         AS constraint_name,
			kcu.table_name             AS from_table,
			kcu.column_name            AS from_column,
			kcu.referenced_table_name  AS to_table,
			kcu.referenced_column_name AS to_column
		FROM information_schema.referential_constraints rc
		JOIN information_schema.key_column_usage kcu
			ON rc.constraint_name = kcu.constraint_name
			AND rc.constraint_schema = kcu.table_schema
		WHERE rc.constraint_schema = DATABASE()
		ORDER BY rc.constraint_name`

	rows, err := m.db.Query(ctx, q)
	if err != nil {
		return nil, errs.Wrap(errs.KindOf(err), "failed to list foreign keys", err)
	}
	return scanForeignKeys(rows)
}
