package schema

import (
	"context"

	"github.com/koustreak/orma/internal/database"
	"github.com/koustreak/orma/internal/errs"
)

// PgIntrospector implements Reader for PostgreSQL and CockroachDB using
// information_schema, scoped to current_schema().
type PgIntrospector struct {
	db database.Executor
}

// NewPgIntrospector creates a new Postgres schema introspector
func NewPgIntrospector(db database.Executor) *PgIntrospector {
	return &PgIntrospector{db: db}
}

// ListTables returns all user-defined table names in the current schema
func (p *PgIntrospector) ListTables(ctx context.Context) ([]string, error) {
	const q = `
		SELECT table_name::text
		FROM information_schema.tables
		WHERE table_schema = current_schema()
		  AND table_type = 'BASE TABLE'
		ORDER BY table_name`

	rows, err := p.db.Query(ctx, q)
	if err != nil {
		return nil, errs.Wrap(errs.KindOf(err), "failed to list tables", err)
	}
	return scanStrings(rows, "table name")
}

// TableExists checks whether a specific table exists
func (p *PgIntrospector) TableExists(ctx context.Context, table string) (bool, error) {
	const q = `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = current_schema() AND table_name = $1
		)`

	var exists bool
	if err := p.db.QueryRow(ctx, q, table).Scan(&exists); err != nil {
		return false, errs.Wrap(errs.KindOf(err), "table exists check failed", err)
	}
	return exists, nil
}

// InspectTable returns column details for a single table
func (p *PgIntrospector) InspectTable(ctx context.Context, table string) (*TableInfo, error) {
	const q = `
		SELECT
			c.column_name::text,
			c.data_type::text,
			c.is_nullable = 'YES'              AS is_nullable,
			COALESCE(pk.is_pk, false)          AS is_primary_key
		FROM information_schema.columns c

		-- Primary key check
		LEFT JOIN (
			SELECT kcu.column_name, true AS is_pk
			FROM information_schema.table_constraints tc
			JOIN information_schema.key_column_usage kcu
				ON tc.constraint_name = kcu.constraint_name
				AND tc.table_schema = kcu.table_schema
			WHERE tc.constraint_type = 'PRIMARY KEY'
			  AND tc.table_schema = current_schema()
			  AND tc.table_name   = $1
		) pk ON pk.column_name = c.column_name

		WHERE c.table_schema = current_schema() AND c.table_name = $1
		ORDER BY c.ordinal_position`

	rows, err := p.db.Query(ctx, q, table)
	if err != nil {
		return nil, errs.Wrap(errs.KindOf(err), "failed to inspect table "+table, err)
	}
	return scanColumns(rows, table)
}

// InspectSchema returns all tables and foreign keys in the current schema
func (p *PgIntrospector) InspectSchema(ctx context.Context) (*SchemaInfo, error) {
	return inspectAll(ctx, p, p.listForeignKeys)
}

// listForeignKeys returns all FK relationships in the schema
func (p *PgIntrospector) listForeignKeys(ctx context.Context) ([]ForeignKeyInfo, error) {
	const q = `
		SELECT
			tc.constraint_name::text,
			kcu.table_name::text   AS from_table,
			kcu.column_name::text  AS from_column,
			ccu.table_name::text   AS to_table,
			ccu.column_name::text  AS to_column
		FROM information_schema.table_constraints AS tc
		JOIN information_schema.key_column_usage AS kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage AS ccu
			ON ccu.constraint_name = tc.constraint_name
			AND ccu.table_schema = tc.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY'
		  AND tc.table_schema = current_schema()
		ORDER BY tc.constraint_name`

	rows, err := p.db.Query(ctx, q)
	if err != nil {
		return nil, errs.Wrap(errs.KindOf(err), "failed to list foreign keys", err)
	}
	return scanForeignKeys(rows)
}

// scanColumns reads name, data_type, is_nullable, is_primary_key rows.
func scanColumns(rows database.Rows, table string) (*TableInfo, error) {
	defer rows.Close()

	info := &TableInfo{Name: table}
	for rows.Next() {
		var col ColumnInfo
		if err := rows.Scan(&col.Name, &col.DataType, &col.Nullable, &col.PrimaryKey); err != nil {
			return nil, errs.Wrap(errs.ErrKindSQLExecution, "failed to scan column", err)
		}
		info.Columns = append(info.Columns, col)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(info.Columns) == 0 {
		return nil, tableNotFound(table)
	}
	return info, nil
}
