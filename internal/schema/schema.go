package schema

import (
	"context"

	"github.com/koustreak/orma/internal/database"
	"github.com/koustreak/orma/internal/errs"
)

// Reader introspects the schema the connection is bound to: the current
// schema on PostgreSQL and CockroachDB, the current database on MySQL, the
// main database on SQLite.
type Reader interface {
	// ListTables returns all user tables, sorted by name.
	ListTables(ctx context.Context) ([]string, error)

	// TableExists checks whether a table exists.
	TableExists(ctx context.Context, table string) (bool, error)

	// InspectTable returns the columns of a table.
	InspectTable(ctx context.Context, table string) (*TableInfo, error)

	// InspectSchema returns every table and foreign key.
	InspectSchema(ctx context.Context) (*SchemaInfo, error)
}

// NewReader returns the introspector for engine, running its queries on ex.
func NewReader(engine string, ex database.Executor) (Reader, error) {
	switch engine {
	case database.EnginePostgres, database.EngineCockroach:
		return NewPgIntrospector(ex), nil
	case database.EngineMySQL:
		return NewMySQLIntrospector(ex), nil
	case database.EngineSQLite:
		return NewSQLiteIntrospector(ex), nil
	}
	return nil, errs.Newf(errs.ErrKindInvalidInput, "no schema introspection for engine %q", engine)
}

// inspectAll builds a SchemaInfo from the per-table methods of r.
func inspectAll(ctx context.Context, r Reader, fks func(context.Context) ([]ForeignKeyInfo, error)) (*SchemaInfo, error) {
	tables, err := r.ListTables(ctx)
	if err != nil {
		return nil, err
	}

	info := &SchemaInfo{}
	for _, table := range tables {
		ti, err := r.InspectTable(ctx, table)
		if err != nil {
			return nil, err
		}
		info.Tables = append(info.Tables, *ti)
	}

	if info.ForeignKeys, err = fks(ctx); err != nil {
		return nil, err
	}
	return info, nil
}

// scanStrings reads a single text column.
func scanStrings(rows database.Rows, what string) ([]string, error) {
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, errs.Wrap(errs.ErrKindSQLExecution, "failed to scan "+what, err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// scanForeignKeys reads name, from_table, from_column, to_table, to_column.
func scanForeignKeys(rows database.Rows) ([]ForeignKeyInfo, error) {
	defer rows.Close()

	var fks []ForeignKeyInfo
	for rows.Next() {
		var fk ForeignKeyInfo
		if err := rows.Scan(&fk.Name, &fk.FromTable, &fk.FromColumn, &fk.ToTable, &fk.ToColumn); err != nil {
			return nil, errs.Wrap(errs.ErrKindSQLExecution, "failed to scan foreign key", err)
		}
		fks = append(fks, fk)
	}
	return fks, rows.Err()
}

func tableNotFound(table string) error {
	return errs.Newf(errs.ErrKindNotFound, "table %s not found or has no columns", table)
}
