package dialect

import (
	"strings"

	"github.com/koustreak/orma/internal/database"
	"github.com/koustreak/orma/internal/ddl"
	"github.com/koustreak/orma/internal/schema"
)

// rebuildPrefix names the temporary table of a SQLite table rebuild.
const rebuildPrefix = "_orma_new_"

// SQLite renders SQLite 3.35+. ALTER TABLE there cannot change a column or
// touch constraints, so those operations rebuild the table.
type SQLite struct {
	base
}

// NewSQLite returns the SQLite dialect.
func NewSQLite() *SQLite {
	d := &SQLite{}
	d.base = base{
		name:            database.EngineSQLite,
		quote:           quoteDouble,
		offsetOnlyLimit: "-1",
		returning:       true,
		typeOf:          sqliteType,
		autoIncrement:   "PRIMARY KEY AUTOINCREMENT",
		autoIsPK:        true,
		trueLit:         "1",
		falseLit:        "0",
	}
	return d
}

func sqliteType(c ddl.Column) string {
	switch c.Type {
	case schema.TypeInteger:
		return "INTEGER"
	case schema.TypeText:
		return "TEXT"
	case schema.TypeTimestamp:
		return "DATETIME"
	case schema.TypeBoolean:
		return "BOOLEAN"
	case schema.TypeBlob:
		return "BLOB"
	case schema.TypeDecimal:
		return "NUMERIC"
	}
	return "TEXT"
}

// MigrationSession turns foreign key enforcement off around a migration:
// dropping the old table of a rebuild would otherwise cascade. The pragma
// is a no-op inside a transaction, so it runs outside one.
func (d *SQLite) MigrationSession() (before, after []string) {
	return []string{"PRAGMA foreign_keys = OFF"}, []string{"PRAGMA foreign_keys = ON"}
}

// CompileDDL renders one operation, rebuilding the table from state when
// ALTER TABLE cannot express it.
func (d *SQLite) CompileDDL(op ddl.Operation, state *ddl.Schema) ([]string, error) {
	switch o := op.(type) {
	case *ddl.CreateTable:
		return d.createTable(&o.Table, o.Table.Name), nil
	case *ddl.DropTable:
		return []string{"DROP TABLE " + d.quote(o.Table.Name)}, nil
	case *ddl.AddColumn:
		if canAddColumn(o.Column) {
			return []string{d.alterTable(o.Table) + "ADD COLUMN " + d.columnDef(o.Table, o.Column, defOpts{})}, nil
		}
		return d.rebuild(op, state)
	case *ddl.AddForeignKey:
		if o.Column.References == nil {
			return nil, ddlErr(op, "foreign key column has no reference")
		}
		if canAddColumn(o.Column) {
			return []string{d.alterTable(o.Table) + "ADD COLUMN " + d.columnDef(o.Table, o.Column, defOpts{inlineFK: true})}, nil
		}
		return d.rebuild(op, state)
	case *ddl.DropColumn:
		c := o.Column
		if c.References == nil && c.Check == "" && !c.Unique {
			return []string{d.alterTable(o.Table) + "DROP COLUMN " + d.quote(c.Name)}, nil
		}
		return d.rebuild(op, state)
	case *ddl.AlterColumnType:
		return d.rebuild(op, state)
	case *ddl.AddIndex:
		return []string{d.createIndex(o.Table, o.Index)}, nil
	case *ddl.DropIndex:
		return []string{"DROP INDEX " + d.quote(o.Index.Name)}, nil
	}
	return nil, ddlErr(op, "unsupported operation %T", op)
}

// canAddColumn reports whether ALTER TABLE ADD COLUMN accepts c: no UNIQUE,
// a constant default, a NULL default for references and a default for NOT
// NULL columns.
func canAddColumn(c ddl.Column) bool {
	if c.Unique || c.AutoIncrement {
		return false
	}
	if c.References != nil {
		return c.Nullable && c.Default == ""
	}
	if !c.Nullable && c.Default == "" {
		return false
	}
	u := strings.ToUpper(strings.TrimSpace(c.Default))
	return !strings.HasPrefix(u, "CURRENT_") && !strings.Contains(u, "(")
}

// rebuild creates the changed table under a temporary name, copies the
// shared columns, drops the original and renames the copy into place.
func (d *SQLite) rebuild(op ddl.Operation, state *ddl.Schema) ([]string, error) {
	name := op.TableName()
	if state == nil {
		return nil, ddlErr(op, "rebuilding %q needs the current schema", name)
	}
	cur, ok := state.Table(name)
	if !ok {
		return nil, ddlErr(op, "table %q does not exist", name)
	}
	next := state.Clone()
	if err := next.Apply(op); err != nil {
		return nil, err
	}
	target, _ := next.Table(name)

	var shared []string
	for _, c := range target.Columns {
		if _, ok := cur.Column(c.Name); ok {
			shared = append(shared, c.Name)
		}
	}
	cols := d.quoteList(shared)
	tmp := rebuildPrefix + name

	create := d.createTable(target, tmp)
	stmts := []string{
		create[0],
		"INSERT INTO " + d.quote(tmp) + " (" + cols + ") SELECT " + cols + " FROM " + d.quote(name),
		"DROP TABLE " + d.quote(name),
		"ALTER TABLE " + d.quote(tmp) + " RENAME TO " + d.quote(name),
	}
	for _, ix := range target.Indexes {
		stmts = append(stmts, d.createIndex(name, ix))
	}
	return stmts, nil
}
