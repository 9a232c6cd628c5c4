package dialect

import (
	"strconv"
	"strings"

	"github.com/koustreak/orma/internal/database"
	"github.com/koustreak/orma/internal/ddl"
	"github.com/koustreak/orma/internal/schema"
)

// mysqlMaxLimit is the largest LIMIT MySQL accepts; it stands in for "no
// limit" when only an offset is given.
const mysqlMaxLimit = "18446744073709551615"

// MySQL renders MySQL 8. Its DDL is not transactional.
type MySQL struct {
	base
}

// NewMySQL returns the MySQL dialect.
func NewMySQL() *MySQL {
	d := &MySQL{}
	d.base = base{
		name:            database.EngineMySQL,
		quote:           quoteBacktick,
		offsetOnlyLimit: mysqlMaxLimit,
		materializeDML:  true,
		typeOf:          mysqlType,
		autoIncrement:   "AUTO_INCREMENT",
		trueLit:         "TRUE",
		falseLit:        "FALSE",
		fixDefault:      mysqlDefault,
	}
	return d
}

func quoteBacktick(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func mysqlType(c ddl.Column) string {
	switch c.Type {
	case schema.TypeInteger:
		return "BIGINT"
	case schema.TypeText:
		switch {
		case c.Size > 0:
			return "VARCHAR(" + strconv.Itoa(c.Size) + ")"
		case c.Unique:
			return "VARCHAR(255)"
		}
		return "LONGTEXT"
	case schema.TypeTimestamp:
		return "DATETIME(6)"
	case schema.TypeBoolean:
		return "BOOLEAN"
	case schema.TypeBlob:
		return "LONGBLOB"
	case schema.TypeDecimal:
		if c.Precision > 0 {
			return "DECIMAL" + precision(c)
		}
		return "DECIMAL(65,30)"
	}
	return "LONGTEXT"
}

// mysqlDefault matches CURRENT_TIMESTAMP to DATETIME(6) and wraps defaults
// of TEXT/BLOB columns, which only accept expression defaults.
func mysqlDefault(c ddl.Column, expr string) string {
	if c.Type == schema.TypeTimestamp && strings.EqualFold(expr, "CURRENT_TIMESTAMP") {
		return "CURRENT_TIMESTAMP(6)"
	}
	if t := mysqlType(c); t == "LONGTEXT" || t == "LONGBLOB" {
		return "(" + expr + ")"
	}
	return expr
}

// AdvisoryLock uses GET_LOCK with an unbounded wait; cancellation of the
// caller's context ends the wait.
func (d *MySQL) AdvisoryLock(key string) (Statement, Statement, bool) {
	if len(key) > 64 {
		key = key[:64]
	}
	return Statement{SQL: "SELECT GET_LOCK(?, -1)", Args: []any{key}},
		Statement{SQL: "SELECT RELEASE_LOCK(?)", Args: []any{key}},
		true
}

// InsertIDQuery reads the AUTO_INCREMENT value of the last INSERT.
func (d *MySQL) InsertIDQuery() string { return "SELECT LAST_INSERT_ID()" }

// CompileDDL renders one operation. Each statement commits implicitly, so
// multi-statement results keep each step independently reversible.
func (d *MySQL) CompileDDL(op ddl.Operation, _ *ddl.Schema) ([]string, error) {
	switch o := op.(type) {
	case *ddl.CreateTable:
		return d.createTable(&o.Table, o.Table.Name), nil
	case *ddl.DropTable:
		return []string{"DROP TABLE " + d.quote(o.Table.Name)}, nil
	case *ddl.AddColumn, *ddl.AddForeignKey:
		return []string{d.addColumn(op)}, nil
	case *ddl.DropColumn:
		var stmts []string
		if o.Column.References != nil {
			stmts = append(stmts, d.alterTable(o.Table)+"DROP FOREIGN KEY "+d.quote(fkName(o.Table, o.Column)))
		}
		return append(stmts, d.alterTable(o.Table)+"DROP COLUMN "+d.quote(o.Column.Name)), nil
	case *ddl.AlterColumnType:
		return d.alterColumn(o), nil
	case *ddl.AddIndex:
		return []string{d.createIndex(o.Table, o.Index)}, nil
	case *ddl.DropIndex:
		return []string{"DROP INDEX " + d.quote(o.Index.Name) + " ON " + d.quote(o.Table)}, nil
	}
	return nil, ddlErr(op, "unsupported operation %T", op)
}

// addColumn adds the column with its unique and foreign key constraints in
// one statement. MySQL ignores inline REFERENCES, so the key is table-level.
func (d *MySQL) addColumn(op ddl.Operation) string {
	var table string
	var c ddl.Column
	switch o := op.(type) {
	case *ddl.AddColumn:
		table, c = o.Table, o.Column
	case *ddl.AddForeignKey:
		table, c = o.Table, o.Column
	}

	acts := []string{"ADD COLUMN " + d.columnDef(table, c, defOpts{})}
	if c.Unique {
		acts = append(acts, "ADD CONSTRAINT "+d.quote(uniqueName(table, c.Name))+" UNIQUE ("+d.quote(c.Name)+")")
	}
	if c.References != nil {
		acts = append(acts, "ADD CONSTRAINT "+d.quote(fkName(table, c))+" FOREIGN KEY ("+d.quote(c.Name)+") "+d.references(c))
	}
	return d.alterTable(table) + strings.Join(acts, ", ")
}

func (d *MySQL) alterColumn(o *ddl.AlterColumnType) []string {
	var stmts []string
	alter := d.alterTable(o.Table)

	if o.From.Check != o.To.Check && o.From.Check != "" {
		stmts = append(stmts, alter+"DROP CHECK "+d.quote(checkName(o.Table, o.To.Name)))
	}
	if o.From.Unique && !o.To.Unique {
		stmts = append(stmts, alter+"DROP INDEX "+d.quote(uniqueName(o.Table, o.To.Name)))
	}

	modified := d.typeOf(o.From) != d.typeOf(o.To) || o.From.Nullable != o.To.Nullable ||
		d.defaultExpr(o.From) != d.defaultExpr(o.To) || o.From.AutoIncrement != o.To.AutoIncrement
	if modified {
		stmts = append(stmts, alter+"MODIFY COLUMN "+d.columnDef(o.Table, o.To, defOpts{skipCheck: true}))
	}

	if !o.From.Unique && o.To.Unique {
		stmts = append(stmts, alter+"ADD CONSTRAINT "+d.quote(uniqueName(o.Table, o.To.Name))+" UNIQUE ("+d.quote(o.To.Name)+")")
	}
	if o.From.Check != o.To.Check && o.To.Check != "" {
		stmts = append(stmts, alter+"ADD CONSTRAINT "+d.quote(checkName(o.Table, o.To.Name))+" CHECK ("+o.To.Check+")")
	}
	return stmts
}
