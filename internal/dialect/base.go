package dialect

import (
	"strconv"
	"strings"

	"github.com/koustreak/orma/internal/ddl"
	"github.com/koustreak/orma/internal/schema"
)

// base carries what the engines share. Each engine fills the knobs in its
// constructor; query compilation and most DDL rendering live here.
type base struct {
	name  string
	quote func(string) string

	// numbered placeholders ($1, $2) instead of "?".
	numbered bool

	// offsetOnlyLimit is rendered as LIMIT when only OFFSET is set. Empty
	// renders OFFSET alone.
	offsetOnlyLimit string

	nativeILike bool

	// returning appends RETURNING <pk> to INSERT.
	returning bool

	// materializeDML wraps the key subquery of UPDATE/DELETE in a derived
	// table, for engines that refuse to read the target table in a subquery.
	materializeDML bool

	typeOf func(ddl.Column) string

	// autoIncrement is the column attribute of auto-increment keys and
	// autoDefault their default expression. Engines set one or the other.
	autoIncrement string
	autoDefault   string
	autoIsPK      bool // the attribute already declares the primary key

	trueLit, falseLit string

	// fixDefault adjusts a default expression for the column type.
	fixDefault func(c ddl.Column, expr string) string
}

func (b *base) Name() string              { return b.name }
func (b *base) Quote(ident string) string { return b.quote(ident) }

func (b *base) Placeholder(n int) string {
	if b.numbered {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

func (b *base) ColumnType(c ddl.Column) string { return b.typeOf(c) }

func (b *base) AdvisoryLock(string) (Statement, Statement, bool) {
	return Statement{}, Statement{}, false
}

func (b *base) MigrationSession() (before, after []string) { return nil, nil }

func (b *base) InsertIDQuery() string { return "" }

// --- DDL rendering shared by all engines ---

func checkName(table, column string) string  { return "ck_" + table + "_" + column }
func uniqueName(table, column string) string { return "uq_" + table + "_" + column }
func pkName(table string) string             { return "pk_" + table }

func fkName(table string, c ddl.Column) string {
	if c.References != nil && c.References.Name != "" {
		return c.References.Name
	}
	return "fk_" + table + "_" + c.Name
}

type defOpts struct {
	inlineUnique bool
	inlineFK     bool
	skipCheck    bool
}

// columnDef renders `"name" TYPE [attr] [NOT NULL] [DEFAULT x] ...`.
func (b *base) columnDef(table string, c ddl.Column, o defOpts) string {
	var sb strings.Builder
	sb.WriteString(b.quote(c.Name))
	sb.WriteByte(' ')
	sb.WriteString(b.typeOf(c))
	if c.AutoIncrement && b.autoIncrement != "" {
		sb.WriteString(" " + b.autoIncrement)
	}
	if !c.Nullable {
		sb.WriteString(" NOT NULL")
	}
	if d := b.defaultExpr(c); d != "" {
		sb.WriteString(" DEFAULT " + d)
	}
	if c.Unique && o.inlineUnique {
		sb.WriteString(" CONSTRAINT " + b.quote(uniqueName(table, c.Name)) + " UNIQUE")
	}
	if c.Check != "" && !o.skipCheck {
		sb.WriteString(" CONSTRAINT " + b.quote(checkName(table, c.Name)) + " CHECK (" + c.Check + ")")
	}
	if c.References != nil && o.inlineFK {
		sb.WriteString(" CONSTRAINT " + b.quote(fkName(table, c)) + " " + b.references(c))
	}
	return sb.String()
}

func (b *base) references(c ddl.Column) string {
	fk := c.References
	s := "REFERENCES " + b.quote(fk.Table) + " (" + b.quote(fk.Column) + ")"
	if fk.OnDelete != "" {
		s += " ON DELETE " + fk.OnDelete
	}
	return s
}

func (b *base) defaultExpr(c ddl.Column) string {
	d := strings.TrimSpace(c.Default)
	if d == "" {
		if c.AutoIncrement {
			return b.autoDefault
		}
		return ""
	}
	if c.Type == schema.TypeBoolean {
		switch strings.ToLower(d) {
		case "1", "true", "'1'", "'t'", "'true'":
			return b.trueLit
		case "0", "false", "'0'", "'f'", "'false'":
			return b.falseLit
		}
	}
	if b.fixDefault != nil {
		return b.fixDefault(c, d)
	}
	return d
}

// createTable renders CREATE TABLE for t as table `as`, followed by its
// indexes. Constraints are named after t. Unique, primary key and foreign
// key constraints are table-level.
func (b *base) createTable(t *ddl.Table, as string) []string {
	defs := make([]string, 0, len(t.Columns)+2)
	pkInline := false
	for _, c := range t.Columns {
		if c.Name == t.PrimaryKey && c.AutoIncrement && b.autoIsPK {
			pkInline = true
		}
		defs = append(defs, b.columnDef(t.Name, c, defOpts{}))
	}
	if !pkInline {
		defs = append(defs, "CONSTRAINT "+b.quote(pkName(t.Name))+" PRIMARY KEY ("+b.quote(t.PrimaryKey)+")")
	}
	for _, c := range t.Columns {
		if c.Unique {
			defs = append(defs, "CONSTRAINT "+b.quote(uniqueName(t.Name, c.Name))+" UNIQUE ("+b.quote(c.Name)+")")
		}
	}
	for _, c := range t.Columns {
		if c.References != nil {
			defs = append(defs, "CONSTRAINT "+b.quote(fkName(t.Name, c))+" FOREIGN KEY ("+b.quote(c.Name)+") "+b.references(c))
		}
	}

	stmts := []string{"CREATE TABLE " + b.quote(as) + " (" + strings.Join(defs, ", ") + ")"}
	for _, ix := range t.Indexes {
		stmts = append(stmts, b.createIndex(as, ix))
	}
	return stmts
}

func (b *base) createIndex(table string, ix ddl.Index) string {
	kw := "CREATE INDEX "
	if ix.Unique {
		kw = "CREATE UNIQUE INDEX "
	}
	return kw + b.quote(ix.Name) + " ON " + b.quote(table) + " (" + b.quoteList(ix.Columns) + ")"
}

func (b *base) quoteList(names []string) string {
	q := make([]string, len(names))
	for i, n := range names {
		q[i] = b.quote(n)
	}
	return strings.Join(q, ", ")
}

func (b *base) alterTable(table string) string {
	return "ALTER TABLE " + b.quote(table) + " "
}

// quoteDouble is ANSI identifier quoting.
func quoteDouble(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
