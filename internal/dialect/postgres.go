package dialect

import (
	"strconv"
	"strings"

	"github.com/koustreak/orma/internal/database"
	"github.com/koustreak/orma/internal/ddl"
	"github.com/koustreak/orma/internal/schema"
	"github.com/lib/pq"
)

// Postgres renders PostgreSQL.
type Postgres struct {
	base
	crdb bool
}

// CockroachDB renders CockroachDB: PostgreSQL syntax with its own types,
// one action per ALTER TABLE and no advisory locks.
type CockroachDB struct {
	Postgres
}

// NewPostgres returns the PostgreSQL dialect.
func NewPostgres() *Postgres {
	d := &Postgres{}
	d.base = base{
		name:          database.EnginePostgres,
		quote:         pq.QuoteIdentifier,
		numbered:      true,
		nativeILike:   true,
		returning:     true,
		typeOf:        postgresType,
		autoIncrement: "GENERATED BY DEFAULT AS IDENTITY",
		trueLit:       "TRUE",
		falseLit:      "FALSE",
	}
	return d
}

// NewCockroachDB returns the CockroachDB dialect.
func NewCockroachDB() *CockroachDB {
	d := &CockroachDB{}
	d.base = base{
		name:        database.EngineCockroach,
		quote:       pq.QuoteIdentifier,
		numbered:    true,
		nativeILike: true,
		returning:   true,
		typeOf:      cockroachType,
		autoDefault: "unique_rowid()",
		trueLit:     "TRUE",
		falseLit:    "FALSE",
	}
	d.crdb = true
	return d
}

func postgresType(c ddl.Column) string {
	switch c.Type {
	case schema.TypeInteger:
		return "BIGINT"
	case schema.TypeText:
		if c.Size > 0 {
			return "VARCHAR(" + strconv.Itoa(c.Size) + ")"
		}
		return "TEXT"
	case schema.TypeTimestamp:
		return "TIMESTAMPTZ"
	case schema.TypeBoolean:
		return "BOOLEAN"
	case schema.TypeBlob:
		return "BYTEA"
	case schema.TypeDecimal:
		return "NUMERIC" + precision(c)
	}
	return "TEXT"
}

func cockroachType(c ddl.Column) string {
	switch c.Type {
	case schema.TypeInteger:
		return "INT8"
	case schema.TypeText:
		if c.Size > 0 {
			return "VARCHAR(" + strconv.Itoa(c.Size) + ")"
		}
		return "STRING"
	case schema.TypeTimestamp:
		return "TIMESTAMPTZ"
	case schema.TypeBoolean:
		return "BOOL"
	case schema.TypeBlob:
		return "BYTES"
	case schema.TypeDecimal:
		return "DECIMAL" + precision(c)
	}
	return "STRING"
}

func precision(c ddl.Column) string {
	if c.Precision <= 0 {
		return ""
	}
	return "(" + strconv.Itoa(c.Precision) + "," + strconv.Itoa(c.Scale) + ")"
}

// AdvisoryLock uses a session-level pg_advisory_lock keyed by a hash of key.
func (d *Postgres) AdvisoryLock(key string) (Statement, Statement, bool) {
	id := lockID(key)
	return Statement{SQL: "SELECT pg_advisory_lock($1)", Args: []any{id}},
		Statement{SQL: "SELECT pg_advisory_unlock($1)", Args: []any{id}},
		true
}

// AdvisoryLock reports false: CockroachDB accepts pg_advisory_lock but
// does not lock.
func (d *CockroachDB) AdvisoryLock(string) (Statement, Statement, bool) {
	return Statement{}, Statement{}, false
}

// CompileDDL renders one operation. PostgreSQL DDL is transactional, so a
// multi-statement result is still atomic inside the migration transaction.
func (d *Postgres) CompileDDL(op ddl.Operation, _ *ddl.Schema) ([]string, error) {
	switch o := op.(type) {
	case *ddl.CreateTable:
		return d.createTable(&o.Table, o.Table.Name), nil
	case *ddl.DropTable:
		return []string{"DROP TABLE " + d.quote(o.Table.Name)}, nil
	case *ddl.AddColumn:
		return []string{d.alterTable(o.Table) + "ADD COLUMN " + d.columnDef(o.Table, o.Column, defOpts{inlineUnique: true})}, nil
	case *ddl.AddForeignKey:
		if o.Column.References == nil {
			return nil, ddlErr(op, "foreign key column has no reference")
		}
		return []string{d.alterTable(o.Table) + "ADD COLUMN " + d.columnDef(o.Table, o.Column, defOpts{inlineUnique: true, inlineFK: true})}, nil
	case *ddl.DropColumn:
		return []string{d.alterTable(o.Table) + "DROP COLUMN " + d.quote(o.Column.Name)}, nil
	case *ddl.AlterColumnType:
		return d.alterColumn(o), nil
	case *ddl.AddIndex:
		return []string{d.createIndex(o.Table, o.Index)}, nil
	case *ddl.DropIndex:
		if d.crdb {
			return []string{"DROP INDEX " + d.quote(o.Table) + "@" + d.quote(o.Index.Name) + " CASCADE"}, nil
		}
		return []string{"DROP INDEX " + d.quote(o.Index.Name)}, nil
	}
	return nil, ddlErr(op, "unsupported operation %T", op)
}

// alterColumn emits only the actions whose attribute changed. PostgreSQL
// takes them as one statement; CockroachDB one per statement.
func (d *Postgres) alterColumn(o *ddl.AlterColumnType) []string {
	col := "ALTER COLUMN " + d.quote(o.To.Name)
	var acts []string

	if from, to := d.typeOf(o.From), d.typeOf(o.To); from != to {
		acts = append(acts, col+" TYPE "+to+" USING "+d.quote(o.To.Name)+"::"+to)
	}
	if o.From.Nullable != o.To.Nullable {
		if o.To.Nullable {
			acts = append(acts, col+" DROP NOT NULL")
		} else {
			acts = append(acts, col+" SET NOT NULL")
		}
	}
	if !d.crdb && o.From.AutoIncrement != o.To.AutoIncrement {
		if o.To.AutoIncrement {
			acts = append(acts, col+" ADD "+d.autoIncrement)
		} else {
			acts = append(acts, col+" DROP IDENTITY IF EXISTS")
		}
	}
	if from, to := d.defaultExpr(o.From), d.defaultExpr(o.To); from != to {
		if to == "" {
			acts = append(acts, col+" DROP DEFAULT")
		} else {
			acts = append(acts, col+" SET DEFAULT "+to)
		}
	}
	if o.From.Check != o.To.Check {
		ck := d.quote(checkName(o.Table, o.To.Name))
		if o.From.Check != "" {
			acts = append(acts, "DROP CONSTRAINT "+ck)
		}
		if o.To.Check != "" {
			acts = append(acts, "ADD CONSTRAINT "+ck+" CHECK ("+o.To.Check+")")
		}
	}

	var stmts []string
	if o.From.Unique != o.To.Unique {
		uq := d.quote(uniqueName(o.Table, o.To.Name))
		switch {
		case o.To.Unique:
			acts = append(acts, "ADD CONSTRAINT "+uq+" UNIQUE ("+d.quote(o.To.Name)+")")
		case d.crdb:
			stmts = append(stmts, "DROP INDEX "+d.quote(o.Table)+"@"+uq+" CASCADE")
		default:
			acts = append(acts, "DROP CONSTRAINT "+uq)
		}
	}

	if len(acts) == 0 {
		return stmts
	}
	if d.crdb {
		for _, a := range acts {
			stmts = append(stmts, d.alterTable(o.Table)+a)
		}
		return stmts
	}
	return append([]string{d.alterTable(o.Table) + strings.Join(acts, ", ")}, stmts...)
}
