package migrate

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/koustreak/orma/internal/database"
	"github.com/koustreak/orma/internal/ddl"
	"github.com/koustreak/orma/internal/dialect"
	"github.com/koustreak/orma/internal/errs"
	"github.com/koustreak/orma/internal/schema"
)

const (
	ledgerTable = "orma_migrations"
	lockTable   = "orma_migration_lock"
	lockRowID   = 1
)

// Timestamps in the ledger and lock tables are RFC 3339 text in UTC: every
// engine stores and compares them the same way.
const stampLayout = "2006-01-02T15:04:05.000000000Z"

func stamp(t time.Time) string { return t.UTC().Format(stampLayout) }

// Applied is one ledger row.
type Applied struct {
	ID        string
	App       string
	Name      string
	Sequence  int
	Checksum  string
	AppliedAt time.Time
}

// ledger reads and writes the applied-migrations table.
type ledger struct {
	d dialect.Dialect
}

func ledgerDefinition() ddl.Table {
	text := func(name string, size int) ddl.Column {
		return ddl.Column{Name: name, Type: schema.TypeText, Size: size}
	}
	return ddl.Table{
		Name:       ledgerTable,
		PrimaryKey: "id",
		Columns: []ddl.Column{
			text("id", 255),
			text("app", 100),
			text("name", 150),
			{Name: "sequence", Type: schema.TypeInteger},
			text("checksum", 64),
			text("applied_at", 40),
		},
	}
}

func lockDefinition() ddl.Table {
	return ddl.Table{
		Name:       lockTable,
		PrimaryKey: "id",
		Columns: []ddl.Column{
			{Name: "id", Type: schema.TypeInteger},
			{Name: "owner", Type: schema.TypeText, Size: 64, Nullable: true},
			{Name: "locked_at", Type: schema.TypeText, Size: 40, Nullable: true},
		},
	}
}

// ensure creates the ledger and lock tables when missing.
func (l *ledger) ensure(ctx context.Context, ex database.Executor) error {
	for _, t := range []ddl.Table{ledgerDefinition(), lockDefinition()} {
		stmts, err := l.d.CompileDDL(&ddl.CreateTable{Table: t}, ddl.NewSchema())
		if err != nil {
			return err
		}
		for _, s := range stmts {
			s = strings.Replace(s, "CREATE TABLE ", "CREATE TABLE IF NOT EXISTS ", 1)
			if _, err := ex.Exec(ctx, s); err != nil {
				return errs.Wrap(errs.KindOf(err), "failed to create "+t.Name, err)
			}
		}
	}
	return nil
}

func (l *ledger) q(ident string) string { return l.d.Quote(ident) }

func (l *ledger) ph(n int) string { return l.d.Placeholder(n) }

// list returns every ledger row ordered by application time.
func (l *ledger) list(ctx context.Context, ex database.Executor) ([]Applied, error) {
	sql := fmt.Sprintf("SELECT %s, %s, %s, %s, %s, %s FROM %s ORDER BY %s, %s",
		l.q("id"), l.q("app"), l.q("name"), l.q("sequence"), l.q("checksum"), l.q("applied_at"),
		l.q(ledgerTable), l.q("applied_at"), l.q("id"))
	rows, err := ex.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	recs, err := database.ScanRows(rows)
	if err != nil {
		return nil, err
	}
	out := make([]Applied, 0, len(recs))
	for _, r := range recs {
		seq, err := asInt(r["sequence"])
		if err != nil {
			return nil, err
		}
		at, err := time.Parse(stampLayout, asString(r["applied_at"]))
		if err != nil {
			return nil, errs.Wrap(errs.ErrKindSQLExecution, "ledger holds an invalid applied_at", err)
		}
		out = append(out, Applied{
			ID:        asString(r["id"]),
			App:       asString(r["app"]),
			Name:      asString(r["name"]),
			Sequence:  seq,
			Checksum:  asString(r["checksum"]),
			AppliedAt: at,
		})
	}
	return out, nil
}

func (l *ledger) insert(ctx context.Context, ex database.Executor, m *Migration, checksum string, at time.Time) error {
	sql := fmt.Sprintf("INSERT INTO %s (%s, %s, %s, %s, %s, %s) VALUES (%s, %s, %s, %s, %s, %s)",
		l.q(ledgerTable), l.q("id"), l.q("app"), l.q("name"), l.q("sequence"), l.q("checksum"), l.q("applied_at"),
		l.ph(1), l.ph(2), l.ph(3), l.ph(4), l.ph(5), l.ph(6))
	_, err := ex.Exec(ctx, sql, m.ID(), m.App, m.Name, m.Sequence, checksum, stamp(at))
	return err
}

func (l *ledger) remove(ctx context.Context, ex database.Executor, id string) error {
	sql := fmt.Sprintf("DELETE FROM %s WHERE %s = %s", l.q(ledgerTable), l.q("id"), l.ph(1))
	_, err := ex.Exec(ctx, sql, id)
	return err
}

func asString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	}
	return fmt.Sprint(v)
}

func asInt(v any) (int, error) {
	switch x := v.(type) {
	case int64:
		return int(x), nil
	case int32:
		return int(x), nil
	case int:
		return x, nil
	case []byte, string:
		n, err := strconv.Atoi(asString(x))
		if err != nil {
			return 0, errs.Wrap(errs.ErrKindSQLExecution, "ledger holds a non-integer sequence", err)
		}
		return n, nil
	}
	return 0, errs.Newf(errs.ErrKindSQLExecution, "ledger holds a sequence of type %T", v)
}
