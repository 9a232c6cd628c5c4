package migrate

import (
	"context"
	"fmt"
	"slices"

	"github.com/koustreak/orma/internal/ddl"
	"github.com/koustreak/orma/internal/schema"
)

// Drift lists where the live database differs from the schema the applied
// migrations produce. Entries are table names or table.column pairs.
type Drift struct {
	MissingTables      []string `json:"missing_tables,omitempty"`
	UnexpectedTables   []string `json:"unexpected_tables,omitempty"`
	MissingColumns     []string `json:"missing_columns,omitempty"`
	UnexpectedColumns  []string `json:"unexpected_columns,omitempty"`
	MissingForeignKeys []string `json:"missing_foreign_keys,omitempty"`
}

// Empty reports whether no drift was found.
func (d *Drift) Empty() bool {
	return len(d.MissingTables) == 0 && len(d.UnexpectedTables) == 0 &&
		len(d.MissingColumns) == 0 && len(d.UnexpectedColumns) == 0 &&
		len(d.MissingForeignKeys) == 0
}

// Verify introspects the database and compares it with the schema built by
// replaying the applied migrations. Types are not compared since each
// backend reports its own native names. The ledger and lock tables are
// ignored.
func (e *Engine) Verify(ctx context.Context) (*Drift, error) {
	if err := e.ledger.ensure(ctx, e.pool); err != nil {
		return nil, err
	}
	plan, applied, err := e.snapshot(ctx, e.pool)
	if err != nil {
		return nil, err
	}
	state, err := stateOf(plan, appliedSet(applied))
	if err != nil {
		return nil, err
	}

	conn, err := e.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	r, err := schema.NewReader(e.d.Name(), conn)
	if err != nil {
		return nil, err
	}
	live, err := r.InspectSchema(ctx)
	if err != nil {
		return nil, err
	}

	drift := compare(state, live)
	if !drift.Empty() {
		e.log.WarnWith("schema drift detected", nil, map[string]any{
			"missing_tables":    len(drift.MissingTables),
			"unexpected_tables": len(drift.UnexpectedTables),
			"missing_columns":   len(drift.MissingColumns),
		})
	}
	return drift, nil
}

func compare(state *ddl.Schema, live *schema.SchemaInfo) *Drift {
	drift := &Drift{}
	for _, name := range state.TableNames() {
		want, _ := state.Table(name)
		got, ok := live.Table(name)
		if !ok {
			drift.MissingTables = append(drift.MissingTables, name)
			continue
		}
		for _, c := range want.Columns {
			if _, ok := got.Column(c.Name); !ok {
				drift.MissingColumns = append(drift.MissingColumns, name+"."+c.Name)
			}
			if fk := c.References; fk != nil && !hasForeignKey(live, name, c.Name, fk.Table) {
				drift.MissingForeignKeys = append(drift.MissingForeignKeys,
					fmt.Sprintf("%s.%s -> %s", name, c.Name, fk.Table))
			}
		}
		for _, c := range got.Columns {
			if _, ok := want.Column(c.Name); !ok {
				drift.UnexpectedColumns = append(drift.UnexpectedColumns, name+"."+c.Name)
			}
		}
	}
	for _, t := range live.Tables {
		if t.Name == ledgerTable || t.Name == lockTable {
			continue
		}
		if _, ok := state.Table(t.Name); !ok {
			drift.UnexpectedTables = append(drift.UnexpectedTables, t.Name)
		}
	}
	slices.Sort(drift.UnexpectedTables)
	return drift
}

func hasForeignKey(live *schema.SchemaInfo, table, column, target string) bool {
	return slices.ContainsFunc(live.ForeignKeys, func(fk schema.ForeignKeyInfo) bool {
		return fk.FromTable == table && fk.FromColumn == column && fk.ToTable == target
	})
}
