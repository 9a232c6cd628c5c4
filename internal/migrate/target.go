package migrate

import (
	"github.com/koustreak/orma/internal/ddl"
	"github.com/koustreak/orma/internal/schema"
)

// joinTablePK is the surrogate key column of generated many-to-many tables.
const joinTablePK = "id"

// FromRegistry derives the table-level schema the registered models need.
// Many-to-many relations contribute their join tables, owned by the app of
// the declaring model.
func FromRegistry(reg *schema.Registry) *ddl.Schema {
	s := ddl.NewSchema()
	for _, m := range reg.Models() {
		t := &ddl.Table{Name: m.Table, App: m.App, PrimaryKey: m.PrimaryKey}
		for _, c := range m.Columns() {
			col := ddl.Column{
				Name:          c.Name,
				Type:          c.Type,
				Nullable:      c.Nullable,
				Default:       c.Default,
				Unique:        c.Unique,
				Check:         c.Check,
				AutoIncrement: c.AutoIncrement,
				Size:          c.Size,
				Precision:     c.Precision,
				Scale:         c.Scale,
			}
			if c.Relation != nil {
				col.References = &ddl.ForeignKey{
					Name:     fkName(m.Table, c.Name),
					Table:    c.Relation.TargetTable,
					Column:   c.Relation.TargetPK,
					OnDelete: string(c.Relation.OnDelete),
				}
			}
			t.Columns = append(t.Columns, col)
		}
		for _, ix := range m.Indexes {
			t.Indexes = append(t.Indexes, ddl.Index{
				Name:    ix.Name,
				Columns: append([]string(nil), ix.Fields...),
				Unique:  ix.Unique,
			})
		}
		s.Tables[t.Name] = t

		for _, r := range m.Relations {
			if r.Kind != schema.RelationManyToMany {
				continue
			}
			jt := joinTable(m, r)
			s.Tables[jt.Name] = jt
		}
	}
	return s
}

func joinTable(m *schema.ModelDescriptor, r schema.Relation) *ddl.Table {
	pk, _ := m.Field(m.PrimaryKey)
	ref := func(col, table, target string, typ schema.FieldType) ddl.Column {
		return ddl.Column{
			Name: col,
			Type: typ,
			References: &ddl.ForeignKey{
				Name:     fkName(r.JoinTable, col),
				Table:    table,
				Column:   target,
				OnDelete: string(schema.OnDeleteCascade),
			},
		}
	}
	return &ddl.Table{
		Name:       r.JoinTable,
		App:        m.App,
		PrimaryKey: joinTablePK,
		Columns: []ddl.Column{
			{Name: joinTablePK, Type: schema.TypeInteger, AutoIncrement: true},
			ref(r.SourceColumn, m.Table, m.PrimaryKey, pk.Type),
			ref(r.TargetColumn, r.TargetTable, r.TargetPK, r.ColumnType),
		},
		Indexes: []ddl.Index{{
			Name:    "uq_" + r.JoinTable + "_" + r.SourceColumn + "_" + r.TargetColumn,
			Columns: []string{r.SourceColumn, r.TargetColumn},
			Unique:  true,
		}},
	}
}

func fkName(table, column string) string {
	return "fk_" + table + "_" + column
}
