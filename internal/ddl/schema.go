package ddl

import (
	"slices"
	"sort"

	"github.com/koustreak/orma/internal/errs"
)

// Schema is a set of table definitions: the state a sequence of operations
// produces when replayed from empty.
type Schema struct {
	Tables map[string]*Table
}

// NewSchema returns an empty schema.
func NewSchema() *Schema {
	return &Schema{Tables: make(map[string]*Table)}
}

// Table returns the named table.
func (s *Schema) Table(name string) (*Table, bool) {
	t, ok := s.Tables[name]
	return t, ok
}

// TableNames returns table names sorted.
func (s *Schema) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for n := range s.Tables {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Clone deep-copies s.
func (s *Schema) Clone() *Schema {
	c := NewSchema()
	for n, t := range s.Tables {
		c.Tables[n] = t.Clone()
	}
	return c
}

// ApplyAll applies ops in order.
func (s *Schema) ApplyAll(ops []Operation) error {
	for _, op := range ops {
		if err := s.Apply(op); err != nil {
			return err
		}
	}
	return nil
}

// Apply changes s as op would change a database. It rejects operations that
// do not fit the current state.
func (s *Schema) Apply(op Operation) error {
	switch o := op.(type) {
	case *CreateTable:
		if _, ok := s.Tables[o.Table.Name]; ok {
			return stateErr("table %q already exists", o.Table.Name)
		}
		if _, ok := o.Table.Column(o.Table.PrimaryKey); !ok {
			return stateErr("table %q: primary key %q is not a column", o.Table.Name, o.Table.PrimaryKey)
		}
		s.Tables[o.Table.Name] = o.Table.Clone()

	case *DropTable:
		if _, err := s.mustTable(o.Table.Name); err != nil {
			return err
		}
		delete(s.Tables, o.Table.Name)

	case *AddColumn:
		return s.addColumn(o.Table, o.Column)

	case *AddForeignKey:
		if o.Column.References == nil {
			return stateErr("add_foreign_key %s.%s has no reference", o.Table, o.Column.Name)
		}
		return s.addColumn(o.Table, o.Column)

	case *DropColumn:
		t, err := s.mustTable(o.Table)
		if err != nil {
			return err
		}
		i := slices.IndexFunc(t.Columns, func(c Column) bool { return c.Name == o.Column.Name })
		if i < 0 {
			return stateErr("column %s.%s does not exist", o.Table, o.Column.Name)
		}
		if o.Column.Name == t.PrimaryKey {
			return stateErr("cannot drop primary key %s.%s", o.Table, o.Column.Name)
		}
		for _, ix := range t.Indexes {
			if slices.Contains(ix.Columns, o.Column.Name) {
				return stateErr("column %s.%s is used by index %q", o.Table, o.Column.Name, ix.Name)
			}
		}
		t.Columns = slices.Delete(t.Columns, i, i+1)

	case *AlterColumnType:
		t, err := s.mustTable(o.Table)
		if err != nil {
			return err
		}
		i := slices.IndexFunc(t.Columns, func(c Column) bool { return c.Name == o.From.Name })
		if i < 0 {
			return stateErr("column %s.%s does not exist", o.Table, o.From.Name)
		}
		if o.From.Name != o.To.Name {
			return stateErr("alter_column_type cannot rename %s.%s", o.Table, o.From.Name)
		}
		to := o.To.clone()
		to.References = t.Columns[i].References
		t.Columns[i] = to

	case *AddIndex:
		t, err := s.mustTable(o.Table)
		if err != nil {
			return err
		}
		if _, ok := t.Index(o.Index.Name); ok {
			return stateErr("index %q already exists on %q", o.Index.Name, o.Table)
		}
		for _, c := range o.Index.Columns {
			if _, ok := t.Column(c); !ok {
				return stateErr("index %q references unknown column %s.%s", o.Index.Name, o.Table, c)
			}
		}
		t.Indexes = append(t.Indexes, o.Index.clone())

	case *DropIndex:
		t, err := s.mustTable(o.Table)
		if err != nil {
			return err
		}
		i := slices.IndexFunc(t.Indexes, func(ix Index) bool { return ix.Name == o.Index.Name })
		if i < 0 {
			return stateErr("index %q does not exist on %q", o.Index.Name, o.Table)
		}
		t.Indexes = slices.Delete(t.Indexes, i, i+1)

	default:
		return stateErr("unsupported operation %T", op)
	}
	return nil
}

func (s *Schema) addColumn(table string, col Column) error {
	t, err := s.mustTable(table)
	if err != nil {
		return err
	}
	if _, ok := t.Column(col.Name); ok {
		return stateErr("column %s.%s already exists", table, col.Name)
	}
	t.Columns = append(t.Columns, col.clone())
	return nil
}

func (s *Schema) mustTable(name string) (*Table, error) {
	t, ok := s.Tables[name]
	if !ok {
		return nil, stateErr("table %q does not exist", name)
	}
	return t, nil
}

func stateErr(format string, args ...any) error {
	return errs.Newf(errs.ErrKindMigrationApply, format, args...)
}
