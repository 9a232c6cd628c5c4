package migrate

import (
	"slices"

	"github.com/koustreak/orma/internal/ddl"
)

// Diff returns the operations that turn state into target. They are ordered
// so that each one is valid against the schema the previous ones leave
// behind: table creations, then column additions, type changes and new
// indexes, then index and column removals, and table removals last.
//
// Diffing a schema against itself yields nothing, and so does diffing the
// result of applying Diff(state, target) against target.
func Diff(state, target *ddl.Schema) []ddl.Operation {
	d := &differ{work: state.Clone(), target: target}

	d.createTables()
	for _, name := range target.TableNames() {
		if _, ok := state.Table(name); ok {
			d.changeColumns(name)
			d.changeIndexes(name)
		}
	}
	for _, name := range target.TableNames() {
		if _, ok := state.Table(name); ok {
			d.removeFromTable(name)
		}
	}
	d.dropTables()
	return d.ops
}

// differ emits operations and applies each one to work, so later steps
// compare against the schema as it will be at that point.
type differ struct {
	work   *ddl.Schema
	target *ddl.Schema
	ops    []ddl.Operation
}

func (d *differ) emit(op ddl.Operation) {
	// Every emitted operation is built from work, so Apply cannot reject it.
	_ = d.work.Apply(op)
	d.ops = append(d.ops, op)
}

func (d *differ) createTables() {
	var added []string
	for _, name := range d.target.TableNames() {
		if _, ok := d.work.Table(name); !ok {
			added = append(added, name)
		}
	}

	// References to tables that do not exist yet are split off into
	// AddForeignKey operations once every table has been created. Only
	// reference cycles need this.
	var later []ddl.Operation
	for _, name := range createOrder(d.target, added) {
		want, _ := d.target.Table(name)
		t := want.Clone()
		t.Columns = t.Columns[:0]
		var deferred []string
		for _, c := range want.Columns {
			if ref := c.References; ref != nil && ref.Table != name && d.pending(ref.Table) {
				later = append(later, &ddl.AddForeignKey{Table: name, Column: c})
				deferred = append(deferred, c.Name)
				continue
			}
			t.Columns = append(t.Columns, c)
		}
		t.Indexes = t.Indexes[:0]
		for _, ix := range want.Indexes {
			if slices.ContainsFunc(ix.Columns, func(c string) bool { return slices.Contains(deferred, c) }) {
				later = append(later, &ddl.AddIndex{Table: name, Index: ix})
				continue
			}
			t.Indexes = append(t.Indexes, ix)
		}
		d.emit(&ddl.CreateTable{Table: *t})
	}

	// Foreign keys first: deferred indexes may cover them.
	slices.SortStableFunc(later, func(a, b ddl.Operation) int {
		return rank(a) - rank(b)
	})
	for _, op := range later {
		d.emit(op)
	}
}

func rank(op ddl.Operation) int {
	if op.Kind() == ddl.KindAddIndex {
		return 1
	}
	return 0
}

// pending reports whether table is part of the target but not created yet.
func (d *differ) pending(table string) bool {
	_, inTarget := d.target.Table(table)
	_, exists := d.work.Table(table)
	return inTarget && !exists
}

func (d *differ) changeColumns(name string) {
	want, _ := d.target.Table(name)
	for _, c := range want.Columns {
		cur, _ := d.work.Table(name)
		old, ok := cur.Column(c.Name)
		switch {
		case !ok:
			d.emit(addColumn(name, c))
		case !sameReference(old.References, c.References):
			// The target of a reference cannot be altered in place: the
			// column is dropped and added again.
			for _, ix := range slices.Clone(cur.Indexes) {
				if slices.Contains(ix.Columns, c.Name) {
					d.emit(&ddl.DropIndex{Table: name, Index: ix})
				}
			}
			d.emit(&ddl.DropColumn{Table: name, Column: old})
			d.emit(addColumn(name, c))
		case !old.SameType(c):
			d.emit(&ddl.AlterColumnType{Table: name, From: old, To: c})
		}
	}
}

func (d *differ) changeIndexes(name string) {
	want, _ := d.target.Table(name)
	for _, ix := range want.Indexes {
		cur, _ := d.work.Table(name)
		old, ok := cur.Index(ix.Name)
		if ok && sameIndex(old, ix) {
			continue
		}
		if ok {
			d.emit(&ddl.DropIndex{Table: name, Index: old})
		}
		d.emit(&ddl.AddIndex{Table: name, Index: ix})
	}
}

// removeFromTable drops indexes before columns: a column still covered by
// an index cannot be dropped.
func (d *differ) removeFromTable(name string) {
	want, _ := d.target.Table(name)
	cur, _ := d.work.Table(name)
	for _, ix := range slices.Clone(cur.Indexes) {
		if _, ok := want.Index(ix.Name); !ok {
			d.emit(&ddl.DropIndex{Table: name, Index: ix})
		}
	}
	cur, _ = d.work.Table(name)
	for _, c := range slices.Clone(cur.Columns) {
		if _, ok := want.Column(c.Name); !ok {
			d.emit(&ddl.DropColumn{Table: name, Column: c})
		}
	}
}

// dropTables removes referencing tables before the tables they reference.
func (d *differ) dropTables() {
	var removed []string
	for _, name := range d.work.TableNames() {
		if _, ok := d.target.Table(name); !ok {
			removed = append(removed, name)
		}
	}
	order := createOrder(d.work, removed)
	slices.Reverse(order)
	for _, name := range order {
		t, _ := d.work.Table(name)
		d.emit(&ddl.DropTable{Table: *t.Clone()})
	}
}

func addColumn(table string, c ddl.Column) ddl.Operation {
	if c.References != nil {
		return &ddl.AddForeignKey{Table: table, Column: c}
	}
	return &ddl.AddColumn{Table: table, Column: c}
}

func sameReference(a, b *ddl.ForeignKey) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func sameIndex(a, b ddl.Index) bool {
	return a.Unique == b.Unique && slices.Equal(a.Columns, b.Columns)
}

// createOrder sorts names so that a table comes after the tables it
// references. Ties and tables caught in a reference cycle are ordered by
// name.
func createOrder(s *ddl.Schema, names []string) []string {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	deps := make(map[string]map[string]bool, len(names))
	for _, n := range names {
		t, _ := s.Table(n)
		deps[n] = map[string]bool{}
		for _, c := range t.Columns {
			if ref := c.References; ref != nil && ref.Table != n && set[ref.Table] {
				deps[n][ref.Table] = true
			}
		}
	}

	remaining := slices.Clone(names)
	slices.Sort(remaining)
	out := make([]string, 0, len(names))
	done := make(map[string]bool, len(names))
	for len(remaining) > 0 {
		next := -1
		for i, n := range remaining {
			ready := true
			for dep := range deps[n] {
				if !done[dep] {
					ready = false
					break
				}
			}
			if ready {
				next = i
				break
			}
		}
		if next < 0 {
			next = 0 // cycle: break it at the first name
		}
		n := remaining[next]
		out = append(out, n)
		done[n] = true
		remaining = slices.Delete(remaining, next, next+1)
	}
	return out
}
