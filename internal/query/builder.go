// Package query builds backend-agnostic query trees (Ast) from model
// descriptors. Builders are immutable: every chained call returns a new
// Builder, so a partially built query can be shared and extended.
//
//	ast, err := query.New(reg, "blog.Post").
//	    Filter(query.Gte("views", 100), query.Or(query.Eq("status", "draft"), query.IsNull("published_at"))).
//	    OrderBy("-created_at").
//	    SelectRelated("author").
//	    Limit(10).
//	    Build()
package query

import (
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"strings"

	"github.com/koustreak/orma/internal/errs"
	"github.com/koustreak/orma/internal/schema"
)

// pkAlias names the primary key of any model in a field path.
const pkAlias = "pk"

// Builder accumulates query clauses for one model.
type Builder struct {
	reg     *schema.Registry
	modelID string
	where   []Predicate
	order   []string
	related []string
	limit   *int64
	offset  *int64
}

// New starts a query on the model registered as modelID. An unknown model
// is reported by the terminal Build call.
func New(reg *schema.Registry, modelID string) *Builder {
	return &Builder{reg: reg, modelID: modelID}
}

func (b *Builder) clone() *Builder {
	c := *b
	c.where = slices.Clone(b.where)
	c.order = slices.Clone(b.order)
	c.related = slices.Clone(b.related)
	return &c
}

// Filter adds predicates that must all hold. Separate calls AND together.
func (b *Builder) Filter(ps ...Predicate) *Builder {
	c := b.clone()
	c.where = append(c.where, ps...)
	return c
}

// Exclude removes rows matching all of ps: Exclude(p) is Filter(Not(p)).
func (b *Builder) Exclude(ps ...Predicate) *Builder {
	if len(ps) == 0 {
		return b
	}
	if len(ps) == 1 {
		return b.Filter(Not(ps[0]))
	}
	return b.Filter(Not(And(ps...)))
}

// OrderBy replaces the ordering. A leading "-" sorts descending.
func (b *Builder) OrderBy(keys ...string) *Builder {
	c := b.clone()
	c.order = slices.Clone(keys)
	return c
}

// SelectRelated fetches the rows behind foreign-key paths in the same query.
func (b *Builder) SelectRelated(paths ...string) *Builder {
	c := b.clone()
	for _, p := range paths {
		if !slices.Contains(c.related, p) {
			c.related = append(c.related, p)
		}
	}
	return c
}

// Limit caps the number of rows.
func (b *Builder) Limit(n int) *Builder {
	c := b.clone()
	v := int64(n)
	c.limit = &v
	return c
}

// Offset skips rows.
func (b *Builder) Offset(n int) *Builder {
	c := b.clone()
	v := int64(n)
	c.offset = &v
	return c
}

// --- terminal calls ---

// Build resolves a SELECT query.
func (b *Builder) Build() (*Ast, error) { return b.build(KindSelect, nil) }

// Count resolves a SELECT COUNT(*) query.
func (b *Builder) Count() (*Ast, error) { return b.build(KindCount, nil) }

// Update resolves an UPDATE of the filtered rows.
func (b *Builder) Update(values map[string]any) (*Ast, error) {
	if len(values) == 0 {
		return nil, errs.New(errs.ErrKindQueryBuild, "update needs at least one value")
	}
	return b.build(KindUpdate, values)
}

// Delete resolves a DELETE of the filtered rows.
func (b *Builder) Delete() (*Ast, error) { return b.build(KindDelete, nil) }

// Insert resolves an INSERT of one row. The builder must carry no clauses.
func (b *Builder) Insert(values map[string]any) (*Ast, error) {
	if len(b.where) > 0 || len(b.order) > 0 || len(b.related) > 0 || b.limit != nil || b.offset != nil {
		return nil, errs.New(errs.ErrKindQueryBuild, "insert cannot be filtered, ordered, joined or paginated")
	}
	if len(values) == 0 {
		return nil, errs.New(errs.ErrKindQueryBuild, "insert needs at least one value")
	}
	return b.build(KindInsert, values)
}

func (b *Builder) build(kind Kind, values map[string]any) (*Ast, error) {
	if b.reg == nil || !b.reg.Frozen() {
		return nil, errs.New(errs.ErrKindQueryBuild, "query builder needs an initialized registry")
	}
	model, err := b.reg.Lookup(b.modelID)
	if err != nil {
		return nil, err
	}

	if b.limit != nil && *b.limit < 0 {
		return nil, errs.Newf(errs.ErrKindQueryBuild, "limit must not be negative, got %d", *b.limit)
	}
	if b.offset != nil && *b.offset < 0 {
		return nil, errs.Newf(errs.ErrKindQueryBuild, "offset must not be negative, got %d", *b.offset)
	}

	ast := &Ast{
		Kind:   kind,
		Model:  model,
		Table:  model.Table,
		Alias:  BaseAlias,
		Limit:  b.limit,
		Offset: b.offset,
		Refs:   make(map[string]ColumnRef),
	}
	r := &resolver{reg: b.reg, ast: ast, hops: map[string]hop{"": {alias: BaseAlias, model: model}}}

	// Related paths only shape the select list; other kinds ignore them.
	if kind == KindSelect {
		if err := r.selectColumns(b.related); err != nil {
			return nil, err
		}
	}

	if len(b.where) > 0 {
		var root Predicate
		if len(b.where) == 1 {
			root = b.where[0]
		} else {
			root = And(b.where...)
		}
		resolved, err := r.predicate(root, make(map[Predicate]bool))
		if err != nil {
			return nil, err
		}
		ast.Where = resolved
	}

	paginated := b.limit != nil || b.offset != nil
	if kind == KindSelect || paginated {
		if err := r.orderBy(b.order, paginated); err != nil {
			return nil, err
		}
	}

	if values != nil {
		if err := r.assignments(values); err != nil {
			return nil, err
		}
	}
	return ast, nil
}

// --- resolution ---

type hop struct {
	alias string
	model *schema.ModelDescriptor
}

type resolver struct {
	reg  *schema.Registry
	ast  *Ast
	hops map[string]hop // relation path -> joined model
}

func buildErr(format string, args ...any) error {
	return errs.Newf(errs.ErrKindQueryBuild, format, args...)
}

func (r *resolver) nextAlias() string {
	return "t" + strconv.Itoa(len(r.ast.Joins)+1)
}

// walk follows relation names from the base model, adding a join per new hop.
func (r *resolver) walk(rels []string) (hop, error) {
	cur := r.hops[""]
	path := ""
	for _, name := range rels {
		if name == "" {
			return hop{}, buildErr("empty segment in field path")
		}
		next := name
		if path != "" {
			next = path + "." + name
		}
		if h, ok := r.hops[next]; ok {
			cur, path = h, next
			continue
		}

		rel, ok := cur.model.Relation(name)
		if !ok {
			return hop{}, buildErr("%s has no relation %q", cur.model.ID, name)
		}
		target, err := r.reg.Lookup(rel.Target)
		if err != nil {
			return hop{}, err
		}

		from, fromColumn := cur.alias, rel.Column
		if rel.Kind == schema.RelationManyToMany {
			through := r.nextAlias()
			r.ast.Joins = append(r.ast.Joins, Join{
				Path:       next + "#through",
				Table:      rel.JoinTable,
				Alias:      through,
				Column:     rel.SourceColumn,
				FromAlias:  cur.alias,
				FromColumn: cur.model.PrimaryKey,
			})
			from, fromColumn = through, rel.TargetColumn
		}

		alias := r.nextAlias()
		r.ast.Joins = append(r.ast.Joins, Join{
			Path:       next,
			Table:      target.Table,
			Alias:      alias,
			Column:     target.PrimaryKey,
			FromAlias:  from,
			FromColumn: fromColumn,
		})
		h := hop{alias: alias, model: target}
		r.hops[next] = h
		cur, path = h, next
	}
	return cur, nil
}

// column resolves a field path to a physical column.
func (r *resolver) column(path string) (ColumnRef, error) {
	if ref, ok := r.ast.Refs[path]; ok {
		return ref, nil
	}
	if path == "" {
		return ColumnRef{}, buildErr("empty field path")
	}

	parts := strings.Split(path, ".")
	h, err := r.walk(parts[:len(parts)-1])
	if err != nil {
		return ColumnRef{}, err
	}
	name := parts[len(parts)-1]
	col, err := lookupColumn(h.model, name)
	if err != nil {
		return ColumnRef{}, err
	}
	ref := ColumnRef{Alias: h.alias, Column: col.Name, Type: col.Type}
	r.ast.Refs[path] = ref
	return ref, nil
}

// lookupColumn accepts a field name, "pk", a foreign-key column or the name
// of a foreign-key relation (meaning its column).
func lookupColumn(m *schema.ModelDescriptor, name string) (schema.Column, error) {
	if name == pkAlias {
		name = m.PrimaryKey
	}
	if c, ok := m.Column(name); ok {
		return c, nil
	}
	if rel, ok := m.Relation(name); ok {
		if rel.Kind == schema.RelationManyToMany {
			return schema.Column{}, buildErr("%s.%s is many-to-many; filter on one of its fields, e.g. %s.%s", m.ID, name, name, rel.TargetPK)
		}
		c, _ := m.Column(rel.Column)
		return c, nil
	}
	if name == "" {
		return schema.Column{}, buildErr("empty segment in field path")
	}
	return schema.Column{}, buildErr("%s has no field %q", m.ID, name)
}

// predicate returns a resolved copy of p. onPath holds the nodes between
// the root and p; meeting one again means the graph has a cycle.
func (r *resolver) predicate(p Predicate, onPath map[Predicate]bool) (Predicate, error) {
	if isNilPredicate(p) {
		return nil, buildErr("nil predicate")
	}
	if onPath[p] {
		return nil, buildErr("predicate graph contains a cycle")
	}
	onPath[p] = true
	defer delete(onPath, p)

	switch n := p.(type) {
	case *Comparison:
		ref, err := r.column(n.Field)
		if err != nil {
			return nil, err
		}
		c := *n
		c.Ref = ref
		if c.Value, err = normalizeValue(n); err != nil {
			return nil, err
		}
		return &c, nil

	case *Group:
		g := &Group{Conj: n.Conj, Children: make([]Predicate, 0, len(n.Children))}
		for _, child := range n.Children {
			rc, err := r.predicate(child, onPath)
			if err != nil {
				return nil, err
			}
			g.Children = append(g.Children, rc)
		}
		return g, nil

	case *Negation:
		inner, err := r.predicate(n.Inner, onPath)
		if err != nil {
			return nil, err
		}
		return &Negation{Inner: inner}, nil
	}
	return nil, buildErr("unsupported predicate %T", p)
}

func isNilPredicate(p Predicate) bool {
	if p == nil {
		return true
	}
	switch n := p.(type) {
	case *Comparison:
		return n == nil
	case *Group:
		return n == nil
	case *Negation:
		return n == nil
	}
	return false
}

func normalizeValue(c *Comparison) (any, error) {
	switch c.Op {
	case OpIsNull, OpNotNull:
		return nil, nil
	case OpEq, OpNe:
		return c.Value, nil
	case OpIn:
		return flattenIn(c.Value), nil
	case OpLike, OpILike:
		if _, ok := c.Value.(string); !ok {
			return nil, buildErr("%s on %q needs a string pattern, got %T", c.Op, c.Field, c.Value)
		}
		return c.Value, nil
	case OpLt, OpLte, OpGt, OpGte:
		if c.Value == nil {
			return nil, buildErr("%s on %q cannot compare with nil", c.Op, c.Field)
		}
		return c.Value, nil
	}
	return nil, buildErr("unknown operator %s", c.Op)
}

// flattenIn accepts In(f, 1, 2), In(f, []int64{1, 2}...) and In(f, ids)
// where ids is any slice.
func flattenIn(v any) []any {
	vals, _ := v.([]any)
	if len(vals) == 1 {
		rv := reflect.ValueOf(vals[0])
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() != reflect.Uint8 {
			out := make([]any, rv.Len())
			for i := range out {
				out[i] = rv.Index(i).Interface()
			}
			return out
		}
	}
	return vals
}

// orderBy resolves ordering keys and appends the primary key as a final
// tie-break so that pagination is stable.
func (r *resolver) orderBy(keys []string, paginated bool) error {
	pk := r.ast.PrimaryKey()
	hasPK := false
	for _, k := range keys {
		desc := strings.HasPrefix(k, "-")
		field := strings.TrimPrefix(k, "-")
		if field == "" {
			return buildErr("empty ordering key")
		}
		ref, err := r.column(field)
		if err != nil {
			return err
		}
		if ref.Alias == pk.Alias && ref.Column == pk.Column {
			hasPK = true
		}
		r.ast.OrderBy = append(r.ast.OrderBy, OrderKey{Ref: ref, Desc: desc})
	}

	switch {
	case len(r.ast.OrderBy) == 0:
		if paginated {
			r.ast.OrderBy = []OrderKey{{Ref: pk}}
		}
	case !hasPK:
		last := r.ast.OrderBy[len(r.ast.OrderBy)-1]
		r.ast.OrderBy = append(r.ast.OrderBy, OrderKey{Ref: pk, Desc: last.Desc})
	}
	return nil
}

// selectColumns lists the base columns, then the columns of each related
// hop in request order.
func (r *resolver) selectColumns(related []string) error {
	base := r.hops[""]
	for _, c := range base.model.Columns() {
		r.ast.Columns = append(r.ast.Columns, SelectColumn{
			Ref:   ColumnRef{Alias: base.alias, Column: c.Name, Type: c.Type},
			Label: c.Name,
		})
	}

	selected := map[string]bool{}
	for _, path := range related {
		parts := strings.Split(path, ".")
		for i := range parts {
			prefix := strings.Join(parts[:i+1], ".")
			if selected[prefix] {
				continue
			}
			parent := r.hops[strings.Join(parts[:i], ".")]
			if rel, ok := parent.model.Relation(parts[i]); ok && rel.Kind == schema.RelationManyToMany {
				return buildErr("select_related cannot follow many-to-many relation %q", prefix)
			}
			h, err := r.walk(parts[:i+1])
			if err != nil {
				return err
			}
			selected[prefix] = true
			for _, c := range h.model.Columns() {
				r.ast.Columns = append(r.ast.Columns, SelectColumn{
					Ref:   ColumnRef{Alias: h.alias, Column: c.Name, Type: c.Type},
					Label: prefix + "." + c.Name,
				})
			}
		}
		r.ast.Related = append(r.ast.Related, path)
	}
	return nil
}

// assignments validates INSERT/UPDATE values and orders them by column
// declaration order.
func (r *resolver) assignments(values map[string]any) error {
	m := r.ast.Model
	byColumn := make(map[string]any, len(values))
	for key, v := range values {
		if strings.Contains(key, ".") {
			return buildErr("cannot assign to related field %q", key)
		}
		col, err := lookupColumn(m, key)
		if err != nil {
			return err
		}
		if _, dup := byColumn[col.Name]; dup {
			return buildErr("column %q assigned twice", col.Name)
		}
		byColumn[col.Name] = v
	}
	for _, c := range m.Columns() {
		if v, ok := byColumn[c.Name]; ok {
			r.ast.Values = append(r.ast.Values, Assignment{Column: c.Name, Value: v})
		}
	}
	return nil
}

// String renders a debugging form of a predicate tree.
func String(p Predicate) string {
	switch n := p.(type) {
	case *Comparison:
		return fmt.Sprintf("%s %s %v", n.Field, n.Op, n.Value)
	case *Group:
		parts := make([]string, len(n.Children))
		for i, c := range n.Children {
			parts[i] = String(c)
		}
		return "(" + strings.Join(parts, " "+n.Conj.String()+" ") + ")"
	case *Negation:
		return "NOT " + String(n.Inner)
	}
	return "<nil>"
}
