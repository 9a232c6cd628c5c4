package orm

import (
	"context"
	"slices"
	"strings"

	"github.com/koustreak/orma/internal/database"
	"github.com/koustreak/orma/internal/errs"
	"github.com/koustreak/orma/internal/pool"
	"github.com/koustreak/orma/internal/query"
)

// QuerySet is a lazily executed query on one model. Like query.Builder it
// is immutable: every chained call returns a new QuerySet.
type QuerySet struct {
	db    *DB
	model string
	b     *query.Builder
	exec  database.Executor
}

func newQuerySet(db *DB, model string) *QuerySet {
	return &QuerySet{db: db, model: model, b: query.New(db.reg, model)}
}

func (qs *QuerySet) with(b *query.Builder) *QuerySet {
	c := *qs
	c.b = b
	return &c
}

// Filter keeps rows matching all of ps.
func (qs *QuerySet) Filter(ps ...query.Predicate) *QuerySet { return qs.with(qs.b.Filter(ps...)) }

// Exclude drops rows matching all of ps.
func (qs *QuerySet) Exclude(ps ...query.Predicate) *QuerySet { return qs.with(qs.b.Exclude(ps...)) }

// OrderBy sorts by keys; "-field" sorts descending.
func (qs *QuerySet) OrderBy(keys ...string) *QuerySet { return qs.with(qs.b.OrderBy(keys...)) }

// SelectRelated loads the rows behind foreign-key paths into nested Rows.
func (qs *QuerySet) SelectRelated(paths ...string) *QuerySet {
	return qs.with(qs.b.SelectRelated(paths...))
}

func (qs *QuerySet) Limit(n int) *QuerySet  { return qs.with(qs.b.Limit(n)) }
func (qs *QuerySet) Offset(n int) *QuerySet { return qs.with(qs.b.Offset(n)) }

// On runs the query on ex, typically a *pool.Tx or a leased *pool.Conn,
// instead of the DB's own executor.
func (qs *QuerySet) On(ex database.Executor) *QuerySet {
	c := *qs
	c.exec = ex
	return &c
}

func (qs *QuerySet) executor() database.Executor {
	if qs.exec != nil {
		return qs.exec
	}
	return qs.db.executor()
}

// SQL compiles the SELECT without running it.
func (qs *QuerySet) SQL() (string, []any, error) {
	ast, err := qs.b.Build()
	if err != nil {
		return "", nil, err
	}
	return qs.db.dialect.CompileQuery(ast)
}

func (qs *QuerySet) compile(ast *query.Ast, err error) (string, []any, error) {
	if err != nil {
		return "", nil, err
	}
	sql, args, err := qs.db.dialect.CompileQuery(ast)
	if err != nil {
		return "", nil, err
	}
	qs.db.log.DebugWith("compiled query", map[string]any{
		"model": qs.model,
		"kind":  ast.Kind.String(),
		"sql":   sql,
		"args":  len(args),
	})
	return sql, args, nil
}

// --- row-returning ---

// All runs the query and returns every matching row.
func (qs *QuerySet) All(ctx context.Context) ([]Row, error) {
	ast, err := qs.b.Build()
	sql, args, err := qs.compile(ast, err)
	if err != nil {
		return nil, err
	}

	rows, err := qs.executor().Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	raw, err := database.ScanRows(rows)
	if err != nil {
		return nil, err
	}

	out := make([]Row, 0, len(raw))
	for _, r := range raw {
		row, err := shape(ast, r)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}

// First returns the first matching row, or a NotFound error.
func (qs *QuerySet) First(ctx context.Context) (Row, error) {
	rows, err := qs.Limit(1).All(ctx)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errs.Newf(errs.ErrKindNotFound, "no %s matches the query", qs.model)
	}
	return rows[0], nil
}

// --- single-value ---

// Count returns the number of matching rows. A paginated QuerySet counts
// the rows of its page.
func (qs *QuerySet) Count(ctx context.Context) (int64, error) {
	ast, err := qs.b.Count()
	sql, args, err := qs.compile(ast, err)
	if err != nil {
		return 0, err
	}
	rows, err := qs.executor().Query(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	v, err := database.ScanValue(rows)
	if err != nil {
		return 0, err
	}
	n, err := toInt64(v)
	if err != nil {
		return 0, errs.Wrap(errs.ErrKindSQLExecution, "count returned a non-integer", err)
	}
	return n, nil
}

// Scalar returns the value of field in the first matching row. field may
// follow foreign keys ("author.name"); the relation is loaded for it.
func (qs *QuerySet) Scalar(ctx context.Context, field string) (any, error) {
	q := qs
	if i := strings.LastIndexByte(field, '.'); i > 0 {
		q = qs.SelectRelated(field[:i])
	}
	row, err := q.First(ctx)
	if err != nil {
		return nil, err
	}
	v, ok := row.Lookup(field)
	if !ok {
		return nil, errs.Newf(errs.ErrKindQueryBuild, "%s has no field %q", qs.model, field)
	}
	return v, nil
}

// --- row-less ---

// Update sets values on every matching row and returns how many changed.
func (qs *QuerySet) Update(ctx context.Context, values map[string]any) (int64, error) {
	ast, err := qs.b.Update(values)
	sql, args, err := qs.compile(ast, err)
	if err != nil {
		return 0, err
	}
	return qs.executor().Exec(ctx, sql, args...)
}

// Delete removes every matching row and returns how many were removed.
func (qs *QuerySet) Delete(ctx context.Context) (int64, error) {
	ast, err := qs.b.Delete()
	sql, args, err := qs.compile(ast, err)
	if err != nil {
		return 0, err
	}
	return qs.executor().Exec(ctx, sql, args...)
}

// Insert adds one row and returns its primary key, converted to the key's
// field type. Filters and ordering of qs do not apply to inserts.
func (qs *QuerySet) Insert(ctx context.Context, values map[string]any) (any, error) {
	ast, err := query.New(qs.db.reg, qs.model).Insert(values)
	sql, args, err := qs.compile(ast, err)
	if err != nil {
		return nil, err
	}
	pk := ast.PrimaryKey()

	ex := qs.executor()
	idQuery := qs.db.dialect.InsertIDQuery()
	if idQuery == "" {
		rows, err := ex.Query(ctx, sql, args...)
		if err != nil {
			return nil, err
		}
		v, err := database.ScanValue(rows)
		if err != nil {
			return nil, err
		}
		return coerce(pk.Type, v)
	}

	// The generated key is per connection: read it on the same lease.
	if p, ok := ex.(*pool.Pool); ok {
		c, err := p.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		defer c.Release()
		ex = c
	}
	if _, err := ex.Exec(ctx, sql, args...); err != nil {
		return nil, err
	}
	if v, ok := values[pk.Column]; ok && v != nil {
		return coerce(pk.Type, v)
	}
	var id any
	if err := ex.QueryRow(ctx, idQuery).Scan(&id); err != nil {
		return nil, err
	}
	return coerce(pk.Type, id)
}

// --- result shaping ---

// shape converts a scanned row into a Row: values are coerced to their
// field types and related columns ("author.name") nest under their path.
// A related row whose key is NULL (no match for the LEFT JOIN) becomes nil.
func shape(ast *query.Ast, raw map[string]any) (Row, error) {
	row := make(Row, len(ast.Columns))
	for _, col := range ast.Columns {
		v, err := coerce(col.Ref.Type, raw[col.Label])
		if err != nil {
			return nil, errs.Wrap(errs.ErrKindSQLExecution, "column "+col.Label, err)
		}
		path := strings.Split(col.Label, ".")
		node := row
		for _, seg := range path[:len(path)-1] {
			child, _ := node[seg].(Row)
			if child == nil {
				child = Row{}
				node[seg] = child
			}
			node = child
		}
		node[path[len(path)-1]] = v
	}

	joins := slices.Clone(ast.Joins)
	slices.SortStableFunc(joins, func(a, b query.Join) int {
		return strings.Count(b.Path, ".") - strings.Count(a.Path, ".")
	})
	for _, j := range joins {
		parent, key := row.parent(j.Path)
		if parent == nil {
			continue
		}
		nested, ok := parent[key].(Row)
		if ok && nested[j.Column] == nil {
			parent[key] = nil
		}
	}
	return row, nil
}
