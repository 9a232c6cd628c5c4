package dialect

import (
	"strings"

	"github.com/koustreak/orma/internal/query"
)

// compiler accumulates one statement. Values are never interpolated into
// the SQL string, always passed as args.
type compiler struct {
	d       *base
	sb      strings.Builder
	args    []any
	qualify bool // prefix columns with their table alias
}

// CompileQuery lowers ast into one parameterized statement.
func (b *base) CompileQuery(ast *query.Ast) (string, []any, error) {
	if ast == nil || ast.Model == nil {
		return "", nil, compileErr("cannot compile an empty query")
	}
	c := &compiler{d: b, qualify: len(ast.Joins) > 0}

	var err error
	switch ast.Kind {
	case query.KindSelect:
		err = c.selectStmt(ast)
	case query.KindCount:
		err = c.countStmt(ast)
	case query.KindUpdate:
		err = c.updateStmt(ast)
	case query.KindDelete:
		err = c.deleteStmt(ast)
	case query.KindInsert:
		err = c.insertStmt(ast)
	default:
		err = compileErr("unsupported query kind %s", ast.Kind)
	}
	if err != nil {
		return "", nil, err
	}
	return c.sb.String(), c.args, nil
}

func (c *compiler) write(s ...string) {
	for _, p := range s {
		c.sb.WriteString(p)
	}
}

func (c *compiler) param(v any) {
	c.args = append(c.args, v)
	c.sb.WriteString(c.d.Placeholder(len(c.args)))
}

func (c *compiler) column(ref query.ColumnRef) {
	if c.qualify {
		c.write(c.d.quote(ref.Alias), ".")
	}
	c.write(c.d.quote(ref.Column))
}

func paginated(ast *query.Ast) bool {
	return ast.Limit != nil || ast.Offset != nil
}

// --- statements ---

func (c *compiler) selectStmt(ast *query.Ast) error {
	c.write("SELECT ")
	if len(ast.Columns) == 0 {
		c.write("*")
	}
	for i, col := range ast.Columns {
		if i > 0 {
			c.write(", ")
		}
		c.column(col.Ref)
		if c.qualify {
			c.write(" AS ", c.d.quote(col.Label))
		}
	}
	return c.body(ast)
}

// countStmt counts the page when paginated, the whole match otherwise.
func (c *compiler) countStmt(ast *query.Ast) error {
	c.write("SELECT COUNT(*) FROM ")
	if !paginated(ast) {
		c.from(ast)
		return c.where(ast)
	}
	c.write("(")
	if err := c.keySubquery(ast); err != nil {
		return err
	}
	c.write(") AS ", c.d.quote("sub"))
	return nil
}

func (c *compiler) updateStmt(ast *query.Ast) error {
	if len(ast.Values) == 0 {
		return compileErr("update of %s sets no columns", ast.Table)
	}
	c.write("UPDATE ", c.d.quote(ast.Table), " SET ")
	for i, a := range ast.Values {
		if i > 0 {
			c.write(", ")
		}
		c.write(c.d.quote(a.Column), " = ")
		c.param(a.Value)
	}
	return c.dmlFilter(ast)
}

func (c *compiler) deleteStmt(ast *query.Ast) error {
	c.write("DELETE FROM ", c.d.quote(ast.Table))
	return c.dmlFilter(ast)
}

func (c *compiler) insertStmt(ast *query.Ast) error {
	if len(ast.Values) == 0 {
		return compileErr("insert into %s has no values", ast.Table)
	}
	cols := make([]string, len(ast.Values))
	for i, a := range ast.Values {
		cols[i] = a.Column
	}
	c.write("INSERT INTO ", c.d.quote(ast.Table), " (", c.d.quoteList(cols), ") VALUES (")
	for i, a := range ast.Values {
		if i > 0 {
			c.write(", ")
		}
		c.param(a.Value)
	}
	c.write(")")
	if c.d.returning {
		c.write(" RETURNING ", c.d.quote(ast.Model.PrimaryKey))
	}
	return nil
}

// dmlFilter renders the WHERE of UPDATE/DELETE. Joins and pagination cannot
// be expressed on the target table portably, so such statements select the
// matching keys in a subquery.
func (c *compiler) dmlFilter(ast *query.Ast) error {
	if len(ast.Joins) == 0 && !paginated(ast) {
		c.qualify = false
		return c.where(ast)
	}

	pk := c.d.quote(ast.Model.PrimaryKey)
	c.write(" WHERE ", pk, " IN (")
	if c.d.materializeDML {
		c.write("SELECT ", pk, " FROM (")
	}
	if err := c.keySubquery(ast); err != nil {
		return err
	}
	if c.d.materializeDML {
		c.write(") AS ", c.d.quote("sub"))
	}
	c.write(")")
	return nil
}

// keySubquery selects the primary keys of the matching rows.
func (c *compiler) keySubquery(ast *query.Ast) error {
	c.qualify = len(ast.Joins) > 0
	c.write("SELECT ")
	c.column(ast.PrimaryKey())
	return c.body(ast)
}

// body renders FROM through pagination.
func (c *compiler) body(ast *query.Ast) error {
	c.write(" FROM ")
	c.from(ast)
	if err := c.where(ast); err != nil {
		return err
	}

	if len(ast.OrderBy) > 0 {
		c.write(" ORDER BY ")
		for i, k := range ast.OrderBy {
			if i > 0 {
				c.write(", ")
			}
			c.column(k.Ref)
			if k.Desc {
				c.write(" DESC")
			} else {
				c.write(" ASC")
			}
		}
	}

	switch {
	case ast.Limit != nil:
		c.write(" LIMIT ")
		c.param(*ast.Limit)
		if ast.Offset != nil {
			c.write(" OFFSET ")
			c.param(*ast.Offset)
		}
	case ast.Offset != nil:
		if c.d.offsetOnlyLimit != "" {
			c.write(" LIMIT ", c.d.offsetOnlyLimit)
		}
		c.write(" OFFSET ")
		c.param(*ast.Offset)
	}
	return nil
}

func (c *compiler) from(ast *query.Ast) {
	c.write(c.d.quote(ast.Table))
	if !c.qualify {
		return
	}
	c.write(" AS ", c.d.quote(ast.Alias))
	for _, j := range ast.Joins {
		c.write(" LEFT JOIN ", c.d.quote(j.Table), " AS ", c.d.quote(j.Alias), " ON ",
			c.d.quote(j.Alias), ".", c.d.quote(j.Column), " = ",
			c.d.quote(j.FromAlias), ".", c.d.quote(j.FromColumn))
	}
}

func (c *compiler) where(ast *query.Ast) error {
	if ast.Where == nil {
		return nil
	}
	c.write(" WHERE ")
	return c.predicate(ast.Where)
}

// --- predicates ---

// predicate renders p fully parenthesized so precedence never depends on
// the engine's operator rules.
func (c *compiler) predicate(p query.Predicate) error {
	switch n := p.(type) {
	case *query.Comparison:
		return c.comparison(n)

	case *query.Group:
		if len(n.Children) == 0 {
			if n.Conj == query.ConjOr {
				c.write("1 = 0")
			} else {
				c.write("1 = 1")
			}
			return nil
		}
		sep := " AND "
		if n.Conj == query.ConjOr {
			sep = " OR "
		}
		c.write("(")
		for i, child := range n.Children {
			if i > 0 {
				c.write(sep)
			}
			if err := c.predicate(child); err != nil {
				return err
			}
		}
		c.write(")")
		return nil

	case *query.Negation:
		c.write("NOT ")
		if g, ok := n.Inner.(*query.Group); ok && len(g.Children) > 0 {
			return c.predicate(g)
		}
		c.write("(")
		if err := c.predicate(n.Inner); err != nil {
			return err
		}
		c.write(")")
		return nil
	}
	return compileErr("unsupported predicate %T", p)
}

var binaryOps = map[query.Op]string{
	query.OpEq:   " = ",
	query.OpNe:   " <> ",
	query.OpLt:   " < ",
	query.OpLte:  " <= ",
	query.OpGt:   " > ",
	query.OpGte:  " >= ",
	query.OpLike: " LIKE ",
}

func (c *compiler) comparison(n *query.Comparison) error {
	if n.Ref.Column == "" {
		return compileErr("field %q was not resolved", n.Field)
	}

	switch n.Op {
	case query.OpIsNull:
		c.column(n.Ref)
		c.write(" IS NULL")
		return nil
	case query.OpNotNull:
		c.column(n.Ref)
		c.write(" IS NOT NULL")
		return nil
	case query.OpEq, query.OpNe:
		if n.Value == nil {
			c.column(n.Ref)
			if n.Op == query.OpEq {
				c.write(" IS NULL")
			} else {
				c.write(" IS NOT NULL")
			}
			return nil
		}
	case query.OpILike:
		if c.d.nativeILike {
			c.column(n.Ref)
			c.write(" ILIKE ")
			c.param(n.Value)
			return nil
		}
		c.write("LOWER(")
		c.column(n.Ref)
		c.write(") LIKE LOWER(")
		c.param(n.Value)
		c.write(")")
		return nil
	case query.OpIn:
		vals, ok := n.Value.([]any)
		if !ok {
			return compileErr("in on %q needs a value list, got %T", n.Field, n.Value)
		}
		if len(vals) == 0 {
			c.write("1 = 0")
			return nil
		}
		c.column(n.Ref)
		c.write(" IN (")
		for i, v := range vals {
			if i > 0 {
				c.write(", ")
			}
			c.param(v)
		}
		c.write(")")
		return nil
	}

	op, ok := binaryOps[n.Op]
	if !ok {
		return compileErr("unsupported operator %s", n.Op)
	}
	c.column(n.Ref)
	c.write(op)
	c.param(n.Value)
	return nil
}
