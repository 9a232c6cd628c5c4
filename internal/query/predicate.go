package query

import "fmt"

// Op is a comparison operator.
type Op int

const (
	OpEq Op = iota
	OpNe
	OpLt
	OpLte
	OpGt
	OpGte
	OpLike
	OpILike
	OpIn
	OpIsNull
	OpNotNull
)

var opNames = [...]string{
	OpEq:      "eq",
	OpNe:      "ne",
	OpLt:      "lt",
	OpLte:     "lte",
	OpGt:      "gt",
	OpGte:     "gte",
	OpLike:    "like",
	OpILike:   "ilike",
	OpIn:      "in",
	OpIsNull:  "isnull",
	OpNotNull: "notnull",
}

func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// Conj joins the children of a Group.
type Conj int

const (
	ConjAnd Conj = iota
	ConjOr
)

func (c Conj) String() string {
	if c == ConjOr {
		return "OR"
	}
	return "AND"
}

// Predicate is a node of a filter tree: *Comparison, *Group or *Negation.
type Predicate interface {
	predicate()
}

// Comparison compares one field path with a value.
type Comparison struct {
	// Field is a field path: "age", "author.name", "pk".
	Field string
	Op    Op
	// Value is a scalar; for OpIn a []any. Unused for OpIsNull/OpNotNull.
	Value any

	// Ref is filled in by the builder on the resolved copy.
	Ref ColumnRef
}

// Group combines children with AND or OR.
type Group struct {
	Conj     Conj
	Children []Predicate
}

// Negation inverts its inner predicate.
type Negation struct {
	Inner Predicate
}

func (*Comparison) predicate() {}
func (*Group) predicate()      {}
func (*Negation) predicate()   {}

// --- constructors ---

func Eq(field string, v any) *Comparison  { return &Comparison{Field: field, Op: OpEq, Value: v} }
func Ne(field string, v any) *Comparison  { return &Comparison{Field: field, Op: OpNe, Value: v} }
func Lt(field string, v any) *Comparison  { return &Comparison{Field: field, Op: OpLt, Value: v} }
func Lte(field string, v any) *Comparison { return &Comparison{Field: field, Op: OpLte, Value: v} }
func Gt(field string, v any) *Comparison  { return &Comparison{Field: field, Op: OpGt, Value: v} }
func Gte(field string, v any) *Comparison { return &Comparison{Field: field, Op: OpGte, Value: v} }

// Like matches a SQL LIKE pattern; the caller supplies the wildcards.
func Like(field, pattern string) *Comparison {
	return &Comparison{Field: field, Op: OpLike, Value: pattern}
}

// ILike is a case-insensitive Like.
func ILike(field, pattern string) *Comparison {
	return &Comparison{Field: field, Op: OpILike, Value: pattern}
}

// In matches any of values. An empty list matches nothing.
func In(field string, values ...any) *Comparison {
	return &Comparison{Field: field, Op: OpIn, Value: append([]any{}, values...)}
}

func IsNull(field string) *Comparison  { return &Comparison{Field: field, Op: OpIsNull} }
func NotNull(field string) *Comparison { return &Comparison{Field: field, Op: OpNotNull} }

// And groups predicates so that all must hold.
func And(ps ...Predicate) *Group { return &Group{Conj: ConjAnd, Children: ps} }

// Or groups predicates so that at least one must hold.
func Or(ps ...Predicate) *Group { return &Group{Conj: ConjOr, Children: ps} }

// Not negates p.
func Not(p Predicate) *Negation { return &Negation{Inner: p} }
