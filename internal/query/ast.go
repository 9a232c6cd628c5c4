package query

import "github.com/koustreak/orma/internal/schema"

// Kind is the statement a query compiles to.
type Kind int

const (
	KindSelect Kind = iota
	KindCount
	KindUpdate
	KindDelete
	KindInsert
)

func (k Kind) String() string {
	switch k {
	case KindCount:
		return "count"
	case KindUpdate:
		return "update"
	case KindDelete:
		return "delete"
	case KindInsert:
		return "insert"
	default:
		return "select"
	}
}

// BaseAlias is the alias of the queried table.
const BaseAlias = "t0"

// ColumnRef is a resolved physical column.
type ColumnRef struct {
	Alias  string
	Column string
	Type   schema.FieldType
}

// Join is one LEFT JOIN added for a relation hop.
//
//	LEFT JOIN <Table> AS <Alias> ON <Alias>.<Column> = <FromAlias>.<FromColumn>
type Join struct {
	Path       string // relation path that produced the join ("author", "author.company")
	Table      string
	Alias      string
	Column     string
	FromAlias  string
	FromColumn string
}

// SelectColumn is one entry of the select list. Label is the result column
// name: the column name for the base model, "<path>.<column>" for related
// models.
type SelectColumn struct {
	Ref   ColumnRef
	Label string
}

// OrderKey is one ORDER BY entry.
type OrderKey struct {
	Ref  ColumnRef
	Desc bool
}

// Assignment is one column value of an INSERT or UPDATE.
type Assignment struct {
	Column string
	Value  any
}

// Ast is a fully resolved, backend-agnostic query. Every field path has been
// checked against the registry; compilers only render.
type Ast struct {
	Kind  Kind
	Model *schema.ModelDescriptor
	Table string
	Alias string

	Columns []SelectColumn
	Where   Predicate // nil when unfiltered; comparisons carry Ref
	OrderBy []OrderKey
	Joins   []Join

	Limit  *int64
	Offset *int64

	// Values holds INSERT/UPDATE assignments in column declaration order.
	Values []Assignment

	// Refs maps every field path used by the query to its column.
	Refs map[string]ColumnRef

	// Related lists the SelectRelated paths in request order.
	Related []string
}

// PrimaryKey returns the base table's primary key column.
func (a *Ast) PrimaryKey() ColumnRef {
	pk, _ := a.Model.Field(a.Model.PrimaryKey)
	return ColumnRef{Alias: a.Alias, Column: pk.Name, Type: pk.Type}
}
