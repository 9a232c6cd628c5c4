package ddl

import (
	"fmt"

	"go.yaml.in/yaml/v3"
)

// Record is the serialized form of an Operation: a discriminator plus the
// fields the variant uses. It is what migration files contain and what
// checksums are computed over.
type Record struct {
	Op     Kind    `yaml:"op" msgpack:"op"`
	Table  string  `yaml:"table,omitempty" msgpack:"table"`
	Create *Table  `yaml:"definition,omitempty" msgpack:"definition"`
	Column *Column `yaml:"column,omitempty" msgpack:"column"`
	From   *Column `yaml:"from,omitempty" msgpack:"from"`
	To     *Column `yaml:"to,omitempty" msgpack:"to"`
	Index  *Index  `yaml:"index,omitempty" msgpack:"index"`
}

// ToRecord serializes op.
func ToRecord(op Operation) Record {
	switch o := op.(type) {
	case *CreateTable:
		return Record{Op: KindCreateTable, Table: o.Table.Name, Create: o.Table.Clone()}
	case *DropTable:
		return Record{Op: KindDropTable, Table: o.Table.Name, Create: o.Table.Clone()}
	case *AddColumn:
		c := o.Column.clone()
		return Record{Op: KindAddColumn, Table: o.Table, Column: &c}
	case *DropColumn:
		c := o.Column.clone()
		return Record{Op: KindDropColumn, Table: o.Table, Column: &c}
	case *AddForeignKey:
		c := o.Column.clone()
		return Record{Op: KindAddForeignKey, Table: o.Table, Column: &c}
	case *AlterColumnType:
		from, to := o.From.clone(), o.To.clone()
		return Record{Op: KindAlterColumnType, Table: o.Table, From: &from, To: &to}
	case *AddIndex:
		ix := o.Index.clone()
		return Record{Op: KindAddIndex, Table: o.Table, Index: &ix}
	case *DropIndex:
		ix := o.Index.clone()
		return Record{Op: KindDropIndex, Table: o.Table, Index: &ix}
	}
	panic(fmt.Sprintf("ddl: unknown operation %T", op))
}

// Operation deserializes the record.
func (r Record) Operation() (Operation, error) {
	need := func(ok bool, field string) error {
		if !ok {
			return fmt.Errorf("%s on %q is missing %q", r.Op, r.Table, field)
		}
		return nil
	}

	switch r.Op {
	case KindCreateTable, KindDropTable:
		if err := need(r.Create != nil, "definition"); err != nil {
			return nil, err
		}
		if r.Op == KindCreateTable {
			return &CreateTable{Table: *r.Create.Clone()}, nil
		}
		return &DropTable{Table: *r.Create.Clone()}, nil
	case KindAddColumn, KindDropColumn, KindAddForeignKey:
		if err := need(r.Column != nil, "column"); err != nil {
			return nil, err
		}
		c := r.Column.clone()
		switch r.Op {
		case KindAddColumn:
			return &AddColumn{Table: r.Table, Column: c}, nil
		case KindDropColumn:
			return &DropColumn{Table: r.Table, Column: c}, nil
		}
		if err := need(c.References != nil, "column.references"); err != nil {
			return nil, err
		}
		return &AddForeignKey{Table: r.Table, Column: c}, nil
	case KindAlterColumnType:
		if err := need(r.From != nil && r.To != nil, "from/to"); err != nil {
			return nil, err
		}
		return &AlterColumnType{Table: r.Table, From: r.From.clone(), To: r.To.clone()}, nil
	case KindAddIndex, KindDropIndex:
		if err := need(r.Index != nil, "index"); err != nil {
			return nil, err
		}
		if r.Op == KindAddIndex {
			return &AddIndex{Table: r.Table, Index: r.Index.clone()}, nil
		}
		return &DropIndex{Table: r.Table, Index: r.Index.clone()}, nil
	}
	return nil, fmt.Errorf("unknown operation %q", r.Op)
}

// List is an ordered operation list that (de)serializes as YAML records.
type List []Operation

// Records serializes every operation.
func (l List) Records() []Record {
	out := make([]Record, len(l))
	for i, op := range l {
		out[i] = ToRecord(op)
	}
	return out
}

// MarshalYAML encodes the list as a sequence of records.
func (l List) MarshalYAML() (any, error) {
	return l.Records(), nil
}

// UnmarshalYAML decodes a sequence of records.
func (l *List) UnmarshalYAML(node *yaml.Node) error {
	var recs []Record
	if err := node.Decode(&recs); err != nil {
		return err
	}
	ops := make(List, 0, len(recs))
	for i, r := range recs {
		op, err := r.Operation()
		if err != nil {
			return fmt.Errorf("operation %d (line %d): %w", i, node.Line, err)
		}
		ops = append(ops, op)
	}
	*l = ops
	return nil
}
