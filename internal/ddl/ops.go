// Package ddl defines schema-changing operations and the table-level schema
// state they act on. Operations are plain data: dialects render them, the
// migration engine diffs, stores and replays them.
package ddl

import (
	"fmt"
	"slices"

	"github.com/koustreak/orma/internal/schema"
)

// Kind names an operation variant. It is the discriminator in migration files.
type Kind string

const (
	KindCreateTable     Kind = "create_table"
	KindDropTable       Kind = "drop_table"
	KindAddColumn       Kind = "add_column"
	KindDropColumn      Kind = "drop_column"
	KindAlterColumnType Kind = "alter_column_type"
	KindAddIndex        Kind = "add_index"
	KindDropIndex       Kind = "drop_index"
	KindAddForeignKey   Kind = "add_foreign_key"
)

// ForeignKey is the target of a referencing column.
type ForeignKey struct {
	Name     string `yaml:"name"`
	Table    string `yaml:"table"`
	Column   string `yaml:"column"`
	OnDelete string `yaml:"on_delete,omitempty"`
}

// Column is a physical column definition.
type Column struct {
	Name          string           `yaml:"name"`
	Type          schema.FieldType `yaml:"type"`
	Nullable      bool             `yaml:"nullable,omitempty"`
	Default       string           `yaml:"default,omitempty"`
	Unique        bool             `yaml:"unique,omitempty"`
	Check         string           `yaml:"check,omitempty"`
	AutoIncrement bool             `yaml:"auto_increment,omitempty"`
	Size          int              `yaml:"size,omitempty"`
	Precision     int              `yaml:"precision,omitempty"`
	Scale         int              `yaml:"scale,omitempty"`
	References    *ForeignKey      `yaml:"references,omitempty"`
}

// SameType reports whether c and o need the same native column type and
// constraints, ignoring name and foreign key.
func (c Column) SameType(o Column) bool {
	return c.Type == o.Type && c.Nullable == o.Nullable && c.Default == o.Default &&
		c.Unique == o.Unique && c.Check == o.Check && c.AutoIncrement == o.AutoIncrement &&
		c.Size == o.Size && c.Precision == o.Precision && c.Scale == o.Scale
}

func (c Column) clone() Column {
	if c.References != nil {
		fk := *c.References
		c.References = &fk
	}
	return c
}

// Index is a secondary index.
type Index struct {
	Name    string   `yaml:"name"`
	Columns []string `yaml:"columns"`
	Unique  bool     `yaml:"unique,omitempty"`
}

func (ix Index) clone() Index {
	ix.Columns = slices.Clone(ix.Columns)
	return ix
}

// Table is the full definition of one table.
type Table struct {
	Name       string   `yaml:"name"`
	App        string   `yaml:"app,omitempty"`
	Columns    []Column `yaml:"columns"`
	PrimaryKey string   `yaml:"primary_key"`
	Indexes    []Index  `yaml:"indexes,omitempty"`
}

// Column returns the named column.
func (t *Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Index returns the named index.
func (t *Table) Index(name string) (Index, bool) {
	for _, ix := range t.Indexes {
		if ix.Name == name {
			return ix, true
		}
	}
	return Index{}, false
}

// Clone deep-copies t.
func (t *Table) Clone() *Table {
	c := *t
	c.Columns = slices.Clone(t.Columns)
	for i := range c.Columns {
		c.Columns[i] = c.Columns[i].clone()
	}
	c.Indexes = slices.Clone(t.Indexes)
	for i := range c.Indexes {
		c.Indexes[i] = c.Indexes[i].clone()
	}
	return &c
}

// Operation is one reversible schema change.
type Operation interface {
	Kind() Kind
	// TableName is the table the operation changes.
	TableName() string
	// Reverse returns the operation that undoes this one.
	Reverse() Operation
	// Describe is a one-line human summary.
	Describe() string
}

// CreateTable creates a table with its columns, primary key and indexes.
type CreateTable struct {
	Table Table
}

// DropTable drops a table. It carries the full definition so it can be
// reversed.
type DropTable struct {
	Table Table
}

// AddColumn adds a column without a foreign key.
type AddColumn struct {
	Table  string
	Column Column
}

// DropColumn drops a column, foreign key included.
type DropColumn struct {
	Table  string
	Column Column
}

// AlterColumnType changes a column's type or constraints.
type AlterColumnType struct {
	Table string
	From  Column
	To    Column
}

// AddIndex creates a secondary index.
type AddIndex struct {
	Table string
	Index Index
}

// DropIndex drops a secondary index.
type DropIndex struct {
	Table string
	Index Index
}

// AddForeignKey adds a column referencing another table. Column.References
// must be set.
type AddForeignKey struct {
	Table  string
	Column Column
}

func (o *CreateTable) Kind() Kind     { return KindCreateTable }
func (o *DropTable) Kind() Kind       { return KindDropTable }
func (o *AddColumn) Kind() Kind       { return KindAddColumn }
func (o *DropColumn) Kind() Kind      { return KindDropColumn }
func (o *AlterColumnType) Kind() Kind { return KindAlterColumnType }
func (o *AddIndex) Kind() Kind        { return KindAddIndex }
func (o *DropIndex) Kind() Kind       { return KindDropIndex }
func (o *AddForeignKey) Kind() Kind   { return KindAddForeignKey }

func (o *CreateTable) TableName() string     { return o.Table.Name }
func (o *DropTable) TableName() string       { return o.Table.Name }
func (o *AddColumn) TableName() string       { return o.Table }
func (o *DropColumn) TableName() string      { return o.Table }
func (o *AlterColumnType) TableName() string { return o.Table }
func (o *AddIndex) TableName() string        { return o.Table }
func (o *DropIndex) TableName() string       { return o.Table }
func (o *AddForeignKey) TableName() string   { return o.Table }

func (o *CreateTable) Reverse() Operation { return &DropTable{Table: *o.Table.Clone()} }
func (o *DropTable) Reverse() Operation   { return &CreateTable{Table: *o.Table.Clone()} }
func (o *AddColumn) Reverse() Operation   { return &DropColumn{Table: o.Table, Column: o.Column.clone()} }

func (o *DropColumn) Reverse() Operation {
	if o.Column.References != nil {
		return &AddForeignKey{Table: o.Table, Column: o.Column.clone()}
	}
	return &AddColumn{Table: o.Table, Column: o.Column.clone()}
}

func (o *AlterColumnType) Reverse() Operation {
	return &AlterColumnType{Table: o.Table, From: o.To.clone(), To: o.From.clone()}
}

func (o *AddIndex) Reverse() Operation      { return &DropIndex{Table: o.Table, Index: o.Index.clone()} }
func (o *DropIndex) Reverse() Operation     { return &AddIndex{Table: o.Table, Index: o.Index.clone()} }
func (o *AddForeignKey) Reverse() Operation { return &DropColumn{Table: o.Table, Column: o.Column.clone()} }

func (o *CreateTable) Describe() string { return fmt.Sprintf("Create table %s", o.Table.Name) }
func (o *DropTable) Describe() string   { return fmt.Sprintf("Drop table %s", o.Table.Name) }
func (o *AddColumn) Describe() string {
	return fmt.Sprintf("Add column %s to %s", o.Column.Name, o.Table)
}
func (o *DropColumn) Describe() string {
	return fmt.Sprintf("Remove column %s from %s", o.Column.Name, o.Table)
}
func (o *AlterColumnType) Describe() string {
	return fmt.Sprintf("Alter column %s on %s", o.To.Name, o.Table)
}
func (o *AddIndex) Describe() string {
	return fmt.Sprintf("Create index %s on %s", o.Index.Name, o.Table)
}
func (o *DropIndex) Describe() string {
	return fmt.Sprintf("Drop index %s from %s", o.Index.Name, o.Table)
}
func (o *AddForeignKey) Describe() string {
	if o.Column.References == nil {
		return fmt.Sprintf("Add column %s to %s", o.Column.Name, o.Table)
	}
	return fmt.Sprintf("Add column %s to %s referencing %s", o.Column.Name, o.Table, o.Column.References.Table)
}

// ReverseAll returns the inverse of ops: each reversed, in reverse order.
func ReverseAll(ops []Operation) []Operation {
	out := make([]Operation, len(ops))
	for i, op := range ops {
		out[len(ops)-1-i] = op.Reverse()
	}
	return out
}
