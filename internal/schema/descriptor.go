package schema

import (
	"fmt"
	"strings"
)

// FieldType is the semantic type of a model field. Dialects map it to a
// native column type.
type FieldType int

const (
	TypeInvalid FieldType = iota
	TypeInteger
	TypeText
	TypeTimestamp
	TypeBoolean
	TypeBlob
	TypeDecimal
)

var fieldTypeNames = map[FieldType]string{
	TypeInteger:   "integer",
	TypeText:      "text",
	TypeTimestamp: "timestamp",
	TypeBoolean:   "boolean",
	TypeBlob:      "blob",
	TypeDecimal:   "decimal",
}

func (t FieldType) String() string {
	if s, ok := fieldTypeNames[t]; ok {
		return s
	}
	return "invalid"
}

// ParseFieldType is the inverse of FieldType.String. It also accepts a few
// common aliases (int, string, bool, datetime, bytes, numeric).
func ParseFieldType(s string) (FieldType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "integer", "int", "bigint":
		return TypeInteger, nil
	case "text", "string":
		return TypeText, nil
	case "timestamp", "datetime", "time":
		return TypeTimestamp, nil
	case "boolean", "bool":
		return TypeBoolean, nil
	case "blob", "bytes", "binary":
		return TypeBlob, nil
	case "decimal", "numeric":
		return TypeDecimal, nil
	}
	return TypeInvalid, fmt.Errorf("unknown field type %q", s)
}

// MarshalYAML encodes the type by name.
func (t FieldType) MarshalYAML() (any, error) {
	return t.String(), nil
}

// UnmarshalYAML decodes a type name.
func (t *FieldType) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	ft, err := ParseFieldType(s)
	if err != nil {
		return err
	}
	*t = ft
	return nil
}

// FieldDescriptor describes one persisted column of a model.
type FieldDescriptor struct {
	Name     string    `yaml:"name"`
	Type     FieldType `yaml:"type"`
	Nullable bool      `yaml:"nullable,omitempty"`

	// Default is a SQL default expression rendered verbatim ("0", "'draft'",
	// "CURRENT_TIMESTAMP"). Empty means no default.
	Default string `yaml:"default,omitempty"`

	Unique bool `yaml:"unique,omitempty"`

	// Check is a boolean SQL expression rendered as a named CHECK constraint.
	Check string `yaml:"check,omitempty"`

	AutoIncrement bool `yaml:"auto_increment,omitempty"`

	Size      int `yaml:"size,omitempty"`      // text: VARCHAR(n) where supported, 0 = unbounded
	Precision int `yaml:"precision,omitempty"` // decimal
	Scale     int `yaml:"scale,omitempty"`     // decimal
}

// RelationKind distinguishes foreign keys from many-to-many links.
type RelationKind int

const (
	RelationForeignKey RelationKind = iota
	RelationManyToMany
)

func (k RelationKind) String() string {
	if k == RelationManyToMany {
		return "many_to_many"
	}
	return "foreign_key"
}

// MarshalYAML encodes the kind by name.
func (k RelationKind) MarshalYAML() (any, error) {
	return k.String(), nil
}

// UnmarshalYAML decodes "foreign_key" / "many_to_many".
func (k *RelationKind) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	switch strings.ToLower(s) {
	case "", "foreign_key", "fk":
		*k = RelationForeignKey
	case "many_to_many", "m2m":
		*k = RelationManyToMany
	default:
		return fmt.Errorf("unknown relation kind %q", s)
	}
	return nil
}

// OnDelete is the referential action applied when the target row is deleted.
type OnDelete string

const (
	OnDeleteNoAction OnDelete = "NO ACTION"
	OnDeleteCascade  OnDelete = "CASCADE"
	OnDeleteSetNull  OnDelete = "SET NULL"
	OnDeleteRestrict OnDelete = "RESTRICT"
)

func (o OnDelete) valid() bool {
	switch o {
	case OnDeleteNoAction, OnDeleteCascade, OnDeleteSetNull, OnDeleteRestrict:
		return true
	}
	return false
}

// Relation links a model to another model.
type Relation struct {
	// Name is the relation name used in field paths and SelectRelated.
	Name   string       `yaml:"name"`
	Kind   RelationKind `yaml:"kind"`
	Target string       `yaml:"target"` // target model id

	// ForeignKey only.
	Column   string   `yaml:"column,omitempty"` // defaults to <name>_id
	OnDelete OnDelete `yaml:"on_delete,omitempty"`
	Nullable bool     `yaml:"nullable,omitempty"`

	// ManyToMany only.
	JoinTable    string `yaml:"join_table,omitempty"`    // defaults to <table>_<name>
	SourceColumn string `yaml:"source_column,omitempty"` // defaults to <singular table>_id
	TargetColumn string `yaml:"target_column,omitempty"` // defaults to <singular target table>_id

	// Resolved by Registry.Init.
	ColumnType  FieldType `yaml:"-"` // type of the target primary key
	TargetTable string    `yaml:"-"`
	TargetPK    string    `yaml:"-"`
}

// IndexDescriptor declares a secondary index.
type IndexDescriptor struct {
	Name   string   `yaml:"name,omitempty"`
	Fields []string `yaml:"fields"`
	Unique bool     `yaml:"unique,omitempty"`
}

// ModelDescriptor is the immutable metadata of one persisted entity.
type ModelDescriptor struct {
	// ID is the model identity, conventionally "<app>.<Name>".
	ID   string `yaml:"id"`
	App  string `yaml:"app"`
	Name string `yaml:"name"`

	// Table defaults to the snake_case plural of Name.
	Table string `yaml:"table,omitempty"`

	Fields     []FieldDescriptor `yaml:"fields"`
	PrimaryKey string            `yaml:"primary_key"`
	Relations  []Relation        `yaml:"relations,omitempty"`
	Indexes    []IndexDescriptor `yaml:"indexes,omitempty"`
}

// Field returns the named field.
func (m *ModelDescriptor) Field(name string) (FieldDescriptor, bool) {
	for _, f := range m.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDescriptor{}, false
}

// Relation returns the named relation.
func (m *ModelDescriptor) Relation(name string) (Relation, bool) {
	for _, r := range m.Relations {
		if r.Name == name {
			return r, true
		}
	}
	return Relation{}, false
}

// Column describes one physical column of the model's table: either a
// declared field or the column contributed by a foreign-key relation.
type Column struct {
	FieldDescriptor
	Relation *Relation // set for foreign-key columns
}

// Columns returns the physical columns in declaration order: fields first,
// then foreign-key columns in relation order.
func (m *ModelDescriptor) Columns() []Column {
	cols := make([]Column, 0, len(m.Fields)+len(m.Relations))
	for _, f := range m.Fields {
		cols = append(cols, Column{FieldDescriptor: f})
	}
	for i := range m.Relations {
		r := &m.Relations[i]
		if r.Kind != RelationForeignKey {
			continue
		}
		cols = append(cols, Column{
			FieldDescriptor: FieldDescriptor{
				Name:     r.Column,
				Type:     r.ColumnType,
				Nullable: r.Nullable,
			},
			Relation: r,
		})
	}
	return cols
}

// Column resolves a column by name, including foreign-key columns.
func (m *ModelDescriptor) Column(name string) (Column, bool) {
	for _, c := range m.Columns() {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// clone deep-copies the descriptor so the registry owns its data.
func (m *ModelDescriptor) clone() *ModelDescriptor {
	c := *m
	c.Fields = append([]FieldDescriptor(nil), m.Fields...)
	c.Relations = append([]Relation(nil), m.Relations...)
	c.Indexes = make([]IndexDescriptor, len(m.Indexes))
	for i, ix := range m.Indexes {
		ix.Fields = append([]string(nil), ix.Fields...)
		c.Indexes[i] = ix
	}
	return &c
}
