package schema

// ColumnInfo describes a column as the live database reports it.
type ColumnInfo struct {
	Name       string
	DataType   string // as reported by the engine: integer, varchar, INTEGER, ...
	Nullable   bool
	PrimaryKey bool
}

// TableInfo describes a live table and its columns in ordinal order.
type TableInfo struct {
	Name    string
	Columns []ColumnInfo
}

// Column returns the named column.
func (t *TableInfo) Column(name string) (ColumnInfo, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnInfo{}, false
}

// ForeignKeyInfo describes one live foreign key column.
type ForeignKeyInfo struct {
	Name       string
	FromTable  string
	FromColumn string
	ToTable    string
	ToColumn   string
}

// SchemaInfo is the introspected schema of the connected database.
type SchemaInfo struct {
	Tables      []TableInfo
	ForeignKeys []ForeignKeyInfo
}

// Table returns the named table.
func (s *SchemaInfo) Table(name string) (*TableInfo, bool) {
	for i := range s.Tables {
		if s.Tables[i].Name == name {
			return &s.Tables[i], true
		}
	}
	return nil, false
}
