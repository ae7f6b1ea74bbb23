package models

// TableStructure is the full introspected shape of one table.
type TableStructure struct {
	TableName   string            `json:"table_name"`
	Columns     []ColumnStructure `json:"columns"`
	PrimaryKeys []string          `json:"primary_keys"`
	ForeignKeys []ForeignKey      `json:"foreign_keys"`
	Indexes     []Index           `json:"indexes"`
}

// ColumnStructure describes a single column.
type ColumnStructure struct {
	Name                   string  `json:"name"`
	DataType               string  `json:"data_type"`
	IsNullable             bool    `json:"is_nullable"`
	ColumnDefault          *string `json:"column_default,omitempty"`
	IsPrimaryKey           bool    `json:"is_primary_key"`
	IsForeignKey           bool    `json:"is_foreign_key"`
	CharacterMaximumLength *int64  `json:"character_maximum_length,omitempty"`
	NumericPrecision       *int64  `json:"numeric_precision,omitempty"`
	NumericScale           *int64  `json:"numeric_scale,omitempty"`
}

// ForeignKey describes one outgoing foreign key reference.
type ForeignKey struct {
	ColumnName       string `json:"column_name"`
	ReferencedTable  string `json:"referenced_table"`
	ReferencedColumn string `json:"referenced_column"`
}

// Index describes one index on a table.
type Index struct {
	Name     string   `json:"name"`
	Columns  []string `json:"columns"`
	IsUnique bool     `json:"is_unique"`
}

// ColumnNames returns the names of all columns, in declaration order.
func (t *TableStructure) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// HasColumn reports whether the table declares a column with this name.
func (t *TableStructure) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c.Name == name {
			return true
		}
	}
	return false
}
