package introspect

// Column represents a table column.
type Column struct {
	Name          string  `json:"name"`
	Type          string  `json:"type"`
	Nullable      bool    `json:"nullable"`
	PK            bool    `json:"pk"`
	PKSeq         *int    `json:"pk_seq,omitempty"`
	Default       *string `json:"default,omitempty"`
	AutoIncrement bool    `json:"auto_increment,omitempty"`
}

// Index represents an index and its ordered columns or expressions.
type Index struct {
	Name    string   `json:"name"`
	Unique  bool     `json:"unique"`
	Primary bool     `json:"primary,omitempty"`
	Columns []string `json:"columns"`
}

// ForeignKey represents a foreign key relationship.
type ForeignKey struct {
	FromSchema  string   `json:"from_schema,omitempty"`
	FromTable   string   `json:"from_table"`
	FromColumn  string   `json:"from_column"`
	FromColumns []string `json:"from_columns,omitempty"`
	ToSchema    string   `json:"to_schema,omitempty"`
	ToTable     string   `json:"to_table"`
	ToColumn    string   `json:"to_column"`
	ToColumns   []string `json:"to_columns,omitempty"`
	Constraint  string   `json:"constraint,omitempty"`
	Identifying bool     `json:"identifying,omitempty"`
}

// Table represents a database table and its columns.
type Table struct {
	Catalog string   `json:"catalog,omitempty"`
	Schema  string   `json:"schema,omitempty"`
	Name    string   `json:"name"`
	Kind    string   `json:"kind,omitempty"`
	Columns []Column `json:"columns"`
	Indexes []Index  `json:"indexes,omitempty"`
	Comment *string  `json:"comment,omitempty"` // optional table comment
}

// Schema is the full DB schema extracted for visualization.
type Schema struct {
	Tables      []Table      `json:"tables"`
	ForeignKeys []ForeignKey `json:"foreign_keys"`
}
