package introspect

// The row types below mirror the standard relational metadata enumeration
// (catalogs, schemas, tables, columns, primary keys, indexes, keys). Codes use
// the JDBC DatabaseMetaData numbering so every dialect reports the same values.

// CatalogRow is one catalog reported by the database.
type CatalogRow struct {
	Name string
}

// SchemaRow is one schema, optionally inside a catalog.
type SchemaRow struct {
	Catalog string
	Name    string
}

// TableRow is one table or view.
type TableRow struct {
	Catalog string
	Schema  string
	Name    string
	Type    string // "TABLE" or "VIEW"
	Remarks string
}

// ColumnRow is one column of a table.
type ColumnRow struct {
	Catalog       string
	Schema        string
	Table         string
	Name          string
	DataType      int    // SQL type code, see the Type* constants
	TypeName      string // native type name as reported by the database
	Size          int    // precision or character length
	DecimalDigits int    // scale
	Nullable      int    // ColumnNoNulls, ColumnNullable or ColumnNullableUnknown
	Remarks       string
	Default       *string
	Ordinal       int // 1-based position in the table
	AutoIncrement bool
}

// PrimaryKeyRow is one column of a table's primary key.
type PrimaryKeyRow struct {
	Catalog string
	Schema  string
	Table   string
	Column  string
	KeySeq  int // 1-based position within the key
	Name    string
}

// IndexRow is one column of one index. Rows of the same index share Name and
// are ordered by Ordinal.
type IndexRow struct {
	Catalog   string
	Schema    string
	Table     string
	NonUnique bool
	Qualifier string
	Name      string
	Type      int
	Ordinal   int
	Column    string // column name, or an expression when the index is functional
	AscOrDesc string // "A", "D" or ""
	Filter    string
}

// KeyRow is one column pair of a foreign key. Rows of the same key share FKName
// and are ordered by KeySeq.
type KeyRow struct {
	PKCatalog     string
	PKSchema      string
	PKTable       string
	PKColumn      string
	FKCatalog     string
	FKSchema      string
	FKTable       string
	FKColumn      string
	KeySeq        int
	UpdateRule    int
	DeleteRule    int
	FKName        string
	PKName        string
	Deferrability int
}

// Nullability codes.
const (
	ColumnNoNulls         = 0
	ColumnNullable        = 1
	ColumnNullableUnknown = 2
)

// Index type codes.
const (
	IndexStatistic = 0
	IndexClustered = 1
	IndexHashed    = 2
	IndexOther     = 3
)

// Referential action codes for UpdateRule and DeleteRule.
const (
	KeyCascade    = 0
	KeyRestrict   = 1
	KeySetNull    = 2
	KeyNoAction   = 3
	KeySetDefault = 4
)

// Deferrability codes.
const (
	KeyInitiallyDeferred  = 5
	KeyInitiallyImmediate = 6
	KeyNotDeferrable      = 7
)

// SQL type codes.
const (
	TypeBit           = -7
	TypeTinyInt       = -6
	TypeSmallInt      = 5
	TypeInteger       = 4
	TypeBigInt        = -5
	TypeFloat         = 6
	TypeReal          = 7
	TypeDouble        = 8
	TypeNumeric       = 2
	TypeDecimal       = 3
	TypeChar          = 1
	TypeVarchar       = 12
	TypeLongVarchar   = -1
	TypeDate          = 91
	TypeTime          = 92
	TypeTimestamp     = 93
	TypeBinary        = -2
	TypeVarbinary     = -3
	TypeLongVarbinary = -4
	TypeOther         = 1111
	TypeBlob          = 2004
	TypeClob          = 2005
	TypeBoolean       = 16
	TypeNChar         = -15
	TypeNVarchar      = -9
)
