package introspect

import "strings"

var typeNames = map[int]string{
	TypeBit:           "BIT",
	TypeTinyInt:       "TINYINT",
	TypeSmallInt:      "SMALLINT",
	TypeInteger:       "INTEGER",
	TypeBigInt:        "BIGINT",
	TypeFloat:         "FLOAT",
	TypeReal:          "REAL",
	TypeDouble:        "DOUBLE",
	TypeNumeric:       "NUMERIC",
	TypeDecimal:       "DECIMAL",
	TypeChar:          "CHAR",
	TypeVarchar:       "VARCHAR",
	TypeLongVarchar:   "LONGVARCHAR",
	TypeDate:          "DATE",
	TypeTime:          "TIME",
	TypeTimestamp:     "TIMESTAMP",
	TypeBinary:        "BINARY",
	TypeVarbinary:     "VARBINARY",
	TypeLongVarbinary: "LONGVARBINARY",
	TypeOther:         "OTHER",
	TypeBlob:          "BLOB",
	TypeClob:          "CLOB",
	TypeBoolean:       "BOOLEAN",
	TypeNChar:         "NCHAR",
	TypeNVarchar:      "NVARCHAR",
}

// TypeName returns the generic name of a SQL type code.
func TypeName(code int) string {
	if name, ok := typeNames[code]; ok {
		return name
	}
	return "OTHER"
}

// native type names, lower case and without arguments
var nativeTypes = map[string]int{
	"bit":                         TypeBit,
	"tinyint":                     TypeTinyInt,
	"smallint":                    TypeSmallInt,
	"int2":                        TypeSmallInt,
	"smallserial":                 TypeSmallInt,
	"int":                         TypeInteger,
	"int4":                        TypeInteger,
	"integer":                     TypeInteger,
	"mediumint":                   TypeInteger,
	"serial":                      TypeInteger,
	"bigint":                      TypeBigInt,
	"int8":                        TypeBigInt,
	"bigserial":                   TypeBigInt,
	"float":                       TypeFloat,
	"real":                        TypeReal,
	"float4":                      TypeReal,
	"double":                      TypeDouble,
	"double precision":            TypeDouble,
	"float8":                      TypeDouble,
	"binary_double":               TypeDouble,
	"binary_float":                TypeReal,
	"numeric":                     TypeNumeric,
	"number":                      TypeNumeric,
	"decimal":                     TypeDecimal,
	"money":                       TypeDecimal,
	"char":                        TypeChar,
	"character":                   TypeChar,
	"bpchar":                      TypeChar,
	"varchar":                     TypeVarchar,
	"varchar2":                    TypeVarchar,
	"character varying":           TypeVarchar,
	"text":                        TypeLongVarchar,
	"mediumtext":                  TypeLongVarchar,
	"longtext":                    TypeLongVarchar,
	"tinytext":                    TypeLongVarchar,
	"date":                        TypeDate,
	"time":                        TypeTime,
	"time without time zone":      TypeTime,
	"timestamp":                   TypeTimestamp,
	"timestamp without time zone": TypeTimestamp,
	"timestamp with time zone":    TypeTimestamp,
	"timestamptz":                 TypeTimestamp,
	"datetime":                    TypeTimestamp,
	"datetime2":                   TypeTimestamp,
	"smalldatetime":               TypeTimestamp,
	"binary":                      TypeBinary,
	"varbinary":                   TypeVarbinary,
	"bytea":                       TypeLongVarbinary,
	"raw":                         TypeVarbinary,
	"image":                       TypeLongVarbinary,
	"blob":                        TypeBlob,
	"longblob":                    TypeBlob,
	"mediumblob":                  TypeBlob,
	"clob":                        TypeClob,
	"nclob":                       TypeClob,
	"boolean":                     TypeBoolean,
	"bool":                        TypeBoolean,
	"nchar":                       TypeNChar,
	"nvarchar":                    TypeNVarchar,
	"nvarchar2":                   TypeNVarchar,
	"ntext":                       TypeNVarchar,
}

// TypeCode maps a native type name such as "varchar(20)" or "INT UNSIGNED"
// to a SQL type code. Unknown names map to TypeOther.
func TypeCode(native string) int {
	name := strings.ToLower(strings.TrimSpace(native))
	if i := strings.IndexByte(name, '('); i >= 0 {
		name = strings.TrimSpace(name[:i])
	}
	if code, ok := nativeTypes[name]; ok {
		return code
	}
	name = strings.TrimSuffix(name, " unsigned")
	if code, ok := nativeTypes[name]; ok {
		return code
	}
	// SQLite type affinity
	switch {
	case strings.Contains(name, "int"):
		return TypeInteger
	case strings.Contains(name, "char"), strings.Contains(name, "clob"), strings.Contains(name, "text"):
		return TypeVarchar
	case strings.Contains(name, "real"), strings.Contains(name, "floa"), strings.Contains(name, "doub"):
		return TypeDouble
	}
	return TypeOther
}

// TypeSize extracts the precision and scale arguments of a native type name,
// "decimal(10,2)" yields 10 and 2.
func TypeSize(native string) (precision, scale int) {
	open := strings.IndexByte(native, '(')
	end := strings.IndexByte(native, ')')
	if open < 0 || end < open {
		return 0, 0
	}
	args := strings.Split(native[open+1:end], ",")
	precision = atoi(args[0])
	if len(args) > 1 {
		scale = atoi(args[1])
	}
	return precision, scale
}

func atoi(s string) int {
	n := 0
	for _, r := range strings.TrimSpace(s) {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}
