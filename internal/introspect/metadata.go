package introspect

import "context"

// Metadata enumerates the catalog of one borrowed database connection.
// Empty catalog or schema arguments mean "not applicable" for dialects that
// have no such level.
type Metadata interface {
	Catalogs(ctx context.Context) ([]CatalogRow, error)
	Schemas(ctx context.Context, catalog string) ([]SchemaRow, error)
	Tables(ctx context.Context, catalog, schema string) ([]TableRow, error)
	Columns(ctx context.Context, catalog, schema, table string) ([]ColumnRow, error)
	PrimaryKeys(ctx context.Context, catalog, schema, table string) ([]PrimaryKeyRow, error)
	Indexes(ctx context.Context, catalog, schema, table string) ([]IndexRow, error)
	ImportedKeys(ctx context.Context, catalog, schema, table string) ([]KeyRow, error)
	ExportedKeys(ctx context.Context, catalog, schema, table string) ([]KeyRow, error)

	// Close returns the connection to its pool.
	Close() error
}

// Connector hands out metadata connections. Each call yields a distinct
// connection; callers must Close it.
type Connector interface {
	Connect(ctx context.Context) (Metadata, error)
}
