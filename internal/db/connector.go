package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	_ "github.com/denisenkom/go-mssqldb"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"schemamodel/internal/introspect"
	"schemamodel/pkg/config"
)

// ErrDialectNotRegistered is returned for a driver no extractor serves.
var ErrDialectNotRegistered = errors.New("dialect not registered")

// Querier is the part of a borrowed connection an Extractor needs.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Extractor reads the metadata catalog of one database dialect. Each method
// runs on the connection it is handed and never opens another one.
type Extractor interface {
	Catalogs(ctx context.Context, q Querier) ([]introspect.CatalogRow, error)
	Schemas(ctx context.Context, q Querier, catalog string) ([]introspect.SchemaRow, error)
	Tables(ctx context.Context, q Querier, catalog, schema string) ([]introspect.TableRow, error)
	Columns(ctx context.Context, q Querier, catalog, schema, table string) ([]introspect.ColumnRow, error)
	PrimaryKeys(ctx context.Context, q Querier, catalog, schema, table string) ([]introspect.PrimaryKeyRow, error)
	Indexes(ctx context.Context, q Querier, catalog, schema, table string) ([]introspect.IndexRow, error)
	ImportedKeys(ctx context.Context, q Querier, catalog, schema, table string) ([]introspect.KeyRow, error)
	ExportedKeys(ctx context.Context, q Querier, catalog, schema, table string) ([]introspect.KeyRow, error)
}

var (
	dialectsMu sync.RWMutex
	dialects   = map[string]Extractor{}
)

// Register makes an Extractor available under name.
func Register(name string, e Extractor) {
	dialectsMu.Lock()
	defer dialectsMu.Unlock()
	dialects[strings.ToLower(name)] = e
}

// listRegistered returns the registered dialect keys (for diagnostics).
func listRegistered() []string {
	dialectsMu.RLock()
	defer dialectsMu.RUnlock()
	keys := make([]string, 0, len(dialects))
	for k := range dialects {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Lookup returns the extractor for a driver name or one of its aliases.
func Lookup(driver string) (Extractor, error) {
	driver = config.NormalizeDriver(driver)
	dialectsMu.RLock()
	e, ok := dialects[driver]
	dialectsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %v)", ErrDialectNotRegistered, driver, listRegistered())
	}
	return e, nil
}

// RegisteredDialects is a helper that allows main to print registered dialects
func RegisteredDialects() []string {
	return listRegistered()
}
