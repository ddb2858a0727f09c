package db

import (
	"context"
	"database/sql"
	"errors"
	"slices"
	"testing"
	"time"

	"schemamodel/internal/introspect"
)

var testdialect string = "testdialect"

// testExtractor answers Tables with one row read through the connection and
// fails everything else.
type testExtractor struct{}

var errNotImplemented = errors.New("not implemented")

func (testExtractor) Catalogs(ctx context.Context, q Querier) ([]introspect.CatalogRow, error) {
	return nil, errNotImplemented
}

func (testExtractor) Schemas(ctx context.Context, q Querier, catalog string) ([]introspect.SchemaRow, error) {
	return nil, errNotImplemented
}

func (testExtractor) Tables(ctx context.Context, q Querier, catalog, schema string) ([]introspect.TableRow, error) {
	rows, err := q.QueryContext(ctx, `SELECT 'answer'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []introspect.TableRow
	for rows.Next() {
		var r introspect.TableRow
		if err := rows.Scan(&r.Name); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (testExtractor) Columns(ctx context.Context, q Querier, catalog, schema, table string) ([]introspect.ColumnRow, error) {
	return nil, errNotImplemented
}

func (testExtractor) PrimaryKeys(ctx context.Context, q Querier, catalog, schema, table string) ([]introspect.PrimaryKeyRow, error) {
	return nil, errNotImplemented
}

func (testExtractor) Indexes(ctx context.Context, q Querier, catalog, schema, table string) ([]introspect.IndexRow, error) {
	return nil, errNotImplemented
}

func (testExtractor) ImportedKeys(ctx context.Context, q Querier, catalog, schema, table string) ([]introspect.KeyRow, error) {
	return nil, errNotImplemented
}

func (testExtractor) ExportedKeys(ctx context.Context, q Querier, catalog, schema, table string) ([]introspect.KeyRow, error) {
	return nil, errNotImplemented
}

func TestRegister(t *testing.T) {
	// tests both Register and RegisteredDialects because they take the same setup

	Register(testdialect, testExtractor{})

	if _, ok := dialects[testdialect]; !ok {
		t.Errorf("\ndialect %v not registered correctly in %v", testdialect, dialects)
	}

	rd := RegisteredDialects()

	if !slices.Contains(rd, testdialect) || !slices.IsSorted(rd) {
		t.Errorf("\nRegisteredDialects returned unexpected result %v", rd)
	}
}

func TestLookup(t *testing.T) {
	Register(testdialect, testExtractor{})

	var tests = []struct {
		name     string
		driver   string
		errIsNil bool
	}{
		{"registered", testdialect, true},
		{"case insensitive", "TestDialect", true},
		{"unregistered", "nosuchdb", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Lookup(tt.driver)
			if (err == nil) != tt.errIsNil {
				t.Errorf("\ngot error %v, wanted error: %v", err, !tt.errIsNil)
			}
			if err != nil && !errors.Is(err, ErrDialectNotRegistered) {
				t.Errorf("\ngot %v, wanted %v", err, ErrDialectNotRegistered)
			}
		})
	}
}

func TestOpen(t *testing.T) {
	Register("sqlite", testExtractor{})
	defer func() {
		dialectsMu.Lock()
		delete(dialects, "sqlite")
		dialectsMu.Unlock()
	}()

	var tests = []struct {
		name     string
		dialect  string
		dsn      string
		errIsNil bool
	}{
		{"unregistered dialect", "nosuchdb", "", false},
		{"sqlite with testExtractor", "sqlite3", ":memory:", true},
	}

	for _, tt := range tests {
		// Use t.Run to run each case as a subtest with a descriptive name
		t.Run(tt.name, func(t *testing.T) {
			p, err := Open(context.Background(), tt.dialect, tt.dsn, 2, 10*time.Second)
			if (err == nil) != tt.errIsNil {
				if tt.errIsNil {
					t.Errorf("\ngot unexpected error: \"%v\"", err)
				} else {
					t.Errorf("\nexpected an error, did not receive one")
				}
			}
			if p != nil {
				p.Close()
			}
		})
	}
}

func newTestPool(t *testing.T, size int) *Pool {
	t.Helper()
	dbConn, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("\ngot unexpected error: \"%v\"", err)
	}
	p := NewPool(dbConn, testExtractor{}, size, time.Second)
	t.Cleanup(func() { p.Close() })
	return p
}

func TestPoolFailsFastWhenExhausted(t *testing.T) {
	ctx := context.Background()
	p := newTestPool(t, 2)

	a, err := p.Connect(ctx)
	if err != nil {
		t.Fatalf("\ngot unexpected error: \"%v\"", err)
	}
	b, err := p.Connect(ctx)
	if err != nil {
		t.Fatalf("\ngot unexpected error: \"%v\"", err)
	}
	if a == b {
		t.Errorf("\nConnect returned the same connection twice")
	}

	if _, err := p.Connect(ctx); !errors.Is(err, ErrPoolExhausted) {
		t.Fatalf("\ngot %v, wanted %v", err, ErrPoolExhausted)
	}

	a.Close()
	// a second Close must not hand out a phantom slot
	a.Close()
	c, err := p.Connect(ctx)
	if err != nil {
		t.Fatalf("\ngot unexpected error: \"%v\"", err)
	}
	if _, err := p.Connect(ctx); !errors.Is(err, ErrPoolExhausted) {
		t.Errorf("\ngot %v, wanted %v", err, ErrPoolExhausted)
	}
	b.Close()
	c.Close()
}

func TestConnReadsThroughExtractor(t *testing.T) {
	p := newTestPool(t, 1)
	md, err := p.Connect(context.Background())
	if err != nil {
		t.Fatalf("\ngot unexpected error: \"%v\"", err)
	}
	defer md.Close()

	rows, err := md.Tables(context.Background(), "", "")
	if err != nil {
		t.Fatalf("\ngot unexpected error: \"%v\"", err)
	}
	if len(rows) != 1 || rows[0].Name != "answer" {
		t.Errorf("\ngot %v, wanted one row named answer", rows)
	}
	if _, err := md.Columns(context.Background(), "", "", "x"); !errors.Is(err, errNotImplemented) {
		t.Errorf("\ngot %v, wanted %v", err, errNotImplemented)
	}
}

func TestNewPoolDefaultSize(t *testing.T) {
	if p := newTestPool(t, 0); p.Size() != 5 {
		t.Errorf("\ngot size %d, wanted 5", p.Size())
	}
}
