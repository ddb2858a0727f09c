package model

import (
	"context"
	"slices"
	"sync"
	"time"

	"schemamodel/internal/introspect"
)

// fakeServer is an in-memory metadata source whose contents tests change
// between populate and refresh.
type fakeServer struct {
	mu sync.Mutex

	schemas []string
	tables  []introspect.TableRow
	columns map[string][]introspect.ColumnRow
	pks     map[string][]introspect.PrimaryKeyRow
	indexes map[string][]introspect.IndexRow
	keys    []introspect.KeyRow

	connectErr error
	columnsErr error

	connects    int
	closes      int
	active      int
	maxActive   int
	tablesDelay time.Duration
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		columns: make(map[string][]introspect.ColumnRow),
		pks:     make(map[string][]introspect.PrimaryKeyRow),
		indexes: make(map[string][]introspect.IndexRow),
	}
}

func intCol(name string) introspect.ColumnRow {
	return introspect.ColumnRow{
		Name:     name,
		DataType: introspect.TypeInteger,
		TypeName: "integer",
		Size:     10,
		Nullable: introspect.ColumnNullable,
	}
}

func textCol(name string) introspect.ColumnRow {
	return introspect.ColumnRow{
		Name:     name,
		DataType: introspect.TypeVarchar,
		TypeName: "varchar",
		Size:     40,
		Nullable: introspect.ColumnNullable,
	}
}

func (s *fakeServer) addTable(schema, name string, cols ...introspect.ColumnRow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables = append(s.tables, introspect.TableRow{Schema: schema, Name: name, Type: "TABLE"})
	for _, c := range cols {
		s.addColumnLocked(name, c)
	}
}

func (s *fakeServer) addColumn(table string, col introspect.ColumnRow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addColumnLocked(table, col)
}

func (s *fakeServer) addColumnLocked(table string, col introspect.ColumnRow) {
	col.Table = table
	col.Ordinal = len(s.columns[table]) + 1
	s.columns[table] = append(s.columns[table], col)
}

func (s *fakeServer) dropColumn(table, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.columns[table] = slices.DeleteFunc(s.columns[table], func(c introspect.ColumnRow) bool { return c.Name == name })
	for i := range s.columns[table] {
		s.columns[table][i].Ordinal = i + 1
	}
	s.pks[table] = slices.DeleteFunc(s.pks[table], func(p introspect.PrimaryKeyRow) bool { return p.Column == name })
	s.indexes[table] = slices.DeleteFunc(s.indexes[table], func(r introspect.IndexRow) bool { return r.Column == name })
}

// setPrimaryKey declares the key and lists its index, as real servers do.
func (s *fakeServer) setPrimaryKey(table, name string, cols ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pks[table] = nil
	for i, c := range cols {
		s.pks[table] = append(s.pks[table], introspect.PrimaryKeyRow{Table: table, Column: c, KeySeq: i + 1, Name: name})
		s.indexes[table] = append(s.indexes[table], introspect.IndexRow{
			Table: table, Name: name, Type: introspect.IndexOther, Ordinal: i + 1, Column: c, AscOrDesc: "A",
		})
	}
}

func (s *fakeServer) addIndex(table, name string, unique bool, cols ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range cols {
		s.indexes[table] = append(s.indexes[table], introspect.IndexRow{
			Table: table, Name: name, NonUnique: !unique, Type: introspect.IndexOther, Ordinal: i + 1, Column: c, AscOrDesc: "A",
		})
	}
}

// addKey declares a foreign key; pairs are (parent column, child column).
func (s *fakeServer) addKey(name, pkTable, fkTable string, pairs ...[2]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range pairs {
		s.keys = append(s.keys, introspect.KeyRow{
			PKTable:       pkTable,
			PKColumn:      p[0],
			FKTable:       fkTable,
			FKColumn:      p[1],
			KeySeq:        i + 1,
			UpdateRule:    introspect.KeyNoAction,
			DeleteRule:    introspect.KeyCascade,
			FKName:        name,
			Deferrability: introspect.KeyNotDeferrable,
		})
	}
}

func (s *fakeServer) dropKey(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = slices.DeleteFunc(s.keys, func(k introspect.KeyRow) bool { return k.FKName == name })
}

func (s *fakeServer) connectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects
}

func (s *fakeServer) Connect(ctx context.Context) (introspect.Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connects++
	if s.connectErr != nil {
		return nil, s.connectErr
	}
	return &fakeConn{s: s}, nil
}

type fakeConn struct {
	s *fakeServer
}

func (c *fakeConn) Catalogs(ctx context.Context) ([]introspect.CatalogRow, error) { return nil, nil }

func (c *fakeConn) Schemas(ctx context.Context, catalog string) ([]introspect.SchemaRow, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	var out []introspect.SchemaRow
	for _, name := range c.s.schemas {
		out = append(out, introspect.SchemaRow{Name: name})
	}
	return out, nil
}

func (c *fakeConn) Tables(ctx context.Context, catalog, schema string) ([]introspect.TableRow, error) {
	c.s.mu.Lock()
	c.s.active++
	c.s.maxActive = max(c.s.maxActive, c.s.active)
	delay := c.s.tablesDelay
	c.s.mu.Unlock()

	time.Sleep(delay)

	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	c.s.active--
	var out []introspect.TableRow
	for _, t := range c.s.tables {
		if t.Schema == schema {
			out = append(out, t)
		}
	}
	return out, nil
}

func (c *fakeConn) Columns(ctx context.Context, catalog, schema, table string) ([]introspect.ColumnRow, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if c.s.columnsErr != nil {
		return nil, c.s.columnsErr
	}
	return slices.Clone(c.s.columns[table]), nil
}

func (c *fakeConn) PrimaryKeys(ctx context.Context, catalog, schema, table string) ([]introspect.PrimaryKeyRow, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	return slices.Clone(c.s.pks[table]), nil
}

func (c *fakeConn) Indexes(ctx context.Context, catalog, schema, table string) ([]introspect.IndexRow, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	return slices.Clone(c.s.indexes[table]), nil
}

func (c *fakeConn) ImportedKeys(ctx context.Context, catalog, schema, table string) ([]introspect.KeyRow, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	var out []introspect.KeyRow
	for _, k := range c.s.keys {
		if k.FKTable == table {
			out = append(out, k)
		}
	}
	return out, nil
}

func (c *fakeConn) ExportedKeys(ctx context.Context, catalog, schema, table string) ([]introspect.KeyRow, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	var out []introspect.KeyRow
	for _, k := range c.s.keys {
		if k.PKTable == table {
			out = append(out, k)
		}
	}
	return out, nil
}

func (c *fakeConn) Close() error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	c.s.closes++
	return nil
}

// newKeyedTable builds a populated table whose given columns form the key.
func newKeyedTable(name string, key []string, other ...string) *Table {
	t := NewTable(name)
	for _, k := range key {
		c := NewColumn(k, introspect.TypeInteger, 10, 0)
		_ = t.AddColumn(c)
		c.SetPrimaryKeySeq(KeySeq(t.PrimaryKeySize()))
	}
	for _, o := range other {
		_ = t.AddColumn(NewColumn(o, introspect.TypeVarchar, 40, 0))
	}
	return t
}

func columnNames(t *Table) []string {
	var names []string
	for _, c := range t.Columns() {
		names = append(names, c.Name())
	}
	return names
}

func keyNames(t *Table) []string {
	var names []string
	for _, c := range t.PrimaryKeyColumns() {
		names = append(names, c.Name())
	}
	return names
}

func indexColumnNames(ix *Index) []string {
	var names []string
	for _, ic := range ix.Columns() {
		names = append(names, ic.Name())
	}
	return names
}

// checkKey verifies that the key columns are numbered 0..k-1 in column
// order and that the primary key index lists exactly them.
func checkKey(t *Table) []string {
	var problems []string
	var key []*Column
	for _, c := range t.Columns() {
		if seq, ok := c.PrimaryKeySeq(); ok {
			if seq != len(key) {
				problems = append(problems, c.Name()+" out of sequence")
			}
			key = append(key, c)
		}
	}
	ix := t.PrimaryKeyIndex()
	if len(key) == 0 {
		if ix != nil {
			problems = append(problems, "primary key index without key")
		}
		return problems
	}
	if ix == nil {
		return append(problems, "missing primary key index")
	}
	if ix.ColumnCount() != len(key) {
		return append(problems, "primary key index size differs")
	}
	for i, ic := range ix.Columns() {
		if ic.Column() != key[i] {
			problems = append(problems, "primary key index order differs")
		}
	}
	return problems
}
