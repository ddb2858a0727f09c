package model

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"schemamodel/internal/introspect"
)

// Database is the root of a schema tree. It holds catalogs, schemas or
// tables, whichever level the server reports first, and never a mix.
type Database struct {
	Node

	connector introspect.Connector
	mu        sync.Mutex
	pop       population

	catalogs []*Catalog
	schemas  []*Schema
	tables   []*Table
}

// NewDatabase returns a database reading its metadata through connector. A
// nil connector yields an empty, populated database for hand-built models.
func NewDatabase(name string, connector introspect.Connector) *Database {
	d := &Database{connector: connector}
	d.init(d, name, connector == nil)
	d.pop.done = connector == nil
	return d
}

func (d *Database) Connector() introspect.Connector { return d.connector }

func (d *Database) connect(ctx context.Context) (introspect.Metadata, error) {
	if d.connector == nil {
		return nil, ErrNoConnector
	}
	md, err := d.connector.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	return md, nil
}

func (d *Database) Catalogs() []*Catalog { return slices.Clone(d.catalogs) }

func (d *Database) Schemas() []*Schema { return slices.Clone(d.schemas) }

// Tables returns the tables held directly by the database.
func (d *Database) Tables() []*Table { return slices.Clone(d.tables) }

func (d *Database) CatalogByName(name string) *Catalog { return byName(d.catalogs, name) }

func (d *Database) SchemaByName(name string) *Schema { return byName(d.schemas, name) }

func (d *Database) TableByName(name string) *Table { return byName(d.tables, name) }

func (d *Database) AddCatalog(c *Catalog) error {
	if len(d.schemas) > 0 || len(d.tables) > 0 {
		return fmt.Errorf("%w: database %q does not hold catalogs", ErrIllegalChild, d.name)
	}
	return insertChild(&d.Node, &d.catalogs, KindCatalog, c, len(d.catalogs))
}

func (d *Database) AddSchema(s *Schema) error {
	if len(d.catalogs) > 0 || len(d.tables) > 0 {
		return fmt.Errorf("%w: database %q does not hold schemas", ErrIllegalChild, d.name)
	}
	return insertChild(&d.Node, &d.schemas, KindSchema, s, len(d.schemas))
}

func (d *Database) AddTable(t *Table) error {
	if len(d.catalogs) > 0 || len(d.schemas) > 0 {
		return fmt.Errorf("%w: database %q does not hold tables", ErrIllegalChild, d.name)
	}
	return insertChild(&d.Node, &d.tables, KindTable, t, len(d.tables))
}

func (d *Database) RemoveCatalog(c *Catalog) error {
	if err := detachAll(c); err != nil {
		return err
	}
	return removeChild(&d.Node, &d.catalogs, KindCatalog, c, true)
}

func (d *Database) RemoveSchema(s *Schema) error {
	if err := detachAll(s); err != nil {
		return err
	}
	return removeChild(&d.Node, &d.schemas, KindSchema, s, true)
}

// RemoveTable detaches every relationship of t before removing it.
func (d *Database) RemoveTable(t *Table) error {
	if err := t.detachRelationships(); err != nil {
		return err
	}
	return removeChild(&d.Node, &d.tables, KindTable, t, true)
}

// Populate fetches the top level children once.
func (d *Database) Populate(ctx context.Context) error {
	err := d.pop.run(ctx, d, "children", d.fetch)
	d.populateErr = d.pop.err
	d.setPopulated(true)
	return err
}

func (d *Database) fetch(ctx context.Context) error {
	md, err := d.connect(ctx)
	if err != nil {
		return err
	}
	defer md.Close()

	s := d.SuspendMagic()
	defer s.Release()

	cats, err := md.Catalogs(ctx)
	if err != nil {
		return fmt.Errorf("catalogs: %w", err)
	}
	if len(cats) > 0 {
		for _, row := range cats {
			if err := d.AddCatalog(newCatalog(row.Name, false)); err != nil {
				return err
			}
		}
		return nil
	}
	schemas, err := md.Schemas(ctx, "")
	if err != nil {
		return fmt.Errorf("schemas: %w", err)
	}
	if len(schemas) > 0 {
		for _, row := range schemas {
			if err := d.AddSchema(newSchema(row.Name, false)); err != nil {
				return err
			}
		}
		return nil
	}
	tables, err := md.Tables(ctx, "", "")
	if err != nil {
		return fmt.Errorf("tables: %w", err)
	}
	for _, row := range tables {
		if err := d.AddTable(newFetchedTable(row)); err != nil {
			return err
		}
	}
	return nil
}

// AllTables returns every table of the populated part of the tree, in tree
// order. Nothing is populated on the way.
func (d *Database) AllTables() []*Table {
	var out []*Table
	out = append(out, d.tables...)
	for _, s := range d.schemas {
		out = append(out, s.tables...)
	}
	for _, c := range d.catalogs {
		out = append(out, c.tables...)
		for _, s := range c.schemas {
			out = append(out, s.tables...)
		}
	}
	return out
}

// FindTable resolves a table by qualified name, populating containers on
// the way. Empty qualifiers match a lone container of that level.
func (d *Database) FindTable(ctx context.Context, catalog, schema, name string) (*Table, error) {
	return d.findTable(ctx, catalog, schema, name, true)
}

func (d *Database) findTable(ctx context.Context, catalog, schema, name string, populate bool) (*Table, error) {
	load := func(p interface{ Populate(context.Context) error }) error {
		if populate {
			return p.Populate(ctx)
		}
		return nil
	}
	if err := load(d); err != nil {
		return nil, err
	}
	tables, schemas := d.tables, d.schemas
	if len(d.catalogs) > 0 {
		c := pick(d.catalogs, catalog)
		if c == nil {
			return nil, nil
		}
		if err := load(c); err != nil {
			return nil, err
		}
		tables, schemas = c.tables, c.schemas
	}
	if len(schemas) > 0 {
		s := pick(schemas, schema)
		if s == nil {
			return nil, nil
		}
		if err := load(s); err != nil {
			return nil, err
		}
		tables = s.tables
	}
	return byName(tables, name), nil
}

func (d *Database) Children() []Object {
	out := toObjects(d.catalogs)
	out = append(out, toObjects(d.schemas)...)
	return append(out, toObjects(d.tables)...)
}

func (d *Database) Dependencies() []Object { return nil }

func (d *Database) RemoveDependency(Object) error { return nil }

// Catalog groups schemas or tables.
type Catalog struct {
	Node

	pop     population
	schemas []*Schema
	tables  []*Table
}

// NewCatalog returns an empty, populated catalog.
func NewCatalog(name string) *Catalog { return newCatalog(name, true) }

func newCatalog(name string, populated bool) *Catalog {
	c := &Catalog{}
	c.init(c, name, populated)
	c.pop.done = populated
	return c
}

func (c *Catalog) Database() *Database {
	d, _ := c.parent.(*Database)
	return d
}

func (c *Catalog) Schemas() []*Schema { return slices.Clone(c.schemas) }

func (c *Catalog) Tables() []*Table { return slices.Clone(c.tables) }

func (c *Catalog) SchemaByName(name string) *Schema { return byName(c.schemas, name) }

func (c *Catalog) TableByName(name string) *Table { return byName(c.tables, name) }

func (c *Catalog) AddSchema(s *Schema) error {
	if len(c.tables) > 0 {
		return fmt.Errorf("%w: catalog %q does not hold schemas", ErrIllegalChild, c.name)
	}
	return insertChild(&c.Node, &c.schemas, KindSchema, s, len(c.schemas))
}

func (c *Catalog) AddTable(t *Table) error {
	if len(c.schemas) > 0 {
		return fmt.Errorf("%w: catalog %q does not hold tables", ErrIllegalChild, c.name)
	}
	return insertChild(&c.Node, &c.tables, KindTable, t, len(c.tables))
}

func (c *Catalog) RemoveSchema(s *Schema) error {
	if err := detachAll(s); err != nil {
		return err
	}
	return removeChild(&c.Node, &c.schemas, KindSchema, s, true)
}

func (c *Catalog) RemoveTable(t *Table) error {
	if err := t.detachRelationships(); err != nil {
		return err
	}
	return removeChild(&c.Node, &c.tables, KindTable, t, true)
}

// Populate fetches the schemas of the catalog, or its tables when the
// server has no schema level. The fetch holds the database lock.
func (c *Catalog) Populate(ctx context.Context) error {
	err := c.pop.run(ctx, c, "children", c.fetch)
	c.populateErr = c.pop.err
	c.setPopulated(true)
	return err
}

func (c *Catalog) fetch(ctx context.Context) error {
	d := c.Database()
	if d == nil {
		return ErrNoConnector
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	md, err := d.connect(ctx)
	if err != nil {
		return err
	}
	defer md.Close()

	s := c.SuspendMagic()
	defer s.Release()
	schemas, err := md.Schemas(ctx, c.name)
	if err != nil {
		return fmt.Errorf("schemas: %w", err)
	}
	if len(schemas) > 0 {
		for _, row := range schemas {
			if err := c.AddSchema(newSchema(row.Name, false)); err != nil {
				return err
			}
		}
		return nil
	}
	tables, err := md.Tables(ctx, c.name, "")
	if err != nil {
		return fmt.Errorf("tables: %w", err)
	}
	for _, row := range tables {
		if err := c.AddTable(newFetchedTable(row)); err != nil {
			return err
		}
	}
	return nil
}

func (c *Catalog) Children() []Object {
	return append(toObjects(c.schemas), toObjects(c.tables)...)
}

func (c *Catalog) Dependencies() []Object { return nil }

func (c *Catalog) RemoveDependency(Object) error { return nil }

// Schema holds tables. Its parent is a Database or a Catalog.
type Schema struct {
	Node

	pop    population
	tables []*Table
}

// NewSchema returns an empty, populated schema.
func NewSchema(name string) *Schema { return newSchema(name, true) }

func newSchema(name string, populated bool) *Schema {
	s := &Schema{}
	s.init(s, name, populated)
	s.pop.done = populated
	return s
}

func (s *Schema) Database() *Database {
	for o := s.parent; o != nil; o = o.Parent() {
		if d, ok := o.(*Database); ok {
			return d
		}
	}
	return nil
}

func (s *Schema) catalogName() string {
	if c, ok := s.parent.(*Catalog); ok {
		return c.name
	}
	return ""
}

func (s *Schema) Tables() []*Table { return slices.Clone(s.tables) }

func (s *Schema) TableByName(name string) *Table { return byName(s.tables, name) }

func (s *Schema) AddTable(t *Table) error {
	return insertChild(&s.Node, &s.tables, KindTable, t, len(s.tables))
}

func (s *Schema) RemoveTable(t *Table) error {
	if err := t.detachRelationships(); err != nil {
		return err
	}
	return removeChild(&s.Node, &s.tables, KindTable, t, true)
}

// Populate fetches the tables of the schema while holding the database lock.
func (s *Schema) Populate(ctx context.Context) error {
	err := s.pop.run(ctx, s, "tables", s.fetch)
	s.populateErr = s.pop.err
	s.setPopulated(true)
	return err
}

func (s *Schema) fetch(ctx context.Context) error {
	d := s.Database()
	if d == nil {
		return ErrNoConnector
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	md, err := d.connect(ctx)
	if err != nil {
		return err
	}
	defer md.Close()

	sus := s.SuspendMagic()
	defer sus.Release()
	tables, err := md.Tables(ctx, s.catalogName(), s.name)
	if err != nil {
		return fmt.Errorf("tables: %w", err)
	}
	for _, row := range tables {
		if err := s.AddTable(newFetchedTable(row)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Schema) Children() []Object { return toObjects(s.tables) }

func (s *Schema) Dependencies() []Object { return nil }

func (s *Schema) RemoveDependency(Object) error { return nil }

func newFetchedTable(row introspect.TableRow) *Table {
	t := newTable(row.Name, false)
	t.remarks = row.Remarks
	if row.Type != "" {
		t.objectType = TableType(row.Type)
	}
	return t
}

// detachAll removes the relationships of every table below o.
func detachAll(o Object) error {
	for _, child := range o.Children() {
		switch c := child.(type) {
		case *Table:
			if err := c.detachRelationships(); err != nil {
				return err
			}
		case *Schema:
			if err := detachAll(c); err != nil {
				return err
			}
		}
	}
	return nil
}

// byName finds a child by exact name, then case-insensitively.
func byName[T Object](slot []T, name string) T {
	for _, c := range slot {
		if c.Name() == name {
			return c
		}
	}
	for _, c := range slot {
		if strings.EqualFold(c.Name(), name) {
			return c
		}
	}
	var zero T
	return zero
}

// pick resolves a qualifier; an empty one matches a lone child.
func pick[T Object](slot []T, name string) T {
	if name == "" && len(slot) == 1 {
		return slot[0]
	}
	return byName(slot, name)
}
