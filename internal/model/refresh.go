package model

import (
	"context"
	"fmt"

	"schemamodel/internal/introspect"
	"schemamodel/internal/logger"
)

// reconcileOps tells reconcile how to match, update, create, place and
// remove the items of one child slot.
type reconcileOps[T Object, R any] struct {
	key    func(T) string
	rowKey func(R) string
	update func(T, R) error
	// create returns false to skip a fetched row.
	create func(R) (T, bool, error)
	// insert places item right after prev, or first when hasPrev is false.
	// A nil insert means create already placed the item.
	insert func(item, prev T, hasPrev bool) error
	remove func(T) error
}

// reconcile merges fetched rows into the items returned by current. Matched
// items are updated in place, existing-only items are removed last first,
// and fetched-only items are inserted after the previously seen item.
func reconcile[T Object, R any](current func() []T, fetched []R, ops reconcileOps[T, R]) error {
	want := make(map[string]bool, len(fetched))
	for _, r := range fetched {
		want[ops.rowKey(r)] = true
	}
	existing := current()
	for i := len(existing) - 1; i >= 0; i-- {
		// an earlier removal may have cascaded into this item
		if existing[i].Parent() == nil {
			continue
		}
		if !want[ops.key(existing[i])] {
			if err := ops.remove(existing[i]); err != nil {
				return err
			}
		}
	}

	have := make(map[string]T)
	for _, item := range current() {
		have[ops.key(item)] = item
	}
	var prev T
	hasPrev := false
	seen := make(map[string]bool, len(fetched))
	for _, r := range fetched {
		k := ops.rowKey(r)
		if seen[k] {
			continue
		}
		seen[k] = true
		if item, ok := have[k]; ok {
			if err := ops.update(item, r); err != nil {
				return err
			}
			prev, hasPrev = item, true
			continue
		}
		item, ok, err := ops.create(r)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if ops.insert != nil {
			if err := ops.insert(item, prev, hasPrev); err != nil {
				return err
			}
		}
		prev, hasPrev = item, true
	}
	return nil
}

// insertAfter puts item into slot right after prev, or first.
func insertAfter[T Object](n *Node, slot *[]T, kind ChildKind, item, prev T, hasPrev bool) error {
	pos := 0
	if hasPrev {
		pos = indexOfChild(*slot, prev) + 1
	}
	return insertChild(n, slot, kind, item, pos)
}

// Refresh re-reads the metadata of every populated part of the tree and
// merges it in place: unchanged objects keep their identity, new ones are
// inserted and vanished ones removed through the ordinary cascades. The
// whole refresh is one compound edit on d; unpopulated branches are not
// visited.
func (d *Database) Refresh(ctx context.Context) error {
	if !d.pop.done || d.connector == nil {
		return nil
	}
	md, err := d.connect(ctx)
	if err != nil {
		return err
	}
	defer md.Close()

	s := d.SuspendMagic()
	defer s.Release()
	d.Begin("refresh " + d.name)
	rf := &refresher{ctx: ctx, md: md, db: d}
	if err := rf.run(); err != nil {
		_ = d.Rollback(err.Error())
		return fmt.Errorf("refresh %s: %w", d.name, err)
	}
	return d.Commit()
}

type refresher struct {
	ctx context.Context
	md  introspect.Metadata
	db  *Database
}

func (rf *refresher) run() error {
	if err := rf.database(); err != nil {
		return err
	}
	tables := rf.db.AllTables()
	for _, t := range tables {
		if t.columnsPop.done {
			if err := rf.columns(t); err != nil {
				return err
			}
		}
	}
	for _, t := range tables {
		if t.indexesPop.done && t.parent != nil {
			if err := rf.indexes(t); err != nil {
				return err
			}
		}
	}
	for _, t := range tables {
		if t.importedPop.done && t.parent != nil {
			if err := rf.importedKeys(t); err != nil {
				return err
			}
		}
	}
	for _, t := range tables {
		if t.exportedPop.done && t.parent != nil {
			if err := rf.exportedKeys(t); err != nil {
				return err
			}
		}
	}
	logger.Debug("refreshed %s: %d tables", rf.db.name, len(tables))
	return nil
}

func (rf *refresher) database() error {
	d := rf.db
	switch {
	case len(d.catalogs) > 0:
		return rf.catalogs()
	case len(d.schemas) > 0:
		return rf.schemas(&d.Node, &d.schemas, "")
	case len(d.tables) > 0:
		return rf.tables(&d.Node, &d.tables, "", "")
	}
	cats, err := rf.md.Catalogs(rf.ctx)
	if err != nil {
		return fmt.Errorf("catalogs: %w", err)
	}
	if len(cats) > 0 {
		return rf.catalogs()
	}
	schemas, err := rf.md.Schemas(rf.ctx, "")
	if err != nil {
		return fmt.Errorf("schemas: %w", err)
	}
	if len(schemas) > 0 {
		return rf.schemas(&d.Node, &d.schemas, "")
	}
	return rf.tables(&d.Node, &d.tables, "", "")
}

func (rf *refresher) catalogs() error {
	d := rf.db
	rows, err := rf.md.Catalogs(rf.ctx)
	if err != nil {
		return fmt.Errorf("catalogs: %w", err)
	}
	err = reconcile(func() []*Catalog { return d.catalogs }, rows, reconcileOps[*Catalog, introspect.CatalogRow]{
		key:    func(c *Catalog) string { return c.name },
		rowKey: func(r introspect.CatalogRow) string { return r.Name },
		update: func(*Catalog, introspect.CatalogRow) error { return nil },
		create: func(r introspect.CatalogRow) (*Catalog, bool, error) { return newCatalog(r.Name, false), true, nil },
		insert: func(c, prev *Catalog, hasPrev bool) error {
			return insertAfter(&d.Node, &d.catalogs, KindCatalog, c, prev, hasPrev)
		},
		remove: d.RemoveCatalog,
	})
	if err != nil {
		return err
	}
	for _, c := range d.catalogs {
		if !c.pop.done {
			continue
		}
		if len(c.schemas) > 0 {
			err = rf.schemas(&c.Node, &c.schemas, c.name)
		} else {
			err = rf.tables(&c.Node, &c.tables, c.name, "")
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (rf *refresher) schemas(n *Node, slot *[]*Schema, catalog string) error {
	rows, err := rf.md.Schemas(rf.ctx, catalog)
	if err != nil {
		return fmt.Errorf("schemas: %w", err)
	}
	err = reconcile(func() []*Schema { return *slot }, rows, reconcileOps[*Schema, introspect.SchemaRow]{
		key:    func(s *Schema) string { return s.name },
		rowKey: func(r introspect.SchemaRow) string { return r.Name },
		update: func(*Schema, introspect.SchemaRow) error { return nil },
		create: func(r introspect.SchemaRow) (*Schema, bool, error) { return newSchema(r.Name, false), true, nil },
		insert: func(s, prev *Schema, hasPrev bool) error {
			return insertAfter(n, slot, KindSchema, s, prev, hasPrev)
		},
		remove: func(s *Schema) error {
			if err := detachAll(s); err != nil {
				return err
			}
			return removeChild(n, slot, KindSchema, s, true)
		},
	})
	if err != nil {
		return err
	}
	for _, s := range *slot {
		if s.pop.done {
			if err := rf.tables(&s.Node, &s.tables, catalog, s.name); err != nil {
				return err
			}
		}
	}
	return nil
}

func (rf *refresher) tables(n *Node, slot *[]*Table, catalog, schema string) error {
	rows, err := rf.md.Tables(rf.ctx, catalog, schema)
	if err != nil {
		return fmt.Errorf("tables: %w", err)
	}
	return reconcile(func() []*Table { return *slot }, rows, reconcileOps[*Table, introspect.TableRow]{
		key:    func(t *Table) string { return t.name },
		rowKey: func(r introspect.TableRow) string { return r.Name },
		update: func(t *Table, r introspect.TableRow) error {
			t.SetRemarks(r.Remarks)
			if r.Type != "" {
				t.SetObjectType(TableType(r.Type))
			}
			return nil
		},
		create: func(r introspect.TableRow) (*Table, bool, error) { return newFetchedTable(r), true, nil },
		insert: func(t, prev *Table, hasPrev bool) error {
			return insertAfter(n, slot, KindTable, t, prev, hasPrev)
		},
		remove: func(t *Table) error {
			if err := t.detachRelationships(); err != nil {
				return err
			}
			return removeChild(n, slot, KindTable, t, true)
		},
	})
}

func (rf *refresher) columns(t *Table) error {
	cat, sch := t.qualifiers()
	rows, err := rf.md.Columns(rf.ctx, cat, sch, t.name)
	if err != nil {
		return fmt.Errorf("columns of %s: %w", t.name, err)
	}
	pks, err := rf.md.PrimaryKeys(rf.ctx, cat, sch, t.name)
	if err != nil {
		return fmt.Errorf("primary keys of %s: %w", t.name, err)
	}
	key, pkName := primaryKeyMap(pks)
	if pkName != t.pkName {
		t.SetPrimaryKeyName(pkName)
	}
	err = reconcile(func() []*Column { return t.columns }, sortColumnRows(rows), reconcileOps[*Column, introspect.ColumnRow]{
		key:    func(c *Column) string { return c.name },
		rowKey: func(r introspect.ColumnRow) string { return r.Name },
		update: func(c *Column, r introspect.ColumnRow) error {
			seq, inKey := key[r.Name]
			c.updateToMatch(r, inKey, seq)
			return nil
		},
		create: func(r introspect.ColumnRow) (*Column, bool, error) {
			c := newColumnFromRow(r)
			if seq, ok := key[r.Name]; ok {
				c.pkSeq = KeySeq(seq)
			}
			return c, true, nil
		},
		insert: func(c, prev *Column, hasPrev bool) error {
			return insertAfter(&t.Node, &t.columns, KindColumn, c, prev, hasPrev)
		},
		remove: t.RemoveColumn,
	})
	if err != nil {
		return err
	}
	t.NormalizePrimaryKey()
	return nil
}

func (rf *refresher) indexes(t *Table) error {
	cat, sch := t.qualifiers()
	rows, err := rf.md.Indexes(rf.ctx, cat, sch, t.name)
	if err != nil {
		return fmt.Errorf("indexes of %s: %w", t.name, err)
	}
	pk := t.PrimaryKeyIndex()
	var groups []indexGroup
	for _, g := range groupIndexRows(t, rows) {
		if pk != nil && g.name == pk.name {
			pk.applyAttributes(g)
			pk.SetUnique(true)
			continue
		}
		groups = append(groups, g)
	}
	plain := func() []*Index {
		var out []*Index
		for _, ix := range t.indexes {
			if !ix.primaryKey {
				out = append(out, ix)
			}
		}
		return out
	}
	return reconcile(plain, groups, reconcileOps[*Index, indexGroup]{
		key:    func(ix *Index) string { return ix.name },
		rowKey: func(g indexGroup) string { return g.name },
		update: func(ix *Index, g indexGroup) error {
			ix.updateToMatch(g)
			return nil
		},
		create: func(g indexGroup) (*Index, bool, error) { return g.build(), true, nil },
		insert: func(ix, prev *Index, hasPrev bool) error {
			pos := 0
			if hasPrev {
				pos = indexOfChild(t.indexes, prev) + 1
			} else if len(t.indexes) > 0 && t.indexes[0].primaryKey {
				pos = 1
			}
			return t.insertIndex(ix, pos)
		},
		remove: t.RemoveIndex,
	})
}

func (rf *refresher) importedKeys(t *Table) error {
	cat, sch := t.qualifiers()
	rows, err := rf.md.ImportedKeys(rf.ctx, cat, sch, t.name)
	if err != nil {
		return fmt.Errorf("imported keys of %s: %w", t.name, err)
	}
	return reconcile(func() []*ForeignKeyHandle { return t.imported }, groupKeyRows(rows), reconcileOps[*ForeignKeyHandle, keyGroup]{
		key:    func(h *ForeignKeyHandle) string { return h.rel.name + "\x00" + h.rel.pkTable.name },
		rowKey: func(g keyGroup) string { return g.name + "\x00" + g.pkTable },
		update: func(h *ForeignKeyHandle, g keyGroup) error {
			h.rel.updateToMatch(g)
			return nil
		},
		create: func(g keyGroup) (*ForeignKeyHandle, bool, error) {
			pkTable, err := rf.db.findTable(rf.ctx, g.pkCatalog, g.pkSchema, g.pkTable, false)
			if err != nil || pkTable == nil || !pkTable.columnsPop.done {
				return nil, false, err
			}
			r, err := buildRelationship(g, pkTable, t)
			if err != nil {
				return nil, false, err
			}
			return r.handle, true, nil
		},
		remove: func(h *ForeignKeyHandle) error { return h.rel.Detach() },
	})
}

func (rf *refresher) exportedKeys(t *Table) error {
	cat, sch := t.qualifiers()
	rows, err := rf.md.ExportedKeys(rf.ctx, cat, sch, t.name)
	if err != nil {
		return fmt.Errorf("exported keys of %s: %w", t.name, err)
	}
	return reconcile(func() []*Relationship { return t.exported }, groupKeyRows(rows), reconcileOps[*Relationship, keyGroup]{
		key:    func(r *Relationship) string { return r.name + "\x00" + r.fkTable.name },
		rowKey: func(g keyGroup) string { return g.name + "\x00" + g.fkTable },
		update: func(r *Relationship, g keyGroup) error {
			r.updateToMatch(g)
			return nil
		},
		create: func(g keyGroup) (*Relationship, bool, error) {
			fkTable, err := rf.db.findTable(rf.ctx, g.fkCatalog, g.fkSchema, g.fkTable, false)
			if err != nil || fkTable == nil || !fkTable.columnsPop.done {
				return nil, false, err
			}
			r, err := buildRelationship(g, t, fkTable)
			return r, err == nil, err
		},
		remove: (*Relationship).Detach,
	})
}

// updateToMatch copies a fetched key onto r in place.
func (r *Relationship) updateToMatch(g keyGroup) {
	g.applyAttributes(r)
	r.syncMappings(g.resolve(r.pkTable, r.fkTable))
	setProp(&r.Node, &r.identifying, r.DeriveIdentifying(), PropIdentifying)
}
