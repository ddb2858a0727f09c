package model

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"schemamodel/internal/introspect"
)

// TableType is the object kind reported for a table.
type TableType string

const (
	BaseTable TableType = "TABLE"
	View      TableType = "VIEW"
)

// Table owns its columns, its indexes and the foreign keys it takes part in.
// Columns, indexes, imported keys and exported keys are populated
// independently; the table counts as populated once all four are.
type Table struct {
	Node

	remarks    string
	objectType TableType
	pkName     string

	columns  []*Column
	indexes  []*Index
	exported []*Relationship
	imported []*ForeignKeyHandle

	columnsPop  population
	indexesPop  population
	importedPop population
	exportedPop population

	normalizing      bool
	normalizePending bool
}

// NewTable returns an empty, detached and fully populated table.
func NewTable(name string) *Table {
	return newTable(name, true)
}

func newTable(name string, populated bool) *Table {
	t := &Table{objectType: BaseTable}
	t.init(t, name, populated)
	if populated {
		t.columnsPop.done = true
		t.indexesPop.done = true
		t.importedPop.done = true
		t.exportedPop.done = true
	}
	return t
}

func (t *Table) Remarks() string { return t.remarks }

func (t *Table) SetRemarks(remarks string) { setProp(&t.Node, &t.remarks, remarks, PropRemarks) }

func (t *Table) ObjectType() TableType { return t.objectType }

func (t *Table) SetObjectType(kind TableType) {
	setProp(&t.Node, &t.objectType, kind, PropObjectType)
}

// PrimaryKeyName returns the name used for the primary key index.
func (t *Table) PrimaryKeyName() string {
	if t.pkName != "" {
		return t.pkName
	}
	return t.PhysicalName() + "_pk"
}

// SetPrimaryKeyName renames the primary key constraint and its index.
func (t *Table) SetPrimaryKeyName(name string) {
	t.pkName = name
	if ix := t.PrimaryKeyIndex(); ix != nil {
		ix.SetName(t.PrimaryKeyName())
	}
}

// AreColumnsPopulated and its siblings report the four population flags.
func (t *Table) AreColumnsPopulated() bool { return t.columnsPop.done }

func (t *Table) AreIndexesPopulated() bool { return t.indexesPop.done }

func (t *Table) AreImportedKeysPopulated() bool { return t.importedPop.done }

func (t *Table) AreExportedKeysPopulated() bool { return t.exportedPop.done }

// Columns returns the columns in table order.
func (t *Table) Columns() []*Column { return slices.Clone(t.columns) }

func (t *Table) ColumnCount() int { return len(t.columns) }

// ColumnByName finds a column by exact name, then case-insensitively.
func (t *Table) ColumnByName(name string) *Column {
	for _, c := range t.columns {
		if c.name == name {
			return c
		}
	}
	for _, c := range t.columns {
		if strings.EqualFold(c.name, name) {
			return c
		}
	}
	return nil
}

// ColumnIndex returns the position of c, or -1.
func (t *Table) ColumnIndex(c *Column) int { return indexOfChild(t.columns, c) }

// PrimaryKeyColumns returns the key columns ordered by key sequence.
func (t *Table) PrimaryKeyColumns() []*Column {
	var key []*Column
	for _, c := range t.columns {
		if c.pkSeq != nil {
			key = append(key, c)
		}
	}
	slices.SortStableFunc(key, func(a, b *Column) int { return *a.pkSeq - *b.pkSeq })
	return key
}

func (t *Table) PrimaryKeySize() int {
	n := 0
	for _, c := range t.columns {
		if c.pkSeq != nil {
			n++
		}
	}
	return n
}

// PrimaryKeyIndex returns the index flagged as primary key, or nil.
func (t *Table) PrimaryKeyIndex() *Index {
	for _, ix := range t.indexes {
		if ix.primaryKey {
			return ix
		}
	}
	return nil
}

func (t *Table) Indexes() []*Index { return slices.Clone(t.indexes) }

func (t *Table) IndexByName(name string) *Index {
	for _, ix := range t.indexes {
		if strings.EqualFold(ix.name, name) {
			return ix
		}
	}
	return nil
}

// ExportedKeys returns the relationships in which t is the parent.
func (t *Table) ExportedKeys() []*Relationship { return slices.Clone(t.exported) }

// ImportedKeys returns the relationships in which t is the child.
func (t *Table) ImportedKeys() []*Relationship {
	rels := make([]*Relationship, len(t.imported))
	for i, h := range t.imported {
		rels[i] = h.rel
	}
	return rels
}

// ImportedKeyHandles returns the handles t owns for its imported keys.
func (t *Table) ImportedKeyHandles() []*ForeignKeyHandle { return slices.Clone(t.imported) }

// ExportedKeyByName finds an exported key by name and child table.
func (t *Table) ExportedKeyByName(name string, child *Table) *Relationship {
	for _, r := range t.exported {
		if r.name == name && r.fkTable == child {
			return r
		}
	}
	return nil
}

// ImportedKeyByName finds an imported key by name and parent table.
func (t *Table) ImportedKeyByName(name string, parent *Table) *Relationship {
	for _, h := range t.imported {
		if h.rel.name == name && h.rel.pkTable == parent {
			return h.rel
		}
	}
	return nil
}

// AddColumn appends c.
func (t *Table) AddColumn(c *Column) error { return t.InsertColumn(c, len(t.columns)) }

// InsertColumn puts c at pos and renormalizes the primary key.
func (t *Table) InsertColumn(c *Column, pos int) error {
	if c.refCount <= 0 {
		return fmt.Errorf("%w: column %q has no references", ErrIllegalChild, c.name)
	}
	if err := insertChild(&t.Node, &t.columns, KindColumn, c, pos); err != nil {
		return err
	}
	t.NormalizePrimaryKey()
	return nil
}

// RemoveColumn takes c out of the table. While magic is enabled a column that
// is the child side of a foreign key mapping is locked. Mappings that use c
// on either side are dropped; child columns of dropped parent mappings lose
// a reference.
func (t *Table) RemoveColumn(c *Column) error {
	if indexOfChild(t.columns, c) < 0 {
		return fmt.Errorf("%w: column %q in %q", ErrChildNotFound, c.name, t.name)
	}
	if t.IsMagicEnabled() {
		for _, h := range t.imported {
			if h.rel.MappingForFK(c) != nil {
				return fmt.Errorf("%w: %q is mapped by %q", ErrLockedColumn, c.name, h.rel.name)
			}
		}
	}
	t.Begin("remove column " + c.name)
	defer t.Commit()
	if err := removeChild(&t.Node, &t.columns, KindColumn, c, true); err != nil {
		return err
	}
	for _, h := range slices.Clone(t.imported) {
		h.rel.dropFKColumn(c)
	}
	for _, r := range slices.Clone(t.exported) {
		r.dropPKColumn(c)
	}
	t.NormalizePrimaryKey()
	return nil
}

// MoveColumn repositions c; the key is renumbered by the new order.
func (t *Table) MoveColumn(c *Column, to int) error {
	from := indexOfChild(t.columns, c)
	if from < 0 {
		return fmt.Errorf("%w: column %q in %q", ErrChildNotFound, c.name, t.name)
	}
	if to < 0 || to >= len(t.columns) {
		to = len(t.columns) - 1
	}
	t.Begin("move column " + c.name)
	defer t.Commit()
	moveChild(&t.Node, &t.columns, KindColumn, from, to)
	t.NormalizePrimaryKey()
	return nil
}

// AddToPrimaryKey appends c to the key and moves it behind the current key
// columns.
func (t *Table) AddToPrimaryKey(c *Column) error {
	from := indexOfChild(t.columns, c)
	if from < 0 {
		return fmt.Errorf("%w: column %q in %q", ErrChildNotFound, c.name, t.name)
	}
	if c.pkSeq != nil {
		return nil
	}
	t.Begin("add " + c.name + " to primary key")
	defer t.Commit()
	if to := t.keyInsertPosition(); from != to {
		if from < to {
			to--
		}
		moveChild(&t.Node, &t.columns, KindColumn, from, to)
	}
	c.SetPrimaryKeySeq(KeySeq(len(t.columns)))
	return nil
}

// RemoveFromPrimaryKey drops c from the key and moves it behind the
// remaining key columns.
func (t *Table) RemoveFromPrimaryKey(c *Column) error {
	from := indexOfChild(t.columns, c)
	if from < 0 {
		return fmt.Errorf("%w: column %q in %q", ErrChildNotFound, c.name, t.name)
	}
	if c.pkSeq == nil {
		return nil
	}
	t.Begin("remove " + c.name + " from primary key")
	defer t.Commit()
	c.SetPrimaryKeySeq(nil)
	if to := t.keyInsertPosition(); from < to {
		moveChild(&t.Node, &t.columns, KindColumn, from, to-1)
	}
	return nil
}

// keyInsertPosition is the column position right after the last key column.
func (t *Table) keyInsertPosition() int {
	pos := 0
	for i, c := range t.columns {
		if c.pkSeq != nil {
			pos = i + 1
		}
	}
	return pos
}

// uniqueColumnName returns the first candidate not taken, or the last one
// with a numeric suffix.
func (t *Table) uniqueColumnName(candidates ...string) string {
	for _, name := range candidates {
		if t.ColumnByName(name) == nil {
			return name
		}
	}
	base := candidates[len(candidates)-1]
	for i := 1; ; i++ {
		name := base + "_" + strconv.Itoa(i)
		if t.ColumnByName(name) == nil {
			return name
		}
	}
}

// AddIndex appends ix. Referenced columns must belong to t and a table holds
// at most one primary key index.
func (t *Table) AddIndex(ix *Index) error { return t.insertIndex(ix, len(t.indexes)) }

func (t *Table) insertIndex(ix *Index, pos int) error {
	if ix.primaryKey && t.PrimaryKeyIndex() != nil {
		return fmt.Errorf("%w: %q already has a primary key index", ErrIllegalChild, t.name)
	}
	for _, ic := range ix.columns {
		if ic.column != nil && ic.column.Table() != t {
			return fmt.Errorf("%w: column %q is not in table %q", ErrIllegalChild, ic.column.name, t.name)
		}
	}
	if err := insertChild(&t.Node, &t.indexes, KindIndex, ix, pos); err != nil {
		return err
	}
	ix.watch(t)
	return nil
}

func (t *Table) RemoveIndex(ix *Index) error { return t.removeIndex(ix, true) }

func (t *Table) removeIndex(ix *Index, vetoable bool) error {
	if err := removeChild(&t.Node, &t.indexes, KindIndex, ix, vetoable); err != nil {
		return err
	}
	ix.unwatch()
	return nil
}

// SetPrimaryKeyIndex makes ix, an index of t, the primary key index. The key
// becomes exactly the columns of ix.
func (t *Table) SetPrimaryKeyIndex(ix *Index) error {
	if indexOfChild(t.indexes, ix) < 0 {
		return fmt.Errorf("%w: index %q in %q", ErrChildNotFound, ix.name, t.name)
	}
	if ix.primaryKey {
		return nil
	}
	if err := ix.setPrimaryKey(true); err != nil {
		return err
	}
	t.Begin("set primary key index " + ix.name)
	defer t.Commit()
	if old := t.PrimaryKeyIndex(); old != nil && old != ix {
		_ = old.setPrimaryKey(false)
	}
	for _, c := range t.columns {
		if !ix.ContainsColumn(c) {
			c.setPrimaryKeySeq(nil)
		}
	}
	for i, ic := range ix.columns {
		if ic.column.pkSeq == nil && !ic.column.autoIncrement {
			ic.column.SetNullable(introspect.ColumnNoNulls)
		}
		ic.column.setPrimaryKeySeq(KeySeq(i))
	}
	t.pkName = ix.name
	t.NormalizePrimaryKey()
	return nil
}

// RemoveExportedKey detaches r, a relationship in which t is the parent.
func (t *Table) RemoveExportedKey(r *Relationship) error {
	if r.pkTable != t {
		return fmt.Errorf("%w: exported key %q in %q", ErrChildNotFound, r.name, t.name)
	}
	return r.Detach()
}

// RemoveImportedKey detaches r, a relationship in which t is the child.
func (t *Table) RemoveImportedKey(r *Relationship) error {
	if r.fkTable != t {
		return fmt.Errorf("%w: imported key %q in %q", ErrChildNotFound, r.name, t.name)
	}
	return r.Detach()
}

// detachRelationships removes every relationship t takes part in.
func (t *Table) detachRelationships() error {
	var errs []error
	for _, h := range slices.Clone(t.imported) {
		if err := h.rel.Detach(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, r := range slices.Clone(t.exported) {
		if err := r.Detach(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NormalizePrimaryKey renumbers the key columns by table order and rebuilds
// the primary key index to match. A call made while a pass is running is
// folded into one more pass.
func (t *Table) NormalizePrimaryKey() {
	if t.normalizing {
		t.normalizePending = true
		return
	}
	t.normalizing = true
	defer func() { t.normalizing = false }()
	for {
		t.normalizePending = false
		t.normalizePass()
		if !t.normalizePending {
			return
		}
	}
}

func (t *Table) normalizePass() {
	s := t.SuspendMagic()
	defer s.Release()
	t.Begin("normalize primary key")
	defer t.Commit()

	var key []*Column
	for _, c := range t.columns {
		if c.pkSeq == nil {
			continue
		}
		c.setPrimaryKeySeq(KeySeq(len(key)))
		key = append(key, c)
	}
	ix := t.PrimaryKeyIndex()
	if len(key) == 0 {
		if ix != nil {
			_ = t.removeIndex(ix, false)
		}
		return
	}
	if ix == nil {
		ix = newPrimaryKeyIndex(t.PrimaryKeyName())
		if err := t.insertIndex(ix, 0); err != nil {
			return
		}
	}
	ix.syncColumns(key)
}

func (t *Table) Children() []Object {
	out := make([]Object, 0, len(t.columns)+len(t.indexes)+len(t.exported)+len(t.imported))
	out = append(out, toObjects(t.columns)...)
	out = append(out, toObjects(t.indexes)...)
	out = append(out, toObjects(t.exported)...)
	return append(out, toObjects(t.imported)...)
}

func (t *Table) Dependencies() []Object { return nil }

func (t *Table) RemoveDependency(Object) error { return nil }

// Database returns the database t belongs to, or nil.
func (t *Table) Database() *Database {
	for o := t.parent; o != nil; o = o.Parent() {
		if d, ok := o.(*Database); ok {
			return d
		}
	}
	return nil
}

// qualifiers returns the catalog and schema names of the enclosing containers.
func (t *Table) qualifiers() (catalog, schema string) {
	for o := t.parent; o != nil; o = o.Parent() {
		switch p := o.(type) {
		case *Schema:
			schema = p.name
		case *Catalog:
			catalog = p.name
		}
	}
	return catalog, schema
}

func (t *Table) String() string { return t.name }
