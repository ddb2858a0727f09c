package model

import (
	"errors"
	"fmt"
	"slices"

	"schemamodel/internal/introspect"
	"schemamodel/internal/logger"
)

// Relationship is a foreign key from a parent table (the one holding the
// primary key) to a child table. It is owned by the parent's exported keys
// and reached from the child through a ForeignKeyHandle. While attached, it
// keeps the child side in step with the parent's primary key.
type Relationship struct {
	Node

	updateRule    int
	deleteRule    int
	deferrability int
	identifying   bool

	pkTable  *Table
	fkTable  *Table
	handle   *ForeignKeyHandle
	mappings []*ColumnMapping
	mgr      *relationshipManager
}

// NewRelationship returns a detached relationship with NO ACTION rules.
func NewRelationship(name string) *Relationship {
	r := &Relationship{
		updateRule:    introspect.KeyNoAction,
		deleteRule:    introspect.KeyNoAction,
		deferrability: introspect.KeyNotDeferrable,
	}
	r.init(r, name, true)
	r.handle = &ForeignKeyHandle{rel: r}
	r.handle.init(r.handle, name, true)
	r.mgr = &relationshipManager{rel: r}
	return r
}

func (r *Relationship) PKTable() *Table { return r.pkTable }

func (r *Relationship) FKTable() *Table { return r.fkTable }

func (r *Relationship) Handle() *ForeignKeyHandle { return r.handle }

func (r *Relationship) UpdateRule() int { return r.updateRule }

func (r *Relationship) DeleteRule() int { return r.deleteRule }

func (r *Relationship) Deferrability() int { return r.deferrability }

func (r *Relationship) IsIdentifying() bool { return r.identifying }

func (r *Relationship) SetUpdateRule(rule int) { setProp(&r.Node, &r.updateRule, rule, PropUpdateRule) }

func (r *Relationship) SetDeleteRule(rule int) { setProp(&r.Node, &r.deleteRule, rule, PropDeleteRule) }

func (r *Relationship) SetDeferrability(d int) {
	setProp(&r.Node, &r.deferrability, d, PropDeferrability)
}

// Mappings returns the column pairs in key order.
func (r *Relationship) Mappings() []*ColumnMapping { return slices.Clone(r.mappings) }

// MappingFor returns the mapping whose parent side is pk, or nil.
func (r *Relationship) MappingFor(pk *Column) *ColumnMapping {
	for _, m := range r.mappings {
		if m.pk == pk {
			return m
		}
	}
	return nil
}

// MappingForFK returns the mapping whose child side is fk, or nil.
func (r *Relationship) MappingForFK(fk *Column) *ColumnMapping {
	for _, m := range r.mappings {
		if m.fk == fk {
			return m
		}
	}
	return nil
}

// Attach links r between pkTable and fkTable. With autoGenerate set, a child
// column is derived for every key column of pkTable, in key order. A
// self-referencing relationship is never identifying.
func (r *Relationship) Attach(pkTable, fkTable *Table, autoGenerate bool) error {
	if r.pkTable != nil {
		return fmt.Errorf("%w: %q", ErrAlreadyAttached, r.name)
	}
	if pkTable == nil || fkTable == nil {
		return fmt.Errorf("relationship %q: both tables are required", r.name)
	}
	pkTable.Begin("create relationship " + r.name)
	defer pkTable.Commit()
	fkTable.Begin("create relationship " + r.name)
	defer fkTable.Commit()

	if pkTable == fkTable {
		setProp(&r.Node, &r.identifying, false, PropIdentifying)
	}
	if err := r.attach(pkTable, fkTable); err != nil {
		return err
	}
	if !autoGenerate {
		return nil
	}
	r.mgr.busy++
	defer func() { r.mgr.busy-- }()
	for _, pk := range pkTable.PrimaryKeyColumns() {
		if err := r.generateMapping(pk); err != nil {
			return err
		}
	}
	fkTable.NormalizePrimaryKey()
	return nil
}

// attach inserts r into both tables without deriving any mapping.
func (r *Relationship) attach(pkTable, fkTable *Table) error {
	if err := insertChild(&pkTable.Node, &pkTable.exported, KindExportedKey, r, len(pkTable.exported)); err != nil {
		return err
	}
	if err := insertChild(&fkTable.Node, &fkTable.imported, KindImportedKey, r.handle, len(fkTable.imported)); err != nil {
		_ = removeChild(&pkTable.Node, &pkTable.exported, KindExportedKey, r, false)
		return err
	}
	r.pkTable, r.fkTable = pkTable, fkTable
	r.mgr.start()
	return nil
}

// generateMapping derives the child column for pk and maps it.
func (r *Relationship) generateMapping(pk *Column) error {
	fk, reused := r.childColumnFor(pk)
	switch {
	case reused:
		fk.AddReference()
		if r.identifying && fk.pkSeq == nil {
			if err := r.fkTable.AddToPrimaryKey(fk); err != nil {
				return err
			}
		}
	case r.identifying:
		fk.pkSeq = KeySeq(len(r.fkTable.columns))
		fk.nullable = introspect.ColumnNoNulls
		if err := insertChild(&r.fkTable.Node, &r.fkTable.columns, KindColumn, fk, r.fkTable.keyInsertPosition()); err != nil {
			return err
		}
	default:
		if err := insertChild(&r.fkTable.Node, &r.fkTable.columns, KindColumn, fk, len(r.fkTable.columns)); err != nil {
			return err
		}
	}
	return insertChild(&r.Node, &r.mappings, KindColumnMapping, newColumnMapping(pk, fk), len(r.mappings))
}

// childColumnFor returns the column of the child table that should mirror pk:
// a same-named column when it can be shared safely, otherwise a new one.
func (r *Relationship) childColumnFor(pk *Column) (*Column, bool) {
	if r.pkTable != r.fkTable {
		existing := r.fkTable.ColumnByName(pk.name)
		if existing != nil && !r.hasSibling() && sameType(existing, pk) && r.MappingForFK(existing) == nil {
			return existing, true
		}
	}
	fk := pk.InheritingInstance(r.fkTable)
	fk.autoIncrement = false
	fk.pkSeq = nil
	fk.physicalName = ""
	fk.name = r.fkTable.uniqueColumnName(pk.name, r.pkTable.name+"_"+pk.name)
	return fk, false
}

// hasSibling reports whether another relationship links the same two tables.
func (r *Relationship) hasSibling() bool {
	for _, h := range r.fkTable.imported {
		if h.rel != r && h.rel.pkTable == r.pkTable {
			return true
		}
	}
	return false
}

// AddMapping maps pk, a column of the parent table, onto fk, a column of the
// child table. The child column gains a reference and, when r is
// identifying, joins the child's primary key.
func (r *Relationship) AddMapping(pk, fk *Column) error {
	if r.pkTable == nil {
		return fmt.Errorf("%w: %q", ErrNotAttached, r.name)
	}
	if pk.Table() != r.pkTable {
		return fmt.Errorf("%w: column %q is not in parent table %q", ErrIllegalChild, pk.name, r.pkTable.name)
	}
	if fk.Table() != r.fkTable {
		return fmt.Errorf("%w: column %q is not in child table %q", ErrIllegalChild, fk.name, r.fkTable.name)
	}
	if m := r.MappingFor(pk); m != nil && m.fk == fk {
		return fmt.Errorf("%w: %s is already mapped", ErrIllegalChild, m.Name())
	}
	fk.AddReference()
	if err := insertChild(&r.Node, &r.mappings, KindColumnMapping, newColumnMapping(pk, fk), len(r.mappings)); err != nil {
		_ = fk.RemoveReference()
		return err
	}
	if r.identifying && fk.pkSeq == nil && r.IsMagicEnabled() {
		return r.fkTable.AddToPrimaryKey(fk)
	}
	return nil
}

// RemoveMapping drops m and releases its child column. A column removed
// from an identifying key leaves the child's primary key unless another
// identifying relationship still holds it there.
func (r *Relationship) RemoveMapping(m *ColumnMapping) error {
	if err := removeChild(&r.Node, &r.mappings, KindColumnMapping, m, true); err != nil {
		return err
	}
	return r.release(m)
}

func (r *Relationship) release(m *ColumnMapping) error {
	fk := m.fk
	if r.identifying && r.fkTable != nil && fk.Table() == r.fkTable && fk.pkSeq != nil &&
		fk.refCount > 1 && !r.keyedElsewhere(fk) && r.IsMagicEnabled() {
		if err := r.fkTable.RemoveFromPrimaryKey(fk); err != nil {
			return err
		}
	}
	return fk.RemoveReference()
}

// keyedElsewhere reports whether another identifying relationship maps fk.
func (r *Relationship) keyedElsewhere(fk *Column) bool {
	for _, h := range r.fkTable.imported {
		if h.rel != r && h.rel.identifying && h.rel.MappingForFK(fk) != nil {
			return true
		}
	}
	return false
}

// SetIdentifying sets the identifying flag. On an attached relationship with
// magic enabled, the mapped child columns join or leave the child's key.
// A self reference cannot be made identifying.
func (r *Relationship) SetIdentifying(identifying bool) error {
	if identifying && r.pkTable != nil && r.pkTable == r.fkTable {
		return fmt.Errorf("%w: %q", ErrSelfReference, r.name)
	}
	if !setProp(&r.Node, &r.identifying, identifying, PropIdentifying) {
		return nil
	}
	if r.fkTable == nil || !r.IsMagicEnabled() {
		return nil
	}
	r.mgr.busy++
	defer func() { r.mgr.busy-- }()
	r.fkTable.Begin("set identifying " + r.name)
	defer r.fkTable.Commit()
	var errs []error
	for _, m := range r.mappings {
		switch {
		case identifying && m.fk.pkSeq == nil:
			errs = append(errs, r.fkTable.AddToPrimaryKey(m.fk))
		case !identifying && m.fk.pkSeq != nil && !r.keyedElsewhere(m.fk):
			errs = append(errs, r.fkTable.RemoveFromPrimaryKey(m.fk))
		}
	}
	return errors.Join(errs...)
}

// DeriveIdentifying reports whether r behaves as identifying regardless of
// its flag: the parent key is no larger than the child key and every parent
// key column is mapped onto a child key column. Self references never are.
func (r *Relationship) DeriveIdentifying() bool {
	if r.pkTable == nil || r.pkTable == r.fkTable {
		return false
	}
	key := r.pkTable.PrimaryKeyColumns()
	if len(key) == 0 || len(key) > r.fkTable.PrimaryKeySize() {
		return false
	}
	for _, pk := range key {
		m := r.MappingFor(pk)
		if m == nil || m.fk.pkSeq == nil {
			return false
		}
	}
	return true
}

// Detach removes r from both tables and releases every child column
// reference, last mapping first.
func (r *Relationship) Detach() error {
	if r.pkTable == nil {
		return fmt.Errorf("%w: %q", ErrNotAttached, r.name)
	}
	pkTable, fkTable := r.pkTable, r.fkTable
	pkTable.Begin("remove relationship " + r.name)
	defer pkTable.Commit()
	fkTable.Begin("remove relationship " + r.name)
	defer fkTable.Commit()

	r.mgr.busy++
	defer func() { r.mgr.busy-- }()
	r.mgr.stop()

	var errs []error
	for i := len(r.mappings) - 1; i >= 0; i-- {
		m := r.mappings[i]
		_ = removeChild(&r.Node, &r.mappings, KindColumnMapping, m, false)
		if err := m.fk.RemoveReference(); err != nil {
			errs = append(errs, err)
		}
	}
	_ = removeChild(&fkTable.Node, &fkTable.imported, KindImportedKey, r.handle, false)
	_ = removeChild(&pkTable.Node, &pkTable.exported, KindExportedKey, r, false)
	r.pkTable, r.fkTable = nil, nil
	fkTable.NormalizePrimaryKey()
	return errors.Join(errs...)
}

// dropPKColumn removes the mappings of a parent column that left the parent
// table and releases their child columns.
func (r *Relationship) dropPKColumn(c *Column) {
	for m := r.MappingFor(c); m != nil; m = r.MappingFor(c) {
		_ = removeChild(&r.Node, &r.mappings, KindColumnMapping, m, false)
		if err := m.fk.RemoveReference(); err != nil {
			logger.Warn("release %s: %v", m.Name(), err)
		}
	}
}

// dropFKColumn removes the mappings of a child column that left the child
// table. The column is already gone, so no reference is released.
func (r *Relationship) dropFKColumn(c *Column) {
	for m := r.MappingForFK(c); m != nil; m = r.MappingForFK(c) {
		_ = removeChild(&r.Node, &r.mappings, KindColumnMapping, m, false)
	}
}

// syncMappings makes the mapping list exactly pairs, in order, keeping the
// mappings that already match.
func (r *Relationship) syncMappings(pairs []keyPair) {
	want := func(m *ColumnMapping) bool {
		return slices.ContainsFunc(pairs, func(p keyPair) bool { return p.pk == m.pk && p.fk == m.fk })
	}
	for i := len(r.mappings) - 1; i >= 0; i-- {
		if m := r.mappings[i]; !want(m) {
			_ = removeChild(&r.Node, &r.mappings, KindColumnMapping, m, false)
			if err := m.fk.RemoveReference(); err != nil {
				logger.Warn("release %s: %v", m.Name(), err)
			}
		}
	}
	for i, p := range pairs {
		cur := slices.IndexFunc(r.mappings, func(m *ColumnMapping) bool { return m.pk == p.pk && m.fk == p.fk })
		if cur < 0 {
			p.fk.AddReference()
			_ = insertChild(&r.Node, &r.mappings, KindColumnMapping, newColumnMapping(p.pk, p.fk), i)
			continue
		}
		if cur != i {
			moveChild(&r.Node, &r.mappings, KindColumnMapping, cur, i)
		}
	}
}

func (r *Relationship) Children() []Object { return toObjects(r.mappings) }

func (r *Relationship) Dependencies() []Object {
	if r.fkTable == nil {
		return nil
	}
	return []Object{r.fkTable}
}

// RemoveDependency detaches r when dep is either of its tables.
func (r *Relationship) RemoveDependency(dep Object) error {
	if t, ok := dep.(*Table); ok && r.pkTable != nil && (t == r.fkTable || t == r.pkTable) {
		return r.Detach()
	}
	return nil
}

// ColumnMapping pairs a parent column with the child column mirroring it.
// Neither reference owns its column.
type ColumnMapping struct {
	Node

	pk *Column
	fk *Column
}

func newColumnMapping(pk, fk *Column) *ColumnMapping {
	m := &ColumnMapping{pk: pk, fk: fk}
	m.init(m, "", true)
	return m
}

func (m *ColumnMapping) Name() string { return m.pk.Name() + " -> " + m.fk.Name() }

func (m *ColumnMapping) PKColumn() *Column { return m.pk }

func (m *ColumnMapping) FKColumn() *Column { return m.fk }

func (m *ColumnMapping) Relationship() *Relationship {
	r, _ := m.parent.(*Relationship)
	return r
}

func (m *ColumnMapping) Children() []Object { return nil }

func (m *ColumnMapping) Dependencies() []Object { return []Object{m.pk, m.fk} }

// RemoveDependency removes the mapping when dep is either of its columns.
func (m *ColumnMapping) RemoveDependency(dep Object) error {
	c, ok := dep.(*Column)
	if !ok || (c != m.pk && c != m.fk) {
		return nil
	}
	if r := m.Relationship(); r != nil {
		return r.RemoveMapping(m)
	}
	return nil
}

// ForeignKeyHandle is the child table's entry for an imported relationship.
type ForeignKeyHandle struct {
	Node

	rel *Relationship
}

func (h *ForeignKeyHandle) Name() string { return h.rel.Name() }

func (h *ForeignKeyHandle) Relationship() *Relationship { return h.rel }

func (h *ForeignKeyHandle) Table() *Table {
	t, _ := h.parent.(*Table)
	return t
}

func (h *ForeignKeyHandle) Children() []Object { return nil }

func (h *ForeignKeyHandle) Dependencies() []Object { return []Object{h.rel} }

// RemoveDependency detaches the relationship, which also removes the handle.
func (h *ForeignKeyHandle) RemoveDependency(dep Object) error {
	if dep == Object(h.rel) && h.rel.pkTable != nil {
		return h.rel.Detach()
	}
	return nil
}

// relationshipManager keeps an attached relationship in step with its parent
// table. It listens on both tables, on the relationship, on every parent
// column and on every mapped child column.
type relationshipManager struct {
	rel     *Relationship
	busy    int
	columns []*Column
}

func (m *relationshipManager) start() {
	r := m.rel
	r.AddListener(m)
	r.pkTable.AddListener(m)
	if r.fkTable != r.pkTable {
		r.fkTable.AddListener(m)
	}
	for _, c := range r.pkTable.columns {
		m.listen(c)
	}
	for _, mp := range r.mappings {
		m.listen(mp.fk)
	}
}

func (m *relationshipManager) stop() {
	r := m.rel
	r.RemoveListener(m)
	r.pkTable.RemoveListener(m)
	r.fkTable.RemoveListener(m)
	for _, c := range m.columns {
		c.RemoveListener(m)
	}
	m.columns = nil
}

func (m *relationshipManager) listen(c *Column) {
	if !slices.Contains(m.columns, c) {
		m.columns = append(m.columns, c)
		c.AddListener(m)
	}
}

func (m *relationshipManager) unlisten(c *Column) {
	if i := slices.Index(m.columns, c); i >= 0 {
		m.columns = slices.Delete(m.columns, i, i+1)
		c.RemoveListener(m)
	}
}

// active reports whether reactive work may run for an event of src.
func (m *relationshipManager) active(src Object) bool {
	return m.busy == 0 && m.rel.pkTable != nil && m.rel.IsMagicEnabled() && src.node().IsMagicEnabled()
}

func (m *relationshipManager) ChildAdded(e ChildEvent) {
	r := m.rel
	if mp, ok := e.Child.(*ColumnMapping); ok && e.Source == Object(r) {
		m.listen(mp.fk)
		return
	}
	col, ok := e.Child.(*Column)
	if !ok || r.pkTable == nil || e.Source != Object(r.pkTable) || e.Kind != KindColumn {
		return
	}
	m.listen(col)
	if !e.Move && col.pkSeq != nil && m.active(e.Source) {
		m.joinKey(col)
	}
}

func (m *relationshipManager) ChildRemoved(e ChildEvent) {
	r := m.rel
	if mp, ok := e.Child.(*ColumnMapping); ok && e.Source == Object(r) {
		if !e.Move && r.MappingForFK(mp.fk) == nil && mp.fk.Table() != r.pkTable {
			m.unlisten(mp.fk)
		}
		return
	}
	col, ok := e.Child.(*Column)
	if !ok || e.Move || r.pkTable == nil || e.Source != Object(r.pkTable) || e.Kind != KindColumn {
		return
	}
	m.unlisten(col)
}

func (m *relationshipManager) PropertyChanged(e PropertyEvent) {
	r := m.rel
	col, ok := e.Source.(*Column)
	if !ok || r.pkTable == nil {
		return
	}
	if e.Property == PropPrimaryKeySeq && e.NewValue == nil && col.Table() == r.fkTable {
		m.keyLeft(col)
	}
	if col.Table() != r.pkTable || !m.active(e.Source) {
		return
	}
	switch e.Property {
	case PropPrimaryKeySeq:
		switch {
		case e.OldValue == nil && e.NewValue != nil:
			m.joinKey(col)
		case e.OldValue != nil && e.NewValue == nil:
			m.leaveKey(col)
		}
	case PropName, PropPhysicalName, PropType, PropPrecision, PropScale, PropNullable, PropDefault, PropSourceType:
		m.mirror(col, e)
	}
}

func (m *relationshipManager) TransactionStarted(TransactionEvent) {}

func (m *relationshipManager) TransactionEnded(TransactionEvent) {}

// joinKey maps a column that entered the parent's primary key.
func (m *relationshipManager) joinKey(col *Column) {
	r := m.rel
	if r.MappingFor(col) != nil {
		return
	}
	m.busy++
	defer func() { m.busy-- }()
	r.fkTable.Begin("propagate key column " + col.name)
	defer r.fkTable.Commit()
	if err := r.generateMapping(col); err != nil {
		logger.Error("relationship %s: map %s: %v", r.name, col.name, err)
		return
	}
	r.fkTable.NormalizePrimaryKey()
}

// keyLeft clears the identifying flag once one of its child columns leaves
// the child's primary key. Nothing else is undone.
func (m *relationshipManager) keyLeft(col *Column) {
	r := m.rel
	if !r.identifying || r.MappingForFK(col) == nil || !r.IsMagicEnabled() || !col.IsMagicEnabled() {
		return
	}
	logger.Debug("relationship %s: %s left the key of %s, no longer identifying", r.name, col.name, r.fkTable.name)
	setProp(&r.Node, &r.identifying, false, PropIdentifying)
}

// leaveKey unmaps a column that left the parent's primary key.
func (m *relationshipManager) leaveKey(col *Column) {
	r := m.rel
	mp := r.MappingFor(col)
	if mp == nil {
		return
	}
	m.busy++
	defer func() { m.busy-- }()
	r.fkTable.Begin("unmap key column " + col.name)
	defer r.fkTable.Commit()
	if err := removeChild(&r.Node, &r.mappings, KindColumnMapping, mp, false); err != nil {
		return
	}
	if err := r.release(mp); err != nil {
		logger.Error("relationship %s: release %s: %v", r.name, mp.Name(), err)
	}
}

// mirror copies a parent column property onto its mapped child column. A
// rename is copied only while the child still carries the old name.
func (m *relationshipManager) mirror(col *Column, e PropertyEvent) {
	mp := m.rel.MappingFor(col)
	if mp == nil {
		return
	}
	fk := mp.fk
	m.busy++
	defer func() { m.busy-- }()
	switch e.Property {
	case PropName:
		if old, _ := e.OldValue.(string); fk.name == old {
			fk.SetName(col.name)
		}
	case PropPhysicalName:
		if old, _ := e.OldValue.(string); fk.physicalName == old {
			fk.SetPhysicalName(col.physicalName)
		}
	case PropType:
		fk.SetType(col.sqlType)
	case PropPrecision:
		fk.SetPrecision(col.precision)
	case PropScale:
		fk.SetScale(col.scale)
	case PropNullable:
		fk.SetNullable(col.nullable)
	case PropDefault:
		fk.SetDefaultValue(col.defaultValue)
	case PropSourceType:
		fk.SetSourceType(col.sourceType)
	}
}
