package model

import (
	"fmt"
	"slices"

	"schemamodel/internal/introspect"
)

// SortOrder is the ordering of one index column.
type SortOrder int

const (
	OrderUnspecified SortOrder = iota
	OrderAscending
	OrderDescending
)

func (o SortOrder) String() string {
	switch o {
	case OrderAscending:
		return "ASC"
	case OrderDescending:
		return "DESC"
	default:
		return ""
	}
}

func sortOrderFromCode(code string) SortOrder {
	switch code {
	case "A":
		return OrderAscending
	case "D":
		return OrderDescending
	default:
		return OrderUnspecified
	}
}

// IndexColumn is one entry of an Index: either a reference to a column of
// the index's table or a raw expression. The column reference does not own
// the column.
type IndexColumn struct {
	Node

	column *Column
	order  SortOrder
}

// NewIndexColumn returns an entry referring to col.
func NewIndexColumn(col *Column, order SortOrder) *IndexColumn {
	ic := &IndexColumn{column: col, order: order}
	ic.init(ic, col.Name(), true)
	return ic
}

// NewIndexExpression returns an entry holding a raw expression.
func NewIndexExpression(expr string, order SortOrder) *IndexColumn {
	ic := &IndexColumn{order: order}
	ic.init(ic, expr, true)
	return ic
}

// Name returns the referenced column's current name, or the expression.
func (ic *IndexColumn) Name() string {
	if ic.column != nil {
		return ic.column.Name()
	}
	return ic.name
}

// Column returns the referenced column, or nil for an expression.
func (ic *IndexColumn) Column() *Column { return ic.column }

// Expression returns the raw text when the entry is not a column reference.
func (ic *IndexColumn) Expression() string {
	if ic.column != nil {
		return ""
	}
	return ic.name
}

func (ic *IndexColumn) Order() SortOrder { return ic.order }

func (ic *IndexColumn) SetOrder(order SortOrder) { setProp(&ic.Node, &ic.order, order, PropOrder) }

func (ic *IndexColumn) Index() *Index {
	ix, _ := ic.parent.(*Index)
	return ix
}

func (ic *IndexColumn) Children() []Object { return nil }

func (ic *IndexColumn) Dependencies() []Object {
	if ic.column == nil {
		return nil
	}
	return []Object{ic.column}
}

// RemoveDependency removes the entry from its index when dep is its column.
func (ic *IndexColumn) RemoveDependency(dep Object) error {
	if col, ok := dep.(*Column); !ok || col != ic.column {
		return nil
	}
	if ix := ic.Index(); ix != nil {
		return ix.RemoveIndexColumn(ic)
	}
	return nil
}

// Index is an ordered set of column references or expressions on one table.
type Index struct {
	Node

	unique     bool
	clustered  bool
	primaryKey bool
	qualifier  string
	filter     string
	indexType  int
	columns    []*IndexColumn

	watching *Table
	tableL   *ListenerFuncs
}

// NewIndex returns an empty, detached, non-unique index.
func NewIndex(name string) *Index {
	ix := &Index{indexType: introspect.IndexOther}
	ix.init(ix, name, true)
	ix.tableL = &ListenerFuncs{OnChildRemoved: ix.tableChildRemoved}
	return ix
}

func newPrimaryKeyIndex(name string) *Index {
	ix := NewIndex(name)
	ix.unique = true
	ix.primaryKey = true
	return ix
}

// Table returns the owning table.
func (ix *Index) Table() *Table {
	t, _ := ix.parent.(*Table)
	return t
}

func (ix *Index) IsUnique() bool { return ix.unique }

func (ix *Index) IsClustered() bool { return ix.clustered }

func (ix *Index) IsPrimaryKey() bool { return ix.primaryKey }

func (ix *Index) Qualifier() string { return ix.qualifier }

func (ix *Index) FilterCondition() string { return ix.filter }

func (ix *Index) IndexType() int { return ix.indexType }

func (ix *Index) SetUnique(unique bool) { setProp(&ix.Node, &ix.unique, unique, PropUnique) }

func (ix *Index) SetClustered(clustered bool) {
	setProp(&ix.Node, &ix.clustered, clustered, PropClustered)
}

func (ix *Index) SetQualifier(q string) { setProp(&ix.Node, &ix.qualifier, q, PropQualifier) }

func (ix *Index) SetFilterCondition(f string) { setProp(&ix.Node, &ix.filter, f, PropFilter) }

func (ix *Index) SetIndexType(t int) { setProp(&ix.Node, &ix.indexType, t, PropIndexType) }

// setPrimaryKey flips the primary key flag. Callers keep the one-per-table
// invariant; see Table.SetPrimaryKeyIndex.
func (ix *Index) setPrimaryKey(pk bool) error {
	if pk {
		for _, ic := range ix.columns {
			if ic.column == nil {
				return fmt.Errorf("%w: primary key index %q cannot hold expression %q", ErrIllegalChild, ix.name, ic.name)
			}
		}
	}
	setProp(&ix.Node, &ix.primaryKey, pk, PropPrimaryKey)
	return nil
}

// Columns returns the index entries in order.
func (ix *Index) Columns() []*IndexColumn { return slices.Clone(ix.columns) }

func (ix *Index) ColumnCount() int { return len(ix.columns) }

// IndexColumnFor returns the entry referring to col, or nil.
func (ix *Index) IndexColumnFor(col *Column) *IndexColumn {
	for _, ic := range ix.columns {
		if ic.column == col {
			return ic
		}
	}
	return nil
}

// ContainsColumn reports whether any entry refers to col.
func (ix *Index) ContainsColumn(col *Column) bool { return ix.IndexColumnFor(col) != nil }

// AddIndexColumn appends ic.
func (ix *Index) AddIndexColumn(ic *IndexColumn) error {
	return ix.InsertIndexColumn(ic, len(ix.columns))
}

// InsertIndexColumn puts ic at pos. A primary key index accepts only column
// references, and referenced columns must belong to the index's table.
func (ix *Index) InsertIndexColumn(ic *IndexColumn, pos int) error {
	if ic.column == nil && ix.primaryKey {
		return fmt.Errorf("%w: primary key index %q cannot hold expression %q", ErrIllegalChild, ix.name, ic.name)
	}
	if t := ix.Table(); t != nil && ic.column != nil && ic.column.Table() != t {
		return fmt.Errorf("%w: column %q is not in table %q", ErrIllegalChild, ic.column.Name(), t.Name())
	}
	return insertChild(&ix.Node, &ix.columns, KindIndexColumn, ic, pos)
}

func (ix *Index) RemoveIndexColumn(ic *IndexColumn) error {
	return removeChild(&ix.Node, &ix.columns, KindIndexColumn, ic, true)
}

// AddColumn appends a reference to col with the given order.
func (ix *Index) AddColumn(col *Column, order SortOrder) error {
	return ix.AddIndexColumn(NewIndexColumn(col, order))
}

// matches reports whether the entries are exactly cols, in order.
func (ix *Index) matches(cols []*Column) bool {
	if len(ix.columns) != len(cols) {
		return false
	}
	for i, ic := range ix.columns {
		if ic.column != cols[i] {
			return false
		}
	}
	return true
}

// syncColumns rebuilds the entries to reference exactly cols in order,
// reusing existing entries by column identity.
func (ix *Index) syncColumns(cols []*Column) {
	if ix.matches(cols) {
		return
	}
	keep := make(map[*Column]*IndexColumn, len(cols))
	for _, ic := range slices.Clone(ix.columns) {
		if ic.column != nil && keep[ic.column] == nil && slices.Contains(cols, ic.column) {
			keep[ic.column] = ic
			continue
		}
		_ = removeChild(&ix.Node, &ix.columns, KindIndexColumn, ic, false)
	}
	for i, col := range cols {
		ic := keep[col]
		if ic == nil {
			_ = insertChild(&ix.Node, &ix.columns, KindIndexColumn, NewIndexColumn(col, OrderUnspecified), i)
			continue
		}
		if cur := indexOfChild(ix.columns, ic); cur != i {
			moveChild(&ix.Node, &ix.columns, KindIndexColumn, cur, i)
		}
	}
}

// indexEntry is the resolved shape of one fetched index column.
type indexEntry struct {
	column *Column
	expr   string
	order  SortOrder
}

// indexGroup is one fetched index with its resolved entries.
type indexGroup struct {
	name      string
	unique    bool
	qualifier string
	indexType int
	filter    string
	entries   []indexEntry
}

func (g indexGroup) build() *Index {
	ix := NewIndex(g.name)
	ix.applyAttributes(g)
	for _, e := range g.entries {
		_ = insertChild(&ix.Node, &ix.columns, KindIndexColumn, e.newIndexColumn(), len(ix.columns))
	}
	return ix
}

func (e indexEntry) newIndexColumn() *IndexColumn {
	if e.column != nil {
		return NewIndexColumn(e.column, e.order)
	}
	return NewIndexExpression(e.expr, e.order)
}

func (ix *Index) applyAttributes(g indexGroup) {
	ix.SetUnique(g.unique)
	ix.SetQualifier(g.qualifier)
	ix.SetIndexType(g.indexType)
	ix.SetClustered(g.indexType == introspect.IndexClustered)
	ix.SetFilterCondition(g.filter)
}

// updateToMatch copies the fetched attributes and, for ordinary indexes,
// the entry list onto ix in place.
func (ix *Index) updateToMatch(g indexGroup) {
	ix.applyAttributes(g)
	if ix.primaryKey {
		return
	}
	same := len(ix.columns) == len(g.entries)
	for i := 0; same && i < len(g.entries); i++ {
		ic, e := ix.columns[i], g.entries[i]
		same = ic.column == e.column && (e.column != nil || ic.name == e.expr)
	}
	if same {
		for i, e := range g.entries {
			ix.columns[i].SetOrder(e.order)
		}
		return
	}
	for len(ix.columns) > 0 {
		_ = removeChild(&ix.Node, &ix.columns, KindIndexColumn, ix.columns[len(ix.columns)-1], false)
	}
	for _, e := range g.entries {
		_ = insertChild(&ix.Node, &ix.columns, KindIndexColumn, e.newIndexColumn(), len(ix.columns))
	}
}

// watch starts following column removals of t.
func (ix *Index) watch(t *Table) {
	ix.unwatch()
	ix.watching = t
	t.AddListener(ix.tableL)
}

func (ix *Index) unwatch() {
	if ix.watching != nil {
		ix.watching.RemoveListener(ix.tableL)
		ix.watching = nil
	}
}

// tableChildRemoved drops entries of a column that left the table, and the
// whole index once it has no entries left.
func (ix *Index) tableChildRemoved(e ChildEvent) {
	col, ok := e.Child.(*Column)
	if !ok || e.Kind != KindColumn || e.Move {
		return
	}
	for ic := ix.IndexColumnFor(col); ic != nil; ic = ix.IndexColumnFor(col) {
		_ = removeChild(&ix.Node, &ix.columns, KindIndexColumn, ic, false)
	}
	if len(ix.columns) == 0 && ix.watching != nil {
		_ = ix.watching.RemoveIndex(ix)
	}
}

func (ix *Index) Children() []Object { return toObjects(ix.columns) }

func (ix *Index) Dependencies() []Object { return nil }

func (ix *Index) RemoveDependency(dep Object) error {
	col, ok := dep.(*Column)
	if !ok {
		return nil
	}
	for ic := ix.IndexColumnFor(col); ic != nil; ic = ix.IndexColumnFor(col) {
		if err := ix.RemoveIndexColumn(ic); err != nil {
			return err
		}
	}
	return nil
}
