package model

import (
	"fmt"

	"schemamodel/internal/introspect"
)

// Column is a reference counted leaf of a Table. The owning table holds the
// column in its column slot; every foreign key mapping that uses the column
// as its child side holds one additional reference. When the count drops to
// zero the column removes itself from its table.
type Column struct {
	Node

	sqlType       int
	sourceType    string
	precision     int
	scale         int
	nullable      int
	defaultValue  string
	remarks       string
	pkSeq         *int
	autoIncrement bool

	refCount int
	source   *Column
}

// NewColumn returns a detached, nullable column with a reference count of one.
func NewColumn(name string, sqlType, precision, scale int) *Column {
	c := &Column{
		sqlType:   sqlType,
		precision: precision,
		scale:     scale,
		nullable:  introspect.ColumnNullable,
		refCount:  1,
	}
	c.init(c, name, true)
	return c
}

func newColumnFromRow(row introspect.ColumnRow) *Column {
	c := NewColumn(row.Name, row.DataType, row.Size, row.DecimalDigits)
	c.sourceType = row.TypeName
	c.nullable = row.Nullable
	c.remarks = row.Remarks
	if row.Default != nil {
		c.defaultValue = *row.Default
	}
	c.autoIncrement = row.AutoIncrement
	return c
}

// Table returns the owning table, or nil when the column is detached.
func (c *Column) Table() *Table {
	t, _ := c.parent.(*Table)
	return t
}

func (c *Column) Type() int { return c.sqlType }

func (c *Column) SourceType() string { return c.sourceType }

// TypeName is the type as shown to users, e.g. "VARCHAR(40)".
func (c *Column) TypeName() string { return columnTypeName(c) }

func (c *Column) Precision() int { return c.precision }

func (c *Column) Scale() int { return c.scale }

// Nullable returns the nullability code, see introspect.ColumnNullable.
func (c *Column) Nullable() int { return c.nullable }

func (c *Column) DefaultValue() string { return c.defaultValue }

func (c *Column) Remarks() string { return c.remarks }

func (c *Column) AutoIncrement() bool { return c.autoIncrement }

// IsNullable reports whether the column accepts nulls.
func (c *Column) IsNullable() bool { return c.nullable == introspect.ColumnNullable }

func (c *Column) SetType(sqlType int)        { setProp(&c.Node, &c.sqlType, sqlType, PropType) }
func (c *Column) SetSourceType(name string)  { setProp(&c.Node, &c.sourceType, name, PropSourceType) }
func (c *Column) SetPrecision(precision int) { setProp(&c.Node, &c.precision, precision, PropPrecision) }
func (c *Column) SetScale(scale int)         { setProp(&c.Node, &c.scale, scale, PropScale) }
func (c *Column) SetNullable(nullable int)   { setProp(&c.Node, &c.nullable, nullable, PropNullable) }
func (c *Column) SetDefaultValue(def string) { setProp(&c.Node, &c.defaultValue, def, PropDefault) }
func (c *Column) SetRemarks(remarks string)  { setProp(&c.Node, &c.remarks, remarks, PropRemarks) }
func (c *Column) SetAutoIncrement(on bool)   { setProp(&c.Node, &c.autoIncrement, on, PropAutoIncrement) }

// PrimaryKeySeq returns the zero based position of the column in its table's
// primary key, and false when the column is not part of the key.
func (c *Column) PrimaryKeySeq() (int, bool) {
	if c.pkSeq == nil {
		return 0, false
	}
	return *c.pkSeq, true
}

func (c *Column) InPrimaryKey() bool { return c.pkSeq != nil }

// SetPrimaryKeySeq moves the column into (non-nil seq) or out of (nil) the
// primary key. The table renumbers the key afterwards, so the value only
// matters relative to the other key columns. Joining the key makes a
// non auto-increment column NOT NULL.
func (c *Column) SetPrimaryKeySeq(seq *int) {
	if seq != nil && !c.autoIncrement {
		c.SetNullable(introspect.ColumnNoNulls)
	}
	if !c.setPrimaryKeySeq(seq) {
		return
	}
	if t := c.Table(); t != nil {
		t.NormalizePrimaryKey()
	}
}

// setPrimaryKeySeq assigns the sequence without normalizing the table.
func (c *Column) setPrimaryKeySeq(seq *int) bool {
	if c.pkSeq == nil && seq == nil {
		return false
	}
	if c.pkSeq != nil && seq != nil && *c.pkSeq == *seq {
		return false
	}
	var oldValue, newValue any
	if c.pkSeq != nil {
		oldValue = *c.pkSeq
	}
	if seq != nil {
		v := *seq
		newValue = v
		c.pkSeq = &v
	} else {
		c.pkSeq = nil
	}
	c.firePropertyChanged(PropPrimaryKeySeq, oldValue, newValue)
	return true
}

// ReferenceCount returns the number of holders keeping the column alive.
func (c *Column) ReferenceCount() int { return c.refCount }

func (c *Column) AddReference() {
	c.refCount++
	c.firePropertyChanged(PropReferenceCount, c.refCount-1, c.refCount)
}

// RemoveReference releases one holder. The last release removes the column
// from its table; if that removal fails the reference is kept.
func (c *Column) RemoveReference() error {
	if c.refCount <= 0 {
		return fmt.Errorf("column %q: reference count is already zero", c.name)
	}
	c.refCount--
	c.firePropertyChanged(PropReferenceCount, c.refCount+1, c.refCount)
	if c.refCount > 0 {
		return nil
	}
	if t := c.Table(); t != nil {
		if err := t.RemoveColumn(c); err != nil {
			c.AddReference()
			return err
		}
	}
	return nil
}

// SourceColumn returns the column this one was derived from, if it is still
// known. The link is lineage only.
func (c *Column) SourceColumn() *Column { return c.source }

// InheritingInstance returns a detached copy of c for use in target. The copy
// keeps c as its source column when both tables live in the same tree.
func (c *Column) InheritingInstance(target *Table) *Column {
	cp := c.Copy()
	if target != nil && c.Table() != nil && Root(target) == Root(c.Table()) {
		cp.source = c
	}
	return cp
}

// Copy returns a detached copy of c with no lineage and one reference.
func (c *Column) Copy() *Column {
	cp := &Column{
		sqlType:       c.sqlType,
		sourceType:    c.sourceType,
		precision:     c.precision,
		scale:         c.scale,
		nullable:      c.nullable,
		defaultValue:  c.defaultValue,
		remarks:       c.remarks,
		autoIncrement: c.autoIncrement,
		refCount:      1,
	}
	if c.pkSeq != nil {
		cp.pkSeq = KeySeq(*c.pkSeq)
	}
	cp.init(cp, c.name, true)
	cp.physicalName = c.physicalName
	return cp
}

// sameType reports whether two columns can share data: identical type code,
// precision and scale.
func sameType(a, b *Column) bool {
	return a.sqlType == b.sqlType && a.precision == b.precision && a.scale == b.scale
}

// updateToMatch copies fetched values onto c in place. Key membership is
// taken from inKey; the numbering stays with the table's normalization.
func (c *Column) updateToMatch(row introspect.ColumnRow, inKey bool, seq int) {
	c.SetType(row.DataType)
	c.SetSourceType(row.TypeName)
	c.SetPrecision(row.Size)
	c.SetScale(row.DecimalDigits)
	c.SetNullable(row.Nullable)
	c.SetRemarks(row.Remarks)
	def := ""
	if row.Default != nil {
		def = *row.Default
	}
	c.SetDefaultValue(def)
	c.SetAutoIncrement(row.AutoIncrement)
	switch {
	case inKey && c.pkSeq == nil:
		c.setPrimaryKeySeq(KeySeq(seq))
	case !inKey && c.pkSeq != nil:
		c.setPrimaryKeySeq(nil)
	}
}

func (c *Column) Children() []Object { return nil }

func (c *Column) Dependencies() []Object { return nil }

func (c *Column) RemoveDependency(dep Object) error {
	if src, ok := dep.(*Column); ok && src == c.source {
		c.source = nil
	}
	return nil
}

func (c *Column) String() string {
	return fmt.Sprintf("%s(%d,%d,%d)", c.name, c.sqlType, c.precision, c.scale)
}
