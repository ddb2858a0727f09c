package model

import (
	"fmt"

	"schemamodel/internal/introspect"
)

// Snapshot renders the populated part of d for the diagram view. Nothing is
// populated on the way.
func Snapshot(d *Database) introspect.Schema {
	out := introspect.Schema{Tables: []introspect.Table{}, ForeignKeys: []introspect.ForeignKey{}}
	seen := make(map[*Relationship]bool)
	for _, t := range d.AllTables() {
		out.Tables = append(out.Tables, snapshotTable(t))
		for _, r := range append(t.ImportedKeys(), t.exported...) {
			if seen[r] {
				continue
			}
			seen[r] = true
			out.ForeignKeys = append(out.ForeignKeys, snapshotKey(r))
		}
	}
	return out
}

func snapshotTable(t *Table) introspect.Table {
	cat, sch := t.qualifiers()
	out := introspect.Table{
		Catalog: cat,
		Schema:  sch,
		Name:    t.name,
		Kind:    string(t.objectType),
		Columns: make([]introspect.Column, 0, len(t.columns)),
	}
	if t.remarks != "" {
		remarks := t.remarks
		out.Comment = &remarks
	}
	for _, c := range t.columns {
		col := introspect.Column{
			Name:          c.name,
			Type:          columnTypeName(c),
			Nullable:      c.IsNullable(),
			PK:            c.pkSeq != nil,
			AutoIncrement: c.autoIncrement,
		}
		if c.pkSeq != nil {
			col.PKSeq = KeySeq(*c.pkSeq)
		}
		if c.defaultValue != "" {
			def := c.defaultValue
			col.Default = &def
		}
		out.Columns = append(out.Columns, col)
	}
	for _, ix := range t.indexes {
		idx := introspect.Index{Name: ix.name, Unique: ix.unique, Primary: ix.primaryKey, Columns: []string{}}
		for _, ic := range ix.columns {
			idx.Columns = append(idx.Columns, ic.Name())
		}
		out.Indexes = append(out.Indexes, idx)
	}
	return out
}

func snapshotKey(r *Relationship) introspect.ForeignKey {
	_, fromSchema := r.fkTable.qualifiers()
	_, toSchema := r.pkTable.qualifiers()
	fk := introspect.ForeignKey{
		FromSchema:  fromSchema,
		FromTable:   r.fkTable.name,
		ToSchema:    toSchema,
		ToTable:     r.pkTable.name,
		Constraint:  r.name,
		Identifying: r.identifying,
	}
	for _, m := range r.mappings {
		fk.FromColumns = append(fk.FromColumns, m.fk.name)
		fk.ToColumns = append(fk.ToColumns, m.pk.name)
	}
	if len(r.mappings) > 0 {
		fk.FromColumn = fk.FromColumns[0]
		fk.ToColumn = fk.ToColumns[0]
	}
	return fk
}

// columnTypeName prefers the native type name and falls back to the generic
// one with its size.
func columnTypeName(c *Column) string {
	if c.sourceType != "" {
		return c.sourceType
	}
	name := introspect.TypeName(c.sqlType)
	switch {
	case c.precision > 0 && c.scale > 0:
		return fmt.Sprintf("%s(%d,%d)", name, c.precision, c.scale)
	case c.precision > 0:
		return fmt.Sprintf("%s(%d)", name, c.precision)
	}
	return name
}
