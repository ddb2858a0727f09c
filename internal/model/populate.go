package model

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"schemamodel/internal/introspect"
	"schemamodel/internal/logger"
)

// PopulateAll loads the whole tree under d: containers first, then every
// slot of every table. Failures are collected and loading goes on.
func PopulateAll(ctx context.Context, d *Database) error {
	errs := []error{d.Populate(ctx)}
	for _, c := range d.catalogs {
		errs = append(errs, c.Populate(ctx))
	}
	schemas := slices.Clone(d.schemas)
	for _, c := range d.catalogs {
		schemas = append(schemas, c.schemas...)
	}
	for _, s := range schemas {
		errs = append(errs, s.Populate(ctx))
	}
	for _, t := range d.AllTables() {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}
		errs = append(errs, t.Populate(ctx))
	}
	return errors.Join(errs...)
}

// Populate fetches every lazily loaded slot of t and joins their failures.
func (t *Table) Populate(ctx context.Context) error {
	return errors.Join(
		t.PopulateColumns(ctx),
		t.PopulateIndexes(ctx),
		t.PopulateImportedKeys(ctx),
		t.PopulateExportedKeys(ctx),
	)
}

// PopulateColumns fetches the columns and the primary key of t once.
func (t *Table) PopulateColumns(ctx context.Context) error {
	return t.settle(t.columnsPop.run(ctx, t, "columns", t.fetchColumns))
}

// PopulateIndexes fetches the indexes of t once, after its columns.
func (t *Table) PopulateIndexes(ctx context.Context) error {
	return t.settle(t.indexesPop.run(ctx, t, "indexes", t.fetchIndexes))
}

// PopulateImportedKeys fetches the foreign keys of t once. Parent tables are
// resolved through the database and get their columns populated.
func (t *Table) PopulateImportedKeys(ctx context.Context) error {
	return t.settle(t.importedPop.run(ctx, t, "imported keys", t.fetchImportedKeys))
}

// PopulateExportedKeys fetches the foreign keys referring to t once.
func (t *Table) PopulateExportedKeys(ctx context.Context) error {
	return t.settle(t.exportedPop.run(ctx, t, "exported keys", t.fetchExportedKeys))
}

// settle records the first failure and flips the populated flag once every
// slot is done.
func (t *Table) settle(err error) error {
	if err != nil && t.populateErr == nil {
		t.populateErr = err
	}
	if t.columnsPop.done && t.indexesPop.done && t.importedPop.done && t.exportedPop.done {
		t.setPopulated(true)
	}
	return err
}

func (t *Table) connect(ctx context.Context) (introspect.Metadata, error) {
	d := t.Database()
	if d == nil {
		return nil, ErrNoConnector
	}
	return d.connect(ctx)
}

func (t *Table) fetchColumns(ctx context.Context) error {
	md, err := t.connect(ctx)
	if err != nil {
		return err
	}
	defer md.Close()
	cat, sch := t.qualifiers()
	rows, err := md.Columns(ctx, cat, sch, t.name)
	if err != nil {
		return fmt.Errorf("columns: %w", err)
	}
	pks, err := md.PrimaryKeys(ctx, cat, sch, t.name)
	if err != nil {
		return fmt.Errorf("primary keys: %w", err)
	}

	s := t.SuspendMagic()
	defer s.Release()
	key, pkName := primaryKeyMap(pks)
	t.pkName = pkName
	for _, row := range sortColumnRows(rows) {
		c := newColumnFromRow(row)
		if seq, ok := key[row.Name]; ok {
			c.pkSeq = KeySeq(seq)
		}
		if err := insertChild(&t.Node, &t.columns, KindColumn, c, len(t.columns)); err != nil {
			return err
		}
	}
	t.NormalizePrimaryKey()
	return nil
}

func (t *Table) fetchIndexes(ctx context.Context) error {
	if err := t.PopulateColumns(ctx); err != nil {
		return err
	}
	md, err := t.connect(ctx)
	if err != nil {
		return err
	}
	defer md.Close()
	cat, sch := t.qualifiers()
	rows, err := md.Indexes(ctx, cat, sch, t.name)
	if err != nil {
		return fmt.Errorf("indexes: %w", err)
	}

	s := t.SuspendMagic()
	defer s.Release()
	for _, g := range groupIndexRows(t, rows) {
		if pk := t.PrimaryKeyIndex(); pk != nil && g.name == pk.name {
			pk.applyAttributes(g)
			pk.SetUnique(true)
			continue
		}
		if t.IndexByName(g.name) != nil {
			continue
		}
		if err := t.insertIndex(g.build(), len(t.indexes)); err != nil {
			return err
		}
	}
	return nil
}

func (t *Table) fetchImportedKeys(ctx context.Context) error {
	rows, err := t.fetchKeyRows(ctx, introspect.Metadata.ImportedKeys)
	if err != nil {
		return err
	}
	return t.attachKeys(ctx, rows)
}

func (t *Table) fetchExportedKeys(ctx context.Context) error {
	rows, err := t.fetchKeyRows(ctx, introspect.Metadata.ExportedKeys)
	if err != nil {
		return err
	}
	return t.attachKeys(ctx, rows)
}

type keyFetch func(md introspect.Metadata, ctx context.Context, catalog, schema, table string) ([]introspect.KeyRow, error)

// fetchKeyRows reads key rows after populating t's columns. The connection
// is returned before other tables are resolved.
func (t *Table) fetchKeyRows(ctx context.Context, fetch keyFetch) ([]introspect.KeyRow, error) {
	if err := t.PopulateColumns(ctx); err != nil {
		return nil, err
	}
	md, err := t.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer md.Close()
	cat, sch := t.qualifiers()
	rows, err := fetch(md, ctx, cat, sch, t.name)
	if err != nil {
		return nil, fmt.Errorf("keys: %w", err)
	}
	return rows, nil
}

// attachKeys builds a relationship for every fetched key not yet known on
// its child table. The relationship is attached to both tables.
func (t *Table) attachKeys(ctx context.Context, rows []introspect.KeyRow) error {
	d := t.Database()
	for _, g := range groupKeyRows(rows) {
		pkTable, err := d.findTable(ctx, g.pkCatalog, g.pkSchema, g.pkTable, true)
		if err != nil {
			return err
		}
		fkTable, err := d.findTable(ctx, g.fkCatalog, g.fkSchema, g.fkTable, true)
		if err != nil {
			return err
		}
		if pkTable == nil || fkTable == nil {
			logger.Warn("key %s: table %s or %s not found", g.name, g.pkTable, g.fkTable)
			continue
		}
		if fkTable.ImportedKeyByName(g.name, pkTable) != nil {
			continue
		}
		if err := pkTable.PopulateColumns(ctx); err != nil {
			return err
		}
		if err := fkTable.PopulateColumns(ctx); err != nil {
			return err
		}
		if _, err := buildRelationship(g, pkTable, fkTable); err != nil {
			return err
		}
	}
	return nil
}

// buildRelationship attaches a relationship for a fetched key with magic
// suspended on both tables. Identifying status is derived from the keys.
func buildRelationship(g keyGroup, pkTable, fkTable *Table) (*Relationship, error) {
	s1 := pkTable.SuspendMagic()
	defer s1.Release()
	s2 := fkTable.SuspendMagic()
	defer s2.Release()

	r := NewRelationship(g.name)
	g.applyAttributes(r)
	if err := r.attach(pkTable, fkTable); err != nil {
		return nil, err
	}
	for _, p := range g.resolve(pkTable, fkTable) {
		p.fk.AddReference()
		if err := insertChild(&r.Node, &r.mappings, KindColumnMapping, newColumnMapping(p.pk, p.fk), len(r.mappings)); err != nil {
			return nil, err
		}
	}
	setProp(&r.Node, &r.identifying, r.DeriveIdentifying(), PropIdentifying)
	return r, nil
}

// primaryKeyMap returns the zero based key position per column and the key
// constraint name.
func primaryKeyMap(rows []introspect.PrimaryKeyRow) (map[string]int, string) {
	rows = slices.Clone(rows)
	slices.SortStableFunc(rows, func(a, b introspect.PrimaryKeyRow) int { return a.KeySeq - b.KeySeq })
	key := make(map[string]int, len(rows))
	name := ""
	for i, row := range rows {
		key[row.Column] = i
		if name == "" {
			name = row.Name
		}
	}
	return key, name
}

func sortColumnRows(rows []introspect.ColumnRow) []introspect.ColumnRow {
	rows = slices.Clone(rows)
	slices.SortStableFunc(rows, func(a, b introspect.ColumnRow) int { return a.Ordinal - b.Ordinal })
	return rows
}

// groupIndexRows folds index rows into indexes in fetch order. Statistic
// rows are skipped; entries naming no column of t become expressions.
func groupIndexRows(t *Table, rows []introspect.IndexRow) []indexGroup {
	rows = slices.Clone(rows)
	slices.SortStableFunc(rows, func(a, b introspect.IndexRow) int { return a.Ordinal - b.Ordinal })
	var groups []indexGroup
	pos := make(map[string]int)
	for _, row := range rows {
		if row.Type == introspect.IndexStatistic || row.Name == "" {
			continue
		}
		i, ok := pos[row.Name]
		if !ok {
			i = len(groups)
			pos[row.Name] = i
			groups = append(groups, indexGroup{
				name:      row.Name,
				unique:    !row.NonUnique,
				qualifier: row.Qualifier,
				indexType: row.Type,
				filter:    row.Filter,
			})
		}
		e := indexEntry{order: sortOrderFromCode(row.AscOrDesc)}
		if c := t.ColumnByName(row.Column); c != nil {
			e.column = c
		} else {
			e.expr = row.Column
		}
		groups[i].entries = append(groups[i].entries, e)
	}
	return groups
}

// keyGroup is one fetched foreign key with its column pairs in key order.
type keyGroup struct {
	name string

	pkCatalog, pkSchema, pkTable string
	fkCatalog, fkSchema, fkTable string

	updateRule    int
	deleteRule    int
	deferrability int

	columns [][2]string
}

type keyPair struct {
	pk *Column
	fk *Column
}

func (g keyGroup) applyAttributes(r *Relationship) {
	r.SetUpdateRule(g.updateRule)
	r.SetDeleteRule(g.deleteRule)
	r.SetDeferrability(g.deferrability)
}

// resolve maps the key's column names onto the two tables. Pairs naming an
// unknown column are dropped.
func (g keyGroup) resolve(pkTable, fkTable *Table) []keyPair {
	var pairs []keyPair
	for _, names := range g.columns {
		pk, fk := pkTable.ColumnByName(names[0]), fkTable.ColumnByName(names[1])
		if pk == nil || fk == nil {
			logger.Warn("key %s: cannot resolve %s -> %s", g.name, names[0], names[1])
			continue
		}
		pairs = append(pairs, keyPair{pk: pk, fk: fk})
	}
	return pairs
}

// groupKeyRows folds key rows into keys in fetch order. Unnamed keys are
// split where the key sequence restarts and named after both tables.
func groupKeyRows(rows []introspect.KeyRow) []keyGroup {
	var groups []keyGroup
	var seqs [][]int
	pos := make(map[string]int)
	used := make(map[string]bool)
	unnamed := 0
	for _, row := range rows {
		id := row.FKName
		if id == "" {
			if row.KeySeq <= 1 {
				unnamed++
			}
			id = fmt.Sprintf("\x00%d", unnamed)
		}
		id += "\x00" + row.FKSchema + "." + row.FKTable + "\x00" + row.PKSchema + "." + row.PKTable
		i, ok := pos[id]
		if !ok {
			i = len(groups)
			pos[id] = i
			name := row.FKName
			if name == "" {
				name = fmt.Sprintf("%s_%s_fk", row.FKTable, row.PKTable)
				for n := 2; used[name]; n++ {
					name = fmt.Sprintf("%s_%s_fk%d", row.FKTable, row.PKTable, n)
				}
			}
			used[name] = true
			groups = append(groups, keyGroup{
				name:          name,
				pkCatalog:     row.PKCatalog,
				pkSchema:      row.PKSchema,
				pkTable:       row.PKTable,
				fkCatalog:     row.FKCatalog,
				fkSchema:      row.FKSchema,
				fkTable:       row.FKTable,
				updateRule:    row.UpdateRule,
				deleteRule:    row.DeleteRule,
				deferrability: row.Deferrability,
			})
			seqs = append(seqs, nil)
		}
		groups[i].columns = append(groups[i].columns, [2]string{row.PKColumn, row.FKColumn})
		seqs[i] = append(seqs[i], row.KeySeq)
	}
	for i := range groups {
		cols, seq := groups[i].columns, seqs[i]
		idx := make([]int, len(cols))
		for j := range idx {
			idx[j] = j
		}
		slices.SortStableFunc(idx, func(a, b int) int { return seq[a] - seq[b] })
		sorted := make([][2]string, len(cols))
		for j, k := range idx {
			sorted[j] = cols[k]
		}
		groups[i].columns = sorted
	}
	return groups
}
