package extractors

import (
	"context"
	"database/sql"
	"strings"

	"schemamodel/internal/db"
	"schemamodel/internal/introspect"
)

// sqliteExtractor implements Extractor for SQLite. The main database holds
// the tables directly; there are no catalogs or schemas.
type sqliteExtractor struct{}

func (sqliteExtractor) Catalogs(ctx context.Context, q db.Querier) ([]introspect.CatalogRow, error) {
	return nil, nil
}

func (sqliteExtractor) Schemas(ctx context.Context, q db.Querier, catalog string) ([]introspect.SchemaRow, error) {
	return nil, nil
}

func (sqliteExtractor) Tables(ctx context.Context, q db.Querier, catalog, schema string) ([]introspect.TableRow, error) {
	rows, err := q.QueryContext(ctx, `
	    SELECT name, type
	    FROM sqlite_master
	    WHERE type IN ('table','view')
	      AND name NOT LIKE 'sqlite_%'
	    ORDER BY name`)
	return collect(rows, err, "tables", func(r *sql.Rows) (introspect.TableRow, error) {
		var t introspect.TableRow
		var kind string
		if err := r.Scan(&t.Name, &kind); err != nil {
			return t, err
		}
		t.Type = strings.ToUpper(kind)
		return t, nil
	})
}

func (sqliteExtractor) Columns(ctx context.Context, q db.Querier, catalog, schema, table string) ([]introspect.ColumnRow, error) {
	var ddl string
	if err := scanOne(ctx, q, &ddl, `SELECT COALESCE(sql, '') FROM sqlite_master WHERE name = ?`, table); err != nil {
		return nil, err
	}
	autoinc := strings.Contains(strings.ToUpper(ddl), "AUTOINCREMENT")

	rows, err := q.QueryContext(ctx, `SELECT cid, name, type, "notnull", dflt_value, pk FROM pragma_table_info(?) ORDER BY cid`, table)
	return collect(rows, err, "columns of "+table, func(r *sql.Rows) (introspect.ColumnRow, error) {
		c := introspect.ColumnRow{Table: table}
		var cid, notnull, pk int
		var def sql.NullString
		if err := r.Scan(&cid, &c.Name, &c.TypeName, &notnull, &def, &pk); err != nil {
			return c, err
		}
		c.Ordinal = cid + 1
		c.DataType = introspect.TypeCode(c.TypeName)
		c.Size, c.DecimalDigits = introspect.TypeSize(c.TypeName)
		c.Nullable = nullableCode(notnull == 0)
		c.Default = optional(def)
		// only an INTEGER PRIMARY KEY can carry AUTOINCREMENT
		c.AutoIncrement = autoinc && pk == 1 && strings.EqualFold(c.TypeName, "integer")
		return c, nil
	})
}

func (sqliteExtractor) PrimaryKeys(ctx context.Context, q db.Querier, catalog, schema, table string) ([]introspect.PrimaryKeyRow, error) {
	rows, err := q.QueryContext(ctx, `SELECT name, pk FROM pragma_table_info(?) WHERE pk > 0 ORDER BY pk`, table)
	return collect(rows, err, "primary key of "+table, func(r *sql.Rows) (introspect.PrimaryKeyRow, error) {
		p := introspect.PrimaryKeyRow{Table: table}
		return p, r.Scan(&p.Column, &p.KeySeq)
	})
}

func (sqliteExtractor) Indexes(ctx context.Context, q db.Querier, catalog, schema, table string) ([]introspect.IndexRow, error) {
	// the automatic index behind a PRIMARY KEY clause is the key itself
	rows, err := q.QueryContext(ctx, `
	    SELECT il.name, il."unique", ii.seqno, COALESCE(ii.name, ''), ii."desc", il.partial, COALESCE(m.sql, '')
	    FROM pragma_index_list(?) AS il
	    JOIN pragma_index_xinfo(il.name) AS ii
	    LEFT JOIN sqlite_master AS m ON m.type = 'index' AND m.name = il.name
	    WHERE ii.key = 1 AND il.origin <> 'pk'
	    ORDER BY il.name, ii.seqno`, table)
	return collect(rows, err, "indexes of "+table, func(r *sql.Rows) (introspect.IndexRow, error) {
		ix := introspect.IndexRow{Table: table, Type: introspect.IndexOther}
		var unique, seqno, desc, partial int
		var ddl string
		if err := r.Scan(&ix.Name, &unique, &seqno, &ix.Column, &desc, &partial, &ddl); err != nil {
			return ix, err
		}
		ix.NonUnique = unique == 0
		ix.Ordinal = seqno + 1
		ix.AscOrDesc = "A"
		if desc == 1 {
			ix.AscOrDesc = "D"
		}
		if partial == 1 {
			ix.Filter = partialFilter(ddl)
		}
		return ix, nil
	})
}

// partialFilter returns the WHERE clause of a CREATE INDEX statement.
func partialFilter(ddl string) string {
	i := strings.LastIndex(strings.ToUpper(ddl), " WHERE ")
	if i < 0 {
		return ""
	}
	return strings.TrimSpace(ddl[i+len(" WHERE "):])
}

// sqliteKeys lists the foreign key pairs declared by every table; the caller
// filters on the child (m.name) or the parent (f."table").
const sqliteKeys = `
	    SELECT m.name, f.id, f.seq, f."table", f."from", f."to", f.on_update, f.on_delete
	    FROM sqlite_master AS m
	    JOIN pragma_foreign_key_list(m.name) AS f
	    WHERE m.type = 'table'`

func (e sqliteExtractor) ImportedKeys(ctx context.Context, q db.Querier, catalog, schema, table string) ([]introspect.KeyRow, error) {
	rows, err := q.QueryContext(ctx, sqliteKeys+` AND m.name = ?
	    ORDER BY f."table", f.id, f.seq`, table)
	return e.keys(ctx, q, rows, err, "imported keys of "+table)
}

func (e sqliteExtractor) ExportedKeys(ctx context.Context, q db.Querier, catalog, schema, table string) ([]introspect.KeyRow, error) {
	rows, err := q.QueryContext(ctx, sqliteKeys+` AND f."table" = ? COLLATE NOCASE
	    ORDER BY m.name, f.id, f.seq`, table)
	return e.keys(ctx, q, rows, err, "exported keys of "+table)
}

// keys scans key rows and fills in parent columns left implicit, which
// SQLite reports as NULL when the key references the parent's primary key.
func (e sqliteExtractor) keys(ctx context.Context, q db.Querier, rows *sql.Rows, err error, what string) ([]introspect.KeyRow, error) {
	type fkRow struct {
		introspect.KeyRow
		to sql.NullString
	}
	fks, err := collect(rows, err, what, func(r *sql.Rows) (fkRow, error) {
		var k fkRow
		var id, seq int
		var upd, del string
		if err := r.Scan(&k.FKTable, &id, &seq, &k.PKTable, &k.FKColumn, &k.to, &upd, &del); err != nil {
			return k, err
		}
		k.KeySeq = seq + 1
		k.UpdateRule = ruleCode(upd)
		k.DeleteRule = ruleCode(del)
		k.Deferrability = introspect.KeyNotDeferrable
		return k, nil
	})
	if err != nil {
		return nil, err
	}

	parentKeys := map[string][]introspect.PrimaryKeyRow{}
	out := make([]introspect.KeyRow, 0, len(fks))
	for _, k := range fks {
		if k.to.Valid && k.to.String != "" {
			k.PKColumn = k.to.String
		} else {
			pk, ok := parentKeys[k.PKTable]
			if !ok {
				if pk, err = e.PrimaryKeys(ctx, q, "", "", k.PKTable); err != nil {
					return nil, err
				}
				parentKeys[k.PKTable] = pk
			}
			if k.KeySeq <= len(pk) {
				k.PKColumn = pk[k.KeySeq-1].Column
			}
		}
		out = append(out, k.KeyRow)
	}
	return out, nil
}

func scanOne(ctx context.Context, q db.Querier, dst any, query string, args ...any) error {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(dst); err != nil {
			return err
		}
	}
	return rows.Err()
}

func init() {
	db.Register("sqlite3", sqliteExtractor{})
	db.Register("sqlite", sqliteExtractor{})
}
