//go:build oracle
// +build oracle

package extractors

import (
	"context"
	"database/sql"

	_ "github.com/godror/godror"

	"schemamodel/internal/db"
	"schemamodel/internal/introspect"
)

// oracleExtractor implements Extractor for Oracle. Non maintained users are
// the schemas.
type oracleExtractor struct{}

func (oracleExtractor) Catalogs(ctx context.Context, q db.Querier) ([]introspect.CatalogRow, error) {
	return nil, nil
}

func (oracleExtractor) Schemas(ctx context.Context, q db.Querier, catalog string) ([]introspect.SchemaRow, error) {
	rows, err := q.QueryContext(ctx, `
	    SELECT username
	    FROM all_users
	    WHERE oracle_maintained = 'N'
	    ORDER BY username`)
	return collect(rows, err, "schemas", func(r *sql.Rows) (introspect.SchemaRow, error) {
		var s introspect.SchemaRow
		return s, r.Scan(&s.Name)
	})
}

func (oracleExtractor) Tables(ctx context.Context, q db.Querier, catalog, schema string) ([]introspect.TableRow, error) {
	rows, err := q.QueryContext(ctx, `
	    SELECT o.object_name, o.object_type, NVL(acom.comments, '')
	    FROM all_objects o
	    LEFT JOIN all_tab_comments acom
	      ON acom.owner = o.owner
	     AND acom.table_name = o.object_name
	    WHERE o.owner = :1 AND o.object_type IN ('TABLE','VIEW')
	    ORDER BY o.object_name`, schema)
	return collect(rows, err, "tables", func(r *sql.Rows) (introspect.TableRow, error) {
		t := introspect.TableRow{Schema: schema}
		var remarks sql.NullString
		if err := r.Scan(&t.Name, &t.Type, &remarks); err != nil {
			return t, err
		}
		t.Remarks = remarks.String
		return t, nil
	})
}

func (oracleExtractor) Columns(ctx context.Context, q db.Querier, catalog, schema, table string) ([]introspect.ColumnRow, error) {
	rows, err := q.QueryContext(ctx, `
	    SELECT c.column_name, c.data_type,
	           NVL(c.data_precision, NVL(NULLIF(c.char_length, 0), c.data_length)),
	           NVL(c.data_scale, 0),
	           c.nullable,
	           c.column_id,
	           c.identity_column,
	           NVL(cc.comments, '')
	    FROM all_tab_columns c
	    LEFT JOIN all_col_comments cc
	      ON cc.owner = c.owner
	     AND cc.table_name = c.table_name
	     AND cc.column_name = c.column_name
	    WHERE c.owner = :1 AND c.table_name = :2
	    ORDER BY c.column_id`, schema, table)
	return collect(rows, err, "columns of "+table, func(r *sql.Rows) (introspect.ColumnRow, error) {
		c := introspect.ColumnRow{Schema: schema, Table: table}
		var nullable, identity string
		var remarks sql.NullString
		if err := r.Scan(&c.Name, &c.TypeName, &c.Size, &c.DecimalDigits, &nullable, &c.Ordinal, &identity, &remarks); err != nil {
			return c, err
		}
		c.DataType = introspect.TypeCode(c.TypeName)
		c.Nullable = nullableCode(nullable == "Y")
		c.AutoIncrement = identity == "YES"
		c.Remarks = remarks.String
		return c, nil
	})
}

func (oracleExtractor) PrimaryKeys(ctx context.Context, q db.Querier, catalog, schema, table string) ([]introspect.PrimaryKeyRow, error) {
	rows, err := q.QueryContext(ctx, `
	    SELECT acc.column_name, acc.position, ac.constraint_name
	    FROM all_cons_columns acc
	    JOIN all_constraints ac ON acc.owner = ac.owner AND acc.constraint_name = ac.constraint_name
	    WHERE ac.constraint_type = 'P' AND acc.owner = :1 AND acc.table_name = :2
	    ORDER BY acc.position`, schema, table)
	return collect(rows, err, "primary key of "+table, func(r *sql.Rows) (introspect.PrimaryKeyRow, error) {
		p := introspect.PrimaryKeyRow{Schema: schema, Table: table}
		return p, r.Scan(&p.Column, &p.KeySeq, &p.Name)
	})
}

func (oracleExtractor) Indexes(ctx context.Context, q db.Querier, catalog, schema, table string) ([]introspect.IndexRow, error) {
	rows, err := q.QueryContext(ctx, `
	    SELECT i.index_name, i.uniqueness, ic.column_position, ic.column_name, ic.descend,
	           CASE WHEN i.index_type = 'CLUSTER' THEN 1 ELSE 3 END
	    FROM all_indexes i
	    JOIN all_ind_columns ic ON ic.index_owner = i.owner AND ic.index_name = i.index_name
	    WHERE i.table_owner = :1 AND i.table_name = :2
	    ORDER BY i.index_name, ic.column_position`, schema, table)
	return collect(rows, err, "indexes of "+table, func(r *sql.Rows) (introspect.IndexRow, error) {
		ix := introspect.IndexRow{Schema: schema, Table: table}
		var uniqueness, descend string
		if err := r.Scan(&ix.Name, &uniqueness, &ix.Ordinal, &ix.Column, &descend, &ix.Type); err != nil {
			return ix, err
		}
		ix.NonUnique = uniqueness != "UNIQUE"
		ix.AscOrDesc = "A"
		if descend == "DESC" {
			ix.AscOrDesc = "D"
		}
		return ix, nil
	})
}

// oracleKeys lists foreign key column pairs with the referenced key.
const oracleKeys = `
	    SELECT rcc.owner, rcc.table_name, rcc.column_name,
	           acc.owner, acc.table_name, acc.column_name,
	           acc.position, a.delete_rule, a.constraint_name, a.r_constraint_name,
	           a.deferrable, a.deferred
	    FROM all_constraints a
	    JOIN all_cons_columns acc
	      ON a.owner = acc.owner
	     AND a.constraint_name = acc.constraint_name
	    JOIN all_cons_columns rcc
	      ON a.r_owner = rcc.owner
	     AND a.r_constraint_name = rcc.constraint_name
	     AND NVL(acc.position, 0) = NVL(rcc.position, 0)
	    WHERE a.constraint_type = 'R'`

func (oracleExtractor) ImportedKeys(ctx context.Context, q db.Querier, catalog, schema, table string) ([]introspect.KeyRow, error) {
	rows, err := q.QueryContext(ctx, oracleKeys+`
	      AND acc.owner = :1 AND acc.table_name = :2
	    ORDER BY rcc.owner, rcc.table_name, a.constraint_name, acc.position`, schema, table)
	return collect(rows, err, "imported keys of "+table, scanOracleKey)
}

func (oracleExtractor) ExportedKeys(ctx context.Context, q db.Querier, catalog, schema, table string) ([]introspect.KeyRow, error) {
	rows, err := q.QueryContext(ctx, oracleKeys+`
	      AND rcc.owner = :1 AND rcc.table_name = :2
	    ORDER BY acc.owner, acc.table_name, a.constraint_name, acc.position`, schema, table)
	return collect(rows, err, "exported keys of "+table, scanOracleKey)
}

func scanOracleKey(r *sql.Rows) (introspect.KeyRow, error) {
	var k introspect.KeyRow
	var del, deferrable, deferred string
	if err := r.Scan(&k.PKSchema, &k.PKTable, &k.PKColumn, &k.FKSchema, &k.FKTable, &k.FKColumn,
		&k.KeySeq, &del, &k.FKName, &k.PKName, &deferrable, &deferred); err != nil {
		return k, err
	}
	// Oracle has no ON UPDATE clause
	k.UpdateRule = introspect.KeyNoAction
	k.DeleteRule = ruleCode(del)
	k.Deferrability = deferrabilityCode(deferrable == "DEFERRABLE", deferred == "DEFERRED")
	return k, nil
}

func init() {
	db.Register("godror", oracleExtractor{})
	db.Register("oracle", oracleExtractor{})
}
