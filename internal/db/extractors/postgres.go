package extractors

import (
	"context"
	"database/sql"

	"schemamodel/internal/db"
	"schemamodel/internal/introspect"
)

// pgExtractor implements Extractor using information_schema + pg_catalog queries.
// The database is the root; schemas are its children.
type pgExtractor struct{}

func (pgExtractor) Catalogs(ctx context.Context, q db.Querier) ([]introspect.CatalogRow, error) {
	return nil, nil
}

func (pgExtractor) Schemas(ctx context.Context, q db.Querier, catalog string) ([]introspect.SchemaRow, error) {
	rows, err := q.QueryContext(ctx, `
        SELECT nspname
        FROM pg_namespace
        WHERE nspname NOT IN ('pg_catalog','information_schema','pg_toast')
          AND nspname NOT LIKE 'pg_temp_%'
          AND nspname NOT LIKE 'pg_toast_temp_%'
        ORDER BY nspname`)
	return collect(rows, err, "schemas", func(r *sql.Rows) (introspect.SchemaRow, error) {
		s := introspect.SchemaRow{Catalog: catalog}
		return s, r.Scan(&s.Name)
	})
}

func (pgExtractor) Tables(ctx context.Context, q db.Querier, catalog, schema string) ([]introspect.TableRow, error) {
	rows, err := q.QueryContext(ctx, `
        SELECT c.relname,
               CASE WHEN c.relkind IN ('v','m') THEN 'VIEW' ELSE 'TABLE' END,
               COALESCE(obj_description(c.oid, 'pg_class'), '')
        FROM pg_class c
        JOIN pg_namespace ns ON ns.oid = c.relnamespace
        WHERE ns.nspname = $1 AND c.relkind IN ('r','p','v','m')
        ORDER BY c.relname`, schema)
	return collect(rows, err, "tables", func(r *sql.Rows) (introspect.TableRow, error) {
		t := introspect.TableRow{Catalog: catalog, Schema: schema}
		return t, r.Scan(&t.Name, &t.Type, &t.Remarks)
	})
}

func (pgExtractor) Columns(ctx context.Context, q db.Querier, catalog, schema, table string) ([]introspect.ColumnRow, error) {
	rows, err := q.QueryContext(ctx, `
        SELECT column_name::text,
               CASE WHEN data_type IN ('USER-DEFINED','ARRAY') THEN udt_name::text ELSE data_type::text END,
               COALESCE(character_maximum_length, numeric_precision, datetime_precision, 0)::int,
               COALESCE(numeric_scale, 0)::int,
               is_nullable = 'YES',
               column_default::text,
               ordinal_position::int,
               COALESCE(column_default LIKE 'nextval(%', false) OR is_identity = 'YES',
               COALESCE(col_description((quote_ident(table_schema)||'.'||quote_ident(table_name))::regclass, ordinal_position::int), '')
        FROM information_schema.columns
        WHERE table_schema = $1 AND table_name = $2
        ORDER BY ordinal_position`, schema, table)
	return collect(rows, err, "columns of "+table, func(r *sql.Rows) (introspect.ColumnRow, error) {
		c := introspect.ColumnRow{Catalog: catalog, Schema: schema, Table: table}
		var nullable bool
		var def sql.NullString
		if err := r.Scan(&c.Name, &c.TypeName, &c.Size, &c.DecimalDigits, &nullable, &def, &c.Ordinal, &c.AutoIncrement, &c.Remarks); err != nil {
			return c, err
		}
		c.DataType = introspect.TypeCode(c.TypeName)
		c.Nullable = nullableCode(nullable)
		c.Default = optional(def)
		return c, nil
	})
}

func (pgExtractor) PrimaryKeys(ctx context.Context, q db.Querier, catalog, schema, table string) ([]introspect.PrimaryKeyRow, error) {
	rows, err := q.QueryContext(ctx, `
        SELECT a.attname, k.n::int, con.conname
        FROM pg_constraint con
        JOIN pg_class c ON c.oid = con.conrelid
        JOIN pg_namespace ns ON ns.oid = c.relnamespace
        CROSS JOIN LATERAL unnest(con.conkey) WITH ORDINALITY AS k(attnum, n)
        JOIN pg_attribute a ON a.attrelid = c.oid AND a.attnum = k.attnum
        WHERE con.contype = 'p' AND ns.nspname = $1 AND c.relname = $2
        ORDER BY k.n`, schema, table)
	return collect(rows, err, "primary key of "+table, func(r *sql.Rows) (introspect.PrimaryKeyRow, error) {
		p := introspect.PrimaryKeyRow{Catalog: catalog, Schema: schema, Table: table}
		return p, r.Scan(&p.Column, &p.KeySeq, &p.Name)
	})
}

func (pgExtractor) Indexes(ctx context.Context, q db.Querier, catalog, schema, table string) ([]introspect.IndexRow, error) {
	rows, err := q.QueryContext(ctx, `
        SELECT i.relname,
               NOT ix.indisunique,
               k.n::int,
               COALESCE(a.attname::text, pg_get_indexdef(ix.indexrelid, k.n::int, true)),
               CASE WHEN am.amname = 'hash' THEN 2 WHEN ix.indisclustered THEN 1 ELSE 3 END,
               CASE WHEN am.amname <> 'btree' THEN ''
                    WHEN (ix.indoption[(k.n - 1)::int] & 1) = 1 THEN 'D'
                    ELSE 'A' END,
               COALESCE(pg_get_expr(ix.indpred, ix.indrelid), '')
        FROM pg_index ix
        JOIN pg_class c ON c.oid = ix.indrelid
        JOIN pg_namespace ns ON ns.oid = c.relnamespace
        JOIN pg_class i ON i.oid = ix.indexrelid
        JOIN pg_am am ON am.oid = i.relam
        CROSS JOIN LATERAL unnest(ix.indkey::int2[]) WITH ORDINALITY AS k(attnum, n)
        LEFT JOIN pg_attribute a ON a.attrelid = c.oid AND a.attnum = k.attnum AND k.attnum > 0
        WHERE ns.nspname = $1 AND c.relname = $2 AND k.n <= ix.indnkeyatts
        ORDER BY ix.indisprimary DESC, i.relname, k.n`, schema, table)
	return collect(rows, err, "indexes of "+table, func(r *sql.Rows) (introspect.IndexRow, error) {
		ix := introspect.IndexRow{Catalog: catalog, Schema: schema, Table: table}
		return ix, r.Scan(&ix.Name, &ix.NonUnique, &ix.Ordinal, &ix.Column, &ix.Type, &ix.AscOrDesc, &ix.Filter)
	})
}

// pgKeys lists foreign key column pairs; side picks the table the filter
// applies to, "f" for the child and "p" for the parent.
const pgKeys = `
        SELECT pn.nspname, pc.relname, pa.attname,
               fn.nspname, fc.relname, fa.attname,
               k.n::int, con.confupdtype::text, con.confdeltype::text, con.conname,
               COALESCE(pki.relname::text, ''),
               con.condeferrable, con.condeferred
        FROM pg_constraint con
        JOIN pg_class fc ON fc.oid = con.conrelid
        JOIN pg_namespace fn ON fn.oid = fc.relnamespace
        JOIN pg_class pc ON pc.oid = con.confrelid
        JOIN pg_namespace pn ON pn.oid = pc.relnamespace
        LEFT JOIN pg_class pki ON pki.oid = con.conindid
        CROSS JOIN LATERAL unnest(con.conkey, con.confkey) WITH ORDINALITY AS k(fk_att, pk_att, n)
        JOIN pg_attribute fa ON fa.attrelid = fc.oid AND fa.attnum = k.fk_att
        JOIN pg_attribute pa ON pa.attrelid = pc.oid AND pa.attnum = k.pk_att
        WHERE con.contype = 'f'`

func (pgExtractor) ImportedKeys(ctx context.Context, q db.Querier, catalog, schema, table string) ([]introspect.KeyRow, error) {
	rows, err := q.QueryContext(ctx, pgKeys+`
          AND fn.nspname = $1 AND fc.relname = $2
        ORDER BY pn.nspname, pc.relname, con.conname, k.n`, schema, table)
	return collect(rows, err, "imported keys of "+table, scanPgKey(catalog))
}

func (pgExtractor) ExportedKeys(ctx context.Context, q db.Querier, catalog, schema, table string) ([]introspect.KeyRow, error) {
	rows, err := q.QueryContext(ctx, pgKeys+`
          AND pn.nspname = $1 AND pc.relname = $2
        ORDER BY fn.nspname, fc.relname, con.conname, k.n`, schema, table)
	return collect(rows, err, "exported keys of "+table, scanPgKey(catalog))
}

func scanPgKey(catalog string) func(*sql.Rows) (introspect.KeyRow, error) {
	return func(r *sql.Rows) (introspect.KeyRow, error) {
		k := introspect.KeyRow{PKCatalog: catalog, FKCatalog: catalog}
		var upd, del string
		var deferrable, deferred bool
		if err := r.Scan(&k.PKSchema, &k.PKTable, &k.PKColumn, &k.FKSchema, &k.FKTable, &k.FKColumn,
			&k.KeySeq, &upd, &del, &k.FKName, &k.PKName, &deferrable, &deferred); err != nil {
			return k, err
		}
		k.UpdateRule = pgRuleCode(upd)
		k.DeleteRule = pgRuleCode(del)
		k.Deferrability = deferrabilityCode(deferrable, deferred)
		return k, nil
	}
}

// pgRuleCode maps the one letter action codes of pg_constraint.
func pgRuleCode(action string) int {
	switch action {
	case "c":
		return introspect.KeyCascade
	case "r":
		return introspect.KeyRestrict
	case "n":
		return introspect.KeySetNull
	case "d":
		return introspect.KeySetDefault
	default:
		return introspect.KeyNoAction
	}
}

func init() {
	db.Register("postgres", pgExtractor{})
	db.Register("postgresql", pgExtractor{})
	// same catalog through the pgx driver
	db.Register("pgx", pgExtractor{})
}
