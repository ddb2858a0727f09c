package extractors

import (
	"context"
	"database/sql"
	"strings"

	"schemamodel/internal/db"
	"schemamodel/internal/introspect"
)

// myExtractor implements Extractor for MySQL (information_schema). Databases
// are reported as schemas.
type myExtractor struct{}

func (myExtractor) Catalogs(ctx context.Context, q db.Querier) ([]introspect.CatalogRow, error) {
	return nil, nil
}

func (myExtractor) Schemas(ctx context.Context, q db.Querier, catalog string) ([]introspect.SchemaRow, error) {
	rows, err := q.QueryContext(ctx, `
        SELECT schema_name
        FROM information_schema.schemata
        WHERE schema_name NOT IN ('mysql','information_schema','performance_schema','sys')
        ORDER BY schema_name`)
	return collect(rows, err, "schemas", func(r *sql.Rows) (introspect.SchemaRow, error) {
		var s introspect.SchemaRow
		return s, r.Scan(&s.Name)
	})
}

func (myExtractor) Tables(ctx context.Context, q db.Querier, catalog, schema string) ([]introspect.TableRow, error) {
	rows, err := q.QueryContext(ctx, `
        SELECT table_name, table_type, COALESCE(table_comment, '')
        FROM information_schema.tables
        WHERE table_schema = ? AND table_type IN ('BASE TABLE','VIEW')
        ORDER BY table_name`, schema)
	return collect(rows, err, "tables", func(r *sql.Rows) (introspect.TableRow, error) {
		t := introspect.TableRow{Schema: schema}
		var kind string
		if err := r.Scan(&t.Name, &kind, &t.Remarks); err != nil {
			return t, err
		}
		t.Type = "TABLE"
		if kind == "VIEW" {
			t.Type = "VIEW"
		}
		return t, nil
	})
}

func (myExtractor) Columns(ctx context.Context, q db.Querier, catalog, schema, table string) ([]introspect.ColumnRow, error) {
	rows, err := q.QueryContext(ctx, `
        SELECT column_name, data_type, column_type,
               COALESCE(character_maximum_length, numeric_precision, datetime_precision, 0),
               COALESCE(numeric_scale, 0),
               is_nullable = 'YES',
               column_default,
               ordinal_position,
               extra LIKE '%auto_increment%',
               COALESCE(column_comment, '')
        FROM information_schema.columns
        WHERE table_schema = ? AND table_name = ?
        ORDER BY ordinal_position`, schema, table)
	return collect(rows, err, "columns of "+table, func(r *sql.Rows) (introspect.ColumnRow, error) {
		c := introspect.ColumnRow{Schema: schema, Table: table}
		var dataType string
		var size int64
		var nullable, auto bool
		var def sql.NullString
		if err := r.Scan(&c.Name, &dataType, &c.TypeName, &size, &c.DecimalDigits, &nullable, &def, &c.Ordinal, &auto, &c.Remarks); err != nil {
			return c, err
		}
		c.DataType = introspect.TypeCode(dataType)
		c.Size = int(size)
		c.Nullable = nullableCode(nullable)
		c.Default = optional(def)
		c.AutoIncrement = auto
		return c, nil
	})
}

func (myExtractor) PrimaryKeys(ctx context.Context, q db.Querier, catalog, schema, table string) ([]introspect.PrimaryKeyRow, error) {
	rows, err := q.QueryContext(ctx, `
        SELECT column_name, ordinal_position, constraint_name
        FROM information_schema.key_column_usage
        WHERE constraint_name = 'PRIMARY' AND table_schema = ? AND table_name = ?
        ORDER BY ordinal_position`, schema, table)
	return collect(rows, err, "primary key of "+table, func(r *sql.Rows) (introspect.PrimaryKeyRow, error) {
		p := introspect.PrimaryKeyRow{Schema: schema, Table: table}
		return p, r.Scan(&p.Column, &p.KeySeq, &p.Name)
	})
}

func (myExtractor) Indexes(ctx context.Context, q db.Querier, catalog, schema, table string) ([]introspect.IndexRow, error) {
	rows, err := q.QueryContext(ctx, `
        SELECT index_name, non_unique = 1, seq_in_index, COALESCE(column_name, ''), index_type, COALESCE(collation, '')
        FROM information_schema.statistics
        WHERE table_schema = ? AND table_name = ?
        ORDER BY index_name = 'PRIMARY' DESC, index_name, seq_in_index`, schema, table)
	return collect(rows, err, "indexes of "+table, func(r *sql.Rows) (introspect.IndexRow, error) {
		ix := introspect.IndexRow{Schema: schema, Table: table}
		var kind string
		if err := r.Scan(&ix.Name, &ix.NonUnique, &ix.Ordinal, &ix.Column, &kind, &ix.AscOrDesc); err != nil {
			return ix, err
		}
		ix.Type = introspect.IndexOther
		if strings.EqualFold(kind, "HASH") {
			ix.Type = introspect.IndexHashed
		}
		return ix, nil
	})
}

// myKeys lists foreign key column pairs with their referential actions.
const myKeys = `
        SELECT k.referenced_table_schema, k.referenced_table_name, k.referenced_column_name,
               k.table_schema, k.table_name, k.column_name,
               k.ordinal_position, rc.update_rule, rc.delete_rule, k.constraint_name,
               COALESCE(rc.unique_constraint_name, '')
        FROM information_schema.key_column_usage k
        JOIN information_schema.referential_constraints rc
          ON rc.constraint_schema = k.constraint_schema
         AND rc.constraint_name = k.constraint_name
         AND rc.table_name = k.table_name
        WHERE k.referenced_table_name IS NOT NULL`

func (myExtractor) ImportedKeys(ctx context.Context, q db.Querier, catalog, schema, table string) ([]introspect.KeyRow, error) {
	rows, err := q.QueryContext(ctx, myKeys+`
          AND k.table_schema = ? AND k.table_name = ?
        ORDER BY k.referenced_table_schema, k.referenced_table_name, k.constraint_name, k.ordinal_position`, schema, table)
	return collect(rows, err, "imported keys of "+table, scanMyKey)
}

func (myExtractor) ExportedKeys(ctx context.Context, q db.Querier, catalog, schema, table string) ([]introspect.KeyRow, error) {
	rows, err := q.QueryContext(ctx, myKeys+`
          AND k.referenced_table_schema = ? AND k.referenced_table_name = ?
        ORDER BY k.table_schema, k.table_name, k.constraint_name, k.ordinal_position`, schema, table)
	return collect(rows, err, "exported keys of "+table, scanMyKey)
}

func scanMyKey(r *sql.Rows) (introspect.KeyRow, error) {
	var k introspect.KeyRow
	var upd, del string
	if err := r.Scan(&k.PKSchema, &k.PKTable, &k.PKColumn, &k.FKSchema, &k.FKTable, &k.FKColumn,
		&k.KeySeq, &upd, &del, &k.FKName, &k.PKName); err != nil {
		return k, err
	}
	k.UpdateRule = ruleCode(upd)
	k.DeleteRule = ruleCode(del)
	// MySQL checks every constraint immediately
	k.Deferrability = introspect.KeyNotDeferrable
	return k, nil
}

func init() {
	db.Register("mysql", myExtractor{})
	db.Register("mariadb", myExtractor{})
}
