package extractors

import (
	"context"
	"database/sql"

	"schemamodel/internal/db"
	"schemamodel/internal/introspect"
)

// mssqlExtractor implements Extractor for Microsoft SQL Server. The connected
// database is the root; its schemas are the children.
type mssqlExtractor struct{}

func (mssqlExtractor) Catalogs(ctx context.Context, q db.Querier) ([]introspect.CatalogRow, error) {
	return nil, nil
}

func (mssqlExtractor) Schemas(ctx context.Context, q db.Querier, catalog string) ([]introspect.SchemaRow, error) {
	rows, err := q.QueryContext(ctx, `
        SELECT s.name
        FROM sys.schemas AS s
        WHERE s.name NOT IN ('sys','INFORMATION_SCHEMA','guest')
          AND s.name NOT LIKE 'db[_]%'
        ORDER BY s.name`)
	return collect(rows, err, "schemas", func(r *sql.Rows) (introspect.SchemaRow, error) {
		var s introspect.SchemaRow
		return s, r.Scan(&s.Name)
	})
}

func (mssqlExtractor) Tables(ctx context.Context, q db.Querier, catalog, schema string) ([]introspect.TableRow, error) {
	rows, err := q.QueryContext(ctx, `
        SELECT o.name,
               CASE WHEN o.type = 'V' THEN 'VIEW' ELSE 'TABLE' END,
               COALESCE(CAST(sep.value AS nvarchar(4000)), '')
        FROM sys.objects AS o
        JOIN sys.schemas AS s
          ON s.schema_id = o.schema_id
        LEFT JOIN sys.extended_properties AS sep
          ON o.object_id = sep.major_id
         AND sep.minor_id = 0
         AND sep.name = 'MS_Description'
        WHERE s.name = @schema AND o.type IN ('U','V') AND o.is_ms_shipped = 0
        ORDER BY o.name`, sql.Named("schema", schema))
	return collect(rows, err, "tables", func(r *sql.Rows) (introspect.TableRow, error) {
		t := introspect.TableRow{Schema: schema}
		return t, r.Scan(&t.Name, &t.Type, &t.Remarks)
	})
}

func (mssqlExtractor) Columns(ctx context.Context, q db.Querier, catalog, schema, table string) ([]introspect.ColumnRow, error) {
	rows, err := q.QueryContext(ctx, `
        SELECT c.COLUMN_NAME, c.DATA_TYPE,
               COALESCE(c.CHARACTER_MAXIMUM_LENGTH, c.NUMERIC_PRECISION, c.DATETIME_PRECISION, 0),
               COALESCE(c.NUMERIC_SCALE, 0),
               CASE WHEN c.IS_NULLABLE = 'YES' THEN 1 ELSE 0 END,
               c.COLUMN_DEFAULT,
               c.ORDINAL_POSITION,
               COALESCE(COLUMNPROPERTY(OBJECT_ID(QUOTENAME(c.TABLE_SCHEMA) + '.' + QUOTENAME(c.TABLE_NAME)), c.COLUMN_NAME, 'IsIdentity'), 0),
               COALESCE(CAST(sep.value AS nvarchar(4000)), '')
        FROM INFORMATION_SCHEMA.COLUMNS AS c
        LEFT JOIN sys.extended_properties AS sep
          ON sep.major_id = OBJECT_ID(QUOTENAME(c.TABLE_SCHEMA) + '.' + QUOTENAME(c.TABLE_NAME))
         AND sep.minor_id = COLUMNPROPERTY(OBJECT_ID(QUOTENAME(c.TABLE_SCHEMA) + '.' + QUOTENAME(c.TABLE_NAME)), c.COLUMN_NAME, 'ColumnId')
         AND sep.name = 'MS_Description'
        WHERE c.TABLE_SCHEMA = @schema AND c.TABLE_NAME = @table
        ORDER BY c.ORDINAL_POSITION`, sql.Named("schema", schema), sql.Named("table", table))
	return collect(rows, err, "columns of "+table, func(r *sql.Rows) (introspect.ColumnRow, error) {
		c := introspect.ColumnRow{Schema: schema, Table: table}
		var nullableInt, identity int
		var def sql.NullString
		if err := r.Scan(&c.Name, &c.TypeName, &c.Size, &c.DecimalDigits, &nullableInt, &def, &c.Ordinal, &identity, &c.Remarks); err != nil {
			return c, err
		}
		c.DataType = introspect.TypeCode(c.TypeName)
		c.Nullable = nullableCode(nullableInt == 1)
		c.Default = optional(def)
		c.AutoIncrement = identity == 1
		return c, nil
	})
}

func (mssqlExtractor) PrimaryKeys(ctx context.Context, q db.Querier, catalog, schema, table string) ([]introspect.PrimaryKeyRow, error) {
	rows, err := q.QueryContext(ctx, `
        SELECT k.COLUMN_NAME, k.ORDINAL_POSITION, t.CONSTRAINT_NAME
        FROM INFORMATION_SCHEMA.TABLE_CONSTRAINTS t
        JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE k ON t.CONSTRAINT_NAME = k.CONSTRAINT_NAME AND t.TABLE_SCHEMA = k.TABLE_SCHEMA
        WHERE t.CONSTRAINT_TYPE = 'PRIMARY KEY' AND k.TABLE_SCHEMA = @schema AND k.TABLE_NAME = @table
        ORDER BY k.ORDINAL_POSITION`, sql.Named("schema", schema), sql.Named("table", table))
	return collect(rows, err, "primary key of "+table, func(r *sql.Rows) (introspect.PrimaryKeyRow, error) {
		p := introspect.PrimaryKeyRow{Schema: schema, Table: table}
		return p, r.Scan(&p.Column, &p.KeySeq, &p.Name)
	})
}

func (mssqlExtractor) Indexes(ctx context.Context, q db.Querier, catalog, schema, table string) ([]introspect.IndexRow, error) {
	rows, err := q.QueryContext(ctx, `
        SELECT i.name,
               CASE WHEN i.is_unique = 1 THEN 0 ELSE 1 END,
               ic.key_ordinal,
               c.name,
               CASE WHEN i.type = 1 THEN 1 ELSE 3 END,
               CASE WHEN ic.is_descending_key = 1 THEN 'D' ELSE 'A' END,
               COALESCE(i.filter_definition, '')
        FROM sys.indexes AS i
        JOIN sys.index_columns AS ic ON ic.object_id = i.object_id AND ic.index_id = i.index_id
        JOIN sys.columns AS c ON c.object_id = ic.object_id AND c.column_id = ic.column_id
        WHERE i.object_id = OBJECT_ID(QUOTENAME(@schema) + '.' + QUOTENAME(@table))
          AND i.name IS NOT NULL AND ic.key_ordinal > 0
        ORDER BY i.is_primary_key DESC, i.name, ic.key_ordinal`, sql.Named("schema", schema), sql.Named("table", table))
	return collect(rows, err, "indexes of "+table, func(r *sql.Rows) (introspect.IndexRow, error) {
		ix := introspect.IndexRow{Schema: schema, Table: table}
		var nonUnique int
		if err := r.Scan(&ix.Name, &nonUnique, &ix.Ordinal, &ix.Column, &ix.Type, &ix.AscOrDesc, &ix.Filter); err != nil {
			return ix, err
		}
		ix.NonUnique = nonUnique == 1
		return ix, nil
	})
}

// mssqlKeys lists foreign key column pairs; the caller adds the filter.
const mssqlKeys = `
        SELECT OBJECT_SCHEMA_NAME(fkc.referenced_object_id),
               OBJECT_NAME(fkc.referenced_object_id),
               rc.name,
               OBJECT_SCHEMA_NAME(fkc.parent_object_id),
               OBJECT_NAME(fkc.parent_object_id),
               c.name,
               fkc.constraint_column_id,
               fk.update_referential_action_desc,
               fk.delete_referential_action_desc,
               fk.name,
               COALESCE(ki.name, '')
        FROM sys.foreign_keys fk
        JOIN sys.foreign_key_columns fkc ON fk.object_id = fkc.constraint_object_id
        JOIN sys.columns c ON fkc.parent_object_id = c.object_id AND fkc.parent_column_id = c.column_id
        JOIN sys.columns rc ON fkc.referenced_object_id = rc.object_id AND fkc.referenced_column_id = rc.column_id
        LEFT JOIN sys.indexes ki ON ki.object_id = fk.referenced_object_id AND ki.index_id = fk.key_index_id`

func (mssqlExtractor) ImportedKeys(ctx context.Context, q db.Querier, catalog, schema, table string) ([]introspect.KeyRow, error) {
	rows, err := q.QueryContext(ctx, mssqlKeys+`
        WHERE fkc.parent_object_id = OBJECT_ID(QUOTENAME(@schema) + '.' + QUOTENAME(@table))
        ORDER BY 1, 2, fk.name, fkc.constraint_column_id`, sql.Named("schema", schema), sql.Named("table", table))
	return collect(rows, err, "imported keys of "+table, scanMssqlKey)
}

func (mssqlExtractor) ExportedKeys(ctx context.Context, q db.Querier, catalog, schema, table string) ([]introspect.KeyRow, error) {
	rows, err := q.QueryContext(ctx, mssqlKeys+`
        WHERE fkc.referenced_object_id = OBJECT_ID(QUOTENAME(@schema) + '.' + QUOTENAME(@table))
        ORDER BY 4, 5, fk.name, fkc.constraint_column_id`, sql.Named("schema", schema), sql.Named("table", table))
	return collect(rows, err, "exported keys of "+table, scanMssqlKey)
}

func scanMssqlKey(r *sql.Rows) (introspect.KeyRow, error) {
	var k introspect.KeyRow
	var upd, del string
	if err := r.Scan(&k.PKSchema, &k.PKTable, &k.PKColumn, &k.FKSchema, &k.FKTable, &k.FKColumn,
		&k.KeySeq, &upd, &del, &k.FKName, &k.PKName); err != nil {
		return k, err
	}
	// action descriptions read NO_ACTION, CASCADE, SET_NULL, SET_DEFAULT
	k.UpdateRule = ruleCode(upd)
	k.DeleteRule = ruleCode(del)
	k.Deferrability = introspect.KeyNotDeferrable
	return k, nil
}

func init() {
	db.Register("sqlserver", mssqlExtractor{})
	db.Register("mssql", mssqlExtractor{})
}
