//go:build integration
// +build integration

package extractors

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"schemamodel/internal/db"
	"schemamodel/internal/introspect"
	"schemamodel/internal/model"
)

func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("shop"),
		postgres.WithUsername("shop"),
		postgres.WithPassword("shop"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(ctr); err != nil {
			t.Logf("terminate postgres: %v", err)
		}
	})
	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}
	return dsn
}

func TestPostgresRefresh(t *testing.T) {
	dsn := startPostgres(t)
	ctx := context.Background()

	for _, driver := range []string{"postgres", "pgx"} {
		t.Run(driver, func(t *testing.T) {
			pool, err := db.Open(ctx, driver, dsn, 5, 10*time.Second)
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			defer pool.Close()
			exec(t, pool,
				`DROP TABLE IF EXISTS orders, customer`,
				`CREATE TABLE customer (id serial PRIMARY KEY, name varchar(40) NOT NULL)`,
				`COMMENT ON TABLE customer IS 'people who buy'`,
				`CREATE TABLE orders (
					id int NOT NULL,
					line int NOT NULL,
					customer_id int CONSTRAINT orders_customer_fk REFERENCES customer(id) ON DELETE SET NULL DEFERRABLE INITIALLY DEFERRED,
					note text,
					CONSTRAINT orders_pkey PRIMARY KEY (id, line)
				)`,
				`CREATE INDEX orders_note_idx ON orders (note DESC) WHERE note IS NOT NULL`,
			)

			d := model.NewDatabase("shop", pool)
			if err := model.PopulateAll(ctx, d); err != nil {
				t.Fatalf("populate: %v", err)
			}
			public := d.SchemaByName("public")
			if public == nil {
				t.Fatal("schema public missing")
			}
			customer, orders := public.TableByName("customer"), public.TableByName("orders")
			if customer == nil || orders == nil {
				t.Fatalf("tables missing from %v", public.Tables())
			}
			if customer.Remarks() != "people who buy" {
				t.Errorf("\ngot remarks %q, wanted %q", customer.Remarks(), "people who buy")
			}
			if !customer.ColumnByName("id").AutoIncrement() {
				t.Error("serial column is not auto increment")
			}
			if pk := orders.PrimaryKeyIndex(); pk == nil || pk.Name() != "orders_pkey" || pk.ColumnCount() != 2 {
				t.Errorf("orders primary key index: %v", pk)
			}
			ix := orders.IndexByName("orders_note_idx")
			if ix == nil || ix.FilterCondition() == "" || ix.Columns()[0].Order() != model.OrderDescending {
				t.Errorf("orders_note_idx: %v", ix)
			}
			fks := orders.ImportedKeys()
			if len(fks) != 1 {
				t.Fatalf("\ngot %d imported keys, wanted 1", len(fks))
			}
			fk := fks[0]
			if fk.Name() != "orders_customer_fk" || fk.DeleteRule() != introspect.KeySetNull || fk.Deferrability() != introspect.KeyInitiallyDeferred {
				t.Errorf("orders_customer_fk: delete rule %d, deferrability %d", fk.DeleteRule(), fk.Deferrability())
			}

			exec(t, pool,
				`ALTER TABLE customer ADD COLUMN email text`,
				`ALTER TABLE orders DROP CONSTRAINT orders_customer_fk`,
				`ALTER TABLE orders ADD CONSTRAINT orders_customer_fk FOREIGN KEY (customer_id) REFERENCES customer(id) ON DELETE CASCADE`,
			)
			log := model.Watch(d)
			defer log.Close()
			if err := d.Refresh(ctx); err != nil {
				t.Fatalf("refresh: %v", err)
			}
			if customer.ColumnByName("email") == nil {
				t.Error("customer.email missing after refresh")
			}
			if got := orders.ImportedKeys(); len(got) != 1 || got[0] != fk {
				t.Fatalf("orders_customer_fk was replaced: %v", got)
			}
			if fk.DeleteRule() != introspect.KeyCascade || fk.Deferrability() != introspect.KeyNotDeferrable {
				t.Errorf("orders_customer_fk after refresh: delete rule %d, deferrability %d", fk.DeleteRule(), fk.Deferrability())
			}
			if log.Structural() != 1 {
				t.Errorf("\ngot %d structural events, wanted 1: %v", log.Structural(), log.Entries())
			}
		})
	}
}
