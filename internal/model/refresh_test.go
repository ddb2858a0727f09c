package model

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"schemamodel/internal/introspect"
)

// shopServer serves customer(id) <- orders(id, customer_id, note) plus a
// lone audit table.
func shopServer() *fakeServer {
	srv := newFakeServer()
	srv.addTable("", "customer", intCol("id"), textCol("name"))
	srv.setPrimaryKey("customer", "customer_pkey", "id")
	srv.addTable("", "orders", intCol("id"), intCol("customer_id"), textCol("note"))
	srv.setPrimaryKey("orders", "orders_pkey", "id")
	srv.addIndex("orders", "orders_note_idx", false, "note")
	srv.addKey("orders_customer_fk", "customer", "orders", [2]string{"id", "customer_id"})
	srv.addTable("", "audit", intCol("id"))
	return srv
}

func populated(t *testing.T, srv *fakeServer, tables ...string) *Database {
	t.Helper()
	ctx := context.Background()
	d := NewDatabase("shop", srv)
	if err := d.Populate(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, name := range tables {
		if err := d.TableByName(name).Populate(ctx); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	return d
}

func TestPopulateBuildsModel(t *testing.T) {
	d := populated(t, shopServer(), "customer", "orders")
	customer, orders := d.TableByName("customer"), d.TableByName("orders")

	if !customer.IsPopulated() || !orders.IsPopulated() || d.TableByName("audit").IsPopulated() {
		t.Fatalf("unexpected populated flags")
	}
	if got := columnNames(orders); !slices.Equal(got, []string{"id", "customer_id", "note"}) {
		t.Errorf("\ngot columns %v, wanted [id customer_id note]", got)
	}
	if ix := orders.PrimaryKeyIndex(); ix == nil || ix.Name() != "orders_pkey" {
		t.Errorf("\ngot primary key index %v, wanted orders_pkey", ix)
	}
	if len(orders.Indexes()) != 2 {
		t.Errorf("\ngot %d indexes, wanted 2", len(orders.Indexes()))
	}

	if len(orders.ImportedKeys()) != 1 || len(customer.ExportedKeys()) != 1 {
		t.Fatalf("relationship not attached to both tables")
	}
	r := orders.ImportedKeys()[0]
	if r != customer.ExportedKeys()[0] {
		t.Errorf("each side holds a different relationship")
	}
	if got := mappingNames(r); !slices.Equal(got, []string{"id -> customer_id"}) {
		t.Errorf("\ngot mappings %v, wanted [id -> customer_id]", got)
	}
	if r.IsIdentifying() {
		t.Errorf("non key child column derived as identifying")
	}
	if got := orders.ColumnByName("customer_id").ReferenceCount(); got != 2 {
		t.Errorf("\ngot %d references, wanted 2", got)
	}
}

func TestRefreshWithoutChangesKeepsIdentity(t *testing.T) {
	srv := shopServer()
	d := populated(t, srv, "customer", "orders")
	before := Snapshot(d)
	objects := make(map[Object]bool)
	var walk func(o Object)
	walk = func(o Object) {
		objects[o] = true
		for _, c := range o.Children() {
			walk(c)
		}
	}
	walk(d)

	log := Watch(d)
	defer log.Close()
	connects := srv.connectCount()
	if err := d.Refresh(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if log.Structural() != 0 || log.Properties() != 0 {
		t.Errorf("\ngot %d structural and %d property events, wanted none: %v", log.Structural(), log.Properties(), log.Entries())
	}
	after := 0
	walk = func(o Object) {
		after++
		if !objects[o] {
			t.Errorf("new object %s after refresh", Path(o))
		}
		for _, c := range o.Children() {
			walk(c)
		}
	}
	walk(d)
	if after != len(objects) {
		t.Errorf("\ngot %d objects, wanted %d", after, len(objects))
	}
	if got := srv.connectCount() - connects; got != 1 {
		t.Errorf("\ngot %d connections, wanted 1", got)
	}
	if len(Snapshot(d).Tables) != len(before.Tables) {
		t.Errorf("snapshot changed")
	}
}

func TestRefreshRunsInOneTransaction(t *testing.T) {
	d := populated(t, shopServer(), "customer")
	var started, ended int
	d.AddListener(&ListenerFuncs{
		OnTransactionStarted: func(TransactionEvent) { started++ },
		OnTransactionEnded:   func(TransactionEvent) { ended++ },
	})
	if err := d.Refresh(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if started != 1 || ended != 1 {
		t.Errorf("\ngot %d/%d transaction events, wanted 1/1", started, ended)
	}
}

func TestRefreshAddsColumn(t *testing.T) {
	srv := shopServer()
	d := populated(t, srv, "customer", "orders")
	customer := d.TableByName("customer")
	pk := customer.PrimaryKeyIndex()
	id := customer.ColumnByName("id")

	srv.addColumn("customer", textCol("email"))
	log := Watch(d)
	defer log.Close()
	if err := d.Refresh(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := columnNames(customer); !slices.Equal(got, []string{"id", "name", "email"}) {
		t.Errorf("\ngot columns %v, wanted [id name email]", got)
	}
	if log.Structural() != 1 {
		t.Errorf("\ngot %d structural events, wanted 1: %v", log.Structural(), log.Entries())
	}
	if customer.PrimaryKeyIndex() != pk || customer.ColumnByName("id") != id || !slices.Equal(keyNames(customer), []string{"id"}) {
		t.Errorf("primary key was disturbed")
	}
}

func TestRefreshDropsAllColumns(t *testing.T) {
	srv := shopServer()
	d := populated(t, srv, "audit")
	srv.addColumn("audit", textCol("what"))
	srv.setPrimaryKey("audit", "audit_pkey", "id")
	audit := d.TableByName("audit")
	if err := d.Refresh(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if audit.PrimaryKeyIndex() == nil {
		t.Fatalf("refresh did not pick up the new key")
	}

	srv.dropColumn("audit", "what")
	srv.dropColumn("audit", "id")
	if err := d.Refresh(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if audit.ColumnCount() != 0 || audit.PrimaryKeyIndex() != nil || len(audit.Indexes()) != 0 {
		t.Errorf("\ngot columns %v and %d indexes, wanted none", columnNames(audit), len(audit.Indexes()))
	}
}

func TestRefreshDropsForeignKey(t *testing.T) {
	srv := shopServer()
	d := populated(t, srv, "customer", "orders")
	customer, orders := d.TableByName("customer"), d.TableByName("orders")

	srv.dropKey("orders_customer_fk")
	if err := d.Refresh(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(orders.ImportedKeys()) != 0 || len(customer.ExportedKeys()) != 0 {
		t.Errorf("dropped key still attached")
	}
	if c := orders.ColumnByName("customer_id"); c == nil || c.ReferenceCount() != 1 {
		t.Errorf("child column must stay with the table reference only")
	}
}

func TestRefreshUpdatesForeignKeyInPlace(t *testing.T) {
	srv := shopServer()
	srv.addColumn("orders", intCol("billing_id"))
	d := populated(t, srv, "customer", "orders")
	orders := d.TableByName("orders")
	r := orders.ImportedKeys()[0]

	srv.dropKey("orders_customer_fk")
	srv.addKey("orders_customer_fk", "customer", "orders", [2]string{"id", "billing_id"})
	if err := d.Refresh(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(orders.ImportedKeys()) != 1 || orders.ImportedKeys()[0] != r {
		t.Fatalf("relationship was replaced")
	}
	if got := mappingNames(r); !slices.Equal(got, []string{"id -> billing_id"}) {
		t.Errorf("\ngot mappings %v, wanted [id -> billing_id]", got)
	}
	if orders.ColumnByName("customer_id").ReferenceCount() != 1 || orders.ColumnByName("billing_id").ReferenceCount() != 2 {
		t.Errorf("references were not moved to the new child column")
	}
}

func TestRefreshAddsForeignKey(t *testing.T) {
	srv := shopServer()
	srv.addColumn("audit", intCol("order_id"))
	d := populated(t, srv, "orders", "audit")

	srv.addKey("audit_order_fk", "orders", "audit", [2]string{"id", "order_id"})
	if err := d.Refresh(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	audit, orders := d.TableByName("audit"), d.TableByName("orders")
	if len(audit.ImportedKeys()) != 1 || audit.ImportedKeys()[0] != orders.ExportedKeys()[0] {
		t.Errorf("new key not attached to both tables")
	}
}

func TestRefreshSkipsUnpopulated(t *testing.T) {
	srv := shopServer()
	d := populated(t, srv, "customer")
	srv.addColumn("audit", textCol("what"))
	srv.addTable("", "invoice", intCol("id"))

	if err := d.Refresh(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if audit := d.TableByName("audit"); audit.AreColumnsPopulated() || audit.ColumnCount() != 0 {
		t.Errorf("refresh populated an unpopulated table")
	}
	invoice := d.TableByName("invoice")
	if invoice == nil || invoice.IsPopulated() {
		t.Errorf("new table must be added unpopulated")
	}
	if d.TableByName("orders").AreIndexesPopulated() {
		t.Errorf("refresh populated the indexes of orders")
	}
}

func TestRefreshRemovesTable(t *testing.T) {
	srv := shopServer()
	d := populated(t, srv, "customer", "orders")
	customer := d.TableByName("customer")

	srv.mu.Lock()
	srv.tables = slices.DeleteFunc(srv.tables, func(r introspect.TableRow) bool { return r.Name == "orders" })
	srv.mu.Unlock()
	srv.dropKey("orders_customer_fk")
	if err := d.Refresh(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.TableByName("orders") != nil || len(customer.ExportedKeys()) != 0 {
		t.Errorf("removed table or its key is still present")
	}
}

func TestSchemaPopulationIsSerialized(t *testing.T) {
	srv := newFakeServer()
	srv.schemas = []string{"a", "b", "c"}
	srv.tablesDelay = 10 * time.Millisecond
	d := NewDatabase("db", srv)
	if err := d.Populate(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var wg sync.WaitGroup
	for _, s := range d.Schemas() {
		wg.Add(1)
		go func(s *Schema) {
			defer wg.Done()
			if err := s.Populate(context.Background()); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}(s)
	}
	wg.Wait()

	if srv.maxActive != 1 {
		t.Errorf("\ngot %d concurrent fetches, wanted 1", srv.maxActive)
	}
}
