package main

import (
	"bytes"
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"schemamodel/internal/model"
	"schemamodel/pkg/config"
)

func shopFile(t *testing.T) (string, *sql.DB) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shop.db")
	h, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	for _, stmt := range []string{
		`CREATE TABLE customer (id INTEGER PRIMARY KEY, name VARCHAR(40) NOT NULL)`,
		`CREATE TABLE orders (id INTEGER PRIMARY KEY, customer_id INTEGER REFERENCES customer(id))`,
		`CREATE INDEX orders_customer_idx ON orders(customer_id)`,
	} {
		if _, err := h.Exec(stmt); err != nil {
			t.Fatalf("exec %q: %v", stmt, err)
		}
	}
	return path, h
}

func TestTreeCommand(t *testing.T) {
	path, _ := shopFile(t)
	dir := t.TempDir()

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"tree",
		"--config", filepath.Join(dir, "missing.yaml"),
		"--env", filepath.Join(dir, "missing.env"),
		"--driver", "sqlite", "--dsn", path,
	})
	if err := root.Execute(); err != nil {
		t.Fatalf("tree: %v", err)
	}

	for _, want := range []string{
		"table customer",
		"* id INTEGER",
		"name VARCHAR(40) not null",
		"index orders_customer_idx (customer_id ASC)",
		"key orders_customer_fk references customer (customer_id -> id)",
	} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output is missing %q:\n%s", want, out.String())
		}
	}
}

func TestLoadOverrides(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		opts    options
		wantErr bool
		want    config.DBConfig
	}{
		{
			name: "driver and dsn",
			opts: options{driver: "pgx", dsn: "postgres://localhost/shop"},
			want: config.DBConfig{Type: "pgx", DSN: "postgres://localhost/shop"},
		},
		{name: "driver alone", opts: options{driver: "sqlite"}, wantErr: true},
		{name: "bad log level", opts: options{logLevel: "loud"}, wantErr: true},
		{name: "nothing", opts: options{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.opts.configPath = filepath.Join(dir, "missing.yaml")
			tt.opts.envPath = filepath.Join(dir, "missing.env")
			cfg, err := tt.opts.load()
			if (err != nil) != tt.wantErr {
				t.Fatalf("\ngot error %v, wanted error %v", err, tt.wantErr)
			}
			if err == nil && cfg.Database != tt.want {
				t.Errorf("\ngot %+v, wanted %+v", cfg.Database, tt.want)
			}
		})
	}
}

func TestWatchPrintsChanges(t *testing.T) {
	path, h := shopFile(t)
	ctx := context.Background()
	cfg := config.Default()
	cfg.Database = config.DBConfig{Type: "sqlite", DSN: path}

	d, release, err := openTree(ctx, cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer release()
	if err := model.PopulateAll(ctx, d); err != nil {
		t.Fatalf("populate: %v", err)
	}
	if _, err := h.Exec(`ALTER TABLE customer ADD COLUMN email TEXT`); err != nil {
		t.Fatalf("alter: %v", err)
	}

	var out bytes.Buffer
	if err := watch(ctx, &out, d, 10*time.Millisecond, 1); err != nil {
		t.Fatalf("watch: %v", err)
	}
	if !strings.Contains(out.String(), "email") {
		t.Errorf("output does not mention the new column:\n%s", out.String())
	}
}
