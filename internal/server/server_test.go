package server

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"

	_ "schemamodel/internal/db/extractors"
	"schemamodel/internal/introspect"
	"schemamodel/pkg/config"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

// shopFile creates a small SQLite database and returns its path with a
// handle for changing it under the server.
func shopFile(t *testing.T) (string, *sql.DB) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shop.db")
	h, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	for _, stmt := range []string{
		`CREATE TABLE customer (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`,
		`CREATE TABLE orders (id INTEGER PRIMARY KEY, customer_id INTEGER REFERENCES customer(id))`,
	} {
		if _, err := h.Exec(stmt); err != nil {
			t.Fatalf("exec %q: %v", stmt, err)
		}
	}
	return path, h
}

func newServer(t *testing.T, dbCfg config.DBConfig) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.Server.Web = t.TempDir()
	cfg.Database = dbCfg
	s := New(cfg)
	t.Cleanup(s.Close)
	return s
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestGetConnect(t *testing.T) {
	s := newServer(t, config.DBConfig{Type: "postgresql", Host: "db", Port: 5432})
	rec := do(t, s, http.MethodGet, "/api/getConnect", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("\ngot status %d, wanted %d", rec.Code, http.StatusOK)
	}
	var resp connectResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.OK || resp.Config == nil || resp.Config.Type != "postgres" || resp.Config.Host != "db" {
		t.Errorf("\ngot %+v, wanted the normalized config", resp.Config)
	}
}

func TestSchemaWithoutConnection(t *testing.T) {
	s := newServer(t, config.DBConfig{})
	for _, path := range []string{"/api/schema", "/api/refresh"} {
		method := http.MethodGet
		if path == "/api/refresh" {
			method = http.MethodPost
		}
		if rec := do(t, s, method, path, nil); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: got status %d, wanted %d", path, rec.Code, http.StatusBadRequest)
		}
	}
}

func TestConnectRejectsBadRequests(t *testing.T) {
	s := newServer(t, config.DBConfig{})
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", "{"},
		{"unknown type", `{"type":"dbase"}`},
		{"sqlite without file", `{"type":"sqlite"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/connect", bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("\ngot status %d, wanted %d", rec.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestConnectSchemaRefresh(t *testing.T) {
	path, h := shopFile(t)
	s := newServer(t, config.DBConfig{})

	rec := do(t, s, http.MethodPost, "/api/connect", config.DBConfig{Type: "sqlite", DatabaseName: path})
	if rec.Code != http.StatusOK {
		t.Fatalf("connect: status %d: %s", rec.Code, rec.Body)
	}
	var conn connectResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &conn); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if conn.Schema == nil || len(conn.Schema.Tables) != 2 || len(conn.Schema.ForeignKeys) != 1 {
		t.Fatalf("connect returned %+v", conn.Schema)
	}

	rec = do(t, s, http.MethodGet, "/api/schema", nil)
	var schema introspect.Schema
	if err := json.Unmarshal(rec.Body.Bytes(), &schema); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(schema.Tables) != 2 || schema.ForeignKeys[0].FromTable != "orders" || schema.ForeignKeys[0].ToTable != "customer" {
		t.Errorf("schema: %+v", schema)
	}

	if _, err := h.Exec(`ALTER TABLE customer ADD COLUMN email TEXT`); err != nil {
		t.Fatalf("alter: %v", err)
	}
	rec = do(t, s, http.MethodPost, "/api/refresh", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh: status %d: %s", rec.Code, rec.Body)
	}
	var ref refreshResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &ref); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ref.Changes != 1 {
		t.Errorf("\ngot %d changes, wanted 1: %v", ref.Changes, ref.Events)
	}
	for _, tb := range ref.Schema.Tables {
		if tb.Name == "customer" && len(tb.Columns) != 3 {
			t.Errorf("\ngot %d customer columns, wanted 3", len(tb.Columns))
		}
	}
}

func TestConnectFromConfig(t *testing.T) {
	path, _ := shopFile(t)
	s := newServer(t, config.DBConfig{Type: "sqlite3", DatabaseName: path})
	rec := do(t, s, http.MethodGet, "/api/schema", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("\ngot status %d, wanted %d: %s", rec.Code, http.StatusOK, rec.Body)
	}
}
