package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"schemamodel/internal/introspect"
	"schemamodel/internal/logger"
	"schemamodel/pkg/config"
)

// ErrPoolExhausted is returned by Connect when every connection is lent out.
var ErrPoolExhausted = errors.New("connection pool exhausted")

// Pool lends up to size dedicated connections for metadata reads. Borrowing
// fails fast instead of waiting once the pool is exhausted.
type Pool struct {
	db      *sql.DB
	ext     Extractor
	sem     *semaphore.Weighted
	size    int
	timeout time.Duration
}

// Open connects to dsn with driver, pings it within timeout and returns a
// pool of size connections.
func Open(ctx context.Context, driver, dsn string, size int, timeout time.Duration) (*Pool, error) {
	driver = config.NormalizeDriver(driver)
	ext, err := Lookup(driver)
	if err != nil {
		return nil, err
	}
	dbConn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	p := NewPool(dbConn, ext, size, timeout)
	pctx, cancel := p.withTimeout(ctx)
	defer cancel()
	if err := dbConn.PingContext(pctx); err != nil {
		dbConn.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	logger.Debug("opened %s pool of %d", driver, p.size)
	return p, nil
}

// NewPool wraps an open database. A size below one means the default.
func NewPool(dbConn *sql.DB, ext Extractor, size int, timeout time.Duration) *Pool {
	if size < 1 {
		size = config.DefaultPoolSize
	}
	dbConn.SetMaxOpenConns(size)
	return &Pool{
		db:      dbConn,
		ext:     ext,
		sem:     semaphore.NewWeighted(int64(size)),
		size:    size,
		timeout: timeout,
	}
}

func (p *Pool) Size() int { return p.size }

// DB returns the underlying database handle.
func (p *Pool) DB() *sql.DB { return p.db }

func (p *Pool) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.timeout)
}

// Connect borrows a dedicated connection. Every call yields a distinct
// connection until Close gives it back.
func (p *Pool) Connect(ctx context.Context) (introspect.Metadata, error) {
	if !p.sem.TryAcquire(1) {
		return nil, ErrPoolExhausted
	}
	cctx, cancel := p.withTimeout(ctx)
	defer cancel()
	conn, err := p.db.Conn(cctx)
	if err != nil {
		p.sem.Release(1)
		return nil, fmt.Errorf("borrow connection: %w", err)
	}
	return &Conn{conn: conn, ext: p.ext, release: func() { p.sem.Release(1) }}, nil
}

// Close closes the database. Borrowed connections fail afterwards.
func (p *Pool) Close() error {
	return p.db.Close()
}

// Conn is one borrowed connection reading metadata through an Extractor.
type Conn struct {
	conn    *sql.Conn
	ext     Extractor
	release func()

	once sync.Once
	err  error
}

func (c *Conn) Catalogs(ctx context.Context) ([]introspect.CatalogRow, error) {
	return c.ext.Catalogs(ctx, c.conn)
}

func (c *Conn) Schemas(ctx context.Context, catalog string) ([]introspect.SchemaRow, error) {
	return c.ext.Schemas(ctx, c.conn, catalog)
}

func (c *Conn) Tables(ctx context.Context, catalog, schema string) ([]introspect.TableRow, error) {
	return c.ext.Tables(ctx, c.conn, catalog, schema)
}

func (c *Conn) Columns(ctx context.Context, catalog, schema, table string) ([]introspect.ColumnRow, error) {
	return c.ext.Columns(ctx, c.conn, catalog, schema, table)
}

func (c *Conn) PrimaryKeys(ctx context.Context, catalog, schema, table string) ([]introspect.PrimaryKeyRow, error) {
	return c.ext.PrimaryKeys(ctx, c.conn, catalog, schema, table)
}

func (c *Conn) Indexes(ctx context.Context, catalog, schema, table string) ([]introspect.IndexRow, error) {
	return c.ext.Indexes(ctx, c.conn, catalog, schema, table)
}

func (c *Conn) ImportedKeys(ctx context.Context, catalog, schema, table string) ([]introspect.KeyRow, error) {
	return c.ext.ImportedKeys(ctx, c.conn, catalog, schema, table)
}

func (c *Conn) ExportedKeys(ctx context.Context, catalog, schema, table string) ([]introspect.KeyRow, error) {
	return c.ext.ExportedKeys(ctx, c.conn, catalog, schema, table)
}

// Close returns the connection to the pool. Only the first call counts.
func (c *Conn) Close() error {
	c.once.Do(func() {
		c.err = c.conn.Close()
		c.release()
	})
	return c.err
}
