// Package server exposes the schema tree of one active database to the
// diagram web UI.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"schemamodel/internal/db"
	"schemamodel/internal/introspect"
	"schemamodel/internal/logger"
	"schemamodel/internal/model"
	"schemamodel/pkg/config"
)

var errNoConnection = errors.New("no active connection; POST /api/connect to create one")

// Server holds the active schema tree. Requests touching the tree run one
// at a time.
type Server struct {
	mu     sync.Mutex
	cfg    config.AppConfig
	active *session
	router *gin.Engine
}

// session is one open pool with the tree built over it.
type session struct {
	driver string
	pool   *db.Pool
	tree   *model.Database
}

func (s *session) close() {
	if err := s.pool.Close(); err != nil {
		logger.Warn("closing %s pool: %v", s.driver, err)
	}
}

// New builds a server for cfg. The configured database, if any, is opened
// on first use.
func New(cfg config.AppConfig) *Server {
	s := &Server{cfg: cfg}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept"},
		MaxAge:          12 * time.Hour,
	}))

	api := r.Group("/api")
	{
		api.GET("/getConnect", s.getConnect)
		api.POST("/connect", s.connect)
		api.GET("/schema", s.schema)
		api.POST("/refresh", s.refresh)
	}

	// static web ui for everything else
	if s.cfg.Server.Web != "" {
		r.NoRoute(gin.WrapH(http.FileServer(http.Dir(s.cfg.Server.Web))))
	}
	return r
}

// Handler returns the HTTP handler of s.
func (s *Server) Handler() http.Handler { return s.router }

// HTTPServer returns an http.Server listening on the configured port.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:      s.router,
		IdleTimeout:  time.Minute,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// Close closes the active pool.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		s.active.close()
		s.active = nil
	}
}

// open replaces the active session with one for dbCfg and loads its tree.
// The previous session survives a failed open. Callers hold s.mu.
func (s *Server) open(ctx context.Context, dbCfg config.DBConfig) error {
	driver, dsn, err := config.BuildDriverAndDSN(dbCfg)
	if err != nil {
		return err
	}
	pool, err := db.Open(ctx, driver, dsn, s.cfg.Model.PoolSize, s.cfg.Model.ConnectTimeout)
	if err != nil {
		return err
	}
	next := &session{driver: driver, pool: pool, tree: model.NewDatabase(dbCfg.DatabaseName, pool)}
	if err := model.PopulateAll(ctx, next.tree); err != nil {
		// partial trees are still shown; the failures stay on their objects
		logger.Warn("populate %s: %v", driver, err)
	}
	if s.active != nil {
		s.active.close()
	}
	s.active = next
	s.cfg.Database = dbCfg
	logger.Info("connected to %s database %q", driver, dbCfg.DatabaseName)
	return nil
}

// ensure returns the active session, opening the configured database when
// none is open yet. Callers hold s.mu.
func (s *Server) ensure(ctx context.Context) (*session, error) {
	if s.active != nil {
		return s.active, nil
	}
	if s.cfg.Database.Type == "" {
		return nil, errNoConnection
	}
	if err := s.open(ctx, s.cfg.Database); err != nil {
		return nil, err
	}
	return s.active, nil
}

type connectResponse struct {
	OK     bool               `json:"ok"`
	Config *config.DBConfig   `json:"config,omitempty"`
	Schema *introspect.Schema `json:"schema,omitempty"`
}

type refreshResponse struct {
	OK      bool              `json:"ok"`
	Changes int               `json:"changes"`
	Events  []string          `json:"events,omitempty"`
	Schema  introspect.Schema `json:"schema"`
}

func fail(c *gin.Context, code int, err error) {
	c.AbortWithStatusJSON(code, gin.H{"ok": false, "error": err.Error()})
}

// getConnect reports the current connection parameters.
func (s *Server) getConnect(c *gin.Context) {
	s.mu.Lock()
	cfg := s.cfg.Database
	s.mu.Unlock()
	cfg.Type = config.NormalizeDriver(cfg.Type)
	c.JSON(http.StatusOK, connectResponse{OK: true, Config: &cfg})
}

// connect opens the posted database and returns its schema.
func (s *Server) connect(c *gin.Context) {
	var req config.DBConfig
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}
	if _, _, err := config.BuildDriverAndDSN(req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.open(c.Request.Context(), req); err != nil {
		fail(c, http.StatusInternalServerError, fmt.Errorf("connection failed: %w", err))
		return
	}
	snap := model.Snapshot(s.active.tree)
	c.JSON(http.StatusOK, connectResponse{OK: true, Schema: &snap})
}

// schema returns the in-memory tree, loading whatever is not loaded yet.
func (s *Server) schema(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.ensure(c.Request.Context())
	if errors.Is(err, errNoConnection) {
		fail(c, http.StatusBadRequest, err)
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, fmt.Errorf("failed to extract schema: %w", err))
		return
	}
	if err := model.PopulateAll(c.Request.Context(), sess.tree); err != nil {
		logger.Warn("populate %s: %v", sess.driver, err)
	}
	c.JSON(http.StatusOK, model.Snapshot(sess.tree))
}

// refresh brings the tree in line with the live database and reports the
// structural changes it made.
func (s *Server) refresh(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.ensure(c.Request.Context())
	if errors.Is(err, errNoConnection) {
		fail(c, http.StatusBadRequest, err)
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}

	events := model.Watch(sess.tree)
	defer events.Close()
	if err := sess.tree.Refresh(c.Request.Context()); err != nil {
		fail(c, http.StatusInternalServerError, fmt.Errorf("refresh failed: %w", err))
		return
	}
	resp := refreshResponse{OK: true, Changes: events.Structural(), Schema: model.Snapshot(sess.tree)}
	for _, e := range events.Entries() {
		if e.Kind == model.EventAdded || e.Kind == model.EventRemoved || e.Kind == model.EventProperty {
			resp.Events = append(resp.Events, e.String())
		}
	}
	c.JSON(http.StatusOK, resp)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("%s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}
