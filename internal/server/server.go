// Package server exposes imports over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"chatimport/internal/archive"
	"chatimport/internal/conversation"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Importer runs one import.
type Importer interface {
	Import(ctx context.Context, shareURL string) (*conversation.ImportResult, error)
}

// Archive persists finished imports. Optional.
type Archive interface {
	Save(ctx context.Context, r *conversation.ImportResult) (string, error)
	Get(ctx context.Context, id string) (*conversation.ImportResult, error)
	List(ctx context.Context, limit int) ([]archive.Summary, error)
	Delete(ctx context.Context, id string) error
}

// Browser reports the state of the shared browser.
type Browser interface {
	IsConnected() bool
	OpenPages() int
}

// Config holds HTTP server settings.
type Config struct {
	Listen       string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Debug        bool
}

// DefaultConfig returns sensible defaults. The write timeout covers a full
// import, which may take over a minute.
func DefaultConfig() Config {
	return Config{
		Listen:       "127.0.0.1:8080",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 3 * time.Minute,
	}
}

// Server wires the import routes onto a gin engine.
type Server struct {
	cfg      Config
	importer Importer
	archive  Archive
	gatherer prometheus.Gatherer
	browser  Browser
	log      *zap.Logger
	engine   *gin.Engine
}

// New builds the server. archive and gatherer may be nil.
func New(cfg Config, imp Importer, arch Archive, gatherer prometheus.Gatherer, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	s := &Server{
		cfg:      cfg,
		importer: imp,
		archive:  arch,
		gatherer: gatherer,
		log:      log,
		engine:   gin.New(),
	}
	s.engine.Use(gin.Recovery(), requestLogger(log))
	s.routes()
	return s
}

// WithBrowser makes /healthz report the browser's state.
func (s *Server) WithBrowser(b Browser) *Server {
	s.browser = b
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() {
	api := s.engine.Group("/api")
	api.POST("/import/chat", s.importChat)
	api.GET("/import/status", s.status)
	if s.archive != nil {
		api.GET("/conversations", s.listConversations)
		api.GET("/conversations/:id", s.getConversation)
		api.DELETE("/conversations/:id", s.deleteConversation)
	}

	s.engine.GET("/healthz", s.health)
	if s.gatherer != nil {
		s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Listen,
		Handler:      s.engine,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", zap.String("addr", s.cfg.Listen))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s.log.Info("http server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)))
	}
}
