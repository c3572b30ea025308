// Package server exposes the state of the shader pipeline over HTTP: tracked documents
// with their layouts and last errors, compile statistics, and a manual reload trigger.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Carmen-Shannon/oxy-shader/common"
	"github.com/Carmen-Shannon/oxy-shader/engine"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// server is the implementation of the Server interface.
type server struct {
	engine engine.Engine
	addr   string
	logger *zap.Logger
	router *gin.Engine
}

// Server is the diagnostics HTTP server.
type Server interface {
	// Addr returns the configured listen address.
	Addr() string

	// Handler returns the router, for tests and for mounting in another server.
	//
	// Returns:
	//   - http.Handler: the router
	Handler() http.Handler

	// ListenAndServe serves until ctx is done, then shuts down gracefully.
	//
	// Parameters:
	//   - ctx: the lifetime of the server
	//
	// Returns:
	//   - error: error if the listener fails; nil after a clean shutdown
	ListenAndServe(ctx context.Context) error
}

var _ Server = &server{}

// NewServer creates a Server reporting on e.
//
// Parameters:
//   - e: the engine to report on
//   - options: a variadic list of ServerBuilderOption functions
//
// Returns:
//   - Server: the server
func NewServer(e engine.Engine, options ...ServerBuilderOption) Server {
	if e == nil {
		panic("server: NewServer requires an engine")
	}
	s := &server{
		engine: e,
		addr:   "127.0.0.1:7070",
		logger: common.Logger().Named("server"),
	}
	for _, opt := range options {
		opt(s)
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	r.GET("/healthz", s.handleHealth)
	r.GET("/documents", s.handleDocuments)
	r.GET("/documents/*path", s.handleDocument)
	r.POST("/reload", s.handleReload)
	r.GET("/stats", s.handleStats)
	s.router = r
	return s
}

func (s *server) Addr() string {
	return s.addr
}

func (s *server) Handler() http.Handler {
	return s.router
}

func (s *server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("diagnostics server listening", zap.String("addr", s.addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	s.logger.Info("diagnostics server stopped")
	return nil
}

// requestLogger logs one debug line per request.
func (s *server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
