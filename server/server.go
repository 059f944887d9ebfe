// Package server exposes a search client over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ncobase/nsearch/config"
	"github.com/ncobase/nsearch/data/search"
	"github.com/ncobase/nsearch/logging/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ShutdownTimeout bounds the drain of in-flight requests
const ShutdownTimeout = 30 * time.Second

// Option configures a Server
type Option func(*Server)

// WithGatherer serves metrics of g on /metrics instead of the default registry
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		if g != nil {
			s.gatherer = g
		}
	}
}

// Server is the HTTP surface of a search client
type Server struct {
	client   *search.Client
	cfg      *config.Server
	gatherer prometheus.Gatherer
	engine   *gin.Engine
}

// New builds the router over client
func New(client *search.Client, cfg *config.Server, opts ...Option) *Server {
	if cfg == nil {
		cfg = &config.Server{Host: "0.0.0.0", Port: 8700, Mode: gin.ReleaseMode}
	}
	s := &Server{
		client:   client,
		cfg:      cfg,
		gatherer: prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(s)
	}

	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(traceMiddleware())
	r.Use(loggerMiddleware())
	s.registerRoutes(r)
	s.engine = r
	return s
}

func (s *Server) registerRoutes(r *gin.Engine) {
	r.GET("/healthz", s.health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	r.POST("/multi-search", s.multiSearch)

	indexes := r.Group("/indexes")
	{
		indexes.GET("", s.listIndexes)
		indexes.POST("/:handle/search", s.search)
		indexes.POST("/:handle/facet-values", s.facetValues)
		indexes.GET("/:handle/documents/:id", s.getDocument)
		indexes.PUT("/:handle/documents", s.indexDocuments)
		indexes.DELETE("/:handle/documents/:id", s.deleteDocument)
		indexes.GET("/:handle/schema", s.schema)
		indexes.GET("/:handle/count", s.count)
		indexes.GET("/:handle/ids", s.documentIDs)
	}
}

// Handler returns the router
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until ctx is done, then drains in-flight requests
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr(),
		Handler:      s.engine,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof(ctx, "starting server on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen on %s: %w", srv.Addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Infof(context.Background(), "shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf(shutdownCtx, "server forced to shutdown: %v", err)
		return err
	}
	return nil
}
