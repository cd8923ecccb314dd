// Package server exposes the device snapshot over a small JSON API.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/devicelist/internal/metrics"
	"github.com/hyperifyio/devicelist/internal/scrape"
	"github.com/hyperifyio/devicelist/internal/store"
)

// Refresher produces a new snapshot on demand.
type Refresher interface {
	Run(ctx context.Context) (scrape.Result, error)
}

// Config contains server configuration.
type Config struct {
	Addr         string
	Version      string
	CORSOrigins  []string
	ScrapeOnMiss bool
	// ShutdownTimeout bounds graceful shutdown. Zero means 10s.
	ShutdownTimeout time.Duration
}

// Server wraps the gin engine and its dependencies.
type Server struct {
	cfg       Config
	router    *gin.Engine
	devices   store.Loader
	refresher Refresher
	metrics   *metrics.Metrics
}

// New builds the router. refresher and m may be nil.
func New(cfg Config, devices store.Loader, refresher Refresher, m *metrics.Metrics) *Server {
	s := &Server{cfg: cfg, devices: devices, refresher: refresher, metrics: m}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(), observe(m), apiCORS(cfg.CORSOrigins))

	api := router.Group("/api")
	api.GET("/health", s.health)
	api.GET("/devices", s.listDevices)

	if m != nil {
		router.GET("/metrics", gin.WrapH(m.Handler()))
	}
	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})

	s.router = router
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is canceled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.cfg.Addr).Msg("server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	log.Info().Msg("shutting down server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
