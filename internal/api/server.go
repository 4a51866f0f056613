// Package api serves the reconciliation engine over HTTP.
package api

import (
	"context"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"gohts/internal/engine"
	"gohts/internal/logging"
	"gohts/ports"
)

// Server wires the engine, the repository and the progress hub to gin routes.
type Server struct {
	router   *gin.Engine
	settings engine.Settings
	repo     ports.ForecastRepository
	hub      *SSEHub
	logger   zerolog.Logger
}

// NewServer builds the router. repo may be nil, in which case runs are not
// persisted and the lookup routes answer 404.
func NewServer(settings engine.Settings, repo ports.ForecastRepository) *Server {
	RegisterMetrics()
	s := &Server{
		router:   gin.New(),
		settings: settings,
		repo:     repo,
		hub:      NewSSEHub(),
		logger:   logging.Component("api"),
	}
	s.router.Use(gin.Recovery(), s.requestLogger(), metricsMiddleware())

	s.router.GET("/healthz", s.health)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/v1")
	v1.POST("/reconcile", s.reconcile)
	v1.POST("/select", s.selectReconciler)
	v1.GET("/runs/:id/output", s.runOutput)
	v1.GET("/runs/:id/events", s.hub.HandleSSE)
	v1.GET("/choices/latest", s.latestChoice)
	return s
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.hub.Close()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.hub.Close()
	if err != nil {
		return err
	}
	if err := <-errCh; err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info().Msg("server stopped")
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	}
}
