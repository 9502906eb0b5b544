// Package admin serves the operator HTTP surface: status snapshots,
// liveness and Prometheus metrics.
package admin

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/prilive-com/upguard/health"
	"github.com/prilive-com/upguard/upstream"
)

// Source is the read side of the orchestrator used by the admin routes.
type Source interface {
	Status() map[string]upstream.Status
	Summary() health.Summary
	Rearm(name string) error
}

// Option configures the router.
type Option func(*routerConfig)

type routerConfig struct {
	corsOrigins []string
}

// WithCORS allows browser dashboards on origins to read the admin API.
func WithCORS(origins ...string) Option {
	return func(c *routerConfig) {
		c.corsOrigins = append(c.corsOrigins, origins...)
	}
}

// NewRouter builds the admin routes. gatherer may be nil to omit /metrics.
func NewRouter(src Source, gatherer prometheus.Gatherer, logger *slog.Logger, opts ...Option) *gin.Engine {
	var rc routerConfig
	for _, opt := range opts {
		opt(&rc)
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(logger))
	if len(rc.corsOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: rc.corsOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders: []string{"Origin", "Accept", "Content-Type"},
			MaxAge:       12 * time.Hour,
		}))
	}

	r.GET("/healthz", func(c *gin.Context) {
		s := src.Summary()
		code := http.StatusOK
		if s.Critical > 0 {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, s)
	})

	r.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, src.Status())
	})

	r.GET("/status/:name", func(c *gin.Context) {
		st, ok := src.Status()[c.Param("name")]
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "upstream not registered"})
			return
		}
		c.JSON(http.StatusOK, st)
	})

	r.POST("/streams/:name/rearm", func(c *gin.Context) {
		err := src.Rearm(c.Param("name"))
		switch {
		case err == nil:
			c.Status(http.StatusNoContent)
		case errors.Is(err, upstream.ErrNotRegistered):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, upstream.ErrStreamUnsupported), errors.Is(err, upstream.ErrAlreadyRunning):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
	})

	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
			ErrorHandling: promhttp.ContinueOnError,
		})))
	}
	return r
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("admin request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"latency", time.Since(start),
		)
	}
}

// Server runs the admin router until Shutdown.
type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

// NewServer creates a Server listening on addr.
func NewServer(addr string, handler http.Handler, logger *slog.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// ListenAndServe blocks until the server stops. A clean shutdown returns nil.
func (s *Server) ListenAndServe() error {
	s.logger.Info("admin server listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for active ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
