// Package adminhttp exposes the engine's health and metrics endpoints over
// a small Gin server, separate from the command/event transport.
package adminhttp

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pms-engine/execcore/internal/metrics"
)

// HealthSource reports whether the engine's core subsystems are ready to
// serve traffic.
type HealthSource interface {
	Healthy() (bool, map[string]string)
}

// Server is the admin HTTP surface: /healthz, /readyz, /metrics.
type Server struct {
	logger *zap.Logger
	engine *gin.Engine
	http   *http.Server
}

// New constructs the admin server bound to addr.
func New(logger *zap.Logger, addr string, m *metrics.Metrics, health HealthSource) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	engine.Use(cors.New(corsConfig))

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	engine.GET("/readyz", func(c *gin.Context) {
		if health == nil {
			c.JSON(http.StatusOK, gin.H{"ready": true})
			return
		}
		ready, detail := health.Healthy()
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"ready": ready, "detail": detail})
	})

	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))

	return &Server{
		logger: logger,
		engine: engine,
		http:   &http.Server{Addr: addr, Handler: engine, ReadHeaderTimeout: 5 * time.Second},
	}
}

// Start runs the server in the background; call Shutdown to stop it.
func (s *Server) Start() {
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("admin http server error", zap.Error(err))
		}
	}()
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
