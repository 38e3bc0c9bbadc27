// Package server exposes the trip-planning engine over HTTP: session
// lifecycle endpoints, a server-sent event stream per session, and the
// health and metrics surfaces.
package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/vacaplan-dev/vacaplan/internal/engine"
	"github.com/vacaplan-dev/vacaplan/internal/store"
	"github.com/vacaplan-dev/vacaplan/pkg/observability"
)

// pipelineTimeout bounds one background pipeline run.
const pipelineTimeout = 5 * time.Minute

// Server wires the engine into a gin router.
type Server struct {
	engine *engine.Engine
	store  store.Store
	logger *zap.Logger
	router *gin.Engine
}

// New creates the HTTP server around an engine.
func New(eng *engine.Engine, st store.Store, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	s := &Server{engine: eng, store: st, logger: logger, router: router}
	s.routes()
	return s
}

// Handler returns the root http handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() {
	trips := s.router.Group("/v1/trips")
	{
		trips.POST("", s.createTrip)
		trips.GET("/:id", s.getTrip)
		trips.GET("/:id/events", s.streamEvents)
		trips.POST("/:id/confirm", s.confirmTrip)
		trips.POST("/:id/cancel", s.cancelTrip)
	}

	s.router.GET("/health", gin.WrapF(observability.HealthHandler()))
	s.router.GET("/health/live", gin.WrapF(observability.LivenessHandler()))
	s.router.GET("/health/ready", gin.WrapF(observability.ReadinessHandler()))
	s.router.GET("/metrics", gin.WrapH(observability.MetricsHandler()))
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)))
	}
}
