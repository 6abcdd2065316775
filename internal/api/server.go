package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/fulfillment/config"
	"example.com/backstage/services/fulfillment/internal/api/handlers"
	"example.com/backstage/services/fulfillment/internal/metrics"
	"example.com/backstage/services/fulfillment/internal/repositories"
	"example.com/backstage/services/fulfillment/internal/services"
	"example.com/backstage/services/fulfillment/internal/tracing"
)

// Server represents the HTTP server
type Server struct {
	config          config.Config
	router          *gin.Engine
	httpServer      *http.Server
	syncService     *services.SyncService
	trackingService *services.TrackingService
	orderRepo       *repositories.OrderRepository
	metrics         *metrics.Metrics
	tracer          tracing.Tracer
}

// NewServer creates a new HTTP server
func NewServer(
	cfg config.Config,
	syncService *services.SyncService,
	trackingService *services.TrackingService,
	orderRepo *repositories.OrderRepository,
	m *metrics.Metrics,
	tracer tracing.Tracer,
) *Server {
	server := &Server{
		config:          cfg,
		syncService:     syncService,
		trackingService: trackingService,
		orderRepo:       orderRepo,
		metrics:         m,
		tracer:          tracer,
	}

	router := server.setupRouter()
	server.router = router

	httpServer := &http.Server{
		Addr:    cfg.ServerAddress,
		Handler: router,
	}
	server.httpServer = httpServer

	return server
}

// setupRouter configures the HTTP router
func (s *Server) setupRouter() *gin.Engine {
	if s.config.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()

	// Recovery middleware
	router.Use(gin.Recovery())

	// Register handlers
	syncHandler := handlers.NewSyncHandler(s.syncService, s.tracer)
	syncHandler.RegisterRoutes(router)

	orderHandler := handlers.NewOrderHandler(s.orderRepo, s.trackingService, s.tracer)
	orderHandler.RegisterRoutes(router)

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Metrics snapshot endpoint
	router.GET("/metrics", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.metrics.GetSnapshot())
	})

	return router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Info().Str("address", s.config.ServerAddress).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "HTTP server error")
	}

	return nil
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "HTTP server shutdown error")
	}

	log.Info().Msg("HTTP server shut down successfully")
	return nil
}
