package cmd

import (
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"example.com/backstage/services/fulfillment/config"
	"example.com/backstage/services/fulfillment/internal/cache"
	"example.com/backstage/services/fulfillment/internal/carriers"
	"example.com/backstage/services/fulfillment/internal/mailer"
	"example.com/backstage/services/fulfillment/internal/messaging"
	"example.com/backstage/services/fulfillment/internal/metrics"
	"example.com/backstage/services/fulfillment/internal/models"
	"example.com/backstage/services/fulfillment/internal/platforms"
	"example.com/backstage/services/fulfillment/internal/repositories"
	"example.com/backstage/services/fulfillment/internal/search"
	"example.com/backstage/services/fulfillment/internal/services"
	"example.com/backstage/services/fulfillment/internal/tracing"
)

var rootCmd = &cobra.Command{
	Use:   "fulfillment",
	Short: "Order synchronization and shipment tracking service",
	Long:  `Syncs marketplace orders into a canonical store and tracks their shipments through to delivery`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// app bundles everything the commands need wired together
type app struct {
	cfg             config.Config
	db              *gorm.DB
	redisCache      *cache.RedisCache
	tracer          tracing.Tracer
	publisher       messaging.EventPublisher
	metrics         *metrics.Metrics
	orderRepo       *repositories.OrderRepository
	syncService     *services.SyncService
	trackingService *services.TrackingService
	notifier        *services.NotificationService
}

// newApp initializes every shared component from configuration
func newApp(cfg config.Config) (*app, error) {
	db, err := initDatabase(cfg)
	if err != nil {
		return nil, err
	}

	redisCache, err := cache.NewRedisCache(cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Redis cache, continuing without caching")
		redisCache = nil
	}

	tracer, err := tracing.NewTracer(cfg.Tracing)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
		tracer = tracing.NewDisabledTracer()
	}

	elasticClient, err := search.NewElasticClient(cfg.Elastic)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Elasticsearch client, continuing without search functionality")
	}

	var publisher messaging.EventPublisher
	if cfg.Azure.QueueConnStr != "" {
		publisher, err = messaging.NewServiceBusPublisher(cfg.Azure, "fulfillment")
		if err != nil {
			return nil, errors.Wrap(err, "failed to initialize Service Bus publisher")
		}
	} else {
		log.Warn().Msg("Azure Service Bus not configured, events will be dropped")
		publisher = messaging.NewNoopPublisher()
	}

	metricsCollector := metrics.NewMetrics()

	orderRepo := repositories.NewOrderRepository(db)
	shipmentRepo := repositories.NewShipmentRepository(db)
	eventRepo := repositories.NewTrackingEventRepository(db)
	syncLogRepo := repositories.NewSyncLogRepository(db)
	notificationRepo := repositories.NewNotificationRepository(db)

	notifier := services.NewNotificationService(
		notificationRepo, orderRepo, mailer.NewSender(cfg.Email), metricsCollector, cfg.Email)

	syncService := services.NewSyncService(
		orderRepo, shipmentRepo, syncLogRepo,
		notifier, elasticClient, publisher, metricsCollector, tracer, cfg.Sync)

	credStore := cache.NewCredentialStore(redisCache)
	if cfg.Etsy.Enabled {
		syncService.RegisterAdapter(platforms.NewEtsyAdapter(cfg.Etsy, credStore))
	}
	if cfg.Amazon.Enabled {
		syncService.RegisterAdapter(platforms.NewAmazonAdapter(cfg.Amazon, credStore))
	}

	trackingService := services.NewTrackingService(
		orderRepo, shipmentRepo, eventRepo,
		carriers.NewSimulatedRegistry(),
		notifier, publisher, metricsCollector, cfg.Tracking)

	return &app{
		cfg:             cfg,
		db:              db,
		redisCache:      redisCache,
		tracer:          tracer,
		publisher:       publisher,
		metrics:         metricsCollector,
		orderRepo:       orderRepo,
		syncService:     syncService,
		trackingService: trackingService,
		notifier:        notifier,
	}, nil
}

// close releases the app's external connections
func (a *app) close() {
	if err := a.publisher.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close Service Bus publisher")
	}
	if err := a.redisCache.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close Redis connection")
	}
	if a.tracer != nil {
		a.tracer.Close()
	}
}

func initDatabase(cfg config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DB.DSN), &gorm.Config{})
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to database")
	}

	if err := models.SetupModels(db); err != nil {
		return nil, errors.Wrap(err, "failed to run migrations")
	}

	// Configure connection pool
	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get underlying DB connection")
	}
	sqlDB.SetMaxIdleConns(cfg.DB.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.DB.MaxOpenConns)
	lifetime := cfg.DB.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = time.Hour
	}
	sqlDB.SetConnMaxLifetime(lifetime)

	return db, nil
}
