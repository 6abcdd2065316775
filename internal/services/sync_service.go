package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"example.com/backstage/services/fulfillment/config"
	"example.com/backstage/services/fulfillment/internal/carriers"
	"example.com/backstage/services/fulfillment/internal/messaging"
	"example.com/backstage/services/fulfillment/internal/metrics"
	"example.com/backstage/services/fulfillment/internal/models"
	"example.com/backstage/services/fulfillment/internal/platforms"
	"example.com/backstage/services/fulfillment/internal/repositories"
	"example.com/backstage/services/fulfillment/internal/search"
	"example.com/backstage/services/fulfillment/internal/tracing"
)

// resource name recorded on sync logs
const resourceOrders = "orders"

// SyncOptions controls one sync run
type SyncOptions struct {
	// FullSync forces the extended lookback window instead of the
	// incremental checkpoint
	FullSync bool
}

// SyncError is one order that failed within an otherwise successful run
type SyncError struct {
	OrderID string `json:"order_id"`
	Error   string `json:"error"`
}

// SyncResult summarizes one platform sync run
type SyncResult struct {
	Platform string      `json:"platform"`
	Synced   int         `json:"synced"`
	Errors   []SyncError `json:"errors,omitempty"`
}

// SyncService pulls orders from the registered platform adapters, upserts
// them into the canonical store and seeds shipments for orders that arrive
// with tracking data.
type SyncService struct {
	orderRepo    *repositories.OrderRepository
	shipmentRepo *repositories.ShipmentRepository
	syncLogRepo  *repositories.SyncLogRepository
	adapters     map[string]platforms.Adapter
	notifier     *NotificationService
	elastic      *search.ElasticClient
	publisher    messaging.EventPublisher
	metrics      *metrics.Metrics
	tracer       tracing.Tracer
	cfg          config.SyncConfig

	now func() time.Time
}

// NewSyncService creates a new sync service
func NewSyncService(
	orderRepo *repositories.OrderRepository,
	shipmentRepo *repositories.ShipmentRepository,
	syncLogRepo *repositories.SyncLogRepository,
	notifier *NotificationService,
	elastic *search.ElasticClient,
	publisher messaging.EventPublisher,
	m *metrics.Metrics,
	tracer tracing.Tracer,
	cfg config.SyncConfig,
) *SyncService {
	return &SyncService{
		orderRepo:    orderRepo,
		shipmentRepo: shipmentRepo,
		syncLogRepo:  syncLogRepo,
		adapters:     make(map[string]platforms.Adapter),
		notifier:     notifier,
		elastic:      elastic,
		publisher:    publisher,
		metrics:      m,
		tracer:       tracer,
		cfg:          cfg,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// RegisterAdapter adds a platform adapter to the sync rotation
func (s *SyncService) RegisterAdapter(adapter platforms.Adapter) {
	s.adapters[adapter.Platform()] = adapter
}

// Platforms returns the registered platform names
func (s *SyncService) Platforms() []string {
	names := make([]string, 0, len(s.adapters))
	for name := range s.adapters {
		names = append(names, name)
	}
	return names
}

// SyncAll syncs every registered platform. Platforms run concurrently up to
// the configured limit; one platform failing does not stop the others.
func (s *SyncService) SyncAll(ctx context.Context, opts SyncOptions) []*SyncResult {
	var (
		mu      sync.Mutex
		results []*SyncResult
	)

	g := &errgroup.Group{}
	limit := s.cfg.MaxConcurrent
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)

	for name := range s.adapters {
		platform := name
		g.Go(func() error {
			result, err := s.SyncPlatform(ctx, platform, opts)
			if err != nil {
				log.Error().Err(err).Str("platform", platform).Msg("Platform sync failed")
				s.metrics.IncrementCounter(metrics.CounterSyncFailures)
				result = &SyncResult{
					Platform: platform,
					Errors:   []SyncError{{Error: err.Error()}},
				}
			}
			mu.Lock()
			results = append(results, result)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// SyncPlatform syncs one platform. The fetch either works or the whole run
// fails; normalization and persistence failures are isolated per order and
// reported in the result instead of aborting the run.
func (s *SyncService) SyncPlatform(ctx context.Context, platform string, opts SyncOptions) (*SyncResult, error) {
	adapter, ok := s.adapters[platform]
	if !ok {
		return nil, errors.Errorf("no adapter registered for platform %q", platform)
	}

	txn := s.tracer.StartTransaction("sync-" + platform)
	defer s.tracer.EndTransaction(txn)

	since, err := s.resolveWindow(ctx, platform, opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to resolve sync window")
	}

	syncLog, err := s.syncLogRepo.Open(ctx, platform, resourceOrders)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open sync log")
	}

	log.Info().
		Str("platform", platform).
		Time("since", since).
		Bool("full_sync", opts.FullSync).
		Msg("Starting order sync")

	start := s.now()
	s.metrics.IncrementCounter(metrics.CounterSyncRuns)

	rawOrders, err := adapter.FetchOrdersSince(ctx, since)
	if err != nil {
		s.tracer.RecordError(txn, err)
		if logErr := s.syncLogRepo.SetError(ctx, syncLog.ID, err.Error()); logErr != nil {
			log.Warn().Err(logErr).Msg("Failed to record sync log error")
		}
		return nil, errors.Wrapf(err, "failed to fetch orders from %s", platform)
	}

	result := &SyncResult{Platform: platform}
	for _, raw := range rawOrders {
		if err := s.syncOrder(ctx, adapter, raw); err != nil {
			log.Warn().Err(err).
				Str("platform", platform).
				Str("platform_order_id", raw.OrderID()).
				Msg("Failed to sync order")
			result.Errors = append(result.Errors, SyncError{
				OrderID: raw.OrderID(),
				Error:   err.Error(),
			})
			s.metrics.IncrementCounter(metrics.CounterOrdersFailed)
			continue
		}
		result.Synced++
		s.metrics.IncrementCounter(metrics.CounterOrdersSynced)
	}

	errorDetail := ""
	if len(result.Errors) > 0 {
		if detail, err := json.Marshal(result.Errors); err == nil {
			errorDetail = string(detail)
		}
	}
	if err := s.syncLogRepo.Close(ctx, syncLog.ID, result.Synced, errorDetail); err != nil {
		log.Warn().Err(err).Str("platform", platform).Msg("Failed to close sync log")
	}

	s.metrics.RecordDuration("sync_"+platform, s.now().Sub(start))
	s.publishEvent(ctx, messaging.EventSyncCompleted, result)

	log.Info().
		Str("platform", platform).
		Int("synced", result.Synced).
		Int("failed", len(result.Errors)).
		Msg("Order sync finished")

	return result, nil
}

// resolveWindow determines the start of the fetch window: the extended
// lookback for a full sync, the last completed checkpoint for an
// incremental one, or the default lookback when no sync has ever completed.
func (s *SyncService) resolveWindow(ctx context.Context, platform string, opts SyncOptions) (time.Time, error) {
	if opts.FullSync {
		return s.now().Add(-s.cfg.FullSyncLookback), nil
	}

	last, err := s.syncLogRepo.LastCompleted(ctx, platform, resourceOrders)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return s.now().Add(-s.cfg.DefaultLookback), nil
		}
		return time.Time{}, err
	}
	return *last.CompletedAt, nil
}

// syncOrder normalizes and upserts one raw order, then runs the follow-on
// steps that hang off a successful upsert
func (s *SyncService) syncOrder(ctx context.Context, adapter platforms.Adapter, raw platforms.RawOrder) error {
	order, err := adapter.Normalize(raw)
	if err != nil {
		return errors.Wrap(err, "failed to normalize order")
	}

	isNew := false
	if _, err := s.orderRepo.GetByNaturalKey(ctx, order.Platform, order.PlatformOrderID); err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return errors.Wrap(err, "failed to check for existing order")
		}
		isNew = true
	}

	if err := s.orderRepo.Upsert(ctx, order); err != nil {
		return errors.Wrap(err, "failed to upsert order")
	}

	if err := s.seedShipment(ctx, order); err != nil {
		return errors.Wrap(err, "failed to seed shipment")
	}

	// Everything below is best-effort and never fails the order
	if isNew {
		s.notifier.NotifyNewOrder(ctx, order)
		s.publishEvent(ctx, messaging.EventOrderSynced, order)
	}
	if err := s.elastic.IndexOrder(ctx, order); err != nil {
		log.Warn().Err(err).
			Str("platform_order_id", order.PlatformOrderID).
			Msg("Failed to index order")
	}

	return nil
}

// seedShipment creates the shipment for an order that arrived from the
// platform already carrying tracking data. An existing shipment is left
// alone; the tracking engine owns it from then on.
func (s *SyncService) seedShipment(ctx context.Context, order *models.Order) error {
	if order.TrackingNumber == "" {
		return nil
	}

	_, err := s.shipmentRepo.GetByOrderID(ctx, order.ID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	now := s.now()
	shipment := &models.Shipment{
		OrderID:        order.ID,
		TrackingNumber: order.TrackingNumber,
		Carrier:        order.Carrier,
		CarrierCode:    carriers.NormalizeCarrier(order.Carrier),
		CurrentStatus:  models.ShipmentStatusLabelCreated,
		LabelCreatedAt: &now,
	}
	if order.Status == models.OrderStatusShipped || order.Status == models.OrderStatusDelivered || order.Status == models.OrderStatusCompleted {
		shipment.CurrentStatus = models.ShipmentStatusInTransit
		shipment.ShippedAt = &now
	}

	if err := s.shipmentRepo.Create(ctx, shipment); err != nil {
		return err
	}

	log.Info().
		Str("order_id", order.ID.String()).
		Str("tracking_number", shipment.TrackingNumber).
		Str("carrier_code", shipment.CarrierCode).
		Str("status", shipment.CurrentStatus.String()).
		Msg("Shipment seeded from platform tracking data")
	return nil
}

// publishEvent publishes a lifecycle event, logging failures instead of
// propagating them
func (s *SyncService) publishEvent(ctx context.Context, eventType string, body interface{}) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishEvent(ctx, eventType, body); err != nil {
		log.Warn().Err(err).Str("event_type", eventType).Msg("Failed to publish event")
	}
}
