package services

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"example.com/backstage/services/fulfillment/config"
	"example.com/backstage/services/fulfillment/internal/mailer"
	"example.com/backstage/services/fulfillment/internal/metrics"
	"example.com/backstage/services/fulfillment/internal/models"
	"example.com/backstage/services/fulfillment/internal/platforms"
	"example.com/backstage/services/fulfillment/internal/repositories"
	"example.com/backstage/services/fulfillment/internal/tracing"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, models.SetupModels(db))
	return db
}

// stubRawOrder is a minimal raw order for the stub adapter
type stubRawOrder struct {
	platform string
	id       string
}

func (r *stubRawOrder) Platform() string { return r.platform }
func (r *stubRawOrder) OrderID() string  { return r.id }

// stubAdapter serves canned orders and records the fetch window it was given
type stubAdapter struct {
	platform  string
	orders    []*models.Order
	fetchErr  error
	failIDs   map[string]bool
	lastSince time.Time
}

func (a *stubAdapter) Platform() string { return a.platform }

func (a *stubAdapter) FetchOrdersSince(_ context.Context, since time.Time) ([]platforms.RawOrder, error) {
	a.lastSince = since
	if a.fetchErr != nil {
		return nil, a.fetchErr
	}
	raws := make([]platforms.RawOrder, 0, len(a.orders))
	for _, order := range a.orders {
		raws = append(raws, &stubRawOrder{platform: a.platform, id: order.PlatformOrderID})
	}
	return raws, nil
}

func (a *stubAdapter) Normalize(raw platforms.RawOrder) (*models.Order, error) {
	if a.failIDs[raw.OrderID()] {
		return nil, errors.New("malformed order payload")
	}
	for _, order := range a.orders {
		if order.PlatformOrderID == raw.OrderID() {
			// Return a fresh copy the way a real adapter builds a new model
			clone := *order
			clone.Items = append([]models.OrderItem(nil), order.Items...)
			return &clone, nil
		}
	}
	return nil, errors.New("unknown order")
}

func testSyncService(t *testing.T, db *gorm.DB, adapter *stubAdapter) *SyncService {
	t.Helper()

	m := metrics.NewMetrics()
	tracer, err := tracing.NewTracer(config.TracingConfig{})
	require.NoError(t, err)

	orderRepo := repositories.NewOrderRepository(db)
	notifier := NewNotificationService(
		repositories.NewNotificationRepository(db), orderRepo,
		&mailer.LogSender{}, m, config.EmailConfig{Recipient: "ops@example.com"})

	svc := NewSyncService(
		orderRepo,
		repositories.NewShipmentRepository(db),
		repositories.NewSyncLogRepository(db),
		notifier, nil, nil, m, tracer,
		config.SyncConfig{
			DefaultLookback:  168 * time.Hour,
			FullSyncLookback: 2160 * time.Hour,
			MaxConcurrent:    2,
		})
	svc.RegisterAdapter(adapter)
	return svc
}

func platformOrder(platform, id string) *models.Order {
	return &models.Order{
		Platform:          platform,
		PlatformOrderID:   id,
		OrderNumber:       platform + "-" + id,
		Status:            models.OrderStatusPaid,
		CustomerName:      "Jordan Buyer",
		Currency:          "USD",
		PlatformCreatedAt: time.Now().UTC().Add(-time.Hour),
		Items:             []models.OrderItem{{Title: "Mug", Quantity: 1}},
	}
}

func TestSyncPlatformIsIdempotent(t *testing.T) {
	db := testDB(t)
	adapter := &stubAdapter{platform: "etsy", orders: []*models.Order{
		platformOrder("etsy", "1001"),
		platformOrder("etsy", "1002"),
	}}
	svc := testSyncService(t, db, adapter)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		result, err := svc.SyncPlatform(ctx, "etsy", SyncOptions{})
		require.NoError(t, err)
		require.Equal(t, 2, result.Synced)
		require.Empty(t, result.Errors)
	}

	var count int64
	require.NoError(t, db.Model(&models.Order{}).Count(&count).Error)
	require.EqualValues(t, 2, count)
}

func TestSyncRunsWithDisabledTracerFallback(t *testing.T) {
	db := testDB(t)
	adapter := &stubAdapter{platform: "etsy", orders: []*models.Order{
		platformOrder("etsy", "1001"),
	}}
	svc := testSyncService(t, db, adapter)
	// The tracer wired when New Relic initialization fails
	svc.tracer = tracing.NewDisabledTracer()

	require.NotPanics(t, func() {
		result, err := svc.SyncPlatform(context.Background(), "etsy", SyncOptions{})
		require.NoError(t, err)
		require.Equal(t, 1, result.Synced)
	})
}

func TestSyncWindowResolution(t *testing.T) {
	db := testDB(t)
	adapter := &stubAdapter{platform: "etsy"}
	svc := testSyncService(t, db, adapter)
	ctx := context.Background()

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	// First ever sync falls back to the default lookback
	_, err := svc.SyncPlatform(ctx, "etsy", SyncOptions{})
	require.NoError(t, err)
	require.Equal(t, now.Add(-168*time.Hour), adapter.lastSince)

	// The next incremental sync starts at the previous completed checkpoint
	_, err = svc.SyncPlatform(ctx, "etsy", SyncOptions{})
	require.NoError(t, err)
	require.True(t, adapter.lastSince.After(now.Add(-time.Minute)),
		"expected checkpoint window, got %v", adapter.lastSince)

	// A full sync ignores the checkpoint and uses the extended lookback
	_, err = svc.SyncPlatform(ctx, "etsy", SyncOptions{FullSync: true})
	require.NoError(t, err)
	require.Equal(t, now.Add(-2160*time.Hour), adapter.lastSince)
}

func TestSyncIsolatesPerOrderFailures(t *testing.T) {
	db := testDB(t)
	adapter := &stubAdapter{
		platform: "etsy",
		orders: []*models.Order{
			platformOrder("etsy", "1"),
			platformOrder("etsy", "2"),
			platformOrder("etsy", "3"),
			platformOrder("etsy", "4"),
			platformOrder("etsy", "5"),
		},
		failIDs: map[string]bool{"3": true},
	}
	svc := testSyncService(t, db, adapter)
	ctx := context.Background()

	result, err := svc.SyncPlatform(ctx, "etsy", SyncOptions{})
	require.NoError(t, err)
	require.Equal(t, 4, result.Synced)
	require.Len(t, result.Errors, 1)
	require.Equal(t, "3", result.Errors[0].OrderID)

	// The run still completes and becomes the next checkpoint
	var syncLog models.SyncLog
	require.NoError(t, db.First(&syncLog).Error)
	require.NotNil(t, syncLog.CompletedAt)
	require.Equal(t, 4, syncLog.RecordsSynced)
	require.Contains(t, syncLog.ErrorDetail, "malformed order payload")
}

func TestSyncFetchFailureLeavesLogOpen(t *testing.T) {
	db := testDB(t)
	adapter := &stubAdapter{platform: "etsy", fetchErr: errors.New("connection refused")}
	svc := testSyncService(t, db, adapter)
	ctx := context.Background()

	_, err := svc.SyncPlatform(ctx, "etsy", SyncOptions{})
	require.Error(t, err)

	var syncLog models.SyncLog
	require.NoError(t, db.First(&syncLog).Error)
	require.Nil(t, syncLog.CompletedAt, "failed run must not become a checkpoint")
	require.Contains(t, syncLog.ErrorDetail, "connection refused")
}

func TestSyncSeedsShipmentFromPlatformTracking(t *testing.T) {
	db := testDB(t)
	shipped := platformOrder("etsy", "7001")
	shipped.Status = models.OrderStatusShipped
	shipped.TrackingNumber = "1Z999AA10123456784"
	shipped.Carrier = "UPS Ground"
	adapter := &stubAdapter{platform: "etsy", orders: []*models.Order{shipped}}
	svc := testSyncService(t, db, adapter)
	ctx := context.Background()

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	result, err := svc.SyncPlatform(ctx, "etsy", SyncOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, result.Synced)

	var shipment models.Shipment
	require.NoError(t, db.First(&shipment).Error)
	require.Equal(t, "1Z999AA10123456784", shipment.TrackingNumber)
	require.Equal(t, "ups", shipment.CarrierCode)
	require.Equal(t, models.ShipmentStatusInTransit, shipment.CurrentStatus)
	require.NotNil(t, shipment.ShippedAt)

	// A re-sync must not touch the existing shipment
	_, err = svc.SyncPlatform(ctx, "etsy", SyncOptions{})
	require.NoError(t, err)
	var count int64
	require.NoError(t, db.Model(&models.Shipment{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestSyncSeedsLabelCreatedForUnshippedOrders(t *testing.T) {
	db := testDB(t)
	labeled := platformOrder("etsy", "7002")
	labeled.TrackingNumber = "9400100000000000000000"
	labeled.Carrier = "USPS"
	adapter := &stubAdapter{platform: "etsy", orders: []*models.Order{labeled}}
	svc := testSyncService(t, db, adapter)

	_, err := svc.SyncPlatform(context.Background(), "etsy", SyncOptions{})
	require.NoError(t, err)

	var shipment models.Shipment
	require.NoError(t, db.First(&shipment).Error)
	require.Equal(t, "usps", shipment.CarrierCode)
	require.Equal(t, models.ShipmentStatusLabelCreated, shipment.CurrentStatus)
	require.Nil(t, shipment.ShippedAt)
}

func TestSyncAllContinuesPastFailedPlatform(t *testing.T) {
	db := testDB(t)
	bad := &stubAdapter{platform: "etsy", fetchErr: errors.New("connection refused")}
	svc := testSyncService(t, db, bad)
	good := &stubAdapter{platform: "amazon", orders: []*models.Order{platformOrder("amazon", "A1")}}
	svc.RegisterAdapter(good)

	results := svc.SyncAll(context.Background(), SyncOptions{})
	require.Len(t, results, 2)

	byPlatform := map[string]*SyncResult{}
	for _, result := range results {
		byPlatform[result.Platform] = result
	}
	require.Equal(t, 1, byPlatform["amazon"].Synced)
	require.NotEmpty(t, byPlatform["etsy"].Errors)
}
