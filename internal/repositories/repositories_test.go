package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"example.com/backstage/services/fulfillment/internal/models"
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

func testOrder(platformOrderID string) *models.Order {
	return &models.Order{
		Platform:          "etsy",
		PlatformOrderID:   platformOrderID,
		OrderNumber:       "ETSY-" + platformOrderID,
		Status:            models.OrderStatusPaid,
		CustomerName:      "Jordan Buyer",
		CustomerEmail:     "jordan@example.com",
		Total:             decimal.NewFromFloat(30.00),
		Currency:          "USD",
		PlatformCreatedAt: time.Now().UTC().Add(-time.Hour),
		Items: []models.OrderItem{
			{Title: "Mug", SKU: "MUG-1", Quantity: 2, UnitPrice: decimal.NewFromFloat(12.50)},
		},
	}
}

func TestOrderUpsertCreatesThenUpdates(t *testing.T) {
	db := testDB(t)
	repo := NewOrderRepository(db)
	ctx := context.Background()

	first := testOrder("1001")
	require.NoError(t, repo.Upsert(ctx, first))
	require.NotEqual(t, uuid.Nil, first.ID)

	// Re-syncing the same platform order must update in place, not duplicate
	second := testOrder("1001")
	second.Status = models.OrderStatusShipped
	second.TrackingNumber = "1Z999AA10123456784"
	second.Carrier = "UPS"
	second.Items = []models.OrderItem{
		{Title: "Mug", SKU: "MUG-1", Quantity: 2, UnitPrice: decimal.NewFromFloat(12.50)},
		{Title: "Coaster", SKU: "CST-1", Quantity: 1, UnitPrice: decimal.NewFromFloat(5.00)},
	}
	require.NoError(t, repo.Upsert(ctx, second))
	require.Equal(t, first.ID, second.ID, "identity must be stable across upserts")

	var count int64
	require.NoError(t, db.Model(&models.Order{}).Count(&count).Error)
	require.EqualValues(t, 1, count)

	stored, err := repo.GetByNaturalKey(ctx, "etsy", "1001")
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusShipped, stored.Status)
	require.Equal(t, "1Z999AA10123456784", stored.TrackingNumber)
	require.Len(t, stored.Items, 2)
}

func TestOrderUpsertIsIdempotent(t *testing.T) {
	db := testDB(t)
	repo := NewOrderRepository(db)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Upsert(ctx, testOrder("2002")))
	}

	var orders, items int64
	require.NoError(t, db.Model(&models.Order{}).Count(&orders).Error)
	require.NoError(t, db.Model(&models.OrderItem{}).Count(&items).Error)
	require.EqualValues(t, 1, orders)
	require.EqualValues(t, 1, items)
}

func TestOrderList(t *testing.T) {
	db := testDB(t)
	repo := NewOrderRepository(db)
	ctx := context.Background()

	etsy := testOrder("3001")
	require.NoError(t, repo.Upsert(ctx, etsy))
	amazon := testOrder("3002")
	amazon.Platform = "amazon"
	amazon.Status = models.OrderStatusShipped
	require.NoError(t, repo.Upsert(ctx, amazon))

	all, err := repo.List(ctx, OrderFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)

	onlyEtsy, err := repo.List(ctx, OrderFilter{Platform: "etsy"})
	require.NoError(t, err)
	require.Len(t, onlyEtsy, 1)
	require.Equal(t, "3001", onlyEtsy[0].PlatformOrderID)

	shipped, err := repo.List(ctx, OrderFilter{Status: models.OrderStatusShipped})
	require.NoError(t, err)
	require.Len(t, shipped, 1)
}

func TestTrackingEventAppendDeduplicates(t *testing.T) {
	db := testDB(t)
	orderRepo := NewOrderRepository(db)
	shipmentRepo := NewShipmentRepository(db)
	eventRepo := NewTrackingEventRepository(db)
	ctx := context.Background()

	order := testOrder("4001")
	require.NoError(t, orderRepo.Upsert(ctx, order))
	shipment := &models.Shipment{OrderID: order.ID, TrackingNumber: "t", CurrentStatus: models.ShipmentStatusInTransit}
	require.NoError(t, shipmentRepo.Create(ctx, shipment))

	at := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	event := func() *models.TrackingEvent {
		return &models.TrackingEvent{
			ShipmentID:     shipment.ID,
			EventType:      "carrier_update",
			EventStatus:    "in_transit",
			Description:    "Departed facility",
			EventTimestamp: at,
		}
	}

	written, err := eventRepo.Append(ctx, event())
	require.NoError(t, err)
	require.True(t, written)

	// Same (shipment, description, timestamp) is silently dropped
	written, err = eventRepo.Append(ctx, event())
	require.NoError(t, err)
	require.False(t, written)

	// A different timestamp is a new event
	later := event()
	later.EventTimestamp = at.Add(time.Hour)
	written, err = eventRepo.Append(ctx, later)
	require.NoError(t, err)
	require.True(t, written)

	events, err := eventRepo.ListByShipment(ctx, shipment.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
}

func TestShipmentNeedingUpdate(t *testing.T) {
	db := testDB(t)
	orderRepo := NewOrderRepository(db)
	shipmentRepo := NewShipmentRepository(db)
	ctx := context.Background()

	now := time.Now().UTC()
	staleBefore := now.Add(-4 * time.Hour)

	makeShipment := func(orderID string, status models.ShipmentStatus, checked *time.Time) *models.Shipment {
		order := testOrder(orderID)
		require.NoError(t, orderRepo.Upsert(ctx, order))
		shipment := &models.Shipment{OrderID: order.ID, TrackingNumber: "t-" + orderID, CurrentStatus: status, LastCheckedAt: checked}
		require.NoError(t, shipmentRepo.Create(ctx, shipment))
		return shipment
	}

	neverChecked := makeShipment("5001", models.ShipmentStatusInTransit, nil)
	old := now.Add(-8 * time.Hour)
	staleChecked := makeShipment("5002", models.ShipmentStatusLabelCreated, &old)
	recent := now.Add(-time.Hour)
	makeShipment("5003", models.ShipmentStatusInTransit, &recent)
	makeShipment("5004", models.ShipmentStatusDelivered, nil)

	due, err := shipmentRepo.NeedingUpdate(ctx, staleBefore, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)

	ids := map[uuid.UUID]bool{}
	for _, s := range due {
		ids[s.ID] = true
	}
	require.True(t, ids[neverChecked.ID])
	require.True(t, ids[staleChecked.ID])
}

func TestSyncLogCheckpoint(t *testing.T) {
	db := testDB(t)
	repo := NewSyncLogRepository(db)
	ctx := context.Background()

	// No completed log yet
	_, err := repo.LastCompleted(ctx, "etsy", "orders")
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)

	first, err := repo.Open(ctx, "etsy", "orders")
	require.NoError(t, err)

	// An open log is not a checkpoint
	_, err = repo.LastCompleted(ctx, "etsy", "orders")
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)

	require.NoError(t, repo.Close(ctx, first.ID, 5, ""))

	last, err := repo.LastCompleted(ctx, "etsy", "orders")
	require.NoError(t, err)
	require.Equal(t, first.ID, last.ID)
	require.NotNil(t, last.CompletedAt)
	require.Equal(t, 5, last.RecordsSynced)

	// A failed-open log on another run never becomes the checkpoint
	second, err := repo.Open(ctx, "etsy", "orders")
	require.NoError(t, err)
	require.NoError(t, repo.SetError(ctx, second.ID, "fetch failed"))

	last, err = repo.LastCompleted(ctx, "etsy", "orders")
	require.NoError(t, err)
	require.Equal(t, first.ID, last.ID)
}
