package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/backstage/services/fulfillment/internal/models"
)

// OrderRepository provides access to order data
type OrderRepository struct {
	db *gorm.DB
}

// NewOrderRepository creates a new order repository
func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// GetByNaturalKey gets an order by its (platform, platformOrderID) natural key
func (r *OrderRepository) GetByNaturalKey(ctx context.Context, platform, platformOrderID string) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("platform = ? AND platform_order_id = ?", platform, platformOrderID).
		First(&order).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to get order by natural key")
	}
	return &order, nil
}

// GetByID gets an order by ID
func (r *OrderRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).Preload("Items").First(&order, "id = ?", id).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to get order by ID")
	}
	return &order, nil
}

// Upsert inserts or updates an order keyed by (platform, platform_order_id).
// Line items are replaced wholesale on update; the platform is the source of
// truth for them.
func (r *OrderRepository) Upsert(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Order
		err := tx.Where("platform = ? AND platform_order_id = ?", order.Platform, order.PlatformOrderID).
			First(&existing).Error

		if errors.Is(err, gorm.ErrRecordNotFound) {
			if order.ID == uuid.Nil {
				order.ID = uuid.New()
			}
			for i := range order.Items {
				if order.Items[i].ID == uuid.Nil {
					order.Items[i].ID = uuid.New()
				}
				order.Items[i].OrderID = order.ID
			}
			if err := tx.Create(order).Error; err != nil {
				return errors.Wrap(err, "failed to create order")
			}
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "failed to look up order for upsert")
		}

		// Keep the existing identity, refresh everything the platform owns
		order.ID = existing.ID
		order.CreatedAt = existing.CreatedAt
		if err := tx.Model(&models.Order{}).Where("id = ?", existing.ID).
			Updates(map[string]interface{}{
				"order_number":        order.OrderNumber,
				"status":              order.Status,
				"customer_name":       order.CustomerName,
				"customer_email":      order.CustomerEmail,
				"ship_to_name":        order.ShipToName,
				"ship_to_line1":       order.ShipToLine1,
				"ship_to_line2":       order.ShipToLine2,
				"ship_to_city":        order.ShipToCity,
				"ship_to_state":       order.ShipToState,
				"ship_to_zip":         order.ShipToZip,
				"ship_to_country":     order.ShipToCountry,
				"subtotal":            order.Subtotal,
				"shipping_cost":       order.ShippingCost,
				"tax":                 order.Tax,
				"platform_fees":       order.PlatformFees,
				"total":               order.Total,
				"currency":            order.Currency,
				"fulfillment_channel": order.FulfillmentChannel,
				"tracking_number":     order.TrackingNumber,
				"carrier":             order.Carrier,
				"platform_updated_at": order.PlatformUpdatedAt,
			}).Error; err != nil {
			return errors.Wrap(err, "failed to update order")
		}

		if err := tx.Where("order_id = ?", existing.ID).Delete(&models.OrderItem{}).Error; err != nil {
			return errors.Wrap(err, "failed to clear order items")
		}
		for i := range order.Items {
			order.Items[i].ID = uuid.New()
			order.Items[i].OrderID = existing.ID
		}
		if len(order.Items) > 0 {
			if err := tx.Create(&order.Items).Error; err != nil {
				return errors.Wrap(err, "failed to recreate order items")
			}
		}
		return nil
	})
}

// UpdateStatus sets the order status
func (r *OrderRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.OrderStatus) error {
	result := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", id).
		Update("status", status)
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to update order status")
	}
	if result.RowsAffected == 0 {
		return errors.New("no order updated")
	}
	return nil
}

// OrderFilter defines list filtering criteria
type OrderFilter struct {
	Platform  string
	Status    models.OrderStatus
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
}

// List lists orders matching the filter, newest first
func (r *OrderRepository) List(ctx context.Context, filter OrderFilter) ([]models.Order, error) {
	query := r.db.WithContext(ctx).Model(&models.Order{}).Preload("Items")
	if filter.Platform != "" {
		query = query.Where("platform = ?", filter.Platform)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.StartTime != nil {
		query = query.Where("platform_created_at >= ?", *filter.StartTime)
	}
	if filter.EndTime != nil {
		query = query.Where("platform_created_at < ?", *filter.EndTime)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	var orders []models.Order
	err := query.Order("platform_created_at DESC").Limit(limit).Find(&orders).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list orders")
	}
	return orders, nil
}

// StatusSummary is a per-status count plus revenue aggregate
type StatusSummary struct {
	Status  models.OrderStatus
	Count   int64
	Revenue decimal.Decimal
}

// SummarizeSince aggregates order counts and revenue per status since a time
func (r *OrderRepository) SummarizeSince(ctx context.Context, since time.Time) ([]StatusSummary, error) {
	var rows []struct {
		Status  models.OrderStatus
		Count   int64
		Revenue decimal.Decimal
	}
	err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Select("status, COUNT(*) AS count, COALESCE(SUM(total), 0) AS revenue").
		Where("platform_created_at >= ?", since).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to summarize orders")
	}

	summaries := make([]StatusSummary, 0, len(rows))
	for _, row := range rows {
		summaries = append(summaries, StatusSummary{Status: row.Status, Count: row.Count, Revenue: row.Revenue})
	}
	return summaries, nil
}

// ShipmentRepository provides access to shipment data
type ShipmentRepository struct {
	db *gorm.DB
}

// NewShipmentRepository creates a new shipment repository
func NewShipmentRepository(db *gorm.DB) *ShipmentRepository {
	return &ShipmentRepository{db: db}
}

// Create creates a new shipment
func (r *ShipmentRepository) Create(ctx context.Context, shipment *models.Shipment) error {
	if shipment.ID == uuid.Nil {
		shipment.ID = uuid.New()
	}
	return errors.Wrap(r.db.WithContext(ctx).Create(shipment).Error, "failed to create shipment")
}

// GetByID gets a shipment by ID
func (r *ShipmentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Shipment, error) {
	var shipment models.Shipment
	err := r.db.WithContext(ctx).First(&shipment, "id = ?", id).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to get shipment by ID")
	}
	return &shipment, nil
}

// GetByOrderID gets the shipment owned by an order, or gorm.ErrRecordNotFound
func (r *ShipmentRepository) GetByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Shipment, error) {
	var shipment models.Shipment
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&shipment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return nil, errors.Wrap(err, "failed to get shipment by order ID")
	}
	return &shipment, nil
}

// Save persists all shipment fields
func (r *ShipmentRepository) Save(ctx context.Context, shipment *models.Shipment) error {
	return errors.Wrap(r.db.WithContext(ctx).Save(shipment).Error, "failed to save shipment")
}

// NeedingUpdate selects shipments that are not delivered and have not been
// checked within the polling interval (or never checked at all)
func (r *ShipmentRepository) NeedingUpdate(ctx context.Context, staleBefore time.Time, limit int) ([]models.Shipment, error) {
	var shipments []models.Shipment
	err := r.db.WithContext(ctx).
		Where("current_status <> ?", models.ShipmentStatusDelivered).
		Where("last_checked_at IS NULL OR last_checked_at < ?", staleBefore).
		Limit(limit).
		Find(&shipments).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to get shipments needing update")
	}
	return shipments, nil
}

// TrackingEventRepository provides append-only access to tracking events
type TrackingEventRepository struct {
	db *gorm.DB
}

// NewTrackingEventRepository creates a new tracking event repository
func NewTrackingEventRepository(db *gorm.DB) *TrackingEventRepository {
	return &TrackingEventRepository{db: db}
}

// Append inserts a tracking event unless one with the same
// (event_timestamp, description) already exists for the shipment.
// Returns true if a row was written.
func (r *TrackingEventRepository) Append(ctx context.Context, event *models.TrackingEvent) (bool, error) {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(event)
	if result.Error != nil {
		return false, errors.Wrap(result.Error, "failed to append tracking event")
	}
	return result.RowsAffected > 0, nil
}

// ListByShipment lists all events for a shipment ordered by event time
func (r *TrackingEventRepository) ListByShipment(ctx context.Context, shipmentID uuid.UUID) ([]models.TrackingEvent, error) {
	var events []models.TrackingEvent
	err := r.db.WithContext(ctx).
		Where("shipment_id = ?", shipmentID).
		Order("event_timestamp ASC").
		Find(&events).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list tracking events")
	}
	return events, nil
}

// SyncLogRepository provides access to sync log data
type SyncLogRepository struct {
	db *gorm.DB
}

// NewSyncLogRepository creates a new sync log repository
func NewSyncLogRepository(db *gorm.DB) *SyncLogRepository {
	return &SyncLogRepository{db: db}
}

// Open creates a new sync log with only startedAt set
func (r *SyncLogRepository) Open(ctx context.Context, platform, resource string) (*models.SyncLog, error) {
	entry := &models.SyncLog{
		ID:        uuid.New(),
		Platform:  platform,
		Resource:  resource,
		StartedAt: time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return nil, errors.Wrap(err, "failed to open sync log")
	}
	return entry, nil
}

// Close marks a sync log completed with its record count and error detail
func (r *SyncLogRepository) Close(ctx context.Context, id uuid.UUID, recordsSynced int, errorDetail string) error {
	now := time.Now().UTC()
	err := r.db.WithContext(ctx).
		Model(&models.SyncLog{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"completed_at":   &now,
			"records_synced": recordsSynced,
			"error_detail":   errorDetail,
		}).Error
	return errors.Wrap(err, "failed to close sync log")
}

// SetError records error detail on a sync log without completing it
func (r *SyncLogRepository) SetError(ctx context.Context, id uuid.UUID, errorDetail string) error {
	err := r.db.WithContext(ctx).
		Model(&models.SyncLog{}).
		Where("id = ?", id).
		Update("error_detail", errorDetail).Error
	return errors.Wrap(err, "failed to set sync log error")
}

// LastCompleted returns the most recent completed sync log for a
// platform/resource, or gorm.ErrRecordNotFound if none has ever completed
func (r *SyncLogRepository) LastCompleted(ctx context.Context, platform, resource string) (*models.SyncLog, error) {
	var entry models.SyncLog
	err := r.db.WithContext(ctx).
		Where("platform = ? AND resource = ? AND completed_at IS NOT NULL", platform, resource).
		Order("completed_at DESC").
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return nil, errors.Wrap(err, "failed to get last completed sync log")
	}
	return &entry, nil
}

// NotificationRepository provides access to notification records
type NotificationRepository struct {
	db *gorm.DB
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(db *gorm.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create records a notification attempt
func (r *NotificationRepository) Create(ctx context.Context, notification *models.Notification) error {
	if notification.ID == uuid.Nil {
		notification.ID = uuid.New()
	}
	return errors.Wrap(r.db.WithContext(ctx).Create(notification).Error, "failed to create notification record")
}

// ListFailed lists failed notification records for later inspection
func (r *NotificationRepository) ListFailed(ctx context.Context, limit int) ([]models.Notification, error) {
	var notifications []models.Notification
	err := r.db.WithContext(ctx).
		Where("status = ?", "failed").
		Order("created_at DESC").
		Limit(limit).
		Find(&notifications).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list failed notifications")
	}
	return notifications, nil
}
