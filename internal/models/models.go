package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Order is the canonical, platform-agnostic representation of a marketplace
// sale. The natural key is (platform, platform_order_id); repeated syncs
// upsert against it.
type Order struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
	Platform        string    `gorm:"not null;uniqueIndex:idx_platform_order" json:"platform"`
	PlatformOrderID string    `gorm:"not null;uniqueIndex:idx_platform_order" json:"platform_order_id"`
	OrderNumber     string    `gorm:"index" json:"order_number"`
	Status          OrderStatus `gorm:"not null;default:pending" json:"status"`

	CustomerName  string `json:"customer_name"`
	CustomerEmail string `json:"customer_email"`

	ShipToName    string `json:"ship_to_name"`
	ShipToLine1   string `json:"ship_to_line1"`
	ShipToLine2   string `json:"ship_to_line2"`
	ShipToCity    string `json:"ship_to_city"`
	ShipToState   string `json:"ship_to_state"`
	ShipToZip     string `json:"ship_to_zip"`
	ShipToCountry string `json:"ship_to_country"`

	Subtotal     decimal.Decimal `gorm:"type:numeric(12,2)" json:"subtotal"`
	ShippingCost decimal.Decimal `gorm:"type:numeric(12,2)" json:"shipping_cost"`
	Tax          decimal.Decimal `gorm:"type:numeric(12,2)" json:"tax"`
	PlatformFees decimal.Decimal `gorm:"type:numeric(12,2)" json:"platform_fees"`
	Total        decimal.Decimal `gorm:"type:numeric(12,2)" json:"total"`
	Currency     string          `gorm:"size:3" json:"currency"`

	// FulfillmentChannel distinguishes merchant- from platform-fulfilled orders
	FulfillmentChannel string `json:"fulfillment_channel"`

	// TrackingNumber/Carrier are what the platform reported at sync time;
	// the Shipment record is the source of truth once seeded.
	TrackingNumber string `json:"tracking_number"`
	Carrier        string `json:"carrier"`

	PlatformCreatedAt time.Time  `json:"platform_created_at"`
	PlatformUpdatedAt *time.Time `json:"platform_updated_at"`

	Items    []OrderItem `gorm:"foreignKey:OrderID" json:"items"`
	Shipment *Shipment   `gorm:"foreignKey:OrderID" json:"-"`
}

// OrderItem is a single line item on an order
type OrderItem struct {
	ID        uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
	OrderID   uuid.UUID       `gorm:"type:uuid;not null;index" json:"order_id"`
	ProductID string          `json:"product_id"`
	Title     string          `json:"title"`
	SKU       string          `json:"sku"`
	Quantity  int             `gorm:"not null;default:1" json:"quantity"`
	UnitPrice decimal.Decimal `gorm:"type:numeric(12,2)" json:"unit_price"`
}

// Shipment tracks physical fulfillment of exactly one order. Status only
// moves forward; transition timestamps are set once and never cleared.
type Shipment struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
	OrderID   uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"order_id"`

	TrackingNumber string `gorm:"index" json:"tracking_number"`
	Carrier        string `json:"carrier"`
	CarrierCode    string `gorm:"index" json:"carrier_code"`
	ServiceType    string `json:"service_type"`

	CurrentStatus ShipmentStatus `gorm:"not null;default:pending" json:"current_status"`

	LabelCreatedAt   *time.Time `json:"label_created_at"`
	ShippedAt        *time.Time `json:"shipped_at"`
	OutForDeliveryAt *time.Time `json:"out_for_delivery_at"`
	DeliveredAt      *time.Time `json:"delivered_at"`

	LastKnownLocation string     `json:"last_known_location"`
	EstimatedDelivery *time.Time `json:"estimated_delivery"`
	DeliverySignature string     `json:"delivery_signature"`

	// LastCheckedAt drives the "needing update" selection for polling
	LastCheckedAt *time.Time `json:"last_checked_at"`

	Events []TrackingEvent `gorm:"foreignKey:ShipmentID" json:"-"`
}

// TrackingEvent is an append-only audit record of every observed or inferred
// status point for a shipment. The unique index backs idempotent appends.
type TrackingEvent struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	ShipmentID     uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:idx_shipment_event" json:"shipment_id"`
	EventType      string    `gorm:"not null" json:"event_type"`
	EventStatus    string    `json:"event_status"`
	Description    string    `gorm:"uniqueIndex:idx_shipment_event" json:"description"`
	Location       string    `json:"location"`
	EventTimestamp time.Time `gorm:"not null;uniqueIndex:idx_shipment_event" json:"event_timestamp"`
}

// SyncLog records one sync attempt per platform/resource. The most recent
// completed log is the checkpoint for the next incremental window.
type SyncLog struct {
	ID            uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Platform      string     `gorm:"not null;index:idx_sync_platform_resource" json:"platform"`
	Resource      string     `gorm:"not null;index:idx_sync_platform_resource" json:"resource"`
	StartedAt     time.Time  `gorm:"not null" json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at"`
	RecordsSynced int        `gorm:"not null;default:0" json:"records_synced"`
	ErrorDetail   string     `gorm:"type:text" json:"error_detail"`
}

// Notification records every dispatched (or failed) notification for later
// inspection. Delivery is best-effort and never rolls back the transition
// that triggered it.
type Notification struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"created_at"`
	Type      string     `gorm:"not null;index" json:"type"`
	Recipient string     `json:"recipient"`
	Subject   string     `json:"subject"`
	Status    string     `gorm:"not null" json:"status"`
	Error     string     `gorm:"type:text" json:"error"`
	MessageID string     `json:"message_id"`
	SentAt    *time.Time `json:"sent_at"`
}

// SetupModels configures GORM models and runs migrations
func SetupModels(db *gorm.DB) error {
	err := db.AutoMigrate(
		&Order{},
		&OrderItem{},
		&Shipment{},
		&TrackingEvent{},
		&SyncLog{},
		&Notification{},
	)
	if err != nil {
		return errors.Wrap(err, "failed to run auto migrations")
	}

	return nil
}
