package models

// OrderStatus is the canonical order status every platform status maps into.
// Adapter mappings are total: anything unrecognized becomes OrderStatusUnknown.
type OrderStatus string

const (
	OrderStatusPending      OrderStatus = "pending"
	OrderStatusPaid         OrderStatus = "paid"
	OrderStatusLabelCreated OrderStatus = "label_created"
	OrderStatusShipped      OrderStatus = "shipped"
	OrderStatusDelivered    OrderStatus = "delivered"
	OrderStatusCompleted    OrderStatus = "completed"
	OrderStatusCancelled    OrderStatus = "cancelled"
	OrderStatusRefunded     OrderStatus = "refunded"
	OrderStatusUnknown      OrderStatus = "unknown"
)

// String returns the string representation of OrderStatus
func (s OrderStatus) String() string {
	return string(s)
}

// ShipmentStatus is the shipment state machine position. Transitions only
// move forward in Rank order; "shipped" reported by a carrier or platform
// collapses into in_transit.
type ShipmentStatus string

const (
	ShipmentStatusPending        ShipmentStatus = "pending"
	ShipmentStatusLabelCreated   ShipmentStatus = "label_created"
	ShipmentStatusInTransit      ShipmentStatus = "in_transit"
	ShipmentStatusOutForDelivery ShipmentStatus = "out_for_delivery"
	ShipmentStatusDelivered      ShipmentStatus = "delivered"
)

// String returns the string representation of ShipmentStatus
func (s ShipmentStatus) String() string {
	return string(s)
}

// Rank returns the position of the status in the forward-only ordering.
// Unknown values rank below pending so they can never advance a shipment.
func (s ShipmentStatus) Rank() int {
	switch s {
	case ShipmentStatusPending:
		return 0
	case ShipmentStatusLabelCreated:
		return 1
	case ShipmentStatusInTransit:
		return 2
	case ShipmentStatusOutForDelivery:
		return 3
	case ShipmentStatusDelivered:
		return 4
	default:
		return -1
	}
}

// IsTerminal reports whether no further transitions are accepted
func (s ShipmentStatus) IsTerminal() bool {
	return s == ShipmentStatusDelivered
}

// NormalizeShipmentStatus maps free-text status values into the state
// machine. "shipped" is an alias bucket for in_transit.
func NormalizeShipmentStatus(raw string) ShipmentStatus {
	switch raw {
	case "pending":
		return ShipmentStatusPending
	case "label_created":
		return ShipmentStatusLabelCreated
	case "shipped", "in_transit":
		return ShipmentStatusInTransit
	case "out_for_delivery":
		return ShipmentStatusOutForDelivery
	case "delivered":
		return ShipmentStatusDelivered
	default:
		return ShipmentStatusPending
	}
}
