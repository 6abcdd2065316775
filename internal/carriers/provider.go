package carriers

import (
	"context"
	"strings"
	"time"
)

// TrackingEventData is one discrete status point reported by a carrier
type TrackingEventData struct {
	Status      string
	Description string
	Location    string
	Timestamp   time.Time
}

// TrackingResult is the structured outcome of one tracking lookup. The
// boolean flags are cumulative: a delivered package also reports shipped
// and in-transit.
type TrackingResult struct {
	Delivered         bool
	OutForDelivery    bool
	InTransit         bool
	Shipped           bool
	LastLocation      string
	EstimatedDelivery *time.Time
	DeliverySignature string
	Events            []TrackingEventData

	// Simulated marks results produced without a live carrier integration
	Simulated bool
}

// TrackingProvider looks up the tracking status for a single tracking
// number with one carrier
type TrackingProvider interface {
	Carrier() string
	Track(ctx context.Context, trackingNumber string) (*TrackingResult, error)
}

// knownCarriers maps substrings of carrier names to normalized short codes.
// Order matters: usps must be tested before ups because "usps" contains
// "ups".
var knownCarriers = []struct {
	substring string
	code      string
}{
	{"usps", "usps"},
	{"united states postal", "usps"},
	{"ups", "ups"},
	{"united parcel", "ups"},
	{"fedex", "fedex"},
	{"federal express", "fedex"},
	{"dhl", "dhl"},
}

// NormalizeCarrier maps a free-text carrier name to a short carrier code.
// Upstream platforms report carrier names inconsistently, so matching is
// case-insensitive and substring-based; unrecognized carriers pass through
// lowercased.
func NormalizeCarrier(name string) string {
	lowered := strings.ToLower(strings.TrimSpace(name))
	for _, carrier := range knownCarriers {
		if strings.Contains(lowered, carrier.substring) {
			return carrier.code
		}
	}
	return lowered
}
