package carriers

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// SimulatedProvider stands in for an unconfigured carrier integration. It
// returns a clearly-marked placeholder result so the rest of the pipeline
// can be exercised in development without live credentials.
type SimulatedProvider struct {
	carrier string
}

// NewSimulatedProvider creates a simulated provider for a carrier code
func NewSimulatedProvider(carrier string) *SimulatedProvider {
	return &SimulatedProvider{carrier: NormalizeCarrier(carrier)}
}

// Carrier returns the carrier code this provider simulates
func (p *SimulatedProvider) Carrier() string {
	return p.carrier
}

// Track returns a placeholder in-transit result. The result and its single
// event are labelled simulated so they are never mistaken for live data.
func (p *SimulatedProvider) Track(_ context.Context, trackingNumber string) (*TrackingResult, error) {
	log.Debug().
		Str("carrier", p.carrier).
		Str("tracking_number", trackingNumber).
		Msg("No live tracking integration configured, returning simulated result")

	now := time.Now().UTC()
	estimated := now.Add(72 * time.Hour)

	return &TrackingResult{
		InTransit:         true,
		Shipped:           true,
		LastLocation:      "SIMULATED",
		EstimatedDelivery: &estimated,
		Events: []TrackingEventData{
			{
				Status:      "in_transit",
				Description: fmt.Sprintf("Simulated tracking response for %s (no %s integration configured)", trackingNumber, p.carrier),
				Location:    "SIMULATED",
				Timestamp:   now.Truncate(time.Hour),
			},
		},
		Simulated: true,
	}, nil
}

// Ensure SimulatedProvider implements TrackingProvider
var _ TrackingProvider = (*SimulatedProvider)(nil)
