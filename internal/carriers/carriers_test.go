package carriers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeCarrier(t *testing.T) {
	cases := []struct {
		name     string
		expected string
	}{
		{"USPS", "usps"},
		{"usps first class", "usps"},
		{"United States Postal Service", "usps"},
		{"UPS", "ups"},
		{"UPS Ground", "ups"},
		{"United Parcel Service", "ups"},
		{"FedEx", "fedex"},
		{"Federal Express", "fedex"},
		{"DHL Express", "dhl"},
		{"  dhl  ", "dhl"},
		{"Royal Mail", "royal mail"},
	}

	for _, tc := range cases {
		require.Equal(t, tc.expected, NormalizeCarrier(tc.name), "input %q", tc.name)
	}
}

func TestRegistryLookup(t *testing.T) {
	registry := NewRegistry()
	registry.Register(NewSimulatedProvider("ups"))

	// Lookup normalizes the same way Register does
	provider, ok := registry.Lookup("UPS Ground")
	require.True(t, ok)
	require.Equal(t, "ups", provider.Carrier())

	_, ok = registry.Lookup("fedex")
	require.False(t, ok)
}

func TestSimulatedRegistryCoversStandardCarriers(t *testing.T) {
	registry := NewSimulatedRegistry()
	for _, code := range []string{"usps", "ups", "fedex", "dhl"} {
		_, ok := registry.Lookup(code)
		require.True(t, ok, "expected simulated provider for %s", code)
	}
}

func TestSimulatedProviderMarksResults(t *testing.T) {
	provider := NewSimulatedProvider("fedex")

	result, err := provider.Track(context.Background(), "794612345678")
	require.NoError(t, err)
	require.True(t, result.Simulated)
	require.True(t, result.InTransit)
	require.False(t, result.Delivered)
	require.Len(t, result.Events, 1)
	require.Equal(t, "SIMULATED", result.LastLocation)
	require.NotNil(t, result.EstimatedDelivery)
}

func TestSimulatedProviderEventsDeduplicate(t *testing.T) {
	provider := NewSimulatedProvider("usps")

	first, err := provider.Track(context.Background(), "9400100000000000000000")
	require.NoError(t, err)
	second, err := provider.Track(context.Background(), "9400100000000000000000")
	require.NoError(t, err)

	// Timestamps are truncated so repeated polls within the hour produce
	// identical events that the store can deduplicate
	require.Equal(t, first.Events[0].Timestamp, second.Events[0].Timestamp)
	require.Equal(t, first.Events[0].Description, second.Events[0].Description)
}
