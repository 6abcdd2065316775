package tracing

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"example.com/backstage/services/fulfillment/config"
)

func TestNewTracerWithoutLicenseKeyIsDisabled(t *testing.T) {
	tracer, err := NewTracer(config.TracingConfig{})
	require.NoError(t, err)
	require.NotNil(t, tracer)
	require.Nil(t, tracer.StartTransaction("sync-etsy"))
}

func TestDisabledTracerIsSafeEverywhere(t *testing.T) {
	tracer := NewDisabledTracer()
	require.NotNil(t, tracer)

	require.NotPanics(t, func() {
		txn := tracer.StartTransaction("sync-etsy")
		tracer.AddAttribute(txn, "platform", "etsy")
		tracer.RecordError(txn, errors.New("fetch failed"))
		require.NotNil(t, tracer.StartSpan("fetch", txn))
		tracer.EndTransaction(txn)
		tracer.Close()
	})
}
