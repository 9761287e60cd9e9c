// pkg/metrics/metrics_test.go

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m, registry := New()

	m.Run()
	m.Run()
	m.ClientError()
	m.Error()
	m.Ping()
	m.BundlesSent(7)

	families, err := registry.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.runCount))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.clientErrorCount))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errorCount))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pingCount))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.bundlesSent))
}

func TestStateGauge(t *testing.T) {
	m, _ := New()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.state))

	m.SetState(StateRunning)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.state))

	m.SetState("bogus")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.state))

	m.SetState(StateStopped)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.state))
}

func TestObserveProcessing(t *testing.T) {
	m, registry := New()
	m.ObserveProcessing(250 * time.Millisecond)

	count, err := testutil.GatherAndCount(registry, "wazuh_opencti_processing_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
