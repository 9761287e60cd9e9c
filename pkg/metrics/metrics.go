// pkg/metrics/metrics.go

package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Connector states reported through the state gauge.
const (
	StateIdle    = "idle"
	StateRunning = "running"
	StateStopped = "stopped"
)

var stateValues = map[string]float64{
	StateIdle:    0,
	StateRunning: 1,
	StateStopped: 2,
}

// Metrics exposes the connector's operational counters.
type Metrics struct {
	runCount         prometheus.Counter
	clientErrorCount prometheus.Counter
	errorCount       prometheus.Counter
	pingCount        prometheus.Counter
	bundlesSent      prometheus.Counter
	state            prometheus.Gauge
	processingTime   prometheus.Histogram
}

// New registers the connector metrics on a fresh registry and returns both.
func New() (*Metrics, *prometheus.Registry) {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{
		runCount: factory.NewCounter(prometheus.CounterOpts{
			Name: "wazuh_opencti_run_count",
			Help: "Number of enrichment runs.",
		}),
		clientErrorCount: factory.NewCounter(prometheus.CounterOpts{
			Name: "wazuh_opencti_client_error_count",
			Help: "Number of runs rejected due to client errors (unsupported entity, TLP).",
		}),
		errorCount: factory.NewCounter(prometheus.CounterOpts{
			Name: "wazuh_opencti_error_count",
			Help: "Number of runs that failed with an internal error.",
		}),
		pingCount: factory.NewCounter(prometheus.CounterOpts{
			Name: "wazuh_opencti_ping_count",
			Help: "Number of platform keepalive pings.",
		}),
		bundlesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "wazuh_opencti_bundles_sent_total",
			Help: "Number of STIX bundles pushed for worker import.",
		}),
		state: factory.NewGauge(prometheus.GaugeOpts{
			Name: "wazuh_opencti_state",
			Help: "Connector state (0=idle, 1=running, 2=stopped).",
		}),
		processingTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "wazuh_opencti_processing_seconds",
			Help:    "Enrichment run duration.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	m.state.Set(stateValues[StateIdle])
	return m, registry
}

// Run records the start of an enrichment run.
func (m *Metrics) Run() { m.runCount.Inc() }

// ClientError records a run rejected for a user-attributable reason.
func (m *Metrics) ClientError() { m.clientErrorCount.Inc() }

// Error records a failed run.
func (m *Metrics) Error() { m.errorCount.Inc() }

// Ping records a platform keepalive.
func (m *Metrics) Ping() { m.pingCount.Inc() }

// BundlesSent records pushed bundles.
func (m *Metrics) BundlesSent(count int) { m.bundlesSent.Add(float64(count)) }

// SetState updates the state gauge. Unknown states are ignored.
func (m *Metrics) SetState(state string) {
	if v, ok := stateValues[state]; ok {
		m.state.Set(v)
	}
}

// ObserveProcessing records an enrichment run duration.
func (m *Metrics) ObserveProcessing(d time.Duration) {
	m.processingTime.Observe(d.Seconds())
}

// Serve exposes /metrics until the context is canceled.
func Serve(ctx context.Context, addr string, registry *prometheus.Registry, log *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Info("Serving metrics", zap.String("addr", addr))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
