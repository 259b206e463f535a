// Package metrics exposes agent and collector counters in the Prometheus
// text format. All methods are safe on a nil *Collector.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sentinel-pii/sentinel/pkg/types"
)

// Collector owns a private registry so that several collectors can coexist
// in one process, as they do in tests.
type Collector struct {
	reg *prometheus.Registry

	secretsDetected *prometheus.CounterVec
	decisions       *prometheus.CounterVec
	redactions      prometheus.Counter
	enqueueErrors   prometheus.Counter
	flushes         *prometheus.CounterVec
	collectorEvents *prometheus.CounterVec
	agentUp         prometheus.Gauge
}

func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Collector{
		reg: reg,
		secretsDetected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_secrets_detected_total",
			Help: "Clipboard contents classified as a secret, labeled by kind.",
		}, []string{"kind"}),
		decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_decisions_total",
			Help: "Redaction decisions, labeled by action and rule.",
		}, []string{"action", "rule"}),
		redactions: f.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_clipboard_redactions_total",
			Help: "Clipboard writes that replaced a secret.",
		}),
		enqueueErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_telemetry_enqueue_errors_total",
			Help: "Telemetry events that could not be queued or maintained.",
		}),
		flushes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_telemetry_flushes_total",
			Help: "Telemetry flush attempts, labeled by result.",
		}, []string{"result"}),
		collectorEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_collector_events_total",
			Help: "Events seen by the collector, labeled by result.",
		}, []string{"result"}),
		agentUp: f.NewGauge(prometheus.GaugeOpts{
			Name: "sentinel_up",
			Help: "Whether the sentinel process is running.",
		}),
	}
}

func (c *Collector) SetUp(up bool) {
	if c == nil {
		return
	}
	if up {
		c.agentUp.Set(1)
		return
	}
	c.agentUp.Set(0)
}

func (c *Collector) IncSecretDetected(kind types.SecretKind) {
	if c == nil {
		return
	}
	c.secretsDetected.WithLabelValues(string(kind)).Inc()
}

func (c *Collector) IncDecision(action types.Action, rule string) {
	if c == nil {
		return
	}
	c.decisions.WithLabelValues(string(action), rule).Inc()
}

func (c *Collector) IncRedaction() {
	if c == nil {
		return
	}
	c.redactions.Inc()
}

func (c *Collector) IncEnqueueError() {
	if c == nil {
		return
	}
	c.enqueueErrors.Inc()
}

func (c *Collector) IncFlush(err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.flushes.WithLabelValues(result).Inc()
}

// IncCollectorEvents adds n to the collector counter for result, one of
// accepted, duplicate or rejected.
func (c *Collector) IncCollectorEvents(result string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.collectorEvents.WithLabelValues(result).Add(float64(n))
}

// Handler serves the registry. A nil collector serves an empty registry.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{Registry: c.reg})
}
