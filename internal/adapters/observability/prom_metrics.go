// Package observability implements ports.Observability against Prometheus,
// grounded directly on AegisFlow's internal/adapters/observability
// (prom_metrics.go): a struct of pre-registered collectors keyed by metric
// name, MustRegister at construction, and log lines via the standard
// library's log package — the teacher itself never reaches for a
// structured-logging library here, and nothing else in the retrieval pack
// imports one from application code either, so this is the one ambient
// concern the corpus itself carries on the standard library.
package observability

import (
	"fmt"
	"log"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Ultimaker/OpenTelepathy/internal/ports"
)

// PromObs is the process-wide Observability sink (spec.md §9, "the only
// process-wide state is a log sink").
type PromObs struct {
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer
}

// NewPromObs registers and returns the metric set the core emits: DAQ
// sample loss and queue backpressure, protocol-level negative responses and
// timeouts, fatal transport disconnects, connection state and queue depth
// gauges, and per-command round-trip latency.
func NewPromObs() *PromObs {
	samplesLost := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "telepathy_daq_samples_lost_total",
		Help: "DAQ samples lost to late or missing ODT arrivals.",
	})
	queueDropped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "telepathy_daq_queue_dropped_total",
		Help: "DAQ samples evicted by the consumer queue's drop-oldest policy.",
	})
	protocolErrors := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "telepathy_protocol_errors_total",
		Help: "XCP negative responses and command timeouts.",
	})
	transportDisconnects := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "telepathy_transport_disconnects_total",
		Help: "Fatal transport failures that dropped the connection.",
	})
	queueLength := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "telepathy_daq_queue_length",
		Help: "Current number of samples buffered in the DAQ consumer queue.",
	})
	connState := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "telepathy_conn_state",
		Help: "Current connection state (0=disconnected,1=connected,2=daq-configured,3=daq-running).",
	})
	cmdLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "telepathy_command_latency_seconds",
		Help:    "Round-trip latency of a single XCP command.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
	})

	prometheus.MustRegister(samplesLost, queueDropped, protocolErrors, transportDisconnects, queueLength, connState, cmdLatency)

	return &PromObs{
		counters: map[string]prometheus.Counter{
			"telepathy_daq_samples_lost_total":      samplesLost,
			"telepathy_daq_queue_dropped_total":     queueDropped,
			"telepathy_protocol_errors_total":       protocolErrors,
			"telepathy_transport_disconnects_total": transportDisconnects,
		},
		gauges: map[string]prometheus.Gauge{
			"telepathy_daq_queue_length": queueLength,
			"telepathy_conn_state":       connState,
		},
		histos: map[string]prometheus.Observer{
			"telepathy_command_latency_seconds": cmdLatency,
		},
	}
}

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	log.Printf("INFO: %s %s", msg, formatFields(fields))
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	log.Printf("ERROR: %s: %v %s", msg, err, formatFields(fields))
}

func (p *PromObs) IncCounter(name string, v float64) {
	if c, ok := p.counters[name]; ok {
		c.Add(v)
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.Observe(seconds)
	}
}

func (p *PromObs) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

func formatFields(fields []ports.Field) string {
	if len(fields) == 0 {
		return ""
	}
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = fmt.Sprintf("%s=%v", f.Key, f.Value)
	}
	return strings.Join(parts, " ")
}
