package observability

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Ultimaker/OpenTelepathy/internal/ports"
)

func TestPromObsMetrics(t *testing.T) {
	origReg := prometheus.DefaultRegisterer
	origGatherer := prometheus.DefaultGatherer
	t.Cleanup(func() {
		prometheus.DefaultRegisterer = origReg
		prometheus.DefaultGatherer = origGatherer
	})

	reg := prometheus.NewRegistry()
	prometheus.DefaultRegisterer = reg
	prometheus.DefaultGatherer = reg

	obs := NewPromObs()

	obs.IncCounter("telepathy_daq_samples_lost_total", 3)
	if got := testutil.ToFloat64(obs.counters["telepathy_daq_samples_lost_total"]); got != 3 {
		t.Fatalf("expected lost-samples counter 3, got %f", got)
	}

	obs.IncCounter("telepathy_daq_queue_dropped_total", 6)
	if got := testutil.ToFloat64(obs.counters["telepathy_daq_queue_dropped_total"]); got != 6 {
		t.Fatalf("expected queue-drop counter 6, got %f", got)
	}

	obs.IncCounter("telepathy_protocol_errors_total", 1)
	if got := testutil.ToFloat64(obs.counters["telepathy_protocol_errors_total"]); got != 1 {
		t.Fatalf("expected protocol-error counter 1, got %f", got)
	}

	obs.IncCounter("telepathy_transport_disconnects_total", 2)
	if got := testutil.ToFloat64(obs.counters["telepathy_transport_disconnects_total"]); got != 2 {
		t.Fatalf("expected transport-disconnect counter 2, got %f", got)
	}

	obs.SetGauge("telepathy_daq_queue_length", 4)
	if got := testutil.ToFloat64(obs.gauges["telepathy_daq_queue_length"]); got != 4 {
		t.Fatalf("expected queue-length gauge 4, got %f", got)
	}

	obs.ObserveLatency("telepathy_command_latency_seconds", 0.002)
	hCollector := obs.histos["telepathy_command_latency_seconds"].(prometheus.Collector)
	if samples := testutil.CollectAndCount(hCollector); samples != 1 {
		t.Fatalf("expected latency histogram to record 1 sample, got %d", samples)
	}

	// Unknown metric names are ignored rather than panicking, since callers
	// pass string constants that could drift from the registered set.
	obs.IncCounter("does_not_exist", 1)
	obs.SetGauge("does_not_exist", 1)
	obs.ObserveLatency("does_not_exist", 1)

	obs.LogInfo("connected", ports.Field{Key: "max_cto", Value: 8})
	obs.LogError("disconnected", errors.New("transport closed"))
}
