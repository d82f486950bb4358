package telepathy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	_ "github.com/lib/pq"

	"github.com/Ultimaker/OpenTelepathy/internal/adapters/consumer"
	"github.com/Ultimaker/OpenTelepathy/internal/adapters/observability"
	"github.com/Ultimaker/OpenTelepathy/internal/app/config"
	"github.com/Ultimaker/OpenTelepathy/internal/daq"
	"github.com/Ultimaker/OpenTelepathy/internal/debuginfo"
	"github.com/Ultimaker/OpenTelepathy/internal/domain"
	"github.com/Ultimaker/OpenTelepathy/internal/modelmap"
	"github.com/Ultimaker/OpenTelepathy/internal/ports"
	"github.com/Ultimaker/OpenTelepathy/internal/transport"
	"github.com/Ultimaker/OpenTelepathy/internal/variable"
	"github.com/Ultimaker/OpenTelepathy/internal/xcp"
	"github.com/Ultimaker/OpenTelepathy/internal/xerr"
)

// Option customizes the dependencies Open/OpenWithConfig wire up, mirroring
// the EdgeRuntimeOption pattern.
type Option func(*sessionOverrides)

type sessionOverrides struct {
	observability Observability
	consumers     []Consumer
	transport     ports.Transport
}

// WithObservability plugs in a custom Observability backend in place of the
// default Prometheus-backed one.
func WithObservability(obs Observability) Option {
	return func(o *sessionOverrides) { o.observability = obs }
}

// WithConsumer registers a Consumer to receive DAQ sample batches, in
// addition to any consumer implied by Config.Timescale.
func WithConsumer(c Consumer) Option {
	return func(o *sessionOverrides) {
		if c != nil {
			o.consumers = append(o.consumers, c)
		}
	}
}

// WithTransport overrides the transport Config.Transport would otherwise
// build, useful for tests or for links this package has no adapter for.
func WithTransport(tr ports.Transport) Option {
	return func(o *sessionOverrides) { o.transport = tr }
}

// Session is one live (or previously live) connection to a target: the
// protocol client, whichever symbol table was loaded, the variable layer
// built over it, and the DAQ engine feeding registered consumers.
type Session struct {
	cfg    *Config
	obs    Observability
	client *xcp.Client
	table  *domain.SymbolTable
	layer  *variable.Layer
	engine *daq.Engine

	consumers []Consumer
	db        *sql.DB
	metricSrv *http.Server

	dispatchStop chan struct{}
	dispatchDone chan struct{}
	gaugeStop    chan struct{}
}

// Open reads path, applies opts, and returns a connected Session with
// symbols loaded per Config.Symbols.
func Open(path string, opts ...Option) (*Session, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return OpenWithConfig(cfg, opts...)
}

// OpenWithConfig builds a Session from an already-loaded Config.
func OpenWithConfig(cfg *Config, opts ...Option) (*Session, error) {
	if cfg == nil {
		return nil, fmt.Errorf("telepathy: config is required")
	}
	var overrides sessionOverrides
	for _, opt := range opts {
		if opt != nil {
			opt(&overrides)
		}
	}

	obs := overrides.observability
	if obs == nil {
		obs = observability.NewPromObs()
	}

	tr := overrides.transport
	if tr == nil {
		var err error
		tr, err = buildTransport(cfg.Transport)
		if err != nil {
			return nil, err
		}
	}

	policy := DropOldest
	if cfg.Daq.OverflowPolicy == "block" {
		policy = Block
	}

	s := &Session{cfg: cfg, obs: obs}
	s.client = xcp.NewClient(tr,
		xcp.WithObservability(obs),
		xcp.WithResponseTimeout(cfg.Transport.ResponseTimeout),
	)
	s.engine = daq.New(s.client, cfg.Daq.AddressExtension, cfg.Daq.QueueCapacity, policy, obs)
	// The engine needs the client to exist first; the client needs the
	// engine as its DAQ sink before Connect starts the receiver goroutine.
	s.client.SetDaqSink(s.engine)

	if _, err := s.client.Connect(cfg.Connect.Mode); err != nil {
		return nil, err
	}

	table, err := loadSymbolTable(s.client, cfg.Symbols)
	if err != nil {
		s.client.Disconnect()
		return nil, err
	}
	s.table = table
	s.layer = variable.NewLayer(s.client, cfg.Symbols.AddressExtension, table)

	consumers := append([]Consumer{}, overrides.consumers...)
	if cfg.Timescale.ConnString != "" {
		db, err := sql.Open("postgres", cfg.Timescale.ConnString)
		if err != nil {
			s.client.Disconnect()
			return nil, err
		}
		s.db = db
		consumers = append(consumers, consumer.NewTimescaleConsumer(db, cfg.Timescale.Table))
	}
	s.consumers = consumers

	s.dispatchStop = make(chan struct{})
	s.dispatchDone = make(chan struct{})
	go s.dispatchLoop()

	s.startMetrics(cfg.Metrics.Addr)

	s.gaugeStop = make(chan struct{})
	go s.recordResourceGauges(s.gaugeStop, time.Second)

	return s, nil
}

// recordResourceGauges periodically reports connection state and queue
// depth, and turns the queue's cumulative drop count into a counter delta,
// grounded on EdgeRuntime.recordResourceGauges.
func (s *Session) recordResourceGauges(stop <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastDropped uint64
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.obs.SetGauge("telepathy_conn_state", float64(s.client.State()))
			s.obs.SetGauge("telepathy_daq_queue_length", float64(s.engine.Queue().Len()))
			if dropped := s.engine.Queue().Dropped(); dropped > lastDropped {
				s.obs.IncCounter("telepathy_daq_queue_dropped_total", float64(dropped-lastDropped))
				lastDropped = dropped
			}
		}
	}
}

// startMetrics serves /metrics (Prometheus) and /healthz on addr, mirroring
// the teacher's EdgeRuntime.startMetrics. A bind failure is logged, not
// fatal: a session with no metrics endpoint still functions.
func (s *Session) startMetrics(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	s.metricSrv = &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := s.metricSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("telepathy: metrics server exited: %v", err)
		}
	}()
}

func buildTransport(cfg config.TransportConfig) (ports.Transport, error) {
	switch cfg.Kind {
	case "tcp":
		return transport.NewTCP(cfg.Address), nil
	case "serial":
		return transport.NewSerial(cfg.Port, cfg.BaudRate), nil
	default:
		return nil, fmt.Errorf("telepathy: unknown transport kind %q", cfg.Kind)
	}
}

// loadSymbolTable builds a symbol table per Config.Symbols: a debug-info
// table from an ELF image, a model-map table read from the target over mem,
// or the model-map table alone when both are configured (the model-map's
// signal/parameter/state paths are what calibration and DAQ tooling
// actually wants; the debug-info table only serves to locate the
// model-map's root symbol in that case).
func loadSymbolTable(mem modelmap.MemoryReader, cfg config.SymbolsConfig) (*domain.SymbolTable, error) {
	var dwarfTable *domain.SymbolTable
	if cfg.ImagePath != "" {
		var err error
		dwarfTable, err = debuginfo.Load(cfg.ImagePath)
		if err != nil {
			return nil, err
		}
	}

	if cfg.ModelMapRoot == "" {
		if dwarfTable == nil {
			return nil, xerr.New(xerr.Symbol, "loadSymbolTable", fmt.Errorf("no symbol source configured"))
		}
		return dwarfTable, nil
	}

	if dwarfTable == nil {
		return nil, xerr.New(xerr.Symbol, "loadSymbolTable",
			fmt.Errorf("model_map_root %q needs image_path to resolve its address", cfg.ModelMapRoot))
	}
	return modelmap.Load(mem, cfg.AddressExtension, dwarfTable, cfg.ModelMapRoot)
}

// State reports the session's current XCP connection state.
func (s *Session) State() ConnState { return s.client.State() }

// Resolve looks up path in the loaded symbol table.
func (s *Session) Resolve(path string) (*variable.Handle, error) {
	return s.layer.Resolve(path)
}

// Read reads and decodes the variable at path.
func (s *Session) Read(path string) (Value, error) {
	h, err := s.layer.Resolve(path)
	if err != nil {
		return Value{}, err
	}
	return s.layer.Read(h)
}

// Write encodes and writes v to the variable at path.
func (s *Session) Write(path string, v Value) error {
	h, err := s.layer.Resolve(path)
	if err != nil {
		return err
	}
	return s.layer.Write(h, v)
}

// DaqConfigure assigns each symbol path in assignment to the given event
// channel and arms the corresponding DAQ lists on the target.
func (s *Session) DaqConfigure(assignment map[string]uint8) (DaqConfig, error) {
	return s.engine.Configure(assignment, s.table)
}

// DaqStart begins acquisition on every configured DAQ list.
func (s *Session) DaqStart() error { return s.engine.Start() }

// DaqStop disarms every DAQ list. Already-queued samples remain available
// to registered consumers until the Session is closed.
func (s *Session) DaqStop() error { return s.engine.Stop() }

// Disconnect stops DAQ if it is running, stops acquisition dispatch, closes
// the sample queue, issues DISCONNECT, and closes any database connection a
// Timescale consumer held. Per spec.md §4.6, a close from any state stops
// DAQ before disconnecting, so a target is never left with active DAQ lists
// armed after the session closes.
func (s *Session) Disconnect() error {
	if err := s.engine.Stop(); err != nil && !xerr.Is(err, xerr.State) {
		s.obs.LogError("daq_stop_failed", err)
	}

	close(s.dispatchStop)
	s.engine.Queue().Close()
	<-s.dispatchDone

	if s.gaugeStop != nil {
		close(s.gaugeStop)
	}

	if s.metricSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.metricSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.obs.LogError("metrics_server_shutdown_failed", err)
		}
	}

	err := s.client.Disconnect()
	if s.db != nil {
		if dbErr := s.db.Close(); dbErr != nil && err == nil {
			err = dbErr
		}
	}
	return err
}

// dispatchLoop drains finished DAQ samples in small batches and delivers
// them to every registered consumer, grounded on the teacher's ingest
// pipeline (pkg/aegisflow.EdgeRuntime.Start's WAL->queue->sink goroutine)
// minus the WAL stage this domain has no use for.
func (s *Session) dispatchLoop() {
	defer close(s.dispatchDone)
	const maxBatch = 256
	for {
		batch, ok := s.engine.Queue().DrainBatch(maxBatch)
		if !ok {
			return
		}
		for _, c := range s.consumers {
			if err := c.Deliver(batch); err != nil {
				s.obs.LogError("consumer_delivery_failed", err, Field{Key: "consumer", Value: fmt.Sprintf("%T", c)})
			}
		}
		select {
		case <-s.dispatchStop:
			return
		default:
		}
	}
}
