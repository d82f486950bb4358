package telepathy

import (
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/Ultimaker/OpenTelepathy/internal/app/config"
	"github.com/Ultimaker/OpenTelepathy/internal/daq"
	"github.com/Ultimaker/OpenTelepathy/internal/domain"
	"github.com/Ultimaker/OpenTelepathy/internal/ports"
	"github.com/Ultimaker/OpenTelepathy/internal/transport"
	"github.com/Ultimaker/OpenTelepathy/internal/xcp"
)

// silentObs is a no-op ports.Observability for tests that need a Session
// wired up without pulling in the Prometheus-backed sink.
type silentObs struct{}

func (silentObs) LogInfo(msg string, fields ...ports.Field)             {}
func (silentObs) LogError(msg string, err error, fields ...ports.Field) {}
func (silentObs) IncCounter(name string, v float64)                    {}
func (silentObs) ObserveLatency(name string, seconds float64)          {}
func (silentObs) SetGauge(name string, v float64)                      {}

func TestBuildTransportSelectsByKind(t *testing.T) {
	if _, err := buildTransport(config.TransportConfig{Kind: "tcp", Address: "127.0.0.1:5555"}); err != nil {
		t.Fatalf("tcp: %v", err)
	}
	if _, err := buildTransport(config.TransportConfig{Kind: "serial", Port: "/dev/ttyUSB0"}); err != nil {
		t.Fatalf("serial: %v", err)
	}
	if _, err := buildTransport(config.TransportConfig{Kind: "carrier-pigeon"}); err == nil {
		t.Fatal("expected an error for an unknown transport kind")
	}

	tr, err := buildTransport(config.TransportConfig{Kind: "tcp", Address: "127.0.0.1:5555"})
	if err != nil {
		t.Fatalf("tcp: %v", err)
	}
	if _, ok := tr.(*transport.TCP); !ok {
		t.Fatalf("expected *transport.TCP, got %T", tr)
	}
}

func TestLoadSymbolTableRequiresASource(t *testing.T) {
	if _, err := loadSymbolTable(nil, config.SymbolsConfig{}); err == nil {
		t.Fatal("expected an error when neither image_path nor model_map_root is set")
	}
}

func TestLoadSymbolTableModelMapRootNeedsImage(t *testing.T) {
	_, err := loadSymbolTable(nil, config.SymbolsConfig{ModelMapRoot: "rtwCAPI_ModelMappingInfo"})
	if err == nil {
		t.Fatal("expected an error when model_map_root is set without image_path")
	}
}

func TestStartMetricsSkipsWhenAddrEmpty(t *testing.T) {
	s := &Session{}
	s.startMetrics("")
	if s.metricSrv != nil {
		t.Fatal("expected no metrics server to be started for an empty address")
	}
}

type recordingConsumer struct {
	mu      sync.Mutex
	batches [][]domain.Sample
}

func (r *recordingConsumer) Deliver(samples []domain.Sample) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, samples)
	return nil
}

func (r *recordingConsumer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

// TestSessionDispatchLoopDeliversToConsumers exercises the dispatch loop in
// isolation: samples pushed onto the engine's queue must reach every
// registered consumer, and Disconnect's shutdown sequence must terminate
// the loop cleanly.
func TestSessionDispatchLoopDeliversToConsumers(t *testing.T) {
	engine := daq.New(nil, 0, 10, DropOldest, nil)
	rc := &recordingConsumer{}
	s := &Session{
		engine:       engine,
		consumers:    []Consumer{rc},
		dispatchStop: make(chan struct{}),
		dispatchDone: make(chan struct{}),
	}
	go s.dispatchLoop()

	engine.Queue().Push(domain.Sample{ListIndex: 0, Values: []domain.Value{domain.IntValue(1)}})

	deadline := time.Now().Add(time.Second)
	for rc.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for the dispatch loop to deliver a batch")
		}
		time.Sleep(time.Millisecond)
	}

	close(s.dispatchStop)
	engine.Queue().Close()

	select {
	case <-s.dispatchDone:
	case <-time.After(time.Second):
		t.Fatal("dispatch loop did not exit after the queue was closed")
	}
}

// wireOrderTransport is a minimal ports.Transport that answers CONNECT with
// a canned response and every other command with a bare positive response,
// recording each command's leading opcode byte in arrival order so a test
// can assert the relative order of two distinct commands over the wire.
// Grounded on internal/xcp's own fakeTransport: responses queue on a
// channel rather than being computed synchronously from the last-seen
// command, since the Client's receiver goroutine polls Receive
// continuously and must not be handed a stale or duplicate response.
type wireOrderTransport struct {
	mu       sync.Mutex
	order    []byte
	outgoing chan []byte
}

func newWireOrderTransport() *wireOrderTransport {
	return &wireOrderTransport{outgoing: make(chan []byte, 16)}
}

func (w *wireOrderTransport) Open() error  { return nil }
func (w *wireOrderTransport) Close() error { return nil }

func (w *wireOrderTransport) Send(packet []byte) error {
	w.mu.Lock()
	w.order = append(w.order, packet[0])
	w.mu.Unlock()

	const cmdConnect = 0xFF
	const pidRes = 0xFF
	if packet[0] == cmdConnect {
		resp := make([]byte, 8)
		resp[0] = pidRes
		resp[1] = 0x00 // no resources
		resp[2] = 0    // little-endian, standard address granularity
		resp[3] = 8    // MAX_CTO
		binary.LittleEndian.PutUint16(resp[4:6], 8)
		resp[6] = 0x01
		resp[7] = 0x01
		w.outgoing <- resp
		return nil
	}
	w.outgoing <- []byte{pidRes}
	return nil
}

func (w *wireOrderTransport) Receive(timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		timeout = time.Second
	}
	select {
	case pkt := <-w.outgoing:
		return pkt, nil
	case <-time.After(timeout):
		return nil, ports.ErrTimeout
	}
}

// TestDisconnectStopsDaqBeforeDisconnecting covers spec.md §4.6: closing a
// session with DAQ still running must issue START_STOP_SYNCH(StopAll)
// before DISCONNECT, not after, so the target is never left acquiring past
// the point the session considers itself closed.
func TestDisconnectStopsDaqBeforeDisconnecting(t *testing.T) {
	const cmdStartStopSynch = 0xDD
	const cmdDisconnect = 0xFE

	tr := newWireOrderTransport()
	client := xcp.NewClient(tr, xcp.WithResponseTimeout(time.Second))
	if _, err := client.Connect(0); err != nil {
		t.Fatalf("connect: %v", err)
	}

	engine := daq.New(client, 0, 10, DropOldest, silentObs{})
	s := &Session{
		obs:          silentObs{},
		client:       client,
		engine:       engine,
		dispatchStop: make(chan struct{}),
		dispatchDone: make(chan struct{}),
	}
	go s.dispatchLoop()

	if err := s.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()
	var synchIdx, disconnectIdx = -1, -1
	for i, op := range tr.order {
		switch op {
		case cmdStartStopSynch:
			if synchIdx == -1 {
				synchIdx = i
			}
		case cmdDisconnect:
			if disconnectIdx == -1 {
				disconnectIdx = i
			}
		}
	}
	if synchIdx == -1 {
		t.Fatal("expected a START_STOP_SYNCH command on the wire")
	}
	if disconnectIdx == -1 {
		t.Fatal("expected a DISCONNECT command on the wire")
	}
	if synchIdx > disconnectIdx {
		t.Fatalf("expected START_STOP_SYNCH before DISCONNECT, got wire order %v", tr.order)
	}
}
