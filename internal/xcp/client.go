package xcp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Ultimaker/OpenTelepathy/internal/domain"
	"github.com/Ultimaker/OpenTelepathy/internal/ports"
	"github.com/Ultimaker/OpenTelepathy/internal/xerr"
)

// DaqSink receives raw DAQ packets as the receiver goroutine classifies
// them. internal/daq implements this to feed its per-list reassembler; a Client
// with no sink attached silently drops DAQ traffic.
type DaqSink interface {
	IngestDAQ(pid byte, payload []byte, arrival time.Time)
}

// Option configures a Client at construction time, mirroring the
// functional-options pattern used throughout this codebase's runtime
// builders.
type Option func(*Client)

// WithObservability attaches a sink for structured logs and metrics.
func WithObservability(obs ports.Observability) Option {
	return func(c *Client) { c.obs = obs }
}

// WithDaqSink attaches the DAQ engine that should receive DAQ packets.
func WithDaqSink(sink DaqSink) Option {
	return func(c *Client) { c.daqSink = sink }
}

// SetDaqSink attaches sink after construction, for the common case where the
// DAQ engine itself is constructed from a reference to this Client (the two
// cannot both come first). Must be called before Connect starts the
// receiver goroutine; safe to call again to swap the sink while
// disconnected.
func (c *Client) SetDaqSink(sink DaqSink) {
	c.daqSink = sink
}

// WithResponseTimeout overrides how long a command waits for RES/ERR before
// giving up. The default is 500ms.
func WithResponseTimeout(d time.Duration) Option {
	return func(c *Client) { c.respTimeout = d }
}

// Client is the Protocol Client (spec.md §4.2): connection state, the
// command/response rendezvous, and dispatch of asynchronous packets. Only
// one command may be outstanding at a time, matching the wire protocol's
// own single-command-in-flight rule.
type Client struct {
	tr  ports.Transport
	obs ports.Observability

	cmdMu       sync.Mutex
	respTimeout time.Duration
	pending     chan frameResult

	stateMu sync.RWMutex
	state   domain.ConnState
	info    domain.ConnectInfo

	daqSink DaqSink

	stop chan struct{}
	done chan struct{}
}

type frameResult struct {
	payload []byte
	err     error
}

// NewClient wraps tr, ready to Connect. The receiver goroutine is not
// started until Connect opens the transport.
func NewClient(tr ports.Transport, opts ...Option) *Client {
	c := &Client{
		tr:          tr,
		respTimeout: 500 * time.Millisecond,
		pending:     make(chan frameResult, 1),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) logInfo(msg string, fields ...ports.Field) {
	if c.obs != nil {
		c.obs.LogInfo(msg, fields...)
	}
}

func (c *Client) logError(msg string, err error, fields ...ports.Field) {
	if c.obs != nil {
		c.obs.LogError(msg, err, fields...)
	}
}

func (c *Client) incCounter(name string, v float64) {
	if c.obs != nil {
		c.obs.IncCounter(name, v)
	}
}

// State reports the current connection state.
func (c *Client) State() domain.ConnState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// Info reports the parameters negotiated at CONNECT. Zero value before a
// successful Connect.
func (c *Client) Info() domain.ConnectInfo {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.info
}

func (c *Client) setState(s domain.ConnState) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
}

// byteOrder returns the binary.ByteOrder negotiated at CONNECT. Before
// CONNECT there is nothing to negotiate; little-endian is used since the
// only command sent before a byte order is known (CONNECT itself) carries
// no multi-byte host-encoded fields.
func (c *Client) byteOrder() binary.ByteOrder {
	if c.Info().ByteOrder == domain.BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// Connect opens the transport, starts the receiver goroutine, and performs
// the XCP CONNECT handshake (spec.md §4.2, DISCONNECTED → CONNECTED).
func (c *Client) Connect(mode byte) (domain.ConnectInfo, error) {
	if err := c.tr.Open(); err != nil {
		return domain.ConnectInfo{}, err
	}
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go c.recvLoop()

	resp, err := c.cmd("Connect", cmdConnect, []byte{mode})
	if err != nil {
		c.shutdownReceiver()
		c.tr.Close()
		return domain.ConnectInfo{}, err
	}
	if len(resp) < 7 {
		c.shutdownReceiver()
		c.tr.Close()
		return domain.ConnectInfo{}, xerr.New(xerr.Protocol, "Connect", fmt.Errorf("short CONNECT response: %d bytes", len(resp)))
	}

	comm := resp[1]
	info := domain.ConnectInfo{
		Resources:       domain.Resources{DAQ: resp[0]&resourceDAQ != 0, Calibration: resp[0]&resourceCAL != 0},
		MaxCTO:          resp[2],
		ProtocolVersion: resp[5],
		TransportLayer:  resp[6],
	}
	if comm&commModeByteOrderMSB != 0 {
		info.ByteOrder = domain.BigEndian
		info.MaxDTO = binary.BigEndian.Uint16(resp[3:5])
	} else {
		info.ByteOrder = domain.LittleEndian
		info.MaxDTO = binary.LittleEndian.Uint16(resp[3:5])
	}

	if info.Resources.DAQ && int(info.MaxCTO) < minCTOForDAQ {
		c.shutdownReceiver()
		c.tr.Close()
		return domain.ConnectInfo{}, xerr.New(xerr.State, "Connect",
			fmt.Errorf("target advertises DAQ but MAX_CTO=%d is too small to allocate a DAQ list (need >= %d)", info.MaxCTO, minCTOForDAQ))
	}

	c.stateMu.Lock()
	c.info = info
	c.state = domain.Connected
	c.stateMu.Unlock()

	c.logInfo("connected", ports.Field{Key: "max_cto", Value: info.MaxCTO}, ports.Field{Key: "max_dto", Value: info.MaxDTO})
	return info, nil
}

// minCTOForDAQ is the length of the longest DAQ allocation commands,
// ALLOC_ODT_ENTRY and SET_DAQ_PTR (command byte plus five parameter
// bytes); below this a target that claims DAQ support cannot actually be
// configured (spec.md §9, open question b). WRITE_DAQ, SET_DAQ_LIST_MODE
// and WRITE_DAQ_MULTIPLE are longer and are not covered by this check.
const minCTOForDAQ = 6

// Disconnect issues DISCONNECT and tears down the receiver goroutine and
// transport regardless of whether the command succeeds.
func (c *Client) Disconnect() error {
	if c.State() == domain.Disconnected {
		return nil
	}
	_, cmdErr := c.cmd("Disconnect", cmdDisconnect, nil)
	c.shutdownReceiver()
	closeErr := c.tr.Close()
	c.setState(domain.Disconnected)
	if cmdErr != nil {
		return cmdErr
	}
	return closeErr
}

// MarkDaqConfigured transitions CONNECTED (or re-configures from
// DAQ-CONFIGURED) to DAQ-CONFIGURED, called by the DAQ engine once its
// ALLOC_DAQ/ALLOC_ODT/ALLOC_ODT_ENTRY/WRITE_DAQ_MULTIPLE sequence has
// succeeded.
func (c *Client) MarkDaqConfigured() error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.state != domain.Connected && c.state != domain.DaqConfigured {
		return xerr.New(xerr.State, "MarkDaqConfigured", fmt.Errorf("cannot configure DAQ from state %s", c.state))
	}
	c.state = domain.DaqConfigured
	return nil
}

// MarkDaqRunning transitions DAQ-CONFIGURED to DAQ-RUNNING.
func (c *Client) MarkDaqRunning() error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.state != domain.DaqConfigured {
		return xerr.New(xerr.State, "MarkDaqRunning", fmt.Errorf("cannot start DAQ from state %s", c.state))
	}
	c.state = domain.DaqRunning
	return nil
}

// MarkDaqStopped transitions DAQ-RUNNING back to DAQ-CONFIGURED.
func (c *Client) MarkDaqStopped() error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.state != domain.DaqRunning {
		return xerr.New(xerr.State, "MarkDaqStopped", fmt.Errorf("cannot stop DAQ from state %s", c.state))
	}
	c.state = domain.DaqConfigured
	return nil
}

func (c *Client) shutdownReceiver() {
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
	<-c.done
}

// GetStatus issues GET_STATUS and returns the raw status/state bytes
// (spec.md §6); interpretation is left to callers that need it.
func (c *Client) GetStatus() ([]byte, error) {
	return c.cmd("GetStatus", cmdGetStatus, nil)
}

// Synch issues SYNCH, used to resynchronise the command sequence after a
// suspected loss of framing.
func (c *Client) Synch() error {
	_, err := c.cmd("Synch", cmdSynch, nil)
	return err
}

// GetCommModeInfo issues GET_COMM_MODE_INFO.
func (c *Client) GetCommModeInfo() ([]byte, error) {
	return c.cmd("GetCommModeInfo", cmdGetCommMode, nil)
}

// cmd sends a single command and waits for its RES/ERR, enforcing that only
// one command is outstanding at a time.
func (c *Client) cmd(op string, pid byte, params []byte) ([]byte, error) {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	start := time.Now()
	packet := make([]byte, 1+len(params))
	packet[0] = pid
	copy(packet[1:], params)

	if err := c.tr.Send(packet); err != nil {
		return nil, xerr.New(xerr.Transport, op, err)
	}

	select {
	case res := <-c.pending:
		if res.err != nil {
			if xerr.Is(res.err, xerr.Protocol) {
				c.incCounter("telepathy_protocol_errors_total", 1)
			}
			return nil, res.err
		}
		if c.obs != nil {
			c.obs.ObserveLatency("telepathy_command_latency_seconds", time.Since(start).Seconds())
		}
		return res.payload, nil
	case <-time.After(c.respTimeout):
		c.incCounter("telepathy_protocol_errors_total", 1)
		return nil, xerr.New(xerr.Protocol, op, fmt.Errorf("no response within %s", c.respTimeout))
	case <-c.stop:
		return nil, xerr.New(xerr.State, op, fmt.Errorf("disconnected while waiting for response"))
	}
}

// recvLoop classifies every packet the transport delivers: RES/ERR go to
// the waiting command, EV/SERV are logged, everything else is DAQ traffic
// handed to daqSink (spec.md §4.2, §4.6).
func (c *Client) recvLoop() {
	defer close(c.done)
	for {
		select {
		case <-c.stop:
			return
		default:
		}

		frame, err := c.tr.Receive(200 * time.Millisecond)
		if err != nil {
			if errors.Is(err, ports.ErrTimeout) {
				continue
			}
			c.deliverFatal(err)
			return
		}
		if len(frame) == 0 {
			continue
		}

		switch frame[0] {
		case pidRes:
			c.deliver(frameResult{payload: frame[1:]})
		case pidErr:
			code := byte(0)
			if len(frame) > 1 {
				code = frame[1]
			}
			c.deliver(frameResult{err: xerr.NewProtocol("cmd", code)})
		case pidEv:
			c.logInfo("event packet", ports.Field{Key: "payload", Value: frame[1:]})
		case pidServ:
			c.logInfo("service request", ports.Field{Key: "payload", Value: frame[1:]})
		default:
			if c.daqSink != nil {
				c.daqSink.IngestDAQ(frame[0], frame[1:], time.Now())
			}
		}
	}
}

func (c *Client) deliver(res frameResult) {
	select {
	case c.pending <- res:
	default:
		// No command is waiting; drop. This only happens for a packet that
		// arrived after its command's timeout already fired.
	}
}

func (c *Client) deliverFatal(err error) {
	c.logError("transport failed, disconnecting", err)
	c.incCounter("telepathy_transport_disconnects_total", 1)
	c.setState(domain.Disconnected)
	c.deliver(frameResult{err: xerr.New(xerr.Transport, "recvLoop", err)})
}
