package transport

import (
	"fmt"
	"time"

	goserial "github.com/cesanta/go-serial/serial"

	"github.com/Ultimaker/OpenTelepathy/internal/ports"
	"github.com/Ultimaker/OpenTelepathy/internal/xerr"
)

// Serial is a Transport binding over an RS-232/USB-CDC link. The original
// TransportSerial was a bare byte pipe with framing folded into the
// protocol client; here the same length-prefixed framing used by TCP is
// shared through assembler so the Protocol Client is binding-agnostic.
type Serial struct {
	portName string
	baudRate uint
	port     goserial.Serial
	asm      assembler
	tx       uint16
}

// NewSerial builds a Serial transport for portName at baudRate. A baudRate
// of 0 defaults to 115200, matching common XCP-over-serial bootloaders.
func NewSerial(portName string, baudRate uint) *Serial {
	return &Serial{portName: portName, baudRate: baudRate}
}

func (s *Serial) Open() error {
	baud := s.baudRate
	if baud == 0 {
		baud = 115200
	}
	opts := goserial.OpenOptions{
		PortName:              s.portName,
		BaudRate:              baud,
		DataBits:              8,
		ParityMode:            goserial.PARITY_NONE,
		StopBits:              1,
		InterCharacterTimeout: 100,
		MinimumReadSize:       0,
	}
	p, err := goserial.Open(opts)
	if err != nil {
		return xerr.New(xerr.Transport, "serial.Open", err)
	}
	s.port = p
	return nil
}

func (s *Serial) Close() error {
	if s.port == nil {
		return nil
	}
	return s.port.Close()
}

func (s *Serial) Send(packet []byte) error {
	s.tx++
	if _, err := s.port.Write(encodeFrame(s.tx, packet)); err != nil {
		return xerr.New(xerr.Transport, "serial.Send", err)
	}
	return nil
}

// Receive polls the port until a full frame is assembled or timeout
// elapses. The underlying driver only exposes an inter-character timeout
// rather than a per-call deadline, so a zero timeout here means "keep
// polling forever".
func (s *Serial) Receive(timeout time.Duration) ([]byte, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	buf := make([]byte, 4096)
	for {
		if payload, ok, err := s.asm.next(); err != nil {
			return nil, xerr.New(xerr.Transport, "serial.Receive", err)
		} else if ok {
			return payload, nil
		}

		if !deadline.IsZero() && time.Now().After(deadline) {
			return nil, xerr.New(xerr.Transport, "serial.Receive", fmt.Errorf("no packet within %s: %w", timeout, ports.ErrTimeout))
		}

		n, err := s.port.Read(buf)
		if err != nil {
			return nil, xerr.New(xerr.Transport, "serial.Receive", err)
		}
		if n > 0 {
			s.asm.feed(buf[:n])
		}
	}
}
