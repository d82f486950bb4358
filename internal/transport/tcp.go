package transport

import (
	"fmt"
	"net"
	"time"

	"github.com/Ultimaker/OpenTelepathy/internal/ports"
	"github.com/Ultimaker/OpenTelepathy/internal/xerr"
)

// TCP is a Transport binding over a stream socket, grounded on the original
// TransportTCP (a thin socket wrapper) but adding the shared frame
// assembler so callers never see partial reads.
type TCP struct {
	addr string
	conn net.Conn
	asm  assembler
	tx   uint16
}

// NewTCP builds a TCP transport for the given "host:port" address. It does
// not connect until Open is called.
func NewTCP(addr string) *TCP {
	return &TCP{addr: addr}
}

func (t *TCP) Open() error {
	conn, err := net.Dial("tcp", t.addr)
	if err != nil {
		return xerr.New(xerr.Transport, "tcp.Open", err)
	}
	t.conn = conn
	return nil
}

func (t *TCP) Close() error {
	if t.conn == nil {
		return nil
	}
	return t.conn.Close()
}

func (t *TCP) Send(packet []byte) error {
	t.tx++
	if _, err := t.conn.Write(encodeFrame(t.tx, packet)); err != nil {
		return xerr.New(xerr.Transport, "tcp.Send", err)
	}
	return nil
}

func (t *TCP) Receive(timeout time.Duration) ([]byte, error) {
	buf := make([]byte, 4096)
	for {
		if payload, ok, err := t.asm.next(); err != nil {
			return nil, xerr.New(xerr.Transport, "tcp.Receive", err)
		} else if ok {
			return payload, nil
		}

		if timeout > 0 {
			t.conn.SetReadDeadline(time.Now().Add(timeout))
		} else {
			t.conn.SetReadDeadline(time.Time{})
		}

		n, err := t.conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return nil, xerr.New(xerr.Transport, "tcp.Receive", fmt.Errorf("no packet within %s: %w", timeout, ports.ErrTimeout))
			}
			return nil, xerr.New(xerr.Transport, "tcp.Receive", err)
		}
		t.asm.feed(buf[:n])
	}
}
