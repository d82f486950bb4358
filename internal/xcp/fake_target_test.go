package xcp

import (
	"fmt"
	"sync"
	"time"

	"github.com/Ultimaker/OpenTelepathy/internal/ports"
)

// fakeTransport is an in-process ports.Transport whose Send is intercepted
// by a target function that synthesises responses, letting tests drive the
// Client without a real socket or serial port.
type fakeTransport struct {
	mu       sync.Mutex
	inbox    [][]byte
	outgoing chan []byte
	target   func(cmd []byte) [][]byte
	closed   bool
}

func newFakeTransport(target func(cmd []byte) [][]byte) *fakeTransport {
	return &fakeTransport{
		outgoing: make(chan []byte, 64),
		target:   target,
	}
}

func (f *fakeTransport) Open() error  { return nil }
func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Send(packet []byte) error {
	cp := append([]byte(nil), packet...)
	for _, resp := range f.target(cp) {
		f.outgoing <- resp
	}
	return nil
}

func (f *fakeTransport) Receive(timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		timeout = time.Second
	}
	select {
	case pkt := <-f.outgoing:
		return pkt, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("fake transport: no packet within %s: %w", timeout, ports.ErrTimeout)
	}
}
