package ports

import (
	"errors"
	"time"
)

// ErrTimeout is wrapped into the error a Transport returns from Receive
// when no packet arrived within the requested timeout. Callers that need
// to distinguish "nothing arrived yet" from a hard link failure should test
// with errors.Is(err, ports.ErrTimeout).
var ErrTimeout = errors.New("transport: receive timed out")

// Transport exchanges framed packets with a target over an unreliable byte
// link (spec.md §4.1). Sends are ordered; receives are ordered with respect
// to sends only insofar as the target preserves order.
type Transport interface {
	Open() error
	Close() error
	Send(packet []byte) error
	// Receive blocks for up to timeout for the next packet. A zero timeout
	// means block indefinitely.
	Receive(timeout time.Duration) ([]byte, error)
}
