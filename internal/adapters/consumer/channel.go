// Package consumer implements ports.Consumer over three delivery styles a
// caller of the public facade might want: a channel to range over, a plain
// callback function, and a TimescaleDB batch writer. Channel and callback
// are grounded on pkg/aegisflow/sink_adapters.go's NewChannelSink/
// NewCallbackSink; the TimescaleDB adapter is grounded on
// internal/adapters/sink/timescale_sink.go.
package consumer

import (
	"errors"
	"sync"

	"github.com/Ultimaker/OpenTelepathy/internal/domain"
)

// ErrClosed is returned when a ChannelConsumer is delivered to after Close.
var ErrClosed = errors.New("consumer: closed")

// ChannelConsumer forwards each delivered batch onto a channel the caller
// ranges over.
type ChannelConsumer struct {
	name   string
	ch     chan []domain.Sample
	closed chan struct{}
	once   sync.Once
}

// NewChannelConsumer returns the consumer, the read-only channel it feeds,
// and a close function the caller must invoke during shutdown.
func NewChannelConsumer(name string, buffer int) (*ChannelConsumer, <-chan []domain.Sample, func()) {
	if name == "" {
		name = "channel"
	}
	if buffer < 0 {
		buffer = 0
	}
	c := &ChannelConsumer{
		name:   name,
		ch:     make(chan []domain.Sample, buffer),
		closed: make(chan struct{}),
	}
	return c, c.ch, c.close
}

// Deliver implements ports.Consumer.
func (c *ChannelConsumer) Deliver(samples []domain.Sample) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	if len(samples) == 0 {
		return nil
	}
	batch := make([]domain.Sample, len(samples))
	copy(batch, samples)

	select {
	case <-c.closed:
		return ErrClosed
	case c.ch <- batch:
		return nil
	}
}

// Name identifies this consumer for logging.
func (c *ChannelConsumer) Name() string { return c.name }

func (c *ChannelConsumer) close() {
	c.once.Do(func() {
		close(c.closed)
		close(c.ch)
	})
}
