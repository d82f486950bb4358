package consumer

import (
	"fmt"

	"github.com/Ultimaker/OpenTelepathy/internal/domain"
)

// SampleBatchHandler is a caller-supplied function invoked with each
// delivered batch of samples.
type SampleBatchHandler func([]domain.Sample) error

// CallbackConsumer adapts a SampleBatchHandler into a ports.Consumer,
// letting callers plug a plain function without defining a type.
type CallbackConsumer struct {
	name string
	fn   SampleBatchHandler
}

// NewCallbackConsumer wraps fn as a named ports.Consumer.
func NewCallbackConsumer(name string, fn SampleBatchHandler) *CallbackConsumer {
	if name == "" {
		name = "callback"
	}
	return &CallbackConsumer{name: name, fn: fn}
}

// Deliver implements ports.Consumer.
func (c *CallbackConsumer) Deliver(samples []domain.Sample) error {
	if c.fn == nil {
		return fmt.Errorf("callback consumer %q: nil handler", c.name)
	}
	if len(samples) == 0 {
		return nil
	}
	return c.fn(samples)
}

// Name identifies this consumer for logging.
func (c *CallbackConsumer) Name() string { return c.name }
