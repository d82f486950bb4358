// Package telepathy is the public façade over the XCP protocol client, the
// symbol resolvers, the variable layer and the DAQ engine: one Session per
// target connection, built either from a YAML config file or an in-memory
// Config, and configured through functional Options the way
// pkg/aegisflow.EdgeRuntime is built from EdgeRuntimeOption values.
package telepathy

import (
	"github.com/Ultimaker/OpenTelepathy/internal/app/config"
	"github.com/Ultimaker/OpenTelepathy/internal/daq"
	"github.com/Ultimaker/OpenTelepathy/internal/domain"
	"github.com/Ultimaker/OpenTelepathy/internal/ports"
)

// Sample is a fully-reassembled, time-aligned DAQ measurement.
type Sample = domain.Sample

// Value is a decoded scalar read from or written to the target.
type Value = domain.Value

// DaqConfig describes the acquisition lists a Session has armed.
type DaqConfig = domain.DaqConfig

// ConnState is the session's XCP connection lifecycle state.
type ConnState = domain.ConnState

// Field is a structured log/metric field passed to an Observability sink.
type Field = ports.Field

// Consumer receives finalised DAQ sample batches.
type Consumer = ports.Consumer

// Observability is the logging/metrics sink a Session reports through.
type Observability = ports.Observability

// OverflowPolicy selects what happens when the DAQ sample queue is full.
type OverflowPolicy = daq.OverflowPolicy

// Overflow policies for the DAQ sample queue, re-exported from internal/daq
// so callers never need to import an internal package.
const (
	DropOldest = daq.DropOldest
	Block      = daq.Block
)

// Config is a complete session description, loaded from YAML by Open or
// built programmatically and passed to OpenWithConfig.
type Config = config.Config

// IntValue, UintValue and FloatValue build a scalar Value for Write, re-
// exported so callers never need to import internal/domain directly.
func IntValue(v int64) Value     { return domain.IntValue(v) }
func UintValue(v uint64) Value   { return domain.UintValue(v) }
func FloatValue(v float64) Value { return domain.FloatValue(v) }

// LoadConfig reads and validates a YAML session configuration without
// opening a connection, useful for a "validate" CLI subcommand.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}
