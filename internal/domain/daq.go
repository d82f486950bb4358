package domain

import "time"

// DaqEntry names one signal to be sampled on a DAQ list, paired with the
// resolved symbol so the engine can compute ODT packing without a further
// symbol-table lookup.
type DaqEntry struct {
	Path    string
	Symbol  *Symbol
	ListIdx int
}

// DaqList is one event-channel's worth of entries (spec.md §3).
type DaqList struct {
	ID          uint16
	RateDivisor uint8 // event channel
	Entries     []DaqEntry
	Timestamped bool
}

// DaqConfig is the caller-supplied acquisition configuration.
type DaqConfig struct {
	Lists []DaqList
}

// Sample is one time-aligned, fully-reassembled set of decoded values from
// a single DAQ list (spec.md §3).
type Sample struct {
	ListIndex int
	Timestamp time.Time
	Precise   bool // false if the host applied the timestamp on reception
	Values    []Value
}
