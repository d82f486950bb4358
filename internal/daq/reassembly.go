package daq

import (
	"sync"
	"time"

	"github.com/Ultimaker/OpenTelepathy/internal/domain"
	"github.com/Ultimaker/OpenTelepathy/internal/variable"
)

// tickType describes a DAQ list's target-timestamp field: an unsigned
// 32-bit tick count in the connection's negotiated byte order, per
// spec.md §6 ("[byte order] applies to all multi-byte fields in commands,
// responses, and DAQ payloads").
func tickType(order domain.ByteOrder) *domain.Type {
	return &domain.Type{Kind: domain.KindUnsignedInt, Width: 4, Order: order}
}

// reassembler joins the ODTs of one DAQ list back into complete samples.
// Only ODT 0 carries the list's target timestamp (when the list is
// timestamped). It keeps a single open sample window: ODT 0 opens a new
// window and abandons any window still incomplete, counting that window's
// missing ODTs as lost; every other ODT fills its slot of the open window.
// An ODT for a slot already filled, or arriving while no window is open, is
// counted as lost. Non-zero ODTs carry nothing that ties them to a window,
// so an ODT of an abandoned window that arrives after the next ODT 0 fills
// that slot of the new window.
type reassembler struct {
	listIdx     int
	entries     []domain.DaqEntry
	odtEntries  [][]int // odtEntries[odt] = indices into entries
	timestamped bool
	order       domain.ByteOrder

	mu      sync.Mutex
	current *pendingSample
}

type pendingSample struct {
	hostTime time.Time
	precise  bool
	received []bool
	values   []domain.Value
}

func newReassembler(listIdx int, entries []domain.DaqEntry, odtEntries [][]int, timestamped bool, order domain.ByteOrder) *reassembler {
	return &reassembler{listIdx: listIdx, entries: entries, odtEntries: odtEntries, timestamped: timestamped, order: order}
}

// ingest applies one ODT's payload. It returns a completed sample once every
// ODT of the current window has arrived, and the number of ODTs the
// completed (or abandoned) window lost.
func (r *reassembler) ingest(odtIdx int, payload []byte, arrival time.Time) (*domain.Sample, int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if odtIdx < 0 || odtIdx >= len(r.odtEntries) {
		return nil, 1
	}

	lost := 0
	if odtIdx == 0 {
		if r.current != nil {
			lost = countMissing(r.current.received)
		}
		body := payload
		hostTime := arrival
		precise := false
		if r.timestamped {
			if len(payload) < 4 {
				r.current = nil
				return nil, lost + 1
			}
			// The target's timestamp is a free-running tick counter of
			// target-defined units (spec.md §4.6, GET_DAQ_CLOCK); there is
			// no negotiated conversion to wall-clock time, so it is carried
			// verbatim as a duration since the Unix epoch rather than
			// invented a tick period. The tick count is a multi-byte DAQ
			// payload field like any other, so it goes through the same
			// order-aware decode entry values use rather than a hardcoded
			// byte order.
			tv, err := variable.Decode(payload[:4], tickType(r.order))
			if err != nil {
				r.current = nil
				return nil, lost + 1
			}
			ticks := tv.Uint
			hostTime = time.Unix(0, int64(ticks))
			precise = true
			body = payload[4:]
		}
		r.current = &pendingSample{
			hostTime: hostTime,
			precise:  precise,
			received: make([]bool, len(r.odtEntries)),
			values:   make([]domain.Value, len(r.entries)),
		}
		if !r.decodeODT(0, body) {
			r.current = nil
			return nil, lost + 1
		}
		r.current.received[0] = true
	} else {
		if r.current == nil || r.current.received[odtIdx] {
			return nil, lost + 1
		}
		if !r.decodeODT(odtIdx, payload) {
			return nil, lost
		}
		r.current.received[odtIdx] = true
	}

	if allReceived(r.current.received) {
		sample := &domain.Sample{
			ListIndex: r.listIdx,
			Timestamp: r.current.hostTime,
			Precise:   r.current.precise,
			Values:    r.current.values,
		}
		r.current = nil
		return sample, lost
	}
	return nil, lost
}

func (r *reassembler) decodeODT(odtIdx int, body []byte) bool {
	offset := 0
	for _, idx := range r.odtEntries[odtIdx] {
		e := r.entries[idx]
		size := e.Symbol.Type.Size()
		if offset+size > len(body) {
			return false
		}
		v, err := variable.Decode(body[offset:offset+size], e.Symbol.Type)
		if err != nil {
			return false
		}
		r.current.values[idx] = v
		offset += size
	}
	return true
}

func allReceived(received []bool) bool {
	for _, b := range received {
		if !b {
			return false
		}
	}
	return true
}

func countMissing(received []bool) int {
	n := 0
	for _, b := range received {
		if !b {
			n++
		}
	}
	return n
}
