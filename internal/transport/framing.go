// Package transport implements Component A: the two concrete wire bindings
// (TCP and serial) that carry XCP packets to and from a target. Both
// bindings share the same length-prefixed frame layout and the same
// resynchronisation policy (spec.md §4.1, §6): a packet is a 16-bit
// little-endian length, a 16-bit little-endian host-assigned counter, then
// that many bytes of payload (PID followed by parameters). A transport never
// interprets the payload; that is the Protocol Client's job.
package transport

import (
	"encoding/binary"
	"errors"
)

const (
	headerSize = 4
	// maxFrameSize bounds how large a declared length may plausibly be.
	// Anything larger almost certainly means we are not looking at a real
	// header and should resynchronise instead of blocking forever waiting
	// for bytes that will never arrive.
	maxFrameSize = 4096
	// maxResyncFailures is the "three consecutive failures" threshold from
	// spec.md §4.1 at which a transport gives up recovering a boundary and
	// reports itself disconnected.
	maxResyncFailures = 3
)

// ErrResyncExhausted is returned once resynchronisation has discarded
// maxResyncFailures bytes in a row without finding a plausible header.
// Callers should treat this the same as a lost connection.
var ErrResyncExhausted = errors.New("transport: lost frame synchronisation")

func encodeFrame(counter uint16, payload []byte) []byte {
	frame := make([]byte, headerSize+len(payload))
	binary.LittleEndian.PutUint16(frame[0:2], uint16(len(payload)))
	binary.LittleEndian.PutUint16(frame[2:4], counter)
	copy(frame[headerSize:], payload)
	return frame
}

// assembler turns a raw byte stream into discrete packet payloads. It is not
// safe for concurrent use; each binding owns exactly one, fed from its own
// read loop.
type assembler struct {
	buf      []byte
	failures int
}

func (a *assembler) feed(data []byte) {
	a.buf = append(a.buf, data...)
}

// next returns the next complete payload, if one is buffered. ok is false
// when more bytes are needed. err is non-nil only once resynchronisation has
// been exhausted.
func (a *assembler) next() (payload []byte, ok bool, err error) {
	for {
		if len(a.buf) < headerSize {
			return nil, false, nil
		}
		length := binary.LittleEndian.Uint16(a.buf[0:2])
		if length > maxFrameSize {
			a.dropByte()
			if a.failures >= maxResyncFailures {
				return nil, false, ErrResyncExhausted
			}
			continue
		}
		total := headerSize + int(length)
		if len(a.buf) < total {
			return nil, false, nil
		}
		payload = make([]byte, length)
		copy(payload, a.buf[headerSize:total])
		a.buf = a.buf[total:]
		a.failures = 0
		return payload, true, nil
	}
}

func (a *assembler) dropByte() {
	a.failures++
	if len(a.buf) > 0 {
		a.buf = a.buf[1:]
	}
}
