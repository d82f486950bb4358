package xcp

import (
	"testing"
	"time"
)

// TestWriteDaqMultipleEncodesEntriesConsecutively covers spec.md §6's
// WRITE_DAQ_MULTIPLE: a count byte followed by each entry's
// bitOffset/size/ext/address quadruple back to back, address in the
// connection's negotiated byte order.
func TestWriteDaqMultipleEncodesEntriesConsecutively(t *testing.T) {
	var sent []byte
	tr := newFakeTransport(func(cmd []byte) [][]byte {
		switch cmd[0] {
		case cmdConnect:
			return [][]byte{connectResponse(30, 64, resourceDAQ)}
		case cmdWriteDAQMulti:
			sent = append([]byte(nil), cmd...)
		}
		return [][]byte{{pidRes}}
	})

	c := NewClient(tr, WithResponseTimeout(time.Second))
	if _, err := c.Connect(0); err != nil {
		t.Fatalf("connect: %v", err)
	}

	entries := []DaqMultiEntry{
		{BitOffset: 0xff, Size: 4, Ext: 0, Address: 0x20000100},
		{BitOffset: 0xff, Size: 2, Ext: 0, Address: 0x20000200},
	}
	if err := c.WriteDaqMultiple(entries); err != nil {
		t.Fatalf("write daq multiple: %v", err)
	}

	want := []byte{
		cmdWriteDAQMulti,
		2,
		0xff, 4, 0, 0x00, 0x01, 0x00, 0x20,
		0xff, 2, 0, 0x00, 0x02, 0x00, 0x20,
	}
	if len(sent) != len(want) {
		t.Fatalf("unexpected length: got %d want %d (% x)", len(sent), len(want), sent)
	}
	for i := range want {
		if sent[i] != want[i] {
			t.Fatalf("byte %d: got %#x want %#x (% x)", i, sent[i], want[i], sent)
		}
	}
}

func TestWriteDaqMultipleCapacityRespectsMaxCTO(t *testing.T) {
	if got := WriteDaqMultipleCapacity(8); got != 1 {
		t.Fatalf("expected a floor of 1 entry at MAX_CTO=8, got %d", got)
	}
	if got := WriteDaqMultipleCapacity(16); got != 2 {
		t.Fatalf("expected 2 entries to fit at MAX_CTO=16, got %d", got)
	}
}

func TestWriteDaqMultipleRejectsEmpty(t *testing.T) {
	tr := newFakeTransport(func(cmd []byte) [][]byte {
		if cmd[0] == cmdConnect {
			return [][]byte{connectResponse(30, 64, resourceDAQ)}
		}
		return [][]byte{{pidRes}}
	})
	c := NewClient(tr, WithResponseTimeout(time.Second))
	if _, err := c.Connect(0); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := c.WriteDaqMultiple(nil); err == nil {
		t.Fatal("expected an error for zero entries")
	}
}
