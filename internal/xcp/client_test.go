package xcp

import (
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/Ultimaker/OpenTelepathy/internal/domain"
	"github.com/Ultimaker/OpenTelepathy/internal/xerr"
)

func connectResponse(maxCTO byte, maxDTO uint16, resources byte) []byte {
	resp := make([]byte, 8)
	resp[0] = pidRes
	resp[1] = resources
	resp[2] = 0 // little-endian, standard address granularity
	resp[3] = maxCTO
	binary.LittleEndian.PutUint16(resp[4:6], maxDTO)
	resp[6] = 0x01 // protocol layer version
	resp[7] = 0x01 // transport layer version
	return resp
}

// Scenario 1: connect and identify.
func TestConnectAndIdentify(t *testing.T) {
	tr := newFakeTransport(func(cmd []byte) [][]byte {
		if cmd[0] == cmdConnect {
			return [][]byte{connectResponse(8, 8, resourceDAQ|resourceCAL)}
		}
		return nil
	})

	c := NewClient(tr, WithResponseTimeout(time.Second))
	info, err := c.Connect(0)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if c.State() != domain.Connected {
		t.Fatalf("expected Connected, got %v", c.State())
	}
	if info.ByteOrder != domain.LittleEndian {
		t.Fatalf("expected little endian, got %v", info.ByteOrder)
	}
	if info.MaxCTO != 8 || info.MaxDTO != 8 {
		t.Fatalf("unexpected MAX_CTO/MAX_DTO: %+v", info)
	}
	if !info.Resources.DAQ || !info.Resources.Calibration {
		t.Fatalf("expected DAQ+CAL resources, got %+v", info.Resources)
	}
}

// Scenario 2: a 20-byte read at MAX_CTO=8 takes exactly three commands:
// SHORT_UPLOAD(7) + UPLOAD(7) + UPLOAD(6), and the reassembled payload
// equals the target's backing memory.
func TestReadMemoryChunking(t *testing.T) {
	mem := make([]byte, 20)
	for i := range mem {
		mem[i] = byte(i)
	}
	const baseAddr = 0x20000000

	var (
		mta        uint32
		commandLog []string
	)

	tr := newFakeTransport(func(cmd []byte) [][]byte {
		switch cmd[0] {
		case cmdConnect:
			return [][]byte{connectResponse(8, 8, 0)}
		case cmdShortUpload:
			commandLog = append(commandLog, "SHORT_UPLOAD")
			size := int(cmd[1])
			addr := binary.LittleEndian.Uint32(cmd[4:8])
			data := mem[addr-baseAddr : addr-baseAddr+uint32(size)]
			mta = addr + uint32(size)
			return [][]byte{append([]byte{pidRes}, data...)}
		case cmdUpload:
			commandLog = append(commandLog, "UPLOAD")
			size := int(cmd[1])
			data := mem[mta-baseAddr : mta-baseAddr+uint32(size)]
			mta += uint32(size)
			return [][]byte{append([]byte{pidRes}, data...)}
		case cmdSetMTA:
			mta = binary.LittleEndian.Uint32(cmd[4:8])
			return [][]byte{{pidRes}}
		}
		return nil
	})

	c := NewClient(tr, WithResponseTimeout(time.Second))
	if _, err := c.Connect(0); err != nil {
		t.Fatalf("connect: %v", err)
	}

	got, err := c.ReadMemory(0, baseAddr, 20)
	if err != nil {
		t.Fatalf("read memory: %v", err)
	}
	if len(commandLog) != 3 {
		t.Fatalf("expected exactly three commands, got %d: %v", len(commandLog), commandLog)
	}
	if commandLog[0] != "SHORT_UPLOAD" {
		t.Fatalf("expected first command to be SHORT_UPLOAD, got %s", commandLog[0])
	}
	for i, want := range mem {
		if got[i] != want {
			t.Fatalf("byte %d: got %x want %x", i, got[i], want)
		}
	}
}

// Scenario 3: negative response surfaces as a *xerr.Error of Protocol kind
// carrying the target's error code.
func TestNegativeResponse(t *testing.T) {
	tr := newFakeTransport(func(cmd []byte) [][]byte {
		switch cmd[0] {
		case cmdConnect:
			return [][]byte{connectResponse(8, 8, 0)}
		case cmdSynch:
			return [][]byte{{pidErr, ErrCmdUnknown}}
		}
		return nil
	})

	c := NewClient(tr, WithResponseTimeout(time.Second))
	if _, err := c.Connect(0); err != nil {
		t.Fatalf("connect: %v", err)
	}

	err := c.Synch()
	if err == nil {
		t.Fatal("expected an error")
	}
	var xe *xerr.Error
	if !errors.As(err, &xe) {
		t.Fatalf("expected *xerr.Error, got %T: %v", err, err)
	}
	if xe.Kind != xerr.Protocol {
		t.Fatalf("expected Protocol kind, got %v", xe.Kind)
	}
	if xe.Code != ErrCmdUnknown {
		t.Fatalf("expected code %x, got %x", ErrCmdUnknown, xe.Code)
	}
}

func TestConnectRejectsDaqWithTooSmallMaxCTO(t *testing.T) {
	tr := newFakeTransport(func(cmd []byte) [][]byte {
		if cmd[0] == cmdConnect {
			return [][]byte{connectResponse(4, 4, resourceDAQ)}
		}
		return nil
	})

	c := NewClient(tr, WithResponseTimeout(time.Second))
	_, err := c.Connect(0)
	if err == nil {
		t.Fatal("expected an error")
	}
	if !xerr.Is(err, xerr.State) {
		t.Fatalf("expected a State error, got %v", err)
	}
}

func TestWriteMemoryChunking(t *testing.T) {
	const baseAddr = 0x30000000
	mem := make([]byte, 10)
	var mta uint32
	var downloads int

	tr := newFakeTransport(func(cmd []byte) [][]byte {
		switch cmd[0] {
		case cmdConnect:
			return [][]byte{connectResponse(8, 8, 0)}
		case cmdSetMTA:
			mta = binary.LittleEndian.Uint32(cmd[4:8])
			return [][]byte{{pidRes}}
		case cmdDownload:
			downloads++
			size := int(cmd[1])
			copy(mem[mta-baseAddr:], cmd[4:4+size])
			mta += uint32(size)
			return [][]byte{{pidRes}}
		}
		return nil
	})

	c := NewClient(tr, WithResponseTimeout(time.Second))
	if _, err := c.Connect(0); err != nil {
		t.Fatalf("connect: %v", err)
	}

	payload := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	if err := c.WriteMemory(0, baseAddr, payload); err != nil {
		t.Fatalf("write memory: %v", err)
	}
	// MAX_CTO=8, downloadOverhead=4 -> 4-byte chunks: 4+4+2 = three DOWNLOADs.
	if downloads != 3 {
		t.Fatalf("expected 3 DOWNLOAD commands, got %d", downloads)
	}
	for i, want := range payload {
		if mem[i] != want {
			t.Fatalf("byte %d: got %x want %x", i, mem[i], want)
		}
	}
}
