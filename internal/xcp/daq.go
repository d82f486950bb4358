package xcp

import (
	"fmt"

	"github.com/Ultimaker/OpenTelepathy/internal/xerr"
)

// DaqListCommand values for START_STOP_DAQ_LIST, grounded on
// XCP_DAQ_LIST_COMMAND in the original implementation.
const (
	DaqListStop   byte = 0x00
	DaqListStart  byte = 0x01
	DaqListSelect byte = 0x02
)

// StartStopSynch modes: stop all running lists, or arm/disarm the
// previously SELECTed one.
const (
	SynchStopAll       byte = 0x00
	SynchStartSelected byte = 0x01
	SynchStopSelected  byte = 0x02
)

// DaqProcessorInfo mirrors the target's GET_DAQ_PROCESSOR_INFO response.
type DaqProcessorInfo struct {
	DynamicDaqSupport    bool
	PrescalerSupport     bool
	ResumeSupport        bool
	BitStimSupport       bool
	TimestampSupport     bool
	PidOffSupport        bool
	OverloadMSBSupport   bool
	OverloadEventSupport bool
	MaxDaq               uint16
	MaxEventChannel      uint16
	MinDaq               uint8
	DaqKeyByte           uint8
}

// GetDaqProcessorInfo issues GET_DAQ_PROCESSOR_INFO.
func (c *Client) GetDaqProcessorInfo() (DaqProcessorInfo, error) {
	reply, err := c.cmd("GetDaqProcessorInfo", cmdGetDAQProcInfo, nil)
	if err != nil {
		return DaqProcessorInfo{}, err
	}
	if len(reply) < 7 {
		return DaqProcessorInfo{}, xerr.New(xerr.Protocol, "GetDaqProcessorInfo", fmt.Errorf("short reply: %d bytes", len(reply)))
	}
	props := reply[0]
	bo := c.byteOrder()
	return DaqProcessorInfo{
		DynamicDaqSupport:    props&0x01 != 0,
		PrescalerSupport:     props&0x02 != 0,
		ResumeSupport:        props&0x04 != 0,
		BitStimSupport:       props&0x08 != 0,
		TimestampSupport:     props&0x10 != 0,
		PidOffSupport:        props&0x20 != 0,
		OverloadMSBSupport:   props&0x40 != 0,
		OverloadEventSupport: props&0x80 != 0,
		MaxDaq:               bo.Uint16(reply[1:3]),
		MaxEventChannel:      bo.Uint16(reply[3:5]),
		MinDaq:               reply[5],
		DaqKeyByte:           reply[6],
	}, nil
}

// GetDaqResolutionInfo issues GET_DAQ_RESOLUTION_INFO and returns the raw
// reply unparsed; the DAQ engine does not call it.
func (c *Client) GetDaqResolutionInfo() ([]byte, error) {
	return c.cmd("GetDaqResolutionInfo", cmdGetDAQResInfo, nil)
}

// FreeDaq issues FREE_DAQ, releasing every DAQ list the target holds.
func (c *Client) FreeDaq() error {
	_, err := c.cmd("FreeDaq", cmdFreeDAQ, nil)
	return err
}

// AllocDaq issues ALLOC_DAQ, reserving count DAQ lists.
func (c *Client) AllocDaq(count uint16) error {
	params := make([]byte, 3)
	c.byteOrder().PutUint16(params[1:3], count)
	_, err := c.cmd("AllocDaq", cmdAllocDAQ, params)
	return err
}

// AllocOdt issues ALLOC_ODT, reserving count ODTs within DAQ list daqID.
func (c *Client) AllocOdt(daqID uint16, count uint8) error {
	params := make([]byte, 4)
	c.byteOrder().PutUint16(params[1:3], daqID)
	params[3] = count
	_, err := c.cmd("AllocOdt", cmdAllocODT, params)
	return err
}

// AllocOdtEntry issues ALLOC_ODT_ENTRY, reserving count entries within ODT
// odtID of DAQ list daqID.
func (c *Client) AllocOdtEntry(daqID uint16, odtID uint8, count uint8) error {
	params := make([]byte, 5)
	c.byteOrder().PutUint16(params[1:3], daqID)
	params[3] = odtID
	params[4] = count
	_, err := c.cmd("AllocOdtEntry", cmdAllocODTEntry, params)
	return err
}

// SetDaqPtr issues SET_DAQ_PTR, pointing subsequent WRITE_DAQ commands at
// entry entryIdx of ODT odtID in DAQ list daqID.
func (c *Client) SetDaqPtr(daqID uint16, odtID uint8, entryIdx uint8) error {
	params := make([]byte, 5)
	c.byteOrder().PutUint16(params[1:3], daqID)
	params[3] = odtID
	params[4] = entryIdx
	_, err := c.cmd("SetDaqPtr", cmdSetDAQPtr, params)
	return err
}

// WriteDaq issues WRITE_DAQ, binding the ODT entry the DAQ pointer
// currently addresses to size bytes at address/ext. bitOffset is 0xFF when
// the entry is not a bit-level access. Kept alongside WriteDaqMultiple as
// its own method since both are part of spec.md §6's mandatory command set;
// internal/daq.Engine.Configure always prefers WriteDaqMultiple to bind an
// ODT's entries in as few commands as MAX_CTO allows.
func (c *Client) WriteDaq(bitOffset, size, ext byte, address uint32) error {
	params := make([]byte, 7)
	params[0] = bitOffset
	params[1] = size
	params[2] = ext
	c.byteOrder().PutUint32(params[3:7], address)
	_, err := c.cmd("WriteDaq", cmdWriteDAQ, params)
	return err
}

// DaqMultiEntry is one element of a WRITE_DAQ_MULTIPLE command: the same
// bitOffset/size/ext/address quadruple a single WriteDaq binds, but several
// of them travel in one command.
type DaqMultiEntry struct {
	BitOffset byte
	Size      byte
	Ext       byte
	Address   uint32
}

// daqMultiElementSize is the wire width of one DaqMultiEntry: bitOffset(1)
// + size(1) + address extension(1) + address(4).
const daqMultiElementSize = 7

// WriteDaqMultipleCapacity returns how many DaqMultiEntry values fit in a
// single WRITE_DAQ_MULTIPLE command given the connection's negotiated
// MAX_CTO (command byte + count byte + one entry each), never less than 1.
func WriteDaqMultipleCapacity(maxCTO uint8) int {
	n := (int(maxCTO) - 2) / daqMultiElementSize
	if n < 1 {
		n = 1
	}
	return n
}

// WriteDaqMultiple issues WRITE_DAQ_MULTIPLE (spec.md §6 mandatory subset),
// binding entries consecutively starting at the DAQ pointer's current
// entry in a single command instead of one WriteDaq per entry. Each write
// advances the pointer, exactly as a run of individual WriteDaq calls
// would.
func (c *Client) WriteDaqMultiple(entries []DaqMultiEntry) error {
	if len(entries) == 0 {
		return xerr.New(xerr.Protocol, "WriteDaqMultiple", fmt.Errorf("no entries"))
	}
	params := make([]byte, 1+daqMultiElementSize*len(entries))
	params[0] = byte(len(entries))
	for i, e := range entries {
		off := 1 + i*daqMultiElementSize
		params[off] = e.BitOffset
		params[off+1] = e.Size
		params[off+2] = e.Ext
		c.byteOrder().PutUint32(params[off+3:off+7], e.Address)
	}
	_, err := c.cmd("WriteDaqMultiple", cmdWriteDAQMulti, params)
	return err
}

// SetDaqListMode issues SET_DAQ_LIST_MODE for DAQ list daqID.
func (c *Client) SetDaqListMode(mode byte, daqID uint16, eventID uint16, prescaler, priority byte) error {
	params := make([]byte, 7)
	params[0] = mode
	c.byteOrder().PutUint16(params[1:3], daqID)
	c.byteOrder().PutUint16(params[3:5], eventID)
	params[5] = prescaler
	params[6] = priority
	_, err := c.cmd("SetDaqListMode", cmdSetDAQListMode, params)
	return err
}

// StartStopDaqList issues START_STOP_DAQ_LIST and returns the target's
// firstPid, the identifier that subsequent DAQ packets for this list's
// first ODT will carry (spec.md §4.6). Only meaningful for the SELECT
// command; callers issuing START/STOP may ignore the return value.
func (c *Client) StartStopDaqList(command byte, daqID uint16) (byte, error) {
	params := make([]byte, 3)
	params[0] = command
	c.byteOrder().PutUint16(params[1:3], daqID)
	reply, err := c.cmd("StartStopDaqList", cmdStartStopDAQList, params)
	if err != nil {
		return 0, err
	}
	if len(reply) < 1 {
		return 0, xerr.New(xerr.Protocol, "StartStopDaqList", fmt.Errorf("empty reply"))
	}
	return reply[0], nil
}

// StartStopSynch issues START_STOP_SYNCH.
func (c *Client) StartStopSynch(mode byte) error {
	_, err := c.cmd("StartStopSynch", cmdStartStopSynch, []byte{mode})
	return err
}

// GetDaqClock issues GET_DAQ_CLOCK and returns the target's free-running
// timestamp counter.
func (c *Client) GetDaqClock() (uint32, error) {
	reply, err := c.cmd("GetDaqClock", cmdGetDAQClock, nil)
	if err != nil {
		return 0, err
	}
	if len(reply) < 7 {
		return 0, xerr.New(xerr.Protocol, "GetDaqClock", fmt.Errorf("short reply: %d bytes", len(reply)))
	}
	return c.byteOrder().Uint32(reply[3:7]), nil
}
