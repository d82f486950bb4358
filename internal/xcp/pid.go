// Package xcp implements Component B, the Protocol Client: XCP command
// framing, the connection state machine, and the DAQ list allocation
// commands. It talks to a ports.Transport and never touches the wire
// directly.
package xcp

// Command codes, taken verbatim from the ASAM MCD-1 XCP command table.
// Only the mandatory subset from spec.md §6 is implemented.
const (
	cmdConnect     byte = 0xFF
	cmdDisconnect  byte = 0xFE
	cmdGetStatus   byte = 0xFD
	cmdSynch       byte = 0xFC
	cmdGetCommMode byte = 0xFB
	cmdSetMTA      byte = 0xF6
	cmdUpload      byte = 0xF5
	cmdShortUpload byte = 0xF4
	cmdDownload    byte = 0xF0

	cmdGetDAQProcInfo byte = 0xDA
	cmdGetDAQResInfo  byte = 0xD9
	cmdFreeDAQ        byte = 0xD6
	cmdAllocDAQ       byte = 0xD5
	cmdAllocODT       byte = 0xD4
	cmdAllocODTEntry  byte = 0xD3
	cmdSetDAQPtr      byte = 0xE2
	cmdWriteDAQ       byte = 0xE1
	cmdWriteDAQMulti  byte = 0xC7
	cmdSetDAQListMode byte = 0xE0

	cmdStartStopDAQList byte = 0xDE
	cmdStartStopSynch   byte = 0xDD
	cmdGetDAQClock      byte = 0xDC
)

// Response and asynchronous packet identifiers. Any PID not in this set is
// DAQ traffic, tagged with the identifier the target assigned at
// START_STOP_DAQ_LIST time.
const (
	pidRes  byte = 0xFF
	pidErr  byte = 0xFE
	pidEv   byte = 0xFD
	pidServ byte = 0xFC
)

// Negative-response error codes (ASAM MCD-1 XCP table 4).
const (
	ErrCmdSynch                        byte = 0x00
	ErrCmdBusy                         byte = 0x10
	ErrDaqActive                       byte = 0x11
	ErrPgmActive                       byte = 0x12
	ErrCmdUnknown                      byte = 0x20
	ErrCmdSyntax                       byte = 0x21
	ErrOutOfRange                      byte = 0x22
	ErrWriteProtected                  byte = 0x23
	ErrAccessDenied                    byte = 0x24
	ErrAccessLocked                    byte = 0x25
	ErrPageNotValid                    byte = 0x26
	ErrModeNotValid                    byte = 0x27
	ErrSegmentNotValid                 byte = 0x28
	ErrSequence                        byte = 0x29
	ErrDaqConfig                       byte = 0x2A
	ErrMemoryOverflow                  byte = 0x30
	ErrGeneric                         byte = 0x31
	ErrVerify                          byte = 0x32
	ErrResourceTemporaryNotAccessible  byte = 0x33
)

// resourceMask bits from the CONNECT positive response, byte 1.
const (
	resourceCAL byte = 1 << 0
	resourceDAQ byte = 1 << 2
)

// commModeBasic bits from the CONNECT positive response, byte 2.
const (
	commModeByteOrderMSB           byte = 1 << 0
	commModeAddressGranularityMask byte = 0b0110
	commModeOptional                byte = 1 << 6
)
