package xcp

import (
	"fmt"

	"github.com/Ultimaker/OpenTelepathy/internal/xerr"
)

// SetMTA issues SET_MTA, pointing the target's Memory Transfer Address at
// addr in the given address extension.
func (c *Client) SetMTA(ext byte, addr uint32) error {
	params := make([]byte, 7)
	params[0], params[1] = 0, 0 // reserved
	params[2] = ext
	c.byteOrder().PutUint32(params[3:7], addr)
	_, err := c.cmd("SetMTA", cmdSetMTA, params)
	return err
}

// ReadMemory reads n bytes starting at addr/ext, chunked to respect
// MAX_CTO (spec.md §4.2). The first chunk is a SHORT_UPLOAD, which carries
// its own address and therefore needs no preceding SET_MTA; every
// following chunk is a plain UPLOAD relying on the target's own
// auto-increment of the MTA. A 20-byte read at MAX_CTO=8 takes exactly
// three commands: SHORT_UPLOAD(7) + UPLOAD(7) + UPLOAD(6).
func (c *Client) ReadMemory(ext byte, addr uint32, n int) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	info := c.Info()
	if info.MaxCTO < 2 {
		return nil, xerr.New(xerr.State, "ReadMemory", fmt.Errorf("MAX_CTO=%d too small to read anything", info.MaxCTO))
	}
	chunkSize := int(info.MaxCTO) - 1 // response payload capacity: PID + data
	out := make([]byte, 0, n)

	first := true
	remaining := n
	for remaining > 0 {
		want := remaining
		if want > chunkSize {
			want = chunkSize
		}
		var (
			data []byte
			err  error
		)
		if first {
			data, err = c.shortUpload(ext, addr, want)
			first = false
		} else {
			data, err = c.upload(want)
		}
		if err != nil {
			return nil, err
		}
		if len(data) != want {
			return nil, xerr.New(xerr.Protocol, "ReadMemory", fmt.Errorf("expected %d bytes, target returned %d", want, len(data)))
		}
		out = append(out, data...)
		addr += uint32(want)
		remaining -= want
	}
	return out, nil
}

func (c *Client) shortUpload(ext byte, addr uint32, n int) ([]byte, error) {
	params := make([]byte, 7)
	params[0] = byte(n)
	params[1] = 0 // reserved
	params[2] = ext
	c.byteOrder().PutUint32(params[3:7], addr)
	return c.cmd("ShortUpload", cmdShortUpload, params)
}

func (c *Client) upload(n int) ([]byte, error) {
	return c.cmd("Upload", cmdUpload, []byte{byte(n)})
}

// downloadOverhead is PID + SIZE + two reserved/alignment bytes, per the
// ASAM MCD-1 XCP DOWNLOAD packet layout; downloadParamOverhead is the same
// minus the PID, which cmd() prepends separately.
const (
	downloadOverhead      = 4
	downloadParamOverhead = downloadOverhead - 1
)

// WriteMemory writes data starting at addr/ext, chunked to respect
// MAX_CTO. SET_MTA is issued once; every DOWNLOAD chunk after the first
// relies on the target's auto-increment.
func (c *Client) WriteMemory(ext byte, addr uint32, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	info := c.Info()
	chunkSize := int(info.MaxCTO) - downloadOverhead
	if chunkSize < 1 {
		return xerr.New(xerr.State, "WriteMemory", fmt.Errorf("MAX_CTO=%d too small to write anything", info.MaxCTO))
	}

	if err := c.SetMTA(ext, addr); err != nil {
		return err
	}

	for offset := 0; offset < len(data); {
		end := offset + chunkSize
		if end > len(data) {
			end = len(data)
		}
		chunk := data[offset:end]
		params := make([]byte, downloadParamOverhead+len(chunk))
		params[0] = byte(len(chunk))
		copy(params[downloadParamOverhead:], chunk)
		if _, err := c.cmd("Download", cmdDownload, params); err != nil {
			return err
		}
		offset = end
	}
	return nil
}
