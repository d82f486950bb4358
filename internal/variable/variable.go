// Package variable implements the Variable Layer: typed reads and writes
// over a resolved Handle, composing a symbol table (built by
// internal/debuginfo or internal/modelmap) with the Protocol Client's
// memory transactions. Grounded on remotevariables.Variable's
// resolve-then-call pattern and modelmap.ReadableWritable.__call__, both
// of which separate "find the address and type" (resolution, done once)
// from "move bytes" (done on every access).
package variable

import (
	"fmt"

	"github.com/Ultimaker/OpenTelepathy/internal/domain"
	"github.com/Ultimaker/OpenTelepathy/internal/xerr"
)

// MemoryReadWriter is the subset of the Protocol Client the variable layer
// needs. internal/xcp.Client satisfies this directly; both methods already
// chunk to MAX_CTO internally, so a single call here is already the
// minimum number of protocol transactions for the handle's whole region.
type MemoryReadWriter interface {
	ReadMemory(ext byte, addr uint32, n int) ([]byte, error)
	WriteMemory(ext byte, addr uint32, data []byte) error
}

// SymbolTable is the read-only lookup surface a Layer resolves paths
// against. Both internal/debuginfo and internal/modelmap produce a
// *domain.SymbolTable, which satisfies this directly.
type SymbolTable interface {
	Lookup(path string) (*domain.Symbol, bool)
}

// Handle is an opaque, resolved (address, type) pair. It carries the
// original path only for diagnostics.
type Handle struct {
	Path   string
	Symbol *domain.Symbol
}

// Layer is the public entry point: resolve a path once, then read/write it
// repeatedly without re-consulting the symbol table.
type Layer struct {
	mem   MemoryReadWriter
	ext   byte
	table SymbolTable
}

func NewLayer(mem MemoryReadWriter, ext byte, table SymbolTable) *Layer {
	return &Layer{mem: mem, ext: ext, table: table}
}

// Resolve looks up path in the symbol table. Per spec.md §4.5 this fails
// with a symbol-kind error when the path is absent.
func (l *Layer) Resolve(path string) (*Handle, error) {
	sym, ok := l.table.Lookup(path)
	if !ok {
		return nil, xerr.New(xerr.Symbol, "Resolve", fmt.Errorf("unknown symbol %q", path))
	}
	return &Handle{Path: path, Symbol: sym}, nil
}

// Read fetches h's whole region in one transaction (internally chunked by
// the Protocol Client) and decodes it per h's type and byte order. A
// StorageIndirect symbol's Address holds a pointer rather than the value
// itself (spec.md §3, "indirect-via-pointer"), mirroring
// remotevariables.Variable.__call__: reading such a symbol first follows
// the pointer word, then decodes h's Type at whatever address it currently
// holds, so a pointer field that is repointed on the target is always
// followed to its current pointee rather than a stale one.
func (l *Layer) Read(h *Handle) (domain.Value, error) {
	t := h.Symbol.Type
	addr := uint32(h.Symbol.Address)

	if h.Symbol.Storage == domain.StorageIndirect {
		target, err := l.deref(h.Symbol)
		if err != nil {
			return domain.Value{}, err
		}
		addr = target
	}

	data, err := l.mem.ReadMemory(l.ext, addr, t.Size())
	if err != nil {
		return domain.Value{}, xerr.New(xerr.Transport, "Read", err)
	}
	v, err := Decode(data, t)
	if err != nil {
		return domain.Value{}, xerr.New(xerr.Type, "Read", err)
	}
	return v, nil
}

// deref reads the pointer word at sym's address and returns the pointee
// address it currently holds.
func (l *Layer) deref(sym *domain.Symbol) (uint32, error) {
	ptrBytes, err := l.mem.ReadMemory(l.ext, uint32(sym.Address), 4)
	if err != nil {
		return 0, xerr.New(xerr.Transport, "Read", err)
	}
	ptr, err := Decode(ptrBytes, &domain.Type{Kind: domain.KindPointer, Width: 4, Order: sym.Type.Order})
	if err != nil {
		return 0, xerr.New(xerr.Type, "Read", err)
	}
	return uint32(ptr.Uint), nil
}

// Write encodes v per h's type and byte order and writes h's whole region
// in one transaction. A bit-field leaf is read-modify-written so sibling
// bits sharing the storage unit are preserved. A StorageIndirect symbol is
// written through the pointer it holds, at whatever address that pointer
// currently resolves to, not at the pointer's own storage.
func (l *Layer) Write(h *Handle, v domain.Value) error {
	t := h.Symbol.Type
	addr := uint32(h.Symbol.Address)

	if h.Symbol.Storage == domain.StorageIndirect {
		target, err := l.deref(h.Symbol)
		if err != nil {
			return err
		}
		addr = target
	}

	if t.BitWidth != 0 {
		current, err := l.mem.ReadMemory(l.ext, addr, t.Size())
		if err != nil {
			return xerr.New(xerr.Transport, "Write", err)
		}
		data, err := encodeBitField(current, v, t)
		if err != nil {
			return xerr.New(xerr.Type, "Write", err)
		}
		if err := l.mem.WriteMemory(l.ext, addr, data); err != nil {
			return xerr.New(xerr.Transport, "Write", err)
		}
		return nil
	}

	data, err := Encode(v, t)
	if err != nil {
		return xerr.New(xerr.Type, "Write", err)
	}
	if err := l.mem.WriteMemory(l.ext, addr, data); err != nil {
		return xerr.New(xerr.Transport, "Write", err)
	}
	return nil
}

// Repoint writes target's address into h's own pointer word, leaving
// target's contents untouched, mirroring remotevariables.Variable.__call__'s
// write branch: assigning one pointer Variable another Variable stores the
// second's address in the first rather than copying its value. h must be a
// StorageIndirect handle; the write lands at h.Symbol.Address itself, not
// through it.
func (l *Layer) Repoint(h *Handle, target *Handle) error {
	if h.Symbol.Storage != domain.StorageIndirect {
		return xerr.New(xerr.Type, "Repoint", fmt.Errorf("%q is not a pointer symbol", h.Path))
	}
	data, err := Encode(domain.UintValue(target.Symbol.Address), &domain.Type{Kind: domain.KindPointer, Width: 4, Order: h.Symbol.Type.Order})
	if err != nil {
		return xerr.New(xerr.Type, "Repoint", err)
	}
	if err := l.mem.WriteMemory(l.ext, uint32(h.Symbol.Address), data); err != nil {
		return xerr.New(xerr.Transport, "Repoint", err)
	}
	return nil
}
