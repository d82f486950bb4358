// Package modelmap reads the C-API model-mapping structure that Simulink's
// GRT code generator embeds in a compiled target image (rtw_capi.h /
// rtw_modelmap.h) and turns it into a domain.SymbolTable. Grounded
// field-for-field on modelmap.py's RTWCAPIObject subclasses; unlike the
// Python original's lazily-loaded attribute descriptors, this package does
// one eager two-pass read: pass one pulls in every fixed-size table entry,
// pass two resolves the string/address/subtable references those entries
// carry into fully-qualified symbol paths.
//
// The target-side struct layouts are little-endian regardless of the
// connection's negotiated byte order, matching modelmap.py's hardcoded
// struct.pack('<' + ...) format: these are the GRT toolchain's own fixed
// ABI, not a property of the target CPU's data byte order.
package modelmap

import (
	"fmt"

	"github.com/Ultimaker/OpenTelepathy/internal/domain"
	"github.com/Ultimaker/OpenTelepathy/internal/xerr"
)

// MemoryReader is the subset of the Protocol Client the model-map reader
// needs. internal/xcp.Client satisfies this directly.
type MemoryReader interface {
	ReadMemory(ext byte, addr uint32, n int) ([]byte, error)
}

// RootResolver looks up the address of the root model-mapping symbol.
// internal/debuginfo's *domain.SymbolTable (via its Lookup method) is the
// only expected implementation: the model-map reader touches
// internal/debuginfo exactly once, to find this one symbol.
type RootResolver interface {
	Lookup(path string) (*domain.Symbol, bool)
}

// DefaultRootSymbol is the model-mapping root symbol name GRT-generated
// images publish, per rtw_modelmap.h.
const DefaultRootSymbol = "rtwCAPI_ModelMappingInfo"

// reader carries the two pieces of state a full traversal accumulates: a
// string cache (readString is expensive and many entries share block paths)
// and a data-type cache (CachedMap in the Python original), keyed exactly
// as modelmap.py's CachedMap is, by table base address and index.
type reader struct {
	mem MemoryReader
	ext byte

	strings   map[uint32]string
	dataTypes map[uint32]rawDataType
}

// Load resolves rootSymbol via resolver, reads the ModelMappingInfo
// structure it points to, and walks every signal, root input/output, block
// parameter, model parameter and state it references, returning a
// SymbolTable of scalar entries. Entries whose data type this package
// cannot represent (pointer, complex, fixed-point, array/structured) are
// skipped, mirroring ReadableWritable.__call__'s NotImplementedError cases
// by simply not exposing those paths rather than failing the whole load.
func Load(mem MemoryReader, ext byte, resolver RootResolver, rootSymbol string) (*domain.SymbolTable, error) {
	if rootSymbol == "" {
		rootSymbol = DefaultRootSymbol
	}
	root, ok := resolver.Lookup(rootSymbol)
	if !ok {
		return nil, xerr.New(xerr.Symbol, "Load", fmt.Errorf("root symbol %q not found", rootSymbol))
	}

	r := &reader{
		mem:       mem,
		ext:       ext,
		strings:   make(map[uint32]string),
		dataTypes: make(map[uint32]rawDataType),
	}
	return r.load(uint32(root.Address))
}

func (r *reader) load(mmiAddr uint32) (*domain.SymbolTable, error) {
	mmiBytes, err := r.read(mmiAddr, mmiSize)
	if err != nil {
		return nil, err
	}
	mmi, err := parseMMI(mmiBytes)
	if err != nil {
		return nil, err
	}

	staticBytes, err := r.read(mmi.staticPtr, staticInfoSize)
	if err != nil {
		return nil, err
	}
	static := parseStaticInfo(staticBytes)

	table := domain.NewSymbolTable()

	if err := r.addSignals(table, static.ptrSignals, static.numSignals, static.dataTypeMapPtr, mmi.dataAddrMapPtr); err != nil {
		return nil, err
	}
	if err := r.addSignals(table, static.ptrRootInputs, static.numRootInputs, static.dataTypeMapPtr, mmi.dataAddrMapPtr); err != nil {
		return nil, err
	}
	if err := r.addSignals(table, static.ptrRootOutputs, static.numRootOutputs, static.dataTypeMapPtr, mmi.dataAddrMapPtr); err != nil {
		return nil, err
	}
	if err := r.addParameters(table, static.ptrBlockParameters, static.numBlockParameters, static.dataTypeMapPtr, mmi.dataAddrMapPtr); err != nil {
		return nil, err
	}
	if err := r.addParameters(table, static.ptrModelParameters, static.numModelParameters, static.dataTypeMapPtr, mmi.dataAddrMapPtr); err != nil {
		return nil, err
	}
	if err := r.addStates(table, static.ptrStates, static.numStates, static.dataTypeMapPtr, mmi.dataAddrMapPtr); err != nil {
		return nil, err
	}

	return table, nil
}

func (r *reader) read(addr uint32, n int) ([]byte, error) {
	data, err := r.mem.ReadMemory(r.ext, addr, n)
	if err != nil {
		return nil, xerr.New(xerr.Transport, "modelmap.read", err)
	}
	if len(data) != n {
		return nil, xerr.New(xerr.Protocol, "modelmap.read", fmt.Errorf("expected %d bytes, got %d", n, len(data)))
	}
	return data, nil
}

// resolveAddress turns a dataAddrMap index into the address it names,
// exactly as Model.getAddress does: mmi.dataAddrMap[index].
func (r *reader) resolveAddress(dataAddrMapPtr uint32, index uint32) (uint32, error) {
	data, err := r.read(dataAddrMapPtr+index*addressSize, addressSize)
	if err != nil {
		return 0, err
	}
	return parseAddress(data), nil
}

// resolveDataType turns a dataTypeMap index into its parsed DataType entry,
// caching by (base, index) the same way CachedMap does.
func (r *reader) resolveDataType(dataTypeMapPtr uint32, index uint32) (rawDataType, error) {
	addr := dataTypeMapPtr + index*dataTypeSize
	if dt, ok := r.dataTypes[addr]; ok {
		return dt, nil
	}
	data, err := r.read(addr, dataTypeSize)
	if err != nil {
		return rawDataType{}, err
	}
	dt := parseDataType(data)
	name, err := r.readString(dt.cDataNamePtr)
	if err == nil {
		dt.cDataName = name
	}
	r.dataTypes[addr] = dt
	return dt, nil
}

// readString reads a null-terminated latin-1 string in 64-byte blocks,
// matching Model.readString's block-read trade-off, with the same
// address-keyed cache.
func (r *reader) readString(addr uint32) (string, error) {
	if addr == 0 {
		return "", nil
	}
	if s, ok := r.strings[addr]; ok {
		return s, nil
	}
	const blockSize = 64
	var out []byte
	block := addr
	for {
		chunk, err := r.mem.ReadMemory(r.ext, block, blockSize)
		if err != nil {
			return "", xerr.New(xerr.Transport, "modelmap.readString", err)
		}
		out = append(out, chunk...)
		if idx := indexByte(out, 0); idx >= 0 {
			s := string(out[:idx])
			r.strings[addr] = s
			return s, nil
		}
		block += blockSize
	}
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}
