package modelmap

import (
	"github.com/Ultimaker/OpenTelepathy/internal/domain"
)

// slDataType dispatches rtwCAPI_DataTypeMap's slDataId to a scalar
// domain.Type, mirroring ReadableWritable.STRUCT_TYPES (from
// sl_types_def.h). Only plain scalars are represented: pointer, complex,
// fixed-point and structured/array data types are left unsupported here,
// exactly as ReadableWritable.__call__ raises NotImplementedError for
// them.
func slDataType(dt rawDataType, order domain.ByteOrder) (*domain.Type, bool) {
	if dt.isPointer || dt.isComplex || dt.numElements > 0 {
		return nil, false
	}
	switch dt.slDataID {
	case 0: // SS_DOUBLE
		return &domain.Type{Kind: domain.KindFloat, Width: 8, Order: order}, true
	case 1: // SS_SINGLE
		return &domain.Type{Kind: domain.KindFloat, Width: 4, Order: order}, true
	case 2: // SS_INT8
		return &domain.Type{Kind: domain.KindSignedInt, Width: 1, Order: order}, true
	case 3: // SS_UINT8
		return &domain.Type{Kind: domain.KindUnsignedInt, Width: 1, Order: order}, true
	case 4: // SS_INT16
		return &domain.Type{Kind: domain.KindSignedInt, Width: 2, Order: order}, true
	case 5: // SS_UINT16
		return &domain.Type{Kind: domain.KindUnsignedInt, Width: 2, Order: order}, true
	case 6: // SS_INT32
		return &domain.Type{Kind: domain.KindSignedInt, Width: 4, Order: order}, true
	case 7: // SS_UINT32
		return &domain.Type{Kind: domain.KindUnsignedInt, Width: 4, Order: order}, true
	case 8: // SS_BOOLEAN
		return &domain.Type{Kind: domain.KindUnsignedInt, Width: 1, Order: order}, true
	default:
		return nil, false
	}
}

// path builds the canonical "blockPath/name" form ReadableWritable.__invert__
// uses for VariableInfo.name.
func path(blockPath, name string) string {
	return blockPath + "/" + name
}

func (r *reader) addSignals(table *domain.SymbolTable, base uint32, count uint32, dataTypeMapPtr, dataAddrMapPtr uint32) error {
	for i := uint32(0); i < count; i++ {
		raw, err := r.read(base+i*signalSize, signalSize)
		if err != nil {
			return err
		}
		s := parseSignal(raw)

		blockPath, err := r.readString(s.blockPathPtr)
		if err != nil {
			return err
		}
		name, err := r.readString(s.namePtr)
		if err != nil {
			return err
		}
		if s.dimension != 0 || s.fixedPoint != 0 {
			continue
		}
		addr, err := r.resolveAddress(dataAddrMapPtr, s.addrIndex)
		if err != nil {
			return err
		}
		dt, err := r.resolveDataType(dataTypeMapPtr, uint32(s.dataTypeIndex))
		if err != nil {
			return err
		}
		typ, ok := slDataType(dt, domain.LittleEndian)
		if !ok {
			continue
		}
		table.Add(&domain.Symbol{Path: path(blockPath, name), Address: uint64(addr), Type: typ, Storage: domain.StorageDirect})
	}
	return nil
}

func (r *reader) addParameters(table *domain.SymbolTable, base uint32, count uint32, dataTypeMapPtr, dataAddrMapPtr uint32) error {
	for i := uint32(0); i < count; i++ {
		raw, err := r.read(base+i*paramSize, paramSize)
		if err != nil {
			return err
		}
		p := parseParameter(raw)

		blockPath, err := r.readString(p.blockPathPtr)
		if err != nil {
			return err
		}
		name, err := r.readString(p.namePtr)
		if err != nil {
			return err
		}
		if p.dimension != 0 || p.fixedPoint != 0 {
			continue
		}
		addr, err := r.resolveAddress(dataAddrMapPtr, p.addrIndex)
		if err != nil {
			return err
		}
		dt, err := r.resolveDataType(dataTypeMapPtr, uint32(p.dataTypeIndex))
		if err != nil {
			return err
		}
		typ, ok := slDataType(dt, domain.LittleEndian)
		if !ok {
			continue
		}
		table.Add(&domain.Symbol{Path: path(blockPath, name), Address: uint64(addr), Type: typ, Storage: domain.StorageDirect})
	}
	return nil
}

func (r *reader) addStates(table *domain.SymbolTable, base uint32, count uint32, dataTypeMapPtr, dataAddrMapPtr uint32) error {
	for i := uint32(0); i < count; i++ {
		raw, err := r.read(base+i*stateSize, stateSize)
		if err != nil {
			return err
		}
		s := parseState(raw)

		blockPath, err := r.readString(s.blockPathPtr)
		if err != nil {
			return err
		}
		name, err := r.readString(s.namePtr)
		if err != nil {
			return err
		}
		if s.dimension != 0 || s.fixedPoint != 0 {
			continue
		}
		addr, err := r.resolveAddress(dataAddrMapPtr, s.addrIndex)
		if err != nil {
			return err
		}
		dt, err := r.resolveDataType(dataTypeMapPtr, uint32(s.dataTypeIndex))
		if err != nil {
			return err
		}
		typ, ok := slDataType(dt, domain.LittleEndian)
		if !ok {
			continue
		}
		table.Add(&domain.Symbol{Path: path(blockPath, name), Address: uint64(addr), Type: typ, Storage: domain.StorageDirect})
	}
	return nil
}
