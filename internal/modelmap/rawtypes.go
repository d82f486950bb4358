package modelmap

import (
	"encoding/binary"
	"fmt"

	"github.com/Ultimaker/OpenTelepathy/internal/xerr"
)

func versionError(got uint8) error {
	return xerr.New(xerr.Protocol, "parseMMI", fmt.Errorf("unsupported ModelMappingInfo version %d, only version 1 is known", got))
}

// Byte sizes and offsets below are copied field-for-field from
// modelmap.py's RTWCAPIObject.defineFields calls (which describe
// rtw_capi.h/rtw_modelmap.h's on-target layout, packed with no alignment
// padding beyond the explicit 'Nx'/'Ns' entries). Every struct here is
// read with a fixed little-endian layout, per package doc.

const addressSize = 4

func parseAddress(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b)
}

// rawSignal mirrors modelmap.py's Signal (used for signals, root inputs and
// root outputs, which all share the rtwCAPI_Signals layout).
const signalSize = 28

type rawSignal struct {
	addrIndex     uint32
	blockPathPtr  uint32
	namePtr       uint32
	dataTypeIndex uint16
	dimension     uint16
	fixedPoint    uint16
}

func parseSignal(b []byte) rawSignal {
	return rawSignal{
		addrIndex:     binary.LittleEndian.Uint32(b[0:4]),
		blockPathPtr:  binary.LittleEndian.Uint32(b[8:12]),
		namePtr:       binary.LittleEndian.Uint32(b[12:16]),
		dataTypeIndex: binary.LittleEndian.Uint16(b[18:20]),
		dimension:     binary.LittleEndian.Uint16(b[20:22]),
		fixedPoint:    binary.LittleEndian.Uint16(b[22:24]),
	}
}

// rawParameter mirrors modelmap.py's Parameter (block and model parameters
// share the rtwCAPI_BlockParameters layout).
const paramSize = 20

type rawParameter struct {
	addrIndex     uint32
	blockPathPtr  uint32
	namePtr       uint32
	dataTypeIndex uint16
	dimension     uint16
	fixedPoint    uint16
}

func parseParameter(b []byte) rawParameter {
	return rawParameter{
		addrIndex:     binary.LittleEndian.Uint32(b[0:4]),
		blockPathPtr:  binary.LittleEndian.Uint32(b[4:8]),
		namePtr:       binary.LittleEndian.Uint32(b[8:12]),
		dataTypeIndex: binary.LittleEndian.Uint16(b[12:14]),
		dimension:     binary.LittleEndian.Uint16(b[14:16]),
		fixedPoint:    binary.LittleEndian.Uint16(b[16:18]),
	}
}

// rawState mirrors modelmap.py's State (rtwCAPI_States).
const stateSize = 40

type rawState struct {
	addrIndex     uint32
	blockPathPtr  uint32
	namePtr       uint32
	pathAliasPtr  uint32
	dataTypeIndex uint16
	dimension     uint16
	fixedPoint    uint16
	isContinuous  bool
}

func parseState(b []byte) rawState {
	return rawState{
		addrIndex:     binary.LittleEndian.Uint32(b[0:4]),
		blockPathPtr:  binary.LittleEndian.Uint32(b[8:12]),
		namePtr:       binary.LittleEndian.Uint32(b[12:16]),
		pathAliasPtr:  binary.LittleEndian.Uint32(b[16:20]),
		dataTypeIndex: binary.LittleEndian.Uint16(b[22:24]),
		dimension:     binary.LittleEndian.Uint16(b[24:26]),
		fixedPoint:    binary.LittleEndian.Uint16(b[26:28]),
		isContinuous:  b[29] != 0,
	}
}

// rawDataType mirrors modelmap.py's DataType (rtwCAPI_DataTypeMap). flags
// bit 0 is isComplex, bit 1 is isPointer, matching DataType._setattributes_.
const dataTypeSize = 20

type rawDataType struct {
	cDataNamePtr uint32
	cDataName    string
	numElements  uint16
	dataSize     uint16
	slDataID     uint8
	isComplex    bool
	isPointer    bool
}

func parseDataType(b []byte) rawDataType {
	flags := b[15]
	return rawDataType{
		cDataNamePtr: binary.LittleEndian.Uint32(b[0:4]),
		numElements:  binary.LittleEndian.Uint16(b[8:10]),
		dataSize:     binary.LittleEndian.Uint16(b[12:14]),
		slDataID:     b[14],
		isComplex:    flags&0x1 != 0,
		isPointer:    flags&0x2 != 0,
	}
}

// rawStaticInfo mirrors modelmap.py's ModelMappingStaticInfo.
const staticInfoSize = 101

type rawStaticInfo struct {
	ptrSignals, numSignals                 uint32
	ptrRootInputs, numRootInputs           uint32
	ptrRootOutputs, numRootOutputs         uint32
	ptrBlockParameters, numBlockParameters uint32
	ptrModelParameters, numModelParameters uint32
	ptrStates, numStates                   uint32
	dataTypeMapPtr                         uint32
}

func parseStaticInfo(b []byte) rawStaticInfo {
	u32 := binary.LittleEndian.Uint32
	return rawStaticInfo{
		ptrSignals: u32(b[0:4]), numSignals: u32(b[4:8]),
		ptrRootInputs: u32(b[8:12]), numRootInputs: u32(b[12:16]),
		ptrRootOutputs: u32(b[16:20]), numRootOutputs: u32(b[20:24]),
		ptrBlockParameters: u32(b[24:28]), numBlockParameters: u32(b[28:32]),
		ptrModelParameters: u32(b[32:36]), numModelParameters: u32(b[36:40]),
		ptrStates: u32(b[40:44]), numStates: u32(b[44:48]),
		dataTypeMapPtr: u32(b[48:52]),
	}
}

// rawMMI mirrors modelmap.py's ModelMappingInfo. Only versionNum, static,
// and dataAddrMap are used; path/fullPath are read on demand elsewhere if
// ever needed, following the same lazy spirit as the Python original even
// though this port resolves eagerly.
const mmiSize = 48

type rawMMI struct {
	versionNum     uint8
	staticPtr      uint32
	pathPtr        uint32
	fullPathPtr    uint32
	dataAddrMapPtr uint32
}

func parseMMI(b []byte) (rawMMI, error) {
	m := rawMMI{
		versionNum:     b[0],
		staticPtr:      binary.LittleEndian.Uint32(b[4:8]),
		pathPtr:        binary.LittleEndian.Uint32(b[8:12]),
		fullPathPtr:    binary.LittleEndian.Uint32(b[12:16]),
		dataAddrMapPtr: binary.LittleEndian.Uint32(b[16:20]),
	}
	if m.versionNum != 1 {
		return rawMMI{}, versionError(m.versionNum)
	}
	return m, nil
}
