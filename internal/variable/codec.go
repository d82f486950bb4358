package variable

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/Ultimaker/OpenTelepathy/internal/domain"
)

// Decode interprets data (exactly t.Size() bytes) per t's shape and byte
// order, mirroring remotevariables.Variable.__call__'s struct.unpack
// dispatch generalized to arrays and records. Bit-fields are read as their
// enclosing storage unit and masked/sign-extended client-side, per
// spec.md §4.3's "read as the enclosing storage unit and masked
// client-side".
func Decode(data []byte, t *domain.Type) (domain.Value, error) {
	switch t.Kind {
	case domain.KindSignedInt:
		raw := readUint(data[:t.Width], t.Order, t.Width)
		bits := t.Width * 8
		if t.BitWidth != 0 {
			raw = extractBits(raw, t.BitOffset, t.BitWidth)
			bits = t.BitWidth
		}
		return domain.IntValue(signExtend(raw, bits)), nil

	case domain.KindUnsignedInt:
		raw := readUint(data[:t.Width], t.Order, t.Width)
		if t.BitWidth != 0 {
			raw = extractBits(raw, t.BitOffset, t.BitWidth)
		}
		return domain.UintValue(raw), nil

	case domain.KindFloat:
		raw := readUint(data[:t.Width], t.Order, t.Width)
		if t.Width == 4 {
			return domain.FloatValue(float64(math.Float32frombits(uint32(raw)))), nil
		}
		return domain.FloatValue(math.Float64frombits(raw)), nil

	case domain.KindArray:
		elemSize := t.Elem.Size()
		vals := make([]domain.Value, t.Length)
		for i := 0; i < t.Length; i++ {
			v, err := Decode(data[i*elemSize:(i+1)*elemSize], t.Elem)
			if err != nil {
				return domain.Value{}, err
			}
			vals[i] = v
		}
		return domain.ArrayValue(vals), nil

	case domain.KindRecord:
		rec := make(map[string]domain.Value, len(t.Fields))
		for _, f := range t.Fields {
			v, err := Decode(data[f.Offset:f.Offset+f.Type.Size()], f.Type)
			if err != nil {
				return domain.Value{}, err
			}
			rec[f.Name] = v
		}
		return domain.RecordValue(rec), nil

	case domain.KindPointer:
		return domain.UintValue(readUint(data[:4], t.Order, 4)), nil

	default:
		return domain.Value{}, fmt.Errorf("variable: unsupported type kind %v", t.Kind)
	}
}

// Encode is Decode's inverse. Numeric range is checked against the
// destination width before any bytes are produced, per spec.md §4.5.
func Encode(v domain.Value, t *domain.Type) ([]byte, error) {
	switch t.Kind {
	case domain.KindSignedInt:
		if v.Kind != domain.KindSignedInt {
			return nil, fmt.Errorf("variable: expected a signed integer, got %v", v.Kind)
		}
		if !inSignedRange(v.Int, t.Width*8) {
			return nil, fmt.Errorf("variable: %d out of range for a %d-bit signed integer", v.Int, t.Width*8)
		}
		return writeUint(uint64(v.Int), t.Order, t.Width), nil

	case domain.KindUnsignedInt:
		if v.Kind != domain.KindUnsignedInt {
			return nil, fmt.Errorf("variable: expected an unsigned integer, got %v", v.Kind)
		}
		if !inUnsignedRange(v.Uint, t.Width*8) {
			return nil, fmt.Errorf("variable: %d out of range for a %d-bit unsigned integer", v.Uint, t.Width*8)
		}
		return writeUint(v.Uint, t.Order, t.Width), nil

	case domain.KindFloat:
		if v.Kind != domain.KindFloat {
			return nil, fmt.Errorf("variable: expected a float, got %v", v.Kind)
		}
		if t.Width == 4 {
			return writeUint(uint64(math.Float32bits(float32(v.Float))), t.Order, 4), nil
		}
		return writeUint(math.Float64bits(v.Float), t.Order, 8), nil

	case domain.KindArray:
		if v.Kind != domain.KindArray || len(v.Array) != t.Length {
			return nil, fmt.Errorf("variable: expected an array of length %d", t.Length)
		}
		elemSize := t.Elem.Size()
		out := make([]byte, elemSize*t.Length)
		for i, elem := range v.Array {
			b, err := Encode(elem, t.Elem)
			if err != nil {
				return nil, err
			}
			copy(out[i*elemSize:], b)
		}
		return out, nil

	case domain.KindRecord:
		if v.Kind != domain.KindRecord {
			return nil, fmt.Errorf("variable: expected a record, got %v", v.Kind)
		}
		out := make([]byte, t.Size())
		for _, f := range t.Fields {
			val, ok := v.Record[f.Name]
			if !ok {
				return nil, fmt.Errorf("variable: missing field %q", f.Name)
			}
			b, err := Encode(val, f.Type)
			if err != nil {
				return nil, err
			}
			copy(out[f.Offset:], b)
		}
		return out, nil

	case domain.KindPointer:
		if v.Kind != domain.KindUnsignedInt {
			return nil, fmt.Errorf("variable: expected an address, got %v", v.Kind)
		}
		return writeUint(v.Uint, t.Order, 4), nil

	default:
		return nil, fmt.Errorf("variable: unsupported type kind %v", t.Kind)
	}
}

// encodeBitField read-modify-writes a single bit-field within its
// enclosing storage unit, leaving every other bit of current untouched.
func encodeBitField(current []byte, v domain.Value, t *domain.Type) ([]byte, error) {
	raw := readUint(current, t.Order, t.Width)
	mask := bitMask(t.BitWidth)

	var field uint64
	switch t.Kind {
	case domain.KindSignedInt:
		if v.Kind != domain.KindSignedInt {
			return nil, fmt.Errorf("variable: expected a signed integer, got %v", v.Kind)
		}
		if !inSignedRange(v.Int, t.BitWidth) {
			return nil, fmt.Errorf("variable: %d out of range for a %d-bit bit-field", v.Int, t.BitWidth)
		}
		field = uint64(v.Int) & mask
	case domain.KindUnsignedInt:
		if v.Kind != domain.KindUnsignedInt {
			return nil, fmt.Errorf("variable: expected an unsigned integer, got %v", v.Kind)
		}
		if v.Uint > mask {
			return nil, fmt.Errorf("variable: %d out of range for a %d-bit bit-field", v.Uint, t.BitWidth)
		}
		field = v.Uint
	default:
		return nil, fmt.Errorf("variable: bit-field on non-integer type %v", t.Kind)
	}

	raw = (raw &^ (mask << t.BitOffset)) | (field << t.BitOffset)
	return writeUint(raw, t.Order, t.Width), nil
}

func readUint(b []byte, order domain.ByteOrder, width int) uint64 {
	var buf [8]byte
	if order == domain.BigEndian {
		copy(buf[8-width:], b[:width])
		return binary.BigEndian.Uint64(buf[:])
	}
	copy(buf[:width], b[:width])
	return binary.LittleEndian.Uint64(buf[:])
}

func writeUint(v uint64, order domain.ByteOrder, width int) []byte {
	var buf [8]byte
	if order == domain.BigEndian {
		binary.BigEndian.PutUint64(buf[:], v)
		out := make([]byte, width)
		copy(out, buf[8-width:])
		return out
	}
	binary.LittleEndian.PutUint64(buf[:], v)
	out := make([]byte, width)
	copy(out, buf[:width])
	return out
}

func extractBits(raw uint64, bitOffset, bitWidth int) uint64 {
	return (raw >> bitOffset) & bitMask(bitWidth)
}

func bitMask(bits int) uint64 {
	if bits >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << bits) - 1
}

func signExtend(raw uint64, bits int) int64 {
	if bits >= 64 {
		return int64(raw)
	}
	shift := 64 - bits
	return int64(raw<<shift) >> shift
}

func inSignedRange(v int64, bits int) bool {
	if bits >= 64 {
		return true
	}
	min := -(int64(1) << (bits - 1))
	max := int64(1)<<(bits-1) - 1
	return v >= min && v <= max
}

func inUnsignedRange(v uint64, bits int) bool {
	if bits >= 64 {
		return true
	}
	return v <= bitMask(bits)
}
