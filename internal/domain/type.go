// Package domain holds the value types shared across every layer of the
// telepathy core: symbols, types, decoded values, DAQ configuration and
// samples. Nothing here talks to a transport or a target.
package domain

import "fmt"

// Kind identifies the shape of a Type.
type Kind int

const (
	KindSignedInt Kind = iota
	KindUnsignedInt
	KindFloat
	KindArray
	KindRecord
	KindPointer
)

func (k Kind) String() string {
	switch k {
	case KindSignedInt:
		return "signed-int"
	case KindUnsignedInt:
		return "unsigned-int"
	case KindFloat:
		return "float"
	case KindArray:
		return "array"
	case KindRecord:
		return "record"
	case KindPointer:
		return "pointer"
	default:
		return "unknown"
	}
}

// ByteOrder is the target's negotiated multi-byte field ordering, discovered
// at CONNECT time (spec.md §4.2).
type ByteOrder int

const (
	LittleEndian ByteOrder = iota
	BigEndian
)

// Field describes one member of a Record type.
type Field struct {
	Name   string
	Offset int
	Type   *Type
}

// Type is a tagged description of a target-side value's shape, closed under
// scalar / fixed-size array / record / pointer (spec.md §3).
//
// Total size is statically determined except for objects reached through a
// pointer, whose size is the pointee's size.
type Type struct {
	Kind Kind

	// Scalar
	Width int // bytes: 1, 2, 4 or 8

	// Bit-field (scalar only). BitWidth == 0 means "not a bit-field": the
	// full storage unit is the value.
	BitOffset int
	BitWidth  int

	// Array
	Elem   *Type
	Length int

	// Record
	Fields []Field

	// Pointer
	Pointee *Type

	Order ByteOrder
}

// Size returns the type's size in bytes. Pointer types report the pointer's
// own width (spec.md §3: pointee size is only known once dereferenced).
func (t *Type) Size() int {
	switch t.Kind {
	case KindSignedInt, KindUnsignedInt, KindFloat:
		return t.Width
	case KindArray:
		return t.Elem.Size() * t.Length
	case KindRecord:
		size := 0
		for _, f := range t.Fields {
			end := f.Offset + f.Type.Size()
			if end > size {
				size = end
			}
		}
		return size
	case KindPointer:
		return 4
	default:
		return 0
	}
}

func (t *Type) String() string {
	switch t.Kind {
	case KindArray:
		return fmt.Sprintf("[%d]%s", t.Length, t.Elem)
	case KindRecord:
		return "record"
	case KindPointer:
		return fmt.Sprintf("*%s", t.Pointee)
	default:
		return fmt.Sprintf("%s%d", t.Kind, t.Width*8)
	}
}
