package debuginfo

import (
	"debug/dwarf"
	"testing"

	"github.com/Ultimaker/OpenTelepathy/internal/domain"
)

func newConverter() *converter {
	return &converter{order: domain.LittleEndian, seen: map[dwarf.Type]*domain.Type{}}
}

func float32Type() *dwarf.FloatType {
	return &dwarf.FloatType{BasicType: dwarf.BasicType{CommonType: dwarf.CommonType{Name: "float", ByteSize: 4}}}
}

func uint32Type() *dwarf.UintType {
	return &dwarf.UintType{BasicType: dwarf.BasicType{CommonType: dwarf.CommonType{Name: "unsigned int", ByteSize: 4}}}
}

func int32Type() *dwarf.IntType {
	return &dwarf.IntType{BasicType: dwarf.BasicType{CommonType: dwarf.CommonType{Name: "int", ByteSize: 4}}}
}

func TestConvertBaseTypes(t *testing.T) {
	c := newConverter()

	got, err := c.convert(float32Type())
	if err != nil || got.Kind != domain.KindFloat || got.Width != 4 {
		t.Fatalf("float32: got %+v err %v", got, err)
	}

	got, err = c.convert(int32Type())
	if err != nil || got.Kind != domain.KindSignedInt || got.Width != 4 {
		t.Fatalf("int32: got %+v err %v", got, err)
	}

	got, err = c.convert(uint32Type())
	if err != nil || got.Kind != domain.KindUnsignedInt || got.Width != 4 {
		t.Fatalf("uint32: got %+v err %v", got, err)
	}
}

func TestConvertStripsTypedefsAndQualifiers(t *testing.T) {
	c := newConverter()
	wrapped := &dwarf.TypedefType{
		CommonType: dwarf.CommonType{Name: "float32_t"},
		Type: &dwarf.QualType{
			CommonType: dwarf.CommonType{Name: "const float"},
			Qual:       "const",
			Type:       float32Type(),
		},
	}
	got, err := c.convert(wrapped)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if got.Kind != domain.KindFloat || got.Width != 4 {
		t.Fatalf("expected a plain float, got %+v", got)
	}
}

func TestConvertArray(t *testing.T) {
	c := newConverter()
	arr := &dwarf.ArrayType{
		CommonType: dwarf.CommonType{ByteSize: 20},
		Type:       float32Type(),
		Count:      5,
	}
	got, err := c.convert(arr)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if got.Kind != domain.KindArray || got.Length != 5 || got.Elem.Kind != domain.KindFloat {
		t.Fatalf("unexpected array type: %+v", got)
	}
	if got.Size() != 20 {
		t.Fatalf("expected size 20, got %d", got.Size())
	}
}

func TestConvertStructFlattensAnonymousMembers(t *testing.T) {
	c := newConverter()
	inner := &dwarf.StructType{
		CommonType: dwarf.CommonType{ByteSize: 8},
		Kind:       "struct",
		Field: []*dwarf.StructField{
			{Name: "x", Type: int32Type(), ByteOffset: 0},
			{Name: "y", Type: int32Type(), ByteOffset: 4},
		},
	}
	outer := &dwarf.StructType{
		CommonType: dwarf.CommonType{ByteSize: 12},
		Kind:       "struct",
		Field: []*dwarf.StructField{
			{Name: "", Type: inner, ByteOffset: 0},
			{Name: "err", Type: float32Type(), ByteOffset: 8},
		},
	}

	got, err := c.convert(outer)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if got.Kind != domain.KindRecord {
		t.Fatalf("expected record, got %v", got.Kind)
	}
	names := map[string]int{}
	for _, f := range got.Fields {
		names[f.Name] = f.Offset
	}
	if names["x"] != 0 || names["y"] != 4 || names["err"] != 8 {
		t.Fatalf("expected flattened offsets x=0 y=4 err=8, got %+v", names)
	}
}

func TestConvertPointerHandlesSelfReference(t *testing.T) {
	c := newConverter()
	node := &dwarf.StructType{
		CommonType: dwarf.CommonType{ByteSize: 8},
		Kind:       "struct",
	}
	ptr := &dwarf.PtrType{Type: node}
	node.Field = []*dwarf.StructField{
		{Name: "value", Type: int32Type(), ByteOffset: 0},
		{Name: "next", Type: ptr, ByteOffset: 4},
	}

	got, err := c.convert(node)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	nextField := got.Fields[1]
	if nextField.Type.Kind != domain.KindPointer {
		t.Fatalf("expected pointer field, got %v", nextField.Type.Kind)
	}
	if nextField.Type.Pointee != got {
		t.Fatalf("expected self-referential pointee to alias the outer record")
	}
}

func TestConvertBitField(t *testing.T) {
	c := newConverter()
	// unsigned int flags : 3, at bit 5 from the start of the struct
	// (DWARF>=4 DataBitOffset convention).
	s := &dwarf.StructType{
		CommonType: dwarf.CommonType{ByteSize: 4},
		Kind:       "struct",
		Field: []*dwarf.StructField{
			{Name: "flags", Type: uint32Type(), BitSize: 3, DataBitOffset: 5},
		},
	}
	got, err := c.convert(s)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	f := got.Fields[0]
	if f.Offset != 0 {
		t.Fatalf("expected storage unit offset 0, got %d", f.Offset)
	}
	if f.Type.BitOffset != 5 || f.Type.BitWidth != 3 {
		t.Fatalf("expected BitOffset=5 BitWidth=3, got %+v", f.Type)
	}
}

func TestConvertRejectsUnsupportedBaseType(t *testing.T) {
	c := newConverter()
	weird := &dwarf.ComplexType{BasicType: dwarf.BasicType{CommonType: dwarf.CommonType{Name: "complex", ByteSize: 16}}}
	if _, err := c.convert(weird); err == nil {
		t.Fatal("expected an error for an unsupported base type")
	}
}
