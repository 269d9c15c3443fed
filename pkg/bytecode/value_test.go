package bytecode

import (
	"bytes"
	"errors"
	"testing"
)

func TestValueLayout(t *testing.T) {
	tests := []struct {
		name string
		v    Value
		want []byte
	}{
		{"void", Void(), []byte{8}},
		{"null", Null(), []byte{10}},
		{"byte", Byte(0xAB), []byte{4, 0xAB}},
		{"bool", Bool(true), []byte{5, 1}},
		{"int8", IntN(Int8, -1), []byte{1, 8, 0xFF}},
		{"int16", IntN(Int16, 0x0102), []byte{1, 16, 0x02, 0x01}},
		{"int64", Int(3), []byte{1, 64, 3, 0, 0, 0, 0, 0, 0, 0}},
		{"char", Char('A'), []byte{7, 'A', 0, 0, 0}},
		{"string", String("hi"), []byte{6, 2, 0, 0, 0, 'h', 'i'}},
		{"array", Array(Byte(1), Bool(false)), []byte{9, 2, 0, 0, 0, 4, 1, 5, 0}},
	}
	for _, tt := range tests {
		got := tt.v.AppendBinary(nil)
		if !bytes.Equal(got, tt.want) {
			t.Errorf("%s: AppendBinary = %v, want %v", tt.name, got, tt.want)
			continue
		}
		back, n, err := DecodeValue(got, 0)
		if err != nil {
			t.Errorf("%s: DecodeValue error: %v", tt.name, err)
			continue
		}
		if n != len(got) || !back.Equal(tt.v) {
			t.Errorf("%s: DecodeValue = %s (%d bytes), want %s", tt.name, back, n, tt.v)
		}
	}
}

func TestZeroValueIsVoid(t *testing.T) {
	var v Value
	if v.Kind() != KindVoid || !v.IsVoid() {
		t.Errorf("zero Value kind = %s, want void", v.Kind())
	}
	if !v.Equal(Void()) {
		t.Error("zero Value != Void()")
	}
}

func TestIntNWraps(t *testing.T) {
	tests := []struct {
		w    IntWidth
		in   int64
		want int64
	}{
		{Int8, 127 + 1, -128},
		{Int8, 255, -1},
		{Int16, 1 << 16, 0},
		{Int32, 1<<31 + 5, -(1 << 31) + 5},
		{Int64, -7, -7},
	}
	for _, tt := range tests {
		if got := IntN(tt.w, tt.in).AsInt(); got != tt.want {
			t.Errorf("IntN(%d, %d) = %d, want %d", tt.w, tt.in, got, tt.want)
		}
	}
}

func TestCloneIsIndependent(t *testing.T) {
	orig := Array(String("a"), Int(1))
	c := orig.Clone()
	c.Elems()[0] = String("changed")
	if orig.Elems()[0].AsString() != "a" {
		t.Errorf("clone shares storage with original: %s", orig)
	}
}

func TestDecodeValueErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, ErrUnexpectedEOF},
		{"unknown tag", []byte{99}, ErrInvalidEncoding},
		{"bad int width", []byte{1, 12, 0}, ErrInvalidEncoding},
		{"short double", []byte{3, 0, 0}, ErrUnexpectedEOF},
		{"short string", []byte{6, 5, 0, 0, 0, 'a'}, ErrUnexpectedEOF},
		{"array count past end", []byte{9, 0xFF, 0xFF, 0xFF, 0x0F, 8}, ErrUnexpectedEOF},
	}
	for _, tt := range tests {
		if _, _, err := DecodeValue(tt.data, 0); !errors.Is(err, tt.want) {
			t.Errorf("%s: error = %v, want %v", tt.name, err, tt.want)
		}
	}
}

// nested wraps Int(1) in depth arrays.
func nested(depth int) Value {
	v := Int(1)
	for i := 0; i < depth; i++ {
		v = Array(v, Null())
	}
	return v
}

func TestDecodeNestedArrays(t *testing.T) {
	deep := nested(MaxValueDepth)
	data := deep.AppendBinary(nil)
	got, n, err := DecodeValue(data, 0)
	if err != nil || n != len(data) || !got.Equal(deep) {
		t.Fatalf("DecodeValue(depth %d) = %d bytes, %v", MaxValueDepth, n, err)
	}
	if got, err := DecodePayload(KindArray, data[1:]); err != nil || !got.Equal(deep) {
		t.Errorf("DecodePayload(depth %d) error: %v", MaxValueDepth, err)
	}

	tooDeep := nested(MaxValueDepth + 1).AppendBinary(nil)
	if _, _, err := DecodeValue(tooDeep, 0); !errors.Is(err, ErrInvalidEncoding) {
		t.Errorf("DecodeValue(depth %d) error = %v, want %v", MaxValueDepth+1, err, ErrInvalidEncoding)
	}
	if _, err := DecodePayload(KindArray, tooDeep[1:]); !errors.Is(err, ErrInvalidEncoding) {
		t.Errorf("DecodePayload(depth %d) error = %v, want %v", MaxValueDepth+1, err, ErrInvalidEncoding)
	}
}

func TestValueString(t *testing.T) {
	tests := []struct {
		v    Value
		want string
	}{
		{Int(-3), "-3"},
		{Bool(true), "true"},
		{String("x"), `"x"`},
		{Void(), "void"},
		{Array(Int(1), Int(2)), "[1, 2]"},
		{HeapRef(Ref{Index: 3, Gen: 1}), "heap#3@1"},
	}
	for _, tt := range tests {
		if got := tt.v.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
