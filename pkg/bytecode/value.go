package bytecode

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind is the runtime type tag of a Value. Its numeric value is the tag byte
// written before every encoded payload.
type Kind uint8

const (
	KindInteger  Kind = 1
	KindFloat    Kind = 2
	KindDouble   Kind = 3
	KindByte     Kind = 4
	KindBool     Kind = 5
	KindString   Kind = 6
	KindChar     Kind = 7
	KindVoid     Kind = 8
	KindArray    Kind = 9
	KindNull     Kind = 10
	KindFunction Kind = 12
	KindStackRef Kind = 13
	KindHeapRef  Kind = 14
)

var kindNames = map[Kind]string{
	KindInteger:  "int",
	KindFloat:    "float",
	KindDouble:   "double",
	KindByte:     "byte",
	KindBool:     "bool",
	KindString:   "string",
	KindChar:     "char",
	KindVoid:     "void",
	KindArray:    "array",
	KindNull:     "null",
	KindFunction: "function",
	KindStackRef: "stack_ref",
	KindHeapRef:  "heap_ref",
}

// String returns the short type name used by the assembler and debugger.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Valid reports whether k is a known tag.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// IsNumeric reports whether values of kind k take part in arithmetic.
func (k Kind) IsNumeric() bool {
	switch k {
	case KindInteger, KindFloat, KindDouble, KindByte:
		return true
	}
	return false
}

// IntWidth is the declared bit width of an Integer value.
type IntWidth uint8

const (
	Int8  IntWidth = 8
	Int16 IntWidth = 16
	Int32 IntWidth = 32
	Int64 IntWidth = 64
)

func (w IntWidth) valid() bool {
	return w == Int8 || w == Int16 || w == Int32 || w == Int64
}

// Truncate wraps v to the width, sign-extending the result.
func (w IntWidth) Truncate(v int64) int64 {
	switch w {
	case Int8:
		return int64(int8(v))
	case Int16:
		return int64(int16(v))
	case Int32:
		return int64(int32(v))
	default:
		return v
	}
}

// Ref identifies a heap entry: an arena index plus the generation the entry
// had when the reference was taken.
type Ref struct {
	Index uint32
	Gen   uint32
}

func (r Ref) bits() uint64 { return uint64(r.Gen)<<32 | uint64(r.Index) }

func refFromBits(b uint64) Ref { return Ref{Index: uint32(b), Gen: uint32(b >> 32)} }

// String returns "heap#index@gen".
func (r Ref) String() string { return fmt.Sprintf("heap#%d@%d", r.Index, r.Gen) }

// Value is a tagged runtime value. The zero Value is Void.
//
// Strings and arrays own their payload; Clone produces an independent copy.
// The engine keeps them in heap memory and moves HeapRef values around.
type Value struct {
	kind  Kind
	width IntWidth
	bits  uint64
	str   []byte
	elems []Value
}

// ---------------------------------------------------------------------------
// Constructors
// ---------------------------------------------------------------------------

func Void() Value { return Value{kind: KindVoid} }
func Null() Value { return Value{kind: KindNull} }

// Int returns a 64-bit Integer.
func Int(v int64) Value { return IntN(Int64, v) }

// IntN returns an Integer of the given width, wrapping v to fit.
func IntN(w IntWidth, v int64) Value {
	if !w.valid() {
		w = Int64
	}
	return Value{kind: KindInteger, width: w, bits: uint64(w.Truncate(v))}
}

func Byte(b byte) Value { return Value{kind: KindByte, bits: uint64(b)} }
func Char(r rune) Value { return Value{kind: KindChar, bits: uint64(uint32(r))} }
func Float(f float32) Value { return Value{kind: KindFloat, bits: uint64(math.Float32bits(f))} }
func Double(f float64) Value { return Value{kind: KindDouble, bits: math.Float64bits(f)} }
func Function(entry uint64) Value { return Value{kind: KindFunction, bits: entry} }
func StackRef(slot uint64) Value { return Value{kind: KindStackRef, bits: slot} }
func HeapRef(r Ref) Value { return Value{kind: KindHeapRef, bits: r.bits()} }

func Bool(b bool) Value {
	v := Value{kind: KindBool}
	if b {
		v.bits = 1
	}
	return v
}

// String returns a String value holding a copy of s.
func String(s string) Value { return Value{kind: KindString, str: []byte(s)} }

// Array returns an Array value holding copies of elems.
func Array(elems ...Value) Value {
	out := make([]Value, len(elems))
	for i, e := range elems {
		out[i] = e.Clone()
	}
	return Value{kind: KindArray, elems: out}
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

// Kind returns the value's tag. The zero Value reports KindVoid.
func (v Value) Kind() Kind {
	if v.kind == 0 {
		return KindVoid
	}
	return v.kind
}

// Width returns the declared width of an Integer, zero for other kinds.
func (v Value) Width() IntWidth { return v.width }

func (v Value) IsVoid() bool { return v.Kind() == KindVoid }

// AsInt returns the integer payload; Byte and Char widen, Bool maps to 0/1.
func (v Value) AsInt() int64 {
	switch v.Kind() {
	case KindInteger:
		return int64(v.bits)
	case KindByte, KindBool, KindFunction, KindStackRef:
		return int64(v.bits)
	case KindChar:
		return int64(int32(uint32(v.bits)))
	}
	return 0
}

func (v Value) AsFloat() float32 { return math.Float32frombits(uint32(v.bits)) }
func (v Value) AsDouble() float64 { return math.Float64frombits(v.bits) }
func (v Value) AsByte() byte { return byte(v.bits) }
func (v Value) AsBool() bool { return v.bits != 0 }
func (v Value) AsChar() rune { return rune(int32(uint32(v.bits))) }
func (v Value) AsRef() Ref { return refFromBits(v.bits) }
func (v Value) AsSlot() uint64 { return v.bits }

// AsString returns the string payload.
func (v Value) AsString() string { return string(v.str) }

// Elems returns the array elements. The slice is shared with v.
func (v Value) Elems() []Value { return v.elems }

// Len returns the payload length of a String (bytes) or Array (elements).
func (v Value) Len() int {
	switch v.Kind() {
	case KindString:
		return len(v.str)
	case KindArray:
		return len(v.elems)
	}
	return 0
}

// WithElems returns an Array holding elems without copying them.
func WithElems(elems []Value) Value { return Value{kind: KindArray, elems: elems} }

// Clone returns a deep copy of v.
func (v Value) Clone() Value {
	out := v
	if v.str != nil {
		out.str = append([]byte(nil), v.str...)
	}
	if v.elems != nil {
		out.elems = make([]Value, len(v.elems))
		for i, e := range v.elems {
			out.elems[i] = e.Clone()
		}
	}
	return out
}

// Equal reports deep equality, including Integer width.
func (v Value) Equal(o Value) bool {
	if v.Kind() != o.Kind() || v.width != o.width || v.bits != o.bits {
		return false
	}
	switch v.Kind() {
	case KindString:
		return string(v.str) == string(o.str)
	case KindArray:
		if len(v.elems) != len(o.elems) {
			return false
		}
		for i := range v.elems {
			if !v.elems[i].Equal(o.elems[i]) {
				return false
			}
		}
	}
	return true
}

// String renders v for listings and the debugger.
func (v Value) String() string {
	switch v.Kind() {
	case KindInteger:
		return strconv.FormatInt(v.AsInt(), 10)
	case KindFloat:
		return strconv.FormatFloat(float64(v.AsFloat()), 'g', -1, 32)
	case KindDouble:
		return strconv.FormatFloat(v.AsDouble(), 'g', -1, 64)
	case KindByte:
		return strconv.Itoa(int(v.AsByte()))
	case KindBool:
		return strconv.FormatBool(v.AsBool())
	case KindString:
		return strconv.Quote(v.AsString())
	case KindChar:
		return strconv.QuoteRune(v.AsChar())
	case KindVoid:
		return "void"
	case KindNull:
		return "null"
	case KindArray:
		parts := make([]string, len(v.elems))
		for i, e := range v.elems {
			parts[i] = e.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case KindFunction:
		return fmt.Sprintf("fn@%d", v.bits)
	case KindStackRef:
		return fmt.Sprintf("stack#%d", v.bits)
	case KindHeapRef:
		return v.AsRef().String()
	}
	return fmt.Sprintf("<%s>", v.Kind())
}

// TypeName returns the kind name, with the width for integers ("int32").
func (v Value) TypeName() string {
	if v.Kind() == KindInteger && v.width != Int64 {
		return fmt.Sprintf("int%d", v.width)
	}
	return v.Kind().String()
}

// ---------------------------------------------------------------------------
// Binary layout
// ---------------------------------------------------------------------------

// fixedPayloadLen returns the payload size of fixed-width kinds. Integer is
// handled by the caller since its size depends on the width byte.
func fixedPayloadLen(k Kind) (int, bool) {
	switch k {
	case KindVoid, KindNull:
		return 0, true
	case KindByte, KindBool:
		return 1, true
	case KindFloat, KindChar:
		return 4, true
	case KindDouble, KindFunction, KindStackRef, KindHeapRef:
		return 8, true
	}
	return 0, false
}

// AppendBinary appends the tag byte followed by the payload.
func (v Value) AppendBinary(buf []byte) []byte {
	buf = append(buf, byte(v.Kind()))
	return v.AppendPayload(buf)
}

// AppendPayload appends the payload without the tag byte.
func (v Value) AppendPayload(buf []byte) []byte {
	switch v.Kind() {
	case KindInteger:
		buf = append(buf, byte(v.width))
		switch v.width {
		case Int8:
			buf = append(buf, byte(v.bits))
		case Int16:
			buf = binary.LittleEndian.AppendUint16(buf, uint16(v.bits))
		case Int32:
			buf = binary.LittleEndian.AppendUint32(buf, uint32(v.bits))
		default:
			buf = binary.LittleEndian.AppendUint64(buf, v.bits)
		}
	case KindByte, KindBool:
		buf = append(buf, byte(v.bits))
	case KindFloat, KindChar:
		buf = binary.LittleEndian.AppendUint32(buf, uint32(v.bits))
	case KindDouble, KindFunction, KindStackRef, KindHeapRef:
		buf = binary.LittleEndian.AppendUint64(buf, v.bits)
	case KindString:
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(v.str)))
		buf = append(buf, v.str...)
	case KindArray:
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(v.elems)))
		for _, e := range v.elems {
			buf = e.AppendBinary(buf)
		}
	}
	return buf
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (v Value) MarshalBinary() ([]byte, error) {
	return v.AppendBinary(nil), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (v *Value) UnmarshalBinary(data []byte) error {
	val, n, err := DecodeValue(data, 0)
	if err != nil {
		return err
	}
	if n != len(data) {
		return fmt.Errorf("%w: %d trailing bytes after value", ErrInvalidEncoding, len(data)-n)
	}
	*v = val
	return nil
}

// MaxValueDepth bounds how deeply encoded arrays may nest.
const MaxValueDepth = 64

// DecodeValue reads a tagged value at data[pos:] and returns it together with
// the position just past it.
func DecodeValue(data []byte, pos int) (Value, int, error) {
	return decodeValue(data, pos, 0)
}

// decodeValue reads one tagged value inside depth enclosing arrays.
func decodeValue(data []byte, pos, depth int) (Value, int, error) {
	if pos >= len(data) {
		return Value{}, pos, fmt.Errorf("%w reading value tag", ErrUnexpectedEOF)
	}
	kind := Kind(data[pos])
	pos++
	if !kind.Valid() {
		return Value{}, pos, fmt.Errorf("%w: unknown type tag %d", ErrInvalidEncoding, kind)
	}
	if kind == KindArray {
		return decodeArray(data, pos, depth+1)
	}
	n, err := payloadLenAt(kind, data, pos)
	if err != nil {
		return Value{}, pos, err
	}
	if pos+n > len(data) {
		return Value{}, pos, fmt.Errorf("%w reading %s payload", ErrUnexpectedEOF, kind)
	}
	v, err := DecodePayload(kind, data[pos:pos+n])
	return v, pos + n, err
}

// decodeArray reads an array payload at data[pos:] in a single pass. depth
// counts this array.
func decodeArray(data []byte, pos, depth int) (Value, int, error) {
	if depth > MaxValueDepth {
		return Value{}, pos, fmt.Errorf("%w: arrays nested deeper than %d", ErrInvalidEncoding, MaxValueDepth)
	}
	if pos+4 > len(data) {
		return Value{}, pos, fmt.Errorf("%w reading array length", ErrUnexpectedEOF)
	}
	count := int(binary.LittleEndian.Uint32(data[pos:]))
	pos += 4
	// Every element takes at least its tag byte.
	if count > len(data)-pos {
		return Value{}, pos, fmt.Errorf("%w reading %d array elements", ErrUnexpectedEOF, count)
	}
	elems := make([]Value, 0, count)
	for i := 0; i < count; i++ {
		e, next, err := decodeValue(data, pos, depth)
		if err != nil {
			return Value{}, next, err
		}
		elems = append(elems, e)
		pos = next
	}
	return WithElems(elems), pos, nil
}

// payloadLenAt computes the payload length of a scalar or string value whose
// payload starts at data[pos:].
func payloadLenAt(kind Kind, data []byte, pos int) (int, error) {
	if n, ok := fixedPayloadLen(kind); ok {
		return n, nil
	}
	switch kind {
	case KindInteger:
		if pos >= len(data) {
			return 0, fmt.Errorf("%w reading integer width", ErrUnexpectedEOF)
		}
		w := IntWidth(data[pos])
		if !w.valid() {
			return 0, fmt.Errorf("%w: integer width %d", ErrInvalidEncoding, w)
		}
		return 1 + int(w)/8, nil
	case KindString:
		if pos+4 > len(data) {
			return 0, fmt.Errorf("%w reading string length", ErrUnexpectedEOF)
		}
		return 4 + int(binary.LittleEndian.Uint32(data[pos:])), nil
	}
	return 0, fmt.Errorf("%w: unknown type tag %d", ErrInvalidEncoding, kind)
}

// DecodePayload decodes an exact payload (no tag byte) of the given kind.
// A payload whose size disagrees with the kind fails with ErrOperandWidth.
func DecodePayload(kind Kind, p []byte) (Value, error) {
	if n, ok := fixedPayloadLen(kind); ok && len(p) != n {
		return Value{}, fmt.Errorf("%w: %s payload is %d bytes, want %d", ErrOperandWidth, kind, len(p), n)
	}
	switch kind {
	case KindVoid:
		return Void(), nil
	case KindNull:
		return Null(), nil
	case KindByte:
		return Byte(p[0]), nil
	case KindBool:
		if p[0] > 1 {
			return Value{}, fmt.Errorf("%w: bool payload %d", ErrInvalidEncoding, p[0])
		}
		return Bool(p[0] == 1), nil
	case KindFloat:
		return Value{kind: KindFloat, bits: uint64(binary.LittleEndian.Uint32(p))}, nil
	case KindChar:
		return Value{kind: KindChar, bits: uint64(binary.LittleEndian.Uint32(p))}, nil
	case KindDouble, KindFunction, KindStackRef, KindHeapRef:
		return Value{kind: kind, bits: binary.LittleEndian.Uint64(p)}, nil
	case KindInteger:
		if len(p) < 1 {
			return Value{}, fmt.Errorf("%w: empty integer payload", ErrOperandWidth)
		}
		w := IntWidth(p[0])
		if !w.valid() {
			return Value{}, fmt.Errorf("%w: integer width %d", ErrInvalidEncoding, w)
		}
		if len(p) != 1+int(w)/8 {
			return Value{}, fmt.Errorf("%w: int%d payload is %d bytes, want %d", ErrOperandWidth, w, len(p), 1+int(w)/8)
		}
		var raw int64
		switch w {
		case Int8:
			raw = int64(int8(p[1]))
		case Int16:
			raw = int64(int16(binary.LittleEndian.Uint16(p[1:])))
		case Int32:
			raw = int64(int32(binary.LittleEndian.Uint32(p[1:])))
		default:
			raw = int64(binary.LittleEndian.Uint64(p[1:]))
		}
		return IntN(w, raw), nil
	case KindString:
		if len(p) < 4 || int(binary.LittleEndian.Uint32(p)) != len(p)-4 {
			return Value{}, fmt.Errorf("%w: string payload length", ErrOperandWidth)
		}
		return String(string(p[4:])), nil
	case KindArray:
		if len(p) < 4 {
			return Value{}, fmt.Errorf("%w: array payload length", ErrOperandWidth)
		}
		v, pos, err := decodeArray(p, 0, 1)
		if err != nil {
			return Value{}, err
		}
		if pos != len(p) {
			return Value{}, fmt.Errorf("%w: array payload has %d trailing bytes", ErrOperandWidth, len(p)-pos)
		}
		return v, nil
	}
	return Value{}, fmt.Errorf("%w: unknown type tag %d", ErrInvalidEncoding, kind)
}
