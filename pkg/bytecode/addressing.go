package bytecode

import "fmt"

// Mode is an addressing mode: how an instruction's operand bytes locate the
// value it works on.
type Mode uint8

const (
	ModeImplicit         Mode = iota // no operand
	ModeImmediate                    // inline typed literal
	ModeAbsolute                     // frame-relative stack slot
	ModeAbsoluteIndex                // pointer slot + index slot
	ModeAbsoluteProperty             // pointer slot + property ordinal
	ModeAbsoluteStatic               // absolute stack slot
	ModeIndirectA                    // value held in register A
	ModeIndirectB
	ModeIndirectC
	ModeIndirectX
	ModeIndirectY
)

// ModeCount is the number of addressing modes.
const ModeCount = 11

var modeNames = [ModeCount]string{
	"implicit", "immediate", "absolute", "absolute_index", "absolute_property",
	"absolute_static", "indirect_a", "indirect_b", "indirect_c", "indirect_x", "indirect_y",
}

func (m Mode) String() string {
	if int(m) < ModeCount {
		return modeNames[m]
	}
	return fmt.Sprintf("Mode(%d)", uint8(m))
}

// AllModes lists every addressing mode in ordinal order.
func AllModes() []Mode {
	out := make([]Mode, ModeCount)
	for i := range out {
		out[i] = Mode(i)
	}
	return out
}

// Register names one of the five general registers.
type Register uint8

const (
	RegA Register = iota
	RegB
	RegC
	RegX
	RegY
)

// RegisterCount is the size of the register file.
const RegisterCount = 5

func (r Register) String() string {
	switch r {
	case RegA:
		return "A"
	case RegB:
		return "B"
	case RegC:
		return "C"
	case RegX:
		return "X"
	case RegY:
		return "Y"
	}
	return fmt.Sprintf("Register(%d)", uint8(r))
}

// ParseRegister maps "A".."Y" to a Register.
func ParseRegister(s string) (Register, bool) {
	switch s {
	case "A", "a":
		return RegA, true
	case "B", "b":
		return RegB, true
	case "C", "c":
		return RegC, true
	case "X", "x":
		return RegX, true
	case "Y", "y":
		return RegY, true
	}
	return 0, false
}

// IndirectRegister returns the register an indirect mode reads through.
// ok is false for every non-indirect mode.
func (m Mode) IndirectRegister() (Register, bool) {
	if m >= ModeIndirectA && m <= ModeIndirectY {
		return Register(m - ModeIndirectA), true
	}
	return 0, false
}

// IndirectMode is the inverse of IndirectRegister.
func IndirectMode(r Register) Mode { return ModeIndirectA + Mode(r) }

// Operand is a decoded operand. Which fields are meaningful depends on Mode:
// Immediate uses Value, Absolute and AbsoluteStatic use Addr, AbsoluteIndex
// and AbsoluteProperty use Addr and Index.
type Operand struct {
	Mode  Mode
	Value Value
	Addr  uint64
	Index uint64
}

// Imm, Abs, AbsIndex, AbsProp, Static and Indirect build operands.
func Imm(v Value) Operand { return Operand{Mode: ModeImmediate, Value: v} }
func Abs(addr uint64) Operand { return Operand{Mode: ModeAbsolute, Addr: addr} }
func Static(addr uint64) Operand { return Operand{Mode: ModeAbsoluteStatic, Addr: addr} }
func Indirect(r Register) Operand { return Operand{Mode: IndirectMode(r)} }
func AbsIndex(p, i uint64) Operand { return Operand{Mode: ModeAbsoluteIndex, Addr: p, Index: i} }
func AbsProp(p, k uint64) Operand { return Operand{Mode: ModeAbsoluteProperty, Addr: p, Index: k} }
func ImplicitOperand() Operand { return Operand{Mode: ModeImplicit} }

// String renders the operand in assembler syntax.
func (o Operand) String() string {
	switch o.Mode {
	case ModeImplicit:
		return ""
	case ModeImmediate:
		return "#" + Literal(o.Value)
	case ModeAbsolute:
		return fmt.Sprintf("$%d", o.Addr)
	case ModeAbsoluteIndex:
		return fmt.Sprintf("$%d[$%d]", o.Addr, o.Index)
	case ModeAbsoluteProperty:
		return fmt.Sprintf("$%d.%d", o.Addr, o.Index)
	case ModeAbsoluteStatic:
		return fmt.Sprintf("!%d", o.Addr)
	}
	if r, ok := o.Mode.IndirectRegister(); ok {
		return "@" + r.String()
	}
	return fmt.Sprintf("<%s>", o.Mode)
}

// OperandLen returns the encoded operand size in bytes for the architecture.
// Immediate operands include the tag, the size usize and the payload.
func (o Operand) OperandLen(arch Arch) int {
	switch o.Mode {
	case ModeImmediate:
		return 1 + arch.UsizeLen() + len(o.Value.AppendPayload(nil))
	case ModeAbsolute, ModeAbsoluteStatic:
		return arch.UsizeLen()
	case ModeAbsoluteIndex, ModeAbsoluteProperty:
		return 2 * arch.UsizeLen()
	}
	return 0
}

// AppendOperand appends the operand bytes for the architecture.
func AppendOperand(buf []byte, o Operand, arch Arch) ([]byte, error) {
	var err error
	switch o.Mode {
	case ModeImplicit:
	case ModeImmediate:
		payload := o.Value.AppendPayload(nil)
		buf = append(buf, byte(o.Value.Kind()))
		if buf, err = arch.appendUsize(buf, uint64(len(payload))); err != nil {
			return buf, err
		}
		buf = append(buf, payload...)
	case ModeAbsolute, ModeAbsoluteStatic:
		buf, err = arch.appendUsize(buf, o.Addr)
	case ModeAbsoluteIndex, ModeAbsoluteProperty:
		if buf, err = arch.appendUsize(buf, o.Addr); err != nil {
			return buf, err
		}
		buf, err = arch.appendUsize(buf, o.Index)
	default:
		if _, ok := o.Mode.IndirectRegister(); !ok {
			return buf, fmt.Errorf("%w: addressing mode %d", ErrInvalidEncoding, o.Mode)
		}
	}
	return buf, err
}

// DecodeOperand reads the operand for mode at data[pos:] and returns it with
// the position just past it.
func DecodeOperand(data []byte, pos int, mode Mode, arch Arch) (Operand, int, error) {
	op := Operand{Mode: mode}
	n := arch.UsizeLen()
	switch mode {
	case ModeImplicit:
		return op, pos, nil
	case ModeImmediate:
		if pos >= len(data) {
			return op, pos, fmt.Errorf("%w reading immediate tag", ErrUnexpectedEOF)
		}
		kind := Kind(data[pos])
		if !kind.Valid() {
			return op, pos, fmt.Errorf("%w: unknown immediate type tag %d", ErrInvalidEncoding, kind)
		}
		size, err := arch.readUsize(data, pos+1)
		if err != nil {
			return op, pos, err
		}
		start := pos + 1 + n
		if size > uint64(len(data)-start) {
			return op, pos, fmt.Errorf("%w reading %d byte immediate", ErrUnexpectedEOF, size)
		}
		end := start + int(size)
		v, err := DecodePayload(kind, data[start:end])
		if err != nil {
			return op, pos, err
		}
		op.Value = v
		return op, end, nil
	case ModeAbsolute, ModeAbsoluteStatic:
		addr, err := arch.readUsize(data, pos)
		if err != nil {
			return op, pos, err
		}
		op.Addr = addr
		return op, pos + n, nil
	case ModeAbsoluteIndex, ModeAbsoluteProperty:
		addr, err := arch.readUsize(data, pos)
		if err != nil {
			return op, pos, err
		}
		idx, err := arch.readUsize(data, pos+n)
		if err != nil {
			return op, pos, err
		}
		op.Addr, op.Index = addr, idx
		return op, pos + 2*n, nil
	}
	if _, ok := mode.IndirectRegister(); ok {
		return op, pos, nil
	}
	return op, pos, fmt.Errorf("%w: addressing mode %d", ErrInvalidEncoding, mode)
}
