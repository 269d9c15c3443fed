package bytecode

import "fmt"

// Instruction is one decoded instruction.
type Instruction struct {
	Mnemonic Mnemonic
	Operand  Operand
}

// NewInstruction builds an instruction and checks its legality.
func NewInstruction(m Mnemonic, op Operand) (Instruction, error) {
	if !Legal(m, op.Mode) {
		return Instruction{}, fmt.Errorf("%w: %s does not support %s addressing", ErrInvalidEncoding, m, op.Mode)
	}
	return Instruction{Mnemonic: m, Operand: op}, nil
}

// Mode returns the instruction's addressing mode.
func (i Instruction) Mode() Mode { return i.Operand.Mode }

// Opcode returns the encoded opcode byte.
func (i Instruction) Opcode() (byte, error) { return Encode(i.Mnemonic, i.Operand.Mode) }

// String renders the instruction in assembler syntax.
func (i Instruction) String() string {
	if i.Operand.Mode == ModeImplicit {
		return i.Mnemonic.String()
	}
	return i.Mnemonic.String() + " " + i.Operand.String()
}

// EncodedLen returns the instruction size in bytes for the architecture.
func (i Instruction) EncodedLen(arch Arch) int {
	return 1 + i.Operand.OperandLen(arch)
}

// AppendEncoded appends the opcode and operand bytes. Illegal pairs and
// operands wider than the architecture are rejected.
func (i Instruction) AppendEncoded(buf []byte, arch Arch) ([]byte, error) {
	op, err := i.Opcode()
	if err != nil {
		return buf, err
	}
	buf = append(buf, op)
	out, err := AppendOperand(buf, i.Operand, arch)
	if err != nil {
		return buf, fmt.Errorf("encoding %s: %w", i, err)
	}
	return out, nil
}

// DecodeInstruction reads one instruction at data[pos:].
func DecodeInstruction(data []byte, pos int, arch Arch) (Instruction, int, error) {
	if pos >= len(data) {
		return Instruction{}, pos, fmt.Errorf("%w reading opcode at byte %d", ErrUnexpectedEOF, pos)
	}
	m, mode, err := Decode(data[pos])
	if err != nil {
		return Instruction{}, pos, fmt.Errorf("byte %d: %w", pos, err)
	}
	op, next, err := DecodeOperand(data, pos+1, mode, arch)
	if err != nil {
		return Instruction{}, pos, fmt.Errorf("byte %d (%s): %w", pos, m, err)
	}
	return Instruction{Mnemonic: m, Operand: op}, next, nil
}

// EncodeStream encodes instructions back to back and returns the bytes plus
// the byte offset of each instruction.
func EncodeStream(ins []Instruction, arch Arch) ([]byte, []int, error) {
	buf := make([]byte, 0, len(ins)*(1+arch.UsizeLen()))
	offsets := make([]int, len(ins))
	var err error
	for idx, in := range ins {
		offsets[idx] = len(buf)
		if buf, err = in.AppendEncoded(buf, arch); err != nil {
			return nil, nil, fmt.Errorf("instruction %d: %w", idx, err)
		}
	}
	return buf, offsets, nil
}

// DecodeStream decodes exactly count instructions starting at data[pos:].
func DecodeStream(data []byte, pos int, count int, arch Arch) ([]Instruction, []int, int, error) {
	ins := make([]Instruction, 0, count)
	offsets := make([]int, 0, count)
	base := pos
	for idx := 0; idx < count; idx++ {
		in, next, err := DecodeInstruction(data, pos, arch)
		if err != nil {
			return nil, nil, pos, fmt.Errorf("instruction %d: %w", idx, err)
		}
		ins = append(ins, in)
		offsets = append(offsets, pos-base)
		pos = next
	}
	return ins, offsets, pos, nil
}
