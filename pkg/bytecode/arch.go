package bytecode

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for encoding and decoding. Callers test them with errors.Is;
// returned errors wrap them with position context.
var (
	// ErrInvalidEncoding reports an unknown opcode, an illegal
	// (mnemonic, mode) pair or a malformed operand.
	ErrInvalidEncoding = errors.New("invalid encoding")

	// ErrOperandWidth reports an operand that does not fit the architecture
	// width or an immediate whose size disagrees with its type tag.
	ErrOperandWidth = errors.New("operand width mismatch")

	// ErrUnexpectedEOF reports a truncated instruction stream or program file.
	ErrUnexpectedEOF = errors.New("unexpected end of program")
)

// Arch is the platform architecture a program was built for. It fixes the
// byte width of every usize operand on the wire.
type Arch uint8

const (
	Arch16 Arch = 16
	Arch32 Arch = 32
	Arch64 Arch = 64
)

// AllArches lists the supported architectures in ascending width.
var AllArches = []Arch{Arch16, Arch32, Arch64}

// ArchFromByte validates an architecture byte read from a program header.
func ArchFromByte(b byte) (Arch, error) {
	switch Arch(b) {
	case Arch16, Arch32, Arch64:
		return Arch(b), nil
	default:
		return 0, fmt.Errorf("%w: unknown architecture byte %d", ErrInvalidEncoding, b)
	}
}

// ParseArch accepts "b16", "16", "b32", "32", "b64" and "64".
func ParseArch(s string) (Arch, error) {
	switch strings.TrimPrefix(strings.ToLower(s), "b") {
	case "16":
		return Arch16, nil
	case "32":
		return Arch32, nil
	case "64":
		return Arch64, nil
	}
	return 0, fmt.Errorf("unknown architecture %q", s)
}

// UsizeLen returns the operand width in bytes: 2, 4 or 8.
func (a Arch) UsizeLen() int {
	switch a {
	case Arch16:
		return 2
	case Arch32:
		return 4
	default:
		return 8
	}
}

// MaxUsize returns the largest usize representable on the architecture.
func (a Arch) MaxUsize() uint64 {
	switch a {
	case Arch16:
		return 1<<16 - 1
	case Arch32:
		return 1<<32 - 1
	default:
		return 1<<64 - 1
	}
}

// String returns "b16", "b32" or "b64".
func (a Arch) String() string {
	switch a {
	case Arch16, Arch32, Arch64:
		return fmt.Sprintf("b%d", uint8(a))
	default:
		return fmt.Sprintf("Arch(%d)", uint8(a))
	}
}

// appendUsize appends v as a little-endian usize of the architecture width.
func (a Arch) appendUsize(buf []byte, v uint64) ([]byte, error) {
	if v > a.MaxUsize() {
		return buf, fmt.Errorf("%w: %d does not fit in %s usize", ErrOperandWidth, v, a)
	}
	switch a {
	case Arch16:
		return binary.LittleEndian.AppendUint16(buf, uint16(v)), nil
	case Arch32:
		return binary.LittleEndian.AppendUint32(buf, uint32(v)), nil
	default:
		return binary.LittleEndian.AppendUint64(buf, v), nil
	}
}

// readUsize reads a little-endian usize at data[pos:].
func (a Arch) readUsize(data []byte, pos int) (uint64, error) {
	n := a.UsizeLen()
	if pos < 0 || pos+n > len(data) {
		return 0, fmt.Errorf("%w reading usize at byte %d", ErrUnexpectedEOF, pos)
	}
	switch a {
	case Arch16:
		return uint64(binary.LittleEndian.Uint16(data[pos:])), nil
	case Arch32:
		return uint64(binary.LittleEndian.Uint32(data[pos:])), nil
	default:
		return binary.LittleEndian.Uint64(data[pos:]), nil
	}
}
