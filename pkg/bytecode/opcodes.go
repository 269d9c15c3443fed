package bytecode

import (
	"fmt"
	"strings"
)

// Mnemonic identifies an instruction independent of its addressing mode.
type Mnemonic uint8

const (
	// ========================================================================
	// Loads and stores
	// ========================================================================

	LDA Mnemonic = iota // Load A
	LDB                 // Load B
	LDC                 // Load C
	LDX                 // Load X
	LDY                 // Load Y
	STA                 // Store A
	STB                 // Store B
	STC                 // Store C
	STX                 // Store X
	STY                 // Store Y

	// ========================================================================
	// Comparison, logic and arithmetic: read B and C, write A
	// ========================================================================

	EQ  // Equal
	NE  // Not equal
	GT  // Greater than
	LT  // Less than
	GQ  // Greater or equal
	LQ  // Less or equal
	AND // Logical and
	OR  // Logical or
	ADD // Add (concatenates strings)
	SUB // Subtract
	MUL // Multiply
	EXP // Exponent
	DIV // Divide
	MOD // Modulo

	// ========================================================================
	// Control flow
	// ========================================================================

	JMP  // Jump
	JMPA // Jump if A is true
	CALL // Call function at FN header
	RET  // Return from function

	// ========================================================================
	// Collections
	// ========================================================================

	PUSH // Push to the array referenced by A
	SPUS // Push to the string referenced by A
	LEN  // Length of array or string into A

	// ========================================================================
	// Conversions of A
	// ========================================================================

	A2I // to integer
	A2F // to float
	A2D // to double
	A2B // to byte
	A2S // to string
	A2C // to char
	A2O // to bool by truthiness

	// ========================================================================
	// Allocation, frames and misc
	// ========================================================================

	ARR   // New array into A
	STR   // New string into A
	SAR   // New static array of N slots into A
	POPS  // Pop last element of array into A
	BRK   // Breakpoint trap
	CALLN // Native call
	CO    // Clone slot into A
	FN    // Function header
	DEA   // Deallocate slot

	mnemonicCount
)

// MnemonicCount is the number of distinct mnemonics.
const MnemonicCount = int(mnemonicCount)

var mnemonicNames = [MnemonicCount]string{
	"LDA", "LDB", "LDC", "LDX", "LDY", "STA", "STB", "STC", "STX", "STY",
	"EQ", "NE", "GT", "LT", "GQ", "LQ", "AND", "OR", "ADD", "SUB", "MUL", "EXP", "DIV", "MOD",
	"JMP", "JMPA", "CALL", "RET",
	"PUSH", "SPUS", "LEN",
	"A2I", "A2F", "A2D", "A2B", "A2S", "A2C", "A2O",
	"ARR", "STR", "SAR", "POPS", "BRK", "CALLN", "CO", "FN", "DEA",
}

// String returns the assembler name.
func (m Mnemonic) String() string {
	if int(m) < MnemonicCount {
		return mnemonicNames[m]
	}
	return fmt.Sprintf("Mnemonic(%d)", uint8(m))
}

// ParseMnemonic looks a mnemonic up by name, case-insensitively.
func ParseMnemonic(s string) (Mnemonic, bool) {
	m, ok := mnemonicByName[strings.ToUpper(s)]
	return m, ok
}

// AllMnemonics lists every mnemonic in table order.
func AllMnemonics() []Mnemonic {
	out := make([]Mnemonic, MnemonicCount)
	for i := range out {
		out[i] = Mnemonic(i)
	}
	return out
}

// LoadRegister returns the register written by an LDx mnemonic.
func (m Mnemonic) LoadRegister() (Register, bool) {
	if m >= LDA && m <= LDY {
		return Register(m - LDA), true
	}
	return 0, false
}

// StoreRegister returns the register read by an STx mnemonic.
func (m Mnemonic) StoreRegister() (Register, bool) {
	if m >= STA && m <= STY {
		return Register(m - STA), true
	}
	return 0, false
}

// ============================================================================
// Legality matrix
// ============================================================================

var (
	loadModes = func(self Register) []Mode {
		modes := []Mode{ModeImmediate, ModeAbsolute, ModeAbsoluteIndex, ModeAbsoluteProperty, ModeAbsoluteStatic}
		for r := RegA; r <= RegY; r++ {
			if r != self {
				modes = append(modes, IndirectMode(r))
			}
		}
		return modes
	}
	storeModes   = []Mode{ModeImplicit, ModeImmediate, ModeAbsolute, ModeAbsoluteIndex, ModeAbsoluteProperty}
	implicitOnly = []Mode{ModeImplicit}
	absoluteOnly = []Mode{ModeAbsolute}
	pushModes    = []Mode{ModeAbsolute, ModeAbsoluteIndex, ModeIndirectA, ModeIndirectB, ModeIndirectC, ModeIndirectX, ModeIndirectY}
)

// instructionTable is the single source of truth for opcode numbering.
// Opcodes are assigned sequentially from 1 in row order, then mode order.
var instructionTable = []struct {
	Mnemonic Mnemonic
	Modes    []Mode
}{
	{LDA, loadModes(RegA)},
	{LDB, loadModes(RegB)},
	{LDC, loadModes(RegC)},
	{LDX, loadModes(RegX)},
	{LDY, loadModes(RegY)},
	{STA, storeModes},
	{STB, storeModes},
	{STC, storeModes},
	{STX, storeModes},
	{STY, storeModes},
	{EQ, implicitOnly},
	{NE, implicitOnly},
	{GT, implicitOnly},
	{LT, implicitOnly},
	{GQ, implicitOnly},
	{LQ, implicitOnly},
	{AND, implicitOnly},
	{OR, implicitOnly},
	{ADD, implicitOnly},
	{SUB, implicitOnly},
	{MUL, implicitOnly},
	{EXP, implicitOnly},
	{DIV, implicitOnly},
	{MOD, implicitOnly},
	{JMP, absoluteOnly},
	{JMPA, absoluteOnly},
	{CALL, absoluteOnly},
	{RET, implicitOnly},
	{PUSH, pushModes},
	{SPUS, pushModes},
	{LEN, absoluteOnly},
	{A2I, implicitOnly},
	{A2F, implicitOnly},
	{A2D, implicitOnly},
	{A2B, implicitOnly},
	{A2S, implicitOnly},
	{A2C, implicitOnly},
	{A2O, implicitOnly},
	{ARR, implicitOnly},
	{STR, implicitOnly},
	{SAR, []Mode{ModeImmediate}},
	{POPS, absoluteOnly},
	{BRK, implicitOnly},
	{CALLN, absoluteOnly},
	{CO, absoluteOnly},
	{FN, []Mode{ModeImmediate}},
	{DEA, absoluteOnly},
}

// MaxOpcode is the highest assigned opcode.
const MaxOpcode = 119

type pair struct {
	Mnemonic Mnemonic
	Mode     Mode
}

type decodeEntry struct {
	pair
	legal bool
}

var (
	encodeTable    map[pair]byte
	decodeTable    [256]decodeEntry
	mnemonicByName map[string]Mnemonic
)

func init() {
	if err := buildTables(); err != nil {
		panic(fmt.Sprintf("bytecode: instruction table: %v", err))
	}
}

// buildTables expands instructionTable into the encode map and decode array
// and checks that the numbering is complete and unambiguous.
func buildTables() error {
	encodeTable = make(map[pair]byte, MaxOpcode)
	mnemonicByName = make(map[string]Mnemonic, MnemonicCount)
	seen := make(map[Mnemonic]bool, MnemonicCount)

	next := 1
	for _, row := range instructionTable {
		if seen[row.Mnemonic] {
			return fmt.Errorf("%s listed twice", row.Mnemonic)
		}
		seen[row.Mnemonic] = true
		mnemonicByName[row.Mnemonic.String()] = row.Mnemonic
		for _, mode := range row.Modes {
			p := pair{row.Mnemonic, mode}
			if _, dup := encodeTable[p]; dup {
				return fmt.Errorf("%s %s listed twice", row.Mnemonic, mode)
			}
			if next > 255 {
				return fmt.Errorf("opcode space exhausted at %s %s", row.Mnemonic, mode)
			}
			encodeTable[p] = byte(next)
			decodeTable[next] = decodeEntry{pair: p, legal: true}
			next++
		}
	}
	if len(seen) != MnemonicCount {
		return fmt.Errorf("%d mnemonics in table, want %d", len(seen), MnemonicCount)
	}
	if next-1 != MaxOpcode {
		return fmt.Errorf("%d opcodes assigned, want %d", next-1, MaxOpcode)
	}
	return nil
}

// Encode returns the opcode for a (mnemonic, mode) pair.
func Encode(m Mnemonic, mode Mode) (byte, error) {
	op, ok := encodeTable[pair{m, mode}]
	if !ok {
		return 0, fmt.Errorf("%w: %s does not support %s addressing", ErrInvalidEncoding, m, mode)
	}
	return op, nil
}

// Decode returns the (mnemonic, mode) pair for an opcode.
func Decode(op byte) (Mnemonic, Mode, error) {
	e := decodeTable[op]
	if !e.legal {
		return 0, 0, fmt.Errorf("%w: unknown opcode %d", ErrInvalidEncoding, op)
	}
	return e.Mnemonic, e.Mode, nil
}

// Legal reports whether a (mnemonic, mode) pair has an opcode.
func Legal(m Mnemonic, mode Mode) bool {
	_, ok := encodeTable[pair{m, mode}]
	return ok
}

// Modes returns the addressing modes a mnemonic supports, in opcode order.
func (m Mnemonic) Modes() []Mode {
	for _, row := range instructionTable {
		if row.Mnemonic == m {
			return append([]Mode(nil), row.Modes...)
		}
	}
	return nil
}
