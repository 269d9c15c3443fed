package bytecode

import (
	"fmt"
	"strings"
)

// Disassemble returns a human-readable listing of the program.
func (p *Program) Disassemble() string {
	return p.DisassembleWithName("")
}

// DisassembleWithName returns a listing with a name header.
func (p *Program) DisassembleWithName(name string) string {
	var sb strings.Builder

	if name != "" {
		sb.WriteString(fmt.Sprintf("; === %s ===\n", name))
	}
	sb.WriteString(fmt.Sprintf("; regvm program v%d, arch %s\n", ProgramVersion, p.Arch))
	if p.MainExists {
		sb.WriteString(fmt.Sprintf("; entry: start=%d end=%d hash=%d\n", p.Entry.Start, p.Entry.End, p.Entry.Hash))
	} else {
		sb.WriteString("; entry: none\n")
	}

	if len(p.NativeCalls) > 0 {
		sb.WriteString("; natives:\n")
		for _, n := range p.SortedNativeCalls() {
			sb.WriteString(fmt.Sprintf(";   [%4d] %s.%s hash=%d\n", n.Site, n.Module, n.Name, n.Hash))
		}
	}
	sb.WriteString("\n")

	for pc, in := range p.Instructions {
		sb.WriteString(p.DisassembleInstruction(pc))
		if in.Mnemonic == FN {
			sb.WriteString("  ; function")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// DisassembleInstruction formats the instruction at pc as
// "index  offset  opcode  text".
func (p *Program) DisassembleInstruction(pc int) string {
	in, ok := p.At(pc)
	if !ok {
		return fmt.Sprintf("%04d  ------  <out of range>", pc)
	}
	op, err := in.Opcode()
	if err != nil {
		return fmt.Sprintf("%04d  0x%04X  ???  %s", pc, p.Offset(pc), in)
	}
	return fmt.Sprintf("%04d  0x%04X  %3d  %s", pc, p.Offset(pc), op, in)
}
