package bytecode

import (
	"encoding/binary"
	"fmt"
	"os"
	"sort"

	"github.com/fxamacker/cbor/v2"
)

// ProgramVersion is the current program file format version.
// Increment when making incompatible changes to the format.
const ProgramVersion uint16 = 1

// ProgramMagic starts every program file: "RGVM".
var ProgramMagic = []byte{'R', 'G', 'V', 'M'}

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bytecode: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// EntryPoint locates the main callable: the FN header index, the end of its
// body (exclusive) and its hash.
type EntryPoint struct {
	Start uint64
	End   uint64
	Hash  uint64
}

// NativeCallTrace ties a CALLN site to the native function it invokes.
type NativeCallTrace struct {
	Site   uint64 `cbor:"site"`
	Module string `cbor:"module"`
	Hash   uint64 `cbor:"hash"`
	Name   string `cbor:"name"`
}

// Program is a loaded, immutable static program.
type Program struct {
	Arch       Arch
	MainExists bool
	Entry      EntryPoint

	Instructions []Instruction
	Offsets      []int // byte offset of each instruction in the code section

	NativeCalls map[uint64]NativeCallTrace // keyed by call site (instruction index)
}

// NewProgram builds a program from decoded instructions and computes offsets.
func NewProgram(arch Arch, entry EntryPoint, ins []Instruction, natives []NativeCallTrace) (*Program, error) {
	_, offsets, err := EncodeStream(ins, arch)
	if err != nil {
		return nil, err
	}
	p := &Program{
		Arch:         arch,
		MainExists:   true,
		Entry:        entry,
		Instructions: ins,
		Offsets:      offsets,
		NativeCalls:  make(map[uint64]NativeCallTrace, len(natives)),
	}
	for _, n := range natives {
		p.NativeCalls[n.Site] = n
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks that the entry point and native call sites refer to
// instructions that exist and fit the declared architecture.
func (p *Program) Validate() error {
	n := uint64(len(p.Instructions))
	if p.MainExists {
		if p.Entry.Start >= n {
			return fmt.Errorf("entry start %d outside program of %d instructions", p.Entry.Start, n)
		}
		if p.Entry.End > n || p.Entry.End <= p.Entry.Start {
			return fmt.Errorf("entry end %d invalid for start %d", p.Entry.End, p.Entry.Start)
		}
		if p.Instructions[p.Entry.Start].Mnemonic != FN {
			return fmt.Errorf("entry %d is %s, not an FN header", p.Entry.Start, p.Instructions[p.Entry.Start].Mnemonic)
		}
	}
	for site := range p.NativeCalls {
		if site >= n || p.Instructions[site].Mnemonic != CALLN {
			return fmt.Errorf("native call trace at %d does not point at CALLN", site)
		}
	}
	return nil
}

// Len returns the instruction count.
func (p *Program) Len() int { return len(p.Instructions) }

// At returns the instruction at index pc.
func (p *Program) At(pc int) (Instruction, bool) {
	if pc < 0 || pc >= len(p.Instructions) {
		return Instruction{}, false
	}
	return p.Instructions[pc], true
}

// Offset returns the byte offset of instruction pc, or -1.
func (p *Program) Offset(pc int) int {
	if pc < 0 || pc >= len(p.Offsets) {
		return -1
	}
	return p.Offsets[pc]
}

// SortedNativeCalls returns the traces ordered by call site.
func (p *Program) SortedNativeCalls() []NativeCallTrace {
	out := make([]NativeCallTrace, 0, len(p.NativeCalls))
	for _, n := range p.NativeCalls {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Site < out[j].Site })
	return out
}

// Serialize encodes the program file.
// Format:
//
//	[magic:4] [version:2 LE] [arch:1] [main_exists:1]
//	[entry_start:usize] [entry_end:usize] [entry_hash:usize]
//	[instruction_count:usize] [instructions:...]
//	[trailer_len:4 LE] [trailer: canonical CBOR array of NativeCallTrace]
func (p *Program) Serialize() ([]byte, error) {
	if _, err := ArchFromByte(byte(p.Arch)); err != nil {
		return nil, err
	}
	buf := make([]byte, 0, 32+len(p.Instructions)*(1+p.Arch.UsizeLen()))
	buf = append(buf, ProgramMagic...)
	buf = binary.LittleEndian.AppendUint16(buf, ProgramVersion)
	buf = append(buf, byte(p.Arch))
	if p.MainExists {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}

	var err error
	for _, v := range []uint64{p.Entry.Start, p.Entry.End, p.Entry.Hash, uint64(len(p.Instructions))} {
		if buf, err = p.Arch.appendUsize(buf, v); err != nil {
			return nil, fmt.Errorf("program header: %w", err)
		}
	}

	code, _, err := EncodeStream(p.Instructions, p.Arch)
	if err != nil {
		return nil, err
	}
	buf = append(buf, code...)

	trailer, err := cborEncMode.Marshal(p.SortedNativeCalls())
	if err != nil {
		return nil, fmt.Errorf("program trailer: %w", err)
	}
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(trailer)))
	buf = append(buf, trailer...)
	return buf, nil
}

// Deserialize decodes a program file. Every instruction is decoded and
// checked against the instruction table before the program is returned.
func Deserialize(data []byte) (*Program, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("%w: program too short: need at least 8 bytes, got %d", ErrUnexpectedEOF, len(data))
	}
	for i, b := range ProgramMagic {
		if data[i] != b {
			return nil, fmt.Errorf("%w: invalid magic %q", ErrInvalidEncoding, data[:4])
		}
	}
	pos := 4
	version := binary.LittleEndian.Uint16(data[pos:])
	pos += 2
	if version != ProgramVersion {
		return nil, fmt.Errorf("%w: unsupported program version %d (want %d)", ErrInvalidEncoding, version, ProgramVersion)
	}
	arch, err := ArchFromByte(data[pos])
	if err != nil {
		return nil, err
	}
	pos++
	p := &Program{Arch: arch, MainExists: data[pos] == 1}
	pos++

	var header [4]uint64
	for i := range header {
		if header[i], err = arch.readUsize(data, pos); err != nil {
			return nil, fmt.Errorf("program header: %w", err)
		}
		pos += arch.UsizeLen()
	}
	p.Entry = EntryPoint{Start: header[0], End: header[1], Hash: header[2]}
	count := header[3]
	if count > uint64(len(data)-pos) {
		return nil, fmt.Errorf("%w: %d instructions declared, %d bytes left", ErrUnexpectedEOF, count, len(data)-pos)
	}

	p.Instructions, p.Offsets, pos, err = DecodeStream(data, pos, int(count), arch)
	if err != nil {
		return nil, err
	}

	if pos+4 > len(data) {
		return nil, fmt.Errorf("%w reading trailer length", ErrUnexpectedEOF)
	}
	tlen := int(binary.LittleEndian.Uint32(data[pos:]))
	pos += 4
	if pos+tlen > len(data) {
		return nil, fmt.Errorf("%w reading trailer", ErrUnexpectedEOF)
	}
	var traces []NativeCallTrace
	if err := cbor.Unmarshal(data[pos:pos+tlen], &traces); err != nil {
		return nil, fmt.Errorf("%w: native call trailer: %v", ErrInvalidEncoding, err)
	}
	pos += tlen
	if pos != len(data) {
		return nil, fmt.Errorf("%w: %d trailing bytes after program", ErrInvalidEncoding, len(data)-pos)
	}

	p.NativeCalls = make(map[uint64]NativeCallTrace, len(traces))
	for _, t := range traces {
		p.NativeCalls[t.Site] = t
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
	}
	return p, nil
}

// ReadProgramFile loads and validates a program file.
func ReadProgramFile(path string) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	p, err := Deserialize(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// WriteFile serializes the program to path.
func (p *Program) WriteFile(path string) error {
	data, err := p.Serialize()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
