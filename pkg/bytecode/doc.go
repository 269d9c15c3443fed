// Package bytecode defines the regvm instruction set and its binary form.
//
// The instruction set has 47 mnemonics and 119 opcodes. Each opcode names a
// (mnemonic, addressing mode) pair; the legality matrix in opcodes.go is the
// only place opcode numbers come from, and both Encode and Decode are derived
// from it at package init.
//
// # Architecture Overview
//
//   - Arch: target width (16, 32 or 64 bit). Every usize operand on the wire
//     is little-endian with that width.
//
//   - Mode and Operand: the eleven addressing modes and their operand bytes.
//     Immediate operands carry a type tag, a usize payload size and the
//     payload.
//
//   - Value: the tagged runtime value with its fixed binary layout. Numeric
//     payload width is fixed by the kind, never by the architecture.
//
//   - Program: header, instruction stream and a CBOR trailer listing native
//     call sites. Deserialize rejects illegal opcodes and operand width
//     mismatches before anything runs.
//
//   - Assemble and Disassemble: a text form of programs used by tests and
//     the regvm tool.
//
// # Errors
//
// Encoding failures wrap ErrInvalidEncoding, ErrOperandWidth or
// ErrUnexpectedEOF. Lookups never panic; only a corrupt legality matrix does,
// at init.
package bytecode
