package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chazu/regvm/manifest"
	"github.com/chazu/regvm/pkg/bytecode"
)

// ProgramExt is the extension written by `regvm asm` when -o is not given.
const ProgramExt = ".rvm"

// handleAsmCommand processes the `regvm asm` subcommand.
// Usage:
//
//	regvm asm add.rasm                  # ./add.rvm for the configured arch
//	regvm asm -arch b16 -o out.rvm add.rasm
func handleAsmCommand(args []string, m *manifest.Manifest) {
	fs := flag.NewFlagSet("asm", flag.ExitOnError)
	arch := fs.String("arch", m.VM.Arch, "Target architecture: b16, b32 or b64")
	output := fs.String("o", "", "Output program file (default: input with "+ProgramExt+")")
	fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Error: asm requires exactly one source file")
		os.Exit(2)
	}
	in := fs.Arg(0)
	out := *output
	if out == "" {
		out = strings.TrimSuffix(in, filepath.Ext(in)) + ProgramExt
	}

	prog, err := assembleFile(in, *arch)
	if err != nil {
		fatal(err)
	}
	if err := prog.WriteFile(out); err != nil {
		fatal(err)
	}
	fmt.Printf("Wrote %s (%d instructions, %s)\n", out, prog.Len(), prog.Arch)
}

func assembleFile(path, arch string) (*bytecode.Program, error) {
	a, err := bytecode.ParseArch(arch)
	if err != nil {
		return nil, err
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	prog, err := bytecode.Assemble(string(src), a)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return prog, nil
}

// handleDisasmCommand processes the `regvm disasm` subcommand.
// Usage:
//
//	regvm disasm add.rvm
func handleDisasmCommand(args []string) {
	fs := flag.NewFlagSet("disasm", flag.ExitOnError)
	fs.Parse(args)

	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Error: disasm requires at least one program file")
		os.Exit(2)
	}
	for _, path := range fs.Args() {
		if err := disassemble(os.Stdout, path); err != nil {
			fatal(err)
		}
	}
}

func disassemble(w io.Writer, path string) error {
	prog, err := bytecode.ReadProgramFile(path)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, prog.DisassembleWithName(filepath.Base(path)))
	return err
}
