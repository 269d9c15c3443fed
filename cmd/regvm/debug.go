package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/chazu/regvm/debugger"
	"github.com/chazu/regvm/manifest"
	"github.com/chazu/regvm/vm"
)

// handleDebugCommand processes the `regvm debug` subcommand. Commands are
// read from stdin one per line until exit or end of input.
// Usage:
//
//	regvm debug                         # plain output
//	regvm debug -json                   # one JSON message per line
//	regvm debug prog.rvm prog.dbg       # preload a program and its symbols
func handleDebugCommand(args []string, m *manifest.Manifest) {
	fs := flag.NewFlagSet("debug", flag.ExitOnError)
	jsonOut := fs.Bool("json", m.Debugger.Output == "json", "Emit JSON messages instead of plain text")
	color := fs.String("color", m.Debugger.Color, "Color plain output: auto, always or never")
	fs.Parse(args)

	switch debugger.ColorMode(*color) {
	case debugger.ColorAuto, debugger.ColorAlways, debugger.ColorNever:
	default:
		fatal(fmt.Errorf("invalid color mode %q", *color))
	}

	session := debugger.NewSession(vm.Options{
		MaxStack: m.VM.MaxStack,
		Natives:  vm.StdNatives(os.Stdout).Restrict(m.Natives.Enabled),
		Trace:    m.VM.Trace,
	})
	out := debugger.NewOutput(os.Stdout, *jsonOut, debugger.ColorMode(*color))
	p := debugger.NewProtocol(session, out)

	switch fs.NArg() {
	case 0:
	case 1, 2:
		if err := session.Load(fs.Arg(0), fs.Arg(1)); err != nil {
			fatal(err)
		}
	default:
		fmt.Fprintln(os.Stderr, "Error: debug takes at most a program and a debug symbol file")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := p.Serve(ctx, os.Stdin); err != nil {
		fatal(err)
	}
}
