// regvm CLI - run, debug and inspect register VM programs
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/regvm/manifest"
)

func main() {
	verbose := flag.Int("v", 0, "Log verbosity (1 = info, 2 = debug)")
	logFile := flag.String("log", "", "Write logs to this file instead of stderr")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: regvm [options] <command> [arguments]\n\n")
		fmt.Fprintf(os.Stderr, "Runs, debugs and inspects regvm programs.\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  run      Run programs to completion\n")
		fmt.Fprintf(os.Stderr, "  debug    Start the debugger command loop on stdin\n")
		fmt.Fprintf(os.Stderr, "  asm      Assemble a text listing into a program file\n")
		fmt.Fprintf(os.Stderr, "  disasm   Print a program listing\n")
		fmt.Fprintf(os.Stderr, "  journal  Show recorded runs\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  regvm asm -o add.rvm add.rasm        # Assemble for the configured arch\n")
		fmt.Fprintf(os.Stderr, "  regvm run add.rvm                    # Run and print the exit\n")
		fmt.Fprintf(os.Stderr, "  regvm run -parallel -json a.rvm b.rvm\n")
		fmt.Fprintf(os.Stderr, "  regvm debug -json                    # Machine-readable debugger\n")
		fmt.Fprintf(os.Stderr, "  regvm -v 2 run add.rvm               # Debug logging\n")
		fmt.Fprintf(os.Stderr, "  regvm journal -n 5                   # Last five runs\n")
	}
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	m, err := loadManifest()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading manifest: %v\n", err)
		os.Exit(1)
	}
	configureLogging(*verbose, *logFile, m)

	switch args[0] {
	case "run":
		os.Exit(handleRunCommand(args[1:], m))
	case "debug":
		handleDebugCommand(args[1:], m)
	case "asm":
		handleAsmCommand(args[1:], m)
	case "disasm":
		handleDisasmCommand(args[1:])
	case "journal":
		handleJournalCommand(args[1:], m)
	case "help":
		flag.Usage()
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n", args[0])
		flag.Usage()
		os.Exit(2)
	}
}

// loadManifest finds the project manifest, falling back to defaults when
// there is none.
func loadManifest() (*manifest.Manifest, error) {
	m, err := manifest.FindAndLoad(".")
	if err != nil {
		return nil, err
	}
	if m == nil {
		return manifest.Default(), nil
	}
	return m, nil
}

func configureLogging(verbosity int, path string, m *manifest.Manifest) {
	// Step tracing logs at debug level.
	if m.VM.Trace && verbosity < 2 {
		verbosity = 2
	}
	if path == "" {
		commonlog.Configure(verbosity, nil)
		return
	}
	commonlog.Configure(verbosity, &path)
}

// fatal reports err and exits.
func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
