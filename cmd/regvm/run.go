package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/chazu/regvm/journal"
	"github.com/chazu/regvm/manifest"
	"github.com/chazu/regvm/pkg/bytecode"
	"github.com/chazu/regvm/vm"
	"github.com/chazu/regvm/vm/dist"
)

// runConfig holds everything a batch of runs needs besides the programs.
type runConfig struct {
	JSON         bool
	Parallel     bool
	ReclaimEvery uint64
	Natives      []string // allowed natives, empty for all
	MaxStack     int
	Trace        bool
	Profile      bool
	Journal      *journal.Journal // nil disables recording
}

// runResult is the printed outcome of one program.
type runResult struct {
	Program string       `json:"program"`
	RunID   string       `json:"run_id"`
	Outcome string       `json:"outcome"`
	Return  string       `json:"return,omitempty"`
	Panic   *panicResult `json:"panic,omitempty"`
	Steps   uint64       `json:"steps"`
}

type panicResult struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
	PC      int    `json:"pc"`
	Offset  int    `json:"offset"`
}

// handleRunCommand processes the `regvm run` subcommand and returns the
// process exit code: 0 when every program exited gracefully, 1 when any
// panicked, 2 on usage errors.
// Usage:
//
//	regvm run prog.rvm                  # run one program
//	regvm run -parallel a.rvm b.rvm     # run a batch concurrently
//	regvm run -json -reclaim-every 1000 prog.rvm
func handleRunCommand(args []string, m *manifest.Manifest) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	jsonOut := fs.Bool("json", false, "Print one JSON object per program")
	parallel := fs.Bool("parallel", false, "Run every program on its own goroutine")
	reclaimEvery := fs.Uint64("reclaim-every", 0, "Reclaim unreachable heap entries every N steps")
	profile := fs.Bool("profile", false, "Print instruction and function counts after the runs")
	noJournal := fs.Bool("no-journal", false, "Do not record runs even when the journal is enabled")
	fs.Parse(args)

	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Error: run requires at least one program file")
		return 2
	}

	cfg := runConfig{
		JSON:         *jsonOut,
		Parallel:     *parallel,
		ReclaimEvery: *reclaimEvery,
		Natives:      m.Natives.Enabled,
		MaxStack:     m.VM.MaxStack,
		Trace:        m.VM.Trace,
		Profile:      *profile,
	}
	if m.Journal.Enabled && !*noJournal {
		j, err := journal.Open(m.JournalPath())
		if err != nil {
			fatal(err)
		}
		defer j.Close()
		cfg.Journal = j
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	code, err := runPrograms(ctx, fs.Args(), cfg, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return code
}

// runPrograms loads, checks and runs the programs, printing each outcome
// to out in argument order.
func runPrograms(ctx context.Context, paths []string, cfg runConfig, out io.Writer) (int, error) {
	natives := vm.StdNatives(out).Restrict(cfg.Natives)
	policy := dist.NewRestrictedPolicy(cfg.Natives)
	opts := vm.Options{MaxStack: cfg.MaxStack, Natives: natives, Trace: cfg.Trace}

	threads := make([]*vm.Thread, len(paths))
	for i, path := range paths {
		prog, err := bytecode.ReadProgramFile(path)
		if err != nil {
			return 1, err
		}
		if err := policy.Check(prog); err != nil {
			return 1, fmt.Errorf("%s: %w", path, err)
		}
		if threads[i], err = vm.NewThread(prog, opts); err != nil {
			return 1, fmt.Errorf("%s: %w", path, err)
		}
	}

	runOpts := vm.RunOptions{ReclaimEvery: cfg.ReclaimEvery}
	if cfg.Profile {
		runOpts.Profiler = vm.NewProfiler()
	}
	var exits []*vm.ThreadExit
	if cfg.Parallel {
		var err error
		if exits, err = vm.RunAll(ctx, threads, runOpts); err != nil {
			return 1, err
		}
	} else {
		for _, t := range threads {
			exit, err := vm.Run(ctx, t, runOpts)
			if err != nil {
				return 1, err
			}
			exits = append(exits, exit)
		}
	}

	code := 0
	for i, t := range threads {
		if !exits[i].Graceful() {
			code = 1
		}
		if cfg.Journal != nil {
			if err := record(cfg.Journal, paths[i], t); err != nil {
				return 1, err
			}
		}
		if err := printResult(out, cfg.JSON, newRunResult(paths[i], t)); err != nil {
			return 1, err
		}
	}
	if runOpts.Profiler != nil && !cfg.JSON {
		printProfile(out, runOpts.Profiler)
	}
	return code, nil
}

func record(j *journal.Journal, path string, t *vm.Thread) error {
	report, err := dist.NewExitReport(t)
	if err != nil {
		return fmt.Errorf("building exit report for %s: %w", path, err)
	}
	_, err = j.Record(path, report)
	return err
}

func newRunResult(path string, t *vm.Thread) runResult {
	exit := t.Exit()
	r := runResult{
		Program: path,
		RunID:   t.ID.String(),
		Outcome: exit.Kind.String(),
		Steps:   t.Steps(),
	}
	if exit.Graceful() {
		r.Return = exit.Return.String()
	} else {
		r.Panic = &panicResult{
			Reason:  exit.Panic.Reason.String(),
			Message: exit.Panic.Message,
			PC:      exit.Panic.Location.PC,
			Offset:  exit.Panic.Location.Offset,
		}
	}
	return r
}

func printResult(out io.Writer, asJSON bool, r runResult) error {
	if asJSON {
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "%s\n", data)
		return err
	}
	if r.Panic != nil {
		_, err := fmt.Fprintf(out, "%s: panic (%s) at pc %d (byte 0x%04X): %s\n",
			r.Program, r.Panic.Reason, r.Panic.PC, r.Panic.Offset, r.Panic.Message)
		return err
	}
	_, err := fmt.Fprintf(out, "%s: exited gracefully with %s after %d steps\n", r.Program, r.Return, r.Steps)
	return err
}

func printProfile(out io.Writer, p *vm.Profiler) {
	stats := p.Stats()
	fmt.Fprintf(out, "\nProfile: %d instructions, %d function invocations\n", stats.Instructions, stats.TotalInvocations)
	for _, ic := range p.TopInstructions(10) {
		fmt.Fprintf(out, "  %-6s %8d\n", ic.Mnemonic, ic.Count)
	}
	for _, fp := range p.TopFunctions(5) {
		hot := ""
		if fp.IsHot {
			hot = " (hot)"
		}
		fmt.Fprintf(out, "  fn %-12d %8d%s\n", fp.Hash, fp.InvocationCount, hot)
	}
}
