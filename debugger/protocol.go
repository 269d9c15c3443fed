package debugger

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/chazu/regvm/vm/dist"
)

// ---------------------------------------------------------------------------
// Arguments
// ---------------------------------------------------------------------------

// ArgKind is the parsed type of a command argument.
type ArgKind int

const (
	ArgString ArgKind = iota
	ArgInt
	ArgBool
)

func (k ArgKind) String() string {
	switch k {
	case ArgInt:
		return "Int"
	case ArgBool:
		return "Bool"
	}
	return "String"
}

// Arg is one parsed argument.
type Arg struct {
	Kind ArgKind
	Str  string
	Int  int
	Bool bool
}

// ParseArgs types each field: on/off/true/false are Bool, integers are
// Int, anything else is String.
func ParseArgs(fields []string) []Arg {
	out := make([]Arg, 0, len(fields))
	for _, f := range fields {
		switch f {
		case "on", "true":
			out = append(out, Arg{Kind: ArgBool, Bool: true, Str: f})
			continue
		case "off", "false":
			out = append(out, Arg{Kind: ArgBool, Bool: false, Str: f})
			continue
		}
		if n, err := strconv.Atoi(f); err == nil {
			out = append(out, Arg{Kind: ArgInt, Int: n, Str: f})
			continue
		}
		out = append(out, Arg{Kind: ArgString, Str: f})
	}
	return out
}

// ---------------------------------------------------------------------------
// Command table
// ---------------------------------------------------------------------------

type argSpec struct {
	name     string
	kind     ArgKind
	optional bool
}

type command struct {
	short, long string
	help        string
	args        []argSpec
	noJSON      bool // output is free text that JSON mode cannot carry
	run         func(p *Protocol, ctx context.Context, args []Arg) bool
}

func (c *command) usage() string {
	var b strings.Builder
	b.WriteString(c.long)
	for _, a := range c.args {
		fmt.Fprintf(&b, " (%s:%s", a.name, a.kind)
		if a.optional {
			b.WriteString(" <optional>")
		}
		b.WriteByte(')')
	}
	return b.String()
}

var commands []*command

func init() {
	commands = []*command{
		{short: "e", long: "exit", help: "Exit the debugger", run: (*Protocol).cmdExit},
		{short: "h", long: "help", help: "Show help, or help for one command",
			args: []argSpec{{"command", ArgString, true}}, noJSON: true, run: (*Protocol).cmdHelp},
		{short: "c", long: "clear", help: "Remove all breakpoints", run: (*Protocol).cmdClear},
		{short: "l", long: "load", help: "Load a program and its optional debug file",
			args: []argSpec{{"program", ArgString, false}, {"debug", ArgString, true}}, run: (*Protocol).cmdLoad},
		{short: "rv", long: "reload-vm", help: "Reset the vm to its initial state with the program loaded", run: (*Protocol).cmdReload},
		{short: "r", long: "run", help: "Run the program until a breakpoint or the end", run: (*Protocol).cmdRun},
		{short: "w", long: "wait", help: "Wait at a stack location or at a source line of a module",
			args: []argSpec{{"by_stack", ArgBool, false}, {"position", ArgInt, false}, {"module_path", ArgString, false}},
			run: (*Protocol).cmdWait},
		{short: "s", long: "step", help: "Execute one instruction and stop again", run: (*Protocol).cmdStep},
		{short: "cn", long: "continue", help: "Step past the breakpoint and run to the next stop", run: (*Protocol).cmdContinue},
		{short: "gp", long: "get-paths", help: "Get the paths of all modules", run: (*Protocol).cmdPaths},
		{short: "gbp", long: "get-breakpoints", help: "Get the list of breakpoints", run: (*Protocol).cmdBreakpoints},
		{short: "gr", long: "get-registers", help: "Get the registers", run: (*Protocol).cmdRegisters},
		{short: "gs", long: "get-stack-memory", help: "Get the stack memory", run: (*Protocol).cmdStack},
		{short: "gh", long: "get-heap-memory", help: "Get the heap memory", run: (*Protocol).cmdHeap},
		{short: "d", long: "dump", help: "Write a CBOR snapshot of the suspended thread",
			args: []argSpec{{"file", ArgString, false}}, run: (*Protocol).cmdDump},
	}
}

func findCommand(name string) *command {
	for _, c := range commands {
		if c.short == name || c.long == name {
			return c
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Protocol
// ---------------------------------------------------------------------------

// Protocol reads debugger commands line by line and answers with
// messages on an Output.
type Protocol struct {
	session *Session
	out     *Output
}

// NewProtocol creates a protocol over s writing to out.
func NewProtocol(s *Session, out *Output) *Protocol {
	return &Protocol{session: s, out: out}
}

// Session returns the driven session.
func (p *Protocol) Session() *Session { return p.session }

// Serve runs the command loop until exit, end of input or cancellation.
func (p *Protocol) Serve(ctx context.Context, in io.Reader) error {
	p.out.Emit(infof(InfoReady, "Ready"))
	sc := bufio.NewScanner(in)
	for {
		p.out.Prompt()
		if !sc.Scan() {
			return sc.Err()
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p.Execute(ctx, sc.Text()) {
			return nil
		}
	}
}

// Execute runs one command line. It reports whether the debugger should
// exit.
func (p *Protocol) Execute(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	cmd := findCommand(fields[0])
	if cmd == nil {
		p.out.Emit(errorf(ErrCodeUnknownCommand, "Unknown command: %s", fields[0]))
		return false
	}
	if cmd.noJSON && p.out.JSON() {
		p.out.Emit(errorf(ErrCodeCannotRender, "Output of %s is free text and cannot be rendered as JSON", cmd.long))
		return false
	}

	args := ParseArgs(fields[1:])
	required := 0
	for _, a := range cmd.args {
		if !a.optional {
			required++
		}
	}
	if len(args) < required || len(args) > len(cmd.args) {
		p.out.Emit(errorf(ErrCodeArgumentLength, "Invalid argument length, usage: %s", cmd.usage()))
		return false
	}
	for i, a := range args {
		want := cmd.args[i].kind
		// A String parameter takes any token verbatim.
		if want == ArgString {
			args[i] = Arg{Kind: ArgString, Str: a.Str}
			continue
		}
		if a.Kind != want {
			p.out.Emit(errorf(ErrCodeArgumentType, "Invalid argument type for %s, usage: %s", cmd.args[i].name, cmd.usage()))
			return false
		}
	}
	return cmd.run(p, ctx, args)
}

// fail reports a session error with its protocol code.
func (p *Protocol) fail(err error) {
	code := ErrCodeInvalidState
	switch {
	case errors.Is(err, ErrNotSuspended):
		code = ErrCodeNotSuspended
	case errors.Is(err, ErrBreakpointNotFound):
		code = ErrCodeBreakpointNotFound
	case errors.Is(err, ErrDebugParse):
		code = ErrCodeDebugParse
	case errors.Is(err, ErrProgramRead):
		code = ErrCodeProgramRead
	case errors.Is(err, ErrFileRead):
		code = ErrCodeFileRead
	}
	p.out.Emit(errorf(code, "%v", err))
}

// report describes where a run stopped.
func (p *Protocol) report(ev Event) {
	switch ev {
	case EventBreakpoint:
		p.out.Emit(infof(InfoBreakpointHit, "Breakpoint hit at %d", p.session.Location()))
	case EventCompleted:
		exit := p.session.Exit()
		if exit.Graceful() {
			p.out.Emit(infof(InfoProgramCompleted, "Program completed: %s", exit.Return))
		} else {
			p.out.Emit(infof(InfoProgramPanicked, "Program panicked: %s", exit))
		}
	}
}

// --- program management ---

func (p *Protocol) cmdExit(context.Context, []Arg) bool {
	p.out.Emit(infof(InfoExited, "Debugger exited"))
	return true
}

func (p *Protocol) cmdHelp(_ context.Context, args []Arg) bool {
	if len(args) == 0 {
		p.out.Emit(logMessage("Available commands:"))
		for _, c := range commands {
			p.out.Emit(logMessage(fmt.Sprintf("  %-4s %-18s %s", c.short, c.long, c.help)))
		}
		return false
	}
	c := findCommand(args[0].Str)
	if c == nil {
		p.out.Emit(logMessage("Command not found"))
		return false
	}
	p.out.Emit(logMessage(fmt.Sprintf("Command     : %s | %s\nDescription : %s\nUsage       : %s", c.short, c.long, c.help, c.usage())))
	return false
}

func (p *Protocol) cmdClear(context.Context, []Arg) bool {
	p.session.Clear()
	p.out.Emit(infof(InfoBreakpointsCleared, "Breakpoints cleared"))
	return false
}

func (p *Protocol) cmdLoad(_ context.Context, args []Arg) bool {
	debug := ""
	if len(args) > 1 {
		debug = args[1].Str
	}
	if err := p.session.Load(args[0].Str, debug); err != nil {
		p.fail(err)
		return false
	}
	p.out.Emit(infof(InfoProgramLoaded, "Program loaded"))
	return false
}

func (p *Protocol) cmdReload(context.Context, []Arg) bool {
	if err := p.session.ReloadVM(); err != nil {
		p.fail(err)
		return false
	}
	p.out.Emit(infof(InfoVMReloaded, "VM reloaded"))
	return false
}

// --- execution ---

func (p *Protocol) cmdRun(ctx context.Context, _ []Arg) bool {
	if err := p.session.Run(); err != nil {
		p.fail(err)
		return false
	}
	p.drive(ctx)
	return false
}

func (p *Protocol) drive(ctx context.Context) {
	ev, err := p.session.Continue(ctx)
	if err != nil {
		p.fail(err)
		return
	}
	p.report(ev)
}

func (p *Protocol) cmdWait(_ context.Context, args []Arg) bool {
	bp, err := p.session.SetBreakpoint(args[0].Bool, args[1].Int, args[2].Str)
	if err != nil {
		p.fail(err)
		return false
	}
	p.out.Emit(infof(InfoBreakpointSet, "Breakpoint set at %d", bp.Location))
	return false
}

func (p *Protocol) cmdStep(context.Context, []Arg) bool {
	ev, err := p.session.StepForward()
	if err != nil {
		p.fail(err)
		return false
	}
	if ev == EventStepped {
		if err := p.session.Pause(); err != nil {
			p.fail(err)
			return false
		}
		p.out.Emit(infof(InfoStepped, "Stopped at %d", p.session.Location()))
		return false
	}
	p.report(ev)
	return false
}

func (p *Protocol) cmdContinue(ctx context.Context, _ []Arg) bool {
	ev, err := p.session.StepForward()
	if err != nil {
		p.fail(err)
		return false
	}
	if ev != EventStepped {
		p.report(ev)
		return false
	}
	p.drive(ctx)
	return false
}

// --- information ---

func (p *Protocol) cmdPaths(context.Context, []Arg) bool {
	paths := p.session.Paths()
	rows := make([][]string, 0, len(paths))
	for _, m := range paths {
		path := m.Path
		if path == "" {
			path = "-"
		}
		rows = append(rows, []string{m.Name, strconv.FormatUint(m.Hash, 10), path})
	}
	p.out.Emit(Message{Type: TypeResult, Message: table(rows), Data: paths})
	return false
}

func (p *Protocol) cmdBreakpoints(context.Context, []Arg) bool {
	bps := p.session.Breakpoints()
	rows := make([][]string, 0, len(bps))
	for _, bp := range bps {
		src := ""
		if bp.Module != "" {
			src = fmt.Sprintf("%s:%d", bp.Module, bp.Line)
		}
		rows = append(rows, []string{strconv.Itoa(bp.Location), src})
	}
	p.out.Emit(Message{Type: TypeResult, Message: table(rows), Data: bps})
	return false
}

func (p *Protocol) cmdRegisters(context.Context, []Arg) bool {
	regs, err := p.session.Registers()
	if err != nil {
		p.fail(err)
		return false
	}
	rows := make([][]string, 0, len(regs))
	for _, r := range regs {
		rows = append(rows, []string{r.Name, r.Type, r.Text})
	}
	p.out.Emit(Message{Type: TypeResult, Message: table(rows), Data: regs})
	return false
}

func (p *Protocol) cmdStack(context.Context, []Arg) bool {
	sv, err := p.session.StackMemory()
	if err != nil {
		p.fail(err)
		return false
	}
	rows := [][]string{{"frame", "hash", "base", "window", "pc", "return"}}
	for i, f := range sv.Frames {
		rows = append(rows, []string{
			strconv.Itoa(i), strconv.FormatUint(f.Hash, 10), strconv.Itoa(f.Base),
			strconv.Itoa(f.Window), strconv.Itoa(f.PC), strconv.Itoa(f.ReturnPC),
		})
	}
	slots := [][]string{{"slot", "type", "value"}}
	for _, s := range sv.Slots {
		slots = append(slots, []string{strconv.Itoa(s.Index), s.Type, s.Text})
	}
	p.out.Emit(Message{Type: TypeResult, Message: table(rows) + "\n\n" + table(slots), Data: sv})
	return false
}

func (p *Protocol) cmdHeap(context.Context, []Arg) bool {
	heap, err := p.session.HeapMemory()
	if err != nil {
		p.fail(err)
		return false
	}
	rows := make([][]string, 0, len(heap))
	for _, e := range heap {
		rows = append(rows, []string{fmt.Sprintf("%d@%d", e.Index, e.Gen), e.Type, e.Text})
	}
	p.out.Emit(Message{Type: TypeResult, Message: table(rows), Data: heap})
	return false
}

func (p *Protocol) cmdDump(_ context.Context, args []Arg) bool {
	snap, err := p.session.Snapshot()
	if err != nil {
		p.fail(err)
		return false
	}
	data, err := dist.MarshalSnapshot(snap)
	if err != nil {
		p.out.Emit(errorf(ErrCodeCannotRender, "encode snapshot: %v", err))
		return false
	}
	if err := os.WriteFile(args[0].Str, data, 0o644); err != nil {
		p.out.Emit(errorf(ErrCodeFileRead, "write %s: %v", args[0].Str, err))
		return false
	}
	p.out.Emit(infof(InfoSnapshotWritten, "Snapshot written to %s (%d bytes)", args[0].Str, len(data)))
	return false
}
