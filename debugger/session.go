package debugger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"github.com/chazu/regvm/pkg/bytecode"
	"github.com/chazu/regvm/vm"
)

var log = commonlog.GetLogger("regvm.debugger")

// Session errors. The protocol layer turns these into numbered messages.
var (
	ErrFileRead           = errors.New("failed to read the file")
	ErrProgramRead        = errors.New("failed to read program")
	ErrDebugParse         = errors.New("failed to parse debug file")
	ErrInvalidState       = errors.New("invalid session state")
	ErrBreakpointNotFound = errors.New("breakpoint position not found")
	ErrNotSuspended       = errors.New("program is not waiting at a breakpoint")
)

// ---------------------------------------------------------------------------
// Session state
// ---------------------------------------------------------------------------

// State is where a session is in its lifecycle.
type State int

const (
	ProgramNotLoaded State = iota
	ProgramLoaded
	Running
	WaitingAtBreakpoint
	ProgramCompleted
)

func (s State) String() string {
	switch s {
	case ProgramNotLoaded:
		return "program_not_loaded"
	case ProgramLoaded:
		return "program_loaded"
	case Running:
		return "running"
	case WaitingAtBreakpoint:
		return "waiting_at_breakpoint"
	case ProgramCompleted:
		return "program_completed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Event is what a tick produced.
type Event int

const (
	EventStepped    Event = iota // one instruction ran, still running
	EventBreakpoint              // stopped at a breakpoint or trap
	EventCompleted               // the thread exited
)

// Breakpoint is a stack location to stop at. Module and Line are set when
// it was placed through the symbol table.
type Breakpoint struct {
	Location int    `json:"location"`
	Module   string `json:"module,omitempty"`
	Line     int    `json:"line,omitempty"`
}

// ---------------------------------------------------------------------------
// Session
// ---------------------------------------------------------------------------

// Session drives one program under the debugger. All methods are safe to
// call from multiple goroutines; the thread itself is only stepped while
// the session lock is held.
type Session struct {
	ID uuid.UUID

	mu          sync.Mutex
	opts        vm.Options
	state       State
	programPath string
	debugPath   string
	program     *bytecode.Program
	symbols     *Symbols
	thread      *vm.Thread
	breakpoints []Breakpoint
}

// NewSession creates an empty session. opts is used for every thread the
// session builds.
func NewSession(opts vm.Options) *Session {
	return &Session{ID: uuid.New(), opts: opts}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	if s.state != st {
		log.Infof("session %s: %s -> %s", s.ID, s.state, st)
	}
	s.state = st
}

// Load reads a program file and, when debugPath is not empty, its debug
// symbol file. On failure the session is left as it was. Loading a new
// program drops all breakpoints.
func (s *Session) Load(programPath, debugPath string) error {
	data, err := os.ReadFile(programPath)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFileRead, err)
	}
	prog, err := bytecode.Deserialize(data)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrProgramRead, err)
	}

	var syms *Symbols
	if debugPath != "" {
		text, err := os.ReadFile(debugPath)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrFileRead, err)
		}
		if syms, err = ParseSymbols(string(text)); err != nil {
			return fmt.Errorf("%w: %w", ErrDebugParse, err)
		}
	}
	return s.LoadProgram(prog, syms, programPath, debugPath)
}

// LoadProgram installs an already decoded program. syms may be nil.
func (s *Session) LoadProgram(prog *bytecode.Program, syms *Symbols, programPath, debugPath string) error {
	th, err := vm.NewThread(prog, s.opts)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrProgramRead, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.program = prog
	s.symbols = syms
	s.thread = th
	s.programPath = programPath
	s.debugPath = debugPath
	s.breakpoints = nil
	s.setState(ProgramLoaded)
	return nil
}

// ReloadVM rebuilds the thread from the loaded program. Breakpoints are
// kept.
func (s *Session) ReloadVM() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.program == nil {
		return fmt.Errorf("%w: no program loaded", ErrInvalidState)
	}
	th, err := vm.NewThread(s.program, s.opts)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrProgramRead, err)
	}
	s.thread = th
	s.setState(ProgramLoaded)
	return nil
}

// Run starts execution. It is only valid right after a load or reload.
func (s *Session) Run() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != ProgramLoaded {
		return fmt.Errorf("%w: cannot run while %s", ErrInvalidState, s.state)
	}
	s.setState(Running)
	return nil
}

// Tick advances a running session by one driver tick. Breakpoints are
// checked before the instruction at the current stack location runs.
func (s *Session) Tick() (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Running {
		return 0, fmt.Errorf("%w: cannot tick while %s", ErrInvalidState, s.state)
	}
	if s.hasBreakpoint(s.thread.Location()) {
		s.setState(WaitingAtBreakpoint)
		return EventBreakpoint, nil
	}
	return s.step(), nil
}

// step runs one instruction and updates the state from the result.
func (s *Session) step() Event {
	info, exit := s.thread.Step()
	switch {
	case exit != nil:
		s.setState(ProgramCompleted)
		return EventCompleted
	case info.Kind == vm.StepTrap:
		s.setState(WaitingAtBreakpoint)
		return EventBreakpoint
	}
	return EventStepped
}

// Continue ticks until the session stops running or ctx is done.
func (s *Session) Continue(ctx context.Context) (Event, error) {
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		ev, err := s.Tick()
		if err != nil || ev != EventStepped {
			return ev, err
		}
	}
}

// StepForward executes exactly one instruction from a breakpoint, ignoring
// the breakpoint at the current location, and resumes running.
func (s *Session) StepForward() (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != WaitingAtBreakpoint {
		return 0, ErrNotSuspended
	}
	s.setState(Running)
	return s.step(), nil
}

// Pause suspends a running session at its current location without a
// breakpoint.
func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Running {
		return fmt.Errorf("%w: cannot pause while %s", ErrInvalidState, s.state)
	}
	s.setState(WaitingAtBreakpoint)
	return nil
}

// ---------------------------------------------------------------------------
// Breakpoints
// ---------------------------------------------------------------------------

// SetBreakpoint adds a breakpoint. With byStack, pos is the stack location
// itself. Otherwise pos is a one-based source line in modulePath and the
// location is the start of the first debug header on that line.
func (s *Session) SetBreakpoint(byStack bool, pos int, modulePath string) (Breakpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.program == nil {
		return Breakpoint{}, fmt.Errorf("%w: no program loaded", ErrInvalidState)
	}

	var bp Breakpoint
	if byStack {
		if pos < 0 || pos >= s.program.Len() {
			return Breakpoint{}, fmt.Errorf("%w: location %d", ErrBreakpointNotFound, pos)
		}
		bp = Breakpoint{Location: pos}
	} else {
		h, ok := s.symbols.Locate(modulePath, pos)
		if !ok {
			return Breakpoint{}, fmt.Errorf("%w: %s:%d", ErrBreakpointNotFound, modulePath, pos)
		}
		bp = Breakpoint{Location: h.Start, Module: modulePath, Line: pos}
	}

	if !s.hasBreakpoint(bp.Location) {
		s.breakpoints = append(s.breakpoints, bp)
	}
	log.Debugf("session %s: breakpoint at %d", s.ID, bp.Location)
	return bp, nil
}

func (s *Session) hasBreakpoint(loc int) bool {
	for _, bp := range s.breakpoints {
		if bp.Location == loc {
			return true
		}
	}
	return false
}

// Clear removes every breakpoint.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.breakpoints = nil
}

// Breakpoints returns a copy of the breakpoint list.
func (s *Session) Breakpoints() []Breakpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Breakpoint(nil), s.breakpoints...)
}

// Paths returns the module map of the loaded debug file.
func (s *Session) Paths() []ModuleMap {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.symbols == nil {
		return nil
	}
	return append([]ModuleMap(nil), s.symbols.Modules...)
}

// ---------------------------------------------------------------------------
// Inspection
// ---------------------------------------------------------------------------

func (s *Session) suspended() (*vm.Thread, error) {
	if s.state != WaitingAtBreakpoint {
		return nil, ErrNotSuspended
	}
	return s.thread, nil
}

// Registers returns a copy of the register file.
func (s *Session) Registers() ([]vm.RegisterView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	th, err := s.suspended()
	if err != nil {
		return nil, err
	}
	return th.Registers(), nil
}

// StackMemory returns a copy of the stack slots and frames.
func (s *Session) StackMemory() (vm.StackView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	th, err := s.suspended()
	if err != nil {
		return vm.StackView{}, err
	}
	return th.StackMemory(), nil
}

// HeapMemory returns a copy of the live heap entries.
func (s *Session) HeapMemory() ([]vm.HeapEntryView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	th, err := s.suspended()
	if err != nil {
		return nil, err
	}
	return th.HeapMemory(), nil
}

// Snapshot copies the whole thread state while suspended.
func (s *Session) Snapshot() (*vm.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	th, err := s.suspended()
	if err != nil {
		return nil, err
	}
	return th.Snapshot(), nil
}

// Location returns the current stack location, -1 without a live thread.
func (s *Session) Location() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.thread == nil {
		return -1
	}
	return s.thread.Location()
}

// Exit returns the thread's outcome once completed.
func (s *Session) Exit() *vm.ThreadExit {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.thread == nil {
		return nil
	}
	return s.thread.Exit()
}

// Thread returns the current thread, nil before a load.
func (s *Session) Thread() *vm.Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.thread
}
