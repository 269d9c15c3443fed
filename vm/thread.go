package vm

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"github.com/chazu/regvm/pkg/bytecode"
)

var log = commonlog.GetLogger("regvm.vm")

// ErrNoMain is returned by NewThread for programs without an entry point.
var ErrNoMain = errors.New("program has no main function")

// ---------------------------------------------------------------------------
// Thread state
// ---------------------------------------------------------------------------

// ThreadState is the lifecycle state of a Thread.
type ThreadState int

const (
	ThreadReady ThreadState = iota
	ThreadRunning
	ThreadSuspended
	ThreadExited
)

func (s ThreadState) String() string {
	switch s {
	case ThreadReady:
		return "ready"
	case ThreadRunning:
		return "running"
	case ThreadSuspended:
		return "suspended"
	case ThreadExited:
		return "exited"
	}
	return fmt.Sprintf("ThreadState(%d)", int(s))
}

// SuspendReason says why a thread is suspended.
type SuspendReason int

const (
	SuspendNone SuspendReason = iota // running or exited
	SuspendTrap                      // a BRK instruction ran
)

// StepKind classifies what a single step did.
type StepKind int

const (
	StepNext   StepKind = iota // fell through to the next instruction
	StepJump                   // transferred control inside the frame
	StepCall                   // pushed a frame
	StepReturn                 // popped a frame
	StepTrap                   // hit BRK; the thread is suspended
	StepExit                   // the thread has exited
)

var stepKindNames = [...]string{"next", "jump", "call", "return", "trap", "exit"}

func (k StepKind) String() string {
	if int(k) < len(stepKindNames) {
		return stepKindNames[k]
	}
	return fmt.Sprintf("StepKind(%d)", int(k))
}

// StepInfo describes one executed instruction.
type StepInfo struct {
	Kind        StepKind
	PC          int // index of the executed instruction
	Next        int // index of the next instruction, -1 after exit
	Instruction bytecode.Instruction
}

// ---------------------------------------------------------------------------
// Thread
// ---------------------------------------------------------------------------

// Options configures a new Thread.
type Options struct {
	MaxStack int             // slot limit, DefaultMaxStack when zero
	Natives  *NativeRegistry // nil means no natives
	Trace    bool            // log every step at debug level
}

// Thread executes one program. It owns its registers, stack and heap and
// is stepped by a single goroutine at a time.
type Thread struct {
	ID uuid.UUID

	program *bytecode.Program
	code    []bytecode.Instruction    // program instructions with immediates folded
	consts  map[bytecode.Ref]struct{} // interned immediates, copied on every load
	natives *NativeRegistry
	trace   bool

	regs  Registers
	stack *Stack
	heap  *Heap

	state   ThreadState
	suspend SuspendReason
	exit    *ThreadExit
	steps   uint64
}

// NewThread prepares a thread for prog. Immediate strings and arrays are
// interned into the heap and the entry function becomes the first frame.
func NewThread(prog *bytecode.Program, opts Options) (*Thread, error) {
	if !prog.MainExists {
		return nil, ErrNoMain
	}
	t := &Thread{
		ID:      uuid.New(),
		program: prog,
		natives: opts.Natives,
		trace:   opts.Trace,
		regs:    NewRegisters(),
		stack:   NewStack(opts.MaxStack),
		heap:    NewHeap(),
		consts:  make(map[bytecode.Ref]struct{}),
	}
	if t.natives == nil {
		t.natives = NewNativeRegistry()
	}

	t.code = make([]bytecode.Instruction, len(prog.Instructions))
	for i, ins := range prog.Instructions {
		if ins.Operand.Mode == bytecode.ModeImmediate {
			// Literals are roots for reclaim and are copied on load.
			if k := ins.Operand.Value.Kind(); k == bytecode.KindString || k == bytecode.KindArray {
				ins.Operand.Value = t.intern(ins.Operand.Value)
				t.consts[ins.Operand.Value.AsRef()] = struct{}{}
			}
		}
		t.code[i] = ins
	}

	entry := int(prog.Entry.Start)
	hash, end, err := t.functionAt(entry)
	if err != nil {
		return nil, fmt.Errorf("invalid entry point: %w", err)
	}
	if err := t.stack.Push(&Frame{
		Hash:     hash,
		Entry:    entry,
		End:      end,
		Base:     0,
		Window:   end - entry,
		PC:       entry + 2,
		ReturnPC: -1,
		Saved:    t.regs,
	}); err != nil {
		return nil, err
	}
	log.Debugf("thread %s created: %d instructions, entry %d..%d", t.ID, len(t.code), entry, end)
	return t, nil
}

// intern moves strings and arrays into the heap, recursively, and returns
// the reference. Other values are returned unchanged.
func (t *Thread) intern(v bytecode.Value) bytecode.Value {
	switch v.Kind() {
	case bytecode.KindString:
		return bytecode.HeapRef(t.heap.Alloc(v))
	case bytecode.KindArray:
		elems := make([]bytecode.Value, len(v.Elems()))
		for i, e := range v.Elems() {
			elems[i] = t.intern(e)
		}
		return bytecode.HeapRef(t.heap.Alloc(bytecode.WithElems(elems)))
	}
	return v
}

// functionAt reads the FN header at entry and the end index stored by the
// STA that follows it.
func (t *Thread) functionAt(entry int) (hash uint64, end int, err error) {
	if entry < 0 || entry+1 >= len(t.code) {
		return 0, 0, faultf(PanicCallToUnknown, "no function header at %d", entry)
	}
	fn, sta := t.code[entry], t.code[entry+1]
	if fn.Mnemonic != bytecode.FN || fn.Operand.Mode != bytecode.ModeImmediate {
		return 0, 0, faultf(PanicCallToUnknown, "instruction %d is %s, not a function header", entry, fn.Mnemonic)
	}
	if sta.Mnemonic != bytecode.STA || sta.Operand.Mode != bytecode.ModeImmediate ||
		sta.Operand.Value.Kind() != bytecode.KindInteger {
		return 0, 0, faultf(PanicCallToUnknown, "function at %d has no end marker", entry)
	}
	end = int(sta.Operand.Value.AsInt())
	if end <= entry+1 || end > len(t.code) {
		return 0, 0, faultf(PanicCallToUnknown, "function at %d ends at %d, outside the program", entry, end)
	}
	return uint64(fn.Operand.Value.AsInt()), end, nil
}

// ---------------------------------------------------------------------------
// Stepping
// ---------------------------------------------------------------------------

// Step executes one instruction. A non-nil exit means the thread has
// finished; every later call returns the same exit.
func (t *Thread) Step() (info StepInfo, exit *ThreadExit) {
	if t.exit != nil {
		return StepInfo{Kind: StepExit, PC: -1, Next: -1}, t.exit
	}
	frame := t.stack.Top()
	if frame == nil {
		return StepInfo{Kind: StepExit, PC: -1, Next: -1},
			t.fail(-1, faultf(PanicStackUnderflow, "no active frame"))
	}
	pc := frame.PC
	info = StepInfo{PC: pc, Next: -1}

	defer func() {
		if r := recover(); r != nil {
			info.Kind = StepExit
			info.Next = -1
			exit = t.fail(pc, faultf(PanicInternalError, "%v", r))
		}
	}()

	if pc < 0 || pc >= len(t.code) {
		info.Kind = StepExit
		return info, t.fail(pc, faultf(PanicProgramCounterOutOfRange, "pc %d outside program of %d instructions", pc, len(t.code)))
	}
	ins := t.code[pc]
	info.Instruction = t.program.Instructions[pc]

	t.state = ThreadRunning
	t.suspend = SuspendNone
	t.steps++
	if t.trace {
		log.Debugf("thread %s step %d: %04d %s", t.ID, t.steps, pc, ins)
	}

	kind, err := t.exec(frame, pc, ins)
	if err != nil {
		info.Kind = StepExit
		return info, t.fail(pc, err)
	}
	info.Kind = kind
	if t.exit != nil {
		info.Kind = StepExit
		return info, t.exit
	}
	info.Next = t.stack.Top().PC
	if kind == StepTrap {
		t.state = ThreadSuspended
		t.suspend = SuspendTrap
	}
	return info, nil
}

// fail terminates the thread with a panic built from err.
func (t *Thread) fail(pc int, err error) *ThreadExit {
	reason, msg := reasonFor(err)
	p := &Panic{
		Reason:     reason,
		Message:    msg,
		Location:   CodeLocation{PC: pc, Offset: t.program.Offset(pc)},
		StackTrace: t.stack.Trace(),
	}
	t.exit = &ThreadExit{Kind: ExitPanic, Panic: p}
	t.state = ThreadExited
	log.Debugf("thread %s panicked: %s", t.ID, t.exit)
	return t.exit
}

// finish terminates the thread gracefully with ret.
func (t *Thread) finish(ret bytecode.Value) {
	t.exit = &ThreadExit{Kind: ExitGracefully, Return: ret}
	t.state = ThreadExited
	log.Debugf("thread %s %s after %d steps", t.ID, t.exit, t.steps)
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

// Program returns the program the thread runs.
func (t *Thread) Program() *bytecode.Program { return t.program }

// State returns the lifecycle state.
func (t *Thread) State() ThreadState { return t.state }

// SuspendReason returns why the thread is suspended, SuspendNone otherwise.
func (t *Thread) SuspendReason() SuspendReason { return t.suspend }

// Exit returns the terminal outcome, nil while the thread is live.
func (t *Thread) Exit() *ThreadExit { return t.exit }

// Steps returns the number of instructions executed.
func (t *Thread) Steps() uint64 { return t.steps }

// Location returns the stack location: the current frame's program
// counter, or -1 after the last frame returned.
func (t *Thread) Location() int {
	if f := t.stack.Top(); f != nil && t.exit == nil {
		return f.PC
	}
	return -1
}

// CodeLocation returns Location with its byte offset.
func (t *Thread) CodeLocation() CodeLocation {
	pc := t.Location()
	return CodeLocation{PC: pc, Offset: t.program.Offset(pc)}
}

// Registers returns a copy of the register file.
func (t *Thread) Registers() []RegisterView { return t.regs.View() }

// Register returns the value held in reg.
func (t *Thread) Register(reg bytecode.Register) bytecode.Value { return t.regs.Get(reg).Clone() }

// Heap exposes the heap for inspection.
func (t *Thread) Heap() *Heap { return t.heap }

// Stack exposes the stack for inspection.
func (t *Thread) Stack() *Stack { return t.stack }

// ReclaimHeap frees heap entries unreachable from the registers, the
// register snapshots of active frames, the stack slots and the interned
// immediates. It returns the number of entries freed.
func (t *Thread) ReclaimHeap() int {
	roots := make([]bytecode.Value, 0, bytecode.RegisterCount+t.stack.Len()+len(t.consts))
	for r := range t.consts {
		roots = append(roots, bytecode.HeapRef(r))
	}
	roots = append(roots, t.regs.vals[:]...)
	for _, f := range t.stack.frames {
		roots = append(roots, f.Saved.vals[:]...)
	}
	roots = append(roots, t.stack.slots...)
	if t.exit != nil && t.exit.Kind == ExitGracefully {
		roots = append(roots, t.exit.Return)
	}
	n := t.heap.Reclaim(roots)
	if n > 0 {
		log.Debugf("thread %s reclaimed %d heap entries", t.ID, n)
	}
	return n
}
