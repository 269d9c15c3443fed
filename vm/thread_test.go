package vm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/chazu/regvm/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newTestThread(t *testing.T, src string) *Thread {
	t.Helper()
	return newTestThreadArch(t, src, bytecode.Arch64, nil)
}

func newTestThreadArch(t *testing.T, src string, arch bytecode.Arch, natives *NativeRegistry) *Thread {
	t.Helper()
	prog, err := bytecode.Assemble(src, arch)
	if err != nil {
		t.Fatalf("Assemble error: %v", err)
	}
	th, err := NewThread(prog, Options{Natives: natives})
	if err != nil {
		t.Fatalf("NewThread error: %v", err)
	}
	return th
}

// runToExit steps th until it exits, failing after limit steps.
func runToExit(t *testing.T, th *Thread) *ThreadExit {
	t.Helper()
	for i := 0; i < 10000; i++ {
		if _, exit := th.Step(); exit != nil {
			return exit
		}
	}
	t.Fatalf("thread did not exit within 10000 steps")
	return nil
}

func wantReturn(t *testing.T, exit *ThreadExit, want bytecode.Value) {
	t.Helper()
	if !exit.Graceful() {
		t.Fatalf("exit = %s, want graceful", exit)
	}
	if !exit.Return.Equal(want) {
		t.Errorf("return = %s (%s), want %s (%s)", exit.Return, exit.Return.TypeName(), want, want.TypeName())
	}
}

func wantPanic(t *testing.T, exit *ThreadExit, reason PanicReason) *Panic {
	t.Helper()
	if exit == nil || exit.Kind != ExitPanic {
		t.Fatalf("exit = %s, want panic %s", exit, reason)
	}
	if exit.Panic.Reason != reason {
		t.Fatalf("panic reason = %s (%s), want %s", exit.Panic.Reason, exit.Panic.Message, reason)
	}
	return exit.Panic
}

const addSource = `
.fn main 42
	LDB #(int)1
	LDC #(int)2
	ADD
	LDY @A
	RET
.end
`

// ---------------------------------------------------------------------------
// End-to-end programs
// ---------------------------------------------------------------------------

func TestAddProgramExitsGracefully(t *testing.T) {
	for _, arch := range bytecode.AllArches {
		th := newTestThreadArch(t, addSource, arch, nil)
		exit := runToExit(t, th)
		wantReturn(t, exit, bytecode.Int(3))
		if th.State() != ThreadExited {
			t.Errorf("%s: State() = %s, want exited", arch, th.State())
		}
		if th.Steps() != 5 {
			t.Errorf("%s: Steps() = %d, want 5", arch, th.Steps())
		}
	}
}

func TestDivisionByZeroPanicsAtDiv(t *testing.T) {
	src := `
.fn main 1
	LDB #(int)1
	LDC #(int)0
	DIV
	LDY @A
	RET
.end
`
	th := newTestThread(t, src)
	exit := runToExit(t, th)
	p := wantPanic(t, exit, PanicDivisionByZero)
	if p.Location.PC != 4 {
		t.Errorf("panic pc = %d, want 4", p.Location.PC)
	}
	if want := th.Program().Offset(4); p.Location.Offset != want {
		t.Errorf("panic offset = %d, want %d", p.Location.Offset, want)
	}
	if len(p.StackTrace) != 1 || p.StackTrace[0].Hash != 1 {
		t.Errorf("stack trace = %+v, want the main frame", p.StackTrace)
	}
	if th.Register(bytecode.RegA).Kind() != bytecode.KindVoid {
		t.Errorf("A = %s after failed DIV, want void", th.Register(bytecode.RegA))
	}
}

func TestExitIsSticky(t *testing.T) {
	th := newTestThread(t, addSource)
	first := runToExit(t, th)
	for i := 0; i < 3; i++ {
		info, exit := th.Step()
		if exit != first {
			t.Fatalf("Step after exit returned %v, want the original exit", exit)
		}
		if info.Kind != StepExit {
			t.Errorf("info.Kind = %s, want exit", info.Kind)
		}
	}
	if th.Steps() != 5 {
		t.Errorf("Steps() = %d, want 5", th.Steps())
	}
}

func TestNewThreadRequiresMain(t *testing.T) {
	prog := bytecode.MustAssemble(".fn helper 3\n\tRET\n.end\n", bytecode.Arch64)
	if _, err := NewThread(prog, Options{}); !errors.Is(err, ErrNoMain) {
		t.Fatalf("NewThread error = %v, want ErrNoMain", err)
	}
}

// ---------------------------------------------------------------------------
// Calls and frames
// ---------------------------------------------------------------------------

const callSource = `
.fn main 1
	LDA #(int)10
	LDB #(int)20
	LDX #(int)30
	CALL add
	RET
.end
.fn add 2
	LDB #(int)1
	LDC #(int)2
	ADD
	LDX #(int)99
	LDY @A
	RET
.end
`

func TestCallReturnStackDiscipline(t *testing.T) {
	th := newTestThread(t, callSource)
	mainWindow := 7

	// Step into the callee.
	for {
		info, exit := th.Step()
		if exit != nil {
			t.Fatalf("unexpected exit %s", exit)
		}
		if info.Kind == StepCall {
			break
		}
	}
	frames := th.StackMemory().Frames
	if len(frames) != 2 {
		t.Fatalf("depth after CALL = %d, want 2", len(frames))
	}
	callee := frames[1]
	if callee.Base != mainWindow {
		t.Errorf("callee base = %d, want %d", callee.Base, mainWindow)
	}
	if callee.Entry != 7 || callee.End != 15 || callee.PC != 9 {
		t.Errorf("callee frame = %+v, want entry 7, end 15, pc 9", callee)
	}
	if callee.ReturnPC != 6 {
		t.Errorf("callee return pc = %d, want 6", callee.ReturnPC)
	}
	if got := th.Stack().Len(); got != mainWindow+8 {
		t.Errorf("slots in use = %d, want %d", got, mainWindow+8)
	}

	// Run until the callee returns.
	for {
		info, exit := th.Step()
		if exit != nil {
			t.Fatalf("unexpected exit %s", exit)
		}
		if info.Kind == StepReturn {
			if info.Next != 6 {
				t.Errorf("next pc after RET = %d, want 6", info.Next)
			}
			break
		}
	}
	if th.Stack().Depth() != 1 {
		t.Errorf("depth after RET = %d, want 1", th.Stack().Depth())
	}
	if th.Stack().Len() != mainWindow {
		t.Errorf("slots after RET = %d, want %d", th.Stack().Len(), mainWindow)
	}
	for reg, want := range map[bytecode.Register]bytecode.Value{
		bytecode.RegA: bytecode.Int(10),
		bytecode.RegB: bytecode.Int(20),
		bytecode.RegX: bytecode.Int(30),
		bytecode.RegY: bytecode.Int(3),
	} {
		if got := th.Register(reg); !got.Equal(want) {
			t.Errorf("%s after RET = %s, want %s", reg, got, want)
		}
	}

	wantReturn(t, runToExit(t, th), bytecode.Int(3))
}

func TestFunctionBodiesAreSkipped(t *testing.T) {
	src := `
.fn main 1
	LDY #(int)1
	.fn inner 2
		LDY #(int)2
		RET
	.end
	RET
.end
`
	wantReturn(t, runToExit(t, newTestThread(t, src)), bytecode.Int(1))
}

func TestCallToNonFunctionPanics(t *testing.T) {
	src := `
.fn main 1
	CALL target
target:
	RET
.end
`
	wantPanic(t, runToExit(t, newTestThread(t, src)), PanicCallToUnknown)
}

func TestRecursionOverflowsStack(t *testing.T) {
	src := `
.fn main 1
	CALL main
	RET
.end
`
	prog := bytecode.MustAssemble(src, bytecode.Arch64)
	th, err := NewThread(prog, Options{MaxStack: 64})
	if err != nil {
		t.Fatalf("NewThread error: %v", err)
	}
	p := wantPanic(t, runToExit(t, th), PanicStackOverflow)
	if len(p.StackTrace) != 16 {
		t.Errorf("trace depth = %d, want 16", len(p.StackTrace))
	}
}

func TestJumpsAndLoops(t *testing.T) {
	// Count down from 5 with a loop; Y ends as 0.
	src := `
.fn main 1
	LDB #(int)5
	LDC #(int)1
loop:
	SUB
	LDB @A
	LDY @A
	LDC #(int)0
	GT
	LDC #(int)1
	JMPA loop
	RET
.end
`
	wantReturn(t, runToExit(t, newTestThread(t, src)), bytecode.Int(0))
}

func TestJumpOutOfRangePanics(t *testing.T) {
	src := `
.fn main 1
	JMP $500
	RET
.end
`
	p := wantPanic(t, runToExit(t, newTestThread(t, src)), PanicProgramCounterOutOfRange)
	if p.Location.PC != 2 {
		t.Errorf("panic pc = %d, want 2", p.Location.PC)
	}
}

func TestJmpaNeedsBool(t *testing.T) {
	src := `
.fn main 1
	LDA #(int)1
	JMPA $0
	RET
.end
`
	wantPanic(t, runToExit(t, newTestThread(t, src)), PanicUnexpectedType)
}

// ---------------------------------------------------------------------------
// Stores and addressing
// ---------------------------------------------------------------------------

func TestStoreAndLoadSlots(t *testing.T) {
	src := `
.fn main 1
	LDA #(int)7
	STA $6
	STA           ; own slot 4
	STB #(int)9   ; own slot 5
	LDB $4
	LDC $5
	ADD
	LDB $6
	LDC @A
	ADD
	LDY @A
	RET
.end
`
	wantReturn(t, runToExit(t, newTestThread(t, src)), bytecode.Int(23))
}

func TestLoadVoidSlotIsNullReference(t *testing.T) {
	src := `
.fn main 1
	LDA $3
	RET
.end
`
	wantPanic(t, runToExit(t, newTestThread(t, src)), PanicNullReference)
}

func TestAbsoluteOutsideWindow(t *testing.T) {
	src := `
.fn main 1
	LDA $9
	RET
.end
`
	wantPanic(t, runToExit(t, newTestThread(t, src)), PanicStackOutOfBounds)
}

func TestIndirectThroughStackRef(t *testing.T) {
	src := `
.fn main 1
	LDA #(int)5
	STA $1
	LDX #(stack_ref)1
	LDB @X        ; through the reference
	LDC !1        ; by absolute slot
	ADD
	LDY @A
	RET
.end
`
	wantReturn(t, runToExit(t, newTestThread(t, src)), bytecode.Int(10))
}

func TestIndexedAndPropertyAccess(t *testing.T) {
	src := `
.fn main 1
	LDA #(array)[(int)10, (int)20, (int)30]
	STA $0
	LDA #(int)2
	STA $1
	LDB $0[$1]       ; 30
	LDC $0.0         ; 10
	ADD
	STA $0.1         ; array[1] = 40
	LDB $0.1
	LDC #(int)2
	ADD
	LDY @A
	RET
.end
`
	wantReturn(t, runToExit(t, newTestThread(t, src)), bytecode.Int(42))
}

func TestIndexOutOfRange(t *testing.T) {
	src := `
.fn main 1
	LDA #(array)[(int)1]
	STA $0
	LDA #(int)5
	STA $1
	LDB $0[$1]
	RET
.end
`
	wantPanic(t, runToExit(t, newTestThread(t, src)), PanicHeapOutOfBounds)
}

// ---------------------------------------------------------------------------
// Heap instructions
// ---------------------------------------------------------------------------

func TestStringConcatenation(t *testing.T) {
	src := `
.fn main 1
	LDB #(string)"foo"
	LDC #(string)"bar"
	ADD
	LDY @A
	RET
.end
`
	th := newTestThread(t, src)
	exit := runToExit(t, th)
	if !exit.Graceful() || exit.Return.Kind() != bytecode.KindHeapRef {
		t.Fatalf("exit = %s, want a heap reference", exit)
	}
	got, err := th.Heap().Get(exit.Return.AsRef())
	if err != nil {
		t.Fatalf("Heap().Get error: %v", err)
	}
	if got.AsString() != "foobar" {
		t.Errorf("result = %q, want %q", got.AsString(), "foobar")
	}
}

func TestArrayPushLenPop(t *testing.T) {
	src := `
.fn main 1
	ARR
	LDB #(int)1
	PUSH @B
	LDB #(int)2
	PUSH @B
	LDB #(int)3
	PUSH @B
	STA $0
	LEN $0
	LDB @A          ; 3
	POPS $0         ; A = 3, array is [1, 2]
	LDC @A
	ADD
	LDB @A          ; 6
	LEN $0
	LDC @A          ; 2
	ADD
	LDY @A
	RET
.end
`
	wantReturn(t, runToExit(t, newTestThread(t, src)), bytecode.Int(8))
}

func TestStringPushAndLen(t *testing.T) {
	src := `
.fn main 1
	STR
	LDB #(char)'h'
	SPUS @B
	LDB #(string)"éllo"
	SPUS @B
	LDB #(byte)33
	SPUS @B
	STA $0
	LEN $0
	LDY @A
	RET
.end
`
	th := newTestThread(t, src)
	wantReturn(t, runToExit(t, th), bytecode.Int(6))
}

func TestStaticArrayAndPopEmpty(t *testing.T) {
	src := `
.fn main 1
	SAR #(int)3
	STA $0
	LEN $0
	LDY @A
	ARR
	STA $1
	POPS $1
	RET
.end
`
	th := newTestThread(t, src)
	wantPanic(t, runToExit(t, th), PanicHeapOutOfBounds)
	if y := th.Register(bytecode.RegY); !y.Equal(bytecode.Int(3)) {
		t.Errorf("Y = %s, want 3", y)
	}
}

func TestCloneIsDeep(t *testing.T) {
	src := `
.fn main 1
	LDA #(array)[(int)1, (int)2]
	STA $0
	CO $0
	STA $1
	LDA #(int)9
	STA $1.0
	LDY $0.0
	RET
.end
`
	th := newTestThread(t, src)
	wantReturn(t, runToExit(t, th), bytecode.Int(1))
}

func TestDeallocateFreesHeapEntry(t *testing.T) {
	src := `
.fn main 1
	ARR
	STA $0
	STA $1
	DEA $0
	LEN $1
	RET
.end
`
	th := newTestThread(t, src)
	wantPanic(t, runToExit(t, th), PanicStaleReference)
}

func TestDeallocateTwicePanics(t *testing.T) {
	src := `
.fn main 1
	ARR
	STA $0
	STA $1
	DEA $0
	DEA $1
	RET
.end
`
	wantPanic(t, runToExit(t, newTestThread(t, src)), PanicStaleReference)
}

// ---------------------------------------------------------------------------
// Traps, natives and recovery
// ---------------------------------------------------------------------------

func TestBreakpointTrapSuspends(t *testing.T) {
	src := `
.fn main 1
	LDY #(int)1
	BRK
	LDY #(int)2
	RET
.end
`
	th := newTestThread(t, src)
	th.Step()
	info, exit := th.Step()
	if exit != nil || info.Kind != StepTrap {
		t.Fatalf("Step = %s, %v; want trap", info.Kind, exit)
	}
	if th.State() != ThreadSuspended || th.SuspendReason() != SuspendTrap {
		t.Errorf("state = %s/%d, want suspended by trap", th.State(), th.SuspendReason())
	}
	if th.Location() != 4 {
		t.Errorf("Location() = %d, want 4", th.Location())
	}
	th.Step()
	if th.State() != ThreadRunning {
		t.Errorf("state after resume = %s, want running", th.State())
	}
	wantReturn(t, runToExit(t, th), bytecode.Int(2))
}

const nativeSource = `
.fn main 1
	LDA #(string)"hello"
	STA $0
call:
	CALLN $0
	RET
.end
.native call std %d println
`

func TestNativeCall(t *testing.T) {
	var out bytes.Buffer
	natives := StdNatives(&out)
	src := fmt.Sprintf(nativeSource, NativeHash("std", "println"))
	th := newTestThreadArch(t, src, bytecode.Arch64, natives)
	wantReturn(t, runToExit(t, th), bytecode.Void())
	if out.String() != "hello\n" {
		t.Errorf("output = %q, want %q", out.String(), "hello\n")
	}
}

func TestNativeCallUnknown(t *testing.T) {
	src := fmt.Sprintf(nativeSource, uint64(12345))
	th := newTestThreadArch(t, src, bytecode.Arch64, StdNatives(&bytes.Buffer{}))
	wantPanic(t, runToExit(t, th), PanicCallToUnknown)
}

func TestNativeErrorIsRuntimeError(t *testing.T) {
	natives := NewNativeRegistry()
	err := natives.Register(NativeFunction{Module: "std", Name: "println", Arity: 1,
		Fn: func(*NativeContext, []bytecode.Value) (bytecode.Value, error) {
			return bytecode.Value{}, errors.New("boom")
		}})
	if err != nil {
		t.Fatalf("Register error: %v", err)
	}
	src := fmt.Sprintf(nativeSource, NativeHash("std", "println"))
	p := wantPanic(t, runToExit(t, newTestThreadArch(t, src, bytecode.Arch64, natives)), PanicRuntimeError)
	if p.Location.PC != 4 {
		t.Errorf("panic pc = %d, want 4", p.Location.PC)
	}
}

func TestInternalPanicIsRecovered(t *testing.T) {
	natives := NewNativeRegistry()
	err := natives.Register(NativeFunction{Module: "std", Name: "println", Arity: 1,
		Fn: func(*NativeContext, []bytecode.Value) (bytecode.Value, error) {
			var m map[string]int
			m["x"] = 1
			return bytecode.Void(), nil
		}})
	if err != nil {
		t.Fatalf("Register error: %v", err)
	}
	src := fmt.Sprintf(nativeSource, NativeHash("std", "println"))
	wantPanic(t, runToExit(t, newTestThreadArch(t, src, bytecode.Arch64, natives)), PanicInternalError)
}

func TestImmediateLoadsAreIndependent(t *testing.T) {
	src := `
.fn main 1
	CALL f
	CALL f
	RET
.end
.fn f 2
	LDA #(string)"a"
	LDB #(char)'b'
	SPUS @B
	STA $2
	LEN $2
	LDY @A
	RET
.end
`
	th := newTestThread(t, src)
	wantReturn(t, runToExit(t, th), bytecode.Int(2))
}

func TestDeallocateLoadedLiteral(t *testing.T) {
	src := `
.fn main 1
	LDA #(string)"a"
	STA $0
	DEA $0
	LDA #(string)"a"
	STA $0
	LEN $0
	LDY @A
	RET
.end
`
	th := newTestThread(t, src)
	wantReturn(t, runToExit(t, th), bytecode.Int(1))
}

// ---------------------------------------------------------------------------
// Heap reclaim and runner
// ---------------------------------------------------------------------------

func TestReclaimHeapKeepsReachable(t *testing.T) {
	src := `
.fn main 1
	ARR
	ARR
	ARR
	STA $0
	LDY #(int)0
	BRK
	RET
.end
`
	th := newTestThread(t, src)
	for th.State() != ThreadSuspended {
		if _, exit := th.Step(); exit != nil {
			t.Fatalf("unexpected exit %s", exit)
		}
	}
	if th.Heap().Live() != 3 {
		t.Fatalf("live entries = %d, want 3", th.Heap().Live())
	}
	// A and slot 0 hold the same array; the first two are garbage.
	if n := th.ReclaimHeap(); n != 2 {
		t.Errorf("ReclaimHeap() = %d, want 2", n)
	}
	if th.Heap().Live() != 1 {
		t.Errorf("live entries after reclaim = %d, want 1", th.Heap().Live())
	}
}

func TestReclaimKeepsLiterals(t *testing.T) {
	src := `
.fn main 1
	LDB #(string)"a"
	LDC #(string)"b"
	ADD
	LDB @A
	LDC #(string)"c"
	ADD
	LDY @A
	RET
.end
`
	th := newTestThread(t, src)
	exit, err := Run(context.Background(), th, RunOptions{ReclaimEvery: 1})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if !exit.Graceful() {
		t.Fatalf("exit = %s, want graceful", exit)
	}
	got, err := th.Heap().Get(exit.Return.AsRef())
	if err != nil {
		t.Fatalf("Heap().Get error: %v", err)
	}
	if got.AsString() != "abc" {
		t.Errorf("result = %q, want %q", got.AsString(), "abc")
	}
}

func TestRunHonorsCancellation(t *testing.T) {
	src := `
.fn main 1
loop:
	JMP loop
.end
`
	th := newTestThread(t, src)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	exit, err := Run(ctx, th, RunOptions{})
	if !errors.Is(err, context.Canceled) || exit != nil {
		t.Fatalf("Run = %v, %v; want context.Canceled", exit, err)
	}
}

func TestRunAllRunsEveryThread(t *testing.T) {
	var threads []*Thread
	for i := 0; i < 4; i++ {
		threads = append(threads, newTestThread(t, addSource))
	}
	exits, err := RunAll(context.Background(), threads, RunOptions{ReclaimEvery: 2})
	if err != nil {
		t.Fatalf("RunAll error: %v", err)
	}
	for i, exit := range exits {
		if !exit.Graceful() || !exit.Return.Equal(bytecode.Int(3)) {
			t.Errorf("thread %d exit = %s, want 3", i, exit)
		}
	}
}

func TestRunStopsAtTrap(t *testing.T) {
	src := `
.fn main 1
	BRK
	LDY #(int)5
	RET
.end
`
	th := newTestThread(t, src)
	exit, err := Run(context.Background(), th, RunOptions{StopAtTrap: true})
	if err != nil || exit != nil {
		t.Fatalf("Run = %v, %v; want stop at trap", exit, err)
	}
	exit, err = Run(context.Background(), th, RunOptions{})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	wantReturn(t, exit, bytecode.Int(5))
}
