package vm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/chazu/regvm/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Panic reasons
// ---------------------------------------------------------------------------

// PanicReason classifies a runtime panic.
type PanicReason int

const (
	PanicStackOverflow PanicReason = iota + 1
	PanicStackUnderflow
	PanicStackOutOfBounds
	PanicHeapOutOfBounds
	PanicStaleReference
	PanicNullReference
	PanicUnexpectedType
	PanicDivisionByZero
	PanicIntegerOverflow
	PanicCallToUnknown
	PanicProgramCounterOutOfRange
	PanicRuntimeError
	PanicInternalError
)

var panicReasonNames = map[PanicReason]string{
	PanicStackOverflow:            "stack overflow",
	PanicStackUnderflow:           "stack underflow",
	PanicStackOutOfBounds:         "stack index out of bounds",
	PanicHeapOutOfBounds:          "heap index out of bounds",
	PanicStaleReference:           "stale heap reference",
	PanicNullReference:            "null reference",
	PanicUnexpectedType:           "unexpected type",
	PanicDivisionByZero:           "division by zero",
	PanicIntegerOverflow:          "integer overflow",
	PanicCallToUnknown:            "call to unknown target",
	PanicProgramCounterOutOfRange: "program counter out of range",
	PanicRuntimeError:             "runtime error",
	PanicInternalError:            "internal error",
}

func (r PanicReason) String() string {
	if s, ok := panicReasonNames[r]; ok {
		return s
	}
	return fmt.Sprintf("PanicReason(%d)", int(r))
}

// Sentinel errors raised by stack and heap memory. They map onto panic
// reasons when they reach the Step boundary.
var (
	ErrStackOverflow    = errors.New("stack overflow")
	ErrStackUnderflow   = errors.New("stack underflow")
	ErrStackOutOfBounds = errors.New("stack index out of bounds")
	ErrHeapOutOfBounds  = errors.New("heap index out of bounds")
	ErrStaleReference   = errors.New("stale heap reference")
)

// fault is the error an instruction effect returns. It never escapes the
// package: Step converts it into a Panic.
type fault struct {
	reason PanicReason
	msg    string
}

func (f *fault) Error() string { return f.reason.String() + ": " + f.msg }

func faultf(reason PanicReason, format string, args ...any) error {
	return &fault{reason: reason, msg: fmt.Sprintf(format, args...)}
}

func typeFault(op bytecode.Mnemonic, vals ...bytecode.Value) error {
	names := make([]string, len(vals))
	for i, v := range vals {
		names[i] = v.TypeName()
	}
	return faultf(PanicUnexpectedType, "%s cannot operate on %s", op, strings.Join(names, ", "))
}

// reasonFor maps an error from an instruction effect to a panic reason.
func reasonFor(err error) (PanicReason, string) {
	var f *fault
	switch {
	case errors.As(err, &f):
		return f.reason, f.msg
	case errors.Is(err, ErrStackOverflow):
		return PanicStackOverflow, err.Error()
	case errors.Is(err, ErrStackUnderflow):
		return PanicStackUnderflow, err.Error()
	case errors.Is(err, ErrStackOutOfBounds):
		return PanicStackOutOfBounds, err.Error()
	case errors.Is(err, ErrHeapOutOfBounds):
		return PanicHeapOutOfBounds, err.Error()
	case errors.Is(err, ErrStaleReference):
		return PanicStaleReference, err.Error()
	}
	return PanicRuntimeError, err.Error()
}

// ---------------------------------------------------------------------------
// Thread exit
// ---------------------------------------------------------------------------

// CodeLocation identifies an instruction by index and byte offset.
type CodeLocation struct {
	PC     int `cbor:"pc"`
	Offset int `cbor:"offset"`
}

func (l CodeLocation) String() string {
	return fmt.Sprintf("pc %d (byte 0x%04X)", l.PC, l.Offset)
}

// TraceFrame is one frame of a panic stack trace.
type TraceFrame struct {
	Hash  uint64 `cbor:"hash"`
	Entry int    `cbor:"entry"`
	PC    int    `cbor:"pc"`
	Base  int    `cbor:"base"`
}

// Panic describes an abnormal thread termination.
type Panic struct {
	Reason     PanicReason  `cbor:"reason"`
	Message    string       `cbor:"message"`
	Location   CodeLocation `cbor:"location"`
	StackTrace []TraceFrame `cbor:"stack_trace"` // innermost first
}

func (p *Panic) Error() string {
	return fmt.Sprintf("thread panicked at %s: %s", p.Location, p.Message)
}

// ExitKind distinguishes graceful exits from panics.
type ExitKind int

const (
	ExitGracefully ExitKind = iota
	ExitPanic
)

func (k ExitKind) String() string {
	if k == ExitGracefully {
		return "exit_gracefully"
	}
	return "panic"
}

// ThreadExit is the terminal outcome of a thread.
type ThreadExit struct {
	Kind   ExitKind       `cbor:"kind"`
	Return bytecode.Value `cbor:"return"` // Y at the final RET, for graceful exits
	Panic  *Panic         `cbor:"panic,omitempty"`
}

// Graceful reports whether the thread finished without a panic.
func (e *ThreadExit) Graceful() bool { return e != nil && e.Kind == ExitGracefully }

func (e *ThreadExit) String() string {
	if e == nil {
		return "<running>"
	}
	if e.Kind == ExitGracefully {
		return "exited gracefully with " + e.Return.String()
	}
	return fmt.Sprintf("panic (%s) at %s: %s", e.Panic.Reason, e.Panic.Location, e.Panic.Message)
}
