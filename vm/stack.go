package vm

import (
	"fmt"

	"github.com/chazu/regvm/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Frame: one active call
// ---------------------------------------------------------------------------

// Frame is the execution state of one call. Its slot window starts at Base
// and has one slot per instruction of the function, so an instruction's own
// slot is Base + (pc - Entry).
type Frame struct {
	Hash     uint64    // function hash from the FN header
	Entry    int       // index of the FN header
	End      int       // index just past the function body
	Base     int       // first slot of the window
	Window   int       // slot count, End - Entry
	PC       int       // next instruction to execute
	ReturnPC int       // caller instruction to resume at, -1 for the entry frame
	Saved    Registers // register file at CALL time
}

// Slot returns the absolute slot for frame-relative address n.
func (f *Frame) Slot(n uint64) (int, error) {
	if n >= uint64(f.Window) {
		return 0, fmt.Errorf("%w: local %d outside frame window of %d", ErrStackOutOfBounds, n, f.Window)
	}
	return f.Base + int(n), nil
}

// OwnSlot returns the slot owned by the instruction at pc.
func (f *Frame) OwnSlot(pc int) (int, error) {
	if pc < f.Entry || pc >= f.End {
		return 0, fmt.Errorf("%w: pc %d outside function %d..%d", ErrStackOutOfBounds, pc, f.Entry, f.End)
	}
	return f.Base + pc - f.Entry, nil
}

// ---------------------------------------------------------------------------
// Stack memory
// ---------------------------------------------------------------------------

// DefaultMaxStack bounds stack growth when no limit is configured.
const DefaultMaxStack = 1 << 16

// Stack holds the value slots and the frame chain of one thread.
type Stack struct {
	slots  []bytecode.Value
	frames []*Frame
	max    int
}

// NewStack creates an empty stack with the given slot limit.
func NewStack(maxSlots int) *Stack {
	if maxSlots <= 0 {
		maxSlots = DefaultMaxStack
	}
	return &Stack{
		slots:  make([]bytecode.Value, 0, 64),
		frames: make([]*Frame, 0, 8),
		max:    maxSlots,
	}
}

// Push installs f as the current frame and grows the slots to cover its
// window.
func (s *Stack) Push(f *Frame) error {
	need := f.Base + f.Window
	if need > s.max {
		return fmt.Errorf("%w: frame needs %d slots, limit is %d", ErrStackOverflow, need, s.max)
	}
	for len(s.slots) < need {
		s.slots = append(s.slots, bytecode.Void())
	}
	s.frames = append(s.frames, f)
	return nil
}

// Pop removes the current frame, clears its slots and truncates the slot
// slice back to the caller's extent.
func (s *Stack) Pop() (*Frame, error) {
	if len(s.frames) == 0 {
		return nil, ErrStackUnderflow
	}
	f := s.frames[len(s.frames)-1]
	s.frames[len(s.frames)-1] = nil
	s.frames = s.frames[:len(s.frames)-1]

	keep := 0
	if caller := s.Top(); caller != nil {
		keep = caller.Base + caller.Window
	}
	for i := keep; i < len(s.slots); i++ {
		s.slots[i] = bytecode.Value{}
	}
	if keep < len(s.slots) {
		s.slots = s.slots[:keep]
	}
	return f, nil
}

// Top returns the current frame, or nil when the stack is empty.
func (s *Stack) Top() *Frame {
	if len(s.frames) == 0 {
		return nil
	}
	return s.frames[len(s.frames)-1]
}

// Depth returns the number of frames.
func (s *Stack) Depth() int { return len(s.frames) }

// Len returns the number of slots in use.
func (s *Stack) Len() int { return len(s.slots) }

// Get reads absolute slot i.
func (s *Stack) Get(i int) (bytecode.Value, error) {
	if i < 0 || i >= len(s.slots) {
		return bytecode.Value{}, fmt.Errorf("%w: slot %d of %d", ErrStackOutOfBounds, i, len(s.slots))
	}
	return s.slots[i], nil
}

// Set writes absolute slot i.
func (s *Stack) Set(i int, v bytecode.Value) error {
	if i < 0 || i >= len(s.slots) {
		return fmt.Errorf("%w: slot %d of %d", ErrStackOutOfBounds, i, len(s.slots))
	}
	s.slots[i] = v
	return nil
}

// Slots returns a copy of every slot.
func (s *Stack) Slots() []bytecode.Value {
	out := make([]bytecode.Value, len(s.slots))
	for i, v := range s.slots {
		out[i] = v.Clone()
	}
	return out
}

// Frames returns copies of the frames, outermost first.
func (s *Stack) Frames() []Frame {
	out := make([]Frame, len(s.frames))
	for i, f := range s.frames {
		out[i] = *f
	}
	return out
}

// Trace returns the frame chain innermost first, for panic reports.
func (s *Stack) Trace() []TraceFrame {
	out := make([]TraceFrame, 0, len(s.frames))
	for i := len(s.frames) - 1; i >= 0; i-- {
		f := s.frames[i]
		out = append(out, TraceFrame{Hash: f.Hash, Entry: f.Entry, PC: f.PC, Base: f.Base})
	}
	return out
}
