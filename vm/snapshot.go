package vm

import "github.com/chazu/regvm/pkg/bytecode"

// ---------------------------------------------------------------------------
// Snapshots: point-in-time copies of a thread's memory
// ---------------------------------------------------------------------------

// SlotView is one stack slot.
type SlotView struct {
	Index int            `cbor:"1,keyasint" json:"index"`
	Type  string         `cbor:"2,keyasint" json:"type"`
	Value bytecode.Value `cbor:"3,keyasint" json:"-"`
	Text  string         `cbor:"-" json:"value"`
}

// FrameView is one frame without its register snapshot.
type FrameView struct {
	Hash     uint64 `cbor:"1,keyasint" json:"hash"`
	Entry    int    `cbor:"2,keyasint" json:"entry"`
	End      int    `cbor:"3,keyasint" json:"end"`
	Base     int    `cbor:"4,keyasint" json:"base"`
	Window   int    `cbor:"5,keyasint" json:"window"`
	PC       int    `cbor:"6,keyasint" json:"pc"`
	ReturnPC int    `cbor:"7,keyasint" json:"return_pc"`
}

// StackView is the stack memory as the debugger shows it.
type StackView struct {
	Slots  []SlotView  `cbor:"1,keyasint" json:"slots"`
	Frames []FrameView `cbor:"2,keyasint" json:"frames"`
}

// Snapshot is a self-contained copy of a thread's state.
type Snapshot struct {
	ThreadID  string          `cbor:"1,keyasint"`
	State     string          `cbor:"2,keyasint"`
	Steps     uint64          `cbor:"3,keyasint"`
	Arch      string          `cbor:"4,keyasint"`
	Location  CodeLocation    `cbor:"5,keyasint"`
	Registers []RegisterView  `cbor:"6,keyasint"`
	Stack     StackView       `cbor:"7,keyasint"`
	Heap      []HeapEntryView `cbor:"8,keyasint"`
	Exit      *ThreadExit     `cbor:"9,keyasint,omitempty"`
}

// StackMemory returns a copy of the slots and frames.
func (t *Thread) StackMemory() StackView {
	slots := t.stack.Slots()
	sv := StackView{
		Slots:  make([]SlotView, len(slots)),
		Frames: make([]FrameView, 0, t.stack.Depth()),
	}
	for i, v := range slots {
		sv.Slots[i] = SlotView{Index: i, Type: v.TypeName(), Value: v, Text: v.String()}
	}
	for _, f := range t.stack.Frames() {
		sv.Frames = append(sv.Frames, FrameView{
			Hash:     f.Hash,
			Entry:    f.Entry,
			End:      f.End,
			Base:     f.Base,
			Window:   f.Window,
			PC:       f.PC,
			ReturnPC: f.ReturnPC,
		})
	}
	return sv
}

// HeapMemory returns a copy of every live heap entry.
func (t *Thread) HeapMemory() []HeapEntryView { return t.heap.View() }

// Snapshot copies the full thread state.
func (t *Thread) Snapshot() *Snapshot {
	return &Snapshot{
		ThreadID:  t.ID.String(),
		State:     t.state.String(),
		Steps:     t.steps,
		Arch:      t.program.Arch.String(),
		Location:  t.CodeLocation(),
		Registers: t.Registers(),
		Stack:     t.StackMemory(),
		Heap:      t.HeapMemory(),
		Exit:      t.exit,
	}
}
