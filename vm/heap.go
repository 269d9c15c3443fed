package vm

import (
	"fmt"

	"github.com/chazu/regvm/pkg/bytecode"
)

// heapEntry is one arena slot. gen is bumped every time the slot dies so
// that references taken before the death are detected as stale.
type heapEntry struct {
	gen   uint32
	live  bool
	value bytecode.Value
}

// Heap is the per-thread arena for strings, arrays and other values that
// live outside the stack. Every stored value is an owned deep copy.
//
// Entries are never freed implicitly. They die through Free (the DEA
// instruction) or through an explicit Reclaim pass run by the driver.
type Heap struct {
	entries []heapEntry
	free    []uint32
}

// NewHeap returns an empty heap.
func NewHeap() *Heap {
	return &Heap{entries: make([]heapEntry, 0, 16)}
}

// Alloc stores a copy of v and returns its reference.
func (h *Heap) Alloc(v bytecode.Value) bytecode.Ref {
	if n := len(h.free); n > 0 {
		idx := h.free[n-1]
		h.free = h.free[:n-1]
		e := &h.entries[idx]
		e.live = true
		e.value = v.Clone()
		return bytecode.Ref{Index: idx, Gen: e.gen}
	}
	h.entries = append(h.entries, heapEntry{live: true, value: v.Clone()})
	return bytecode.Ref{Index: uint32(len(h.entries) - 1)}
}

func (h *Heap) entry(r bytecode.Ref) (*heapEntry, error) {
	if int(r.Index) >= len(h.entries) {
		return nil, fmt.Errorf("%w: %s (heap has %d entries)", ErrHeapOutOfBounds, r, len(h.entries))
	}
	e := &h.entries[r.Index]
	if !e.live || e.gen != r.Gen {
		return nil, fmt.Errorf("%w: %s", ErrStaleReference, r)
	}
	return e, nil
}

// Get returns a copy of the value behind r.
func (h *Heap) Get(r bytecode.Ref) (bytecode.Value, error) {
	e, err := h.entry(r)
	if err != nil {
		return bytecode.Value{}, err
	}
	return e.value.Clone(), nil
}

// Set replaces the value behind r with a copy of v.
func (h *Heap) Set(r bytecode.Ref, v bytecode.Value) error {
	e, err := h.entry(r)
	if err != nil {
		return err
	}
	e.value = v.Clone()
	return nil
}

// Update lets fn modify the stored value in place. fn's changes are kept
// only if it returns nil.
func (h *Heap) Update(r bytecode.Ref, fn func(v bytecode.Value) (bytecode.Value, error)) error {
	e, err := h.entry(r)
	if err != nil {
		return err
	}
	nv, err := fn(e.value.Clone())
	if err != nil {
		return err
	}
	e.value = nv
	return nil
}

// Free kills the entry behind r. Freeing a stale reference is an error.
func (h *Heap) Free(r bytecode.Ref) error {
	e, err := h.entry(r)
	if err != nil {
		return err
	}
	e.live = false
	e.value = bytecode.Value{}
	e.gen++
	h.free = append(h.free, r.Index)
	return nil
}

// Live returns the number of live entries.
func (h *Heap) Live() int { return len(h.entries) - len(h.free) }

// Cap returns the arena size, live or not.
func (h *Heap) Cap() int { return len(h.entries) }

// Reclaim frees every live entry not reachable from roots. HeapRefs inside
// reachable arrays are followed. It returns the number of entries freed.
func (h *Heap) Reclaim(roots []bytecode.Value) int {
	marked := make([]bool, len(h.entries))
	var mark func(v bytecode.Value)
	mark = func(v bytecode.Value) {
		switch v.Kind() {
		case bytecode.KindHeapRef:
			r := v.AsRef()
			e, err := h.entry(r)
			if err != nil || marked[r.Index] {
				return
			}
			marked[r.Index] = true
			mark(e.value)
		case bytecode.KindArray:
			for _, el := range v.Elems() {
				mark(el)
			}
		}
	}
	for _, v := range roots {
		mark(v)
	}

	freed := 0
	for i := range h.entries {
		e := &h.entries[i]
		if e.live && !marked[i] {
			_ = h.Free(bytecode.Ref{Index: uint32(i), Gen: e.gen})
			freed++
		}
	}
	return freed
}

// HeapEntryView is a read-only rendering of one live heap entry.
type HeapEntryView struct {
	Ref   bytecode.Ref   `cbor:"ref" json:"-"`
	Index uint32         `cbor:"-" json:"index"`
	Gen   uint32         `cbor:"-" json:"generation"`
	Type  string         `cbor:"type" json:"type"`
	Value bytecode.Value `cbor:"value" json:"-"`
	Text  string         `cbor:"-" json:"value"`
}

// View returns copies of every live entry in index order.
func (h *Heap) View() []HeapEntryView {
	out := make([]HeapEntryView, 0, h.Live())
	for i, e := range h.entries {
		if !e.live {
			continue
		}
		out = append(out, HeapEntryView{
			Ref:   bytecode.Ref{Index: uint32(i), Gen: e.gen},
			Index: uint32(i),
			Gen:   e.gen,
			Type:  e.value.TypeName(),
			Value: e.value.Clone(),
			Text:  e.value.String(),
		})
	}
	return out
}
