package vm

import (
	"unicode/utf8"

	"github.com/chazu/regvm/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Operand resolution
// ---------------------------------------------------------------------------

// load resolves a source operand to a value. Void slots and elements fail
// with NullReference.
func (t *Thread) load(f *Frame, op bytecode.Operand) (bytecode.Value, error) {
	v, err := t.peek(f, op)
	if err != nil {
		return v, err
	}
	if v.IsVoid() {
		return v, faultf(PanicNullReference, "operand %s holds no value", op)
	}
	return v, nil
}

// peek resolves a source operand without rejecting Void.
func (t *Thread) peek(f *Frame, op bytecode.Operand) (bytecode.Value, error) {
	switch op.Mode {
	case bytecode.ModeImmediate:
		return t.immediate(op.Value)
	case bytecode.ModeAbsolute:
		slot, err := f.Slot(op.Addr)
		if err != nil {
			return bytecode.Value{}, err
		}
		return t.stack.Get(slot)
	case bytecode.ModeAbsoluteStatic:
		return t.stack.Get(int(op.Addr))
	case bytecode.ModeAbsoluteIndex, bytecode.ModeAbsoluteProperty:
		ref, idx, err := t.element(f, op)
		if err != nil {
			return bytecode.Value{}, err
		}
		return t.elementAt(ref, idx)
	}
	if r, ok := op.Mode.IndirectRegister(); ok {
		v := t.regs.Get(r)
		if v.Kind() == bytecode.KindStackRef {
			return t.stack.Get(int(v.AsSlot()))
		}
		return v, nil
	}
	return bytecode.Value{}, faultf(PanicInternalError, "%s operand has no source value", op.Mode)
}

// immediate returns the value of an immediate operand. Interned strings and
// arrays are deep-copied so every load owns its own heap entry.
func (t *Thread) immediate(v bytecode.Value) (bytecode.Value, error) {
	if v.Kind() != bytecode.KindHeapRef {
		return v, nil
	}
	if _, ok := t.consts[v.AsRef()]; !ok {
		return v, nil
	}
	return t.deepCopy(v)
}

// store writes v to a destination operand. Implicit and Immediate store to
// the slot owned by the instruction at pc.
func (t *Thread) store(f *Frame, pc int, op bytecode.Operand, v bytecode.Value) error {
	switch op.Mode {
	case bytecode.ModeImplicit, bytecode.ModeImmediate:
		slot, err := f.OwnSlot(pc)
		if err != nil {
			return err
		}
		return t.stack.Set(slot, v)
	case bytecode.ModeAbsolute:
		slot, err := f.Slot(op.Addr)
		if err != nil {
			return err
		}
		return t.stack.Set(slot, v)
	case bytecode.ModeAbsoluteIndex, bytecode.ModeAbsoluteProperty:
		ref, idx, err := t.element(f, op)
		if err != nil {
			return err
		}
		return t.setElement(ref, idx, v)
	}
	return faultf(PanicInternalError, "%s operand is not a destination", op.Mode)
}

// slotRef reads frame slot n and requires a HeapRef.
func (t *Thread) slotRef(f *Frame, n uint64) (bytecode.Ref, error) {
	slot, err := f.Slot(n)
	if err != nil {
		return bytecode.Ref{}, err
	}
	v, err := t.stack.Get(slot)
	if err != nil {
		return bytecode.Ref{}, err
	}
	return t.asRef(v)
}

func (t *Thread) asRef(v bytecode.Value) (bytecode.Ref, error) {
	switch v.Kind() {
	case bytecode.KindHeapRef:
		return v.AsRef(), nil
	case bytecode.KindVoid, bytecode.KindNull:
		return bytecode.Ref{}, faultf(PanicNullReference, "expected a heap reference, got %s", v.TypeName())
	}
	return bytecode.Ref{}, faultf(PanicUnexpectedType, "expected a heap reference, got %s", v.TypeName())
}

// element resolves the container reference and element index of an
// AbsoluteIndex or AbsoluteProperty operand.
func (t *Thread) element(f *Frame, op bytecode.Operand) (bytecode.Ref, int, error) {
	ref, err := t.slotRef(f, op.Addr)
	if err != nil {
		return ref, 0, err
	}
	if op.Mode == bytecode.ModeAbsoluteProperty {
		return ref, int(op.Index), nil
	}
	slot, err := f.Slot(op.Index)
	if err != nil {
		return ref, 0, err
	}
	iv, err := t.stack.Get(slot)
	if err != nil {
		return ref, 0, err
	}
	if iv.Kind() != bytecode.KindInteger {
		return ref, 0, faultf(PanicUnexpectedType, "index must be an int, got %s", iv.TypeName())
	}
	return ref, int(iv.AsInt()), nil
}

// elementAt reads element idx of a heap array, or the idx-th char of a
// heap string.
func (t *Thread) elementAt(ref bytecode.Ref, idx int) (bytecode.Value, error) {
	c, err := t.heap.Get(ref)
	if err != nil {
		return bytecode.Value{}, err
	}
	switch c.Kind() {
	case bytecode.KindArray:
		if idx < 0 || idx >= c.Len() {
			return bytecode.Value{}, faultf(PanicHeapOutOfBounds, "index %d outside array of %d", idx, c.Len())
		}
		return c.Elems()[idx], nil
	case bytecode.KindString:
		runes := []rune(c.AsString())
		if idx < 0 || idx >= len(runes) {
			return bytecode.Value{}, faultf(PanicHeapOutOfBounds, "index %d outside string of %d", idx, len(runes))
		}
		return bytecode.Char(runes[idx]), nil
	}
	return bytecode.Value{}, faultf(PanicUnexpectedType, "cannot index %s", c.TypeName())
}

// setElement writes element idx of a heap array, or replaces the idx-th
// char of a heap string with a Char or Byte.
func (t *Thread) setElement(ref bytecode.Ref, idx int, v bytecode.Value) error {
	return t.heap.Update(ref, func(c bytecode.Value) (bytecode.Value, error) {
		switch c.Kind() {
		case bytecode.KindArray:
			if idx < 0 || idx >= c.Len() {
				return c, faultf(PanicHeapOutOfBounds, "index %d outside array of %d", idx, c.Len())
			}
			c.Elems()[idx] = v
			return c, nil
		case bytecode.KindString:
			runes := []rune(c.AsString())
			if idx < 0 || idx >= len(runes) {
				return c, faultf(PanicHeapOutOfBounds, "index %d outside string of %d", idx, len(runes))
			}
			switch v.Kind() {
			case bytecode.KindChar:
				runes[idx] = v.AsChar()
			case bytecode.KindByte:
				runes[idx] = rune(v.AsByte())
			default:
				return c, faultf(PanicUnexpectedType, "cannot store %s into a string", v.TypeName())
			}
			return bytecode.String(string(runes)), nil
		}
		return c, faultf(PanicUnexpectedType, "cannot index %s", c.TypeName())
	})
}

// deref follows a HeapRef; other values are returned unchanged.
func (t *Thread) deref(v bytecode.Value) (bytecode.Value, error) {
	if v.Kind() != bytecode.KindHeapRef {
		return v, nil
	}
	return t.heap.Get(v.AsRef())
}

// length returns the element count of an array or the char count of a
// string.
func length(v bytecode.Value) (int, bool) {
	switch v.Kind() {
	case bytecode.KindArray:
		return v.Len(), true
	case bytecode.KindString:
		return utf8.RuneCountInString(v.AsString()), true
	}
	return 0, false
}

// deepCopy duplicates v, giving every heap payload it reaches a fresh
// entry. Shared and cyclic references keep their shape in the copy.
func (t *Thread) deepCopy(v bytecode.Value) (bytecode.Value, error) {
	return t.copyRef(v, make(map[bytecode.Ref]bytecode.Ref))
}

func (t *Thread) copyRef(v bytecode.Value, seen map[bytecode.Ref]bytecode.Ref) (bytecode.Value, error) {
	if v.Kind() != bytecode.KindHeapRef {
		return v.Clone(), nil
	}
	src := v.AsRef()
	if dst, ok := seen[src]; ok {
		return bytecode.HeapRef(dst), nil
	}
	c, err := t.heap.Get(src)
	if err != nil {
		return bytecode.Value{}, err
	}
	dst := t.heap.Alloc(bytecode.Void())
	seen[src] = dst
	if c.Kind() == bytecode.KindArray {
		elems := make([]bytecode.Value, c.Len())
		for i, e := range c.Elems() {
			if elems[i], err = t.copyRef(e, seen); err != nil {
				return bytecode.Value{}, err
			}
		}
		c = bytecode.WithElems(elems)
	}
	if err := t.heap.Set(dst, c); err != nil {
		return bytecode.Value{}, err
	}
	return bytecode.HeapRef(dst), nil
}
