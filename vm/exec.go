package vm

import "github.com/chazu/regvm/pkg/bytecode"

// MaxStaticArray bounds the element count of a SAR allocation.
const MaxStaticArray = 1 << 20

// exec applies the effect of ins at pc to the thread. Operands are
// resolved before anything is written; the frame's PC moves last.
func (t *Thread) exec(f *Frame, pc int, ins bytecode.Instruction) (StepKind, error) {
	op := ins.Operand
	m := ins.Mnemonic

	switch m {
	// --- Loads and stores ---
	case bytecode.LDA, bytecode.LDB, bytecode.LDC, bytecode.LDX, bytecode.LDY:
		v, err := t.load(f, op)
		if err != nil {
			return StepNext, err
		}
		r, _ := m.LoadRegister()
		t.regs.Set(r, v)

	case bytecode.STA, bytecode.STB, bytecode.STC, bytecode.STX, bytecode.STY:
		r, _ := m.StoreRegister()
		v := t.regs.Get(r)
		if op.Mode == bytecode.ModeImmediate {
			var err error
			if v, err = t.immediate(op.Value); err != nil {
				return StepNext, err
			}
		}
		if err := t.store(f, pc, op, v); err != nil {
			return StepNext, err
		}

	// --- Arithmetic, logic and comparison: B op C -> A ---
	case bytecode.ADD, bytecode.SUB, bytecode.MUL, bytecode.DIV, bytecode.MOD, bytecode.EXP:
		v, err := t.arithmetic(m)
		if err != nil {
			return StepNext, err
		}
		t.regs.Set(bytecode.RegA, v)

	case bytecode.AND, bytecode.OR:
		v, err := logic(m, t.regs.Get(bytecode.RegB), t.regs.Get(bytecode.RegC))
		if err != nil {
			return StepNext, err
		}
		t.regs.Set(bytecode.RegA, v)

	case bytecode.EQ, bytecode.NE, bytecode.GT, bytecode.LT, bytecode.GQ, bytecode.LQ:
		b, err := t.deref(t.regs.Get(bytecode.RegB))
		if err != nil {
			return StepNext, err
		}
		c, err := t.deref(t.regs.Get(bytecode.RegC))
		if err != nil {
			return StepNext, err
		}
		ok, err := compare(m, b, c)
		if err != nil {
			return StepNext, err
		}
		t.regs.Set(bytecode.RegA, bytecode.Bool(ok))

	// --- Control flow ---
	case bytecode.JMP:
		if err := t.checkTarget(op.Addr); err != nil {
			return StepJump, err
		}
		f.PC = int(op.Addr)
		return StepJump, nil

	case bytecode.JMPA:
		a := t.regs.Get(bytecode.RegA)
		if a.Kind() != bytecode.KindBool {
			return StepJump, faultf(PanicUnexpectedType, "JMPA needs a bool in A, got %s", a.TypeName())
		}
		if !a.AsBool() {
			break
		}
		if err := t.checkTarget(op.Addr); err != nil {
			return StepJump, err
		}
		f.PC = int(op.Addr)
		return StepJump, nil

	case bytecode.CALL:
		return StepCall, t.call(f, pc, int(op.Addr))

	case bytecode.RET:
		return StepReturn, t.ret()

	case bytecode.FN:
		_, end, err := t.functionAt(pc)
		if err != nil {
			return StepJump, err
		}
		f.PC = end
		return StepJump, nil

	// --- Collections ---
	case bytecode.PUSH:
		ref, err := t.asRef(t.regs.Get(bytecode.RegA))
		if err != nil {
			return StepNext, err
		}
		v, err := t.load(f, op)
		if err != nil {
			return StepNext, err
		}
		err = t.heap.Update(ref, func(c bytecode.Value) (bytecode.Value, error) {
			if c.Kind() != bytecode.KindArray {
				return c, typeFault(m, c)
			}
			return bytecode.WithElems(append(c.Elems(), v)), nil
		})
		if err != nil {
			return StepNext, err
		}

	case bytecode.SPUS:
		ref, err := t.asRef(t.regs.Get(bytecode.RegA))
		if err != nil {
			return StepNext, err
		}
		v, err := t.load(f, op)
		if err != nil {
			return StepNext, err
		}
		if v, err = t.deref(v); err != nil {
			return StepNext, err
		}
		var tail string
		switch v.Kind() {
		case bytecode.KindChar:
			tail = string(v.AsChar())
		case bytecode.KindByte:
			tail = string(rune(v.AsByte()))
		case bytecode.KindString:
			tail = v.AsString()
		default:
			return StepNext, typeFault(m, v)
		}
		err = t.heap.Update(ref, func(c bytecode.Value) (bytecode.Value, error) {
			if c.Kind() != bytecode.KindString {
				return c, typeFault(m, c)
			}
			return bytecode.String(c.AsString() + tail), nil
		})
		if err != nil {
			return StepNext, err
		}

	case bytecode.LEN:
		ref, err := t.slotRef(f, op.Addr)
		if err != nil {
			return StepNext, err
		}
		c, err := t.heap.Get(ref)
		if err != nil {
			return StepNext, err
		}
		n, ok := length(c)
		if !ok {
			return StepNext, typeFault(m, c)
		}
		t.regs.Set(bytecode.RegA, bytecode.Int(int64(n)))

	case bytecode.ARR:
		t.regs.Set(bytecode.RegA, bytecode.HeapRef(t.heap.Alloc(bytecode.Array())))

	case bytecode.STR:
		t.regs.Set(bytecode.RegA, bytecode.HeapRef(t.heap.Alloc(bytecode.String(""))))

	case bytecode.SAR:
		n := op.Value
		if n.Kind() != bytecode.KindInteger || n.AsInt() < 0 {
			return StepNext, faultf(PanicUnexpectedType, "SAR needs a non-negative int, got %s", n)
		}
		if n.AsInt() > MaxStaticArray {
			return StepNext, faultf(PanicHeapOutOfBounds, "static array of %d elements is too large", n.AsInt())
		}
		elems := make([]bytecode.Value, n.AsInt())
		for i := range elems {
			elems[i] = bytecode.Void()
		}
		t.regs.Set(bytecode.RegA, bytecode.HeapRef(t.heap.Alloc(bytecode.WithElems(elems))))

	case bytecode.POPS:
		ref, err := t.slotRef(f, op.Addr)
		if err != nil {
			return StepNext, err
		}
		var last bytecode.Value
		err = t.heap.Update(ref, func(c bytecode.Value) (bytecode.Value, error) {
			if c.Kind() != bytecode.KindArray {
				return c, typeFault(m, c)
			}
			elems := c.Elems()
			if len(elems) == 0 {
				return c, faultf(PanicHeapOutOfBounds, "pop from empty array %s", ref)
			}
			last = elems[len(elems)-1]
			return bytecode.WithElems(elems[:len(elems)-1]), nil
		})
		if err != nil {
			return StepNext, err
		}
		t.regs.Set(bytecode.RegA, last)

	// --- Conversions ---
	case bytecode.A2I, bytecode.A2F, bytecode.A2D, bytecode.A2B, bytecode.A2S, bytecode.A2C, bytecode.A2O:
		a := t.regs.Get(bytecode.RegA)
		src, err := t.deref(a)
		if err != nil {
			return StepNext, err
		}
		if m == bytecode.A2S && a.Kind() == bytecode.KindHeapRef && src.Kind() == bytecode.KindString {
			break
		}
		v, err := convert(m, src)
		if err != nil {
			return StepNext, err
		}
		if v.Kind() == bytecode.KindString {
			v = bytecode.HeapRef(t.heap.Alloc(v))
		}
		t.regs.Set(bytecode.RegA, v)

	// --- Memory ---
	case bytecode.CO:
		slot, err := f.Slot(op.Addr)
		if err != nil {
			return StepNext, err
		}
		v, err := t.stack.Get(slot)
		if err != nil {
			return StepNext, err
		}
		if v.IsVoid() {
			return StepNext, faultf(PanicNullReference, "slot %d holds no value", op.Addr)
		}
		cp, err := t.deepCopy(v)
		if err != nil {
			return StepNext, err
		}
		t.regs.Set(bytecode.RegA, cp)

	case bytecode.DEA:
		slot, err := f.Slot(op.Addr)
		if err != nil {
			return StepNext, err
		}
		v, err := t.stack.Get(slot)
		if err != nil {
			return StepNext, err
		}
		if v.Kind() == bytecode.KindHeapRef {
			if err := t.heap.Free(v.AsRef()); err != nil {
				return StepNext, err
			}
		}
		if err := t.stack.Set(slot, bytecode.Void()); err != nil {
			return StepNext, err
		}

	// --- Traps and natives ---
	case bytecode.BRK:
		f.PC = pc + 1
		return StepTrap, nil

	case bytecode.CALLN:
		if err := t.callNative(f, pc, op.Addr); err != nil {
			return StepNext, err
		}

	default:
		return StepNext, faultf(PanicInternalError, "no effect defined for %s", m)
	}

	f.PC = pc + 1
	return StepNext, nil
}

// arithmetic reads B and C for ADD SUB MUL DIV MOD EXP. ADD on two strings
// concatenates into a new heap entry.
func (t *Thread) arithmetic(m bytecode.Mnemonic) (bytecode.Value, error) {
	b, err := t.deref(t.regs.Get(bytecode.RegB))
	if err != nil {
		return bytecode.Value{}, err
	}
	c, err := t.deref(t.regs.Get(bytecode.RegC))
	if err != nil {
		return bytecode.Value{}, err
	}
	if m == bytecode.ADD && b.Kind() == bytecode.KindString && c.Kind() == bytecode.KindString {
		s := bytecode.String(b.AsString() + c.AsString())
		return bytecode.HeapRef(t.heap.Alloc(s)), nil
	}
	return arith(m, b, c)
}

func (t *Thread) checkTarget(target uint64) error {
	if target >= uint64(len(t.code)) {
		return faultf(PanicProgramCounterOutOfRange, "jump to %d outside program of %d instructions", target, len(t.code))
	}
	return nil
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

// call pushes a frame for the function whose FN header is at entry. The
// callee window starts right after the caller's.
func (t *Thread) call(caller *Frame, pc, entry int) error {
	hash, end, err := t.functionAt(entry)
	if err != nil {
		return err
	}
	callee := &Frame{
		Hash:     hash,
		Entry:    entry,
		End:      end,
		Base:     caller.Base + caller.Window,
		Window:   end - entry,
		PC:       entry + 2,
		ReturnPC: pc + 1,
		Saved:    t.regs,
	}
	if err := t.stack.Push(callee); err != nil {
		return err
	}
	if t.trace {
		log.Debugf("thread %s call %d -> fn %d (hash %d), depth %d", t.ID, pc, entry, hash, t.stack.Depth())
	}
	return nil
}

// ret pops the current frame. A, B, C and X come back from the snapshot; Y
// carries the return value. Returning from the last frame ends the thread.
func (t *Thread) ret() error {
	done, err := t.stack.Pop()
	if err != nil {
		return err
	}
	y := t.regs.Get(bytecode.RegY)
	caller := t.stack.Top()
	if caller == nil {
		t.finish(y)
		return nil
	}
	t.regs = done.Saved
	t.regs.Set(bytecode.RegY, y)
	caller.PC = done.ReturnPC
	if t.trace {
		log.Debugf("thread %s return to %d, depth %d", t.ID, done.ReturnPC, t.stack.Depth())
	}
	return nil
}

// callNative runs the native function bound to the CALLN at pc. Arguments
// are read from frame slots n, n+1, ...; the result goes to Y.
func (t *Thread) callNative(f *Frame, pc int, n uint64) error {
	trace, ok := t.program.NativeCalls[uint64(pc)]
	if !ok {
		return faultf(PanicCallToUnknown, "no native call trace for site %d", pc)
	}
	fn, ok := t.natives.Lookup(trace.Hash)
	if !ok {
		return faultf(PanicCallToUnknown, "native %s.%s (hash %d) is not registered", trace.Module, trace.Name, trace.Hash)
	}
	args := make([]bytecode.Value, fn.Arity)
	for i := range args {
		slot, err := f.Slot(n + uint64(i))
		if err != nil {
			return err
		}
		if args[i], err = t.stack.Get(slot); err != nil {
			return err
		}
	}
	ctx := &NativeContext{thread: t, Out: t.natives.Out}
	res, err := fn.Fn(ctx, args)
	if err != nil {
		return faultf(PanicRuntimeError, "native %s: %v", fn.QualifiedName(), err)
	}
	t.regs.Set(bytecode.RegY, t.intern(res))
	return nil
}
