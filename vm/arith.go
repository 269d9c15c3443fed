package vm

import (
	"math"

	"github.com/chazu/regvm/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Numeric widening
// ---------------------------------------------------------------------------

// widen brings two numeric operands to a common kind. Byte widens to an
// Integer of at least 16 bits, a narrower Integer to the wider one and
// Float to Double. Two Bytes stay Bytes. Any other mix is a type error.
func widen(op bytecode.Mnemonic, b, c bytecode.Value) (bytecode.Value, bytecode.Value, error) {
	bk, ck := b.Kind(), c.Kind()
	switch {
	case bk == ck && bk != bytecode.KindInteger:
		return b, c, nil
	case bk == bytecode.KindInteger && ck == bytecode.KindInteger:
		w := b.Width()
		if c.Width() > w {
			w = c.Width()
		}
		return bytecode.IntN(w, b.AsInt()), bytecode.IntN(w, c.AsInt()), nil
	case bk == bytecode.KindInteger && ck == bytecode.KindByte:
		w := byteWidth(b.Width())
		return bytecode.IntN(w, b.AsInt()), bytecode.IntN(w, c.AsInt()), nil
	case bk == bytecode.KindByte && ck == bytecode.KindInteger:
		w := byteWidth(c.Width())
		return bytecode.IntN(w, b.AsInt()), bytecode.IntN(w, c.AsInt()), nil
	case bk == bytecode.KindFloat && ck == bytecode.KindDouble:
		return bytecode.Double(float64(b.AsFloat())), c, nil
	case bk == bytecode.KindDouble && ck == bytecode.KindFloat:
		return b, bytecode.Double(float64(c.AsFloat())), nil
	}
	return b, c, typeFault(op, b, c)
}

// byteWidth is the narrowest Integer width of at least w that holds every
// Byte.
func byteWidth(w bytecode.IntWidth) bytecode.IntWidth {
	if w < bytecode.Int16 {
		return bytecode.Int16
	}
	return w
}

// ---------------------------------------------------------------------------
// Arithmetic
// ---------------------------------------------------------------------------

// arith applies ADD SUB MUL DIV MOD EXP to two scalar operands. Integer
// results wrap to the operand width.
func arith(op bytecode.Mnemonic, b, c bytecode.Value) (bytecode.Value, error) {
	if !b.Kind().IsNumeric() || !c.Kind().IsNumeric() {
		return bytecode.Value{}, typeFault(op, b, c)
	}
	b, c, err := widen(op, b, c)
	if err != nil {
		return bytecode.Value{}, err
	}
	switch b.Kind() {
	case bytecode.KindInteger:
		r, err := intArith(op, b.AsInt(), c.AsInt())
		if err != nil {
			return bytecode.Value{}, err
		}
		return bytecode.IntN(b.Width(), r), nil
	case bytecode.KindByte:
		r, err := intArith(op, b.AsInt(), c.AsInt())
		if err != nil {
			return bytecode.Value{}, err
		}
		return bytecode.Byte(byte(r)), nil
	case bytecode.KindFloat:
		return bytecode.Float(float32(floatArith(op, float64(b.AsFloat()), float64(c.AsFloat())))), nil
	case bytecode.KindDouble:
		return bytecode.Double(floatArith(op, b.AsDouble(), c.AsDouble())), nil
	}
	return bytecode.Value{}, typeFault(op, b, c)
}

// intArith computes on int64; callers truncate to the declared width.
// Go defines MinInt64 / -1 as MinInt64, which is the wrapping result.
func intArith(op bytecode.Mnemonic, x, y int64) (int64, error) {
	switch op {
	case bytecode.ADD:
		return x + y, nil
	case bytecode.SUB:
		return x - y, nil
	case bytecode.MUL:
		return x * y, nil
	case bytecode.DIV:
		if y == 0 {
			return 0, faultf(PanicDivisionByZero, "%d / 0", x)
		}
		return x / y, nil
	case bytecode.MOD:
		if y == 0 {
			return 0, faultf(PanicDivisionByZero, "%d %% 0", x)
		}
		return x % y, nil
	case bytecode.EXP:
		if y < 0 {
			return 0, faultf(PanicUnexpectedType, "negative integer exponent %d", y)
		}
		r := int64(1)
		for y > 0 {
			if y&1 == 1 {
				r *= x
			}
			x *= x
			y >>= 1
		}
		return r, nil
	}
	return 0, faultf(PanicInternalError, "%s is not arithmetic", op)
}

// floatArith follows IEEE-754: division by zero gives an infinity or NaN.
// op is one of the six arithmetic mnemonics.
func floatArith(op bytecode.Mnemonic, x, y float64) float64 {
	switch op {
	case bytecode.ADD:
		return x + y
	case bytecode.SUB:
		return x - y
	case bytecode.MUL:
		return x * y
	case bytecode.DIV:
		return x / y
	case bytecode.MOD:
		return math.Mod(x, y)
	}
	return math.Pow(x, y)
}

// logic applies AND and OR to two Bools.
func logic(op bytecode.Mnemonic, b, c bytecode.Value) (bytecode.Value, error) {
	if b.Kind() != bytecode.KindBool || c.Kind() != bytecode.KindBool {
		return bytecode.Value{}, typeFault(op, b, c)
	}
	if op == bytecode.AND {
		return bytecode.Bool(b.AsBool() && c.AsBool()), nil
	}
	return bytecode.Bool(b.AsBool() || c.AsBool()), nil
}

// ---------------------------------------------------------------------------
// Comparison
// ---------------------------------------------------------------------------

// compare applies EQ NE GT LT GQ LQ to two dereferenced operands.
func compare(op bytecode.Mnemonic, b, c bytecode.Value) (bool, error) {
	if op == bytecode.EQ || op == bytecode.NE {
		eq, err := equal(op, b, c)
		if op == bytecode.NE {
			eq = !eq
		}
		return eq, err
	}
	cmp, err := order(op, b, c)
	if err != nil || cmp == unordered {
		return false, err
	}
	switch op {
	case bytecode.GT:
		return cmp > 0, nil
	case bytecode.LT:
		return cmp < 0, nil
	case bytecode.GQ:
		return cmp >= 0, nil
	case bytecode.LQ:
		return cmp <= 0, nil
	}
	return false, faultf(PanicInternalError, "%s is not a comparison", op)
}

func isNothing(k bytecode.Kind) bool { return k == bytecode.KindVoid || k == bytecode.KindNull }

func equal(op bytecode.Mnemonic, b, c bytecode.Value) (bool, error) {
	bk, ck := b.Kind(), c.Kind()
	if isNothing(bk) || isNothing(ck) {
		return bk == ck, nil
	}
	if bk.IsNumeric() && ck.IsNumeric() {
		cmp, err := order(op, b, c)
		return err == nil && cmp == 0, err
	}
	if bk != ck {
		return false, typeFault(op, b, c)
	}
	return b.Equal(c), nil
}

// unordered is what order returns when either operand is NaN.
const unordered = 2

// order returns -1, 0, 1 or unordered.
func order(op bytecode.Mnemonic, b, c bytecode.Value) (int, error) {
	bk, ck := b.Kind(), c.Kind()
	switch {
	case bk == bytecode.KindChar && ck == bytecode.KindChar:
		return cmp3(int64(b.AsChar()), int64(c.AsChar())), nil
	case bk.IsNumeric() && ck.IsNumeric():
		wb, wc, err := widen(op, b, c)
		if err != nil {
			return 0, err
		}
		switch wb.Kind() {
		case bytecode.KindInteger, bytecode.KindByte:
			return cmp3(wb.AsInt(), wc.AsInt()), nil
		case bytecode.KindFloat:
			return cmp3f(float64(wb.AsFloat()), float64(wc.AsFloat())), nil
		case bytecode.KindDouble:
			return cmp3f(wb.AsDouble(), wc.AsDouble()), nil
		}
	}
	return 0, typeFault(op, b, c)
}

func cmp3(x, y int64) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

func cmp3f(x, y float64) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	case x == y:
		return 0
	}
	return unordered
}
