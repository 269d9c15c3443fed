package vm

import (
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/chazu/regvm/pkg/bytecode"
)

// convert rewrites the A register for A2I A2F A2D A2B A2S A2C A2O. Strings
// arrive dereferenced; A2S results are allocated on the heap by the caller.
func convert(op bytecode.Mnemonic, a bytecode.Value) (bytecode.Value, error) {
	switch op {
	case bytecode.A2I:
		return toInt(a)
	case bytecode.A2F:
		d, err := toDouble(op, a)
		if err != nil {
			return bytecode.Value{}, err
		}
		return bytecode.Float(float32(d)), nil
	case bytecode.A2D:
		d, err := toDouble(op, a)
		if err != nil {
			return bytecode.Value{}, err
		}
		return bytecode.Double(d), nil
	case bytecode.A2B:
		return toByte(a)
	case bytecode.A2S:
		return toString(a)
	case bytecode.A2C:
		return toChar(a)
	case bytecode.A2O:
		return toBool(a)
	}
	return bytecode.Value{}, faultf(PanicInternalError, "%s is not a conversion", op)
}

func toInt(a bytecode.Value) (bytecode.Value, error) {
	switch a.Kind() {
	case bytecode.KindInteger, bytecode.KindByte, bytecode.KindChar, bytecode.KindBool:
		return bytecode.Int(a.AsInt()), nil
	case bytecode.KindFloat, bytecode.KindDouble:
		f := a.AsDouble()
		if a.Kind() == bytecode.KindFloat {
			f = float64(a.AsFloat())
		}
		if math.IsNaN(f) || math.IsInf(f, 0) || f >= math.MaxInt64 || f < math.MinInt64 {
			return bytecode.Value{}, faultf(PanicIntegerOverflow, "%g does not fit in int", f)
		}
		return bytecode.Int(int64(f)), nil
	case bytecode.KindString:
		n, err := strconv.ParseInt(strings.TrimSpace(a.AsString()), 10, 64)
		if err != nil {
			return bytecode.Value{}, faultf(PanicUnexpectedType, "cannot convert %q to int", a.AsString())
		}
		return bytecode.Int(n), nil
	}
	return bytecode.Value{}, typeFault(bytecode.A2I, a)
}

func toDouble(op bytecode.Mnemonic, a bytecode.Value) (float64, error) {
	switch a.Kind() {
	case bytecode.KindInteger, bytecode.KindByte:
		return float64(a.AsInt()), nil
	case bytecode.KindFloat:
		return float64(a.AsFloat()), nil
	case bytecode.KindDouble:
		return a.AsDouble(), nil
	case bytecode.KindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(a.AsString()), 64)
		if err != nil {
			return 0, faultf(PanicUnexpectedType, "cannot convert %q to a number", a.AsString())
		}
		return f, nil
	}
	return 0, typeFault(op, a)
}

func toByte(a bytecode.Value) (bytecode.Value, error) {
	switch a.Kind() {
	case bytecode.KindByte:
		return a, nil
	case bytecode.KindInteger, bytecode.KindChar, bytecode.KindBool:
		n := a.AsInt()
		if n < 0 || n > math.MaxUint8 {
			return bytecode.Value{}, faultf(PanicIntegerOverflow, "%d does not fit in a byte", n)
		}
		return bytecode.Byte(byte(n)), nil
	}
	return bytecode.Value{}, typeFault(bytecode.A2B, a)
}

func toString(a bytecode.Value) (bytecode.Value, error) {
	switch a.Kind() {
	case bytecode.KindString:
		return a, nil
	case bytecode.KindChar:
		return bytecode.String(string(a.AsChar())), nil
	case bytecode.KindInteger, bytecode.KindByte, bytecode.KindFloat, bytecode.KindDouble, bytecode.KindBool:
		return bytecode.String(a.String()), nil
	}
	return bytecode.Value{}, typeFault(bytecode.A2S, a)
}

func toChar(a bytecode.Value) (bytecode.Value, error) {
	switch a.Kind() {
	case bytecode.KindChar:
		return a, nil
	case bytecode.KindByte:
		return bytecode.Char(rune(a.AsByte())), nil
	case bytecode.KindInteger:
		n := a.AsInt()
		if n < 0 || n > utf8.MaxRune || !utf8.ValidRune(rune(n)) {
			return bytecode.Value{}, faultf(PanicIntegerOverflow, "%d is not a valid char", n)
		}
		return bytecode.Char(rune(n)), nil
	case bytecode.KindString:
		s := a.AsString()
		r, size := utf8.DecodeRuneInString(s)
		if size == 0 || size != len(s) || r == utf8.RuneError {
			return bytecode.Value{}, faultf(PanicUnexpectedType, "cannot convert %q to char", s)
		}
		return bytecode.Char(r), nil
	}
	return bytecode.Value{}, typeFault(bytecode.A2C, a)
}

// toBool maps a value to its truthiness: numbers are true when non-zero,
// strings and arrays when non-empty.
func toBool(a bytecode.Value) (bytecode.Value, error) {
	switch a.Kind() {
	case bytecode.KindBool:
		return a, nil
	case bytecode.KindInteger, bytecode.KindByte, bytecode.KindChar:
		return bytecode.Bool(a.AsInt() != 0), nil
	case bytecode.KindFloat:
		return bytecode.Bool(a.AsFloat() != 0), nil
	case bytecode.KindDouble:
		return bytecode.Bool(a.AsDouble() != 0), nil
	case bytecode.KindString, bytecode.KindArray:
		return bytecode.Bool(a.Len() > 0), nil
	case bytecode.KindVoid, bytecode.KindNull:
		return bytecode.Bool(false), nil
	}
	return bytecode.Value{}, typeFault(bytecode.A2O, a)
}
