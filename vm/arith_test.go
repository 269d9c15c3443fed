package vm

import (
	"fmt"
	"math"
	"testing"

	"github.com/chazu/regvm/pkg/bytecode"
)

// binarySource computes B op C and returns A.
func binarySource(b, c, op string) string {
	return fmt.Sprintf(`
.fn main 1
	LDB #%s
	LDC #%s
	%s
	LDY @A
	RET
.end
`, b, c, op)
}

func TestBinaryOperations(t *testing.T) {
	tests := []struct {
		name   string
		b, c   string
		op     string
		want   bytecode.Value
		reason PanicReason // non-zero when the operation must panic
	}{
		{"int add", "(int)40", "(int)2", "ADD", bytecode.Int(42), 0},
		{"int8 add wraps", "(int8)127", "(int8)1", "ADD", bytecode.IntN(bytecode.Int8, -128), 0},
		{"int16 sub wraps", "(int16)-32768", "(int16)1", "SUB", bytecode.IntN(bytecode.Int16, 32767), 0},
		{"int32 mul wraps", "(int32)65536", "(int32)65536", "MUL", bytecode.IntN(bytecode.Int32, 0), 0},
		{"int64 mul wraps", "(int)9223372036854775807", "(int)2", "MUL", bytecode.Int(-2), 0},
		{"min int div -1", "(int)-9223372036854775808", "(int)-1", "DIV", bytecode.Int(math.MinInt64), 0},
		{"int8 min div -1", "(int8)-128", "(int8)-1", "DIV", bytecode.IntN(bytecode.Int8, -128), 0},
		{"int div truncates", "(int)-7", "(int)2", "DIV", bytecode.Int(-3), 0},
		{"int mod sign", "(int)-7", "(int)2", "MOD", bytecode.Int(-1), 0},
		{"int div zero", "(int)7", "(int)0", "DIV", bytecode.Value{}, PanicDivisionByZero},
		{"int mod zero", "(int)7", "(int)0", "MOD", bytecode.Value{}, PanicDivisionByZero},
		{"int8 div zero", "(int8)7", "(int8)0", "DIV", bytecode.Value{}, PanicDivisionByZero},
		{"int exp", "(int)2", "(int)10", "EXP", bytecode.Int(1024), 0},
		{"int exp zero", "(int)5", "(int)0", "EXP", bytecode.Int(1), 0},
		{"int8 exp wraps", "(int8)2", "(int8)7", "EXP", bytecode.IntN(bytecode.Int8, -128), 0},
		{"int exp negative", "(int)2", "(int)-1", "EXP", bytecode.Value{}, PanicUnexpectedType},
		{"narrow widens", "(int8)100", "(int)100", "ADD", bytecode.Int(200), 0},
		{"int16 and int32", "(int16)30000", "(int32)30000", "ADD", bytecode.IntN(bytecode.Int32, 60000), 0},
		{"byte widens to int", "(byte)200", "(int)1", "ADD", bytecode.Int(201), 0},
		{"byte widens past int8", "(int8)1", "(byte)200", "ADD", bytecode.IntN(bytecode.Int16, 201), 0},
		{"int8 and byte keep value", "(byte)255", "(int8)-1", "SUB", bytecode.IntN(bytecode.Int16, 256), 0},
		{"byte add wraps", "(byte)250", "(byte)10", "ADD", bytecode.Byte(4), 0},
		{"byte div zero", "(byte)1", "(byte)0", "MOD", bytecode.Value{}, PanicDivisionByZero},
		{"float add", "(float)1.5", "(float)2.25", "ADD", bytecode.Float(3.75), 0},
		{"float widens to double", "(float)1.5", "(double)2.25", "ADD", bytecode.Double(3.75), 0},
		{"double div", "(double)1", "(double)4", "DIV", bytecode.Double(0.25), 0},
		{"double div zero", "(double)1", "(double)0", "DIV", bytecode.Double(math.Inf(1)), 0},
		{"float div zero", "(float)-1", "(float)0", "DIV", bytecode.Float(float32(math.Inf(-1))), 0},
		{"double exp", "(double)2", "(double)0.5", "EXP", bytecode.Double(math.Sqrt2), 0},
		{"int and double", "(int)1", "(double)1", "ADD", bytecode.Value{}, PanicUnexpectedType},
		{"bool add", "(bool)true", "(int)1", "ADD", bytecode.Value{}, PanicUnexpectedType},
		{"char add", "(char)'a'", "(char)'b'", "ADD", bytecode.Value{}, PanicUnexpectedType},
		{"and", "(bool)true", "(bool)false", "AND", bytecode.Bool(false), 0},
		{"or", "(bool)true", "(bool)false", "OR", bytecode.Bool(true), 0},
		{"and on ints", "(int)1", "(int)1", "AND", bytecode.Value{}, PanicUnexpectedType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			th := newTestThread(t, binarySource(tt.b, tt.c, tt.op))
			exit := runToExit(t, th)
			if tt.reason != 0 {
				p := wantPanic(t, exit, tt.reason)
				if p.Location.PC != 4 {
					t.Errorf("panic pc = %d, want 4", p.Location.PC)
				}
				return
			}
			wantReturn(t, exit, tt.want)
		})
	}
}

func TestComparisons(t *testing.T) {
	tests := []struct {
		name   string
		b, c   string
		op     string
		want   bool
		reason PanicReason
	}{
		{"int eq", "(int)3", "(int)3", "EQ", true, 0},
		{"int ne", "(int)3", "(int)4", "NE", true, 0},
		{"widths compare by value", "(int8)3", "(int)3", "EQ", true, 0},
		{"byte and int", "(byte)3", "(int)3", "EQ", true, 0},
		{"byte and int8 by value", "(byte)255", "(int8)-1", "EQ", false, 0},
		{"byte gt negative int8", "(byte)200", "(int8)-1", "GT", true, 0},
		{"gt", "(int)4", "(int)3", "GT", true, 0},
		{"lt", "(int)4", "(int)3", "LT", false, 0},
		{"gq equal", "(int)3", "(int)3", "GQ", true, 0},
		{"lq", "(int)-1", "(int)3", "LQ", true, 0},
		{"double gt float", "(double)2.5", "(float)2", "GT", true, 0},
		{"char order", "(char)'a'", "(char)'b'", "LT", true, 0},
		{"string eq", `(string)"abc"`, `(string)"abc"`, "EQ", true, 0},
		{"string order", `(string)"abc"`, `(string)"abd"`, "LT", false, PanicUnexpectedType},
		{"bool eq", "(bool)true", "(bool)true", "EQ", true, 0},
		{"null eq null", "(null)", "(null)", "EQ", true, 0},
		{"null ne int", "(null)", "(int)0", "NE", true, 0},
		{"int eq string", "(int)1", `(string)"1"`, "EQ", false, PanicUnexpectedType},
		{"bool order", "(bool)true", "(bool)false", "GT", false, PanicUnexpectedType},
		{"int and double", "(int)1", "(double)1", "EQ", false, PanicUnexpectedType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exit := runToExit(t, newTestThread(t, binarySource(tt.b, tt.c, tt.op)))
			if tt.reason != 0 {
				wantPanic(t, exit, tt.reason)
				return
			}
			wantReturn(t, exit, bytecode.Bool(tt.want))
		})
	}
}

func TestNaNIsUnordered(t *testing.T) {
	nan := bytecode.Double(math.NaN())
	one := bytecode.Double(1)
	for _, op := range []bytecode.Mnemonic{bytecode.GT, bytecode.LT, bytecode.GQ, bytecode.LQ, bytecode.EQ} {
		got, err := compare(op, nan, one)
		if err != nil {
			t.Fatalf("%s: error %v", op, err)
		}
		if got {
			t.Errorf("%s(NaN, 1) = true, want false", op)
		}
	}
	if got, _ := compare(bytecode.NE, nan, nan); !got {
		t.Error("NE(NaN, NaN) = false, want true")
	}
}

func TestFloatModByZeroIsNaN(t *testing.T) {
	for _, c := range []bytecode.Value{bytecode.Double(0), bytecode.Float(0)} {
		got, err := arith(bytecode.MOD, bytecode.Double(1), c)
		if err != nil {
			t.Fatalf("MOD by %s: error %v", c, err)
		}
		if !math.IsNaN(got.AsDouble()) {
			t.Errorf("MOD by %s = %s, want NaN", c, got)
		}
	}
}

func TestConversions(t *testing.T) {
	tests := []struct {
		name   string
		a      string
		op     string
		want   bytecode.Value
		reason PanicReason
	}{
		{"int to int", "(int8)-3", "A2I", bytecode.Int(-3), 0},
		{"double to int", "(double)3.9", "A2I", bytecode.Int(3), 0},
		{"char to int", "(char)'A'", "A2I", bytecode.Int(65), 0},
		{"huge double to int", "(double)1e300", "A2I", bytecode.Value{}, PanicIntegerOverflow},
		{"int to float", "(int)2", "A2F", bytecode.Float(2), 0},
		{"int to double", "(int)2", "A2D", bytecode.Double(2), 0},
		{"bool to double", "(bool)true", "A2D", bytecode.Value{}, PanicUnexpectedType},
		{"int to byte", "(int)255", "A2B", bytecode.Byte(255), 0},
		{"int to byte overflow", "(int)256", "A2B", bytecode.Value{}, PanicIntegerOverflow},
		{"negative to byte", "(int)-1", "A2B", bytecode.Value{}, PanicIntegerOverflow},
		{"double to byte", "(double)1", "A2B", bytecode.Value{}, PanicUnexpectedType},
		{"int to char", "(int)97", "A2C", bytecode.Char('a'), 0},
		{"byte to char", "(byte)98", "A2C", bytecode.Char('b'), 0},
		{"bad rune", "(int)-5", "A2C", bytecode.Value{}, PanicIntegerOverflow},
		{"one-char string to char", `(string)"z"`, "A2C", bytecode.Char('z'), 0},
		{"long string to char", `(string)"zz"`, "A2C", bytecode.Value{}, PanicUnexpectedType},
		{"string to int", `(string)"42"`, "A2I", bytecode.Int(42), 0},
		{"bad string to int", `(string)"4x"`, "A2I", bytecode.Value{}, PanicUnexpectedType},
		{"string to double", `(string)"0.5"`, "A2D", bytecode.Double(0.5), 0},
		{"zero to bool", "(int)0", "A2O", bytecode.Bool(false), 0},
		{"int to bool", "(int)7", "A2O", bytecode.Bool(true), 0},
		{"double to bool", "(double)0.1", "A2O", bytecode.Bool(true), 0},
		{"empty string to bool", `(string)""`, "A2O", bytecode.Bool(false), 0},
		{"string to bool", `(string)"x"`, "A2O", bytecode.Bool(true), 0},
		{"empty array to bool", "(array)[]", "A2O", bytecode.Bool(false), 0},
		{"null to bool", "(null)", "A2O", bytecode.Bool(false), 0},
		{"array to int", "(array)[(int)1]", "A2I", bytecode.Value{}, PanicUnexpectedType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := fmt.Sprintf(`
.fn main 1
	LDA #%s
	%s
	LDY @A
	RET
.end
`, tt.a, tt.op)
			exit := runToExit(t, newTestThread(t, src))
			if tt.reason != 0 {
				wantPanic(t, exit, tt.reason)
				return
			}
			wantReturn(t, exit, tt.want)
		})
	}
}

func TestConvertToString(t *testing.T) {
	tests := []struct {
		a    string
		want string
	}{
		{"(int)-12", "-12"},
		{"(char)'q'", "q"},
		{"(double)2.5", "2.5"},
		{"(bool)true", "true"},
		{`(string)"same"`, "same"},
	}
	for _, tt := range tests {
		src := fmt.Sprintf(`
.fn main 1
	LDA #%s
	A2S
	LDY @A
	RET
.end
`, tt.a)
		th := newTestThread(t, src)
		exit := runToExit(t, th)
		if !exit.Graceful() || exit.Return.Kind() != bytecode.KindHeapRef {
			t.Fatalf("A2S %s: exit = %s, want a heap string", tt.a, exit)
		}
		got, err := th.Heap().Get(exit.Return.AsRef())
		if err != nil {
			t.Fatalf("A2S %s: heap error %v", tt.a, err)
		}
		if got.AsString() != tt.want {
			t.Errorf("A2S %s = %q, want %q", tt.a, got.AsString(), tt.want)
		}
	}
}
