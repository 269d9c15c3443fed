package bytecode

import (
	"bufio"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// Literal renders a value as a typed assembler literal, e.g. "(int)3",
// "(int8)-1", "(string)\"hi\"". Assemble parses the same syntax after '#'.
func Literal(v Value) string {
	switch v.Kind() {
	case KindInteger:
		if v.Width() == Int64 {
			return "(int)" + strconv.FormatInt(v.AsInt(), 10)
		}
		return fmt.Sprintf("(int%d)%d", v.Width(), v.AsInt())
	case KindVoid, KindNull:
		return "(" + v.Kind().String() + ")"
	case KindFunction:
		return fmt.Sprintf("(fn)%d", v.AsSlot())
	case KindArray:
		parts := make([]string, len(v.Elems()))
		for i, e := range v.Elems() {
			parts[i] = Literal(e)
		}
		return "(array)[" + strings.Join(parts, ", ") + "]"
	case KindHeapRef, KindStackRef:
		return fmt.Sprintf("(%s)%d", v.Kind(), v.AsSlot())
	}
	return "(" + v.Kind().String() + ")" + v.String()
}

// ParseLiteral parses a typed literal produced by Literal.
func ParseLiteral(s string) (Value, error) {
	return parseLiteral(strings.TrimSpace(s), nil)
}

func parseLiteral(s string, labels map[string]int) (Value, error) {
	if !strings.HasPrefix(s, "(") {
		return Value{}, fmt.Errorf("literal %q: missing (type) prefix", s)
	}
	end := strings.IndexByte(s, ')')
	if end < 0 {
		return Value{}, fmt.Errorf("literal %q: unterminated type", s)
	}
	typ, body := s[1:end], strings.TrimSpace(s[end+1:])

	parseInt := func(bits int) (int64, error) {
		if idx, ok := labels[body]; ok {
			return int64(idx), nil
		}
		n, err := strconv.ParseInt(body, 0, 64)
		if err != nil {
			return 0, fmt.Errorf("literal %q: %w", s, err)
		}
		if bits < 64 && (n < -(1<<(bits-1)) || n > 1<<(bits-1)-1) {
			return 0, fmt.Errorf("literal %q: out of range for int%d", s, bits)
		}
		return n, nil
	}

	switch typ {
	case "int", "int64":
		n, err := parseInt(64)
		return Int(n), err
	case "int8", "int16", "int32":
		bits, _ := strconv.Atoi(typ[3:])
		n, err := parseInt(bits)
		return IntN(IntWidth(bits), n), err
	case "float":
		f, err := strconv.ParseFloat(body, 32)
		if err != nil {
			return Value{}, fmt.Errorf("literal %q: %w", s, err)
		}
		return Float(float32(f)), nil
	case "double":
		f, err := strconv.ParseFloat(body, 64)
		if err != nil {
			return Value{}, fmt.Errorf("literal %q: %w", s, err)
		}
		return Double(f), nil
	case "byte":
		n, err := strconv.ParseUint(body, 0, 8)
		if err != nil {
			return Value{}, fmt.Errorf("literal %q: %w", s, err)
		}
		return Byte(byte(n)), nil
	case "bool":
		b, err := strconv.ParseBool(body)
		if err != nil {
			return Value{}, fmt.Errorf("literal %q: %w", s, err)
		}
		return Bool(b), nil
	case "char":
		str, err := strconv.Unquote(body)
		runes := []rune(str)
		if err != nil || len(runes) != 1 {
			return Value{}, fmt.Errorf("literal %q: invalid char", s)
		}
		return Char(runes[0]), nil
	case "string", "str":
		str, err := strconv.Unquote(body)
		if err != nil {
			return Value{}, fmt.Errorf("literal %q: %w", s, err)
		}
		return String(str), nil
	case "void":
		return Void(), nil
	case "null":
		return Null(), nil
	case "fn":
		n, err := parseInt(64)
		return Function(uint64(n)), err
	case "stack_ref":
		n, err := parseInt(64)
		return StackRef(uint64(n)), err
	case "array":
		if !strings.HasPrefix(body, "[") || !strings.HasSuffix(body, "]") {
			return Value{}, fmt.Errorf("literal %q: array needs [...]", s)
		}
		inner := strings.TrimSpace(body[1 : len(body)-1])
		var elems []Value
		if inner != "" {
			for _, part := range splitTopLevel(inner) {
				e, err := parseLiteral(strings.TrimSpace(part), labels)
				if err != nil {
					return Value{}, err
				}
				elems = append(elems, e)
			}
		}
		return WithElems(elems), nil
	}
	return Value{}, fmt.Errorf("literal %q: unknown type %q", s, typ)
}

// splitTopLevel splits on commas that are outside quotes and brackets.
func splitTopLevel(s string) []string {
	var parts []string
	depth, start := 0, 0
	var quote rune
	escaped := false
	for i, r := range s {
		switch {
		case escaped:
			escaped = false
		case quote != 0:
			if r == '\\' {
				escaped = true
			} else if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
		case r == '[':
			depth++
		case r == ']':
			depth--
		case r == ',' && depth == 0:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	return append(parts, s[start:])
}

// ---------------------------------------------------------------------------
// Assembler
// ---------------------------------------------------------------------------

// AsmError reports an assembler failure with its source line.
type AsmError struct {
	Line int
	Msg  string
}

func (e *AsmError) Error() string { return fmt.Sprintf("line %d: %s", e.Line, e.Msg) }

type asmLine struct {
	line int
	text string
	mn   Mnemonic
}

type asmNative struct {
	line                int
	label, module, name string
	hash                uint64
}

type asmFunc struct {
	name  string
	hash  uint64
	start int
	end   int
}

// Assemble translates assembler text into a Program for the architecture.
//
// Syntax, one instruction per line, ';' starts a comment:
//
//	label:                     names the next instruction
//	.fn name hash              function header: FN #(int)hash, STA #(int)end
//	.end                       closes the innermost .fn
//	.entry name                marks the main function (default "main")
//	.native label module hash name
//	LDA #(int)1                immediate
//	LDA $2  LDA $2[$3]  LDA $2.1  LDA !4  LDA @B
//	JMP label                  absolute operand from a label
func Assemble(src string, arch Arch) (*Program, error) {
	var (
		lines   []asmLine
		labels  = map[string]int{}
		funcs   []*asmFunc
		open    []*asmFunc
		entry   = "main"
		natives []asmNative
	)

	// Pass 1: labels, function extents and directives.
	sc := bufio.NewScanner(strings.NewReader(src))
	lineNo := 0
	count := 0
	for sc.Scan() {
		lineNo++
		text := stripComment(sc.Text())
		if text == "" {
			continue
		}
		if label, ok := strings.CutSuffix(text, ":"); ok && isIdent(label) {
			if _, dup := labels[label]; dup {
				return nil, &AsmError{lineNo, fmt.Sprintf("duplicate label %q", label)}
			}
			labels[label] = count
			continue
		}
		fields := strings.Fields(text)
		switch fields[0] {
		case ".fn":
			if len(fields) != 3 || !isIdent(fields[1]) {
				return nil, &AsmError{lineNo, ".fn needs a name and a hash"}
			}
			hash, err := strconv.ParseUint(fields[2], 0, 64)
			if err != nil {
				return nil, &AsmError{lineNo, fmt.Sprintf(".fn hash: %v", err)}
			}
			if _, dup := labels[fields[1]]; dup {
				return nil, &AsmError{lineNo, fmt.Sprintf("duplicate label %q", fields[1])}
			}
			f := &asmFunc{name: fields[1], hash: hash, start: count}
			labels[f.name] = count
			funcs = append(funcs, f)
			open = append(open, f)
			lines = append(lines,
				asmLine{line: lineNo, text: fmt.Sprintf("FN #(int)%d", int64(hash)), mn: FN},
				asmLine{line: lineNo, text: "STA #(int)" + endLabel(f.name), mn: STA})
			count += 2
		case ".end":
			if len(open) == 0 {
				return nil, &AsmError{lineNo, ".end without .fn"}
			}
			f := open[len(open)-1]
			open = open[:len(open)-1]
			f.end = count
			labels[endLabel(f.name)] = count
		case ".entry":
			if len(fields) != 2 {
				return nil, &AsmError{lineNo, ".entry needs a function name"}
			}
			entry = fields[1]
		case ".native":
			if len(fields) != 5 {
				return nil, &AsmError{lineNo, ".native needs label, module, hash and name"}
			}
			hash, err := strconv.ParseUint(fields[3], 0, 64)
			if err != nil {
				return nil, &AsmError{lineNo, fmt.Sprintf(".native hash: %v", err)}
			}
			natives = append(natives, asmNative{lineNo, fields[1], fields[2], fields[4], hash})
		default:
			if strings.HasPrefix(fields[0], ".") {
				return nil, &AsmError{lineNo, fmt.Sprintf("unknown directive %s", fields[0])}
			}
			mn, ok := ParseMnemonic(fields[0])
			if !ok {
				return nil, &AsmError{lineNo, fmt.Sprintf("unknown mnemonic %q", fields[0])}
			}
			lines = append(lines, asmLine{line: lineNo, text: text, mn: mn})
			count++
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(open) > 0 {
		return nil, &AsmError{lineNo, fmt.Sprintf(".fn %s is never closed", open[len(open)-1].name)}
	}

	// Pass 2: operands.
	ins := make([]Instruction, 0, len(lines))
	for _, l := range lines {
		operandText := ""
		if i := strings.IndexFunc(l.text, unicode.IsSpace); i >= 0 {
			operandText = strings.TrimSpace(l.text[i:])
		}
		op, err := parseOperand(operandText, labels)
		if err != nil {
			return nil, &AsmError{l.line, err.Error()}
		}
		in, err := NewInstruction(l.mn, op)
		if err != nil {
			return nil, &AsmError{l.line, err.Error()}
		}
		ins = append(ins, in)
	}

	var ep EntryPoint
	mainExists := false
	for _, f := range funcs {
		if f.name == entry {
			ep = EntryPoint{Start: uint64(f.start), End: uint64(f.end), Hash: f.hash}
			mainExists = true
		}
	}

	traces := make([]NativeCallTrace, 0, len(natives))
	for _, n := range natives {
		site, ok := labels[n.label]
		if !ok {
			return nil, &AsmError{n.line, fmt.Sprintf("unknown label %q", n.label)}
		}
		traces = append(traces, NativeCallTrace{Site: uint64(site), Module: n.module, Hash: n.hash, Name: n.name})
	}

	if !mainExists {
		p := &Program{Arch: arch, Instructions: ins, NativeCalls: map[uint64]NativeCallTrace{}}
		var err error
		if _, p.Offsets, err = EncodeStream(ins, arch); err != nil {
			return nil, err
		}
		for _, t := range traces {
			p.NativeCalls[t.Site] = t
		}
		return p, p.Validate()
	}
	return NewProgram(arch, ep, ins, traces)
}

// MustAssemble is Assemble for fixed test programs; it panics on error.
func MustAssemble(src string, arch Arch) *Program {
	p, err := Assemble(src, arch)
	if err != nil {
		panic(err)
	}
	return p
}

func endLabel(fn string) string { return fn + ".end" }

func stripComment(s string) string {
	inQuote := false
	for i, r := range s {
		switch {
		case r == '"':
			inQuote = !inQuote
		case r == ';' && !inQuote:
			return strings.TrimSpace(s[:i])
		}
	}
	return strings.TrimSpace(s)
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '_' || r == '.' || unicode.IsLetter(r) || (i > 0 && unicode.IsDigit(r)) {
			continue
		}
		return false
	}
	return true
}

func parseOperand(s string, labels map[string]int) (Operand, error) {
	switch {
	case s == "":
		return ImplicitOperand(), nil
	case strings.HasPrefix(s, "#"):
		v, err := parseLiteral(strings.TrimSpace(s[1:]), labels)
		if err != nil {
			return Operand{}, err
		}
		return Imm(v), nil
	case strings.HasPrefix(s, "@"):
		r, ok := ParseRegister(s[1:])
		if !ok {
			return Operand{}, fmt.Errorf("unknown register %q", s[1:])
		}
		return Indirect(r), nil
	case strings.HasPrefix(s, "!"):
		n, err := parseAddr(s[1:], labels)
		return Static(n), err
	case strings.HasPrefix(s, "$"):
		body := s[1:]
		if i := strings.IndexByte(body, '['); i >= 0 {
			if !strings.HasSuffix(body, "]") {
				return Operand{}, fmt.Errorf("operand %q: unterminated index", s)
			}
			p, err := parseAddr(body[:i], labels)
			if err != nil {
				return Operand{}, err
			}
			idx, err := parseAddr(strings.TrimPrefix(body[i+1:len(body)-1], "$"), labels)
			return AbsIndex(p, idx), err
		}
		if i := strings.IndexByte(body, '.'); i >= 0 {
			p, err := parseAddr(body[:i], labels)
			if err != nil {
				return Operand{}, err
			}
			k, err := parseAddr(body[i+1:], labels)
			return AbsProp(p, k), err
		}
		n, err := parseAddr(body, labels)
		return Abs(n), err
	case isIdent(s):
		n, err := parseAddr(s, labels)
		return Abs(n), err
	}
	return Operand{}, fmt.Errorf("cannot parse operand %q", s)
}

func parseAddr(s string, labels map[string]int) (uint64, error) {
	if idx, ok := labels[s]; ok {
		return uint64(idx), nil
	}
	n, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("address %q: not a number or label", s)
	}
	if n > math.MaxInt64 {
		return 0, fmt.Errorf("address %q: too large", s)
	}
	return n, nil
}
