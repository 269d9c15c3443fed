package debugger

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

const testSymbols = `main E-E 77 F:F src/main.rv
lib E-E 78 F:F -
---
4F:F11F:Fsrc/main.rvF:F77F:FcounterF:F2F:F0F:F2F:F10F:F99F:F0
2F:F3F:Fsrc/main.rvF:F77F:FinitF:F0F:F1F:F1F:F4F:F98F:F5
`

func TestParseSymbols(t *testing.T) {
	s, err := ParseSymbols(testSymbols)
	if err != nil {
		t.Fatalf("ParseSymbols: %v", err)
	}
	if len(s.Modules) != 2 {
		t.Fatalf("Modules: got %d, want 2", len(s.Modules))
	}
	if m := s.Modules[0]; m.Name != "main" || m.Hash != 77 || m.Path != "src/main.rv" {
		t.Errorf("Modules[0] = %+v", m)
	}
	if m := s.Modules[1]; m.Name != "lib" || m.Path != "" {
		t.Errorf("Modules[1] = %+v, want lib without path", m)
	}
	if len(s.Headers) != 2 {
		t.Fatalf("Headers: got %d, want 2", len(s.Headers))
	}
	h := s.Headers[0]
	if h.Start != 4 || h.End != 11 || h.Module != "src/main.rv" || h.ModuleHash != 77 || h.Name != "counter" {
		t.Errorf("Headers[0] = %+v", h)
	}
	if h.Pos != (Position{StartLine: 2, StartCol: 0, EndLine: 2, EndCol: 10}) || h.Hash != 99 || h.Kind != HeaderVariable {
		t.Errorf("Headers[0] position/hash/kind = %+v %d %s", h.Pos, h.Hash, h.Kind)
	}
	if s.Headers[1].Kind != HeaderFunction {
		t.Errorf("Headers[1].Kind = %s, want function", s.Headers[1].Kind)
	}
}

func TestParseSymbolsErrors(t *testing.T) {
	tests := []struct {
		name string
		text string
		line int
	}{
		{"no separator", "main E-E 1 F:F -\n", 1},
		{"module without hash", "main F:F -\n---\n", 1},
		{"bad module hash", "main E-E x F:F -\n---\n", 1},
		{"short header", "main E-E 1 F:F -\n---\n1F:F2F:Fm\n", 3},
		{"bad number", "---\n1F:FxF:FmF:F1F:FnF:F0F:F0F:F0F:F0F:F1F:F0\n", 2},
		{"unknown kind", "---\n1F:F2F:FmF:F1F:FnF:F0F:F0F:F0F:F0F:F1F:F8\n", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSymbols(tt.text)
			var se *SymbolError
			if !errors.As(err, &se) {
				t.Fatalf("ParseSymbols error = %v, want *SymbolError", err)
			}
			if se.Line != tt.line {
				t.Errorf("Line = %d, want %d (%v)", se.Line, tt.line, err)
			}
		})
	}
}

func TestSymbolErrorMessage(t *testing.T) {
	err := &SymbolError{Line: 3}
	if got := err.Error(); got != "Broken debug header, line: 3" {
		t.Errorf("Error() = %q", got)
	}
}

func TestLocate(t *testing.T) {
	s, err := ParseSymbols(testSymbols)
	if err != nil {
		t.Fatalf("ParseSymbols: %v", err)
	}
	tests := []struct {
		module string
		line   int
		start  int
		found  bool
	}{
		{"src/main.rv", 3, 4, true},
		{"src/main.rv", 1, 2, true},
		{"src/main.rv", 9, 0, false},
		{"src/other.rv", 3, 0, false},
	}
	for _, tt := range tests {
		h, ok := s.Locate(tt.module, tt.line)
		if ok != tt.found || (ok && h.Start != tt.start) {
			t.Errorf("Locate(%s, %d) = %d, %v; want %d, %v", tt.module, tt.line, h.Start, ok, tt.start, tt.found)
		}
	}

	var none *Symbols
	if _, ok := none.Locate("src/main.rv", 3); ok {
		t.Error("Locate on nil symbols found a header")
	}
}

func TestReadSymbolsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "main.dbg")
	if err := os.WriteFile(path, []byte(testSymbols), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := ReadSymbolsFile(path)
	if err != nil {
		t.Fatalf("ReadSymbolsFile: %v", err)
	}
	if len(s.Headers) != 2 {
		t.Errorf("Headers: got %d, want 2", len(s.Headers))
	}
	if _, err := ReadSymbolsFile(filepath.Join(t.TempDir(), "missing.dbg")); err == nil {
		t.Error("ReadSymbolsFile on a missing file succeeded")
	}
}
