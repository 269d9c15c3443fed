package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/regvm/journal"
	"github.com/chazu/regvm/pkg/bytecode"
	"github.com/chazu/regvm/vm"
)

const addSource = `
.fn main 42
	LDB #(int)1
	LDC #(int)2
	ADD
	LDY @A
	RET
.end
`

const divSource = `
.fn main 1
	LDB #(int)1
	LDC #(int)0
	DIV
	RET
.end
`

var printSource = fmt.Sprintf(`
.fn main 1
	LDA #(string)"hello"
	STA $0
out:
	CALLN $0
	RET
.end
.native out std %d println
`, vm.NativeHash("std", "println"))

func writeProgram(t *testing.T, name, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := bytecode.MustAssemble(src, bytecode.Arch32).WriteFile(path); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunPrograms(t *testing.T) {
	add := writeProgram(t, "add.rvm", addSource)
	div := writeProgram(t, "div.rvm", divSource)

	tests := []struct {
		name     string
		paths    []string
		parallel bool
		code     int
		want     []string
	}{
		{"graceful", []string{add}, false, 0, []string{"exited gracefully with 3 after 5 steps"}},
		{"panic", []string{div}, false, 1, []string{"panic (division by zero) at pc 4"}},
		{"batch", []string{add, div}, false, 1, []string{"with 3", "division by zero"}},
		{"parallel batch", []string{div, add}, true, 1, []string{"division by zero", "with 3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			code, err := runPrograms(context.Background(), tt.paths, runConfig{Parallel: tt.parallel}, &out)
			if err != nil {
				t.Fatalf("runPrograms: %v", err)
			}
			if code != tt.code {
				t.Errorf("code = %d, want %d", code, tt.code)
			}
			lines := strings.Split(strings.TrimSpace(out.String()), "\n")
			if len(lines) != len(tt.want) {
				t.Fatalf("output =\n%s\nwant %d lines", out.String(), len(tt.want))
			}
			for i, w := range tt.want {
				if !strings.HasPrefix(lines[i], tt.paths[i]+": ") || !strings.Contains(lines[i], w) {
					t.Errorf("line %d = %q, want %s: ...%s...", i, lines[i], tt.paths[i], w)
				}
			}
		})
	}
}

func TestRunProgramsJSON(t *testing.T) {
	div := writeProgram(t, "div.rvm", divSource)
	var out bytes.Buffer
	if _, err := runPrograms(context.Background(), []string{div}, runConfig{JSON: true}, &out); err != nil {
		t.Fatalf("runPrograms: %v", err)
	}
	var r runResult
	if err := json.Unmarshal(out.Bytes(), &r); err != nil {
		t.Fatalf("bad JSON %q: %v", out.String(), err)
	}
	if r.Outcome != "panic" || r.Panic == nil || r.Panic.Reason != "division by zero" || r.Panic.PC != 4 {
		t.Errorf("result = %+v", r)
	}
	if r.RunID == "" || r.Steps != 3 {
		t.Errorf("run id %q, steps %d", r.RunID, r.Steps)
	}
}

func TestRunProgramsNatives(t *testing.T) {
	prog := writeProgram(t, "print.rvm", printSource)

	var out bytes.Buffer
	code, err := runPrograms(context.Background(), []string{prog}, runConfig{}, &out)
	if err != nil || code != 0 {
		t.Fatalf("runPrograms = %d, %v", code, err)
	}
	if !strings.HasPrefix(out.String(), "hello\n") {
		t.Errorf("output = %q, want hello first", out.String())
	}

	out.Reset()
	_, err = runPrograms(context.Background(), []string{prog}, runConfig{Natives: []string{"std.len"}}, &out)
	if err == nil || !strings.Contains(err.Error(), "std.println") {
		t.Errorf("restricted run error = %v, want std.println not allowed", err)
	}
	if out.Len() != 0 {
		t.Errorf("restricted run printed %q", out.String())
	}
}

func TestRunProgramsErrors(t *testing.T) {
	noMain := writeProgram(t, "nomain.rvm", "\tLDA #(int)1\n")
	tests := []struct {
		name  string
		paths []string
	}{
		{"missing file", []string{filepath.Join(t.TempDir(), "missing.rvm")}},
		{"no main", []string{noMain}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, err := runPrograms(context.Background(), tt.paths, runConfig{}, &bytes.Buffer{})
			if err == nil || code != 1 {
				t.Errorf("runPrograms = %d, %v; want an error", code, err)
			}
		})
	}
}

func TestRunProgramsRecordsJournal(t *testing.T) {
	j, err := journal.Open(filepath.Join(t.TempDir(), "runs", "journal.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer j.Close()

	add := writeProgram(t, "add.rvm", addSource)
	div := writeProgram(t, "div.rvm", divSource)
	if _, err := runPrograms(context.Background(), []string{add, div}, runConfig{Journal: j}, &bytes.Buffer{}); err != nil {
		t.Fatalf("runPrograms: %v", err)
	}

	entries, err := j.Recent(0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Program != div || entries[0].PanicReason != "division by zero" || len(entries[0].Report) == 0 {
		t.Errorf("newest entry = %+v", entries[0])
	}
	if entries[1].Program != add || entries[1].Return != "3" || entries[1].Arch != "b32" {
		t.Errorf("oldest entry = %+v", entries[1])
	}

	var listing bytes.Buffer
	if err := listEntries(&listing, entries, false); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(listing.String(), "division by zero") || !strings.Contains(listing.String(), add) {
		t.Errorf("listing =\n%s", listing.String())
	}

	var shown bytes.Buffer
	if err := showEntry(&shown, j, entries[0].RunID.String()); err != nil {
		t.Fatalf("showEntry: %v", err)
	}
	if !strings.Contains(shown.String(), "Panicked: pc 4") || !strings.Contains(shown.String(), "Message:  ") {
		t.Errorf("show =\n%s", shown.String())
	}
	if err := showEntry(&shown, j, "not-a-uuid"); err == nil {
		t.Error("showEntry accepted an invalid id")
	}
}

func TestAssembleAndDisassemble(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "add.rasm")
	if err := os.WriteFile(src, []byte(addSource), 0o644); err != nil {
		t.Fatal(err)
	}
	prog, err := assembleFile(src, "b16")
	if err != nil {
		t.Fatalf("assembleFile: %v", err)
	}
	if prog.Arch != bytecode.Arch16 || prog.Len() != 7 {
		t.Errorf("program arch %s, %d instructions", prog.Arch, prog.Len())
	}
	out := filepath.Join(dir, "add.rvm")
	if err := prog.WriteFile(out); err != nil {
		t.Fatal(err)
	}

	var listing bytes.Buffer
	if err := disassemble(&listing, out); err != nil {
		t.Fatalf("disassemble: %v", err)
	}
	for _, want := range []string{"; === add.rvm ===", "arch b16", "ADD"} {
		if !strings.Contains(listing.String(), want) {
			t.Errorf("listing missing %q:\n%s", want, listing.String())
		}
	}

	if _, err := assembleFile(src, "b8"); err == nil {
		t.Error("assembleFile accepted arch b8")
	}
	if _, err := assembleFile(filepath.Join(dir, "missing.rasm"), "b64"); err == nil {
		t.Error("assembleFile accepted a missing file")
	}
}

func TestRunProgramsProfile(t *testing.T) {
	add := writeProgram(t, "add.rvm", addSource)
	var out bytes.Buffer
	if _, err := runPrograms(context.Background(), []string{add, add}, runConfig{Profile: true, Parallel: true}, &out); err != nil {
		t.Fatalf("runPrograms: %v", err)
	}
	if !strings.Contains(out.String(), "Profile: 10 instructions, 2 function invocations") {
		t.Errorf("output =\n%s", out.String())
	}
	if !strings.Contains(out.String(), "fn 42") {
		t.Errorf("profile missing main:\n%s", out.String())
	}
}
