package dist

import (
	"testing"

	"github.com/chazu/regvm/pkg/bytecode"
)

const nativeProgram = `
.fn main 1
	LDA #(int)1
	STA $0
out:
	CALLN $0
again:
	CALLN $0
	RET
.end
.native out std 11 println
.native again std 11 println
`

func TestRequired(t *testing.T) {
	p := bytecode.MustAssemble(nativeProgram, bytecode.Arch64)
	got := Required(p)
	if len(got) != 1 || got[0] != "std.println" {
		t.Errorf("Required: got %v, want [std.println]", got)
	}
}

func TestPermissivePolicy(t *testing.T) {
	p := bytecode.MustAssemble(nativeProgram, bytecode.Arch64)
	if err := NewPermissivePolicy().Check(p); err != nil {
		t.Errorf("permissive policy: %v", err)
	}
	if err := NewRestrictedPolicy(nil).Check(p); err != nil {
		t.Errorf("empty restricted policy: %v", err)
	}
}

func TestRestrictedPolicy(t *testing.T) {
	p := bytecode.MustAssemble(nativeProgram, bytecode.Arch64)
	if err := NewRestrictedPolicy([]string{"std.len"}).Check(p); err == nil {
		t.Error("expected std.println to be rejected")
	}
	if err := NewRestrictedPolicy([]string{"std.println"}).Check(p); err != nil {
		t.Errorf("allowed native rejected: %v", err)
	}
}

func TestDeniedPolicy(t *testing.T) {
	p := bytecode.MustAssemble(nativeProgram, bytecode.Arch64)
	policy := NewPermissivePolicy()
	policy.Deny("std.println")
	if err := policy.Check(p); err == nil {
		t.Error("expected denied native to be rejected")
	}
}
