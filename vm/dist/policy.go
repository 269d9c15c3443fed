package dist

import (
	"fmt"
	"sort"

	"github.com/chazu/regvm/pkg/bytecode"
)

// NativePolicy controls which native functions a program may call. A nil
// Allowed means "allow all".
type NativePolicy struct {
	Allowed map[string]bool // nil = allow all
	Denied  map[string]bool
}

// NewPermissivePolicy creates a policy that allows every native.
func NewPermissivePolicy() *NativePolicy {
	return &NativePolicy{}
}

// NewRestrictedPolicy creates a policy that only allows the named natives
// ("module.name"). An empty list allows everything.
func NewRestrictedPolicy(allowed []string) *NativePolicy {
	if len(allowed) == 0 {
		return NewPermissivePolicy()
	}
	m := make(map[string]bool, len(allowed))
	for _, n := range allowed {
		m[n] = true
	}
	return &NativePolicy{Allowed: m}
}

// Required returns the qualified names of the natives a program calls,
// sorted and without duplicates.
func Required(p *bytecode.Program) []string {
	seen := make(map[string]bool)
	var out []string
	for _, tr := range p.NativeCalls {
		name := tr.Module + "." + tr.Name
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Check verifies that every native the program calls is allowed.
func (p *NativePolicy) Check(prog *bytecode.Program) error {
	for _, name := range Required(prog) {
		if p.Denied != nil && p.Denied[name] {
			return fmt.Errorf("dist: native %q is explicitly denied", name)
		}
		if p.Allowed != nil && !p.Allowed[name] {
			return fmt.Errorf("dist: native %q is not allowed", name)
		}
	}
	return nil
}

// Deny adds a native to the deny list.
func (p *NativePolicy) Deny(name string) {
	if p.Denied == nil {
		p.Denied = make(map[string]bool)
	}
	p.Denied[name] = true
}
