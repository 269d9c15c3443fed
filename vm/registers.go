package vm

import "github.com/chazu/regvm/pkg/bytecode"

// Registers is the five-register file. It is a value type: assigning it
// copies every register, which is how CALL takes its snapshot.
type Registers struct {
	vals [bytecode.RegisterCount]bytecode.Value
}

// NewRegisters returns a register file with every register Void.
func NewRegisters() Registers {
	var r Registers
	for i := range r.vals {
		r.vals[i] = bytecode.Void()
	}
	return r
}

// Get returns the value held in reg.
func (r *Registers) Get(reg bytecode.Register) bytecode.Value { return r.vals[reg] }

// Set writes v into reg.
func (r *Registers) Set(reg bytecode.Register, v bytecode.Value) { r.vals[reg] = v }

// RegisterView is a read-only rendering of one register.
type RegisterView struct {
	Name  string         `cbor:"name" json:"name"`
	Type  string         `cbor:"type" json:"type"`
	Value bytecode.Value `cbor:"value" json:"-"`
	Text  string         `cbor:"-" json:"value"`
}

// View returns the registers in A, B, C, X, Y order.
func (r *Registers) View() []RegisterView {
	out := make([]RegisterView, 0, bytecode.RegisterCount)
	for i, v := range r.vals {
		out = append(out, RegisterView{
			Name:  bytecode.Register(i).String(),
			Type:  v.TypeName(),
			Value: v.Clone(),
			Text:  v.String(),
		})
	}
	return out
}
