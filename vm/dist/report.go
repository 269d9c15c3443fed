// Package dist implements the portable wire forms of regvm runs. Thread
// snapshots and exit reports are encoded as canonical CBOR so that the
// same state always produces the same bytes, and reports carry the content
// hash of the program that produced them.
package dist

import (
	"crypto/sha256"

	"github.com/chazu/regvm/pkg/bytecode"
	"github.com/chazu/regvm/vm"
)

// ExitReport is the record of one finished run. The snapshot is kept for
// panics, where the memory at the failure point is worth having.
type ExitReport struct {
	RunID       string         `cbor:"1,keyasint"`
	ProgramHash [32]byte       `cbor:"2,keyasint"`
	Arch        string         `cbor:"3,keyasint"`
	Steps       uint64         `cbor:"4,keyasint"`
	Exit        *vm.ThreadExit `cbor:"5,keyasint"`
	Snapshot    *vm.Snapshot   `cbor:"6,keyasint,omitempty"`
}

// Graceful reports whether the run ended without a panic.
func (r *ExitReport) Graceful() bool { return r.Exit.Graceful() }

// ProgramHash returns the SHA-256 of the serialized program.
func ProgramHash(p *bytecode.Program) ([32]byte, error) {
	data, err := p.Serialize()
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(data), nil
}

// NewExitReport builds the report for an exited thread.
func NewExitReport(t *vm.Thread) (*ExitReport, error) {
	h, err := ProgramHash(t.Program())
	if err != nil {
		return nil, err
	}
	r := &ExitReport{
		RunID:       t.ID.String(),
		ProgramHash: h,
		Arch:        t.Program().Arch.String(),
		Steps:       t.Steps(),
		Exit:        t.Exit(),
	}
	if exit := t.Exit(); exit != nil && !exit.Graceful() {
		r.Snapshot = t.Snapshot()
	}
	return r, nil
}
