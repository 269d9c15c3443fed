package dist

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/chazu/regvm/pkg/bytecode"
	"github.com/chazu/regvm/vm"
)

// cborEncMode uses canonical mode for deterministic encoding.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("dist: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// MarshalSnapshot serializes a Snapshot to CBOR bytes.
func MarshalSnapshot(s *vm.Snapshot) ([]byte, error) {
	return cborEncMode.Marshal(s)
}

// UnmarshalSnapshot deserializes a Snapshot from CBOR bytes.
func UnmarshalSnapshot(data []byte) (*vm.Snapshot, error) {
	var s vm.Snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("dist: unmarshal snapshot: %w", err)
	}
	return &s, nil
}

// MarshalExitReport serializes an ExitReport to CBOR bytes.
func MarshalExitReport(r *ExitReport) ([]byte, error) {
	return cborEncMode.Marshal(r)
}

// UnmarshalExitReport deserializes an ExitReport from CBOR bytes.
func UnmarshalExitReport(data []byte) (*ExitReport, error) {
	var r ExitReport
	if err := cbor.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("dist: unmarshal exit report: %w", err)
	}
	if r.Exit == nil {
		return nil, fmt.Errorf("dist: exit report %s has no exit", r.RunID)
	}
	return &r, nil
}

// VerifyExitReport checks that a report was produced by p.
func VerifyExitReport(r *ExitReport, p *bytecode.Program) error {
	computed, err := ProgramHash(p)
	if err != nil {
		return fmt.Errorf("dist: hash program: %w", err)
	}
	if computed != r.ProgramHash {
		return fmt.Errorf("dist: program hash mismatch: report has %x, program is %x", r.ProgramHash, computed)
	}
	return nil
}
