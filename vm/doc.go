// Package vm implements the regvm execution engine.
//
// This package contains:
//   - The five-register file (A, B, C, X, Y)
//   - Stack memory with one slot window per call frame
//   - Generation-checked heap memory with explicit reclaim
//   - The Thread step engine and its panic taxonomy
//   - The native function registry
//   - A batch runner for stepping threads to completion
//
// A Thread is driven one instruction at a time through Step. Runtime
// failures never escape as Go panics: they end the thread with a
// ThreadExit carrying a Panic.
package vm
