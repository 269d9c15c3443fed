package vm

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/chazu/regvm/pkg/bytecode"
)

// Profiler counts function invocations and executed instructions. One
// profiler may be shared by every thread of a RunAll batch.
//
// A function becomes hot once its invocation count reaches HotThreshold.

// FunctionProfile holds profiling data for a single function.
type FunctionProfile struct {
	Hash            uint64 // function hash from the FN header
	InvocationCount uint64
	IsHot           bool
}

type functionCounter struct {
	count atomic.Uint64
	hot   atomic.Bool
}

// Profiler manages profiling for all functions run under it.
type Profiler struct {
	functions    sync.Map // uint64 hash -> *functionCounter
	instructions [bytecode.MnemonicCount]atomic.Uint64

	// HotThreshold is the invocation count at which a function is hot.
	HotThreshold uint64 // Default: 100

	// OnHot is called once per function when it becomes hot.
	OnHot func(FunctionProfile)

	hotCount atomic.Uint64
}

// NewProfiler creates a new profiler with the default threshold.
func NewProfiler() *Profiler {
	return &Profiler{HotThreshold: 100}
}

// RecordInvocation increments the invocation count for a function.
// Returns true if this invocation made the function hot.
func (p *Profiler) RecordInvocation(hash uint64) bool {
	val, _ := p.functions.LoadOrStore(hash, &functionCounter{})
	fc := val.(*functionCounter)

	count := fc.count.Add(1)
	if count < p.HotThreshold || !fc.hot.CompareAndSwap(false, true) {
		return false
	}
	p.hotCount.Add(1)
	if p.OnHot != nil {
		p.OnHot(FunctionProfile{Hash: hash, InvocationCount: count, IsHot: true})
	}
	return true
}

// RecordInstruction counts one executed instruction.
func (p *Profiler) RecordInstruction(m bytecode.Mnemonic) {
	if int(m) < bytecode.MnemonicCount {
		p.instructions[m].Add(1)
	}
}

// observe records the step t just took.
func (p *Profiler) observe(t *Thread, info StepInfo) {
	if info.PC < 0 {
		return
	}
	p.RecordInstruction(info.Instruction.Mnemonic)
	if info.Kind == StepCall {
		if f := t.stack.Top(); f != nil {
			p.RecordInvocation(f.Hash)
		}
	}
}

// start records the entry function of a thread that has not stepped yet.
func (p *Profiler) start(t *Thread) {
	if t.steps > 0 {
		return
	}
	if f := t.stack.Top(); f != nil {
		p.RecordInvocation(f.Hash)
	}
}

// Function returns the profile for a function hash.
func (p *Profiler) Function(hash uint64) (FunctionProfile, bool) {
	val, ok := p.functions.Load(hash)
	if !ok {
		return FunctionProfile{}, false
	}
	fc := val.(*functionCounter)
	return FunctionProfile{Hash: hash, InvocationCount: fc.count.Load(), IsHot: fc.hot.Load()}, true
}

// IsHot reports whether a function has reached the hot threshold.
func (p *Profiler) IsHot(hash uint64) bool {
	fp, ok := p.Function(hash)
	return ok && fp.IsHot
}

// ProfilerStats contains aggregate profiling statistics.
type ProfilerStats struct {
	TotalFunctions   int    // Number of functions profiled
	HotFunctions     int    // Number of hot functions
	TotalInvocations uint64 // Total function invocations
	Instructions     uint64 // Total executed instructions
}

// Stats returns aggregate profiling statistics.
func (p *Profiler) Stats() ProfilerStats {
	stats := ProfilerStats{HotFunctions: int(p.hotCount.Load())}
	p.functions.Range(func(_, value any) bool {
		stats.TotalFunctions++
		stats.TotalInvocations += value.(*functionCounter).count.Load()
		return true
	})
	for i := range p.instructions {
		stats.Instructions += p.instructions[i].Load()
	}
	return stats
}

// TopFunctions returns the n most frequently invoked functions, most
// invoked first. Ties are ordered by hash.
func (p *Profiler) TopFunctions(n int) []FunctionProfile {
	var all []FunctionProfile
	p.functions.Range(func(key, value any) bool {
		fc := value.(*functionCounter)
		all = append(all, FunctionProfile{Hash: key.(uint64), InvocationCount: fc.count.Load(), IsHot: fc.hot.Load()})
		return true
	})
	sort.Slice(all, func(i, j int) bool {
		if all[i].InvocationCount != all[j].InvocationCount {
			return all[i].InvocationCount > all[j].InvocationCount
		}
		return all[i].Hash < all[j].Hash
	})
	if n >= 0 && n < len(all) {
		all = all[:n]
	}
	return all
}

// InstructionCount is the number of times one mnemonic executed.
type InstructionCount struct {
	Mnemonic bytecode.Mnemonic
	Count    uint64
}

// TopInstructions returns the n most executed mnemonics, most executed
// first. Mnemonics that never ran are left out.
func (p *Profiler) TopInstructions(n int) []InstructionCount {
	var all []InstructionCount
	for i := range p.instructions {
		if c := p.instructions[i].Load(); c > 0 {
			all = append(all, InstructionCount{Mnemonic: bytecode.Mnemonic(i), Count: c})
		}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Count > all[j].Count })
	if n >= 0 && n < len(all) {
		all = all[:n]
	}
	return all
}

// Reset clears all profiling data.
func (p *Profiler) Reset() {
	p.functions.Range(func(key, _ any) bool {
		p.functions.Delete(key)
		return true
	})
	for i := range p.instructions {
		p.instructions[i].Store(0)
	}
	p.hotCount.Store(0)
}
