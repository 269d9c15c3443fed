package vm

import (
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/zeebo/xxh3"

	"github.com/chazu/regvm/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Native functions
// ---------------------------------------------------------------------------

// NativeFunc implements a native function. Arguments arrive as stored in the
// caller's slots; strings and arrays arrive as HeapRefs and can be read
// through the context.
type NativeFunc func(ctx *NativeContext, args []bytecode.Value) (bytecode.Value, error)

// NativeFunction is a registered native callable.
type NativeFunction struct {
	Module string
	Name   string
	Hash   uint64
	Arity  int
	Fn     NativeFunc
}

// QualifiedName returns "module.name".
func (n *NativeFunction) QualifiedName() string { return n.Module + "." + n.Name }

// NativeHash is the default hash for a native function name.
func NativeHash(module, name string) uint64 {
	return xxh3.HashString(module + "." + name)
}

// NativeContext gives a native function access to the calling thread's heap
// and output.
type NativeContext struct {
	thread *Thread
	Out    io.Writer
}

// Deref follows a HeapRef; other values are returned unchanged.
func (c *NativeContext) Deref(v bytecode.Value) (bytecode.Value, error) {
	if v.Kind() != bytecode.KindHeapRef {
		return v, nil
	}
	return c.thread.heap.Get(v.AsRef())
}

// Text renders v the way println shows it: strings without quotes.
func (c *NativeContext) Text(v bytecode.Value) (string, error) {
	d, err := c.Deref(v)
	if err != nil {
		return "", err
	}
	if d.Kind() == bytecode.KindString {
		return d.AsString(), nil
	}
	return d.String(), nil
}

// NewString allocates s on the heap and returns its reference.
func (c *NativeContext) NewString(s string) bytecode.Value {
	return bytecode.HeapRef(c.thread.heap.Alloc(bytecode.String(s)))
}

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

// NativeRegistry maps native function hashes to implementations. It is
// shared by every thread of a runner and safe for concurrent reads.
type NativeRegistry struct {
	mu     sync.RWMutex
	byHash map[uint64]*NativeFunction
	Out    io.Writer
}

// NewNativeRegistry creates an empty registry writing to stdout.
func NewNativeRegistry() *NativeRegistry {
	return &NativeRegistry{
		byHash: make(map[uint64]*NativeFunction),
		Out:    os.Stdout,
	}
}

// Register adds fn. A zero Hash is filled in with NativeHash.
func (r *NativeRegistry) Register(fn NativeFunction) error {
	if fn.Fn == nil {
		return fmt.Errorf("native %s.%s has no implementation", fn.Module, fn.Name)
	}
	if fn.Hash == 0 {
		fn.Hash = NativeHash(fn.Module, fn.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.byHash[fn.Hash]; ok {
		return fmt.Errorf("native hash %d already registered for %s", fn.Hash, prev.QualifiedName())
	}
	r.byHash[fn.Hash] = &fn
	return nil
}

// Lookup finds a native function by hash.
func (r *NativeRegistry) Lookup(hash uint64) (*NativeFunction, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.byHash[hash]
	return fn, ok
}

// Names returns the qualified names of every registered function, sorted.
func (r *NativeRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byHash))
	for _, fn := range r.byHash {
		out = append(out, fn.QualifiedName())
	}
	sort.Strings(out)
	return out
}

// Restrict returns a registry holding only the named functions. An empty
// list keeps everything.
func (r *NativeRegistry) Restrict(names []string) *NativeRegistry {
	if len(names) == 0 {
		return r
	}
	keep := make(map[string]bool, len(names))
	for _, n := range names {
		keep[n] = true
	}
	out := NewNativeRegistry()
	out.Out = r.Out
	r.mu.RLock()
	defer r.mu.RUnlock()
	for h, fn := range r.byHash {
		if keep[fn.QualifiedName()] {
			out.byHash[h] = fn
		}
	}
	return out
}

// StdNatives returns a registry with the std module: println, len and
// concat.
func StdNatives(out io.Writer) *NativeRegistry {
	r := NewNativeRegistry()
	if out != nil {
		r.Out = out
	}
	must := func(err error) {
		if err != nil {
			panic(err)
		}
	}
	must(r.Register(NativeFunction{Module: "std", Name: "println", Arity: 1,
		Fn: func(ctx *NativeContext, args []bytecode.Value) (bytecode.Value, error) {
			s, err := ctx.Text(args[0])
			if err != nil {
				return bytecode.Value{}, err
			}
			_, err = fmt.Fprintln(ctx.Out, s)
			return bytecode.Void(), err
		}}))
	must(r.Register(NativeFunction{Module: "std", Name: "len", Arity: 1,
		Fn: func(ctx *NativeContext, args []bytecode.Value) (bytecode.Value, error) {
			v, err := ctx.Deref(args[0])
			if err != nil {
				return bytecode.Value{}, err
			}
			switch v.Kind() {
			case bytecode.KindString, bytecode.KindArray:
				return bytecode.Int(int64(v.Len())), nil
			}
			return bytecode.Value{}, fmt.Errorf("len of %s", v.TypeName())
		}}))
	must(r.Register(NativeFunction{Module: "std", Name: "concat", Arity: 2,
		Fn: func(ctx *NativeContext, args []bytecode.Value) (bytecode.Value, error) {
			a, err := ctx.Text(args[0])
			if err != nil {
				return bytecode.Value{}, err
			}
			b, err := ctx.Text(args[1])
			if err != nil {
				return bytecode.Value{}, err
			}
			return ctx.NewString(a + b), nil
		}}))
	return r
}
