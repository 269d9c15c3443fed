package vm

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// RunOptions controls Run and RunAll.
type RunOptions struct {
	// ReclaimEvery runs a heap reclaim pass every n steps. Zero disables
	// periodic reclaim; the heap is always reclaimed once at exit.
	ReclaimEvery uint64

	// StopAtTrap makes Run return when a BRK suspends the thread instead
	// of resuming it.
	StopAtTrap bool

	// Profiler, when set, counts every executed instruction and function
	// invocation.
	Profiler *Profiler
}

// Run steps t until it exits or ctx is cancelled. Cancellation is checked
// between steps; a cancelled run returns ctx.Err() with the thread left
// resumable. With StopAtTrap a BRK returns (nil, nil).
func Run(ctx context.Context, t *Thread, opts RunOptions) (*ThreadExit, error) {
	if opts.Profiler != nil {
		opts.Profiler.start(t)
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info, exit := t.Step()
		if opts.Profiler != nil {
			opts.Profiler.observe(t, info)
		}
		if exit != nil {
			t.ReclaimHeap()
			return exit, nil
		}
		if info.Kind == StepTrap && opts.StopAtTrap {
			return nil, nil
		}
		if opts.ReclaimEvery > 0 && t.steps%opts.ReclaimEvery == 0 {
			t.ReclaimHeap()
		}
	}
}

// RunAll runs every thread to completion, each on its own goroutine, and
// returns the exits in thread order. The first context error cancels the
// rest. Threads never share memory; only the native registry is common.
func RunAll(ctx context.Context, threads []*Thread, opts RunOptions) ([]*ThreadExit, error) {
	exits := make([]*ThreadExit, len(threads))
	g, gctx := errgroup.WithContext(ctx)
	for i, t := range threads {
		i, t := i, t
		g.Go(func() error {
			exit, err := Run(gctx, t, RunOptions{ReclaimEvery: opts.ReclaimEvery, Profiler: opts.Profiler})
			if err != nil {
				return err
			}
			exits[i] = exit
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return exits, err
	}
	return exits, nil
}
