// Package tasks tracks the background goroutines a device handler starts so
// they can be cancelled deterministically when the device is torn down.
package tasks

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Group is a set of background tasks sharing one cancellation scope.
// The zero value is not usable; create groups with New.
type Group struct {
	ctx    context.Context
	cancel context.CancelFunc
	eg     *errgroup.Group

	mu      sync.Mutex
	stopped bool
	onError func(error)
}

// New creates a group whose tasks are cancelled when parent is cancelled or
// Stop is called. onError, if set, receives every non-nil task error.
func New(parent context.Context, onError func(error)) *Group {
	ctx, cancel := context.WithCancel(parent)
	return &Group{
		ctx:     ctx,
		cancel:  cancel,
		eg:      &errgroup.Group{},
		onError: onError,
	}
}

// Context returns the group's context.
func (g *Group) Context() context.Context {
	return g.ctx
}

// Go starts fn in the group. It reports false if the group is already stopped.
// A failing task does not cancel its siblings.
func (g *Group) Go(fn func(ctx context.Context) error) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped {
		return false
	}
	g.eg.Go(func() error {
		err := fn(g.ctx)
		if err != nil && g.ctx.Err() == nil && g.onError != nil {
			g.onError(err)
		}
		return nil
	})
	return true
}

// Cancel stops accepting tasks and cancels the running ones without waiting.
func (g *Group) Cancel() {
	g.mu.Lock()
	g.stopped = true
	g.mu.Unlock()

	g.cancel()
}

// Stop cancels every task and waits for all of them to return.
func (g *Group) Stop() {
	g.Cancel()
	_ = g.eg.Wait()
}

// Stopped reports whether Cancel or Stop has been called.
func (g *Group) Stopped() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stopped
}
