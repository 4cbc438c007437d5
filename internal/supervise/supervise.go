// Package supervise provides the shared background-loop scaffolding every
// long-running subsystem uses: a cancellable shutdown token and a spawn
// helper that turns a goroutine panic into a logged error instead of a
// crashed process. Every subsystem in the teacher repo hand-rolls its own
// stopCh plus a bare `go s.run()`; this package generalizes that shape so
// the Hub's notification queue, delete-queue worker and retention loop, and
// the Agent's WebSocket writer, all share one pattern.
package supervise

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Group owns a cancellation context shared by every loop it spawns and a
// WaitGroup so Shutdown can block until all of them have actually
// returned, not just been asked to.
type Group struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger zerolog.Logger
}

// New creates a Group bound to parent's lifetime, additionally cancellable
// on its own via Shutdown.
func New(parent context.Context, logger zerolog.Logger) *Group {
	ctx, cancel := context.WithCancel(parent)
	return &Group{ctx: ctx, cancel: cancel, logger: logger}
}

// Context returns the group's shutdown context; loops select on
// ctx.Done() the way the teacher's loops select on stopCh.
func (g *Group) Context() context.Context { return g.ctx }

// Spawn runs fn in a new goroutine, recovering any panic into a logged
// error so one subsystem's bug cannot take down the whole process. Only
// the panicking loop stops: the group's context is not canceled, and the
// other loops keep running.
func (g *Group) Spawn(name string, fn func(ctx context.Context)) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				g.logger.Error().
					Str("loop", name).
					Interface("panic", r).
					Msg("background loop panicked, loop stopped")
			}
		}()
		fn(g.ctx)
	}()
}

// Shutdown cancels every spawned loop and waits for them to exit.
func (g *Group) Shutdown() {
	g.cancel()
	g.wg.Wait()
}
