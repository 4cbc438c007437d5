package supervise

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestSpawnRunsUntilShutdown(t *testing.T) {
	g := New(context.Background(), zerolog.Nop())
	started := make(chan struct{})
	var stopped atomic.Bool

	g.Spawn("loop", func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		stopped.Store(true)
	})

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("loop never started")
	}

	g.Shutdown()
	assert.True(t, stopped.Load())
}

func TestSpawnRecoversPanic(t *testing.T) {
	g := New(context.Background(), zerolog.Nop())
	done := make(chan struct{})
	g.Spawn("panicky", func(ctx context.Context) {
		defer close(done)
		panic("boom")
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("panicking loop never returned")
	}

	// Shutdown must not block or panic even though the loop already exited.
	g.Shutdown()
}

func TestContextCanceledByParent(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	g := New(parent, zerolog.Nop())
	cancel()

	select {
	case <-g.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("group context should be canceled when parent is canceled")
	}
}
