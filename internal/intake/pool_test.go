package intake

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/NotiFansly/starboard/internal/apperr"
)

type recorder struct {
	mu      sync.Mutex
	handled []string
	fatal   []string
}

func (r *recorder) handle(_ context.Context, ev Event) error {
	switch ev.MessageID {
	case "panic":
		panic("boom")
	case "fatal":
		return apperr.Wrap(apperr.Fatal, "test", errors.New("bad state"))
	case "missing":
		return apperr.New(apperr.NotFound, "gone")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handled = append(r.handled, ev.MessageID)
	return nil
}

func (r *recorder) onFatal(_ context.Context, ev Event, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fatal = append(r.fatal, ev.MessageID)
}

func TestHandleIsolatesPanics(t *testing.T) {
	rec := &recorder{}
	p := NewPool(1, 0, rec.handle, rec.onFatal, zap.NewNop().Sugar())
	ctx := context.Background()

	assert.NotPanics(t, func() {
		p.Handle(ctx, Event{Kind: ReactionAdd, MessageID: "panic"})
	})
	p.Handle(ctx, Event{Kind: ReactionAdd, MessageID: "fatal"})
	p.Handle(ctx, Event{Kind: ReactionAdd, MessageID: "missing"})
	p.Handle(ctx, Event{Kind: ReactionAdd, MessageID: "ok"})

	assert.Equal(t, []string{"ok"}, rec.handled)
	assert.Equal(t, []string{"panic", "fatal"}, rec.fatal, "panics are reported as fatal")
}

func TestPoolDrainsQueue(t *testing.T) {
	rec := &recorder{}
	p := NewPool(3, 16, rec.handle, rec.onFatal, zap.NewNop().Sugar())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	ids := []string{"a", "panic", "b", "c", "d"}
	for _, id := range ids {
		require.True(t, p.Submit(ctx, Event{Kind: MessageEdit, MessageID: id}))
	}
	cancel()
	require.NoError(t, <-done)

	assert.ElementsMatch(t, []string{"a", "b", "c", "d"}, rec.handled)
	assert.Equal(t, []string{"panic"}, rec.fatal)

	assert.False(t, p.Submit(context.Background(), Event{Kind: MessageEdit, MessageID: "late"}))
}
