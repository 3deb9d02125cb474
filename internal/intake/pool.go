package intake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/NotiFansly/starboard/internal/apperr"
	"github.com/NotiFansly/starboard/internal/ctxzap"
)

const handlerTimeout = 30 * time.Second

// Handler processes one event.
type Handler func(ctx context.Context, ev Event) error

// FatalHook is told about handler failures classified as Fatal.
type FatalHook func(ctx context.Context, ev Event, err error)

var (
	processed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "starboard",
		Name:      "events_processed_total",
		Help:      "Inbound events processed, by kind and outcome.",
	}, []string{"kind", "outcome"})
	queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "starboard",
		Name:      "intake_queue_depth",
		Help:      "Events waiting for a worker.",
	})
)

func init() {
	prometheus.MustRegister(processed, queueDepth)
}

// Pool runs a handler over queued events on a fixed number of workers.
// Each event is handled in isolation: a failing or panicking handler is
// logged and never affects other events.
type Pool struct {
	jobs    chan Event
	handler Handler
	onFatal FatalHook
	log     *zap.SugaredLogger
	workers int
	wg      sync.WaitGroup
}

func NewPool(workers, queue int, handler Handler, onFatal FatalHook, log *zap.SugaredLogger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queue < 0 {
		queue = 0
	}
	return &Pool{
		jobs:    make(chan Event, queue),
		handler: handler,
		onFatal: onFatal,
		log:     log,
		workers: workers,
	}
}

// Run starts the workers and blocks until ctx is done and the queue has drained.
func (p *Pool) Run(ctx context.Context) error {
	for w := 1; w <= p.workers; w++ {
		p.wg.Add(1)
		go p.worker(ctx, w)
	}
	<-ctx.Done()
	close(p.jobs)
	p.wg.Wait()
	return nil
}

// Submit queues ev, blocking while the queue is full. It reports false if
// ctx ended first.
func (p *Pool) Submit(ctx context.Context, ev Event) (ok bool) {
	defer func() {
		// Submitting after shutdown closed the queue.
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case p.jobs <- ev:
		queueDepth.Inc()
		return true
	case <-ctx.Done():
		return false
	}
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	log := p.log.With("worker", id)
	for ev := range p.jobs {
		queueDepth.Dec()
		p.Handle(ctxzap.ToContext(context.WithoutCancel(ctx), log), ev)
	}
}

// Handle runs the handler for one event with panic isolation.
func (p *Pool) Handle(ctx context.Context, ev Event) {
	ctx = ctxzap.With(ctx, "event", ev.Kind.String(), "guild_id", ev.GuildID, "message_id", ev.MessageID)
	ctx, cancel := context.WithTimeout(ctx, handlerTimeout)
	defer cancel()

	err := p.safeCall(ctx, ev)
	outcome := "ok"
	log := ctxzap.Extract(ctx)
	switch kind := apperr.KindOf(err); {
	case err == nil:
	case kind == apperr.Fatal:
		outcome = "fatal"
		log.Errorw("event handler failed", "error", err)
		if p.onFatal != nil {
			p.onFatal(ctx, ev, err)
		}
	case kind == apperr.NotFound, kind == apperr.PermissionDenied, kind == apperr.Input:
		outcome = "skipped"
		log.Debugw("event skipped", "error", err)
	default:
		outcome = "error"
		log.Warnw("event handler error", "error", err)
	}
	processed.WithLabelValues(ev.Kind.String(), outcome).Inc()
}

func (p *Pool) safeCall(ctx context.Context, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			ctxzap.Extract(ctx).Errorw("panic in event handler", "panic", r, zap.StackSkip("stack", 2))
			err = apperr.Wrap(apperr.Fatal, "handle "+ev.Kind.String(), fmt.Errorf("panic: %v", r))
		}
	}()
	return p.handler(ctx, ev)
}
