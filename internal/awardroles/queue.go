// Package awardroles grants and revokes xp roles and position roles. Each
// kind runs its own loop that reconciles one pending member per guild per
// tick.
package awardroles

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/NotiFansly/starboard/internal/ctxzap"
)

const (
	DefaultInterval = 5 * time.Second
	maxParallel     = 8
)

var pendingGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "starboard",
	Name:      "award_roles_pending",
	Help:      "Members waiting for a role reconcile, by loop.",
}, []string{"loop"})

func init() {
	prometheus.MustRegister(pendingGauge)
}

// ReconcileFunc brings one member's roles in line.
type ReconcileFunc func(ctx context.Context, guildID, userID string) error

// Loop owns a per-guild list of pending members. Enqueue never blocks;
// Tick pops the most recently queued member of every guild.
type Loop struct {
	name      string
	reconcile ReconcileFunc
	interval  time.Duration
	log       *zap.SugaredLogger

	mu      sync.Mutex
	pending map[string][]string
}

func NewLoop(name string, interval time.Duration, reconcile ReconcileFunc, log *zap.SugaredLogger) *Loop {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Loop{
		name:      name,
		reconcile: reconcile,
		interval:  interval,
		log:       log.With("loop", name),
		pending:   map[string][]string{},
	}
}

// Enqueue marks userID for a reconcile. A member already pending moves to
// the tail so a burst of events collapses into one reconcile.
func (l *Loop) Enqueue(guildID, userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	q := slices.DeleteFunc(l.pending[guildID], func(id string) bool { return id == userID })
	l.pending[guildID] = append(q, userID)
	pendingGauge.WithLabelValues(l.name).Set(float64(l.countLocked()))
}

// Pending returns the queued members of guildID, oldest first.
func (l *Loop) Pending(guildID string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.pending[guildID])
}

func (l *Loop) countLocked() int {
	n := 0
	for _, q := range l.pending {
		n += len(q)
	}
	return n
}

func (l *Loop) pop() map[string]string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]string, len(l.pending))
	for gid, q := range l.pending {
		if len(q) == 0 {
			delete(l.pending, gid)
			continue
		}
		out[gid] = q[len(q)-1]
		l.pending[gid] = q[:len(q)-1]
	}
	pendingGauge.WithLabelValues(l.name).Set(float64(l.countLocked()))
	return out
}

// Tick reconciles one member per guild. Failures are logged per member.
func (l *Loop) Tick(ctx context.Context) {
	batch := l.pop()
	if len(batch) == 0 {
		return
	}
	var g errgroup.Group
	g.SetLimit(maxParallel)
	for gid, uid := range batch {
		g.Go(func() error {
			if err := l.reconcile(ctx, gid, uid); err != nil {
				l.log.Warnw("role reconcile failed", "guild_id", gid, "user_id", uid, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Run ticks until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	ctx = ctxzap.ToContext(ctx, l.log)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			l.Tick(ctx)
		}
	}
}
