// Package stats keeps cluster counters in memory, flushes them to the store
// and exchanges them with the other clusters over IPC.
package stats

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/NotiFansly/starboard/internal/database"
	"github.com/NotiFansly/starboard/internal/ipc"
	"github.com/NotiFansly/starboard/internal/models"
)

const KeyReactionsProcessed = "reactions_processed"

var (
	clusterGuilds = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "starboard",
		Name:      "cluster_guilds",
		Help:      "Guilds hosted per cluster, as last reported over IPC.",
	}, []string{"cluster"})
	clusterMembers = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "starboard",
		Name:      "cluster_members",
		Help:      "Members across the guilds of each cluster, as last reported over IPC.",
	}, []string{"cluster"})
)

func init() {
	prometheus.MustRegister(clusterGuilds, clusterMembers)
}

// Snapshot is the set_stats payload.
type Snapshot struct {
	Guilds             int   `json:"guilds"`
	Members            int   `json:"members"`
	ReactionsProcessed int64 `json:"reactions_processed"`
}

// Sender broadcasts a command to the other clusters.
type Sender interface {
	Send(ctx context.Context, name string, data any) error
}

// CountFunc reports the guilds and members this cluster hosts.
type CountFunc func() (guilds, members int)

// Aggregator holds counters in memory to keep writes off the hot path.
type Aggregator struct {
	store   *database.Store
	cluster string
	counts  CountFunc
	log     *zap.SugaredLogger

	reactions atomic.Int64
	total     atomic.Int64

	mu    sync.Mutex
	peers map[string]Snapshot
}

func NewAggregator(store *database.Store, cluster string, counts CountFunc, log *zap.SugaredLogger) *Aggregator {
	return &Aggregator{
		store:   store,
		cluster: cluster,
		counts:  counts,
		log:     log,
		peers:   map[string]Snapshot{},
	}
}

// RecordReaction counts one processed reaction event.
func (a *Aggregator) RecordReaction() {
	a.reactions.Add(1)
	a.total.Add(1)
}

// Flush writes the pending count to the store and resets it. A count that
// fails to write is kept for the next flush.
func (a *Aggregator) Flush(ctx context.Context) error {
	n := a.reactions.Swap(0)
	if n == 0 {
		return nil
	}
	if err := a.store.SystemStats.Add(ctx, KeyReactionsProcessed, n); err != nil {
		a.reactions.Add(n)
		return err
	}
	return nil
}

func (a *Aggregator) snapshot() Snapshot {
	s := Snapshot{ReactionsProcessed: a.total.Load()}
	if a.counts != nil {
		s.Guilds, s.Members = a.counts()
	}
	return s
}

// Broadcast records this cluster's snapshot and sends it to the others.
func (a *Aggregator) Broadcast(ctx context.Context, to Sender) error {
	s := a.snapshot()
	a.record(a.cluster, s)
	return to.Send(ctx, "set_stats", s)
}

func (a *Aggregator) record(cluster string, s Snapshot) {
	a.mu.Lock()
	a.peers[cluster] = s
	a.mu.Unlock()
	clusterGuilds.WithLabelValues(cluster).Set(float64(s.Guilds))
	clusterMembers.WithLabelValues(cluster).Set(float64(s.Members))
}

// HandleSetStats stores a peer's snapshot.
func (a *Aggregator) HandleSetStats(_ context.Context, f ipc.Frame) (any, error) {
	var s Snapshot
	if err := f.Decode(&s); err != nil {
		return nil, err
	}
	a.record(f.Author, s)
	return nil, nil
}

// Totals sums the latest snapshot of every known cluster.
func (a *Aggregator) Totals() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	var t Snapshot
	for _, s := range a.peers {
		t.Guilds += s.Guilds
		t.Members += s.Members
		t.ReactionsProcessed += s.ReactionsProcessed
	}
	return t
}

func (a *Aggregator) Register(c *ipc.Client) {
	c.Handle("set_stats", a.HandleSetStats)
}

// Run flushes and broadcasts every interval until ctx is done. A nil sender
// only flushes.
func (a *Aggregator) Run(ctx context.Context, interval time.Duration, to Sender) error {
	a.log.Infow("stats aggregator started", "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := a.Flush(flushCtx); err != nil {
				a.log.Warnw("final stats flush failed", "error", err)
			}
			cancel()
			return nil
		case <-ticker.C:
			if err := a.Flush(ctx); err != nil {
				a.log.Errorw("failed to flush stats", "error", err)
			}
			if to != nil {
				if err := a.Broadcast(ctx, to); err != nil {
					a.log.Debugw("stats broadcast failed", "error", err)
				}
			}
		}
	}
}

// Heartbeat keeps the service status row of this cluster fresh.
func Heartbeat(ctx context.Context, store *database.Store, service string, interval time.Duration, log *zap.SugaredLogger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		log.Debugw("sending heartbeat", "service", service)
		status := &models.ServiceStatus{
			ServiceName:   service,
			Status:        "operational",
			LastHeartbeat: time.Now(),
		}
		if err := store.SystemStats.Heartbeat(ctx, status); err != nil && ctx.Err() == nil {
			log.Warnw("heartbeat failed", "service", service, "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
