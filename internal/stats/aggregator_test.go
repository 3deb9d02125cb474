package stats

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/NotiFansly/starboard/internal/database/dbtest"
	"github.com/NotiFansly/starboard/internal/ipc"
)

type sent struct {
	name string
	data any
}

type recordingSender struct{ got []sent }

func (r *recordingSender) Send(_ context.Context, name string, data any) error {
	r.got = append(r.got, sent{name, data})
	return nil
}

func TestFlushWritesAndResets(t *testing.T) {
	ctx := context.Background()
	store := dbtest.New(t)
	a := NewAggregator(store, "c0", nil, zap.NewNop().Sugar())

	for range 3 {
		a.RecordReaction()
	}
	require.NoError(t, a.Flush(ctx))
	require.NoError(t, a.Flush(ctx), "nothing pending")

	n, err := store.SystemStats.Get(ctx, KeyReactionsProcessed)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	a.RecordReaction()
	require.NoError(t, a.Flush(ctx))
	n, err = store.SystemStats.Get(ctx, KeyReactionsProcessed)
	require.NoError(t, err)
	assert.EqualValues(t, 4, n)
}

func TestBroadcastAndTotals(t *testing.T) {
	ctx := context.Background()
	a := NewAggregator(dbtest.New(t), "c0", func() (int, int) { return 2, 40 }, zap.NewNop().Sugar())
	a.RecordReaction()

	to := &recordingSender{}
	require.NoError(t, a.Broadcast(ctx, to))
	require.Len(t, to.got, 1)
	assert.Equal(t, "set_stats", to.got[0].name)
	assert.Equal(t, Snapshot{Guilds: 2, Members: 40, ReactionsProcessed: 1}, to.got[0].data)

	peer, err := json.Marshal(Snapshot{Guilds: 3, Members: 10, ReactionsProcessed: 5})
	require.NoError(t, err)
	_, err = a.HandleSetStats(ctx, ipc.Frame{Type: ipc.TypeCommand, Name: "set_stats", Author: "c1", Data: peer})
	require.NoError(t, err)

	assert.Equal(t, Snapshot{Guilds: 5, Members: 50, ReactionsProcessed: 6}, a.Totals())

	peer, err = json.Marshal(Snapshot{Guilds: 1})
	require.NoError(t, err)
	_, err = a.HandleSetStats(ctx, ipc.Frame{Author: "c1", Data: peer})
	require.NoError(t, err)
	assert.Equal(t, 3, a.Totals().Guilds, "a newer snapshot replaces the older one")
}

func TestRunFlushesOnShutdown(t *testing.T) {
	store := dbtest.New(t)
	a := NewAggregator(store, "c0", nil, zap.NewNop().Sugar())
	a.RecordReaction()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, a.Run(ctx, time.Hour, nil))

	n, err := store.SystemStats.Get(context.Background(), KeyReactionsProcessed)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestHeartbeat(t *testing.T) {
	store := dbtest.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, Heartbeat(ctx, store, "cluster-c0", time.Hour, zap.NewNop().Sugar()))
}
