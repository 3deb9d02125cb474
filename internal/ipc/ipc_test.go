package ipc

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/NotiFansly/starboard/internal/apperr"
)

func newBroker(t *testing.T) (*Broker, string) {
	t.Helper()
	b := NewBroker(zap.NewNop().Sugar())
	srv := httptest.NewServer(b)
	t.Cleanup(srv.Close)
	return b, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func startClient(t *testing.T, url, name string, setup func(*Client)) *Client {
	t.Helper()
	c := NewClient(url, name, nil, 300*time.Millisecond, zap.NewNop().Sugar())
	if setup != nil {
		setup(c)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	require.Eventually(t, c.connected, 2*time.Second, 10*time.Millisecond)
	return c
}

func dial(t *testing.T, url, name string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(name)))
	return ws
}

func TestBrokerHandshakeAndDuplicateName(t *testing.T) {
	b, url := newBroker(t)

	first := dial(t, url, "alpha")
	_, msg, err := first.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok"}`, string(msg))
	require.Eventually(t, func() bool { return len(b.Clients()) == 1 }, time.Second, 10*time.Millisecond)

	dup := dial(t, url, "alpha")
	_, _, err = dup.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, CloseDuplicateName), "got %v", err)
	assert.Equal(t, []string{"alpha"}, b.Clients())
}

func TestBrokerRelaysToOthersInOrder(t *testing.T) {
	b, url := newBroker(t)
	a := dial(t, url, "a")
	c := dial(t, url, "c")
	for _, ws := range []*websocket.Conn{a, c} {
		_, _, err := ws.ReadMessage()
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool { return len(b.Clients()) == 2 }, time.Second, 10*time.Millisecond)

	for _, m := range []string{"one", "two", "three"} {
		require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte(m)))
	}
	for _, want := range []string{"one", "two", "three"} {
		_, got, err := c.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, want, string(got))
	}

	_ = a.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err := a.ReadMessage()
	assert.Error(t, err, "the sender does not get its own frames back")
}

func TestBrokerForgetsDisconnectedClients(t *testing.T) {
	b, url := newBroker(t)
	ws := dial(t, url, "gone")
	_, _, err := ws.ReadMessage()
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(b.Clients()) == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, ws.Close())
	require.Eventually(t, func() bool { return len(b.Clients()) == 0 }, time.Second, 10*time.Millisecond)

	again := dial(t, url, "gone")
	_, msg, err := again.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok"}`, string(msg))
}

func TestRequestCollectsResponses(t *testing.T) {
	_, url := newBroker(t)
	hosted := []string{"g1", "g2"}

	asker := startClient(t, url, "asker", nil)
	for _, name := range []string{"one", "two"} {
		startClient(t, url, name, func(c *Client) {
			Commands{Guilds: func() []string { return hosted }}.Register(c)
		})
	}

	resp, err := asker.Request(context.Background(), "ping", nil)
	require.NoError(t, err)
	require.Len(t, resp, 2)
	authors := []string{resp[0].Author, resp[1].Author}
	assert.ElementsMatch(t, []string{"one", "two"}, authors)
	for _, f := range resp {
		var s string
		require.NoError(t, f.Decode(&s))
		assert.Equal(t, "pong", s)
		require.NotNil(t, f.Callback)
	}

	resp, err = asker.Request(context.Background(), "get_mutual", []string{"g2", "g9"})
	require.NoError(t, err)
	require.Len(t, resp, 2)
	var mutual []string
	require.NoError(t, resp[0].Decode(&mutual))
	assert.Equal(t, []string{"g2"}, mutual)

	resp, err = asker.Request(context.Background(), "eval", "1+1")
	require.NoError(t, err)
	require.NotEmpty(t, resp)
	var s string
	require.NoError(t, resp[0].Decode(&s))
	assert.Contains(t, s, "not supported")
}

func TestSendWithoutResponse(t *testing.T) {
	_, url := newBroker(t)
	got := make(chan Frame, 1)
	startClient(t, url, "listener", func(c *Client) {
		c.Handle("set_stats", func(_ context.Context, f Frame) (any, error) {
			got <- f
			return nil, nil
		})
	})
	sender := startClient(t, url, "sender", nil)

	require.NoError(t, sender.Send(context.Background(), "set_stats", map[string]int{"guilds": 3}))
	select {
	case f := <-got:
		assert.Equal(t, "sender", f.Author)
		assert.False(t, f.Respond)
		assert.Nil(t, f.Callback)
		var data map[string]int
		require.NoError(t, f.Decode(&data))
		assert.Equal(t, 3, data["guilds"])
	case <-time.After(2 * time.Second):
		t.Fatal("command never arrived")
	}
}

func TestFrameWithoutDataCarriesNull(t *testing.T) {
	_, url := newBroker(t)
	raw := dial(t, url, "raw")
	_, _, err := raw.ReadMessage()
	require.NoError(t, err)
	sender := startClient(t, url, "sender", nil)

	require.NoError(t, sender.Send(context.Background(), "restart", nil))
	_ = raw.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := raw.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"command","name":"restart","data":null,"respond":false,"callback":null,"author":"sender"}`, string(msg))
}

func TestClientRejectedName(t *testing.T) {
	_, url := newBroker(t)
	startClient(t, url, "taken", nil)

	c := NewClient(url, "taken", nil, 0, zap.NewNop().Sugar())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := c.Run(ctx)
	require.Error(t, err)
	assert.Equal(t, apperr.ConfigurationViolation, apperr.KindOf(err))
}

func TestCallbacksIncrease(t *testing.T) {
	c := NewClient("ws://unused", "x", nil, 0, zap.NewNop().Sugar())
	assert.Equal(t, "x-1", c.nextCallback())
	assert.Equal(t, "x-2", c.nextCallback())

	_, err := c.Request(context.Background(), "ping", nil)
	assert.True(t, apperr.IsTransient(err), "not connected")
}
