package ipc

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/NotiFansly/starboard/internal/apperr"
	"github.com/NotiFansly/starboard/internal/ctxzap"
)

const (
	DefaultWindow = 100 * time.Millisecond
	minBackoff    = time.Second
	maxBackoff    = time.Minute
)

var commandsReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "starboard",
	Subsystem: "ipc",
	Name:      "commands_received_total",
	Help:      "Commands received from other clusters, by name.",
}, []string{"name"})

func init() {
	prometheus.MustRegister(commandsReceived)
}

// HandlerFunc answers a command. A non-nil result is sent back when the
// command asked for a response.
type HandlerFunc func(ctx context.Context, f Frame) (any, error)

// Client is one cluster's connection to the broker. It reconnects with
// backoff until its context ends.
type Client struct {
	url    string
	name   string
	dialer *websocket.Dialer
	window time.Duration
	log    *zap.SugaredLogger

	handlers map[string]HandlerFunc

	seq     atomic.Uint64
	writeMu sync.Mutex

	mu      sync.Mutex
	ws      *websocket.Conn
	pending map[string][]Frame
}

func NewClient(url, name string, tlsConfig *tls.Config, window time.Duration, log *zap.SugaredLogger) *Client {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Client{
		url:  url,
		name: name,
		dialer: &websocket.Dialer{
			HandshakeTimeout: handshakeTimeout,
			TLSClientConfig:  tlsConfig,
		},
		window:   window,
		log:      log.With("ipc_url", url),
		handlers: map[string]HandlerFunc{},
		pending:  map[string][]Frame{},
	}
}

func (c *Client) Name() string { return c.name }

// Handle registers h for commands called name. Handlers must be registered
// before Run.
func (c *Client) Handle(name string, h HandlerFunc) {
	c.handlers[name] = h
}

// connected reports whether the handshake with the broker has completed.
func (c *Client) connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws != nil
}

// Run keeps the broker connection alive until ctx is done. A rejected
// cluster name stops it with a ConfigurationViolation error.
func (c *Client) Run(ctx context.Context) error {
	delay := minBackoff
	for {
		connected, err := c.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if apperr.KindOf(err) == apperr.ConfigurationViolation {
			return err
		}
		if connected {
			delay = minBackoff
		}
		c.log.Warnw("ipc connection lost", "error", err, "retry_in", delay)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay = min(delay*2, maxBackoff)
	}
}

func (c *Client) connect(ctx context.Context) (*websocket.Conn, error) {
	ws, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.TransientInfra, "ipc dial", err)
	}
	if err := ws.WriteMessage(websocket.TextMessage, []byte(c.name)); err != nil {
		ws.Close()
		return nil, apperr.Wrap(apperr.TransientInfra, "ipc handshake", err)
	}
	_ = ws.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, msg, err := ws.ReadMessage()
	if err != nil {
		ws.Close()
		if websocket.IsCloseError(err, CloseDuplicateName) {
			return nil, apperr.Newf(apperr.ConfigurationViolation, "cluster name %q is already connected", c.name)
		}
		return nil, apperr.Wrap(apperr.TransientInfra, "ipc handshake", err)
	}
	_ = ws.SetReadDeadline(time.Time{})

	var status handshakeStatus
	if err := json.Unmarshal(msg, &status); err != nil || status.Status != "ok" {
		ws.Close()
		return nil, apperr.Newf(apperr.TransientInfra, "ipc handshake: unexpected reply %q", msg)
	}
	return ws, nil
}

func (c *Client) session(ctx context.Context) (bool, error) {
	ws, err := c.connect(ctx)
	if err != nil {
		return false, err
	}
	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.ws = nil
		c.mu.Unlock()
		ws.Close()
	}()

	stop := context.AfterFunc(ctx, func() {
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		_ = ws.Close()
	})
	defer stop()

	c.log.Infow("ipc connected", "cluster", c.name)
	ctx = ctxzap.ToContext(ctx, c.log)
	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return true, nil
			}
			return true, apperr.Wrap(apperr.TransientInfra, "ipc read", err)
		}
		var f Frame
		if err := json.Unmarshal(msg, &f); err != nil {
			c.log.Debugw("ignoring malformed frame", "error", err)
			continue
		}
		c.dispatch(ctx, f)
	}
}

func (c *Client) dispatch(ctx context.Context, f Frame) {
	switch f.Type {
	case TypeResponse:
		if f.Callback == nil {
			return
		}
		c.mu.Lock()
		if got, ok := c.pending[*f.Callback]; ok {
			c.pending[*f.Callback] = append(got, f)
		}
		c.mu.Unlock()

	case TypeCommand:
		if f.Author == c.name {
			return
		}
		commandsReceived.WithLabelValues(f.Name).Inc()
		log := c.log.With("command", f.Name, "author", f.Author)
		log.Debugw("received command")

		var (
			result any
			err    error
		)
		if h, ok := c.handlers[f.Name]; ok {
			result, err = h(ctx, f)
		} else {
			result = "unknown command"
		}
		if err != nil {
			log.Warnw("command failed", "error", err)
			result = map[string]string{"error": err.Error()}
		}
		if !f.Respond || f.Callback == nil || result == nil {
			return
		}
		if err := c.write(Frame{Type: TypeResponse, Callback: f.Callback, Author: c.name}, result); err != nil {
			log.Debugw("response failed", "error", err)
		}
	}
}

func (c *Client) nextCallback() string {
	return fmt.Sprintf("%s-%d", c.name, c.seq.Add(1))
}

func (c *Client) write(f Frame, data any) error {
	raw, err := encode(data)
	if err != nil {
		return apperr.Wrap(apperr.Input, "ipc encode", err)
	}
	f.Data = raw
	msg, err := json.Marshal(f)
	if err != nil {
		return apperr.Wrap(apperr.Input, "ipc encode", err)
	}

	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return apperr.New(apperr.TransientInfra, "ipc not connected")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
		return apperr.Wrap(apperr.TransientInfra, "ipc write", err)
	}
	return nil
}

// Send broadcasts a command without waiting for answers.
func (c *Client) Send(_ context.Context, name string, data any) error {
	return c.write(Frame{Type: TypeCommand, Name: name, Author: c.name}, data)
}

// Request broadcasts a command and collects the responses that arrive within
// the response window. Clusters that answer late are not waited for.
func (c *Client) Request(ctx context.Context, name string, data any) ([]Frame, error) {
	cb := c.nextCallback()
	c.mu.Lock()
	c.pending[cb] = nil
	c.mu.Unlock()
	collect := func() []Frame {
		c.mu.Lock()
		defer c.mu.Unlock()
		got := c.pending[cb]
		delete(c.pending, cb)
		return got
	}

	if err := c.write(Frame{Type: TypeCommand, Name: name, Respond: true, Callback: &cb, Author: c.name}, data); err != nil {
		collect()
		return nil, err
	}

	t := time.NewTimer(c.window)
	defer t.Stop()
	select {
	case <-ctx.Done():
		collect()
		return nil, ctx.Err()
	case <-t.C:
	}
	return collect(), nil
}
