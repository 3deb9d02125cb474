package ipc

import (
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	handshakeTimeout = 10 * time.Second
	writeWait        = 10 * time.Second
	outBuffer        = 256
)

var (
	connectedClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "starboard",
		Subsystem: "ipc",
		Name:      "connected_clients",
		Help:      "Clusters connected to the broker.",
	})
	relayedFrames = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "starboard",
		Subsystem: "ipc",
		Name:      "relayed_frames_total",
		Help:      "Frames relayed by the broker, by outcome.",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(connectedClients, relayedFrames)
}

// Broker accepts cluster connections and relays every frame a cluster sends
// to all other clusters. Frames from one sender keep their order.
type Broker struct {
	log      *zap.SugaredLogger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*peer
}

type peer struct {
	id   string
	name string
	ws   *websocket.Conn
	out  chan []byte
	done chan struct{}
}

func NewBroker(log *zap.SugaredLogger) *Broker {
	return &Broker{
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: map[string]*peer{},
	}
}

// Clients returns the names of the connected clusters.
func (b *Broker) Clients() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.clients))
	for name := range b.clients {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Warnw("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer ws.Close()

	_ = ws.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, name, err := ws.ReadMessage()
	if err != nil {
		b.log.Debugw("handshake failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	_ = ws.SetReadDeadline(time.Time{})

	p := &peer{
		id:   uuid.NewString(),
		name: string(name),
		ws:   ws,
		out:  make(chan []byte, outBuffer),
		done: make(chan struct{}),
	}
	log := b.log.With("cluster", p.name, "conn_id", p.id)

	if !b.register(p) {
		log.Warnw("cluster attempted reconnection")
		msg := websocket.FormatCloseMessage(CloseDuplicateName, "already connected")
		_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		return
	}
	defer b.unregister(p)

	if err := ws.WriteMessage(websocket.TextMessage, statusOK); err != nil {
		log.Debugw("handshake reply failed", "error", err)
		return
	}
	log.Infow("cluster connected")
	go p.writeLoop(log)

	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warnw("cluster read failed", "error", err)
			}
			log.Infow("cluster disconnected")
			return
		}
		b.broadcast(p, msg)
	}
}

func (b *Broker) register(p *peer) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[p.name]; ok {
		return false
	}
	b.clients[p.name] = p
	connectedClients.Set(float64(len(b.clients)))
	return true
}

func (b *Broker) unregister(p *peer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.clients[p.name] == p {
		delete(b.clients, p.name)
	}
	close(p.done)
	connectedClients.Set(float64(len(b.clients)))
}

// broadcast queues msg for every client except the sender. A client whose
// queue is full misses the frame rather than stalling the others.
func (b *Broker) broadcast(from *peer, msg []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, p := range b.clients {
		if p == from {
			continue
		}
		select {
		case p.out <- msg:
			relayedFrames.WithLabelValues("sent").Inc()
		default:
			relayedFrames.WithLabelValues("dropped").Inc()
			b.log.Warnw("cluster queue full, frame dropped", "cluster", p.name, "from", from.name)
		}
	}
}

func (p *peer) writeLoop(log *zap.SugaredLogger) {
	for {
		select {
		case <-p.done:
			return
		case msg := <-p.out:
			_ = p.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Debugw("relay write failed", "error", err)
				_ = p.ws.Close()
				return
			}
		}
	}
}
