package gateway

import (
	"sync"

	"github.com/park285/cheese-chess-server/pkg/chessdto"
	"go.uber.org/zap"
)

// DefaultSendBuffer is the per-connection outbound queue length.
const DefaultSendBuffer = 64

type peer struct {
	id   string
	send chan chessdto.Event
	done chan struct{}
	once sync.Once
}

func (p *peer) kick() { p.once.Do(func() { close(p.done) }) }

// Hub fans events out to live connections. Sends never block: a peer whose
// queue is full is kicked and its transport loop closes the socket.
type Hub struct {
	mu     sync.Mutex
	conns  map[string]*peer
	rooms  map[string]map[string]struct{}
	buffer int
	log    *zap.Logger
}

func NewHub(buffer int, logger *zap.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultSendBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		conns:  make(map[string]*peer),
		rooms:  make(map[string]map[string]struct{}),
		buffer: buffer,
		log:    logger,
	}
}

func (h *Hub) register(id string) *peer {
	p := &peer{id: id, send: make(chan chessdto.Event, h.buffer), done: make(chan struct{})}
	h.mu.Lock()
	h.conns[id] = p
	h.mu.Unlock()
	return p
}

func (h *Hub) unregister(id string) {
	h.mu.Lock()
	p := h.conns[id]
	delete(h.conns, id)
	for roomID, subs := range h.rooms {
		delete(subs, id)
		if len(subs) == 0 {
			delete(h.rooms, roomID)
		}
	}
	h.mu.Unlock()
	if p != nil {
		p.kick()
	}
}

// Send queues ev for one connection. Unknown connections are ignored.
func (h *Hub) Send(connID string, ev chessdto.Event) {
	h.mu.Lock()
	p := h.conns[connID]
	h.mu.Unlock()
	if p != nil {
		h.offer(p, ev)
	}
}

// Broadcast queues ev for every subscriber of roomID. Terminal events also
// drop the room's subscriptions.
func (h *Hub) Broadcast(roomID string, ev chessdto.Event) {
	h.mu.Lock()
	subs := h.rooms[roomID]
	targets := make([]*peer, 0, len(subs))
	for id := range subs {
		if p := h.conns[id]; p != nil {
			targets = append(targets, p)
		}
	}
	if ev.Name == chessdto.EventGameOver || ev.Name == chessdto.EventCancelled {
		delete(h.rooms, roomID)
	}
	h.mu.Unlock()
	for _, p := range targets {
		h.offer(p, ev)
	}
}

func (h *Hub) Subscribe(connID, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[connID]; !ok {
		return
	}
	subs := h.rooms[roomID]
	if subs == nil {
		subs = make(map[string]struct{})
		h.rooms[roomID] = subs
	}
	subs[connID] = struct{}{}
}

func (h *Hub) Unsubscribe(connID, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs := h.rooms[roomID]; subs != nil {
		delete(subs, connID)
		if len(subs) == 0 {
			delete(h.rooms, roomID)
		}
	}
}

// Subscribers lists the connections currently following roomID.
func (h *Hub) Subscribers(roomID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.rooms[roomID]))
	for id := range h.rooms[roomID] {
		out = append(out, id)
	}
	return out
}

// Len reports the number of live connections.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Close kicks every connection.
func (h *Hub) Close() {
	h.mu.Lock()
	peers := make([]*peer, 0, len(h.conns))
	for _, p := range h.conns {
		peers = append(peers, p)
	}
	h.mu.Unlock()
	for _, p := range peers {
		p.kick()
	}
}

func (h *Hub) offer(p *peer, ev chessdto.Event) {
	select {
	case <-p.done:
		return
	default:
	}
	select {
	case p.send <- ev:
	default:
		h.log.Warn("gateway_slow_consumer", zap.String("conn_id", p.id), zap.String("event", ev.Name))
		p.kick()
	}
}
