package ws

import (
	"context"
	"encoding/json"
	"slices"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/Vasu1712/otoge-battle-backend/internal/models"
)

const globalBuffer = 64

// Hub tracks live connections and the room channels they listen on.
// Room traffic is delivered synchronously into per-client buffers so
// events from one room keep their order; global traffic goes through Run.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client            // connID -> client
	rooms   map[string]map[string]*Client // roomID -> connID -> client

	broadcast chan []byte
	done      chan struct{}
	stopOnce  sync.Once
}

func NewHub() *Hub {
	return &Hub{
		clients:   make(map[string]*Client),
		rooms:     make(map[string]map[string]*Client),
		broadcast: make(chan []byte, globalBuffer),
		done:      make(chan struct{}),
	}
}

// Run delivers global broadcasts until ctx is done, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.stop()
			return
		case data := <-h.broadcast:
			h.mu.RLock()
			targets := make([]*Client, 0, len(h.clients))
			for _, c := range h.clients {
				targets = append(targets, c)
			}
			h.mu.RUnlock()
			h.deliver(targets, data)
		}
	}
}

func (h *Hub) stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.mu.Lock()
		for id, c := range h.clients {
			c.close()
			delete(h.clients, id)
		}
		h.rooms = make(map[string]map[string]*Client)
		h.mu.Unlock()
		log.Info().Msg("[hub] stopped")
	})
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-h.done:
		c.close()
		return
	default:
	}
	h.clients[c.ConnID] = c
	log.Debug().Str("conn", c.ConnID).Str("user", c.UserID).Int("clients", len(h.clients)).Msg("[hub] client registered")
}

// Unregister forgets the client and closes its send buffer. It reports
// whether the client was still registered.
func (h *Hub) Unregister(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.removeLocked(c)
}

func (h *Hub) removeLocked(c *Client) bool {
	if cur, ok := h.clients[c.ConnID]; !ok || cur != c {
		return false
	}
	delete(h.clients, c.ConnID)
	for roomID := range c.rooms {
		if set := h.rooms[roomID]; set != nil {
			delete(set, c.ConnID)
			if len(set) == 0 {
				delete(h.rooms, roomID)
			}
		}
	}
	c.rooms = nil
	c.close()
	return true
}

func (h *Hub) Subscribe(connID, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[connID]
	if !ok {
		return
	}
	set := h.rooms[roomID]
	if set == nil {
		set = make(map[string]*Client)
		h.rooms[roomID] = set
	}
	set[connID] = c
	if c.rooms == nil {
		c.rooms = make(map[string]struct{})
	}
	c.rooms[roomID] = struct{}{}
}

func (h *Hub) Unsubscribe(connID, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set := h.rooms[roomID]; set != nil {
		delete(set, connID)
		if len(set) == 0 {
			delete(h.rooms, roomID)
		}
	}
	if c, ok := h.clients[connID]; ok {
		delete(c.rooms, roomID)
	}
}

// CloseRoom drops the room channel. Connections stay open.
func (h *Hub) CloseRoom(roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for connID := range h.rooms[roomID] {
		if c, ok := h.clients[connID]; ok {
			delete(c.rooms, roomID)
		}
	}
	delete(h.rooms, roomID)
}

// PublishRoom sends ev to every subscriber of roomID except the listed connections.
func (h *Hub) PublishRoom(roomID string, ev models.Event, except ...string) {
	data, ok := encode(ev)
	if !ok {
		return
	}
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.rooms[roomID]))
	for connID, c := range h.rooms[roomID] {
		if !slices.Contains(except, connID) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	h.deliver(targets, data)
}

func (h *Hub) SendConn(connID string, ev models.Event) {
	data, ok := encode(ev)
	if !ok {
		return
	}
	h.mu.RLock()
	c, found := h.clients[connID]
	h.mu.RUnlock()
	if found {
		h.deliver([]*Client{c}, data)
	}
}

// PublishAll queues ev for every connection. A full queue drops the event.
func (h *Hub) PublishAll(ev models.Event) {
	data, ok := encode(ev)
	if !ok {
		return
	}
	select {
	case h.broadcast <- data:
	case <-h.done:
	default:
		log.Warn().Str("event", ev.Type).Msg("[hub] global queue full, event dropped")
	}
}

// Connections reports the number of live connections and of room channels.
func (h *Hub) Connections() (clients, rooms int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients), len(h.rooms)
}

// RoomListeners counts the connections subscribed to roomID.
func (h *Hub) RoomListeners(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// deliver enqueues data on each client; clients whose buffer is full are
// disconnected.
func (h *Hub) deliver(targets []*Client, data []byte) {
	var slow []*Client
	for _, c := range targets {
		if !c.enqueue(data) {
			slow = append(slow, c)
		}
	}
	if len(slow) == 0 {
		return
	}
	h.mu.Lock()
	for _, c := range slow {
		if h.removeLocked(c) {
			log.Warn().Str("conn", c.ConnID).Str("user", c.UserID).Msg("[hub] slow client dropped")
		}
	}
	h.mu.Unlock()
}

func encode(ev models.Event) ([]byte, bool) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("event", ev.Type).Msg("[hub] failed to encode event")
		return nil, false
	}
	return data, true
}
