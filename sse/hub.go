package sse

import (
	"path/filepath"
	"sort"
	"sync"

	"github.com/kbukum/devflow/logger"
)

const (
	clientBuffer    = 256
	broadcastBuffer = 1024
)

// Client is a connected SSE client.
type Client struct {
	id        string
	metadata  map[string]string
	events    chan Frame
	onConnect func() []Frame
	log       *logger.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithMetadata adds a metadata key-value pair to the client.
func WithMetadata(key, value string) ClientOption {
	return func(c *Client) {
		c.metadata[key] = value
	}
}

// WithOnConnect sets frames written right after the connected event. fn
// runs once the client is registered, so nothing published later is
// missed.
func WithOnConnect(fn func() []Frame) ClientOption {
	return func(c *Client) { c.onConnect = fn }
}

// NewClient creates a client with a buffered event channel.
func NewClient(id string, opts ...ClientOption) *Client {
	c := &Client{
		id:       id,
		metadata: make(map[string]string),
		events:   make(chan Frame, clientBuffer),
		log:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ID returns the client id.
func (c *Client) ID() string { return c.id }

// Metadata returns the client metadata.
func (c *Client) Metadata() map[string]string { return c.metadata }

// Events returns the channel frames arrive on. It is closed when the
// client is unregistered.
func (c *Client) Events() <-chan Frame { return c.events }

// Send queues f. It returns false when the client is too slow and the
// frame was dropped.
func (c *Client) Send(f Frame) bool {
	select {
	case c.events <- f:
		return true
	default:
		c.log.Warn("client channel full, dropping frame", map[string]interface{}{"client_id": c.id})
		return false
	}
}

// Close closes the event channel.
func (c *Client) Close() {
	close(c.events)
}

// message is a unit of work for the hub loop.
type message struct {
	pattern string
	frame   Frame
	close   bool
}

// Hub owns the client set. Registration and delivery happen on the Run
// goroutine; lookups take a read lock.
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan message
	done       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex
	log        *logger.Logger
}

// NewHub creates a hub. Call Run before registering clients.
func NewHub(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.Nop()
	}
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan message, broadcastBuffer),
		done:       make(chan struct{}),
		log:        log.WithComponent("sse-hub"),
	}
}

// Run processes registrations and broadcasts until Stop.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.closeAllClients()
			return

		case client := <-h.register:
			client.log = h.log
			h.mu.Lock()
			if old, ok := h.clients[client.id]; ok {
				old.Close()
			}
			h.clients[client.id] = client
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("client registered", map[string]interface{}{"client_id": client.id, "total_clients": total})

		case client := <-h.unregister:
			h.remove(client)

		case msg := <-h.broadcast:
			if msg.close {
				h.closePattern(msg.pattern)
			} else {
				h.deliver(msg.pattern, msg.frame)
			}
		}
	}
}

// Stop ends Run and closes every client. Safe to call more than once.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Register adds client. It returns false if the hub is stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes client and closes its channel.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// BroadcastToPattern implements Broadcaster.
func (h *Hub) BroadcastToPattern(pattern string, f Frame) {
	select {
	case h.broadcast <- message{pattern: pattern, frame: f}:
	default:
		h.log.Warn("broadcast queue full, dropping frame", map[string]interface{}{"pattern": pattern, "event": f.Event})
	}
}

// ClosePattern implements Broadcaster.
func (h *Hub) ClosePattern(pattern string) {
	select {
	case h.broadcast <- message{pattern: pattern, close: true}:
	case <-h.done:
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ClientIDs returns the connected client ids, sorted.
func (h *Hub) ClientIDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// remove deletes client only if it is still the registered instance.
func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.clients[client.id]; ok && cur == client {
		delete(h.clients, client.id)
		client.Close()
		h.log.Debug("client unregistered", map[string]interface{}{"client_id": client.id, "total_clients": len(h.clients)})
	}
}

func (h *Hub) deliver(pattern string, f Frame) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := 0
	for id, client := range h.clients {
		matched, err := filepath.Match(pattern, id)
		if err != nil {
			h.log.Error("pattern match error", map[string]interface{}{"pattern": pattern, "error": err.Error()})
			return
		}
		if matched && client.Send(f) {
			sent++
		}
	}
	if sent > 0 {
		h.log.Debug("broadcast sent", map[string]interface{}{"pattern": pattern, "event": f.Event, "match_count": sent})
	}
}

func (h *Hub) closePattern(pattern string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, client := range h.clients {
		if matched, _ := filepath.Match(pattern, id); matched {
			delete(h.clients, id)
			client.Close()
		}
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, client := range h.clients {
		client.Close()
		delete(h.clients, id)
	}
	h.log.Debug("all clients closed during shutdown")
}

var _ Broadcaster = (*Hub)(nil)
