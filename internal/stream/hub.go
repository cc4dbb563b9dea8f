package stream

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/discode/bridge/internal/common/logger"
)

// client represents one connected UI client. Grounded on the teacher's
// websocket.Client send-buffer shape, generalized to a bare net.Conn
// writer instead of a *websocket.Conn.
type client struct {
	id   string
	send chan []byte

	mu        sync.Mutex
	windowID  string
	lastFrame float64 // not read; writePump keeps the 50ms emit floor itself
}

func newClient() *client {
	return &client{id: uuid.NewString(), send: make(chan []byte, 64)}
}

func (c *client) subscribe(windowID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.windowID = windowID
}

func (c *client) subscription() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.windowID
}

func (c *client) trySend(data []byte) {
	select {
	case c.send <- data:
	default:
		// buffer full, drop; the dropped message is not resent to this
		// client.
	}
}

// hub fans out per-window frame/patch messages to every client subscribed
// to that window. Structurally the teacher's Hub: register/unregister
// channels plus a map-of-maps subscriber index, generalized from
// taskSubscribers (string -> clients) to windowID -> clients, which is
// exactly the same shape.
type hub struct {
	mu          sync.RWMutex
	clients     map[*client]bool
	subscribers map[string]map[*client]bool

	register   chan *client
	unregister chan *client

	log *logger.Logger
}

func newHub(log *logger.Logger) *hub {
	return &hub{
		clients:     make(map[*client]bool),
		subscribers: make(map[string]map[*client]bool),
		register:    make(chan *client),
		unregister:  make(chan *client),
		log:         log.WithFields(zap.String("component", "stream_hub")),
	}
}

func (h *hub) run(done <-chan struct{}) {
	for {
		select {
		case <-done:
			h.closeAll()
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
		case c := <-h.unregister:
			h.remove(c)
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	h.subscribers = make(map[string]map[*client]bool)
}

func (h *hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	if win := c.subscription(); win != "" {
		if set, ok := h.subscribers[win]; ok {
			delete(set, c)
			if len(set) == 0 {
				delete(h.subscribers, win)
			}
		}
	}
}

func (h *hub) subscribe(c *client, windowID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if prev := c.subscription(); prev != "" {
		if set, ok := h.subscribers[prev]; ok {
			delete(set, c)
			if len(set) == 0 {
				delete(h.subscribers, prev)
			}
		}
	}
	c.subscribe(windowID)
	if _, ok := h.subscribers[windowID]; !ok {
		h.subscribers[windowID] = make(map[*client]bool)
	}
	h.subscribers[windowID][c] = true
}

func (h *hub) subscriberCount(windowID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[windowID])
}

func (h *hub) watchedWindows() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	windows := make([]string, 0, len(h.subscribers))
	for w := range h.subscribers {
		windows = append(windows, w)
	}
	return windows
}

func (h *hub) broadcast(windowID string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.subscribers[windowID] {
		c.trySend(data)
	}
}
