package realtime

import "sync"

// Hub tracks connected clients and the topics they watch
type Hub struct {
	mu sync.RWMutex

	clients map[string]*Client
	topics  map[string]map[*Client]struct{}
}

// NewHub creates a new hub
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		topics:  make(map[string]map[*Client]struct{}),
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	h.clients[client.ID] = client
	h.mu.Unlock()
}

// Unregister removes a client with all its subscriptions and closes its
// send queue. Calling it twice is a no-op.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	for _, topic := range client.Topics() {
		h.removeLocked(client, topic)
	}
	delete(h.clients, client.ID)
	close(client.Send)
}

// Subscribe adds the client to a topic
func (h *Hub) Subscribe(client *Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[*Client]struct{})
		h.topics[topic] = subs
	}
	subs[client] = struct{}{}
	client.track(topic, true)
}

// Unsubscribe removes the client from a topic
func (h *Hub) Unsubscribe(client *Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(client, topic)
}

func (h *Hub) removeLocked(client *Client, topic string) {
	if subs, ok := h.topics[topic]; ok {
		delete(subs, client)
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
	client.track(topic, false)
}

// Broadcast queues payload for every subscriber of topic without blocking.
// It returns how many clients accepted it.
func (h *Hub) Broadcast(topic string, payload []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for c := range h.topics[topic] {
		if c.SendMessage(payload) {
			delivered++
		}
	}
	return delivered
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SubscriberCount returns the number of subscribers of a topic
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}
