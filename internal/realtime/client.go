package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	sendQueue    = 64
)

// Client is one websocket connection
type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte

	mu     sync.RWMutex
	topics map[string]bool
}

// NewClient wraps an upgraded connection
func NewClient(conn *websocket.Conn) *Client {
	return &Client{
		ID:     uuid.NewString(),
		Conn:   conn,
		Send:   make(chan []byte, sendQueue),
		topics: make(map[string]bool),
	}
}

func (c *Client) track(topic string, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if on {
		c.topics[topic] = true
	} else {
		delete(c.topics, topic)
	}
}

// IsSubscribed reports whether the client watches topic
func (c *Client) IsSubscribed(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.topics[topic]
}

// Topics returns a copy of the watched topics
func (c *Client) Topics() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.topics))
	for t := range c.topics {
		out = append(out, t)
	}
	return out
}

// SendMessage queues msg without blocking. A full queue drops the message;
// the next snapshot supersedes it anyway.
func (c *Client) SendMessage(msg []byte) bool {
	select {
	case c.Send <- msg:
		return true
	default:
		return false
	}
}

// WriteLoop writes queued messages and keep-alive pings until the queue is
// closed, a write fails or ctx ends. It closes the connection on exit.
func (c *Client) WriteLoop(ctx context.Context) error {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			_ = c.Conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return ctx.Err()
		case msg, ok := <-c.Send:
			if !ok {
				_ = c.Conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeWait))
				return nil
			}
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return err
			}
		case <-ticker.C:
			if err := c.Conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return err
			}
		}
	}
}
