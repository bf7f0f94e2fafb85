package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"pulse-api/internal/domain"
	"pulse-api/internal/middleware"
	"pulse-api/pkg/logger"

	"github.com/gorilla/websocket"
)

const (
	maxClientMessage = 1024
	initialLoadWait  = 3 * time.Second
)

// SnapshotSource provides the state sent right after a subscription so a
// client is current before the first push arrives.
type SnapshotSource interface {
	Snapshot(ctx context.Context, questionID string) (*domain.AggregateSnapshot, error)
	GlobalSnapshot(ctx context.Context, includeDaily bool) (*domain.GlobalStats, error)
}

// Handler upgrades subscription requests to websockets
type Handler struct {
	hub      *Hub
	source   SnapshotSource
	upgrader websocket.Upgrader
	logger   *logger.Logger
}

// NewHandler creates a new websocket handler
func NewHandler(hub *Hub, source SnapshotSource, allowedOrigins []string, log *logger.Logger) *Handler {
	return &Handler{
		hub:    hub,
		source: source,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || middleware.OriginAllowed(allowedOrigins, origin)
			},
		},
		logger: log.Named("realtime"),
	}
}

// ServeHTTP handles GET /api/v1/ws
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Debug("Websocket upgrade failed")
		return
	}

	client := NewClient(conn)
	log := h.logger.WithFields(map[string]interface{}{
		"client_id":   client.ID,
		"remote_addr": r.RemoteAddr,
	})
	h.hub.Register(client)
	log.Debug("Subscriber connected")

	ctx, cancel := context.WithCancel(r.Context())
	done := make(chan struct{})
	defer func() {
		// The connection is hijacked, so chi's Recoverer cannot answer for us.
		if rec := recover(); rec != nil {
			log.WithField("panic", fmt.Sprint(rec)).Error("Subscriber handler panicked")
		}
		cancel()
		h.hub.Unregister(client)
		<-done
		log.Debug("Subscriber disconnected")
	}()

	go func() {
		defer close(done)
		if err := client.WriteLoop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Debug("Websocket write ended")
		}
		cancel()
	}()

	h.readLoop(ctx, client, log)
}

func (h *Handler) readLoop(ctx context.Context, client *Client, log *logger.Logger) {
	conn := client.Conn
	conn.SetReadLimit(maxClientMessage)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for ctx.Err() == nil {
		var msg ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.WithError(err).Debug("Websocket read failed")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		h.handleMessage(ctx, client, msg)
	}
}

func (h *Handler) handleMessage(ctx context.Context, client *Client, msg ClientMessage) {
	switch msg.Action {
	case ActionSubscribe:
		if msg.QuestionID == "" {
			h.send(client, errorMessage("questionId is required"))
			return
		}
		snap, err := h.loadSnapshot(ctx, msg.QuestionID)
		if err != nil {
			if errors.Is(err, domain.ErrQuestionNotFound) {
				h.send(client, errorMessage("unknown question: "+msg.QuestionID))
				return
			}
			// the subscription still stands; the first push fills it in
			h.logger.WithError(err).WithField("question_id", msg.QuestionID).Warn("Initial snapshot unavailable")
		}
		h.hub.Subscribe(client, QuestionTopic(msg.QuestionID))
		h.send(client, ServerMessage{Type: TypeSubscribed, QuestionID: msg.QuestionID})
		if snap != nil {
			h.send(client, ServerMessage{Type: TypeSnapshot, QuestionID: snap.QuestionID, Payload: snap})
		}

	case ActionUnsubscribe:
		if msg.QuestionID == "" {
			h.send(client, errorMessage("questionId is required"))
			return
		}
		h.hub.Unsubscribe(client, QuestionTopic(msg.QuestionID))
		h.send(client, ServerMessage{Type: TypeUnsubscribed, QuestionID: msg.QuestionID})

	case ActionSubscribeGlobal:
		h.hub.Subscribe(client, GlobalTopic)
		h.send(client, ServerMessage{Type: TypeSubscribed, Payload: map[string]string{"topic": GlobalTopic}})
		loadCtx, cancel := context.WithTimeout(ctx, initialLoadWait)
		stats, err := h.source.GlobalSnapshot(loadCtx, true)
		cancel()
		if err != nil {
			h.logger.WithError(err).Warn("Initial global stats unavailable")
			return
		}
		h.send(client, ServerMessage{Type: TypeGlobal, Payload: stats})

	case ActionUnsubscribeGlobal:
		h.hub.Unsubscribe(client, GlobalTopic)
		h.send(client, ServerMessage{Type: TypeUnsubscribed, Payload: map[string]string{"topic": GlobalTopic}})

	default:
		h.send(client, errorMessage("unknown action: "+msg.Action))
	}
}

func (h *Handler) loadSnapshot(ctx context.Context, questionID string) (*domain.AggregateSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, initialLoadWait)
	defer cancel()
	return h.source.Snapshot(ctx, questionID)
}

func (h *Handler) send(client *Client, msg ServerMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.WithError(err).Error("Failed to encode websocket message")
		return
	}
	client.SendMessage(payload)
}
