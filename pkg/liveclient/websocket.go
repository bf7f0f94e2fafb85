package liveclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"pulse-api/internal/domain"

	"github.com/gorilla/websocket"
)

// wire format of the realtime endpoint
type clientMessage struct {
	Action     string `json:"action"`
	QuestionID string `json:"questionId,omitempty"`
}

type serverMessage struct {
	Type       string          `json:"type"`
	QuestionID string          `json:"questionId,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// WebsocketTransport subscribes through the server's websocket endpoint
type WebsocketTransport struct {
	URL        string
	VoterToken string
	Dialer     *websocket.Dialer
}

// Connect dials, subscribes to the question and waits for confirmation
func (t *WebsocketTransport) Connect(ctx context.Context, questionID string) (Stream, error) {
	dialer := t.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	header := http.Header{}
	if t.VoterToken != "" {
		header.Set("X-Voter-Token", t.VoterToken)
	}

	conn, _, err := dialer.DialContext(ctx, t.URL, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", t.URL, err)
	}
	stream := &wsStream{conn: conn, questionID: questionID}

	if err := conn.WriteJSON(clientMessage{Action: "subscribe", QuestionID: questionID}); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	msg, err := stream.read(ctx)
	if err != nil {
		_ = stream.Close()
		return nil, err
	}
	if msg.Type != "subscribed" {
		_ = stream.Close()
		return nil, fmt.Errorf("subscribe rejected: %s", msg.Payload)
	}
	return stream, nil
}

type wsStream struct {
	conn       *websocket.Conn
	questionID string
	closeOnce  sync.Once
}

func (s *wsStream) read(ctx context.Context) (*serverMessage, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	_ = s.conn.SetReadDeadline(deadline)

	// unblock the read when ctx ends
	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	var msg serverMessage
	if err := s.conn.ReadJSON(&msg); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrStreamClosed, err)
	}
	return &msg, nil
}

// Next skips control messages and snapshots of other questions
func (s *wsStream) Next(ctx context.Context) (*domain.AggregateSnapshot, error) {
	for {
		msg, err := s.read(ctx)
		if err != nil {
			return nil, err
		}
		if msg.Type != "snapshot" || msg.QuestionID != s.questionID {
			continue
		}
		var snap domain.AggregateSnapshot
		if err := json.Unmarshal(msg.Payload, &snap); err != nil {
			return nil, fmt.Errorf("decode snapshot: %w", err)
		}
		return &snap, nil
	}
}

func (s *wsStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = s.conn.Close()
	})
	return err
}
