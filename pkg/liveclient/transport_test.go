package liveclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"pulse-api/internal/domain"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pushServer(t *testing.T, frames ...string) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.QuestionID == "missing" {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"error","payload":{"message":"unknown question"}}`))
			return
		}
		_ = conn.WriteJSON(serverMessage{Type: "subscribed", QuestionID: msg.QuestionID})
		for _, f := range frames {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(f))
		}
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebsocketTransport_StreamsQuestionSnapshots(t *testing.T) {
	url := pushServer(t,
		`{"type":"global","payload":{"total_votes":10}}`,
		`{"type":"snapshot","questionId":"other","payload":{"question_id":"other","total_votes":7}}`,
		`{"type":"snapshot","questionId":"q1","payload":{"question_id":"q1","total_votes":2}}`,
	)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	stream, err := (&WebsocketTransport{URL: url}).Connect(ctx, "q1")
	require.NoError(t, err)
	defer stream.Close()

	snap, err := stream.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "q1", snap.QuestionID)
	assert.Equal(t, 2, snap.TotalVotes)

	_, err = stream.Next(ctx)
	assert.ErrorIs(t, err, ErrStreamClosed)
}

func TestWebsocketTransport_RejectedSubscription(t *testing.T) {
	url := pushServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := (&WebsocketTransport{URL: url}).Connect(ctx, "missing")
	assert.Error(t, err)
}

func TestHTTPPoller_RevalidatesWithETag(t *testing.T) {
	var hits, notModified atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/api/v1/questions/q1/stats", r.URL.Path)
		if r.Header.Get("If-None-Match") == `"v1"` {
			notModified.Add(1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_ = json.NewEncoder(w).Encode(domain.AggregateSnapshot{QuestionID: "q1", TotalVotes: 3})
	}))
	defer srv.Close()

	poller := NewHTTPPoller(srv.URL+"/", srv.Client())
	ctx := context.Background()

	first, err := poller.Fetch(ctx, "q1")
	require.NoError(t, err)
	second, err := poller.Fetch(ctx, "q1")
	require.NoError(t, err)

	assert.Equal(t, 3, first.TotalVotes)
	assert.Equal(t, first, second)
	assert.EqualValues(t, 2, hits.Load())
	assert.EqualValues(t, 1, notModified.Load())
}

func TestHTTPPoller_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPPoller(srv.URL, nil).Fetch(context.Background(), "q1")
	assert.Error(t, err)
}
