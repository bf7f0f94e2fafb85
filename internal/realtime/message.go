// Package realtime pushes aggregate snapshots to websocket subscribers.
//
// Protocol:
//
//	client: {"action": "subscribe", "questionId": "q1"}
//	client: {"action": "unsubscribe", "questionId": "q1"}
//	client: {"action": "subscribe_global"}
//	server: {"type": "snapshot", "questionId": "q1", "payload": {...}}
//	server: {"type": "global", "payload": {...}}
//	server: {"type": "subscribed" | "unsubscribed" | "error", ...}
package realtime

import "strings"

// Client actions
const (
	ActionSubscribe         = "subscribe"
	ActionUnsubscribe       = "unsubscribe"
	ActionSubscribeGlobal   = "subscribe_global"
	ActionUnsubscribeGlobal = "unsubscribe_global"
)

// Server message types
const (
	TypeSnapshot     = "snapshot"
	TypeGlobal       = "global"
	TypeSubscribed   = "subscribed"
	TypeUnsubscribed = "unsubscribed"
	TypeError        = "error"
)

// GlobalTopic carries community-wide counters
const GlobalTopic = "global"

const questionTopicPrefix = "question:"

// ClientMessage is sent by subscribers
type ClientMessage struct {
	Action     string `json:"action"`
	QuestionID string `json:"questionId,omitempty"`
}

// ServerMessage is pushed to subscribers
type ServerMessage struct {
	Type       string      `json:"type"`
	QuestionID string      `json:"questionId,omitempty"`
	Payload    interface{} `json:"payload,omitempty"`
}

// QuestionTopic is the hub topic for one question's snapshots
func QuestionTopic(questionID string) string {
	return questionTopicPrefix + questionID
}

// questionFromTopic returns the question id of a question topic
func questionFromTopic(topic string) (string, bool) {
	if !strings.HasPrefix(topic, questionTopicPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(topic, questionTopicPrefix)
	return id, id != ""
}

func errorMessage(msg string) ServerMessage {
	return ServerMessage{Type: TypeError, Payload: map[string]string{"message": msg}}
}
