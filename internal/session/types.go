package session

import (
	"time"

	"github.com/ent0n29/curator/internal/conversation"
	"github.com/ent0n29/curator/internal/turn"
)

// CreateRequest defines payload for creating a new session.
type CreateRequest struct {
	UserID string `json:"user_id"`
}

// CreateResponse returns created session metadata and the opening greeting.
type CreateResponse struct {
	SessionID       string            `json:"session_id"`
	UserID          string            `json:"user_id"`
	Status          Status            `json:"status"`
	PersonaID       string            `json:"persona_id"`
	Greeting        conversation.Turn `json:"greeting"`
	StartedAt       time.Time         `json:"started_at"`
	LastActivityAt  time.Time         `json:"last_activity_at"`
	InactivityTTLMS int64             `json:"inactivity_ttl_ms"`
}

// SendRequest carries one user message.
type SendRequest struct {
	Text string `json:"text"`
}

// SendResponse reports the result of one dispatch cycle.
type SendResponse struct {
	SessionID  string             `json:"session_id"`
	Phase      turn.Phase         `json:"phase"`
	UserTurn   conversation.Turn  `json:"user_turn"`
	Reply      *conversation.Turn `json:"reply,omitempty"`
	Diagnostic *turn.Diagnostic   `json:"diagnostic,omitempty"`
	TurnCount  int                `json:"turn_count"`
}

// TranscriptResponse lists every turn of a session in order.
type TranscriptResponse struct {
	SessionID string              `json:"session_id"`
	Status    Status              `json:"status"`
	Turns     []conversation.Turn `json:"turns"`
}
