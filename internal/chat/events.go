// Package chat is the presence-tracking and message-routing core.
//
// It owns the three server-side components with real concurrency concerns:
// the connection registry (the single synchronization point mapping canonical
// user identities to live connections), the presence broadcaster, and the
// message router / typing relay. The websocket transport and the HTTP layer
// depend on this package; it depends only on the repositories and models.
package chat

import (
	"encoding/json"
	"time"

	"github.com/tanvir/relaychat/internal/identity"
	"github.com/tanvir/relaychat/internal/model"
)

// Event names exchanged over the per-connection duplex channel.
const (
	// server → client
	EventPresenceSnapshot = "users:online"
	EventUserOnline       = "user:online"
	EventUserOffline      = "user:offline"
	EventMessageSent      = "message:sent"
	EventMessageReceived  = "message:received"
	EventMessageError     = "message:error"
	EventTypingStarted    = "typing:started"
	EventTypingStopped    = "typing:stopped"
	EventUserRegistered   = "user:registered"

	// client → server
	EventMessageSend = "message:send"
	EventMessageRead = "message:read"
	EventTypingStart = "typing:start"
	EventTypingStop  = "typing:stop"
)

// Envelope is the wire frame: a named event plus its JSON payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals payload into an Envelope.
func NewEnvelope(event string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Data: data}, nil
}

// PresenceSnapshot seeds a newly connected client with the full set of
// online identities, excluding its own.
type PresenceSnapshot struct {
	UserIDs []string `json:"userIds"`
}

// PresenceChange reports one identity coming online or going offline.
type PresenceChange struct {
	UserID identity.ID `json:"userId"`
}

// SendMessage is the client request to deliver a message.
type SendMessage struct {
	RecipientID identity.ID `json:"recipientId"`
	Content     string      `json:"content"`
}

// ReadReceipt acknowledges one message as read by its recipient.
type ReadReceipt struct {
	MessageID string `json:"messageId"`
}

// Typing is the client request to relay a typing signal.
type Typing struct {
	RecipientID identity.ID `json:"recipientId"`
}

// TypingChange notifies the recipient that a peer started or stopped typing.
type TypingChange struct {
	UserID   identity.ID `json:"userId"`
	Username string      `json:"username,omitempty"`
}

// MessageError reports a failed send back to the originating connection.
type MessageError struct {
	Error string `json:"error"`
}

// RegisteredUser announces a freshly signed-up account to live connections
// so chat lists update without a refetch.
type RegisteredUser struct {
	User *model.User `json:"user"`
}

// MessagePayload is the wire form of a persisted message. Identifier fields
// use identity.ID so a receiving reconciler normalizes them on decode
// regardless of representation.
type MessagePayload struct {
	ID          string      `json:"id"`
	SenderID    identity.ID `json:"senderId"`
	RecipientID identity.ID `json:"recipientId"`
	Content     string      `json:"content"`
	Read        bool        `json:"read"`
	CreatedAt   time.Time   `json:"createdAt"`
}

// PayloadFromMessage converts a stored message to its wire form.
func PayloadFromMessage(m *model.Message) MessagePayload {
	return MessagePayload{
		ID:          m.ID,
		SenderID:    identity.ID(m.SenderID),
		RecipientID: identity.ID(m.RecipientID),
		Content:     m.Content,
		Read:        m.Read,
		CreatedAt:   m.CreatedAt,
	}
}
