package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tanvir/relaychat/internal/apperror"
	"github.com/tanvir/relaychat/internal/identity"
	"github.com/tanvir/relaychat/internal/model"
	"github.com/tanvir/relaychat/internal/repository"
)

// MaxMessageLength bounds message content, in runes.
const MaxMessageLength = 1000

// Router validates, persists, and delivers direct messages, and relays
// ephemeral typing signals. It is stateless; the registry and repositories
// carry all state.
//
// Per-connection ordering: the transport invokes Send from each connection's
// read loop, one event at a time, so for a single sender→recipient pair
// delivery order matches persistence order. No ordering is guaranteed across
// different pairs.
type Router struct {
	registry *Registry
	users    repository.UserRepository
	messages repository.MessageRepository
	logger   *slog.Logger
}

func NewRouter(
	registry *Registry,
	users repository.UserRepository,
	messages repository.MessageRepository,
	logger *slog.Logger,
) *Router {
	return &Router{
		registry: registry,
		users:    users,
		messages: messages,
		logger:   logger,
	}
}

// Send validates and persists a message, acknowledges it to the sender, and
// delivers it to the recipient if online.
//
// The order is strict: persist, then message:sent to the sender, then
// message:received to the recipient. Persisting first means a client is never
// notified of a message that does not durably exist. An offline recipient
// discovers the message on its next conversation fetch; no realtime retry is
// queued.
//
// Validation failures return apperror values for the transport to report to
// the originating connection only.
func (rt *Router) Send(ctx context.Context, senderID, recipientID, rawContent string) (*model.Message, error) {
	senderID = identity.Normalize(senderID)
	recipientID = identity.Normalize(recipientID)

	content := strings.TrimSpace(rawContent)
	if recipientID == "" || content == "" {
		return nil, apperror.ValidationFailed("content", "invalid message data")
	}
	if len([]rune(content)) > MaxMessageLength {
		return nil, apperror.ValidationFailed("content",
			fmt.Sprintf("message too long (max %d characters)", MaxMessageLength))
	}

	exists, err := rt.users.Exists(ctx, recipientID)
	if err != nil {
		return nil, fmt.Errorf("chat: checking recipient %s: %w", recipientID, err)
	}
	if !exists {
		return nil, apperror.NotFound("recipient", recipientID)
	}

	msg, err := rt.messages.Append(ctx, senderID, recipientID, content)
	if err != nil {
		return nil, fmt.Errorf("chat: persisting message from %s to %s: %w", senderID, recipientID, err)
	}

	payload := PayloadFromMessage(msg)

	// Ack to the sender confirms persistence, delivered whether or not the
	// recipient is reachable.
	if sender, ok := rt.registry.Lookup(senderID); ok {
		if err := sender.Send(EventMessageSent, payload); err != nil {
			rt.logger.Warn("message ack dropped",
				slog.String("messageID", msg.ID),
				slog.String("senderID", senderID),
			)
		}
	}

	if recipient, ok := rt.registry.Lookup(recipientID); ok {
		if err := recipient.Send(EventMessageReceived, payload); err != nil {
			rt.logger.Warn("realtime delivery dropped",
				slog.String("messageID", msg.ID),
				slog.String("recipientID", recipientID),
			)
		}
	}

	rt.logger.Info("message routed",
		slog.String("messageID", msg.ID),
		slog.String("senderID", senderID),
		slog.String("recipientID", recipientID),
	)

	return msg, nil
}

// MarkRead records a read acknowledgment from readerID. The repository
// condition scopes the update to messages whose recipient is the reader, so
// a forged acknowledgment for someone else's message updates nothing.
func (rt *Router) MarkRead(ctx context.Context, readerID, messageID string) error {
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return apperror.ValidationFailed("messageId", "message ID is required")
	}
	if err := rt.messages.MarkRead(ctx, messageID, identity.Normalize(readerID)); err != nil {
		return fmt.Errorf("chat: marking message %s read: %w", messageID, err)
	}
	return nil
}

// TypingStart forwards a typing-started signal to the recipient if online.
// Typing signals are best-effort: no error, no persistence, no queueing.
func (rt *Router) TypingStart(senderID, senderName, recipientID string) {
	rt.relayTyping(EventTypingStarted, senderID, senderName, recipientID)
}

// TypingStop forwards a typing-stopped signal to the recipient if online.
func (rt *Router) TypingStop(senderID, recipientID string) {
	rt.relayTyping(EventTypingStopped, senderID, "", recipientID)
}

func (rt *Router) relayTyping(event, senderID, senderName, recipientID string) {
	recipient, ok := rt.registry.Lookup(recipientID)
	if !ok {
		return
	}
	_ = recipient.Send(event, TypingChange{
		UserID:   identity.ID(identity.Normalize(senderID)),
		Username: senderName,
	})
}
