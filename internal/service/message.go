package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tanvir/relaychat/internal/apperror"
	"github.com/tanvir/relaychat/internal/identity"
	"github.com/tanvir/relaychat/internal/model"
	"github.com/tanvir/relaychat/internal/repository"
)

const (
	DefaultConversationLimit = 50
	MaxConversationLimit     = 100
)

// MessageService serves conversation history over REST. Realtime sends go
// through chat.Router instead; this service only reads back what the router
// persisted.
type MessageService struct {
	users    repository.UserRepository
	messages repository.MessageRepository
	logger   *slog.Logger
}

func NewMessageService(
	users repository.UserRepository,
	messages repository.MessageRepository,
	logger *slog.Logger,
) *MessageService {
	return &MessageService{
		users:    users,
		messages: messages,
		logger:   logger,
	}
}

// Conversation returns a page of the conversation between userID and peerID,
// oldest first. Fetching has a side effect: every unread message the peer
// sent to the caller is marked read, since the caller is about to see it.
func (s *MessageService) Conversation(ctx context.Context, userID, peerID string, before time.Time, limit int) ([]model.Message, error) {
	userID = identity.Normalize(userID)
	peerID = identity.Normalize(peerID)

	exists, err := s.users.Exists(ctx, peerID)
	if err != nil {
		return nil, fmt.Errorf("service/message: checking peer %s: %w", peerID, err)
	}
	if !exists {
		return nil, apperror.NotFound("recipient", peerID)
	}

	if limit <= 0 {
		limit = DefaultConversationLimit
	}
	if limit > MaxConversationLimit {
		limit = MaxConversationLimit
	}
	if before.IsZero() {
		before = time.Now().UTC()
	}

	messages, err := s.messages.FetchConversation(ctx, userID, peerID, before, limit)
	if err != nil {
		return nil, fmt.Errorf("service/message: fetching conversation: %w", err)
	}

	if err := s.messages.MarkConversationRead(ctx, peerID, userID); err != nil {
		// The page itself is fine; a failed read-marking only delays the
		// unread count correction until the next fetch.
		s.logger.Warn("marking conversation read failed",
			slog.String("userID", userID),
			slog.String("peerID", peerID),
			slog.String("error", err.Error()),
		)
	}

	return messages, nil
}
