// Package repository declares the storage interfaces consumed by the service
// layer and the realtime core. The sqlite subpackage implements them; tests
// substitute in-memory fakes.
package repository

import (
	"context"
	"time"

	"github.com/tanvir/relaychat/internal/model"
)

type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	// ListExcept returns every user except the given one, sorted by username.
	ListExcept(ctx context.Context, id string) ([]model.User, error)
	Exists(ctx context.Context, id string) (bool, error)
}

type MessageRepository interface {
	// Append persists a new message, generating its ID and timestamp.
	Append(ctx context.Context, senderID, recipientID, content string) (*model.Message, error)
	// FetchConversation returns messages exchanged between a and b (either
	// direction) created strictly before the given time, oldest first,
	// at most limit entries (the newest such page).
	FetchConversation(ctx context.Context, a, b string, before time.Time, limit int) ([]model.Message, error)
	// MarkRead sets read=true on one message, but only if recipientID is
	// its recipient.
	MarkRead(ctx context.Context, messageID, recipientID string) error
	// MarkConversationRead sets read=true on every unread message from
	// senderID to recipientID.
	MarkConversationRead(ctx context.Context, senderID, recipientID string) error
}
