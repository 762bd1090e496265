package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/tanvir/relaychat/internal/identity"
	"github.com/tanvir/relaychat/internal/model"
	"github.com/tanvir/relaychat/internal/repository"
)

// compile-time check that *DB implements repository.MessageRepository
var _ repository.MessageRepository = (*DB)(nil)

// Append persists a new message and returns the full record with the
// generated ID and timestamp. The router relies on this completing before
// any delivery is attempted.
func (db *DB) Append(ctx context.Context, senderID, recipientID, content string) (*model.Message, error) {
	msg := &model.Message{
		ID:          xid.New().String(),
		SenderID:    identity.Normalize(senderID),
		RecipientID: identity.Normalize(recipientID),
		Content:     content,
		Read:        false,
		CreatedAt:   time.Now().UTC(),
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO messages (id, sender_id, recipient_id, content, read, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID,
		msg.SenderID,
		msg.RecipientID,
		msg.Content,
		msg.Read,
		msg.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: inserting message: %w", err)
	}
	return msg, nil
}

// FetchConversation returns the newest page of messages exchanged between a
// and b before the given time, oldest first. limit must be positive; the
// service layer clamps it.
func (db *DB) FetchConversation(ctx context.Context, a, b string, before time.Time, limit int) ([]model.Message, error) {
	a, b = identity.Normalize(a), identity.Normalize(b)

	// The inner query selects the newest `limit` rows; the outer one flips
	// them back into chronological order for display.
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, sender_id, recipient_id, content, read, created_at FROM (
			SELECT id, sender_id, recipient_id, content, read, created_at
			FROM messages
			WHERE ((sender_id = ? AND recipient_id = ?)
			    OR (sender_id = ? AND recipient_id = ?))
			  AND created_at < ?
			ORDER BY created_at DESC
			LIMIT ?
		) ORDER BY created_at ASC`,
		a, b, b, a, before, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: fetching conversation %s/%s: %w", a, b, err)
	}
	defer rows.Close()

	var messages []model.Message
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.Content, &m.Read, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scanning message row: %w", err)
		}
		m.SenderID = identity.Normalize(m.SenderID)
		m.RecipientID = identity.Normalize(m.RecipientID)
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating message rows: %w", err)
	}
	return messages, nil
}

// MarkRead flips the read flag on a single message. The recipient condition
// means a user can only acknowledge messages addressed to them; a mismatched
// call silently updates nothing.
func (db *DB) MarkRead(ctx context.Context, messageID, recipientID string) error {
	_, err := db.conn.ExecContext(ctx,
		`UPDATE messages SET read = 1 WHERE id = ? AND recipient_id = ?`,
		messageID, identity.Normalize(recipientID),
	)
	if err != nil {
		return fmt.Errorf("sqlite: marking message %s read: %w", messageID, err)
	}
	return nil
}

// MarkConversationRead marks every unread message from senderID to
// recipientID as read. Called when the recipient fetches the conversation.
func (db *DB) MarkConversationRead(ctx context.Context, senderID, recipientID string) error {
	_, err := db.conn.ExecContext(ctx,
		`UPDATE messages SET read = 1
		 WHERE sender_id = ? AND recipient_id = ? AND read = 0`,
		identity.Normalize(senderID), identity.Normalize(recipientID),
	)
	if err != nil {
		return fmt.Errorf("sqlite: marking conversation read: %w", err)
	}
	return nil
}
