package model

import "time"

// Message is an immutable direct message between two users.
//
// The repository generates ID and CreatedAt on append. Read is the only
// mutable field and only flips false→true, and only for the recipient.
// Messages are never deleted.
type Message struct {
	ID          string    `json:"id"          db:"id"`
	SenderID    string    `json:"senderId"    db:"sender_id"`
	RecipientID string    `json:"recipientId" db:"recipient_id"`
	Content     string    `json:"content"     db:"content"`
	Read        bool      `json:"read"        db:"read"`
	CreatedAt   time.Time `json:"createdAt"   db:"created_at"`
}
