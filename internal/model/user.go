// Package model defines the data structures used throughout the application.
package model

import "time"

// User represents a registered account.
//
// ID is the canonical identity string used everywhere in the realtime core —
// as the registry key, in presence payloads, and as a message's sender and
// recipient. It is generated by the repository (an xid) and is the only
// representation of a user identity the core accepts.
//
// PasswordHash carries the bcrypt hash and must never leave the server; the
// `json:"-"` tag guarantees it cannot leak through any handler or event.
type User struct {
	ID           string    `json:"id"        db:"id"`
	Username     string    `json:"username"  db:"username"`
	Email        string    `json:"email"     db:"email"`
	PasswordHash string    `json:"-"         db:"password_hash"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
}
