// Package chatclient contains the client side of the realtime protocol: a
// websocket dialer and the Store, the local mirror that reconciles server
// events into per-conversation views.
package chatclient

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tanvir/relaychat/internal/chat"
	"github.com/tanvir/relaychat/internal/identity"
	"github.com/tanvir/relaychat/internal/model"
)

// defaultTypingExpiry is the local safety net for typing flags: a peer's
// flag clears this long after the last typing:started even if the matching
// typing:stopped never arrives.
const defaultTypingExpiry = 3 * time.Second

// Store reconciles server events into three local structures: the set of
// online identities, message buckets keyed by conversation peer, and
// per-peer typing flags.
//
// All mutation is funneled through Apply (plus the typing expiry timer,
// which shares the mutex), so readers always observe a consistent state.
// Every identifier is normalized before any membership test or map access,
// whatever representation it arrived in.
type Store struct {
	mu           sync.Mutex
	selfID       string
	typingExpiry time.Duration

	online map[string]struct{}
	// conversations buckets messages under the identity of the other
	// participant. A message lives in exactly one bucket.
	conversations map[string][]chat.MessagePayload
	// seen holds every stored message ID across all buckets; duplicate
	// deliveries are dropped, not re-inserted.
	seen map[string]struct{}

	typing    map[string]bool
	typingGen map[string]uint64

	users     []model.User
	lastError string
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithTypingExpiry overrides the local typing-flag expiry. Tests use a short
// value to avoid multi-second sleeps.
func WithTypingExpiry(d time.Duration) StoreOption {
	return func(s *Store) { s.typingExpiry = d }
}

// NewStore creates a Store for the local user identified by selfID.
func NewStore(selfID string, opts ...StoreOption) *Store {
	s := &Store{
		selfID:        identity.Normalize(selfID),
		typingExpiry:  defaultTypingExpiry,
		online:        make(map[string]struct{}),
		conversations: make(map[string][]chat.MessagePayload),
		seen:          make(map[string]struct{}),
		typing:        make(map[string]bool),
		typingGen:     make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Apply is the single entry point for inbound events. Each event performs
// one atomic update to the local structures.
func (s *Store) Apply(env chat.Envelope) error {
	switch env.Event {
	case chat.EventPresenceSnapshot:
		var p chat.PresenceSnapshot
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return fmt.Errorf("chatclient: decoding %s: %w", env.Event, err)
		}
		s.replaceOnline(p.UserIDs)

	case chat.EventUserOnline:
		var p chat.PresenceChange
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return fmt.Errorf("chatclient: decoding %s: %w", env.Event, err)
		}
		s.setOnline(p.UserID.String(), true)

	case chat.EventUserOffline:
		var p chat.PresenceChange
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return fmt.Errorf("chatclient: decoding %s: %w", env.Event, err)
		}
		s.setOnline(p.UserID.String(), false)

	case chat.EventMessageSent, chat.EventMessageReceived:
		var m chat.MessagePayload
		if err := json.Unmarshal(env.Data, &m); err != nil {
			return fmt.Errorf("chatclient: decoding %s: %w", env.Event, err)
		}
		s.addMessage(m)

	case chat.EventTypingStarted:
		var p chat.TypingChange
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return fmt.Errorf("chatclient: decoding %s: %w", env.Event, err)
		}
		s.setTyping(p.UserID.String(), true)

	case chat.EventTypingStopped:
		var p chat.TypingChange
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return fmt.Errorf("chatclient: decoding %s: %w", env.Event, err)
		}
		s.setTyping(p.UserID.String(), false)

	case chat.EventUserRegistered:
		var p chat.RegisteredUser
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return fmt.Errorf("chatclient: decoding %s: %w", env.Event, err)
		}
		if p.User != nil {
			s.addUser(*p.User)
		}

	case chat.EventMessageError:
		var p chat.MessageError
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return fmt.Errorf("chatclient: decoding %s: %w", env.Event, err)
		}
		s.mu.Lock()
		s.lastError = p.Error
		s.mu.Unlock()
	}
	return nil
}

func (s *Store) replaceOnline(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.online = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if norm := identity.Normalize(id); norm != "" {
			s.online[norm] = struct{}{}
		}
	}
}

func (s *Store) setOnline(id string, online bool) {
	id = identity.Normalize(id)
	if id == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if online {
		s.online[id] = struct{}{}
	} else {
		delete(s.online, id)
	}
}

// addMessage buckets a message under the participant that is not the local
// user and deduplicates by ID across all buckets. message:sent for a message
// from self to B lands under B; message:received from C lands under C.
func (s *Store) addMessage(m chat.MessagePayload) {
	sender := identity.Normalize(m.SenderID.String())
	recipient := identity.Normalize(m.RecipientID.String())

	var peer string
	switch s.selfID {
	case sender:
		peer = recipient
	case recipient:
		peer = sender
	default:
		// Neither participant is the local user; nothing sensible to do.
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.seen[m.ID]; dup {
		return
	}
	s.seen[m.ID] = struct{}{}
	s.conversations[peer] = append(s.conversations[peer], m)
}

func (s *Store) setTyping(peer string, typing bool) {
	peer = identity.Normalize(peer)
	if peer == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.typingGen[peer]++
	s.typing[peer] = typing

	if typing {
		gen := s.typingGen[peer]
		time.AfterFunc(s.typingExpiry, func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			// A later start or stop bumped the generation; this timer is
			// stale and must not clear the newer state.
			if s.typingGen[peer] == gen {
				s.typing[peer] = false
			}
		})
	}
}

func (s *Store) addUser(u model.User) {
	u.ID = identity.Normalize(u.ID)

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.ID == u.ID {
			return
		}
	}
	s.users = append(s.users, u)
	sort.Slice(s.users, func(i, j int) bool {
		return s.users[i].Username < s.users[j].Username
	})
}

// SetUsers replaces the known-peers list, normally from the REST user list
// at startup.
func (s *Store) SetUsers(users []model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users = make([]model.User, len(users))
	copy(s.users, users)
	for i := range s.users {
		s.users[i].ID = identity.Normalize(s.users[i].ID)
	}
	sort.Slice(s.users, func(i, j int) bool {
		return s.users[i].Username < s.users[j].Username
	})
}

// AddHistory merges a fetched conversation page into the peer's bucket,
// deduplicating against everything already stored. Fetched pages are oldest
// first, so they prepend cleanly before any realtime messages.
func (s *Store) AddHistory(peer string, msgs []model.Message) {
	peer = identity.Normalize(peer)

	s.mu.Lock()
	defer s.mu.Unlock()

	var fresh []chat.MessagePayload
	for i := range msgs {
		m := chat.PayloadFromMessage(&msgs[i])
		if _, dup := s.seen[m.ID]; dup {
			continue
		}
		s.seen[m.ID] = struct{}{}
		fresh = append(fresh, m)
	}
	if len(fresh) > 0 {
		s.conversations[peer] = append(fresh, s.conversations[peer]...)
	}
}

// OnlineUsers returns the current online set, sorted.
func (s *Store) OnlineUsers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.online))
	for id := range s.online {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IsOnline reports whether the given identity (in any representation) is in
// the current presence set. Callers must use this at decision time rather
// than caching the answer, since presence changes between reads.
func (s *Store) IsOnline(id any) bool {
	norm := identity.Normalize(id)

	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.online[norm]
	return ok
}

// Conversation returns a copy of the message bucket for the given peer.
func (s *Store) Conversation(peer string) []chat.MessagePayload {
	peer = identity.Normalize(peer)

	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := make([]chat.MessagePayload, len(s.conversations[peer]))
	copy(msgs, s.conversations[peer])
	return msgs
}

// IsTyping reports whether the given peer is currently typing to us.
func (s *Store) IsTyping(peer string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.typing[identity.Normalize(peer)]
}

// Users returns a copy of the known-peers list.
func (s *Store) Users() []model.User {
	s.mu.Lock()
	defer s.mu.Unlock()

	users := make([]model.User, len(s.users))
	copy(users, s.users)
	return users
}

// LastError returns the most recent message:error reason, if any.
func (s *Store) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}
