package chatclient

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/tanvir/relaychat/internal/chat"
	"github.com/tanvir/relaychat/internal/model"
)

// envelope builds an Envelope from raw JSON, the way events arrive off the
// wire. Using raw JSON (not typed payload structs) exercises the decode path,
// including heterogeneous identifier representations.
func envelope(t *testing.T, event, data string) chat.Envelope {
	t.Helper()
	return chat.Envelope{Event: event, Data: json.RawMessage(data)}
}

func apply(t *testing.T, s *Store, event, data string) {
	t.Helper()
	if err := s.Apply(envelope(t, event, data)); err != nil {
		t.Fatalf("Apply(%s) error = %v", event, err)
	}
}

// =========================================================================
// PRESENCE SET TESTS
// =========================================================================

func TestSnapshotReplacesOnlineSet(t *testing.T) {
	s := NewStore("self")

	apply(t, s, chat.EventUserOnline, `{"userId":"stale"}`)
	apply(t, s, chat.EventPresenceSnapshot, `{"userIds":["alice","bob"]}`)

	got := s.OnlineUsers()
	want := []string{"alice", "bob"}
	if len(got) != len(want) {
		t.Fatalf("OnlineUsers() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("OnlineUsers()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if s.IsOnline("stale") {
		t.Error("snapshot must replace, not merge: stale entry survived")
	}
}

func TestOnlineOfflineTransitions(t *testing.T) {
	s := NewStore("self")

	apply(t, s, chat.EventUserOnline, `{"userId":"alice"}`)
	if !s.IsOnline("alice") {
		t.Error("alice should be online after user:online")
	}

	apply(t, s, chat.EventUserOffline, `{"userId":"alice"}`)
	if s.IsOnline("alice") {
		t.Error("alice should be offline after user:offline")
	}
}

func TestPresenceNormalizesRepresentations(t *testing.T) {
	// The server key is the string "42"; events may carry it as a number or
	// an object-wrapped ID. All must hit the same entry.
	s := NewStore("self")

	apply(t, s, chat.EventUserOnline, `{"userId":42}`)

	if !s.IsOnline("42") {
		t.Error("IsOnline(\"42\") after numeric user:online = false")
	}
	if !s.IsOnline(42) {
		t.Error("IsOnline(42) = false")
	}
	if !s.IsOnline(map[string]any{"_id": "42"}) {
		t.Error("IsOnline(object-wrapped) = false")
	}

	apply(t, s, chat.EventUserOffline, `{"userId":{"_id":"42"}}`)
	if s.IsOnline("42") {
		t.Error("object-wrapped user:offline did not clear numeric user:online")
	}
}

// =========================================================================
// CONVERSATION BUCKETING TESTS
// =========================================================================

func TestAckBucketsUnderRecipient(t *testing.T) {
	s := NewStore("self")

	apply(t, s, chat.EventMessageSent,
		`{"id":"m1","senderId":"self","recipientId":"bob","content":"hi","createdAt":"2026-08-29T10:00:00Z"}`)

	msgs := s.Conversation("bob")
	if len(msgs) != 1 || msgs[0].ID != "m1" {
		t.Fatalf("Conversation(bob) = %v, want [m1]", msgs)
	}
	if got := s.Conversation("self"); len(got) != 0 {
		t.Errorf("Conversation(self) = %v, want empty", got)
	}
}

func TestIncomingBucketsUnderSender(t *testing.T) {
	s := NewStore("self")

	apply(t, s, chat.EventMessageReceived,
		`{"id":"m2","senderId":"carol","recipientId":"self","content":"yo","createdAt":"2026-08-29T10:01:00Z"}`)

	msgs := s.Conversation("carol")
	if len(msgs) != 1 || msgs[0].ID != "m2" {
		t.Fatalf("Conversation(carol) = %v, want [m2]", msgs)
	}
}

func TestInterleavedConversationsStaySeparate(t *testing.T) {
	s := NewStore("self")

	apply(t, s, chat.EventMessageSent,
		`{"id":"m1","senderId":"self","recipientId":"bob","content":"to bob"}`)
	apply(t, s, chat.EventMessageReceived,
		`{"id":"m2","senderId":"carol","recipientId":"self","content":"from carol"}`)
	apply(t, s, chat.EventMessageReceived,
		`{"id":"m3","senderId":"bob","recipientId":"self","content":"from bob"}`)

	bob := s.Conversation("bob")
	if len(bob) != 2 || bob[0].ID != "m1" || bob[1].ID != "m3" {
		t.Errorf("Conversation(bob) IDs = %v, want [m1 m3]", bob)
	}
	carol := s.Conversation("carol")
	if len(carol) != 1 || carol[0].ID != "m2" {
		t.Errorf("Conversation(carol) IDs = %v, want [m2]", carol)
	}
}

func TestDuplicateDeliveryDropped(t *testing.T) {
	s := NewStore("self")

	msg := `{"id":"m1","senderId":"self","recipientId":"bob","content":"hi"}`
	apply(t, s, chat.EventMessageSent, msg)
	apply(t, s, chat.EventMessageSent, msg)
	apply(t, s, chat.EventMessageReceived, msg)

	if got := s.Conversation("bob"); len(got) != 1 {
		t.Errorf("Conversation(bob) has %d messages, want 1", len(got))
	}
}

func TestMessageBetweenStrangersIgnored(t *testing.T) {
	s := NewStore("self")

	apply(t, s, chat.EventMessageReceived,
		`{"id":"m9","senderId":"alice","recipientId":"bob","content":"misrouted"}`)

	if got := s.Conversation("alice"); len(got) != 0 {
		t.Errorf("Conversation(alice) = %v, want empty", got)
	}
	if got := s.Conversation("bob"); len(got) != 0 {
		t.Errorf("Conversation(bob) = %v, want empty", got)
	}
}

func TestBucketingNormalizesIdentifiers(t *testing.T) {
	// Self arrives as a number in one event and a plain string in another;
	// both land in the same peer bucket.
	s := NewStore("7")

	apply(t, s, chat.EventMessageSent,
		`{"id":"m1","senderId":7,"recipientId":"bob","content":"a"}`)
	apply(t, s, chat.EventMessageReceived,
		`{"id":"m2","senderId":{"_id":"bob"},"recipientId":"7","content":"b"}`)

	if got := s.Conversation("bob"); len(got) != 2 {
		t.Errorf("Conversation(bob) has %d messages, want 2", len(got))
	}
}

func TestAddHistoryPrependsAndDedupes(t *testing.T) {
	s := NewStore("self")

	// A realtime message arrives first, then an overlapping history page.
	apply(t, s, chat.EventMessageReceived,
		`{"id":"m3","senderId":"bob","recipientId":"self","content":"newest"}`)

	s.AddHistory("bob", []model.Message{
		{ID: "m1", SenderID: "bob", RecipientID: "self", Content: "oldest"},
		{ID: "m2", SenderID: "self", RecipientID: "bob", Content: "middle"},
		{ID: "m3", SenderID: "bob", RecipientID: "self", Content: "newest"},
	})

	msgs := s.Conversation("bob")
	want := []string{"m1", "m2", "m3"}
	if len(msgs) != len(want) {
		t.Fatalf("Conversation(bob) has %d messages, want %d", len(msgs), len(want))
	}
	for i := range want {
		if msgs[i].ID != want[i] {
			t.Errorf("Conversation(bob)[%d].ID = %q, want %q", i, msgs[i].ID, want[i])
		}
	}
}

// =========================================================================
// TYPING FLAG TESTS
// =========================================================================

func TestTypingStartStop(t *testing.T) {
	s := NewStore("self")

	apply(t, s, chat.EventTypingStarted, `{"userId":"bob"}`)
	if !s.IsTyping("bob") {
		t.Error("IsTyping(bob) = false after typing:started")
	}

	apply(t, s, chat.EventTypingStopped, `{"userId":"bob"}`)
	if s.IsTyping("bob") {
		t.Error("IsTyping(bob) = true after typing:stopped")
	}
}

func TestTypingExpiresWithoutStop(t *testing.T) {
	s := NewStore("self", WithTypingExpiry(20*time.Millisecond))

	apply(t, s, chat.EventTypingStarted, `{"userId":"bob"}`)
	if !s.IsTyping("bob") {
		t.Fatal("IsTyping(bob) = false immediately after typing:started")
	}

	// The matching typing:stopped never arrives; the local expiry clears it.
	deadline := time.Now().Add(time.Second)
	for s.IsTyping("bob") {
		if time.Now().After(deadline) {
			t.Fatal("typing flag never expired")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestTypingRestartExtendsExpiry(t *testing.T) {
	s := NewStore("self", WithTypingExpiry(50*time.Millisecond))

	apply(t, s, chat.EventTypingStarted, `{"userId":"bob"}`)
	time.Sleep(30 * time.Millisecond)
	// A second start before the first expires must reset the clock: the
	// first timer firing at t=50ms is stale and must not clear the flag.
	apply(t, s, chat.EventTypingStarted, `{"userId":"bob"}`)
	time.Sleep(30 * time.Millisecond)

	if !s.IsTyping("bob") {
		t.Error("typing flag cleared by a stale expiry timer")
	}
}

// =========================================================================
// USER LIST AND ERROR TESTS
// =========================================================================

func TestUserRegisteredAppendsSorted(t *testing.T) {
	s := NewStore("self")
	s.SetUsers([]model.User{
		{ID: "u1", Username: "bob"},
		{ID: "u2", Username: "dave"},
	})

	apply(t, s, chat.EventUserRegistered,
		`{"user":{"id":"u3","username":"carol","email":"carol@example.com"}}`)

	users := s.Users()
	if len(users) != 3 {
		t.Fatalf("Users() has %d entries, want 3", len(users))
	}
	if users[1].Username != "carol" {
		t.Errorf("Users()[1].Username = %q, want carol (sorted insert)", users[1].Username)
	}
}

func TestUserRegisteredDuplicateIgnored(t *testing.T) {
	s := NewStore("self")
	s.SetUsers([]model.User{{ID: "u1", Username: "bob"}})

	apply(t, s, chat.EventUserRegistered, `{"user":{"id":"u1","username":"bob"}}`)

	if got := len(s.Users()); got != 1 {
		t.Errorf("Users() has %d entries, want 1", got)
	}
}

func TestMessageErrorRecorded(t *testing.T) {
	s := NewStore("self")

	apply(t, s, chat.EventMessageError, `{"error":"recipient not found"}`)

	if got := s.LastError(); got != "recipient not found" {
		t.Errorf("LastError() = %q, want %q", got, "recipient not found")
	}
}

func TestUnknownEventIgnored(t *testing.T) {
	s := NewStore("self")
	if err := s.Apply(envelope(t, "some:future:event", `{"x":1}`)); err != nil {
		t.Errorf("Apply(unknown event) error = %v, want nil", err)
	}
}
