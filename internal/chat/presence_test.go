package chat

import (
	"io"
	"log/slog"
	"testing"
)

func newTestPresence(t *testing.T) (*Registry, *Presence) {
	t.Helper()
	reg := NewRegistry()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return reg, NewPresence(reg, logger)
}

// =========================================================================
// CONNECT TESTS
// =========================================================================

func TestConnectedSendsSnapshotFirst(t *testing.T) {
	_, p := newTestPresence(t)

	p.Connected("alice", newFakeConn("c1"))
	p.Connected("bob", newFakeConn("c2"))

	carol := newFakeConn("c3")
	p.Connected("carol", carol)

	events := carol.Events()
	if len(events) == 0 {
		t.Fatal("new connection received no events")
	}
	if events[0].Event != EventPresenceSnapshot {
		t.Fatalf("first event = %s, want %s", events[0].Event, EventPresenceSnapshot)
	}

	snap := events[0].Payload.(PresenceSnapshot)
	want := []string{"alice", "bob"}
	if len(snap.UserIDs) != len(want) {
		t.Fatalf("snapshot = %v, want %v", snap.UserIDs, want)
	}
	for i := range want {
		if snap.UserIDs[i] != want[i] {
			t.Errorf("snapshot[%d] = %q, want %q", i, snap.UserIDs[i], want[i])
		}
	}
}

func TestConnectedSnapshotExcludesSelf(t *testing.T) {
	_, p := newTestPresence(t)

	alice := newFakeConn("c1")
	p.Connected("alice", alice)

	snap := alice.Events()[0].Payload.(PresenceSnapshot)
	if len(snap.UserIDs) != 0 {
		t.Errorf("first user's snapshot = %v, want empty", snap.UserIDs)
	}
}

func TestConnectedBroadcastsOnlineToOthers(t *testing.T) {
	_, p := newTestPresence(t)

	alice := newFakeConn("c1")
	p.Connected("alice", alice)
	p.Connected("bob", newFakeConn("c2"))

	events := alice.Events()
	// alice got her (empty) snapshot on connect, then bob's arrival.
	if len(events) != 2 {
		t.Fatalf("alice events = %v, want snapshot + user:online", eventNames(events))
	}
	if events[1].Event != EventUserOnline {
		t.Errorf("events[1] = %s, want %s", events[1].Event, EventUserOnline)
	}
	if change := events[1].Payload.(PresenceChange); change.UserID.String() != "bob" {
		t.Errorf("user:online for %q, want bob", change.UserID)
	}
}

func TestConnectedSelfDoesNotReceiveOwnOnline(t *testing.T) {
	_, p := newTestPresence(t)

	bob := newFakeConn("c2")
	p.Connected("alice", newFakeConn("c1"))
	p.Connected("bob", bob)

	for _, e := range bob.Events() {
		if e.Event == EventUserOnline {
			if change := e.Payload.(PresenceChange); change.UserID.String() == "bob" {
				t.Error("bob received user:online for himself")
			}
		}
	}
}

// =========================================================================
// DUPLICATE LOGIN TESTS
// =========================================================================

func TestDuplicateLoginClosesPreviousConnection(t *testing.T) {
	reg, p := newTestPresence(t)

	first := newFakeConn("c1")
	second := newFakeConn("c2")

	p.Connected("alice", first)
	p.Connected("alice", second)

	if !first.Closed() {
		t.Error("superseded connection was not closed")
	}
	if second.Closed() {
		t.Error("newer connection must stay open")
	}
	if got, _ := reg.Lookup("alice"); got.ID() != "c2" {
		t.Errorf("registered conn = %s, want c2", got.ID())
	}
}

func TestStaleDisconnectAfterReplacement(t *testing.T) {
	// The closed first connection's read loop exits and calls Disconnected.
	// The newer login must survive, and no user:offline may be broadcast.
	reg, p := newTestPresence(t)

	observer := newFakeConn("c0")
	p.Connected("observer", observer)

	first := newFakeConn("c1")
	second := newFakeConn("c2")
	p.Connected("alice", first)
	p.Connected("alice", second)

	before := len(observer.Events())
	p.Disconnected("alice", first)

	if _, ok := reg.Lookup("alice"); !ok {
		t.Error("stale disconnect evicted the newer connection")
	}
	if got := len(observer.Events()); got != before {
		t.Errorf("stale disconnect broadcast %d extra events", got-before)
	}
}

// =========================================================================
// DISCONNECT TESTS
// =========================================================================

func TestDisconnectedBroadcastsOffline(t *testing.T) {
	reg, p := newTestPresence(t)

	alice := newFakeConn("c1")
	bob := newFakeConn("c2")
	p.Connected("alice", alice)
	p.Connected("bob", bob)

	p.Disconnected("bob", bob)

	events := alice.Events()
	last := events[len(events)-1]
	if last.Event != EventUserOffline {
		t.Fatalf("last event = %s, want %s", last.Event, EventUserOffline)
	}
	if change := last.Payload.(PresenceChange); change.UserID.String() != "bob" {
		t.Errorf("user:offline for %q, want bob", change.UserID)
	}
	if reg.Len() != 1 {
		t.Errorf("Len() after disconnect = %d, want 1", reg.Len())
	}
}

func TestReconnectAfterDisconnect(t *testing.T) {
	_, p := newTestPresence(t)

	observer := newFakeConn("c0")
	p.Connected("observer", observer)

	conn := newFakeConn("c1")
	p.Connected("alice", conn)
	p.Disconnected("alice", conn)

	again := newFakeConn("c2")
	p.Connected("alice", again)

	// The reconnecting client gets a fresh snapshot containing the observer.
	snap := again.Events()[0].Payload.(PresenceSnapshot)
	if len(snap.UserIDs) != 1 || snap.UserIDs[0] != "observer" {
		t.Errorf("reconnect snapshot = %v, want [observer]", snap.UserIDs)
	}

	// The observer saw online, offline, online for alice, in that order.
	var aliceEvents []string
	for _, e := range observer.Events() {
		switch e.Event {
		case EventUserOnline, EventUserOffline:
			aliceEvents = append(aliceEvents, e.Event)
		}
	}
	want := []string{EventUserOnline, EventUserOffline, EventUserOnline}
	if len(aliceEvents) != len(want) {
		t.Fatalf("observer saw %v, want %v", aliceEvents, want)
	}
	for i := range want {
		if aliceEvents[i] != want[i] {
			t.Errorf("observer event[%d] = %s, want %s", i, aliceEvents[i], want[i])
		}
	}
}

func TestAnnounceRegistration(t *testing.T) {
	_, p := newTestPresence(t)

	alice := newFakeConn("c1")
	p.Connected("alice", alice)

	p.AnnounceRegistration(nil)

	events := alice.Events()
	last := events[len(events)-1]
	if last.Event != EventUserRegistered {
		t.Errorf("last event = %s, want %s", last.Event, EventUserRegistered)
	}
}
