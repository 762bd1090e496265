package chat

import (
	"log/slog"
	"sync"

	"github.com/tanvir/relaychat/internal/identity"
	"github.com/tanvir/relaychat/internal/model"
)

// Presence computes and emits online/offline transitions around registry
// changes.
//
// All presence events are fire-and-forget: a per-target send failure is
// dropped, and a connection that misses an event self-corrects on its next
// reconnect's full snapshot.
type Presence struct {
	// mu serializes whole connect/disconnect transitions. Registry ops are
	// individually synchronized, but the snapshot-then-broadcast sequence
	// for one connection must not interleave with another connection's
	// transition, or an observer could see user:online for an identity its
	// pending snapshot does not contain.
	mu       sync.Mutex
	registry *Registry
	logger   *slog.Logger
}

func NewPresence(registry *Registry, logger *slog.Logger) *Presence {
	return &Presence{
		registry: registry,
		logger:   logger,
	}
}

// Connected registers conn for userID and performs the connect-time presence
// exchange: the full snapshot of other online identities goes to the new
// connection first, then user:online is broadcast to every other connection.
// If the identity was already connected, the superseded connection is closed.
func (p *Presence) Connected(userID string, conn Conn) {
	userID = identity.Normalize(userID)

	p.mu.Lock()
	defer p.mu.Unlock()

	if replaced := p.registry.Register(userID, conn); replaced != nil {
		// Latest login wins. Closing the stale connection makes its read
		// loop exit; its guarded Unregister then finds the newer entry and
		// leaves it alone.
		p.logger.Info("duplicate login, closing previous connection",
			slog.String("userID", userID),
			slog.String("replacedConnID", replaced.ID()),
		)
		_ = replaced.Close()
	}

	others := p.registry.others(userID)

	// Snapshot first, exactly once, before any incremental event for this
	// observer can be queued.
	snapshot := make([]string, 0, len(others))
	for _, id := range p.registry.Snapshot() {
		if id != userID {
			snapshot = append(snapshot, id)
		}
	}
	if err := conn.Send(EventPresenceSnapshot, PresenceSnapshot{UserIDs: snapshot}); err != nil {
		p.logger.Warn("presence snapshot dropped",
			slog.String("userID", userID),
			slog.String("error", err.Error()),
		)
	}

	for _, other := range others {
		_ = other.Send(EventUserOnline, PresenceChange{UserID: identity.ID(userID)})
	}

	p.logger.Info("user connected",
		slog.String("userID", userID),
		slog.Int("online", p.registry.Len()),
	)
}

// Disconnected removes conn's registration and, if the entry was actually
// removed (not already superseded by a newer login), broadcasts user:offline
// to every remaining connection.
func (p *Presence) Disconnected(userID string, conn Conn) {
	userID = identity.Normalize(userID)

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.registry.Unregister(userID, conn) {
		// Stale disconnect from a superseded connection; the newer entry
		// stays and no offline event is emitted.
		return
	}

	for _, other := range p.registry.all() {
		_ = other.Send(EventUserOffline, PresenceChange{UserID: identity.ID(userID)})
	}

	p.logger.Info("user disconnected",
		slog.String("userID", userID),
		slog.Int("online", p.registry.Len()),
	)
}

// AnnounceRegistration broadcasts a freshly created account to every live
// connection so clients can extend their chat lists without refetching.
func (p *Presence) AnnounceRegistration(user *model.User) {
	for _, c := range p.registry.all() {
		_ = c.Send(EventUserRegistered, RegisteredUser{User: user})
	}
}
