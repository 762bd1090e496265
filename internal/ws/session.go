// Package ws is the websocket transport: it authenticates inbound upgrades,
// owns each connection's read/write pumps, and bridges wire events to the
// chat core.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tanvir/relaychat/internal/chat"
)

const (
	// writeWait is the deadline for a single outbound frame.
	writeWait = 10 * time.Second
	// pongWait is how long a connection may stay silent before it is
	// considered dead; pings go out at pingPeriod intervals to keep
	// healthy connections under the deadline.
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	// maxFrameSize bounds inbound frames. A full message event with a
	// 1000-rune payload fits comfortably.
	maxFrameSize = 8192
	// sendBuffer is the per-connection outbound queue. When it fills, the
	// connection is too slow to keep up and further events are dropped
	// rather than blocking the whole process.
	sendBuffer = 32
)

var errSendBufferFull = errors.New("ws: send buffer full")
var errSessionClosed = errors.New("ws: session closed")

// session is one live authenticated connection. It implements chat.Conn:
// the registry holds it, the presence broadcaster and router deliver through
// it. The websocket itself is owned here — writePump is the only goroutine
// that writes, readPump the only one that reads.
type session struct {
	id       string
	userID   string
	username string

	conn   *websocket.Conn
	send   chan chat.Envelope
	done   chan struct{}
	closed sync.Once

	presence *chat.Presence
	router   *chat.Router
	logger   *slog.Logger
}

var _ chat.Conn = (*session)(nil)

func (s *session) ID() string { return s.id }

// Send marshals and enqueues one event. It never blocks: if the session is
// closed or its buffer is full the event is dropped with an error, which
// callers in the presence/router layer treat as fire-and-forget.
func (s *session) Send(event string, payload any) error {
	env, err := chat.NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	select {
	case <-s.done:
		return errSessionClosed
	default:
	}
	select {
	case s.send <- env:
		return nil
	case <-s.done:
		return errSessionClosed
	default:
		return errSendBufferFull
	}
}

// Close shuts the session down. Safe to call from any goroutine and more
// than once; the read pump unblocks and the connect handler's deferred
// Disconnected runs from there.
func (s *session) Close() error {
	s.closed.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
	return nil
}

// writePump owns all writes to the socket: queued events and keepalive
// pings. One writer goroutine per connection is a gorilla/websocket
// requirement.
func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.Close()
	}()

	for {
		select {
		case env := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

// readPump processes inbound frames one at a time, in arrival order. This is
// what gives a single connection's sends their sequential processing
// guarantee: Send for message N completes (persist and deliver) before frame
// N+1 is even decoded.
func (s *session) readPump() {
	defer func() { _ = s.Close() }()

	s.conn.SetReadLimit(maxFrameSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket read error",
					slog.String("userID", s.userID),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var env chat.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			// Malformed frame; ignore rather than kill the connection.
			continue
		}
		s.dispatch(env)
	}
}

// dispatch routes one inbound event to the core. Errors from the router are
// reported to this connection only, as message:error with a reason safe to
// show the user; internal failures get a generic reason.
func (s *session) dispatch(env chat.Envelope) {
	ctx := context.Background()

	switch env.Event {
	case chat.EventMessageSend:
		var req chat.SendMessage
		if err := json.Unmarshal(env.Data, &req); err != nil {
			s.sendError("invalid message data")
			return
		}
		if _, err := s.router.Send(ctx, s.userID, req.RecipientID.String(), req.Content); err != nil {
			s.sendError(errorReason(err))
		}

	case chat.EventTypingStart:
		var req chat.Typing
		if err := json.Unmarshal(env.Data, &req); err != nil {
			return
		}
		s.router.TypingStart(s.userID, s.username, req.RecipientID.String())

	case chat.EventTypingStop:
		var req chat.Typing
		if err := json.Unmarshal(env.Data, &req); err != nil {
			return
		}
		s.router.TypingStop(s.userID, req.RecipientID.String())

	case chat.EventMessageRead:
		var req chat.ReadReceipt
		if err := json.Unmarshal(env.Data, &req); err != nil {
			return
		}
		if err := s.router.MarkRead(ctx, s.userID, req.MessageID); err != nil {
			// Read receipts are best-effort; log and move on.
			s.logger.Warn("read receipt failed",
				slog.String("userID", s.userID),
				slog.String("messageID", req.MessageID),
				slog.String("error", err.Error()),
			)
		}

	default:
		s.logger.Debug("unknown event ignored",
			slog.String("event", env.Event),
			slog.String("userID", s.userID),
		)
	}
}

func (s *session) sendError(reason string) {
	_ = s.Send(chat.EventMessageError, chat.MessageError{Error: reason})
}
