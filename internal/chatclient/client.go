package chatclient

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/tanvir/relaychat/internal/apperror"
	"github.com/tanvir/relaychat/internal/chat"
	"github.com/tanvir/relaychat/internal/identity"
)

// Client is a live websocket connection to the chat server. Inbound events
// are applied to the Store from a single read loop; outbound sends may come
// from any goroutine and are serialized by a write mutex.
type Client struct {
	conn    *websocket.Conn
	store   *Store
	logger  *slog.Logger
	writeMu sync.Mutex
	done    chan struct{}
	closed  sync.Once

	// OnEvent, if set before the first event arrives, is called after each
	// inbound event has been applied to the Store. Used by interactive
	// clients to refresh their display.
	OnEvent func(chat.Envelope)
}

// Dial connects and authenticates to the server's websocket endpoint.
// A rejected credential surfaces as apperror.ErrUnauthorized.
func Dial(ctx context.Context, wsURL, token string, store *Store, logger *slog.Logger) (*Client, error) {
	header := http.Header{"Authorization": {"Bearer " + token}}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, apperror.Unauthorized("invalid credentials")
		}
		return nil, fmt.Errorf("chatclient: dialing %s: %w", wsURL, err)
	}

	c := &Client{
		conn:   conn,
		store:  store,
		logger: logger,
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Done is closed when the connection ends, for any reason.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close tears the connection down.
func (c *Client) Close() error {
	c.closed.Do(func() {
		_ = c.conn.Close()
	})
	return nil
}

func (c *Client) readLoop() {
	defer func() {
		_ = c.Close()
		close(c.done)
	}()

	for {
		var env chat.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			return
		}
		if err := c.store.Apply(env); err != nil {
			c.logger.Warn("event not applied",
				slog.String("event", env.Event),
				slog.String("error", err.Error()),
			)
			continue
		}
		if c.OnEvent != nil {
			c.OnEvent(env)
		}
	}
}

func (c *Client) send(event string, payload any) error {
	env, err := chat.NewEnvelope(event, payload)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(env)
}

// SendMessage asks the server to deliver content to recipientID. The ack
// (or message:error) arrives asynchronously and is reconciled by the Store.
func (c *Client) SendMessage(recipientID, content string) error {
	return c.send(chat.EventMessageSend, chat.SendMessage{
		RecipientID: identity.ID(identity.Normalize(recipientID)),
		Content:     content,
	})
}

// StartTyping signals the recipient that we began typing.
func (c *Client) StartTyping(recipientID string) error {
	return c.send(chat.EventTypingStart, chat.Typing{
		RecipientID: identity.ID(identity.Normalize(recipientID)),
	})
}

// StopTyping signals the recipient that we stopped typing.
func (c *Client) StopTyping(recipientID string) error {
	return c.send(chat.EventTypingStop, chat.Typing{
		RecipientID: identity.ID(identity.Normalize(recipientID)),
	})
}

// MarkRead acknowledges one received message as read.
func (c *Client) MarkRead(messageID string) error {
	return c.send(chat.EventMessageRead, chat.ReadReceipt{MessageID: messageID})
}
