package ws

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tanvir/relaychat/internal/apperror"
	"github.com/tanvir/relaychat/internal/auth"
	"github.com/tanvir/relaychat/internal/chat"
	"github.com/tanvir/relaychat/internal/repository"
)

// Handler upgrades authenticated HTTP requests to websocket sessions and
// runs each session's lifecycle: register with presence, pump events, and
// unregister on close.
type Handler struct {
	upgrader websocket.Upgrader
	tokens   *auth.TokenService
	users    repository.UserRepository
	presence *chat.Presence
	router   *chat.Router
	logger   *slog.Logger
}

// NewHandler wires the transport. allowedOrigin restricts browser upgrades;
// empty means same-host-only (gorilla's default check).
func NewHandler(
	tokens *auth.TokenService,
	users repository.UserRepository,
	presence *chat.Presence,
	router *chat.Router,
	allowedOrigin string,
	logger *slog.Logger,
) *Handler {
	h := &Handler{
		tokens:   tokens,
		users:    users,
		presence: presence,
		router:   router,
		logger:   logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	if allowedOrigin != "" {
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || origin == allowedOrigin
		}
	}
	return h
}

// ServeHTTP handles GET /ws.
//
// Authentication happens before the upgrade: a missing or invalid credential
// is refused with 401 and the connection never enters the registry. The
// token comes from the Authorization header or, for browser websocket
// clients that cannot set headers, the token query parameter.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token, err := auth.BearerToken(r)
	if err != nil {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	userID, err := h.tokens.Validate(token)
	if err != nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	// The token may outlive the account; resolve it to a live user record
	// before accepting the connection.
	user, err := h.users.GetByID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		h.logger.Warn("websocket upgrade failed",
			slog.String("userID", user.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	s := &session{
		id:       uuid.NewString(),
		userID:   user.ID,
		username: user.Username,
		conn:     conn,
		send:     make(chan chat.Envelope, sendBuffer),
		done:     make(chan struct{}),
		presence: h.presence,
		router:   h.router,
		logger:   h.logger,
	}

	// The write pump must be running before Connected queues the presence
	// snapshot, so the snapshot is the first frame this client receives.
	go s.writePump()
	h.presence.Connected(s.userID, s)
	defer h.presence.Disconnected(s.userID, s)

	s.readPump()
}
