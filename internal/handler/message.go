package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tanvir/relaychat/internal/auth"
	"github.com/tanvir/relaychat/internal/model"
	"github.com/tanvir/relaychat/internal/service"
)

// MessageHandler serves conversation history.
type MessageHandler struct {
	messages *service.MessageService
	logger   *slog.Logger
}

func NewMessageHandler(messages *service.MessageService, logger *slog.Logger) *MessageHandler {
	return &MessageHandler{
		messages: messages,
		logger:   logger,
	}
}

// HandleConversation handles GET /api/messages/{recipientId}?before=&limit=.
//
// before is an RFC 3339 timestamp; absent means "now". The response is the
// newest page before that instant, oldest first. Fetching marks the peer's
// unread messages to the caller as read.
func (h *MessageHandler) HandleConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{
			Error:   "unauthorized",
			Message: "valid authentication required",
		})
		return
	}

	peerID := chi.URLParam(r, "recipientId")

	var before time.Time
	if raw := r.URL.Query().Get("before"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{
				Error:   "validation_error",
				Message: "before must be an RFC 3339 timestamp",
			})
			return
		}
		before = parsed
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{
				Error:   "validation_error",
				Message: "limit must be an integer",
			})
			return
		}
		limit = parsed
	}

	messages, err := h.messages.Conversation(r.Context(), userID, peerID, before, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if messages == nil {
		messages = []model.Message{}
	}

	writeJSON(w, http.StatusOK, map[string][]model.Message{"messages": messages})
}
