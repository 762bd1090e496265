package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/tanvir/relaychat/internal/auth"
	"github.com/tanvir/relaychat/internal/model"
	"github.com/tanvir/relaychat/internal/service"
)

// Announcer pushes a newly registered account to live connections. The
// presence broadcaster implements it; handlers stay decoupled from the chat
// core's concrete types.
type Announcer interface {
	AnnounceRegistration(user *model.User)
}

// AuthHandler serves signup, login, current-user, and user listing.
type AuthHandler struct {
	authService *service.AuthService
	announcer   Announcer
	logger      *slog.Logger
}

func NewAuthHandler(authService *service.AuthService, announcer Announcer, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		announcer:   announcer,
		logger:      logger,
	}
}

type signupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string      `json:"token"`
	User  *model.User `json:"user"`
}

// HandleSignup handles POST /api/auth/signup.
func (h *AuthHandler) HandleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "invalid JSON body",
		})
		return
	}

	result, err := h.authService.Signup(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	// Live clients learn about the new account immediately; their chat
	// lists grow without a refetch.
	h.announcer.AnnounceRegistration(result.User)

	writeJSON(w, http.StatusCreated, authResponse{
		Token: result.Token,
		User:  result.User,
	})
}

// HandleLogin handles POST /api/auth/login.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "invalid JSON body",
		})
		return
	}

	result, err := h.authService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, authResponse{
		Token: result.Token,
		User:  result.User,
	})
}

// HandleMe handles GET /api/auth/me.
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{
			Error:   "unauthorized",
			Message: "valid authentication required",
		})
		return
	}

	user, err := h.authService.GetUserByID(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]*model.User{"user": user})
}

// HandleListUsers handles GET /api/auth/users — every account except the
// caller's, sorted by username.
func (h *AuthHandler) HandleListUsers(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{
			Error:   "unauthorized",
			Message: "valid authentication required",
		})
		return
	}

	users, err := h.authService.ListUsers(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	if users == nil {
		users = []model.User{}
	}

	writeJSON(w, http.StatusOK, map[string][]model.User{"users": users})
}
