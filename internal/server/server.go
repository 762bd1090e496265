// Package server is the composition root: it wires the repositories, the
// realtime core, the services, and the HTTP routes, and owns startup and
// graceful shutdown.
//
// All dependencies are constructed explicitly here and passed down — there
// are no package-level singletons, so tests can build isolated instances of
// any layer.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/tanvir/relaychat/internal/auth"
	"github.com/tanvir/relaychat/internal/chat"
	"github.com/tanvir/relaychat/internal/handler"
	"github.com/tanvir/relaychat/internal/middleware"
	sqliteRepo "github.com/tanvir/relaychat/internal/repository/sqlite"
	"github.com/tanvir/relaychat/internal/service"
	"github.com/tanvir/relaychat/internal/ws"
)

// Config holds server configuration, loaded from the environment in main.
type Config struct {
	Port         int
	DBPath       string
	JWTSecret    string
	ClientOrigin string // browser origin allowed for CORS and ws upgrades; empty disables cross-origin access
}

// Server owns the router and the resources wired into it. The database
// connection is closed during shutdown.
type Server struct {
	router *chi.Mux
	config Config
	logger *slog.Logger
	db     *sqliteRepo.DB
}

// New assembles the full dependency graph:
//
//	sqlite.DB → repositories
//	Registry → Presence, Router (the realtime core)
//	TokenService/PasswordService → AuthService → handlers
//	ws.Handler bridges upgrades into the core
func New(cfg Config, logger *slog.Logger) (*Server, error) {
	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		db:     db,
	}

	if err := s.setupRoutes(); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}

	return s, nil
}

func (s *Server) setupRoutes() error {
	tokens, err := auth.NewTokenService(s.config.JWTSecret)
	if err != nil {
		return err
	}
	passwords := auth.NewPasswordService()

	// Realtime core: one registry per process, the single synchronization
	// point for presence and routing.
	registry := chat.NewRegistry()
	presence := chat.NewPresence(registry, s.logger)
	router := chat.NewRouter(registry, s.db, s.db, s.logger)

	authService := service.NewAuthService(s.db, tokens, passwords, s.logger)
	messageService := service.NewMessageService(s.db, s.db, s.logger)

	authHandler := handler.NewAuthHandler(authService, presence, s.logger)
	messageHandler := handler.NewMessageHandler(messageService, s.logger)
	wsHandler := ws.NewHandler(tokens, s.db, presence, router, s.config.ClientOrigin, s.logger)

	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))

	if s.config.ClientOrigin != "" {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{s.config.ClientOrigin},
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
		}))
	}

	s.router.Get("/api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","timestamp":%q}`, time.Now().UTC().Format(time.RFC3339))
	})

	s.router.Route("/api/auth", func(r chi.Router) {
		r.Post("/signup", authHandler.HandleSignup)
		r.Post("/login", authHandler.HandleLogin)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(tokens))
			r.Get("/me", authHandler.HandleMe)
			r.Get("/users", authHandler.HandleListUsers)
		})
	})

	s.router.Route("/api/messages", func(r chi.Router) {
		r.Use(auth.RequireAuth(tokens))
		r.Get("/{recipientId}", messageHandler.HandleConversation)
	})

	// The websocket handler authenticates the upgrade itself, before any
	// registration happens.
	s.router.Get("/ws", wsHandler.ServeHTTP)

	return nil
}

// Handler exposes the assembled router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases the server's owned resources without serving. Start calls
// it automatically; tests that only use Handler should call it themselves.
func (s *Server) Close() error {
	return s.db.Close()
}

// Start serves HTTP until SIGINT/SIGTERM, then shuts down gracefully:
// in-flight requests get 30 seconds, then the database is closed.
func (s *Server) Start() error {
	defer s.db.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("database", s.config.DBPath),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
