// Command server runs the relaychat server: REST auth/history endpoints and
// the realtime websocket endpoint, backed by an embedded SQLite store.
package main

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"

	"github.com/tanvir/relaychat/internal/server"
)

type config struct {
	Port         int    `env:"PORT" envDefault:"5000"`
	DBPath       string `env:"DB_PATH" envDefault:"data/relaychat.db"`
	JWTSecret    string `env:"JWT_SECRET"`
	ClientOrigin string `env:"CLIENT_ORIGIN"`
	Debug        bool   `env:"DEBUG"`
}

func main() {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))

	if cfg.JWTSecret == "" {
		logger.Error("JWT_SECRET must be set (try: openssl rand -hex 32)")
		os.Exit(1)
	}

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			logger.Error("failed to create database directory",
				slog.String("dir", dir),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	srv, err := server.New(server.Config{
		Port:         cfg.Port,
		DBPath:       cfg.DBPath,
		JWTSecret:    cfg.JWTSecret,
		ClientOrigin: cfg.ClientOrigin,
	}, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
