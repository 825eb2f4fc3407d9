package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/AlexTLDR/irl/internal/attendance"
	"github.com/AlexTLDR/irl/internal/config"
	"github.com/AlexTLDR/irl/internal/database"
	"github.com/AlexTLDR/irl/internal/guestapi"
	"github.com/AlexTLDR/irl/internal/notify"
	"github.com/AlexTLDR/irl/internal/server"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	// Load .env file (ignore error if a file doesn't exist)
	// Use Overload to force to overwrite any existing environment variables
	if err := godotenv.Overload(); err != nil {
		logger.Warn().Err(err).Msg("No .env file loaded")
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load config")
	}
	logger = logger.Level(cfg.LogLevel)

	// Initialize database
	db, err := database.New(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close database")
		}
	}()

	// Run migrations
	if err := db.Migrate(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to run migrations")
	}

	// Guests live in the local database unless a remote directory is configured
	var guests attendance.GuestService = db
	if cfg.DirectoryAPIURL != "" {
		client, err := guestapi.New(cfg.DirectoryAPIURL, cfg.DirectoryAPIToken, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create directory client")
		}
		guests = client
		logger.Info().Str("url", cfg.DirectoryAPIURL).Msg("Using remote guest directory")
	}

	srv := server.New(cfg, guests, db, notify.NewBus(), logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Start(":" + cfg.Port)
	}()

	select {
	case err := <-errc:
		if err != nil {
			logger.Fatal().Err(err).Msg("Server failed")
		}
	case <-ctx.Done():
		logger.Info().Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Graceful shutdown failed")
		}
	}
}
