package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"campus-chat/auth"
	transport "campus-chat/infrastructure/http"
	"campus-chat/internal"
	"campus-chat/moderation"
	"campus-chat/observability"
	"campus-chat/repositories"
	"campus-chat/runtime"
	"campus-chat/runtime/workers"
	"campus-chat/search"
	"campus-chat/services"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
)

const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Server terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run owns the whole lifecycle so every defer fires before the process
// exits, and main stays a thin exit-code wrapper.
func run() (int, error) {
	// 1. Configuration & logger
	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	if err := config.Validate(); err != nil {
		return exitConfig, err
	}
	logger := internal.GetLoggerFromString(config.LogLevel)

	ctx := context.Background()

	// 2. Store
	options := badger.DefaultOptions(config.BadgerFilepath).
		WithLogger(nil)
	db, err := badger.Open(options)
	if err != nil {
		return exitRuntime, fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		logger.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	// 3. Transcript index
	index, err := search.Open(config.BlugeFilepath, logger)
	if err != nil {
		return exitRuntime, fmt.Errorf("failed to open transcript index: %w", err)
	}
	defer func() {
		logger.Info("Closing index...")
		_ = index.Close()
	}()

	// 4. Moderation
	var blockedWords []string
	if config.WordListPath != "" {
		blockedWords, err = moderation.LoadWordList(config.WordListPath)
		if err != nil {
			return exitConfig, fmt.Errorf("word list loading failed: %w", err)
		}
	}
	moderator, err := moderation.NewModerator(blockedWords)
	if err != nil {
		return exitConfig, fmt.Errorf("moderator init failed: %w", err)
	}

	// 5. Engine wiring
	stats := &observability.Stats{}
	registry := runtime.NewRegistry()
	presence := runtime.NewPresenceTracker(config.TypingWindow)

	accountRepository := repositories.NewAccountRepository(db, logger)
	conversationRepository := repositories.NewConversationRepository(db, logger)
	messageRepository := repositories.NewMessageRepository(db, logger)
	announcementRepository := repositories.NewAnnouncementRepository(db, logger)

	dispatcher := runtime.NewDispatcher(logger, registry, &dispatcherReader{
		accounts:      accountRepository,
		conversations: conversationRepository,
	}, stats, config.NumberOfWorkers, config.BufferSize, config.SinkTimeout)

	supervisor := workers.NewSupervisor(logger)
	supervisor.Add(dispatcher.Workers()...)
	supervisor.Add(runtime.NewPresenceSweeper(logger, presence, config.SweepInterval))

	tokens := auth.NewTokenManager([]byte(config.TokenSecret), config.TokenIssuer, config.TokenLifetime)
	service := services.NewMessagingService(
		logger,
		accountRepository,
		conversationRepository,
		messageRepository,
		announcementRepository,
		dispatcher,
		registry,
		presence,
		moderator,
		index,
		stats,
	)

	if logger.Enabled(ctx, slog.LevelDebug) {
		url := fmt.Sprintf("http://localhost:%d/inspect", config.DebugPort)
		logger.Info("Debug store inspector available", "url", url)
		internal.StartDebugServer(db, config.DebugPort, func() map[string]any {
			snap := stats.Snapshot()
			return map[string]any{
				"published":   snap.Published,
				"delivered":   snap.Delivered,
				"denied":      snap.Denied,
				"subscribers": snap.Subscribers,
			}
		})
	}

	// 6. Context & signals
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 7. Fan-out workers under supervision
	go func() {
		logger.Info("Starting supervisor...")
		supervisor.Run(ctx)
	}()

	// 8. HTTP server
	server := transport.NewServer(logger, service, tokens, stats)
	address := fmt.Sprintf("%s:%d", config.Host, config.Port)
	httpServer := &http.Server{Addr: address, Handler: server.Handler()}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", "address", address, "at", time.Now().UTC())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// 9. Wait for stop or error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errChan:
		return exitRuntime, err
	}

	// 10. Graceful shutdown: stop accepting requests, then let the
	// supervisor drain its workers.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", "error", err)
	}
	supervisor.Stop()

	logger.Info("Server stopped")
	return exitOK, nil
}
