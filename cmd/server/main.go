package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/voicebridge/relay/internal/ai"
	"github.com/voicebridge/relay/internal/ai/gemini"
	"github.com/voicebridge/relay/internal/ai/openai"
	"github.com/voicebridge/relay/internal/api"
	"github.com/voicebridge/relay/internal/config"
	"github.com/voicebridge/relay/internal/guardrail"
	"github.com/voicebridge/relay/internal/storage/sqlite"
	"github.com/voicebridge/relay/internal/telephony"
	"github.com/voicebridge/relay/internal/translation"
	"github.com/voicebridge/relay/internal/websocket"
	"github.com/voicebridge/relay/pkg/logger"
)

var (
	// Version is injected at build time
	Version = "dev"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to configuration file (optional - will search in configs/ and root directory)")
	flag.Parse()

	// Load configuration with fallback logic
	cfg, err := config.LoadWithFallback(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Create logger
	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting VoiceBridge relay server",
		logger.String("version", Version),
		logger.String("config_path", *configPath),
	)

	// Generate today's database filename
	today := time.Now().Format("2006-01-02")
	dbFilename := fmt.Sprintf("relay-%s.db", today)
	dbPath := filepath.Join(cfg.Storage.SQLiteBasePath, dbFilename)

	// Ensure the directory exists
	if err := os.MkdirAll(cfg.Storage.SQLiteBasePath, 0755); err != nil {
		log.Error("Failed to create database directory", logger.Error(err), logger.String("path", cfg.Storage.SQLiteBasePath))
		os.Exit(1)
	}

	log.Info("Using daily database", logger.String("path", dbPath))

	// Create SQLite call storage
	callStorage, err := sqlite.NewCallStorage(dbPath, cfg.Storage.MaxCallsInAPI, log)
	if err != nil {
		log.Error("Failed to create SQLite storage", logger.Error(err))
		os.Exit(1)
	}
	defer callStorage.Close()

	// Create the realtime translation provider
	realtimeProvider := openai.NewClient(cfg.OpenAI.APIKey, log, cfg.OpenAI.BaseURL)

	// Create the guardrail fallback chat provider
	var chatProvider ai.ChatProvider
	switch cfg.Guardrail.FallbackProvider {
	case "gemini":
		chatProvider = gemini.NewClient(cfg.Gemini.APIKey, log)
	case "openai":
		chatProvider = realtimeProvider
	default:
		log.Error("Unknown guardrail fallback provider",
			logger.String("provider", cfg.Guardrail.FallbackProvider))
		os.Exit(1)
	}

	// Create the guardrail filter
	filter := guardrail.NewFilter(guardrail.Config{
		Enabled:           cfg.Guardrail.Enabled,
		AlwaysDoubleCheck: cfg.Guardrail.AlwaysDoubleCheck,
		FallbackModel:     cfg.Guardrail.FallbackModel,
		FallbackTimeout:   time.Duration(cfg.Guardrail.FallbackTimeoutMs) * time.Millisecond,
	}, chatProvider, log)

	// Create the call manager
	manager := translation.NewManager(realtimeProvider, filter, callStorage, cfg, log)

	// Create WebSocket servers for the client device and the telephony gateway
	wsServer := websocket.NewServer(manager, log)
	telServer := telephony.NewServer(manager, cfg.Telephony, log)

	// Create API router
	router := api.NewRouter(manager, callStorage, wsServer, telServer, cfg, log)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router.Routes(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSecs) * time.Second,
	}

	go func() {
		log.Info("Starting HTTP server", logger.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error on startup", logger.String("addr", addr), logger.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("Shutting down server...")

	// Hang up in-progress calls first so their records are persisted
	log.Info("Ending in-progress calls...")
	callCtx, callCancel := context.WithTimeout(context.Background(), 10*time.Second)
	manager.Shutdown(callCtx)
	callCancel()
	log.Info("All calls ended.")

	// Shutdown the HTTP server
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", logger.Error(err))
	}

	log.Info("Server fully stopped")
}
