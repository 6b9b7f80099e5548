package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ashureev/groupmind/internal/api"
	"github.com/ashureev/groupmind/internal/bot"
	"github.com/ashureev/groupmind/internal/config"
	"github.com/ashureev/groupmind/internal/identity"
	"github.com/ashureev/groupmind/internal/imagegen"
	"github.com/ashureev/groupmind/internal/incident"
	"github.com/ashureev/groupmind/internal/llm"
	"github.com/ashureev/groupmind/internal/middleware"
	"github.com/ashureev/groupmind/internal/session"
	"github.com/ashureev/groupmind/internal/store"
	"github.com/ashureev/groupmind/internal/transport/telegram"
	"github.com/ashureev/groupmind/internal/transport/webchat"
	"github.com/ashureev/groupmind/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
)

const webChatBotName = "groupmind"

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bot and the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if transport, _ := cmd.Flags().GetString("transport"); transport != "" {
				if err := os.Setenv("TRANSPORT", transport); err != nil {
					return err
				}
			}
			return runServe()
		},
	}
	cmd.Flags().String("transport", "", "Override TRANSPORT (telegram, webchat or both).")
	return cmd
}

func runServe() error {
	cfg, logger, err := loadConfig(config.Load)
	if err != nil {
		return err
	}

	slog.Info("Starting server", "port", cfg.Port, "transport", cfg.Transport, "text_backend", cfg.Text.Backend, "dev", cfg.IsDevelopment())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		return err
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(ctx); err != nil {
		slog.Error("Database health check failed", "error", err)
		return err
	}
	slog.Info("Database connected")

	text, checker, closeText, err := newTextClient(cfg, logger)
	if err != nil {
		slog.Error("Failed to initialize text backend", "error", err)
		return err
	}
	defer closeText()

	images := newImageClient(cfg)

	sessions := session.NewStore(cfg.OfflineChats)
	router := bot.NewRouter(bot.Config{
		Sessions:       sessions,
		Text:           text,
		Images:         images,
		Reporter:       incident.NewReporter(logger, repo),
		TranscriptZone: cfg.TranscriptZone,
		Logger:         logger,
	})
	dispatcher := bot.NewDispatcher(router, cfg.DispatchBacklogWarn, logger)

	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	api.NewHealthHandler(repo, checker).RegisterHealth(r)
	api.NewAdminHandler(repo, sessions, cfg.AdminToken).RegisterRoutes(r)

	if cfg.WantsWebChat() {
		hub := webchat.NewHub(webChatBotName)
		ws := webchat.NewWebSocketHandler(hub, dispatcher, cfg.AllowedOrigins, cfg.IsDevelopment())
		r.With(identity.Middleware(cfg.IsDevelopment())).Get("/ws/chat", ws.ServeHTTP)
		slog.Info("Web chat enabled", "path", "/ws/chat")
	}

	r.Handle("/*", web.SPAHandler())

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // websocket connections are long-lived
		IdleTimeout:  120 * time.Second,
	}

	store.StartRetentionWorker(ctx, repo, cfg.IncidentRetention)
	slog.Info("Incident retention worker started", "retention", cfg.IncidentRetention)

	var wg sync.WaitGroup
	if cfg.WantsTelegram() {
		tg, err := telegram.New(cfg.Telegram.Token, cfg.Telegram.PollTimeout, cfg.Telegram.Debug, logger)
		if err != nil {
			slog.Error("Failed to connect to Telegram", "error", err)
			return err
		}
		if err := tg.RegisterCommands(); err != nil {
			slog.Warn("Failed to register bot commands", "error", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := tg.Run(ctx, dispatcher); err != nil {
				slog.Error("Telegram transport stopped", "error", err)
				stop()
			}
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		slog.Error("Server failed", "error", err)
		stop()
		dispatcher.Close()
		wg.Wait()
		return err
	}
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	wg.Wait()
	dispatcher.Close()

	slog.Info("Server stopped successfully")
	return nil
}

// newTextClient builds the configured text backend. checker is nil when the
// backend has no health probe.
func newTextClient(cfg *config.Config, logger *slog.Logger) (llm.Client, llm.HealthChecker, func(), error) {
	switch cfg.Text.Backend {
	case config.TextBackendGRPC:
		gcfg := llm.DefaultGrpcClientConfig()
		gcfg.Address = cfg.Text.GRPCAddr
		gcfg.Model = cfg.Text.Model
		gcfg.SystemPrompt = cfg.Text.SystemPrompt
		gcfg.RequestTimeout = cfg.Text.Timeout
		client, err := llm.NewGrpcClient(gcfg, logger)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect to completion sidecar: %w", err)
		}
		slog.Info("Connected to completion sidecar", "address", gcfg.Address)
		return client, client, client.Close, nil
	default:
		client := llm.NewOpenAIClient(llm.OpenAIConfig{
			BaseURL:      cfg.Text.BaseURL,
			APIKey:       cfg.Text.APIKey,
			Model:        cfg.Text.Model,
			SystemPrompt: cfg.Text.SystemPrompt,
			Timeout:      cfg.Text.Timeout,
		})
		return client, nil, func() {}, nil
	}
}

func newImageClient(cfg *config.Config) imagegen.Client {
	if !cfg.ImageEnabled() {
		slog.Info("Image generation disabled (REPLICATE_API_TOKEN not set)")
		return imagegen.Disabled{}
	}
	return imagegen.NewReplicateClient(imagegen.ReplicateConfig{
		BaseURL:  cfg.Replicate.BaseURL,
		APIToken: cfg.Replicate.APIToken,
		Model:    cfg.Replicate.Model,
		Timeout:  cfg.Replicate.Timeout,
	})
}
