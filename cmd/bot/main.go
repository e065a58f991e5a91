// Studiora chat bot.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ashureev/studiora/internal/apiclient"
	"github.com/ashureev/studiora/internal/chat"
	"github.com/ashureev/studiora/internal/config"
	"github.com/ashureev/studiora/internal/domain"
	"github.com/ashureev/studiora/internal/i18n"
	"github.com/ashureev/studiora/internal/identity"
	"github.com/ashureev/studiora/internal/middleware"
	"github.com/ashureev/studiora/internal/probe"
	"github.com/ashureev/studiora/internal/transport/telegram"
	"github.com/ashureev/studiora/internal/transport/wsconn"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel(),
	}))
	slog.SetDefault(logger)

	if err := cfg.ValidateBot(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting bot", "api_url", cfg.Bot.APIURL, "telegram", cfg.Bot.Token != "", "ws_addr", cfg.Bot.WSAddr)

	// Fail fast when the lesson API is unreachable.
	if cfg.Bot.APIGRPCAddr != "" {
		connectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		health, err := probe.Dial(connectCtx, cfg.Bot.APIGRPCAddr, logger)
		if err == nil {
			err = health.Check(connectCtx)
			defer health.Close()
		}
		cancel()
		if err != nil {
			slog.Error("Lesson API is not healthy", "address", cfg.Bot.APIGRPCAddr, "error", err)
			os.Exit(1)
		}
	}

	backend := apiclient.New(cfg.Bot.APIURL, cfg.Bot.APITimeout)
	resolver := identity.NewResolver(backend, logger)
	catalog := i18n.Default()
	engineCfg := chat.Config{
		GenerationTimeout: cfg.Bot.GenerationTimeout,
		PageSize:          cfg.Bot.HistoryPageSize,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Each transport gets its own engine; the language cache is shared.
	var engines []*chat.Engine
	var wg sync.WaitGroup

	if cfg.Bot.Token != "" {
		tg, err := telegram.New(telegram.Config{Token: cfg.Bot.Token, PollTimeout: cfg.Bot.PollTimeout}, logger)
		if err != nil {
			slog.Error("Failed to initialize Telegram transport", "error", err)
			os.Exit(1)
		}
		engine := chat.NewEngine(engineCfg, backend, tg, resolver, catalog, logger)
		tg.SetHandler(engine)
		engines = append(engines, engine)

		err = tg.SetCommands(map[string]string{
			chat.CommandStart: catalog.T("cmd_start", domain.DefaultLanguage),
			chat.CommandHelp:  catalog.T("cmd_help", domain.DefaultLanguage),
		})
		if err != nil {
			slog.Warn("Failed to publish bot commands", "error", err)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			tg.Run(ctx)
		}()
	}

	var srv *http.Server
	if cfg.Bot.WSAddr != "" {
		hub := wsconn.NewHub(logger)
		engine := chat.NewEngine(engineCfg, backend, hub, resolver, catalog, logger)
		hub.SetHandler(engine)
		engines = append(engines, engine)

		r := chi.NewRouter()
		r.Use(chiMiddleware.RequestID)
		r.Use(chiMiddleware.RealIP)
		r.Use(middleware.RequestLogger(logger))
		r.Use(chiMiddleware.Recoverer)
		r.Use(chiMiddleware.Heartbeat("/health"))
		r.Use(middleware.CORS(cfg.CORSOrigins))
		r.Get("/ws/chat", hub.ServeHTTP)

		srv = &http.Server{
			Addr:        cfg.Bot.WSAddr,
			Handler:     r,
			ReadTimeout: 30 * time.Second,
			IdleTimeout: 120 * time.Second,
		}
		go func() {
			slog.Info("WebSocket chat listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("WebSocket server failed", "error", err)
				stop()
			}
		}()
	}

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("WebSocket server forced to shutdown", "error", err)
		}
	}
	wg.Wait()

	// In-flight generations still deliver their documents.
	for _, engine := range engines {
		engine.Wait()
		slog.Info("Engine stopped", "sessions", engine.Sessions().Len())
	}
	slog.Info("Bot stopped", "cached_languages", resolver.Len())
}
