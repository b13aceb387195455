// Personality companion server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/ashureev/persona-companion/internal/api"
	"github.com/ashureev/persona-companion/internal/chatws"
	"github.com/ashureev/persona-companion/internal/config"
	"github.com/ashureev/persona-companion/internal/identity"
	"github.com/ashureev/persona-companion/internal/llm"
	"github.com/ashureev/persona-companion/internal/logging"
	"github.com/ashureev/persona-companion/internal/memory"
	"github.com/ashureev/persona-companion/internal/middleware"
	"github.com/ashureev/persona-companion/internal/personality"
	"github.com/ashureev/persona-companion/internal/responder"
	"github.com/ashureev/persona-companion/internal/session"
	"github.com/ashureev/persona-companion/internal/store"
	"github.com/ashureev/persona-companion/web"
)

func main() {
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.New(os.Stdout, cfg.Log.Format, cfg.Log.Level)
	slog.SetDefault(logger)
	if envErr != nil {
		slog.Info("No .env file found, using environment variables")
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "mode", cfg.LLM.Mode())

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	completer, err := llm.New(cfg.LLM, logger)
	if err != nil {
		slog.Error("Failed to initialize completion service", "error", err)
		os.Exit(1)
	}

	extractor := memory.New(completer, logger)
	transformer := personality.NewTransformer(completer, logger)
	generator := responder.New(completer, logger)
	driver := session.NewDriver(repo, extractor, transformer, generator, cfg.Memory, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	limiter := middleware.NewRateLimiter(ctx, cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)

	apiHandler := api.NewHandler(api.Deps{
		Extractor:   extractor,
		Transformer: transformer,
		Generator:   generator,
		Driver:      driver,
		Limiter:     limiter,
		DB:          repo,
	}, cfg, logger)

	sm := chatws.NewSessionManager()
	wsHandler := chatws.NewHandler(driver, sm, limiter, cfg.FrontendURL, cfg.IsDevelopment())

	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(identity.Middleware(repo, cfg.IsDevelopment()))

	apiHandler.RegisterRoutes(r)
	r.Get("/ws/chat", wsHandler.ServeHTTP)
	r.Handle("/*", web.SPAHandler())

	// No WriteTimeout: WebSocket turns can outlast any fixed bound.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	janitorDone := session.StartJanitor(ctx, repo, cfg.SessionTTL, session.JanitorInterval)

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")
	sm.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	<-janitorDone

	slog.Info("Server stopped successfully")
}
