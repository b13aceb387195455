// Package api provides HTTP handlers for the companion API.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/persona-companion/internal/config"
	"github.com/ashureev/persona-companion/internal/memory"
	"github.com/ashureev/persona-companion/internal/middleware"
	"github.com/ashureev/persona-companion/internal/personality"
	"github.com/ashureev/persona-companion/internal/responder"
	"github.com/ashureev/persona-companion/internal/session"
)

const errInvalidBody = "invalid request body"

// Handler serves the companion API.
type Handler struct {
	extractor   memory.Extractor
	transformer personality.Transformer
	generator   responder.Generator
	driver      *session.Driver
	limiter     *middleware.RateLimiter
	db          Pinger
	cfg         *config.Config
	logger      *slog.Logger
}

// Deps groups the collaborators of Handler.
type Deps struct {
	Extractor   memory.Extractor
	Transformer personality.Transformer
	Generator   responder.Generator
	Driver      *session.Driver
	Limiter     *middleware.RateLimiter
	DB          Pinger
}

// NewHandler creates a new Handler.
func NewHandler(deps Deps, cfg *config.Config, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		extractor:   deps.Extractor,
		transformer: deps.Transformer,
		generator:   deps.Generator,
		driver:      deps.Driver,
		limiter:     deps.Limiter,
		db:          deps.DB,
		cfg:         cfg,
		logger:      logger,
	}
}

// RegisterRoutes mounts the API. Completion-backed routes are rate limited
// per user.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Get("/personalities", h.Personalities)
		r.Get("/config", h.GetConfig)

		r.Group(func(r chi.Router) {
			if h.limiter != nil {
				r.Use(middleware.RateLimit(h.limiter))
			}
			r.Post("/extract-memory", h.ExtractMemory)
			r.Post("/generate-response", h.GenerateResponse)
			r.Post("/transform-response", h.TransformResponse)
			r.Post("/session/messages", h.SendMessage)
			r.Post("/session/sample", h.LoadSample)
		})

		r.Get("/session", h.GetSession)
		r.Put("/session/personality", h.SetPersonality)
		r.Delete("/session", h.ResetSession)
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// decode reads a size-limited JSON body into v. On failure it writes the
// error response and returns false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		Error(w, http.StatusBadRequest, errInvalidBody)
		return false
	}
	return true
}
