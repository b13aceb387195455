package api

import (
	"errors"
	"net/http"

	"github.com/ashureev/persona-companion/internal/domain"
	"github.com/ashureev/persona-companion/internal/identity"
	"github.com/ashureev/persona-companion/internal/session"
)

type sendRequest struct {
	Content     string                 `json:"content"`
	Personality domain.PersonalityType `json:"personality"`
}

type personalityRequest struct {
	Personality domain.PersonalityType `json:"personality"`
}

// GetSession handles GET /api/session.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	state, err := h.driver.State(r.Context(), identity.SessionKeyFromContext(r.Context()))
	if err != nil {
		h.logger.Error("Failed to load session", "error", err)
		Error(w, http.StatusInternalServerError, "Failed to load session")
		return
	}
	JSON(w, http.StatusOK, state)
}

// SendMessage handles POST /api/session/messages.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if !h.decode(w, r, &req) {
		return
	}

	key := identity.SessionKeyFromContext(r.Context())
	turn, err := h.driver.Send(r.Context(), key, req.Content, req.Personality, nil)
	switch {
	case errors.Is(err, session.ErrEmptyMessage):
		Error(w, http.StatusBadRequest, "Message content is required")
	case errors.Is(err, session.ErrUnknownPersonality):
		Error(w, http.StatusBadRequest, "Unknown personality type")
	case err != nil && turn != nil:
		h.logger.Error("Failed to generate response", "session", key.String(), "error", err)
		JSON(w, http.StatusInternalServerError, map[string]any{"error": "Failed to generate response", "turn": turn})
	case err != nil:
		h.logger.Error("Failed to send message", "session", key.String(), "error", err)
		Error(w, http.StatusInternalServerError, "Failed to send message")
	default:
		JSON(w, http.StatusOK, turn)
	}
}

// SetPersonality handles PUT /api/session/personality.
func (h *Handler) SetPersonality(w http.ResponseWriter, r *http.Request) {
	var req personalityRequest
	if !h.decode(w, r, &req) {
		return
	}

	err := h.driver.SetPersonality(r.Context(), identity.SessionKeyFromContext(r.Context()), req.Personality)
	if errors.Is(err, session.ErrUnknownPersonality) {
		Error(w, http.StatusBadRequest, "Unknown personality type")
		return
	}
	if err != nil {
		h.logger.Error("Failed to set personality", "error", err)
		Error(w, http.StatusInternalServerError, "Failed to set personality")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"personality": string(req.Personality)})
}

// LoadSample handles POST /api/session/sample.
func (h *Handler) LoadSample(w http.ResponseWriter, r *http.Request) {
	state, err := h.driver.LoadSample(r.Context(), identity.SessionKeyFromContext(r.Context()))
	if err != nil {
		h.logger.Error("Failed to load sample conversation", "error", err)
		Error(w, http.StatusInternalServerError, "Failed to load sample conversation")
		return
	}
	JSON(w, http.StatusOK, state)
}

// ResetSession handles DELETE /api/session.
func (h *Handler) ResetSession(w http.ResponseWriter, r *http.Request) {
	if err := h.driver.Reset(r.Context(), identity.SessionKeyFromContext(r.Context())); err != nil {
		h.logger.Error("Failed to reset session", "error", err)
		Error(w, http.StatusInternalServerError, "Failed to reset session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
