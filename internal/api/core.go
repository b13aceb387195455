package api

import (
	"net/http"

	"github.com/ashureev/persona-companion/internal/domain"
	"github.com/ashureev/persona-companion/internal/personality"
)

type messagesRequest struct {
	Messages []domain.Message `json:"messages"`
}

type transformRequest struct {
	OriginalResponse    string                  `json:"originalResponse"`
	PersonalityType     domain.PersonalityType  `json:"personalityType"`
	Memory              *domain.ExtractedMemory `json:"memory"`
	ConversationContext []domain.Message        `json:"conversationContext"`
}

func validRoles(msgs []domain.Message) bool {
	for _, m := range msgs {
		if !m.Role.Valid() {
			return false
		}
	}
	return true
}

// ExtractMemory handles POST /api/extract-memory.
func (h *Handler) ExtractMemory(w http.ResponseWriter, r *http.Request) {
	var req messagesRequest
	if !h.decode(w, r, &req) {
		return
	}
	if len(req.Messages) == 0 {
		Error(w, http.StatusBadRequest, "No messages provided")
		return
	}
	if !validRoles(req.Messages) {
		Error(w, http.StatusBadRequest, "Invalid message role")
		return
	}

	mem := h.extractor.Extract(r.Context(), req.Messages)
	JSON(w, http.StatusOK, map[string]any{"memory": mem})
}

// GenerateResponse handles POST /api/generate-response.
func (h *Handler) GenerateResponse(w http.ResponseWriter, r *http.Request) {
	var req messagesRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !validRoles(req.Messages) {
		Error(w, http.StatusBadRequest, "Invalid message role")
		return
	}

	reply, err := h.generator.Generate(r.Context(), req.Messages)
	if err != nil {
		h.logger.Error("Response generation API error", "error", err)
		Error(w, http.StatusInternalServerError, "Failed to generate response")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"response": reply})
}

// TransformResponse handles POST /api/transform-response. An unknown
// personality returns the reply unchanged.
func (h *Handler) TransformResponse(w http.ResponseWriter, r *http.Request) {
	var req transformRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.OriginalResponse == "" || req.PersonalityType == "" {
		Error(w, http.StatusBadRequest, "Missing required parameters")
		return
	}
	mem := domain.EmptyMemory()
	if req.Memory != nil {
		mem = *req.Memory
	}
	out := h.transformer.Transform(r.Context(), req.OriginalResponse, req.PersonalityType, mem, req.ConversationContext)
	JSON(w, http.StatusOK, map[string]string{"transformedResponse": out})
}

// Personalities handles GET /api/personalities.
func (h *Handler) Personalities(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]any{"personalities": personality.All()})
}

// GetConfig handles GET /api/config.
func (h *Handler) GetConfig(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]any{
		"mode":         h.cfg.LLM.Mode(),
		"provider":     h.cfg.LLM.Provider,
		"extractEvery": h.cfg.Memory.ExtractEvery,
		"extractMax":   h.cfg.Memory.ExtractMax,
	})
}
