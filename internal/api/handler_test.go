//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/persona-companion/internal/config"
	"github.com/ashureev/persona-companion/internal/domain"
	"github.com/ashureev/persona-companion/internal/identity"
	"github.com/ashureev/persona-companion/internal/memory"
	"github.com/ashureev/persona-companion/internal/middleware"
	"github.com/ashureev/persona-companion/internal/personality"
	"github.com/ashureev/persona-companion/internal/responder"
	"github.com/ashureev/persona-companion/internal/session"
	"github.com/ashureev/persona-companion/internal/store"
)

var testKey = domain.SessionKey{UserID: "anon_test", SessionID: "tab"}

func testConfig() *config.Config {
	return &config.Config{
		MaxRequestBodySize: 4096,
		LLM:                config.LLMConfig{Provider: config.ProviderOpenAI},
		Memory:             config.MemoryConfig{ExtractEvery: 5, ExtractMax: 30},
	}
}

type failingGenerator struct{}

func (failingGenerator) Generate(context.Context, []domain.Message) (string, error) {
	return "", errors.New("upstream 503")
}

type brokenDB struct{}

func (brokenDB) Ping(context.Context) error { return errors.New("disk I/O error") }

type testServer struct {
	router http.Handler
	deps   Deps
}

func newTestServer(t *testing.T, mutate func(d *Deps)) *testServer {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	cfg := testConfig()
	deps := Deps{
		Extractor:   memory.Heuristic{},
		Transformer: personality.Heuristic{},
		Generator:   responder.Echo{},
		DB:          repo,
	}
	if mutate != nil {
		mutate(&deps)
	}
	deps.Driver = session.NewDriver(repo, deps.Extractor, deps.Transformer, deps.Generator, cfg.Memory, nil)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(identity.WithSessionKey(req.Context(), testKey)))
		})
	})
	NewHandler(deps, cfg, nil).RegisterRoutes(r)
	return &testServer{router: r, deps: deps}
}

func (s *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(w.Body).Decode(v))
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	JSON(w, http.StatusCreated, map[string]string{"foo": "bar"})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"foo":"bar"}`, w.Body.String())
}

func TestError(t *testing.T) {
	w := httptest.NewRecorder()
	Error(w, http.StatusBadRequest, "bad")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"bad"}`, w.Body.String())
}

func TestExtractMemory(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, nil)

	body := `{"messages":[
		{"id":"1","role":"user","content":"I've been so stressed at work","timestamp":"2025-01-01T10:00:00.000Z"},
		{"id":"2","role":"assistant","content":"That sounds hard"},
		{"id":"3","role":"user","content":"I love my cat though"}
	]}`
	w := s.do(http.MethodPost, "/api/extract-memory", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Memory domain.ExtractedMemory `json:"memory"`
	}
	decodeBody(t, w, &resp)
	require.Len(t, resp.Memory.Preferences, 2)
	assert.Equal(t, "Interests", resp.Memory.Preferences[0].Category)
	assert.Equal(t, "Anxiety", resp.Memory.EmotionalPatterns[0].Emotion)
	assert.Equal(t, "User has sent 2 messages", resp.Memory.Facts[0].Fact)
}

func TestExtractMemoryBadInput(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, nil)

	tests := []struct {
		name   string
		body   string
		status int
		error  string
	}{
		{"no messages", `{"messages":[]}`, http.StatusBadRequest, "No messages provided"},
		{"missing field", `{}`, http.StatusBadRequest, "No messages provided"},
		{"malformed", `{"messages":`, http.StatusBadRequest, errInvalidBody},
		{"bad role", `{"messages":[{"role":"system","content":"x"}]}`, http.StatusBadRequest, "Invalid message role"},
		{"too large", `{"messages":[{"role":"user","content":"` + strings.Repeat("a", 5000) + `"}]}`,
			http.StatusRequestEntityTooLarge, "request body too large"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(http.MethodPost, "/api/extract-memory", tt.body)
			assert.Equal(t, tt.status, w.Code)
			assert.JSONEq(t, `{"error":"`+tt.error+`"}`, w.Body.String())
		})
	}
}

func TestGenerateResponse(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, nil)

	w := s.do(http.MethodPost, "/api/generate-response", `{"messages":[{"role":"user","content":"Hello"}]}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t,
		`{"response":"I understand you're saying: \"Hello\". That's an interesting point. How can I help you further?"}`,
		w.Body.String())
}

func TestGenerateResponseFailure(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, func(d *Deps) { d.Generator = failingGenerator{} })

	w := s.do(http.MethodPost, "/api/generate-response", `{"messages":[{"role":"user","content":"Hello"}]}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"Failed to generate response"}`, w.Body.String())
}

func TestTransformResponse(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, nil)

	tests := []struct {
		name   string
		body   string
		status int
		want   string
	}{
		{"witty friend", `{"originalResponse":"Good morning","personalityType":"witty_friend"}`,
			http.StatusOK, `{"transformedResponse":"Oh interesting! Good morning That's pretty cool, right?"}`},
		{"neutral with memory", `{"originalResponse":"Good morning","personalityType":"neutral",
			"memory":{"preferences":[],"emotionalPatterns":[],"facts":[]},"conversationContext":[]}`,
			http.StatusOK, `{"transformedResponse":"Good morning"}`},
		{"missing reply", `{"personalityType":"therapist"}`, http.StatusBadRequest, `{"error":"Missing required parameters"}`},
		{"missing personality", `{"originalResponse":"hi"}`, http.StatusBadRequest, `{"error":"Missing required parameters"}`},
		{"unknown personality", `{"originalResponse":"hi","personalityType":"pirate"}`,
			http.StatusOK, `{"transformedResponse":"hi"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(http.MethodPost, "/api/transform-response", tt.body)
			assert.Equal(t, tt.status, w.Code)
			assert.JSONEq(t, tt.want, w.Body.String())
		})
	}
}

func TestPersonalitiesAndConfig(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, nil)

	w := s.do(http.MethodGet, "/api/personalities", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Personalities []domain.PersonalityConfig `json:"personalities"`
	}
	decodeBody(t, w, &resp)
	require.Len(t, resp.Personalities, 4)
	assert.Equal(t, domain.PersonalityCalmMentor, resp.Personalities[0].Type)
	assert.NotContains(t, w.Body.String(), "prefix")

	w = s.do(http.MethodGet, "/api/config", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"mode":"heuristic","provider":"openai","extractEvery":5,"extractMax":30}`, w.Body.String())
}

func TestHealth(t *testing.T) {
	t.Parallel()

	w := newTestServer(t, nil).do(http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"database":"ok"`)

	w = newTestServer(t, func(d *Deps) { d.DB = brokenDB{} }).do(http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"database":"unreachable"`)
}

func TestSessionFlow(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, nil)

	w := s.do(http.MethodGet, "/api/session", "")
	require.Equal(t, http.StatusOK, w.Code)
	var state session.State
	decodeBody(t, w, &state)
	assert.Empty(t, state.Messages)
	assert.Equal(t, domain.PersonalityNeutral, state.Personality)

	w = s.do(http.MethodPut, "/api/session/personality", `{"personality":"therapist"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodPost, "/api/session/messages", `{"content":"I had a long day"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var turn session.Turn
	decodeBody(t, w, &turn)
	assert.True(t, strings.HasPrefix(turn.TransformedResponse, "I hear you. "))
	assert.Equal(t, turn.TransformedResponse, turn.AssistantMessage.Content)

	w = s.do(http.MethodPost, "/api/session/sample", "")
	require.Equal(t, http.StatusOK, w.Code)
	decodeBody(t, w, &state)
	assert.Len(t, state.Messages, 30)
	require.NotNil(t, state.Memory)

	w = s.do(http.MethodDelete, "/api/session", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = s.do(http.MethodGet, "/api/session", "")
	decodeBody(t, w, &state)
	assert.Empty(t, state.Messages)
	assert.Equal(t, domain.PersonalityTherapist, state.Personality)
}

func TestSessionBadInput(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, nil)

	w := s.do(http.MethodPost, "/api/session/messages", `{"content":"   "}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/api/session/messages", `{"content":"hi","personality":"pirate"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPut, "/api/session/personality", `{"personality":"pirate"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSendMessageGenerationFailure(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, func(d *Deps) { d.Generator = failingGenerator{} })

	w := s.do(http.MethodPost, "/api/session/messages", `{"content":"hello"}`)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	var resp struct {
		Error string       `json:"error"`
		Turn  session.Turn `json:"turn"`
	}
	decodeBody(t, w, &resp)
	assert.Equal(t, "Failed to generate response", resp.Error)
	assert.Equal(t, session.ErrorReply, resp.Turn.AssistantMessage.Content)
}

func TestRateLimitedRoutes(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := newTestServer(t, func(d *Deps) { d.Limiter = middleware.NewRateLimiter(ctx, 1, time.Minute) })

	body := `{"messages":[{"role":"user","content":"Hello"}]}`
	assert.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/generate-response", body).Code)
	assert.Equal(t, http.StatusTooManyRequests, s.do(http.MethodPost, "/api/extract-memory", body).Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/personalities", "").Code, "read routes are not limited")
}
