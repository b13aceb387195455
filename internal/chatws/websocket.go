package chatws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/ashureev/persona-companion/internal/domain"
	"github.com/ashureev/persona-companion/internal/identity"
	"github.com/ashureev/persona-companion/internal/middleware"
	"github.com/ashureev/persona-companion/internal/session"
)

// Inbound message types.
const (
	msgSend        = "send"
	msgPersonality = "personality"
	msgSample      = "sample"
	msgReset       = "reset"
	msgState       = "state"
	msgPing        = "ping"
)

// inbound is a client request.
type inbound struct {
	Type        string                 `json:"type"`
	Content     string                 `json:"content,omitempty"`
	Personality domain.PersonalityType `json:"personality,omitempty"`
}

// outbound is a server push. Only the field matching Type is set.
type outbound struct {
	Type   string                  `json:"type"`
	Turn   *session.Turn           `json:"turn,omitempty"`
	Memory *domain.ExtractedMemory `json:"memory,omitempty"`
	State  *session.State          `json:"state,omitempty"`
	Error  string                  `json:"error,omitempty"`
}

func fromEvent(e session.Event) outbound {
	return outbound{Type: string(e.Type), Turn: e.Turn, Memory: e.Memory, Error: e.Error}
}

// Handler serves /ws/chat.
type Handler struct {
	driver        *session.Driver
	sm            *SessionManager
	limiter       *middleware.RateLimiter
	allowedOrigin string
	isDev         bool
}

// NewHandler creates a chat WebSocket handler. limiter may be nil.
func NewHandler(driver *session.Driver, sm *SessionManager, limiter *middleware.RateLimiter, allowedOrigin string, isDev bool) *Handler {
	return &Handler{
		driver:        driver,
		sm:            sm,
		limiter:       limiter,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := identity.SessionKeyFromContext(r.Context())
	slog.Info("WebSocket connection request", "user_id", key.UserID, "session_id", key.SessionID, "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", key.UserID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", key.UserID)
		}
	}()

	h.sm.Register(key, ws)
	defer h.sm.Unregister(key, ws)

	ctx := r.Context()
	state, err := h.driver.State(ctx, key)
	if err != nil {
		slog.Error("Failed to load session state", "error", err, "user_id", key.UserID)
		h.write(ctx, ws, outbound{Type: string(session.EventError), Error: "failed to load session"})
		return
	}
	h.write(ctx, ws, outbound{Type: msgState, State: state})

	h.readLoop(ctx, ws, key)
	slog.Info("Chat session ended", "user_id", key.UserID, "session_id", key.SessionID)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, key domain.SessionKey) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				slog.Debug("WebSocket closed", "user_id", key.UserID)
			} else {
				slog.Warn("WebSocket read error", "error", err, "user_id", key.UserID)
			}
			return
		}

		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			h.writeError(ctx, ws, "invalid message")
			continue
		}
		h.dispatch(ctx, ws, key, msg)
	}
}

func (h *Handler) dispatch(ctx context.Context, ws *websocket.Conn, key domain.SessionKey, msg inbound) {
	switch msg.Type {
	case msgSend:
		if !h.allow(key) {
			h.writeError(ctx, ws, "rate limit exceeded")
			return
		}
		notify := func(e session.Event) { h.write(ctx, ws, fromEvent(e)) }
		turn, err := h.driver.Send(ctx, key, msg.Content, msg.Personality, notify)
		switch {
		case errors.Is(err, session.ErrEmptyMessage):
			h.writeError(ctx, ws, "message content is required")
		case errors.Is(err, session.ErrUnknownPersonality):
			h.writeError(ctx, ws, "unknown personality type")
		case err != nil && turn != nil:
			// The apology reply was stored; show it before the error.
			h.write(ctx, ws, outbound{Type: string(session.EventReply), Turn: turn})
			h.writeError(ctx, ws, "failed to generate response")
		case err != nil:
			slog.Error("Failed to send message", "error", err, "user_id", key.UserID)
			h.writeError(ctx, ws, "failed to send message")
		default:
			h.write(ctx, ws, outbound{Type: string(session.EventReply), Turn: turn})
		}

	case msgPersonality:
		if err := h.driver.SetPersonality(ctx, key, msg.Personality); err != nil {
			h.writeError(ctx, ws, "unknown personality type")
			return
		}
		h.pushState(ctx, ws, key)

	case msgSample:
		if !h.allow(key) {
			h.writeError(ctx, ws, "rate limit exceeded")
			return
		}
		h.write(ctx, ws, outbound{Type: string(session.EventExtracting)})
		state, err := h.driver.LoadSample(ctx, key)
		if err != nil {
			slog.Error("Failed to load sample conversation", "error", err, "user_id", key.UserID)
			h.writeError(ctx, ws, "failed to load sample conversation")
			return
		}
		h.write(ctx, ws, outbound{Type: msgState, State: state})

	case msgReset:
		if err := h.driver.Reset(ctx, key); err != nil {
			slog.Error("Failed to reset session", "error", err, "user_id", key.UserID)
			h.writeError(ctx, ws, "failed to reset session")
			return
		}
		h.pushState(ctx, ws, key)

	case msgState:
		h.pushState(ctx, ws, key)

	case msgPing:
		h.write(ctx, ws, outbound{Type: "pong"})

	default:
		h.writeError(ctx, ws, "unknown message type")
	}
}

func (h *Handler) allow(key domain.SessionKey) bool {
	return h.limiter == nil || h.limiter.Allow(key.UserID)
}

func (h *Handler) pushState(ctx context.Context, ws *websocket.Conn, key domain.SessionKey) {
	state, err := h.driver.State(ctx, key)
	if err != nil {
		slog.Error("Failed to load session state", "error", err, "user_id", key.UserID)
		h.writeError(ctx, ws, "failed to load session")
		return
	}
	h.write(ctx, ws, outbound{Type: msgState, State: state})
}

func (h *Handler) writeError(ctx context.Context, ws *websocket.Conn, message string) {
	h.write(ctx, ws, outbound{Type: string(session.EventError), Error: message})
}

func (h *Handler) write(ctx context.Context, ws *websocket.Conn, msg outbound) {
	if err := wsjson.Write(ctx, ws, msg); err != nil {
		slog.Debug("WebSocket write error", "error", err, "type", msg.Type)
	}
}
