// Package llm is the boundary to external chat-completion services.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/persona-companion/internal/config"
	"github.com/ashureev/persona-companion/internal/domain"
)

// ErrEmptyCompletion is returned when the service answers without content.
var ErrEmptyCompletion = errors.New("empty completion")

// Turn is one prior message passed to the model.
type Turn struct {
	Role    domain.Role
	Content string
}

// Request describes a single completion call.
type Request struct {
	System      string
	Messages    []Turn
	Temperature float64
	MaxTokens   int64 // 0 leaves the provider default
	JSON        bool  // ask for a bare JSON object
}

// Completer sends one completion request and returns the text of the first choice.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
	Provider() string
}

// UserTurn builds a single-message conversation.
func UserTurn(content string) []Turn {
	return []Turn{{Role: domain.RoleUser, Content: content}}
}

// TurnsFromMessages converts chat messages to completion turns.
func TurnsFromMessages(messages []domain.Message) []Turn {
	turns := make([]Turn, 0, len(messages))
	for _, m := range messages {
		role := domain.RoleAssistant
		if m.Role == domain.RoleUser {
			role = domain.RoleUser
		}
		turns = append(turns, Turn{Role: role, Content: m.Content})
	}
	return turns
}

// New returns the completer selected by cfg, or nil when cfg calls for the
// heuristic path (mock override or no credential).
func New(cfg config.LLMConfig, logger *slog.Logger) (Completer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HeuristicsOnly() {
		logger.Info("Completion service disabled, using heuristics",
			"provider", cfg.Provider, "mock_override", cfg.UseMock)
		return nil, nil
	}

	var c Completer
	switch cfg.Provider {
	case config.ProviderOpenAI:
		c = NewOpenAI(cfg.OpenAIAPIKey, cfg.BaseURL, cfg.Model)
	case config.ProviderAnthropic:
		c = NewAnthropic(cfg.AnthropicAPIKey, cfg.BaseURL, cfg.Model)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}

	logger.Info("Completion service enabled", "provider", c.Provider())
	return WithTimeout(c, cfg.RequestTimeout), nil
}

type timeoutCompleter struct {
	next    Completer
	timeout time.Duration
}

// WithTimeout bounds every call to c by d.
func WithTimeout(c Completer, d time.Duration) Completer {
	if d <= 0 {
		return c
	}
	return &timeoutCompleter{next: c, timeout: d}
}

func (t *timeoutCompleter) Complete(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Complete(ctx, req)
}

func (t *timeoutCompleter) Provider() string {
	return t.next.Provider()
}
