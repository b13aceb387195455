// Package responder produces the neutral base reply that personalities restyle.
package responder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ashureev/persona-companion/internal/domain"
	"github.com/ashureev/persona-companion/internal/llm"
)

const (
	historyWindow         = 10
	generationTemperature = 0.7
	generationMaxTokens   = 300

	systemPrompt = "You are a helpful AI assistant. Provide thoughtful, accurate responses."

	// Apology is returned when the service answers with no content.
	Apology = "I apologize, I could not generate a response."
)

// Generator produces a base reply for a conversation.
type Generator interface {
	Generate(ctx context.Context, messages []domain.Message) (string, error)
}

// New returns the service generator when a completer is configured and the
// echo generator otherwise.
func New(completer llm.Completer, logger *slog.Logger) Generator {
	if completer == nil {
		return Echo{}
	}
	return NewService(completer, logger)
}

// Echo answers with a fixed template around the last message.
type Echo struct{}

// Generate implements Generator.
func (Echo) Generate(_ context.Context, messages []domain.Message) (string, error) {
	last := ""
	if len(messages) > 0 {
		last = messages[len(messages)-1].Content
	}
	return fmt.Sprintf("I understand you're saying: \"%s\". That's an interesting point. How can I help you further?", last), nil
}

// Service generates replies through the completion service.
type Service struct {
	completer llm.Completer
	logger    *slog.Logger
}

// NewService creates a service-backed generator.
func NewService(completer llm.Completer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{completer: completer, logger: logger}
}

// Generate implements Generator. Service errors are returned to the caller.
func (s *Service) Generate(ctx context.Context, messages []domain.Message) (string, error) {
	out, err := s.completer.Complete(ctx, llm.Request{
		System:      systemPrompt,
		Messages:    llm.TurnsFromMessages(domain.LastN(messages, historyWindow)),
		Temperature: generationTemperature,
		MaxTokens:   generationMaxTokens,
	})
	if errors.Is(err, llm.ErrEmptyCompletion) {
		return Apology, nil
	}
	if err != nil {
		s.logger.Error("Response generation failed", "provider", s.completer.Provider(), "error", err)
		return "", fmt.Errorf("generate response: %w", err)
	}
	return out, nil
}
