package personality

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/samber/lo"

	"github.com/ashureev/persona-companion/internal/domain"
	"github.com/ashureev/persona-companion/internal/llm"
)

const (
	contextWindow        = 6
	transformTemperature = 0.8
	transformMaxTokens   = 500
)

// Transformer restyles a neutral reply. It always returns text and never fails.
type Transformer interface {
	Transform(ctx context.Context, reply string, p domain.PersonalityType, memory domain.ExtractedMemory, recent []domain.Message) string
}

// NewTransformer returns the service transformer when a completer is
// configured and the heuristic transformer otherwise.
func NewTransformer(completer llm.Completer, logger *slog.Logger) Transformer {
	if completer == nil {
		return Heuristic{}
	}
	return NewService(completer, logger)
}

// Heuristic wraps replies in the personality's fixed frame.
type Heuristic struct{}

// Transform implements Transformer. Unknown personalities and neutral return
// the reply unchanged.
func (Heuristic) Transform(_ context.Context, reply string, p domain.PersonalityType, _ domain.ExtractedMemory, _ []domain.Message) string {
	cfg, ok := Lookup(p)
	if !ok {
		return reply
	}
	return cfg.Frame.Apply(reply)
}

// Service asks the completion service to rewrite the reply in character.
type Service struct {
	completer llm.Completer
	fallback  Heuristic
	logger    *slog.Logger
}

// NewService creates a service-backed transformer that falls back to Heuristic.
func NewService(completer llm.Completer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{completer: completer, logger: logger}
}

// Transform implements Transformer.
func (s *Service) Transform(ctx context.Context, reply string, p domain.PersonalityType, memory domain.ExtractedMemory, recent []domain.Message) string {
	cfg, ok := Lookup(p)
	if !ok {
		s.logger.Warn("Unknown personality, returning reply unchanged", "personality", p)
		return reply
	}

	out, err := s.completer.Complete(ctx, llm.Request{
		System:      SystemPrompt(cfg),
		Messages:    llm.UserTurn(TransformPrompt(cfg, memory, recent, reply)),
		Temperature: transformTemperature,
		MaxTokens:   transformMaxTokens,
	})
	if errors.Is(err, llm.ErrEmptyCompletion) {
		return reply
	}
	if err != nil {
		s.logger.Warn("Personality transformation failed, using heuristic frame",
			"personality", p, "provider", s.completer.Provider(), "error", err)
		return s.fallback.Transform(ctx, reply, p, memory, recent)
	}
	return out
}

// SystemPrompt is the system message for a personality.
func SystemPrompt(cfg domain.PersonalityConfig) string {
	return fmt.Sprintf("You are a %s. %s. Your tone: %s", cfg.Name, cfg.Description, cfg.Tone)
}

// MemorySummary renders the memory lines embedded in the transform prompt.
// Only high-importance facts are included.
func MemorySummary(memory domain.ExtractedMemory) string {
	prefs := lo.Map(memory.Preferences, func(p domain.UserPreference, _ int) string {
		return p.Category + ": " + p.Value
	})
	emotions := lo.Map(memory.EmotionalPatterns, func(e domain.EmotionalPattern, _ int) string {
		return e.Emotion
	})
	return strings.Join([]string{
		"User Preferences: " + strings.Join(prefs, ", "),
		"Emotional Patterns: " + strings.Join(emotions, ", "),
		"Important Facts: " + strings.Join(memory.HighImportanceFacts(), ", "),
	}, "\n")
}

// TransformPrompt builds the user message asking for a restyled reply.
func TransformPrompt(cfg domain.PersonalityConfig, memory domain.ExtractedMemory, recent []domain.Message, reply string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are an AI assistant with a %s personality.\n\n", cfg.Name)
	fmt.Fprintf(&b, "Personality Description: %s\n", cfg.Description)
	fmt.Fprintf(&b, "Tone: %s\n\n", cfg.Tone)
	fmt.Fprintf(&b, "User Memory Context:\n%s\n\n", MemorySummary(memory))
	fmt.Fprintf(&b, "Recent Conversation:\n%s\n\n", domain.Transcript(domain.LastN(recent, contextWindow)))
	fmt.Fprintf(&b, "Transform the following response to match the %s personality while maintaining "+
		"the core message and accuracy. The response should feel natural and authentic to this personality type.\n\n", cfg.Name)
	fmt.Fprintf(&b, "Original Response:\n%s\n\n", reply)
	fmt.Fprintf(&b, "Transformed Response (%s style):", cfg.Name)
	return b.String()
}
