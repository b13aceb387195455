package memory

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ashureev/persona-companion/internal/domain"
	"github.com/ashureev/persona-companion/internal/llm"
)

const (
	extractionTemperature = 0.3

	systemPrompt = "You are a memory extraction system. Return only valid JSON matching the specified schema."

	promptTemplate = `Analyze the following conversation and extract structured memory about the user. Return ONLY valid JSON matching this schema:

{
  "preferences": [{"category": "string", "value": "string", "confidence": 0.0-1.0, "evidence": ["message excerpts"]}],
  "emotionalPatterns": [{"emotion": "string", "frequency": 0.0-1.0, "triggers": ["strings"], "context": "string"}],
  "facts": [{"fact": "string", "category": "string", "importance": "high|medium|low", "evidence": ["message excerpts"]}]
}

Focus on:
- Preferences: likes, dislikes, interests, communication style
- Emotional patterns: recurring emotions, triggers, emotional context
- Facts: important personal information, relationships, experiences, goals

Conversation:
%s

Return ONLY the JSON object, no additional text.`
)

// New returns the service extractor when a completer is configured and the
// heuristic extractor otherwise.
func New(completer llm.Completer, logger *slog.Logger) Extractor {
	if completer == nil {
		return Heuristic{}
	}
	return NewService(completer, logger)
}

// Service extracts memory through the completion service and falls back to
// Heuristic on any failure.
type Service struct {
	completer llm.Completer
	fallback  Heuristic
	logger    *slog.Logger
}

// NewService creates a service-backed extractor.
func NewService(completer llm.Completer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{completer: completer, logger: logger}
}

// Extract implements Extractor.
func (s *Service) Extract(ctx context.Context, messages []domain.Message) domain.ExtractedMemory {
	mem, err := s.extract(ctx, messages)
	if err != nil {
		s.logger.Warn("Memory extraction failed, using heuristics",
			"provider", s.completer.Provider(), "messages", len(messages), "error", err)
		return s.fallback.Extract(ctx, messages)
	}
	return mem
}

func (s *Service) extract(ctx context.Context, messages []domain.Message) (domain.ExtractedMemory, error) {
	content, err := s.completer.Complete(ctx, llm.Request{
		System:      systemPrompt,
		Messages:    llm.UserTurn(Prompt(messages)),
		Temperature: extractionTemperature,
		JSON:        true,
	})
	if err != nil {
		return domain.ExtractedMemory{}, fmt.Errorf("complete: %w", err)
	}
	return Parse([]byte(content))
}

// Prompt embeds the conversation transcript in the extraction instructions.
func Prompt(messages []domain.Message) string {
	return fmt.Sprintf(promptTemplate, domain.Transcript(messages))
}

// Parse decodes and validates a memory snapshot produced by the service.
func Parse(data []byte) (domain.ExtractedMemory, error) {
	return domain.DecodeMemory(data)
}
