// Package memory derives a structured profile of the user from a conversation.
package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/ashureev/persona-companion/internal/domain"
)

const maxEvidence = 2

// Extractor turns a conversation into a memory snapshot. It never fails and
// never returns a partial snapshot.
type Extractor interface {
	Extract(ctx context.Context, messages []domain.Message) domain.ExtractedMemory
}

// Heuristic extracts memory with fixed keyword rules. Output depends only on
// the input messages.
type Heuristic struct{}

// Extract implements Extractor.
func (Heuristic) Extract(_ context.Context, messages []domain.Message) domain.ExtractedMemory {
	users := domain.UserMessages(messages)
	text := strings.Join(lo.Map(users, func(m domain.Message, _ int) string {
		return strings.ToLower(m.Content)
	}), " ")
	has := func(words ...string) bool {
		return lo.SomeBy(words, func(w string) bool { return strings.Contains(text, w) })
	}

	mem := domain.EmptyMemory()

	if has("love", "like") {
		mem.Preferences = append(mem.Preferences, domain.UserPreference{
			Category:   "Interests",
			Value:      "Positive experiences",
			Confidence: 0.7,
			Evidence:   evidence(messages, "love"),
		})
	}
	if has("work", "job") {
		mem.Preferences = append(mem.Preferences, domain.UserPreference{
			Category:   "Career",
			Value:      "Professional development",
			Confidence: 0.8,
			Evidence:   evidence(messages, "work"),
		})
	}

	if has("stressed", "anxious", "worried") {
		mem.EmotionalPatterns = append(mem.EmotionalPatterns, domain.EmotionalPattern{
			Emotion:   "Anxiety",
			Frequency: 0.6,
			Triggers:  []string{"work", "deadline", "pressure"},
			Context:   "Work-related stress",
		})
	}
	if has("happy", "excited", "great") {
		mem.EmotionalPatterns = append(mem.EmotionalPatterns, domain.EmotionalPattern{
			Emotion:   "Happiness",
			Frequency: 0.5,
			Triggers:  []string{"achievement", "positive feedback", "social interaction"},
			Context:   "Positive experiences",
		})
	}

	if len(users) > 0 {
		mem.Facts = append(mem.Facts, domain.Fact{
			Fact:       fmt.Sprintf("User has sent %d messages", len(users)),
			Category:   "Interaction",
			Importance: domain.ImportanceMedium,
			Evidence:   []string{users[0].Content},
		})
	}

	if len(mem.Preferences) == 0 {
		first := ""
		if len(messages) > 0 {
			first = messages[0].Content
		}
		mem.Preferences = append(mem.Preferences, domain.UserPreference{
			Category:   "General",
			Value:      "Engaged user",
			Confidence: 0.5,
			Evidence:   []string{first},
		})
	}
	if len(mem.EmotionalPatterns) == 0 {
		mem.EmotionalPatterns = append(mem.EmotionalPatterns, domain.EmotionalPattern{
			Emotion:   "Neutral",
			Frequency: 0.5,
			Triggers:  []string{},
			Context:   "General conversation",
		})
	}
	if len(mem.Facts) == 0 {
		mem.Facts = append(mem.Facts, domain.Fact{
			Fact:       "Active conversationalist",
			Category:   "Behavior",
			Importance: domain.ImportanceLow,
			Evidence:   []string{},
		})
	}
	return mem
}

// evidence returns up to two message contents, from any speaker, containing word.
func evidence(messages []domain.Message, word string) []string {
	out := []string{}
	for _, m := range messages {
		if len(out) == maxEvidence {
			break
		}
		if strings.Contains(strings.ToLower(m.Content), word) {
			out = append(out, m.Content)
		}
	}
	return out
}
