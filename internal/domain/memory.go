package domain

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

// Importance ranks how much a fact matters.
type Importance string

const (
	ImportanceHigh   Importance = "high"
	ImportanceMedium Importance = "medium"
	ImportanceLow    Importance = "low"
)

// UserPreference is a like, dislike, interest or style the user has shown.
type UserPreference struct {
	Category   string   `json:"category" validate:"required"`
	Value      string   `json:"value" validate:"required"`
	Confidence float64  `json:"confidence" validate:"gte=0,lte=1"`
	Evidence   []string `json:"evidence" validate:"required"`
}

// EmotionalPattern is a recurring emotion and what sets it off.
type EmotionalPattern struct {
	Emotion   string   `json:"emotion" validate:"required"`
	Frequency float64  `json:"frequency" validate:"gte=0,lte=1"`
	Triggers  []string `json:"triggers" validate:"required"`
	Context   string   `json:"context" validate:"required"`
}

// Fact is a piece of personal information worth remembering.
type Fact struct {
	Fact       string     `json:"fact" validate:"required"`
	Category   string     `json:"category" validate:"required"`
	Importance Importance `json:"importance" validate:"oneof=high medium low"`
	Evidence   []string   `json:"evidence" validate:"required"`
}

// ExtractedMemory is a memory snapshot derived from a whole conversation.
// A new snapshot always replaces the previous one.
type ExtractedMemory struct {
	Preferences       []UserPreference   `json:"preferences" validate:"required,dive"`
	EmotionalPatterns []EmotionalPattern `json:"emotionalPatterns" validate:"required,dive"`
	Facts             []Fact             `json:"facts" validate:"required,dive"`
}

// EmptyMemory returns a snapshot with empty, non-nil lists.
func EmptyMemory() ExtractedMemory {
	return ExtractedMemory{
		Preferences:       []UserPreference{},
		EmotionalPatterns: []EmotionalPattern{},
		Facts:             []Fact{},
	}
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func memoryValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks the snapshot against the memory schema: all lists and text
// fields present, confidence and frequency within [0,1], importance one of
// high/medium/low.
func (m ExtractedMemory) Validate() error {
	if err := memoryValidator().Struct(m); err != nil {
		return fmt.Errorf("invalid memory: %w", err)
	}
	return nil
}

// scoreFields records whether the numeric scores were present in a payload.
// A decoded float cannot tell a missing score from an explicit 0.
type scoreFields struct {
	Preferences []struct {
		Confidence *float64 `json:"confidence" validate:"required"`
	} `json:"preferences" validate:"dive"`
	EmotionalPatterns []struct {
		Frequency *float64 `json:"frequency" validate:"required"`
	} `json:"emotionalPatterns" validate:"dive"`
}

// DecodeMemory decodes a JSON snapshot and validates it. Missing or null
// confidence and frequency values are rejected.
func DecodeMemory(data []byte) (ExtractedMemory, error) {
	var m ExtractedMemory
	if err := json.Unmarshal(data, &m); err != nil {
		return ExtractedMemory{}, fmt.Errorf("decode memory: %w", err)
	}
	var scores scoreFields
	if err := json.Unmarshal(data, &scores); err != nil {
		return ExtractedMemory{}, fmt.Errorf("decode memory: %w", err)
	}
	if err := memoryValidator().Struct(scores); err != nil {
		return ExtractedMemory{}, fmt.Errorf("invalid memory: %w", err)
	}
	if err := m.Validate(); err != nil {
		return ExtractedMemory{}, err
	}
	return m, nil
}

// HighImportanceFacts returns the fact strings marked high importance.
func (m ExtractedMemory) HighImportanceFacts() []string {
	var out []string
	for _, f := range m.Facts {
		if f.Importance == ImportanceHigh {
			out = append(out, f.Fact)
		}
	}
	return out
}
