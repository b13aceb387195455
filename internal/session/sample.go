package session

import (
	_ "embed"
	"encoding/json"
	"time"

	"github.com/ashureev/persona-companion/internal/domain"
)

//go:embed sample_conversation.json
var sampleJSON []byte

type sampleEntry struct {
	ID      string      `json:"id"`
	Role    domain.Role `json:"role"`
	Content string      `json:"content"`
	AgoMs   int64       `json:"agoMs"`
}

var sampleEntries = mustLoadSample(sampleJSON)

func mustLoadSample(data []byte) []sampleEntry {
	var entries []sampleEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		panic("session: decode sample conversation: " + err.Error())
	}
	return entries
}

// SampleConversation returns the built-in demo conversation, timestamped
// relative to now. Every call returns a fresh slice.
func SampleConversation(now time.Time) []domain.Message {
	msgs := make([]domain.Message, 0, len(sampleEntries))
	for _, e := range sampleEntries {
		msgs = append(msgs, domain.Message{
			ID:        "sample-" + e.ID,
			Role:      e.Role,
			Content:   e.Content,
			Timestamp: now.Add(-time.Duration(e.AgoMs) * time.Millisecond),
		})
	}
	return msgs
}
