package domain

import (
	"fmt"
	"strings"
	"time"
)

// Role identifies who authored a message.
type Role string

const (
	// RoleUser marks a message typed by the person chatting.
	RoleUser Role = "user"
	// RoleAssistant marks a reply produced by the companion.
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Label returns the speaker name used in transcripts.
func (r Role) Label() string {
	if r == RoleUser {
		return "User"
	}
	return "Assistant"
}

// Message is a single chat turn. Messages are immutable once created and
// ordered by arrival.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// UserMessages returns the user-authored messages in order.
func UserMessages(messages []Message) []Message {
	var out []Message
	for _, m := range messages {
		if m.Role == RoleUser {
			out = append(out, m)
		}
	}
	return out
}

// CountUserMessages returns how many messages were authored by the user.
func CountUserMessages(messages []Message) int {
	n := 0
	for _, m := range messages {
		if m.Role == RoleUser {
			n++
		}
	}
	return n
}

// LastN returns at most the n most recent messages.
func LastN(messages []Message, n int) []Message {
	if n <= 0 {
		return nil
	}
	if n >= len(messages) {
		return messages
	}
	return messages[len(messages)-n:]
}

// Transcript renders messages as "User: ..." / "Assistant: ..." lines joined by newlines.
func Transcript(messages []Message) string {
	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		lines = append(lines, fmt.Sprintf("%s: %s", m.Role.Label(), m.Content))
	}
	return strings.Join(lines, "\n")
}
