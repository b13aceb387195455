package domain

import (
	"time"
)

// SessionKey addresses one conversation: a user plus a browser tab session.
type SessionKey struct {
	UserID    string
	SessionID string
}

// String returns the key in "user:session" form.
func (k SessionKey) String() string {
	return k.UserID + ":" + k.SessionID
}

// ChatSession stores per-conversation settings and the last reply comparison.
type ChatSession struct {
	UserID              string
	SessionID           string
	Personality         PersonalityType
	OriginalResponse    string
	TransformedResponse string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Key returns the session key.
func (s *ChatSession) Key() SessionKey {
	return SessionKey{UserID: s.UserID, SessionID: s.SessionID}
}

// MemorySnapshot is a persisted extraction result. Snapshots are append-only;
// the newest one is the current memory.
type MemorySnapshot struct {
	ID               int64
	UserID           string
	SessionID        string
	UserMessageCount int
	Memory           ExtractedMemory
	CreatedAt        time.Time
}
