// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/persona-companion/internal/domain"
)

// ErrNotFound is returned by updates that match no row.
var ErrNotFound = errors.New("not found")

// Repository persists users, their chat sessions, messages and memory snapshots.
type Repository interface {
	// GetUser retrieves a user by their user ID. Returns nil, nil when absent.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// GetChatSession returns the session for key, or nil, nil when absent.
	GetChatSession(ctx context.Context, key domain.SessionKey) (*domain.ChatSession, error)

	// UpsertChatSession creates or updates session settings.
	UpsertChatSession(ctx context.Context, session *domain.ChatSession) error

	// AppendMessage adds a message to the end of the conversation.
	AppendMessage(ctx context.Context, key domain.SessionKey, msg domain.Message) error

	// ListMessages returns the conversation in arrival order.
	ListMessages(ctx context.Context, key domain.SessionKey) ([]domain.Message, error)

	// ReplaceConversation swaps the whole conversation and drops its snapshots.
	ReplaceConversation(ctx context.Context, key domain.SessionKey, msgs []domain.Message) error

	// SaveMemorySnapshot appends a snapshot and sets its ID.
	SaveMemorySnapshot(ctx context.Context, snap *domain.MemorySnapshot) error

	// LatestMemorySnapshot returns the newest snapshot, or nil, nil when none exists.
	LatestMemorySnapshot(ctx context.Context, key domain.SessionKey) (*domain.MemorySnapshot, error)

	// CleanupExpiredSessions removes sessions not updated within ttl.
	CleanupExpiredSessions(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
