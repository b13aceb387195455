package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ashureev/persona-companion/internal/domain"
	"github.com/ashureev/persona-companion/internal/shared"
)

var _ Repository = (*SQLiteStore)(nil)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // serializes multi-statement writes to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chat_sessions (
		user_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		personality TEXT NOT NULL,
		original_response TEXT NOT NULL DEFAULT '',
		transformed_response TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, session_id)
	);
	CREATE INDEX IF NOT EXISTS idx_chat_sessions_updated ON chat_sessions(updated_at);

	CREATE TABLE IF NOT EXISTS messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		sent_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(user_id, session_id, seq);

	CREATE TABLE IF NOT EXISTS memory_snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		user_message_count INTEGER NOT NULL,
		memory_json TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_memory_snapshots_session ON memory_snapshots(user_id, session_id, id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT user_id, username, last_seen_at, created_at, updated_at
		FROM users WHERE user_id = ?`

	var user domain.User
	var lastSeen, createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&user.UserID, &user.Username, &lastSeen, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.LastSeenAt = time.Unix(lastSeen, 0)
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)
	return &user, nil
}

// UpsertUser creates or updates a user record.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (user_id, username, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		username = excluded.username,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	return shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, "upsert_user", func() error {
		_, err := s.db.ExecContext(ctx, query,
			user.UserID, user.Username, user.LastSeenAt.Unix(),
			user.CreatedAt.Unix(), user.UpdatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("upsert user: %w", err)
		}
		return nil
	})
}

// UpdateLastSeen updates the last_seen_at timestamp for a user.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	query := `UPDATE users SET last_seen_at = ?, updated_at = ? WHERE user_id = ?`
	result, err := s.db.ExecContext(ctx, query, lastSeen.Unix(), time.Now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	return nil
}

// GetChatSession returns the session settings for key.
func (s *SQLiteStore) GetChatSession(ctx context.Context, key domain.SessionKey) (*domain.ChatSession, error) {
	query := `
		SELECT user_id, session_id, personality, original_response, transformed_response,
		       created_at, updated_at
		FROM chat_sessions WHERE user_id = ? AND session_id = ?`

	var cs domain.ChatSession
	var personality string
	var createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx, query, key.UserID, key.SessionID).Scan(
		&cs.UserID, &cs.SessionID, &personality, &cs.OriginalResponse, &cs.TransformedResponse,
		&createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan chat session: %w", err)
	}

	cs.Personality = domain.PersonalityType(personality)
	cs.CreatedAt = time.Unix(createdAt, 0)
	cs.UpdatedAt = time.Unix(updatedAt, 0)
	return &cs, nil
}

// UpsertChatSession creates or updates session settings.
func (s *SQLiteStore) UpsertChatSession(ctx context.Context, cs *domain.ChatSession) error {
	query := `
		INSERT INTO chat_sessions (
			user_id, session_id, personality, original_response, transformed_response,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, session_id) DO UPDATE SET
			personality = excluded.personality,
			original_response = excluded.original_response,
			transformed_response = excluded.transformed_response,
			updated_at = excluded.updated_at`

	return shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, "upsert_chat_session", func() error {
		_, err := s.db.ExecContext(ctx, query,
			cs.UserID, cs.SessionID, string(cs.Personality), cs.OriginalResponse, cs.TransformedResponse,
			cs.CreatedAt.Unix(), cs.UpdatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("upsert chat session: %w", err)
		}
		return nil
	})
}

// AppendMessage adds msg after every message already stored for key.
func (s *SQLiteStore) AppendMessage(ctx context.Context, key domain.SessionKey, msg domain.Message) error {
	return shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, "append_message", func() error {
		return insertMessage(ctx, s.db, key, msg)
	})
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertMessage(ctx context.Context, db execer, key domain.SessionKey, msg domain.Message) error {
	query := `
		INSERT INTO messages (id, user_id, session_id, role, content, sent_at)
		VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := db.ExecContext(ctx, query,
		msg.ID, key.UserID, key.SessionID, string(msg.Role), msg.Content, msg.Timestamp.UnixMilli(),
	); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// ListMessages returns the conversation for key in arrival order.
func (s *SQLiteStore) ListMessages(ctx context.Context, key domain.SessionKey) ([]domain.Message, error) {
	query := `
		SELECT id, role, content, sent_at FROM messages
		WHERE user_id = ? AND session_id = ?
		ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, query, key.UserID, key.SessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	msgs := []domain.Message{}
	for rows.Next() {
		var m domain.Message
		var role string
		var sentAt int64
		if err := rows.Scan(&m.ID, &role, &m.Content, &sentAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		m.Role = domain.Role(role)
		m.Timestamp = time.UnixMilli(sentAt)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}

// ReplaceConversation swaps the stored conversation for msgs in one transaction.
// Existing snapshots are dropped since they describe the old conversation.
func (s *SQLiteStore) ReplaceConversation(ctx context.Context, key domain.SessionKey, msgs []domain.Message) error {
	return s.inTx(ctx, "replace_conversation", func(tx *sql.Tx) error {
		if err := deleteConversation(ctx, tx, key); err != nil {
			return err
		}
		for _, m := range msgs {
			if err := insertMessage(ctx, tx, key, m); err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveMemorySnapshot appends snap and sets its ID.
func (s *SQLiteStore) SaveMemorySnapshot(ctx context.Context, snap *domain.MemorySnapshot) error {
	data, err := json.Marshal(snap.Memory)
	if err != nil {
		return fmt.Errorf("encode memory: %w", err)
	}

	query := `
		INSERT INTO memory_snapshots (user_id, session_id, user_message_count, memory_json, created_at)
		VALUES (?, ?, ?, ?, ?)`

	return shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, "save_memory_snapshot", func() error {
		result, err := s.db.ExecContext(ctx, query,
			snap.UserID, snap.SessionID, snap.UserMessageCount, string(data), snap.CreatedAt.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("insert memory snapshot: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("memory snapshot id: %w", err)
		}
		snap.ID = id
		return nil
	})
}

// LatestMemorySnapshot returns the newest snapshot for key.
func (s *SQLiteStore) LatestMemorySnapshot(ctx context.Context, key domain.SessionKey) (*domain.MemorySnapshot, error) {
	query := `
		SELECT id, user_id, session_id, user_message_count, memory_json, created_at
		FROM memory_snapshots WHERE user_id = ? AND session_id = ?
		ORDER BY id DESC LIMIT 1`

	var snap domain.MemorySnapshot
	var data string
	var createdAt int64
	err := s.db.QueryRowContext(ctx, query, key.UserID, key.SessionID).Scan(
		&snap.ID, &snap.UserID, &snap.SessionID, &snap.UserMessageCount, &data, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan memory snapshot: %w", err)
	}

	if err := json.Unmarshal([]byte(data), &snap.Memory); err != nil {
		return nil, fmt.Errorf("decode memory snapshot %d: %w", snap.ID, err)
	}
	snap.CreatedAt = time.UnixMilli(createdAt)
	return &snap, nil
}

func deleteConversation(ctx context.Context, tx *sql.Tx, key domain.SessionKey) error {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM messages WHERE user_id = ? AND session_id = ?`, key.UserID, key.SessionID,
	); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM memory_snapshots WHERE user_id = ? AND session_id = ?`, key.UserID, key.SessionID,
	); err != nil {
		return fmt.Errorf("delete memory snapshots: %w", err)
	}
	return nil
}

// CleanupExpiredSessions removes sessions, with their messages and snapshots,
// that have not been updated within ttl.
func (s *SQLiteStore) CleanupExpiredSessions(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := time.Now().Add(-ttl).Unix()
	expired := `SELECT user_id, session_id FROM chat_sessions WHERE updated_at < ?`

	var removed int64
	err := s.inTx(ctx, "cleanup_expired_sessions", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM messages WHERE (user_id, session_id) IN (`+expired+`)`, threshold,
		); err != nil {
			return fmt.Errorf("delete expired messages: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM memory_snapshots WHERE (user_id, session_id) IN (`+expired+`)`, threshold,
		); err != nil {
			return fmt.Errorf("delete expired snapshots: %w", err)
		}
		result, err := tx.ExecContext(ctx, `DELETE FROM chat_sessions WHERE updated_at < ?`, threshold)
		if err != nil {
			return fmt.Errorf("delete expired sessions: %w", err)
		}
		removed, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// inTx runs fn in a transaction under the write lock, retrying on lock contention.
func (s *SQLiteStore) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, op, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("%s: begin: %w", op, err)
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("%s: %w", op, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("%s: commit: %w", op, err)
		}
		return nil
	})
}
