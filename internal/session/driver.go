// Package session drives a conversation turn by turn: it stores messages,
// produces personality replies and refreshes the memory snapshot.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ashureev/persona-companion/internal/config"
	"github.com/ashureev/persona-companion/internal/domain"
	"github.com/ashureev/persona-companion/internal/memory"
	"github.com/ashureev/persona-companion/internal/personality"
	"github.com/ashureev/persona-companion/internal/responder"
	"github.com/ashureev/persona-companion/internal/store"
)

// ErrorReply is stored as the assistant message when no reply could be produced.
const ErrorReply = "Sorry, I encountered an error. Please try again."

var (
	// ErrEmptyMessage is returned for blank user input.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrUnknownPersonality is returned for personalities outside the catalog.
	ErrUnknownPersonality = errors.New("unknown personality")
)

// Turn is the outcome of one user message.
type Turn struct {
	UserMessage         domain.Message         `json:"userMessage"`
	AssistantMessage    domain.Message         `json:"assistantMessage"`
	OriginalResponse    string                 `json:"originalResponse"`
	TransformedResponse string                 `json:"transformedResponse"`
	Memory              domain.ExtractedMemory `json:"memory"`
	MemoryUpdated       bool                   `json:"memoryUpdated"`
}

// State is everything a client needs to render a conversation.
type State struct {
	Messages            []domain.Message        `json:"messages"`
	Memory              *domain.ExtractedMemory `json:"memory"`
	Personality         domain.PersonalityType  `json:"personality"`
	OriginalResponse    string                  `json:"originalResponse,omitempty"`
	TransformedResponse string                  `json:"transformedResponse,omitempty"`
	UserMessageCount    int                     `json:"userMessageCount"`
}

// EventType names a progress notification sent while a turn runs.
type EventType string

const (
	EventExtracting EventType = "extracting"
	EventMemory     EventType = "memory"
	EventReply      EventType = "reply"
	EventError      EventType = "error"
)

// Event is a progress notification. Only the field matching Type is set.
type Event struct {
	Type   EventType               `json:"type"`
	Turn   *Turn                   `json:"turn,omitempty"`
	Memory *domain.ExtractedMemory `json:"memory,omitempty"`
	Error  string                  `json:"error,omitempty"`
}

// Notify receives events. It may be nil.
type Notify func(Event)

func (n Notify) send(e Event) {
	if n != nil {
		n(e)
	}
}

// Driver runs conversation turns against the store and the three core components.
type Driver struct {
	repo        store.Repository
	extractor   memory.Extractor
	transformer personality.Transformer
	generator   responder.Generator
	policy      config.MemoryConfig
	logger      *slog.Logger
	now         func() time.Time

	mu    sync.Mutex
	locks map[domain.SessionKey]*sync.Mutex
}

// NewDriver creates a Driver.
func NewDriver(
	repo store.Repository,
	extractor memory.Extractor,
	transformer personality.Transformer,
	generator responder.Generator,
	policy config.MemoryConfig,
	logger *slog.Logger,
) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		repo:        repo,
		extractor:   extractor,
		transformer: transformer,
		generator:   generator,
		policy:      policy,
		logger:      logger,
		now:         time.Now,
		locks:       make(map[domain.SessionKey]*sync.Mutex),
	}
}

// lock serializes turns within one conversation.
func (d *Driver) lock(key domain.SessionKey) func() {
	d.mu.Lock()
	l, ok := d.locks[key]
	if !ok {
		l = &sync.Mutex{}
		d.locks[key] = l
	}
	d.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// Send appends a user message and produces the assistant reply. An empty
// personality keeps the session's current one. Generation and memory
// extraction run concurrently; the reply is restyled with the memory held
// before this turn.
func (d *Driver) Send(ctx context.Context, key domain.SessionKey, content string, p domain.PersonalityType, notify Notify) (*Turn, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyMessage
	}
	if p != "" && !p.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPersonality, p)
	}

	defer d.lock(key)()

	cs, err := d.ensureSession(ctx, key)
	if err != nil {
		return nil, err
	}
	if p != "" {
		cs.Personality = p
	}

	history, err := d.repo.ListMessages(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	before, err := d.currentMemory(ctx, key)
	if err != nil {
		return nil, err
	}

	userMsg := d.newMessage(domain.RoleUser, content)
	if err := d.repo.AppendMessage(ctx, key, userMsg); err != nil {
		return nil, fmt.Errorf("store user message: %w", err)
	}
	msgs := append(history, userMsg)

	turn := &Turn{UserMessage: userMsg, Memory: before}
	userCount := domain.CountUserMessages(msgs)

	var g errgroup.Group
	g.Go(func() error {
		base, err := d.generator.Generate(ctx, msgs)
		if err != nil {
			return err
		}
		turn.OriginalResponse = base
		turn.TransformedResponse = d.transformer.Transform(ctx, base, cs.Personality, before, msgs)
		return nil
	})
	if ShouldExtract(userCount, d.policy.ExtractEvery, d.policy.ExtractMax) {
		g.Go(func() error {
			notify.send(Event{Type: EventExtracting})
			mem, err := d.extract(ctx, key, msgs)
			if err != nil {
				d.logger.Error("Failed to store memory snapshot", "session", key.String(), "error", err)
				return nil
			}
			turn.Memory = mem
			turn.MemoryUpdated = true
			notify.send(Event{Type: EventMemory, Memory: &mem})
			return nil
		})
	}
	genErr := g.Wait()

	reply := turn.TransformedResponse
	if genErr != nil {
		d.logger.Error("Failed to generate reply", "session", key.String(), "error", genErr)
		reply = ErrorReply
	} else {
		cs.OriginalResponse = turn.OriginalResponse
		cs.TransformedResponse = turn.TransformedResponse
	}

	turn.AssistantMessage = d.newMessage(domain.RoleAssistant, reply)
	if err := d.repo.AppendMessage(ctx, key, turn.AssistantMessage); err != nil {
		return nil, fmt.Errorf("store assistant message: %w", err)
	}
	cs.UpdatedAt = d.now()
	if err := d.repo.UpsertChatSession(ctx, cs); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}

	if genErr != nil {
		return turn, fmt.Errorf("generate reply: %w", genErr)
	}
	return turn, nil
}

// LoadSample replaces the conversation with the built-in sample and extracts
// memory from it right away.
func (d *Driver) LoadSample(ctx context.Context, key domain.SessionKey) (*State, error) {
	defer d.lock(key)()

	cs, err := d.ensureSession(ctx, key)
	if err != nil {
		return nil, err
	}

	msgs := SampleConversation(d.now())
	if err := d.repo.ReplaceConversation(ctx, key, msgs); err != nil {
		return nil, fmt.Errorf("load sample: %w", err)
	}

	state := &State{
		Messages:            msgs,
		Personality:         cs.Personality,
		OriginalResponse:    cs.OriginalResponse,
		TransformedResponse: cs.TransformedResponse,
		UserMessageCount:    domain.CountUserMessages(msgs),
	}
	if state.UserMessageCount >= d.policy.ExtractEvery {
		mem, err := d.extract(ctx, key, msgs)
		if err != nil {
			return nil, err
		}
		state.Memory = &mem
	}

	cs.UpdatedAt = d.now()
	if err := d.repo.UpsertChatSession(ctx, cs); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	return state, nil
}

// Reset clears messages, memory and the last reply comparison. The selected
// personality is kept.
func (d *Driver) Reset(ctx context.Context, key domain.SessionKey) error {
	defer d.lock(key)()

	cs, err := d.repo.GetChatSession(ctx, key)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if err := d.repo.ReplaceConversation(ctx, key, nil); err != nil {
		return fmt.Errorf("reset conversation: %w", err)
	}
	if cs == nil {
		return nil
	}

	cs.OriginalResponse = ""
	cs.TransformedResponse = ""
	cs.UpdatedAt = d.now()
	if err := d.repo.UpsertChatSession(ctx, cs); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

// State returns the stored conversation for key. Unknown keys yield an empty
// neutral conversation.
func (d *Driver) State(ctx context.Context, key domain.SessionKey) (*State, error) {
	cs, err := d.repo.GetChatSession(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	msgs, err := d.repo.ListMessages(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	snap, err := d.repo.LatestMemorySnapshot(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load memory: %w", err)
	}

	state := &State{
		Messages:         msgs,
		Personality:      domain.PersonalityNeutral,
		UserMessageCount: domain.CountUserMessages(msgs),
	}
	if cs != nil {
		state.Personality = cs.Personality
		state.OriginalResponse = cs.OriginalResponse
		state.TransformedResponse = cs.TransformedResponse
	}
	if snap != nil {
		state.Memory = &snap.Memory
	}
	return state, nil
}

// SetPersonality changes the personality used for later replies.
func (d *Driver) SetPersonality(ctx context.Context, key domain.SessionKey, p domain.PersonalityType) error {
	if !p.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownPersonality, p)
	}

	defer d.lock(key)()

	cs, err := d.ensureSession(ctx, key)
	if err != nil {
		return err
	}
	cs.Personality = p
	cs.UpdatedAt = d.now()
	if err := d.repo.UpsertChatSession(ctx, cs); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

func (d *Driver) ensureSession(ctx context.Context, key domain.SessionKey) (*domain.ChatSession, error) {
	cs, err := d.repo.GetChatSession(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if cs != nil {
		return cs, nil
	}

	now := d.now()
	cs = &domain.ChatSession{
		UserID:      key.UserID,
		SessionID:   key.SessionID,
		Personality: domain.PersonalityNeutral,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := d.repo.UpsertChatSession(ctx, cs); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return cs, nil
}

func (d *Driver) currentMemory(ctx context.Context, key domain.SessionKey) (domain.ExtractedMemory, error) {
	snap, err := d.repo.LatestMemorySnapshot(ctx, key)
	if err != nil {
		return domain.ExtractedMemory{}, fmt.Errorf("load memory: %w", err)
	}
	if snap == nil {
		return domain.EmptyMemory(), nil
	}
	return snap.Memory, nil
}

// extract runs the extractor and stores the result as the newest snapshot.
func (d *Driver) extract(ctx context.Context, key domain.SessionKey, msgs []domain.Message) (domain.ExtractedMemory, error) {
	userCount := domain.CountUserMessages(msgs)
	d.logger.Info("Extracting memory", "session", key.String(), "user_messages", userCount)

	mem := d.extractor.Extract(ctx, msgs)
	snap := &domain.MemorySnapshot{
		UserID:           key.UserID,
		SessionID:        key.SessionID,
		UserMessageCount: userCount,
		Memory:           mem,
		CreatedAt:        d.now(),
	}
	if err := d.repo.SaveMemorySnapshot(ctx, snap); err != nil {
		return mem, fmt.Errorf("store memory snapshot: %w", err)
	}
	return mem, nil
}

func (d *Driver) newMessage(role domain.Role, content string) domain.Message {
	return domain.Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: d.now(),
	}
}
