package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ashureev/persona-companion/internal/config"
	"github.com/ashureev/persona-companion/internal/domain"
	"github.com/ashureev/persona-companion/internal/memory"
	"github.com/ashureev/persona-companion/internal/personality"
	"github.com/ashureev/persona-companion/internal/responder"
	"github.com/ashureev/persona-companion/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var defaultPolicy = config.MemoryConfig{ExtractEvery: 5, ExtractMax: 30}

type generatorFunc func(ctx context.Context, msgs []domain.Message) (string, error)

func (f generatorFunc) Generate(ctx context.Context, msgs []domain.Message) (string, error) {
	return f(ctx, msgs)
}

type recordingTransformer struct {
	mu       sync.Mutex
	memories []domain.ExtractedMemory
}

func (r *recordingTransformer) Transform(_ context.Context, reply string, _ domain.PersonalityType, mem domain.ExtractedMemory, _ []domain.Message) string {
	r.mu.Lock()
	r.memories = append(r.memories, mem)
	r.mu.Unlock()
	return reply
}

func newTestRepo(t *testing.T) *store.SQLiteStore {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "companion.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func newHeuristicDriver(t *testing.T) (*Driver, *store.SQLiteStore) {
	t.Helper()
	repo := newTestRepo(t)
	return NewDriver(repo, memory.Heuristic{}, personality.Heuristic{}, responder.Echo{}, defaultPolicy, nil), repo
}

func key(session string) domain.SessionKey {
	return domain.SessionKey{UserID: "user-1", SessionID: session}
}

func TestShouldExtract(t *testing.T) {
	t.Parallel()

	tests := []struct {
		count int
		want  bool
	}{
		{0, false}, {4, false}, {5, true}, {6, false}, {10, true},
		{25, true}, {30, true}, {35, false}, {40, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ShouldExtract(tt.count, 5, 30), "count=%d", tt.count)
	}
	assert.False(t, ShouldExtract(5, 0, 30))
}

func TestSendHeuristicReply(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d, _ := newHeuristicDriver(t)

	turn, err := d.Send(ctx, key("a"), "  Good morning  ", domain.PersonalityWittyFriend, nil)
	require.NoError(t, err)

	assert.Equal(t, domain.RoleUser, turn.UserMessage.Role)
	assert.Equal(t, "Good morning", turn.UserMessage.Content)
	assert.Equal(t, `I understand you're saying: "Good morning". That's an interesting point. How can I help you further?`, turn.OriginalResponse)
	assert.Equal(t, "Oh interesting! "+turn.OriginalResponse+" That's pretty cool, right?", turn.TransformedResponse)
	assert.Equal(t, turn.TransformedResponse, turn.AssistantMessage.Content)
	assert.False(t, turn.MemoryUpdated)
	assert.Equal(t, domain.EmptyMemory(), turn.Memory)

	state, err := d.State(ctx, key("a"))
	require.NoError(t, err)
	require.Len(t, state.Messages, 2)
	assert.Equal(t, domain.PersonalityWittyFriend, state.Personality)
	assert.Equal(t, turn.OriginalResponse, state.OriginalResponse)
	assert.Equal(t, turn.TransformedResponse, state.TransformedResponse)
	assert.Nil(t, state.Memory)

	turn, err = d.Send(ctx, key("a"), "again", "", nil)
	require.NoError(t, err)
	assert.Contains(t, turn.TransformedResponse, "Oh interesting!", "empty personality keeps the session's choice")
}

func TestSendRejectsBadInput(t *testing.T) {
	t.Parallel()
	d, _ := newHeuristicDriver(t)

	_, err := d.Send(context.Background(), key("a"), "   ", domain.PersonalityNeutral, nil)
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = d.Send(context.Background(), key("a"), "hi", "pirate", nil)
	assert.ErrorIs(t, err, ErrUnknownPersonality)

	assert.ErrorIs(t, d.SetPersonality(context.Background(), key("a"), "pirate"), ErrUnknownPersonality)
}

func TestSendExtractsEveryFiveUserMessages(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d, _ := newHeuristicDriver(t)

	var mu sync.Mutex
	var events []EventType
	notify := func(e Event) {
		mu.Lock()
		events = append(events, e.Type)
		mu.Unlock()
	}

	contents := []string{"I feel stressed", "work is a lot", "deadlines", "I love hiking", "weekend plans"}
	var last *Turn
	for i, c := range contents {
		turn, err := d.Send(ctx, key("a"), c, domain.PersonalityNeutral, notify)
		require.NoError(t, err)
		if i < len(contents)-1 {
			assert.False(t, turn.MemoryUpdated, "turn %d", i+1)
		}
		last = turn
	}

	require.True(t, last.MemoryUpdated)
	assert.Equal(t, []EventType{EventExtracting, EventMemory}, events)
	require.NotEmpty(t, last.Memory.Facts)
	assert.Equal(t, "User has sent 5 messages", last.Memory.Facts[0].Fact)

	state, err := d.State(ctx, key("a"))
	require.NoError(t, err)
	require.NotNil(t, state.Memory)
	assert.Equal(t, last.Memory, *state.Memory)
	assert.Equal(t, 5, state.UserMessageCount)
}

func TestSendTransformsWithMemoryBeforeTurn(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newTestRepo(t)
	tr := &recordingTransformer{}
	d := NewDriver(repo, memory.Heuristic{}, tr, responder.Echo{}, config.MemoryConfig{ExtractEvery: 1, ExtractMax: 30}, nil)

	first, err := d.Send(ctx, key("a"), "I love coffee", "", nil)
	require.NoError(t, err)
	require.True(t, first.MemoryUpdated)

	_, err = d.Send(ctx, key("a"), "and tea", "", nil)
	require.NoError(t, err)

	require.Len(t, tr.memories, 2)
	assert.Equal(t, domain.EmptyMemory(), tr.memories[0])
	assert.Equal(t, first.Memory, tr.memories[1])
}

func TestSendGenerationFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newTestRepo(t)
	boom := errors.New("upstream unavailable")
	gen := generatorFunc(func(context.Context, []domain.Message) (string, error) { return "", boom })
	d := NewDriver(repo, memory.Heuristic{}, personality.Heuristic{}, gen, defaultPolicy, nil)

	turn, err := d.Send(ctx, key("a"), "hello", domain.PersonalityTherapist, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	require.NotNil(t, turn)
	assert.Equal(t, ErrorReply, turn.AssistantMessage.Content)

	state, err := d.State(ctx, key("a"))
	require.NoError(t, err)
	require.Len(t, state.Messages, 2)
	assert.Equal(t, ErrorReply, state.Messages[1].Content)
	assert.Empty(t, state.TransformedResponse)
}

func TestConcurrentSendsAreSerialized(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d, _ := newHeuristicDriver(t)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := d.Send(ctx, key("a"), fmt.Sprintf("message %d", i), "", nil)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	state, err := d.State(ctx, key("a"))
	require.NoError(t, err)
	require.Len(t, state.Messages, 8)
	for i, m := range state.Messages {
		want := domain.RoleUser
		if i%2 == 1 {
			want = domain.RoleAssistant
		}
		assert.Equal(t, want, m.Role, "message %d", i)
	}
}

func TestLoadSample(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d, _ := newHeuristicDriver(t)

	_, err := d.Send(ctx, key("a"), "something before", "", nil)
	require.NoError(t, err)

	state, err := d.LoadSample(ctx, key("a"))
	require.NoError(t, err)
	assert.Len(t, state.Messages, 30)
	assert.Equal(t, 23, state.UserMessageCount)
	require.NotNil(t, state.Memory)

	categories := make([]string, 0, len(state.Memory.Preferences))
	for _, p := range state.Memory.Preferences {
		categories = append(categories, p.Category)
	}
	assert.Equal(t, []string{"Interests", "Career"}, categories)
	assert.Equal(t, "User has sent 23 messages", state.Memory.Facts[0].Fact)

	stored, err := d.State(ctx, key("a"))
	require.NoError(t, err)
	assert.Len(t, stored.Messages, 30)
	assert.Equal(t, "sample-1", stored.Messages[0].ID)
	assert.Equal(t, state.Memory, stored.Memory)
}

func TestSampleConversationTimestamps(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	msgs := SampleConversation(now)
	require.Len(t, msgs, 30)
	assert.Equal(t, now.Add(-time.Hour), msgs[0].Timestamp)
	for i := 1; i < len(msgs); i++ {
		assert.True(t, msgs[i].Timestamp.After(msgs[i-1].Timestamp), "message %d out of order", i)
	}
}

func TestResetKeepsPersonality(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d, _ := newHeuristicDriver(t)

	_, err := d.LoadSample(ctx, key("a"))
	require.NoError(t, err)
	require.NoError(t, d.SetPersonality(ctx, key("a"), domain.PersonalityCalmMentor))
	_, err = d.Send(ctx, key("a"), "hello", "", nil)
	require.NoError(t, err)

	require.NoError(t, d.Reset(ctx, key("a")))

	state, err := d.State(ctx, key("a"))
	require.NoError(t, err)
	assert.Empty(t, state.Messages)
	assert.Nil(t, state.Memory)
	assert.Empty(t, state.OriginalResponse)
	assert.Equal(t, domain.PersonalityCalmMentor, state.Personality)
}

func TestJanitorRemovesIdleSessions(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	repo := newTestRepo(t)

	stale := time.Now().Add(-2 * time.Hour)
	require.NoError(t, repo.UpsertChatSession(context.Background(), &domain.ChatSession{
		UserID: "user-1", SessionID: "old", Personality: domain.PersonalityNeutral, CreatedAt: stale, UpdatedAt: stale,
	}))

	done := StartJanitor(ctx, repo, time.Hour, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		cs, err := repo.GetChatSession(context.Background(), key("old"))
		return err == nil && cs == nil
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("janitor did not stop")
	}
}
