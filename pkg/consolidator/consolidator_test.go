package consolidator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/memori/pkg/domain"
	"github.com/harun/memori/pkg/embedding"
	"github.com/harun/memori/pkg/llm"
	"github.com/harun/memori/pkg/memstore"
)

func createStore(t *testing.T) *memstore.Store {
	t.Helper()

	s, err := memstore.NewStore(memstore.Config{
		DBPath:   filepath.Join(t.TempDir(), "memory.db"),
		Logger:   zerolog.New(os.Stdout).Level(zerolog.Disabled),
		Embedder: embedding.NewMockProvider(64),
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func createConsolidator(t *testing.T, store *memstore.Store, completer llm.Completer) *Consolidator {
	t.Helper()

	c, err := NewConsolidator(Config{
		Store:          store,
		Completer:      completer,
		Logger:         zerolog.New(os.Stdout).Level(zerolog.Disabled),
		WindowSessions: 3,
	})
	require.NoError(t, err)
	return c
}

func TestConsolidate_Idempotent(t *testing.T) {
	store := createStore(t)
	c := createConsolidator(t, store, nil)
	ctx := context.Background()

	_, _, err := store.AppendEvent(ctx, memstore.ChatEvent{
		UserID: "u1", SessionID: "s1", Role: "user", Content: "we prefer friday deliveries",
	})
	require.NoError(t, err)
	_, err = store.Upsert(ctx, memstore.MemoryUnit{
		UserID: "u1", Kind: memstore.KindSemantic, Text: "prefers friday deliveries",
	})
	require.NoError(t, err)

	first, err := c.Consolidate(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := c.Consolidate(ctx, "u1")
	require.NoError(t, err)

	// No new events: the same summary row is reused, no chain growth
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Fingerprint, second.Fingerprint)
}

func TestConsolidate_NewEventsProduceNewVersion(t *testing.T) {
	store := createStore(t)
	c := createConsolidator(t, store, nil)
	ctx := context.Background()

	_, _, err := store.AppendEvent(ctx, memstore.ChatEvent{
		UserID: "u1", SessionID: "s1", Role: "user", Content: "hello",
	})
	require.NoError(t, err)

	first, err := c.Consolidate(ctx, "u1")
	require.NoError(t, err)

	_, _, err = store.AppendEvent(ctx, memstore.ChatEvent{
		UserID: "u1", SessionID: "s1", Role: "user", Content: "we moved to a bigger warehouse",
	})
	require.NoError(t, err)

	second, err := c.Consolidate(ctx, "u1")
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.NotEqual(t, first.Fingerprint, second.Fingerprint)

	// Only the newest version is current
	current, err := store.CurrentSummary(ctx, "u1", "rolling")
	require.NoError(t, err)
	assert.Equal(t, second.ID, current.ID)
}

func TestConsolidate_ConflictResolution(t *testing.T) {
	store := createStore(t)
	c := createConsolidator(t, store, nil)
	ctx := context.Background()

	entity := &domain.EntityRef{Table: "customers", ID: 1}

	// Older claim, reinforced twice
	older, err := store.Upsert(ctx, memstore.MemoryUnit{
		UserID: "u1", Kind: memstore.KindSemantic,
		Text: "delivery day is friday", Entity: entity,
		Attribute: "delivery_day", Value: "friday",
		CreatedAt: time.Now().Add(-48 * time.Hour),
	})
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err = store.Upsert(ctx, memstore.MemoryUnit{
			UserID: "u1", Kind: memstore.KindSemantic,
			Text: "delivery day is friday", Entity: entity,
			Attribute: "delivery_day", Value: "friday",
		})
		require.NoError(t, err)
	}

	// Newer unreinforced contradiction
	newer, err := store.Upsert(ctx, memstore.MemoryUnit{
		UserID: "u1", Kind: memstore.KindSemantic,
		Text: "delivery day is monday", Entity: entity,
		Attribute: "delivery_day", Value: "monday",
	})
	require.NoError(t, err)

	summary, err := c.Consolidate(ctx, "u1")
	require.NoError(t, err)

	// Reinforcement beats recency: the friday claim wins
	loser, err := store.GetUnit(ctx, newer.Unit.ID)
	require.NoError(t, err)
	require.NotNil(t, loser.SupersededBy)
	assert.Equal(t, older.Unit.ID, *loser.SupersededBy)

	winner, err := store.GetUnit(ctx, older.Unit.ID)
	require.NoError(t, err)
	assert.Nil(t, winner.SupersededBy)

	assert.Contains(t, summary.Resolutions, `kept "friday"`)
	assert.Contains(t, summary.Resolutions, `over "monday"`)
}

func TestConsolidate_UsesModelWhenAvailable(t *testing.T) {
	store := createStore(t)
	mock := &llm.MockCompleter{Response: "User prefers friday deliveries and pays invoices late."}
	c := createConsolidator(t, store, mock)
	ctx := context.Background()

	_, err := store.Upsert(ctx, memstore.MemoryUnit{
		UserID: "u1", Kind: memstore.KindSemantic, Text: "prefers friday deliveries",
	})
	require.NoError(t, err)

	summary, err := c.Consolidate(ctx, "u1")
	require.NoError(t, err)

	assert.Equal(t, "User prefers friday deliveries and pays invoices late.", summary.Summary)
	require.Len(t, mock.Requests, 1)
	assert.Contains(t, mock.Requests[0].Prompt, "prefers friday deliveries")
}

func TestConsolidate_DeterministicFallback(t *testing.T) {
	store := createStore(t)
	c := createConsolidator(t, store, nil)
	ctx := context.Background()

	_, err := store.Upsert(ctx, memstore.MemoryUnit{
		UserID: "u1", Kind: memstore.KindProfile, Text: "prefers email over phone", Importance: 0.9,
	})
	require.NoError(t, err)

	summary, err := c.Consolidate(ctx, "u1")
	require.NoError(t, err)
	assert.Contains(t, summary.Summary, "prefers email over phone")
}

func TestLastSessions(t *testing.T) {
	base := time.Now().Add(-time.Hour)
	var events []memstore.ChatEvent
	for i, sid := range []string{"s1", "s1", "s2", "s3", "s4"} {
		events = append(events, memstore.ChatEvent{
			ID: string(rune('a' + i)), SessionID: sid,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}

	kept := lastSessions(events, 2)
	require.Len(t, kept, 2)
	assert.Equal(t, "s3", kept[0].SessionID)
	assert.Equal(t, "s4", kept[1].SessionID)
}

func TestNewScheduler_RejectsBadSchedule(t *testing.T) {
	store := createStore(t)
	c := createConsolidator(t, store, nil)

	_, err := NewScheduler(c, "not a schedule", zerolog.New(os.Stdout).Level(zerolog.Disabled))
	assert.Error(t, err)

	s, err := NewScheduler(c, "0 3 * * *", zerolog.New(os.Stdout).Level(zerolog.Disabled))
	require.NoError(t, err)
	s.Start()
	s.Stop()
}