package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatwire/chatwire/internal/cache"
	"github.com/chatwire/chatwire/internal/domain"
	"github.com/chatwire/chatwire/internal/policy"
	"github.com/chatwire/chatwire/internal/store"
)

type pubEvent struct {
	Channel string
	Event   string
	Payload interface{}
}

// recordingPublisher captures fan-out events for assertions.
type recordingPublisher struct {
	mu     sync.Mutex
	events []pubEvent
}

func (p *recordingPublisher) Publish(channel, event string, payload interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, pubEvent{Channel: channel, Event: event, Payload: payload})
}

func (p *recordingPublisher) byEvent(event string) []pubEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []pubEvent
	for _, e := range p.events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

type testEnv struct {
	svc   *Service
	cache *cache.Cache
	pub   *recordingPublisher
	now   time.Time
	mu    sync.Mutex
}

func (env *testEnv) advance(d time.Duration) {
	env.mu.Lock()
	defer env.mu.Unlock()
	env.now = env.now.Add(d)
}

func newTestService(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	pol, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	require.NoError(t, err)

	env := &testEnv{
		cache: cache.New(),
		pub:   &recordingPublisher{},
		now:   time.UnixMilli(1_700_000_000_000),
	}
	clock := func() time.Time {
		env.mu.Lock()
		defer env.mu.Unlock()
		return env.now
	}
	env.cache.SetClock(clock)

	env.svc = New(st, env.cache, env.pub, pol)
	env.svc.SetClock(clock)
	return env
}

func identity(userID string) domain.Identity {
	return domain.Identity{UserID: userID, Profile: domain.Profile{ID: userID}}
}

func TestSendAndRecent(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()

	res, err := env.svc.Send(ctx, identity("u1"), "u2", "hello", domain.MessageTypeText)
	require.NoError(t, err)
	assert.Equal(t, domain.ConversationID("u1", "u2"), res.ConversationID)
	assert.NotEmpty(t, res.MessageID)

	// Both participants resolve to the same window.
	msgs, err := env.svc.Recent(ctx, identity("u2"), "u1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, "u1", msgs[0].SenderID)
	assert.False(t, msgs[0].IsDeleted)

	events := env.pub.byEvent(EventNewMessage)
	require.Len(t, events, 1)
	assert.Equal(t, domain.ChannelName("u2", "u1"), events[0].Channel)
}

func TestRecentEmptyWithoutIndex(t *testing.T) {
	env := newTestService(t)

	msgs, err := env.svc.Recent(context.Background(), identity("u1"), "u9")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestHotIndexTrimAndHistory(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()

	var timestamps []int64
	for i := 0; i < 205; i++ {
		env.advance(time.Second)
		_, err := env.svc.Send(ctx, identity("u1"), "u2", "msg", domain.MessageTypeText)
		require.NoError(t, err)
		timestamps = append(timestamps, env.svc.now().UnixMilli())
	}

	indexKey := domain.ConversationID("u1", "u2") + ":messages"
	assert.Equal(t, 200, env.cache.ZCard(indexKey))

	// The retained window is exactly the 200 most recent.
	msgs, err := env.svc.Recent(ctx, identity("u2"), "u1")
	require.NoError(t, err)
	require.Len(t, msgs, 200)
	assert.Equal(t, timestamps[5], msgs[0].Timestamp)
	assert.Equal(t, timestamps[204], msgs[199].Timestamp)

	// History before message #50 (index 49) is served by the durable
	// store: messages #1..#49, oldest first.
	older, err := env.svc.OlderMessages(ctx, identity("u1"), "u2", timestamps[49], 50)
	require.NoError(t, err)
	require.Len(t, older, 49)
	assert.Equal(t, timestamps[0], older[0].Timestamp)
	assert.Equal(t, timestamps[48], older[48].Timestamp)
	for i := 1; i < len(older); i++ {
		assert.Less(t, older[i-1].Timestamp, older[i].Timestamp)
	}
}

func TestTTLFallbackEquivalence(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()

	_, err := env.svc.Send(ctx, identity("u1"), "u2", "hello", domain.MessageTypeText)
	require.NoError(t, err)

	fromCache, err := env.svc.Recent(ctx, identity("u2"), "u1")
	require.NoError(t, err)
	require.Len(t, fromCache, 1)

	// Past the TTL the field map is gone but the index remains; the read
	// must fall back to the durable store with identical field values.
	env.advance(16 * time.Minute)
	require.False(t, env.cache.Exists(fromCache[0].MessageID))

	fromStore, err := env.svc.Recent(ctx, identity("u2"), "u1")
	require.NoError(t, err)
	require.Len(t, fromStore, 1)
	assert.Equal(t, fromCache[0], fromStore[0])
}

func TestTombstoneIrreversible(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()

	res, err := env.svc.Send(ctx, identity("u1"), "u2", "hello", domain.MessageTypeText)
	require.NoError(t, err)
	require.NoError(t, env.svc.Delete(ctx, identity("u1"), res.MessageID))

	// Served by the hot tier.
	msgs, err := env.svc.Recent(ctx, identity("u2"), "u1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].IsDeleted)

	// Served by the durable store after expiry.
	env.advance(16 * time.Minute)
	msgs, err = env.svc.Recent(ctx, identity("u2"), "u1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].IsDeleted)

	require.Len(t, env.pub.byEvent(EventMessageDeleted), 1)
}

func TestEditAfterExpiry(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()

	res, err := env.svc.Send(ctx, identity("u1"), "u2", "hello", domain.MessageTypeText)
	require.NoError(t, err)

	env.advance(16 * time.Minute)
	require.NoError(t, env.svc.Edit(ctx, identity("u1"), res.MessageID, "hello again"))

	// The expired hot-tier key must not be resurrected.
	assert.False(t, env.cache.Exists(res.MessageID))

	msgs, err := env.svc.Recent(ctx, identity("u2"), "u1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello again", msgs[0].Content)
	assert.True(t, msgs[0].IsEdited)

	require.Len(t, env.pub.byEvent(EventMessageEdited), 1)
}

func TestReactOverwrites(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()

	res, err := env.svc.Send(ctx, identity("u1"), "u2", "hello", domain.MessageTypeText)
	require.NoError(t, err)

	require.NoError(t, env.svc.React(ctx, identity("u2"), res.MessageID, "👍"))
	require.NoError(t, env.svc.React(ctx, identity("u2"), res.MessageID, "❤️"))

	msgs, err := env.svc.Recent(ctx, identity("u1"), "u2")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "❤️", msgs[0].Reaction)
}

func TestPolicyDecisions(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()

	res, err := env.svc.Send(ctx, identity("u1"), "u2", "hello", domain.MessageTypeText)
	require.NoError(t, err)

	// Only the sender may edit or delete.
	assert.ErrorIs(t, env.svc.Edit(ctx, identity("u2"), res.MessageID, "x"), domain.ErrNotAllowed)
	assert.ErrorIs(t, env.svc.Delete(ctx, identity("u2"), res.MessageID), domain.ErrNotAllowed)

	// Tombstones take no further mutations.
	require.NoError(t, env.svc.Delete(ctx, identity("u1"), res.MessageID))
	assert.ErrorIs(t, env.svc.React(ctx, identity("u2"), res.MessageID, "👍"), domain.ErrNotAllowed)
	assert.ErrorIs(t, env.svc.Edit(ctx, identity("u1"), res.MessageID, "x"), domain.ErrNotAllowed)
}

func TestFailureTaxonomy(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()

	_, err := env.svc.Send(ctx, domain.Identity{}, "u2", "hello", domain.MessageTypeText)
	assert.ErrorIs(t, err, domain.ErrNotAuthenticated)
	_, err = env.svc.Recent(ctx, domain.Identity{}, "u2")
	assert.ErrorIs(t, err, domain.ErrNotAuthenticated)
	assert.ErrorIs(t, env.svc.Edit(ctx, domain.Identity{}, "m1", "x"), domain.ErrNotAuthenticated)

	_, err = env.svc.Send(ctx, identity("u1"), "u1", "hello", domain.MessageTypeText)
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = env.svc.Send(ctx, identity("u1"), "u2", "hello", domain.MessageType("video"))
	assert.ErrorIs(t, err, ErrInvalidRequest)

	assert.ErrorIs(t, env.svc.Edit(ctx, identity("u1"), "missing", "x"), domain.ErrNotFound)
	assert.ErrorIs(t, env.svc.Delete(ctx, identity("u1"), "missing"), domain.ErrNotFound)
}
