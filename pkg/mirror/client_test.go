package mirror

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/huddle/pkg/blackboard"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestClient creates a test client connected to a miniredis instance
func setupTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	mr := miniredis.NewMiniRedis()
	err := mr.Start()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := NewClient(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, mr
}

func testEntry(key string, ts int64) *EntryRecord {
	return &EntryRecord{
		Area:          "world_state",
		Key:           key,
		Value:         `{"biome":"forest"}`,
		SourceAgentID: "scout-1",
		Confidence:    0.9,
		Kind:          "fact",
		TimestampMs:   ts,
	}
}

// Test client construction and basic operations
func TestNewClient(t *testing.T) {
	t.Run("creates client successfully", func(t *testing.T) {
		client, _ := setupTestClient(t)
		assert.NotNil(t, client)
		assert.Equal(t, "test-instance", client.InstanceName())
	})

	t.Run("rejects empty instance name", func(t *testing.T) {
		_, err := NewClient(&redis.Options{Addr: "localhost:6379"}, "")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "instance name cannot be empty")
	})

	t.Run("parses redis URL", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client, err := NewClientFromURL("redis://"+mr.Addr(), "url-instance")
		require.NoError(t, err)
		defer client.Close()
		assert.NoError(t, client.Ping(context.Background()))
	})

	t.Run("rejects bad URL", func(t *testing.T) {
		_, err := NewClientFromURL("http://nope", "x")
		assert.Error(t, err)
	})
}

func TestPing(t *testing.T) {
	client, _ := setupTestClient(t)
	assert.NoError(t, client.Ping(context.Background()))
}

func TestClose(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewClient(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)

	require.NoError(t, client.Close())

	// Operations after close should fail
	assert.Error(t, client.Ping(context.Background()))
}

func TestSaveNegotiation(t *testing.T) {
	client, mr := setupTestClient(t)
	ctx := context.Background()

	t.Run("writes hash and index", func(t *testing.T) {
		rec := NewNegotiationRecord(awardedNegotiation())

		require.NoError(t, client.SaveNegotiation(ctx, rec))

		key := NegotiationKey("test-instance", rec.ID)
		assert.True(t, mr.Exists(key))
		assert.Equal(t, "agent-b", mr.HGet(key, "winner_id"))
		assert.Equal(t, "awarded", mr.HGet(key, "state"))

		members, err := mr.Members(NegotiationIndexKey("test-instance"))
		require.NoError(t, err)
		assert.Contains(t, members, rec.ID)
	})

	t.Run("overwrites on state change", func(t *testing.T) {
		rec := NewNegotiationRecord(awardedNegotiation())
		require.NoError(t, client.SaveNegotiation(ctx, rec))

		rec.State = "completed"
		rec.ClosedAtMs = rec.CreatedAtMs + 5000
		require.NoError(t, client.SaveNegotiation(ctx, rec))

		got, err := client.GetNegotiation(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, "completed", got.State)
		assert.Equal(t, rec.ClosedAtMs, got.ClosedAtMs)
	})

	t.Run("rejects invalid record", func(t *testing.T) {
		rec := NewNegotiationRecord(awardedNegotiation())
		rec.ID = "bad"

		err := client.SaveNegotiation(ctx, rec)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid negotiation record")
	})
}

func TestGetNegotiation(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	t.Run("round trips through Redis", func(t *testing.T) {
		rec := NewNegotiationRecord(awardedNegotiation())
		require.NoError(t, client.SaveNegotiation(ctx, rec))

		got, err := client.GetNegotiation(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, rec, got)
	})

	t.Run("returns redis.Nil for missing negotiation", func(t *testing.T) {
		got, err := client.GetNegotiation(ctx, uuid.New().String())
		assert.Nil(t, got)
		assert.True(t, IsNotFound(err))
	})
}

func TestListNegotiations(t *testing.T) {
	client, mr := setupTestClient(t)
	ctx := context.Background()

	empty, err := client.ListNegotiations(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	first := NewNegotiationRecord(awardedNegotiation())
	second := NewNegotiationRecord(awardedNegotiation())
	second.CreatedAtMs = first.CreatedAtMs + 1000
	third := NewNegotiationRecord(awardedNegotiation())
	third.CreatedAtMs = first.CreatedAtMs + 2000

	for _, rec := range []*NegotiationRecord{third, first, second} {
		require.NoError(t, client.SaveNegotiation(ctx, rec))
	}

	ids, err := client.ListNegotiationIDs(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, 3)
	assert.IsNonDecreasing(t, ids)

	records, err := client.ListNegotiations(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, first.ID, records[0].ID)
	assert.Equal(t, second.ID, records[1].ID)
	assert.Equal(t, third.ID, records[2].ID)

	t.Run("skips index entries with no hash", func(t *testing.T) {
		mr.Del(NegotiationKey("test-instance", second.ID))

		records, err := client.ListNegotiations(ctx)
		require.NoError(t, err)
		assert.Len(t, records, 2)
	})
}

func TestEntryStorage(t *testing.T) {
	client, mr := setupTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.SaveEntry(ctx, testEntry("spawn", 200)))
	require.NoError(t, client.SaveEntry(ctx, testEntry("river", 100)))
	assert.True(t, mr.Exists(KnowledgeKey("test-instance", "world_state")))

	entries, err := client.GetArea(ctx, "world_state")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "river", entries[0].Key)
	assert.Equal(t, "spawn", entries[1].Key)

	require.NoError(t, client.DeleteEntry(ctx, "world_state", "river"))
	require.NoError(t, client.DeleteEntry(ctx, "world_state", "never-there"))

	entries, err = client.GetArea(ctx, "world_state")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "spawn", entries[0].Key)

	t.Run("empty area", func(t *testing.T) {
		entries, err := client.GetArea(ctx, "threats")
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("rejects invalid entry", func(t *testing.T) {
		bad := testEntry("x", 1)
		bad.Area = "kitchen"
		assert.Error(t, client.SaveEntry(ctx, bad))
	})

	t.Run("reports corrupt field", func(t *testing.T) {
		mr.HSet(KnowledgeKey("test-instance", "threats"), "broken", "{not json")
		_, err := client.GetArea(ctx, "threats")
		assert.Error(t, err)
	})
}

func TestRecord(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	neg := NewNegotiationRecord(awardedNegotiation())
	require.NoError(t, client.Record(ctx, &Event{Type: EventNegotiationAwarded, Negotiation: neg}))
	_, err := client.GetNegotiation(ctx, neg.ID)
	require.NoError(t, err)

	entry := testEntry("spawn", 1)
	require.NoError(t, client.Record(ctx, &Event{Type: EventKnowledgePosted, Entry: entry}))
	entries, err := client.GetArea(ctx, "world_state")
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	require.NoError(t, client.Record(ctx, &Event{Type: EventKnowledgeRemoved, Entry: entry}))
	entries, err = client.GetArea(ctx, "world_state")
	require.NoError(t, err)
	assert.Empty(t, entries)

	assert.NoError(t, client.Record(ctx, &Event{Type: EventBidReceived}))
}

func TestSubscribeEvents(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	t.Run("receives published events", func(t *testing.T) {
		sub, err := client.SubscribeEvents(ctx)
		require.NoError(t, err)
		defer sub.Close()

		neg := NewNegotiationRecord(awardedNegotiation())
		require.NoError(t, client.PublishEvent(ctx, &Event{
			Type:        EventNegotiationAwarded,
			Instance:    "test-instance",
			TimestampMs: 42,
			Negotiation: neg,
		}))

		select {
		case received := <-sub.Events():
			assert.Equal(t, EventNegotiationAwarded, received.Type)
			assert.Equal(t, int64(42), received.TimestampMs)
			require.NotNil(t, received.Negotiation)
			assert.Equal(t, neg.ID, received.Negotiation.ID)
		case <-time.After(1 * time.Second):
			t.Fatal("timeout waiting for event")
		}
	})

	t.Run("reports malformed messages and keeps going", func(t *testing.T) {
		sub, err := client.SubscribeEvents(ctx)
		require.NoError(t, err)
		defer sub.Close()

		require.NoError(t, client.rdb.Publish(ctx, EventsChannel("test-instance"), "{garbage").Err())
		require.NoError(t, client.PublishEvent(ctx, &Event{
			Type:  EventKnowledgePosted,
			Entry: testEntry("spawn", 1),
		}))

		select {
		case err := <-sub.Errors():
			assert.Contains(t, err.Error(), "failed to unmarshal event")
		case <-time.After(1 * time.Second):
			t.Fatal("timeout waiting for error")
		}

		select {
		case received := <-sub.Events():
			assert.Equal(t, EventKnowledgePosted, received.Type)
		case <-time.After(1 * time.Second):
			t.Fatal("timeout waiting for event")
		}
	})

	t.Run("cleanup on Close", func(t *testing.T) {
		sub, err := client.SubscribeEvents(ctx)
		require.NoError(t, err)

		assert.NoError(t, sub.Close())
		// Calling Close again should be safe
		assert.NoError(t, sub.Close())
	})

	t.Run("cleanup on context cancellation", func(t *testing.T) {
		cancelCtx, cancel := context.WithCancel(ctx)

		sub, err := client.SubscribeEvents(cancelCtx)
		require.NoError(t, err)

		cancel()

		// Events channel should eventually close
		select {
		case _, ok := <-sub.Events():
			assert.False(t, ok, "channel should be closed")
		case <-time.After(1 * time.Second):
			t.Fatal("timeout waiting for channel close")
		}
	})
}

func TestInstanceNamespacing(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	a, err := NewClient(&redis.Options{Addr: mr.Addr()}, "alpha")
	require.NoError(t, err)
	defer a.Close()
	b, err := NewClient(&redis.Options{Addr: mr.Addr()}, "beta")
	require.NoError(t, err)
	defer b.Close()

	rec := NewNegotiationRecord(awardedNegotiation())
	require.NoError(t, a.SaveNegotiation(ctx, rec))
	require.NoError(t, a.SaveEntry(ctx, testEntry("spawn", 1)))

	_, err = b.GetNegotiation(ctx, rec.ID)
	assert.True(t, IsNotFound(err))

	ids, err := b.ListNegotiationIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	entries, err := b.GetArea(ctx, string(blackboard.AreaWorldState))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(redis.Nil))
	assert.False(t, IsNotFound(nil))
	assert.False(t, IsNotFound(assert.AnError))
}
