package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dyluth/huddle/pkg/blackboard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memorySink records and publishes into memory.
type memorySink struct {
	mu        sync.Mutex
	recorded  []*Event
	published []*Event
	fail      bool
}

func (s *memorySink) Record(_ context.Context, ev *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("sink down")
	}
	s.recorded = append(s.recorded, ev)
	return nil
}

func (s *memorySink) PublishEvent(_ context.Context, ev *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published = append(s.published, ev)
	return nil
}

func (s *memorySink) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recorded), len(s.published)
}

// publishOnly implements only Publisher.
type publishOnly struct{ n int }

func (p *publishOnly) PublishEvent(context.Context, *Event) error {
	p.n++
	return nil
}

func TestNewSortsSinks(t *testing.T) {
	sink := &memorySink{}
	pub := &publishOnly{}

	m := New("test", 0, sink, pub, "not a sink")

	assert.Len(t, m.recorders, 1)
	assert.Len(t, m.publishers, 2)
	assert.Equal(t, DefaultBufferSize, cap(m.queue))
	assert.Equal(t, "test", m.Instance())
}

func TestEventBuilders(t *testing.T) {
	m := New("test", 4)
	m.clock = func() time.Time { return t0 }

	ev := m.NegotiationEvent(EventNegotiationAwarded, awardedNegotiation())
	assert.Equal(t, "test", ev.Instance)
	assert.Equal(t, t0.UnixMilli(), ev.TimestampMs)
	require.NotNil(t, ev.Negotiation)
	assert.NoError(t, ev.Validate())

	ev = m.EntryEvent(EventKnowledgePosted, blackboard.AreaTasks, blackboard.Entry{
		Key: "k", Value: 1, Kind: blackboard.KindFact, Confidence: 1, Timestamp: t0,
	})
	require.NotNil(t, ev.Entry)
	assert.Equal(t, "tasks", ev.Entry.Area)
	assert.NoError(t, ev.Validate())
}

func TestEnqueue(t *testing.T) {
	t.Run("drops when the queue is full", func(t *testing.T) {
		m := New("test", 2)
		ev := m.NegotiationEvent(EventNegotiationAwarded, awardedNegotiation())

		assert.True(t, m.Enqueue(ev))
		assert.True(t, m.Enqueue(ev))
		assert.False(t, m.Enqueue(ev))

		stats := m.Stats()
		assert.Equal(t, uint64(2), stats.Enqueued)
		assert.Equal(t, uint64(1), stats.Dropped)
	})

	t.Run("rejects invalid events", func(t *testing.T) {
		m := New("test", 2)
		assert.False(t, m.Enqueue(nil))
		assert.False(t, m.Enqueue(&Event{Type: EventKnowledgePosted}))
		assert.Equal(t, uint64(1), m.Stats().Dropped)
	})

	t.Run("stats use snake_case keys", func(t *testing.T) {
		m := New("test", 1)
		m.Enqueue(m.NegotiationEvent(EventNegotiationAwarded, awardedNegotiation()))
		m.Enqueue(m.NegotiationEvent(EventNegotiationAwarded, awardedNegotiation()))

		data, err := json.Marshal(m.Stats())
		require.NoError(t, err)
		assert.JSONEq(t, `{"enqueued":1,"dropped":1,"delivered":0,"failed":0}`, string(data))
	})
}

func TestRunDelivers(t *testing.T) {
	sink := &memorySink{}
	m := New("test", 16, sink)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	for i := 0; i < 5; i++ {
		require.True(t, m.Enqueue(m.NegotiationEvent(EventNegotiationAwarded, awardedNegotiation())))
	}

	require.Eventually(t, func() bool {
		recorded, published := sink.counts()
		return recorded == 5 && published == 5
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	assert.Equal(t, uint64(5), m.Stats().Delivered)

	// A second Run is a no-op
	assert.NoError(t, m.Run(context.Background()))
}

func TestRunDrainsOnShutdown(t *testing.T) {
	sink := &memorySink{}
	m := New("test", 16, sink)

	for i := 0; i < 3; i++ {
		require.True(t, m.Enqueue(m.NegotiationEvent(EventNegotiationAwarded, awardedNegotiation())))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = m.Run(ctx)

	recorded, _ := sink.counts()
	assert.Equal(t, 3, recorded)
}

func TestRunCountsFailures(t *testing.T) {
	sink := &memorySink{fail: true}
	m := New("test", 4, sink)

	require.True(t, m.Enqueue(m.NegotiationEvent(EventNegotiationAwarded, awardedNegotiation())))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = m.Run(ctx)

	stats := m.Stats()
	assert.Equal(t, uint64(1), stats.Failed)
	assert.Zero(t, stats.Delivered)

	// Publishing still happens when recording fails
	_, published := sink.counts()
	assert.Equal(t, 1, published)
}

func TestMirrorToRedis(t *testing.T) {
	client, _ := setupTestClient(t)
	m := New("test-instance", 8, client)

	sub, err := client.SubscribeEvents(context.Background())
	require.NoError(t, err)
	defer sub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	n := awardedNegotiation()
	require.True(t, m.Enqueue(m.NegotiationEvent(EventNegotiationAwarded, n)))

	select {
	case ev := <-sub.Events():
		assert.Equal(t, EventNegotiationAwarded, ev.Type)
		// Recorded before published
		stored, err := client.GetNegotiation(context.Background(), n.ID())
		require.NoError(t, err)
		assert.Equal(t, "agent-b", stored.WinnerID)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for mirrored event")
	}
}
