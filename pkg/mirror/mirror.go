package mirror

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dyluth/huddle/pkg/blackboard"
	"github.com/dyluth/huddle/pkg/contractnet"
)

// DefaultBufferSize is the number of events the mirror queues before dropping.
const DefaultBufferSize = 1024

// Publisher broadcasts mirrored events to live observers.
type Publisher interface {
	PublishEvent(ctx context.Context, ev *Event) error
}

// Recorder persists the state carried by mirrored events.
type Recorder interface {
	Record(ctx context.Context, ev *Event) error
}

// Stats counts mirror activity.
type Stats struct {
	Enqueued  uint64 `json:"enqueued"`
	Dropped   uint64 `json:"dropped"`
	Delivered uint64 `json:"delivered"`
	Failed    uint64 `json:"failed"`
}

// Mirror copies engine events to external sinks off the hot path.
// Enqueue never blocks; a full queue drops the event and counts it.
type Mirror struct {
	instance   string
	queue      chan *Event
	recorders  []Recorder
	publishers []Publisher
	clock      func() time.Time

	enqueued  atomic.Uint64
	dropped   atomic.Uint64
	delivered atomic.Uint64
	failed    atomic.Uint64

	runOnce sync.Once
}

// New creates a mirror for instance. Each sink is added as a Recorder, a
// Publisher, or both, depending on which interfaces it implements.
func New(instance string, bufSize int, sinks ...any) *Mirror {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	m := &Mirror{
		instance: instance,
		queue:    make(chan *Event, bufSize),
		clock:    time.Now,
	}
	for _, s := range sinks {
		if r, ok := s.(Recorder); ok {
			m.recorders = append(m.recorders, r)
		}
		if p, ok := s.(Publisher); ok {
			m.publishers = append(m.publishers, p)
		}
	}
	return m
}

// Instance returns the instance name stamped on events.
func (m *Mirror) Instance() string {
	return m.instance
}

// NegotiationEvent builds an event carrying a negotiation snapshot.
func (m *Mirror) NegotiationEvent(t EventType, n contractnet.Negotiation) *Event {
	return &Event{
		Type:        t,
		Instance:    m.instance,
		TimestampMs: m.clock().UnixMilli(),
		Negotiation: NewNegotiationRecord(n),
	}
}

// EntryEvent builds an event carrying a blackboard entry.
func (m *Mirror) EntryEvent(t EventType, area blackboard.Area, e blackboard.Entry) *Event {
	return &Event{
		Type:        t,
		Instance:    m.instance,
		TimestampMs: m.clock().UnixMilli(),
		Entry:       NewEntryRecord(area, e),
	}
}

// Enqueue queues ev for delivery. Returns false if the event was invalid or dropped.
func (m *Mirror) Enqueue(ev *Event) bool {
	if ev == nil {
		return false
	}
	if err := ev.Validate(); err != nil {
		log.Printf("[Mirror] Discarding invalid %s event: %v", ev.Type, err)
		m.dropped.Add(1)
		return false
	}

	select {
	case m.queue <- ev:
		m.enqueued.Add(1)
		return true
	default:
		m.dropped.Add(1)
		return false
	}
}

// Run delivers queued events until ctx is cancelled, then drains what is left
// with a short grace period. Run may only be called once.
func (m *Mirror) Run(ctx context.Context) error {
	started := false
	m.runOnce.Do(func() { started = true })
	if !started {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			m.drain()
			return ctx.Err()
		case ev := <-m.queue:
			m.deliver(ctx, ev)
		}
	}
}

func (m *Mirror) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for {
		select {
		case ev := <-m.queue:
			m.deliver(ctx, ev)
		default:
			return
		}
	}
}

// deliver records before publishing so observers never see an event whose state is not yet stored.
func (m *Mirror) deliver(ctx context.Context, ev *Event) {
	ok := true
	for _, r := range m.recorders {
		if err := r.Record(ctx, ev); err != nil {
			log.Printf("[Mirror] Failed to record %s event: %v", ev.Type, err)
			ok = false
		}
	}
	for _, p := range m.publishers {
		if err := p.PublishEvent(ctx, ev); err != nil {
			log.Printf("[Mirror] Failed to publish %s event: %v", ev.Type, err)
			ok = false
		}
	}
	if ok {
		m.delivered.Add(1)
	} else {
		m.failed.Add(1)
	}
}

// Stats returns a snapshot of the counters.
func (m *Mirror) Stats() Stats {
	return Stats{
		Enqueued:  m.enqueued.Load(),
		Dropped:   m.dropped.Load(),
		Delivered: m.delivered.Load(),
		Failed:    m.failed.Load(),
	}
}
