package blackboard

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Stats is a point-in-time summary of blackboard activity.
type Stats struct {
	Posts     uint64       `json:"posts"`
	Queries   uint64       `json:"queries"`
	Removals  uint64       `json:"removals"`
	Evictions uint64       `json:"evictions"`
	Entries   map[Area]int `json:"entries"`
	Total     int          `json:"total"`
}

// Blackboard is shared, area-partitioned knowledge with bounded staleness.
// Each area has its own lock, so writers to different areas never contend.
// Safe for concurrent use.
type Blackboard struct {
	areas map[Area]*areaStore // fixed after New; never mutated
	now   func() time.Time

	globalMu   sync.RWMutex
	globalSubs []*subscriber

	version atomic.Uint64

	posts     atomic.Uint64
	queries   atomic.Uint64
	removals  atomic.Uint64
	evictions atomic.Uint64
}

type areaStore struct {
	area   Area
	maxAge time.Duration

	mu      sync.RWMutex
	entries map[string]record

	subMu sync.RWMutex
	subs  []*subscriber
}

// record pairs an entry with the version assigned when it was written.
// Cleanup uses the version to detect entries replaced after its snapshot.
type record struct {
	entry   Entry
	version uint64
}

type subscriber struct {
	handler Handler
}

// Option configures a Blackboard.
type Option func(*config)

type config struct {
	now     func() time.Time
	maxAges map[Area]time.Duration
}

// WithClock injects the time source used for timestamps and staleness.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		c.now = now
	}
}

// WithAreaMaxAge overrides the staleness limit of one area.
func WithAreaMaxAge(area Area, maxAge time.Duration) Option {
	return func(c *config) {
		c.maxAges[area] = maxAge
	}
}

// New creates a blackboard with every known area, empty.
// Returns an error if an option names an unknown area or a non-positive max age.
func New(opts ...Option) (*Blackboard, error) {
	cfg := &config{
		now:     time.Now,
		maxAges: make(map[Area]time.Duration),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	for area, maxAge := range cfg.maxAges {
		if err := area.Validate(); err != nil {
			return nil, fmt.Errorf("invalid max age override: %w", err)
		}
		if maxAge <= 0 {
			return nil, fmt.Errorf("max age for area %s must be positive, got %s", area, maxAge)
		}
	}

	b := &Blackboard{
		areas: make(map[Area]*areaStore, len(defaultMaxAges)),
		now:   cfg.now,
	}

	for _, area := range Areas() {
		maxAge := area.DefaultMaxAge()
		if override, ok := cfg.maxAges[area]; ok {
			maxAge = override
		}
		b.areas[area] = &areaStore{
			area:    area,
			maxAge:  maxAge,
			entries: make(map[string]record),
		}
	}

	return b, nil
}

// MaxAge returns the staleness limit in effect for area.
func (b *Blackboard) MaxAge(area Area) (time.Duration, error) {
	store, err := b.store(area)
	if err != nil {
		return 0, err
	}
	return store.maxAge, nil
}

// Post creates or replaces the entry at (area, key) with a fresh timestamp.
// Confidence is clamped to [0, 1]. Subscribers of the area, then global
// subscribers, are notified after the write is visible to readers.
func (b *Blackboard) Post(area Area, key string, value any, sourceAgentID string, confidence float64, kind Kind, opts ...PostOption) error {
	store, err := b.store(area)
	if err != nil {
		return err
	}
	if key == "" {
		return ErrEmptyKey
	}
	if err := kind.Validate(); err != nil {
		return err
	}

	entry := Entry{
		Key:           key,
		Value:         value,
		Timestamp:     b.now(),
		SourceAgentID: sourceAgentID,
		Confidence:    clampConfidence(confidence),
		Kind:          kind,
	}
	for _, opt := range opts {
		opt(&entry)
	}

	store.mu.Lock()
	store.entries[key] = record{entry: entry, version: b.version.Add(1)}
	store.mu.Unlock()

	b.posts.Add(1)
	b.notify(store, Event{Type: EventPosted, Area: area, Entry: entry})
	return nil
}

// PostFact posts a fact with full confidence.
func (b *Blackboard) PostFact(area Area, key string, value any, sourceAgentID string) error {
	return b.Post(area, key, value, sourceAgentID, 1.0, KindFact)
}

// PostGoal posts a goal with the conventional 0.9 confidence.
func (b *Blackboard) PostGoal(area Area, key string, value any, sourceAgentID string) error {
	return b.Post(area, key, value, sourceAgentID, 0.9, KindGoal)
}

// PostConstraint posts a system constraint. Constraints have no source agent.
func (b *Blackboard) PostConstraint(area Area, key string, value any) error {
	return b.Post(area, key, value, "", 1.0, KindConstraint)
}

// Get returns the entry at (area, key).
func (b *Blackboard) Get(area Area, key string) (Entry, bool) {
	store, err := b.store(area)
	if err != nil {
		return Entry{}, false
	}
	b.queries.Add(1)

	store.mu.RLock()
	rec, ok := store.entries[key]
	store.mu.RUnlock()
	return rec.entry, ok
}

// QueryArea returns every entry in area, oldest write first.
// Returns nil for unknown areas.
func (b *Blackboard) QueryArea(area Area) []Entry {
	entries, err := b.Query(area, Criteria{})
	if err != nil {
		return nil
	}
	return entries
}

// Remove deletes the entry at (area, key). Returns false if nothing was there.
func (b *Blackboard) Remove(area Area, key string) bool {
	store, err := b.store(area)
	if err != nil {
		return false
	}

	store.mu.Lock()
	rec, ok := store.entries[key]
	if ok {
		delete(store.entries, key)
	}
	store.mu.Unlock()

	if !ok {
		return false
	}
	b.removals.Add(1)
	b.notify(store, Event{Type: EventRemoved, Area: area, Entry: rec.entry})
	return true
}

// ClearArea removes every entry in area and returns how many were removed.
// Subscribers are notified for each removed entry.
func (b *Blackboard) ClearArea(area Area) (int, error) {
	store, err := b.store(area)
	if err != nil {
		return 0, err
	}

	store.mu.Lock()
	removed := make([]Entry, 0, len(store.entries))
	for _, rec := range store.entries {
		removed = append(removed, rec.entry)
	}
	store.entries = make(map[string]record)
	store.mu.Unlock()

	b.removals.Add(uint64(len(removed)))
	for _, entry := range removed {
		b.notify(store, Event{Type: EventRemoved, Area: area, Entry: entry})
	}
	return len(removed), nil
}

// Count returns the number of entries in area (0 for unknown areas).
func (b *Blackboard) Count(area Area) int {
	store, err := b.store(area)
	if err != nil {
		return 0
	}
	store.mu.RLock()
	defer store.mu.RUnlock()
	return len(store.entries)
}

// TotalCount returns the number of entries across all areas.
func (b *Blackboard) TotalCount() int {
	total := 0
	for _, area := range Areas() {
		total += b.Count(area)
	}
	return total
}

// Subscribe registers handler for changes in area.
// The returned function removes the subscription.
func (b *Blackboard) Subscribe(area Area, handler Handler) (func(), error) {
	store, err := b.store(area)
	if err != nil {
		return nil, err
	}

	sub := &subscriber{handler: handler}
	store.subMu.Lock()
	store.subs = append(store.subs, sub)
	store.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			store.subMu.Lock()
			store.subs = without(store.subs, sub)
			store.subMu.Unlock()
		})
	}, nil
}

// SubscribeAll registers handler for changes in every area.
func (b *Blackboard) SubscribeAll(handler Handler) func() {
	sub := &subscriber{handler: handler}
	b.globalMu.Lock()
	b.globalSubs = append(b.globalSubs, sub)
	b.globalMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.globalMu.Lock()
			b.globalSubs = without(b.globalSubs, sub)
			b.globalMu.Unlock()
		})
	}
}

// Cleanup removes every entry that is stale as of the moment Cleanup starts
// and returns the number removed. Each area is snapshotted under its read
// lock, filtered without any lock, and only entries that have not been
// replaced since the snapshot are deleted.
func (b *Blackboard) Cleanup() int {
	start := b.now()
	total := 0

	for _, area := range Areas() {
		store := b.areas[area]

		// Snapshot
		store.mu.RLock()
		snapshot := make(map[string]record, len(store.entries))
		for key, rec := range store.entries {
			snapshot[key] = rec
		}
		store.mu.RUnlock()

		// Filter
		stale := make(map[string]uint64)
		for key, rec := range snapshot {
			if rec.entry.IsStale(start, store.maxAge) {
				stale[key] = rec.version
			}
		}
		if len(stale) == 0 {
			continue
		}

		// Delete only what is unchanged since the snapshot
		var removed []Entry
		store.mu.Lock()
		for key, version := range stale {
			if current, ok := store.entries[key]; ok && current.version == version {
				delete(store.entries, key)
				removed = append(removed, current.entry)
			}
		}
		store.mu.Unlock()

		total += len(removed)
		for _, entry := range removed {
			b.notify(store, Event{Type: EventRemoved, Area: area, Entry: entry})
		}
	}

	if total > 0 {
		b.evictions.Add(uint64(total))
	}
	return total
}

// Run calls Cleanup every interval until ctx is cancelled.
func (b *Blackboard) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("cleanup interval must be positive, got %s", interval)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if removed := b.Cleanup(); removed > 0 {
				log.Printf("[Blackboard] Evicted %d stale entries", removed)
			}
		}
	}
}

// Snapshot returns a copy of every area's entries.
func (b *Blackboard) Snapshot() map[Area][]Entry {
	out := make(map[Area][]Entry, len(b.areas))
	for _, area := range Areas() {
		out[area] = b.QueryArea(area)
	}
	return out
}

// Stats returns activity counters and per-area entry counts.
func (b *Blackboard) Stats() Stats {
	entries := make(map[Area]int, len(b.areas))
	total := 0
	for _, area := range Areas() {
		n := b.Count(area)
		entries[area] = n
		total += n
	}

	return Stats{
		Posts:     b.posts.Load(),
		Queries:   b.queries.Load(),
		Removals:  b.removals.Load(),
		Evictions: b.evictions.Load(),
		Entries:   entries,
		Total:     total,
	}
}

func (b *Blackboard) store(area Area) (*areaStore, error) {
	store, ok := b.areas[area]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrAreaNotFound, area)
	}
	return store, nil
}

// snapshotArea copies the records of one area, ordered by write version.
func (b *Blackboard) snapshotArea(store *areaStore) []record {
	store.mu.RLock()
	recs := make([]record, 0, len(store.entries))
	for _, rec := range store.entries {
		recs = append(recs, rec)
	}
	store.mu.RUnlock()

	sort.Slice(recs, func(i, j int) bool {
		return recs[i].version < recs[j].version
	})
	return recs
}

// notify delivers ev to area subscribers, then global subscribers.
func (b *Blackboard) notify(store *areaStore, ev Event) {
	store.subMu.RLock()
	subs := append([]*subscriber(nil), store.subs...)
	store.subMu.RUnlock()

	b.globalMu.RLock()
	subs = append(subs, b.globalSubs...)
	b.globalMu.RUnlock()

	for _, sub := range subs {
		invoke(sub.handler, ev)
	}
}

func invoke(handler Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Blackboard] Subscriber panicked on %s %s/%s: %v", ev.Type, ev.Area, ev.Entry.Key, r)
		}
	}()
	handler(ev)
}

func without(subs []*subscriber, target *subscriber) []*subscriber {
	out := make([]*subscriber, 0, len(subs))
	for _, s := range subs {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}
