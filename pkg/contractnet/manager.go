package contractnet

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/dyluth/huddle/pkg/blackboard"
	"github.com/dyluth/huddle/pkg/bus"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

const (
	// DefaultRetention is how long finished negotiations stay readable after they are retired
	DefaultRetention = 5 * time.Minute

	// outcomeKeyPrefix prefixes the tasks-area key of every negotiation
	outcomeKeyPrefix = "negotiation:"
)

// Messenger delivers direct messages. *bus.Bus satisfies it.
type Messenger interface {
	Send(receiverID string, msg bus.Message) error
}

// Poster records knowledge. *blackboard.Blackboard satisfies it.
type Poster interface {
	Post(area blackboard.Area, key string, value any, sourceAgentID string, confidence float64, kind blackboard.Kind, opts ...blackboard.PostOption) error
}

// Listener observes negotiation lifecycle changes. Callbacks run after the
// change commits, on the goroutine that caused it, with no manager locks held.
type Listener interface {
	OnAnnounce(a Announcement)
	OnBid(b Bid)
	OnAward(announcementID string, winner Bid)
	OnExpire(announcementID string)
	OnComplete(announcementID string, success bool)
}

// NopListener implements Listener with no-ops; embed it to handle a subset of events.
type NopListener struct{}

func (NopListener) OnAnnounce(Announcement) {}
func (NopListener) OnBid(Bid)               {}
func (NopListener) OnAward(string, Bid)     {}
func (NopListener) OnExpire(string)         {}
func (NopListener) OnComplete(string, bool) {}

// Manager runs Contract Net negotiations: announce, collect bids, award exactly once.
// Each negotiation has its own lock; the table lock is held only to look up or
// insert negotiations. Safe for concurrent use.
type Manager struct {
	mu           sync.RWMutex
	negotiations map[string]*negotiation

	// Terminal negotiations stay in the live table for the retention window, then
	// Sweep moves them here where they stay readable for another window
	retired   *cache.Cache
	retention time.Duration

	messenger Messenger
	poster    Poster
	now       func() time.Time
	autoAward bool

	listenersMu sync.RWMutex
	listeners   []Listener
}

type negotiation struct {
	mu           sync.Mutex
	announcement Announcement
	bids         []Bid
	bidders      map[string]struct{}
	state        State
	winner       *Bid
	createdAt    time.Time
	awardedAt    time.Time
	closedAt     time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithMessenger sends task_award messages to winners through m.
func WithMessenger(m Messenger) Option {
	return func(mgr *Manager) {
		mgr.messenger = m
	}
}

// WithPoster records announcements and outcomes in the tasks area through p.
func WithPoster(p Poster) Option {
	return func(mgr *Manager) {
		mgr.poster = p
	}
}

// WithClock injects the time source used for deadlines.
func WithClock(now func() time.Time) Option {
	return func(mgr *Manager) {
		mgr.now = now
	}
}

// WithAutoAward controls whether an expired negotiation with bids is awarded to
// its best bidder (true, the default) or left for a manual award.
func WithAutoAward(enabled bool) Option {
	return func(mgr *Manager) {
		mgr.autoAward = enabled
	}
}

// WithRetention sets how long retired negotiations remain readable.
func WithRetention(d time.Duration) Option {
	return func(mgr *Manager) {
		mgr.retention = d
	}
}

// WithListener registers l for lifecycle callbacks.
func WithListener(l Listener) Option {
	return func(mgr *Manager) {
		mgr.listeners = append(mgr.listeners, l)
	}
}

// NewManager creates a manager with no negotiations.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		negotiations: make(map[string]*negotiation),
		retention:    DefaultRetention,
		now:          time.Now,
		autoAward:    true,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.retention <= 0 {
		m.retention = DefaultRetention
	}
	m.retired = cache.New(m.retention, m.retention)
	return m
}

// AddListener registers l for lifecycle callbacks.
func (m *Manager) AddListener(l Listener) {
	m.listenersMu.Lock()
	m.listeners = append(m.listeners, l)
	m.listenersMu.Unlock()
}

// Announce opens a negotiation for task and returns its announcement ID.
func (m *Manager) Announce(task any, requesterID string, deadline time.Time) (string, error) {
	return m.AnnounceWithRequirements(task, requesterID, deadline, nil)
}

// AnnounceWithRequirements opens a negotiation whose announcement carries requirements.
// Returns an error wrapping ErrInvalidAnnouncement if task is nil or requesterID
// is empty. A deadline that has already passed is accepted; the next Sweep
// expires the negotiation.
func (m *Manager) AnnounceWithRequirements(task any, requesterID string, deadline time.Time, requirements map[string]any) (string, error) {
	now := m.now()

	if task == nil {
		return "", fmt.Errorf("%w: task cannot be nil", ErrInvalidAnnouncement)
	}
	if requesterID == "" {
		return "", fmt.Errorf("%w: requester ID cannot be empty", ErrInvalidAnnouncement)
	}

	var reqs map[string]any
	if len(requirements) > 0 {
		reqs = make(map[string]any, len(requirements))
		for k, v := range requirements {
			reqs[k] = v
		}
	}

	ann := Announcement{
		ID:           uuid.New().String(),
		Task:         task,
		RequesterID:  requesterID,
		Deadline:     deadline,
		Requirements: reqs,
	}

	n := &negotiation{
		announcement: ann,
		bidders:      make(map[string]struct{}),
		state:        StateAnnounced,
		createdAt:    now,
	}

	m.mu.Lock()
	m.negotiations[ann.ID] = n
	m.mu.Unlock()

	log.Printf("[ContractNet] Announced %s from %s (deadline in %s)", ann.ID, requesterID, deadline.Sub(now).Round(time.Millisecond))

	var postOpts []blackboard.PostOption
	if window := deadline.Sub(now); window > 0 {
		postOpts = append(postOpts, blackboard.WithMaxAge(window))
	}
	m.post(ann, StateAnnounced, nil, blackboard.KindGoal, postOpts...)
	m.emit(func(l Listener) { l.OnAnnounce(ann) })

	return ann.ID, nil
}

// SubmitBid offers bid for its negotiation and reports whether it was accepted.
// Rejected bids have no side effects.
func (m *Manager) SubmitBid(bid Bid) bool {
	return m.SubmitBidResult(bid) == nil
}

// SubmitBidResult is SubmitBid with the rejection reason. A bid is rejected if it
// is malformed, its negotiation is unknown or no longer open, the deadline has
// passed, or the bidder already has a bid on this negotiation.
func (m *Manager) SubmitBidResult(bid Bid) error {
	return m.SubmitBidAt(bid, m.now())
}

// SubmitBidAt is SubmitBidResult with the deadline judged against at, the time
// the bid was sent, instead of the time it is processed. Queued bids that were
// sent in time are accepted as long as the negotiation is still open.
func (m *Manager) SubmitBidAt(bid Bid, at time.Time) error {
	if err := bid.Validate(); err != nil {
		return err
	}

	n, ok := m.lookup(bid.AnnouncementID)
	if !ok {
		if v, found := m.retired.Get(bid.AnnouncementID); found {
			return fmt.Errorf("%w: negotiation %s is %s", ErrInvalidBid, bid.AnnouncementID, v.(Negotiation).State)
		}
		return fmt.Errorf("%w: %s", ErrNegotiationNotFound, bid.AnnouncementID)
	}

	n.mu.Lock()
	if !n.state.IsOpen() {
		state := n.state
		n.mu.Unlock()
		return fmt.Errorf("%w: negotiation %s is %s", ErrInvalidBid, bid.AnnouncementID, state)
	}
	if at.After(n.announcement.Deadline) {
		n.mu.Unlock()
		return fmt.Errorf("%w: deadline for %s has passed", ErrInvalidBid, bid.AnnouncementID)
	}
	if _, dup := n.bidders[bid.BidderID]; dup {
		n.mu.Unlock()
		return fmt.Errorf("%w: %s already bid on %s", ErrInvalidBid, bid.BidderID, bid.AnnouncementID)
	}

	n.bids = append(n.bids, bid)
	n.bidders[bid.BidderID] = struct{}{}
	if n.state == StateAnnounced {
		n.state = StateEvaluating
	}
	n.mu.Unlock()

	m.emit(func(l Listener) { l.OnBid(bid) })
	return nil
}

// SelectWinner returns the best bid of a negotiation without changing it.
func (m *Manager) SelectWinner(announcementID string) (Bid, bool) {
	snap, ok := m.Negotiation(announcementID)
	if !ok || len(snap.Bids) == 0 {
		return Bid{}, false
	}
	return snap.Bids[0], true
}

// AwardContract awards the negotiation to winner, who must be one of its bidders.
// Returns false if the negotiation is not evaluating (already awarded, finished,
// expired or without bids) or winner did not bid. At most one call ever succeeds.
func (m *Manager) AwardContract(announcementID string, winner Bid) bool {
	n, ok := m.lookup(announcementID)
	if !ok {
		return false
	}

	n.mu.Lock()
	awarded, ok := m.awardLocked(n, winner.BidderID)
	ann := n.announcement
	n.mu.Unlock()

	if ok {
		m.afterAward(ann, awarded)
	}
	return ok
}

// AwardToBestBidder selects and awards the best bid in one step.
func (m *Manager) AwardToBestBidder(announcementID string) (Bid, bool) {
	n, ok := m.lookup(announcementID)
	if !ok {
		return Bid{}, false
	}

	n.mu.Lock()
	best, ok := SelectBest(n.bids)
	var awarded Bid
	if ok {
		awarded, ok = m.awardLocked(n, best.BidderID)
	}
	ann := n.announcement
	n.mu.Unlock()

	if !ok {
		return Bid{}, false
	}
	m.afterAward(ann, awarded)
	return awarded, true
}

// MarkComplete records the winner's result: awarded → completed or failed.
// Returns false if the negotiation is not awarded.
func (m *Manager) MarkComplete(announcementID string, success bool) bool {
	n, ok := m.lookup(announcementID)
	if !ok {
		return false
	}

	n.mu.Lock()
	if n.state != StateAwarded {
		n.mu.Unlock()
		return false
	}
	if success {
		n.state = StateCompleted
	} else {
		n.state = StateFailed
	}
	n.closedAt = m.now()
	ann, state, winner := n.announcement, n.state, *n.winner
	n.mu.Unlock()

	log.Printf("[ContractNet] Negotiation %s %s by %s", ann.ID, state, winner.BidderID)
	m.post(ann, state, &winner, blackboard.KindFact)
	m.emit(func(l Listener) { l.OnComplete(ann.ID, success) })
	return true
}

// Expire closes a negotiation whose deadline has passed. With no bids it
// becomes expired; with bids and auto-award enabled it is awarded to the best
// bidder. Returns true if the negotiation changed state.
func (m *Manager) Expire(announcementID string) bool {
	return m.expire(announcementID) != expireNone
}

type expireOutcome int

const (
	expireNone expireOutcome = iota
	expireExpired
	expireAwarded
)

func (m *Manager) expire(announcementID string) expireOutcome {
	n, ok := m.lookup(announcementID)
	if !ok {
		return expireNone
	}

	now := m.now()
	n.mu.Lock()
	if !n.state.IsOpen() || !now.After(n.announcement.Deadline) {
		n.mu.Unlock()
		return expireNone
	}

	if len(n.bids) == 0 {
		n.state = StateExpired
		n.closedAt = now
		ann := n.announcement
		n.mu.Unlock()

		log.Printf("[ContractNet] Negotiation %s expired with no bids", ann.ID)
		m.post(ann, StateExpired, nil, blackboard.KindFact)
		m.emit(func(l Listener) { l.OnExpire(ann.ID) })
		return expireExpired
	}

	if !m.autoAward {
		n.mu.Unlock()
		return expireNone
	}

	best, _ := SelectBest(n.bids)
	awarded, ok := m.awardLocked(n, best.BidderID)
	ann := n.announcement
	n.mu.Unlock()

	if !ok {
		return expireNone
	}
	m.afterAward(ann, awarded)
	return expireAwarded
}

// Sweep expires every negotiation past its deadline, then moves negotiations
// that finished at least one retention window ago to the retired store. No
// table lock is held while individual negotiations are processed.
func (m *Manager) Sweep() SweepResult {
	var result SweepResult

	for _, id := range m.activeIDs() {
		switch m.expire(id) {
		case expireExpired:
			result.Expired++
		case expireAwarded:
			result.AutoAwarded++
		}
	}

	now := m.now()
	for _, id := range m.activeIDs() {
		n, ok := m.lookup(id)
		if !ok {
			continue
		}

		n.mu.Lock()
		due := n.state.IsTerminal() && now.Sub(n.closedAt) >= m.retention
		snap := n.snapshotLocked()
		n.mu.Unlock()

		if !due {
			continue
		}

		// Store before deleting so Negotiation always finds the ID in one of the two
		m.retired.Set(id, snap, cache.DefaultExpiration)
		m.mu.Lock()
		delete(m.negotiations, id)
		m.mu.Unlock()
		result.Retired++
	}

	return result
}

// Run sweeps every interval until ctx is cancelled.
func (m *Manager) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("sweep interval must be positive, got %s", interval)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			result := m.Sweep()
			if result.Expired > 0 || result.AutoAwarded > 0 {
				log.Printf("[ContractNet] Sweep: %d expired, %d auto-awarded, %d retired",
					result.Expired, result.AutoAwarded, result.Retired)
			}
		}
	}
}

// Negotiation returns a snapshot of one negotiation, active or retired.
func (m *Manager) Negotiation(announcementID string) (Negotiation, bool) {
	if n, ok := m.lookup(announcementID); ok {
		n.mu.Lock()
		defer n.mu.Unlock()
		return n.snapshotLocked(), true
	}

	if v, ok := m.retired.Get(announcementID); ok {
		return v.(Negotiation), true
	}
	return Negotiation{}, false
}

// Bids returns the bids of a negotiation, best first.
func (m *Manager) Bids(announcementID string) []Bid {
	snap, ok := m.Negotiation(announcementID)
	if !ok {
		return nil
	}
	return snap.Bids
}

// Negotiations returns snapshots of every known negotiation, oldest first.
func (m *Manager) Negotiations() []Negotiation {
	var out []Negotiation

	for _, id := range m.activeIDs() {
		if n, ok := m.lookup(id); ok {
			n.mu.Lock()
			out = append(out, n.snapshotLocked())
			n.mu.Unlock()
		}
	}

	for _, item := range m.retired.Items() {
		out = append(out, item.Object.(Negotiation))
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Announcement.ID < out[j].Announcement.ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// ActiveCount returns the number of negotiations that are open or awarded.
func (m *Manager) ActiveCount() int {
	count := 0
	for _, id := range m.activeIDs() {
		if n, ok := m.lookup(id); ok {
			n.mu.Lock()
			if !n.state.IsTerminal() {
				count++
			}
			n.mu.Unlock()
		}
	}
	return count
}

func (m *Manager) lookup(id string) (*negotiation, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.negotiations[id]
	return n, ok
}

func (m *Manager) activeIDs() []string {
	m.mu.RLock()
	ids := make([]string, 0, len(m.negotiations))
	for id := range m.negotiations {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	return ids
}

// awardLocked transitions n to awarded with the bid from bidderID. Caller holds n.mu.
func (m *Manager) awardLocked(n *negotiation, bidderID string) (Bid, bool) {
	if n.state != StateEvaluating {
		return Bid{}, false
	}

	for i := range n.bids {
		if n.bids[i].BidderID == bidderID {
			winner := n.bids[i]
			n.winner = &winner
			n.state = StateAwarded
			n.awardedAt = m.now()
			return winner, true
		}
	}
	return Bid{}, false
}

// afterAward notifies the winner and observers. Runs without n.mu held.
func (m *Manager) afterAward(ann Announcement, winner Bid) {
	log.Printf("[ContractNet] Awarded %s to %s (value=%.3f)", ann.ID, winner.BidderID, winner.Value())

	if m.messenger != nil {
		msg := bus.NewMessage(ann.RequesterID, winner.BidderID, bus.MessageTypeTaskAward, map[string]any{
			"announcement_id": ann.ID,
			"task":            ann.Task,
			"requirements":    ann.Requirements,
			"bid_value":       winner.Value(),
			"deadline_ms":     ann.Deadline.UnixMilli(),
		})
		if err := m.messenger.Send(winner.BidderID, msg); err != nil {
			// The award stands; the winner can still learn of it from the tasks area
			log.Printf("[ContractNet] Failed to deliver award for %s to %s: %v", ann.ID, winner.BidderID, err)
		}
	}

	m.post(ann, StateAwarded, &winner, blackboard.KindFact)
	m.emit(func(l Listener) { l.OnAward(ann.ID, winner) })
}

// post records the negotiation's current state in the tasks area.
func (m *Manager) post(ann Announcement, state State, winner *Bid, kind blackboard.Kind, opts ...blackboard.PostOption) {
	if m.poster == nil {
		return
	}

	value := map[string]any{
		"announcement_id": ann.ID,
		"task":            ann.Task,
		"requester_id":    ann.RequesterID,
		"state":           string(state),
		"deadline_ms":     ann.Deadline.UnixMilli(),
	}
	if len(ann.Requirements) > 0 {
		value["requirements"] = ann.Requirements
	}
	if winner != nil {
		value["winner_id"] = winner.BidderID
		value["bid_value"] = winner.Value()
	}

	confidence := 1.0
	if kind == blackboard.KindGoal {
		confidence = 0.9
	}

	if err := m.poster.Post(blackboard.AreaTasks, outcomeKeyPrefix+ann.ID, value, ann.RequesterID, confidence, kind, opts...); err != nil {
		log.Printf("[ContractNet] Failed to record %s for %s: %v", state, ann.ID, err)
	}
}

func (m *Manager) emit(call func(Listener)) {
	m.listenersMu.RLock()
	listeners := append([]Listener(nil), m.listeners...)
	m.listenersMu.RUnlock()

	for _, l := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("[ContractNet] Listener panicked: %v", r)
				}
			}()
			call(l)
		}()
	}
}

// snapshotLocked copies n into an immutable Negotiation. Caller holds n.mu.
func (n *negotiation) snapshotLocked() Negotiation {
	snap := Negotiation{
		Announcement: n.announcement,
		Bids:         RankBids(n.bids),
		State:        n.state,
		CreatedAt:    n.createdAt,
		AwardedAt:    n.awardedAt,
		ClosedAt:     n.closedAt,
	}
	if n.winner != nil {
		winner := *n.winner
		snap.WinningBid = &winner
	}
	return snap
}

// OutcomeKey returns the tasks-area key under which a negotiation is recorded.
func OutcomeKey(announcementID string) string {
	return outcomeKeyPrefix + announcementID
}
