package agentsim

import (
	"context"
	"fmt"
	"log"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dyluth/huddle/internal/config"
	"github.com/dyluth/huddle/pkg/bus"
	"github.com/dyluth/huddle/pkg/contractnet"
)

// DefaultPollInterval is how often an agent drains its mailbox.
const DefaultPollInterval = 10 * time.Millisecond

// Agent is an in-process participant that bids on announcements it is suited
// for and carries out the tasks it is awarded.
//
// It runs two goroutines:
//   - Watcher: drains the mailbox, answers announcements with bids and queues awards
//   - Executor: performs awarded tasks one at a time and reports completion
type Agent struct {
	name          string
	profile       config.Agent
	bus           *bus.Bus
	coordinatorID string

	pollInterval time.Duration
	random       func() float64
	sleep        func(ctx context.Context, d time.Duration) error

	bids      atomic.Uint64
	awards    atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64

	wg sync.WaitGroup
}

// Stats counts an agent's activity.
type Stats struct {
	Bids      uint64 `json:"bids"`
	Awards    uint64 `json:"awards"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
}

// Option configures an Agent.
type Option func(*Agent)

// WithPollInterval sets how often the mailbox is drained.
func WithPollInterval(d time.Duration) Option {
	return func(a *Agent) {
		if d > 0 {
			a.pollInterval = d
		}
	}
}

// WithRandom replaces the source used to decide simulated failures.
// f must return values in [0, 1).
func WithRandom(f func() float64) Option {
	return func(a *Agent) {
		a.random = f
	}
}

// WithSleep replaces how task execution time is spent.
func WithSleep(f func(ctx context.Context, d time.Duration) error) Option {
	return func(a *Agent) {
		a.sleep = f
	}
}

// NewAgent registers name on b and returns an agent that reports to coordinatorID.
func NewAgent(name string, profile config.Agent, b *bus.Bus, coordinatorID string, opts ...Option) (*Agent, error) {
	if err := profile.Validate(name); err != nil {
		return nil, err
	}
	if coordinatorID == "" {
		return nil, fmt.Errorf("coordinator ID cannot be empty")
	}

	a := &Agent{
		name:          name,
		profile:       profile,
		bus:           b,
		coordinatorID: coordinatorID,
		pollInterval:  DefaultPollInterval,
		random:        rand.Float64,
		sleep:         sleepContext,
	}
	for _, opt := range opts {
		opt(a)
	}

	if err := b.Register(name); err != nil {
		return nil, fmt.Errorf("failed to register agent '%s': %w", name, err)
	}
	return a, nil
}

// Name returns the agent's bus identity.
func (a *Agent) Name() string { return a.name }

// Stats returns the agent's counters.
func (a *Agent) Stats() Stats {
	return Stats{
		Bids:      a.bids.Load(),
		Awards:    a.awards.Load(),
		Completed: a.completed.Load(),
		Failed:    a.failed.Load(),
	}
}

// Evaluate decides whether the agent bids on ann and with what offer.
// An agent only bids when it has every required skill and tool and meets the
// distance and proficiency limits.
func (a *Agent) Evaluate(ann contractnet.Announcement) (contractnet.Bid, bool) {
	if !containsAll(a.profile.Skills, ann.Skills()) {
		return contractnet.Bid{}, false
	}
	if !containsAll(a.profile.Tools, ann.Tools()) {
		return contractnet.Bid{}, false
	}
	if maxDistance, ok := ann.MaxDistance(); ok && a.profile.Distance > maxDistance {
		return contractnet.Bid{}, false
	}
	if minProficiency, ok := ann.MinProficiency(); ok && a.profile.Proficiency < minProficiency {
		return contractnet.Bid{}, false
	}

	estimatedMs := a.profile.EstimatedTime.Milliseconds()
	if estimatedMs < 1 {
		estimatedMs = 1
	}

	return contractnet.Bid{
		AnnouncementID:  ann.ID,
		BidderID:        a.name,
		Score:           a.profile.Score,
		EstimatedTimeMs: estimatedMs,
		Confidence:      a.profile.Confidence,
		Capabilities: map[string]any{
			"skills":      a.profile.Skills,
			"tools":       a.profile.Tools,
			"proficiency": a.profile.Proficiency,
			"distance":    a.profile.Distance,
		},
	}, true
}

// Run starts the watcher and executor and blocks until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	log.Printf("[Agent] %s starting (skills=%v)", a.name, a.profile.Skills)

	// Awards are rare relative to announcements; a small buffer keeps the watcher from blocking
	workQueue := make(chan award, 8)

	a.wg.Add(2)
	go a.watcher(ctx, workQueue)
	go a.executor(ctx, workQueue)

	a.reportStatus("idle", "")

	<-ctx.Done()
	a.wg.Wait()
	log.Printf("[Agent] %s stopped", a.name)
	return nil
}

type award struct {
	announcementID string
	task           any
}

func (a *Agent) watcher(ctx context.Context, workQueue chan<- award) {
	defer a.wg.Done()
	defer close(workQueue)

	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, msg := range a.bus.Receive(a.name) {
				a.handleMessage(ctx, msg, workQueue)
			}
		}
	}
}

func (a *Agent) handleMessage(ctx context.Context, msg bus.Message, workQueue chan<- award) {
	switch msg.Type {
	case bus.MessageTypeTaskAnnouncement:
		a.handleAnnouncement(msg)

	case bus.MessageTypeTaskAward:
		id := msg.PayloadString("announcement_id")
		if id == "" {
			log.Printf("[Agent] %s ignoring award without announcement_id", a.name)
			return
		}
		a.awards.Add(1)
		log.Printf("[Agent] %s awarded %s", a.name, id)

		select {
		case workQueue <- award{announcementID: id, task: msg.Payload["task"]}:
		case <-ctx.Done():
		}

	default:
		// Knowledge shares, responses and status from peers are not acted on
	}
}

func (a *Agent) handleAnnouncement(msg bus.Message) {
	id := msg.PayloadString("announcement_id")
	if id == "" {
		log.Printf("[Agent] %s ignoring announcement without announcement_id", a.name)
		return
	}

	ann := contractnet.Announcement{ID: id, Task: msg.Payload["task"], RequesterID: msg.SenderID}
	if reqs, ok := msg.Payload["requirements"].(map[string]any); ok {
		ann.Requirements = reqs
	}

	bid, ok := a.Evaluate(ann)
	if !ok {
		return
	}

	payload := map[string]any{
		"announcement_id":   bid.AnnouncementID,
		"score":             bid.Score,
		"estimated_time_ms": bid.EstimatedTimeMs,
		"confidence":        bid.Confidence,
		"capabilities":      bid.Capabilities,
	}
	if err := a.bus.Send(a.coordinatorID, bus.NewMessage(a.name, a.coordinatorID, bus.MessageTypeTaskBid, payload)); err != nil {
		log.Printf("[Agent] %s failed to bid on %s: %v", a.name, id, err)
		return
	}
	a.bids.Add(1)
}

func (a *Agent) executor(ctx context.Context, workQueue <-chan award) {
	defer a.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case w, ok := <-workQueue:
			if !ok {
				return
			}
			a.execute(ctx, w)
		}
	}
}

func (a *Agent) execute(ctx context.Context, w award) {
	a.reportStatus("working", w.announcementID)

	if err := a.sleep(ctx, a.profile.EstimatedTime); err != nil {
		// Shutting down mid-task; the negotiation stays awarded
		return
	}

	success := a.random() >= a.profile.FailureRate
	result := map[string]any{
		"agent": a.name,
		"task":  w.task,
	}
	msg := bus.NewMessage(a.name, a.coordinatorID, bus.MessageTypeTaskComplete, map[string]any{
		"announcement_id": w.announcementID,
		"success":         success,
		"result":          result,
	})
	if err := a.bus.Send(a.coordinatorID, msg); err != nil {
		log.Printf("[Agent] %s failed to report %s: %v", a.name, w.announcementID, err)
		return
	}

	if success {
		a.completed.Add(1)
	} else {
		a.failed.Add(1)
	}
	log.Printf("[Agent] %s finished %s (success=%t)", a.name, w.announcementID, success)

	a.reportStatus("idle", "")
}

func (a *Agent) reportStatus(state, task string) {
	payload := map[string]any{"state": state}
	if task != "" {
		payload["task"] = task
	}
	msg := bus.NewMessage(a.name, a.coordinatorID, bus.MessageTypeStatusUpdate, payload)
	if err := a.bus.Send(a.coordinatorID, msg); err != nil {
		log.Printf("[Agent] %s failed to report status: %v", a.name, err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func containsAll(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, h := range have {
		set[h] = struct{}{}
	}
	for _, w := range want {
		if _, ok := set[w]; !ok {
			return false
		}
	}
	return true
}
