package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/dyluth/huddle/internal/config"
	"github.com/dyluth/huddle/pkg/blackboard"
	"github.com/dyluth/huddle/pkg/bus"
	"github.com/dyluth/huddle/pkg/contractnet"
	"github.com/dyluth/huddle/pkg/mirror"
	"golang.org/x/sync/errgroup"
)

// DefaultID is the bus identity the coordinator registers under.
const DefaultID = "coordinator"

// Coordinator wires the bus, blackboard and contract net together and is the
// surface planners, executors and operators talk to.
type Coordinator struct {
	id           string
	instanceName string
	cfg          *config.HuddleConfig

	bus       *bus.Bus
	board     *blackboard.Blackboard
	contracts *contractnet.Manager

	mirror   *mirror.Mirror
	pinger   Pinger
	operator *OperatorServer
	now      func() time.Time

	handlers map[bus.MessageType]messageHandler
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock injects the time source shared by every component.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// WithMirror copies negotiation and knowledge changes to m.
// The coordinator runs m as part of Run.
func WithMirror(m *mirror.Mirror) Option {
	return func(c *Coordinator) {
		c.mirror = m
	}
}

// WithPinger makes /healthz report the reachability of an external store.
func WithPinger(p Pinger) Option {
	return func(c *Coordinator) {
		c.pinger = p
	}
}

// WithID overrides the coordinator's bus identity.
func WithID(id string) Option {
	return func(c *Coordinator) {
		c.id = id
	}
}

// New builds a coordinator and its components from cfg.
// A nil cfg uses config.Default().
func New(cfg *config.HuddleConfig, opts ...Option) (*Coordinator, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	c := &Coordinator{
		id:           DefaultID,
		instanceName: cfg.Instance,
		cfg:          cfg,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	boardOpts := []blackboard.Option{blackboard.WithClock(c.now)}
	for area, maxAge := range cfg.AreaMaxAges() {
		boardOpts = append(boardOpts, blackboard.WithAreaMaxAge(area, maxAge))
	}
	board, err := blackboard.New(boardOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create blackboard: %w", err)
	}
	c.board = board

	c.bus = bus.New(
		bus.WithMailboxCapacity(*cfg.Bus.MailboxCapacity),
		bus.WithOverflowPolicy(bus.OverflowPolicy(cfg.Bus.OverflowPolicy)),
		bus.WithHistorySize(*cfg.Bus.HistorySize),
		bus.WithClock(c.now),
	)
	if err := c.bus.Register(c.id); err != nil {
		return nil, fmt.Errorf("failed to register coordinator mailbox: %w", err)
	}

	bridge := &eventBridge{c: c}
	c.contracts = contractnet.NewManager(
		contractnet.WithMessenger(c.bus),
		contractnet.WithPoster(c.board),
		contractnet.WithClock(c.now),
		contractnet.WithAutoAward(*cfg.Coordinator.AutoAward),
		contractnet.WithRetention(cfg.Coordinator.Retention),
		contractnet.WithListener(bridge),
	)
	if c.mirror != nil {
		c.board.SubscribeAll(bridge.onKnowledge)
	}

	if cfg.Operator.Addr != "" {
		c.operator = NewOperatorServer(cfg.Operator.Addr, c)
	}

	c.handlers = map[bus.MessageType]messageHandler{
		bus.MessageTypeTaskBid:              c.handleBid,
		bus.MessageTypeTaskComplete:         c.handleComplete,
		bus.MessageTypeStatusUpdate:         c.handleStatus,
		bus.MessageTypeKnowledgeShare:       c.handleKnowledge,
		bus.MessageTypeCoordinationRequest:  c.handleRequest,
		bus.MessageTypeCoordinationResponse: c.ignore,
	}

	return c, nil
}

// ID returns the coordinator's bus identity.
func (c *Coordinator) ID() string { return c.id }

// InstanceName returns the configured instance name.
func (c *Coordinator) InstanceName() string { return c.instanceName }

// Bus returns the communication bus agents register on.
func (c *Coordinator) Bus() *bus.Bus { return c.bus }

// Blackboard returns the shared knowledge store.
func (c *Coordinator) Blackboard() *blackboard.Blackboard { return c.board }

// Contracts returns the contract net manager.
func (c *Coordinator) Contracts() *contractnet.Manager { return c.contracts }

// Announce opens a negotiation for task with a bid window of deadline and
// broadcasts a task_announcement to every registered agent.
// A non-positive deadline uses coordinator.default_deadline.
func (c *Coordinator) Announce(task any, requirements map[string]any, deadline time.Duration) (string, error) {
	if deadline <= 0 {
		deadline = c.cfg.Coordinator.DefaultDeadline
	}
	due := c.now().Add(deadline)

	id, err := c.contracts.AnnounceWithRequirements(task, c.id, due, requirements)
	if err != nil {
		return "", err
	}

	payload := map[string]any{
		"announcement_id": id,
		"task":            task,
		"deadline_ms":     due.UnixMilli(),
	}
	if len(requirements) > 0 {
		payload["requirements"] = requirements
	}
	recipients := c.bus.Broadcast(bus.NewMessage(c.id, "", bus.MessageTypeTaskAnnouncement, payload))
	log.Printf("[Coordinator] Announced %s to %d agents (deadline in %v)", id, recipients, deadline)

	return id, nil
}

// SubmitBid forwards a bid from an in-process agent.
func (c *Coordinator) SubmitBid(bid contractnet.Bid) error {
	return c.contracts.SubmitBidResult(bid)
}

// AwardToBestBidder closes bidding on announcementID and awards the best bid.
func (c *Coordinator) AwardToBestBidder(announcementID string) (contractnet.Bid, bool) {
	return c.contracts.AwardToBestBidder(announcementID)
}

// CoordinateGoal asks planner to decompose goal and announces each task in order.
// On failure the IDs announced so far are returned with the error.
func (c *Coordinator) CoordinateGoal(ctx context.Context, planner Planner, goal string) ([]string, error) {
	tasks, err := planner.DecomposeGoal(ctx, goal)
	if err != nil {
		return nil, fmt.Errorf("failed to decompose goal %q: %w", goal, err)
	}

	ids := make([]string, 0, len(tasks))
	for i, task := range tasks {
		if err := ctx.Err(); err != nil {
			return ids, err
		}
		id, err := c.Announce(task.Task, task.Requirements, task.Deadline)
		if err != nil {
			return ids, fmt.Errorf("failed to announce task %d of goal %q: %w", i, goal, err)
		}
		ids = append(ids, id)
	}

	c.logEvent("goal_coordinated", map[string]interface{}{
		"goal":       goal,
		"task_count": len(ids),
	})
	return ids, nil
}

// Negotiations returns snapshots of every known negotiation, oldest first.
func (c *Coordinator) Negotiations() []contractnet.Negotiation {
	return c.contracts.Negotiations()
}

// Knowledge returns a copy of every blackboard area.
func (c *Coordinator) Knowledge() map[blackboard.Area][]blackboard.Entry {
	return c.board.Snapshot()
}

// Stats aggregates component counters for operators.
type Stats struct {
	ActiveNegotiations int              `json:"active_negotiations"`
	Bus                bus.Stats        `json:"bus"`
	Blackboard         blackboard.Stats `json:"blackboard"`
	Mirror             *mirror.Stats    `json:"mirror,omitempty"`
}

// Stats returns a snapshot of component counters.
func (c *Coordinator) Stats() Stats {
	s := Stats{
		ActiveNegotiations: c.contracts.ActiveCount(),
		Bus:                c.bus.Stats(),
		Blackboard:         c.board.Stats(),
	}
	if c.mirror != nil {
		ms := c.mirror.Stats()
		s.Mirror = &ms
	}
	return s
}

// Sweep expires or auto-awards negotiations past their deadline. The inbox is
// drained first so bids sent before a deadline are counted before it closes.
func (c *Coordinator) Sweep() contractnet.SweepResult {
	c.ProcessInbox()
	result := c.contracts.Sweep()
	if result.Expired > 0 || result.AutoAwarded > 0 || result.Retired > 0 {
		c.logEvent("sweep", map[string]interface{}{
			"expired":      result.Expired,
			"auto_awarded": result.AutoAwarded,
			"retired":      result.Retired,
		})
	}
	return result
}

// Run drives the periodic work (deadline sweeps, knowledge cleanup, inbox
// processing and quorum awards) plus the mirror and operator server, and blocks
// until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	if c.operator != nil {
		if err := c.operator.Start(); err != nil {
			return fmt.Errorf("failed to start operator server: %w", err)
		}
		defer c.operator.Shutdown(context.Background())
	}

	log.Printf("[Coordinator] Starting for instance '%s'", c.instanceName)

	g, gctx := errgroup.WithContext(ctx)

	if c.mirror != nil {
		g.Go(func() error {
			if err := c.mirror.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("mirror stopped: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		return c.loop(gctx)
	})

	return g.Wait()
}

func (c *Coordinator) loop(ctx context.Context) error {
	settings := c.cfg.Coordinator

	sweep := time.NewTicker(settings.SweepInterval)
	defer sweep.Stop()
	cleanup := time.NewTicker(settings.CleanupInterval)
	defer cleanup.Stop()
	inbox := time.NewTicker(settings.InboxInterval)
	defer inbox.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[Coordinator] Shutting down...")
			return nil

		case <-sweep.C:
			c.Sweep()

		case <-cleanup.C:
			if removed := c.board.Cleanup(); removed > 0 {
				log.Printf("[Coordinator] Evicted %d stale entries", removed)
			}

		case <-inbox.C:
			c.ProcessInbox()
			if settings.Quorum > 0 {
				c.AwardQuorums(settings.Quorum)
			}
		}
	}
}

// logEvent logs a structured event in JSON format.
func (c *Coordinator) logEvent(eventType string, data map[string]interface{}) {
	data["timestamp"] = c.now().UTC().Format(time.RFC3339)
	data["level"] = "info"
	data["component"] = "coordinator"
	data["event_type"] = eventType
	data["instance"] = c.instanceName

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Coordinator] Failed to marshal log event: %v", err)
		return
	}

	log.Println(string(jsonData))
}
