package coordinator

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/dyluth/huddle/pkg/blackboard"
	"github.com/dyluth/huddle/pkg/bus"
	"github.com/dyluth/huddle/pkg/contractnet"
)

var (
	// ErrUnhandledMessage is returned for message types the coordinator does not consume
	ErrUnhandledMessage = errors.New("no handler for message type")

	// ErrMalformedPayload is returned when a message payload lacks required fields
	ErrMalformedPayload = errors.New("malformed message payload")

	// ErrNotWinner is returned when a completion report comes from an agent that was not awarded the task
	ErrNotWinner = errors.New("sender is not the awarded agent")
)

// resultKeyPrefix prefixes the tasks-area key of every reported task result
const resultKeyPrefix = "result:"

type messageHandler func(msg bus.Message) error

// ResultKey returns the tasks-area key under which a task result is recorded.
func ResultKey(announcementID string) string {
	return resultKeyPrefix + announcementID
}

// HandleMessage dispatches one message addressed to the coordinator.
func (c *Coordinator) HandleMessage(msg bus.Message) error {
	handler, ok := c.handlers[msg.Type]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnhandledMessage, msg.Type)
	}
	return handler(msg)
}

// ProcessInbox drains the coordinator's mailbox and handles every message in
// arrival order. Failures are logged and do not stop the drain.
// Returns the number of messages handled successfully.
func (c *Coordinator) ProcessInbox() int {
	handled := 0
	for _, msg := range c.bus.Receive(c.id) {
		if err := c.HandleMessage(msg); err != nil {
			log.Printf("[Coordinator] Failed to handle %s from %s: %v", msg.Type, msg.SenderID, err)
			continue
		}
		handled++
	}
	return handled
}

// handleBid turns a task_bid message into a contract net bid.
// Payload: announcement_id, score, estimated_time_ms, confidence, capabilities (optional).
func (c *Coordinator) handleBid(msg bus.Message) error {
	announcementID := msg.PayloadString("announcement_id")
	if announcementID == "" {
		return fmt.Errorf("%w: task_bid without announcement_id", ErrMalformedPayload)
	}
	score, ok := msg.PayloadFloat("score")
	if !ok {
		return fmt.Errorf("%w: task_bid without score", ErrMalformedPayload)
	}
	estimatedMs, ok := msg.PayloadFloat("estimated_time_ms")
	if !ok {
		return fmt.Errorf("%w: task_bid without estimated_time_ms", ErrMalformedPayload)
	}
	confidence, ok := msg.PayloadFloat("confidence")
	if !ok {
		return fmt.Errorf("%w: task_bid without confidence", ErrMalformedPayload)
	}
	capabilities, _ := msg.Payload["capabilities"].(map[string]any)

	bid, err := contractnet.NewBid(announcementID, msg.SenderID, score, int64(estimatedMs), confidence, capabilities)
	if err != nil {
		return err
	}

	// The bus stamps messages at Send; judge the deadline there, not at drain time
	sentAt := msg.Timestamp
	if sentAt.IsZero() {
		sentAt = c.now()
	}
	return c.contracts.SubmitBidAt(bid, sentAt)
}

// handleComplete maps a task_complete report onto MarkComplete and records the result.
// Payload: announcement_id, success, result (optional).
func (c *Coordinator) handleComplete(msg bus.Message) error {
	announcementID := msg.PayloadString("announcement_id")
	if announcementID == "" {
		return fmt.Errorf("%w: task_complete without announcement_id", ErrMalformedPayload)
	}

	n, ok := c.contracts.Negotiation(announcementID)
	if !ok {
		return fmt.Errorf("%w: %s", contractnet.ErrNegotiationNotFound, announcementID)
	}
	if n.WinningBid == nil || n.WinningBid.BidderID != msg.SenderID {
		return fmt.Errorf("%w: %s reported on %s", ErrNotWinner, msg.SenderID, announcementID)
	}

	success := msg.PayloadBool("success")
	if !c.contracts.MarkComplete(announcementID, success) {
		return fmt.Errorf("negotiation %s is %s, not awarded", announcementID, n.State)
	}

	result := map[string]any{
		"announcement_id": announcementID,
		"agent_id":        msg.SenderID,
		"success":         success,
	}
	if r, ok := msg.Payload["result"]; ok {
		result["result"] = r
	}
	if err := c.board.PostFact(blackboard.AreaTasks, ResultKey(announcementID), result, msg.SenderID); err != nil {
		return fmt.Errorf("failed to record result of %s: %w", announcementID, err)
	}
	return nil
}

// handleStatus records an agent heartbeat under its own key in agent_status.
func (c *Coordinator) handleStatus(msg bus.Message) error {
	confidence, ok := msg.PayloadFloat("confidence")
	if !ok {
		confidence = 1.0
	}
	return c.board.Post(blackboard.AreaAgentStatus, msg.SenderID, msg.Payload, msg.SenderID, confidence, blackboard.KindFact)
}

// handleKnowledge posts shared knowledge on behalf of the sender.
// Payload: area, key, value, confidence (default 1), kind (default fact), max_age_ms (optional).
func (c *Coordinator) handleKnowledge(msg bus.Message) error {
	area := blackboard.Area(msg.PayloadString("area"))
	key := msg.PayloadString("key")
	if area == "" || key == "" {
		return fmt.Errorf("%w: knowledge_share needs area and key", ErrMalformedPayload)
	}

	confidence, ok := msg.PayloadFloat("confidence")
	if !ok {
		confidence = 1.0
	}
	kind := blackboard.Kind(msg.PayloadString("kind"))
	if kind == "" {
		kind = blackboard.KindFact
	}

	var opts []blackboard.PostOption
	if maxAgeMs, ok := msg.PayloadFloat("max_age_ms"); ok && maxAgeMs > 0 {
		opts = append(opts, blackboard.WithMaxAge(time.Duration(maxAgeMs)*time.Millisecond))
	}

	return c.board.Post(area, key, msg.Payload["value"], msg.SenderID, confidence, kind, opts...)
}

// handleRequest answers coordination requests.
// Queries: "negotiation" (with announcement_id) and "stats".
func (c *Coordinator) handleRequest(msg bus.Message) error {
	var payload map[string]any

	switch query := msg.PayloadString("query"); query {
	case "negotiation":
		id := msg.PayloadString("announcement_id")
		n, ok := c.contracts.Negotiation(id)
		if !ok {
			payload = map[string]any{"found": false, "announcement_id": id}
			break
		}
		payload = map[string]any{
			"found":           true,
			"announcement_id": id,
			"state":           string(n.State),
			"bid_count":       len(n.Bids),
		}
		if n.WinningBid != nil {
			payload["winner_id"] = n.WinningBid.BidderID
		}

	case "stats":
		payload = map[string]any{
			"active_negotiations": c.contracts.ActiveCount(),
			"knowledge_entries":   c.board.TotalCount(),
			"registered_agents":   len(c.bus.Agents()),
		}

	default:
		payload = map[string]any{"error": fmt.Sprintf("unknown query %q", query)}
	}

	return c.bus.Respond(msg, c.id, payload)
}

// ignore accepts a message without acting on it.
func (c *Coordinator) ignore(bus.Message) error {
	return nil
}
