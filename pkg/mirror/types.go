package mirror

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dyluth/huddle/pkg/blackboard"
	"github.com/dyluth/huddle/pkg/contractnet"
	"github.com/google/uuid"
)

// EventType identifies what happened in the coordination engine.
type EventType string

const (
	// EventNegotiationAnnounced fires when a task is put out for bids
	EventNegotiationAnnounced EventType = "negotiation_announced"

	// EventBidReceived fires when a bid is accepted
	EventBidReceived EventType = "bid_received"

	// EventNegotiationAwarded fires when a winner is chosen
	EventNegotiationAwarded EventType = "negotiation_awarded"

	// EventNegotiationExpired fires when a deadline passes with no bids
	EventNegotiationExpired EventType = "negotiation_expired"

	// EventNegotiationCompleted fires when the winner reports success or failure
	EventNegotiationCompleted EventType = "negotiation_completed"

	// EventKnowledgePosted fires when a blackboard entry is created or replaced
	EventKnowledgePosted EventType = "knowledge_posted"

	// EventKnowledgeRemoved fires when a blackboard entry is removed or evicted
	EventKnowledgeRemoved EventType = "knowledge_removed"
)

// Validate checks if the EventType is a valid enum value.
func (t EventType) Validate() error {
	switch t {
	case EventNegotiationAnnounced, EventBidReceived, EventNegotiationAwarded,
		EventNegotiationExpired, EventNegotiationCompleted,
		EventKnowledgePosted, EventKnowledgeRemoved:
		return nil
	default:
		return fmt.Errorf("invalid event type: %q", t)
	}
}

// Event is one mirrored change. Exactly one of Negotiation or Entry is set.
type Event struct {
	Type        EventType          `json:"event_type"`
	Instance    string             `json:"instance"`
	TimestampMs int64              `json:"timestamp_ms"`
	Negotiation *NegotiationRecord `json:"negotiation,omitempty"`
	Entry       *EntryRecord       `json:"entry,omitempty"`
	Data        map[string]any     `json:"data,omitempty"`
}

// Validate checks that the event is well formed.
func (e *Event) Validate() error {
	if err := e.Type.Validate(); err != nil {
		return err
	}
	if e.Negotiation == nil && e.Entry == nil {
		return fmt.Errorf("event %s carries neither a negotiation nor an entry", e.Type)
	}
	if e.Negotiation != nil && e.Entry != nil {
		return fmt.Errorf("event %s carries both a negotiation and an entry", e.Type)
	}
	if e.Negotiation != nil {
		return e.Negotiation.Validate()
	}
	return e.Entry.Validate()
}

// Timestamp returns the event time.
func (e *Event) Timestamp() time.Time {
	return time.UnixMilli(e.TimestampMs)
}

// NegotiationRecord is the flattened, storable form of a negotiation snapshot.
type NegotiationRecord struct {
	ID           string   `json:"id"`            // Announcement UUID
	RequesterID  string   `json:"requester_id"`  // Who announced the task
	Task         string   `json:"task"`          // Task rendered as text (JSON for structured tasks)
	State        string   `json:"state"`         // contractnet.State
	Bidders      []string `json:"bidders"`       // Bidder IDs, best bid first
	WinnerID     string   `json:"winner_id"`     // Empty until awarded
	WinningValue float64  `json:"winning_value"` // Value of the winning bid
	DeadlineMs   int64    `json:"deadline_ms"`
	CreatedAtMs  int64    `json:"created_at_ms"`
	ClosedAtMs   int64    `json:"closed_at_ms"` // 0 while not terminal
}

// NewNegotiationRecord flattens a negotiation snapshot.
func NewNegotiationRecord(n contractnet.Negotiation) *NegotiationRecord {
	bidders := make([]string, 0, len(n.Bids))
	for _, b := range n.Bids {
		bidders = append(bidders, b.BidderID)
	}

	rec := &NegotiationRecord{
		ID:          n.Announcement.ID,
		RequesterID: n.Announcement.RequesterID,
		Task:        renderValue(n.Announcement.Task),
		State:       string(n.State),
		Bidders:     bidders,
		DeadlineMs:  n.Announcement.Deadline.UnixMilli(),
		CreatedAtMs: n.CreatedAt.UnixMilli(),
	}
	if n.WinningBid != nil {
		rec.WinnerID = n.WinningBid.BidderID
		rec.WinningValue = n.WinningBid.Value()
	}
	if !n.ClosedAt.IsZero() {
		rec.ClosedAtMs = n.ClosedAt.UnixMilli()
	}
	return rec
}

// Validate checks if the NegotiationRecord has valid field values.
func (r *NegotiationRecord) Validate() error {
	if !isValidUUID(r.ID) {
		return fmt.Errorf("invalid negotiation ID: not a valid UUID")
	}
	if r.RequesterID == "" {
		return fmt.Errorf("requester ID cannot be empty")
	}
	if err := contractnet.State(r.State).Validate(); err != nil {
		return err
	}
	if r.WinnerID == "" && (r.State == string(contractnet.StateAwarded) ||
		r.State == string(contractnet.StateCompleted) || r.State == string(contractnet.StateFailed)) {
		return fmt.Errorf("negotiation %s is %s but has no winner", r.ID, r.State)
	}
	return nil
}

// EntryRecord is the storable form of a blackboard entry.
type EntryRecord struct {
	Area          string  `json:"area"`
	Key           string  `json:"key"`
	Value         string  `json:"value"` // JSON-encoded entry value
	SourceAgentID string  `json:"source_agent_id"`
	Confidence    float64 `json:"confidence"`
	Kind          string  `json:"kind"`
	TimestampMs   int64   `json:"timestamp_ms"`
	MaxAgeMs      int64   `json:"max_age_ms,omitempty"`
}

// NewEntryRecord converts a blackboard entry for storage.
func NewEntryRecord(area blackboard.Area, e blackboard.Entry) *EntryRecord {
	return &EntryRecord{
		Area:          string(area),
		Key:           e.Key,
		Value:         encodeValue(e.Value),
		SourceAgentID: e.SourceAgentID,
		Confidence:    e.Confidence,
		Kind:          string(e.Kind),
		TimestampMs:   e.Timestamp.UnixMilli(),
		MaxAgeMs:      e.MaxAge.Milliseconds(),
	}
}

// Validate checks if the EntryRecord has valid field values.
func (r *EntryRecord) Validate() error {
	if err := blackboard.Area(r.Area).Validate(); err != nil {
		return err
	}
	if r.Key == "" {
		return blackboard.ErrEmptyKey
	}
	if err := blackboard.Kind(r.Kind).Validate(); err != nil {
		return err
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("confidence %v outside [0, 1]", r.Confidence)
	}
	return nil
}

// Entry converts the record back into a blackboard entry.
// Values come back in their generic JSON shape (numbers as float64, objects as maps).
func (r *EntryRecord) Entry() blackboard.Entry {
	var value any = r.Value
	var decoded any
	if err := json.Unmarshal([]byte(r.Value), &decoded); err == nil {
		value = decoded
	}

	return blackboard.Entry{
		Key:           r.Key,
		Value:         value,
		Timestamp:     time.UnixMilli(r.TimestampMs),
		SourceAgentID: r.SourceAgentID,
		Confidence:    r.Confidence,
		Kind:          blackboard.Kind(r.Kind),
		MaxAge:        time.Duration(r.MaxAgeMs) * time.Millisecond,
	}
}

// renderValue turns an opaque value into text: strings as-is, everything else as JSON.
func renderValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// encodeValue JSON-encodes v. Values that cannot be encoded are stored as their quoted %v text.
func encodeValue(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		data, _ = json.Marshal(fmt.Sprintf("%v", v))
	}
	return string(data)
}

// isValidUUID checks if a string is a valid UUID.
func isValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
