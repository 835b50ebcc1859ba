package contractnet

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrInvalidBid is returned when a bid is malformed or not acceptable for its negotiation
	ErrInvalidBid = errors.New("invalid bid")

	// ErrNegotiationNotFound is returned when no negotiation exists for an announcement ID
	ErrNegotiationNotFound = errors.New("negotiation not found")

	// ErrInvalidAnnouncement is returned when an announcement cannot be opened
	ErrInvalidAnnouncement = errors.New("invalid announcement")
)

// State is the lifecycle position of a negotiation.
// Transitions are monotonic: a negotiation never re-enters an earlier state.
type State string

const (
	// StateAnnounced means the task is open and no bid has been accepted yet
	StateAnnounced State = "announced"

	// StateEvaluating means at least one bid has been accepted
	StateEvaluating State = "evaluating"

	// StateAwarded means exactly one bidder owns the task
	StateAwarded State = "awarded"

	// StateCompleted means the winner reported success
	StateCompleted State = "completed"

	// StateFailed means the winner reported failure
	StateFailed State = "failed"

	// StateExpired means the deadline passed without an award
	StateExpired State = "expired"
)

// Validate checks if the State is a valid enum value.
func (s State) Validate() error {
	switch s {
	case StateAnnounced, StateEvaluating, StateAwarded, StateCompleted, StateFailed, StateExpired:
		return nil
	default:
		return fmt.Errorf("invalid negotiation state: %q", s)
	}
}

// IsOpen reports whether the negotiation still accepts bids.
func (s State) IsOpen() bool {
	return s == StateAnnounced || s == StateEvaluating
}

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateExpired
}

// Requirement keys understood by the typed accessors on Announcement.
const (
	RequirementSkills         = "skills"
	RequirementMaxDistance    = "max_distance"
	RequirementTools          = "tools"
	RequirementMinProficiency = "min_proficiency"
	RequirementPriority       = "priority"
)

// Announcement is an immutable call for bids on a task.
type Announcement struct {
	ID           string         `json:"id"`
	Task         any            `json:"task"`
	RequesterID  string         `json:"requester_id"`
	Deadline     time.Time      `json:"deadline"`
	Requirements map[string]any `json:"requirements,omitempty"`
}

// Remaining returns the time left before the deadline (never negative).
func (a Announcement) Remaining(now time.Time) time.Duration {
	if d := a.Deadline.Sub(now); d > 0 {
		return d
	}
	return 0
}

// IsExpired reports whether now is past the deadline.
func (a Announcement) IsExpired(now time.Time) bool {
	return now.After(a.Deadline)
}

// Skills returns the required skills, accepting []string or []any of strings.
func (a Announcement) Skills() []string {
	return stringList(a.Requirements[RequirementSkills])
}

// Tools returns the required tools.
func (a Announcement) Tools() []string {
	return stringList(a.Requirements[RequirementTools])
}

// RequiresSkill reports whether skill is among the required skills.
func (a Announcement) RequiresSkill(skill string) bool {
	for _, s := range a.Skills() {
		if s == skill {
			return true
		}
	}
	return false
}

// MaxDistance returns the maximum distance a bidder may be from the task.
func (a Announcement) MaxDistance() (float64, bool) {
	return number(a.Requirements[RequirementMaxDistance])
}

// MinProficiency returns the minimum proficiency a bidder must have.
func (a Announcement) MinProficiency() (float64, bool) {
	return number(a.Requirements[RequirementMinProficiency])
}

// Priority returns the task priority, or 0 if unset.
func (a Announcement) Priority() float64 {
	p, _ := number(a.Requirements[RequirementPriority])
	return p
}

// Bid is an agent's offer to perform an announced task.
type Bid struct {
	AnnouncementID  string         `json:"announcement_id"`
	BidderID        string         `json:"bidder_id"`
	Score           float64        `json:"score"`
	EstimatedTimeMs int64          `json:"estimated_time_ms"`
	Confidence      float64        `json:"confidence"`
	Capabilities    map[string]any `json:"capabilities,omitempty"`
}

// NewBid builds a validated bid.
func NewBid(announcementID, bidderID string, score float64, estimatedTimeMs int64, confidence float64, capabilities map[string]any) (Bid, error) {
	b := Bid{
		AnnouncementID:  announcementID,
		BidderID:        bidderID,
		Score:           score,
		EstimatedTimeMs: estimatedTimeMs,
		Confidence:      confidence,
		Capabilities:    capabilities,
	}
	if err := b.Validate(); err != nil {
		return Bid{}, err
	}
	return b, nil
}

// Validate checks the bid's own fields. Whether the negotiation accepts it is decided by the Manager.
func (b Bid) Validate() error {
	if b.AnnouncementID == "" {
		return fmt.Errorf("%w: announcement ID cannot be empty", ErrInvalidBid)
	}
	if b.BidderID == "" {
		return fmt.Errorf("%w: bidder ID cannot be empty", ErrInvalidBid)
	}
	if math.IsNaN(b.Score) || b.Score < 0 || b.Score > 1 {
		return fmt.Errorf("%w: score %v outside [0, 1]", ErrInvalidBid, b.Score)
	}
	if math.IsNaN(b.Confidence) || b.Confidence < 0 || b.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v outside [0, 1]", ErrInvalidBid, b.Confidence)
	}
	if b.EstimatedTimeMs <= 0 {
		return fmt.Errorf("%w: estimated time must be positive, got %dms", ErrInvalidBid, b.EstimatedTimeMs)
	}
	return nil
}

// Value is the bid's worth to the requester: (score × confidence) / max(1, seconds).
// Durations under one second are not rewarded further.
func (b Bid) Value() float64 {
	seconds := math.Max(1.0, float64(b.EstimatedTimeMs)/1000.0)
	return (b.Score * b.Confidence) / seconds
}

// EstimatedTime returns the estimate as a duration.
func (b Bid) EstimatedTime() time.Duration {
	return time.Duration(b.EstimatedTimeMs) * time.Millisecond
}

// Distance returns the "distance" capability, if the bidder reported one.
func (b Bid) Distance() (float64, bool) {
	return number(b.Capabilities["distance"])
}

// CurrentLoad returns the "current_load" capability, or 0 if unreported.
func (b Bid) CurrentLoad() float64 {
	load, _ := number(b.Capabilities["current_load"])
	return load
}

// Negotiation is an immutable snapshot of one announcement and its bids.
// Bids are ranked best first.
type Negotiation struct {
	Announcement Announcement `json:"announcement"`
	Bids         []Bid        `json:"bids"`
	State        State        `json:"state"`
	WinningBid   *Bid         `json:"winning_bid,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	AwardedAt    time.Time    `json:"awarded_at,omitempty"`
	ClosedAt     time.Time    `json:"closed_at,omitempty"`
}

// ID returns the announcement ID.
func (n Negotiation) ID() string {
	return n.Announcement.ID
}

// SweepResult summarises one Sweep.
type SweepResult struct {
	Expired     int `json:"expired"`
	AutoAwarded int `json:"auto_awarded"`
	Retired     int `json:"retired"`
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	default:
		return 0, false
	}
}

func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if list == "" {
			return nil
		}
		return []string{list}
	default:
		return nil
	}
}
