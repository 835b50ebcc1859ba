package blackboard

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrAreaNotFound is returned when an operation names an area the blackboard does not define
	ErrAreaNotFound = errors.New("knowledge area not found")

	// ErrEmptyKey is returned when posting an entry without a key
	ErrEmptyKey = errors.New("entry key cannot be empty")
)

// Area is a named partition of the blackboard with its own staleness rule.
// The set of areas is fixed; areas are never created at runtime.
type Area string

const (
	// AreaWorldState holds observations about the environment
	AreaWorldState Area = "world_state"

	// AreaAgentStatus holds agent heartbeats and current activity
	AreaAgentStatus Area = "agent_status"

	// AreaTasks holds task announcements, awards and results
	AreaTasks Area = "tasks"

	// AreaResources holds resource inventories and locations
	AreaResources Area = "resources"

	// AreaThreats holds short-lived danger reports
	AreaThreats Area = "threats"

	// AreaBuildPlans holds construction plans in progress
	AreaBuildPlans Area = "build_plans"

	// AreaPlayerPrefs holds long-lived operator preferences
	AreaPlayerPrefs Area = "player_prefs"
)

// defaultMaxAges is the staleness rule per area.
var defaultMaxAges = map[Area]time.Duration{
	AreaWorldState:  5 * time.Second,
	AreaAgentStatus: 2 * time.Second,
	AreaTasks:       10 * time.Second,
	AreaResources:   15 * time.Second,
	AreaThreats:     1 * time.Second,
	AreaBuildPlans:  3 * time.Second,
	AreaPlayerPrefs: 60 * time.Second,
}

// Areas returns every knowledge area in a stable order.
func Areas() []Area {
	return []Area{
		AreaWorldState,
		AreaAgentStatus,
		AreaTasks,
		AreaResources,
		AreaThreats,
		AreaBuildPlans,
		AreaPlayerPrefs,
	}
}

// Validate checks if the Area is a valid enum value.
// Returns an error wrapping ErrAreaNotFound otherwise.
func (a Area) Validate() error {
	if _, ok := defaultMaxAges[a]; !ok {
		return fmt.Errorf("%w: %q", ErrAreaNotFound, a)
	}
	return nil
}

// DefaultMaxAge returns the built-in staleness limit for the area, or 0 for unknown areas.
func (a Area) DefaultMaxAge() time.Duration {
	return defaultMaxAges[a]
}

// Kind classifies what an entry asserts.
type Kind string

const (
	// KindFact is an observation believed true
	KindFact Kind = "fact"

	// KindHypothesis is an unconfirmed belief
	KindHypothesis Kind = "hypothesis"

	// KindGoal is something an agent wants achieved
	KindGoal Kind = "goal"

	// KindConstraint is a system-imposed rule; usually has no source agent
	KindConstraint Kind = "constraint"
)

// Validate checks if the Kind is a valid enum value.
func (k Kind) Validate() error {
	switch k {
	case KindFact, KindHypothesis, KindGoal, KindConstraint:
		return nil
	default:
		return fmt.Errorf("invalid entry kind: %q (must be fact, hypothesis, goal or constraint)", k)
	}
}

// Entry is one piece of knowledge on the blackboard.
// Value is opaque to the blackboard and must be treated as immutable once posted.
type Entry struct {
	Key           string        `json:"key"`
	Value         any           `json:"value"`
	Timestamp     time.Time     `json:"timestamp"`
	SourceAgentID string        `json:"source_agent_id,omitempty"`
	Confidence    float64       `json:"confidence"`
	Kind          Kind          `json:"kind"`
	MaxAge        time.Duration `json:"max_age,omitempty"` // 0 means the area default
}

// Age returns how long ago the entry was posted relative to now.
func (e Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.Timestamp)
}

// IsStale reports whether the entry has reached maxAge at now.
// A per-entry MaxAge takes precedence over maxAge.
func (e Entry) IsStale(now time.Time, maxAge time.Duration) bool {
	if e.MaxAge > 0 {
		maxAge = e.MaxAge
	}
	if maxAge <= 0 {
		return false
	}
	return e.Age(now) >= maxAge
}

// EventType describes why a subscriber is being notified.
type EventType string

const (
	// EventPosted fires after an entry is created or replaced
	EventPosted EventType = "posted"

	// EventRemoved fires after an entry is removed, explicitly or by Cleanup
	EventRemoved EventType = "removed"
)

// Event is delivered to subscribers after a change commits.
type Event struct {
	Type  EventType `json:"type"`
	Area  Area      `json:"area"`
	Entry Entry     `json:"entry"`
}

// Handler receives blackboard events. It runs on the posting goroutine with no blackboard locks held.
type Handler func(Event)

// PostOption customises a single Post.
type PostOption func(*Entry)

// WithMaxAge overrides the area's staleness limit for this entry only.
func WithMaxAge(d time.Duration) PostOption {
	return func(e *Entry) {
		e.MaxAge = d
	}
}

// clampConfidence limits c to [0, 1]. NaN becomes 0.
func clampConfidence(c float64) float64 {
	if math.IsNaN(c) || c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
