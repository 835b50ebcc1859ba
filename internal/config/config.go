package config

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/dyluth/huddle/internal/instance"
	"github.com/dyluth/huddle/pkg/blackboard"
	"github.com/dyluth/huddle/pkg/bus"
	"gopkg.in/yaml.v3"
)

// DefaultFilename is the config file looked up in the working directory.
const DefaultFilename = "huddle.yml"

// Environment variables that override values from huddle.yml
const (
	EnvRedisURL = "REDIS_URL"
	EnvNATSURL  = "NATS_URL"
)

// HuddleConfig represents the top-level huddle.yml configuration
type HuddleConfig struct {
	Version     string             `yaml:"version"`
	Instance    string             `yaml:"instance,omitempty"`
	Coordinator *CoordinatorConfig `yaml:"coordinator,omitempty"`
	Bus         *BusConfig         `yaml:"bus,omitempty"`
	Blackboard  *BlackboardConfig  `yaml:"blackboard,omitempty"`
	Mirror      *MirrorConfig      `yaml:"mirror,omitempty"`
	Operator    *OperatorConfig    `yaml:"operator,omitempty"`
	Agents      map[string]Agent   `yaml:"agents"`
	Goals       []Goal             `yaml:"goals,omitempty"`
}

// CoordinatorConfig controls negotiation timing
type CoordinatorConfig struct {
	SweepInterval   time.Duration `yaml:"sweep_interval,omitempty"`   // How often deadlines are checked (default 250ms)
	CleanupInterval time.Duration `yaml:"cleanup_interval,omitempty"` // How often stale knowledge is evicted (default 1s)
	InboxInterval   time.Duration `yaml:"inbox_interval,omitempty"`   // How often the coordinator drains its mailbox (default 50ms)
	DefaultDeadline time.Duration `yaml:"default_deadline,omitempty"` // Bid window for goals without their own deadline (default 30s)
	AutoAward       *bool         `yaml:"auto_award,omitempty"`       // Award the best bid when the deadline passes (default true)
	Quorum          int           `yaml:"quorum,omitempty"`           // Award early once this many bids arrive (0 = wait for the deadline)
	Retention       time.Duration `yaml:"retention,omitempty"`        // How long finished negotiations stay queryable (default 5m)
}

// BusConfig controls agent mailboxes
type BusConfig struct {
	MailboxCapacity *int   `yaml:"mailbox_capacity,omitempty"` // 0 = unbounded, default 1000
	OverflowPolicy  string `yaml:"overflow_policy,omitempty"`  // drop_oldest (default), drop_newest or unbounded
	HistorySize     *int   `yaml:"history_size,omitempty"`     // Messages kept for inspection, default 1000
}

// BlackboardConfig overrides per-area staleness
type BlackboardConfig struct {
	MaxAge map[string]time.Duration `yaml:"max_age,omitempty"`
}

// MirrorConfig enables copying coordination state to Redis and NATS.
// Either URL may be empty to disable that sink.
type MirrorConfig struct {
	RedisURL   string `yaml:"redis_url,omitempty"`
	NATSURL    string `yaml:"nats_url,omitempty"`
	BufferSize int    `yaml:"buffer_size,omitempty"`
}

// OperatorConfig controls the read-only HTTP operator surface
type OperatorConfig struct {
	Addr string `yaml:"addr,omitempty"` // Empty disables the server
}

// Agent describes one simulated agent
type Agent struct {
	Skills        []string      `yaml:"skills,omitempty"`
	Tools         []string      `yaml:"tools,omitempty"`
	Score         float64       `yaml:"score"`                    // Base suitability in [0, 1]
	Confidence    float64       `yaml:"confidence"`               // Self-assessed reliability in [0, 1]
	EstimatedTime time.Duration `yaml:"estimated_time,omitempty"` // Default 1s
	Proficiency   float64       `yaml:"proficiency,omitempty"`    // Compared against min_proficiency requirements
	Distance      float64       `yaml:"distance,omitempty"`       // Compared against max_distance requirements
	FailureRate   float64       `yaml:"failure_rate,omitempty"`   // Fraction of awarded tasks reported as failed
}

// Goal is a task the coordinator announces on startup
type Goal struct {
	Task         string         `yaml:"task"`
	Requirements map[string]any `yaml:"requirements,omitempty"`
	Deadline     time.Duration  `yaml:"deadline,omitempty"` // Defaults to coordinator.default_deadline
}

// Default returns a configuration with every default applied and no agents.
func Default() *HuddleConfig {
	c := &HuddleConfig{Version: "1.0"}
	c.applyDefaults()
	return c
}

// Validate applies defaults and performs strict validation on the configuration
func (c *HuddleConfig) Validate() error {
	// Required: version
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	c.applyDefaults()

	if err := instance.ValidateName(c.Instance); err != nil {
		return err
	}

	if err := c.Coordinator.validate(); err != nil {
		return err
	}

	if err := c.Bus.validate(); err != nil {
		return err
	}

	for area, maxAge := range c.Blackboard.MaxAge {
		if err := blackboard.Area(area).Validate(); err != nil {
			return fmt.Errorf("blackboard.max_age: %w", err)
		}
		if maxAge <= 0 {
			return fmt.Errorf("blackboard.max_age.%s must be positive, got %s", area, maxAge)
		}
	}

	if c.Mirror.BufferSize < 0 {
		return fmt.Errorf("mirror.buffer_size must be >= 0, got %d", c.Mirror.BufferSize)
	}

	// Validate each agent
	for _, name := range c.AgentNames() {
		agent := c.Agents[name]
		if err := agent.Validate(name); err != nil {
			return err
		}
		c.Agents[name] = agent
	}

	for i := range c.Goals {
		if err := c.Goals[i].Validate(i); err != nil {
			return err
		}
	}

	return nil
}

func (c *HuddleConfig) applyDefaults() {
	if c.Instance == "" {
		c.Instance = instance.DefaultName
	}

	if c.Coordinator == nil {
		c.Coordinator = &CoordinatorConfig{}
	}
	if c.Coordinator.SweepInterval == 0 {
		c.Coordinator.SweepInterval = 250 * time.Millisecond
	}
	if c.Coordinator.CleanupInterval == 0 {
		c.Coordinator.CleanupInterval = time.Second
	}
	if c.Coordinator.InboxInterval == 0 {
		c.Coordinator.InboxInterval = 50 * time.Millisecond
	}
	if c.Coordinator.DefaultDeadline == 0 {
		c.Coordinator.DefaultDeadline = 30 * time.Second
	}
	if c.Coordinator.AutoAward == nil {
		autoAward := true
		c.Coordinator.AutoAward = &autoAward
	}
	if c.Coordinator.Retention == 0 {
		c.Coordinator.Retention = 5 * time.Minute
	}

	if c.Bus == nil {
		c.Bus = &BusConfig{}
	}
	if c.Bus.MailboxCapacity == nil {
		capacity := bus.DefaultMailboxCapacity
		c.Bus.MailboxCapacity = &capacity
	}
	if c.Bus.OverflowPolicy == "" {
		c.Bus.OverflowPolicy = string(bus.OverflowDropOldest)
	}
	if c.Bus.HistorySize == nil {
		size := bus.DefaultHistorySize
		c.Bus.HistorySize = &size
	}

	if c.Blackboard == nil {
		c.Blackboard = &BlackboardConfig{}
	}
	if c.Mirror == nil {
		c.Mirror = &MirrorConfig{}
	}
	if c.Operator == nil {
		c.Operator = &OperatorConfig{}
	}
	if c.Agents == nil {
		c.Agents = make(map[string]Agent)
	}
}

func (c *CoordinatorConfig) validate() error {
	if c.SweepInterval < 0 || c.CleanupInterval < 0 || c.InboxInterval < 0 {
		return fmt.Errorf("coordinator intervals must be positive")
	}
	if c.DefaultDeadline < 0 {
		return fmt.Errorf("coordinator.default_deadline must be positive, got %s", c.DefaultDeadline)
	}
	if c.Quorum < 0 {
		return fmt.Errorf("coordinator.quorum must be >= 0 (0 = wait for deadline), got %d", c.Quorum)
	}
	if c.Retention < 0 {
		return fmt.Errorf("coordinator.retention must be positive, got %s", c.Retention)
	}
	return nil
}

func (b *BusConfig) validate() error {
	if *b.MailboxCapacity < 0 {
		return fmt.Errorf("bus.mailbox_capacity must be >= 0 (0 = unbounded), got %d", *b.MailboxCapacity)
	}
	if err := bus.OverflowPolicy(b.OverflowPolicy).Validate(); err != nil {
		return fmt.Errorf("bus.overflow_policy: %w", err)
	}
	if *b.HistorySize < 0 {
		return fmt.Errorf("bus.history_size must be >= 0, got %d", *b.HistorySize)
	}
	return nil
}

// Validate performs validation on a single agent configuration
func (a *Agent) Validate(name string) error {
	if err := instance.ValidateName(name); err != nil {
		return fmt.Errorf("agent '%s': invalid name: %w", name, err)
	}

	if a.Score < 0 || a.Score > 1 {
		return fmt.Errorf("agent '%s': score must be in [0, 1], got %v", name, a.Score)
	}

	if a.Confidence < 0 || a.Confidence > 1 {
		return fmt.Errorf("agent '%s': confidence must be in [0, 1], got %v", name, a.Confidence)
	}

	// Set default estimated time if not specified
	if a.EstimatedTime == 0 {
		a.EstimatedTime = time.Second
	}
	if a.EstimatedTime < 0 {
		return fmt.Errorf("agent '%s': estimated_time must be positive, got %s", name, a.EstimatedTime)
	}

	if a.Proficiency < 0 || a.Proficiency > 1 {
		return fmt.Errorf("agent '%s': proficiency must be in [0, 1], got %v", name, a.Proficiency)
	}

	if a.Distance < 0 {
		return fmt.Errorf("agent '%s': distance must be >= 0, got %v", name, a.Distance)
	}

	if a.FailureRate < 0 || a.FailureRate > 1 {
		return fmt.Errorf("agent '%s': failure_rate must be in [0, 1], got %v", name, a.FailureRate)
	}

	return nil
}

// Validate performs validation on a single goal
func (g *Goal) Validate(index int) error {
	if g.Task == "" {
		return fmt.Errorf("goal %d: task is required", index)
	}
	if g.Deadline < 0 {
		return fmt.Errorf("goal %d (%s): deadline must be positive, got %s", index, g.Task, g.Deadline)
	}
	return nil
}

// AgentNames returns agent names in sorted order.
func (c *HuddleConfig) AgentNames() []string {
	names := make([]string, 0, len(c.Agents))
	for name := range c.Agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AreaMaxAges returns the configured staleness overrides keyed by area.
func (c *HuddleConfig) AreaMaxAges() map[blackboard.Area]time.Duration {
	if c.Blackboard == nil {
		return nil
	}
	out := make(map[blackboard.Area]time.Duration, len(c.Blackboard.MaxAge))
	for area, maxAge := range c.Blackboard.MaxAge {
		out[blackboard.Area(area)] = maxAge
	}
	return out
}

// ApplyEnv overrides config values from environment variables.
func (c *HuddleConfig) ApplyEnv(getenv func(string) string) {
	if v := getenv(instance.EnvInstanceName); v != "" {
		c.Instance = v
	}
	if c.Mirror == nil {
		c.Mirror = &MirrorConfig{}
	}
	if v := getenv(EnvRedisURL); v != "" {
		c.Mirror.RedisURL = v
	}
	if v := getenv(EnvNATSURL); v != "" {
		c.Mirror.NATSURL = v
	}
}

// Load reads huddle.yml from the specified path, applies environment
// overrides and validates the result
func Load(path string) (*HuddleConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	config, err := Parse(data)
	if err != nil {
		return nil, err
	}

	config.ApplyEnv(os.Getenv)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Parse decodes huddle.yml content without validating it.
func Parse(data []byte) (*HuddleConfig, error) {
	var config HuddleConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &config, nil
}
