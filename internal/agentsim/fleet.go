package agentsim

import (
	"context"
	"fmt"
	"log"

	"github.com/dyluth/huddle/internal/config"
	"github.com/dyluth/huddle/pkg/bus"
	"golang.org/x/sync/errgroup"
)

// Fleet is a set of agents sharing one bus and coordinator.
type Fleet struct {
	agents []*Agent
}

// NewFleet creates one agent per entry of profiles, in name order.
func NewFleet(b *bus.Bus, coordinatorID string, profiles map[string]config.Agent, opts ...Option) (*Fleet, error) {
	cfg := &config.HuddleConfig{Agents: profiles}

	f := &Fleet{}
	for _, name := range cfg.AgentNames() {
		a, err := NewAgent(name, profiles[name], b, coordinatorID, opts...)
		if err != nil {
			// Leave the bus as we found it
			for _, created := range f.agents {
				b.Unregister(created.name)
			}
			return nil, err
		}
		f.agents = append(f.agents, a)
	}
	return f, nil
}

// Agents returns the fleet's agents in name order.
func (f *Fleet) Agents() []*Agent {
	return append([]*Agent(nil), f.agents...)
}

// Stats returns each agent's counters keyed by name.
func (f *Fleet) Stats() map[string]Stats {
	stats := make(map[string]Stats, len(f.agents))
	for _, a := range f.agents {
		stats[a.name] = a.Stats()
	}
	return stats
}

// Run runs every agent until ctx is cancelled or one of them fails.
func (f *Fleet) Run(ctx context.Context) error {
	if len(f.agents) == 0 {
		return fmt.Errorf("fleet has no agents")
	}

	log.Printf("[Agent] Starting fleet of %d agents", len(f.agents))

	g, gctx := errgroup.WithContext(ctx)
	for _, a := range f.agents {
		g.Go(func() error {
			return a.Run(gctx)
		})
	}
	return g.Wait()
}
