package agentsim

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/dyluth/huddle/internal/coordinator"
	"github.com/dyluth/huddle/pkg/contractnet"
	"golang.org/x/sync/errgroup"
)

// settlePollInterval is how often Simulate checks whether every negotiation has finished
const settlePollInterval = 20 * time.Millisecond

// Result summarises one simulated goal.
type Result struct {
	Goal         string                    `json:"goal"`
	Negotiations []contractnet.Negotiation `json:"negotiations"`
	Agents       map[string]Stats          `json:"agents"`
	Settled      bool                      `json:"settled"` // false if ctx ended before every negotiation finished
}

// Counts returns how many negotiations ended in each state.
func (r Result) Counts() map[contractnet.State]int {
	counts := make(map[contractnet.State]int)
	for _, n := range r.Negotiations {
		counts[n.State]++
	}
	return counts
}

// Simulate runs c and fleet, coordinates goal through planner and waits until
// every announced negotiation is completed, failed or expired, or ctx ends.
// Both c and fleet are stopped before it returns.
func Simulate(ctx context.Context, c *coordinator.Coordinator, fleet *Fleet, planner coordinator.Planner, goal string) (*Result, error) {
	runCtx, stop := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return c.Run(gctx) })
	g.Go(func() error { return fleet.Run(gctx) })

	ids, coordErr := c.CoordinateGoal(ctx, planner, goal)

	settled := false
	if coordErr == nil {
		settled = waitSettled(ctx, gctx, c, ids)
	}

	stop()
	runErr := g.Wait()

	result := &Result{
		Goal:   goal,
		Agents: fleet.Stats(),
	}
	result.Settled = settled
	for _, id := range ids {
		if n, ok := c.Contracts().Negotiation(id); ok {
			result.Negotiations = append(result.Negotiations, n)
		}
	}

	if coordErr != nil {
		return result, coordErr
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return result, fmt.Errorf("simulation stopped: %w", runErr)
	}

	log.Printf("[Agent] Simulation of %q finished: %d negotiations, settled=%t", goal, len(result.Negotiations), settled)
	return result, nil
}

func waitSettled(ctx, runCtx context.Context, c *coordinator.Coordinator, ids []string) bool {
	ticker := time.NewTicker(settlePollInterval)
	defer ticker.Stop()

	for {
		if allTerminal(c, ids) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-runCtx.Done():
			return false
		case <-ticker.C:
		}
	}
}

func allTerminal(c *coordinator.Coordinator, ids []string) bool {
	for _, id := range ids {
		n, ok := c.Contracts().Negotiation(id)
		if ok && !n.State.IsTerminal() {
			return false
		}
	}
	return true
}
