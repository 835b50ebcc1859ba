package agentsim

import (
	"context"
	"testing"
	"time"

	"github.com/dyluth/huddle/internal/config"
	"github.com/dyluth/huddle/internal/coordinator"
	"github.com/dyluth/huddle/internal/testutil"
	"github.com/dyluth/huddle/pkg/blackboard"
	"github.com/dyluth/huddle/pkg/contractnet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadTestConfig(t *testing.T) *config.HuddleConfig {
	t.Helper()
	cfg, err := config.Parse([]byte(testutil.DefaultHuddleYML("sim")))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestNewFleet(t *testing.T) {
	cfg := loadTestConfig(t)
	c, err := coordinator.New(cfg)
	require.NoError(t, err)

	fleet, err := NewFleet(c.Bus(), c.ID(), cfg.Agents)
	require.NoError(t, err)

	agents := fleet.Agents()
	require.Len(t, agents, 2)
	assert.Equal(t, "builder-1", agents[0].Name())
	assert.Equal(t, "miner-1", agents[1].Name())
	assert.Len(t, fleet.Stats(), 2)

	t.Run("unregisters partial fleet on failure", func(t *testing.T) {
		c, err := coordinator.New(cfg)
		require.NoError(t, err)
		require.NoError(t, c.Bus().Register("miner-1"))

		_, err = NewFleet(c.Bus(), c.ID(), cfg.Agents)
		require.Error(t, err)
		assert.False(t, c.Bus().IsRegistered("builder-1"))
	})

	t.Run("empty fleet cannot run", func(t *testing.T) {
		empty, err := NewFleet(c.Bus(), c.ID(), nil)
		require.NoError(t, err)
		assert.Error(t, empty.Run(context.Background()))
	})
}

func TestSimulate(t *testing.T) {
	cfg := loadTestConfig(t)
	c, err := coordinator.New(cfg)
	require.NoError(t, err)

	fleet, err := NewFleet(c.Bus(), c.ID(), cfg.Agents, WithPollInterval(2*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := Simulate(ctx, c, fleet, coordinator.NewStaticPlanner(cfg.Goals), "tunnel")
	require.NoError(t, err)
	require.True(t, result.Settled)
	require.Len(t, result.Negotiations, 1)

	n := result.Negotiations[0]
	assert.Equal(t, contractnet.StateCompleted, n.State)
	require.NotNil(t, n.WinningBid)
	// miner-1: 0.8*0.9 = 0.72 beats builder-1: 0.6*0.95 = 0.57
	assert.Equal(t, "miner-1", n.WinningBid.BidderID)
	assert.Len(t, n.Bids, 2)

	assert.Equal(t, 1, result.Counts()[contractnet.StateCompleted])
	assert.Equal(t, uint64(1), result.Agents["miner-1"].Completed)
	assert.Equal(t, uint64(1), result.Agents["builder-1"].Bids)
	assert.Zero(t, result.Agents["builder-1"].Awards)

	entry, ok := c.Blackboard().Get(blackboard.AreaTasks, coordinator.ResultKey(n.ID()))
	require.True(t, ok)
	assert.Equal(t, "miner-1", entry.SourceAgentID)
}

func TestSimulateUnsettled(t *testing.T) {
	cfg := loadTestConfig(t)
	c, err := coordinator.New(cfg)
	require.NoError(t, err)

	fleet, err := NewFleet(c.Bus(), c.ID(), cfg.Agents)
	require.NoError(t, err)

	// Ends long before the 200ms bid window closes
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	result, err := Simulate(ctx, c, fleet, coordinator.NewStaticPlanner(cfg.Goals), "tunnel")
	require.NoError(t, err)
	assert.False(t, result.Settled)
	require.Len(t, result.Negotiations, 1)
	assert.False(t, result.Negotiations[0].State.IsTerminal())
}
