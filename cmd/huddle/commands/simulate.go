package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/dyluth/huddle/internal/agentsim"
	"github.com/dyluth/huddle/internal/config"
	"github.com/dyluth/huddle/internal/coordinator"
	"github.com/dyluth/huddle/internal/instance"
	"github.com/dyluth/huddle/internal/printer"
	"github.com/dyluth/huddle/internal/report"
	"github.com/dyluth/huddle/pkg/contractnet"
	"github.com/dyluth/huddle/pkg/mirror"
	"github.com/spf13/cobra"
)

var (
	simulateConfigPath   string
	simulateInstanceName string
	simulateGoal         string
	simulateTimeout      time.Duration
	simulateOutputFormat string
	simulateOperatorAddr string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Negotiate the configured goals with in-process agents",
	Long: `Run a coordinator and every agent from huddle.yml in this process,
announce the configured goals and wait until each negotiation has been
completed, failed or expired.

Agents bid on announcements whose skill, tool, distance and proficiency
requirements they meet. The best bid (score x confidence per second of
estimated time) wins the award.

If mirror.redis_url or mirror.nats_url are set (or REDIS_URL / NATS_URL),
every negotiation and knowledge change is mirrored so another terminal can
follow along with 'huddle watch'.

Output Formats:
  default - Negotiation table and per-agent summary
  json    - The full simulation result as one JSON document

Examples:
  # Simulate with the goals from huddle.yml
  huddle simulate

  # Mirror to a local Redis and expose the operator endpoints
  REDIS_URL=redis://localhost:6379 huddle simulate --operator-addr localhost:8090`,
	Args: cobra.NoArgs,
	RunE: runSimulate,
}

func init() {
	simulateCmd.Flags().StringVarP(&simulateConfigPath, "config", "c", config.DefaultFilename, "Path to huddle.yml")
	simulateCmd.Flags().StringVarP(&simulateInstanceName, "name", "n", "", "Instance name (overrides huddle.yml)")
	simulateCmd.Flags().StringVarP(&simulateGoal, "goal", "g", "simulation", "Goal label recorded with the announced tasks")
	simulateCmd.Flags().DurationVar(&simulateTimeout, "timeout", 2*time.Minute, "Give up waiting for negotiations after this long")
	simulateCmd.Flags().StringVarP(&simulateOutputFormat, "output", "o", "default", "Output format (default or json)")
	simulateCmd.Flags().StringVar(&simulateOperatorAddr, "operator-addr", "", "Serve operator endpoints on this address (overrides huddle.yml)")
	rootCmd.AddCommand(simulateCmd)
}

func runSimulate(cmd *cobra.Command, args []string) error {
	if simulateOutputFormat != "default" && simulateOutputFormat != "json" {
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", simulateOutputFormat),
			[]string{"Valid formats: default, json"},
		)
	}

	cfg, err := config.Load(simulateConfigPath)
	if err != nil {
		return printer.Error(
			"failed to load configuration",
			err.Error(),
			[]string{"Create one with:\n  huddle init"},
		)
	}

	name, err := instance.Resolve(simulateInstanceName, os.Getenv, cfg.Instance)
	if err != nil {
		return printer.Error("invalid instance name", err.Error(), nil)
	}
	cfg.Instance = name
	if simulateOperatorAddr != "" {
		cfg.Operator.Addr = simulateOperatorAddr
	}

	if len(cfg.Agents) == 0 || len(cfg.Goals) == 0 {
		return printer.Error(
			"nothing to simulate",
			fmt.Sprintf("%s needs at least one agent and one goal.", simulateConfigPath),
			[]string{"Start from the example configuration:\n  huddle init --force"},
		)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, simulateTimeout)
	defer cancel()

	opts, closeSinks, err := mirrorOptions(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSinks()

	c, err := coordinator.New(cfg, opts...)
	if err != nil {
		return fmt.Errorf("failed to create coordinator: %w", err)
	}

	fleet, err := agentsim.NewFleet(c.Bus(), c.ID(), cfg.Agents)
	if err != nil {
		return fmt.Errorf("failed to create agents: %w", err)
	}

	if simulateOutputFormat == "default" {
		printer.Step("Simulating %d goal(s) with %d agent(s) on instance '%s'\n", len(cfg.Goals), len(cfg.Agents), name)
	}

	result, err := agentsim.Simulate(ctx, c, fleet, coordinator.NewStaticPlanner(cfg.Goals), simulateGoal)
	if err != nil {
		return fmt.Errorf("simulation failed: %w", err)
	}

	out := cmd.OutOrStdout()
	if simulateOutputFormat == "json" {
		return report.FormatSingleJSON(out, result)
	}

	printSimulationSummary(out, name, result, time.Now())
	if !result.Settled {
		printer.Warning("Stopped before every negotiation finished (timeout %s)\n", simulateTimeout)
	}
	return nil
}

// mirrorOptions builds the coordinator options for the configured mirror sinks.
// The returned func closes every sink that was opened.
func mirrorOptions(ctx context.Context, cfg *config.HuddleConfig) ([]coordinator.Option, func(), error) {
	var (
		sinks   []any
		closers []io.Closer
		opts    []coordinator.Option
	)
	closeAll := func() {
		for _, c := range closers {
			c.Close()
		}
	}

	if url := cfg.Mirror.RedisURL; url != "" {
		client, err := mirror.NewClientFromURL(url, cfg.Instance)
		if err != nil {
			return nil, func() {}, printer.Error("invalid Redis URL", err.Error(), nil)
		}
		closers = append(closers, client)
		if err := client.Ping(ctx); err != nil {
			closeAll()
			return nil, func() {}, printer.ErrorWithContext(
				"Redis connection failed",
				fmt.Sprintf("Could not connect to Redis at %s", url),
				map[string]string{"instance": cfg.Instance},
				[]string{"Start Redis, or unset mirror.redis_url / REDIS_URL to simulate without a mirror"},
			)
		}
		sinks = append(sinks, client)
		opts = append(opts, coordinator.WithPinger(client))
	}

	if url := cfg.Mirror.NATSURL; url != "" {
		publisher, err := mirror.NewNATSPublisher(url, cfg.Instance)
		if err != nil {
			closeAll()
			return nil, func() {}, printer.ErrorWithContext(
				"NATS connection failed",
				err.Error(),
				map[string]string{"url": url},
				[]string{"Start NATS, or unset mirror.nats_url / NATS_URL"},
			)
		}
		closers = append(closers, publisher)
		sinks = append(sinks, publisher)
	}

	if len(sinks) > 0 {
		opts = append(opts, coordinator.WithMirror(mirror.New(cfg.Instance, cfg.Mirror.BufferSize, sinks...)))
	}
	return opts, closeAll, nil
}

func printSimulationSummary(w io.Writer, instanceName string, result *agentsim.Result, now time.Time) {
	records := make([]*mirror.NegotiationRecord, 0, len(result.Negotiations))
	for _, n := range result.Negotiations {
		records = append(records, mirror.NewNegotiationRecord(n))
	}
	fmt.Fprintln(w)
	report.FormatNegotiationTable(w, records, instanceName, now)

	fmt.Fprintln(w, "\nAgents:")
	names := make([]string, 0, len(result.Agents))
	for name := range result.Agents {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s := result.Agents[name]
		fmt.Fprintf(w, "  %-16s bids=%d awards=%d completed=%d failed=%d\n",
			name, s.Bids, s.Awards, s.Completed, s.Failed)
	}

	counts := result.Counts()
	fmt.Fprintf(w, "\nOutcome: %d completed, %d failed, %d expired\n",
		counts[contractnet.StateCompleted], counts[contractnet.StateFailed], counts[contractnet.StateExpired])
}
