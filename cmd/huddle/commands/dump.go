package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/dyluth/huddle/internal/config"
	"github.com/dyluth/huddle/internal/printer"
	"github.com/dyluth/huddle/internal/report"
	"github.com/dyluth/huddle/internal/resolver"
	"github.com/dyluth/huddle/internal/timespec"
	"github.com/spf13/cobra"
)

var (
	dumpConfigPath   string
	dumpInstanceName string
	dumpRedisURL     string
	dumpOutputFormat string
	dumpSince        string
	dumpUntil        string
	dumpState        string
	dumpAgent        string
	dumpKnowledge    bool
	dumpArea         string
	dumpKey          string
)

var dumpCmd = &cobra.Command{
	Use:   "dump [NEGOTIATION_ID]",
	Short: "Inspect mirrored negotiations and knowledge",
	Long: `Inspect the coordination state mirrored to Redis.

List Mode (no NEGOTIATION_ID):
  Displays negotiations (or, with --knowledge, blackboard entries) matching
  the filters as a table or JSONL stream.

Get Mode (with NEGOTIATION_ID):
  Displays one negotiation as pretty-printed JSON.
  Supports short IDs (e.g., "3f2a9c" instead of the full UUID).

Time Filters (list mode only):
  --since  - Created (or posted) at or after this time
  --until  - Created (or posted) before this time

Content Filters (list mode only):
  --state  - Negotiation state (exact: "completed", "expired")
  --agent  - Winning agent, or source agent with --knowledge
  --area   - Blackboard area (with --knowledge)
  --key    - Entry key glob (with --knowledge, e.g. "creeper:*")

Examples:
  # All negotiations of the last hour
  huddle dump --since=1h

  # Completed negotiations as JSONL for jq
  huddle dump --state=completed -o jsonl | jq .winner_id

  # One negotiation by short ID
  huddle dump 3f2a9c

  # Threats reported by a scout
  huddle dump --knowledge --area=threats --agent=scout-1`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDump,
}

func init() {
	dumpCmd.Flags().StringVarP(&dumpConfigPath, "config", "c", config.DefaultFilename, "Path to huddle.yml (optional)")
	dumpCmd.Flags().StringVarP(&dumpInstanceName, "name", "n", "", "Target instance name")
	dumpCmd.Flags().StringVar(&dumpRedisURL, "redis-url", "", "Redis mirror URL (defaults to REDIS_URL or mirror.redis_url)")
	dumpCmd.Flags().StringVarP(&dumpOutputFormat, "output", "o", "default", "Output format: default or jsonl (ignored in get mode)")

	dumpCmd.Flags().StringVar(&dumpSince, "since", "", "Show records after time (duration or RFC3339)")
	dumpCmd.Flags().StringVar(&dumpUntil, "until", "", "Show records before time (duration or RFC3339)")

	dumpCmd.Flags().StringVar(&dumpState, "state", "", "Filter negotiations by state")
	dumpCmd.Flags().StringVar(&dumpAgent, "agent", "", "Filter by winning agent (or source agent with --knowledge)")
	dumpCmd.Flags().BoolVar(&dumpKnowledge, "knowledge", false, "List blackboard entries instead of negotiations")
	dumpCmd.Flags().StringVar(&dumpArea, "area", "", "Blackboard area (with --knowledge; default all areas)")
	dumpCmd.Flags().StringVar(&dumpKey, "key", "", "Entry key glob (with --knowledge)")

	rootCmd.AddCommand(dumpCmd)
}

func runDump(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	isGetMode := len(args) > 0

	outputFormat := report.OutputFormat(dumpOutputFormat)
	if !isGetMode {
		if err := outputFormat.Validate(); err != nil {
			return printer.Error(
				"invalid output format",
				fmt.Sprintf("Unknown format: %s", dumpOutputFormat),
				[]string{"Valid formats: default, jsonl"},
			)
		}
	}

	if isGetMode && dumpKnowledge {
		return printer.Error(
			"conflicting arguments",
			"A negotiation ID cannot be combined with --knowledge.",
			[]string{"Drop the ID to list knowledge:\n  huddle dump --knowledge"},
		)
	}

	t, err := resolveTarget(dumpConfigPath, dumpInstanceName, dumpRedisURL)
	if err != nil {
		return err
	}

	client, err := t.connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	out := cmd.OutOrStdout()

	if isGetMode {
		shortID := args[0]

		fullID, err := resolver.ResolveNegotiationID(ctx, client, shortID)
		if err != nil {
			if resolver.IsNotFoundError(err) {
				return printer.Error(
					fmt.Sprintf("negotiation with ID '%s' not found", shortID),
					"No mirrored negotiation has an ID starting with that prefix.",
					[]string{
						"List all negotiations:\n  huddle dump",
						fmt.Sprintf("Verify instance:\n  huddle dump --name %s", t.instanceName),
					},
				)
			}
			var ambigErr *resolver.AmbiguousError
			if errors.As(err, &ambigErr) {
				fmt.Fprintln(cmd.ErrOrStderr(), ambigErr.Describe())
				return fmt.Errorf("ambiguous short ID")
			}
			return fmt.Errorf("failed to resolve negotiation ID: %w", err)
		}

		if err := report.GetNegotiation(ctx, client, fullID, out); err != nil {
			if report.IsNotFound(err) {
				return printer.Error(
					fmt.Sprintf("negotiation with ID '%s' not found", fullID),
					"The negotiation was resolved but could not be fetched.",
					[]string{"It may have been removed since. Try again."},
				)
			}
			return fmt.Errorf("failed to get negotiation: %w", err)
		}
		return nil
	}

	now := time.Now()
	window, err := timespec.ParseRange(dumpSince, dumpUntil, now)
	if err != nil {
		return printer.Error(
			"invalid time filter",
			err.Error(),
			[]string{"Use duration format like '1h30m' or RFC3339 like '2026-03-01T13:00:00Z'"},
		)
	}

	filter := &report.Filter{
		Window:  window,
		State:   dumpState,
		Agent:   dumpAgent,
		KeyGlob: dumpKey,
	}

	if dumpKnowledge {
		var areas []string
		if dumpArea != "" {
			areas = []string{dumpArea}
		}
		if err := report.ListKnowledge(ctx, client, areas, outputFormat, filter, now, out); err != nil {
			return fmt.Errorf("failed to list knowledge: %w", err)
		}
		return nil
	}

	if err := report.ListNegotiations(ctx, client, outputFormat, filter, now, out); err != nil {
		return fmt.Errorf("failed to list negotiations: %w", err)
	}
	return nil
}
