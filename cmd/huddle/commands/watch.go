package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dyluth/huddle/internal/config"
	"github.com/dyluth/huddle/internal/printer"
	"github.com/dyluth/huddle/internal/watch"
	"github.com/dyluth/huddle/pkg/blackboard"
	"github.com/spf13/cobra"
)

var (
	watchConfigPath   string
	watchInstanceName string
	watchRedisURL     string
	watchOutputFormat string
	watchArea         string
	watchNegotiations bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream coordination activity from the Redis mirror",
	Long: `Stream negotiation and knowledge events from a mirrored instance as they
happen: announcements, bids, awards, expiries, completions and blackboard posts.

Output Formats:
  default - Human-readable output with timestamps and emojis
  json    - Line-delimited JSON for programmatic processing

Examples:
  # Watch the instance from huddle.yml
  huddle watch

  # Watch only threats on a specific instance
  huddle watch --name prod --redis-url redis://localhost:6379 --area threats

  # Export events as JSON
  huddle watch --output=json > events.jsonl`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchConfigPath, "config", "c", config.DefaultFilename, "Path to huddle.yml (optional)")
	watchCmd.Flags().StringVarP(&watchInstanceName, "name", "n", "", "Target instance name")
	watchCmd.Flags().StringVar(&watchRedisURL, "redis-url", "", "Redis mirror URL (defaults to REDIS_URL or mirror.redis_url)")
	watchCmd.Flags().StringVarP(&watchOutputFormat, "output", "o", "default", "Output format (default or json)")
	watchCmd.Flags().StringVar(&watchArea, "area", "", "Only show knowledge events for this blackboard area")
	watchCmd.Flags().BoolVar(&watchNegotiations, "negotiations", false, "Only show negotiation events")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	var outputFormat watch.OutputFormat
	switch watchOutputFormat {
	case "default":
		outputFormat = watch.OutputFormatDefault
	case "json":
		outputFormat = watch.OutputFormatJSON
	default:
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", watchOutputFormat),
			[]string{"Valid formats: default, json"},
		)
	}

	if watchArea != "" {
		if err := blackboard.Area(watchArea).Validate(); err != nil {
			return printer.Error("invalid area", err.Error(), nil)
		}
		if watchNegotiations {
			return printer.Error(
				"conflicting filters",
				"--area selects knowledge events and --negotiations excludes them.",
				[]string{"Use one of the two flags"},
			)
		}
	}

	t, err := resolveTarget(watchConfigPath, watchInstanceName, watchRedisURL)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := t.connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	opts := watch.Options{
		Format:       outputFormat,
		Area:         watchArea,
		Negotiations: watchNegotiations,
	}
	return watch.StreamActivity(ctx, client, t.instanceName, opts, cmd.OutOrStdout())
}
