package watch

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/dyluth/huddle/pkg/mirror"
)

// OutputFormat specifies how streamed events are rendered.
type OutputFormat string

const (
	// OutputFormatDefault prints one human-readable line per event
	OutputFormatDefault OutputFormat = "default"

	// OutputFormatJSON prints each event as line-delimited JSON
	OutputFormatJSON OutputFormat = "json"
)

// Source delivers mirrored events. *mirror.Client satisfies it.
type Source interface {
	SubscribeEvents(ctx context.Context) (*mirror.Subscription, error)
}

// Options narrows what is streamed.
type Options struct {
	Format OutputFormat
	Area   string // Only knowledge events for this area; negotiation events are dropped. Empty = everything
	// Negotiations drops knowledge events
	Negotiations bool
}

// StreamActivity subscribes to source and writes every matching event to w
// until ctx is cancelled or the subscription ends.
func StreamActivity(ctx context.Context, source Source, instanceName string, opts Options, w io.Writer) error {
	formatter, err := newFormatter(opts.Format, w)
	if err != nil {
		return err
	}

	sub, err := source.SubscribeEvents(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to events: %w", err)
	}
	defer sub.Close()

	if opts.Format == OutputFormatDefault {
		fmt.Fprintf(w, "Watching instance '%s' (Ctrl+C to stop)...\n", instanceName)
	}

	events := sub.Events()
	errs := sub.Errors()
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if !opts.matches(ev) {
				continue
			}
			if err := formatter.FormatEvent(ev); err != nil {
				return fmt.Errorf("failed to write event: %w", err)
			}

		case err, ok := <-errs:
			if !ok {
				// Errors closes together with events; keep draining events
				errs = nil
				continue
			}
			log.Printf("[Watch] Skipping event: %v", err)
		}
	}
}

func (o Options) matches(ev *mirror.Event) bool {
	if ev.Entry != nil {
		if o.Negotiations {
			return false
		}
		return o.Area == "" || ev.Entry.Area == o.Area
	}
	return o.Area == ""
}
