package watch

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dyluth/huddle/pkg/mirror"
)

// formatter renders one event.
type formatter interface {
	FormatEvent(ev *mirror.Event) error
}

func newFormatter(format OutputFormat, w io.Writer) (formatter, error) {
	switch format {
	case OutputFormatDefault:
		return &defaultFormatter{writer: w}, nil
	case OutputFormatJSON:
		return &jsonFormatter{encoder: json.NewEncoder(w)}, nil
	default:
		return nil, fmt.Errorf("unknown output format: %s", format)
	}
}

// defaultFormatter prints a timestamped line with an emoji per event type.
type defaultFormatter struct {
	writer io.Writer
}

func (f *defaultFormatter) FormatEvent(ev *mirror.Event) error {
	line := describe(ev)
	if line == "" {
		return nil
	}
	ts := ev.Timestamp().UTC().Format("15:04:05.000")
	_, err := fmt.Fprintf(f.writer, "[%s] %s\n", ts, line)
	return err
}

func describe(ev *mirror.Event) string {
	if n := ev.Negotiation; n != nil {
		id := shortID(n.ID)
		switch ev.Type {
		case mirror.EventNegotiationAnnounced:
			return fmt.Sprintf("📢 Announced: id=%s task=%s deadline=%s",
				id, n.Task, time.UnixMilli(n.DeadlineMs).UTC().Format("15:04:05.000"))
		case mirror.EventBidReceived:
			return fmt.Sprintf("🙋 Bid received: id=%s bidders=%d", id, len(n.Bidders))
		case mirror.EventNegotiationAwarded:
			return fmt.Sprintf("🏆 Awarded: id=%s to=%s value=%.3f", id, n.WinnerID, n.WinningValue)
		case mirror.EventNegotiationExpired:
			return fmt.Sprintf("⌛ Expired: id=%s (no bids)", id)
		case mirror.EventNegotiationCompleted:
			if n.State == "failed" {
				return fmt.Sprintf("❌ Failed: id=%s by=%s", id, n.WinnerID)
			}
			return fmt.Sprintf("🎉 Completed: id=%s by=%s", id, n.WinnerID)
		}
	}

	if e := ev.Entry; e != nil {
		switch ev.Type {
		case mirror.EventKnowledgePosted:
			source := e.SourceAgentID
			if source == "" {
				source = "-"
			}
			return fmt.Sprintf("📝 Posted: %s/%s = %s (%s, by=%s, conf=%.2f)",
				e.Area, e.Key, e.Value, e.Kind, source, e.Confidence)
		case mirror.EventKnowledgeRemoved:
			return fmt.Sprintf("🗑️  Removed: %s/%s", e.Area, e.Key)
		}
	}

	return ""
}

// jsonFormatter writes each event as one JSON line.
type jsonFormatter struct {
	encoder *json.Encoder
}

func (f *jsonFormatter) FormatEvent(ev *mirror.Event) error {
	return f.encoder.Encode(ev)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
