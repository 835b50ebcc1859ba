package report

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/dyluth/huddle/internal/timespec"
	"github.com/dyluth/huddle/pkg/blackboard"
	"github.com/dyluth/huddle/pkg/mirror"
)

// OutputFormat specifies how dump output is rendered.
type OutputFormat string

const (
	// OutputFormatDefault renders a table with truncated values
	OutputFormatDefault OutputFormat = "default"

	// OutputFormatJSONL renders complete records as line-delimited JSON
	OutputFormatJSONL OutputFormat = "jsonl"
)

// Validate checks if the OutputFormat is a valid enum value.
func (f OutputFormat) Validate() error {
	switch f {
	case OutputFormatDefault, OutputFormatJSONL:
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", f)
	}
}

// Store is the read side of the mirror. *mirror.Client satisfies it.
type Store interface {
	InstanceName() string
	ListNegotiations(ctx context.Context) ([]*mirror.NegotiationRecord, error)
	GetNegotiation(ctx context.Context, announcementID string) (*mirror.NegotiationRecord, error)
	GetArea(ctx context.Context, area string) ([]*mirror.EntryRecord, error)
}

// Filter narrows a dump. All set fields are ANDed together.
type Filter struct {
	Window  timespec.Range // Matched against creation time (negotiations) or post time (knowledge)
	State   string         // Exact negotiation state, empty = any
	Agent   string         // Winner (negotiations) or source agent (knowledge), empty = any
	KeyGlob string         // Glob over knowledge keys, empty = any
}

func (f *Filter) matchesNegotiation(r *mirror.NegotiationRecord) bool {
	if f == nil {
		return true
	}
	if !f.Window.Contains(r.CreatedAtMs) {
		return false
	}
	if f.State != "" && r.State != f.State {
		return false
	}
	if f.Agent != "" && r.WinnerID != f.Agent {
		return false
	}
	return true
}

func (f *Filter) matchesEntry(r *mirror.EntryRecord) bool {
	if f == nil {
		return true
	}
	if !f.Window.Contains(r.TimestampMs) {
		return false
	}
	if f.Agent != "" && r.SourceAgentID != f.Agent {
		return false
	}
	if f.KeyGlob != "" {
		matched, err := filepath.Match(f.KeyGlob, r.Key)
		if err != nil || !matched {
			return false
		}
	}
	return true
}

// ListNegotiations writes every mirrored negotiation matching filter, oldest first.
func ListNegotiations(ctx context.Context, store Store, format OutputFormat, filter *Filter, now time.Time, w io.Writer) error {
	if err := format.Validate(); err != nil {
		return err
	}

	all, err := store.ListNegotiations(ctx)
	if err != nil {
		return fmt.Errorf("failed to list negotiations: %w", err)
	}

	records := make([]*mirror.NegotiationRecord, 0, len(all))
	for _, r := range all {
		if filter.matchesNegotiation(r) {
			records = append(records, r)
		}
	}

	if format == OutputFormatJSONL {
		return FormatJSONL(w, records)
	}
	FormatNegotiationTable(w, records, store.InstanceName(), now)
	return nil
}

// ListKnowledge writes mirrored entries of the given areas (all areas when
// empty) matching filter, area by area, oldest first within an area.
func ListKnowledge(ctx context.Context, store Store, areas []string, format OutputFormat, filter *Filter, now time.Time, w io.Writer) error {
	if err := format.Validate(); err != nil {
		return err
	}

	if len(areas) == 0 {
		for _, a := range blackboard.Areas() {
			areas = append(areas, string(a))
		}
	}

	var records []*mirror.EntryRecord
	for _, area := range areas {
		if err := blackboard.Area(area).Validate(); err != nil {
			return err
		}
		entries, err := store.GetArea(ctx, area)
		if err != nil {
			return fmt.Errorf("failed to read area %s: %w", area, err)
		}
		for _, r := range entries {
			if filter.matchesEntry(r) {
				records = append(records, r)
			}
		}
	}

	if format == OutputFormatJSONL {
		return FormatJSONL(w, records)
	}
	FormatKnowledgeTable(w, records, store.InstanceName(), now)
	return nil
}
