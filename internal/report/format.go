package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dyluth/huddle/internal/printer"
	"github.com/dyluth/huddle/pkg/mirror"
)

// FormatNegotiationTable writes negotiations as a table with columns ID, STATE,
// WINNER, BIDS, AGE and TASK (truncated). Returns the number of rows written.
func FormatNegotiationTable(w io.Writer, records []*mirror.NegotiationRecord, instanceName string, now time.Time) int {
	if len(records) == 0 {
		fmt.Fprintf(w, "No negotiations found for instance '%s'\n", instanceName)
		return 0
	}

	fmt.Fprintf(w, "Negotiations for instance '%s':\n\n", instanceName)

	fmt.Fprintf(w, "%-10s %-11s %-16s %-5s %-8s %s\n",
		"ID", "STATE", "WINNER", "BIDS", "AGE", "TASK")
	fmt.Fprintf(w, "%-10s %-11s %-16s %-5s %-8s %s\n",
		"----------", "-----------", "----------------", "-----", "--------", "----------------------------------------")

	for _, r := range records {
		// Pad before coloring so escape codes do not break alignment
		state := fmt.Sprintf("%-11s", r.State)
		fmt.Fprintf(w, "%-10s %s %-16s %-5d %-8s %s\n",
			formatID(r.ID),
			strings.Replace(state, r.State, printer.State(r.State), 1),
			dash(r.WinnerID),
			len(r.Bidders),
			formatAge(r.CreatedAtMs, now),
			truncate(r.Task, 40),
		)
	}

	fmt.Fprintf(w, "\n%d %s found\n", len(records), plural(len(records), "negotiation", "negotiations"))
	return len(records)
}

// FormatKnowledgeTable writes entries as a table with columns AREA, KEY,
// KIND, CONF, SOURCE, AGE and VALUE (truncated). Returns the number of rows written.
func FormatKnowledgeTable(w io.Writer, records []*mirror.EntryRecord, instanceName string, now time.Time) int {
	if len(records) == 0 {
		fmt.Fprintf(w, "No knowledge found for instance '%s'\n", instanceName)
		return 0
	}

	fmt.Fprintf(w, "Knowledge for instance '%s':\n\n", instanceName)

	fmt.Fprintf(w, "%-13s %-24s %-11s %-5s %-14s %-8s %s\n",
		"AREA", "KEY", "KIND", "CONF", "SOURCE", "AGE", "VALUE")
	fmt.Fprintf(w, "%-13s %-24s %-11s %-5s %-14s %-8s %s\n",
		"-------------", "------------------------", "-----------", "-----", "--------------", "--------", "------------------------------")

	for _, r := range records {
		fmt.Fprintf(w, "%-13s %-24s %-11s %-5.2f %-14s %-8s %s\n",
			r.Area,
			truncate(r.Key, 24),
			r.Kind,
			r.Confidence,
			dash(r.SourceAgentID),
			formatAge(r.TimestampMs, now),
			truncate(r.Value, 30),
		)
	}

	fmt.Fprintf(w, "\n%d %s found\n", len(records), plural(len(records), "entry", "entries"))
	return len(records)
}

// FormatJSONL writes each item as one compact JSON object per line, for jq and friends.
func FormatJSONL[T any](w io.Writer, items []T) error {
	enc := json.NewEncoder(w)
	for _, item := range items {
		if err := enc.Encode(item); err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
	}
	return nil
}

// FormatSingleJSON writes v as pretty-printed JSON followed by a newline.
func FormatSingleJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write JSON output: %w", err)
	}
	fmt.Fprintln(w)
	return nil
}

// formatID truncates a UUID to its first 8 characters.
func formatID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// truncate keeps the first non-empty line of s, cut to max characters. Empty input returns "-".
func truncate(s string, max int) string {
	var line string
	for _, l := range strings.Split(s, "\n") {
		if trimmed := strings.TrimSpace(l); trimmed != "" {
			line = trimmed
			break
		}
	}
	if line == "" {
		return "-"
	}
	if len(line) > max {
		return line[:max-3] + "..."
	}
	return line
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

// formatAge renders a millisecond timestamp as time before now ("12s ago", "3m ago").
func formatAge(timestampMs int64, now time.Time) string {
	if timestampMs == 0 {
		return "-"
	}

	diff := now.Sub(time.UnixMilli(timestampMs))
	if diff < 0 {
		diff = 0
	}

	switch {
	case diff < time.Minute:
		return fmt.Sprintf("%ds ago", int(diff.Seconds()))
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	}
}
