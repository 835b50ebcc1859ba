package timespec

import (
	"fmt"
	"time"
)

// Parse turns a time specification into a Unix timestamp in milliseconds.
// Two formats are accepted:
//   - Go durations ("90s", "30m", "1h30m"), meaning that long before now
//   - RFC3339 timestamps ("2026-03-01T12:00:00Z")
func Parse(spec string, now time.Time) (int64, error) {
	if spec == "" {
		return 0, fmt.Errorf("empty time specification")
	}

	if t, err := time.Parse(time.RFC3339, spec); err == nil {
		return t.UnixMilli(), nil
	}

	if d, err := time.ParseDuration(spec); err == nil {
		if d < 0 {
			return 0, fmt.Errorf("invalid time specification: %s (duration cannot be negative)", spec)
		}
		return now.Add(-d).UnixMilli(), nil
	}

	return 0, fmt.Errorf("invalid time specification: %s (use duration like '1h30m' or RFC3339 like '2026-03-01T12:00:00Z')", spec)
}

// Range is an optional time window in Unix milliseconds. Zero means unbounded.
type Range struct {
	SinceMs int64
	UntilMs int64
}

// Contains reports whether tsMs falls inside the window. Since is inclusive, until exclusive.
func (r Range) Contains(tsMs int64) bool {
	if r.SinceMs > 0 && tsMs < r.SinceMs {
		return false
	}
	if r.UntilMs > 0 && tsMs >= r.UntilMs {
		return false
	}
	return true
}

// IsZero reports whether neither bound is set.
func (r Range) IsZero() bool {
	return r.SinceMs == 0 && r.UntilMs == 0
}

// ParseRange parses the --since and --until flags. Empty flags leave that end unbounded.
func ParseRange(since, until string, now time.Time) (Range, error) {
	var r Range
	var err error

	if since != "" {
		if r.SinceMs, err = Parse(since, now); err != nil {
			return Range{}, fmt.Errorf("invalid --since: %w", err)
		}
	}

	if until != "" {
		if r.UntilMs, err = Parse(until, now); err != nil {
			return Range{}, fmt.Errorf("invalid --until: %w", err)
		}
	}

	if r.SinceMs > 0 && r.UntilMs > 0 && r.SinceMs >= r.UntilMs {
		return Range{}, fmt.Errorf("--since must be before --until")
	}

	return r, nil
}
