package blackboard

import (
	"fmt"
	"path"
	"time"
)

// Criteria narrows a query within one area.
// All filters are ANDed together; zero values match everything.
type Criteria struct {
	Since         time.Time // entries posted at or after, zero = no filter
	Until         time.Time // entries posted at or before, zero = no filter
	KeyGlob       string    // path.Match pattern on the key, empty = no filter
	SourceAgentID string    // exact match, empty = no filter
	Kind          Kind      // exact match, empty = no filter
	MinConfidence float64   // entries with at least this confidence, 0 = no filter
}

// Matches returns true if the entry satisfies every criterion.
// A malformed KeyGlob matches nothing.
func (c Criteria) Matches(e Entry) bool {
	if !c.Since.IsZero() && e.Timestamp.Before(c.Since) {
		return false
	}
	if !c.Until.IsZero() && e.Timestamp.After(c.Until) {
		return false
	}

	if c.KeyGlob != "" {
		matched, err := path.Match(c.KeyGlob, e.Key)
		if err != nil || !matched {
			return false
		}
	}

	if c.SourceAgentID != "" && e.SourceAgentID != c.SourceAgentID {
		return false
	}
	if c.Kind != "" && e.Kind != c.Kind {
		return false
	}
	if c.MinConfidence > 0 && e.Confidence < c.MinConfidence {
		return false
	}

	return true
}

// HasFilters returns true if any criterion is set.
func (c Criteria) HasFilters() bool {
	return !c.Since.IsZero() ||
		!c.Until.IsZero() ||
		c.KeyGlob != "" ||
		c.SourceAgentID != "" ||
		c.Kind != "" ||
		c.MinConfidence > 0
}

// Validate checks that the glob is well formed and the time range is ordered.
func (c Criteria) Validate() error {
	if c.KeyGlob != "" {
		if _, err := path.Match(c.KeyGlob, ""); err != nil {
			return fmt.Errorf("invalid key pattern %q: %w", c.KeyGlob, err)
		}
	}
	if c.Kind != "" {
		if err := c.Kind.Validate(); err != nil {
			return err
		}
	}
	if !c.Since.IsZero() && !c.Until.IsZero() && c.Until.Before(c.Since) {
		return fmt.Errorf("until (%s) is before since (%s)", c.Until.Format(time.RFC3339), c.Since.Format(time.RFC3339))
	}
	return nil
}

// Query returns the entries in area matching criteria, oldest write first.
func (b *Blackboard) Query(area Area, criteria Criteria) ([]Entry, error) {
	store, err := b.store(area)
	if err != nil {
		return nil, err
	}
	if err := criteria.Validate(); err != nil {
		return nil, fmt.Errorf("invalid query: %w", err)
	}
	b.queries.Add(1)

	recs := b.snapshotArea(store)
	out := make([]Entry, 0, len(recs))
	for _, rec := range recs {
		if criteria.Matches(rec.entry) {
			out = append(out, rec.entry)
		}
	}
	return out, nil
}

// QueryPattern returns entries in area whose key matches the glob pattern.
// A malformed pattern or unknown area yields no entries.
func (b *Blackboard) QueryPattern(area Area, pattern string) []Entry {
	entries, err := b.Query(area, Criteria{KeyGlob: pattern})
	if err != nil {
		return nil
	}
	return entries
}

// QueryByKind returns entries in area of the given kind.
func (b *Blackboard) QueryByKind(area Area, kind Kind) []Entry {
	entries, err := b.Query(area, Criteria{Kind: kind})
	if err != nil {
		return nil
	}
	return entries
}

// QueryBySource returns entries in area posted by sourceAgentID.
func (b *Blackboard) QueryBySource(area Area, sourceAgentID string) []Entry {
	entries, err := b.Query(area, Criteria{SourceAgentID: sourceAgentID})
	if err != nil {
		return nil
	}
	return entries
}

// QueryAll returns the entries matching criteria across every area.
func (b *Blackboard) QueryAll(criteria Criteria) (map[Area][]Entry, error) {
	out := make(map[Area][]Entry)
	for _, area := range Areas() {
		entries, err := b.Query(area, criteria)
		if err != nil {
			return nil, err
		}
		if len(entries) > 0 {
			out[area] = entries
		}
	}
	return out, nil
}
