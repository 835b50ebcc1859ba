package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// MinShortIDLength is the minimum required length for short ID prefixes.
const MinShortIDLength = 6

// maxListedMatches caps how many candidates an ambiguity message lists
const maxListedMatches = 10

// IDLister lists the negotiation IDs known to a store. *mirror.Client satisfies it.
type IDLister interface {
	ListNegotiationIDs(ctx context.Context) ([]string, error)
}

// ResolveNegotiationID expands a short ID prefix to the full negotiation UUID.
// Full UUIDs are checked for existence and returned as-is. Prefixes shorter
// than MinShortIDLength are rejected. A prefix matching nothing yields a
// *NotFoundError and one matching several yields an *AmbiguousError.
func ResolveNegotiationID(ctx context.Context, lister IDLister, shortID string) (string, error) {
	shortID = strings.ToLower(strings.TrimSpace(shortID))
	isFull := len(shortID) == 36 && strings.Count(shortID, "-") == 4

	if !isFull && len(shortID) < MinShortIDLength {
		return "", fmt.Errorf("short ID must be at least %d characters (got %d)", MinShortIDLength, len(shortID))
	}

	ids, err := lister.ListNegotiationIDs(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to search for negotiation: %w", err)
	}

	var matches []string
	for _, id := range ids {
		if isFull && id == shortID {
			return id, nil
		}
		if !isFull && strings.HasPrefix(id, shortID) {
			matches = append(matches, id)
		}
	}

	switch len(matches) {
	case 0:
		return "", &NotFoundError{ShortID: shortID}
	case 1:
		return matches[0], nil
	default:
		return "", &AmbiguousError{ShortID: shortID, Matches: matches}
	}
}

// NotFoundError indicates no negotiation matched the short ID.
type NotFoundError struct {
	ShortID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no negotiations found matching '%s'", e.ShortID)
}

// AmbiguousError indicates several negotiations matched the short ID.
type AmbiguousError struct {
	ShortID string
	Matches []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("ambiguous short ID '%s' matches %d negotiations", e.ShortID, len(e.Matches))
}

// Describe lists the matching IDs (at most ten) with a hint to lengthen the prefix.
func (e *AmbiguousError) Describe() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "'%s' matches %d negotiations:\n", e.ShortID, len(e.Matches))

	shown := min(len(e.Matches), maxListedMatches)
	for _, id := range e.Matches[:shown] {
		fmt.Fprintf(&sb, "  %s\n", id)
	}
	if len(e.Matches) > shown {
		fmt.Fprintf(&sb, "  ...and %d more\n", len(e.Matches)-shown)
	}

	sb.WriteString("\nUse a longer prefix to uniquely identify the negotiation.")
	return sb.String()
}

// IsNotFoundError checks if an error is a NotFoundError.
func IsNotFoundError(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsAmbiguousError checks if an error is an AmbiguousError.
func IsAmbiguousError(err error) bool {
	var target *AmbiguousError
	return errors.As(err, &target)
}
