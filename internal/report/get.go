package report

import (
	"context"
	"fmt"
	"io"

	"github.com/dyluth/huddle/pkg/mirror"
	"github.com/google/uuid"
)

// GetNegotiation writes one mirrored negotiation as pretty-printed JSON.
func GetNegotiation(ctx context.Context, store Store, announcementID string, w io.Writer) error {
	if _, err := uuid.Parse(announcementID); err != nil {
		return fmt.Errorf("invalid negotiation ID format: must be a valid UUID")
	}

	record, err := store.GetNegotiation(ctx, announcementID)
	if err != nil {
		if mirror.IsNotFound(err) {
			return &NegotiationNotFoundError{AnnouncementID: announcementID}
		}
		return fmt.Errorf("failed to fetch negotiation: %w", err)
	}

	return FormatSingleJSON(w, record)
}

// NegotiationNotFoundError is returned when no mirrored negotiation has the requested ID.
type NegotiationNotFoundError struct {
	AnnouncementID string
}

func (e *NegotiationNotFoundError) Error() string {
	return fmt.Sprintf("negotiation with ID '%s' not found", e.AnnouncementID)
}

// IsNotFound returns true if the error is a NegotiationNotFoundError.
func IsNotFound(err error) bool {
	_, ok := err.(*NegotiationNotFoundError)
	return ok
}
