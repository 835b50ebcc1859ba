package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/dyluth/huddle/pkg/contractnet"
)

// ErrNotAwarded is returned when a negotiation closes without a winner.
var ErrNotAwarded = errors.New("negotiation closed without an award")

// quorumPollInterval is how often AwardOnQuorum re-checks the bid count
const quorumPollInterval = 20 * time.Millisecond

// AwardOnQuorum waits until announcementID has at least quorum bids, then
// awards it to the best bidder. If the negotiation is awarded by someone else
// first (a deadline sweep, a manual award) that winner is returned. If it
// expires or is otherwise closed with no winner, ErrNotAwarded is returned.
func (c *Coordinator) AwardOnQuorum(ctx context.Context, announcementID string, quorum int) (contractnet.Bid, error) {
	if quorum < 1 {
		return contractnet.Bid{}, fmt.Errorf("quorum must be >= 1, got %d", quorum)
	}

	log.Printf("[Coordinator] Waiting for %d bids on %s", quorum, announcementID)

	ticker := time.NewTicker(quorumPollInterval)
	defer ticker.Stop()

	for {
		n, ok := c.contracts.Negotiation(announcementID)
		if !ok {
			return contractnet.Bid{}, fmt.Errorf("%w: %s", contractnet.ErrNegotiationNotFound, announcementID)
		}

		if n.WinningBid != nil {
			return *n.WinningBid, nil
		}
		if !n.State.IsOpen() {
			return contractnet.Bid{}, fmt.Errorf("%w: %s is %s", ErrNotAwarded, announcementID, n.State)
		}

		if len(n.Bids) >= quorum {
			if winner, ok := c.contracts.AwardToBestBidder(announcementID); ok {
				c.logEvent("quorum_reached", map[string]interface{}{
					"announcement_id": announcementID,
					"bid_count":       len(n.Bids),
					"winner_id":       winner.BidderID,
				})
				return winner, nil
			}
			// Lost a race with another award; the next pass reports the outcome
			continue
		}

		select {
		case <-ctx.Done():
			return contractnet.Bid{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// AwardQuorums awards every open negotiation that has collected at least
// quorum bids and returns how many were awarded.
func (c *Coordinator) AwardQuorums(quorum int) int {
	if quorum < 1 {
		return 0
	}

	awarded := 0
	for _, n := range c.contracts.Negotiations() {
		if n.State != contractnet.StateEvaluating || len(n.Bids) < quorum {
			continue
		}
		if winner, ok := c.contracts.AwardToBestBidder(n.ID()); ok {
			c.logEvent("quorum_reached", map[string]interface{}{
				"announcement_id": n.ID(),
				"bid_count":       len(n.Bids),
				"winner_id":       winner.BidderID,
			})
			awarded++
		}
	}
	return awarded
}
