package contractnet

import "sort"

// Better reports whether a ranks ahead of b: higher value first, then the
// shorter estimated time, then the lexically smaller bidder ID so the order
// is total and independent of arrival order.
func Better(a, b Bid) bool {
	va, vb := a.Value(), b.Value()
	if va != vb {
		return va > vb
	}
	if a.EstimatedTimeMs != b.EstimatedTimeMs {
		return a.EstimatedTimeMs < b.EstimatedTimeMs
	}
	return a.BidderID < b.BidderID
}

// RankBids returns a copy of bids ordered best first.
func RankBids(bids []Bid) []Bid {
	ranked := make([]Bid, len(bids))
	copy(ranked, bids)
	sort.SliceStable(ranked, func(i, j int) bool {
		return Better(ranked[i], ranked[j])
	})
	return ranked
}

// SelectBest returns the best bid, or false if there are none.
func SelectBest(bids []Bid) (Bid, bool) {
	if len(bids) == 0 {
		return Bid{}, false
	}
	best := bids[0]
	for _, b := range bids[1:] {
		if Better(b, best) {
			best = b
		}
	}
	return best, true
}
