package coordinator

import (
	"github.com/dyluth/huddle/pkg/blackboard"
	"github.com/dyluth/huddle/pkg/contractnet"
	"github.com/dyluth/huddle/pkg/mirror"
)

// eventBridge logs negotiation lifecycle changes and forwards them, together
// with blackboard changes, to the mirror when one is configured.
type eventBridge struct {
	c *Coordinator
}

func (e *eventBridge) OnAnnounce(a contractnet.Announcement) {
	e.c.logEvent("negotiation_announced", map[string]interface{}{
		"announcement_id": a.ID,
		"requester_id":    a.RequesterID,
		"deadline_ms":     a.Deadline.UnixMilli(),
	})
	e.forward(mirror.EventNegotiationAnnounced, a.ID)
}

func (e *eventBridge) OnBid(b contractnet.Bid) {
	e.c.logEvent("bid_received", map[string]interface{}{
		"announcement_id": b.AnnouncementID,
		"bidder_id":       b.BidderID,
		"bid_value":       b.Value(),
	})
	e.forward(mirror.EventBidReceived, b.AnnouncementID)
}

func (e *eventBridge) OnAward(announcementID string, winner contractnet.Bid) {
	e.c.logEvent("negotiation_awarded", map[string]interface{}{
		"announcement_id": announcementID,
		"winner_id":       winner.BidderID,
		"bid_value":       winner.Value(),
	})
	e.forward(mirror.EventNegotiationAwarded, announcementID)
}

func (e *eventBridge) OnExpire(announcementID string) {
	e.c.logEvent("negotiation_expired", map[string]interface{}{
		"announcement_id": announcementID,
	})
	e.forward(mirror.EventNegotiationExpired, announcementID)
}

func (e *eventBridge) OnComplete(announcementID string, success bool) {
	e.c.logEvent("negotiation_completed", map[string]interface{}{
		"announcement_id": announcementID,
		"success":         success,
	})
	e.forward(mirror.EventNegotiationCompleted, announcementID)
}

// onKnowledge is registered with Blackboard.SubscribeAll only when a mirror is set.
func (e *eventBridge) onKnowledge(ev blackboard.Event) {
	m := e.c.mirror
	if m == nil {
		return
	}

	eventType := mirror.EventKnowledgePosted
	if ev.Type == blackboard.EventRemoved {
		eventType = mirror.EventKnowledgeRemoved
	}
	m.Enqueue(m.EntryEvent(eventType, ev.Area, ev.Entry))
}

func (e *eventBridge) forward(eventType mirror.EventType, announcementID string) {
	m := e.c.mirror
	if m == nil {
		return
	}

	n, ok := e.c.contracts.Negotiation(announcementID)
	if !ok {
		return
	}
	m.Enqueue(m.NegotiationEvent(eventType, n))
}
