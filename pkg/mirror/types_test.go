package mirror

import (
	"testing"
	"time"

	"github.com/dyluth/huddle/pkg/blackboard"
	"github.com/dyluth/huddle/pkg/contractnet"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func awardedNegotiation() contractnet.Negotiation {
	id := uuid.New().String()
	a := contractnet.Bid{AnnouncementID: id, BidderID: "agent-a", Score: 0.8, EstimatedTimeMs: 5000, Confidence: 0.9}
	b := contractnet.Bid{AnnouncementID: id, BidderID: "agent-b", Score: 0.6, EstimatedTimeMs: 2000, Confidence: 0.95}
	return contractnet.Negotiation{
		Announcement: contractnet.Announcement{
			ID:          id,
			Task:        "gather_wood",
			RequesterID: "coordinator",
			Deadline:    t0.Add(time.Second),
		},
		Bids:       []contractnet.Bid{b, a},
		State:      contractnet.StateAwarded,
		WinningBid: &b,
		CreatedAt:  t0,
		AwardedAt:  t0.Add(time.Second),
	}
}

func TestNewNegotiationRecord(t *testing.T) {
	n := awardedNegotiation()

	rec := NewNegotiationRecord(n)

	assert.Equal(t, n.ID(), rec.ID)
	assert.Equal(t, "coordinator", rec.RequesterID)
	assert.Equal(t, "gather_wood", rec.Task)
	assert.Equal(t, "awarded", rec.State)
	assert.Equal(t, []string{"agent-b", "agent-a"}, rec.Bidders)
	assert.Equal(t, "agent-b", rec.WinnerID)
	assert.InDelta(t, 0.285, rec.WinningValue, 1e-9)
	assert.Equal(t, t0.Add(time.Second).UnixMilli(), rec.DeadlineMs)
	assert.Equal(t, t0.UnixMilli(), rec.CreatedAtMs)
	assert.Zero(t, rec.ClosedAtMs)
	require.NoError(t, rec.Validate())
}

func TestNewNegotiationRecord_StructuredTask(t *testing.T) {
	n := awardedNegotiation()
	n.Announcement.Task = map[string]any{"kind": "build", "x": 3}
	n.ClosedAt = t0.Add(2 * time.Second)

	rec := NewNegotiationRecord(n)

	assert.JSONEq(t, `{"kind":"build","x":3}`, rec.Task)
	assert.Equal(t, t0.Add(2*time.Second).UnixMilli(), rec.ClosedAtMs)
}

func TestNegotiationRecordValidate(t *testing.T) {
	valid := func() *NegotiationRecord {
		return NewNegotiationRecord(awardedNegotiation())
	}

	tests := []struct {
		name   string
		mutate func(r *NegotiationRecord)
		errMsg string
	}{
		{"invalid ID", func(r *NegotiationRecord) { r.ID = "not-a-uuid" }, "not a valid UUID"},
		{"empty requester", func(r *NegotiationRecord) { r.RequesterID = "" }, "requester ID"},
		{"invalid state", func(r *NegotiationRecord) { r.State = "pending" }, "pending"},
		{"awarded without winner", func(r *NegotiationRecord) { r.WinnerID = "" }, "no winner"},
		{"completed without winner", func(r *NegotiationRecord) { r.State = "completed"; r.WinnerID = "" }, "no winner"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid()
			tt.mutate(r)
			err := r.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}

	t.Run("open negotiation needs no winner", func(t *testing.T) {
		r := valid()
		r.State = "evaluating"
		r.WinnerID = ""
		assert.NoError(t, r.Validate())
	})
}

func TestEntryRecordConversion(t *testing.T) {
	entry := blackboard.Entry{
		Key:           "wood",
		Value:         map[string]any{"count": 12, "near": "river"},
		Timestamp:     t0,
		SourceAgentID: "scout-1",
		Confidence:    0.8,
		Kind:          blackboard.KindHypothesis,
		MaxAge:        3 * time.Second,
	}

	rec := NewEntryRecord(blackboard.AreaResources, entry)
	require.NoError(t, rec.Validate())
	assert.Equal(t, "resources", rec.Area)
	assert.JSONEq(t, `{"count":12,"near":"river"}`, rec.Value)
	assert.Equal(t, int64(3000), rec.MaxAgeMs)

	back := rec.Entry()
	assert.Equal(t, "wood", back.Key)
	assert.Equal(t, map[string]any{"count": float64(12), "near": "river"}, back.Value)
	assert.True(t, back.Timestamp.Equal(t0))
	assert.Equal(t, "scout-1", back.SourceAgentID)
	assert.Equal(t, 0.8, back.Confidence)
	assert.Equal(t, blackboard.KindHypothesis, back.Kind)
	assert.Equal(t, 3*time.Second, back.MaxAge)
}

func TestEntryRecord_StringValueSurvives(t *testing.T) {
	rec := NewEntryRecord(blackboard.AreaThreats, blackboard.Entry{
		Key: "creeper", Value: "42", Kind: blackboard.KindFact, Confidence: 1, Timestamp: t0,
	})

	assert.Equal(t, `"42"`, rec.Value)
	assert.Equal(t, "42", rec.Entry().Value)
}

func TestEntryRecordValidate(t *testing.T) {
	valid := func() *EntryRecord {
		return &EntryRecord{Area: "tasks", Key: "k", Value: "1", Kind: "fact", Confidence: 1}
	}

	tests := []struct {
		name   string
		mutate func(r *EntryRecord)
	}{
		{"unknown area", func(r *EntryRecord) { r.Area = "kitchen" }},
		{"empty key", func(r *EntryRecord) { r.Key = "" }},
		{"unknown kind", func(r *EntryRecord) { r.Kind = "rumour" }},
		{"confidence too high", func(r *EntryRecord) { r.Confidence = 1.5 }},
		{"negative confidence", func(r *EntryRecord) { r.Confidence = -0.1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid()
			tt.mutate(r)
			assert.Error(t, r.Validate())
		})
	}

	assert.NoError(t, valid().Validate())
}

func TestEventValidate(t *testing.T) {
	neg := NewNegotiationRecord(awardedNegotiation())
	entry := &EntryRecord{Area: "tasks", Key: "k", Value: "1", Kind: "fact", Confidence: 1}

	assert.NoError(t, (&Event{Type: EventNegotiationAwarded, Negotiation: neg}).Validate())
	assert.NoError(t, (&Event{Type: EventKnowledgePosted, Entry: entry}).Validate())

	assert.Error(t, (&Event{Type: "bogus", Entry: entry}).Validate())
	assert.Error(t, (&Event{Type: EventKnowledgePosted}).Validate())
	assert.Error(t, (&Event{Type: EventKnowledgePosted, Entry: entry, Negotiation: neg}).Validate())
}

func TestEventTypeValidate_AllValid(t *testing.T) {
	for _, et := range []EventType{
		EventNegotiationAnnounced, EventBidReceived, EventNegotiationAwarded,
		EventNegotiationExpired, EventNegotiationCompleted,
		EventKnowledgePosted, EventKnowledgeRemoved,
	} {
		assert.NoError(t, et.Validate(), et)
	}
}

func TestIsValidUUID(t *testing.T) {
	assert.True(t, isValidUUID(uuid.New().String()))
	assert.False(t, isValidUUID(""))
	assert.False(t, isValidUUID("negotiation-1"))
}
