package mirror

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Serialization helpers for converting between records and Redis hashes
//
// Redis stores data as string-to-string maps (hashes). Scalar fields map to
// individual hash fields so they stay queryable with HGET; the bidder list is
// JSON-encoded into a single field.

// NegotiationToHash converts a NegotiationRecord to Redis hash format.
func NegotiationToHash(r *NegotiationRecord) (map[string]interface{}, error) {
	bidders := r.Bidders
	if bidders == nil {
		bidders = []string{}
	}
	biddersJSON, err := json.Marshal(bidders)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal bidders: %w", err)
	}

	return map[string]interface{}{
		"id":            r.ID,
		"requester_id":  r.RequesterID,
		"task":          r.Task,
		"state":         r.State,
		"bidders":       string(biddersJSON),
		"winner_id":     r.WinnerID,
		"winning_value": strconv.FormatFloat(r.WinningValue, 'f', -1, 64),
		"deadline_ms":   r.DeadlineMs,
		"created_at_ms": r.CreatedAtMs,
		"closed_at_ms":  r.ClosedAtMs,
	}, nil
}

// HashToNegotiation converts a Redis hash back to a NegotiationRecord.
func HashToNegotiation(hash map[string]string) (*NegotiationRecord, error) {
	var bidders []string
	if raw := hash["bidders"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &bidders); err != nil {
			return nil, fmt.Errorf("failed to unmarshal bidders: %w", err)
		}
	}
	if bidders == nil {
		bidders = []string{}
	}

	winningValue, err := parseFloatField(hash, "winning_value")
	if err != nil {
		return nil, err
	}
	deadlineMs, err := parseIntField(hash, "deadline_ms")
	if err != nil {
		return nil, err
	}
	createdAtMs, err := parseIntField(hash, "created_at_ms")
	if err != nil {
		return nil, err
	}
	closedAtMs, err := parseIntField(hash, "closed_at_ms")
	if err != nil {
		return nil, err
	}

	return &NegotiationRecord{
		ID:           hash["id"],
		RequesterID:  hash["requester_id"],
		Task:         hash["task"],
		State:        hash["state"],
		Bidders:      bidders,
		WinnerID:     hash["winner_id"],
		WinningValue: winningValue,
		DeadlineMs:   deadlineMs,
		CreatedAtMs:  createdAtMs,
		ClosedAtMs:   closedAtMs,
	}, nil
}

// EntryToField encodes an EntryRecord as the value stored under its key in the area hash.
func EntryToField(r *EntryRecord) (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("failed to marshal entry %s/%s: %w", r.Area, r.Key, err)
	}
	return string(data), nil
}

// FieldToEntry decodes an area hash value back into an EntryRecord.
func FieldToEntry(field string) (*EntryRecord, error) {
	var r EntryRecord
	if err := json.Unmarshal([]byte(field), &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entry: %w", err)
	}
	return &r, nil
}

// parseIntField reads an optional integer field; missing or empty means 0.
func parseIntField(hash map[string]string, field string) (int64, error) {
	raw := hash[field]
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s field: %w", field, err)
	}
	return v, nil
}

// parseFloatField reads an optional float field; missing or empty means 0.
func parseFloatField(hash map[string]string, field string) (float64, error) {
	raw := hash[field]
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s field: %w", field, err)
	}
	return v, nil
}
