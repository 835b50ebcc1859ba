package bus

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageType identifies the kind of agent message.
// The set is closed: Validate rejects anything not listed here.
type MessageType string

const (
	// MessageTypeTaskAnnouncement carries a new contract-net announcement to candidate bidders
	MessageTypeTaskAnnouncement MessageType = "task_announcement"

	// MessageTypeTaskBid carries an agent's bid back to the requester
	MessageTypeTaskBid MessageType = "task_bid"

	// MessageTypeTaskAward notifies the winning bidder that it owns the task
	MessageTypeTaskAward MessageType = "task_award"

	// MessageTypeTaskComplete is the executor's report that an awarded task finished
	MessageTypeTaskComplete MessageType = "task_complete"

	// MessageTypeKnowledgeShare shares a fact without going through the blackboard
	MessageTypeKnowledgeShare MessageType = "knowledge_share"

	// MessageTypeStatusUpdate is a periodic agent heartbeat/status report
	MessageTypeStatusUpdate MessageType = "status_update"

	// MessageTypeCoordinationRequest asks another agent for a reply (see Bus.Request)
	MessageTypeCoordinationRequest MessageType = "coordination_request"

	// MessageTypeCoordinationResponse answers a coordination request by correlation ID
	MessageTypeCoordinationResponse MessageType = "coordination_response"
)

// MessageTypes returns every known message type in a stable order.
func MessageTypes() []MessageType {
	return []MessageType{
		MessageTypeTaskAnnouncement,
		MessageTypeTaskBid,
		MessageTypeTaskAward,
		MessageTypeTaskComplete,
		MessageTypeKnowledgeShare,
		MessageTypeStatusUpdate,
		MessageTypeCoordinationRequest,
		MessageTypeCoordinationResponse,
	}
}

// Validate checks if the MessageType is a valid enum value.
func (t MessageType) Validate() error {
	switch t {
	case MessageTypeTaskAnnouncement, MessageTypeTaskBid, MessageTypeTaskAward,
		MessageTypeTaskComplete, MessageTypeKnowledgeShare, MessageTypeStatusUpdate,
		MessageTypeCoordinationRequest, MessageTypeCoordinationResponse:
		return nil
	default:
		return fmt.Errorf("unknown message type: %q", t)
	}
}

// Message is a single unit of agent-to-agent communication.
// An empty ReceiverID marks a broadcast.
type Message struct {
	ID            string         `json:"id"`
	SenderID      string         `json:"sender_id"`
	ReceiverID    string         `json:"receiver_id,omitempty"`
	Type          MessageType    `json:"type"`
	Payload       map[string]any `json:"payload,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// NewMessage builds a message with a fresh ID.
// The timestamp is stamped by the bus at delivery time if left zero.
func NewMessage(senderID, receiverID string, msgType MessageType, payload map[string]any) Message {
	return Message{
		ID:         uuid.New().String(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Type:       msgType,
		Payload:    payload,
	}
}

// IsBroadcast reports whether the message has no explicit receiver.
func (m Message) IsBroadcast() bool {
	return m.ReceiverID == ""
}

// Validate checks that the message can be routed.
func (m Message) Validate() error {
	if m.SenderID == "" {
		return fmt.Errorf("sender ID cannot be empty")
	}

	if err := m.Type.Validate(); err != nil {
		return fmt.Errorf("invalid message type: %w", err)
	}

	if m.Type == MessageTypeCoordinationResponse && m.CorrelationID == "" {
		return fmt.Errorf("coordination response requires a correlation ID")
	}

	return nil
}

// PayloadString returns the payload value for key as a string, or "" if absent or not a string.
func (m Message) PayloadString(key string) string {
	s, _ := m.Payload[key].(string)
	return s
}

// PayloadBool returns the payload value for key as a bool.
func (m Message) PayloadBool(key string) bool {
	b, _ := m.Payload[key].(bool)
	return b
}

// PayloadFloat returns the payload value for key as a float64.
// Integer payload values are widened; the second result is false when the key is missing.
func (m Message) PayloadFloat(key string) (float64, bool) {
	switch v := m.Payload[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// clone returns a copy with its own payload map so receivers cannot mutate each other's view.
func (m Message) clone() Message {
	if m.Payload == nil {
		return m
	}
	payload := make(map[string]any, len(m.Payload))
	for k, v := range m.Payload {
		payload[k] = v
	}
	m.Payload = payload
	return m
}
