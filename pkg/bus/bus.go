package bus

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ErrDeliveryFailure is returned when a direct message cannot be routed to its receiver.
var ErrDeliveryFailure = errors.New("delivery failure")

// OverflowPolicy decides what a bounded mailbox does when it is full.
type OverflowPolicy string

const (
	// OverflowDropOldest evicts the oldest queued message to make room
	OverflowDropOldest OverflowPolicy = "drop_oldest"

	// OverflowDropNewest discards the incoming message
	OverflowDropNewest OverflowPolicy = "drop_newest"

	// OverflowUnbounded never drops; the mailbox grows without limit
	OverflowUnbounded OverflowPolicy = "unbounded"
)

// Validate checks if the OverflowPolicy is a valid enum value.
func (p OverflowPolicy) Validate() error {
	switch p {
	case OverflowDropOldest, OverflowDropNewest, OverflowUnbounded:
		return nil
	default:
		return fmt.Errorf("invalid overflow policy: %q (must be drop_oldest, drop_newest or unbounded)", p)
	}
}

const (
	// DefaultMailboxCapacity bounds each mailbox unless overridden
	DefaultMailboxCapacity = 1000

	// DefaultHistorySize is the number of recent messages kept for inspection
	DefaultHistorySize = 1000
)

// Handler is invoked synchronously for every matching message.
type Handler func(Message)

// Stats is a point-in-time copy of the bus counters.
type Stats struct {
	Sent       uint64                 `json:"sent"`
	Delivered  uint64                 `json:"delivered"`
	Received   uint64                 `json:"received"`
	Dropped    uint64                 `json:"dropped"`
	Failed     uint64                 `json:"failed"`
	ByType     map[MessageType]uint64 `json:"by_type"`
	Registered int                    `json:"registered"`
}

// Bus routes messages between registered agents.
// Each agent owns a FIFO mailbox; Send and Broadcast never block on the receiver.
// Safe for concurrent use.
type Bus struct {
	mu        sync.RWMutex
	mailboxes map[string]*mailbox

	subMu sync.RWMutex
	subs  map[subKey][]*subscription

	pendingMu sync.Mutex
	pending   map[string]chan Message

	history *history

	capacity int
	policy   OverflowPolicy
	now      func() time.Time

	sent      atomic.Uint64
	delivered atomic.Uint64
	received  atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64

	typeMu sync.Mutex
	byType map[MessageType]uint64
}

type subKey struct {
	msgType MessageType
	agentID string
}

type subscription struct {
	handler Handler
}

// Option configures a Bus.
type Option func(*Bus)

// WithMailboxCapacity bounds every mailbox to n messages. n <= 0 means unbounded.
func WithMailboxCapacity(n int) Option {
	return func(b *Bus) {
		b.capacity = n
	}
}

// WithOverflowPolicy selects the behaviour of a full mailbox.
func WithOverflowPolicy(p OverflowPolicy) Option {
	return func(b *Bus) {
		b.policy = p
	}
}

// WithHistorySize sets how many recent messages History can return.
func WithHistorySize(n int) Option {
	return func(b *Bus) {
		b.history = newHistory(n)
	}
}

// WithClock injects the time source used to stamp messages.
func WithClock(now func() time.Time) Option {
	return func(b *Bus) {
		b.now = now
	}
}

// New creates an empty bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		mailboxes: make(map[string]*mailbox),
		subs:      make(map[subKey][]*subscription),
		pending:   make(map[string]chan Message),
		history:   newHistory(DefaultHistorySize),
		capacity:  DefaultMailboxCapacity,
		policy:    OverflowDropOldest,
		now:       time.Now,
		byType:    make(map[MessageType]uint64),
	}

	for _, opt := range opts {
		opt(b)
	}

	if b.capacity <= 0 {
		b.policy = OverflowUnbounded
	}

	return b
}

// Register creates a mailbox for agentID. Registering twice keeps the existing mailbox.
func (b *Bus) Register(agentID string) error {
	if agentID == "" {
		return fmt.Errorf("agent ID cannot be empty")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.mailboxes[agentID]; !exists {
		b.mailboxes[agentID] = &mailbox{}
	}
	return nil
}

// Unregister removes agentID's mailbox and its subscriptions.
// Messages still queued for the agent are discarded.
func (b *Bus) Unregister(agentID string) {
	b.mu.Lock()
	delete(b.mailboxes, agentID)
	b.mu.Unlock()

	b.subMu.Lock()
	for key := range b.subs {
		if key.agentID == agentID {
			delete(b.subs, key)
		}
	}
	b.subMu.Unlock()
}

// IsRegistered reports whether agentID currently has a mailbox.
func (b *Bus) IsRegistered(agentID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.mailboxes[agentID]
	return ok
}

// Agents returns the registered agent IDs, sorted.
func (b *Bus) Agents() []string {
	b.mu.RLock()
	ids := make([]string, 0, len(b.mailboxes))
	for id := range b.mailboxes {
		ids = append(ids, id)
	}
	b.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Send delivers msg to receiverID's mailbox.
// Returns an error wrapping ErrDeliveryFailure if the receiver is not registered;
// the message is dropped in that case.
func (b *Bus) Send(receiverID string, msg Message) error {
	if err := msg.Validate(); err != nil {
		b.failed.Add(1)
		return fmt.Errorf("%w: %v", ErrDeliveryFailure, err)
	}

	msg = b.stamp(msg)
	msg.ReceiverID = receiverID
	b.sent.Add(1)
	b.countType(msg.Type)

	b.mu.RLock()
	box, ok := b.mailboxes[receiverID]
	b.mu.RUnlock()

	if !ok {
		b.failed.Add(1)
		return fmt.Errorf("%w: receiver %q is not registered", ErrDeliveryFailure, receiverID)
	}

	b.deliver(receiverID, box, msg)
	b.history.add(msg)
	b.resolvePending(msg)
	return nil
}

// Broadcast delivers msg to every registered agent except its sender.
// Returns the number of recipients.
func (b *Bus) Broadcast(msg Message) int {
	if err := msg.Validate(); err != nil {
		b.failed.Add(1)
		log.Printf("[Bus] Dropping invalid broadcast from %q: %v", msg.SenderID, err)
		return 0
	}

	msg = b.stamp(msg)
	msg.ReceiverID = ""
	b.sent.Add(1)
	b.countType(msg.Type)

	// Snapshot recipients so delivery does not hold the registry lock
	type target struct {
		id  string
		box *mailbox
	}
	b.mu.RLock()
	targets := make([]target, 0, len(b.mailboxes))
	for id, box := range b.mailboxes {
		if id == msg.SenderID {
			continue
		}
		targets = append(targets, target{id: id, box: box})
	}
	b.mu.RUnlock()

	for _, t := range targets {
		b.deliver(t.id, t.box, msg)
	}
	b.history.add(msg)

	return len(targets)
}

// Receive drains agentID's mailbox in arrival order.
// Returns nil for unknown agents or an empty mailbox.
func (b *Bus) Receive(agentID string) []Message {
	b.mu.RLock()
	box, ok := b.mailboxes[agentID]
	b.mu.RUnlock()
	if !ok {
		return nil
	}

	msgs := box.drain()
	b.received.Add(uint64(len(msgs)))
	return msgs
}

// Pending returns the number of messages waiting in agentID's mailbox.
func (b *Bus) Pending(agentID string) int {
	b.mu.RLock()
	box, ok := b.mailboxes[agentID]
	b.mu.RUnlock()
	if !ok {
		return 0
	}
	return box.len()
}

// Subscribe registers handler for messages of msgType that agentID receives,
// in addition to normal mailbox delivery. Handlers run synchronously on the
// sending goroutine; a panicking handler is logged and does not affect others.
// The returned function removes the subscription.
func (b *Bus) Subscribe(msgType MessageType, agentID string, handler Handler) func() {
	key := subKey{msgType: msgType, agentID: agentID}
	sub := &subscription{handler: handler}

	b.subMu.Lock()
	b.subs[key] = append(b.subs[key], sub)
	b.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.subMu.Lock()
			defer b.subMu.Unlock()
			list := b.subs[key]
			for i, s := range list {
				if s == sub {
					b.subs[key] = append(list[:i:i], list[i+1:]...)
					break
				}
			}
			if len(b.subs[key]) == 0 {
				delete(b.subs, key)
			}
		})
	}
}

// Request sends a coordination request and waits for the matching response.
// The request's CorrelationID is assigned here; the responder must echo it via Respond.
// The sender must be registered, since the response is delivered to its mailbox.
func (b *Bus) Request(ctx context.Context, receiverID string, msg Message) (Message, error) {
	if !b.IsRegistered(msg.SenderID) {
		return Message{}, fmt.Errorf("%w: requester %q is not registered", ErrDeliveryFailure, msg.SenderID)
	}
	msg.Type = MessageTypeCoordinationRequest
	msg.CorrelationID = uuid.New().String()

	reply := make(chan Message, 1)
	b.pendingMu.Lock()
	b.pending[msg.CorrelationID] = reply
	b.pendingMu.Unlock()

	defer func() {
		b.pendingMu.Lock()
		delete(b.pending, msg.CorrelationID)
		b.pendingMu.Unlock()
	}()

	if err := b.Send(receiverID, msg); err != nil {
		return Message{}, err
	}

	select {
	case resp := <-reply:
		return resp, nil
	case <-ctx.Done():
		return Message{}, fmt.Errorf("coordination request %s: %w", msg.CorrelationID, ctx.Err())
	}
}

// Respond answers request by sending a coordination response back to its sender.
func (b *Bus) Respond(request Message, responderID string, payload map[string]any) error {
	if request.CorrelationID == "" {
		return fmt.Errorf("cannot respond to message %s: no correlation ID", request.ID)
	}

	resp := NewMessage(responderID, request.SenderID, MessageTypeCoordinationResponse, payload)
	resp.CorrelationID = request.CorrelationID
	return b.Send(request.SenderID, resp)
}

// History returns up to n of the most recent messages, newest first.
func (b *Bus) History(n int) []Message {
	return b.history.recent(n)
}

// Stats returns a copy of the bus counters.
func (b *Bus) Stats() Stats {
	b.typeMu.Lock()
	byType := make(map[MessageType]uint64, len(b.byType))
	for k, v := range b.byType {
		byType[k] = v
	}
	b.typeMu.Unlock()

	b.mu.RLock()
	registered := len(b.mailboxes)
	b.mu.RUnlock()

	return Stats{
		Sent:       b.sent.Load(),
		Delivered:  b.delivered.Load(),
		Received:   b.received.Load(),
		Dropped:    b.dropped.Load(),
		Failed:     b.failed.Load(),
		ByType:     byType,
		Registered: registered,
	}
}

// stamp fills in the ID and timestamp if the caller left them empty.
func (b *Bus) stamp(msg Message) Message {
	msg = msg.clone()
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = b.now()
	}
	return msg
}

func (b *Bus) countType(t MessageType) {
	b.typeMu.Lock()
	b.byType[t]++
	b.typeMu.Unlock()
}

// deliver enqueues msg in box, then runs subscribers outside any bus lock.
func (b *Bus) deliver(receiverID string, box *mailbox, msg Message) {
	stored, dropped := box.push(msg.clone(), b.capacity, b.policy)
	if dropped {
		b.dropped.Add(1)
		log.Printf("[Bus] Mailbox for %s full (capacity=%d, policy=%s), dropped a message", receiverID, b.capacity, b.policy)
	}
	if stored {
		b.delivered.Add(1)
	}

	b.subMu.RLock()
	subs := append([]*subscription(nil), b.subs[subKey{msgType: msg.Type, agentID: receiverID}]...)
	b.subMu.RUnlock()

	for _, sub := range subs {
		b.invoke(sub.handler, msg.clone())
	}
}

func (b *Bus) invoke(handler Handler, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Bus] Subscriber for %s on %s panicked: %v", msg.Type, msg.ReceiverID, r)
		}
	}()
	handler(msg)
}

func (b *Bus) resolvePending(msg Message) {
	if msg.Type != MessageTypeCoordinationResponse || msg.CorrelationID == "" {
		return
	}

	b.pendingMu.Lock()
	reply, ok := b.pending[msg.CorrelationID]
	if ok {
		delete(b.pending, msg.CorrelationID)
	}
	b.pendingMu.Unlock()

	if ok {
		reply <- msg
	}
}

// mailbox is a FIFO queue owned by one agent.
type mailbox struct {
	mu    sync.Mutex
	queue []Message
}

// push appends msg, applying the overflow policy.
// stored reports whether msg is now queued; dropped whether any message was discarded.
func (m *mailbox) push(msg Message, capacity int, policy OverflowPolicy) (stored, dropped bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if policy == OverflowUnbounded || capacity <= 0 || len(m.queue) < capacity {
		m.queue = append(m.queue, msg)
		return true, false
	}

	if policy == OverflowDropNewest {
		return false, true
	}

	// drop_oldest
	copy(m.queue, m.queue[1:])
	m.queue[len(m.queue)-1] = msg
	return true, true
}

func (m *mailbox) drain() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.queue) == 0 {
		return nil
	}
	msgs := m.queue
	m.queue = nil
	return msgs
}

func (m *mailbox) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// history is a fixed-size ring of recent messages.
type history struct {
	mu   sync.Mutex
	buf  []Message
	next int
	full bool
}

func newHistory(size int) *history {
	if size < 0 {
		size = 0
	}
	return &history{buf: make([]Message, size)}
}

func (h *history) add(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.buf) == 0 {
		return
	}
	h.buf[h.next] = msg
	h.next = (h.next + 1) % len(h.buf)
	if h.next == 0 {
		h.full = true
	}
}

func (h *history) recent(n int) []Message {
	h.mu.Lock()
	defer h.mu.Unlock()

	size := h.next
	if h.full {
		size = len(h.buf)
	}
	if n <= 0 || n > size {
		n = size
	}

	out := make([]Message, 0, n)
	idx := h.next
	for i := 0; i < n; i++ {
		idx--
		if idx < 0 {
			idx = len(h.buf) - 1
		}
		out = append(out, h.buf[idx])
	}
	return out
}
