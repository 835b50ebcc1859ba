// Package bus implements the in-process communication bus agents use to talk
// to each other.
//
// Every agent registers a mailbox. Direct messages (Send) land in exactly one
// mailbox; broadcasts land in every mailbox except the sender's. Mailboxes are
// FIFO, so messages from one sender are always received in the order they were
// sent. Delivery never blocks: a full mailbox applies its overflow policy
// (drop_oldest by default) instead of waiting for the receiver.
//
// Type subscriptions let an agent react to a message synchronously on the
// sender's goroutine, in addition to finding it in its mailbox later. Request
// and Respond pair a coordination_request with its coordination_response via a
// correlation ID.
package bus
