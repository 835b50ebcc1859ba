// Package contractnet implements Contract Net task allocation.
//
// A requester announces a task with a deadline. Agents that can do the work
// submit one bid each; a bid is worth
//
//	value = (score × confidence) / max(1, estimated seconds)
//
// so a confident, capable agent that finishes sooner wins. Estimates under one
// second are not rewarded further; among bids of equal value the shorter
// estimate wins, then the smaller bidder ID, so selection never depends on
// arrival order.
//
// Lifecycle of a negotiation:
//
//	announced ──bid──▶ evaluating ──award──▶ awarded ──▶ completed | failed
//	    │                   │
//	    └──── deadline, no award ────▶ expired
//
// Transitions are monotonic and an award happens at most once, no matter how
// many goroutines race to make it. Bids arriving after the deadline, from an
// agent that already bid, or for a closed negotiation are rejected without side
// effects.
//
// When the deadline passes, Sweep (or Expire) closes the negotiation: with no
// bids it expires, with bids it is awarded to the best bidder unless auto-award
// is disabled. The winner is told through a task_award message on the bus, and
// every transition is recorded in the blackboard's tasks area.
//
// Finished negotiations are moved out of the active table on the next sweep
// and stay readable by ID for the retention window (five minutes by default).
package contractnet
