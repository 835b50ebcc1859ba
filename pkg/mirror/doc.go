// Package mirror copies coordination state out of process.
//
// The contract net and blackboard live in memory. The mirror takes their
// events and writes them to Redis so operators and other tools can inspect a
// running engine, and optionally republishes them on NATS.
//
// # Redis Layout
//
// All keys and channels are namespaced by instance name so several Huddle
// instances can share one Redis server:
//
//	huddle:{instance}:negotiation:{id}   hash, one per negotiation
//	huddle:{instance}:negotiations       set of negotiation IDs
//	huddle:{instance}:knowledge:{area}   hash, entry key → JSON EntryRecord
//	huddle:{instance}:events             Pub/Sub channel of Event JSON
//
// On NATS, events are published on huddle.{instance}.events.
//
// # Usage Example
//
//	client, err := mirror.NewClientFromURL("redis://localhost:6379", "prod")
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	m := mirror.New("prod", 0, client)
//	go m.Run(ctx)
//
//	m.Enqueue(m.NegotiationEvent(mirror.EventNegotiationAwarded, negotiation))
//
// The mirror is best effort. Enqueue never blocks the engine, and an event
// that cannot be queued or stored is logged and counted, not retried.
package mirror
