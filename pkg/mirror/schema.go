package mirror

import "fmt"

// Redis key and channel helpers
//
// Every key, channel and subject is namespaced by instance name so several
// Huddle instances can share one Redis server or NATS cluster.
//
// Key pattern: huddle:{instance_name}:{entity}:{id}
// Channel pattern: huddle:{instance_name}:events

// NegotiationKey returns the Redis key for a negotiation hash.
// Pattern: huddle:{instance_name}:negotiation:{announcement_id}
func NegotiationKey(instanceName, announcementID string) string {
	return fmt.Sprintf("huddle:%s:negotiation:%s", instanceName, announcementID)
}

// NegotiationIndexKey returns the Redis key for the set of known negotiation IDs.
// Pattern: huddle:{instance_name}:negotiations
func NegotiationIndexKey(instanceName string) string {
	return fmt.Sprintf("huddle:%s:negotiations", instanceName)
}

// KnowledgeKey returns the Redis key for one blackboard area.
// The hash maps entry key → JSON-encoded EntryRecord.
// Pattern: huddle:{instance_name}:knowledge:{area}
func KnowledgeKey(instanceName, area string) string {
	return fmt.Sprintf("huddle:%s:knowledge:%s", instanceName, area)
}

// EventsChannel returns the Pub/Sub channel carrying every mirrored event.
// Pattern: huddle:{instance_name}:events
func EventsChannel(instanceName string) string {
	return fmt.Sprintf("huddle:%s:events", instanceName)
}

// EventsSubject returns the NATS subject carrying every mirrored event.
// Pattern: huddle.{instance_name}.events
func EventsSubject(instanceName string) string {
	return fmt.Sprintf("huddle.%s.events", instanceName)
}
