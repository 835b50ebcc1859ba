package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Client provides instance-scoped Redis storage for mirrored negotiations and knowledge.
// All keys and channels are automatically namespaced with the instance name.
// The client is thread-safe and can be used concurrently from multiple goroutines.
type Client struct {
	rdb          *redis.Client
	instanceName string
}

// NewClient creates a new mirror client for the specified instance.
//
// Parameters:
//   - redisOpts: Redis connection options (address, password, DB, etc.)
//   - instanceName: Huddle instance identifier (must not be empty)
//
// Returns an error if instanceName is empty.
func NewClient(redisOpts *redis.Options, instanceName string) (*Client, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}

	return &Client{
		rdb:          redis.NewClient(redisOpts),
		instanceName: instanceName,
	}, nil
}

// NewClientFromURL parses a redis:// URL and creates a client.
func NewClientFromURL(redisURL, instanceName string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL %q: %w", redisURL, err)
	}
	return NewClient(opts, instanceName)
}

// InstanceName returns the namespace this client writes under.
func (c *Client) InstanceName() string {
	return c.instanceName
}

// Close closes the Redis connection. Implements io.Closer.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for health checks.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// SaveNegotiation writes a negotiation record and adds it to the instance index.
// Writing the same record twice is safe; the hash is fully replaced.
func (c *Client) SaveNegotiation(ctx context.Context, r *NegotiationRecord) error {
	// Validate record
	if err := r.Validate(); err != nil {
		return fmt.Errorf("invalid negotiation record: %w", err)
	}

	// Convert to Redis hash
	hash, err := NegotiationToHash(r)
	if err != nil {
		return fmt.Errorf("failed to serialize negotiation: %w", err)
	}

	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, NegotiationKey(c.instanceName, r.ID), hash)
	pipe.SAdd(ctx, NegotiationIndexKey(c.instanceName), r.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write negotiation to Redis: %w", err)
	}

	return nil
}

// GetNegotiation retrieves a negotiation record by announcement ID.
// Returns (nil, redis.Nil) if it doesn't exist. Use IsNotFound() to check.
func (c *Client) GetNegotiation(ctx context.Context, announcementID string) (*NegotiationRecord, error) {
	hashData, err := c.rdb.HGetAll(ctx, NegotiationKey(c.instanceName, announcementID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read negotiation from Redis: %w", err)
	}

	// HGetAll returns an empty map for missing keys
	if len(hashData) == 0 {
		return nil, redis.Nil
	}

	record, err := HashToNegotiation(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize negotiation: %w", err)
	}
	return record, nil
}

// ListNegotiationIDs returns every mirrored announcement ID, sorted.
func (c *Client) ListNegotiationIDs(ctx context.Context) ([]string, error) {
	ids, err := c.rdb.SMembers(ctx, NegotiationIndexKey(c.instanceName)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list negotiations: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// ListNegotiations returns every mirrored negotiation, oldest first.
// Index entries whose hash has disappeared are skipped.
func (c *Client) ListNegotiations(ctx context.Context) ([]*NegotiationRecord, error) {
	ids, err := c.ListNegotiationIDs(ctx)
	if err != nil {
		return nil, err
	}

	records := make([]*NegotiationRecord, 0, len(ids))
	for _, id := range ids {
		record, err := c.GetNegotiation(ctx, id)
		if IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAtMs < records[j].CreatedAtMs
	})
	return records, nil
}

// SaveEntry writes a knowledge entry into its area hash.
func (c *Client) SaveEntry(ctx context.Context, r *EntryRecord) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("invalid entry record: %w", err)
	}

	field, err := EntryToField(r)
	if err != nil {
		return err
	}

	if err := c.rdb.HSet(ctx, KnowledgeKey(c.instanceName, r.Area), r.Key, field).Err(); err != nil {
		return fmt.Errorf("failed to write entry to Redis: %w", err)
	}
	return nil
}

// DeleteEntry removes a knowledge entry. Deleting a missing entry is not an error.
func (c *Client) DeleteEntry(ctx context.Context, area, key string) error {
	if err := c.rdb.HDel(ctx, KnowledgeKey(c.instanceName, area), key).Err(); err != nil {
		return fmt.Errorf("failed to delete entry from Redis: %w", err)
	}
	return nil
}

// GetArea returns the mirrored entries of one area, oldest first.
func (c *Client) GetArea(ctx context.Context, area string) ([]*EntryRecord, error) {
	fields, err := c.rdb.HGetAll(ctx, KnowledgeKey(c.instanceName, area)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read area %s from Redis: %w", area, err)
	}

	records := make([]*EntryRecord, 0, len(fields))
	for key, field := range fields {
		record, err := FieldToEntry(field)
		if err != nil {
			return nil, fmt.Errorf("entry %s/%s: %w", area, key, err)
		}
		records = append(records, record)
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].TimestampMs == records[j].TimestampMs {
			return records[i].Key < records[j].Key
		}
		return records[i].TimestampMs < records[j].TimestampMs
	})
	return records, nil
}

// PublishEvent publishes ev as JSON on the instance events channel.
func (c *Client) PublishEvent(ctx context.Context, ev *Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := c.rdb.Publish(ctx, EventsChannel(c.instanceName), data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Record persists the state carried by ev: negotiations are upserted, posted
// entries saved and removed entries deleted.
func (c *Client) Record(ctx context.Context, ev *Event) error {
	switch {
	case ev.Negotiation != nil:
		return c.SaveNegotiation(ctx, ev.Negotiation)
	case ev.Entry != nil && ev.Type == EventKnowledgeRemoved:
		return c.DeleteEntry(ctx, ev.Entry.Area, ev.Entry.Key)
	case ev.Entry != nil:
		return c.SaveEntry(ctx, ev.Entry)
	default:
		return nil
	}
}

// Subscription represents an active Pub/Sub subscription to mirrored events.
// Caller must call Close() when done to clean up resources.
type Subscription struct {
	events <-chan *Event
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of events.
// The channel will be closed when the subscription is closed or the context is cancelled.
func (s *Subscription) Events() <-chan *Event {
	return s.events
}

// Errors returns the channel of subscription errors.
// The subscription continues after errors - malformed messages are skipped.
func (s *Subscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription and cleans up resources. Implements io.Closer.
// Safe to call multiple times - subsequent calls are no-ops.
func (s *Subscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// SubscribeEvents subscribes to mirrored events for this instance.
// Context cancellation also stops the subscription.
//
// Events are delivered on a buffered channel (size 10) to prevent blocking.
// If the subscriber is too slow, events may be dropped by Redis Pub/Sub (at-most-once delivery).
func (c *Client) SubscribeEvents(ctx context.Context) (*Subscription, error) {
	pubsub := c.rdb.Subscribe(ctx, EventsChannel(c.instanceName))

	// Wait for the subscription to be confirmed so no event published after return is missed
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to events: %w", err)
	}

	eventsChan := make(chan *Event, 10)
	errorsChan := make(chan error, 10)

	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()

		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					// Send error on error channel, skip message
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal event: %w", err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- &ev:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Subscription{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}, nil
}

// IsNotFound returns true if the error is a Redis "key not found" error (redis.Nil).
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}
