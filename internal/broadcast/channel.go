// Package broadcast carries lightweight ephemeral messages between every
// client on a board over Redis pub/sub. Nothing here is persisted: a message
// missed is a message gone, which is safe because positions are absolute and
// the durable-change feed covers anything that matters long-term.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/prudhvinik1/boardsync/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	// eventsChannelPrefix carries the low-latency ephemeral feed: cursor
	// positions and in-flight move batches.
	eventsChannelPrefix = "board:%s:events"
	// changesChannelPrefix carries durable-change notifications: creates,
	// updates and deletes that were also written to the repository.
	changesChannelPrefix = "board:%s:changes"

	subscribeBuffer = 256
)

// Channel publishes and subscribes board events over a shared Redis client.
type Channel struct {
	client *redis.Client
}

// NewChannel wraps an established Redis client.
func NewChannel(client *redis.Client) *Channel {
	return &Channel{client: client}
}

// ephemeral reports whether an event type belongs on the low-latency feed
// rather than the durable-change feed.
func ephemeral(t models.EventType) bool {
	return t == models.EventCursorUpdate || t == models.EventObjectMoveBatch
}

// Publish JSON-encodes the event and publishes it to the feed matching its
// type. Failures are returned for the caller to log; they are never fatal to
// the local optimistic state.
func (c *Channel) Publish(ctx context.Context, ev *models.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	name := changesChannelPrefix
	if ephemeral(ev.Type) {
		name = eventsChannelPrefix
	}
	channel := fmt.Sprintf(name, ev.BoardID)
	if err := c.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish %s: %w", ev.Type, err)
	}
	return nil
}

// Subscription delivers decoded events for one board until closed.
type Subscription struct {
	pubsub *redis.PubSub
	events chan *models.Event
}

// Subscribe listens on both of the board's feeds. Decoding runs on an internal
// goroutine; malformed payloads are logged and dropped. The returned
// subscription is closed by Close or when ctx is canceled.
func (c *Channel) Subscribe(ctx context.Context, boardID uuid.UUID) (*Subscription, error) {
	pubsub := c.client.Subscribe(ctx,
		fmt.Sprintf(eventsChannelPrefix, boardID),
		fmt.Sprintf(changesChannelPrefix, boardID),
	)
	// Force the subscription to be established before returning so callers
	// don't miss events raced against the handshake.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to board %s: %w", boardID, err)
	}

	sub := &Subscription{
		pubsub: pubsub,
		events: make(chan *models.Event, subscribeBuffer),
	}
	go sub.run(ctx, boardID)
	return sub, nil
}

func (s *Subscription) run(ctx context.Context, boardID uuid.UUID) {
	defer close(s.events)
	ch := s.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev models.Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Printf("broadcast: dropping malformed payload on board %s: %v", boardID, err)
				continue
			}
			select {
			case s.events <- &ev:
			default:
				// Receiver is not keeping up. Dropping is safe:
				// the feed is ephemeral and positions absolute.
				log.Printf("broadcast: receiver backlog full, dropping %s on board %s", ev.Type, boardID)
			}
		}
	}
}

// Events returns the decoded event stream. Closed when the subscription ends.
func (s *Subscription) Events() <-chan *models.Event {
	return s.events
}

// Close tears down the underlying pub/sub connection.
func (s *Subscription) Close() error {
	return s.pubsub.Close()
}
