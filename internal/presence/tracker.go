// Package presence tracks who is currently connected to a board. State lives
// only in Redis keys with a TTL and in a local member cache; nothing is
// durably stored, and everything is reconstructed from the live subscription
// after a disconnect.
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/boardsync/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	// presenceKeyPrefix + boardID + userID. Keys expire after DefaultTTL
	// without a heartbeat, so a crashed client drops off on its own.
	presenceKeyFormat = "presence:%s:%s"
	presenceScanMatch = "presence:%s:*"

	// DefaultTTL is how long a presence record survives without a
	// heartbeat. Heartbeats fire at half this.
	DefaultTTL = 60 * time.Second

	// refreshInterval is how often the member cache is re-read from Redis.
	refreshInterval = 5 * time.Second
)

// Tracker maintains one user's presence on one board and a cache of everyone
// else's. Join starts the heartbeat; Leave tears everything down.
type Tracker struct {
	client  *redis.Client
	boardID uuid.UUID
	self    models.PresenceUser
	ttl     time.Duration

	mu      sync.Mutex
	members map[uuid.UUID]models.PresenceUser
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewTracker prepares a tracker for the given board and user. Color is derived
// deterministically from the user id, so every peer renders this user the same.
func NewTracker(client *redis.Client, boardID, userID uuid.UUID, userName string, ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Tracker{
		client:  client,
		boardID: boardID,
		ttl:     ttl,
		self: models.PresenceUser{
			UserID:   userID,
			UserName: userName,
			Color:    models.ColorFor(userID),
		},
		members: make(map[uuid.UUID]models.PresenceUser),
	}
}

// Join writes this user's presence record and starts the heartbeat and member
// refresh loops. Self is inserted into the local cache before anything touches
// the network, so the member list never flashes empty for the joining user.
func (t *Tracker) Join(ctx context.Context) error {
	t.mu.Lock()
	if t.cancel != nil {
		t.mu.Unlock()
		return nil
	}
	t.self.OnlineAt = time.Now()
	t.members[t.self.UserID] = t.self
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t.cancel = cancel
	t.done = make(chan struct{})
	t.mu.Unlock()

	if err := t.track(ctx); err != nil {
		return err
	}
	go t.run(loopCtx)
	return nil
}

// track writes/refreshes the self record with TTL.
func (t *Tracker) track(ctx context.Context) error {
	data, err := json.Marshal(t.self)
	if err != nil {
		return fmt.Errorf("failed to marshal presence: %w", err)
	}
	key := fmt.Sprintf(presenceKeyFormat, t.boardID, t.self.UserID)
	if err := t.client.Set(ctx, key, data, t.ttl).Err(); err != nil {
		return fmt.Errorf("failed to track presence: %w", err)
	}
	return nil
}

func (t *Tracker) run(ctx context.Context) {
	defer close(t.done)
	heartbeat := time.NewTicker(t.ttl / 2)
	refresh := time.NewTicker(refreshInterval)
	defer heartbeat.Stop()
	defer refresh.Stop()

	// Initial sync so peers show up right after joining.
	t.refreshMembers(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if err := t.track(ctx); err != nil {
				log.Printf("presence: heartbeat failed board=%s user=%s: %v", t.boardID, t.self.UserID, err)
			}
		case <-refresh.C:
			t.refreshMembers(ctx)
		}
	}
}

// Snapshot reads the full current member set for a board: SCAN for the
// board's presence keys, then one MGET for the records. Deduplicated by user
// id (multiple tabs, one entry).
func Snapshot(ctx context.Context, client *redis.Client, boardID uuid.UUID) (map[uuid.UUID]models.PresenceUser, error) {
	var keys []string
	iter := client.Scan(ctx, 0, presenceScanMatchFor(boardID), 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan presence keys: %w", err)
	}

	members := make(map[uuid.UUID]models.PresenceUser)
	if len(keys) == 0 {
		return members, nil
	}
	results, err := client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch presence records: %w", err)
	}
	for _, result := range results {
		data, ok := result.(string)
		if !ok {
			continue // expired between SCAN and MGET
		}
		var user models.PresenceUser
		if err := json.Unmarshal([]byte(data), &user); err != nil {
			continue
		}
		if existing, ok := members[user.UserID]; !ok || user.OnlineAt.Before(existing.OnlineAt) {
			members[user.UserID] = user
		}
	}
	return members, nil
}

// refreshMembers re-reads the member set into the local cache. Failures leave
// the previous cache in place.
func (t *Tracker) refreshMembers(ctx context.Context) {
	members, err := Snapshot(ctx, t.client, t.boardID)
	if err != nil {
		log.Printf("presence: member refresh failed board=%s: %v", t.boardID, err)
		return
	}
	// Self is always present while joined, regardless of propagation lag.
	members[t.self.UserID] = t.self

	t.mu.Lock()
	t.members = members
	t.mu.Unlock()
}

// Members returns the current member set, deduplicated by user id, ordered by
// join time (stable for UI lists).
func (t *Tracker) Members() []models.PresenceUser {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.PresenceUser, 0, len(t.members))
	for _, u := range t.members {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OnlineAt.Equal(out[j].OnlineAt) {
			return out[i].UserID.String() < out[j].UserID.String()
		}
		return out[i].OnlineAt.Before(out[j].OnlineAt)
	})
	return out
}

// Self returns this tracker's own presence record.
func (t *Tracker) Self() models.PresenceUser {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.self
}

// Leave deletes the presence record and stops the background loops. Safe to
// call twice.
func (t *Tracker) Leave(ctx context.Context) error {
	t.mu.Lock()
	cancel := t.cancel
	done := t.done
	t.cancel = nil
	t.done = nil
	t.members = make(map[uuid.UUID]models.PresenceUser)
	t.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done

	key := fmt.Sprintf(presenceKeyFormat, t.boardID, t.self.UserID)
	if err := t.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete presence: %w", err)
	}
	return nil
}

func presenceScanMatchFor(boardID uuid.UUID) string {
	return fmt.Sprintf(presenceScanMatch, boardID)
}
