package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Notification is the wire envelope for every event delivered to clients.
type Notification struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Broadcaster fans events out through Redis pub/sub. Room channels carry
// events for every connection subscribed to a game PIN; connection channels
// carry private events for exactly one connection. Redis guarantees
// per-channel ordering, which is what keeps the question, timer and
// leaderboard sequence intact for each observer.
type Broadcaster struct {
	redis  redis.UniversalClient
	prefix string
}

type Config struct {
	Redis  redis.UniversalClient
	Prefix string
}

func NewBroadcaster(c Config) *Broadcaster {
	return &Broadcaster{
		redis:  c.Redis,
		prefix: c.Prefix,
	}
}

// Publish delivers an event to every connection subscribed to the PIN's room.
func (b *Broadcaster) Publish(ctx context.Context, pin, event string, data any) error {
	return b.publish(ctx, b.RoomChannel(pin), event, data)
}

// PublishTo delivers an event to exactly one connection.
func (b *Broadcaster) PublishTo(ctx context.Context, connID, event string, data any) error {
	return b.publish(ctx, b.ConnChannel(connID), event, data)
}

func (b *Broadcaster) publish(ctx context.Context, channel, event string, data any) error {
	n := Notification{
		Event: event,
		Data:  data,
	}

	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", event, err)
	}

	return b.redis.Publish(ctx, channel, payload).Err()
}

// Subscribe opens a Redis subscription on the given channels. The returned
// PubSub supports adding channels later, which the transport layer uses when
// a connection joins a room after connecting.
func (b *Broadcaster) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	return b.redis.Subscribe(ctx, channels...)
}

func (b *Broadcaster) RoomChannel(pin string) string {
	return fmt.Sprintf("%s:room:%s", b.prefix, pin)
}

func (b *Broadcaster) ConnChannel(connID string) string {
	return fmt.Sprintf("%s:conn:%s", b.prefix, connID)
}
