package redis

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"strings"

	"exam-room-service/internal/broadcast"
	"github.com/redis/go-redis/v9"
)

// DefaultEventPrefix namespaces broadcast channels on the Redis server.
const DefaultEventPrefix = "exam:events:"

// EventBus publishes broadcast events to Redis so every instance can deliver
// them to its own connections. Pair it with a Relay on each instance.
type EventBus struct {
	client *redis.Client
	prefix string
	logger *log.Logger
}

func NewEventBus(client *redis.Client, prefix string, logger *log.Logger) *EventBus {
	if prefix == "" {
		prefix = DefaultEventPrefix
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &EventBus{client: client, prefix: prefix, logger: logger}
}

// Publish is best-effort: a failure is logged and the event is dropped,
// clients recover through their sync pull.
func (b *EventBus) Publish(ctx context.Context, channel string, event broadcast.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		b.logger.Printf("events: marshal %s: %v", event.Type, err)
		return
	}
	if err := b.client.Publish(ctx, b.prefix+channel, data).Err(); err != nil {
		b.logger.Printf("events: publish %s to %s: %v", event.Type, channel, err)
	}
}

// Relay forwards events received from Redis into the local hub.
type Relay struct {
	client *redis.Client
	hub    *broadcast.Hub
	prefix string
	logger *log.Logger
	ready  chan struct{}
}

func NewRelay(client *redis.Client, hub *broadcast.Hub, prefix string, logger *log.Logger) *Relay {
	if prefix == "" {
		prefix = DefaultEventPrefix
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Relay{client: client, hub: hub, prefix: prefix, logger: logger, ready: make(chan struct{})}
}

// Ready is closed once the pattern subscription is confirmed.
func (r *Relay) Ready() <-chan struct{} {
	return r.ready
}

// Run subscribes to every broadcast channel and blocks until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.client.PSubscribe(ctx, r.prefix+"*")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	close(r.ready)

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			var event broadcast.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				r.logger.Printf("events: drop malformed message on %s: %v", msg.Channel, err)
				continue
			}
			r.hub.Publish(ctx, strings.TrimPrefix(msg.Channel, r.prefix), event)
		}
	}
}
