package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shopagent/shopagent/internal/mykafka"
)

// Bus publishes domain events. Publication is fire-and-forget: failures are
// logged, never returned to the originating request.
type Bus interface {
	Publish(ctx context.Context, event DomainEvent)
}

// RedisBus fans an event out to its realtime channels over redis pub/sub and
// mirrors durable kinds to kafka for the dispatch worker.
type RedisBus struct {
	RDB      *redis.Client
	Producer *mykafka.Producer
	Log      *slog.Logger
}

const publishTimeout = 3 * time.Second

func (b *RedisBus) Publish(ctx context.Context, event DomainEvent) {
	payload, err := json.Marshal(envelope{Kind: event.Kind(), Data: event})
	if err != nil {
		b.Log.Error("event_marshal_failed", "kind", event.Kind(), "error", err)
		return
	}

	// Deliberately detached from the request context: the caller must never
	// block on or fail because of broadcast delivery.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()

		for _, ch := range event.Channels() {
			if err := b.RDB.Publish(ctx, ch, payload).Err(); err != nil {
				b.Log.Warn("event_publish_failed", "kind", event.Kind(), "channel", ch, "error", err)
			}
		}

		if topic := event.Topic(); topic != "" && b.Producer != nil {
			if err := b.Producer.PublishEvent(ctx, topic, event.Kind(), event); err != nil {
				b.Log.Warn("event_kafka_failed", "kind", event.Kind(), "topic", topic, "error", err)
			}
		}
	}()
}

type envelope struct {
	Kind string      `json:"kind"`
	Data interface{} `json:"data"`
}

// NopBus drops every event. Used when redis is not configured.
type NopBus struct{}

func (NopBus) Publish(context.Context, DomainEvent) {}
