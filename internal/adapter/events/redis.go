package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"villa-auth/internal/domain"
	"villa-auth/internal/infrastructure/metrics"
)

// DefaultChannel is the pub/sub channel identity events travel on.
const DefaultChannel = "villa:identity-events"

// RedisPublisher publishes identity events on a Redis pub/sub channel.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

// NewRedisPublisher creates a publisher on channel.
func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{client: client, channel: channel}
}

// Publish encodes event and publishes it.
func (p *RedisPublisher) Publish(ctx context.Context, event domain.AuthEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode identity event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish identity event: %w", err)
	}
	return nil
}

// RedisSubscriber feeds identity events from a Redis pub/sub channel into a sink.
type RedisSubscriber struct {
	client  *redis.Client
	channel string
	sink    domain.EventSink
	logger  *slog.Logger
}

// NewRedisSubscriber creates a subscriber on channel.
func NewRedisSubscriber(client *redis.Client, channel string, sink domain.EventSink, logger *slog.Logger) *RedisSubscriber {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisSubscriber{client: client, channel: channel, sink: sink, logger: logger}
}

// Run subscribes and dispatches events until ctx is done. ready, if non-nil, is
// closed once the subscription is confirmed.
func (s *RedisSubscriber) Run(ctx context.Context, ready chan<- struct{}) error {
	pubsub := s.client.Subscribe(ctx, s.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil
		}
		return fmt.Errorf("subscribe %s: %w", s.channel, err)
	}
	if ready != nil {
		close(ready)
	}
	s.logger.InfoContext(ctx, "identity event subscriber started", "channel", s.channel)

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			s.handle(ctx, msg.Payload)
		}
	}
}

func (s *RedisSubscriber) handle(ctx context.Context, payload string) {
	event, err := Decode([]byte(payload))
	if err != nil {
		metrics.RecordEvent("redis", "invalid")
		s.logger.WarnContext(ctx, "dropping malformed identity event", "error", err)
		return
	}
	metrics.RecordEvent("redis", string(event.Kind))
	n := s.sink.Dispatch(ctx, event)
	s.logger.DebugContext(ctx, "identity event received", "kind", event.Kind, "notified", n)
}
