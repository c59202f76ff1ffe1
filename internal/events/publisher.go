// Package events publishes domain events after state changes are persisted.
// Delivery is best effort: a publish failure is logged and never undoes the
// change that produced the event.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/andresuchdata/fulfillops/backend-go/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Publisher interface {
	Publish(ctx context.Context, event domain.DomainEvent) error
}

// LogPublisher writes events to the structured log.
type LogPublisher struct {
	logger zerolog.Logger
}

func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, event domain.DomainEvent) error {
	evt := p.logger.Info().
		Str("event", string(event.Type)).
		Time("occurred_at", event.OccurredAt)
	if event.OrderID != "" {
		evt = evt.Str("order_id", event.OrderID)
	}
	if event.From != "" || event.To != "" {
		evt = evt.Str("from", string(event.From)).Str("to", string(event.To))
	}
	if len(event.Data) > 0 {
		evt = evt.Interface("data", event.Data)
	}
	evt.Msg("domain event")
	return nil
}

// RedisPublisher publishes JSON-encoded events on a pub/sub channel.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, event domain.DomainEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish failed: %w", err)
	}
	return nil
}

// MultiPublisher fans an event out to every publisher and reports the first error.
type MultiPublisher struct {
	publishers []Publisher
}

func NewMultiPublisher(publishers ...Publisher) *MultiPublisher {
	return &MultiPublisher{publishers: publishers}
}

func (p *MultiPublisher) Publish(ctx context.Context, event domain.DomainEvent) error {
	var first error
	for _, pub := range p.publishers {
		if err := pub.Publish(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Recorder keeps published events in memory; tests use it to assert emission.
type Recorder struct {
	mu     sync.Mutex
	events []domain.DomainEvent
}

func (r *Recorder) Publish(ctx context.Context, event domain.DomainEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []domain.DomainEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.DomainEvent(nil), r.events...)
}

// Emit publishes and logs a failure instead of returning it.
func Emit(ctx context.Context, p Publisher, event domain.DomainEvent) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, event); err != nil {
		log.Warn().Err(err).
			Str("event", string(event.Type)).
			Str("order_id", event.OrderID).
			Msg("failed to publish domain event")
	}
}
