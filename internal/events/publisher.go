// Package events delivers audit events to observers. The Redis publisher
// pushes JSON envelopes over pub/sub for the gateway to fan out; delivery is
// best-effort and runs behind a circuit breaker so a dead Redis degrades to
// dropped events instead of slowing every vault operation down to a timeout.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"pegvault/internal/model"
)

// Envelope is the published wire shape: the event kind, emission time, and
// the event's own fields.
type Envelope struct {
	Kind string          `json:"kind"`
	TS   time.Time       `json:"ts"`
	Data json.RawMessage `json:"data"`
}

// RedisConfig configures the Redis publisher.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisPublisher publishes events on per-channel Redis pub/sub.
type RedisPublisher struct {
	client  *goredis.Client
	breaker *CircuitBreaker

	// OnDrop, when set, is called once per event lost to a publish failure
	// or an open breaker.
	OnDrop func(kind string)
}

// NewRedisPublisher connects to Redis and pings it.
func NewRedisPublisher(cfg RedisConfig) (*RedisPublisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[events] connected to redis at %s", cfg.Addr)
	return &RedisPublisher{
		client:  client,
		breaker: NewCircuitBreaker(5, 10*time.Second),
	}, nil
}

// Client returns the underlying Redis client for health checks.
func (p *RedisPublisher) Client() *goredis.Client { return p.client }

// Publish sends e on its channel. Failures count against the breaker; while
// the breaker is open events are dropped immediately.
func (p *RedisPublisher) Publish(ctx context.Context, e model.Event) error {
	payload, err := Marshal(e)
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", e.Kind(), err)
	}

	err = p.breaker.Execute(func() error {
		pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return p.client.Publish(pubCtx, e.Channel(), payload).Err()
	})
	if err != nil {
		if p.OnDrop != nil {
			p.OnDrop(e.Kind())
		}
		return fmt.Errorf("events: publish %s: %w", e.Kind(), err)
	}
	return nil
}

// Close releases the Redis connection.
func (p *RedisPublisher) Close() error { return p.client.Close() }

// Marshal renders the envelope for an event.
func Marshal(e model.Event) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Kind: e.Kind(), TS: time.Now().UTC(), Data: data})
}

// Fanout delivers each event to every publisher in order. Each target's
// error is reported to OnError (or logged) but never stops the others; the
// aggregate always reports success so engines treat delivery as
// best-effort.
type Fanout struct {
	Targets []model.EventPublisher

	// OnError, when set, observes per-target failures.
	OnError func(err error)
}

// Publish implements model.EventPublisher.
func (f *Fanout) Publish(ctx context.Context, e model.Event) error {
	for _, t := range f.Targets {
		if err := t.Publish(ctx, e); err != nil {
			if f.OnError != nil {
				f.OnError(err)
			} else {
				log.Printf("[events] WARNING: %v", err)
			}
		}
	}
	return nil
}
