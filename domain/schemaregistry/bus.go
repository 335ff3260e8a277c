package schemaregistry

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/emergent-company/emergent.graph/internal/config"
	"github.com/emergent-company/emergent.graph/pkg/logger"
)

// Bus fans validator invalidations out to other server instances.
type Bus interface {
	Publish(ctx context.Context, key Key) error
	// Subscribe calls fn for every key published by any instance and blocks
	// until ctx is done.
	Subscribe(ctx context.Context, fn func(Key)) error
}

// NewBus returns a redis bus when REDIS_URL is set, otherwise an in-process one.
func NewBus(lc fx.Lifecycle, cfg *config.Config, log *slog.Logger) (Bus, error) {
	if !cfg.Redis.Enabled() {
		return LocalBus{}, nil
	}
	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return NewRedisBus(client, cfg.Redis.Channel, log), nil
}

// LocalBus is used by single-instance deployments; local invalidation is
// done by the service itself, so there is nothing to deliver.
type LocalBus struct{}

func (LocalBus) Publish(context.Context, Key) error { return nil }

func (LocalBus) Subscribe(ctx context.Context, _ func(Key)) error {
	<-ctx.Done()
	return nil
}

// RedisBus publishes keys on a redis pub/sub channel.
type RedisBus struct {
	client  redis.UniversalClient
	channel string
	log     *slog.Logger
}

func NewRedisBus(client redis.UniversalClient, channel string, log *slog.Logger) *RedisBus {
	return &RedisBus{
		client:  client,
		channel: channel,
		log:     log.With(logger.Scope("schema.bus")),
	}
}

func (b *RedisBus) Publish(ctx context.Context, key Key) error {
	if err := b.client.Publish(ctx, b.channel, key.String()).Err(); err != nil {
		return fmt.Errorf("publish invalidation: %w", err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, fn func(Key)) error {
	ps := b.client.Subscribe(ctx, b.channel)
	defer ps.Close()

	// Wait for the subscription confirmation so no message published after
	// Subscribe returns control is missed.
	if _, err := ps.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			key, err := ParseKey(msg.Payload)
			if err != nil {
				b.log.Warn("dropping invalidation", logger.Error(err))
				continue
			}
			fn(key)
		}
	}
}
