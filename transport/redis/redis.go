// Package redis publishes causez events on a Redis pub/sub channel with
// go-redis and subscribes to them.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/zoobzio/causez"
)

// Config selects the server and channel.
type Config struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Close() error
}

// Transport publishes JSON encoded events to a channel.
type Transport struct {
	client  publisher
	channel string
	logger  *zap.Logger
}

// NewTransport connects to Redis and verifies the connection with a PING.
func NewTransport(cfg Config, logger *zap.Logger) (*Transport, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return newTransport(rdb, cfg.Channel, logger), nil
}

func newTransport(client publisher, channel string, logger *zap.Logger) *Transport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transport{client: client, channel: channel, logger: logger}
}

// Forward publishes e.
func (t *Transport) Forward(ctx context.Context, _ causez.Agent, e *causez.Event) error {
	payload, err := e.Marshal()
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	receivers, err := t.client.Publish(ctx, t.channel, payload).Result()
	if err != nil {
		return fmt.Errorf("publishing to %s: %w", t.channel, err)
	}
	t.logger.Debug("event published",
		zap.String("channel", t.channel),
		zap.String("task_id", e.TaskIDString()),
		zap.Int64("receivers", receivers),
	)
	return nil
}

// Close closes the client.
func (t *Transport) Close() error {
	return t.client.Close()
}

// Handler is called for every event received by a Source.
type Handler func(ctx context.Context, e *causez.Event) error

// Source subscribes to a channel and decodes events.
type Source struct {
	rdb     *redis.Client
	channel string
	handler Handler
	logger  *zap.Logger
}

// NewSource creates a Source. The connection is made by Run.
func NewSource(cfg Config, handler Handler, logger *zap.Logger) *Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{
		rdb: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		channel: cfg.Channel,
		handler: handler,
		logger:  logger.With(zap.String("channel", cfg.Channel)),
	}
}

// Run receives until ctx is cancelled.
func (s *Source) Run(ctx context.Context) error {
	defer s.rdb.Close()

	sub := s.rdb.Subscribe(ctx, s.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribing to %s: %w", s.channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			s.dispatch(ctx, msg.Payload)
		}
	}
}

func (s *Source) dispatch(ctx context.Context, payload string) {
	e, err := causez.DecodeEvent([]byte(payload))
	if err != nil {
		s.logger.Warn("skipping message", zap.Error(err))
		return
	}
	if err := s.handler(ctx, e); err != nil {
		s.logger.Error("failed to process event", zap.Error(err))
	}
}
