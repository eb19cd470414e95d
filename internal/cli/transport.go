package cli

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/zoobzio/causez"
	"github.com/zoobzio/causez/transport/kafka"
	"github.com/zoobzio/causez/transport/redis"
)

// ErrUnknownTransport is returned for a transport kind causez cannot build.
var ErrUnknownTransport = errors.New("unknown transport")

// newTransport builds the transport selected by tc.
func newTransport(tc causez.TransportConfig, logger *zap.Logger) (causez.Transport, error) {
	switch tc.Kind {
	case "", "none":
		return causez.Discard, nil
	case "memory":
		return causez.NewCollector("cli"), nil
	case "kafka":
		return kafka.NewTransport(kafka.Config{
			Brokers: tc.Brokers,
			Topic:   tc.Topic,
		}, logger.Named("kafka")), nil
	case "redis":
		return redis.NewTransport(redis.Config{
			Addr:     tc.RedisAddr,
			Password: tc.RedisPassword,
			DB:       tc.RedisDB,
			Channel:  tc.Channel,
		}, logger.Named("redis"))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, tc.Kind)
	}
}

// source reads events from the transport selected by tc.
type source interface {
	Run(ctx context.Context) error
}

func newSource(tc causez.TransportConfig, group string, handle func(context.Context, *causez.Event) error, logger *zap.Logger) (source, error) {
	switch tc.Kind {
	case "kafka":
		return kafka.NewSource(kafka.Config{
			Brokers: tc.Brokers,
			Topic:   tc.Topic,
			GroupID: group,
		}, handle, logger.Named("kafka")), nil
	case "redis":
		return redis.NewSource(redis.Config{
			Addr:     tc.RedisAddr,
			Password: tc.RedisPassword,
			DB:       tc.RedisDB,
			Channel:  tc.Channel,
		}, handle, logger.Named("redis")), nil
	default:
		return nil, fmt.Errorf("%w: cannot tail %q", ErrUnknownTransport, tc.Kind)
	}
}
