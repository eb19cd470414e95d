// Package kafka ships causez events to a Kafka topic with segmentio/kafka-go
// and reads them back. Events are JSON encoded and keyed by task id, so every
// event of a task lands on the same partition in order.
package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/zoobzio/causez"
)

// Config selects the brokers and topic.
type Config struct {
	Brokers []string
	Topic   string
	// GroupID is the consumer group used by Source. Empty reads every
	// partition without committing offsets.
	GroupID string
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Transport publishes events to Kafka.
type Transport struct {
	writer messageWriter
	logger *zap.Logger
}

// NewTransport creates a Transport writing to cfg.Topic.
func NewTransport(cfg Config, logger *zap.Logger) *Transport {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		MaxAttempts:  3,
		RequiredAcks: kafka.RequireAll,
	}
	return newTransport(w, logger)
}

func newTransport(w messageWriter, logger *zap.Logger) *Transport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transport{writer: w, logger: logger}
}

// Forward writes e synchronously.
func (t *Transport) Forward(ctx context.Context, agent causez.Agent, e *causez.Event) error {
	msg, err := Message(agent, e)
	if err != nil {
		return err
	}
	if err := t.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publishing to kafka: %w", err)
	}
	t.logger.Debug("event published",
		zap.String("task_id", e.TaskIDString()),
		zap.Int("value_size", len(msg.Value)),
	)
	return nil
}

// Close flushes pending writes and closes the writer.
func (t *Transport) Close() error {
	return t.writer.Close()
}

// AgentHeader names the message header carrying the reporting agent.
const AgentHeader = "causez-agent"

// Message builds the Kafka message for e.
func Message(agent causez.Agent, e *causez.Event) (kafka.Message, error) {
	value, err := e.Marshal()
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshaling event: %w", err)
	}
	return kafka.Message{
		Key:     []byte(e.TaskIDString()),
		Value:   value,
		Headers: []kafka.Header{{Key: AgentHeader, Value: []byte(agent)}},
	}, nil
}

// Handler is called for every event read by a Source.
type Handler func(ctx context.Context, e *causez.Event) error

// Source reads events from a Kafka topic.
type Source struct {
	reader  *kafka.Reader
	handler Handler
	logger  *zap.Logger
	commit  bool
}

// NewSource creates a Source for cfg.Topic.
func NewSource(cfg Config, handler Handler, logger *zap.Logger) *Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.GroupID,
		MinBytes:    1e3,
		MaxBytes:    10e6,
		StartOffset: kafka.LastOffset,
	})
	return &Source{
		reader:  r,
		handler: handler,
		logger:  logger.With(zap.String("topic", cfg.Topic)),
		commit:  cfg.GroupID != "",
	}
}

// Run reads until ctx is cancelled. Undecodable messages are skipped.
func (s *Source) Run(ctx context.Context) error {
	defer s.reader.Close()
	for {
		msg, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Error("failed to fetch message", zap.Error(err))
			continue
		}

		e, err := causez.DecodeEvent(msg.Value)
		if err != nil {
			s.logger.Warn("skipping message",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
		} else if err := s.handler(ctx, e); err != nil {
			s.logger.Error("failed to process event",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
			continue
		}

		if !s.commit {
			continue
		}
		if err := s.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			s.logger.Error("failed to commit message", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}
