// Package kafka wraps segmentio/kafka-go for the index pipeline: a batch
// consumer that commits offsets only after a batch has been handled, and a
// JSON event producer.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/segdex/pkg/config"
)

// Message is a fetched record handed to a BatchHandler.
type Message struct {
	Key       []byte
	Value     []byte
	Partition int
	Offset    int64
}

// BatchHandler processes one batch. Returning an error leaves the batch
// uncommitted so it is redelivered.
type BatchHandler func(ctx context.Context, batch []Message) error

// Fetcher is the subset of *kafka.Reader the consumer uses.
type Fetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer accumulates messages from a topic into batches bounded by size
// and age, and dispatches them to a BatchHandler.
type Consumer struct {
	reader       Fetcher
	handler      BatchHandler
	batchSize    int
	batchTimeout time.Duration
	retryDelay   time.Duration
	logger       *slog.Logger
}

// NewConsumer creates a Consumer for topic in cfg's consumer group.
func NewConsumer(cfg config.KafkaConfig, topic string, batchSize int, batchTimeout time.Duration, handler BatchHandler) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     cfg.ConsumerGroup,
		MinBytes:    1e3,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	})
	return newConsumer(r, topic, batchSize, batchTimeout, handler)
}

func newConsumer(r Fetcher, topic string, batchSize int, batchTimeout time.Duration, handler BatchHandler) *Consumer {
	if batchSize <= 0 {
		batchSize = 1
	}
	if batchTimeout <= 0 {
		batchTimeout = time.Second
	}
	return &Consumer{
		reader:       r,
		handler:      handler,
		batchSize:    batchSize,
		batchTimeout: batchTimeout,
		retryDelay:   time.Second,
		logger:       slog.Default().With("component", "kafka-consumer", "topic", topic),
	}
}

// Start runs the consume loop until ctx is cancelled. A batch closes when it
// reaches the batch size or when the oldest message in it is older than the
// batch timeout. Failed batches are retried after a delay.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started", "batch_size", c.batchSize, "batch_timeout", c.batchTimeout)
	defer c.reader.Close()

	var batch []kafka.Message
	var deadline time.Time
	for {
		if ctx.Err() != nil {
			c.logger.Info("consumer stopping", "reason", ctx.Err(), "unprocessed", len(batch))
			return nil
		}

		fetchCtx := ctx
		cancel := context.CancelFunc(func() {})
		if len(batch) > 0 {
			fetchCtx, cancel = context.WithDeadline(ctx, deadline)
		}
		msg, err := c.reader.FetchMessage(fetchCtx)
		cancel()
		switch {
		case err == nil:
			if len(batch) == 0 {
				deadline = time.Now().Add(c.batchTimeout)
			}
			batch = append(batch, msg)
			if len(batch) < c.batchSize {
				continue
			}
		case ctx.Err() != nil:
			continue
		case errors.Is(err, context.DeadlineExceeded):
		default:
			c.logger.Error("failed to fetch message", "error", err)
			continue
		}

		if len(batch) == 0 {
			continue
		}
		for {
			err := c.process(ctx, batch)
			if err == nil {
				break
			}
			c.logger.Error("failed to process batch", "size", len(batch), "error", err)
			select {
			case <-ctx.Done():
				c.logger.Info("consumer stopping", "reason", ctx.Err(), "unprocessed", len(batch))
				return nil
			case <-time.After(c.retryDelay):
			}
		}
		batch = batch[:0]
	}
}

func (c *Consumer) process(ctx context.Context, batch []kafka.Message) error {
	msgs := make([]Message, len(batch))
	for i, m := range batch {
		msgs[i] = Message{Key: m.Key, Value: m.Value, Partition: m.Partition, Offset: m.Offset}
	}
	if err := c.handler(ctx, msgs); err != nil {
		return err
	}
	if err := c.reader.CommitMessages(ctx, batch...); err != nil {
		return fmt.Errorf("committing %d messages: %w", len(batch), err)
	}
	c.logger.Debug("batch committed",
		"size", len(batch),
		"last_partition", batch[len(batch)-1].Partition,
		"last_offset", batch[len(batch)-1].Offset,
	)
	return nil
}

// DecodeJSON is a generic helper that unmarshals a Kafka message value into T.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, fmt.Errorf("decoding kafka message: %w", err)
	}
	return result, nil
}
