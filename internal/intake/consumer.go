package intake

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/Aimtara/teachmo-sub002/internal/orchestrator"
	"github.com/Aimtara/teachmo-sub002/internal/signal"
)

// #region config
// Config selects the topic signals arrive on.
type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

// NewReader builds a consumer-group reader for cfg.
func NewReader(cfg Config) (*kafka.Reader, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("signal topic must not be empty")
	}
	if strings.TrimSpace(cfg.GroupID) == "" {
		return nil, errors.New("consumer group must not be empty")
	}
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		Topic:       cfg.Topic,
		StartOffset: kafka.FirstOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     500 * time.Millisecond,
	}), nil
}

// #endregion config

// #region consumer
// MessageReader is the part of *kafka.Reader the consumer needs.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Ingester accepts one signal.
type Ingester interface {
	Ingest(ctx context.Context, sig signal.Signal) (orchestrator.Decision, error)
}

// Consumer feeds signals from Kafka into the engine. A message is committed
// once it was ingested or found invalid; store failures leave it uncommitted
// for redelivery.
type Consumer struct {
	reader MessageReader
	engine Ingester
	log    *logrus.Entry

	processed  atomic.Int64
	invalid    atomic.Int64
	duplicates atomic.Int64
}

// NewConsumer wires a consumer.
func NewConsumer(reader MessageReader, engine Ingester, logger *logrus.Logger) *Consumer {
	return &Consumer{reader: reader, engine: engine, log: logger.WithField("component", "intake")}
}

// Stats reports counts since start.
func (c *Consumer) Stats() (processed, invalid, duplicates int64) {
	return c.processed.Load(), c.invalid.Load(), c.duplicates.Load()
}

// Close closes the reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// #endregion consumer

// #region run
// Run consumes until ctx is cancelled, returning nil in that case.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.Info("signal consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.log.Info("signal consumer stopped")
				return nil
			}
			return fmt.Errorf("fetch message: %w", err)
		}
		if err := c.handle(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) error {
	fields := logrus.Fields{"partition": msg.Partition, "offset": msg.Offset}

	sig, err := signal.Decode(msg.Value)
	if err == nil {
		var d orchestrator.Decision
		d, err = c.engine.Ingest(ctx, sig)
		if err == nil {
			c.processed.Add(1)
			if d.Duplicate {
				c.duplicates.Add(1)
			}
		}
	}
	switch {
	case err == nil:
	case errors.Is(err, signal.ErrInvalid):
		c.invalid.Add(1)
		c.log.WithError(err).WithFields(fields).Warn("skipping invalid signal")
	default:
		return fmt.Errorf("ingest offset %d: %w", msg.Offset, err)
	}

	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		return fmt.Errorf("commit offset %d: %w", msg.Offset, err)
	}
	return nil
}

// #endregion run
