package consumers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	kafkaadapter "costwatch/internal/adapters/kafka"
	"costwatch/internal/adapters/retry"
	"costwatch/internal/domain/cost"
	"costwatch/internal/services/engine"
	"costwatch/pkg/errors"
	"costwatch/pkg/logger"
)

// MessageSource is a committing Kafka reader
type MessageSource interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// DeadLetterPublisher receives messages that could not be recorded
type DeadLetterPublisher interface {
	PublishBatch(ctx context.Context, topic string, messages []kafka.Message) error
}

// CostRecorder is the write path of the engine
type CostRecorder interface {
	RecordCost(
		ctx context.Context,
		workUnitID string,
		costType cost.Type,
		amount decimal.Decimal,
		metadata map[string]string,
		opts ...engine.RecordOption,
	) (*cost.Event, error)
}

// CostEventMessage is the JSON payload on the cost events topic
type CostEventMessage struct {
	ID         string            `json:"id"`
	WorkUnitID string            `json:"work_unit_id"`
	OwnerID    string            `json:"owner_id"`
	CostType   string            `json:"cost_type"`
	Amount     decimal.Decimal   `json:"amount"`
	Operation  string            `json:"operation,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// CostEventConsumerConfig tunes processing of one message
type CostEventConsumerConfig struct {
	ProcessTimeout time.Duration
	MaxAttempts    int // storage retries before dead-lettering
	RetryBackoff   time.Duration
	DLQTopic       string
}

// DefaultCostEventConsumerConfig returns the production defaults
func DefaultCostEventConsumerConfig() CostEventConsumerConfig {
	return CostEventConsumerConfig{
		ProcessTimeout: 5 * time.Second,
		MaxAttempts:    5,
		RetryBackoff:   100 * time.Millisecond,
		DLQTopic:       kafkaadapter.TopicCostEventsDLQ,
	}
}

// CostEventConsumer records cost events read from Kafka.
// RecordCost blocks until the write is durable, which throttles the reader
// when storage falls behind.
type CostEventConsumer struct {
	source   MessageSource
	recorder CostRecorder
	dlq      DeadLetterPublisher
	cfg      CostEventConsumerConfig
	retry    *retry.Middleware
	log      *logger.Logger
}

// NewCostEventConsumer creates a new cost event consumer. dlq may be nil.
func NewCostEventConsumer(
	source MessageSource,
	recorder CostRecorder,
	dlq DeadLetterPublisher,
	cfg CostEventConsumerConfig,
	log *logger.Logger,
) *CostEventConsumer {
	if log == nil {
		log = logger.Get()
	}
	return &CostEventConsumer{
		source:   source,
		recorder: recorder,
		dlq:      dlq,
		cfg:      cfg,
		retry: retry.New(retry.Config{
			MaxAttempts:  cfg.MaxAttempts,
			InitialDelay: cfg.RetryBackoff,
			MaxDelay:     cfg.ProcessTimeout,
			Strategy:     retry.StrategyExponential,
			Retryable: func(err error) bool {
				return errors.Is(err, errors.ErrStorage) && !errors.Is(err, errors.ErrInvalidInput)
			},
		}),
		log: log.With("component", "cost_event_consumer"),
	}
}

// Start consumes until ctx is cancelled
func (c *CostEventConsumer) Start(ctx context.Context) error {
	c.log.Info("Starting cost event consumer...")

	defer func() {
		c.log.Info("Closing cost event consumer...")
		if err := c.source.Close(); err != nil {
			c.log.Errorw("Failed to close cost event consumer", "error", err)
		} else {
			c.log.Info("✓ Cost event consumer closed")
		}
	}()

	for {
		msg, err := c.source.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.log.Info("Cost event consumer stopping (context cancelled)")
				return nil
			}
			c.log.Warnw("Failed to read cost event", "error", err)
			if !sleep(ctx, time.Second) {
				return nil
			}
			continue
		}

		// Finish the current message even during shutdown
		processCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.ProcessTimeout*time.Duration(c.cfg.MaxAttempts))
		c.Handle(processCtx, msg)
		if err := c.source.CommitMessages(processCtx, msg); err != nil {
			c.log.Errorw("Failed to commit cost event",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
		}
		cancel()

		if ctx.Err() != nil {
			c.log.Info("Cost event consumer stopping after processing current message")
			return nil
		}
	}
}

// Handle records one message. Messages that cannot be recorded are
// dead-lettered; it reports whether the event was recorded.
func (c *CostEventConsumer) Handle(ctx context.Context, msg kafka.Message) bool {
	var payload CostEventMessage
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		c.deadLetter(ctx, msg, "malformed payload: "+err.Error())
		return false
	}

	costType, err := cost.ParseType(payload.CostType)
	if err != nil {
		c.deadLetter(ctx, msg, err.Error())
		return false
	}

	opts := []engine.RecordOption{
		engine.WithOwner(payload.OwnerID),
		engine.WithOperation(payload.Operation),
	}
	if payload.ID != "" {
		opts = append(opts, engine.WithEventID(payload.ID))
	}
	if !payload.OccurredAt.IsZero() {
		opts = append(opts, engine.WithOccurredAt(payload.OccurredAt))
	}

	var event *cost.Event
	attempts, err := c.retry.Do(ctx, func(ctx context.Context) error {
		var recErr error
		event, recErr = c.recorder.RecordCost(ctx, payload.WorkUnitID, costType, payload.Amount, payload.Metadata, opts...)
		return recErr
	})
	if err != nil {
		c.deadLetter(ctx, msg, err.Error())
		return false
	}

	c.log.Debugw("Cost event recorded",
		"event_id", event.ID,
		"owner_id", event.OwnerID,
		"attempts", attempts,
		"offset", msg.Offset,
	)
	return true
}

func (c *CostEventConsumer) deadLetter(ctx context.Context, msg kafka.Message, reason string) {
	c.log.Warnw("Cost event rejected",
		"partition", msg.Partition,
		"offset", msg.Offset,
		"reason", reason,
	)
	if c.dlq == nil {
		return
	}

	dead := kafka.Message{
		Key:   msg.Key,
		Value: msg.Value,
		Headers: append(append([]kafka.Header{}, msg.Headers...),
			kafka.Header{Key: kafkaadapter.HeaderDLQReason, Value: []byte(reason)},
			kafka.Header{Key: kafkaadapter.HeaderSourceTopic, Value: []byte(msg.Topic)},
		),
	}
	if err := c.dlq.PublishBatch(ctx, c.cfg.DLQTopic, []kafka.Message{dead}); err != nil {
		c.log.Errorw("Failed to dead-letter cost event",
			"offset", msg.Offset,
			"payload", string(msg.Value),
			"error", err,
		)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
