package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	RecipientUser     = "user"
	RecipientMerchant = "merchant"
)

const (
	EventOrderConfirmed     = "order.confirmed"
	EventOrderRefunded      = "order.refunded"
	EventWithdrawalApproved = "withdrawal.approved"
	EventWithdrawalRejected = "withdrawal.rejected"
	EventWithdrawalComplete = "withdrawal.completed"
)

// Event is an outbound notification. Delivery is fire-and-forget; nothing
// in the core depends on it arriving.
type Event struct {
	Type          string         `json:"type"`
	RecipientType string         `json:"recipient_type"`
	RecipientID   int64          `json:"recipient_id"`
	Subject       string         `json:"subject"`
	Payload       map[string]any `json:"payload,omitempty"`
	OccurredAt    time.Time      `json:"occurred_at"`
}

func (e Event) key() []byte {
	return []byte(e.RecipientType + ":" + strconv.FormatInt(e.RecipientID, 10))
}

type Dispatcher interface {
	Dispatch(ctx context.Context, e Event) error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaDispatcher publishes events keyed by recipient so one recipient's
// notifications stay ordered on a partition.
type KafkaDispatcher struct {
	writer messageWriter
	logger *zap.Logger
}

func NewKafkaDispatcher(brokers []string, topic string, logger *zap.Logger) *KafkaDispatcher {
	return &KafkaDispatcher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 10 * time.Millisecond,
		},
		logger: logger,
	}
}

func (d *KafkaDispatcher) Dispatch(ctx context.Context, e Event) error {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}

	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal notification event: %w", err)
	}

	err = d.writer.WriteMessages(ctx, kafka.Message{
		Key:   e.key(),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(e.Type)},
		},
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}

	d.logger.Debug("notification published",
		zap.String("type", e.Type),
		zap.String("recipient_type", e.RecipientType),
		zap.Int64("recipient_id", e.RecipientID),
	)
	return nil
}

func (d *KafkaDispatcher) Close() error {
	return d.writer.Close()
}

// LogDispatcher writes events to the log. It is used when no brokers are
// configured.
type LogDispatcher struct {
	logger *zap.Logger
}

func NewLogDispatcher(logger *zap.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger}
}

func (d *LogDispatcher) Dispatch(ctx context.Context, e Event) error {
	d.logger.Info("notification",
		zap.String("type", e.Type),
		zap.String("recipient_type", e.RecipientType),
		zap.Int64("recipient_id", e.RecipientID),
		zap.String("subject", e.Subject),
		zap.Any("payload", e.Payload),
	)
	return nil
}
