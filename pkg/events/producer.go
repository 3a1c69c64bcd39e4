package events

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/uhyunpark/tulipdesk/pkg/app/orders"
)

// Message headers set on every event.
const (
	HeaderDedupID     = "dedup-id"
	HeaderContentType = "content-type"
)

const dedupCacheSize = 100_000

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes order events to Kafka. Messages with the same partition
// key land on the same partition, which keeps them ordered; a dedup id seen
// within the window is acknowledged without being written again.
type Producer struct {
	writer messageWriter
	seen   *expirable.LRU[string, struct{}]
	logger *zap.SugaredLogger
}

func NewProducer(brokers []string, topic string, dedupWindow time.Duration, logger *zap.SugaredLogger) *Producer {
	return newProducer(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 5 * time.Second,
		MaxAttempts:  3,
	}, dedupWindow, logger)
}

func newProducer(w messageWriter, dedupWindow time.Duration, logger *zap.SugaredLogger) *Producer {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Producer{
		writer: w,
		seen:   expirable.NewLRU[string, struct{}](dedupCacheSize, nil, dedupWindow),
		logger: logger,
	}
}

func (p *Producer) Send(ctx context.Context, partitionKey, dedupID string, payload []byte) error {
	if _, seen := p.seen.Get(dedupID); dedupID != "" && seen {
		p.logger.Debugw("event_deduplicated", "dedupId", dedupID, "partition", partitionKey)
		return nil
	}

	err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(partitionKey),
		Value: payload,
		Headers: []kafka.Header{
			{Key: HeaderDedupID, Value: []byte(dedupID)},
			{Key: HeaderContentType, Value: []byte("application/json")},
		},
	})
	if err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	if dedupID != "" {
		p.seen.Add(dedupID, struct{}{})
	}
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

var _ orders.Publisher = (*Producer)(nil)
