package queue

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/smukkama/welfare-notifier/pkg/config"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer writes audit events keyed by dispatch message ID, so every event
// of one dispatch lands on the same partition in order.
type Producer struct {
	writer messageWriter
}

// NewProducer creates a synchronous producer for the audit topic
func NewProducer(cfg config.KafkaConfig) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.TopicAudit,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			// one event per write; don't wait for a batch to fill
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

// Publish writes one event and waits for the brokers to acknowledge it
func (p *Producer) Publish(ctx context.Context, key string, value []byte) error {
	err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: value})
	if err != nil {
		return fmt.Errorf("failed to publish audit event %s: %w", key, err)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// Consumer reads the audit topic as part of the audit writer group. Offsets
// are committed explicitly once events are stored.
type Consumer struct {
	reader *kafka.Reader
}

// NewConsumer joins the audit writer consumer group. A new group starts
// from the oldest retained event so nothing published before the first
// deploy is skipped.
func NewConsumer(cfg config.KafkaConfig) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     cfg.Brokers,
			Topic:       cfg.TopicAudit,
			GroupID:     cfg.ConsumerGroup,
			MaxWait:     cfg.FlushInterval,
			StartOffset: kafka.FirstOffset,
		}),
	}
}

func (c *Consumer) Consume(ctx context.Context) (kafka.Message, error) {
	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to fetch audit event: %w", err)
	}
	return msg, nil
}

func (c *Consumer) Commit(ctx context.Context, msgs ...kafka.Message) error {
	if err := c.reader.CommitMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("failed to commit %d audit events: %w", len(msgs), err)
	}
	return nil
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

func (c *Consumer) Stats() kafka.ReaderStats {
	return c.reader.Stats()
}

// EnsureTopic creates the audit topic on the cluster controller. An existing
// topic is not an error.
func EnsureTopic(ctx context.Context, cfg config.KafkaConfig, partitions, replication int) error {
	if len(cfg.Brokers) == 0 {
		return errors.New("no Kafka brokers configured")
	}

	conn, err := kafka.DialContext(ctx, "tcp", cfg.Brokers[0])
	if err != nil {
		return fmt.Errorf("failed to dial broker: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("failed to find controller: %w", err)
	}

	ctrl, err := kafka.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("failed to dial controller: %w", err)
	}
	defer ctrl.Close()

	err = ctrl.CreateTopics(kafka.TopicConfig{
		Topic:             cfg.TopicAudit,
		NumPartitions:     partitions,
		ReplicationFactor: replication,
	})
	if err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
		return fmt.Errorf("failed to create topic %s: %w", cfg.TopicAudit, err)
	}
	return nil
}
