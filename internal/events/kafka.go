package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type KafkaPublisher struct {
	writer *kafka.Writer
}

var _ Publisher = (*KafkaPublisher)(nil)

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
		},
	}
}

// Publish keys messages by asset id so events for one asset stay ordered.
func (p *KafkaPublisher) Publish(ctx context.Context, e AssetEvent) error {
	msg, err := encodeEvent(e)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, msg)
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func encodeEvent(e AssetEvent) (kafka.Message, error) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	val, err := json.Marshal(e)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{Key: []byte(e.ID), Value: val, Time: e.Timestamp}, nil
}

// MessageHandler processes one consumed message. Returned errors are logged
// and the consumer moves on; one bad message never stops the loop.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg kafka.Message) error
}

type MessageHandlerFunc func(ctx context.Context, msg kafka.Message) error

func (f MessageHandlerFunc) HandleMessage(ctx context.Context, msg kafka.Message) error {
	return f(ctx, msg)
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type KafkaConsumer struct {
	reader  messageReader
	handler MessageHandler
	logger  *zap.Logger
	backoff time.Duration
}

func NewKafkaConsumer(brokers []string, topic, groupID string, handler MessageHandler, logger *zap.Logger) *KafkaConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return newConsumer(reader, handler, logger.With(zap.String("topic", topic), zap.String("group", groupID)))
}

func newConsumer(r messageReader, h MessageHandler, logger *zap.Logger) *KafkaConsumer {
	return &KafkaConsumer{reader: r, handler: h, logger: logger, backoff: time.Second}
}

// Run reads messages until ctx is cancelled or the reader is closed.
func (c *KafkaConsumer) Run(ctx context.Context) error {
	c.logger.Info("consumer started")
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopped")
				return nil
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			c.logger.Warn("read message", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.backoff):
			}
			continue
		}

		if err := c.handler.HandleMessage(ctx, msg); err != nil {
			c.logger.Error("handle message",
				zap.ByteString("key", msg.Key),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
		}
	}
}

func (c *KafkaConsumer) Close() error {
	return c.reader.Close()
}
