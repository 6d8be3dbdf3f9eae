package event

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/carlosmonteiro/serverless-commerce/internal/domain/shared"
)

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type kafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaTopic publishes to a Kafka topic keyed by ordering key, so every
// message of one order lands on the same partition in publish order.
type KafkaTopic struct {
	topic  string
	writer kafkaWriter
}

// NewKafkaTopic creates a producer for topic.
func NewKafkaTopic(brokers []string, topic string) (*KafkaTopic, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka topic requires at least one broker")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka topic requires a name")
	}
	return &KafkaTopic{
		topic: topic,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			RequiredAcks: kafka.RequireAll,
			Balancer:     &kafka.Hash{},
		},
	}, nil
}

// Publish writes msg with its attributes as record headers.
func (t *KafkaTopic) Publish(ctx context.Context, msg Message) (string, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.PublishedAt.IsZero() {
		msg.PublishedAt = time.Now().UTC()
	}

	headers := make([]kafka.Header, 0, len(msg.Attributes)+1)
	headers = append(headers, kafka.Header{Key: AttrMessageID, Value: []byte(msg.ID)})
	for k, v := range msg.Attributes {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	err := t.writer.WriteMessages(ctx, kafka.Message{
		Topic:   t.topic,
		Key:     []byte(msg.OrderingKey),
		Value:   msg.Body,
		Headers: headers,
		Time:    msg.PublishedAt,
	})
	if err != nil {
		return "", shared.ErrPublish.Wrap(err)
	}
	return msg.ID, nil
}

// Close flushes the producer.
func (t *KafkaTopic) Close() error {
	return t.writer.Close()
}

// KafkaSubscriber reads the topic in a consumer group and feeds a handler.
// Offsets are committed after the handler returns, whatever its outcome:
// failed subscriptions have already been retried by their targets.
type KafkaSubscriber struct {
	reader  kafkaReader
	handler Handler
	logger  *zap.Logger
}

// NewKafkaSubscriber joins groupID on topic.
func NewKafkaSubscriber(brokers []string, groupID, topic string, handler Handler, log *zap.Logger) (*KafkaSubscriber, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka subscriber requires at least one broker")
	}
	if groupID == "" {
		return nil, fmt.Errorf("kafka subscriber requires group id")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		GroupID:     groupID,
		GroupTopics: []string{topic},
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     500 * time.Millisecond,
	})
	return &KafkaSubscriber{reader: reader, handler: handler, logger: log}, nil
}

// Run consumes until ctx is cancelled.
func (s *KafkaSubscriber) Run(ctx context.Context) error {
	for {
		record, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			s.logger.Error("kafka fetch failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		msg := fromKafka(record)
		if err := s.handler(ctx, msg); err != nil {
			s.logger.Warn("kafka message handled with failures",
				zap.String("message_id", msg.ID),
				zap.Int64("offset", record.Offset),
				zap.Error(err),
			)
		}
		if err := s.reader.CommitMessages(ctx, record); err != nil && ctx.Err() == nil {
			s.logger.Error("kafka commit failed", zap.Int64("offset", record.Offset), zap.Error(err))
		}
	}
}

// Close leaves the consumer group.
func (s *KafkaSubscriber) Close() error {
	return s.reader.Close()
}

func fromKafka(record kafka.Message) Message {
	msg := Message{
		Body:        record.Value,
		Attributes:  make(map[string]string, len(record.Headers)),
		OrderingKey: string(record.Key),
		PublishedAt: record.Time,
	}
	for _, h := range record.Headers {
		if h.Key == AttrMessageID {
			msg.ID = string(h.Value)
			continue
		}
		msg.Attributes[h.Key] = string(h.Value)
	}
	return msg
}
