package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

type Publisher interface {
	Publish(ctx context.Context, topic string, key string, payload json.RawMessage) error
	Close() error
}

type KafkaPublisher struct {
	producer sarama.SyncProducer
	logger   *zap.Logger
}

func NewKafkaPublisher(brokers []string, logger *zap.Logger) (*KafkaPublisher, error) {
	producer, err := sarama.NewSyncProducer(brokers, ProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return NewKafkaPublisherWithProducer(producer, logger), nil
}

func NewKafkaPublisherWithProducer(producer sarama.SyncProducer, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		producer: producer,
		logger:   logger,
	}
}

// ProducerConfig keeps per-key ordering, so every event of one order lands in sequence.
func ProducerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1
	return config
}

func (p *KafkaPublisher) Publish(ctx context.Context, topic string, key string, payload json.RawMessage) error {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(payload),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.Error("failed to send message",
			zap.Error(err),
			zap.String("topic", topic),
			zap.String("key", key))
		return fmt.Errorf("failed to send message: %w", err)
	}

	p.logger.Debug("message sent",
		zap.String("topic", topic),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))

	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

// LogPublisher writes events to the log instead of a broker.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, topic string, key string, payload json.RawMessage) error {
	p.logger.Info("event published",
		zap.String("topic", topic),
		zap.String("key", key),
		zap.ByteString("payload", payload))
	return nil
}

func (p *LogPublisher) Close() error { return nil }
