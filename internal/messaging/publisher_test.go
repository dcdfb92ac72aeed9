package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestKafkaPublisher_Publish(t *testing.T) {
	t.Run("SendsKeyedMessage", func(t *testing.T) {
		producer := mocks.NewSyncProducer(t, nil)
		producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
			if string(val) != `{"order_id":"o-1"}` {
				return errors.New("unexpected payload " + string(val))
			}
			return nil
		})

		pub := NewKafkaPublisherWithProducer(producer, zap.NewNop())
		err := pub.Publish(context.Background(), "order.paid", "o-1", json.RawMessage(`{"order_id":"o-1"}`))
		require.NoError(t, err)
		require.NoError(t, pub.Close())
	})

	t.Run("BrokerFailure", func(t *testing.T) {
		producer := mocks.NewSyncProducer(t, nil)
		producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

		pub := NewKafkaPublisherWithProducer(producer, zap.NewNop())
		err := pub.Publish(context.Background(), "order.paid", "o-1", json.RawMessage(`{}`))
		assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
		require.NoError(t, pub.Close())
	})
}

func TestProducerConfig(t *testing.T) {
	cfg := ProducerConfig()
	assert.True(t, cfg.Producer.Idempotent)
	assert.Equal(t, sarama.WaitForAll, cfg.Producer.RequiredAcks)
	assert.Equal(t, 1, cfg.Net.MaxOpenRequests)
	assert.NoError(t, cfg.Validate())
}

func TestLogPublisher(t *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)
	pub := NewLogPublisher(zap.New(core))

	require.NoError(t, pub.Publish(context.Background(), "order.refunded", "o-2", json.RawMessage(`{"a":1}`)))

	logs := observed.TakeAll()
	require.Len(t, logs, 1)
	assert.Equal(t, "order.refunded", logs[0].ContextMap()["topic"])
	assert.NoError(t, pub.Close())
}
