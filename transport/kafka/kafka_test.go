package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/obpflow/internal/runtime/metadata"
	"github.com/drblury/obpflow/transport"
)

func TestRegister(t *testing.T) {
	original := transport.DefaultRegistry
	defer func() { transport.DefaultRegistry = original }()
	transport.DefaultRegistry = transport.NewRegistry()
	Register()

	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "kafka", caps.Name)
	assert.True(t, caps.CompetingConsumers)
	assert.Equal(t, transport.KafkaCapabilities, Capabilities())
}

func TestBuild(t *testing.T) {
	origPub, origSub := PublisherFactory, SubscriberFactory
	t.Cleanup(func() { PublisherFactory, SubscriberFactory = origPub, origSub })

	t.Run("passes brokers and consumer group", func(t *testing.T) {
		PublisherFactory = func(cfg kafka.PublisherConfig, _ watermill.LoggerAdapter) (message.Publisher, error) {
			assert.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, cfg.Brokers)
			require.NotNil(t, cfg.OverwriteSaramaConfig)
			assert.Equal(t, sarama.WaitForAll, cfg.OverwriteSaramaConfig.Producer.RequiredAcks)

			msg := message.NewMessage("msg-1", []byte(`{}`))
			msg.Metadata.Set(metadata.KeyCorrelationID, "corr-7")
			produced, err := cfg.Marshaler.Marshal("obp.response", msg)
			require.NoError(t, err)
			require.NotNil(t, produced.Key)
			key, err := produced.Key.Encode()
			require.NoError(t, err)
			assert.Equal(t, "corr-7", string(key))
			return &mockPublisher{}, nil
		}
		SubscriberFactory = func(cfg kafka.SubscriberConfig, _ watermill.LoggerAdapter) (message.Subscriber, error) {
			assert.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, cfg.Brokers)
			assert.Equal(t, "obp-adapter", cfg.ConsumerGroup)
			require.NotNil(t, cfg.OverwriteSaramaConfig)
			assert.Equal(t, sarama.OffsetOldest, cfg.OverwriteSaramaConfig.Consumer.Offsets.Initial)
			assert.Equal(t, ClientID, cfg.OverwriteSaramaConfig.ClientID)
			return &mockSubscriber{}, nil
		}

		cfg := &mockConfig{brokers: []string{"broker-1:9092", "broker-2:9092"}, group: "obp-adapter"}
		tr, err := Build(context.Background(), cfg, watermill.NopLogger{})
		require.NoError(t, err)
		assert.NotNil(t, tr.Publisher)
		assert.NotNil(t, tr.Subscriber)
	})

	t.Run("closes publisher on subscriber error", func(t *testing.T) {
		pub := &mockPublisher{}
		PublisherFactory = func(kafka.PublisherConfig, watermill.LoggerAdapter) (message.Publisher, error) {
			return pub, nil
		}
		SubscriberFactory = func(kafka.SubscriberConfig, watermill.LoggerAdapter) (message.Subscriber, error) {
			return nil, errors.New("subscriber error")
		}

		_, err := Build(context.Background(), &mockConfig{}, watermill.NopLogger{})
		assert.ErrorContains(t, err, "subscriber error")
		assert.True(t, pub.closed)
	})

	t.Run("returns publisher error", func(t *testing.T) {
		PublisherFactory = func(kafka.PublisherConfig, watermill.LoggerAdapter) (message.Publisher, error) {
			return nil, errors.New("publisher error")
		}
		_, err := Build(context.Background(), &mockConfig{}, watermill.NopLogger{})
		assert.ErrorContains(t, err, "publisher error")
	})
}

func TestPartitionKey(t *testing.T) {
	msg := message.NewMessage("msg-uuid", nil)
	key, err := PartitionKey("obp.response", msg)
	require.NoError(t, err)
	assert.Equal(t, "msg-uuid", key, "falls back to the message UUID")

	msg.Metadata.Set(metadata.KeyCorrelationID, "corr-1")
	key, err = PartitionKey("obp.response", msg)
	require.NoError(t, err)
	assert.Equal(t, "corr-1", key)
}

type mockConfig struct {
	brokers []string
	group   string
}

func (m *mockConfig) GetTransport() string          { return TransportName }
func (m *mockConfig) GetKafkaBrokers() []string     { return m.brokers }
func (m *mockConfig) GetKafkaConsumerGroup() string { return m.group }
func (m *mockConfig) GetRabbitMQURL() string        { return "" }
func (m *mockConfig) GetNATSURL() string            { return "" }
func (m *mockConfig) GetConsumerWorkers() int       { return 1 }

type mockPublisher struct{ closed bool }

func (m *mockPublisher) Publish(string, ...*message.Message) error { return nil }
func (m *mockPublisher) Close() error                              { m.closed = true; return nil }

type mockSubscriber struct{}

func (m *mockSubscriber) Subscribe(context.Context, string) (<-chan *message.Message, error) {
	return make(chan *message.Message), nil
}
func (m *mockSubscriber) Close() error { return nil }
