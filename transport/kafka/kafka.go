// Package kafka carries OBP messages over Kafka topics. Adapter instances share
// one consumer group so partitions are spread across them, and replies are
// keyed by correlation id so every message of one OBP exchange lands on the
// same partition.
package kafka

import (
	"context"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/obpflow/internal/runtime/metadata"
	"github.com/drblury/obpflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "kafka"

// ClientID identifies the adapter to the Kafka brokers.
const ClientID = "obp-adapter"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return kafka.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return kafka.NewSubscriber(cfg, logger)
}

func init() {
	Register()
}

// Register adds the Kafka transport to the default registry.
func Register() {
	transport.Register(TransportName, Build, transport.KafkaCapabilities)
}

// PartitionKey keys a message by its correlation id, falling back to the
// message UUID for messages that carry none.
func PartitionKey(_ string, msg *message.Message) (string, error) {
	if id := msg.Metadata.Get(metadata.KeyCorrelationID); id != "" {
		return id, nil
	}
	return msg.UUID, nil
}

// PublisherSaramaConfig waits for all in-sync replicas, so an acknowledged
// payment reply is not lost on broker failover.
func PublisherSaramaConfig() *sarama.Config {
	cfg := kafka.DefaultSaramaSyncPublisherConfig()
	cfg.ClientID = ClientID
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	return cfg
}

// SubscriberSaramaConfig starts a new consumer group at the oldest offset, so
// requests queued before the first adapter joined are still answered.
func SubscriberSaramaConfig() *sarama.Config {
	cfg := kafka.DefaultSaramaSubscriberConfig()
	cfg.ClientID = ClientID
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	return cfg
}

// Build creates a new Kafka transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	brokers := cfg.GetKafkaBrokers()
	consumerGroup := cfg.GetKafkaConsumerGroup()

	publisher, err := PublisherFactory(
		kafka.PublisherConfig{
			Brokers:               brokers,
			Marshaler:             kafka.NewWithPartitioningMarshaler(PartitionKey),
			OverwriteSaramaConfig: PublisherSaramaConfig(),
		},
		logger,
	)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(
		kafka.SubscriberConfig{
			Brokers:               brokers,
			Unmarshaler:           kafka.DefaultMarshaler{},
			ConsumerGroup:         consumerGroup,
			OverwriteSaramaConfig: SubscriberSaramaConfig(),
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.KafkaCapabilities
}
