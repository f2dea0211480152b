// Package transport defines how the adapter obtains the publisher and
// subscriber pair that carries OBP messages. Each broker lives in its own
// sub-package and registers a Builder with the registry under its
// OBP_TRANSPORT name.
package transport

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Transport combines a publisher and subscriber pair produced by a builder.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber

	// Release frees resources shared by the pair, such as a broker
	// connection. Optional.
	Release func() error
}

// Close closes the subscriber, then the publisher, then Release.
func (t Transport) Close() error {
	var errs []error
	if t.Subscriber != nil {
		errs = append(errs, t.Subscriber.Close())
	}
	if t.Publisher != nil && any(t.Publisher) != any(t.Subscriber) {
		errs = append(errs, t.Publisher.Close())
	}
	if t.Release != nil {
		errs = append(errs, t.Release())
	}
	return errors.Join(errs...)
}

// Builder creates a transport from config.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config exposes the settings builders need without depending on the config
// package.
type Config interface {
	// GetTransport returns the registered transport name.
	GetTransport() string

	GetRabbitMQURL() string
	GetNATSURL() string
	GetKafkaBrokers() []string
	GetKafkaConsumerGroup() string

	// GetConsumerWorkers sizes broker-side prefetch and subscriber pools.
	GetConsumerWorkers() int
}
