package transport

// Capabilities describes delivery semantics of a transport backend.
type Capabilities struct {
	Name string

	// CompetingConsumers is true when several subscriptions on the same topic
	// share its messages instead of each receiving a copy.
	CompetingConsumers bool

	// Durable is true when queued messages survive a broker restart.
	Durable bool

	SupportsAck  bool
	SupportsNack bool

	// SupportsOrdering indicates in-order delivery within a queue or partition.
	SupportsOrdering bool
}

// SupportsReliableDelivery reports at-least-once delivery (ack + nack).
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

var (
	// ChannelCapabilities for the in-process gochannel transport. Every
	// subscriber receives every message.
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		SupportsAck:      true,
		SupportsNack:     true,
		SupportsOrdering: true,
	}

	RabbitMQCapabilities = Capabilities{
		Name:               "rabbitmq",
		CompetingConsumers: true,
		Durable:            true,
		SupportsAck:        true,
		SupportsNack:       true,
		SupportsOrdering:   true,
	}

	// NATSCapabilities for NATS core with queue groups.
	NATSCapabilities = Capabilities{
		Name:               "nats",
		CompetingConsumers: true,
		SupportsAck:        true,
		SupportsNack:       true,
	}

	KafkaCapabilities = Capabilities{
		Name:               "kafka",
		CompetingConsumers: true,
		Durable:            true,
		SupportsAck:        true,
		SupportsNack:       true,
		SupportsOrdering:   true,
	}
)
