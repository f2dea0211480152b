// Package obpflow is an Open Bank Project (OBP) message adapter built on
// Watermill. It consumes OBP requests from a queue, routes each one by its
// "process" name to a handler and publishes exactly one reply per request:
// either {"data":…,"messages":[…]} or {"code":…,"message":…,"messages":[…]}.
//
// The handlers bundled here answer with synthetic banking data (a single own
// bank, fixed balances and transactions) so the adapter can be used to test OBP
// deployments without a core banking system. The handler contract (Result,
// Payload, CallContext, HandlerFunc) is exported from this package so a real
// integration can be written against the same shapes.
//
// # Transports
//
// The queue transport is selected with OBP_TRANSPORT:
//   - rabbitmq: durable AMQP queues (default)
//   - nats: core NATS subjects with a queue group
//   - kafka: topics consumed by one consumer group
//   - channel: in-memory Go channels for local runs and tests
//
// # Process
//
// Main loads the configuration from the environment, builds the dispatcher,
// optionally connects the Redis counter store and starts the HTTP discovery
// endpoint, then blocks in the consumer until the context is cancelled.
// Resources are released in reverse order of acquisition on every exit path.
package obpflow
