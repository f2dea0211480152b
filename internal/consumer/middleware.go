package consumer

import (
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	idspkg "github.com/drblury/obpflow/internal/runtime/ids"
	loggingpkg "github.com/drblury/obpflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/obpflow/internal/runtime/metadata"
)

// MiddlewareBuilder constructs a handler middleware for a consumer.
type MiddlewareBuilder func(*Consumer) (message.HandlerMiddleware, error)

// MiddlewareRegistration describes one entry of the router middleware chain.
// A nil middleware returned by Builder is skipped.
type MiddlewareRegistration struct {
	Name       string
	Middleware message.HandlerMiddleware
	Builder    MiddlewareBuilder
}

// RetryConfig tunes the retry middleware. Zero values select defaults.
type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	RetryIf         func(error) bool
}

func (cfg RetryConfig) withDefaults() RetryConfig {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 500 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 5 * time.Second
	}
	return cfg
}

// DefaultMiddlewares returns the chain installed on every consumer router,
// outermost first. The poison queue wraps retry so a message is only parked
// after its retries are exhausted.
func DefaultMiddlewares(retry RetryConfig) []MiddlewareRegistration {
	return []MiddlewareRegistration{
		CorrelationIDMiddleware(),
		LogMessagesMiddleware(),
		TracerMiddleware(),
		PoisonQueueMiddleware(),
		RetryMiddleware(retry),
		RecovererMiddleware(),
	}
}

// CorrelationIDMiddleware stamps a correlation id on messages that arrive
// without one.
func CorrelationIDMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "correlation_id",
		Middleware: func(h message.HandlerFunc) message.HandlerFunc {
			return func(msg *message.Message) ([]*message.Message, error) {
				if msg.Metadata.Get(metadatapkg.KeyCorrelationID) == "" {
					msg.Metadata.Set(metadatapkg.KeyCorrelationID, idspkg.CreateULID())
				}
				return h(msg)
			}
		},
	}
}

// LogMessagesMiddleware logs every inbound message at trace level.
func LogMessagesMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "log_messages",
		Builder: func(c *Consumer) (message.HandlerMiddleware, error) {
			if c.logger == nil {
				return nil, errors.New("log messages middleware requires a logger")
			}
			logger := c.logger
			return func(h message.HandlerFunc) message.HandlerFunc {
				return func(msg *message.Message) ([]*message.Message, error) {
					logger.Trace("Processing message", loggingpkg.LogFields{
						"message_uuid": msg.UUID,
						"payload":      string(msg.Payload),
						"metadata":     msg.Metadata,
					})
					return h(msg)
				}
			}, nil
		},
	}
}

// TracerMiddleware wraps message handling in an OpenTelemetry span.
func TracerMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "tracer",
		Middleware: func(h message.HandlerFunc) message.HandlerFunc {
			return func(msg *message.Message) ([]*message.Message, error) {
				ctx, span := otel.Tracer("obpflow/consumer").Start(msg.Context(), "obp.consume")
				defer span.End()
				msg.SetContext(ctx)

				span.SetAttributes(
					attribute.String("message.uuid", msg.UUID),
					attribute.String("message.correlation_id", msg.Metadata.Get(metadatapkg.KeyCorrelationID)),
				)
				return h(msg)
			}
		},
	}
}

// PoisonQueueMiddleware parks messages whose processing keeps failing on the
// configured poison queue. Disabled when no queue is configured.
func PoisonQueueMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "poison_queue",
		Builder: func(c *Consumer) (message.HandlerMiddleware, error) {
			if c.poisonQueue == "" {
				return nil, nil
			}
			return middleware.PoisonQueue(countingPublisher{Publisher: c.publisher, metrics: c.poison}, c.poisonQueue)
		},
	}
}

// RetryMiddleware retries failed handler executions with exponential backoff.
// Transient backend failures are always retried; RetryIf filters the rest.
func RetryMiddleware(cfg RetryConfig) MiddlewareRegistration {
	normalized := cfg.withDefaults()
	return MiddlewareRegistration{
		Name: "retry",
		Middleware: middleware.Retry{
			MaxRetries:      normalized.MaxRetries,
			InitialInterval: normalized.InitialInterval,
			MaxInterval:     normalized.MaxInterval,
			ShouldRetry: func(params middleware.RetryParams) bool {
				var transient *transientError
				if errors.As(params.Err, &transient) {
					return true
				}
				if normalized.RetryIf != nil {
					return normalized.RetryIf(params.Err)
				}
				return true
			},
		}.Middleware,
	}
}

// RecovererMiddleware turns panics escaping the handler into errors.
func RecovererMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "recoverer",
		Middleware: middleware.Recoverer,
	}
}

func (c *Consumer) registerMiddleware(reg MiddlewareRegistration) error {
	var mw message.HandlerMiddleware
	switch {
	case reg.Middleware != nil:
		mw = reg.Middleware
	case reg.Builder != nil:
		var err error
		mw, err = reg.Builder(c)
		if err != nil {
			return fmt.Errorf("middleware %s: %w", reg.Name, err)
		}
	default:
		return fmt.Errorf("middleware %s: registration requires Middleware or Builder", reg.Name)
	}
	if mw == nil {
		return nil
	}
	c.router.AddMiddleware(mw)
	return nil
}

// registerMetrics decorates the router with the Prometheus collectors shared
// with the telemetry sink.
func (c *Consumer) registerMetrics() {
	if c.metricsRegistry == nil {
		return
	}
	builder := metrics.NewPrometheusMetricsBuilder(c.metricsRegistry, "obpflow", c.capabilities.Name)
	builder.AddPrometheusRouterMetrics(c.router)
}
