// Package telemetry is the process-wide sink that observes every dispatch.
//
// Each recorded Event is written to the service logger at its level, kept in a
// bounded in-memory trail for the discovery endpoint, and folded into
// Prometheus collectors. Spans are started through the global OpenTelemetry
// tracer provider.
package telemetry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	loggingpkg "github.com/drblury/obpflow/internal/runtime/logging"
)

const (
	defaultCapacity = 256
	tracerName      = "obpflow/dispatcher"
	namespace       = "obpflow"
)

// Level is the severity attached to an Event.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Event names emitted by the adapter.
const (
	EventDispatch             = "dispatch"
	EventDispatchDone         = "dispatch.done"
	EventUnsupportedOperation = "dispatch.unsupported"
	EventHandlerPanic         = "dispatch.panic"
	EventPaymentSucceeded     = "payment.succeeded"
	EventHealthCheck          = "health.check"
)

// Outcome labels for the dispatch counter.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Event is one entry of the telemetry trail.
type Event struct {
	At            time.Time      `json:"at"`
	Level         Level          `json:"level"`
	Name          string         `json:"name"`
	Operation     string         `json:"operation,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Fields        map[string]any `json:"fields,omitempty"`
}

// Options configures a Sink. Zero values select sensible defaults.
type Options struct {
	Logger loggingpkg.ServiceLogger
	// Registry receives the collectors. A private registry is created when nil.
	Registry *prometheus.Registry
	// Capacity bounds the in-memory trail.
	Capacity int
}

// Sink records telemetry events. It is safe for concurrent use.
type Sink struct {
	logger   loggingpkg.ServiceLogger
	registry *prometheus.Registry
	tracer   trace.Tracer

	mu       sync.Mutex
	trail    []Event
	next     int
	wrapped  bool
	capacity int

	dispatchTotal    *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	unsupportedTotal prometheus.Counter
	paymentsTotal    *prometheus.CounterVec
}

// New constructs a Sink. It never fails: collectors that are already present
// on the registry are reused.
func New(opts Options) *Sink {
	logger := opts.Logger
	if logger == nil {
		logger = loggingpkg.Nop()
	}
	registry := opts.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	capacity := opts.Capacity
	if capacity <= 0 {
		capacity = defaultCapacity
	}

	s := &Sink{
		logger:   logger,
		registry: registry,
		tracer:   otel.Tracer(tracerName),
		trail:    make([]Event, capacity),
		capacity: capacity,
	}

	s.dispatchTotal = register(registry, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dispatch_total",
		Help:      "Dispatched OBP operations by outcome.",
	}, []string{"operation", "outcome"}))
	s.dispatchDuration = register(registry, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "dispatch_duration_seconds",
		Help:      "Handler execution time per OBP operation.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
	}, []string{"operation"}))
	s.unsupportedTotal = register(registry, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "unsupported_total",
		Help:      "Messages naming an operation the adapter does not implement.",
	}))
	s.paymentsTotal = register(registry, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "payments_total",
		Help:      "Completed payments by currency.",
	}, []string{"currency"}))

	return s
}

func register[C prometheus.Collector](registry *prometheus.Registry, c C) C {
	if err := registry.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

// Logger returns the service logger events are written to.
func (s *Sink) Logger() loggingpkg.ServiceLogger {
	return s.logger
}

// Registry exposes the Prometheus registry holding the sink's collectors.
func (s *Sink) Registry() *prometheus.Registry {
	return s.registry
}

// Record appends ev to the trail and logs it.
func (s *Sink) Record(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	if ev.Level == "" {
		ev.Level = LevelInfo
	}

	s.mu.Lock()
	s.trail[s.next] = ev
	s.next = (s.next + 1) % s.capacity
	if s.next == 0 {
		s.wrapped = true
	}
	s.mu.Unlock()

	s.log(ev)
}

func (s *Sink) log(ev Event) {
	fields := loggingpkg.LogFields{"event": ev.Name}
	if ev.Operation != "" {
		fields["operation"] = ev.Operation
	}
	if ev.CorrelationID != "" {
		fields["correlation_id"] = ev.CorrelationID
	}
	for k, v := range ev.Fields {
		fields[k] = v
	}

	switch ev.Level {
	case LevelDebug:
		s.logger.Debug(ev.Name, fields)
	case LevelWarn:
		s.logger.Warn(ev.Name, fields)
	case LevelError:
		var err error
		if e, ok := ev.Fields["error"].(error); ok {
			err = e
		}
		s.logger.Error(ev.Name, err, fields)
	default:
		s.logger.Info(ev.Name, fields)
	}
}

// Recent returns the trail, oldest first.
func (s *Sink) Recent() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.wrapped {
		out := make([]Event, s.next)
		copy(out, s.trail[:s.next])
		return out
	}
	out := make([]Event, 0, s.capacity)
	out = append(out, s.trail[s.next:]...)
	out = append(out, s.trail[:s.next]...)
	return out
}

// DispatchStarted records that an operation is about to be routed.
func (s *Sink) DispatchStarted(operation, correlationID string) {
	s.Record(Event{
		Level:         LevelDebug,
		Name:          EventDispatch,
		Operation:     operation,
		CorrelationID: correlationID,
	})
}

// DispatchFinished records the outcome of a routed operation.
func (s *Sink) DispatchFinished(operation, correlationID, outcome, code string, elapsed time.Duration) {
	s.dispatchTotal.WithLabelValues(operation, outcome).Inc()
	s.dispatchDuration.WithLabelValues(operation).Observe(elapsed.Seconds())

	fields := map[string]any{"outcome": outcome, "duration_ms": elapsed.Milliseconds()}
	if code != "" {
		fields["code"] = code
	}
	s.Record(Event{
		Level:         LevelDebug,
		Name:          EventDispatchDone,
		Operation:     operation,
		CorrelationID: correlationID,
		Fields:        fields,
	})
}

// UnsupportedOperation records a dispatch for a name missing from the registry.
// The label set of the dispatch counter stays bounded: unknown names are not
// used as label values.
func (s *Sink) UnsupportedOperation(operation, correlationID string) {
	s.unsupportedTotal.Inc()
	s.Record(Event{
		Level:         LevelWarn,
		Name:          EventUnsupportedOperation,
		Operation:     operation,
		CorrelationID: correlationID,
	})
}

// HandlerPanicked records a recovered handler panic.
func (s *Sink) HandlerPanicked(operation, correlationID string, recovered any, stack string) {
	s.Record(Event{
		Level:         LevelError,
		Name:          EventHandlerPanic,
		Operation:     operation,
		CorrelationID: correlationID,
		Fields:        map[string]any{"panic": recovered, "stack": stack},
	})
}

// PaymentSucceeded records a completed payment.
func (s *Sink) PaymentSucceeded(correlationID, transactionID, amount, currency string) {
	s.paymentsTotal.WithLabelValues(currency).Inc()
	s.Record(Event{
		Level:         LevelInfo,
		Name:          EventPaymentSucceeded,
		Operation:     "obp.makePayment",
		CorrelationID: correlationID,
		Fields: map[string]any{
			"transaction_id": transactionID,
			"amount":         amount,
			"currency":       currency,
		},
	})
}

// StartSpan opens a span for an operation dispatch.
func (s *Sink) StartSpan(ctx context.Context, operation, correlationID string) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.tracer.Start(ctx, "obp.dispatch",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("obp.operation", operation),
			attribute.String("obp.correlation_id", correlationID),
		),
	)
}
