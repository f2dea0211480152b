package adapter

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/drblury/obpflow/internal/runtime/telemetry"
)

// HealthStatusHealthy is reported by CheckHealth.
const HealthStatusHealthy = "healthy"

// Dispatcher routes operation names to handlers. It holds no mutable state and
// is safe for concurrent use.
type Dispatcher struct {
	profile   Profile
	telemetry *telemetry.Sink
	handlers  *handlerSet
	registry  *Registry
	now       func() time.Time
}

// Option customises a Dispatcher.
type Option func(routes map[string]HandlerFunc)

// WithHandler adds or replaces the handler of one operation, e.g. to call a
// real core banking backend instead of the built-in data. obp.checkHealth is
// always answered by CheckHealth.
func WithHandler(operation string, fn HandlerFunc) Option {
	return func(routes map[string]HandlerFunc) {
		routes[operation] = fn
	}
}

// NewDispatcher builds the registry over the built-in handlers and any
// overrides. A nil sink is replaced by a private one.
func NewDispatcher(profile Profile, sink *telemetry.Sink, opts ...Option) *Dispatcher {
	if sink == nil {
		sink = telemetry.New(telemetry.Options{})
	}
	handlers := newHandlerSet(profile, sink)
	routes := handlers.routes()
	for _, opt := range opts {
		opt(routes)
	}
	return &Dispatcher{
		profile:   profile,
		telemetry: sink,
		handlers:  handlers,
		registry:  NewRegistry(routes),
		now:       time.Now,
	}
}

func (d *Dispatcher) Profile() Profile            { return d.profile }
func (d *Dispatcher) Telemetry() *telemetry.Sink  { return d.telemetry }
func (d *Dispatcher) Registry() *Registry         { return d.registry }
func (d *Dispatcher) AdapterInfo() map[string]any { return d.handlers.adapterInfo() }

// Handle dispatches a decoded request.
func (d *Dispatcher) Handle(ctx context.Context, req Request) Result {
	return d.Dispatch(ctx, req.Operation, req.Payload, req.Context)
}

// Dispatch routes one request. It always returns a Result: unknown names yield
// OBP-50000 and handler panics yield OBP-50001.
func (d *Dispatcher) Dispatch(ctx context.Context, operation string, payload Payload, cc CallContext) Result {
	d.telemetry.DispatchStarted(operation, cc.CorrelationID)

	if operation == OpCheckHealth {
		return d.CheckHealth(ctx)
	}

	handler, ok := d.registry.Lookup(operation)
	if !ok {
		d.telemetry.UnsupportedOperation(operation, cc.CorrelationID)
		return notImplemented(d.profile.Identity.Name, operation)
	}

	ctx, span := d.telemetry.StartSpan(ctx, operation, cc.CorrelationID)
	defer span.End()

	start := d.now()
	result := d.invoke(ctx, operation, handler, payload, cc)
	elapsed := d.now().Sub(start)

	outcome := telemetry.OutcomeSuccess
	if !result.IsSuccess() {
		outcome = telemetry.OutcomeError
		span.SetStatus(codes.Error, result.Code())
	}
	d.telemetry.DispatchFinished(operation, cc.CorrelationID, outcome, result.Code(), elapsed)
	return result
}

func (d *Dispatcher) invoke(ctx context.Context, operation string, handler HandlerFunc, payload Payload, cc CallContext) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			d.telemetry.HandlerPanicked(operation, cc.CorrelationID, r, string(debug.Stack()))
			result = Failure(CodeUnknownError, fmt.Sprintf("Internal error while handling %s", operation), BackendMessage{
				Source:    d.profile.Identity.Name,
				Status:    StatusError,
				ErrorCode: "INTERNAL_ERROR",
				Text:      fmt.Sprint(r),
			})
		}
	}()
	result = handler(ctx, payload, cc)
	if result.Kind() != KindSuccess && result.Kind() != KindError {
		return Failure(CodeUnknownError, fmt.Sprintf("Handler for %s returned no result", operation))
	}
	return result
}

func notImplemented(source, operation string) Result {
	text := "Message type not implemented: " + operation
	return Failure(CodeNotImplemented, text, BackendMessage{
		Source:    source,
		Status:    StatusError,
		ErrorCode: "NOT_IMPLEMENTED",
		Text:      text,
	})
}

// CheckHealth reports liveness. It always succeeds.
func (d *Dispatcher) CheckHealth(_ context.Context) Result {
	identity := d.profile.Identity
	d.telemetry.Record(telemetry.Event{
		Level:     telemetry.LevelDebug,
		Name:      telemetry.EventHealthCheck,
		Operation: OpCheckHealth,
	})
	return Success(map[string]any{
		"status":    HealthStatusHealthy,
		"message":   identity.Name + " is running",
		"adapter":   identity.Name,
		"version":   identity.Version,
		"timestamp": d.now().UTC().Format(time.RFC3339),
	}, BackendMessage{
		Source: identity.Name,
		Status: StatusSuccess,
		Text:   "health check",
	})
}
