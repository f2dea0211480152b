// Package consumer runs the blocking message loop: competing router handlers
// take OBP requests off the request queue, dispatch them and publish the
// encoded Result to the response queue.
package consumer

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/drblury/obpflow/internal/adapter"
	"github.com/drblury/obpflow/internal/counter"
	errspkg "github.com/drblury/obpflow/internal/runtime/errors"
	idspkg "github.com/drblury/obpflow/internal/runtime/ids"
	jsoncodec "github.com/drblury/obpflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/obpflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/obpflow/internal/runtime/metadata"
	"github.com/drblury/obpflow/transport"
)

const counterTimeout = 2 * time.Second

// metadataKeyAttempt tracks handler executions of one inbound message.
const metadataKeyAttempt = "obp_attempt"

// Options configures a Consumer. Dispatcher, Transport and both queues are
// required.
type Options struct {
	Logger     loggingpkg.ServiceLogger
	Dispatcher *adapter.Dispatcher
	// Counters is optional; increments are skipped when nil.
	Counters counter.Store

	Transport    transport.Transport
	Capabilities transport.Capabilities

	RequestQueue  string
	ResponseQueue string
	PoisonQueue   string
	Workers       int
	Retry         RetryConfig

	// MetricsRegistry receives the router metrics. Nil disables them.
	MetricsRegistry *prometheus.Registry
	// Middlewares are appended after the default chain.
	Middlewares []MiddlewareRegistration
	// CloseTimeout bounds how long Run waits for in-flight handlers.
	CloseTimeout time.Duration
}

// Consumer owns the watermill router serving the request queue.
type Consumer struct {
	logger       loggingpkg.ServiceLogger
	dispatcher   *adapter.Dispatcher
	counters     counter.Store
	capabilities transport.Capabilities

	publisher     message.Publisher
	subscriber    message.Subscriber
	requestQueue  string
	responseQueue string
	poisonQueue   string

	metricsRegistry *prometheus.Registry
	router          *message.Router
	workers         []*workerStats
	poison          *poisonMetrics
	maxRetries      int
}

// New builds the router, its middleware chain and one handler per worker.
func New(opts Options) (*Consumer, error) {
	switch {
	case opts.Dispatcher == nil:
		return nil, errspkg.ErrDispatcherRequired
	case opts.Transport.Publisher == nil:
		return nil, errspkg.ErrPublisherRequired
	case opts.Transport.Subscriber == nil:
		return nil, errspkg.ErrSubscriberRequired
	case opts.RequestQueue == "":
		return nil, errspkg.ErrRequestQueueRequired
	case opts.ResponseQueue == "":
		return nil, errspkg.ErrResponseQueueRequired
	}

	logger := opts.Logger
	if logger == nil {
		logger = loggingpkg.Nop()
	}
	closeTimeout := opts.CloseTimeout
	if closeTimeout <= 0 {
		closeTimeout = 30 * time.Second
	}

	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: closeTimeout}, loggingpkg.NewWatermillAdapter(logger))
	if err != nil {
		return nil, fmt.Errorf("create router: %w", err)
	}

	c := &Consumer{
		logger:          logger,
		dispatcher:      opts.Dispatcher,
		counters:        opts.Counters,
		capabilities:    opts.Capabilities,
		publisher:       opts.Transport.Publisher,
		subscriber:      opts.Transport.Subscriber,
		requestQueue:    opts.RequestQueue,
		responseQueue:   opts.ResponseQueue,
		poisonQueue:     opts.PoisonQueue,
		metricsRegistry: opts.MetricsRegistry,
		router:          router,
		maxRetries:      opts.Retry.withDefaults().MaxRetries,
	}
	if c.poisonQueue != "" {
		c.poison = newPoisonMetrics(c.poisonQueue, c.metricsRegistry)
	}

	c.registerMetrics()
	registrations := append(DefaultMiddlewares(opts.Retry), opts.Middlewares...)
	for _, reg := range registrations {
		if err := c.registerMiddleware(reg); err != nil {
			return nil, err
		}
	}

	workers := c.effectiveWorkers(opts.Workers)
	for i := 0; i < workers; i++ {
		name := fmt.Sprintf("obp-worker-%d", i+1)
		stats := newWorkerStats(name, c.requestQueue, c.responseQueue)
		c.workers = append(c.workers, stats)
		router.AddHandler(name, c.requestQueue, c.subscriber, c.responseQueue, c.publisher, c.handler(stats))
	}

	logger.Info("Consumer configured", loggingpkg.LogFields{
		"transport":      c.capabilities.Name,
		"request_queue":  c.requestQueue,
		"response_queue": c.responseQueue,
		"poison_queue":   c.poisonQueue,
		"workers":        workers,
	})
	return c, nil
}

// effectiveWorkers falls back to a single handler on transports that fan out
// every message to every subscriber.
func (c *Consumer) effectiveWorkers(requested int) int {
	if requested < 1 {
		requested = 1
	}
	if requested > 1 && !c.capabilities.CompetingConsumers {
		c.logger.Warn("Transport does not share messages between subscribers; running a single worker", loggingpkg.LogFields{
			"transport": c.capabilities.Name,
			"requested": requested,
		})
		return 1
	}
	return requested
}

// Run blocks until ctx is cancelled (nil) or the router fails (error).
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("Consumer starting", loggingpkg.LogFields{"request_queue": c.requestQueue})
	if err := c.router.Run(ctx); err != nil {
		return fmt.Errorf("consumer router: %w", err)
	}
	c.logger.Info("Consumer stopped", nil)
	return nil
}

// Running is closed once every handler is subscribed.
func (c *Consumer) Running() chan struct{} {
	return c.router.Running()
}

// Close stops the router without waiting for Run's context.
func (c *Consumer) Close() error {
	return c.router.Close()
}

// Stats returns a snapshot per worker, in worker order.
func (c *Consumer) Stats() []WorkerSnapshot {
	out := make([]WorkerSnapshot, 0, len(c.workers))
	for _, w := range c.workers {
		out = append(out, w.snapshot())
	}
	return out
}

// Poison reports the poison queue counters. ok is false when no poison queue
// is configured.
func (c *Consumer) Poison() (PoisonSnapshot, bool) {
	if c.poison == nil {
		return PoisonSnapshot{}, false
	}
	return c.poison.snapshot(), true
}

func (c *Consumer) handler(stats *workerStats) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		start := time.Now()
		stats.begin()

		attempt := nextAttempt(msg)
		operation, correlationID, result := c.process(msg, attempt)

		if result.Transient() && attempt <= c.maxRetries {
			stats.finish(operation, time.Since(start), true, result.Code()+" "+result.Message())
			return nil, &transientError{operation: operation, attempt: attempt, result: result}
		}
		c.countResult(msg.Context(), result)

		out, err := c.reply(msg, operation, correlationID, result)
		errText := ""
		if err != nil {
			errText = err.Error()
		} else if !result.IsSuccess() {
			errText = result.Code() + " " + result.Message()
		}
		stats.finish(operation, time.Since(start), err != nil || !result.IsSuccess(), errText)
		if err != nil {
			return nil, err
		}
		return []*message.Message{out}, nil
	}
}

// transientError hands a retryable backend failure to the retry middleware.
// Once the retries are used up the failure is sent as the reply.
type transientError struct {
	operation string
	attempt   int
	result    adapter.Result
}

func (e *transientError) Error() string {
	return fmt.Sprintf("%s attempt %d: %s %s", e.operation, e.attempt, e.result.Code(), e.result.Message())
}

// nextAttempt counts handler executions of msg. The retry middleware hands the
// same message back, so the count survives between attempts.
func nextAttempt(msg *message.Message) int {
	attempt, _ := strconv.Atoi(msg.Metadata.Get(metadataKeyAttempt))
	attempt++
	msg.Metadata.Set(metadataKeyAttempt, strconv.Itoa(attempt))
	return attempt
}

// process decodes and dispatches one inbound message. Undecodable bodies
// still produce an error Result so the caller always gets a reply. Message
// counters are only bumped on the first attempt.
func (c *Consumer) process(msg *message.Message, attempt int) (string, string, adapter.Result) {
	ctx := msg.Context()
	req, err := adapter.DecodeRequest(msg.Payload)
	if err != nil {
		correlationID := msg.Metadata.Get(metadatapkg.KeyCorrelationID)
		c.logger.Warn("Rejecting undecodable message", loggingpkg.LogFields{
			"message_uuid":   msg.UUID,
			"correlation_id": correlationID,
			"error":          err.Error(),
		})
		c.count(ctx, counter.MessagesTotal)
		return "", correlationID, invalidJSON(c.dispatcher.Profile().Identity.Name, err)
	}

	if req.Context.CorrelationID == "" {
		req.Context.CorrelationID = msg.Metadata.Get(metadatapkg.KeyCorrelationID)
	}

	if attempt == 1 {
		c.count(ctx, counter.MessagesTotal)
		c.count(ctx, counter.OperationCounter(c.counterOperation(req.Operation)))
	}

	return req.Operation, req.Context.CorrelationID, c.dispatcher.Handle(ctx, req)
}

func (c *Consumer) countResult(ctx context.Context, result adapter.Result) {
	if result.IsSuccess() {
		c.count(ctx, counter.ResultsSuccess)
		return
	}
	c.count(ctx, counter.ResultsError)
}

// counterOperation keeps the counter key space bounded: unknown names share
// one counter.
func (c *Consumer) counterOperation(operation string) string {
	if operation == adapter.OpCheckHealth {
		return operation
	}
	if _, ok := c.dispatcher.Registry().Lookup(operation); ok {
		return operation
	}
	return "unsupported"
}

func (c *Consumer) count(ctx context.Context, name string) {
	if c.counters == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, counterTimeout)
	defer cancel()
	if _, err := c.counters.Increment(ctx, name); err != nil {
		c.logger.Warn("Counter increment failed", loggingpkg.LogFields{"counter": name, "error": err.Error()})
	}
}

func (c *Consumer) reply(in *message.Message, operation, correlationID string, result adapter.Result) (*message.Message, error) {
	body, err := jsoncodec.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode result for %s: %w", operation, err)
	}
	out := message.NewMessage(idspkg.CreateULID(), body)
	out.Metadata = metadatapkg.ToWatermill(metadatapkg.Metadata{
		metadatapkg.KeyCorrelationID: correlationID,
		metadatapkg.KeyOperation:     operation,
		metadatapkg.KeyResultKind:    result.Kind().String(),
		metadatapkg.KeyAdapter:       c.dispatcher.Profile().Identity.Name,
		metadatapkg.KeyInReplyTo:     in.UUID,
	})
	return out, nil
}

func invalidJSON(source string, err error) adapter.Result {
	text := "Invalid JSON message: " + err.Error()
	return adapter.Failure(adapter.CodeInvalidJSON, text, adapter.BackendMessage{
		Source:    source,
		Status:    adapter.StatusError,
		ErrorCode: "INVALID_JSON",
		Text:      text,
	})
}
