// Package app wires the adapter process together: configuration, telemetry,
// the dispatcher, the optional counter store and discovery endpoint, and the
// consumer loop that runs until shutdown.
package app

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/drblury/obpflow/internal/adapter"
	"github.com/drblury/obpflow/internal/consumer"
	"github.com/drblury/obpflow/internal/counter"
	"github.com/drblury/obpflow/internal/discovery"
	"github.com/drblury/obpflow/internal/runtime/config"
	loggingpkg "github.com/drblury/obpflow/internal/runtime/logging"
	"github.com/drblury/obpflow/internal/runtime/telemetry"
	"github.com/drblury/obpflow/transport"
	_ "github.com/drblury/obpflow/transport/transports"
)

const releaseTimeout = 15 * time.Second

// Exit codes returned by Main.
const (
	ExitOK    = 0
	ExitFatal = 1
)

// CounterStore is a counter.Store owning a connection.
type CounterStore interface {
	counter.Store
	Close() error
}

// DiscoveryEndpoint is a started discovery server.
type DiscoveryEndpoint interface {
	RegisterCounterStore(store counter.Store)
	RegisterConsumerStats(provider discovery.StatsProvider)
	Shutdown(ctx context.Context) error
}

// ConsumerParams is everything the consumer loop receives. Counters and
// Discovery are nil when the feature is disabled.
type ConsumerParams struct {
	Config     *config.Config
	Logger     loggingpkg.ServiceLogger
	Dispatcher *adapter.Dispatcher
	Telemetry  *telemetry.Sink
	Counters   counter.Store
	Discovery  DiscoveryEndpoint
}

// Deps are the collaborators of the startup sequence. Zero fields select the
// production implementations.
type Deps struct {
	Output           io.Writer
	LoadConfig       func() (*config.Config, error)
	OpenCounterStore func(ctx context.Context, cfg *config.Config, adapterName string) (CounterStore, error)
	StartDiscovery   func(ctx context.Context, cfg *config.Config, logger loggingpkg.ServiceLogger, d *adapter.Dispatcher) (DiscoveryEndpoint, error)
	RunConsumer      func(ctx context.Context, p ConsumerParams) error
}

func (d Deps) withDefaults() Deps {
	if d.Output == nil {
		d.Output = os.Stderr
	}
	if d.LoadConfig == nil {
		d.LoadConfig = config.Load
	}
	if d.OpenCounterStore == nil {
		d.OpenCounterStore = openRedisStore
	}
	if d.StartDiscovery == nil {
		d.StartDiscovery = startDiscovery
	}
	if d.RunConsumer == nil {
		d.RunConsumer = runConsumer
	}
	return d
}

// Main runs the adapter with the production collaborators and returns the
// process exit code.
func Main(ctx context.Context) int {
	return Run(ctx, Deps{})
}

// Run executes the startup sequence and blocks in the consumer loop. It
// returns ExitOK after a graceful shutdown and ExitFatal on any error, which
// is logged once with its stack trace. Requests in flight when a fatal error
// stops the process get no reply.
func Run(ctx context.Context, deps Deps) int {
	deps = deps.withDefaults()
	logger := loggingpkg.New("info", "json", deps.Output)

	if err := run(ctx, deps, &logger); err != nil {
		logger.Error("Adapter terminated", err, loggingpkg.LogFields{"trace": loggingpkg.StackField(err)})
		return ExitFatal
	}
	logger.Info("Adapter stopped", nil)
	return ExitOK
}

func run(ctx context.Context, deps Deps, logger *loggingpkg.ServiceLogger) (err error) {
	// 1. configuration
	cfg, err := deps.LoadConfig()
	if err != nil {
		return errors.Wrap(err, "load config")
	}
	// 2. validation
	if err := config.ValidateConfig(cfg); err != nil {
		return errors.Wrap(err, "validate config")
	}

	// 3. telemetry
	*logger = loggingpkg.New(cfg.LogLevel, cfg.LogFormat, deps.Output)
	log := *logger
	sink := telemetry.New(telemetry.Options{Logger: log})
	log.Info("Configuration loaded", loggingpkg.LogFields{"config": cfg.String()})

	// 4. adapter
	profile, err := adapter.LoadProfile(cfg.ProfileFile)
	if err != nil {
		return errors.Wrap(err, "load adapter profile")
	}
	dispatcher := adapter.NewDispatcher(profile, sink)

	// 5. self health check
	selfHealthCheck(ctx, dispatcher, log)

	sc := newScope(log)
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if relErr := sc.release(releaseCtx); relErr != nil && err == nil {
			err = errors.Wrap(relErr, "release resources")
		}
	}()

	// 6. counter store
	var store counter.Store
	if cfg.RedisEnabled {
		err := sc.acquire("counter-store", func() (releaseFunc, error) {
			s, err := deps.OpenCounterStore(ctx, cfg, profile.Identity.Name)
			if err != nil {
				return nil, err
			}
			store = s
			return func(context.Context) error { return s.Close() }, nil
		})
		if err != nil {
			return err
		}
	}

	// 7. discovery endpoint
	var endpoint DiscoveryEndpoint
	if cfg.DiscoveryEnabled {
		err := sc.acquire("discovery", func() (releaseFunc, error) {
			ep, err := deps.StartDiscovery(ctx, cfg, log, dispatcher)
			if err != nil {
				return nil, err
			}
			endpoint = ep
			return ep.Shutdown, nil
		})
		if err != nil {
			return err
		}
		if store != nil {
			endpoint.RegisterCounterStore(store)
		}
	}

	// 8. consumer loop
	return errors.WithStack(deps.RunConsumer(ctx, ConsumerParams{
		Config:     cfg,
		Logger:     log,
		Dispatcher: dispatcher,
		Telemetry:  sink,
		Counters:   store,
		Discovery:  endpoint,
	}))
}

// selfHealthCheck never fails startup; a broken check is only reported.
func selfHealthCheck(ctx context.Context, d *adapter.Dispatcher, logger loggingpkg.ServiceLogger) {
	result := d.CheckHealth(ctx)
	if !result.IsSuccess() {
		logger.Warn("Self health check failed", loggingpkg.LogFields{
			"code":    result.Code(),
			"message": result.Message(),
		})
		return
	}
	logger.Info("Self health check passed", loggingpkg.LogFields{"status": result.Data()["status"]})
}

func openRedisStore(ctx context.Context, cfg *config.Config, adapterName string) (CounterStore, error) {
	return counter.Open(ctx, counter.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Adapter:  adapterName,
	})
}

func startDiscovery(ctx context.Context, cfg *config.Config, logger loggingpkg.ServiceLogger, d *adapter.Dispatcher) (DiscoveryEndpoint, error) {
	srv, err := discovery.New(discovery.Options{
		Logger:         logger,
		Dispatcher:     d,
		Port:           cfg.DiscoveryPort,
		AllowedOrigins: cfg.DiscoveryCORSAllowedOrigins,
	})
	if err != nil {
		return nil, err
	}
	if err := srv.Start(ctx); err != nil {
		return nil, err
	}
	return srv, nil
}

// runConsumer builds the configured transport and blocks in the consumer
// until ctx is cancelled or the router fails.
func runConsumer(ctx context.Context, p ConsumerParams) (err error) {
	wmLogger := loggingpkg.NewWatermillAdapter(p.Logger)
	tr, err := transport.Build(ctx, p.Config, wmLogger)
	if err != nil {
		return errors.Wrapf(err, "build %s transport", p.Config.Transport)
	}
	defer func() {
		if closeErr := tr.Close(); closeErr != nil {
			p.Logger.Error("Transport close failed", closeErr, nil)
		}
	}()

	c, err := consumer.New(consumer.Options{
		Logger:        p.Logger,
		Dispatcher:    p.Dispatcher,
		Counters:      p.Counters,
		Transport:     tr,
		Capabilities:  transport.GetCapabilities(p.Config.GetTransport()),
		RequestQueue:  p.Config.RequestQueue,
		ResponseQueue: p.Config.ResponseQueue,
		PoisonQueue:   p.Config.PoisonQueue,
		Workers:       p.Config.ConsumerWorkers,
		Retry: consumer.RetryConfig{
			MaxRetries:      p.Config.RetryMaxRetries,
			InitialInterval: p.Config.RetryInitialInterval,
			MaxInterval:     p.Config.RetryMaxInterval,
		},
		MetricsRegistry: p.Telemetry.Registry(),
	})
	if err != nil {
		return errors.Wrap(err, "create consumer")
	}
	if p.Discovery != nil {
		p.Discovery.RegisterConsumerStats(c.Stats)
	}
	return c.Run(ctx)
}
