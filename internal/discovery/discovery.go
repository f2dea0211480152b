// Package discovery serves a small read-only HTTP surface describing the
// running adapter: health, identity, counters, consumer workers, recent
// telemetry and Prometheus metrics.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drblury/obpflow/internal/adapter"
	"github.com/drblury/obpflow/internal/consumer"
	"github.com/drblury/obpflow/internal/counter"
	errspkg "github.com/drblury/obpflow/internal/runtime/errors"
	jsoncodec "github.com/drblury/obpflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/obpflow/internal/runtime/logging"
)

const (
	defaultPort       = 8082
	readHeaderTimeout = 5 * time.Second
	storeTimeout      = 3 * time.Second
)

// StatsProvider reports the consumer workers' current statistics.
type StatsProvider func() []consumer.WorkerSnapshot

// Options configures a Server.
type Options struct {
	Logger     loggingpkg.ServiceLogger
	Dispatcher *adapter.Dispatcher
	// Port is used when Addr is empty.
	Port int
	// Addr overrides the listen address, e.g. "127.0.0.1:0".
	Addr           string
	AllowedOrigins []string
}

// Server is the discovery endpoint.
type Server struct {
	logger         loggingpkg.ServiceLogger
	dispatcher     *adapter.Dispatcher
	addr           string
	allowedOrigins []string

	mu        sync.RWMutex
	counters  counter.Store
	consumers StatsProvider
	listener  net.Listener
	server    *http.Server
	served    chan struct{}
}

// New validates opts and builds an unstarted server.
func New(opts Options) (*Server, error) {
	if opts.Dispatcher == nil {
		return nil, errspkg.ErrDispatcherRequired
	}
	logger := opts.Logger
	if logger == nil {
		logger = loggingpkg.Nop()
	}
	addr := opts.Addr
	if addr == "" {
		port := opts.Port
		if port == 0 {
			port = defaultPort
		}
		addr = fmt.Sprintf(":%d", port)
	}
	return &Server{
		logger:         logger,
		dispatcher:     opts.Dispatcher,
		addr:           addr,
		allowedOrigins: opts.AllowedOrigins,
	}, nil
}

// RegisterCounterStore exposes store on /counters.
func (s *Server) RegisterCounterStore(store counter.Store) {
	s.mu.Lock()
	s.counters = store
	s.mu.Unlock()
}

// RegisterConsumerStats exposes provider on /consumers.
func (s *Server) RegisterConsumerStats(provider StatsProvider) {
	s.mu.Lock()
	s.consumers = provider
	s.mu.Unlock()
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.cors)

	r.Get("/health", s.handleHealth)
	r.Get("/adapter", s.handleAdapter)
	r.Get("/counters", s.handleCounters)
	r.Get("/consumers", s.handleConsumers)
	r.Get("/telemetry", s.handleTelemetry)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.dispatcher.Telemetry().Registry(), promhttp.HandlerOpts{}))
	return r
}

// Start binds the listener before returning, so a port conflict fails the
// caller, and then serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return errors.New("discovery endpoint already started")
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("discovery listen on %s: %w", s.addr, err)
	}

	s.listener = ln
	s.server = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: readHeaderTimeout}
	s.served = make(chan struct{})

	s.logger.Info("Starting discovery endpoint", loggingpkg.LogFields{"address": ln.Addr().String()})
	go func(srv *http.Server, done chan struct{}) {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Discovery endpoint stopped", err, loggingpkg.LogFields{"address": ln.Addr().String()})
		}
	}(s.server, s.served)
	return nil
}

// Addr is the bound address once started, the configured one otherwise.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Shutdown stops accepting requests and waits for active ones until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv, done := s.server, s.served
	s.server, s.listener = nil, nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	err := srv.Shutdown(ctx)
	select {
	case <-done:
	case <-ctx.Done():
	}
	s.logger.Info("Discovery endpoint stopped", nil)
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.dispatcher.CheckHealth(r.Context()))
}

func (s *Server) handleAdapter(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.dispatcher.AdapterInfo())
}

func (s *Server) handleCounters(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	store := s.counters
	s.mu.RUnlock()
	if store == nil {
		s.writeError(w, http.StatusNotFound, "counter store disabled")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()
	snapshot, err := store.Snapshot(ctx)
	if err != nil {
		s.logger.Warn("Counter snapshot failed", loggingpkg.LogFields{"error": err.Error()})
		s.writeError(w, http.StatusBadGateway, "counter store unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"counters": snapshot})
}

func (s *Server) handleConsumers(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	provider := s.consumers
	s.mu.RUnlock()
	if provider == nil {
		s.writeError(w, http.StatusNotFound, "consumer not running")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"workers": provider()})
}

func (s *Server) handleTelemetry(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"events": s.dispatcher.Telemetry().Recent()})
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := jsoncodec.Encode(w, v); err != nil {
		s.logger.Error("Failed to encode discovery response", err, nil)
	}
}

// cors sets the Access-Control headers for allowed origins and answers
// preflight requests.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if allowed := s.allowedOrigin(r.Header.Get("Origin")); allowed != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowed)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) allowedOrigin(requestOrigin string) string {
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if requestOrigin != "" && strings.EqualFold(allowed, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}
