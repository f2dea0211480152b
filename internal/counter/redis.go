package counter

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	errspkg "github.com/drblury/obpflow/internal/runtime/errors"
)

const pingTimeout = 3 * time.Second

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
	// Adapter scopes the counter hash to one adapter identity.
	Adapter string
}

// hashClient is the subset of *redis.Client the store uses.
type hashClient interface {
	HIncrBy(ctx context.Context, key, field string, incr int64) *redis.IntCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// newClient allows overriding the client construction for testing.
var newClient = func(opts Options) hashClient {
	return redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  pingTimeout,
		ReadTimeout:  pingTimeout,
		WriteTimeout: pingTimeout,
	})
}

// RedisStore keeps counters as fields of one Redis hash per adapter. HINCRBY
// is atomic, so concurrent workers and instances never lose increments.
type RedisStore struct {
	client hashClient
	key    string
}

// HashKey returns the hash holding the counters of adapter.
func HashKey(adapter string) string {
	return "obpflow:" + adapter + ":counters"
}

// Open connects and pings Redis. The client is closed when the ping fails.
func Open(ctx context.Context, opts Options) (*RedisStore, error) {
	client := newClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: ping %s: %w", errspkg.ErrCounterStoreUnavailable, opts.Addr, err)
	}

	return &RedisStore{client: client, key: HashKey(opts.Adapter)}, nil
}

func (s *RedisStore) Increment(ctx context.Context, name string) (int64, error) {
	return s.client.HIncrBy(ctx, s.key, name, 1).Result()
}

func (s *RedisStore) Snapshot(ctx context.Context) (map[string]int64, error) {
	raw, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(raw))
	for field, value := range raw {
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("counter %q: %w", field, err)
		}
		out[field] = n
	}
	return out, nil
}

// Close releases the connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
