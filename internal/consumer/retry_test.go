package consumer

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/obpflow/internal/adapter"
	"github.com/drblury/obpflow/internal/counter"
	metadatapkg "github.com/drblury/obpflow/internal/runtime/metadata"
	"github.com/drblury/obpflow/internal/runtime/telemetry"
	"github.com/drblury/obpflow/transport"
)

const codeBackendDown = "OBP-50010"

func flakyDispatcher(calls *atomic.Int32, failures int32) *adapter.Dispatcher {
	flaky := func(_ context.Context, _ adapter.Payload, _ adapter.CallContext) adapter.Result {
		if calls.Add(1) <= failures {
			return adapter.TransientFailure(codeBackendDown, "Core banking system unreachable")
		}
		return adapter.Success(map[string]any{"bankId": "cbs-bank"})
	}
	return adapter.NewDispatcher(adapter.DefaultProfile(), telemetry.New(telemetry.Options{}),
		adapter.WithHandler(adapter.OpGetBank, flaky))
}

func fastRetry(maxRetries int) RetryConfig {
	return RetryConfig{MaxRetries: maxRetries, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

func TestTransientFailureIsRetriedUntilSuccess(t *testing.T) {
	q := newCompetingPubSub()
	t.Cleanup(func() { _ = q.Close() })
	store := counter.NewMemoryStore()
	var calls atomic.Int32

	startConsumer(t, Options{
		Dispatcher:    flakyDispatcher(&calls, 2),
		Counters:      store,
		Transport:     transport.Transport{Publisher: q, Subscriber: q},
		Capabilities:  transport.RabbitMQCapabilities,
		RequestQueue:  requestQueue,
		ResponseQueue: responseQueue,
		Workers:       1,
		Retry:         fastRetry(3),
	})

	require.NoError(t, q.Publish(requestQueue, message.NewMessage("m1", []byte(`{"process":"obp.getBank"}`))))

	_, result := receive(t, q.responses)
	require.True(t, result.IsSuccess())
	assert.Equal(t, "cbs-bank", result.Data()["bankId"])
	assert.Equal(t, int32(3), calls.Load())

	snapshot, err := store.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), snapshot[counter.MessagesTotal], "retries are not counted as new messages")
	assert.Equal(t, int64(1), snapshot[counter.ResultsSuccess])
	assert.Zero(t, snapshot[counter.ResultsError])

	select {
	case extra := <-q.responses:
		t.Fatalf("unexpected second reply %s", extra.Payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestExhaustedTransientFailureIsStillAnswered(t *testing.T) {
	q := newCompetingPubSub()
	t.Cleanup(func() { _ = q.Close() })
	var calls atomic.Int32

	retry := fastRetry(2)
	retry.RetryIf = func(error) bool { return false }

	c := startConsumer(t, Options{
		Dispatcher:    flakyDispatcher(&calls, 100),
		Transport:     transport.Transport{Publisher: q, Subscriber: q},
		Capabilities:  transport.RabbitMQCapabilities,
		RequestQueue:  requestQueue,
		ResponseQueue: responseQueue,
		PoisonQueue:   "obp.poison",
		Workers:       1,
		Retry:         retry,
	})

	require.NoError(t, q.Publish(requestQueue, message.NewMessage("m1", []byte(`{"process":"obp.getBank"}`))))

	out, result := receive(t, q.responses)
	assert.Equal(t, "m1", out.Metadata.Get(metadatapkg.KeyInReplyTo))
	require.False(t, result.IsSuccess())
	assert.Equal(t, codeBackendDown, result.Code())
	assert.Equal(t, int32(3), calls.Load(), "first attempt plus two retries")

	snap, ok := c.Poison()
	require.True(t, ok)
	assert.Zero(t, snap.Parked)
	assert.Equal(t, uint64(3), c.Stats()[0].MessagesFailed)
}

func TestNextAttemptCountsOnTheMessage(t *testing.T) {
	msg := message.NewMessage("m", nil)
	assert.Equal(t, 1, nextAttempt(msg))
	assert.Equal(t, 2, nextAttempt(msg))
	assert.Equal(t, "2", msg.Metadata.Get(metadataKeyAttempt))
}
