package consumer

import (
	"errors"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"
)

// PoisonSnapshot summarises the messages parked on the poison queue.
type PoisonSnapshot struct {
	Queue        string    `json:"queue"`
	Parked       uint64    `json:"parked"`
	LastParkedAt time.Time `json:"last_parked_at,omitempty"`
}

// poisonMetrics counts messages forwarded to the poison queue.
type poisonMetrics struct {
	queue string

	mu           sync.Mutex
	parked       uint64
	lastParkedAt time.Time

	total *prometheus.CounterVec
}

func newPoisonMetrics(queue string, registry *prometheus.Registry) *poisonMetrics {
	pm := &poisonMetrics{queue: queue}
	if registry == nil {
		return pm
	}
	total := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "obpflow",
		Subsystem: "poison",
		Name:      "messages_total",
		Help:      "Messages forwarded to the poison queue after retries were exhausted.",
	}, []string{"queue"})
	if err := registry.Register(total); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			total = already.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return pm
		}
	}
	pm.total = total
	return pm
}

func (pm *poisonMetrics) record(n int) {
	pm.mu.Lock()
	pm.parked += uint64(n)
	pm.lastParkedAt = time.Now().UTC()
	pm.mu.Unlock()
	if pm.total != nil {
		pm.total.WithLabelValues(pm.queue).Add(float64(n))
	}
}

func (pm *poisonMetrics) snapshot() PoisonSnapshot {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return PoisonSnapshot{Queue: pm.queue, Parked: pm.parked, LastParkedAt: pm.lastParkedAt}
}

// countingPublisher records every successful publish to the poison queue.
type countingPublisher struct {
	message.Publisher
	metrics *poisonMetrics
}

func (p countingPublisher) Publish(topic string, messages ...*message.Message) error {
	if err := p.Publisher.Publish(topic, messages...); err != nil {
		return err
	}
	p.metrics.record(len(messages))
	return nil
}
