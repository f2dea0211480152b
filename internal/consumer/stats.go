package consumer

import (
	"math"
	"sort"
	"sync"
	"time"
)

const latencySampleSize = 256

// LatencyMetrics summarises recent handler latencies.
type LatencyMetrics struct {
	AverageNs  int64 `json:"average_ns"`
	P50Ns      int64 `json:"p50_ns"`
	P95Ns      int64 `json:"p95_ns"`
	P99Ns      int64 `json:"p99_ns"`
	LastNs     int64 `json:"last_ns"`
	SampleSize int   `json:"sample_size"`
}

// WorkerSnapshot is a point-in-time copy of one worker's statistics.
type WorkerSnapshot struct {
	Name              string         `json:"name"`
	ConsumeQueue      string         `json:"consume_queue"`
	PublishQueue      string         `json:"publish_queue"`
	MessagesProcessed uint64         `json:"messages_processed"`
	MessagesFailed    uint64         `json:"messages_failed"`
	InFlight          uint64         `json:"in_flight"`
	LastProcessedAt   time.Time      `json:"last_processed_at"`
	LastOperation     string         `json:"last_operation,omitempty"`
	LastError         string         `json:"last_error,omitempty"`
	Latency           LatencyMetrics `json:"latency"`
}

// workerStats accumulates statistics for one competing consumer.
type workerStats struct {
	mu sync.Mutex

	name         string
	consumeQueue string
	publishQueue string

	processed     uint64
	failed        uint64
	inFlight      uint64
	totalNs       int64
	lastAt        time.Time
	lastOperation string
	lastError     string

	window *latencyWindow
}

func newWorkerStats(name, consumeQueue, publishQueue string) *workerStats {
	return &workerStats{
		name:         name,
		consumeQueue: consumeQueue,
		publishQueue: publishQueue,
		window:       newLatencyWindow(latencySampleSize),
	}
}

func (w *workerStats) begin() {
	w.mu.Lock()
	w.inFlight++
	w.mu.Unlock()
}

// finish records one message. failed covers error results as well as
// processing errors; errText is kept as the last error.
func (w *workerStats) finish(operation string, duration time.Duration, failed bool, errText string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.inFlight > 0 {
		w.inFlight--
	}
	w.processed++
	if failed {
		w.failed++
		if errText != "" {
			w.lastError = errText
		}
	}
	w.totalNs += int64(duration)
	w.lastAt = time.Now().UTC()
	w.lastOperation = operation
	w.window.Add(duration)
}

func (w *workerStats) snapshot() WorkerSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	latency := w.window.Snapshot()
	if w.processed > 0 {
		latency.AverageNs = w.totalNs / int64(w.processed)
	}
	return WorkerSnapshot{
		Name:              w.name,
		ConsumeQueue:      w.consumeQueue,
		PublishQueue:      w.publishQueue,
		MessagesProcessed: w.processed,
		MessagesFailed:    w.failed,
		InFlight:          w.inFlight,
		LastProcessedAt:   w.lastAt,
		LastOperation:     w.lastOperation,
		LastError:         w.lastError,
		Latency:           latency,
	}
}

type latencyWindow struct {
	samples []int64
	next    int
	filled  int
	last    int64
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = latencySampleSize
	}
	return &latencyWindow{samples: make([]int64, size)}
}

func (lw *latencyWindow) Add(d time.Duration) {
	lw.samples[lw.next] = int64(d)
	lw.last = int64(d)
	lw.next = (lw.next + 1) % len(lw.samples)
	if lw.filled < len(lw.samples) {
		lw.filled++
	}
}

func (lw *latencyWindow) Snapshot() LatencyMetrics {
	metrics := LatencyMetrics{LastNs: lw.last}
	if lw.filled == 0 {
		return metrics
	}
	samples := make([]int64, lw.filled)
	for i := 0; i < lw.filled; i++ {
		idx := lw.next - lw.filled + i
		if idx < 0 {
			idx += len(lw.samples)
		}
		samples[i] = lw.samples[idx]
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	metrics.SampleSize = lw.filled
	metrics.P50Ns = percentile(samples, 0.50)
	metrics.P95Ns = percentile(samples, 0.95)
	metrics.P99Ns = percentile(samples, 0.99)
	var sum int64
	for _, v := range samples {
		sum += v
	}
	metrics.AverageNs = sum / int64(len(samples))
	return metrics
}

func percentile(samples []int64, quantile float64) int64 {
	if len(samples) == 0 {
		return 0
	}
	if quantile <= 0 {
		return samples[0]
	}
	if quantile >= 1 {
		return samples[len(samples)-1]
	}
	pos := quantile * float64(len(samples)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return samples[lower]
	}
	frac := pos - float64(lower)
	return samples[lower] + int64(float64(samples[upper]-samples[lower])*frac)
}
