package monitor

import (
	"sort"
	"sync"
	"time"
)

// LatencyStats summarizes a window of samples, in milliseconds.
type LatencyStats struct {
	Count int     `json:"count"`
	Min   float64 `json:"min_ms"`
	Max   float64 `json:"max_ms"`
	Avg   float64 `json:"avg_ms"`
	P50   float64 `json:"p50_ms"`
	P95   float64 `json:"p95_ms"`
	P99   float64 `json:"p99_ms"`
}

// LatencyWindow keeps the most recent samples and computes stats lazily.
type LatencyWindow struct {
	mu      sync.Mutex
	samples []float64
	next    int
	full    bool
	dirty   bool
	cached  LatencyStats
}

func NewLatencyWindow(size int) *LatencyWindow {
	if size <= 0 {
		size = 1000
	}
	return &LatencyWindow{samples: make([]float64, size)}
}

// Record adds a latency sample in milliseconds, overwriting the oldest when full.
func (w *LatencyWindow) Record(ms float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples[w.next] = ms
	w.next = (w.next + 1) % len(w.samples)
	if w.next == 0 {
		w.full = true
	}
	w.dirty = true
}

func (w *LatencyWindow) RecordDuration(d time.Duration) {
	w.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg and percentiles over the window.
func (w *LatencyWindow) Stats() LatencyStats {
	if w == nil {
		return LatencyStats{}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.dirty {
		return w.cached
	}
	n := w.next
	if w.full {
		n = len(w.samples)
	}
	if n == 0 {
		return LatencyStats{}
	}
	sorted := make([]float64, n)
	copy(sorted, w.samples[:n])
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	w.cached = LatencyStats{
		Count: n,
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[percentileIndex(n, 0.95)],
		P99:   sorted[percentileIndex(n, 0.99)],
	}
	w.dirty = false
	return w.cached
}

func percentileIndex(n int, p float64) int {
	i := int(float64(n) * p)
	if i >= n {
		i = n - 1
	}
	return i
}
