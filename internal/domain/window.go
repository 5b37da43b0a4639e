package domain

import (
	"sync"
	"time"
)

// MetricSample is one observed time-series point for a target. Samples
// are ephemeral: they live only inside the evaluator's sliding window.
type MetricSample struct {
	Target string    `json:"target"`
	Metric string    `json:"metric"`
	Value  float64   `json:"value"`
	At     time.Time `json:"at"`
}

// MetricWindow is a bounded sliding window of samples for one
// (target, metric) pair. The oldest sample is evicted on overflow, so
// the window never exceeds its capacity.
type MetricWindow struct {
	capacity int
	samples  []MetricSample
}

// NewMetricWindow creates a window holding at most capacity samples.
func NewMetricWindow(capacity int) *MetricWindow {
	if capacity < 1 {
		capacity = 1
	}
	return &MetricWindow{capacity: capacity}
}

// Append adds a sample, evicting the oldest if the window is full.
func (w *MetricWindow) Append(s MetricSample) {
	if len(w.samples) == w.capacity {
		copy(w.samples, w.samples[1:])
		w.samples = w.samples[:w.capacity-1]
	}
	w.samples = append(w.samples, s)
}

// Len returns the number of samples currently held.
func (w *MetricWindow) Len() int { return len(w.samples) }

// Latest returns the most recent sample.
func (w *MetricWindow) Latest() (MetricSample, bool) {
	if len(w.samples) == 0 {
		return MetricSample{}, false
	}
	return w.samples[len(w.samples)-1], true
}

// FreshCount returns how many samples are no older than maxAge at now.
func (w *MetricWindow) FreshCount(now time.Time, maxAge time.Duration) int {
	n := 0
	for _, s := range w.samples {
		if now.Sub(s.At) <= maxAge {
			n++
		}
	}
	return n
}

// Fresh returns the samples no older than maxAge at now, oldest first.
func (w *MetricWindow) Fresh(now time.Time, maxAge time.Duration) []MetricSample {
	out := make([]MetricSample, 0, len(w.samples))
	for _, s := range w.samples {
		if now.Sub(s.At) <= maxAge {
			out = append(out, s)
		}
	}
	return out
}

// WindowSet holds the bounded windows for every (target, metric) pair
// the evaluator has observed. Safe for concurrent use: ticks for
// different rollouts run on separate goroutines.
type WindowSet struct {
	mu       sync.Mutex
	capacity int
	windows  map[windowKey]*MetricWindow
}

type windowKey struct {
	target string
	metric string
}

// NewWindowSet creates a window set with the given per-window capacity.
func NewWindowSet(capacity int) *WindowSet {
	return &WindowSet{
		capacity: capacity,
		windows:  make(map[windowKey]*MetricWindow),
	}
}

// Observe appends each sample to its window.
func (ws *WindowSet) Observe(samples []MetricSample) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	for _, s := range samples {
		key := windowKey{target: s.Target, metric: s.Metric}
		w, ok := ws.windows[key]
		if !ok {
			w = NewMetricWindow(ws.capacity)
			ws.windows[key] = w
		}
		w.Append(s)
	}
}

// Window returns the window for the pair, or nil if nothing has been
// observed. The returned window must not be mutated by the caller.
func (ws *WindowSet) Window(target, metric string) *MetricWindow {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.windows[windowKey{target: target, metric: metric}]
}

// Drop discards all windows for a target. Called when a rollout
// terminates so stale candidate samples cannot leak into a later
// rollout of the same service.
func (ws *WindowSet) Drop(target string) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	for key := range ws.windows {
		if key.target == target {
			delete(ws.windows, key)
		}
	}
}
