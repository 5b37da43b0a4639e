package domain

import (
	"context"
	"time"
)

// MetricsSource supplies time-series samples for a named target. It
// must tolerate partial results: some requested metrics may be missing
// from the response, and the evaluator treats their absence as
// degrading rather than an error.
type MetricsSource interface {
	Query(ctx context.Context, target string, metrics []string, window time.Duration) ([]MetricSample, error)
}

// TrafficRouter accepts weighted-split instructions between the stable
// and candidate targets. Weights sum to 100; calls are safe to retry.
type TrafficRouter interface {
	SetWeights(ctx context.Context, stableTarget, candidateTarget string, stableWeight, candidateWeight int) error
}

// WorkloadController scales a named target's replica count.
type WorkloadController interface {
	SetReplicas(ctx context.Context, target string, count int) error
}
