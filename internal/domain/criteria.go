package domain

import "fmt"

// Verdict is the health evaluator's judgment of the candidate at the
// current stage.
type Verdict string

const (
	VerdictHealthy   Verdict = "healthy"
	VerdictDegrading Verdict = "degrading"
	VerdictFailing   Verdict = "failing"
)

// Comparator is the direction in which a metric value breaches its
// threshold.
type Comparator string

const (
	// ComparatorGreater breaches when the value exceeds the threshold
	// (error rates, latencies, saturation).
	ComparatorGreater Comparator = "gt"

	// ComparatorLess breaches when the value falls below the threshold
	// (success rates, availability).
	ComparatorLess Comparator = "lt"
)

// Breaches reports whether value breaches threshold in the comparator's
// direction.
func (c Comparator) Breaches(value, threshold float64) bool {
	switch c {
	case ComparatorGreater:
		return value > threshold
	case ComparatorLess:
		return value < threshold
	}
	return false
}

// Criterion is one promotion threshold. Soft breaches require sustained
// sample evidence before affecting the verdict; a hard breach
// short-circuits the evaluation immediately.
type Criterion struct {
	Metric     string     `json:"metric"`
	Comparator Comparator `json:"comparator"`
	Soft       float64    `json:"soft"`
	Hard       float64    `json:"hard"`
	MinSamples int        `json:"minSamples"`
}

// Validate checks the criterion's internal consistency.
func (c Criterion) Validate() error {
	if c.Metric == "" {
		return fmt.Errorf("%w: criterion has no metric name", ErrValidation)
	}
	switch c.Comparator {
	case ComparatorGreater:
		if c.Hard < c.Soft {
			return fmt.Errorf("%w: %s hard threshold %v below soft %v", ErrValidation, c.Metric, c.Hard, c.Soft)
		}
	case ComparatorLess:
		if c.Hard > c.Soft {
			return fmt.Errorf("%w: %s hard threshold %v above soft %v", ErrValidation, c.Metric, c.Hard, c.Soft)
		}
	default:
		return fmt.Errorf("%w: unsupported comparator %q", ErrValidation, c.Comparator)
	}
	if c.MinSamples < 1 {
		return fmt.Errorf("%w: %s requires a positive sample count", ErrValidation, c.Metric)
	}
	return nil
}

// Canned criteria mirroring the analysis presets most rollouts use.

// ErrorRateCriterion breaches when the error-rate percentage rises
// above the thresholds.
func ErrorRateCriterion(soft, hard float64, minSamples int) Criterion {
	return Criterion{
		Metric:     "error_rate",
		Comparator: ComparatorGreater,
		Soft:       soft,
		Hard:       hard,
		MinSamples: minSamples,
	}
}

// LatencyP99Criterion breaches when the p99 latency in milliseconds
// rises above the thresholds.
func LatencyP99Criterion(soft, hard float64, minSamples int) Criterion {
	return Criterion{
		Metric:     "latency_p99_ms",
		Comparator: ComparatorGreater,
		Soft:       soft,
		Hard:       hard,
		MinSamples: minSamples,
	}
}

// SuccessRateCriterion breaches when the success-rate percentage falls
// below the thresholds.
func SuccessRateCriterion(soft, hard float64, minSamples int) Criterion {
	return Criterion{
		Metric:     "success_rate",
		Comparator: ComparatorLess,
		Soft:       soft,
		Hard:       hard,
		MinSamples: minSamples,
	}
}

// CriteriaMetrics returns the distinct metric names the criteria need,
// in first-seen order.
func CriteriaMetrics(criteria []Criterion) []string {
	seen := make(map[string]struct{}, len(criteria))
	var names []string
	for _, c := range criteria {
		if _, ok := seen[c.Metric]; ok {
			continue
		}
		seen[c.Metric] = struct{}{}
		names = append(names, c.Metric)
	}
	return names
}
