package domain

import (
	"fmt"
	"time"
)

// Evaluation is the outcome of evaluating one stage's criteria against
// the metric windows of a target.
type Evaluation struct {
	Verdict Verdict
	// Reason names the metric and value that decided the verdict.
	Reason string
	// Inputs snapshots the freshest value per metric at decision time,
	// recorded with the decision for audit.
	Inputs map[string]float64
}

// Evaluator renders health verdicts for a target from its bounded
// metric windows. Evaluation itself is a pure function over the window
// contents; the evaluator only carries the windows and clock.
type Evaluator struct {
	Windows *WindowSet

	// ScrapeInterval is the expected sample cadence. Samples older than
	// twice this interval are stale and never count toward health.
	ScrapeInterval time.Duration

	Now func() time.Time
}

func (e *Evaluator) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// staleAfter is the age past which a sample stops being evidence.
func (e *Evaluator) staleAfter() time.Duration {
	return 2 * e.ScrapeInterval
}

// Observe feeds fetched samples into the windows.
func (e *Evaluator) Observe(samples []MetricSample) {
	e.Windows.Observe(samples)
}

// Evaluate renders a verdict for the target against the stage criteria.
//
// A hard breach on the freshest sample of any criterion fails
// immediately, regardless of sample count. Otherwise a criterion
// degrades the verdict when its window has fewer fresh samples than
// MinSamples, or when the freshest value breaches the soft threshold.
// Healthy requires every criterion to hold the full fresh sample count
// within its soft threshold: absence of evidence is not evidence of
// health.
func (e *Evaluator) Evaluate(target string, criteria []Criterion) Evaluation {
	now := e.now()
	maxAge := e.staleAfter()

	inputs := make(map[string]float64, len(criteria))
	degradedReason := ""

	for _, c := range criteria {
		w := e.Windows.Window(target, c.Metric)
		if w == nil || w.Len() == 0 {
			if degradedReason == "" {
				degradedReason = fmt.Sprintf("no samples for %s", c.Metric)
			}
			continue
		}

		latest, _ := w.Latest()
		inputs[c.Metric] = latest.Value

		if now.Sub(latest.At) <= maxAge && c.Comparator.Breaches(latest.Value, c.Hard) {
			return Evaluation{
				Verdict: VerdictFailing,
				Reason:  fmt.Sprintf("%s=%v breaches hard threshold %v", c.Metric, latest.Value, c.Hard),
				Inputs:  inputs,
			}
		}

		if degradedReason != "" {
			continue
		}
		switch {
		case now.Sub(latest.At) > maxAge:
			degradedReason = fmt.Sprintf("%s sample is stale", c.Metric)
		case w.FreshCount(now, maxAge) < c.MinSamples:
			degradedReason = fmt.Sprintf("%s has %d of %d required samples", c.Metric, w.FreshCount(now, maxAge), c.MinSamples)
		case c.Comparator.Breaches(latest.Value, c.Soft):
			degradedReason = fmt.Sprintf("%s=%v breaches soft threshold %v", c.Metric, latest.Value, c.Soft)
		}
	}

	if degradedReason != "" {
		return Evaluation{Verdict: VerdictDegrading, Reason: degradedReason, Inputs: inputs}
	}
	return Evaluation{Verdict: VerdictHealthy, Reason: "all criteria within soft thresholds", Inputs: inputs}
}
