package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// FinalizeMode selects which terminal sequence a finalize workflow
// runs.
type FinalizeMode string

const (
	// FinalizeRollback reverts traffic to stable after a failing
	// verdict.
	FinalizeRollback FinalizeMode = "rollback"

	// FinalizeAbort reverts traffic to stable on operator cancel.
	FinalizeAbort FinalizeMode = "abort"

	// FinalizePromote completes a rollout: full traffic to the
	// candidate, which becomes the new stable.
	FinalizePromote FinalizeMode = "promote"
)

// FinalizeInput is the JSON-serializable input of a finalize workflow.
type FinalizeInput struct {
	RolloutID RolloutID          `json:"rolloutId"`
	Mode      FinalizeMode       `json:"mode"`
	Reason    string             `json:"reason"`
	Verdict   Verdict            `json:"verdict"`
	Inputs    map[string]float64 `json:"inputs,omitempty"`
	Actor     Actor              `json:"actor"`
}

// RetryPolicy bounds the backoff retries around router and scale calls.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsed      time.Duration
}

// FinalizeWorkflow is the terminal sequence of a rollout, expressed as
// durable activities so an interrupted finalize resumes after a
// controller restart.
//
// Rollback order is strict: traffic is fully reverted before candidate
// capacity is removed, so in-flight requests never land on a target
// being torn down. Router and scale calls retry with bounded backoff;
// exhaustion during rollback marks the rollout RollbackFailed, the one
// failure mode that must page a human.
type FinalizeWorkflow struct {
	Rollouts  RolloutRepository
	Audit     DecisionRecordRepository
	Router    TrafficRouter
	Workloads WorkloadController

	Retry       RetryPolicy
	CallTimeout time.Duration

	// PromoteReplicas is the full capacity the new stable is scaled to.
	PromoteReplicas int

	Now func() time.Time
}

// Name identifies the workflow type to durable engines.
func (w *FinalizeWorkflow) Name() string { return "finalize-rollout" }

func (w *FinalizeWorkflow) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

func (w *FinalizeWorkflow) callTimeout() time.Duration {
	if w.CallTimeout > 0 {
		return w.CallTimeout
	}
	return 10 * time.Second
}

// retry runs op with per-attempt timeouts under the workflow's backoff
// policy.
func (w *FinalizeWorkflow) retry(ctx context.Context, op func(context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	if w.Retry.InitialInterval > 0 {
		b.InitialInterval = w.Retry.InitialInterval
	}
	if w.Retry.MaxInterval > 0 {
		b.MaxInterval = w.Retry.MaxInterval
	}
	if w.Retry.MaxElapsed > 0 {
		b.MaxElapsedTime = w.Retry.MaxElapsed
	}
	return backoff.Retry(func() error {
		callCtx, cancel := context.WithTimeout(ctx, w.callTimeout())
		defer cancel()
		return op(callCtx)
	}, backoff.WithContext(b, ctx))
}

type setWeightsInput struct {
	Stable          string `json:"stable"`
	Candidate       string `json:"candidate"`
	StableWeight    int    `json:"stableWeight"`
	CandidateWeight int    `json:"candidateWeight"`
}

type scaleInput struct {
	Target string `json:"target"`
	Count  int    `json:"count"`
}

type completeInput struct {
	RolloutID RolloutID    `json:"rolloutId"`
	State     RolloutState `json:"state"`
	Decision  string       `json:"decision"`
}

// LoadRollout fetches the rollout under finalization.
func (w *FinalizeWorkflow) LoadRollout() Activity[FinalizeInput, Rollout] {
	return NewActivity("load-rollout", func(ctx context.Context, in FinalizeInput) (Rollout, error) {
		return w.Rollouts.Get(ctx, in.RolloutID)
	})
}

// SetWeights applies a router split, retrying with bounded backoff.
func (w *FinalizeWorkflow) SetWeights() Activity[setWeightsInput, struct{}] {
	return NewActivity("set-weights", func(ctx context.Context, in setWeightsInput) (struct{}, error) {
		err := w.retry(ctx, func(callCtx context.Context) error {
			return w.Router.SetWeights(callCtx, in.Stable, in.Candidate, in.StableWeight, in.CandidateWeight)
		})
		if err != nil {
			return struct{}{}, fmt.Errorf("set weights (%d,%d): %w", in.StableWeight, in.CandidateWeight, err)
		}
		return struct{}{}, nil
	})
}

// Scale sets a target's replica count, retrying with bounded backoff.
func (w *FinalizeWorkflow) Scale() Activity[scaleInput, struct{}] {
	return NewActivity("scale-target", func(ctx context.Context, in scaleInput) (struct{}, error) {
		err := w.retry(ctx, func(callCtx context.Context) error {
			return w.Workloads.SetReplicas(callCtx, in.Target, in.Count)
		})
		if err != nil {
			return struct{}{}, fmt.Errorf("scale %s to %d: %w", in.Target, in.Count, err)
		}
		return struct{}{}, nil
	})
}

// RecordDecision appends the terminal audit record. The record ID is
// derived from the rollout so an at-least-once re-run cannot duplicate
// it.
func (w *FinalizeWorkflow) RecordDecision() Activity[DecisionRecord, struct{}] {
	return NewActivity("record-decision", func(ctx context.Context, rec DecisionRecord) (struct{}, error) {
		return struct{}{}, w.Audit.Append(ctx, rec)
	})
}

// Complete moves the rollout into its terminal state.
func (w *FinalizeWorkflow) Complete() Activity[completeInput, struct{}] {
	return NewActivity("complete-rollout", func(ctx context.Context, in completeInput) (struct{}, error) {
		r, err := w.Rollouts.Get(ctx, in.RolloutID)
		if err != nil {
			return struct{}{}, err
		}
		if r.State.Terminal() {
			return struct{}{}, nil
		}
		r.State = in.State
		r.EndedAt = w.now()
		r.LastDecision = in.Decision
		return struct{}{}, w.Rollouts.Update(ctx, r)
	})
}

// Run executes the finalize sequence. Finalizing an already-terminal
// rollout is a no-op, which makes rollback idempotent.
func (w *FinalizeWorkflow) Run(runner DurableRunner, in FinalizeInput) (struct{}, error) {
	r, err := RunActivity(runner, w.LoadRollout(), in)
	if err != nil {
		return struct{}{}, fmt.Errorf("load rollout %s: %w", in.RolloutID, err)
	}
	if r.State.Terminal() {
		return struct{}{}, nil
	}

	if in.Mode == FinalizePromote {
		return struct{}{}, w.runPromote(runner, in, r)
	}
	return struct{}{}, w.runRevert(runner, in, r)
}

// runRevert is the rollback/abort sequence: traffic first, capacity
// second.
func (w *FinalizeWorkflow) runRevert(runner DurableRunner, in FinalizeInput, r Rollout) error {
	revert := setWeightsInput{
		Stable:          r.Stable.Target(),
		Candidate:       r.Candidate.Target(),
		StableWeight:    100,
		CandidateWeight: 0,
	}
	if _, err := RunActivity(runner, w.SetWeights(), revert); err != nil {
		return w.failRollback(runner, in, r, err)
	}
	if _, err := RunActivity(runner, w.Scale(), scaleInput{Target: r.Candidate.Target(), Count: 0}); err != nil {
		return w.failRollback(runner, in, r, err)
	}

	if _, err := RunActivity(runner, w.RecordDecision(), w.terminalRecord(in, r)); err != nil {
		return fmt.Errorf("record decision: %w", err)
	}

	terminal := StateRolledBack
	if in.Mode == FinalizeAbort {
		terminal = StateAborted
	}
	done := completeInput{RolloutID: r.ID, State: terminal, Decision: in.Reason}
	if _, err := RunActivity(runner, w.Complete(), done); err != nil {
		return fmt.Errorf("complete rollout: %w", err)
	}
	return nil
}

// runPromote is the promotion sequence. A failure here falls back to a
// full revert: the candidate cannot be trusted at partial capacity.
func (w *FinalizeWorkflow) runPromote(runner DurableRunner, in FinalizeInput, r Rollout) error {
	full := setWeightsInput{
		Stable:          r.Stable.Target(),
		Candidate:       r.Candidate.Target(),
		StableWeight:    0,
		CandidateWeight: 100,
	}
	if _, err := RunActivity(runner, w.SetWeights(), full); err != nil {
		return fmt.Errorf("promote %s: %w", r.ID, err)
	}
	if _, err := RunActivity(runner, w.Scale(), scaleInput{Target: r.Candidate.Target(), Count: w.PromoteReplicas}); err != nil {
		return fmt.Errorf("promote %s: %w", r.ID, err)
	}
	if _, err := RunActivity(runner, w.Scale(), scaleInput{Target: r.Stable.Target(), Count: 0}); err != nil {
		return fmt.Errorf("promote %s: %w", r.ID, err)
	}

	if _, err := RunActivity(runner, w.RecordDecision(), w.terminalRecord(in, r)); err != nil {
		return fmt.Errorf("record decision: %w", err)
	}
	done := completeInput{RolloutID: r.ID, State: StateSucceeded, Decision: in.Reason}
	if _, err := RunActivity(runner, w.Complete(), done); err != nil {
		return fmt.Errorf("complete rollout: %w", err)
	}
	return nil
}

// failRollback marks the rollout RollbackFailed after retries were
// exhausted reverting it. Never swallowed: an un-reverted rollback is
// the single worst failure mode.
func (w *FinalizeWorkflow) failRollback(runner DurableRunner, in FinalizeInput, r Rollout, cause error) error {
	rec := w.terminalRecord(in, r)
	rec.Reason = fmt.Sprintf("rollback failed: %v", cause)
	if _, err := RunActivity(runner, w.RecordDecision(), rec); err != nil {
		return fmt.Errorf("%w: %v (recording decision also failed: %v)", ErrRollbackFailed, cause, err)
	}
	done := completeInput{RolloutID: r.ID, State: StateRollbackFailed, Decision: rec.Reason}
	if _, err := RunActivity(runner, w.Complete(), done); err != nil {
		return fmt.Errorf("%w: %v (completing also failed: %v)", ErrRollbackFailed, cause, err)
	}
	return fmt.Errorf("%w: %v", ErrRollbackFailed, cause)
}

// terminalRecord builds the single terminal decision record for the
// finalize. The deterministic ID keeps at-least-once execution from
// appending duplicates.
func (w *FinalizeWorkflow) terminalRecord(in FinalizeInput, r Rollout) DecisionRecord {
	return DecisionRecord{
		ID:         string(r.ID) + "-finalize",
		RolloutID:  r.ID,
		StageIndex: r.CurrentStage,
		Verdict:    in.Verdict,
		Reason:     in.Reason,
		Inputs:     in.Inputs,
		Actor:      in.Actor,
		At:         w.now(),
	}
}
