package domain

import "time"

// RolloutID uniquely identifies a rollout.
type RolloutID string

// RolloutState is the lifecycle state of a rollout.
type RolloutState string

const (
	StatePending        RolloutState = "pending"
	StateProgressing    RolloutState = "progressing"
	StatePaused         RolloutState = "paused"
	StatePromoting      RolloutState = "promoting"
	StateSucceeded      RolloutState = "succeeded"
	StateRollingBack    RolloutState = "rolling_back"
	StateRolledBack     RolloutState = "rolled_back"
	StateAborted        RolloutState = "aborted"
	StateRollbackFailed RolloutState = "rollback_failed"
)

// Terminal reports whether the state permits no further transitions.
// RollbackFailed is terminal but unhealthy: the candidate may still be
// receiving traffic and an operator must intervene.
func (s RolloutState) Terminal() bool {
	switch s {
	case StateSucceeded, StateRolledBack, StateAborted, StateRollbackFailed:
		return true
	}
	return false
}

// Trigger records what initiated a rollout.
type Trigger string

const (
	TriggerAutomatic Trigger = "automatic"
	TriggerManual    Trigger = "manual"
)

// Stage is one step of the traffic plan.
type Stage struct {
	// CandidateWeight is the percentage of traffic directed at the
	// candidate while this stage is active, 0-100.
	CandidateWeight int `json:"candidateWeight"`

	// MinDwell is the minimum time the stage must remain active before
	// it is eligible to advance, even if immediately healthy.
	MinDwell time.Duration `json:"minDwell"`

	// Criteria are the promotion thresholds evaluated each tick.
	Criteria []Criterion `json:"criteria"`

	// MaxEvaluations bounds consecutive degrading verdicts before the
	// rollout is paused for manual review.
	MaxEvaluations int `json:"maxEvaluations"`
}

// Rollout is the live process of migrating a service from a stable
// release to a candidate release. Owned exclusively by the rollout
// service; mutated only under the per-service lock.
type Rollout struct {
	ID       RolloutID    `json:"id"`
	Service  string       `json:"service"`
	Strategy StrategyType `json:"strategy"`

	Stable    Release `json:"stable"`
	Candidate Release `json:"candidate"`

	Stages       []Stage      `json:"stages"`
	CurrentStage int          `json:"currentStage"`
	State        RolloutState `json:"state"`

	StartedAt      time.Time `json:"startedAt"`
	StageEnteredAt time.Time `json:"stageEnteredAt"`
	EndedAt        time.Time `json:"endedAt,omitzero"`

	Trigger      Trigger `json:"trigger"`
	LastDecision string  `json:"lastDecision,omitempty"`

	// Finalize is the terminal sequence in flight once the rollout
	// enters RollingBack or Promoting. Persisted so a restart resumes
	// the right sequence.
	Finalize FinalizeMode `json:"finalize,omitempty"`

	// Generation increments on every manual action. A tick captures it
	// before external I/O and discards its result if it has moved, so
	// manual intent is never overridden by a stale evaluation.
	Generation int64 `json:"generation"`

	// DegradedTicks counts consecutive degrading verdicts on the
	// current stage toward the stage's MaxEvaluations.
	DegradedTicks int `json:"degradedTicks"`
}

// CurrentStageSpec returns the currently active stage.
func (r *Rollout) CurrentStageSpec() Stage {
	return r.Stages[r.CurrentStage]
}

// LastStage reports whether the rollout is on its final stage.
func (r *Rollout) LastStage() bool {
	return r.CurrentStage == len(r.Stages)-1
}
