package domain

import (
	"fmt"
	"time"
)

// StrategyType identifies the traffic-shifting strategy of a rollout.
type StrategyType string

const (
	StrategyRolling   StrategyType = "rolling"
	StrategyBlueGreen StrategyType = "blue-green"
	StrategyCanary    StrategyType = "canary"
)

// StageDefaults fills stage fields the caller left unset.
type StageDefaults struct {
	MinDwell       time.Duration
	Criteria       []Criterion
	MaxEvaluations int
}

// PlanSpec is the caller-provided stage plan for a rollout.
//
// Canary rollouts provide explicit stages. Blue-green rollouts always
// get the fixed two-stage plan {0, 100}. Rolling rollouts may either
// provide stages or a step count from which evenly spaced weights are
// generated.
type PlanSpec struct {
	Strategy StrategyType `json:"strategy"`
	Stages   []Stage      `json:"stages,omitempty"`

	// RollingSteps is the number of evenly spaced stages for a rolling
	// rollout when Stages is empty.
	RollingSteps int `json:"rollingSteps,omitempty"`
}

// BuildStages materializes and validates the stage sequence for a plan.
// Returns ErrValidation when the plan is malformed.
func BuildStages(spec PlanSpec, defaults StageDefaults) ([]Stage, error) {
	var stages []Stage

	switch spec.Strategy {
	case StrategyCanary:
		if len(spec.Stages) == 0 {
			return nil, fmt.Errorf("%w: canary rollout requires at least one stage", ErrValidation)
		}
		stages = applyDefaults(spec.Stages, defaults)

	case StrategyBlueGreen:
		if len(spec.Stages) > 2 {
			return nil, fmt.Errorf("%w: blue-green rollout has a fixed two-stage plan", ErrValidation)
		}
		if len(spec.Stages) == 2 {
			stages = applyDefaults(spec.Stages, defaults)
		} else {
			stages = applyDefaults([]Stage{{CandidateWeight: 0}, {CandidateWeight: 100}}, defaults)
		}

	case StrategyRolling:
		if len(spec.Stages) > 0 {
			stages = applyDefaults(spec.Stages, defaults)
		} else {
			steps := spec.RollingSteps
			if steps <= 0 {
				steps = 4
			}
			stages = make([]Stage, steps)
			for i := range stages {
				stages[i] = Stage{CandidateWeight: (i + 1) * 100 / steps}
			}
			stages = applyDefaults(stages, defaults)
		}

	default:
		return nil, fmt.Errorf("%w: unsupported strategy %q", ErrValidation, spec.Strategy)
	}

	if err := ValidateStages(spec.Strategy, stages); err != nil {
		return nil, err
	}
	return stages, nil
}

// ValidateStages checks the invariants of a stage sequence: weights in
// range and monotonically non-decreasing, ending at 100; blue-green
// exactly {0, 100}.
func ValidateStages(strategy StrategyType, stages []Stage) error {
	if len(stages) == 0 {
		return fmt.Errorf("%w: stage sequence is empty", ErrValidation)
	}

	prev := -1
	for i, st := range stages {
		if st.CandidateWeight < 0 || st.CandidateWeight > 100 {
			return fmt.Errorf("%w: stage %d weight %d out of range", ErrValidation, i, st.CandidateWeight)
		}
		if st.CandidateWeight < prev {
			return fmt.Errorf("%w: stage %d weight %d decreases from %d", ErrValidation, i, st.CandidateWeight, prev)
		}
		if st.MinDwell < 0 {
			return fmt.Errorf("%w: stage %d has negative dwell", ErrValidation, i)
		}
		for _, c := range st.Criteria {
			if err := c.Validate(); err != nil {
				return fmt.Errorf("stage %d: %w", i, err)
			}
		}
		prev = st.CandidateWeight
	}

	if last := stages[len(stages)-1].CandidateWeight; last != 100 {
		return fmt.Errorf("%w: final stage weight is %d, want 100", ErrValidation, last)
	}

	if strategy == StrategyBlueGreen {
		if len(stages) != 2 || stages[0].CandidateWeight != 0 || stages[1].CandidateWeight != 100 {
			return fmt.Errorf("%w: blue-green requires exactly two stages with weights 0 and 100", ErrValidation)
		}
	}
	return nil
}

func applyDefaults(stages []Stage, d StageDefaults) []Stage {
	out := make([]Stage, len(stages))
	copy(out, stages)
	for i := range out {
		if out[i].MinDwell == 0 {
			out[i].MinDwell = d.MinDwell
		}
		if len(out[i].Criteria) == 0 {
			out[i].Criteria = d.Criteria
		}
		if out[i].MaxEvaluations == 0 {
			out[i].MaxEvaluations = d.MaxEvaluations
		}
	}
	return out
}
