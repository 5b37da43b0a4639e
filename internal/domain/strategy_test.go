package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/rolloutd/rolloutd/internal/domain"
)

var testDefaults = domain.StageDefaults{
	MinDwell:       time.Minute,
	Criteria:       []domain.Criterion{domain.ErrorRateCriterion(2, 20, 3)},
	MaxEvaluations: 5,
}

func TestBuildStages_Canary(t *testing.T) {
	stages, err := domain.BuildStages(domain.PlanSpec{
		Strategy: domain.StrategyCanary,
		Stages: []domain.Stage{
			{CandidateWeight: 10},
			{CandidateWeight: 50},
			{CandidateWeight: 100},
		},
	}, testDefaults)
	if err != nil {
		t.Fatalf("BuildStages: %v", err)
	}
	if len(stages) != 3 {
		t.Fatalf("len = %d, want 3", len(stages))
	}
	for i, st := range stages {
		if st.MinDwell != time.Minute {
			t.Errorf("stage %d MinDwell = %v, want default", i, st.MinDwell)
		}
		if len(st.Criteria) != 1 {
			t.Errorf("stage %d has no default criteria", i)
		}
		if st.MaxEvaluations != 5 {
			t.Errorf("stage %d MaxEvaluations = %d, want 5", i, st.MaxEvaluations)
		}
	}
}

func TestBuildStages_CanaryDecreasingWeightsRejected(t *testing.T) {
	_, err := domain.BuildStages(domain.PlanSpec{
		Strategy: domain.StrategyCanary,
		Stages: []domain.Stage{
			{CandidateWeight: 50},
			{CandidateWeight: 10},
			{CandidateWeight: 100},
		},
	}, testDefaults)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("got %v, want ErrValidation", err)
	}
}

func TestBuildStages_CanaryMustEndAt100(t *testing.T) {
	_, err := domain.BuildStages(domain.PlanSpec{
		Strategy: domain.StrategyCanary,
		Stages:   []domain.Stage{{CandidateWeight: 10}, {CandidateWeight: 50}},
	}, testDefaults)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("got %v, want ErrValidation", err)
	}
}

func TestBuildStages_CanaryEmptyRejected(t *testing.T) {
	_, err := domain.BuildStages(domain.PlanSpec{Strategy: domain.StrategyCanary}, testDefaults)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("got %v, want ErrValidation", err)
	}
}

func TestBuildStages_BlueGreenFixedPlan(t *testing.T) {
	stages, err := domain.BuildStages(domain.PlanSpec{Strategy: domain.StrategyBlueGreen}, testDefaults)
	if err != nil {
		t.Fatalf("BuildStages: %v", err)
	}
	if len(stages) != 2 {
		t.Fatalf("len = %d, want 2", len(stages))
	}
	if stages[0].CandidateWeight != 0 || stages[1].CandidateWeight != 100 {
		t.Fatalf("weights = %d,%d, want 0,100", stages[0].CandidateWeight, stages[1].CandidateWeight)
	}
}

func TestBuildStages_BlueGreenRejectsIntermediateWeights(t *testing.T) {
	_, err := domain.BuildStages(domain.PlanSpec{
		Strategy: domain.StrategyBlueGreen,
		Stages:   []domain.Stage{{CandidateWeight: 30}, {CandidateWeight: 100}},
	}, testDefaults)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("got %v, want ErrValidation", err)
	}
}

func TestBuildStages_RollingGeneratesEvenSteps(t *testing.T) {
	stages, err := domain.BuildStages(domain.PlanSpec{
		Strategy:     domain.StrategyRolling,
		RollingSteps: 4,
	}, testDefaults)
	if err != nil {
		t.Fatalf("BuildStages: %v", err)
	}
	want := []int{25, 50, 75, 100}
	if len(stages) != len(want) {
		t.Fatalf("len = %d, want %d", len(stages), len(want))
	}
	for i, w := range want {
		if stages[i].CandidateWeight != w {
			t.Errorf("stage %d weight = %d, want %d", i, stages[i].CandidateWeight, w)
		}
	}
}

func TestBuildStages_UnknownStrategy(t *testing.T) {
	_, err := domain.BuildStages(domain.PlanSpec{Strategy: "recreate"}, testDefaults)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("got %v, want ErrValidation", err)
	}
}

func TestCriterionValidate(t *testing.T) {
	bad := []domain.Criterion{
		{Metric: "", Comparator: domain.ComparatorGreater, Soft: 1, Hard: 2, MinSamples: 1},
		{Metric: "error_rate", Comparator: domain.ComparatorGreater, Soft: 20, Hard: 2, MinSamples: 1},
		{Metric: "success_rate", Comparator: domain.ComparatorLess, Soft: 90, Hard: 99, MinSamples: 1},
		{Metric: "error_rate", Comparator: "eq", Soft: 1, Hard: 2, MinSamples: 1},
		{Metric: "error_rate", Comparator: domain.ComparatorGreater, Soft: 1, Hard: 2, MinSamples: 0},
	}
	for i, c := range bad {
		if err := c.Validate(); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("case %d: got %v, want ErrValidation", i, err)
		}
	}
	good := domain.ErrorRateCriterion(2, 20, 3)
	if err := good.Validate(); err != nil {
		t.Errorf("valid criterion rejected: %v", err)
	}
}
