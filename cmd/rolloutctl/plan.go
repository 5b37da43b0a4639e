package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rolloutd/rolloutd/internal/application"
	"github.com/rolloutd/rolloutd/internal/domain"
)

// planFile is the YAML shape of a rollout plan.
type planFile struct {
	Service   string `yaml:"service"`
	Stable    string `yaml:"stable"`
	Candidate string `yaml:"candidate"`
	Strategy  string `yaml:"strategy"`

	RollingSteps int         `yaml:"rollingSteps"`
	Stages       []stageFile `yaml:"stages"`
}

type stageFile struct {
	Weight         int             `yaml:"weight"`
	Dwell          string          `yaml:"dwell"`
	MaxEvaluations int             `yaml:"maxEvaluations"`
	Criteria       []criterionFile `yaml:"criteria"`
}

type criterionFile struct {
	Metric     string  `yaml:"metric"`
	Comparator string  `yaml:"comparator"`
	Soft       float64 `yaml:"soft"`
	Hard       float64 `yaml:"hard"`
	MinSamples int     `yaml:"minSamples"`
}

func loadPlanFile(path string) (application.SubmitInput, error) {
	var in application.SubmitInput

	raw, err := os.ReadFile(path)
	if err != nil {
		return in, err
	}
	var pf planFile
	if err := yaml.Unmarshal(raw, &pf); err != nil {
		return in, fmt.Errorf("parse %s: %w", path, err)
	}

	stages := make([]domain.Stage, len(pf.Stages))
	for i, sf := range pf.Stages {
		var dwell time.Duration
		if sf.Dwell != "" {
			dwell, err = time.ParseDuration(sf.Dwell)
			if err != nil {
				return in, fmt.Errorf("stage %d: parse dwell %q: %w", i, sf.Dwell, err)
			}
		}
		criteria := make([]domain.Criterion, len(sf.Criteria))
		for j, cf := range sf.Criteria {
			criteria[j] = domain.Criterion{
				Metric:     cf.Metric,
				Comparator: domain.Comparator(cf.Comparator),
				Soft:       cf.Soft,
				Hard:       cf.Hard,
				MinSamples: cf.MinSamples,
			}
		}
		stages[i] = domain.Stage{
			CandidateWeight: sf.Weight,
			MinDwell:        dwell,
			Criteria:        criteria,
			MaxEvaluations:  sf.MaxEvaluations,
		}
	}

	return application.SubmitInput{
		Service:   pf.Service,
		Stable:    domain.Release{Version: pf.Stable},
		Candidate: domain.Release{Version: pf.Candidate},
		Plan: domain.PlanSpec{
			Strategy:     domain.StrategyType(pf.Strategy),
			Stages:       stages,
			RollingSteps: pf.RollingSteps,
		},
		Trigger: domain.TriggerManual,
	}, nil
}
