package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rolloutd/rolloutd/internal/domain"
)

func TestLoadPlanFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	content := `service: billing
stable: v1.4.0
candidate: v1.5.0
strategy: canary
stages:
  - weight: 10
    dwell: 5m
    maxEvaluations: 3
    criteria:
      - metric: error_rate
        comparator: gt
        soft: 2
        hard: 10
        minSamples: 3
  - weight: 50
    dwell: 10m
  - weight: 100
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write plan: %v", err)
	}

	in, err := loadPlanFile(path)
	if err != nil {
		t.Fatalf("loadPlanFile: %v", err)
	}

	if in.Service != "billing" {
		t.Errorf("Service = %q, want billing", in.Service)
	}
	if in.Plan.Strategy != domain.StrategyCanary {
		t.Errorf("Strategy = %q, want canary", in.Plan.Strategy)
	}
	if len(in.Plan.Stages) != 3 {
		t.Fatalf("stages = %d, want 3", len(in.Plan.Stages))
	}
	first := in.Plan.Stages[0]
	if first.CandidateWeight != 10 || first.MinDwell != 5*time.Minute || first.MaxEvaluations != 3 {
		t.Errorf("stage 0 = %+v", first)
	}
	if len(first.Criteria) != 1 || first.Criteria[0].Metric != "error_rate" {
		t.Errorf("stage 0 criteria = %+v", first.Criteria)
	}
}

func TestLoadPlanFile_BadDwell(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	content := "service: a\nstable: v1\ncandidate: v2\nstrategy: canary\nstages:\n  - weight: 100\n    dwell: nonsense\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write plan: %v", err)
	}
	if _, err := loadPlanFile(path); err == nil {
		t.Fatal("expected error for unparseable dwell")
	}
}
