// Package rolloutrepotest provides contract tests for
// [domain.RolloutRepository] implementations.
package rolloutrepotest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rolloutd/rolloutd/internal/domain"
)

// Factory creates a fresh [domain.RolloutRepository] for each test.
type Factory func(t *testing.T) domain.RolloutRepository

func sampleRollout(id domain.RolloutID, service string) domain.Rollout {
	started := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)
	return domain.Rollout{
		ID:       id,
		Service:  service,
		Strategy: domain.StrategyCanary,
		Stable:   domain.Release{Service: service, Version: "v1.4.0", CreatedAt: started.Add(-72 * time.Hour)},
		Candidate: domain.Release{
			Service: service, Version: "v1.5.0", CreatedAt: started.Add(-time.Hour),
		},
		Stages: []domain.Stage{
			{CandidateWeight: 10, MinDwell: 2 * time.Minute, MaxEvaluations: 5,
				Criteria: []domain.Criterion{domain.ErrorRateCriterion(2, 20, 3)}},
			{CandidateWeight: 50, MinDwell: 2 * time.Minute, MaxEvaluations: 5,
				Criteria: []domain.Criterion{domain.ErrorRateCriterion(2, 20, 3)}},
			{CandidateWeight: 100, MinDwell: 2 * time.Minute, MaxEvaluations: 5,
				Criteria: []domain.Criterion{domain.ErrorRateCriterion(2, 20, 3)}},
		},
		State:          domain.StatePending,
		StartedAt:      started,
		StageEnteredAt: started,
		Trigger:        domain.TriggerManual,
	}
}

// Run exercises the [domain.RolloutRepository] contract.
func Run(t *testing.T, factory Factory) {
	t.Run("CreateAndGet", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		r := sampleRollout("r1", "billing")

		if err := repo.Create(ctx, r); err != nil {
			t.Fatalf("Create: %v", err)
		}

		got, err := repo.Get(ctx, "r1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Service != "billing" {
			t.Errorf("Service = %q, want %q", got.Service, "billing")
		}
		if got.Strategy != domain.StrategyCanary {
			t.Errorf("Strategy = %q, want %q", got.Strategy, domain.StrategyCanary)
		}
		if len(got.Stages) != 3 {
			t.Fatalf("Stages len = %d, want 3", len(got.Stages))
		}
		if got.Stages[1].CandidateWeight != 50 {
			t.Errorf("stage 1 weight = %d, want 50", got.Stages[1].CandidateWeight)
		}
		if got.Stages[0].Criteria[0].Hard != 20 {
			t.Errorf("stage 0 hard threshold = %v, want 20", got.Stages[0].Criteria[0].Hard)
		}
		if !got.StartedAt.Equal(r.StartedAt) {
			t.Errorf("StartedAt = %v, want %v", got.StartedAt, r.StartedAt)
		}
		if !got.EndedAt.IsZero() {
			t.Errorf("EndedAt = %v, want zero", got.EndedAt)
		}
	})

	t.Run("GetNotFound", func(t *testing.T) {
		repo := factory(t)
		_, err := repo.Get(context.Background(), "missing")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Get: got %v, want ErrNotFound", err)
		}
	})

	t.Run("SecondActiveRolloutConflicts", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		if err := repo.Create(ctx, sampleRollout("r1", "billing")); err != nil {
			t.Fatalf("first Create: %v", err)
		}
		err := repo.Create(ctx, sampleRollout("r2", "billing"))
		if !errors.Is(err, domain.ErrConflict) {
			t.Fatalf("second Create: got %v, want ErrConflict", err)
		}

		// The first rollout is unaffected.
		got, err := repo.Get(ctx, "r1")
		if err != nil {
			t.Fatalf("Get after conflict: %v", err)
		}
		if got.State != domain.StatePending {
			t.Errorf("State = %q, want %q", got.State, domain.StatePending)
		}
	})

	t.Run("NewRolloutAllowedAfterTerminal", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		first := sampleRollout("r1", "billing")
		if err := repo.Create(ctx, first); err != nil {
			t.Fatalf("Create: %v", err)
		}
		first.State = domain.StateRolledBack
		first.EndedAt = first.StartedAt.Add(10 * time.Minute)
		if err := repo.Update(ctx, first); err != nil {
			t.Fatalf("Update: %v", err)
		}

		if err := repo.Create(ctx, sampleRollout("r2", "billing")); err != nil {
			t.Fatalf("Create after terminal: %v", err)
		}
	})

	t.Run("DifferentServicesDoNotConflict", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		if err := repo.Create(ctx, sampleRollout("r1", "billing")); err != nil {
			t.Fatalf("Create billing: %v", err)
		}
		if err := repo.Create(ctx, sampleRollout("r2", "search")); err != nil {
			t.Fatalf("Create search: %v", err)
		}
	})

	t.Run("ActiveByService", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		if _, err := repo.ActiveByService(ctx, "billing"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("ActiveByService on empty repo: got %v, want ErrNotFound", err)
		}

		r := sampleRollout("r1", "billing")
		if err := repo.Create(ctx, r); err != nil {
			t.Fatalf("Create: %v", err)
		}
		got, err := repo.ActiveByService(ctx, "billing")
		if err != nil {
			t.Fatalf("ActiveByService: %v", err)
		}
		if got.ID != "r1" {
			t.Errorf("ID = %q, want r1", got.ID)
		}

		r.State = domain.StateSucceeded
		r.EndedAt = r.StartedAt.Add(time.Hour)
		if err := repo.Update(ctx, r); err != nil {
			t.Fatalf("Update: %v", err)
		}
		if _, err := repo.ActiveByService(ctx, "billing"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("ActiveByService after terminal: got %v, want ErrNotFound", err)
		}
	})

	t.Run("Update", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		r := sampleRollout("r1", "billing")
		if err := repo.Create(ctx, r); err != nil {
			t.Fatalf("Create: %v", err)
		}

		r.State = domain.StateProgressing
		r.CurrentStage = 1
		r.StageEnteredAt = r.StartedAt.Add(5 * time.Minute)
		r.Generation = 3
		r.DegradedTicks = 2
		r.LastDecision = "error_rate within soft threshold"
		if err := repo.Update(ctx, r); err != nil {
			t.Fatalf("Update: %v", err)
		}

		got, err := repo.Get(ctx, "r1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.CurrentStage != 1 {
			t.Errorf("CurrentStage = %d, want 1", got.CurrentStage)
		}
		if got.Generation != 3 {
			t.Errorf("Generation = %d, want 3", got.Generation)
		}
		if got.DegradedTicks != 2 {
			t.Errorf("DegradedTicks = %d, want 2", got.DegradedTicks)
		}
		if !got.StageEnteredAt.Equal(r.StageEnteredAt) {
			t.Errorf("StageEnteredAt = %v, want %v", got.StageEnteredAt, r.StageEnteredAt)
		}
	})

	t.Run("UpdateNotFound", func(t *testing.T) {
		repo := factory(t)
		err := repo.Update(context.Background(), sampleRollout("missing", "billing"))
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Update: got %v, want ErrNotFound", err)
		}
	})

	t.Run("ListByStates", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		a := sampleRollout("r1", "billing")
		a.State = domain.StateProgressing
		b := sampleRollout("r2", "search")
		c := sampleRollout("r3", "checkout")
		c.State = domain.StateRollingBack

		for _, r := range []domain.Rollout{a, b, c} {
			if err := repo.Create(ctx, r); err != nil {
				t.Fatalf("Create %s: %v", r.ID, err)
			}
		}

		got, err := repo.ListByStates(ctx, domain.StateProgressing, domain.StateRollingBack)
		if err != nil {
			t.Fatalf("ListByStates: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("ListByStates len = %d, want 2", len(got))
		}

		all, err := repo.List(ctx)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(all) != 3 {
			t.Fatalf("List len = %d, want 3", len(all))
		}
	})
}
