// Package decisionrepotest provides contract tests for
// [domain.DecisionRecordRepository] implementations.
package decisionrepotest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rolloutd/rolloutd/internal/domain"
)

// Factory creates a fresh [domain.DecisionRecordRepository] for each
// test.
type Factory func(t *testing.T) domain.DecisionRecordRepository

func record(id string, rolloutID domain.RolloutID, verdict domain.Verdict, at time.Time) domain.DecisionRecord {
	return domain.DecisionRecord{
		ID:         id,
		RolloutID:  rolloutID,
		StageIndex: 0,
		Verdict:    verdict,
		Reason:     fmt.Sprintf("verdict %s", verdict),
		Inputs:     map[string]float64{"error_rate": 1.2},
		Actor:      domain.ActorAutomatic,
		At:         at,
	}
}

// Run exercises the [domain.DecisionRecordRepository] contract.
func Run(t *testing.T, factory Factory) {
	base := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)

	t.Run("AppendAndListInOrder", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		verdicts := []domain.Verdict{domain.VerdictHealthy, domain.VerdictHealthy, domain.VerdictDegrading}
		for i, v := range verdicts {
			rec := record(fmt.Sprintf("d%d", i), "r1", v, base.Add(time.Duration(i)*time.Minute))
			if err := repo.Append(ctx, rec); err != nil {
				t.Fatalf("Append %d: %v", i, err)
			}
		}

		got, err := repo.ListByRollout(ctx, "r1")
		if err != nil {
			t.Fatalf("ListByRollout: %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("len = %d, want 3", len(got))
		}
		for i, v := range verdicts {
			if got[i].Verdict != v {
				t.Errorf("record %d verdict = %q, want %q", i, got[i].Verdict, v)
			}
		}
		if got[0].Inputs["error_rate"] != 1.2 {
			t.Errorf("Inputs[error_rate] = %v, want 1.2", got[0].Inputs["error_rate"])
		}
	})

	t.Run("AppendSameIDIsNoOp", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		rec := record("d1", "r1", domain.VerdictFailing, base)
		if err := repo.Append(ctx, rec); err != nil {
			t.Fatalf("first Append: %v", err)
		}
		if err := repo.Append(ctx, rec); err != nil {
			t.Fatalf("second Append: %v", err)
		}

		got, err := repo.ListByRollout(ctx, "r1")
		if err != nil {
			t.Fatalf("ListByRollout: %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("len = %d, want 1 (append must be idempotent per ID)", len(got))
		}
	})

	t.Run("LastN", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		for i := 0; i < 5; i++ {
			rec := record(fmt.Sprintf("d%d", i), "r1", domain.VerdictHealthy, base.Add(time.Duration(i)*time.Minute))
			rec.StageIndex = i
			if err := repo.Append(ctx, rec); err != nil {
				t.Fatalf("Append %d: %v", i, err)
			}
		}

		got, err := repo.LastN(ctx, "r1", 2)
		if err != nil {
			t.Fatalf("LastN: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("len = %d, want 2", len(got))
		}
		// The two most recent, still oldest first.
		if got[0].StageIndex != 3 || got[1].StageIndex != 4 {
			t.Errorf("LastN stage indexes = %d,%d, want 3,4", got[0].StageIndex, got[1].StageIndex)
		}
	})

	t.Run("RolloutsAreIsolated", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		if err := repo.Append(ctx, record("d1", "r1", domain.VerdictHealthy, base)); err != nil {
			t.Fatalf("Append r1: %v", err)
		}
		if err := repo.Append(ctx, record("d2", "r2", domain.VerdictFailing, base)); err != nil {
			t.Fatalf("Append r2: %v", err)
		}

		got, err := repo.ListByRollout(ctx, "r2")
		if err != nil {
			t.Fatalf("ListByRollout: %v", err)
		}
		if len(got) != 1 || got[0].Verdict != domain.VerdictFailing {
			t.Fatalf("r2 records = %+v, want the single failing record", got)
		}
	})

	t.Run("EmptyRollout", func(t *testing.T) {
		repo := factory(t)
		got, err := repo.ListByRollout(context.Background(), "missing")
		if err != nil {
			t.Fatalf("ListByRollout: %v", err)
		}
		if len(got) != 0 {
			t.Fatalf("len = %d, want 0", len(got))
		}
	})
}
