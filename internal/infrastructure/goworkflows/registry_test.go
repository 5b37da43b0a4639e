package goworkflows_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cschleiden/go-workflows/backend"
	wfsqlite "github.com/cschleiden/go-workflows/backend/sqlite"
	"github.com/cschleiden/go-workflows/client"
	"github.com/cschleiden/go-workflows/worker"

	"github.com/rolloutd/rolloutd/internal/domain"
	"github.com/rolloutd/rolloutd/internal/infrastructure/goworkflows"
	"github.com/rolloutd/rolloutd/internal/infrastructure/sqlite"
)

type recordingPorts struct {
	mu  sync.Mutex
	ops []string
}

func (p *recordingPorts) SetWeights(_ context.Context, stable, candidate string, sw, cw int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ops = append(p.ops, fmt.Sprintf("weights %s=%d %s=%d", stable, sw, candidate, cw))
	return nil
}

func (p *recordingPorts) SetReplicas(_ context.Context, target string, count int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ops = append(p.ops, fmt.Sprintf("scale %s=%d", target, count))
	return nil
}

func (p *recordingPorts) all() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.ops...)
}

func startWorker(t *testing.T, b backend.Backend) *worker.Worker {
	t.Helper()
	w := worker.New(b, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		_ = w.WaitForCompletion()
	})
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start worker: %v", err)
	}
	return w
}

func TestFinalizeRollback_GoWorkflows(t *testing.T) {
	b := wfsqlite.NewInMemoryBackend()
	w := startWorker(t, b)
	c := client.New(b)

	db := sqlite.OpenTestDB(t)
	rollouts := &sqlite.RolloutRepo{DB: db}
	audit := &sqlite.DecisionRecordRepo{DB: db}
	ports := &recordingPorts{}

	started := time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC)
	r := domain.Rollout{
		ID:             "r1",
		Service:        "billing",
		Strategy:       domain.StrategyCanary,
		Stable:         domain.Release{Service: "billing", Version: "v1"},
		Candidate:      domain.Release{Service: "billing", Version: "v2"},
		Stages:         []domain.Stage{{CandidateWeight: 25}, {CandidateWeight: 100}},
		State:          domain.StateRollingBack,
		Finalize:       domain.FinalizeRollback,
		StartedAt:      started,
		StageEnteredAt: started,
		Trigger:        domain.TriggerManual,
	}
	if err := rollouts.Create(context.Background(), r); err != nil {
		t.Fatalf("Create: %v", err)
	}

	wf := &domain.FinalizeWorkflow{
		Rollouts:  rollouts,
		Audit:     audit,
		Router:    ports,
		Workloads: ports,
		Retry: domain.RetryPolicy{
			InitialInterval: time.Millisecond,
			MaxInterval:     2 * time.Millisecond,
			MaxElapsed:      20 * time.Millisecond,
		},
		Now: func() time.Time { return started.Add(10 * time.Minute) },
	}

	engine := &goworkflows.Engine{Worker: w, Client: c, Timeout: 10 * time.Second}
	runner, err := engine.FinalizeRunner(wf)
	if err != nil {
		t.Fatalf("FinalizeRunner: %v", err)
	}

	ctx := context.Background()
	handle, err := runner.Run(ctx, domain.FinalizeInput{
		RolloutID: "r1",
		Mode:      domain.FinalizeRollback,
		Reason:    "error_rate breached hard threshold",
		Verdict:   domain.VerdictFailing,
		Actor:     domain.ActorAutomatic,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := handle.AwaitResult(ctx); err != nil {
		t.Fatalf("AwaitResult: %v", err)
	}

	got, err := rollouts.Get(ctx, "r1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.State != domain.StateRolledBack {
		t.Errorf("State = %q, want %q", got.State, domain.StateRolledBack)
	}

	ops := ports.all()
	want := []string{"weights billing-v1=100 billing-v2=0", "scale billing-v2=0"}
	if len(ops) != 2 || ops[0] != want[0] || ops[1] != want[1] {
		t.Fatalf("ops = %v, want %v", ops, want)
	}

	records, err := audit.ListByRollout(ctx, "r1")
	if err != nil {
		t.Fatalf("ListByRollout: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 terminal record, got %d", len(records))
	}
	if records[0].Verdict != domain.VerdictFailing {
		t.Errorf("Verdict = %q, want %q", records[0].Verdict, domain.VerdictFailing)
	}
}
