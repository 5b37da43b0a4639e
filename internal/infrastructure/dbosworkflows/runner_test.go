package dbosworkflows_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dbos-inc/dbos-transact-golang/dbos"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/rolloutd/rolloutd/internal/domain"
	"github.com/rolloutd/rolloutd/internal/infrastructure/dbosworkflows"
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

func startPostgres(t *testing.T) string {
	t.Helper()

	// Ryuk (the reaper) requires a Docker bridge network that does not
	// exist on Podman. We handle cleanup via t.Cleanup instead.
	t.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")

	ctx := context.Background()

	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("rolloutd_test"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	testcontainers.CleanupContainer(t, ctr)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}

	connStr, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("get postgres connection string: %v", err)
	}
	return connStr
}

func TestFinalizePromote_DBOS(t *testing.T) {
	connStr := startPostgres(t)

	ctx := context.Background()

	dbosCtx, err := dbos.NewDBOSContext(ctx, dbos.Config{
		AppName:     "rolloutd-dbos-test",
		DatabaseURL: connStr,
	})
	if err != nil {
		t.Fatalf("NewDBOSContext: %v", err)
	}

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
		CurrentStage:   1,
		State:          domain.StatePromoting,
		Finalize:       domain.FinalizePromote,
		StartedAt:      started,
		StageEnteredAt: started,
		Trigger:        domain.TriggerManual,
	}
	if err := rollouts.Create(ctx, r); err != nil {
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
		PromoteReplicas: 4,
		Now:             func() time.Time { return started.Add(30 * time.Minute) },
	}

	engine := &dbosworkflows.Engine{DBOSCtx: dbosCtx}
	runner, err := engine.FinalizeRunner(wf)
	if err != nil {
		t.Fatalf("FinalizeRunner: %v", err)
	}

	if err := dbos.Launch(dbosCtx); err != nil {
		t.Fatalf("dbos.Launch: %v", err)
	}
	t.Cleanup(func() { dbos.Shutdown(dbosCtx, 5*time.Second) })

	handle, err := runner.Run(ctx, domain.FinalizeInput{
		RolloutID: "r1",
		Mode:      domain.FinalizePromote,
		Reason:    "all stages healthy",
		Verdict:   domain.VerdictHealthy,
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
	if got.State != domain.StateSucceeded {
		t.Errorf("State = %q, want %q", got.State, domain.StateSucceeded)
	}

	ops := ports.all()
	want := []string{
		"weights billing-v1=0 billing-v2=100",
		"scale billing-v2=4",
		"scale billing-v1=0",
	}
	if len(ops) != 3 || ops[0] != want[0] || ops[1] != want[1] || ops[2] != want[2] {
		t.Fatalf("ops = %v, want %v", ops, want)
	}
}
