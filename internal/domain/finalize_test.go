package domain_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rolloutd/rolloutd/internal/domain"
)

// syncRunner executes activities inline with the given context.
type syncRunner struct {
	ctx context.Context
}

func (r *syncRunner) ID() string               { return "test-run" }
func (r *syncRunner) Context() context.Context { return r.ctx }
func (r *syncRunner) Run(activity domain.Activity[any, any], in any) (any, error) {
	return activity.Run(r.ctx, in)
}

// memRolloutRepo is an in-memory [domain.RolloutRepository].
type memRolloutRepo struct {
	mu       sync.Mutex
	rollouts map[domain.RolloutID]domain.Rollout
}

func newMemRolloutRepo(rollouts ...domain.Rollout) *memRolloutRepo {
	m := &memRolloutRepo{rollouts: make(map[domain.RolloutID]domain.Rollout)}
	for _, r := range rollouts {
		m.rollouts[r.ID] = r
	}
	return m
}

func (m *memRolloutRepo) Create(_ context.Context, r domain.Rollout) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.rollouts {
		if existing.Service == r.Service && !existing.State.Terminal() {
			return domain.ErrConflict
		}
	}
	m.rollouts[r.ID] = r
	return nil
}

func (m *memRolloutRepo) Get(_ context.Context, id domain.RolloutID) (domain.Rollout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rollouts[id]
	if !ok {
		return domain.Rollout{}, domain.ErrNotFound
	}
	return r, nil
}

func (m *memRolloutRepo) ActiveByService(_ context.Context, service string) (domain.Rollout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rollouts {
		if r.Service == service && !r.State.Terminal() {
			return r, nil
		}
	}
	return domain.Rollout{}, domain.ErrNotFound
}

func (m *memRolloutRepo) List(_ context.Context) ([]domain.Rollout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Rollout, 0, len(m.rollouts))
	for _, r := range m.rollouts {
		out = append(out, r)
	}
	return out, nil
}

func (m *memRolloutRepo) ListByStates(_ context.Context, states ...domain.RolloutState) ([]domain.Rollout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Rollout
	for _, r := range m.rollouts {
		for _, s := range states {
			if r.State == s {
				out = append(out, r)
				break
			}
		}
	}
	return out, nil
}

func (m *memRolloutRepo) Update(_ context.Context, r domain.Rollout) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rollouts[r.ID]; !ok {
		return domain.ErrNotFound
	}
	m.rollouts[r.ID] = r
	return nil
}

// memDecisionRepo is an in-memory append-only audit log.
type memDecisionRepo struct {
	mu      sync.Mutex
	records []domain.DecisionRecord
}

func (m *memDecisionRepo) Append(_ context.Context, rec domain.DecisionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.records {
		if existing.ID == rec.ID {
			return nil
		}
	}
	m.records = append(m.records, rec)
	return nil
}

func (m *memDecisionRepo) ListByRollout(_ context.Context, id domain.RolloutID) ([]domain.DecisionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.DecisionRecord
	for _, rec := range m.records {
		if rec.RolloutID == id {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *memDecisionRepo) LastN(ctx context.Context, id domain.RolloutID, n int) ([]domain.DecisionRecord, error) {
	all, err := m.ListByRollout(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}

// fakeWorkloads records scale instructions.
type fakeWorkloads struct {
	mu    sync.Mutex
	calls []scaleCall
	err   error
}

type scaleCall struct {
	Target string
	Count  int
}

func (f *fakeWorkloads) SetReplicas(_ context.Context, target string, count int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, scaleCall{target, count})
	return nil
}

type finalizeHarness struct {
	wf        *domain.FinalizeWorkflow
	rollouts  *memRolloutRepo
	audit     *memDecisionRepo
	router    *fakeRouter
	workloads *fakeWorkloads
}

func newFinalizeHarness(t *testing.T, r domain.Rollout) finalizeHarness {
	t.Helper()
	rollouts := newMemRolloutRepo(r)
	audit := &memDecisionRepo{}
	router := &fakeRouter{}
	workloads := &fakeWorkloads{}
	wf := &domain.FinalizeWorkflow{
		Rollouts:  rollouts,
		Audit:     audit,
		Router:    router,
		Workloads: workloads,
		Retry: domain.RetryPolicy{
			InitialInterval: time.Millisecond,
			MaxInterval:     2 * time.Millisecond,
			MaxElapsed:      20 * time.Millisecond,
		},
		CallTimeout:     time.Second,
		PromoteReplicas: 4,
		Now:             func() time.Time { return time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC) },
	}
	return finalizeHarness{wf: wf, rollouts: rollouts, audit: audit, router: router, workloads: workloads}
}

func progressingRollout() domain.Rollout {
	r := *canaryRollout()
	r.State = domain.StateRollingBack
	r.CurrentStage = 1
	return r
}

func TestFinalize_RollbackRevertsTrafficBeforeScalingDown(t *testing.T) {
	h := newFinalizeHarness(t, progressingRollout())
	ctx := context.Background()

	_, err := h.wf.Run(&syncRunner{ctx: ctx}, domain.FinalizeInput{
		RolloutID: "r1",
		Mode:      domain.FinalizeRollback,
		Reason:    "error_rate=25 breaches hard threshold 20",
		Verdict:   domain.VerdictFailing,
		Inputs:    map[string]float64{"error_rate": 25},
		Actor:     domain.ActorAutomatic,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(h.router.calls) != 1 {
		t.Fatalf("router calls = %d, want 1", len(h.router.calls))
	}
	if got := h.router.calls[0]; got.StableWeight != 100 || got.CandidateWeight != 0 {
		t.Fatalf("router call = %+v, want (100,0)", got)
	}
	if len(h.workloads.calls) != 1 || h.workloads.calls[0] != (scaleCall{"billing-v2", 0}) {
		t.Fatalf("scale calls = %+v, want candidate scaled to 0", h.workloads.calls)
	}

	r, _ := h.rollouts.Get(ctx, "r1")
	if r.State != domain.StateRolledBack {
		t.Fatalf("State = %q, want rolled_back", r.State)
	}
	if r.EndedAt.IsZero() {
		t.Errorf("EndedAt not set on terminal rollout")
	}

	recs, _ := h.audit.ListByRollout(ctx, "r1")
	if len(recs) != 1 {
		t.Fatalf("decision records = %d, want exactly 1", len(recs))
	}
	if recs[0].Verdict != domain.VerdictFailing || recs[0].Inputs["error_rate"] != 25 {
		t.Errorf("terminal record = %+v, want failing with the breaching sample", recs[0])
	}
}

func TestFinalize_RollbackIsIdempotent(t *testing.T) {
	h := newFinalizeHarness(t, progressingRollout())
	ctx := context.Background()
	in := domain.FinalizeInput{
		RolloutID: "r1",
		Mode:      domain.FinalizeRollback,
		Reason:    "manual",
		Verdict:   domain.VerdictFailing,
		Actor:     domain.ActorManual,
	}

	for i := 0; i < 2; i++ {
		if _, err := h.wf.Run(&syncRunner{ctx: ctx}, in); err != nil {
			t.Fatalf("Run %d: %v", i, err)
		}
	}

	if h.router.callCount() != 1 {
		t.Fatalf("router calls = %d, want 1 (second rollback is a no-op)", h.router.callCount())
	}
	recs, _ := h.audit.ListByRollout(ctx, "r1")
	if len(recs) != 1 {
		t.Fatalf("decision records = %d, want 1", len(recs))
	}
	r, _ := h.rollouts.Get(ctx, "r1")
	if r.State != domain.StateRolledBack {
		t.Fatalf("State = %q, want rolled_back", r.State)
	}
}

func TestFinalize_AbortEndsAborted(t *testing.T) {
	h := newFinalizeHarness(t, progressingRollout())
	ctx := context.Background()

	_, err := h.wf.Run(&syncRunner{ctx: ctx}, domain.FinalizeInput{
		RolloutID: "r1",
		Mode:      domain.FinalizeAbort,
		Reason:    "manual",
		Actor:     domain.ActorManual,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	r, _ := h.rollouts.Get(ctx, "r1")
	if r.State != domain.StateAborted {
		t.Fatalf("State = %q, want aborted", r.State)
	}
	if got := h.router.calls[0]; got.StableWeight != 100 || got.CandidateWeight != 0 {
		t.Fatalf("router call = %+v, want traffic reverted", got)
	}
}

func TestFinalize_RouterRetriesExhaustedMarksRollbackFailed(t *testing.T) {
	h := newFinalizeHarness(t, progressingRollout())
	h.router.err = errors.New("router unreachable")
	ctx := context.Background()

	_, err := h.wf.Run(&syncRunner{ctx: ctx}, domain.FinalizeInput{
		RolloutID: "r1",
		Mode:      domain.FinalizeRollback,
		Reason:    "error_rate breach",
		Verdict:   domain.VerdictFailing,
		Actor:     domain.ActorAutomatic,
	})
	if !errors.Is(err, domain.ErrRollbackFailed) {
		t.Fatalf("Run: got %v, want ErrRollbackFailed", err)
	}

	r, _ := h.rollouts.Get(ctx, "r1")
	if r.State != domain.StateRollbackFailed {
		t.Fatalf("State = %q, want rollback_failed", r.State)
	}

	// The failure is recorded, never silently swallowed.
	recs, _ := h.audit.ListByRollout(ctx, "r1")
	if len(recs) != 1 {
		t.Fatalf("decision records = %d, want 1", len(recs))
	}
}

func TestFinalize_PromoteSequence(t *testing.T) {
	r := progressingRollout()
	r.State = domain.StatePromoting
	r.CurrentStage = 2
	h := newFinalizeHarness(t, r)
	ctx := context.Background()

	_, err := h.wf.Run(&syncRunner{ctx: ctx}, domain.FinalizeInput{
		RolloutID: "r1",
		Mode:      domain.FinalizePromote,
		Reason:    "all stages healthy",
		Verdict:   domain.VerdictHealthy,
		Actor:     domain.ActorAutomatic,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := h.router.calls[0]; got.StableWeight != 0 || got.CandidateWeight != 100 {
		t.Fatalf("router call = %+v, want (0,100)", got)
	}
	wantScales := []scaleCall{{"billing-v2", 4}, {"billing-v1", 0}}
	if len(h.workloads.calls) != 2 || h.workloads.calls[0] != wantScales[0] || h.workloads.calls[1] != wantScales[1] {
		t.Fatalf("scale calls = %+v, want %+v", h.workloads.calls, wantScales)
	}

	got, _ := h.rollouts.Get(ctx, "r1")
	if got.State != domain.StateSucceeded {
		t.Fatalf("State = %q, want succeeded", got.State)
	}
}

func TestFinalize_ScaleFailureDuringRollbackMarksRollbackFailed(t *testing.T) {
	h := newFinalizeHarness(t, progressingRollout())
	h.workloads.err = errors.New("scheduler unavailable")
	ctx := context.Background()

	_, err := h.wf.Run(&syncRunner{ctx: ctx}, domain.FinalizeInput{
		RolloutID: "r1",
		Mode:      domain.FinalizeRollback,
		Reason:    "hard breach",
		Verdict:   domain.VerdictFailing,
		Actor:     domain.ActorAutomatic,
	})
	if !errors.Is(err, domain.ErrRollbackFailed) {
		t.Fatalf("Run: got %v, want ErrRollbackFailed", err)
	}

	// Traffic was still reverted before the scale failure.
	if h.router.callCount() != 1 {
		t.Fatalf("router calls = %d, want 1", h.router.callCount())
	}
}
