package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rolloutd/rolloutd/internal/domain"
)

// SubmitInput is the caller-provided request for a new rollout.
type SubmitInput struct {
	Service   string          `json:"service"`
	Stable    domain.Release  `json:"stable"`
	Candidate domain.Release  `json:"candidate"`
	Plan      domain.PlanSpec `json:"plan"`
	Trigger   domain.Trigger  `json:"trigger"`
}

// Status is the operator-facing view of a rollout.
type Status struct {
	Rollout   domain.Rollout          `json:"rollout"`
	Decisions []domain.DecisionRecord `json:"decisions"`
}

// RolloutService owns every rollout mutation. All state changes happen
// under the per-service lock, so transitions for a single rollout are
// strictly serialized.
type RolloutService struct {
	Rollouts domain.RolloutRepository
	Audit    domain.DecisionRecordRepository

	Metrics   domain.MetricsSource
	Evaluator *domain.Evaluator
	Shifter   *domain.TrafficShifter
	Finalizer domain.FinalizeRunner

	Locks  *KeyedMutex
	Logger *slog.Logger

	Defaults      domain.StageDefaults
	QueryTimeout  time.Duration
	MetricsWindow time.Duration

	Now   func() time.Time
	NewID func() string
}

func (s *RolloutService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *RolloutService) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

func (s *RolloutService) log() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *RolloutService) queryTimeout() time.Duration {
	if s.QueryTimeout > 0 {
		return s.QueryTimeout
	}
	return 5 * time.Second
}

func (s *RolloutService) metricsWindow() time.Duration {
	if s.MetricsWindow > 0 {
		return s.MetricsWindow
	}
	return time.Minute
}

// Submit validates the request, registers the rollout, and moves it
// into evaluation. Fails with ErrConflict while the service has a
// non-terminal rollout and with ErrValidation on a malformed plan;
// neither mutates anything.
func (s *RolloutService) Submit(ctx context.Context, in SubmitInput) (domain.Rollout, error) {
	if in.Service == "" {
		return domain.Rollout{}, fmt.Errorf("%w: service is required", domain.ErrValidation)
	}
	if in.Stable.Version == "" || in.Candidate.Version == "" {
		return domain.Rollout{}, fmt.Errorf("%w: stable and candidate versions are required", domain.ErrValidation)
	}
	if in.Stable.Version == in.Candidate.Version {
		return domain.Rollout{}, fmt.Errorf("%w: candidate version equals stable", domain.ErrValidation)
	}

	stages, err := domain.BuildStages(in.Plan, s.Defaults)
	if err != nil {
		return domain.Rollout{}, err
	}

	now := s.now()
	stable, candidate := in.Stable, in.Candidate
	stable.Service, candidate.Service = in.Service, in.Service
	trigger := in.Trigger
	if trigger == "" {
		trigger = domain.TriggerManual
	}

	r := domain.Rollout{
		ID:             domain.RolloutID(s.newID()),
		Service:        in.Service,
		Strategy:       in.Plan.Strategy,
		Stable:         stable,
		Candidate:      candidate,
		Stages:         stages,
		State:          domain.StatePending,
		StartedAt:      now,
		StageEnteredAt: now,
		Trigger:        trigger,
	}

	unlock := s.Locks.Lock(in.Service)
	defer unlock()

	if _, err := s.Rollouts.ActiveByService(ctx, in.Service); err == nil {
		return domain.Rollout{}, fmt.Errorf("%w: service %q has an active rollout", domain.ErrConflict, in.Service)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.Rollout{}, err
	}

	if err := s.Rollouts.Create(ctx, r); err != nil {
		return domain.Rollout{}, err
	}

	// Start immediately. If the router is unreachable the rollout stays
	// Pending and the controller retries on its next pass.
	if err := s.start(ctx, &r); err != nil {
		s.log().Warn("rollout start deferred", "rollout", r.ID, "service", r.Service, "error", err)
	}
	return r, nil
}

// start applies the first stage's split and moves Pending to
// Progressing. Caller holds the service lock.
func (s *RolloutService) start(ctx context.Context, r *domain.Rollout) error {
	next, err := domain.Next(r.State, domain.EventStart)
	if err != nil {
		return err
	}
	if err := s.Shifter.SetStage(ctx, r, r.CurrentStageSpec()); err != nil {
		return err
	}
	r.State = next
	r.StageEnteredAt = s.now()
	if err := s.Rollouts.Update(ctx, *r); err != nil {
		return err
	}
	s.record(ctx, r, "", fmt.Sprintf("rollout started at stage 0 (weight %d)", r.CurrentStageSpec().CandidateWeight), nil, actorFor(r.Trigger))
	s.log().Info("rollout started",
		"rollout", r.ID, "service", r.Service, "strategy", r.Strategy,
		"stable", r.Stable.Version, "candidate", r.Candidate.Version)
	return nil
}

// Tick runs one evaluate-decide-act pass for the rollout. The metrics
// fetch happens outside the lock; its result is discarded if a manual
// action moved the rollout's generation while the query was in flight.
func (s *RolloutService) Tick(ctx context.Context, id domain.RolloutID) error {
	r, err := s.Rollouts.Get(ctx, id)
	if err != nil {
		return err
	}

	unlock := s.Locks.Lock(r.Service)
	r, err = s.Rollouts.Get(ctx, id)
	if err != nil {
		unlock()
		return err
	}

	switch r.State {
	case domain.StatePending:
		err := s.start(ctx, &r)
		unlock()
		return err
	case domain.StateProgressing:
		// fall through to evaluation
	default:
		unlock()
		return nil
	}

	gen := r.Generation
	stage := r.CurrentStageSpec()
	target := r.Candidate.Target()
	unlock()

	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout())
	samples, queryErr := s.Metrics.Query(queryCtx, target, domain.CriteriaMetrics(stage.Criteria), s.metricsWindow())
	cancel()

	unlock = s.Locks.Lock(r.Service)
	defer unlock()

	r, err = s.Rollouts.Get(ctx, id)
	if err != nil {
		return err
	}
	if r.State != domain.StateProgressing || r.Generation != gen {
		// A manual action won the race; this tick's result is void.
		return nil
	}

	var eval domain.Evaluation
	if queryErr != nil {
		// A failed fetch is missing evidence for this tick. It degrades
		// outright; the existing window must not vouch for an interval
		// it was never asked about.
		s.log().Warn("metrics query failed", "rollout", r.ID, "target", target, "error", queryErr)
		eval = domain.Evaluation{
			Verdict: domain.VerdictDegrading,
			Reason:  fmt.Sprintf("metrics query failed: %v", queryErr),
		}
	} else {
		s.Evaluator.Observe(samples)
		eval = s.Evaluator.Evaluate(target, stage.Criteria)
	}
	return s.applyVerdict(ctx, &r, stage, eval)
}

// applyVerdict advances, holds, pauses, or rolls back based on the
// verdict. Caller holds the service lock.
func (s *RolloutService) applyVerdict(ctx context.Context, r *domain.Rollout, stage domain.Stage, eval domain.Evaluation) error {
	now := s.now()

	switch eval.Verdict {
	case domain.VerdictFailing:
		// Unconditional: preempts dwell timers and evaluation budgets.
		// The finalize workflow writes the single terminal record.
		return s.beginFinalize(ctx, r, domain.FinalizeRollback, domain.EventFailing, domain.FinalizeInput{
			RolloutID: r.ID,
			Mode:      domain.FinalizeRollback,
			Reason:    eval.Reason,
			Verdict:   eval.Verdict,
			Inputs:    eval.Inputs,
			Actor:     domain.ActorAutomatic,
		})

	case domain.VerdictDegrading:
		r.DegradedTicks++
		r.LastDecision = eval.Reason
		if r.DegradedTicks >= stage.MaxEvaluations {
			next, err := domain.Next(r.State, domain.EventDegradedExhausted)
			if err != nil {
				return err
			}
			r.State = next
			if err := s.Rollouts.Update(ctx, *r); err != nil {
				return err
			}
			s.record(ctx, r, eval.Verdict, fmt.Sprintf("paused for manual review: %s (%d degrading evaluations)", eval.Reason, r.DegradedTicks), eval.Inputs, domain.ActorAutomatic)
			s.log().Warn("rollout paused", "rollout", r.ID, "service", r.Service, "reason", eval.Reason)
			return nil
		}
		if err := s.Rollouts.Update(ctx, *r); err != nil {
			return err
		}
		s.record(ctx, r, eval.Verdict, eval.Reason, eval.Inputs, domain.ActorAutomatic)
		return nil

	case domain.VerdictHealthy:
		r.DegradedTicks = 0
		r.LastDecision = eval.Reason

		if now.Sub(r.StageEnteredAt) < stage.MinDwell {
			if err := s.Rollouts.Update(ctx, *r); err != nil {
				return err
			}
			s.record(ctx, r, eval.Verdict, fmt.Sprintf("healthy, holding for dwell (%s remaining)", stage.MinDwell-now.Sub(r.StageEnteredAt)), eval.Inputs, domain.ActorAutomatic)
			return nil
		}

		if r.LastStage() {
			return s.beginFinalize(ctx, r, domain.FinalizePromote, domain.EventHealthyFinal, domain.FinalizeInput{
				RolloutID: r.ID,
				Mode:      domain.FinalizePromote,
				Reason:    "all stages healthy",
				Verdict:   eval.Verdict,
				Inputs:    eval.Inputs,
				Actor:     domain.ActorAutomatic,
			})
		}
		return s.advanceStage(ctx, r, eval.Inputs, domain.ActorAutomatic, eval.Verdict)
	}
	return fmt.Errorf("unknown verdict %q", eval.Verdict)
}

// advanceStage moves to the next stage and applies its split. Caller
// holds the service lock.
func (s *RolloutService) advanceStage(ctx context.Context, r *domain.Rollout, inputs map[string]float64, actor domain.Actor, verdict domain.Verdict) error {
	next, err := domain.Next(r.State, domain.EventHealthyAdvance)
	if err != nil {
		return err
	}

	nextStage := r.Stages[r.CurrentStage+1]
	if err := s.Shifter.SetStage(ctx, r, nextStage); err != nil {
		// Transient router failure: hold at the current stage and let
		// the next tick retry the shift.
		return err
	}

	r.State = next
	r.CurrentStage++
	r.StageEnteredAt = s.now()
	r.DegradedTicks = 0
	if err := s.Rollouts.Update(ctx, *r); err != nil {
		return err
	}
	s.record(ctx, r, verdict, fmt.Sprintf("advanced to stage %d (weight %d)", r.CurrentStage, nextStage.CandidateWeight), inputs, actor)
	s.log().Info("stage advanced", "rollout", r.ID, "service", r.Service, "stage", r.CurrentStage, "weight", nextStage.CandidateWeight)
	return nil
}

// beginFinalize transitions into the finalize state and runs the
// terminal sequence. Caller holds the service lock.
func (s *RolloutService) beginFinalize(ctx context.Context, r *domain.Rollout, mode domain.FinalizeMode, ev domain.Event, in domain.FinalizeInput) error {
	next, err := domain.Next(r.State, ev)
	if err != nil {
		return err
	}
	r.State = next
	r.Finalize = mode
	r.LastDecision = in.Reason
	if err := s.Rollouts.Update(ctx, *r); err != nil {
		return err
	}
	return s.runFinalize(ctx, r, in)
}

// runFinalize executes the finalize workflow and cleans up evaluator
// and shifter state once the rollout is terminal.
func (s *RolloutService) runFinalize(ctx context.Context, r *domain.Rollout, in domain.FinalizeInput) error {
	handle, err := s.Finalizer.Run(ctx, in)
	if err != nil {
		return fmt.Errorf("start finalize workflow: %w", err)
	}
	if _, err := handle.AwaitResult(ctx); err != nil {
		if errors.Is(err, domain.ErrRollbackFailed) {
			s.log().Error("rollback failed, manual intervention required",
				"rollout", r.ID, "service", r.Service, "error", err)
			return err
		}
		if in.Mode == domain.FinalizePromote {
			// A candidate that cannot be promoted cleanly is not
			// trusted at full traffic: revert.
			s.log().Error("promotion failed, reverting", "rollout", r.ID, "error", err)
			return s.beginFinalize(ctx, r, domain.FinalizeRollback, domain.EventFailing, domain.FinalizeInput{
				RolloutID: r.ID,
				Mode:      domain.FinalizeRollback,
				Reason:    fmt.Sprintf("promotion failed: %v", err),
				Verdict:   domain.VerdictFailing,
				Actor:     domain.ActorAutomatic,
			})
		}
		return err
	}

	s.Shifter.Forget(r.ID)
	s.Evaluator.Windows.Drop(r.Candidate.Target())
	s.log().Info("rollout finalized", "rollout", r.ID, "service", r.Service, "mode", in.Mode)
	return nil
}

// Promote forces a paused rollout past its current stage: to the next
// stage, or to full promotion if it was the last.
func (s *RolloutService) Promote(ctx context.Context, id domain.RolloutID) (domain.Rollout, error) {
	return s.manual(ctx, id, domain.EventPromote, func(ctx context.Context, r *domain.Rollout) error {
		if r.LastStage() {
			return s.beginFinalize(ctx, r, domain.FinalizePromote, domain.EventHealthyFinal, domain.FinalizeInput{
				RolloutID: r.ID,
				Mode:      domain.FinalizePromote,
				Reason:    "manual promote",
				Verdict:   domain.VerdictHealthy,
				Actor:     domain.ActorManual,
			})
		}
		return s.advanceStage(ctx, r, nil, domain.ActorManual, domain.VerdictHealthy)
	})
}

// Resume returns a paused rollout to evaluation at its current stage
// with a fresh evaluation budget.
func (s *RolloutService) Resume(ctx context.Context, id domain.RolloutID) (domain.Rollout, error) {
	return s.manual(ctx, id, domain.EventResume, func(ctx context.Context, r *domain.Rollout) error {
		r.DegradedTicks = 0
		if err := s.Rollouts.Update(ctx, *r); err != nil {
			return err
		}
		s.record(ctx, r, "", "resumed by operator", nil, domain.ActorManual)
		return nil
	})
}

// Abort cancels the rollout. A pending rollout ends Aborted directly;
// once the candidate may have traffic, abort runs the full revert
// sequence first.
func (s *RolloutService) Abort(ctx context.Context, id domain.RolloutID) (domain.Rollout, error) {
	return s.manual(ctx, id, domain.EventAbort, func(ctx context.Context, r *domain.Rollout) error {
		if r.State == domain.StateAborted {
			// Came straight from Pending: no traffic to revert.
			r.EndedAt = s.now()
			if err := s.Rollouts.Update(ctx, *r); err != nil {
				return err
			}
			s.record(ctx, r, "", "aborted before start", nil, domain.ActorManual)
			return nil
		}
		r.Finalize = domain.FinalizeAbort
		if err := s.Rollouts.Update(ctx, *r); err != nil {
			return err
		}
		return s.runFinalize(ctx, r, domain.FinalizeInput{
			RolloutID: r.ID,
			Mode:      domain.FinalizeAbort,
			Reason:    "manual abort",
			Actor:     domain.ActorManual,
		})
	})
}

// manual applies an operator action under the service lock. The
// generation bump makes any in-flight tick discard its result: manual
// intent always wins the race.
func (s *RolloutService) manual(ctx context.Context, id domain.RolloutID, ev domain.Event, act func(context.Context, *domain.Rollout) error) (domain.Rollout, error) {
	r, err := s.Rollouts.Get(ctx, id)
	if err != nil {
		return domain.Rollout{}, err
	}

	unlock := s.Locks.Lock(r.Service)
	defer unlock()

	r, err = s.Rollouts.Get(ctx, id)
	if err != nil {
		return domain.Rollout{}, err
	}

	next, err := domain.Next(r.State, ev)
	if err != nil {
		return domain.Rollout{}, err
	}
	r.State = next
	r.Generation++

	if err := act(ctx, &r); err != nil {
		return domain.Rollout{}, err
	}
	return s.Rollouts.Get(ctx, id)
}

// Status returns the rollout with its most recent decisions.
func (s *RolloutService) Status(ctx context.Context, id domain.RolloutID, lastN int) (Status, error) {
	r, err := s.Rollouts.Get(ctx, id)
	if err != nil {
		return Status{}, err
	}
	if lastN <= 0 {
		lastN = 10
	}
	decisions, err := s.Audit.LastN(ctx, id, lastN)
	if err != nil {
		return Status{}, err
	}
	return Status{Rollout: r, Decisions: decisions}, nil
}

// List returns every rollout, newest first ordering left to the
// repository.
func (s *RolloutService) List(ctx context.Context) ([]domain.Rollout, error) {
	return s.Rollouts.List(ctx)
}

// ResumeInterrupted restarts finalize sequences found mid-flight after
// a controller restart. Progressing and Paused rollouts need nothing
// here: the tick loop picks them up at their persisted stage.
func (s *RolloutService) ResumeInterrupted(ctx context.Context) error {
	interrupted, err := s.Rollouts.ListByStates(ctx, domain.StateRollingBack, domain.StatePromoting)
	if err != nil {
		return err
	}
	for _, r := range interrupted {
		mode := r.Finalize
		if mode == "" {
			mode = domain.FinalizeRollback
		}
		var verdict domain.Verdict
		switch mode {
		case domain.FinalizePromote:
			verdict = domain.VerdictHealthy
		case domain.FinalizeRollback:
			verdict = domain.VerdictFailing
		}
		unlock := s.Locks.Lock(r.Service)
		err := s.runFinalize(ctx, &r, domain.FinalizeInput{
			RolloutID: r.ID,
			Mode:      mode,
			Reason:    "resumed after controller restart",
			Verdict:   verdict,
			Actor:     domain.ActorAutomatic,
		})
		unlock()
		if err != nil && !errors.Is(err, domain.ErrRollbackFailed) {
			return err
		}
	}
	return nil
}

// record appends an audit entry; audit failures are logged, never
// allowed to wedge the control loop.
func (s *RolloutService) record(ctx context.Context, r *domain.Rollout, verdict domain.Verdict, reason string, inputs map[string]float64, actor domain.Actor) {
	rec := domain.DecisionRecord{
		ID:         s.newID(),
		RolloutID:  r.ID,
		StageIndex: r.CurrentStage,
		Verdict:    verdict,
		Reason:     reason,
		Inputs:     inputs,
		Actor:      actor,
		At:         s.now(),
	}
	if err := s.Audit.Append(ctx, rec); err != nil {
		s.log().Error("append decision record", "rollout", r.ID, "error", err)
	}
}

func actorFor(t domain.Trigger) domain.Actor {
	if t == domain.TriggerAutomatic {
		return domain.ActorAutomatic
	}
	return domain.ActorManual
}
