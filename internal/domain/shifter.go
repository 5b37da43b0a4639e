package domain

import (
	"context"
	"fmt"
	"sync"
)

// TrafficShifter translates a rollout stage into a router instruction.
// It caches the last weight applied per rollout so repeated ticks at
// the same stage do not re-call the router, and it refuses to lower a
// weight outside the finalize path: applied weights are monotonically
// non-decreasing until promotion completes or rollback begins.
type TrafficShifter struct {
	Router TrafficRouter

	mu      sync.Mutex
	applied map[RolloutID]int
}

// NewTrafficShifter creates a shifter over the given router.
func NewTrafficShifter(router TrafficRouter) *TrafficShifter {
	return &TrafficShifter{
		Router:  router,
		applied: make(map[RolloutID]int),
	}
}

// SetStage applies the stage's traffic split for the rollout. For
// blue-green the 0 to 100 move is a single all-or-nothing router call;
// there is never an intermediate split.
func (s *TrafficShifter) SetStage(ctx context.Context, r *Rollout, stage Stage) error {
	s.mu.Lock()
	prev, seen := s.applied[r.ID]
	s.mu.Unlock()

	if seen && prev == stage.CandidateWeight {
		return nil
	}
	if seen && stage.CandidateWeight < prev {
		return fmt.Errorf("%w: stage weight %d below applied %d", ErrValidation, stage.CandidateWeight, prev)
	}

	err := s.Router.SetWeights(ctx, r.Stable.Target(), r.Candidate.Target(), 100-stage.CandidateWeight, stage.CandidateWeight)
	if err != nil {
		return fmt.Errorf("set router weights: %w", err)
	}

	s.mu.Lock()
	s.applied[r.ID] = stage.CandidateWeight
	s.mu.Unlock()
	return nil
}

// Applied returns the last candidate weight applied for the rollout.
func (s *TrafficShifter) Applied(id RolloutID) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.applied[id]
	return w, ok
}

// Forget drops the cached weight once a rollout is terminal.
func (s *TrafficShifter) Forget(id RolloutID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.applied, id)
}
