package domain

import "context"

// RolloutRepository persists rollouts. Create must refuse a second
// non-terminal rollout for the same service with ErrConflict; the
// SQLite implementation enforces this with a partial unique index so
// the invariant survives concurrent submitters.
type RolloutRepository interface {
	Create(ctx context.Context, r Rollout) error
	Get(ctx context.Context, id RolloutID) (Rollout, error)
	ActiveByService(ctx context.Context, service string) (Rollout, error)
	List(ctx context.Context) ([]Rollout, error)
	ListByStates(ctx context.Context, states ...RolloutState) ([]Rollout, error)
	Update(ctx context.Context, r Rollout) error
}

// DecisionRecordRepository is the append-only audit log. Records for
// one rollout are retrievable in the order they were produced; there is
// no ordering guarantee across rollouts.
type DecisionRecordRepository interface {
	Append(ctx context.Context, rec DecisionRecord) error
	ListByRollout(ctx context.Context, id RolloutID) ([]DecisionRecord, error)
	LastN(ctx context.Context, id RolloutID, n int) ([]DecisionRecord, error)
}
