package domain

import "fmt"

// Event drives the rollout state machine. Verdict events come from the
// evaluation loop; action events from operators; done events from the
// finalize workflow.
type Event string

const (
	// EventStart moves a freshly submitted rollout into evaluation.
	EventStart Event = "start"

	// EventHealthyAdvance records a healthy verdict with a further
	// stage remaining.
	EventHealthyAdvance Event = "healthy_advance"

	// EventHealthyFinal records a healthy verdict on the last stage.
	EventHealthyFinal Event = "healthy_final"

	// EventDegrading records a degrading verdict within the stage's
	// evaluation budget. The rollout holds at its current stage.
	EventDegrading Event = "degrading"

	// EventDegradedExhausted records a degrading verdict that exhausted
	// MaxEvaluations. The rollout pauses for manual review.
	EventDegradedExhausted Event = "degraded_exhausted"

	// EventFailing records a failing verdict. Unconditional: preempts
	// dwell timers and evaluation budgets.
	EventFailing Event = "failing"

	EventPromote Event = "promote"
	EventAbort   Event = "abort"
	EventResume  Event = "resume"

	EventPromoteDone    Event = "promote_done"
	EventRollbackDone   Event = "rollback_done"
	EventAbortDone      Event = "abort_done"
	EventRollbackFailed Event = "rollback_failed"
)

// transitions is the complete state machine. Anything not listed is an
// invalid transition.
var transitions = map[RolloutState]map[Event]RolloutState{
	StatePending: {
		EventStart: StateProgressing,
		EventAbort: StateAborted,
	},
	StateProgressing: {
		EventHealthyAdvance:    StateProgressing,
		EventHealthyFinal:      StatePromoting,
		EventDegrading:         StateProgressing,
		EventDegradedExhausted: StatePaused,
		EventFailing:           StateRollingBack,
		EventAbort:             StateRollingBack,
	},
	StatePaused: {
		EventPromote: StateProgressing,
		EventResume:  StateProgressing,
		EventAbort:   StateRollingBack,
		EventFailing: StateRollingBack,
	},
	StatePromoting: {
		EventPromoteDone: StateSucceeded,
		EventFailing:     StateRollingBack,
	},
	StateRollingBack: {
		EventRollbackDone:   StateRolledBack,
		EventAbortDone:      StateAborted,
		EventRollbackFailed: StateRollbackFailed,
	},
}

// Next is the pure transition function of the rollout state machine:
// (current state, event) -> next state. It performs no I/O and is the
// single authority on which transitions are legal.
func Next(state RolloutState, ev Event) (RolloutState, error) {
	if next, ok := transitions[state][ev]; ok {
		return next, nil
	}
	return state, fmt.Errorf("%w: cannot apply %q in state %q", ErrInvalidState, ev, state)
}
