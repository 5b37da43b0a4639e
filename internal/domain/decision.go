package domain

import "time"

// Actor records who made a decision.
type Actor string

const (
	ActorAutomatic Actor = "automatic"
	ActorManual    Actor = "manual"
)

// DecisionRecord is one append-only audit entry: a verdict, the inputs
// it was rendered from, and who acted on it. Never mutated or deleted
// while the rollout exists.
type DecisionRecord struct {
	ID         string             `json:"id"`
	RolloutID  RolloutID          `json:"rolloutId"`
	StageIndex int                `json:"stageIndex"`
	Verdict    Verdict            `json:"verdict"`
	Reason     string             `json:"reason"`
	Inputs     map[string]float64 `json:"inputs,omitempty"`
	Actor      Actor              `json:"actor"`
	At         time.Time          `json:"at"`
}
