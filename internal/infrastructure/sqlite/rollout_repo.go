package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rolloutd/rolloutd/internal/domain"
)

// RolloutRepo implements [domain.RolloutRepository] backed by SQLite.
// The one-active-rollout-per-service invariant is enforced by a partial
// unique index, so it holds even across concurrent submitters.
type RolloutRepo struct {
	DB *sql.DB
}

const rolloutColumns = `id, service, strategy, stable, candidate, stages, current_stage,
	 state, started_at, stage_entered_at, ended_at, triggered_by,
	 last_decision, finalize, generation, degraded_ticks`

func (r *RolloutRepo) Create(ctx context.Context, ro domain.Rollout) error {
	stable, err := json.Marshal(ro.Stable)
	if err != nil {
		return fmt.Errorf("marshal stable release: %w", err)
	}
	candidate, err := json.Marshal(ro.Candidate)
	if err != nil {
		return fmt.Errorf("marshal candidate release: %w", err)
	}
	stages, err := json.Marshal(ro.Stages)
	if err != nil {
		return fmt.Errorf("marshal stages: %w", err)
	}

	_, err = r.DB.ExecContext(ctx,
		`INSERT INTO rollouts (`+rolloutColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(ro.ID), ro.Service, string(ro.Strategy),
		string(stable), string(candidate), string(stages), ro.CurrentStage,
		string(ro.State), formatTime(ro.StartedAt), formatTime(ro.StageEnteredAt),
		nullTime(ro.EndedAt), string(ro.Trigger),
		ro.LastDecision, string(ro.Finalize), ro.Generation, ro.DegradedTicks,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("service %q already has an active rollout: %w", ro.Service, domain.ErrConflict)
		}
		return fmt.Errorf("insert rollout: %w", err)
	}
	return nil
}

func (r *RolloutRepo) Get(ctx context.Context, id domain.RolloutID) (domain.Rollout, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT `+rolloutColumns+` FROM rollouts WHERE id = ?`,
		string(id),
	)
	return scanRollout(row)
}

func (r *RolloutRepo) ActiveByService(ctx context.Context, service string) (domain.Rollout, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT `+rolloutColumns+` FROM rollouts
		 WHERE service = ?
		   AND state NOT IN ('succeeded', 'rolled_back', 'aborted', 'rollback_failed')`,
		service,
	)
	return scanRollout(row)
}

func (r *RolloutRepo) List(ctx context.Context) ([]domain.Rollout, error) {
	return r.query(ctx, `SELECT `+rolloutColumns+` FROM rollouts ORDER BY started_at DESC`)
}

func (r *RolloutRepo) ListByStates(ctx context.Context, states ...domain.RolloutState) ([]domain.Rollout, error) {
	if len(states) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(states)), ", ")
	args := make([]any, len(states))
	for i, s := range states {
		args[i] = string(s)
	}
	return r.query(ctx,
		`SELECT `+rolloutColumns+` FROM rollouts
		 WHERE state IN (`+placeholders+`) ORDER BY started_at`,
		args...,
	)
}

func (r *RolloutRepo) Update(ctx context.Context, ro domain.Rollout) error {
	stages, err := json.Marshal(ro.Stages)
	if err != nil {
		return fmt.Errorf("marshal stages: %w", err)
	}

	res, err := r.DB.ExecContext(ctx,
		`UPDATE rollouts
		 SET stages = ?, current_stage = ?, state = ?,
		     stage_entered_at = ?, ended_at = ?,
		     last_decision = ?, finalize = ?, generation = ?, degraded_ticks = ?
		 WHERE id = ?`,
		string(stages), ro.CurrentStage, string(ro.State),
		formatTime(ro.StageEnteredAt), nullTime(ro.EndedAt),
		ro.LastDecision, string(ro.Finalize), ro.Generation, ro.DegradedTicks,
		string(ro.ID),
	)
	if err != nil {
		return fmt.Errorf("update rollout: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("rollout %q: %w", ro.ID, domain.ErrNotFound)
	}
	return nil
}

func (r *RolloutRepo) query(ctx context.Context, q string, args ...any) ([]domain.Rollout, error) {
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list rollouts: %w", err)
	}
	defer rows.Close()

	var rollouts []domain.Rollout
	for rows.Next() {
		ro, err := scanRollout(rows)
		if err != nil {
			return nil, err
		}
		rollouts = append(rollouts, ro)
	}
	return rollouts, rows.Err()
}

func scanRollout(s scanner) (domain.Rollout, error) {
	var ro domain.Rollout
	var id, service, strategy, stableJSON, candidateJSON, stagesJSON string
	var state, startedAt, stageEnteredAt, trigger, lastDecision, finalize string
	var endedAt sql.NullString
	if err := s.Scan(
		&id, &service, &strategy, &stableJSON, &candidateJSON, &stagesJSON,
		&ro.CurrentStage, &state, &startedAt, &stageEnteredAt, &endedAt,
		&trigger, &lastDecision, &finalize, &ro.Generation, &ro.DegradedTicks,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ro, fmt.Errorf("%w", domain.ErrNotFound)
		}
		return ro, fmt.Errorf("scan rollout: %w", err)
	}

	ro.ID = domain.RolloutID(id)
	ro.Service = service
	ro.Strategy = domain.StrategyType(strategy)
	ro.State = domain.RolloutState(state)
	ro.Trigger = domain.Trigger(trigger)
	ro.LastDecision = lastDecision
	ro.Finalize = domain.FinalizeMode(finalize)

	if err := json.Unmarshal([]byte(stableJSON), &ro.Stable); err != nil {
		return ro, fmt.Errorf("unmarshal stable release: %w", err)
	}
	if err := json.Unmarshal([]byte(candidateJSON), &ro.Candidate); err != nil {
		return ro, fmt.Errorf("unmarshal candidate release: %w", err)
	}
	if err := json.Unmarshal([]byte(stagesJSON), &ro.Stages); err != nil {
		return ro, fmt.Errorf("unmarshal stages: %w", err)
	}

	var err error
	if ro.StartedAt, err = parseTime(startedAt); err != nil {
		return ro, fmt.Errorf("parse started_at: %w", err)
	}
	if ro.StageEnteredAt, err = parseTime(stageEnteredAt); err != nil {
		return ro, fmt.Errorf("parse stage_entered_at: %w", err)
	}
	if endedAt.Valid {
		if ro.EndedAt, err = parseTime(endedAt.String); err != nil {
			return ro, fmt.Errorf("parse ended_at: %w", err)
		}
	}
	return ro, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}
