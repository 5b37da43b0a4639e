package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/rolloutd/rolloutd/internal/domain"
)

// DecisionRecordRepo implements [domain.DecisionRecordRepository]
// backed by SQLite. Appends carry a caller-chosen unique ID and are
// idempotent on it, so an at-least-once finalize workflow cannot
// duplicate its terminal record.
type DecisionRecordRepo struct {
	DB *sql.DB
}

func (r *DecisionRecordRepo) Append(ctx context.Context, rec domain.DecisionRecord) error {
	var inputs sql.NullString
	if rec.Inputs != nil {
		b, err := json.Marshal(rec.Inputs)
		if err != nil {
			return fmt.Errorf("marshal inputs: %w", err)
		}
		inputs = sql.NullString{String: string(b), Valid: true}
	}

	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO decision_records (id, rollout_id, stage_index, verdict, reason, inputs, actor, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO NOTHING`,
		rec.ID, string(rec.RolloutID), rec.StageIndex, string(rec.Verdict),
		rec.Reason, inputs, string(rec.Actor), formatTime(rec.At),
	)
	if err != nil {
		return fmt.Errorf("append decision record: %w", err)
	}
	return nil
}

func (r *DecisionRecordRepo) ListByRollout(ctx context.Context, id domain.RolloutID) ([]domain.DecisionRecord, error) {
	return r.query(ctx,
		`SELECT id, rollout_id, stage_index, verdict, reason, inputs, actor, at
		 FROM decision_records WHERE rollout_id = ? ORDER BY seq`,
		string(id),
	)
}

func (r *DecisionRecordRepo) LastN(ctx context.Context, id domain.RolloutID, n int) ([]domain.DecisionRecord, error) {
	records, err := r.query(ctx,
		`SELECT id, rollout_id, stage_index, verdict, reason, inputs, actor, at
		 FROM (SELECT * FROM decision_records WHERE rollout_id = ? ORDER BY seq DESC LIMIT ?)
		 ORDER BY seq`,
		string(id), n,
	)
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *DecisionRecordRepo) query(ctx context.Context, q string, args ...any) ([]domain.DecisionRecord, error) {
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list decision records: %w", err)
	}
	defer rows.Close()

	var records []domain.DecisionRecord
	for rows.Next() {
		rec, err := scanDecisionRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanDecisionRecord(s scanner) (domain.DecisionRecord, error) {
	var rec domain.DecisionRecord
	var rolloutID, verdict, actor, at string
	var inputs sql.NullString
	if err := s.Scan(&rec.ID, &rolloutID, &rec.StageIndex, &verdict, &rec.Reason, &inputs, &actor, &at); err != nil {
		return rec, fmt.Errorf("scan decision record: %w", err)
	}
	rec.RolloutID = domain.RolloutID(rolloutID)
	rec.Verdict = domain.Verdict(verdict)
	rec.Actor = domain.Actor(actor)
	if inputs.Valid {
		if err := json.Unmarshal([]byte(inputs.String), &rec.Inputs); err != nil {
			return rec, fmt.Errorf("unmarshal inputs: %w", err)
		}
	}
	var err error
	if rec.At, err = parseTime(at); err != nil {
		return rec, fmt.Errorf("parse at: %w", err)
	}
	return rec, nil
}
