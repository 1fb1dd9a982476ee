// SPDX-License-Identifier: Apache-2.0

// Package repository stores experiments and their records in Postgres.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/d-gangz/glowing-braintrust/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

type ExperimentRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewExperimentRepository(pool *pgxpool.Pool, logger *slog.Logger) *ExperimentRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExperimentRepository{
		pool:   pool,
		logger: logger,
	}
}

func (r *ExperimentRepository) StartExperiment(ctx context.Context, exp domain.Experiment) error {
	metadata, err := jsonObject(exp.Metadata)
	if err != nil {
		return fmt.Errorf("encode experiment metadata: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO experiments (id, name, project, chain, dataset, metadata, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		exp.ID, exp.Name, exp.Project, exp.Chain, exp.Dataset, metadata, exp.Status, exp.StartedAt,
	)
	if err != nil {
		r.logger.Error("insert experiment failed", "experiment_id", exp.ID, "error", err)
		return err
	}

	r.logger.Info("experiment created", "experiment_id", exp.ID, "experiment", exp.Name)
	return nil
}

func (r *ExperimentRepository) RecordResult(ctx context.Context, rec domain.EvalRecord) error {
	input, err := json.Marshal(rec.Input)
	if err != nil {
		return fmt.Errorf("encode record input: %w", err)
	}
	var expected []byte
	if rec.Expected != nil {
		if expected, err = json.Marshal(rec.Expected); err != nil {
			return fmt.Errorf("encode record expected: %w", err)
		}
	}
	scores, err := jsonObject(rec.Scores)
	if err != nil {
		return fmt.Errorf("encode record scores: %w", err)
	}
	metadata, err := jsonObject(rec.Metadata)
	if err != nil {
		return fmt.Errorf("encode record metadata: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO eval_records (
			id, experiment_id, case_index, case_id, input, expected, output,
			scores, error, metadata, status, duration_ms, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (experiment_id, case_index) DO UPDATE
		SET output = EXCLUDED.output,
		    scores = EXCLUDED.scores,
		    error = EXCLUDED.error,
		    metadata = EXCLUDED.metadata,
		    status = EXCLUDED.status,
		    duration_ms = EXCLUDED.duration_ms
	`,
		rec.ID, rec.ExperimentID, rec.CaseIndex, rec.CaseID, input, expected, rec.Output,
		scores, rec.Error, metadata, rec.Status, rec.DurationMS, rec.CreatedAt,
	)
	if err != nil {
		r.logger.Error("insert eval record failed",
			"experiment_id", rec.ExperimentID,
			"case_index", rec.CaseIndex,
			"error", err,
		)
		return err
	}
	return nil
}

func (r *ExperimentRepository) FinishExperiment(ctx context.Context, exp domain.Experiment) error {
	finishedAt := time.Now().UTC()
	if exp.FinishedAt != nil {
		finishedAt = *exp.FinishedAt
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE experiments
		SET status = $2,
		    total = $3,
		    succeeded = $4,
		    failed = $5,
		    finished_at = $6
		WHERE id = $1
	`,
		exp.ID, exp.Status, exp.Total, exp.Succeeded, exp.Failed, finishedAt,
	)
	if err != nil {
		r.logger.Error("finish experiment failed", "experiment_id", exp.ID, "error", err)
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrExperimentNotFound
	}

	r.logger.Info("experiment stored",
		"experiment_id", exp.ID,
		"status", exp.Status,
		"succeeded", exp.Succeeded,
		"failed", exp.Failed,
	)
	return nil
}

const experimentColumns = `id, name, project, chain, dataset, metadata, status, total, succeeded, failed, started_at, finished_at`

func (r *ExperimentRepository) GetExperiment(ctx context.Context, id uuid.UUID) (domain.Experiment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+experimentColumns+` FROM experiments WHERE id = $1`, id)

	exp, err := scanExperiment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Experiment{}, domain.ErrExperimentNotFound
	}
	if err != nil {
		r.logger.Error("get experiment failed", "experiment_id", id, "error", err)
		return domain.Experiment{}, err
	}
	return exp, nil
}

// ListExperiments returns the most recent experiments first.
func (r *ExperimentRepository) ListExperiments(ctx context.Context, limit int) ([]domain.Experiment, error) {
	limit = clampLimit(limit)

	rows, err := r.pool.Query(ctx, `
		SELECT `+experimentColumns+`
		FROM experiments
		ORDER BY started_at DESC, id
		LIMIT $1
	`, limit)
	if err != nil {
		r.logger.Error("list experiments failed", "error", err)
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Experiment, 0, limit)
	for rows.Next() {
		exp, err := scanExperiment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, exp)
	}
	if err := rows.Err(); err != nil {
		r.logger.Error("list experiments rows failed", "error", err)
		return nil, err
	}
	return out, nil
}

// ListRecords returns an experiment's records in case order.
func (r *ExperimentRepository) ListRecords(ctx context.Context, experimentID uuid.UUID) ([]domain.EvalRecord, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM experiments WHERE id = $1)`,
		experimentID,
	).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, domain.ErrExperimentNotFound
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, experiment_id, case_index, case_id, input, expected, output,
		       scores, error, metadata, status, duration_ms, created_at
		FROM eval_records
		WHERE experiment_id = $1
		ORDER BY case_index
	`, experimentID)
	if err != nil {
		r.logger.Error("list eval records failed", "experiment_id", experimentID, "error", err)
		return nil, err
	}
	defer rows.Close()

	out := []domain.EvalRecord{}
	for rows.Next() {
		var (
			rec                               domain.EvalRecord
			input, expected, scores, metadata []byte
		)
		if err := rows.Scan(
			&rec.ID, &rec.ExperimentID, &rec.CaseIndex, &rec.CaseID, &input, &expected, &rec.Output,
			&scores, &rec.Error, &metadata, &rec.Status, &rec.DurationMS, &rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		if err := decodeJSON(input, &rec.Input); err != nil {
			return nil, fmt.Errorf("decode record input: %w", err)
		}
		if err := decodeJSON(expected, &rec.Expected); err != nil {
			return nil, fmt.Errorf("decode record expected: %w", err)
		}
		if err := decodeJSON(scores, &rec.Scores); err != nil {
			return nil, fmt.Errorf("decode record scores: %w", err)
		}
		if err := decodeJSON(metadata, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("decode record metadata: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanExperiment(row pgx.Row) (domain.Experiment, error) {
	var (
		exp      domain.Experiment
		metadata []byte
	)
	if err := row.Scan(
		&exp.ID, &exp.Name, &exp.Project, &exp.Chain, &exp.Dataset, &metadata,
		&exp.Status, &exp.Total, &exp.Succeeded, &exp.Failed, &exp.StartedAt, &exp.FinishedAt,
	); err != nil {
		return domain.Experiment{}, err
	}
	if err := decodeJSON(metadata, &exp.Metadata); err != nil {
		return domain.Experiment{}, fmt.Errorf("decode experiment metadata: %w", err)
	}
	return exp, nil
}

// jsonObject encodes m for a NOT NULL jsonb column; nil maps become {}.
func jsonObject[M ~map[string]V, V any](m M) ([]byte, error) {
	if m == nil {
		return []byte(`{}`), nil
	}
	return json.Marshal(m)
}

func decodeJSON(raw []byte, dst any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultListLimit
	case limit > maxListLimit:
		return maxListLimit
	default:
		return limit
	}
}
