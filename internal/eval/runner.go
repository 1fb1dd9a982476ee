// SPDX-License-Identifier: Apache-2.0

// Package eval runs a task over every case of a dataset, scores the outputs
// and records the results as an experiment.
package eval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/d-gangz/glowing-braintrust/internal/chain"
	"github.com/d-gangz/glowing-braintrust/internal/domain"
	"github.com/d-gangz/glowing-braintrust/internal/invoke"
	"github.com/d-gangz/glowing-braintrust/internal/metrics"
	"github.com/d-gangz/glowing-braintrust/internal/stream"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Task produces the output for one case.
type Task func(ctx context.Context, in invoke.Input) (invoke.Result, error)

// ChainTask runs c for each case.
func ChainTask(c *chain.Chain) Task {
	return c.Run
}

type Config struct {
	Task    Task
	Dataset Dataset
	Scorers []Scorer
	// Recorder defaults to a LogRecorder on Logger.
	Recorder Recorder
	Notifier Notifier
	// Concurrency bounds how many cases run at once; values below 1 mean 1.
	Concurrency int
	Logger      *slog.Logger
}

type Runner struct {
	task        Task
	dataset     Dataset
	scorers     []Scorer
	recorder    Recorder
	notifier    Notifier
	concurrency int
	logger      *slog.Logger
}

func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Task == nil {
		return nil, errors.New("eval runner requires a task")
	}
	if cfg.Dataset == nil {
		return nil, errors.New("eval runner requires a dataset")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Recorder
	if recorder == nil {
		recorder = LogRecorder{Logger: logger}
	}
	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	return &Runner{
		task:        cfg.Task,
		dataset:     cfg.Dataset,
		scorers:     cfg.Scorers,
		recorder:    recorder,
		notifier:    cfg.Notifier,
		concurrency: concurrency,
		logger:      logger,
	}, nil
}

type Summary struct {
	Experiment domain.Experiment   `json:"experiment"`
	Records    []domain.EvalRecord `json:"records"`
}

// Run evaluates every case. A failing case is recorded and does not stop the
// others; only dataset or recorder failures fail the run.
func (r *Runner) Run(ctx context.Context, exp domain.Experiment) (*Summary, error) {
	if exp.ID == uuid.Nil {
		exp.ID = uuid.New()
	}
	exp.Status = domain.ExperimentRunning
	exp.StartedAt = time.Now().UTC()
	exp.Metadata = maps.Clone(exp.Metadata)

	if err := r.recorder.StartExperiment(ctx, exp); err != nil {
		return nil, fmt.Errorf("start experiment %s: %w", exp.Name, err)
	}

	cases, err := r.dataset.Load(ctx)
	if err != nil {
		r.finish(ctx, &exp, domain.ExperimentFailed, nil)
		return nil, fmt.Errorf("load dataset for %s: %w", exp.Name, err)
	}
	exp.Total = len(cases)

	records := make([]domain.EvalRecord, len(cases))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for i, c := range cases {
		g.Go(func() error {
			rec := r.evaluate(gctx, exp.ID, i, c)
			records[i] = rec
			metrics.IncEvalRecord(rec.Status)
			if err := r.recorder.RecordResult(gctx, rec); err != nil {
				return fmt.Errorf("record case %d: %w", i, err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		r.finish(ctx, &exp, domain.ExperimentFailed, records)
		return nil, fmt.Errorf("experiment %s: %w", exp.Name, err)
	}

	r.finish(ctx, &exp, domain.ExperimentSucceeded, records)
	summary := &Summary{Experiment: exp, Records: records}
	if r.notifier != nil {
		r.notifier.ExperimentFinished(ctx, *summary)
	}
	return summary, nil
}

func (r *Runner) finish(ctx context.Context, exp *domain.Experiment, status domain.ExperimentStatus, records []domain.EvalRecord) {
	finished := time.Now().UTC()
	exp.Status = status
	exp.FinishedAt = &finished
	exp.Succeeded, exp.Failed = 0, 0
	for _, rec := range records {
		switch rec.Status {
		case domain.RecordSucceeded:
			exp.Succeeded++
		case domain.RecordFailed:
			exp.Failed++
		}
	}

	if err := r.recorder.FinishExperiment(ctx, *exp); err != nil {
		r.logger.Error("finish experiment failed",
			"experiment_id", exp.ID,
			"experiment", exp.Name,
			"error", err,
		)
	}
	r.logger.Info("experiment complete",
		"experiment_id", exp.ID,
		"experiment", exp.Name,
		"status", exp.Status,
		"total", exp.Total,
		"succeeded", exp.Succeeded,
		"failed", exp.Failed,
		"duration_ms", finished.Sub(exp.StartedAt).Milliseconds(),
	)
}

func (r *Runner) evaluate(ctx context.Context, experimentID uuid.UUID, index int, c Case) domain.EvalRecord {
	started := time.Now()
	rec := domain.EvalRecord{
		ID:           uuid.New(),
		ExperimentID: experimentID,
		CaseIndex:    index,
		CaseID:       c.ID,
		Input:        map[string]string(c.Input.Clone()),
		Expected:     c.Expected,
		Metadata:     maps.Clone(c.Metadata),
		Status:       domain.RecordSucceeded,
	}

	output, err := r.output(ctx, c)
	rec.Output = output
	if err != nil {
		rec.Status = domain.RecordFailed
		rec.Error = err.Error()
		r.logger.Warn("experiment case failed",
			"experiment_id", experimentID,
			"case_index", index,
			"error", err,
		)
	} else {
		r.score(ctx, &rec, c, output)
	}

	rec.DurationMS = time.Since(started).Milliseconds()
	rec.CreatedAt = time.Now().UTC()
	return rec
}

// score records each scorer's result; a failing scorer leaves its score out
// and notes the error in the record metadata.
func (r *Runner) score(ctx context.Context, rec *domain.EvalRecord, c Case, output string) {
	if len(r.scorers) == 0 {
		return
	}
	rec.Scores = make(map[string]float64, len(r.scorers))
	for _, s := range r.scorers {
		score, err := s.Score(ctx, c, output)
		if err != nil {
			if rec.Metadata == nil {
				rec.Metadata = map[string]any{}
			}
			rec.Metadata["scorer_error_"+s.Name()] = err.Error()
			continue
		}
		rec.Scores[s.Name()] = score
	}
}

func (r *Runner) output(ctx context.Context, c Case) (string, error) {
	res, err := r.task(ctx, c.Input.Clone())
	if err != nil {
		return "", err
	}
	return stream.FromResult(res).Drain(ctx)
}
