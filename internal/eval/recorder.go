// SPDX-License-Identifier: Apache-2.0

package eval

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/d-gangz/glowing-braintrust/internal/domain"
	"github.com/google/uuid"
)

// Recorder persists experiments and their records.
type Recorder interface {
	StartExperiment(ctx context.Context, exp domain.Experiment) error
	RecordResult(ctx context.Context, rec domain.EvalRecord) error
	FinishExperiment(ctx context.Context, exp domain.Experiment) error
}

// Notifier is told about every finished experiment.
type Notifier interface {
	ExperimentFinished(ctx context.Context, summary Summary)
}

// LogRecorder writes experiments and records to a logger.
type LogRecorder struct {
	Logger *slog.Logger
}

func (r LogRecorder) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

func (r LogRecorder) StartExperiment(_ context.Context, exp domain.Experiment) error {
	r.logger().Info("experiment started",
		"experiment_id", exp.ID,
		"experiment", exp.Name,
		"chain", exp.Chain,
		"dataset", exp.Dataset,
	)
	return nil
}

func (r LogRecorder) RecordResult(_ context.Context, rec domain.EvalRecord) error {
	attrs := []any{
		"experiment_id", rec.ExperimentID,
		"case_index", rec.CaseIndex,
		"status", rec.Status,
		"duration_ms", rec.DurationMS,
	}
	if rec.Error != "" {
		attrs = append(attrs, "error", rec.Error)
	}
	for name, score := range rec.Scores {
		attrs = append(attrs, "score_"+name, score)
	}
	r.logger().Info("experiment record", attrs...)
	return nil
}

func (r LogRecorder) FinishExperiment(_ context.Context, exp domain.Experiment) error {
	r.logger().Info("experiment finished",
		"experiment_id", exp.ID,
		"experiment", exp.Name,
		"status", exp.Status,
		"total", exp.Total,
		"succeeded", exp.Succeeded,
		"failed", exp.Failed,
	)
	return nil
}

// MemoryRecorder keeps everything in process memory.
type MemoryRecorder struct {
	mu          sync.Mutex
	experiments map[uuid.UUID]domain.Experiment
	records     map[uuid.UUID][]domain.EvalRecord
}

func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{
		experiments: make(map[uuid.UUID]domain.Experiment),
		records:     make(map[uuid.UUID][]domain.EvalRecord),
	}
}

func (m *MemoryRecorder) StartExperiment(_ context.Context, exp domain.Experiment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.experiments[exp.ID] = exp
	return nil
}

func (m *MemoryRecorder) RecordResult(_ context.Context, rec domain.EvalRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.ExperimentID] = append(m.records[rec.ExperimentID], rec)
	return nil
}

func (m *MemoryRecorder) FinishExperiment(_ context.Context, exp domain.Experiment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.experiments[exp.ID] = exp
	return nil
}

func (m *MemoryRecorder) Experiment(id uuid.UUID) (domain.Experiment, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp, ok := m.experiments[id]
	return exp, ok
}

// Records returns an experiment's records ordered by case index.
func (m *MemoryRecorder) Records(id uuid.UUID) []domain.EvalRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.EvalRecord, len(m.records[id]))
	copy(out, m.records[id])
	sort.Slice(out, func(i, j int) bool { return out[i].CaseIndex < out[j].CaseIndex })
	return out
}
