// SPDX-License-Identifier: Apache-2.0

package eval

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/d-gangz/glowing-braintrust/internal/chain"
	"github.com/d-gangz/glowing-braintrust/internal/domain"
	"github.com/d-gangz/glowing-braintrust/internal/invoke"
	"github.com/d-gangz/glowing-braintrust/internal/invoke/invoketest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func genreCases(genres ...string) Inline {
	out := make(Inline, 0, len(genres))
	for _, g := range genres {
		out = append(out, Case{Input: invoke.Input{"genre": g, "context": "somewhere"}})
	}
	return out
}

type captureNotifier struct {
	mu        sync.Mutex
	summaries []Summary
}

func (n *captureNotifier) ExperimentFinished(_ context.Context, s Summary) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.summaries = append(n.summaries, s)
}

type failingRecorder struct {
	*MemoryRecorder
}

func (failingRecorder) RecordResult(context.Context, domain.EvalRecord) error {
	return errors.New("disk full")
}

func TestRunRecordsEveryCase(t *testing.T) {
	task := func(_ context.Context, in invoke.Input) (invoke.Result, error) {
		return invoke.Text("a " + in.Get("genre") + " story"), nil
	}
	rec := NewMemoryRecorder()
	notifier := &captureNotifier{}

	r, err := NewRunner(Config{
		Task:     task,
		Dataset:  genreCases("romance", "thriller"),
		Scorers:  []Scorer{NonEmpty()},
		Recorder: rec,
		Notifier: notifier,
		Logger:   discardLogger(),
	})
	require.NoError(t, err)

	summary, err := r.Run(context.Background(), domain.Experiment{Name: "prompt_chain_evaluation", Chain: "story"})
	require.NoError(t, err)

	exp := summary.Experiment
	assert.NotEqual(t, uuid.Nil, exp.ID)
	assert.Equal(t, domain.ExperimentSucceeded, exp.Status)
	assert.Equal(t, 2, exp.Total)
	assert.Equal(t, 2, exp.Succeeded)
	assert.Equal(t, 0, exp.Failed)
	require.NotNil(t, exp.FinishedAt)

	require.Len(t, summary.Records, 2)
	assert.Equal(t, "a romance story", summary.Records[0].Output)
	assert.Equal(t, "a thriller story", summary.Records[1].Output)
	assert.Equal(t, map[string]float64{"non_empty": 1}, summary.Records[0].Scores)

	stored, ok := rec.Experiment(exp.ID)
	require.True(t, ok)
	assert.Equal(t, domain.ExperimentSucceeded, stored.Status)
	assert.Len(t, rec.Records(exp.ID), 2)

	require.Len(t, notifier.summaries, 1)
	assert.Equal(t, exp.ID, notifier.summaries[0].Experiment.ID)
}

func TestRunIsolatesFailingCases(t *testing.T) {
	task := func(_ context.Context, in invoke.Input) (invoke.Result, error) {
		if in.Get("genre") == "thriller" {
			return nil, errors.New("rate limited")
		}
		return invoke.Text("ok"), nil
	}

	r, err := NewRunner(Config{Task: task, Dataset: genreCases("romance", "thriller", "horror"), Logger: discardLogger()})
	require.NoError(t, err)

	summary, err := r.Run(context.Background(), domain.Experiment{Name: "partial"})
	require.NoError(t, err)

	assert.Equal(t, domain.ExperimentSucceeded, summary.Experiment.Status)
	assert.Equal(t, 2, summary.Experiment.Succeeded)
	assert.Equal(t, 1, summary.Experiment.Failed)

	failed := summary.Records[1]
	assert.Equal(t, domain.RecordFailed, failed.Status)
	assert.Equal(t, "rate limited", failed.Error)
	assert.Empty(t, failed.Output)
	assert.Nil(t, failed.Scores)
}

func TestRunWithoutScorersLeavesScoresEmpty(t *testing.T) {
	task := func(context.Context, invoke.Input) (invoke.Result, error) { return invoke.Text("x"), nil }

	r, err := NewRunner(Config{Task: task, Dataset: genreCases("romance"), Logger: discardLogger()})
	require.NoError(t, err)

	summary, err := r.Run(context.Background(), domain.Experiment{Name: "no-scores"})
	require.NoError(t, err)
	require.Len(t, summary.Records, 1)
	assert.Nil(t, summary.Records[0].Scores)
	assert.Equal(t, domain.RecordSucceeded, summary.Records[0].Status)
}

func TestRunDrainsStreamingOutput(t *testing.T) {
	src := invoketest.TextStream("Once ", "", "upon ", "a time")
	task := func(context.Context, invoke.Input) (invoke.Result, error) {
		return &invoke.Stream{Chunks: src}, nil
	}

	r, err := NewRunner(Config{Task: task, Dataset: genreCases("fable"), Logger: discardLogger()})
	require.NoError(t, err)

	summary, err := r.Run(context.Background(), domain.Experiment{Name: "stream"})
	require.NoError(t, err)
	assert.Equal(t, "Once upon a time", summary.Records[0].Output)
	assert.True(t, src.Closed())
}

func TestRunKeepsPartialOutputOfBrokenStream(t *testing.T) {
	src := invoketest.TextStream("Once ")
	src.Error = errors.New("connection reset")
	task := func(context.Context, invoke.Input) (invoke.Result, error) {
		return &invoke.Stream{Chunks: src}, nil
	}

	r, err := NewRunner(Config{Task: task, Dataset: genreCases("fable"), Logger: discardLogger()})
	require.NoError(t, err)

	summary, err := r.Run(context.Background(), domain.Experiment{Name: "broken"})
	require.NoError(t, err)
	rec := summary.Records[0]
	assert.Equal(t, domain.RecordFailed, rec.Status)
	assert.Contains(t, rec.Error, "connection reset")
	assert.Equal(t, "Once ", rec.Output)
}

func TestRunScorerErrorGoesToMetadata(t *testing.T) {
	task := func(context.Context, invoke.Input) (invoke.Result, error) { return invoke.Text("x"), nil }

	r, err := NewRunner(Config{
		Task:    task,
		Dataset: genreCases("romance"),
		Scorers: []Scorer{ExactMatch(), NonEmpty()},
		Logger:  discardLogger(),
	})
	require.NoError(t, err)

	summary, err := r.Run(context.Background(), domain.Experiment{Name: "scorer-error"})
	require.NoError(t, err)
	rec := summary.Records[0]
	assert.Equal(t, domain.RecordSucceeded, rec.Status)
	assert.Equal(t, map[string]float64{"non_empty": 1}, rec.Scores)
	assert.Contains(t, rec.Metadata, "scorer_error_exact_match")
}

func TestRunRespectsConcurrencyLimit(t *testing.T) {
	var running, peak atomic.Int32
	task := func(context.Context, invoke.Input) (invoke.Result, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		running.Add(-1)
		return invoke.Text("ok"), nil
	}

	r, err := NewRunner(Config{
		Task:        task,
		Dataset:     genreCases("a", "b", "c", "d", "e", "f"),
		Concurrency: 2,
		Logger:      discardLogger(),
	})
	require.NoError(t, err)

	_, err = r.Run(context.Background(), domain.Experiment{Name: "bounded"})
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestRunDatasetFailureFailsExperiment(t *testing.T) {
	rec := NewMemoryRecorder()
	notifier := &captureNotifier{}
	dataset := NewLazy(func(context.Context) ([]Case, error) {
		return nil, errors.New("dataset not found")
	})

	r, err := NewRunner(Config{
		Task:     func(context.Context, invoke.Input) (invoke.Result, error) { return invoke.Text("x"), nil },
		Dataset:  dataset,
		Recorder: rec,
		Notifier: notifier,
		Logger:   discardLogger(),
	})
	require.NoError(t, err)

	summary, err := r.Run(context.Background(), domain.Experiment{Name: "missing-dataset"})
	require.Error(t, err)
	assert.Nil(t, summary)
	assert.Contains(t, err.Error(), "dataset not found")
	assert.Empty(t, notifier.summaries)

	ids := experimentIDs(rec)
	require.Len(t, ids, 1)
	exp, _ := rec.Experiment(ids[0])
	assert.Equal(t, domain.ExperimentFailed, exp.Status)
	assert.Equal(t, 0, exp.Total)
}

func TestRunRecorderFailureFailsExperiment(t *testing.T) {
	mem := NewMemoryRecorder()
	r, err := NewRunner(Config{
		Task:     func(context.Context, invoke.Input) (invoke.Result, error) { return invoke.Text("x"), nil },
		Dataset:  genreCases("romance"),
		Recorder: failingRecorder{mem},
		Logger:   discardLogger(),
	})
	require.NoError(t, err)

	_, err = r.Run(context.Background(), domain.Experiment{Name: "recorder-down"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	// The experiment row is still closed out as failed.
	var found bool
	for _, id := range experimentIDs(mem) {
		exp, _ := mem.Experiment(id)
		assert.Equal(t, domain.ExperimentFailed, exp.Status)
		found = true
	}
	assert.True(t, found)
}

func TestRunWithChainTask(t *testing.T) {
	fake := invoketest.NewInvoker().Returns("story-4omini", invoke.Text("The end."))
	c, err := chain.New(chain.Config{
		Name:    "one-step",
		Project: "workflow-glowing",
		Invoker: fake,
		Logger:  discardLogger(),
		Steps: []chain.Step{
			{Name: "story", Slug: "story-4omini", Shape: invoke.ShapeText, Params: chain.FromTask("outline")},
		},
	})
	require.NoError(t, err)

	r, err := NewRunner(Config{
		Task:    ChainTask(c),
		Dataset: Inline{{Input: invoke.Input{"outline": "a map"}}},
		Logger:  discardLogger(),
	})
	require.NoError(t, err)

	summary, err := r.Run(context.Background(), domain.Experiment{Name: "chain"})
	require.NoError(t, err)
	assert.Equal(t, "The end.", summary.Records[0].Output)

	req, ok := fake.Request("story-4omini")
	require.True(t, ok)
	assert.Equal(t, invoke.Input{"outline": "a map"}, req.Input)
}

func TestNewRunnerRequiresTaskAndDataset(t *testing.T) {
	_, err := NewRunner(Config{Dataset: Inline{}})
	require.Error(t, err)

	_, err = NewRunner(Config{Task: func(context.Context, invoke.Input) (invoke.Result, error) { return nil, nil }})
	require.Error(t, err)
}

func experimentIDs(m *MemoryRecorder) []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]uuid.UUID, 0, len(m.experiments))
	for id := range m.experiments {
		out = append(out, id)
	}
	return out
}
