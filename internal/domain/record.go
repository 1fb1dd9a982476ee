// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"time"

	"github.com/google/uuid"
)

type RecordStatus string

const (
	RecordSucceeded RecordStatus = "SUCCEEDED"
	RecordFailed    RecordStatus = "FAILED"
)

// EvalRecord is the outcome of one dataset case within an experiment.
type EvalRecord struct {
	ID           uuid.UUID          `json:"id"`
	ExperimentID uuid.UUID          `json:"experiment_id"`
	CaseIndex    int                `json:"case_index"`
	CaseID       string             `json:"case_id,omitempty"`
	Input        map[string]string  `json:"input"`
	Expected     any                `json:"expected,omitempty"`
	Output       string             `json:"output"`
	Scores       map[string]float64 `json:"scores,omitempty"`
	Error        string             `json:"error,omitempty"`
	Metadata     map[string]any     `json:"metadata,omitempty"`
	Status       RecordStatus       `json:"status"`
	DurationMS   int64              `json:"duration_ms"`
	CreatedAt    time.Time          `json:"created_at"`
}
