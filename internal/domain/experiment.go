// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"time"

	"github.com/google/uuid"
)

type ExperimentStatus string

const (
	ExperimentRunning   ExperimentStatus = "RUNNING"
	ExperimentSucceeded ExperimentStatus = "SUCCEEDED"
	ExperimentFailed    ExperimentStatus = "FAILED"
)

// Experiment is one Task Runner pass of a chain over a dataset.
type Experiment struct {
	ID         uuid.UUID        `json:"id"`
	Name       string           `json:"name"`
	Project    string           `json:"project"`
	Chain      string           `json:"chain"`
	Dataset    string           `json:"dataset"`
	Metadata   map[string]any   `json:"metadata,omitempty"`
	Status     ExperimentStatus `json:"status"`
	Total      int              `json:"total"`
	Succeeded  int              `json:"succeeded"`
	Failed     int              `json:"failed"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
}
