// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"context"

	"github.com/d-gangz/glowing-braintrust/internal/chain"
	"github.com/d-gangz/glowing-braintrust/internal/domain"
	"github.com/d-gangz/glowing-braintrust/internal/tools"
	"github.com/google/uuid"
)

type ChainRegistry interface {
	Get(name string) (*chain.Chain, bool)
	Describe() []chain.Info
}

type ExperimentReader interface {
	GetExperiment(ctx context.Context, id uuid.UUID) (domain.Experiment, error)
	ListExperiments(ctx context.Context, limit int) ([]domain.Experiment, error)
	ListRecords(ctx context.Context, experimentID uuid.UUID) ([]domain.EvalRecord, error)
}

type WeatherLookup interface {
	Current(ctx context.Context, req tools.WeatherRequest) (*tools.Weather, *tools.ErrorRecord)
}

type HealthChecker interface {
	Check(ctx context.Context) error
}
