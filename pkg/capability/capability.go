// Package capability defines the seams between the coordinator and the ML
// runtime that actually trains and serves models. The improvement pipeline
// and the experience flusher talk only to these interfaces; deployments
// choose between the in-process simulator and the remote service client.
package capability

import (
	"context"
	"time"

	"github.com/omni-platform/cladc/pkg/models"
)

// Per-call deadlines applied by callers to capability operations.
const (
	TrainDeadline     = 10 * time.Minute
	CollectDeadline   = 2 * time.Minute
	SmokeTestDeadline = 1 * time.Minute
	InferDeadline     = 5 * time.Second
)

// TrainRequest describes one training run for a model.
type TrainRequest struct {
	Model      string   `json:"model"`
	Components []string `json:"components"`
	DataPoints int      `json:"data_points"`
	Rigorous   bool     `json:"rigorous"`
}

// CollectRequest asks for training data relevant to a model.
type CollectRequest struct {
	Model  string `json:"model"`
	Window string `json:"window"`
}

// CollectResult reports how much data was gathered per source.
type CollectResult struct {
	DataPoints int            `json:"data_points"`
	Sources    map[string]int `json:"sources"`
}

// InferRequest is a single inference probe.
type InferRequest struct {
	Model string         `json:"model"`
	Input map[string]any `json:"input"`
}

// InferResult is the probe's answer.
type InferResult struct {
	Output  map[string]any `json:"output"`
	Latency time.Duration  `json:"latency"`
}

// Trainer runs training jobs.
type Trainer interface {
	Train(ctx context.Context, req TrainRequest) (*models.TrainingResult, error)
}

// DataCollector gathers training data.
type DataCollector interface {
	Collect(ctx context.Context, req CollectRequest) (*CollectResult, error)
}

// Inferer answers inference probes against a deployed or candidate model.
type Inferer interface {
	Infer(ctx context.Context, req InferRequest) (*InferResult, error)
}

// SmokeTester exercises a candidate deployment in an isolated environment.
type SmokeTester interface {
	SmokeTest(ctx context.Context, model string, version models.Version) (*models.DeploymentTestResult, error)
}

// ExperienceReceiver ingests flushed experience batches for training.
type ExperienceReceiver interface {
	DeliverExperiences(ctx context.Context, batch models.ExperienceBatch) error
}

// Runtime bundles every capability seam the coordinator consumes.
type Runtime interface {
	Trainer
	DataCollector
	Inferer
	SmokeTester
	ExperienceReceiver
}
