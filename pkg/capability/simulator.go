package capability

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/omni-platform/cladc/pkg/models"
)

// Simulator is the in-process capability runtime used in single-box
// deployments and tests. Training outcomes are synthesized around a
// configurable baseline so the pipeline exercises its full decision
// surface without a real ML service.
type Simulator struct {
	mu  sync.Mutex
	rng *rand.Rand

	// Baseline and Lift shape synthesized training performance:
	// performance = Baseline + Lift + noise, clamped to [0,1].
	Baseline float64
	Lift     float64
	// Noise is the half-width of the uniform noise band. Zero makes the
	// simulator fully deterministic.
	Noise float64
	// SmokeFailures forces this many smoke-test case failures out of
	// SmokeTotal.
	SmokeFailures int
	SmokeTotal    int

	// Delivery counters, updated by DeliverExperiences.
	BatchesReceived     int
	ExperiencesReceived int
}

// NewSimulator creates a simulator with a fixed seed. The defaults train
// to a healthy performance band and pass smoke tests cleanly.
func NewSimulator(seed int64) *Simulator {
	return &Simulator{
		rng:        rand.New(rand.NewSource(seed)),
		Baseline:   0.78,
		Lift:       0.08,
		Noise:      0.02,
		SmokeTotal: 20,
	}
}

// Train implements Trainer.
func (s *Simulator) Train(ctx context.Context, req TrainRequest) (*models.TrainingResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	noise := 0.0
	if s.Noise > 0 {
		noise = (s.rng.Float64()*2 - 1) * s.Noise
	}
	s.mu.Unlock()

	perf := clamp01(s.Baseline + s.Lift + noise)
	iterations := 100
	if req.Rigorous {
		iterations = 300
	}
	return &models.TrainingResult{
		Performance:  perf,
		Iterations:   iterations,
		Converged:    true,
		TrainingTime: time.Duration(iterations) * time.Millisecond,
		Metrics: map[string]float64{
			"loss":     1 - perf,
			"accuracy": perf,
		},
	}, nil
}

// Collect implements DataCollector.
func (s *Simulator) Collect(ctx context.Context, req CollectRequest) (*CollectResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &CollectResult{
		DataPoints: 500,
		Sources: map[string]int{
			"events":      300,
			"experiences": 200,
		},
	}, nil
}

// Infer implements Inferer.
func (s *Simulator) Infer(ctx context.Context, req InferRequest) (*InferResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &InferResult{
		Output:  map[string]any{"model": req.Model, "ok": true},
		Latency: 2 * time.Millisecond,
	}, nil
}

// SmokeTest implements SmokeTester.
func (s *Simulator) SmokeTest(ctx context.Context, model string, version models.Version) (*models.DeploymentTestResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	total := s.SmokeTotal
	if total <= 0 {
		total = 20
	}
	passed := total - s.SmokeFailures
	if passed < 0 {
		passed = 0
	}
	rate := float64(passed) / float64(total)
	return &models.DeploymentTestResult{
		Success:  rate >= 0.9,
		Passed:   passed,
		Total:    total,
		PassRate: rate,
	}, nil
}

// DeliverExperiences implements ExperienceReceiver. The simulator counts
// batches so tests can assert on flush behavior.
func (s *Simulator) DeliverExperiences(ctx context.Context, batch models.ExperienceBatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.BatchesReceived++
	s.ExperiencesReceived += len(batch.Experiences)
	s.mu.Unlock()
	return nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
