package improvement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/omni-platform/cladc/pkg/capability"
	"github.com/omni-platform/cladc/pkg/errkind"
	"github.com/omni-platform/cladc/pkg/models"
	"github.com/omni-platform/cladc/pkg/registry"
)

// Selection thresholds for the sweeps.
const (
	sweepPerformanceFloor   = 0.8
	retrainPerformanceFloor = 0.75
	staleAfter              = 24 * time.Hour
	retrainStaleAfter       = 7 * 24 * time.Hour

	smokeTestPassRate = 0.9
	stabilityVariance = 0.01
	stabilityWindow   = 5
)

// Config carries the pipeline's tunables.
type Config struct {
	MaxConcurrentTasks int
	PollInterval       time.Duration
	PollIntervalJitter time.Duration

	ValidationThreshold float64 // non-rigorous validate floor
	RigorousThreshold   float64 // rigorous validate floor

	TrainTimeout     time.Duration
	CollectTimeout   time.Duration
	SmokeTestTimeout time.Duration

	ABTestDuration       time.Duration
	PerformanceThreshold float64 // A/B suggestion floor, relative
}

// WorkflowEmitter publishes task lifecycle events. The coordinator wires
// this to the omni.workflows channel.
type WorkflowEmitter interface {
	EmitWorkflow(ctx context.Context, event map[string]any)
}

// WorkflowEmitterFunc adapts a function to WorkflowEmitter.
type WorkflowEmitterFunc func(ctx context.Context, event map[string]any)

// EmitWorkflow implements WorkflowEmitter.
func (f WorkflowEmitterFunc) EmitWorkflow(ctx context.Context, event map[string]any) {
	f(ctx, event)
}

// Pipeline executes improvement tasks against the registry and the ML
// capability runtime.
type Pipeline struct {
	cfg      Config
	store    *taskStore
	registry *registry.Registry
	runtime  capability.Runtime
	emitter  WorkflowEmitter

	abLedger *abLedger
	pool     *workerPool
	now      func() time.Time
}

// New creates a stopped pipeline. emitter may be nil.
func New(cfg Config, reg *registry.Registry, runtime capability.Runtime, emitter WorkflowEmitter) *Pipeline {
	p := &Pipeline{
		cfg:      cfg,
		store:    newTaskStore(cfg.MaxConcurrentTasks),
		registry: reg,
		runtime:  runtime,
		emitter:  emitter,
		abLedger: newABLedger(),
		now:      time.Now,
	}
	p.pool = newWorkerPool(cfg.MaxConcurrentTasks, cfg.PollInterval, cfg.PollIntervalJitter, p)
	return p
}

// Start launches the worker pool.
func (p *Pipeline) Start(ctx context.Context) { p.pool.start(ctx) }

// Stop drains the worker pool, waiting for in-flight tasks.
func (p *Pipeline) Stop() { p.pool.stop() }

// Trigger enqueues an improvement task for a model. Unknown model returns
// not_found; a model with a live task returns conflict.
func (p *Pipeline) Trigger(modelName string, issue models.TaskIssue, priority models.TaskPriority, rigorous bool) (models.ImprovementTask, error) {
	if _, err := p.registry.Lookup(modelName); err != nil {
		return models.ImprovementTask{}, err
	}
	task, err := p.store.create(modelName, issue, priority, rigorous)
	if err != nil {
		return models.ImprovementTask{}, err
	}
	slog.Info("Improvement task enqueued",
		"task_id", task.ID,
		"model", modelName,
		"issue", issue.Kind,
		"rigorous", rigorous)
	p.emit(context.Background(), map[string]any{
		"type":    "improvement_task_created",
		"task_id": task.ID,
		"model":   modelName,
		"issue":   issue.Kind,
	})
	return task, nil
}

// Task returns one task by id.
func (p *Pipeline) Task(id string) (models.ImprovementTask, error) {
	task, ok := p.store.get(id)
	if !ok {
		return models.ImprovementTask{}, errkind.New(errkind.NotFound, "improvement", "task %q not found", id)
	}
	return task, nil
}

// Tasks returns all tasks, newest-first.
func (p *Pipeline) Tasks() []models.ImprovementTask { return p.store.list() }

// PoolHealth reports worker-pool activity.
func (p *Pipeline) PoolHealth() PoolHealth { return p.pool.health() }

// runNext claims and executes one pending task. Called by pool workers.
func (p *Pipeline) runNext(ctx context.Context) error {
	task, err := p.store.next()
	if err != nil {
		return err
	}
	defer p.store.release()
	p.execute(ctx, task.ID, task.ModelName, task.Rigorous)
	return nil
}

// execute drives one task through the step sequence. Any step failure
// marks the task failed and leaves later steps pending.
func (p *Pipeline) execute(ctx context.Context, taskID, modelName string, rigorous bool) {
	fail := func(step string, err error) {
		now := p.now()
		p.store.update(taskID, func(t *models.ImprovementTask) {
			t.Status = models.TaskFailed
			t.FailedAt = &now
			t.FailedStep = step
			t.Error = err.Error()
		})
		slog.Warn("Improvement task failed",
			"task_id", taskID,
			"model", modelName,
			"step", step,
			"error", err)
		p.emit(ctx, map[string]any{
			"type":    "improvement_task_failed",
			"task_id": taskID,
			"model":   modelName,
			"step":    step,
			"status":  string(errkind.KindOf(err)),
		})
	}
	complete := func(step string, apply func(t *models.ImprovementTask)) {
		p.store.update(taskID, func(t *models.ImprovementTask) {
			t.Steps[step] = models.StepCompleted
			if apply != nil {
				apply(t)
			}
		})
	}

	// 1. analyze
	analysis, err := p.analyze(modelName)
	if err != nil {
		fail(models.StepAnalyze, err)
		return
	}
	complete(models.StepAnalyze, func(t *models.ImprovementTask) { t.Analysis = analysis })

	// 2. collect_data
	model, err := p.registry.Lookup(modelName)
	if err != nil {
		fail(models.StepCollectData, err)
		return
	}
	collectCtx, cancel := context.WithTimeout(ctx, p.cfg.CollectTimeout)
	collected, err := p.runtime.Collect(collectCtx, capability.CollectRequest{Model: modelName, Window: "24h"})
	cancel()
	if err != nil {
		fail(models.StepCollectData, stepErr(models.StepCollectData, err))
		return
	}
	complete(models.StepCollectData, nil)

	// 3. train
	trainCtx, cancel := context.WithTimeout(ctx, p.cfg.TrainTimeout)
	training, err := p.runtime.Train(trainCtx, capability.TrainRequest{
		Model:      modelName,
		Components: model.Components,
		DataPoints: collected.DataPoints,
		Rigorous:   rigorous,
	})
	cancel()
	if err != nil {
		fail(models.StepTrain, stepErr(models.StepTrain, err))
		return
	}
	complete(models.StepTrain, func(t *models.ImprovementTask) { t.TrainingResult = training })

	// 4. validate
	validation := p.validate(modelName, training.Performance, rigorous)
	p.store.update(taskID, func(t *models.ImprovementTask) { t.Validation = validation })
	if !validation.Passed {
		fail(models.StepValidate, errkind.New(errkind.StepFailed, "improvement",
			"validation failed: %s", validation.Reason))
		return
	}
	complete(models.StepValidate, nil)

	// 5. test_deploy
	smokeCtx, cancel := context.WithTimeout(ctx, p.cfg.SmokeTestTimeout)
	smoke, err := p.runtime.SmokeTest(smokeCtx, modelName, model.Version.NextPatch())
	cancel()
	if err != nil {
		fail(models.StepTestDeploy, stepErr(models.StepTestDeploy, err))
		return
	}
	p.store.update(taskID, func(t *models.ImprovementTask) { t.DeploymentTest = smoke })
	if !smoke.Success || smoke.PassRate < smokeTestPassRate {
		fail(models.StepTestDeploy, errkind.New(errkind.StepFailed, "improvement",
			"smoke test pass rate %.0f%% below %.0f%%", smoke.PassRate*100, smokeTestPassRate*100))
		return
	}
	complete(models.StepTestDeploy, nil)

	// 6. deploy
	deployed, err := p.registry.Deploy(ctx, modelName, *training)
	if err != nil {
		fail(models.StepDeploy, err)
		return
	}
	if err := p.registry.RecordPerformance(modelName, models.PerformanceSample{
		Overall: training.Performance,
		Metrics: training.Metrics,
	}); err != nil {
		slog.Warn("Failed to record post-deploy performance", "model", modelName, "error", err)
	}

	now := p.now()
	p.store.update(taskID, func(t *models.ImprovementTask) {
		t.Steps[models.StepDeploy] = models.StepCompleted
		t.Status = models.TaskCompleted
		t.CompletedAt = &now
		t.Deployment = &models.DeploymentResult{
			Version:     deployed.Version.String(),
			Performance: deployed.CurrentPerformance,
			BackupTaken: len(deployed.Backups) > 0,
		}
	})
	slog.Info("Improvement task completed",
		"task_id", taskID,
		"model", modelName,
		"version", deployed.Version.String(),
		"performance", deployed.CurrentPerformance)
	p.emit(ctx, map[string]any{
		"type":    "improvement_task_completed",
		"task_id": taskID,
		"model":   modelName,
		"version": deployed.Version.String(),
	})
}

// analyze computes a SWOT over the model's performance history.
func (p *Pipeline) analyze(modelName string) (*models.AnalysisResult, error) {
	history, err := p.registry.PerformanceHistory(modelName)
	if err != nil {
		return nil, err
	}
	model, err := p.registry.Lookup(modelName)
	if err != nil {
		return nil, err
	}

	result := &models.AnalysisResult{SampleCount: len(history)}
	if model.CurrentPerformance >= 0.85 {
		result.Strengths = append(result.Strengths, "performance above 0.85")
	}
	if model.CurrentPerformance < 0.7 {
		result.Weaknesses = append(result.Weaknesses, "performance below validation floor")
	}
	if len(history) < stabilityWindow {
		result.Weaknesses = append(result.Weaknesses, "insufficient performance history")
	} else {
		window := history[len(history)-stabilityWindow:]
		if varianceOf(window) >= stabilityVariance {
			result.Threats = append(result.Threats, "performance unstable across recent samples")
		}
		if decliningTrend(window) {
			result.Threats = append(result.Threats, "declining performance trend")
		}
	}
	if !model.Health.Healthy {
		result.Threats = append(result.Threats, fmt.Sprintf("unhealthy: %s", model.Health.Issue))
	}
	if model.CurrentPerformance < sweepPerformanceFloor {
		result.Opportunities = append(result.Opportunities, "headroom to retrain above sweep floor")
	}
	return result, nil
}

// validate checks the trained performance against the threshold and the
// model's recent stability and trend.
func (p *Pipeline) validate(modelName string, performance float64, rigorous bool) *models.ValidationResult {
	threshold := p.cfg.ValidationThreshold
	if rigorous {
		threshold = p.cfg.RigorousThreshold
	}
	result := &models.ValidationResult{Threshold: threshold}

	if performance < threshold {
		result.Reason = fmt.Sprintf("performance %.3f below threshold %.2f", performance, threshold)
		return result
	}

	history, err := p.registry.PerformanceHistory(modelName)
	if err == nil && len(history) >= stabilityWindow {
		window := history[len(history)-stabilityWindow:]
		result.Variance = varianceOf(window)
		result.Stable = result.Variance < stabilityVariance
		result.Declining = decliningTrend(window)
	} else {
		result.Stable = true
	}

	if !result.Stable {
		result.Reason = fmt.Sprintf("variance %.4f exceeds %.2f", result.Variance, stabilityVariance)
		return result
	}
	if result.Declining {
		result.Reason = "performance trend declining"
		return result
	}
	result.Passed = true
	return result
}

func (p *Pipeline) emit(ctx context.Context, event map[string]any) {
	if p.emitter != nil {
		p.emitter.EmitWorkflow(ctx, event)
	}
}

// stepErr maps deadline expiry to timeout, passes typed errors through,
// and wraps everything else as step_failed.
func stepErr(step string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errkind.Wrap(errkind.Timeout, "improvement", err, "step %s exceeded its deadline", step)
	}
	if errkind.KindOf(err) != "" {
		return err
	}
	return errkind.Wrap(errkind.StepFailed, "improvement", err, "step %s failed", step)
}

func varianceOf(samples []models.PerformanceSample) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s.Overall
	}
	avg := sum / float64(len(samples))
	var sq float64
	for _, s := range samples {
		sq += (s.Overall - avg) * (s.Overall - avg)
	}
	return sq / float64(len(samples))
}

// decliningTrend reports a strictly monotonic decline across the window.
func decliningTrend(samples []models.PerformanceSample) bool {
	if len(samples) < 2 {
		return false
	}
	for i := 1; i < len(samples); i++ {
		if samples[i].Overall >= samples[i-1].Overall {
			return false
		}
	}
	return true
}
