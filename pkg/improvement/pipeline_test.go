package improvement

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omni-platform/cladc/pkg/capability"
	"github.com/omni-platform/cladc/pkg/errkind"
	"github.com/omni-platform/cladc/pkg/models"
	"github.com/omni-platform/cladc/pkg/registry"
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []map[string]any
}

func (r *recordingEmitter) EmitWorkflow(_ context.Context, event map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingEmitter) ofType(t string) []map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []map[string]any
	for _, e := range r.events {
		if e["type"] == t {
			out = append(out, e)
		}
	}
	return out
}

type modelUpdateRecorder struct {
	mu      sync.Mutex
	updates []models.ModelUpdate
}

func (r *modelUpdateRecorder) EmitModelUpdate(_ context.Context, update models.ModelUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, update)
}

func (r *modelUpdateRecorder) all() []models.ModelUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.ModelUpdate(nil), r.updates...)
}

func testConfig() Config {
	return Config{
		MaxConcurrentTasks:   3,
		PollInterval:         10 * time.Millisecond,
		PollIntervalJitter:   5 * time.Millisecond,
		ValidationThreshold:  0.70,
		RigorousThreshold:    0.75,
		TrainTimeout:         time.Minute,
		CollectTimeout:       time.Minute,
		SmokeTestTimeout:     time.Minute,
		ABTestDuration:       30 * time.Minute,
		PerformanceThreshold: 0.05,
	}
}

func newTestRegistry(t *testing.T, perf float64) (*registry.Registry, *modelUpdateRecorder) {
	t.Helper()
	updates := &modelUpdateRecorder{}
	reg := registry.New(10, true, updates, nil)
	require.NoError(t, reg.Register(models.Model{
		Name:               "angel_learning_model",
		Type:               models.ModelReinforcement,
		Version:            models.Version{Major: 1},
		CurrentPerformance: perf,
		LastUpdated:        time.Now(),
	}))
	return reg, updates
}

// simulator tuned so training lands at exactly the requested performance.
func fixedTrainer(perf float64, smokeFailures int) *capability.Simulator {
	sim := capability.NewSimulator(1)
	sim.Baseline = perf
	sim.Lift = 0
	sim.Noise = 0
	sim.SmokeTotal = 50
	sim.SmokeFailures = smokeFailures
	return sim
}

func TestImprovementHappyPath(t *testing.T) {
	// Model at 1.0.0 / 0.72; training returns 0.82; smoke test passes
	// 48/50. Expect 1.0.1 deployed at 0.82 with a backup and a
	// model_deployed emission.
	reg, updates := newTestRegistry(t, 0.72)
	emitter := &recordingEmitter{}
	p := New(testConfig(), reg, fixedTrainer(0.82, 2), emitter)

	task, err := p.Trigger("angel_learning_model",
		models.TaskIssue{Kind: "manual"}, models.PriorityHigh, false)
	require.NoError(t, err)

	require.NoError(t, p.runNext(context.Background()))

	done, err := p.Task(task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskCompleted, done.Status)
	for _, step := range models.StepOrder {
		assert.Equal(t, models.StepCompleted, done.Steps[step], step)
	}
	require.NotNil(t, done.Validation)
	assert.True(t, done.Validation.Passed)
	require.NotNil(t, done.DeploymentTest)
	assert.True(t, done.DeploymentTest.Success)
	assert.Equal(t, 48, done.DeploymentTest.Passed)
	require.NotNil(t, done.Deployment)
	assert.Equal(t, "1.0.1", done.Deployment.Version)
	assert.Equal(t, 0.82, done.Deployment.Performance)
	assert.True(t, done.Deployment.BackupTaken)

	model, err := reg.Lookup("angel_learning_model")
	require.NoError(t, err)
	assert.Equal(t, "1.0.1", model.Version.String())
	assert.Equal(t, 0.82, model.CurrentPerformance)
	require.Len(t, model.Backups, 1)
	assert.Equal(t, "1.0.0", model.Backups[0].Version.String())

	emitted := updates.all()
	require.Len(t, emitted, 1)
	assert.Equal(t, models.ModelUpdate{
		Type:        models.UpdateModelDeployed,
		Name:        "angel_learning_model",
		Version:     "1.0.1",
		Performance: 0.82,
	}, emitted[0])
}

func TestImprovementValidationFailure(t *testing.T) {
	// Training returns 0.65 < 0.70: task fails at validate, model
	// untouched, no deployment emission.
	reg, updates := newTestRegistry(t, 0.72)
	p := New(testConfig(), reg, fixedTrainer(0.65, 0), nil)

	task, err := p.Trigger("angel_learning_model",
		models.TaskIssue{Kind: "manual"}, models.PriorityHigh, false)
	require.NoError(t, err)

	require.NoError(t, p.runNext(context.Background()))

	done, err := p.Task(task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskFailed, done.Status)
	assert.Equal(t, models.StepValidate, done.FailedStep)
	assert.Equal(t, models.StepPending, done.Steps[models.StepTestDeploy])
	assert.Equal(t, models.StepPending, done.Steps[models.StepDeploy])
	require.NotNil(t, done.Validation)
	assert.False(t, done.Validation.Passed)

	model, err := reg.Lookup("angel_learning_model")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", model.Version.String())
	assert.Equal(t, 0.72, model.CurrentPerformance)
	assert.Empty(t, updates.all())
}

func TestImprovementSmokeTestFailure(t *testing.T) {
	// 44/50 = 88% < 90%: task fails at test_deploy, no deploy.
	reg, updates := newTestRegistry(t, 0.72)
	p := New(testConfig(), reg, fixedTrainer(0.82, 6), nil)

	task, err := p.Trigger("angel_learning_model",
		models.TaskIssue{Kind: "manual"}, models.PriorityHigh, false)
	require.NoError(t, err)
	require.NoError(t, p.runNext(context.Background()))

	done, err := p.Task(task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskFailed, done.Status)
	assert.Equal(t, models.StepTestDeploy, done.FailedStep)
	assert.Empty(t, updates.all())
}

func TestRigorousValidationThreshold(t *testing.T) {
	// 0.72 passes the normal 0.70 floor but not the rigorous 0.75.
	reg, _ := newTestRegistry(t, 0.6)
	p := New(testConfig(), reg, fixedTrainer(0.72, 0), nil)

	task, err := p.Trigger("angel_learning_model",
		models.TaskIssue{Kind: "retraining"}, models.PriorityHigh, true)
	require.NoError(t, err)
	require.NoError(t, p.runNext(context.Background()))

	done, err := p.Task(task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskFailed, done.Status)
	assert.Equal(t, models.StepValidate, done.FailedStep)
}

func TestCompletedTasksSatisfyInvariants(t *testing.T) {
	reg, _ := newTestRegistry(t, 0.72)
	p := New(testConfig(), reg, fixedTrainer(0.85, 0), nil)

	_, err := p.Trigger("angel_learning_model",
		models.TaskIssue{Kind: "manual"}, models.PriorityHigh, false)
	require.NoError(t, err)
	require.NoError(t, p.runNext(context.Background()))

	for _, task := range p.Tasks() {
		if task.Status != models.TaskCompleted {
			continue
		}
		require.NotNil(t, task.Validation)
		assert.True(t, task.Validation.Passed)
		require.NotNil(t, task.DeploymentTest)
		assert.True(t, task.DeploymentTest.Success)
	}
}

func TestTriggerUnknownModel(t *testing.T) {
	reg, _ := newTestRegistry(t, 0.72)
	p := New(testConfig(), reg, fixedTrainer(0.82, 0), nil)

	_, err := p.Trigger("missing", models.TaskIssue{Kind: "manual"}, models.PriorityHigh, false)
	assert.True(t, errkind.IsNotFound(err))
}

func TestTriggerConflictsOnLiveTask(t *testing.T) {
	reg, _ := newTestRegistry(t, 0.72)
	p := New(testConfig(), reg, fixedTrainer(0.82, 0), nil)

	_, err := p.Trigger("angel_learning_model", models.TaskIssue{Kind: "manual"}, models.PriorityHigh, false)
	require.NoError(t, err)
	_, err = p.Trigger("angel_learning_model", models.TaskIssue{Kind: "manual"}, models.PriorityHigh, false)
	assert.True(t, errkind.IsConflict(err))
}

func TestTaskQueueFIFO(t *testing.T) {
	reg, _ := newTestRegistry(t, 0.72)
	require.NoError(t, reg.Register(models.Model{
		Name: "second_model", Version: models.Version{Major: 1},
		CurrentPerformance: 0.72, LastUpdated: time.Now(),
	}))
	p := New(testConfig(), reg, fixedTrainer(0.82, 0), nil)

	first, err := p.Trigger("angel_learning_model", models.TaskIssue{Kind: "manual"}, models.PriorityHigh, false)
	require.NoError(t, err)
	second, err := p.Trigger("second_model", models.TaskIssue{Kind: "manual"}, models.PriorityHigh, false)
	require.NoError(t, err)

	require.NoError(t, p.runNext(context.Background()))
	done1, _ := p.Task(first.ID)
	pending2, _ := p.Task(second.ID)
	assert.True(t, done1.Terminal())
	assert.Equal(t, models.TaskPending, pending2.Status)
}

func TestRunNextEmptyQueue(t *testing.T) {
	reg, _ := newTestRegistry(t, 0.72)
	p := New(testConfig(), reg, fixedTrainer(0.82, 0), nil)

	err := p.runNext(context.Background())
	assert.ErrorIs(t, err, ErrNoTasksAvailable)
}

func TestWorkerPoolDrainsQueue(t *testing.T) {
	reg, _ := newTestRegistry(t, 0.5)
	p := New(testConfig(), reg, fixedTrainer(0.82, 0), nil)

	task, err := p.Trigger("angel_learning_model",
		models.TaskIssue{Kind: "manual"}, models.PriorityHigh, false)
	require.NoError(t, err)

	p.Start(context.Background())
	defer p.Stop()

	assert.Eventually(t, func() bool {
		done, err := p.Task(task.ID)
		return err == nil && done.Terminal()
	}, 2*time.Second, 10*time.Millisecond)

	health := p.PoolHealth()
	assert.Equal(t, testConfig().MaxConcurrentTasks, health.Workers)
	assert.GreaterOrEqual(t, health.TasksProcessed, int64(1))
	assert.False(t, health.LastActivity.IsZero())
}

func TestSweepSelection(t *testing.T) {
	updates := &modelUpdateRecorder{}
	reg := registry.New(10, true, updates, nil)
	now := time.Now()

	require.NoError(t, reg.Register(models.Model{
		Name: "underperforming", Version: models.Version{Major: 1},
		CurrentPerformance: 0.6, LastUpdated: now,
	}))
	require.NoError(t, reg.Register(models.Model{
		Name: "healthy", Version: models.Version{Major: 1},
		CurrentPerformance: 0.95, LastUpdated: now,
	}))
	require.NoError(t, reg.Register(models.Model{
		Name: "stale", Version: models.Version{Major: 1},
		CurrentPerformance: 0.9, LastUpdated: now.Add(-48 * time.Hour),
	}))
	require.NoError(t, reg.Register(models.Model{
		Name: "unhealthy", Version: models.Version{Major: 1},
		CurrentPerformance: 0.9, LastUpdated: now,
	}))
	require.NoError(t, reg.SetHealth("unhealthy", false, "drift detected"))

	p := New(testConfig(), reg, fixedTrainer(0.82, 0), nil)
	triggered := p.Sweep(context.Background())
	assert.Equal(t, 3, triggered)

	tasks := p.Tasks()
	names := make(map[string]bool)
	for _, task := range tasks {
		names[task.ModelName] = true
	}
	assert.True(t, names["underperforming"])
	assert.True(t, names["stale"])
	assert.True(t, names["unhealthy"])
	assert.False(t, names["healthy"])

	// Re-sweeping does not duplicate live tasks.
	assert.Zero(t, p.Sweep(context.Background()))
}

func TestRetrainSweepIsRigorous(t *testing.T) {
	reg, _ := newTestRegistry(t, 0.7) // below the 0.75 retraining floor
	p := New(testConfig(), reg, fixedTrainer(0.82, 0), nil)

	require.Equal(t, 1, p.RetrainSweep(context.Background()))
	tasks := p.Tasks()
	require.Len(t, tasks, 1)
	assert.True(t, tasks[0].Rigorous)
	assert.Equal(t, models.PriorityHigh, tasks[0].Priority)
}

func TestABSweepAndEvaluation(t *testing.T) {
	reg, _ := newTestRegistry(t, 0.72)
	emitter := &recordingEmitter{}
	p := New(testConfig(), reg, fixedTrainer(0.82, 0), emitter)

	// Single version: skipped.
	assert.Zero(t, p.ABSweep(context.Background()))

	// Two deployments: 0.76 then 0.82 (+7.9%).
	_, err := reg.Deploy(context.Background(), "angel_learning_model", models.TrainingResult{Performance: 0.76})
	require.NoError(t, err)
	_, err = reg.Deploy(context.Background(), "angel_learning_model", models.TrainingResult{Performance: 0.82})
	require.NoError(t, err)

	require.Equal(t, 1, p.ABSweep(context.Background()))
	// Still open: second sweep must not duplicate.
	assert.Zero(t, p.ABSweep(context.Background()))

	// Window not elapsed: nothing closes.
	assert.Zero(t, p.EvaluateABTests(context.Background()))

	// Move past the 30-minute window.
	p.now = func() time.Time { return time.Now().Add(31 * time.Minute) }
	require.Equal(t, 1, p.EvaluateABTests(context.Background()))

	tests := p.ABTests()
	require.Len(t, tests, 1)
	assert.Equal(t, "current", tests[0].Winner)
	assert.InDelta(t, (0.82-0.76)/0.76, tests[0].Improvement, 1e-9)
	assert.True(t, tests[0].Suggested)

	suggestions := emitter.ofType("deployment_suggestion")
	require.Len(t, suggestions, 1)
	assert.Equal(t, "angel_learning_model", suggestions[0]["model"])
}

func TestABEvaluationBelowThresholdNotSuggested(t *testing.T) {
	reg, _ := newTestRegistry(t, 0.72)
	emitter := &recordingEmitter{}
	p := New(testConfig(), reg, fixedTrainer(0.82, 0), emitter)

	// +2.5%: winner is current but below the 5% suggestion floor.
	_, err := reg.Deploy(context.Background(), "angel_learning_model", models.TrainingResult{Performance: 0.80})
	require.NoError(t, err)
	_, err = reg.Deploy(context.Background(), "angel_learning_model", models.TrainingResult{Performance: 0.82})
	require.NoError(t, err)

	require.Equal(t, 1, p.ABSweep(context.Background()))
	p.now = func() time.Time { return time.Now().Add(31 * time.Minute) }
	require.Equal(t, 1, p.EvaluateABTests(context.Background()))

	tests := p.ABTests()
	require.Len(t, tests, 1)
	assert.Equal(t, "current", tests[0].Winner)
	assert.False(t, tests[0].Suggested)
	assert.Empty(t, emitter.ofType("deployment_suggestion"))
}
