package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omni-platform/cladc/pkg/errkind"
	"github.com/omni-platform/cladc/pkg/models"
	"github.com/omni-platform/cladc/pkg/persistence"
)

type recordingEmitter struct {
	mu      sync.Mutex
	updates []models.ModelUpdate
}

func (r *recordingEmitter) EmitModelUpdate(_ context.Context, update models.ModelUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, update)
}

func (r *recordingEmitter) all() []models.ModelUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.ModelUpdate(nil), r.updates...)
}

func newModel(name string) models.Model {
	return models.Model{
		Name:               name,
		Type:               models.ModelReinforcement,
		Version:            models.Version{Major: 1},
		CurrentPerformance: 0.72,
	}
}

func TestRegisterLookupList(t *testing.T) {
	r := New(10, true, nil, nil)

	require.NoError(t, r.Register(newModel("angel_learning_model")))
	require.NoError(t, r.Register(newModel("traffic_predictor")))

	m, err := r.Lookup("angel_learning_model")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", m.Version.String())
	assert.Equal(t, models.ModelStatusActive, m.Status)
	assert.True(t, m.Health.Healthy)

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "angel_learning_model", list[0].Name)

	_, err = r.Lookup("missing")
	assert.True(t, errkind.IsNotFound(err))

	err = r.Register(newModel("traffic_predictor"))
	assert.True(t, errkind.IsConflict(err))
}

func TestDeployHappyPath(t *testing.T) {
	// Model at 1.0.0 / 0.72; training yields 0.82. Expect 1.0.1, a
	// backup of 1.0.0, and a model_deployed emission.
	emitter := &recordingEmitter{}
	r := New(10, true, emitter, nil)
	require.NoError(t, r.Register(newModel("angel_learning_model")))

	deployed, err := r.Deploy(context.Background(), "angel_learning_model", models.TrainingResult{Performance: 0.82})
	require.NoError(t, err)

	assert.Equal(t, "1.0.1", deployed.Version.String())
	assert.Equal(t, 0.82, deployed.CurrentPerformance)
	require.Len(t, deployed.Backups, 1)
	assert.Equal(t, "1.0.0", deployed.Backups[0].Version.String())
	assert.Equal(t, 0.72, deployed.Backups[0].Performance)
	require.Len(t, deployed.DeploymentHistory, 1)

	updates := emitter.all()
	require.Len(t, updates, 1)
	assert.Equal(t, models.ModelUpdate{
		Type:        models.UpdateModelDeployed,
		Name:        "angel_learning_model",
		Version:     "1.0.1",
		Performance: 0.82,
	}, updates[0])
}

func TestDeployIdempotentPerformance(t *testing.T) {
	// Redeploying the same result N times bumps version by N but leaves
	// current_performance at the final result.
	r := New(10, true, nil, nil)
	require.NoError(t, r.Register(newModel("m")))

	for i := 0; i < 4; i++ {
		_, err := r.Deploy(context.Background(), "m", models.TrainingResult{Performance: 0.82})
		require.NoError(t, err)
	}

	m, err := r.Lookup("m")
	require.NoError(t, err)
	assert.Equal(t, "1.0.4", m.Version.String())
	assert.Equal(t, 0.82, m.CurrentPerformance)
}

func TestDeployRespectsCaps(t *testing.T) {
	r := New(3, true, nil, nil)
	require.NoError(t, r.Register(newModel("m")))

	var last models.Model
	for i := 0; i < 8; i++ {
		var err error
		last, err = r.Deploy(context.Background(), "m", models.TrainingResult{Performance: 0.8})
		require.NoError(t, err)
	}

	assert.Len(t, last.DeploymentHistory, 3)
	assert.Len(t, last.Backups, 5)
	// Version keeps increasing past the caps.
	assert.Equal(t, "1.0.8", last.Version.String())
}

func TestVersionStrictlyIncreasing(t *testing.T) {
	r := New(10, true, nil, nil)
	require.NoError(t, r.Register(newModel("m")))

	prev := models.Version{Major: 1}
	for i := 0; i < 3; i++ {
		deployed, err := r.Deploy(context.Background(), "m", models.TrainingResult{Performance: 0.8})
		require.NoError(t, err)
		assert.True(t, prev.Less(deployed.Version))
		prev = deployed.Version
	}
	restored, err := r.Rollback(context.Background(), "m")
	require.NoError(t, err)
	assert.True(t, prev.Less(restored.Version))
}

func TestRollback(t *testing.T) {
	emitter := &recordingEmitter{}
	r := New(10, true, emitter, nil)
	require.NoError(t, r.Register(newModel("m")))

	_, err := r.Deploy(context.Background(), "m", models.TrainingResult{Performance: 0.9})
	require.NoError(t, err)

	restored, err := r.Rollback(context.Background(), "m")
	require.NoError(t, err)
	assert.Equal(t, "1.0.2", restored.Version.String())
	assert.Equal(t, 0.72, restored.CurrentPerformance) // backup of 1.0.0
	assert.Empty(t, restored.Backups)
	require.Len(t, restored.DeploymentHistory, 2)
	assert.True(t, restored.DeploymentHistory[1].Rollback)

	updates := emitter.all()
	require.Len(t, updates, 2)
	assert.Equal(t, models.UpdateModelRolledBack, updates[1].Type)
	assert.Equal(t, "1.0.2", updates[1].Version)
}

func TestRollbackWithoutBackups(t *testing.T) {
	r := New(10, true, nil, nil)
	require.NoError(t, r.Register(newModel("m")))

	_, err := r.Rollback(context.Background(), "m")
	require.Error(t, err)
	assert.True(t, errkind.IsNotFound(err))
}

func TestRecordPerformanceBoundedHistory(t *testing.T) {
	r := New(10, true, nil, nil)
	require.NoError(t, r.Register(newModel("m")))

	for i := 0; i < 120; i++ {
		require.NoError(t, r.RecordPerformance("m", models.PerformanceSample{Overall: float64(i) / 120}))
	}

	history, err := r.PerformanceHistory("m")
	require.NoError(t, err)
	assert.Len(t, history, 100)

	m, err := r.Lookup("m")
	require.NoError(t, err)
	assert.InDelta(t, 119.0/120, m.CurrentPerformance, 1e-9)
}

func TestDriftIndicator(t *testing.T) {
	r := New(10, true, nil, nil)
	require.NoError(t, r.Register(newModel("m")))

	// Fewer than 20 samples: no call.
	for i := 0; i < 10; i++ {
		require.NoError(t, r.RecordPerformance("m", models.PerformanceSample{Overall: 0.8}))
	}
	drift, err := r.DriftIndicator("m")
	require.NoError(t, err)
	assert.False(t, drift.Detected)

	// Previous 10 at 0.8, last 10 at 0.72: 10% drop → medium.
	for i := 0; i < 10; i++ {
		require.NoError(t, r.RecordPerformance("m", models.PerformanceSample{Overall: 0.72}))
	}
	drift, err = r.DriftIndicator("m")
	require.NoError(t, err)
	assert.True(t, drift.Detected)
	assert.Equal(t, "medium", drift.Severity)
	assert.InDelta(t, 0.10, drift.Magnitude, 1e-9)

	// Next 10 at 0.55 against 0.72: ~23.6% → high.
	for i := 0; i < 10; i++ {
		require.NoError(t, r.RecordPerformance("m", models.PerformanceSample{Overall: 0.55}))
	}
	drift, err = r.DriftIndicator("m")
	require.NoError(t, err)
	assert.True(t, drift.Detected)
	assert.Equal(t, "high", drift.Severity)
}

func TestSetHealthTogglesStatus(t *testing.T) {
	r := New(10, true, nil, nil)
	require.NoError(t, r.Register(newModel("m")))

	require.NoError(t, r.SetHealth("m", false, "validation scores degrading"))
	m, _ := r.Lookup("m")
	assert.Equal(t, models.ModelStatusDegraded, m.Status)
	assert.Equal(t, "validation scores degrading", m.Health.Issue)

	require.NoError(t, r.SetHealth("m", true, ""))
	m, _ = r.Lookup("m")
	assert.Equal(t, models.ModelStatusActive, m.Status)
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	snap, err := persistence.NewStore(t.TempDir())
	require.NoError(t, err)

	r := New(10, true, nil, snap)
	r.now = func() time.Time { return time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC) }
	require.NoError(t, r.Register(newModel("m")))
	_, err = r.Deploy(context.Background(), "m", models.TrainingResult{Performance: 0.85})
	require.NoError(t, err)
	require.NoError(t, r.RecordPerformance("m", models.PerformanceSample{Overall: 0.85}))
	require.NoError(t, r.Snapshot())

	restored := New(10, true, nil, snap)
	restored.Restore()

	a, err := r.Lookup("m")
	require.NoError(t, err)
	b, err := restored.Lookup("m")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	ha, _ := r.PerformanceHistory("m")
	hb, _ := restored.PerformanceHistory("m")
	assert.Equal(t, ha, hb)
}
