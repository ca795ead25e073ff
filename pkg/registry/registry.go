// Package registry is the model registry and version store. It owns the
// canonical record of every improvable model: current version, composite
// performance, bounded performance history, deployment history, and
// restorable backups. Mutations are serialised per model; version/history
// updates commit together so readers never observe a half-deployed model.
package registry

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/omni-platform/cladc/pkg/errkind"
	"github.com/omni-platform/cladc/pkg/models"
	"github.com/omni-platform/cladc/pkg/persistence"
)

// Emitter publishes registry lifecycle events onto the bus. The
// coordinator implements this; tests substitute a recorder.
type Emitter interface {
	EmitModelUpdate(ctx context.Context, update models.ModelUpdate)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ctx context.Context, update models.ModelUpdate)

// EmitModelUpdate implements Emitter.
func (f EmitterFunc) EmitModelUpdate(ctx context.Context, update models.ModelUpdate) {
	f(ctx, update)
}

const (
	maxPerformanceSamples = 100
	maxBackups            = 5

	driftDetectThreshold = 0.05
	driftHighThreshold   = 0.15
)

type entry struct {
	mu      sync.Mutex
	model   models.Model
	history []models.PerformanceSample
}

// Registry holds all registered models.
type Registry struct {
	maxModelVersions int

	mu      sync.RWMutex
	entries map[string]*entry

	backupBeforeUpdate bool
	emitter            Emitter
	snap               *persistence.Store
	now                func() time.Time
}

// New creates a registry. snap and emitter may be nil (tests).
func New(maxModelVersions int, backupBeforeUpdate bool, emitter Emitter, snap *persistence.Store) *Registry {
	return &Registry{
		maxModelVersions:   maxModelVersions,
		entries:            make(map[string]*entry),
		backupBeforeUpdate: backupBeforeUpdate,
		emitter:            emitter,
		snap:               snap,
		now:                time.Now,
	}
}

// Register adds a model. Registering an existing name returns a conflict.
func (r *Registry) Register(model models.Model) error {
	if model.Name == "" {
		return errkind.New(errkind.Validation, "registry", "model name is required")
	}
	if model.Type == "" {
		model.Type = models.ModelGeneric
	}
	if model.Status == "" {
		model.Status = models.ModelStatusActive
	}
	if model.LastUpdated.IsZero() {
		model.LastUpdated = r.now()
	}
	if model.Health.LastChecked.IsZero() {
		model.Health = models.ModelHealth{Healthy: true, LastChecked: r.now()}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[model.Name]; exists {
		return errkind.New(errkind.Conflict, "registry", "model %q already registered", model.Name)
	}
	r.entries[model.Name] = &entry{model: model}
	slog.Info("Model registered", "model", model.Name, "version", model.Version.String())
	return nil
}

// Lookup returns a copy of the model record.
func (r *Registry) Lookup(name string) (models.Model, error) {
	e, err := r.entry(name)
	if err != nil {
		return models.Model{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneModel(e.model), nil
}

// List returns all models sorted by name.
func (r *Registry) List() []models.Model {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]models.Model, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, cloneModel(e.model))
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RecordPerformance appends one sample to the model's bounded history and
// recomputes current_performance as the latest sample's overall score.
func (r *Registry) RecordPerformance(name string, sample models.PerformanceSample) error {
	e, err := r.entry(name)
	if err != nil {
		return err
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = r.now()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = append(e.history, sample)
	if len(e.history) > maxPerformanceSamples {
		e.history = e.history[len(e.history)-maxPerformanceSamples:]
	}
	e.model.CurrentPerformance = sample.Overall
	if sample.Metrics != nil {
		e.model.Metrics = sample.Metrics
	}
	return nil
}

// PerformanceHistory returns a copy of the model's sample series, oldest
// first.
func (r *Registry) PerformanceHistory(name string) ([]models.PerformanceSample, error) {
	e, err := r.entry(name)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.PerformanceSample(nil), e.history...), nil
}

// SetHealth updates the model's health record.
func (r *Registry) SetHealth(name string, healthy bool, issue string) error {
	e, err := r.entry(name)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.model.Health = models.ModelHealth{Healthy: healthy, Issue: issue, LastChecked: r.now()}
	if !healthy && e.model.Status == models.ModelStatusActive {
		e.model.Status = models.ModelStatusDegraded
	} else if healthy && e.model.Status == models.ModelStatusDegraded {
		e.model.Status = models.ModelStatusActive
	}
	return nil
}

// SetStatus updates the model's lifecycle status.
func (r *Registry) SetStatus(name string, status models.ModelStatus) error {
	e, err := r.entry(name)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.model.Status = status
	return nil
}

// Deploy commits a training result as a new PATCH version: backup (when
// configured), version bump, performance replacement, history append, and
// a model_deployed emission — all under the model's lock.
func (r *Registry) Deploy(ctx context.Context, name string, result models.TrainingResult) (models.Model, error) {
	e, err := r.entry(name)
	if err != nil {
		return models.Model{}, err
	}

	e.mu.Lock()
	if r.backupBeforeUpdate {
		e.model.Backups = append(e.model.Backups, models.ModelBackup{
			Version:     e.model.Version,
			Performance: e.model.CurrentPerformance,
			Metrics:     e.model.Metrics,
			TakenAt:     r.now(),
		})
		if len(e.model.Backups) > maxBackups {
			e.model.Backups = e.model.Backups[len(e.model.Backups)-maxBackups:]
		}
	}

	e.model.Version = e.model.Version.NextPatch()
	e.model.CurrentPerformance = result.Performance
	if result.Metrics != nil {
		e.model.Metrics = result.Metrics
	}
	e.model.LastUpdated = r.now()
	e.model.DeploymentHistory = append(e.model.DeploymentHistory, models.DeploymentRecord{
		Version:     e.model.Version,
		Performance: result.Performance,
		DeployedAt:  r.now(),
	})
	if len(e.model.DeploymentHistory) > r.maxModelVersions {
		e.model.DeploymentHistory = e.model.DeploymentHistory[len(e.model.DeploymentHistory)-r.maxModelVersions:]
	}
	deployed := cloneModel(e.model)
	e.mu.Unlock()

	slog.Info("Model deployed",
		"model", name,
		"version", deployed.Version.String(),
		"performance", deployed.CurrentPerformance)

	if r.emitter != nil {
		r.emitter.EmitModelUpdate(ctx, models.ModelUpdate{
			Type:        models.UpdateModelDeployed,
			Name:        name,
			Version:     deployed.Version.String(),
			Performance: deployed.CurrentPerformance,
		})
	}
	r.persist()
	return deployed, nil
}

// Rollback restores the most recent backup under a new PATCH version.
// With no backups it returns not_found.
func (r *Registry) Rollback(ctx context.Context, name string) (models.Model, error) {
	e, err := r.entry(name)
	if err != nil {
		return models.Model{}, err
	}

	e.mu.Lock()
	if len(e.model.Backups) == 0 {
		e.mu.Unlock()
		return models.Model{}, errkind.New(errkind.NotFound, "registry", "no backups for model %q", name)
	}
	backup := e.model.Backups[len(e.model.Backups)-1]
	e.model.Backups = e.model.Backups[:len(e.model.Backups)-1]

	e.model.Version = e.model.Version.NextPatch()
	e.model.CurrentPerformance = backup.Performance
	e.model.Metrics = backup.Metrics
	e.model.LastUpdated = r.now()
	e.model.DeploymentHistory = append(e.model.DeploymentHistory, models.DeploymentRecord{
		Version:     e.model.Version,
		Performance: backup.Performance,
		DeployedAt:  r.now(),
		Rollback:    true,
	})
	if len(e.model.DeploymentHistory) > r.maxModelVersions {
		e.model.DeploymentHistory = e.model.DeploymentHistory[len(e.model.DeploymentHistory)-r.maxModelVersions:]
	}
	restored := cloneModel(e.model)
	e.mu.Unlock()

	slog.Info("Model rolled back",
		"model", name,
		"version", restored.Version.String(),
		"restored_from", backup.Version.String())

	if r.emitter != nil {
		r.emitter.EmitModelUpdate(ctx, models.ModelUpdate{
			Type:        models.UpdateModelRolledBack,
			Name:        name,
			Version:     restored.Version.String(),
			Performance: restored.CurrentPerformance,
		})
	}
	r.persist()
	return restored, nil
}

// DriftIndicator compares the means of the last 10 and previous 10
// performance samples. Fewer than 20 samples means no drift call.
func (r *Registry) DriftIndicator(name string) (models.DriftIndicator, error) {
	e, err := r.entry(name)
	if err != nil {
		return models.DriftIndicator{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.history) < 20 {
		return models.DriftIndicator{}, nil
	}

	recent := mean(e.history[len(e.history)-10:])
	previous := mean(e.history[len(e.history)-20 : len(e.history)-10])
	if previous == 0 {
		return models.DriftIndicator{}, nil
	}

	magnitude := math.Abs(recent-previous) / previous
	indicator := models.DriftIndicator{Magnitude: magnitude}
	if magnitude > driftDetectThreshold {
		indicator.Detected = true
		if magnitude > driftHighThreshold {
			indicator.Severity = "high"
		} else {
			indicator.Severity = "medium"
		}
	}
	return indicator, nil
}

func (r *Registry) entry(name string) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, errkind.New(errkind.NotFound, "registry", "model %q not registered", name)
	}
	return e, nil
}

func mean(samples []models.PerformanceSample) float64 {
	var sum float64
	for _, s := range samples {
		sum += s.Overall
	}
	return sum / float64(len(samples))
}

// cloneModel deep-copies the slices and maps so callers cannot mutate
// registry state through a returned record.
func cloneModel(m models.Model) models.Model {
	out := m
	out.Components = append([]string(nil), m.Components...)
	out.DeploymentHistory = append([]models.DeploymentRecord(nil), m.DeploymentHistory...)
	out.Backups = append([]models.ModelBackup(nil), m.Backups...)
	if m.Metrics != nil {
		out.Metrics = make(map[string]float64, len(m.Metrics))
		for k, v := range m.Metrics {
			out.Metrics[k] = v
		}
	}
	return out
}

// snapshotState is the on-disk shape of the registry.
type snapshotState struct {
	Models  map[string]models.Model               `json:"models"`
	History map[string][]models.PerformanceSample `json:"history"`
}

// Snapshot writes the registry to disk.
func (r *Registry) Snapshot() error {
	if r.snap == nil {
		return nil
	}
	state := snapshotState{
		Models:  make(map[string]models.Model),
		History: make(map[string][]models.PerformanceSample),
	}
	r.mu.RLock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	r.mu.RUnlock()

	for _, name := range names {
		e, err := r.entry(name)
		if err != nil {
			continue
		}
		e.mu.Lock()
		state.Models[name] = cloneModel(e.model)
		state.History[name] = append([]models.PerformanceSample(nil), e.history...)
		e.mu.Unlock()
	}
	return r.snap.Save(persistence.FileRegistry, state)
}

// Restore loads the registry snapshot, replacing in-memory state.
func (r *Registry) Restore() {
	if r.snap == nil {
		return
	}
	var state snapshotState
	if !r.snap.Load(persistence.FileRegistry, &state) {
		return
	}

	r.mu.Lock()
	r.entries = make(map[string]*entry, len(state.Models))
	for name, model := range state.Models {
		r.entries[name] = &entry{model: model, history: state.History[name]}
	}
	r.mu.Unlock()
	slog.Info("Model registry restored", "models", len(state.Models))
}

func (r *Registry) persist() {
	if r.snap == nil {
		return
	}
	if err := r.Snapshot(); err != nil {
		slog.Warn("Registry snapshot failed", "error", err)
	}
}
