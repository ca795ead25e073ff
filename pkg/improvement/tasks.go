// Package improvement orchestrates model improvement tasks: a six-step
// state machine (analyze, collect_data, train, validate, test_deploy,
// deploy) executed by a bounded worker pool, fed by scheduled sweeps,
// drift and health callbacks, and manual triggers.
package improvement

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/omni-platform/cladc/pkg/errkind"
	"github.com/omni-platform/cladc/pkg/models"
)

// Polling errors used between the task store and the worker pool.
var (
	ErrNoTasksAvailable = errors.New("no pending tasks available")
	ErrAtCapacity       = errors.New("maximum concurrent tasks reached")
)

// taskStore holds all improvement tasks and the pending FIFO.
type taskStore struct {
	mu        sync.Mutex
	tasks     map[string]*models.ImprovementTask
	pending   []string // task ids, FIFO
	active    int
	maxActive int

	now func() time.Time
}

func newTaskStore(maxActive int) *taskStore {
	return &taskStore{
		tasks:     make(map[string]*models.ImprovementTask),
		maxActive: maxActive,
		now:       time.Now,
	}
}

// create enqueues a new pending task. A model with a live (pending or
// in-progress) task cannot get a second one.
func (s *taskStore) create(modelName string, issue models.TaskIssue, priority models.TaskPriority, rigorous bool) (models.ImprovementTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tasks {
		if t.ModelName == modelName && !t.Terminal() {
			return models.ImprovementTask{}, errkind.New(errkind.Conflict, "improvement",
				"model %q already has task %s in status %s", modelName, t.ID, t.Status)
		}
	}

	task := &models.ImprovementTask{
		ID:        uuid.New().String(),
		ModelName: modelName,
		Issue:     issue,
		Priority:  priority,
		Status:    models.TaskPending,
		Rigorous:  rigorous,
		Steps:     models.NewSteps(),
		CreatedAt: s.now(),
	}
	s.tasks[task.ID] = task
	s.pending = append(s.pending, task.ID)
	return *task, nil
}

// next claims the oldest pending task for execution.
func (s *taskStore) next() (*models.ImprovementTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active >= s.maxActive {
		return nil, ErrAtCapacity
	}
	if len(s.pending) == 0 {
		return nil, ErrNoTasksAvailable
	}

	id := s.pending[0]
	s.pending = s.pending[1:]
	task := s.tasks[id]
	if task == nil {
		return nil, ErrNoTasksAvailable
	}

	now := s.now()
	task.Status = models.TaskInProgress
	task.StartedAt = &now
	s.active++
	return task, nil
}

// release marks a claimed task finished.
func (s *taskStore) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active > 0 {
		s.active--
	}
}

// update applies fn to a task under the store lock.
func (s *taskStore) update(id string, fn func(t *models.ImprovementTask)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t := s.tasks[id]; t != nil {
		fn(t)
	}
}

// get returns a copy of one task.
func (s *taskStore) get(id string) (models.ImprovementTask, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return models.ImprovementTask{}, false
	}
	return cloneTask(t), true
}

// list returns copies of all tasks, newest-first.
func (s *taskStore) list() []models.ImprovementTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ImprovementTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, cloneTask(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// hasLiveTask reports whether a model has a pending or in-progress task.
func (s *taskStore) hasLiveTask(modelName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.ModelName == modelName && !t.Terminal() {
			return true
		}
	}
	return false
}

func cloneTask(t *models.ImprovementTask) models.ImprovementTask {
	out := *t
	out.Steps = make(map[string]models.StepStatus, len(t.Steps))
	for k, v := range t.Steps {
		out.Steps[k] = v
	}
	return out
}
