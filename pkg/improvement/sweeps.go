package improvement

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/omni-platform/cladc/pkg/models"
)

// Sweep enqueues improvement tasks for models that are underperforming,
// unhealthy, or stale. Runs on the improvement interval.
func (p *Pipeline) Sweep(ctx context.Context) int {
	var triggered int
	for _, model := range p.registry.List() {
		if model.Status == models.ModelStatusRetired || p.store.hasLiveTask(model.Name) {
			continue
		}

		var issue *models.TaskIssue
		switch {
		case model.CurrentPerformance < sweepPerformanceFloor:
			issue = &models.TaskIssue{Kind: "low_performance", Severity: "medium",
				Description: "current performance below sweep floor"}
		case !model.Health.Healthy:
			issue = &models.TaskIssue{Kind: "health", Severity: "high", Description: model.Health.Issue}
		case p.now().Sub(model.LastUpdated) > staleAfter:
			issue = &models.TaskIssue{Kind: "stale", Severity: "low",
				Description: "not updated in over 24 hours"}
		}
		if issue == nil {
			continue
		}
		if _, err := p.Trigger(model.Name, *issue, models.PriorityMedium, false); err == nil {
			triggered++
		}
	}
	if triggered > 0 {
		slog.Info("Improvement sweep enqueued tasks", "count", triggered)
	}
	return triggered
}

// RetrainSweep enqueues rigorous retraining for badly degraded or
// long-stale models. Runs at twice the improvement interval.
func (p *Pipeline) RetrainSweep(ctx context.Context) int {
	var triggered int
	for _, model := range p.registry.List() {
		if model.Status == models.ModelStatusRetired || p.store.hasLiveTask(model.Name) {
			continue
		}
		if model.CurrentPerformance >= retrainPerformanceFloor && p.now().Sub(model.LastUpdated) <= retrainStaleAfter {
			continue
		}
		issue := models.TaskIssue{Kind: "retraining", Severity: "high",
			Description: "performance or freshness below retraining floor"}
		if _, err := p.Trigger(model.Name, issue, models.PriorityHigh, true); err == nil {
			triggered++
		}
	}
	if triggered > 0 {
		slog.Info("Retraining sweep enqueued tasks", "count", triggered)
	}
	return triggered
}

// abLedger holds the A/B test records.
type abLedger struct {
	mu    sync.Mutex
	tests map[string]*models.ABTest
}

func newABLedger() *abLedger {
	return &abLedger{tests: make(map[string]*models.ABTest)}
}

// ABSweep opens an A/B test for every model with at least two versions in
// its deployment history and no test already running. Models with fewer
// versions are skipped. Runs at three times the improvement interval.
func (p *Pipeline) ABSweep(ctx context.Context) int {
	var opened int
	for _, model := range p.registry.List() {
		if len(model.DeploymentHistory) < 2 {
			continue
		}
		if p.abLedger.hasOpenTest(model.Name) {
			continue
		}

		history := model.DeploymentHistory
		test := &models.ABTest{
			ID:              uuid.New().String(),
			ModelName:       model.Name,
			CurrentVersion:  history[len(history)-1].Version,
			PreviousVersion: history[len(history)-2].Version,
			StartedAt:       p.now(),
			Duration:        p.cfg.ABTestDuration,
		}
		p.abLedger.mu.Lock()
		p.abLedger.tests[test.ID] = test
		p.abLedger.mu.Unlock()
		opened++
		slog.Info("A/B test opened",
			"model", model.Name,
			"current", test.CurrentVersion.String(),
			"previous", test.PreviousVersion.String(),
			"duration", test.Duration)
	}
	return opened
}

// EvaluateABTests closes tests whose window has elapsed. The winner is
// the version with the higher recorded performance; an improvement of at
// least the performance threshold emits a deployment suggestion on the
// workflow channel.
func (p *Pipeline) EvaluateABTests(ctx context.Context) int {
	now := p.now()
	var closed int

	p.abLedger.mu.Lock()
	due := make([]*models.ABTest, 0)
	for _, test := range p.abLedger.tests {
		if test.CompletedAt == nil && !now.Before(test.StartedAt.Add(test.Duration)) {
			due = append(due, test)
		}
	}
	p.abLedger.mu.Unlock()

	for _, test := range due {
		model, err := p.registry.Lookup(test.ModelName)
		if err != nil {
			continue
		}
		currentPerf, prevPerf := performancesFor(model, test)
		improvement := 0.0
		if prevPerf > 0 {
			improvement = (currentPerf - prevPerf) / prevPerf
		}

		p.abLedger.mu.Lock()
		test.CompletedAt = &now
		test.Improvement = improvement
		if currentPerf >= prevPerf {
			test.Winner = "current"
		} else {
			test.Winner = "previous"
		}
		test.Suggested = test.Winner == "current" && improvement >= p.cfg.PerformanceThreshold
		suggested := test.Suggested
		p.abLedger.mu.Unlock()
		closed++

		slog.Info("A/B test completed",
			"model", test.ModelName,
			"winner", test.Winner,
			"improvement", improvement,
			"suggested", suggested)
		if suggested {
			p.emit(ctx, map[string]any{
				"type":        "deployment_suggestion",
				"model":       test.ModelName,
				"version":     test.CurrentVersion.String(),
				"improvement": improvement,
			})
		}
	}
	return closed
}

// ABTests returns the ledger, newest-first.
func (p *Pipeline) ABTests() []models.ABTest {
	p.abLedger.mu.Lock()
	defer p.abLedger.mu.Unlock()
	out := make([]models.ABTest, 0, len(p.abLedger.tests))
	for _, t := range p.abLedger.tests {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

func (l *abLedger) hasOpenTest(modelName string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, t := range l.tests {
		if t.ModelName == modelName && t.CompletedAt == nil {
			return true
		}
	}
	return false
}

// performancesFor reads the recorded performance of the two compared
// versions from the deployment history.
func performancesFor(model models.Model, test *models.ABTest) (current, previous float64) {
	for _, rec := range model.DeploymentHistory {
		if rec.Version == test.CurrentVersion {
			current = rec.Performance
		}
		if rec.Version == test.PreviousVersion {
			previous = rec.Performance
		}
	}
	return current, previous
}
