package coordinator

import (
	"context"
	"log/slog"
	"time"

	"github.com/omni-platform/cladc/pkg/bus"
	"github.com/omni-platform/cladc/pkg/capability"
	"github.com/omni-platform/cladc/pkg/models"
)

// startLoops launches every periodic loop with a staggered initial offset
// so the loops never fire in lockstep after startup.
func (c *Coordinator) startLoops(ctx context.Context) {
	iv := c.cfg.Intervals
	loops := []struct {
		name     string
		interval time.Duration
		run      func(ctx context.Context)
	}{
		{"learning", iv.Learning, c.learningTick},
		{"development", iv.Development, c.developmentTick},
		{"improvement", iv.Improvement, c.improvementTick},
		{"model_validation", iv.ModelValidation, c.modelValidationTick},
		{"deployment", iv.Deployment, c.deploymentTick},
		{"monitoring", iv.Monitoring, c.monitoringTick},
		{"health_check", iv.HealthCheck, c.healthCheckTick},
	}

	for i, loop := range loops {
		stagger := time.Duration(i+1) * (loop.interval / 10)
		c.wg.Add(1)
		go c.runLoop(ctx, loop.name, loop.interval, stagger, loop.run)
	}
}

func (c *Coordinator) runLoop(ctx context.Context, name string, interval, stagger time.Duration, run func(ctx context.Context)) {
	defer c.wg.Done()

	select {
	case <-time.After(stagger):
	case <-c.stopCh:
		return
	case <-ctx.Done():
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	slog.Debug("Periodic loop started", "loop", name, "interval", interval)

	for {
		select {
		case <-ticker.C:
			run(ctx)
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// learningTick runs pattern analysis over the event stream and prunes
// events past retention.
func (c *Coordinator) learningTick(ctx context.Context) {
	patterns := c.events.PatternAnalysis()
	if len(patterns) > 0 {
		slog.Debug("Learning cycle detected patterns", "count", len(patterns))
	}
	if removed := c.events.Cleanup(c.cfg.Retention.Events); removed > 0 {
		slog.Debug("Event retention cleanup", "removed", removed)
	}
}

// developmentTick checks every model for performance drift, raising an
// alert and enqueueing a corrective task when drift is detected.
func (c *Coordinator) developmentTick(ctx context.Context) {
	for _, model := range c.registry.List() {
		drift, err := c.registry.DriftIndicator(model.Name)
		if err != nil || !drift.Detected {
			continue
		}

		severity := models.SeverityMedium
		if drift.Severity == "high" {
			severity = models.SeverityHigh
		}
		c.monitor.RaiseAlert("model_drift", model.Name, drift.Magnitude, 0.05, severity,
			"model performance drift detected")

		issue := models.TaskIssue{Kind: "drift", Severity: drift.Severity,
			Description: "performance drift beyond threshold"}
		priority := models.PriorityMedium
		if severity == models.SeverityHigh {
			priority = models.PriorityHigh
		}
		if _, err := c.pipeline.Trigger(model.Name, issue, priority, severity == models.SeverityHigh); err == nil {
			slog.Info("Drift-triggered improvement enqueued",
				"model", model.Name,
				"magnitude", drift.Magnitude,
				"severity", drift.Severity)
		}
	}
}

// improvementTick runs the pipeline sweeps: the standard sweep every tick,
// retraining every second, A/B openings every third.
func (c *Coordinator) improvementTick(ctx context.Context) {
	c.improvementTicks++
	c.pipeline.Sweep(ctx)
	if c.improvementTicks%2 == 0 {
		c.pipeline.RetrainSweep(ctx)
	}
	if c.cfg.Features.ABTesting && c.improvementTicks%3 == 0 {
		c.pipeline.ABSweep(ctx)
	}
}

// modelValidationTick probes every active model through the capability
// runtime and updates registry health.
func (c *Coordinator) modelValidationTick(ctx context.Context) {
	for _, model := range c.registry.List() {
		if model.Status == models.ModelStatusRetired {
			continue
		}
		inferCtx, cancel := context.WithTimeout(ctx, capability.InferDeadline)
		_, err := c.runtime.Infer(inferCtx, capability.InferRequest{
			Model: model.Name,
			Input: map[string]any{"probe": true},
		})
		cancel()
		if err != nil {
			c.registry.SetHealth(model.Name, false, "inference probe failed: "+err.Error())
			slog.Warn("Model validation probe failed", "model", model.Name, "error", err)
			continue
		}
		c.registry.SetHealth(model.Name, true, "")
	}
}

// deploymentTick closes elapsed A/B windows; winners above the threshold
// emit deployment suggestions on the workflow channel.
func (c *Coordinator) deploymentTick(ctx context.Context) {
	if !c.cfg.Features.ABTesting {
		return
	}
	c.pipeline.EvaluateABTests(ctx)
}

// monitoringTick collects one sample round and publishes the metric
// snapshot onto the bus.
func (c *Coordinator) monitoringTick(ctx context.Context) {
	c.monitor.CollectTick(ctx)

	active := true
	c.publishJSON(ctx, bus.ChannelMetrics, map[string]any{
		"type":          "metrics_snapshot",
		"timestamp":     c.now(),
		"events":        c.events.Len(),
		"buffered":      c.buffer.Len(),
		"models":        len(c.registry.List()),
		"active_alerts": len(c.monitor.Alerts(models.AlertFilters{Active: &active})),
		"bus":           c.bus.Health(ctx),
	})
}

// healthCheckTick drives alert escalation, incident management, and
// recovery. Runs on the health-check interval.
func (c *Coordinator) healthCheckTick(ctx context.Context) {
	c.monitor.ManagementTick(ctx)
}
