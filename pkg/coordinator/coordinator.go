// Package coordinator owns the process lifecycle: it restores persisted
// state, brings up every component, subscribes to the fixed bus channel
// set, runs the periodic loops, and republishes internal emissions onto
// the bus. Components never reference each other directly; all
// cross-component flow goes through here.
package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/omni-platform/cladc/pkg/bus"
	"github.com/omni-platform/cladc/pkg/capability"
	"github.com/omni-platform/cladc/pkg/config"
	"github.com/omni-platform/cladc/pkg/errkind"
	"github.com/omni-platform/cladc/pkg/eventstore"
	"github.com/omni-platform/cladc/pkg/experience"
	"github.com/omni-platform/cladc/pkg/improvement"
	"github.com/omni-platform/cladc/pkg/models"
	"github.com/omni-platform/cladc/pkg/monitoring"
	"github.com/omni-platform/cladc/pkg/persistence"
	"github.com/omni-platform/cladc/pkg/registry"
	"github.com/omni-platform/cladc/pkg/reporting"
)

// shutdownGrace bounds how long Stop waits for loops and in-flight work.
const shutdownGrace = 5 * time.Second

// Coordinator assembles and drives every CLADC component.
type Coordinator struct {
	cfg *config.Config

	bus       *bus.Adapter
	events    *eventstore.Store
	buffer    *experience.Buffer
	flusher   *experience.Flusher
	registry  *registry.Registry
	pipeline  *improvement.Pipeline
	monitor   *monitoring.Service
	reports   *reporting.Generator
	scheduler *reporting.Scheduler
	runtime   capability.Runtime
	snap      *persistence.Store

	startedAt time.Time

	cancelsMu sync.Mutex
	cancels   []bus.CancelFunc

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	improvementTicks int

	fatalCh chan error
	now     func() time.Time
}

// New wires the component graph. The adapter must not be started yet;
// Start connects it.
func New(cfg *config.Config, adapter *bus.Adapter, runtime capability.Runtime, snap *persistence.Store) (*Coordinator, error) {
	c := &Coordinator{
		cfg:     cfg,
		bus:     adapter,
		runtime: runtime,
		snap:    snap,
		stopCh:  make(chan struct{}),
		fatalCh: make(chan error, 1),
		now:     time.Now,
	}

	c.events = eventstore.NewStore(cfg.Buffers.MaxEvents, cfg.Buffers.MaxInsights, snap)

	c.buffer = experience.NewBuffer(
		cfg.Buffers.MaxBufferSize,
		cfg.Buffers.BatchSize,
		cfg.Pipeline.FlushRetries,
		experience.SinkFunc(c.deliverBatch),
	)
	c.flusher = experience.NewFlusher(c.buffer,
		cfg.Intervals.Flush, cfg.Intervals.RealTimeSync, cfg.Features.RealTimeSync)

	c.registry = registry.New(
		cfg.Buffers.MaxModelVersions,
		cfg.Features.BackupBeforeUpdate,
		registry.EmitterFunc(c.emitModelUpdate),
		snap,
	)

	c.pipeline = improvement.New(improvement.Config{
		MaxConcurrentTasks:   cfg.Pipeline.MaxConcurrentTasks,
		PollInterval:         cfg.Pipeline.PollInterval,
		PollIntervalJitter:   cfg.Pipeline.PollIntervalJitter,
		ValidationThreshold:  cfg.Thresholds.ValidationScore,
		RigorousThreshold:    cfg.Thresholds.RigorousScore,
		TrainTimeout:         cfg.Pipeline.TrainTimeout,
		CollectTimeout:       cfg.Pipeline.CollectTimeout,
		SmokeTestTimeout:     cfg.Pipeline.SmokeTestTimeout,
		ABTestDuration:       cfg.Pipeline.ABTestDuration,
		PerformanceThreshold: cfg.Thresholds.Performance,
	}, c.registry, runtime, improvement.WorkflowEmitterFunc(c.emitWorkflow))

	c.monitor = monitoring.NewService(monitoring.Config{
		Monitors: monitoring.DefaultMonitors(
			cfg.Thresholds.CPUUsage,
			cfg.Thresholds.MemoryUsage,
			cfg.Thresholds.ErrorRate,
			float64(cfg.Thresholds.ResponseTime.Milliseconds()),
		),
		Escalation: map[models.AlertSeverity]monitoring.EscalationRule{
			models.SeverityCritical: {After: cfg.Escalation.Critical.After, Target: cfg.Escalation.Critical.Target},
			models.SeverityHigh:     {After: cfg.Escalation.High.After, Target: cfg.Escalation.High.Target},
			models.SeverityMedium:   {After: cfg.Escalation.Medium.After, Target: cfg.Escalation.Medium.Target},
		},
		AlertRetention: cfg.Retention.Alerts,
		MaxSamples:     cfg.Buffers.MaxMetricSamples,
		AutoRecovery:   cfg.Features.AutoRecovery,
	}, monitoring.RecoveryRunnerFunc(c.recoverComponent), snap)

	c.reports = reporting.NewGenerator(reporting.Config{
		ReportsDir:       cfg.Paths.ReportsDir,
		DocsDir:          cfg.Paths.DocsDir,
		MaxReportHistory: cfg.Buffers.MaxReportHistory,
		Retention:        cfg.Retention.Reports,
	}, c.events, c.registry, c.monitor, reporting.EmitterFunc(c.emitReportPublished), snap)

	scheduler, err := reporting.NewScheduler(c.reports, cfg.Intervals.ReportGeneration)
	if err != nil {
		return nil, err
	}
	c.scheduler = scheduler

	c.registerProbes()
	return c, nil
}

// Start restores snapshots, connects the bus, subscribes, and launches
// every loop. Bus unavailability degrades startup, never fails it.
func (c *Coordinator) Start(ctx context.Context) error {
	c.startedAt = c.now()

	c.events.Restore()
	c.registry.Restore()
	c.monitor.Restore()
	c.reports.Restore()

	c.bus.Start(ctx)
	if err := c.subscribeAll(ctx); err != nil {
		slog.Warn("Bus subscriptions incomplete at startup, will not retry automatically", "error", err)
	}

	c.flusher.Start(ctx)
	c.pipeline.Start(ctx)
	c.scheduler.Start(ctx)
	c.startLoops(ctx)

	slog.Info("Coordinator started",
		"max_events", c.cfg.Buffers.MaxEvents,
		"max_buffer_size", c.cfg.Buffers.MaxBufferSize,
		"auto_recovery", c.cfg.Features.AutoRecovery)
	return nil
}

// Stop tears everything down in reverse order: subscriptions first so no
// new work arrives, then loops and workers, then a final snapshot.
func (c *Coordinator) Stop(ctx context.Context) {
	c.stopOnce.Do(func() { close(c.stopCh) })

	c.cancelsMu.Lock()
	for _, cancel := range c.cancels {
		cancel()
	}
	c.cancels = nil
	c.cancelsMu.Unlock()

	c.scheduler.Stop()
	c.pipeline.Stop()
	c.flusher.Stop(ctx)

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		slog.Warn("Periodic loops did not stop within grace period")
	}

	c.snapshotAll()
	c.bus.Stop(ctx)
	slog.Info("Coordinator stopped", "uptime", c.now().Sub(c.startedAt).Round(time.Second))
}

// Fatal delivers at most one fatal error; main shuts down on receipt.
func (c *Coordinator) Fatal() <-chan error { return c.fatalCh }

func (c *Coordinator) reportFatal(err error) {
	select {
	case c.fatalCh <- err:
	default:
	}
}

// snapshotAll persists every component, best-effort.
func (c *Coordinator) snapshotAll() {
	for name, save := range map[string]func() error{
		"eventstore": c.events.Snapshot,
		"registry":   c.registry.Snapshot,
		"monitoring": c.monitor.Snapshot,
		"reporting":  c.reports.Snapshot,
	} {
		if err := save(); err != nil {
			slog.Error("Component snapshot failed", "component", name, "error", err)
		}
	}
}

// recoverComponent is the deterministic auto-recovery procedure invoked by
// the incident manager.
func (c *Coordinator) recoverComponent(ctx context.Context, component string) error {
	switch component {
	case "kafka":
		health := c.bus.Health(ctx)
		if !health.KafkaConnected {
			return errkind.New(errkind.BusUnavailable, "coordinator", "kafka backend still disconnected")
		}
		return nil
	case "amqp":
		health := c.bus.Health(ctx)
		if !health.AMQPConnected {
			return errkind.New(errkind.BusUnavailable, "coordinator", "amqp backend still disconnected")
		}
		return nil
	case "experience":
		_, failed := c.buffer.FlushAll(ctx)
		if failed > 0 {
			return errkind.New(errkind.StepFailed, "coordinator", "%d experience batches dropped during recovery flush", failed)
		}
		return nil
	case "improvement":
		// Workers self-heal by polling; a backlog clears on its own.
		return nil
	default:
		return errkind.New(errkind.NotFound, "coordinator", "no recovery procedure for component %q", component)
	}
}

// registerProbes feeds each component's status into the monitoring
// component registry.
func (c *Coordinator) registerProbes() {
	c.monitor.RegisterComponent("bus", func() monitoring.ComponentStatus {
		health := c.bus.Health(context.Background())
		status := "running"
		if health.Degraded() {
			status = "degraded"
		}
		return monitoring.ComponentStatus{Status: status}
	})
	c.monitor.RegisterComponent("eventstore", func() monitoring.ComponentStatus {
		return monitoring.ComponentStatus{
			Status:   "running",
			Counters: map[string]float64{"events": float64(c.events.Len())},
		}
	})
	c.monitor.RegisterComponent("experience", func() monitoring.ComponentStatus {
		return monitoring.ComponentStatus{
			Status:   "running",
			Counters: map[string]float64{"buffered": float64(c.buffer.Len())},
		}
	})
	c.monitor.RegisterComponent("improvement", func() monitoring.ComponentStatus {
		tasks := c.pipeline.Tasks()
		var active int
		for _, t := range tasks {
			if t.Status == models.TaskInProgress {
				active++
			}
		}
		pool := c.pipeline.PoolHealth()
		return monitoring.ComponentStatus{
			Status: "running",
			Counters: map[string]float64{
				"tasks_total":     float64(len(tasks)),
				"tasks_active":    float64(active),
				"workers":         float64(pool.Workers),
				"workers_active":  float64(pool.ActiveWorkers),
				"tasks_processed": float64(pool.TasksProcessed),
			},
		}
	})
}

// Status is the coordinator's operational surface, served by the API.
type Status struct {
	Uptime     time.Duration                         `json:"uptime"`
	Degraded   bool                                  `json:"degraded"`
	Bus        bus.Health                            `json:"bus"`
	Components map[string]monitoring.ComponentStatus `json:"components"`
	Counts     StatusCounts                          `json:"counts"`
}

// StatusCounts summarises per-component volumes.
type StatusCounts struct {
	Events       int `json:"events"`
	Experiences  int `json:"experiences_buffered"`
	Models       int `json:"models"`
	Tasks        int `json:"tasks"`
	ActiveAlerts int `json:"active_alerts"`
	Incidents    int `json:"incidents"`
	Reports      int `json:"reports"`
}

// Status reports the live state of every component.
func (c *Coordinator) Status(ctx context.Context) Status {
	health := c.bus.Health(ctx)

	active := true
	return Status{
		Uptime:   c.now().Sub(c.startedAt),
		Degraded: health.Degraded(),
		Bus:      health,
		Components: map[string]monitoring.ComponentStatus{
			"bus":         {Status: busStatus(health)},
			"eventstore":  {Status: "running", Counters: map[string]float64{"events": float64(c.events.Len())}},
			"experience":  {Status: "running", Counters: map[string]float64{"buffered": float64(c.buffer.Len())}},
			"improvement": {Status: "running", Counters: map[string]float64{"tasks": float64(len(c.pipeline.Tasks()))}},
		},
		Counts: StatusCounts{
			Events:       c.events.Len(),
			Experiences:  c.buffer.Len(),
			Models:       len(c.registry.List()),
			Tasks:        len(c.pipeline.Tasks()),
			ActiveAlerts: len(c.monitor.Alerts(models.AlertFilters{Active: &active})),
			Incidents:    len(c.monitor.Incidents()),
			Reports:      len(c.reports.Reports(models.ReportFilters{})),
		},
	}
}

func busStatus(health bus.Health) string {
	if health.Degraded() {
		return "degraded"
	}
	return "running"
}

// Component accessors for the API layer.

// Events returns the event store.
func (c *Coordinator) Events() *eventstore.Store { return c.events }

// Buffer returns the experience buffer.
func (c *Coordinator) Buffer() *experience.Buffer { return c.buffer }

// Registry returns the model registry.
func (c *Coordinator) Registry() *registry.Registry { return c.registry }

// Pipeline returns the improvement pipeline.
func (c *Coordinator) Pipeline() *improvement.Pipeline { return c.pipeline }

// Monitor returns the monitoring service.
func (c *Coordinator) Monitor() *monitoring.Service { return c.monitor }

// Reports returns the report generator.
func (c *Coordinator) Reports() *reporting.Generator { return c.reports }
