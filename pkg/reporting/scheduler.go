package reporting

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/omni-platform/cladc/pkg/models"
)

// Default report schedules: daily summary at 09:00, weekly performance
// Monday 08:00, insights Friday 10:00.
const (
	scheduleDailySummary = "0 9 * * *"
	schedulePerformance  = "0 8 * * 1"
	scheduleInsights     = "0 10 * * 5"
)

// scheduleSlot pairs a cron schedule with the report type it produces.
type scheduleSlot struct {
	reportType models.ReportType
	schedule   cron.Schedule
	lastRun    time.Time
}

// Scheduler drives scheduled report generation, the documentation
// refresh, and retention cleanup. Slots are evaluated against a last-run
// anchor so a tick landing after a slot's fire time still produces the
// report, even when the process was busy or down at the exact minute.
type Scheduler struct {
	generator  *Generator
	interval   time.Duration
	docsEvery  time.Duration
	purgeEvery time.Duration

	mu          sync.Mutex
	slots       []*scheduleSlot
	lastDocs    time.Time
	lastCleanup time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	now      func() time.Time
}

// NewScheduler builds the scheduler with the standard slots. interval is
// the evaluation tick, normally one hour.
func NewScheduler(generator *Generator, interval time.Duration) (*Scheduler, error) {
	specs := []struct {
		reportType models.ReportType
		spec       string
	}{
		{models.ReportDailySummary, scheduleDailySummary},
		{models.ReportPerformance, schedulePerformance},
		{models.ReportLearningInsights, scheduleInsights},
	}

	s := &Scheduler{
		generator:  generator,
		interval:   interval,
		docsEvery:  2 * time.Hour,
		purgeEvery: 24 * time.Hour,
		stopCh:     make(chan struct{}),
		now:        time.Now,
	}
	start := s.now()
	for _, entry := range specs {
		schedule, err := cron.ParseStandard(entry.spec)
		if err != nil {
			return nil, err
		}
		s.slots = append(s.slots, &scheduleSlot{
			reportType: entry.reportType,
			schedule:   schedule,
			lastRun:    start,
		})
	}
	s.lastDocs = start
	s.lastCleanup = start
	return s, nil
}

// Start launches the evaluation loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Tick(ctx)
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	slog.Info("Report scheduler started", "interval", s.interval)
}

// Stop halts the evaluation loop.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// Tick evaluates every slot once: a slot fires when its next scheduled
// time since the last run is not in the future.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	due := make([]models.ReportType, 0, len(s.slots))
	for _, slot := range s.slots {
		if !slot.schedule.Next(slot.lastRun).After(now) {
			due = append(due, slot.reportType)
			slot.lastRun = now
		}
	}
	refreshDocs := now.Sub(s.lastDocs) >= s.docsEvery
	if refreshDocs {
		s.lastDocs = now
	}
	cleanup := now.Sub(s.lastCleanup) >= s.purgeEvery
	if cleanup {
		s.lastCleanup = now
	}
	s.mu.Unlock()

	for _, reportType := range due {
		if _, err := s.generator.Generate(ctx, reportType, models.GenerateOptions{Period: 24 * time.Hour}); err != nil {
			slog.Error("Scheduled report generation failed", "type", reportType, "error", err)
		}
	}
	if refreshDocs {
		if err := s.generator.RefreshDocumentation(ctx); err != nil {
			slog.Error("Documentation refresh failed", "error", err)
		}
	}
	if cleanup {
		if dropped := s.generator.Cleanup(); dropped > 0 {
			slog.Info("Report retention cleanup", "dropped", dropped)
		}
	}
}
