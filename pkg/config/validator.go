package config

import "fmt"

// Validate checks the complete configuration and returns the first
// violation found.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: configuration is nil", ErrValidationFailed)
	}
	checks := []func(*Config) error{
		validateIntervals,
		validateBuffers,
		validateRetention,
		validateThresholds,
		validatePipeline,
		validateBus,
	}
	for _, check := range checks {
		if err := check(cfg); err != nil {
			return err
		}
	}
	return nil
}

func validateIntervals(cfg *Config) error {
	iv := cfg.Intervals
	if iv == nil {
		return NewValidationError("intervals", "", fmt.Errorf("%w: section is nil", ErrValidationFailed))
	}
	positive := map[string]int64{
		"learning":             int64(iv.Learning),
		"development":          int64(iv.Development),
		"improvement":          int64(iv.Improvement),
		"model_validation":     int64(iv.ModelValidation),
		"deployment":           int64(iv.Deployment),
		"monitoring":           int64(iv.Monitoring),
		"health_check":         int64(iv.HealthCheck),
		"report_generation":    int64(iv.ReportGeneration),
		"documentation_update": int64(iv.DocumentationUpdate),
		"flush":                int64(iv.Flush),
		"real_time_sync":       int64(iv.RealTimeSync),
	}
	for field, v := range positive {
		if v <= 0 {
			return NewValidationError("intervals", field, fmt.Errorf("%w: must be positive", ErrInvalidValue))
		}
	}
	return nil
}

func validateBuffers(cfg *Config) error {
	b := cfg.Buffers
	if b == nil {
		return NewValidationError("buffers", "", fmt.Errorf("%w: section is nil", ErrValidationFailed))
	}
	if b.BatchSize < 1 {
		return NewValidationError("buffers", "batch_size", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if b.MaxBufferSize < b.BatchSize {
		return NewValidationError("buffers", "max_buffer_size", fmt.Errorf("%w: must be at least batch_size", ErrInvalidValue))
	}
	if b.MaxEvents < 1 {
		return NewValidationError("buffers", "max_events", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if b.MaxModelVersions < 1 {
		return NewValidationError("buffers", "max_model_versions", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if b.MaxReportHistory < 1 {
		return NewValidationError("buffers", "max_report_history", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	return nil
}

func validateRetention(cfg *Config) error {
	r := cfg.Retention
	if r == nil {
		return NewValidationError("retention", "", fmt.Errorf("%w: section is nil", ErrValidationFailed))
	}
	if r.Events <= 0 {
		return NewValidationError("retention", "events", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if r.Alerts <= 0 {
		return NewValidationError("retention", "alerts", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if r.Reports <= 0 {
		return NewValidationError("retention", "reports", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}

func validateThresholds(cfg *Config) error {
	t := cfg.Thresholds
	if t == nil {
		return NewValidationError("thresholds", "", fmt.Errorf("%w: section is nil", ErrValidationFailed))
	}
	unit := map[string]float64{
		"performance":      t.Performance,
		"improvement":      t.Improvement,
		"validation_score": t.ValidationScore,
		"rigorous_score":   t.RigorousScore,
	}
	for field, v := range unit {
		if v <= 0 || v > 1 {
			return NewValidationError("thresholds", field, fmt.Errorf("%w: must be in (0,1]", ErrInvalidValue))
		}
	}
	percent := map[string]float64{
		"cpu_usage":       t.CPUUsage,
		"memory_usage":    t.MemoryUsage,
		"error_rate":      t.ErrorRate,
		"throughput_drop": t.ThroughputDrop,
	}
	for field, v := range percent {
		if v <= 0 || v > 100 {
			return NewValidationError("thresholds", field, fmt.Errorf("%w: must be in (0,100]", ErrInvalidValue))
		}
	}
	if t.ResponseTime <= 0 {
		return NewValidationError("thresholds", "response_time", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}

func validatePipeline(cfg *Config) error {
	p := cfg.Pipeline
	if p == nil {
		return NewValidationError("pipeline", "", fmt.Errorf("%w: section is nil", ErrValidationFailed))
	}
	if p.MaxConcurrentTasks < 1 || p.MaxConcurrentTasks > 50 {
		return NewValidationError("pipeline", "max_concurrent_tasks", fmt.Errorf("%w: must be between 1 and 50", ErrInvalidValue))
	}
	if p.PollInterval <= 0 {
		return NewValidationError("pipeline", "poll_interval", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if p.PollIntervalJitter < 0 {
		return NewValidationError("pipeline", "poll_interval_jitter", fmt.Errorf("%w: must be non-negative", ErrInvalidValue))
	}
	if p.PollIntervalJitter >= p.PollInterval {
		return NewValidationError("pipeline", "poll_interval_jitter", fmt.Errorf("%w: must be less than poll_interval", ErrInvalidValue))
	}
	durations := map[string]int64{
		"train_timeout":      int64(p.TrainTimeout),
		"collect_timeout":    int64(p.CollectTimeout),
		"smoke_test_timeout": int64(p.SmokeTestTimeout),
		"inference_timeout":  int64(p.InferenceTimeout),
		"ab_test_duration":   int64(p.ABTestDuration),
		"graceful_shutdown":  int64(p.GracefulShutdown),
	}
	for field, v := range durations {
		if v <= 0 {
			return NewValidationError("pipeline", field, fmt.Errorf("%w: must be positive", ErrInvalidValue))
		}
	}
	if p.FlushRetries < 0 {
		return NewValidationError("pipeline", "flush_retries", fmt.Errorf("%w: must be non-negative", ErrInvalidValue))
	}
	return nil
}

func validateBus(cfg *Config) error {
	b := cfg.Bus
	if b == nil {
		return NewValidationError("bus", "", fmt.Errorf("%w: section is nil", ErrValidationFailed))
	}
	if b.InitialBackoff <= 0 {
		return NewValidationError("bus", "initial_backoff", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if b.MaxBackoff < b.InitialBackoff {
		return NewValidationError("bus", "max_backoff", fmt.Errorf("%w: must be at least initial_backoff", ErrInvalidValue))
	}
	return nil
}
