package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// dur is the YAML-facing duration representation. It accepts Go duration
// strings ("90s", "15m") and bare integers, which are read as seconds.
type dur time.Duration

func (d *dur) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = dur(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("duration must be a string or integer: %w", err)
	}
	*d = dur(time.Duration(n) * time.Second)
	return nil
}

func (i *Intervals) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Learning            dur `yaml:"learning"`
		Development         dur `yaml:"development"`
		Improvement         dur `yaml:"improvement"`
		ModelValidation     dur `yaml:"model_validation"`
		Deployment          dur `yaml:"deployment"`
		Monitoring          dur `yaml:"monitoring"`
		HealthCheck         dur `yaml:"health_check"`
		ReportGeneration    dur `yaml:"report_generation"`
		DocumentationUpdate dur `yaml:"documentation_update"`
		Flush               dur `yaml:"flush"`
		RealTimeSync        dur `yaml:"real_time_sync"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	*i = Intervals{
		Learning:            time.Duration(raw.Learning),
		Development:         time.Duration(raw.Development),
		Improvement:         time.Duration(raw.Improvement),
		ModelValidation:     time.Duration(raw.ModelValidation),
		Deployment:          time.Duration(raw.Deployment),
		Monitoring:          time.Duration(raw.Monitoring),
		HealthCheck:         time.Duration(raw.HealthCheck),
		ReportGeneration:    time.Duration(raw.ReportGeneration),
		DocumentationUpdate: time.Duration(raw.DocumentationUpdate),
		Flush:               time.Duration(raw.Flush),
		RealTimeSync:        time.Duration(raw.RealTimeSync),
	}
	return nil
}

func (r *Retention) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Events  dur `yaml:"events"`
		Alerts  dur `yaml:"alerts"`
		Reports dur `yaml:"reports"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	*r = Retention{
		Events:  time.Duration(raw.Events),
		Alerts:  time.Duration(raw.Alerts),
		Reports: time.Duration(raw.Reports),
	}
	return nil
}

func (e *EscalationRule) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		After  dur    `yaml:"after"`
		Target string `yaml:"target"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	*e = EscalationRule{After: time.Duration(raw.After), Target: raw.Target}
	return nil
}

func (t *Thresholds) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Performance     float64 `yaml:"performance"`
		Improvement     float64 `yaml:"improvement"`
		ValidationScore float64 `yaml:"validation_score"`
		RigorousScore   float64 `yaml:"rigorous_score"`
		CPUUsage        float64 `yaml:"cpu_usage"`
		MemoryUsage     float64 `yaml:"memory_usage"`
		ErrorRate       float64 `yaml:"error_rate"`
		ResponseTime    dur     `yaml:"response_time"`
		ThroughputDrop  float64 `yaml:"throughput_drop"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	*t = Thresholds{
		Performance:     raw.Performance,
		Improvement:     raw.Improvement,
		ValidationScore: raw.ValidationScore,
		RigorousScore:   raw.RigorousScore,
		CPUUsage:        raw.CPUUsage,
		MemoryUsage:     raw.MemoryUsage,
		ErrorRate:       raw.ErrorRate,
		ResponseTime:    time.Duration(raw.ResponseTime),
		ThroughputDrop:  raw.ThroughputDrop,
	}
	return nil
}

func (p *Pipeline) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		MaxConcurrentTasks int `yaml:"max_concurrent_tasks"`
		PollInterval       dur `yaml:"poll_interval"`
		PollIntervalJitter dur `yaml:"poll_interval_jitter"`
		TrainTimeout       dur `yaml:"train_timeout"`
		CollectTimeout     dur `yaml:"collect_timeout"`
		SmokeTestTimeout   dur `yaml:"smoke_test_timeout"`
		InferenceTimeout   dur `yaml:"inference_timeout"`
		ABTestDuration     dur `yaml:"ab_test_duration"`
		GracefulShutdown   dur `yaml:"graceful_shutdown"`
		FlushRetries       int `yaml:"flush_retries"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	*p = Pipeline{
		MaxConcurrentTasks: raw.MaxConcurrentTasks,
		PollInterval:       time.Duration(raw.PollInterval),
		PollIntervalJitter: time.Duration(raw.PollIntervalJitter),
		TrainTimeout:       time.Duration(raw.TrainTimeout),
		CollectTimeout:     time.Duration(raw.CollectTimeout),
		SmokeTestTimeout:   time.Duration(raw.SmokeTestTimeout),
		InferenceTimeout:   time.Duration(raw.InferenceTimeout),
		ABTestDuration:     time.Duration(raw.ABTestDuration),
		GracefulShutdown:   time.Duration(raw.GracefulShutdown),
		FlushRetries:       raw.FlushRetries,
	}
	return nil
}

func (b *Bus) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		PostgresDSN    string `yaml:"postgres_dsn"`
		InitialBackoff dur    `yaml:"initial_backoff"`
		MaxBackoff     dur    `yaml:"max_backoff"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	*b = Bus{
		PostgresDSN:    raw.PostgresDSN,
		InitialBackoff: time.Duration(raw.InitialBackoff),
		MaxBackoff:     time.Duration(raw.MaxBackoff),
	}
	return nil
}
