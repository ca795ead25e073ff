// Package config loads, validates, and exposes the immutable CLADC
// configuration. Configuration is read once at startup from a YAML file and
// never mutated; dynamic tuning goes through Reconfigure, which produces a
// new Config value the coordinator swaps in atomically.
package config

import "time"

// Config is the umbrella configuration object used throughout the process.
type Config struct {
	configDir string

	Intervals  *Intervals  `yaml:"intervals"`
	Buffers    *Buffers    `yaml:"buffers"`
	Retention  *Retention  `yaml:"retention"`
	Thresholds *Thresholds `yaml:"thresholds"`
	Escalation *Escalation `yaml:"escalation"`
	Features   *Features   `yaml:"features"`
	Pipeline   *Pipeline   `yaml:"pipeline"`
	Bus        *Bus        `yaml:"bus"`
	Paths      *Paths      `yaml:"paths"`
}

// Intervals groups the cadences of every periodic loop.
type Intervals struct {
	Learning            time.Duration `yaml:"learning"`
	Development         time.Duration `yaml:"development"`
	Improvement         time.Duration `yaml:"improvement"`
	ModelValidation     time.Duration `yaml:"model_validation"`
	Deployment          time.Duration `yaml:"deployment"`
	Monitoring          time.Duration `yaml:"monitoring"`
	HealthCheck         time.Duration `yaml:"health_check"`
	ReportGeneration    time.Duration `yaml:"report_generation"`
	DocumentationUpdate time.Duration `yaml:"documentation_update"`
	Flush               time.Duration `yaml:"flush"`
	RealTimeSync        time.Duration `yaml:"real_time_sync"`
}

// Buffers groups capacity bounds for the FIFO-evicted structures.
type Buffers struct {
	BatchSize        int `yaml:"batch_size"`
	MaxBufferSize    int `yaml:"max_buffer_size"`
	MaxEvents        int `yaml:"max_events"`
	MaxModelVersions int `yaml:"max_model_versions"`
	MaxReportHistory int `yaml:"max_report_history"`
	MaxMetricSamples int `yaml:"max_metric_samples"`
	MaxInsights      int `yaml:"max_insights"`
}

// Retention groups data-retention windows.
type Retention struct {
	Events  time.Duration `yaml:"events"`
	Alerts  time.Duration `yaml:"alerts"`
	Reports time.Duration `yaml:"reports"`
}

// Thresholds groups alerting and improvement trip points.
type Thresholds struct {
	Performance     float64 `yaml:"performance"` // min relative improvement for A/B suggestion
	Improvement     float64 `yaml:"improvement"` // min improvement to count as progress
	ValidationScore float64 `yaml:"validation_score"`
	RigorousScore   float64 `yaml:"rigorous_score"`

	CPUUsage       float64       `yaml:"cpu_usage"`       // percent
	MemoryUsage    float64       `yaml:"memory_usage"`    // percent
	ErrorRate      float64       `yaml:"error_rate"`      // percent
	ResponseTime   time.Duration `yaml:"response_time"`   // alert above this
	ThroughputDrop float64       `yaml:"throughput_drop"` // percent
}

// EscalationRule binds an alert age to a responder tier.
type EscalationRule struct {
	After  time.Duration `yaml:"after"`
	Target string        `yaml:"target"` // opaque tag; delivery is out of scope
}

// Escalation groups per-severity escalation rules.
type Escalation struct {
	Critical EscalationRule `yaml:"critical"`
	High     EscalationRule `yaml:"high"`
	Medium   EscalationRule `yaml:"medium"`
}

// Features groups boolean toggles.
type Features struct {
	AutoRecovery         bool `yaml:"auto_recovery"`
	ABTesting            bool `yaml:"ab_testing"`
	AutoDeployment       bool `yaml:"auto_deployment"`
	BackupBeforeUpdate   bool `yaml:"backup_before_update"`
	VersionControl       bool `yaml:"version_control"`
	RealTimeSync         bool `yaml:"real_time_sync"`
	PrometheusMetrics    bool `yaml:"prometheus_metrics"`
}

// Pipeline groups improvement worker-pool settings.
type Pipeline struct {
	MaxConcurrentTasks int           `yaml:"max_concurrent_tasks"`
	PollInterval       time.Duration `yaml:"poll_interval"`
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter"`
	TrainTimeout       time.Duration `yaml:"train_timeout"`
	CollectTimeout     time.Duration `yaml:"collect_timeout"`
	SmokeTestTimeout   time.Duration `yaml:"smoke_test_timeout"`
	InferenceTimeout   time.Duration `yaml:"inference_timeout"`
	ABTestDuration     time.Duration `yaml:"ab_test_duration"`
	GracefulShutdown   time.Duration `yaml:"graceful_shutdown"`
	FlushRetries       int           `yaml:"flush_retries"`
}

// Bus groups messaging-layer settings.
type Bus struct {
	PostgresDSN    string        `yaml:"postgres_dsn"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// Paths groups filesystem output locations.
type Paths struct {
	DataDir      string `yaml:"data_dir"`
	ReportsDir   string `yaml:"reports_dir"`
	DocsDir      string `yaml:"docs_dir"`
	LogsDir      string `yaml:"logs_dir"`
	GeneratedDir string `yaml:"generated_dir"`
}

// ConfigDir returns the configuration directory path.
func (c *Config) ConfigDir() string { return c.configDir }
