package config

import "time"

// DefaultConfig returns the built-in configuration. User YAML overrides
// these values field by field; anything not mentioned keeps its default.
func DefaultConfig() *Config {
	return &Config{
		Intervals: &Intervals{
			Learning:            300 * time.Second,
			Development:         600 * time.Second,
			Improvement:         900 * time.Second,
			ModelValidation:     1800 * time.Second,
			Deployment:          3600 * time.Second,
			Monitoring:          60 * time.Second,
			HealthCheck:         300 * time.Second,
			ReportGeneration:    3600 * time.Second,
			DocumentationUpdate: 7200 * time.Second,
			Flush:               30 * time.Second,
			RealTimeSync:        5 * time.Second,
		},
		Buffers: &Buffers{
			BatchSize:        100,
			MaxBufferSize:    10000,
			MaxEvents:        50000,
			MaxModelVersions: 10,
			MaxReportHistory: 1000,
			MaxMetricSamples: 10000,
			MaxInsights:      200,
		},
		Retention: &Retention{
			Events:  7 * 24 * time.Hour,
			Alerts:  7 * 24 * time.Hour,
			Reports: 30 * 24 * time.Hour,
		},
		Thresholds: &Thresholds{
			Performance:     0.05,
			Improvement:     0.05,
			ValidationScore: 0.70,
			RigorousScore:   0.75,
			CPUUsage:        80,
			MemoryUsage:     85,
			ErrorRate:       5,
			ResponseTime:    2000 * time.Millisecond,
			ThroughputDrop:  20,
		},
		Escalation: &Escalation{
			Critical: EscalationRule{After: 5 * time.Minute, Target: "admin"},
			High:     EscalationRule{After: 15 * time.Minute, Target: "team"},
			Medium:   EscalationRule{After: 30 * time.Minute, Target: "monitoring"},
		},
		Features: &Features{
			AutoRecovery:       true,
			ABTesting:          true,
			AutoDeployment:     true,
			BackupBeforeUpdate: true,
			VersionControl:     true,
			RealTimeSync:       false,
			PrometheusMetrics:  true,
		},
		Pipeline: &Pipeline{
			MaxConcurrentTasks: 3,
			PollInterval:       1 * time.Second,
			PollIntervalJitter: 500 * time.Millisecond,
			TrainTimeout:       10 * time.Minute,
			CollectTimeout:     2 * time.Minute,
			SmokeTestTimeout:   1 * time.Minute,
			InferenceTimeout:   5 * time.Second,
			ABTestDuration:     30 * time.Minute,
			GracefulShutdown:   5 * time.Second,
			FlushRetries:       3,
		},
		Bus: &Bus{
			InitialBackoff: 250 * time.Millisecond,
			MaxBackoff:     30 * time.Second,
		},
		Paths: &Paths{
			DataDir:      "data",
			ReportsDir:   "reports",
			DocsDir:      "docs",
			LogsDir:      "logs",
			GeneratedDir: "generated",
		},
	}
}
