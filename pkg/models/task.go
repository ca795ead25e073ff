package models

import "time"

// TaskStatus is the outer state of an improvement task.
type TaskStatus string

// Task status values. Progression: pending → in_progress → (completed | failed).
const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// StepStatus is the state of one inner pipeline step.
type StepStatus string

// Step status values. A failed step marks the task failed; later steps
// stay pending.
const (
	StepPending   StepStatus = "pending"
	StepCompleted StepStatus = "completed"
	StepSkipped   StepStatus = "skipped"
)

// TaskPriority orders pending tasks of equal age.
type TaskPriority string

// Task priority values.
const (
	PriorityHigh   TaskPriority = "high"
	PriorityMedium TaskPriority = "medium"
	PriorityLow    TaskPriority = "low"
)

// Step names, in execution order.
const (
	StepAnalyze     = "analyze"
	StepCollectData = "collect_data"
	StepTrain       = "train"
	StepValidate    = "validate"
	StepTestDeploy  = "test_deploy"
	StepDeploy      = "deploy"
)

// StepOrder is the fixed inner-step sequence of an improvement task.
var StepOrder = []string{StepAnalyze, StepCollectData, StepTrain, StepValidate, StepTestDeploy, StepDeploy}

// TaskIssue describes why an improvement task was raised.
type TaskIssue struct {
	Kind        string `json:"kind"` // "low_performance", "drift", "health", "stale", "manual"
	Severity    string `json:"severity,omitempty"`
	Description string `json:"description,omitempty"`
}

// AnalysisResult is the output of the analyze step: a SWOT over the
// model's performance history.
type AnalysisResult struct {
	Strengths     []string `json:"strengths,omitempty"`
	Weaknesses    []string `json:"weaknesses,omitempty"`
	Opportunities []string `json:"opportunities,omitempty"`
	Threats       []string `json:"threats,omitempty"`
	SampleCount   int      `json:"sample_count"`
}

// TrainingResult is the output of the train step.
type TrainingResult struct {
	Performance  float64            `json:"performance"` // [0,1]
	Iterations   int                `json:"iterations"`
	Converged    bool               `json:"converged"`
	TrainingTime time.Duration      `json:"training_time"`
	Metrics      map[string]float64 `json:"metrics,omitempty"`
}

// ValidationResult is the output of the validate step.
type ValidationResult struct {
	Passed    bool    `json:"passed"`
	Threshold float64 `json:"threshold"`
	Variance  float64 `json:"variance"`
	Stable    bool    `json:"stable"`
	Declining bool    `json:"declining"`
	Reason    string  `json:"reason,omitempty"`
}

// DeploymentTestResult is the output of the test_deploy smoke test.
type DeploymentTestResult struct {
	Success  bool    `json:"success"`
	Passed   int     `json:"passed"`
	Total    int     `json:"total"`
	PassRate float64 `json:"pass_rate"`
}

// DeploymentResult is the output of the deploy step.
type DeploymentResult struct {
	Version     string  `json:"version"`
	Performance float64 `json:"performance"`
	BackupTaken bool    `json:"backup_taken"`
}

// ImprovementTask is the state machine coordinating one model improvement.
type ImprovementTask struct {
	ID        string       `json:"id"`
	ModelName string       `json:"model_name"`
	Issue     TaskIssue    `json:"issue"`
	Priority  TaskPriority `json:"priority"`
	Status    TaskStatus   `json:"status"`
	Rigorous  bool         `json:"rigorous,omitempty"` // retraining path: stricter validation

	Steps map[string]StepStatus `json:"steps"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	FailedAt    *time.Time `json:"failed_at,omitempty"`
	FailedStep  string     `json:"failed_step,omitempty"`
	Error       string     `json:"error,omitempty"`

	Analysis       *AnalysisResult       `json:"analysis,omitempty"`
	TrainingResult *TrainingResult       `json:"training_result,omitempty"`
	Validation     *ValidationResult     `json:"validation,omitempty"`
	DeploymentTest *DeploymentTestResult `json:"deployment_test,omitempty"`
	Deployment     *DeploymentResult     `json:"deployment,omitempty"`
}

// NewSteps returns the initial all-pending step map.
func NewSteps() map[string]StepStatus {
	steps := make(map[string]StepStatus, len(StepOrder))
	for _, name := range StepOrder {
		steps[name] = StepPending
	}
	return steps
}

// Terminal reports whether the task reached a terminal status.
func (t *ImprovementTask) Terminal() bool {
	return t.Status == TaskCompleted || t.Status == TaskFailed
}

// ABTest is one entry of the A/B test ledger comparing two versions of
// a model over a fixed window.
type ABTest struct {
	ID              string        `json:"id"`
	ModelName       string        `json:"model_name"`
	CurrentVersion  Version       `json:"current_version"`
	PreviousVersion Version       `json:"previous_version"`
	StartedAt       time.Time     `json:"started_at"`
	Duration        time.Duration `json:"duration"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty"`
	Winner          string        `json:"winner,omitempty"` // "current" or "previous"
	Improvement     float64       `json:"improvement"`      // relative, e.g. 0.07 = 7%
	Suggested       bool          `json:"suggested"`        // deployment suggestion emitted
}
