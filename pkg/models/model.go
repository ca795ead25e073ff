package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ModelType classifies an improvable capability.
type ModelType string

// Model type values.
const (
	ModelClassification ModelType = "classification"
	ModelReinforcement  ModelType = "reinforcement_learning"
	ModelComputerVision ModelType = "computer_vision"
	ModelGeneric        ModelType = "generic"
)

// ModelStatus is the lifecycle state of a registered model.
type ModelStatus string

// Model status values.
const (
	ModelStatusActive    ModelStatus = "active"
	ModelStatusImproving ModelStatus = "improving"
	ModelStatusDegraded  ModelStatus = "degraded"
	ModelStatusRetired   ModelStatus = "retired"
)

// Version is a semver MAJOR.MINOR.PATCH triple. Deployments and rollbacks
// bump PATCH; a version number is never reused.
type Version struct {
	Major int `json:"major"`
	Minor int `json:"minor"`
	Patch int `json:"patch"`
}

// ParseVersion parses "MAJOR.MINOR.PATCH".
func ParseVersion(s string) (Version, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) != 3 {
		return Version{}, fmt.Errorf("invalid version %q: want MAJOR.MINOR.PATCH", s)
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return Version{}, fmt.Errorf("invalid version %q: component %q", s, p)
		}
		nums[i] = n
	}
	return Version{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// NextPatch returns the version with PATCH incremented.
func (v Version) NextPatch() Version {
	return Version{Major: v.Major, Minor: v.Minor, Patch: v.Patch + 1}
}

// Less reports strict semver ordering.
func (v Version) Less(o Version) bool {
	if v.Major != o.Major {
		return v.Major < o.Major
	}
	if v.Minor != o.Minor {
		return v.Minor < o.Minor
	}
	return v.Patch < o.Patch
}

// Model is a named improvable capability tracked by the registry.
type Model struct {
	Name               string             `json:"name"`
	Type               ModelType          `json:"type"`
	Version            Version            `json:"version"`
	Status             ModelStatus        `json:"status"`
	Components         []string           `json:"components,omitempty"`
	CurrentPerformance float64            `json:"current_performance"` // composite [0,1]
	Metrics            map[string]float64 `json:"metrics,omitempty"`
	Health             ModelHealth        `json:"health"`
	DeploymentHistory  []DeploymentRecord `json:"deployment_history,omitempty"`
	Backups            []ModelBackup      `json:"backups,omitempty"`
	LastUpdated        time.Time          `json:"last_updated"`
}

// ModelHealth is the registry's view of a model's operational state.
type ModelHealth struct {
	Healthy     bool      `json:"healthy"`
	Issue       string    `json:"issue,omitempty"`
	LastChecked time.Time `json:"last_checked"`
}

// DeploymentRecord is one entry of a model's bounded deployment history.
type DeploymentRecord struct {
	Version     Version   `json:"version"`
	Performance float64   `json:"performance"`
	DeployedAt  time.Time `json:"deployed_at"`
	Rollback    bool      `json:"rollback,omitempty"`
}

// ModelBackup is a restorable point-in-time copy taken before deployment.
type ModelBackup struct {
	Version     Version            `json:"version"`
	Performance float64            `json:"performance"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
	TakenAt     time.Time          `json:"taken_at"`
}

// PerformanceSample is one point of a model's bounded performance series.
type PerformanceSample struct {
	Overall   float64            `json:"overall"` // [0,1]
	Metrics   map[string]float64 `json:"metrics,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// DriftIndicator is the registry's drift assessment for a model: the
// relative change between the means of the last 10 and previous 10 samples.
type DriftIndicator struct {
	Detected  bool    `json:"detected"`
	Severity  string  `json:"severity,omitempty"` // "medium" or "high"
	Magnitude float64 `json:"magnitude"`
}

// ModelUpdate is the payload of omni.model.updates messages.
type ModelUpdate struct {
	Type        string  `json:"type"` // "model_deployed" or "model_rolled_back"
	Name        string  `json:"name"`
	Version     string  `json:"version"`
	Performance float64 `json:"performance"`
}

// Model update type values.
const (
	UpdateModelDeployed   = "model_deployed"
	UpdateModelRolledBack = "model_rolled_back"
)
