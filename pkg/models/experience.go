package models

import "time"

// Known reinforcement-learning algorithm stream tags. Experiences tagged
// with an unknown algorithm are routed to a stream created on demand.
const (
	AlgorithmQLearning      = "q_learning"
	AlgorithmPolicyGradient = "policy_gradient"
	AlgorithmActorCritic    = "actor_critic"
)

// Experience is one reinforcement-learning datum belonging to a single
// algorithm stream: the classic (state, action, reward, next_state) tuple.
type Experience struct {
	Algorithm string         `json:"algorithm"`
	State     map[string]any `json:"state"`
	Action    string         `json:"action"`
	Reward    float64        `json:"reward"`
	NextState map[string]any `json:"next_state,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Processed bool           `json:"processed"`
}

// ExperienceBatch is the unit handed to the RL training capability.
type ExperienceBatch struct {
	Algorithm   string       `json:"algorithm"`
	Experiences []Experience `json:"experiences"`
}

// RewardSignal is the payload of omni.rl.rewards messages.
type RewardSignal struct {
	AgentID string    `json:"agent_id"`
	Reward  float64   `json:"reward"`
	T       time.Time `json:"t"`
}

// ActionMessage is the payload of omni.rl.actions messages (both
// directions: inference results out, observed actions in).
type ActionMessage struct {
	AgentID    string         `json:"agent_id"`
	Algorithm  string         `json:"algorithm"`
	Action     map[string]any `json:"action"`
	Confidence *float64       `json:"confidence,omitempty"`
}
