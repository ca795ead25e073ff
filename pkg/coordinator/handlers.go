package coordinator

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/omni-platform/cladc/pkg/bus"
	"github.com/omni-platform/cladc/pkg/capability"
	"github.com/omni-platform/cladc/pkg/errkind"
	"github.com/omni-platform/cladc/pkg/models"
)

// Incoming payload type discriminators. Unknown types are logged and
// dropped, keeping the channel contract forward-compatible.
const (
	typeLearningEvent    = "learning_event"
	typeExperience       = "experience"
	typeReward           = "reward"
	typeLearningRequest  = "learning_request"
	typeInferenceRequest = "inference_request"
)

// subscribeAll registers the fixed consumer set. A failed subscription is
// reported but does not block the others.
func (c *Coordinator) subscribeAll(ctx context.Context) error {
	subs := []struct {
		channel string
		handler bus.Handler
	}{
		{bus.ChannelLearningEvents, c.handleLearningEvent},
		{bus.ChannelExperiences, c.handleExperience},
		{bus.ChannelRewards, c.handleReward},
		{bus.ChannelLearning, c.handleLearningRequest},
		{bus.ChannelInference, c.handleInferenceRequest},
	}

	var firstErr error
	for _, sub := range subs {
		cancel, err := c.bus.Subscribe(ctx, sub.channel, sub.handler)
		if err != nil {
			slog.Warn("Bus subscription failed", "channel", sub.channel, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		c.cancelsMu.Lock()
		c.cancels = append(c.cancels, cancel)
		c.cancelsMu.Unlock()
	}
	return firstErr
}

// envelope is the common wire wrapper carrying the type discriminator.
type envelope struct {
	Type string `json:"type"`
}

// decode checks the discriminator and unmarshals the payload into v.
// Returns false when the payload should be dropped.
func decode(channel string, payload []byte, want string, v any) bool {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		slog.Warn("Dropping malformed bus payload", "channel", channel, "error", err)
		return false
	}
	if env.Type != "" && env.Type != want {
		slog.Warn("Ignoring unknown payload type", "channel", channel, "type", env.Type)
		return false
	}
	if err := json.Unmarshal(payload, v); err != nil {
		slog.Warn("Dropping undecodable bus payload", "channel", channel, "type", env.Type, "error", err)
		return false
	}
	return true
}

func (c *Coordinator) handleLearningEvent(ctx context.Context, payload []byte) {
	var event models.LearningEvent
	if !decode(bus.ChannelLearningEvents, payload, typeLearningEvent, &event) {
		return
	}
	if event.Angel == "" {
		slog.Warn("Dropping learning event without angel", "domain", event.Domain)
		return
	}
	c.events.Append(event)
}

func (c *Coordinator) handleExperience(ctx context.Context, payload []byte) {
	var exp models.Experience
	if !decode(bus.ChannelExperiences, payload, typeExperience, &exp) {
		return
	}
	if exp.Algorithm == "" {
		exp.Algorithm = models.AlgorithmQLearning
	}
	c.buffer.Enqueue(exp)
}

// handleReward records reward signals as learning events so they feed the
// same analytics and pattern detection as direct angel events.
func (c *Coordinator) handleReward(ctx context.Context, payload []byte) {
	var reward models.RewardSignal
	if !decode(bus.ChannelRewards, payload, typeReward, &reward) {
		return
	}
	if reward.AgentID == "" {
		slog.Warn("Dropping reward signal without agent id")
		return
	}
	c.events.Append(models.LearningEvent{
		Angel:     reward.AgentID,
		Domain:    "reinforcement",
		Metrics:   map[string]float64{"reward": reward.Reward},
		Timestamp: reward.T,
	})
}

// learningRequest asks for a training run on an algorithm's model.
type learningRequest struct {
	Algorithm string         `json:"algorithm"`
	Config    map[string]any `json:"config,omitempty"`
}

func (c *Coordinator) handleLearningRequest(ctx context.Context, payload []byte) {
	var req learningRequest
	if !decode(bus.ChannelLearning, payload, typeLearningRequest, &req) {
		return
	}
	if req.Algorithm == "" {
		slog.Warn("Dropping learning request without algorithm")
		return
	}

	issue := models.TaskIssue{Kind: "learning_request", Severity: "medium",
		Description: "externally requested training run"}
	if _, err := c.pipeline.Trigger(req.Algorithm, issue, models.PriorityMedium, false); err != nil {
		switch errkind.KindOf(err) {
		case errkind.NotFound:
			slog.Warn("Learning request for unregistered model", "algorithm", req.Algorithm)
		case errkind.Conflict:
			slog.Debug("Learning request ignored, task already live", "algorithm", req.Algorithm)
		default:
			slog.Warn("Learning request rejected", "algorithm", req.Algorithm, "error", err)
		}
	}
}

// inferenceRequest is an inference probe answered on omni.rl.actions.
type inferenceRequest struct {
	Algorithm string         `json:"algorithm"`
	AgentID   string         `json:"agent_id,omitempty"`
	State     map[string]any `json:"state"`
}

func (c *Coordinator) handleInferenceRequest(ctx context.Context, payload []byte) {
	var req inferenceRequest
	if !decode(bus.ChannelInference, payload, typeInferenceRequest, &req) {
		return
	}
	if req.Algorithm == "" {
		slog.Warn("Dropping inference request without algorithm")
		return
	}

	inferCtx, cancel := context.WithTimeout(ctx, capability.InferDeadline)
	result, err := c.runtime.Infer(inferCtx, capability.InferRequest{Model: req.Algorithm, Input: req.State})
	cancel()
	if err != nil {
		slog.Warn("Inference request failed", "algorithm", req.Algorithm, "error", err)
		return
	}

	c.publishJSON(ctx, bus.ChannelActions, map[string]any{
		"type":      "action",
		"agent_id":  req.AgentID,
		"algorithm": req.Algorithm,
		"action":    result.Output,
	})
}

// deliverBatch hands a flushed experience batch to the capability runtime.
func (c *Coordinator) deliverBatch(ctx context.Context, batch models.ExperienceBatch) error {
	return c.runtime.DeliverExperiences(ctx, batch)
}

// emitModelUpdate republishes registry lifecycle events onto the bus.
func (c *Coordinator) emitModelUpdate(ctx context.Context, update models.ModelUpdate) {
	c.publishJSON(ctx, bus.ChannelModelUpdates, update)
}

// emitWorkflow republishes task lifecycle events onto the bus.
func (c *Coordinator) emitWorkflow(ctx context.Context, event map[string]any) {
	c.publishJSON(ctx, bus.ChannelWorkflows, event)
}

// emitReportPublished announces a generated report on the workflow channel.
func (c *Coordinator) emitReportPublished(ctx context.Context, report models.Report) {
	c.publishJSON(ctx, bus.ChannelWorkflows, map[string]any{
		"type":         "report_published",
		"report_id":    report.ID,
		"report_type":  string(report.Type),
		"title":        report.Title,
		"generated_at": report.Metadata.GeneratedAt,
	})
}

// PublishLearningEvent puts an externally submitted learning event onto
// the bus, taking the same ingestion path as events from producers.
func (c *Coordinator) PublishLearningEvent(ctx context.Context, event models.LearningEvent) error {
	if event.Angel == "" {
		return errkind.New(errkind.Validation, "coordinator", "learning event requires an angel")
	}
	payload, err := json.Marshal(struct {
		Type string `json:"type"`
		models.LearningEvent
	}{Type: typeLearningEvent, LearningEvent: event})
	if err != nil {
		return errkind.Wrap(errkind.Serialization, "coordinator", err, "encoding learning event")
	}
	return c.bus.Publish(ctx, bus.ChannelLearningEvents, payload)
}

// PublishExperience puts an externally submitted experience onto the bus.
func (c *Coordinator) PublishExperience(ctx context.Context, exp models.Experience) error {
	payload, err := json.Marshal(struct {
		Type string `json:"type"`
		models.Experience
	}{Type: typeExperience, Experience: exp})
	if err != nil {
		return errkind.Wrap(errkind.Serialization, "coordinator", err, "encoding experience")
	}
	return c.bus.Publish(ctx, bus.ChannelExperiences, payload)
}

// publishJSON marshals and publishes, absorbing bus unavailability: the
// message is dropped and the adapter's backoff handles reconnection.
func (c *Coordinator) publishJSON(ctx context.Context, channel string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		slog.Error("Failed to encode bus payload", "channel", channel, "error", err)
		return
	}
	if err := c.bus.Publish(ctx, channel, payload); err != nil {
		if errkind.IsBusUnavailable(err) {
			slog.Debug("Bus publish dropped, backend unavailable", "channel", channel)
			return
		}
		slog.Warn("Bus publish failed", "channel", channel, "error", err)
	}
}
