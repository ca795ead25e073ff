// Package bus provides the uniform messaging layer over the platform's two
// heterogeneous buses. Components publish and subscribe on logical dotted
// channel names; a static routing table maps each channel to a concrete
// backend primitive (topic on the Kafka-like bus, durable queue on the
// AMQP-like bus). Delivery is at-least-once; ordering is preserved within a
// single channel per backend, never across backends.
package bus

import "context"

// Logical channel names consumed and emitted by the coordinator.
const (
	ChannelLearningEvents = "omni.learning.events"
	ChannelExperiences    = "omni.rl.experiences"
	ChannelRewards        = "omni.rl.rewards"
	ChannelActions        = "omni.rl.actions"
	ChannelLearning       = "omni.rl.learning"
	ChannelInference      = "omni.rl.inference"
	ChannelModelUpdates   = "omni.model.updates"
	ChannelWorkflows      = "omni.workflows"
	ChannelMetrics        = "omni.performance.metrics"
)

// Handler consumes one raw message payload. Handlers must not block for
// long periods; slow work belongs on the consumer's own goroutine.
type Handler func(ctx context.Context, payload []byte)

// CancelFunc tears down one subscription. Safe to call more than once.
type CancelFunc func()

// Bus is the abstract messaging contract the coordinator consumes.
type Bus interface {
	// Publish sends a payload to a logical channel, best-effort. Returns a
	// bus_unavailable error while the routed backend is down; no retries
	// happen at this layer.
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe registers a durable consumer on a logical channel.
	Subscribe(ctx context.Context, channel string, h Handler) (CancelFunc, error)

	// Health reports per-backend connectivity, attempting reconnects that
	// are due.
	Health(ctx context.Context) Health
}

// Health is the adapter's connectivity snapshot.
type Health struct {
	KafkaConnected bool   `json:"kafka_connected"`
	AMQPConnected  bool   `json:"amqp_connected"`
	LastError      string `json:"last_error,omitempty"`
}

// Degraded reports whether any backend is down.
func (h Health) Degraded() bool {
	return !h.KafkaConnected || !h.AMQPConnected
}

// Backend is one concrete bus implementation behind the adapter.
type Backend interface {
	Connect(ctx context.Context) error
	Publish(ctx context.Context, primitive string, payload []byte) error
	Subscribe(ctx context.Context, primitive string, h Handler) (CancelFunc, error)
	Close(ctx context.Context) error
}
