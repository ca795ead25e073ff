package bus

// BackendKind selects which backend a channel is routed to.
type BackendKind string

// Backend kinds.
const (
	KindKafka BackendKind = "kafka"
	KindAMQP  BackendKind = "amqp"
)

// Route binds a logical channel to a backend-specific primitive.
type Route struct {
	Backend   BackendKind
	Primitive string // topic name or durable queue name
}

// RoutingTable maps logical channels to routes. The table is built once at
// startup and never mutated afterwards.
type RoutingTable map[string]Route

// DefaultRoutingTable returns the static channel routing used by the
// coordinator: high-volume learning streams ride the Kafka-like bus,
// command/control channels ride the AMQP-like durable queues.
func DefaultRoutingTable() RoutingTable {
	return RoutingTable{
		ChannelLearningEvents: {Backend: KindKafka, Primitive: "omni-learning-events"},
		ChannelExperiences:    {Backend: KindKafka, Primitive: "omni-rl-experiences"},
		ChannelRewards:        {Backend: KindKafka, Primitive: "omni-rl-rewards"},
		ChannelMetrics:        {Backend: KindKafka, Primitive: "omni-performance-metrics"},
		ChannelActions:        {Backend: KindAMQP, Primitive: "omni.rl.actions"},
		ChannelLearning:       {Backend: KindAMQP, Primitive: "omni.rl.learning"},
		ChannelInference:      {Backend: KindAMQP, Primitive: "omni.rl.inference"},
		ChannelModelUpdates:   {Backend: KindAMQP, Primitive: "omni.model.updates"},
		ChannelWorkflows:      {Backend: KindAMQP, Primitive: "omni.workflows"},
	}
}
