package bus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/omni-platform/cladc/pkg/errkind"
)

// Adapter implements Bus over two backends selected per channel by a
// static routing table. Reconnects use exponential backoff and are
// attempted on every publish and every Health call once the backoff
// window has elapsed.
type Adapter struct {
	routes   RoutingTable
	backends map[BackendKind]Backend

	initialBackoff time.Duration
	maxBackoff     time.Duration

	mu    sync.Mutex
	state map[BackendKind]*backendState

	lastErr   string
	lastErrMu sync.RWMutex
}

type backendState struct {
	connected   bool
	backoff     time.Duration
	nextAttempt time.Time
}

// NewAdapter creates an adapter over the given backends. Backends start
// disconnected; Start connects them.
func NewAdapter(routes RoutingTable, backends map[BackendKind]Backend, initialBackoff, maxBackoff time.Duration) *Adapter {
	state := make(map[BackendKind]*backendState, len(backends))
	for kind := range backends {
		state[kind] = &backendState{backoff: initialBackoff}
	}
	return &Adapter{
		routes:         routes,
		backends:       backends,
		initialBackoff: initialBackoff,
		maxBackoff:     maxBackoff,
		state:          state,
	}
}

// Start connects every backend. A backend that fails to connect is marked
// disconnected and retried on subsequent publishes; startup itself never
// fails on bus unavailability (degraded-mode startup).
func (a *Adapter) Start(ctx context.Context) {
	for kind, backend := range a.backends {
		if err := backend.Connect(ctx); err != nil {
			a.markDisconnected(kind, err)
			slog.Warn("Bus backend unreachable at startup, continuing degraded",
				"backend", kind, "error", err)
			continue
		}
		a.markConnected(kind)
		slog.Info("Bus backend connected", "backend", kind)
	}
}

// Stop closes all backends.
func (a *Adapter) Stop(ctx context.Context) {
	for kind, backend := range a.backends {
		if err := backend.Close(ctx); err != nil {
			slog.Warn("Error closing bus backend", "backend", kind, "error", err)
		}
	}
}

// Publish implements Bus.
func (a *Adapter) Publish(ctx context.Context, channel string, payload []byte) error {
	route, ok := a.routes[channel]
	if !ok {
		return errkind.New(errkind.Validation, "bus", "unknown channel %q", channel)
	}
	backend := a.backends[route.Backend]
	if backend == nil {
		return errkind.New(errkind.Validation, "bus", "no backend %q for channel %q", route.Backend, channel)
	}

	if err := a.ensureConnected(ctx, route.Backend); err != nil {
		return err
	}

	if err := backend.Publish(ctx, route.Primitive, payload); err != nil {
		if errkind.KindOf(err) == errkind.Serialization {
			return err
		}
		a.markDisconnected(route.Backend, err)
		return errkind.Wrap(errkind.BusUnavailable, "bus", err, "publish to %q failed", channel)
	}
	return nil
}

// Subscribe implements Bus.
func (a *Adapter) Subscribe(ctx context.Context, channel string, h Handler) (CancelFunc, error) {
	route, ok := a.routes[channel]
	if !ok {
		return nil, errkind.New(errkind.Validation, "bus", "unknown channel %q", channel)
	}
	backend := a.backends[route.Backend]
	if backend == nil {
		return nil, errkind.New(errkind.Validation, "bus", "no backend %q for channel %q", route.Backend, channel)
	}

	if err := a.ensureConnected(ctx, route.Backend); err != nil {
		return nil, err
	}

	cancel, err := backend.Subscribe(ctx, route.Primitive, h)
	if err != nil {
		a.markDisconnected(route.Backend, err)
		return nil, errkind.Wrap(errkind.BusUnavailable, "bus", err, "subscribe to %q failed", channel)
	}
	return cancel, nil
}

// Health implements Bus. Reconnects are attempted for any backend whose
// backoff window has elapsed.
func (a *Adapter) Health(ctx context.Context) Health {
	for kind := range a.backends {
		_ = a.ensureConnected(ctx, kind)
	}

	a.mu.Lock()
	kafka := a.stateOf(KindKafka)
	amqp := a.stateOf(KindAMQP)
	a.mu.Unlock()

	a.lastErrMu.RLock()
	lastErr := a.lastErr
	a.lastErrMu.RUnlock()

	return Health{
		KafkaConnected: kafka,
		AMQPConnected:  amqp,
		LastError:      lastErr,
	}
}

// stateOf reads connectivity for a kind; backends not configured report
// connected so a single-backend deployment is not permanently degraded.
// Caller holds a.mu.
func (a *Adapter) stateOf(kind BackendKind) bool {
	st, ok := a.state[kind]
	if !ok {
		return true
	}
	return st.connected
}

// ensureConnected checks connectivity for a backend, attempting a
// reconnect when the backoff window has elapsed. Returns bus_unavailable
// while the backend stays down.
func (a *Adapter) ensureConnected(ctx context.Context, kind BackendKind) error {
	a.mu.Lock()
	st := a.state[kind]
	if st == nil {
		a.mu.Unlock()
		return errkind.New(errkind.Validation, "bus", "unknown backend %q", kind)
	}
	if st.connected {
		a.mu.Unlock()
		return nil
	}
	if time.Now().Before(st.nextAttempt) {
		a.mu.Unlock()
		return errkind.New(errkind.BusUnavailable, "bus", "backend %q disconnected, next reconnect at %s",
			kind, st.nextAttempt.Format(time.RFC3339))
	}
	a.mu.Unlock()

	// Reconnect outside the lock — Connect may block on network I/O.
	if err := a.backends[kind].Connect(ctx); err != nil {
		a.markDisconnected(kind, err)
		return errkind.Wrap(errkind.BusUnavailable, "bus", err, "reconnect to %q failed", kind)
	}
	a.markConnected(kind)
	slog.Info("Bus backend reconnected", "backend", kind)
	return nil
}

func (a *Adapter) markConnected(kind BackendKind) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if st := a.state[kind]; st != nil {
		st.connected = true
		st.backoff = a.initialBackoff
		st.nextAttempt = time.Time{}
	}
}

func (a *Adapter) markDisconnected(kind BackendKind, err error) {
	a.mu.Lock()
	if st := a.state[kind]; st != nil {
		st.connected = false
		st.nextAttempt = time.Now().Add(st.backoff)
		st.backoff = min(st.backoff*2, a.maxBackoff)
	}
	a.mu.Unlock()

	if err != nil {
		a.lastErrMu.Lock()
		a.lastErr = err.Error()
		a.lastErrMu.Unlock()
	}
}
