package bus

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/omni-platform/cladc/pkg/errkind"
)

// MemBackend is an in-process backend with per-primitive ordered delivery.
// It backs the Kafka-like routes in single-box deployments and gives tests
// deterministic messaging.
type MemBackend struct {
	mu        sync.RWMutex
	subs      map[string][]*memSub
	nextSubID int64

	available atomic.Bool
}

type memSub struct {
	id      int64
	handler Handler
}

// NewMemBackend creates a connected in-memory backend.
func NewMemBackend() *MemBackend {
	b := &MemBackend{subs: make(map[string][]*memSub)}
	b.available.Store(true)
	return b
}

// SetAvailable toggles simulated connectivity. While unavailable, Connect
// and Publish fail; subscriptions are kept.
func (b *MemBackend) SetAvailable(up bool) { b.available.Store(up) }

// Connect implements Backend.
func (b *MemBackend) Connect(_ context.Context) error {
	if !b.available.Load() {
		return errkind.New(errkind.BusUnavailable, "membus", "backend offline")
	}
	return nil
}

// Publish implements Backend. Handlers run synchronously in subscription
// order, preserving per-primitive ordering.
func (b *MemBackend) Publish(ctx context.Context, primitive string, payload []byte) error {
	if !b.available.Load() {
		return errkind.New(errkind.BusUnavailable, "membus", "backend offline")
	}

	b.mu.RLock()
	subs := make([]*memSub, len(b.subs[primitive]))
	copy(subs, b.subs[primitive])
	b.mu.RUnlock()

	for _, sub := range subs {
		sub.handler(ctx, payload)
	}
	return nil
}

// Subscribe implements Backend.
func (b *MemBackend) Subscribe(_ context.Context, primitive string, h Handler) (CancelFunc, error) {
	b.mu.Lock()
	b.nextSubID++
	sub := &memSub{id: b.nextSubID, handler: h}
	b.subs[primitive] = append(b.subs[primitive], sub)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			list := b.subs[primitive]
			for i, s := range list {
				if s.id == sub.id {
					b.subs[primitive] = append(list[:i], list[i+1:]...)
					break
				}
			}
		})
	}, nil
}

// Close implements Backend.
func (b *MemBackend) Close(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[string][]*memSub)
	return nil
}
