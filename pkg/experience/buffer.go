// Package experience buffers reinforcement-learning experiences per
// algorithm stream and periodically flushes them in batches to the RL
// training capability. Enqueue is cheap and never blocks on delivery;
// flushes run on one dedicated goroutine.
package experience

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/omni-platform/cladc/pkg/models"
)

// Sink receives experience batches. The RL capability implements this;
// tests substitute a recorder.
type Sink interface {
	Deliver(ctx context.Context, batch models.ExperienceBatch) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, batch models.ExperienceBatch) error

// Deliver implements Sink.
func (f SinkFunc) Deliver(ctx context.Context, batch models.ExperienceBatch) error {
	return f(ctx, batch)
}

type stream struct {
	mu          sync.Mutex
	experiences []models.Experience
	// unsynced counts trailing experiences not yet forwarded by the
	// real-time sync loop.
	unsynced int
}

type retainedBatch struct {
	batch    models.ExperienceBatch
	attempts int
}

// Buffer is the per-algorithm experience store.
type Buffer struct {
	maxBufferSize int
	batchSize     int
	maxRetries    int

	mu      sync.RWMutex
	streams map[string]*stream
	total   int

	flushMu  sync.Mutex
	retained []retainedBatch

	sink Sink
	now  func() time.Time
}

// NewBuffer creates a buffer delivering to sink.
func NewBuffer(maxBufferSize, batchSize, maxRetries int, sink Sink) *Buffer {
	return &Buffer{
		maxBufferSize: maxBufferSize,
		batchSize:     batchSize,
		maxRetries:    maxRetries,
		streams:       make(map[string]*stream),
		sink:          sink,
		now:           time.Now,
	}
}

// Enqueue adds one experience to its algorithm stream, creating the
// stream on demand. On global overflow the oldest experience across all
// streams is dropped.
func (b *Buffer) Enqueue(exp models.Experience) {
	if exp.Timestamp.IsZero() {
		exp.Timestamp = b.now()
	}

	b.mu.Lock()
	st, ok := b.streams[exp.Algorithm]
	if !ok {
		st = &stream{}
		b.streams[exp.Algorithm] = st
	}
	b.total++
	overflow := b.total > b.maxBufferSize
	if overflow {
		b.dropOldestLocked()
	}
	b.mu.Unlock()

	st.mu.Lock()
	st.experiences = append(st.experiences, exp)
	st.unsynced++
	st.mu.Unlock()
}

// dropOldestLocked evicts the globally oldest buffered experience.
// Caller holds b.mu.
func (b *Buffer) dropOldestLocked() {
	var oldestStream *stream
	var oldestTime time.Time
	for _, st := range b.streams {
		st.mu.Lock()
		if len(st.experiences) > 0 {
			head := st.experiences[0].Timestamp
			if oldestStream == nil || head.Before(oldestTime) {
				oldestStream = st
				oldestTime = head
			}
		}
		st.mu.Unlock()
	}
	if oldestStream == nil {
		return
	}
	oldestStream.mu.Lock()
	if len(oldestStream.experiences) > 0 {
		oldestStream.experiences = oldestStream.experiences[1:]
		if oldestStream.unsynced > len(oldestStream.experiences) {
			oldestStream.unsynced = len(oldestStream.experiences)
		}
		b.total--
	}
	oldestStream.mu.Unlock()
}

// Len returns the total buffered experience count.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.total
}

// StreamLen returns the buffered count for one algorithm stream.
func (b *Buffer) StreamLen(algorithm string) int {
	b.mu.RLock()
	st := b.streams[algorithm]
	b.mu.RUnlock()
	if st == nil {
		return 0
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.experiences)
}

// FlushAll drains every stream in batches, delivering each batch to the
// sink and marking its experiences processed. A failed batch is retained
// and retried on subsequent flushes, up to the retry cap. Concurrent
// flushes are excluded; enqueues proceed during a flush.
func (b *Buffer) FlushAll(ctx context.Context) (delivered, failed int) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	// Retained batches from earlier flushes go first.
	var stillRetained []retainedBatch
	for _, rb := range b.retained {
		if err := b.deliver(ctx, rb.batch); err != nil {
			rb.attempts++
			if rb.attempts >= b.maxRetries {
				slog.Warn("Dropping experience batch after retry cap",
					"algorithm", rb.batch.Algorithm,
					"size", len(rb.batch.Experiences),
					"attempts", rb.attempts)
				failed++
			} else {
				stillRetained = append(stillRetained, rb)
			}
			continue
		}
		delivered++
	}
	b.retained = stillRetained

	for _, algorithm := range b.streamNames() {
		batches := b.drainStream(algorithm)
		for _, batch := range batches {
			if err := b.deliver(ctx, batch); err != nil {
				slog.Warn("Experience batch delivery failed, retaining",
					"algorithm", algorithm,
					"size", len(batch.Experiences),
					"error", err)
				b.retained = append(b.retained, retainedBatch{batch: batch, attempts: 1})
				continue
			}
			delivered++
		}
	}
	return delivered, failed
}

// drainStream removes the stream's contents and slices them into batches
// with every experience marked processed.
func (b *Buffer) drainStream(algorithm string) []models.ExperienceBatch {
	b.mu.Lock()
	st := b.streams[algorithm]
	if st == nil {
		b.mu.Unlock()
		return nil
	}
	st.mu.Lock()
	drained := st.experiences
	st.experiences = nil
	st.unsynced = 0
	b.total -= len(drained)
	st.mu.Unlock()
	b.mu.Unlock()

	if len(drained) == 0 {
		return nil
	}
	for i := range drained {
		drained[i].Processed = true
	}

	var batches []models.ExperienceBatch
	for start := 0; start < len(drained); start += b.batchSize {
		end := min(start+b.batchSize, len(drained))
		batches = append(batches, models.ExperienceBatch{
			Algorithm:   algorithm,
			Experiences: drained[start:end],
		})
	}
	return batches
}

// SyncNew forwards experiences enqueued since the previous sync to the
// sink without draining the buffer. Used by the real-time sync loop.
func (b *Buffer) SyncNew(ctx context.Context) int {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	var forwarded int
	for _, algorithm := range b.streamNames() {
		b.mu.RLock()
		st := b.streams[algorithm]
		b.mu.RUnlock()
		if st == nil {
			continue
		}

		st.mu.Lock()
		n := st.unsynced
		var fresh []models.Experience
		if n > 0 {
			fresh = append([]models.Experience(nil), st.experiences[len(st.experiences)-n:]...)
		}
		st.mu.Unlock()
		if len(fresh) == 0 {
			continue
		}

		if err := b.deliver(ctx, models.ExperienceBatch{Algorithm: algorithm, Experiences: fresh}); err != nil {
			slog.Debug("Real-time sync delivery failed, leaving for batch flush",
				"algorithm", algorithm, "error", err)
			continue
		}
		st.mu.Lock()
		if st.unsynced >= len(fresh) {
			st.unsynced -= len(fresh)
		} else {
			st.unsynced = 0
		}
		st.mu.Unlock()
		forwarded += len(fresh)
	}
	return forwarded
}

func (b *Buffer) deliver(ctx context.Context, batch models.ExperienceBatch) error {
	return b.sink.Deliver(ctx, batch)
}

func (b *Buffer) streamNames() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.streams))
	for name := range b.streams {
		names = append(names, name)
	}
	return names
}
