package experience

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Flusher owns the periodic flush loop and, when enabled, the 5-second
// real-time sync loop. One Flusher per Buffer.
type Flusher struct {
	buffer        *Buffer
	flushInterval time.Duration
	syncInterval  time.Duration
	realTimeSync  bool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewFlusher creates a stopped flusher.
func NewFlusher(buffer *Buffer, flushInterval, syncInterval time.Duration, realTimeSync bool) *Flusher {
	return &Flusher{
		buffer:        buffer,
		flushInterval: flushInterval,
		syncInterval:  syncInterval,
		realTimeSync:  realTimeSync,
		stopCh:        make(chan struct{}),
	}
}

// Start launches the flush loop (and the sync loop when enabled).
func (f *Flusher) Start(ctx context.Context) {
	f.wg.Add(1)
	go f.flushLoop(ctx)
	if f.realTimeSync {
		f.wg.Add(1)
		go f.syncLoop(ctx)
	}
	slog.Info("Experience flusher started",
		"flush_interval", f.flushInterval,
		"real_time_sync", f.realTimeSync)
}

// Stop performs one final flush and waits for the loops to exit.
func (f *Flusher) Stop(ctx context.Context) {
	f.stopOnce.Do(func() { close(f.stopCh) })
	f.wg.Wait()
	if delivered, _ := f.buffer.FlushAll(ctx); delivered > 0 {
		slog.Info("Final experience flush on shutdown", "batches", delivered)
	}
}

func (f *Flusher) flushLoop(ctx context.Context) {
	defer f.wg.Done()
	ticker := time.NewTicker(f.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			delivered, failed := f.buffer.FlushAll(ctx)
			if delivered > 0 || failed > 0 {
				slog.Debug("Experience flush completed",
					"batches_delivered", delivered,
					"batches_dropped", failed,
					"buffered", f.buffer.Len())
			}
		}
	}
}

func (f *Flusher) syncLoop(ctx context.Context) {
	defer f.wg.Done()
	ticker := time.NewTicker(f.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.buffer.SyncNew(ctx)
		}
	}
}
