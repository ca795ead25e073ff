package experience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omni-platform/cladc/pkg/models"
)

type recordingSink struct {
	mu      sync.Mutex
	batches []models.ExperienceBatch
	fail    bool
}

func (r *recordingSink) Deliver(_ context.Context, batch models.ExperienceBatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("capability unreachable")
	}
	r.batches = append(r.batches, batch)
	return nil
}

func (r *recordingSink) received() []models.ExperienceBatch {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.ExperienceBatch(nil), r.batches...)
}

func (r *recordingSink) setFail(fail bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail = fail
}

func exp(algorithm string, reward float64, ts time.Time) models.Experience {
	return models.Experience{
		Algorithm: algorithm,
		State:     map[string]any{"s": 1},
		Action:    "act",
		Reward:    reward,
		Timestamp: ts,
	}
}

func TestEnqueueCreatesStreamsOnDemand(t *testing.T) {
	buf := NewBuffer(100, 10, 3, &recordingSink{})

	buf.Enqueue(exp(models.AlgorithmQLearning, 1, time.Now()))
	buf.Enqueue(exp("novel_algo", 1, time.Now()))

	assert.Equal(t, 2, buf.Len())
	assert.Equal(t, 1, buf.StreamLen(models.AlgorithmQLearning))
	assert.Equal(t, 1, buf.StreamLen("novel_algo"))
}

func TestEnqueueDropsOldestOnOverflow(t *testing.T) {
	buf := NewBuffer(3, 10, 3, &recordingSink{})
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	buf.Enqueue(exp(models.AlgorithmQLearning, 1, base))
	buf.Enqueue(exp(models.AlgorithmPolicyGradient, 2, base.Add(time.Second)))
	buf.Enqueue(exp(models.AlgorithmQLearning, 3, base.Add(2*time.Second)))
	buf.Enqueue(exp(models.AlgorithmQLearning, 4, base.Add(3*time.Second)))

	assert.Equal(t, 3, buf.Len())
	// The globally oldest (reward 1, q_learning) was evicted.
	assert.Equal(t, 2, buf.StreamLen(models.AlgorithmQLearning))
	assert.Equal(t, 1, buf.StreamLen(models.AlgorithmPolicyGradient))
}

func TestFlushAllScenario(t *testing.T) {
	// 250 experiences on one stream flush as batches of 100, 100, 50,
	// all processed, buffer empty.
	sink := &recordingSink{}
	buf := NewBuffer(10000, 100, 3, sink)
	base := time.Now()

	for i := 0; i < 250; i++ {
		buf.Enqueue(exp(models.AlgorithmQLearning, float64(i), base.Add(time.Duration(i)*time.Millisecond)))
	}

	delivered, failed := buf.FlushAll(context.Background())
	assert.Equal(t, 3, delivered)
	assert.Zero(t, failed)
	assert.Zero(t, buf.Len())

	batches := sink.received()
	require.Len(t, batches, 3)
	assert.Len(t, batches[0].Experiences, 100)
	assert.Len(t, batches[1].Experiences, 100)
	assert.Len(t, batches[2].Experiences, 50)
	for _, batch := range batches {
		assert.Equal(t, models.AlgorithmQLearning, batch.Algorithm)
		for _, e := range batch.Experiences {
			assert.True(t, e.Processed)
		}
	}
}

func TestFlushRetainsFailedBatches(t *testing.T) {
	sink := &recordingSink{}
	buf := NewBuffer(10000, 100, 3, sink)

	for i := 0; i < 10; i++ {
		buf.Enqueue(exp(models.AlgorithmQLearning, 1, time.Now()))
	}

	sink.setFail(true)
	delivered, failed := buf.FlushAll(context.Background())
	assert.Zero(t, delivered)
	assert.Zero(t, failed)
	assert.Zero(t, buf.Len()) // drained into the retained set

	// Recovery: retained batch delivered on the next flush.
	sink.setFail(false)
	delivered, failed = buf.FlushAll(context.Background())
	assert.Equal(t, 1, delivered)
	assert.Zero(t, failed)
	require.Len(t, sink.received(), 1)
	assert.Len(t, sink.received()[0].Experiences, 10)
}

func TestFlushDropsBatchAfterRetryCap(t *testing.T) {
	sink := &recordingSink{}
	buf := NewBuffer(10000, 100, 3, sink)

	for i := 0; i < 5; i++ {
		buf.Enqueue(exp(models.AlgorithmQLearning, 1, time.Now()))
	}

	sink.setFail(true)
	buf.FlushAll(context.Background()) // attempt 1, retained
	buf.FlushAll(context.Background()) // attempt 2, retained
	_, failed := buf.FlushAll(context.Background())
	assert.Equal(t, 1, failed) // attempt 3, dropped

	sink.setFail(false)
	delivered, _ := buf.FlushAll(context.Background())
	assert.Zero(t, delivered)
	assert.Empty(t, sink.received())
}

func TestSyncNewForwardsWithoutDraining(t *testing.T) {
	sink := &recordingSink{}
	buf := NewBuffer(10000, 100, 3, sink)

	buf.Enqueue(exp(models.AlgorithmQLearning, 1, time.Now()))
	buf.Enqueue(exp(models.AlgorithmQLearning, 2, time.Now()))

	forwarded := buf.SyncNew(context.Background())
	assert.Equal(t, 2, forwarded)
	assert.Equal(t, 2, buf.Len())

	// Nothing new: no re-forwarding.
	assert.Zero(t, buf.SyncNew(context.Background()))

	buf.Enqueue(exp(models.AlgorithmQLearning, 3, time.Now()))
	assert.Equal(t, 1, buf.SyncNew(context.Background()))
}

func TestFlusherPeriodicFlush(t *testing.T) {
	sink := &recordingSink{}
	buf := NewBuffer(10000, 100, 3, sink)
	flusher := NewFlusher(buf, 20*time.Millisecond, time.Hour, false)

	for i := 0; i < 10; i++ {
		buf.Enqueue(exp(models.AlgorithmQLearning, 1, time.Now()))
	}

	flusher.Start(context.Background())
	assert.Eventually(t, func() bool {
		return buf.Len() == 0 && len(sink.received()) == 1
	}, time.Second, 5*time.Millisecond)
	flusher.Stop(context.Background())
}

func TestFlusherStopFlushesRemainder(t *testing.T) {
	sink := &recordingSink{}
	buf := NewBuffer(10000, 100, 3, sink)
	flusher := NewFlusher(buf, time.Hour, time.Hour, false)

	flusher.Start(context.Background())
	buf.Enqueue(exp(models.AlgorithmQLearning, 1, time.Now()))
	flusher.Stop(context.Background())

	assert.Zero(t, buf.Len())
	assert.Len(t, sink.received(), 1)
}
