package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

type fakeDepther struct{ ready, delayed, processing int64 }

func (f fakeDepther) Depth(ctx context.Context) (int64, int64, int64, error) {
	return f.ready, f.delayed, f.processing, nil
}

func TestObserveRunIncrementsCounterAndHistogram(t *testing.T) {
	m := New(nil)
	m.ObserveRun("succeeded", 250*time.Millisecond)
	m.ObserveRun("failed", 100*time.Millisecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.RunsTotal.WithLabelValues("succeeded")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RunsTotal.WithLabelValues("failed")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.RunDuration))
}

func TestObserveHandlerLabelsByBlockID(t *testing.T) {
	m := New(nil)
	m.ObserveHandler("nilai-llm", 50*time.Millisecond)
	count := testutil.CollectAndCount(m.HandlerDuration)
	assert.Equal(t, 1, count)
}

func TestIncQueueRetryIsCumulative(t *testing.T) {
	m := New(nil)
	m.IncQueueRetry()
	m.IncQueueRetry()
	assert.Equal(t, float64(2), testutil.ToFloat64(m.QueueRetries))
}

func TestSetBalanceIsPerTenant(t *testing.T) {
	m := New(nil)
	m.SetBalance("tenant-a", 42)
	m.SetBalance("tenant-b", 7)
	assert.Equal(t, float64(42), testutil.ToFloat64(m.LedgerBalance.WithLabelValues("tenant-a")))
	assert.Equal(t, float64(7), testutil.ToFloat64(m.LedgerBalance.WithLabelValues("tenant-b")))
}

func TestQueueDepthCollectorSamplesAtScrapeTime(t *testing.T) {
	m := New(fakeDepther{ready: 3, delayed: 1, processing: 2})
	out, err := m.reg.Gather()
	assert.NoError(t, err)

	var found bool
	for _, mf := range out {
		if mf.GetName() == "zecflow_queue_depth" {
			found = true
			assert.Len(t, mf.GetMetric(), 3)
		}
	}
	assert.True(t, found, "expected zecflow_queue_depth to be registered")
}
