package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestProcessMonitor(t *testing.T) {
	reg := prometheus.NewRegistry()
	mon, err := NewProcessMonitor("arbvault", reg, 10*time.Millisecond, zaptest.NewLogger(t))
	require.NoError(t, err)

	mon.Start(context.Background())
	s := mon.Last()
	assert.Greater(t, s.Goroutines, 0)
	assert.Greater(t, s.HeapAlloc, uint64(0))

	assert.Eventually(t, func() bool { return mon.Last().HeapObjects > 0 }, time.Second, 5*time.Millisecond)
	mon.Stop()

	assert.Equal(t, float64(mon.Last().Goroutines), testutil.ToFloat64(mon.goroutines))
	n, err := testutil.GatherAndCount(reg, "arbvault_process_goroutines", "arbvault_process_heap_alloc_bytes")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = NewProcessMonitor("arbvault", reg, 0, nil)
	assert.Error(t, err, "gauges are already registered")
}

func BenchmarkCollect(b *testing.B) {
	mon, err := NewProcessMonitor("bench", prometheus.NewRegistry(), time.Second, nil)
	require.NoError(b, err)
	for i := 0; i < b.N; i++ {
		mon.Collect()
	}
}
