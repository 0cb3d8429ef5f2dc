package monitor

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Sample is one reading of the Go runtime.
type Sample struct {
	Goroutines  int
	HeapObjects uint64
	HeapAlloc   uint64
	// GCPause is the most recent stop-the-world pause.
	GCPause time.Duration
	NumGC   uint32
}

// ProcessMonitor publishes runtime gauges next to the engine metrics while a
// metrics endpoint is being served.
type ProcessMonitor struct {
	logger   *zap.Logger
	interval time.Duration
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	mu   sync.Mutex
	last Sample

	goroutines  prometheus.Gauge
	heapObjects prometheus.Gauge
	heapAlloc   prometheus.Gauge
	gcPause     prometheus.Gauge
}

// NewProcessMonitor registers its gauges on reg. Sampling starts with Start.
func NewProcessMonitor(namespace string, reg prometheus.Registerer, interval time.Duration, logger *zap.Logger) (*ProcessMonitor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Second
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      name,
			Help:      help,
		})
	}
	m := &ProcessMonitor{
		logger:      logger,
		interval:    interval,
		goroutines:  gauge("goroutines", "Current number of goroutines"),
		heapObjects: gauge("heap_objects", "Current number of heap objects"),
		heapAlloc:   gauge("heap_alloc_bytes", "Current heap allocation in bytes"),
		gcPause:     gauge("gc_pause_seconds", "Most recent GC pause"),
	}
	for _, c := range []prometheus.Collector{m.goroutines, m.heapObjects, m.heapAlloc, m.gcPause} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Start samples once immediately and then every interval until ctx is done
// or Stop is called.
func (m *ProcessMonitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.Collect()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Collect()
			}
		}
	}()
}

// Collect takes one sample and publishes it.
func (m *ProcessMonitor) Collect() Sample {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	s := Sample{
		Goroutines:  runtime.NumGoroutine(),
		HeapObjects: stats.HeapObjects,
		HeapAlloc:   stats.HeapAlloc,
		GCPause:     time.Duration(stats.PauseNs[(stats.NumGC+255)%256]),
		NumGC:       stats.NumGC,
	}

	m.goroutines.Set(float64(s.Goroutines))
	m.heapObjects.Set(float64(s.HeapObjects))
	m.heapAlloc.Set(float64(s.HeapAlloc))
	m.gcPause.Set(s.GCPause.Seconds())

	m.mu.Lock()
	m.last = s
	m.mu.Unlock()
	return s
}

// Last returns the most recent sample.
func (m *ProcessMonitor) Last() Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Stop ends sampling and waits for the sampler to exit.
func (m *ProcessMonitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.logger.Debug("Process monitor stopped", zap.Int("goroutines", m.Last().Goroutines))
}
