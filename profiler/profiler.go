// Package profiler - Runtime profiling of pipeline stages and process resources.
package profiler

import (
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// MetricsCollector defines the interface for collecting custom metrics.
type MetricsCollector interface {
	CollectMetrics() map[string]float64
}

// RuntimeProfiler tracks operation timings, custom metrics and process
// resources, and logs a summary on every report interval.
//
// The profiler is safe for concurrent use. A nil *RuntimeProfiler is valid and
// records nothing, so callers can profile unconditionally.
type RuntimeProfiler struct {
	reportInterval time.Duration
	sampleInterval time.Duration
	maxSamples     int
	clock          clock.Clock
	logger         *zap.SugaredLogger

	mu        sync.RWMutex
	stop      chan struct{}
	wg        sync.WaitGroup
	startTime time.Time
	running   bool

	memStats    runtime.MemStats
	goroutines  int
	lastGCCount uint32

	customMetrics  map[string]*MetricTracker
	collectors     []MetricsCollector
	operationTimes map[string]*TimeTracker
}

// MetricTracker tracks statistics for a custom metric over a sliding window.
type MetricTracker struct {
	values []float64
	sum    float64
	min    float64
	max    float64
	count  int64
}

func (m *MetricTracker) add(value float64, window int) {
	if m.count == 0 {
		m.min, m.max = value, value
	}
	m.values = append(m.values, value)
	if len(m.values) > window {
		m.sum -= m.values[0]
		m.values = m.values[1:]
	}
	m.sum += value
	m.count++
	m.min = min(m.min, value)
	m.max = max(m.max, value)
}

// TimeTracker tracks operation timing statistics over a sliding window.
type TimeTracker struct {
	durations []time.Duration
	totalTime time.Duration
	minTime   time.Duration
	maxTime   time.Duration
	count     int64
}

func (t *TimeTracker) add(d time.Duration, window int) {
	if t.count == 0 {
		t.minTime, t.maxTime = d, d
	}
	t.durations = append(t.durations, d)
	if len(t.durations) > window {
		t.totalTime -= t.durations[0]
		t.durations = t.durations[1:]
	}
	t.totalTime += d
	t.count++
	t.minTime = min(t.minTime, d)
	t.maxTime = max(t.maxTime, d)
}

// ProfilingOptions configures the runtime profiler.
type ProfilingOptions struct {
	// ReportInterval specifies how often to emit status reports (default: 10s).
	ReportInterval time.Duration `yaml:"report_interval"`
	// SampleInterval specifies how often to collect samples (default: 1s).
	SampleInterval time.Duration `yaml:"sample_interval"`
	// MaxSamples specifies the sliding window size per metric (default: 600).
	MaxSamples int `yaml:"max_samples"`
	// Clock drives the tickers. Defaults to the wall clock.
	Clock clock.Clock `yaml:"-"`
	// Logger receives the reports. Defaults to a no-op logger.
	Logger *zap.SugaredLogger `yaml:"-"`
}

// NewRuntimeProfiler creates a new runtime profiler with the specified options.
//
// Arguments:
// - opts: Configuration options for the profiler
//
// Returns:
// - A configured RuntimeProfiler instance
func NewRuntimeProfiler(opts ProfilingOptions) *RuntimeProfiler {
	if opts.ReportInterval <= 0 {
		opts.ReportInterval = 10 * time.Second
	}
	if opts.SampleInterval <= 0 {
		opts.SampleInterval = time.Second
	}
	if opts.MaxSamples <= 0 {
		opts.MaxSamples = 600
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}

	return &RuntimeProfiler{
		reportInterval: opts.ReportInterval,
		sampleInterval: opts.SampleInterval,
		maxSamples:     opts.MaxSamples,
		clock:          opts.Clock,
		logger:         opts.Logger,
		startTime:      opts.Clock.Now(),
		customMetrics:  make(map[string]*MetricTracker),
		operationTimes: make(map[string]*TimeTracker),
	}
}

// Start begins sampling and reporting. Calling Start on a running profiler is a no-op.
func (rp *RuntimeProfiler) Start() {
	if rp == nil {
		return
	}

	rp.mu.Lock()
	defer rp.mu.Unlock()

	if rp.running {
		return
	}

	rp.running = true
	rp.startTime = rp.clock.Now()
	rp.stop = make(chan struct{})

	sample := rp.clock.Ticker(rp.sampleInterval)
	report := rp.clock.Ticker(rp.reportInterval)

	rp.wg.Add(1)
	go func(stop <-chan struct{}) {
		defer rp.wg.Done()
		defer sample.Stop()
		defer report.Stop()

		for {
			select {
			case <-stop:
				return
			case <-sample.C:
				rp.Sample()
			case <-report.C:
				rp.Report()
			}
		}
	}(rp.stop)
}

// Stop halts the profiler and waits for its goroutine to exit.
func (rp *RuntimeProfiler) Stop() {
	if rp == nil {
		return
	}

	rp.mu.Lock()
	if !rp.running {
		rp.mu.Unlock()
		return
	}
	rp.running = false
	close(rp.stop)
	rp.mu.Unlock()

	rp.wg.Wait()
}

// AddMetricsCollector registers a custom metrics collector to be called on
// every sample.
//
// Arguments:
// - collector: An implementation of MetricsCollector interface
func (rp *RuntimeProfiler) AddMetricsCollector(collector MetricsCollector) {
	if rp == nil {
		return
	}
	rp.mu.Lock()
	defer rp.mu.Unlock()
	rp.collectors = append(rp.collectors, collector)
}

// RecordMetric records a custom metric value.
//
// Arguments:
// - name: The name of the metric
// - value: The metric value to record
func (rp *RuntimeProfiler) RecordMetric(name string, value float64) {
	if rp == nil {
		return
	}
	rp.mu.Lock()
	defer rp.mu.Unlock()
	rp.recordMetricLocked(name, value)
}

func (rp *RuntimeProfiler) recordMetricLocked(name string, value float64) {
	tracker, exists := rp.customMetrics[name]
	if !exists {
		tracker = &MetricTracker{}
		rp.customMetrics[name] = tracker
	}
	tracker.add(value, rp.maxSamples)
}

// StartOperation begins timing an operation.
//
// Arguments:
// - name: The name of the operation to track
//
// Returns:
// - A function to call when the operation completes
//
// @example
// done := profiler.StartOperation("inference")
// defer done()
func (rp *RuntimeProfiler) StartOperation(name string) func() {
	if rp == nil {
		return func() {}
	}
	start := rp.clock.Now()
	return func() {
		rp.RecordOperation(name, rp.clock.Since(start))
	}
}

// RecordOperation records the duration of a completed operation.
func (rp *RuntimeProfiler) RecordOperation(name string, duration time.Duration) {
	if rp == nil {
		return
	}
	rp.mu.Lock()
	defer rp.mu.Unlock()

	tracker, exists := rp.operationTimes[name]
	if !exists {
		tracker = &TimeTracker{}
		rp.operationTimes[name] = tracker
	}
	tracker.add(duration, rp.maxSamples)
}

// Sample reads process statistics and polls the registered collectors.
func (rp *RuntimeProfiler) Sample() {
	if rp == nil {
		return
	}
	rp.mu.Lock()
	defer rp.mu.Unlock()

	runtime.ReadMemStats(&rp.memStats)
	rp.goroutines = runtime.NumGoroutine()

	for _, collector := range rp.collectors {
		for name, value := range collector.CollectMetrics() {
			rp.recordMetricLocked(name, value)
		}
	}
}

// Report logs a summary of everything tracked so far.
func (rp *RuntimeProfiler) Report() {
	if rp == nil {
		return
	}
	stats := rp.Snapshot()

	rp.mu.Lock()
	newGC := rp.memStats.NumGC - rp.lastGCCount
	rp.lastGCCount = rp.memStats.NumGC
	rp.mu.Unlock()

	rp.logger.Infow("runtime status",
		"uptime", stats.Uptime.Truncate(time.Millisecond),
		"goroutines", stats.Goroutines,
		"heap_alloc", formatBytes(stats.HeapAlloc),
		"sys", formatBytes(stats.Sys),
		"gc_cycles", stats.GCCycles,
		"gc_new", newGC,
	)

	for _, name := range sortedKeys(stats.Operations) {
		op := stats.Operations[name]
		rp.logger.Infow("operation timing",
			"operation", name,
			"avg", op.Avg.Truncate(time.Microsecond),
			"min", op.Min.Truncate(time.Microsecond),
			"max", op.Max.Truncate(time.Microsecond),
			"count", op.Count,
		)
	}

	for _, name := range sortedKeys(stats.Metrics) {
		m := stats.Metrics[name]
		rp.logger.Infow("metric",
			"metric", name,
			"avg", m.Avg,
			"min", m.Min,
			"max", m.Max,
			"samples", m.Samples,
		)
	}
}

// MetricStats summarizes a custom metric.
type MetricStats struct {
	Avg     float64
	Min     float64
	Max     float64
	Samples int
}

// OperationStats summarizes an operation's timings.
type OperationStats struct {
	Avg   time.Duration
	Min   time.Duration
	Max   time.Duration
	Count int64
}

// Stats is a point-in-time view of the profiler.
type Stats struct {
	Uptime     time.Duration
	Goroutines int
	HeapAlloc  uint64
	Sys        uint64
	GCCycles   uint32
	Metrics    map[string]MetricStats
	Operations map[string]OperationStats
}

// Snapshot returns the current profiling statistics.
func (rp *RuntimeProfiler) Snapshot() Stats {
	if rp == nil {
		return Stats{}
	}
	rp.mu.RLock()
	defer rp.mu.RUnlock()

	stats := Stats{
		Uptime:     rp.clock.Since(rp.startTime),
		Goroutines: rp.goroutines,
		HeapAlloc:  rp.memStats.HeapAlloc,
		Sys:        rp.memStats.Sys,
		GCCycles:   rp.memStats.NumGC,
		Metrics:    make(map[string]MetricStats, len(rp.customMetrics)),
		Operations: make(map[string]OperationStats, len(rp.operationTimes)),
	}

	for name, tracker := range rp.customMetrics {
		if len(tracker.values) == 0 {
			continue
		}
		stats.Metrics[name] = MetricStats{
			Avg:     tracker.sum / float64(len(tracker.values)),
			Min:     tracker.min,
			Max:     tracker.max,
			Samples: len(tracker.values),
		}
	}

	for name, tracker := range rp.operationTimes {
		if len(tracker.durations) == 0 {
			continue
		}
		stats.Operations[name] = OperationStats{
			Avg:   tracker.totalTime / time.Duration(len(tracker.durations)),
			Min:   tracker.minTime,
			Max:   tracker.maxTime,
			Count: tracker.count,
		}
	}

	return stats
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// formatBytes formats byte counts in human-readable format.
func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
