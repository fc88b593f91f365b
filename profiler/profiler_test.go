package profiler

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type staticCollector map[string]float64

func (c staticCollector) CollectMetrics() map[string]float64 { return c }

func newObserved(t *testing.T, mock *clock.Mock, maxSamples int) (*RuntimeProfiler, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.InfoLevel)
	rp := NewRuntimeProfiler(ProfilingOptions{
		ReportInterval: time.Second,
		SampleInterval: 100 * time.Millisecond,
		MaxSamples:     maxSamples,
		Clock:          mock,
		Logger:         zap.New(core).Sugar(),
	})
	return rp, logs
}

func TestStartOperation(t *testing.T) {
	mock := clock.NewMock()
	rp, _ := newObserved(t, mock, 10)

	done := rp.StartOperation("inference")
	mock.Add(5 * time.Millisecond)
	done()

	done = rp.StartOperation("inference")
	mock.Add(15 * time.Millisecond)
	done()

	op := rp.Snapshot().Operations["inference"]
	assert.Equal(t, 10*time.Millisecond, op.Avg)
	assert.Equal(t, 5*time.Millisecond, op.Min)
	assert.Equal(t, 15*time.Millisecond, op.Max)
	assert.Equal(t, int64(2), op.Count)
}

func TestRecordMetricWindow(t *testing.T) {
	rp, _ := newObserved(t, clock.NewMock(), 2)

	rp.RecordMetric("detections", 1)
	rp.RecordMetric("detections", 2)
	rp.RecordMetric("detections", 3)

	m := rp.Snapshot().Metrics["detections"]
	assert.Equal(t, 2, m.Samples)
	assert.InDelta(t, 2.5, m.Avg, 1e-9)
	assert.Equal(t, 1.0, m.Min)
	assert.Equal(t, 3.0, m.Max)
}

func TestSampleCollectors(t *testing.T) {
	rp, _ := newObserved(t, clock.NewMock(), 10)
	rp.AddMetricsCollector(staticCollector{"tensors.live": 3})

	rp.Sample()
	rp.Sample()

	stats := rp.Snapshot()
	assert.Equal(t, MetricStats{Avg: 3, Min: 3, Max: 3, Samples: 2}, stats.Metrics["tensors.live"])
	assert.Positive(t, stats.Goroutines)
	assert.Positive(t, stats.Sys)
}

func TestReportLogs(t *testing.T) {
	rp, logs := newObserved(t, clock.NewMock(), 10)
	rp.RecordOperation("decode", time.Millisecond)
	rp.RecordMetric("fps", 30)

	rp.Report()

	assert.Equal(t, 1, logs.FilterMessage("runtime status").Len())
	timing := logs.FilterMessage("operation timing").All()
	require.Len(t, timing, 1)
	assert.Equal(t, "decode", timing[0].ContextMap()["operation"])
	assert.Equal(t, 1, logs.FilterMessage("metric").Len())
}

func TestStartStop(t *testing.T) {
	mock := clock.NewMock()
	rp, logs := newObserved(t, mock, 10)

	rp.Start()
	rp.Start()

	assert.Eventually(t, func() bool {
		mock.Add(time.Second)
		return logs.FilterMessage("runtime status").Len() > 0
	}, time.Second, 10*time.Millisecond)

	rp.Stop()
	rp.Stop()
}

func TestNilProfiler(t *testing.T) {
	var rp *RuntimeProfiler

	assert.NotPanics(t, func() {
		rp.Start()
		rp.StartOperation("x")()
		rp.RecordMetric("m", 1)
		rp.AddMetricsCollector(staticCollector{})
		rp.Sample()
		rp.Report()
		rp.Stop()
	})
	assert.Equal(t, Stats{}, rp.Snapshot())
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.5 KB", formatBytes(1536))
	assert.Equal(t, "2.0 MB", formatBytes(2*1024*1024))
}
