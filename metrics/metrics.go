package metrics

import (
	"time"

	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/provider"
)

const defaultTimingUnit = time.Millisecond

// Instruments are the host's counters, created from a go-kit provider so
// tests can run against a discard provider.
type Instruments struct {
	InvokeDuration metrics.Histogram
	InvokeErrors   metrics.Counter
	BytesWritten   metrics.Counter
	BytesRead      metrics.Counter
	ShellsSpawned  metrics.Counter
	Streams        metrics.Gauge
}

func New(p provider.Provider) *Instruments {
	if p == nil {
		p = provider.NewDiscardProvider()
	}

	return &Instruments{
		InvokeDuration: p.NewHistogram("invoke_duration_ms", 50),
		InvokeErrors:   p.NewCounter("invoke_errors_count"),
		BytesWritten:   p.NewCounter("pty_bytes_written_count"),
		BytesRead:      p.NewCounter("pty_bytes_read_count"),
		ShellsSpawned:  p.NewCounter("shells_spawned_count"),
		Streams:        p.NewGauge("active_streams_count"),
	}
}

// MeasureSince observes the milliseconds elapsed since t0.
func MeasureSince(h metrics.Histogram, t0 time.Time) {
	measureSince(h, t0, time.Now(), float64(defaultTimingUnit))
}

func measureSince(h metrics.Histogram, t0, t1 time.Time, unit float64) {
	d := t1.Sub(t0)
	if d < 0 {
		d = 0
	}
	h.Observe(float64(d) / unit)
}
