package utils

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"
)

// DefaultProgressInterval is how many bytes pass between progress callbacks.
const DefaultProgressInterval = 64 * 1024 * 1024

// ProgressFunc receives the running byte total and the time since the first byte.
type ProgressFunc func(total int64, elapsed time.Duration)

// ProgressWriter wraps an io.Writer and reports every interval bytes written.
type ProgressWriter struct {
	w       io.Writer
	counter progressCounter
}

// NewProgressWriter wraps w. A nil fn only counts.
func NewProgressWriter(w io.Writer, fn ProgressFunc) *ProgressWriter {
	return &ProgressWriter{w: w, counter: newProgressCounter(fn)}
}

func (p *ProgressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.counter.add(n)
	return n, err
}

// Total returns the number of bytes written so far.
func (p *ProgressWriter) Total() int64 {
	return p.counter.total.Load()
}

type progressCounter struct {
	total    atomic.Int64
	start    time.Time
	interval int64
	fn       ProgressFunc
}

func newProgressCounter(fn ProgressFunc) progressCounter {
	return progressCounter{start: time.Now(), interval: DefaultProgressInterval, fn: fn}
}

func (c *progressCounter) add(n int) {
	if n <= 0 {
		return
	}
	total := c.total.Add(int64(n))
	// Fires once each time the total crosses a multiple of the interval.
	if c.fn != nil && total/c.interval != (total-int64(n))/c.interval {
		c.fn(total, time.Since(c.start))
	}
}

// FormatBytes formats bytes in human-readable format.
func FormatBytes(bytes int64) string {
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

// FormatRate formats a transfer rate for log output.
func FormatRate(bytes int64, elapsed time.Duration) string {
	if elapsed <= 0 {
		return "n/a"
	}
	return FormatBytes(int64(float64(bytes)/elapsed.Seconds())) + "/s"
}
