package output

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/torosent/apiprobe/internal/metrics"
)

// ProgressReporter displays a live job counter while a suite runs.
type ProgressReporter struct {
	collector *metrics.Collector
	ticker    *time.Ticker
	done      chan struct{}
	finished  chan struct{}
	writer    io.Writer
	active    int32
	start     time.Time
}

// NewProgressReporter creates a progress reporter that updates at the given interval.
func NewProgressReporter(collector *metrics.Collector, interval time.Duration, writer io.Writer) *ProgressReporter {
	if writer == nil {
		writer = io.Discard
	}
	return &ProgressReporter{
		collector: collector,
		ticker:    time.NewTicker(interval),
		done:      make(chan struct{}),
		finished:  make(chan struct{}),
		writer:    writer,
		start:     time.Now(),
	}
}

// Start begins displaying progress updates in a background goroutine.
func (p *ProgressReporter) Start() {
	if !atomic.CompareAndSwapInt32(&p.active, 0, 1) {
		return // already running
	}
	go p.run()
}

// Stop halts progress updates and ends the progress line.
func (p *ProgressReporter) Stop() {
	if atomic.CompareAndSwapInt32(&p.active, 1, 0) {
		close(p.done)
		p.ticker.Stop()
		<-p.finished
		p.print()
		fmt.Fprintln(p.writer)
	}
}

func (p *ProgressReporter) run() {
	defer close(p.finished)
	for {
		select {
		case <-p.ticker.C:
			p.print()
		case <-p.done:
			return
		}
	}
}

func (p *ProgressReporter) print() {
	stats := p.collector.Stats(time.Since(p.start))
	line := fmt.Sprintf("\rJobs: %d | Passed: %d | Failed: %d | Jobs/s: %.1f",
		stats.Total, stats.Passed, stats.Failed, stats.JobsPerSec)
	if stats.Total > 0 {
		line += fmt.Sprintf(" | P99 %.1fms", stats.P99LatencyMs)
	}
	fmt.Fprint(p.writer, line)
}
