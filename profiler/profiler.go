// Package profiler - Windowed tracking of loss scalars and operation timings.
package profiler

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Options configures a Profiler.
type Options struct {
	// ReportInterval specifies how often Start logs a report (default: 10s).
	ReportInterval time.Duration
	// Window is the number of most recent samples kept per series (default: 600).
	Window int
}

// Profiler collects named scalar series and operation timings. It satisfies
// the recorder interface of the losses package and is safe for concurrent use.
type Profiler struct {
	reportInterval time.Duration
	window         int

	mu        sync.Mutex
	startTime time.Time
	metrics   map[string]*series
	timings   map[string]*series

	cancel context.CancelFunc
	done   chan struct{}
}

// series is a bounded window of samples plus lifetime extremes.
type series struct {
	values   []float64
	count    int64
	min, max float64
	last     time.Time
}

func (s *series) add(v float64, window int) {
	if s.count == 0 || v < s.min {
		s.min = v
	}
	if s.count == 0 || v > s.max {
		s.max = v
	}
	s.count++
	s.last = time.Now()

	s.values = append(s.values, v)
	if len(s.values) > window {
		s.values = s.values[len(s.values)-window:]
	}
}

// Summary describes one series.
type Summary struct {
	Name string
	// Mean and StdDev cover the current window.
	Mean   float64
	StdDev float64
	// WindowMin and WindowMax cover the current window.
	WindowMin float64
	WindowMax float64
	// Min and Max cover every sample ever recorded.
	Min   float64
	Max   float64
	Count int64
	Last  time.Time
}

// Snapshot is a point-in-time copy of every series, sorted by name.
type Snapshot struct {
	Uptime  time.Duration
	Metrics []Summary
	// Timings are expressed in seconds.
	Timings []Summary
}

// New creates a Profiler.
//
// Arguments:
//   - opts: Report interval and window size; zero values take defaults.
//
// Returns:
//   - *Profiler: The profiler. Call Start to enable periodic reports.
func New(opts Options) *Profiler {
	if opts.ReportInterval <= 0 {
		opts.ReportInterval = 10 * time.Second
	}
	if opts.Window <= 0 {
		opts.Window = 600
	}
	return &Profiler{
		reportInterval: opts.ReportInterval,
		window:         opts.Window,
		startTime:      time.Now(),
		metrics:        make(map[string]*series),
		timings:        make(map[string]*series),
	}
}

// RecordMetric appends value to the named series.
func (p *Profiler) RecordMetric(name string, value float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seriesFor(p.metrics, name).add(value, p.window)
}

// StartOperation begins timing name.
//
// Returns:
//   - func(): Call when the operation completes.
//
// @example
// defer p.StartOperation("forward")()
func (p *Profiler) StartOperation(name string) func() {
	start := time.Now()
	return func() {
		d := time.Since(start)
		p.mu.Lock()
		defer p.mu.Unlock()
		p.seriesFor(p.timings, name).add(d.Seconds(), p.window)
	}
}

func (p *Profiler) seriesFor(m map[string]*series, name string) *series {
	s, ok := m[name]
	if !ok {
		s = &series{values: make([]float64, 0, min(p.window, 64))}
		m[name] = s
	}
	return s
}

// Snapshot summarizes every series.
func (p *Profiler) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Snapshot{
		Uptime:  time.Since(p.startTime),
		Metrics: summarize(p.metrics),
		Timings: summarize(p.timings),
	}
}

func summarize(m map[string]*series) []Summary {
	out := make([]Summary, 0, len(m))
	for name, s := range m {
		sum := Summary{
			Name:  name,
			Min:   s.min,
			Max:   s.max,
			Count: s.count,
			Last:  s.last,
		}
		if len(s.values) > 0 {
			sum.Mean = stat.Mean(s.values, nil)
			if len(s.values) > 1 {
				sum.StdDev = stat.StdDev(s.values, nil)
			}
			sum.WindowMin = floats.Min(s.values)
			sum.WindowMax = floats.Max(s.values)
		}
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Start logs a report every ReportInterval until ctx is cancelled or Stop is called.
// Calling Start on a running profiler is a no-op.
func (p *Profiler) Start(ctx context.Context) {
	p.mu.Lock()
	if p.cancel != nil {
		p.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	done := p.done
	p.mu.Unlock()

	go func() {
		defer close(done)

		ticker := time.NewTicker(p.reportInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.LogReport()
			}
		}
	}()
}

// Stop ends the report loop and waits for it to exit.
func (p *Profiler) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// LogReport writes the current snapshot and heap usage to the standard logger.
func (p *Profiler) LogReport() {
	s := p.Snapshot()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	log.Printf("profiler: uptime=%v goroutines=%d heap=%s gc=%d",
		s.Uptime.Truncate(time.Millisecond), runtime.NumGoroutine(), formatBytes(mem.HeapAlloc), mem.NumGC)
	for _, m := range s.Metrics {
		log.Printf("profiler: metric %s: mean=%.6f std=%.6f min=%.6f max=%.6f n=%d",
			m.Name, m.Mean, m.StdDev, m.WindowMin, m.WindowMax, m.Count)
	}
	for _, t := range s.Timings {
		log.Printf("profiler: timing %s: mean=%v max=%v n=%d",
			t.Name, seconds(t.Mean), seconds(t.WindowMax), t.Count)
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second)).Truncate(time.Microsecond)
}

// formatBytes formats byte counts in human-readable format.
func formatBytes(b uint64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := uint64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
