// Package compute - Execution backends for per-image and per-pair work.
package compute

import (
	"runtime"
	"sync"

	"github.com/pkg/errors"
)

// Backend identifies how a Device schedules work.
type Backend string

const (
	// BackendSerial runs every unit of work in order on the calling goroutine.
	BackendSerial Backend = "serial"
	// BackendParallel fans work out to a bounded pool of goroutines.
	BackendParallel Backend = "parallel"
)

// Config selects the backend for a Device.
type Config struct {
	// Backend is the scheduling strategy.
	Backend Backend `json:"backend" yaml:"backend"`
	// Workers bounds the goroutine pool for BackendParallel (0 means GOMAXPROCS).
	Workers int `json:"workers" yaml:"workers"`
}

// Device runs n independent units of work. Implementations must call fn exactly
// once for every index in [0, n) and return the first error encountered.
type Device interface {
	Backend() Backend
	Run(n int, fn func(i int) error) error
}

// NewDevice creates the Device described by the configuration.
//
// Arguments:
//   - cfg: The backend selection.
//
// Returns:
//   - Device: The configured device.
//   - error: An error if the backend is unknown or the worker count is negative.
func NewDevice(cfg Config) (Device, error) {
	switch cfg.Backend {
	case "", BackendSerial:
		return Serial{}, nil
	case BackendParallel:
		if cfg.Workers < 0 {
			return nil, errors.Errorf("workers must be >= 0, got %d", cfg.Workers)
		}
		workers := cfg.Workers
		if workers == 0 {
			workers = runtime.GOMAXPROCS(0)
		}
		return &Pool{Workers: workers}, nil
	default:
		return nil, errors.Errorf("unsupported compute backend: %s", cfg.Backend)
	}
}

// Serial executes work in index order.
type Serial struct{}

// Backend returns BackendSerial.
func (Serial) Backend() Backend { return BackendSerial }

// Run calls fn for each index and stops at the first error.
func (Serial) Run(n int, fn func(i int) error) error {
	for i := 0; i < n; i++ {
		if err := fn(i); err != nil {
			return err
		}
	}
	return nil
}

// Pool executes work on a fixed number of goroutines.
type Pool struct {
	Workers int
}

// Backend returns BackendParallel.
func (p *Pool) Backend() Backend { return BackendParallel }

// Run dispatches every index to the worker pool and waits for all of them.
//
// Every index runs even after a failure. The error reported is the one from
// the lowest failing index.
func (p *Pool) Run(n int, fn func(i int) error) error {
	if n == 0 {
		return nil
	}
	workers := p.Workers
	if workers <= 0 {
		workers = 1
	}
	if workers > n {
		workers = n
	}
	if workers == 1 {
		return Serial{}.Run(n, fn)
	}

	jobs := make(chan int, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				errs[i] = fn(i)
			}
		}()
	}

	for i := 0; i < n; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
