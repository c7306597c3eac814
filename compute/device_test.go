package compute

import (
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDevice(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		backend Backend
		wantErr bool
	}{
		{name: "empty backend defaults to serial", cfg: Config{}, backend: BackendSerial},
		{name: "serial", cfg: Config{Backend: BackendSerial}, backend: BackendSerial},
		{name: "parallel with default workers", cfg: Config{Backend: BackendParallel}, backend: BackendParallel},
		{name: "parallel with explicit workers", cfg: Config{Backend: BackendParallel, Workers: 3}, backend: BackendParallel},
		{name: "negative workers", cfg: Config{Backend: BackendParallel, Workers: -1}, wantErr: true},
		{name: "unknown backend", cfg: Config{Backend: "cuda"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev, err := NewDevice(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.backend, dev.Backend())
		})
	}
}

func TestDeviceRunVisitsEveryIndexOnce(t *testing.T) {
	for _, cfg := range []Config{
		{Backend: BackendSerial},
		{Backend: BackendParallel, Workers: 4},
		{Backend: BackendParallel, Workers: 64},
	} {
		t.Run(string(cfg.Backend), func(t *testing.T) {
			dev, err := NewDevice(cfg)
			require.NoError(t, err)

			const n = 257
			hits := make([]int32, n)
			err = dev.Run(n, func(i int) error {
				atomic.AddInt32(&hits[i], 1)
				return nil
			})
			require.NoError(t, err)
			for i, h := range hits {
				assert.Equal(t, int32(1), h, "index %d", i)
			}
		})
	}
}

func TestDeviceRunReportsError(t *testing.T) {
	boom := errors.New("boom")

	serial := Serial{}
	calls := 0
	err := serial.Run(10, func(i int) error {
		calls++
		if i == 3 {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 4, calls, "serial backend stops at the first failure")

	pool := &Pool{Workers: 4}
	err = pool.Run(10, func(i int) error {
		if i == 7 || i == 2 {
			return errors.Errorf("failed at %d", i)
		}
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, "failed at 2", err.Error())
}

func TestDeviceRunZeroWork(t *testing.T) {
	pool := &Pool{Workers: 8}
	require.NoError(t, pool.Run(0, func(int) error {
		t.Fatal("must not be called")
		return nil
	}))
}
