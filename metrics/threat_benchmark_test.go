package metrics

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/nvr-ai/go-detloss/boxes"
	"github.com/nvr-ai/go-detloss/compute"
)

func jittered(r *rand.Rand, n int) (pred, gt []boxes.Box) {
	for i := 0; i < n; i++ {
		g := boxes.Box{CX: r.Float32() * 1000, CY: r.Float32() * 1000, W: 10 + r.Float32()*40, H: 10 + r.Float32()*40}
		p := g
		p.CX += r.Float32()*4 - 2
		p.CY += r.Float32()*4 - 2
		gt = append(gt, g)
		pred = append(pred, p)
	}
	return pred, gt
}

// BenchmarkThreatScorer compares the serial and pooled narrow phase.
func BenchmarkThreatScorer(b *testing.B) {
	pool, err := compute.NewDevice(compute.Config{Backend: compute.BackendParallel})
	if err != nil {
		b.Fatal(err)
	}

	for _, n := range []int{16, 128, 512} {
		pred, gt := jittered(rand.New(rand.NewSource(7)), n)

		for _, s := range []ThreatScorer{{}, {Device: pool}} {
			name := fmt.Sprintf("boxes=%d/%s", n, compute.BackendSerial)
			if s.Device != nil {
				name = fmt.Sprintf("boxes=%d/%s", n, s.Device.Backend())
			}
			b.Run(name, func(b *testing.B) {
				b.ReportAllocs()
				b.ResetTimer()
				for i := 0; i < b.N; i++ {
					if _, err := s.Score(pred, gt); err != nil {
						b.Fatal(err)
					}
				}
			})
		}
	}
}
