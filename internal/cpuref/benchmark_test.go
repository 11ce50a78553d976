package cpuref

import "testing"

// BenchmarkDetectAndCompute times the full CPU reference pipeline, taking
// the place of the original standalone benchmark binary (benchmark_main)
// as a Go benchmark instead of a demo application.
func BenchmarkDetectAndCompute(b *testing.B) {
	pl := New(defaultConfig())
	luma := diskImage(256, 256, 128, 128, 60)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		pl.DetectAndCompute(luma, 256, 256)
	}
}
