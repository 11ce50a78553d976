package cpuref

import (
	"math"
	"testing"
)

func defaultConfig() Config {
	return Config{
		NumOctaves:        4,
		ScalesPerOctave:   3,
		SigmaBase:         1.6,
		ContrastThreshold: 0.03,
		EdgeThreshold:     10,
		MaxKeypoints:      100000,
	}
}

func blankImage(w, h int, v float32) []float32 {
	luma := make([]float32, w*h)
	for i := range luma {
		luma[i] = v
	}
	return luma
}

func diskImage(w, h, cx, cy, radius int) []float32 {
	luma := make([]float32, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dx, dy := x-cx, y-cy
			if dx*dx+dy*dy <= radius*radius {
				luma[y*w+x] = 1.0
			}
		}
	}
	return luma
}

func TestBlankImageProducesNoKeypoints(t *testing.T) {
	pl := New(defaultConfig())
	luma := blankImage(64, 64, 0.5)
	kps, truncated := pl.DetectKeypoints(luma, 64, 64)
	if truncated {
		t.Fatalf("did not expect truncation")
	}
	if len(kps) != 0 {
		t.Fatalf("blank image: got %d keypoints, want 0", len(kps))
	}
}

func TestDiskImageProducesKeypointNearCenter(t *testing.T) {
	cfg := defaultConfig()
	cfg.ContrastThreshold = 0.01
	pl := New(cfg)
	luma := diskImage(64, 64, 32, 32, 20)
	kps, _ := pl.DetectKeypoints(luma, 64, 64)
	if len(kps) == 0 {
		t.Fatalf("expected at least one keypoint on a disk image")
	}

	found := false
	for _, kp := range kps {
		d := math.Hypot(kp.X-32, kp.Y-32)
		if d <= 2 {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("expected a keypoint within 2px of (32,32), got %v", kps)
	}
}

func TestDescriptorNormWithinTolerance(t *testing.T) {
	pl := New(defaultConfig())
	luma := diskImage(64, 64, 32, 32, 20)
	_, descs, _ := pl.DetectAndCompute(luma, 64, 64)
	for i, d := range descs {
		var sum float64
		for _, v := range d {
			sum += float64(v) * float64(v)
		}
		norm := math.Sqrt(sum)
		if norm < 0.999 || norm > 1.001 {
			t.Fatalf("descriptor %d L2 norm = %v, want in [0.999,1.001]", i, norm)
		}
	}
}

func TestDescriptorClampedAtPoint2(t *testing.T) {
	pl := New(defaultConfig())
	luma := diskImage(96, 96, 48, 48, 30)
	_, descs, _ := pl.DetectAndCompute(luma, 96, 96)
	for i, d := range descs {
		for j, v := range d {
			if v > 0.2+1e-6 {
				t.Fatalf("descriptor %d component %d = %v, exceeds 0.2 clamp", i, j, v)
			}
		}
	}
}

func TestSigmaFormula(t *testing.T) {
	cfg := defaultConfig()
	pl := New(cfg)
	luma := diskImage(64, 64, 32, 32, 20)
	kps, _ := pl.DetectKeypoints(luma, 64, 64)
	for _, kp := range kps {
		want := cfg.SigmaBase * math.Pow(2, float64(kp.Scale)/float64(cfg.ScalesPerOctave)) * math.Pow(2, float64(kp.Octave))
		if math.Abs(kp.Sigma-want)/want > 1e-5 {
			t.Fatalf("sigma mismatch: got %v want %v", kp.Sigma, want)
		}
	}
}

func TestKeypointCountBoundedByMaxKeypoints(t *testing.T) {
	cfg := defaultConfig()
	cfg.MaxKeypoints = 2
	cfg.ContrastThreshold = 0.001
	pl := New(cfg)
	luma := diskImage(128, 128, 64, 64, 50)
	kps, truncated := pl.DetectKeypoints(luma, 128, 128)
	if len(kps) > cfg.MaxKeypoints {
		t.Fatalf("got %d keypoints, want <= %d", len(kps), cfg.MaxKeypoints)
	}
	_ = truncated
}

func TestComputeDescriptorsIdempotent(t *testing.T) {
	pl := New(defaultConfig())
	luma := diskImage(64, 64, 32, 32, 20)
	kps, truncated := pl.DetectKeypoints(luma, 64, 64)
	if truncated {
		t.Fatalf("unexpected truncation")
	}
	d1 := pl.ComputeDescriptorsFor(luma, 64, 64, kps, false)
	d2 := pl.ComputeDescriptorsFor(luma, 64, 64, kps, false)
	if len(d1) != len(d2) {
		t.Fatalf("length mismatch: %d vs %d", len(d1), len(d2))
	}
	for i := range d1 {
		if meanAbsDiff(d1[i][:], d2[i][:]) > 1e-9 {
			t.Fatalf("compute_descriptors not idempotent at %d", i)
		}
	}
}

func TestDoGEqualsGaussianDifference(t *testing.T) {
	pl := New(defaultConfig())
	luma := diskImage(64, 64, 32, 32, 20)
	base := lumaToGrid(luma, 64, 64)
	pyr := BuildPyramid(base, pl.Cfg, pl.kernels)
	for o := range pyr.Octaves {
		oct := &pyr.Octaves[o]
		for s := range oct.DoG {
			for y := 0; y < oct.Height; y++ {
				for x := 0; x < oct.Width; x++ {
					want := oct.Gaussian[s+1].At(x, y) - oct.Gaussian[s].At(x, y)
					got := oct.DoG[s].At(x, y)
					if math.Abs(float64(got-want)) > 1e-4 {
						t.Fatalf("DoG mismatch at o=%d s=%d (%d,%d): got %v want %v", o, s, x, y, got, want)
					}
				}
			}
		}
	}
}
