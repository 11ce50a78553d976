package siftgpu

import (
	"testing"
)

// syntheticImage builds a small image with a handful of bright blobs on a
// dark field, enough to give the detector something to find without
// requiring a real photograph.
func syntheticImage(t *testing.T, w, h int) *Image {
	t.Helper()
	pixels := make([]byte, w*h)
	blobs := [][2]int{{w / 4, h / 4}, {3 * w / 4, h / 4}, {w / 2, 3 * h / 4}}
	for _, b := range blobs {
		for dy := -3; dy <= 3; dy++ {
			for dx := -3; dx <= 3; dx++ {
				x, y := b[0]+dx, b[1]+dy
				if x < 0 || x >= w || y < 0 || y >= h {
					continue
				}
				pixels[y*w+x] = 220
			}
		}
	}
	img, err := LoadImage(pixels, w, h, w, FormatGray8, 0)
	if err != nil {
		t.Fatalf("LoadImage: %v", err)
	}
	return img
}

func newCPUDetector(t *testing.T, opts Options) *Detector {
	t.Helper()
	opts.ForceCPU = true
	d, err := NewDetector(opts)
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}
	return d
}

func TestNewDetectorCPURejectsBadOptions(t *testing.T) {
	_, err := NewDetector(Options{ForceCPU: true, NumOctaves: -1})
	if err == nil {
		t.Fatalf("expected an error for negative num_octaves")
	}
}

func TestDetectorCloseIsNoOpForCPU(t *testing.T) {
	d := newCPUDetector(t, Options{NumOctaves: 2, ScalesPerOctave: 3})
	d.Close()
}

func TestDetectKeypointsCPU(t *testing.T) {
	d := newCPUDetector(t, Options{NumOctaves: 2, ScalesPerOctave: 3, MaxKeypoints: 1000})
	img := syntheticImage(t, 64, 64)

	res, err := d.DetectKeypoints(img)
	if err != nil {
		t.Fatalf("DetectKeypoints: %v", err)
	}
	if res.Descriptors != nil || res.QuantizedDescriptors != nil {
		t.Errorf("DetectKeypoints should not populate descriptors, got %d/%d", len(res.Descriptors), len(res.QuantizedDescriptors))
	}
}

func TestDetectAndComputeCPUFloatDescriptors(t *testing.T) {
	d := newCPUDetector(t, Options{NumOctaves: 2, ScalesPerOctave: 3, MaxKeypoints: 1000})
	img := syntheticImage(t, 64, 64)

	res, err := d.DetectAndCompute(img)
	if err != nil {
		t.Fatalf("DetectAndCompute: %v", err)
	}
	if len(res.Descriptors) != len(res.Keypoints) {
		t.Fatalf("descriptors/keypoints length mismatch: %d vs %d", len(res.Descriptors), len(res.Keypoints))
	}
	if res.QuantizedDescriptors != nil {
		t.Errorf("QuantizedDescriptors should be nil when QuantizeDescriptors is false")
	}
}

func TestDetectAndComputeCPUQuantizedDescriptors(t *testing.T) {
	d := newCPUDetector(t, Options{NumOctaves: 2, ScalesPerOctave: 3, MaxKeypoints: 1000, QuantizeDescriptors: true})
	img := syntheticImage(t, 64, 64)

	res, err := d.DetectAndCompute(img)
	if err != nil {
		t.Fatalf("DetectAndCompute: %v", err)
	}
	if len(res.QuantizedDescriptors) != len(res.Keypoints) {
		t.Fatalf("quantized descriptors/keypoints length mismatch: %d vs %d", len(res.QuantizedDescriptors), len(res.Keypoints))
	}
	if res.Descriptors != nil {
		t.Errorf("Descriptors should be nil when QuantizeDescriptors is true")
	}
}

func TestComputeDescriptorsCPUForCallerKeypoints(t *testing.T) {
	d := newCPUDetector(t, Options{NumOctaves: 2, ScalesPerOctave: 3, MaxKeypoints: 1000})
	img := syntheticImage(t, 64, 64)

	kps := []Keypoint{
		{X: 16, Y: 16, Octave: 0, Scale: 1, Sigma: 1.6, Orientation: 0},
		{X: 48, Y: 16, Octave: 0, Scale: 1, Sigma: 1.6, Orientation: 1.2},
	}
	res, err := d.ComputeDescriptors(img, kps)
	if err != nil {
		t.Fatalf("ComputeDescriptors: %v", err)
	}
	if len(res.Keypoints) != len(kps) {
		t.Fatalf("keypoints: got %d, want %d", len(res.Keypoints), len(kps))
	}
	if len(res.Descriptors) != len(kps) {
		t.Fatalf("descriptors: got %d, want %d", len(res.Descriptors), len(kps))
	}
	for i, k := range res.Keypoints {
		if k != kps[i] {
			t.Errorf("keypoint %d echoed back changed: got %+v, want %+v", i, k, kps[i])
		}
	}
}

func TestScaleResultRescalesKeypoints(t *testing.T) {
	r := Result{Keypoints: []Keypoint{{X: 10, Y: 20, Sigma: 1.6}}}
	got := scaleResult(r, 2.0)
	if got.Keypoints[0].X != 20 || got.Keypoints[0].Y != 40 || got.Keypoints[0].Sigma != 3.2 {
		t.Errorf("scaleResult: got %+v, want X=20 Y=40 Sigma=3.2", got.Keypoints[0])
	}
}

func TestScaleResultIdentityForFactorOne(t *testing.T) {
	r := Result{Keypoints: []Keypoint{{X: 10, Y: 20, Sigma: 1.6}}}
	got := scaleResult(r, 1.0)
	if got.Keypoints[0] != r.Keypoints[0] {
		t.Errorf("scaleResult with factor 1 should be a no-op, got %+v", got.Keypoints[0])
	}
}
