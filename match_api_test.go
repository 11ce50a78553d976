package siftgpu

import (
	"testing"

	"github.com/gogpu/siftgpu/match"
)

func descriptorFilledWith(v float32) Descriptor {
	var d Descriptor
	for i := range d {
		d[i] = v
	}
	return d
}

func quantizedFilledWith(v byte) QuantizedDescriptor {
	var d QuantizedDescriptor
	for i := range d {
		d[i] = v
	}
	return d
}

func TestMatchPlainFindsNearestNeighbor(t *testing.T) {
	query := []Descriptor{descriptorFilledWith(1)}
	train := []Descriptor{descriptorFilledWith(100), descriptorFilledWith(1.1)}

	results := Match(query, train, 0.75)
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].QueryIdx != 0 || results[0].TrainIdx != 1 {
		t.Errorf("got %+v, want query 0 -> train 1", results[0])
	}
}

func TestMatchPlainRejectsAmbiguousPair(t *testing.T) {
	query := []Descriptor{descriptorFilledWith(1)}
	train := []Descriptor{descriptorFilledWith(1.01), descriptorFilledWith(1.02)}

	results := Match(query, train, 0.75)
	if len(results) != 0 {
		t.Fatalf("got %d results, want 0 for an ambiguous pair", len(results))
	}
}

func TestMatchQuantizedFindsNearestNeighbor(t *testing.T) {
	query := []QuantizedDescriptor{quantizedFilledWith(10)}
	train := []QuantizedDescriptor{quantizedFilledWith(200), quantizedFilledWith(12)}

	results := MatchQuantized(query, train, 0.75)
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].TrainIdx != 1 {
		t.Errorf("got train idx %d, want 1", results[0].TrainIdx)
	}
}

func TestMatchGuidedRespectsEpipolarThreshold(t *testing.T) {
	query := []Descriptor{descriptorFilledWith(1)}
	train := []Descriptor{descriptorFilledWith(1.05), descriptorFilledWith(50)}

	kpQuery := []match.Point2D{{X: 0, Y: 0}}
	kpTrain := []match.Point2D{{X: 0, Y: 0}, {X: 1000, Y: 1000}}

	// Identity-like F with a*x + b*y + c = y, so the epipolar line is y=0:
	// only the first train point (y=0) is within a tight threshold.
	f := match.FundamentalMatrix{0, 0, 0, 0, 0, 0, 0, 1, 0}

	results := MatchGuided(query, kpQuery, train, kpTrain, f, 0.5, 0.9)
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].TrainIdx != 0 {
		t.Errorf("got train idx %d, want 0 (within epipolar threshold)", results[0].TrainIdx)
	}
}

func TestDetectorMatchPlainCPURoutesToMatchPackage(t *testing.T) {
	d := newCPUDetector(t, Options{NumOctaves: 2, ScalesPerOctave: 3})

	query := []Descriptor{descriptorFilledWith(1)}
	train := []Descriptor{descriptorFilledWith(100), descriptorFilledWith(1.1)}

	results, err := d.MatchPlain(query, train, 0.75)
	if err != nil {
		t.Fatalf("MatchPlain: %v", err)
	}
	if len(results) != 1 || results[0].TrainIdx != 1 {
		t.Errorf("got %+v, want a single match against train[1]", results)
	}
}

func TestDetectorMatchQuantizedCPURoutesToMatchPackage(t *testing.T) {
	d := newCPUDetector(t, Options{NumOctaves: 2, ScalesPerOctave: 3})

	query := []QuantizedDescriptor{quantizedFilledWith(10)}
	train := []QuantizedDescriptor{quantizedFilledWith(200), quantizedFilledWith(12)}

	results, err := d.MatchQuantized(query, train, 0.75)
	if err != nil {
		t.Fatalf("MatchQuantized: %v", err)
	}
	if len(results) != 1 || results[0].TrainIdx != 1 {
		t.Errorf("got %+v, want a single match against train[1]", results)
	}
}

func TestFlattenDescriptorsPreservesOrder(t *testing.T) {
	ds := []Descriptor{descriptorFilledWith(1), descriptorFilledWith(2)}
	flat := flattenDescriptors(ds)
	if len(flat) != 256 {
		t.Fatalf("got length %d, want 256", len(flat))
	}
	if flat[0] != 1 || flat[128] != 2 {
		t.Errorf("got flat[0]=%v flat[128]=%v, want 1 and 2", flat[0], flat[128])
	}
}

func TestPackQuantizedRoundTripsBytes(t *testing.T) {
	d := quantizedFilledWith(7)
	packed := packQuantized([]QuantizedDescriptor{d})
	if len(packed) != 32 {
		t.Fatalf("got %d words, want 32", len(packed))
	}
	want := uint32(7) | uint32(7)<<8 | uint32(7)<<16 | uint32(7)<<24
	if packed[0] != want {
		t.Errorf("got word 0x%08x, want 0x%08x", packed[0], want)
	}
}
