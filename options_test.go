package siftgpu

import (
	"errors"
	"testing"
)

func TestNormalizeFillsDefaults(t *testing.T) {
	o, err := Options{}.Normalize()
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	d := DefaultOptions()
	if o != d {
		t.Fatalf("zero-value Normalize: got %+v, want defaults %+v", o, d)
	}
}

func TestNormalizePreservesExplicitFields(t *testing.T) {
	o, err := Options{ScalesPerOctave: 5, QuantizeDescriptors: true}.Normalize()
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if o.ScalesPerOctave != 5 {
		t.Errorf("ScalesPerOctave: got %d, want 5", o.ScalesPerOctave)
	}
	if !o.QuantizeDescriptors {
		t.Errorf("QuantizeDescriptors: got false, want true")
	}
	if o.NumOctaves != DefaultOptions().NumOctaves {
		t.Errorf("NumOctaves: got %d, want default %d", o.NumOctaves, DefaultOptions().NumOctaves)
	}
}

func TestNormalizeRejectsOutOfRangeOptions(t *testing.T) {
	cases := []struct {
		name string
		o    Options
	}{
		{"num_octaves too large", Options{NumOctaves: 17}},
		{"scales_per_octave too large", Options{ScalesPerOctave: 17}},
		{"negative sigma_base", Options{SigmaBase: -1}},
		{"negative contrast_threshold", Options{ContrastThreshold: -0.1}},
		{"negative edge_threshold", Options{EdgeThreshold: -1}},
		{"negative max_image_dimension", Options{MaxImageDimension: -1}},
		{"ratio_threshold too large", Options{RatioThreshold: 1.5}},
		{"negative staging_ring_depth", Options{StagingRingDepth: -1}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if _, err := c.o.Normalize(); !errors.Is(err, ErrBadConfig) {
				t.Errorf("got err %v, want ErrBadConfig", err)
			}
		})
	}
}

func TestNormalizeNegativeMaxKeypointsRejected(t *testing.T) {
	o := DefaultOptions()
	o.MaxKeypoints = -1
	if _, err := o.Normalize(); !errors.Is(err, ErrBadConfig) {
		t.Fatalf("got err %v, want ErrBadConfig", err)
	}
}

func TestNormalizePreservesExplicitMaxImageDimension(t *testing.T) {
	o, err := Options{MaxImageDimension: 4096, NumOctaves: 1}.Normalize()
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if o.MaxImageDimension != 4096 {
		t.Errorf("MaxImageDimension: got %d, want 4096", o.MaxImageDimension)
	}
}
