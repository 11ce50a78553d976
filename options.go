package siftgpu

import "fmt"

// Options configures a Detector. The zero value is not directly usable;
// construct with DefaultOptions and override individual fields, or pass a
// fully populated Options to NewDetector, which applies defaults to any
// field left at its zero value before validating.
type Options struct {
	// NumOctaves is the number of pyramid octaves (O). Default 4.
	NumOctaves int

	// ScalesPerOctave is the number of scales per octave (S), excluding
	// the three extra Gaussian levels needed to compute DoG at every
	// middle scale. Default 3.
	ScalesPerOctave int

	// SigmaBase is the seed sigma for octave 0, scale 0. Default 1.6.
	SigmaBase float64

	// ContrastThreshold gates extremum candidates: |D(x,y)| must be at
	// least ContrastThreshold/ScalesPerOctave. Default 0.03.
	ContrastThreshold float64

	// EdgeThreshold is the principal-curvature ratio-test threshold r.
	// Default 10.0.
	EdgeThreshold float64

	// MaxKeypoints bounds the keypoint append-buffer capacity. Overflow
	// truncates silently and is reported as a Warning, not an error.
	// Default 100000.
	MaxKeypoints int

	// MaxImageDimension is filled in and validated by Normalize but is not
	// read by the Detector: downsampling is controlled by the maxDimension
	// argument of LoadImage. Default 3000.
	MaxImageDimension int

	// QuantizeDescriptors selects the packed-byte descriptor variant
	// instead of the float32 variant. Default false.
	QuantizeDescriptors bool

	// PackedAtomics is copied into the GPU and CPU pipeline configs, but no
	// stage reads it: the extremum shader performs one append-buffer
	// increment per keypoint, with no workgroup-local aggregation, whatever
	// its value. Default false.
	PackedAtomics bool

	// ForceCPU routes detect/compute calls through the pure-Go reference
	// implementation instead of the GPU pipeline, mirroring the CPU
	// fallback switch of a hybrid pipeline. Default false.
	ForceCPU bool

	// RatioThreshold is filled in and validated by Normalize; the matcher
	// entry points do not read it. A ratio <= 0 passed to them selects
	// match.DefaultRatio (0.75) instead. Default 0.75.
	RatioThreshold float64

	// StagingRingDepth is filled in and validated by Normalize but is not
	// read by any pipeline stage: each GPU readback allocates its own
	// staging buffer and waits for it before returning, so readback is not
	// overlapped across frames. Default 3; minimum 1.
	StagingRingDepth int
}

// DefaultOptions returns the options described in §6: num_octaves=4,
// scales_per_octave=3, sigma_base=1.6, contrast_threshold=0.03,
// edge_threshold=10.0, max_keypoints=100000, max_image_dimension=3000,
// quantize_descriptors=false.
func DefaultOptions() Options {
	return Options{
		NumOctaves:          4,
		ScalesPerOctave:     3,
		SigmaBase:           1.6,
		ContrastThreshold:   0.03,
		EdgeThreshold:       10.0,
		MaxKeypoints:        100000,
		MaxImageDimension:   3000,
		QuantizeDescriptors: false,
		PackedAtomics:       false,
		ForceCPU:            false,
		RatioThreshold:      0.75,
		StagingRingDepth:    3,
	}
}

// applyDefaults fills zero-valued fields with their defaults. A caller who
// only sets QuantizeDescriptors, say, still gets sane values everywhere
// else.
func (o Options) applyDefaults() Options {
	d := DefaultOptions()
	if o.NumOctaves == 0 {
		o.NumOctaves = d.NumOctaves
	}
	if o.ScalesPerOctave == 0 {
		o.ScalesPerOctave = d.ScalesPerOctave
	}
	if o.SigmaBase == 0 {
		o.SigmaBase = d.SigmaBase
	}
	if o.ContrastThreshold == 0 {
		o.ContrastThreshold = d.ContrastThreshold
	}
	if o.EdgeThreshold == 0 {
		o.EdgeThreshold = d.EdgeThreshold
	}
	if o.MaxKeypoints == 0 {
		o.MaxKeypoints = d.MaxKeypoints
	}
	if o.MaxImageDimension == 0 {
		o.MaxImageDimension = d.MaxImageDimension
	}
	if o.RatioThreshold == 0 {
		o.RatioThreshold = d.RatioThreshold
	}
	if o.StagingRingDepth == 0 {
		o.StagingRingDepth = d.StagingRingDepth
	}
	return o
}

// validate rejects out-of-range options as ErrBadConfig, per §6 ("values
// outside sane ranges are rejected").
func (o Options) validate() error {
	switch {
	case o.NumOctaves < 1 || o.NumOctaves > 16:
		return fmt.Errorf("siftgpu: num_octaves %d out of range [1,16]: %w", o.NumOctaves, ErrBadConfig)
	case o.ScalesPerOctave < 1 || o.ScalesPerOctave > 16:
		return fmt.Errorf("siftgpu: scales_per_octave %d out of range [1,16]: %w", o.ScalesPerOctave, ErrBadConfig)
	case o.SigmaBase <= 0:
		return fmt.Errorf("siftgpu: sigma_base %v must be positive: %w", o.SigmaBase, ErrBadConfig)
	case o.ContrastThreshold < 0:
		return fmt.Errorf("siftgpu: contrast_threshold %v must be non-negative: %w", o.ContrastThreshold, ErrBadConfig)
	case o.EdgeThreshold <= 0:
		return fmt.Errorf("siftgpu: edge_threshold %v must be positive: %w", o.EdgeThreshold, ErrBadConfig)
	case o.MaxKeypoints < 1:
		return fmt.Errorf("siftgpu: max_keypoints %d must be positive: %w", o.MaxKeypoints, ErrBadConfig)
	case o.MaxImageDimension < 0:
		return fmt.Errorf("siftgpu: max_image_dimension %d must be non-negative: %w", o.MaxImageDimension, ErrBadConfig)
	case o.RatioThreshold <= 0 || o.RatioThreshold > 1:
		return fmt.Errorf("siftgpu: ratio_threshold %v out of range (0,1]: %w", o.RatioThreshold, ErrBadConfig)
	case o.StagingRingDepth < 1:
		return fmt.Errorf("siftgpu: staging_ring_depth %d must be at least 1: %w", o.StagingRingDepth, ErrBadConfig)
	}
	return nil
}

// Normalize applies defaults and validates, returning the error taxonomy's
// BadConfig member on failure. Exported so callers assembling Options
// piecemeal (e.g. from a config file loaded by an external collaborator)
// can validate before constructing a Detector.
func (o Options) Normalize() (Options, error) {
	o = o.applyDefaults()
	if err := o.validate(); err != nil {
		return Options{}, err
	}
	return o, nil
}
