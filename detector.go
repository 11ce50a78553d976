package siftgpu

import (
	"errors"
	"fmt"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/siftgpu/internal/cpuref"
	"github.com/gogpu/siftgpu/internal/gpuctx"
	"github.com/gogpu/siftgpu/internal/gpupipe"
)

// descriptorWorkgroup mirrors the descriptor shaders' @workgroup_size.x,
// needed to size DirectDispatchArgs for compute_descriptors against
// caller-supplied keypoints.
const descriptorWorkgroup = 64

// Detector runs the SIFT pipeline against a configured backend: the GPU
// compute pipeline by default, or the pure-Go reference implementation
// when Options.ForceCPU is set. Both backends implement the same
// detect_keypoints / detect_and_compute / compute_descriptors contract.
type Detector struct {
	opts Options

	gctx *gpuctx.Context
	gpu  *gpupipe.Pipeline
	cpu  *cpuref.Pipeline
}

// NewDetector constructs a Detector from opts, applying defaults and
// validating per Options.Normalize. When ForceCPU is false it also
// acquires a GPU device and compiles every compute stage eagerly, failing
// with ErrUnavailable or ErrShaderLoad if either step fails.
func NewDetector(opts Options) (*Detector, error) {
	opts, err := opts.Normalize()
	if err != nil {
		return nil, err
	}

	d := &Detector{opts: opts}
	if opts.ForceCPU {
		d.cpu = cpuref.New(toCPUConfig(opts))
		return d, nil
	}

	gctx, err := gpuctx.New()
	if err != nil {
		return nil, fmt.Errorf("siftgpu: acquire device: %w", translateGPUErr(err))
	}
	gpu, err := gpupipe.New(gctx)
	if err != nil {
		gctx.Close()
		return nil, fmt.Errorf("siftgpu: compile stages: %w", translateGPUErr(err))
	}
	d.gctx = gctx
	d.gpu = gpu
	return d, nil
}

// translateGPUErr maps an internal/gpuctx failure onto the corresponding
// root error-taxonomy sentinel (§7), so errors.Is against the exported
// Err* values holds at the public boundary regardless of which internal
// package (gpuctx or gpupipe, which only ever wraps gpuctx's errors)
// produced the failure. Errors gpuctx never produces pass through
// unchanged.
func translateGPUErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gpuctx.ErrUnavailable):
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	case errors.Is(err, gpuctx.ErrShaderLoad):
		return fmt.Errorf("%w: %w", ErrShaderLoad, err)
	case errors.Is(err, gpuctx.ErrDeviceLost):
		return fmt.Errorf("%w: %w", ErrDeviceLost, err)
	case errors.Is(err, gpuctx.ErrCapacity):
		return fmt.Errorf("%w: %w", ErrCapacity, err)
	default:
		return err
	}
}

// Close releases the GPU device and every cached pipeline. A no-op on a
// CPU-backed Detector.
func (d *Detector) Close() {
	if d.gctx != nil {
		d.gpu.Close()
	}
}

func toCPUConfig(o Options) cpuref.Config {
	return cpuref.Config{
		NumOctaves:        o.NumOctaves,
		ScalesPerOctave:   o.ScalesPerOctave,
		SigmaBase:         o.SigmaBase,
		ContrastThreshold: o.ContrastThreshold,
		EdgeThreshold:     o.EdgeThreshold,
		MaxKeypoints:      o.MaxKeypoints,
		PackedAtomics:     o.PackedAtomics,
	}
}

func toGPUConfig(o Options) gpupipe.Config {
	return gpupipe.Config{
		NumOctaves:        o.NumOctaves,
		ScalesPerOctave:   o.ScalesPerOctave,
		SigmaBase:         o.SigmaBase,
		ContrastThreshold: o.ContrastThreshold,
		EdgeThreshold:     o.EdgeThreshold,
		MaxKeypoints:      o.MaxKeypoints,
		PackedAtomics:     o.PackedAtomics,
	}
}

func fromCPUKeypoints(kps []cpuref.Keypoint) []Keypoint {
	out := make([]Keypoint, len(kps))
	for i, k := range kps {
		out[i] = Keypoint{X: k.X, Y: k.Y, Octave: k.Octave, Scale: k.Scale, Sigma: k.Sigma, Orientation: k.Orientation}
	}
	return out
}

func toCPUKeypoints(kps []Keypoint) []cpuref.Keypoint {
	out := make([]cpuref.Keypoint, len(kps))
	for i, k := range kps {
		out[i] = cpuref.Keypoint{X: k.X, Y: k.Y, Octave: k.Octave, Scale: k.Scale, Sigma: k.Sigma, Orientation: k.Orientation}
	}
	return out
}

func toGPUKeypoints(kps []Keypoint) []gpupipe.KeypointRecord {
	out := make([]gpupipe.KeypointRecord, len(kps))
	for i, k := range kps {
		out[i] = gpupipe.KeypointRecord{
			X: float32(k.X), Y: float32(k.Y),
			Octave: uint32(k.Octave), Scale: uint32(k.Scale),
			Sigma: float32(k.Sigma), Orientation: float32(k.Orientation),
		}
	}
	return out
}

func fromGPUKeypoints(recs []gpupipe.KeypointRecord) []Keypoint {
	out := make([]Keypoint, len(recs))
	for i, r := range recs {
		out[i] = Keypoint{
			X: float64(r.X), Y: float64(r.Y),
			Octave: int(r.Octave), Scale: int(r.Scale),
			Sigma: float64(r.Sigma), Orientation: float64(r.Orientation),
		}
	}
	return out
}

// splitDescriptors packs raw descriptor components (still float32-valued
// even when quantized, per cpuref's and gpupipe's shared convention) into
// Result's Descriptors or QuantizedDescriptors, depending on quantized.
func splitDescriptors(raw [][128]float32, quantized bool) ([]Descriptor, []QuantizedDescriptor) {
	if !quantized {
		out := make([]Descriptor, len(raw))
		for i, r := range raw {
			out[i] = Descriptor(r)
		}
		return out, nil
	}
	out := make([]QuantizedDescriptor, len(raw))
	for i, r := range raw {
		for k, v := range r {
			out[i][k] = byte(v)
		}
	}
	return nil, out
}

func fromCPUDescriptorsRaw(descs []cpuref.Descriptor) [][128]float32 {
	out := make([][128]float32, len(descs))
	for i, dd := range descs {
		out[i] = [128]float32(dd)
	}
	return out
}

func warningsFor(truncated bool) []Warning {
	if truncated {
		return []Warning{WarningKeypointsTruncated}
	}
	return nil
}

// scaleResult multiplies every keypoint's x, y, and sigma by factor, so
// keypoints detected against a downsampled Image come back in the
// caller's original coordinate space.
func scaleResult(r Result, factor float64) Result {
	if factor == 1 {
		return r
	}
	for i := range r.Keypoints {
		r.Keypoints[i].X *= factor
		r.Keypoints[i].Y *= factor
		r.Keypoints[i].Sigma *= factor
	}
	return r
}

// DetectKeypoints runs grayscale pack, pyramid build, extremum detection,
// and orientation assignment, without computing descriptors.
func (d *Detector) DetectKeypoints(img *Image) (Result, error) {
	if d.cpu != nil {
		kps, truncated := d.cpu.DetectKeypoints(img.Luma, img.Width, img.Height)
		return scaleResult(Result{Keypoints: fromCPUKeypoints(kps), Warnings: warningsFor(truncated)}, img.ScaleRestoreFactor), nil
	}

	pyr, err := d.gpu.BuildPyramid(img.Luma, img.Width, img.Height, toGPUConfig(d.opts))
	if err != nil {
		return Result{}, fmt.Errorf("siftgpu: build pyramid: %w", translateGPUErr(err))
	}
	defer pyr.Close()

	counterBuf, keypointsBuf, count, err := d.gpu.DetectExtrema(pyr)
	if err != nil {
		return Result{}, fmt.Errorf("siftgpu: detect extrema: %w", translateGPUErr(err))
	}
	defer d.gctx.DestroyBuffer(keypointsBuf)
	truncated := count >= d.opts.MaxKeypoints

	orientArgs, descArgs, err := d.gpu.PrepareIndirectDispatch(counterBuf, d.opts.MaxKeypoints)
	d.gctx.DestroyBuffer(counterBuf)
	if err != nil {
		return Result{}, fmt.Errorf("siftgpu: prepare indirect dispatch: %w", translateGPUErr(err))
	}
	defer d.gctx.DestroyBuffer(descArgs)

	err = d.gpu.AssignOrientations(pyr, keypointsBuf, orientArgs)
	d.gctx.DestroyBuffer(orientArgs)
	if err != nil {
		return Result{}, fmt.Errorf("siftgpu: assign orientations: %w", translateGPUErr(err))
	}

	recs, err := d.gpu.ReadKeypoints(keypointsBuf, count)
	if err != nil {
		return Result{}, fmt.Errorf("siftgpu: read keypoints: %w", translateGPUErr(err))
	}
	return scaleResult(Result{Keypoints: fromGPUKeypoints(recs), Warnings: warningsFor(truncated)}, img.ScaleRestoreFactor), nil
}

// DetectAndCompute runs the entire pipeline and returns keypoints with
// their descriptors, per Options.QuantizeDescriptors.
func (d *Detector) DetectAndCompute(img *Image) (Result, error) {
	if d.cpu != nil {
		kps, descs, truncated := d.cpu.DetectAndCompute(img.Luma, img.Width, img.Height)
		if d.opts.QuantizeDescriptors {
			descs = d.cpu.ComputeDescriptorsFor(img.Luma, img.Width, img.Height, kps, true)
		}
		dd, qd := splitDescriptors(fromCPUDescriptorsRaw(descs), d.opts.QuantizeDescriptors)
		res := Result{Keypoints: fromCPUKeypoints(kps), Descriptors: dd, QuantizedDescriptors: qd, Warnings: warningsFor(truncated)}
		return scaleResult(res, img.ScaleRestoreFactor), nil
	}

	pyr, err := d.gpu.BuildPyramid(img.Luma, img.Width, img.Height, toGPUConfig(d.opts))
	if err != nil {
		return Result{}, fmt.Errorf("siftgpu: build pyramid: %w", translateGPUErr(err))
	}
	defer pyr.Close()

	counterBuf, keypointsBuf, count, err := d.gpu.DetectExtrema(pyr)
	if err != nil {
		return Result{}, fmt.Errorf("siftgpu: detect extrema: %w", translateGPUErr(err))
	}
	defer d.gctx.DestroyBuffer(keypointsBuf)
	truncated := count >= d.opts.MaxKeypoints

	orientArgs, descArgs, err := d.gpu.PrepareIndirectDispatch(counterBuf, d.opts.MaxKeypoints)
	d.gctx.DestroyBuffer(counterBuf)
	if err != nil {
		return Result{}, fmt.Errorf("siftgpu: prepare indirect dispatch: %w", translateGPUErr(err))
	}

	err = d.gpu.AssignOrientations(pyr, keypointsBuf, orientArgs)
	d.gctx.DestroyBuffer(orientArgs)
	if err != nil {
		d.gctx.DestroyBuffer(descArgs)
		return Result{}, fmt.Errorf("siftgpu: assign orientations: %w", translateGPUErr(err))
	}

	descBuf, err := d.gpu.ComputeDescriptors(pyr, keypointsBuf, descArgs, count, d.opts.QuantizeDescriptors)
	d.gctx.DestroyBuffer(descArgs)
	if err != nil {
		return Result{}, fmt.Errorf("siftgpu: compute descriptors: %w", translateGPUErr(err))
	}
	defer d.gctx.DestroyBuffer(descBuf)

	recs, err := d.gpu.ReadKeypoints(keypointsBuf, count)
	if err != nil {
		return Result{}, fmt.Errorf("siftgpu: read keypoints: %w", translateGPUErr(err))
	}
	raw, err := d.readDescriptorsRaw(descBuf, count)
	if err != nil {
		return Result{}, err
	}
	dd, qd := splitDescriptors(raw, d.opts.QuantizeDescriptors)

	res := Result{Keypoints: fromGPUKeypoints(recs), Descriptors: dd, QuantizedDescriptors: qd, Warnings: warningsFor(truncated)}
	return scaleResult(res, img.ScaleRestoreFactor), nil
}

// ComputeDescriptors rebuilds the pyramid for img and computes descriptors
// for a caller-supplied keypoint list, mirroring compute_descriptors (§6).
// Keypoint coordinates and sigma must already be in img's (possibly
// downsampled) coordinate space; callers holding original-space keypoints
// should divide by img.ScaleRestoreFactor first.
func (d *Detector) ComputeDescriptors(img *Image, kps []Keypoint) (Result, error) {
	if d.cpu != nil {
		descs := d.cpu.ComputeDescriptorsFor(img.Luma, img.Width, img.Height, toCPUKeypoints(kps), d.opts.QuantizeDescriptors)
		dd, qd := splitDescriptors(fromCPUDescriptorsRaw(descs), d.opts.QuantizeDescriptors)
		return Result{Keypoints: kps, Descriptors: dd, QuantizedDescriptors: qd}, nil
	}

	pyr, err := d.gpu.BuildPyramid(img.Luma, img.Width, img.Height, toGPUConfig(d.opts))
	if err != nil {
		return Result{}, fmt.Errorf("siftgpu: build pyramid: %w", translateGPUErr(err))
	}
	defer pyr.Close()

	keypointsBuf, err := d.gpu.UploadKeypoints(toGPUKeypoints(kps))
	if err != nil {
		return Result{}, fmt.Errorf("siftgpu: upload keypoints: %w", translateGPUErr(err))
	}
	defer d.gctx.DestroyBuffer(keypointsBuf)

	descArgs, err := d.gpu.DirectDispatchArgs(len(kps), descriptorWorkgroup)
	if err != nil {
		return Result{}, fmt.Errorf("siftgpu: build dispatch args: %w", translateGPUErr(err))
	}
	defer d.gctx.DestroyBuffer(descArgs)

	descBuf, err := d.gpu.ComputeDescriptors(pyr, keypointsBuf, descArgs, len(kps), d.opts.QuantizeDescriptors)
	if err != nil {
		return Result{}, fmt.Errorf("siftgpu: compute descriptors: %w", translateGPUErr(err))
	}
	defer d.gctx.DestroyBuffer(descBuf)

	raw, err := d.readDescriptorsRaw(descBuf, len(kps))
	if err != nil {
		return Result{}, err
	}
	dd, qd := splitDescriptors(raw, d.opts.QuantizeDescriptors)
	return Result{Keypoints: kps, Descriptors: dd, QuantizedDescriptors: qd}, nil
}

func (d *Detector) readDescriptorsRaw(buf hal.Buffer, count int) ([][128]float32, error) {
	if d.opts.QuantizeDescriptors {
		raw, err := d.gpu.ReadDescriptorsQuantized(buf, count)
		if err != nil {
			return nil, fmt.Errorf("siftgpu: read quantized descriptors: %w", translateGPUErr(err))
		}
		return raw, nil
	}
	raw, err := d.gpu.ReadDescriptorsFloat(buf, count)
	if err != nil {
		return nil, fmt.Errorf("siftgpu: read descriptors: %w", translateGPUErr(err))
	}
	return raw, nil
}
