// Package gpupipe implements the GPU compute stages of the SIFT pipeline
// (C2-C7): pyramid construction, extremum detection, the indirect-dispatch
// preparer, orientation assignment, descriptor extraction, and matching.
// Its dispatch architecture is modeled directly on the teacher's
// VelloComputeDispatcher: one array of compiled pipelines indexed by a
// Stage enum and an encode-then-submit-then-wait helper (dispatchOne,
// dispatchIndirectOne) that submits each dispatch and waits on its fence
// before returning.
package gpupipe

import (
	_ "embed"
	"fmt"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/siftgpu/internal/gpuctx"
)

//go:embed shaders/grayscale_pack.wgsl
var shaderGrayscalePack string

//go:embed shaders/blur_h.wgsl
var shaderBlurH string

//go:embed shaders/blur_v.wgsl
var shaderBlurV string

//go:embed shaders/downsample.wgsl
var shaderDownsample string

//go:embed shaders/dog_subtract.wgsl
var shaderDoGSubtract string

//go:embed shaders/extremum_detect.wgsl
var shaderExtremumDetect string

//go:embed shaders/indirect_dispatch_prep.wgsl
var shaderIndirectDispatchPrep string

//go:embed shaders/orientation_assign.wgsl
var shaderOrientationAssign string

//go:embed shaders/descriptor_extract_float.wgsl
var shaderDescriptorFloat string

//go:embed shaders/descriptor_extract_quantized.wgsl
var shaderDescriptorQuantized string

//go:embed shaders/matcher_plain.wgsl
var shaderMatcherPlain string

//go:embed shaders/matcher_quantized.wgsl
var shaderMatcherQuantized string

//go:embed shaders/matcher_guided.wgsl
var shaderMatcherGuided string

// fenceTimeout bounds how long a submitted command buffer is awaited before
// the pipeline reports the device as lost, matching the teacher's
// velloFenceTimeout constant.
const fenceTimeout = 5 * time.Second

// Stage identifies one compiled compute pipeline.
type Stage int

const (
	StageGrayscalePack Stage = iota
	StageBlurH
	StageBlurV
	StageDownsample
	StageDoGSubtract
	StageExtremumDetect
	StageIndirectDispatchPrep
	StageOrientationAssign
	StageDescriptorFloat
	StageDescriptorQuantized
	StageMatcherPlain
	StageMatcherQuantized
	StageMatcherGuided
	stageCount
)

func (s Stage) String() string {
	switch s {
	case StageGrayscalePack:
		return "grayscale_pack"
	case StageBlurH:
		return "blur_h"
	case StageBlurV:
		return "blur_v"
	case StageDownsample:
		return "downsample"
	case StageDoGSubtract:
		return "dog_subtract"
	case StageExtremumDetect:
		return "extremum_detect"
	case StageIndirectDispatchPrep:
		return "indirect_dispatch_prep"
	case StageOrientationAssign:
		return "orientation_assign"
	case StageDescriptorFloat:
		return "descriptor_extract_float"
	case StageDescriptorQuantized:
		return "descriptor_extract_quantized"
	case StageMatcherPlain:
		return "matcher_plain"
	case StageMatcherQuantized:
		return "matcher_quantized"
	case StageMatcherGuided:
		return "matcher_guided"
	default:
		return fmt.Sprintf("Stage(%d)", int(s))
	}
}

func stageSource(s Stage) string {
	switch s {
	case StageGrayscalePack:
		return shaderGrayscalePack
	case StageBlurH:
		return shaderBlurH
	case StageBlurV:
		return shaderBlurV
	case StageDownsample:
		return shaderDownsample
	case StageDoGSubtract:
		return shaderDoGSubtract
	case StageExtremumDetect:
		return shaderExtremumDetect
	case StageIndirectDispatchPrep:
		return shaderIndirectDispatchPrep
	case StageOrientationAssign:
		return shaderOrientationAssign
	case StageDescriptorFloat:
		return shaderDescriptorFloat
	case StageDescriptorQuantized:
		return shaderDescriptorQuantized
	case StageMatcherPlain:
		return shaderMatcherPlain
	case StageMatcherQuantized:
		return shaderMatcherQuantized
	case StageMatcherGuided:
		return shaderMatcherGuided
	default:
		return ""
	}
}

// configUniform is the binding-0 layout entry shared by every stage's
// uniform config struct.
var configUniform = gputypes.BindGroupLayoutEntry{
	Binding:    0,
	Visibility: gputypes.ShaderStageCompute,
	Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform},
}

func storageRO(binding uint32) gputypes.BindGroupLayoutEntry {
	return gputypes.BindGroupLayoutEntry{
		Binding:    binding,
		Visibility: gputypes.ShaderStageCompute,
		Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage},
	}
}

func storageRW(binding uint32) gputypes.BindGroupLayoutEntry {
	return gputypes.BindGroupLayoutEntry{
		Binding:    binding,
		Visibility: gputypes.ShaderStageCompute,
		Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage},
	}
}

// stageLayout returns the bind group layout entries for stage, in the order
// used by its WGSL source's @binding annotations.
func stageLayout(s Stage) []gputypes.BindGroupLayoutEntry {
	switch s {
	case StageGrayscalePack:
		return []gputypes.BindGroupLayoutEntry{configUniform, storageRO(1), storageRW(2)}
	case StageBlurH, StageBlurV:
		return []gputypes.BindGroupLayoutEntry{configUniform, storageRO(1), storageRO(2), storageRW(3)}
	case StageDownsample:
		return []gputypes.BindGroupLayoutEntry{configUniform, storageRO(1), storageRW(2)}
	case StageDoGSubtract:
		return []gputypes.BindGroupLayoutEntry{configUniform, storageRO(1), storageRO(2), storageRW(3)}
	case StageExtremumDetect:
		return []gputypes.BindGroupLayoutEntry{
			configUniform, storageRO(1), storageRO(2), storageRO(3), storageRW(4), storageRW(5),
		}
	case StageIndirectDispatchPrep:
		return []gputypes.BindGroupLayoutEntry{configUniform, storageRO(1), storageRW(2), storageRW(3)}
	case StageOrientationAssign:
		return []gputypes.BindGroupLayoutEntry{configUniform, storageRW(1), storageRO(2)}
	case StageDescriptorFloat, StageDescriptorQuantized:
		return []gputypes.BindGroupLayoutEntry{configUniform, storageRO(1), storageRO(2), storageRW(3)}
	case StageMatcherPlain, StageMatcherQuantized:
		return []gputypes.BindGroupLayoutEntry{configUniform, storageRO(1), storageRO(2), storageRW(3)}
	case StageMatcherGuided:
		return []gputypes.BindGroupLayoutEntry{
			configUniform, storageRO(1), storageRO(2), storageRO(3), storageRO(4), storageRW(5),
		}
	default:
		return nil
	}
}

// workgroupSize returns the @workgroup_size declared by stage's shader, used
// for host-side dispatch-count computation.
func workgroupSize(s Stage) (x, y, z uint32) {
	switch s {
	case StageOrientationAssign:
		return 256, 1, 1
	case StageIndirectDispatchPrep:
		return 1, 1, 1
	case StageDescriptorFloat, StageDescriptorQuantized, StageMatcherPlain, StageMatcherQuantized, StageMatcherGuided:
		return 64, 1, 1
	default:
		return 8, 8, 1
	}
}

// Pipeline owns compiled pipelines for every gpupipe stage plus the
// resource manager used to allocate their buffers. It is the GPU
// counterpart to internal/cpuref.Pipeline.
type Pipeline struct {
	ctx    *gpuctx.Context
	loaded [stageCount]*gpuctx.Pipeline
}

// New compiles every stage's shader against ctx, failing fast if any one of
// them does not compile, mirroring the teacher's eager (not lazy)
// compilation on Init.
func New(ctx *gpuctx.Context) (*Pipeline, error) {
	p := &Pipeline{ctx: ctx}
	for s := Stage(0); s < stageCount; s++ {
		compiled, err := ctx.GetPipeline(s.String(), stageSource(s), stageLayout(s))
		if err != nil {
			return nil, fmt.Errorf("gpupipe: compile %s: %w", s, err)
		}
		p.loaded[s] = compiled
	}
	return p, nil
}

// Close closes the pipeline's Context, which destroys its cached compiled
// pipelines and releases the device. Any other Pipeline built on the same
// Context is unusable afterward.
func (p *Pipeline) Close() {
	p.ctx.Close()
}

// dispatchOne encodes and submits a single compute dispatch: create bind
// group, encode one compute pass, submit, and wait on a fence. Multi-stage
// batches (a full octave's blur/downsample/DoG chain) call this once per
// stage rather than folding everything into one command buffer, since each
// stage in the pyramid depends on the previous stage's buffer contents and
// WGSL storage buffers give no automatic hazard tracking across dispatches
// in the same pass.
func (p *Pipeline) dispatchOne(stage Stage, entries []gputypes.BindGroupEntry, elementsX, elementsY uint32) error {
	device := p.ctx.Device()
	queue := p.ctx.Queue()
	compiled := p.loaded[stage]

	bg, err := device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   stage.String() + "_bg",
		Layout:  compiled.BGLayout,
		Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("gpupipe: %s: create bind group: %w", stage, err)
	}
	defer device.DestroyBindGroup(bg)

	wgx, wgy, _ := workgroupSize(stage)
	countX := ceilDiv(elementsX, wgx)
	countY := ceilDiv(elementsY, wgy)
	if countX == 0 || countY == 0 {
		return nil
	}

	encoder, err := device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: stage.String()})
	if err != nil {
		return fmt.Errorf("gpupipe: %s: create encoder: %w", stage, err)
	}
	if err := encoder.BeginEncoding(stage.String()); err != nil {
		return fmt.Errorf("gpupipe: %s: begin encoding: %w", stage, err)
	}

	pass := encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: stage.String()})
	pass.SetPipeline(compiled.Pipeline)
	pass.SetBindGroup(0, bg, nil)
	pass.Dispatch(countX, countY, 1)
	pass.End()

	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("gpupipe: %s: end encoding: %w", stage, err)
	}

	fence, err := device.CreateFence()
	if err != nil {
		return fmt.Errorf("gpupipe: %s: create fence: %w", stage, err)
	}
	defer device.DestroyFence(fence)

	if err := queue.Submit([]hal.CommandBuffer{cmdBuf}, fence, 1); err != nil {
		return fmt.Errorf("gpupipe: %s: submit: %w", stage, err)
	}
	ok, err := device.Wait(fence, 1, uint64(fenceTimeout.Nanoseconds()))
	if err != nil {
		return fmt.Errorf("gpupipe: %s: wait: %w", stage, err)
	}
	if !ok {
		return fmt.Errorf("%w: gpupipe: %s: timed out waiting for GPU", gpuctx.ErrDeviceLost, stage)
	}
	return nil
}

// dispatchIndirectOne is dispatchOne's counterpart for stages whose
// workgroup count is computed on-device by StageIndirectDispatchPrep,
// avoiding a CPU readback of the keypoint counter between extremum
// detection and orientation/descriptor dispatch. WebGPU's indirect-dispatch
// entry point is a standard part of the compute pass API; hal is assumed to
// expose it the same way every other Go WebGPU binding does.
func (p *Pipeline) dispatchIndirectOne(stage Stage, entries []gputypes.BindGroupEntry, argsBuf hal.Buffer, argsOffset uint64) error {
	device := p.ctx.Device()
	queue := p.ctx.Queue()
	compiled := p.loaded[stage]

	bg, err := device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   stage.String() + "_bg",
		Layout:  compiled.BGLayout,
		Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("gpupipe: %s: create bind group: %w", stage, err)
	}
	defer device.DestroyBindGroup(bg)

	encoder, err := device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: stage.String()})
	if err != nil {
		return fmt.Errorf("gpupipe: %s: create encoder: %w", stage, err)
	}
	if err := encoder.BeginEncoding(stage.String()); err != nil {
		return fmt.Errorf("gpupipe: %s: begin encoding: %w", stage, err)
	}

	pass := encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: stage.String()})
	pass.SetPipeline(compiled.Pipeline)
	pass.SetBindGroup(0, bg, nil)
	pass.DispatchIndirect(argsBuf, argsOffset)
	pass.End()

	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("gpupipe: %s: end encoding: %w", stage, err)
	}

	fence, err := device.CreateFence()
	if err != nil {
		return fmt.Errorf("gpupipe: %s: create fence: %w", stage, err)
	}
	defer device.DestroyFence(fence)

	if err := queue.Submit([]hal.CommandBuffer{cmdBuf}, fence, 1); err != nil {
		return fmt.Errorf("gpupipe: %s: submit: %w", stage, err)
	}
	ok, err := device.Wait(fence, 1, uint64(fenceTimeout.Nanoseconds()))
	if err != nil {
		return fmt.Errorf("gpupipe: %s: wait: %w", stage, err)
	}
	if !ok {
		return fmt.Errorf("%w: gpupipe: %s: timed out waiting for GPU", gpuctx.ErrDeviceLost, stage)
	}
	return nil
}

func ceilDiv(a, b uint32) uint32 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

func bufBinding(binding uint32, buf hal.Buffer) gputypes.BindGroupEntry {
	return gputypes.BindGroupEntry{
		Binding: binding,
		Resource: gputypes.BufferBinding{
			Buffer: buf.NativeHandle(),
			Offset: 0,
			Size:   0,
		},
	}
}

// bufView describes a sub-range of a buffer: a whole concatenated per-octave
// Gaussian or DoG buffer sliced into individual scale planes so the pyramid
// does not need one small allocation per scale.
type bufView struct {
	buf    hal.Buffer
	offset uint64
	size   uint64
}

func wholeView(buf hal.Buffer, size uint64) bufView {
	return bufView{buf: buf, offset: 0, size: size}
}

// viewBinding binds a bufView at binding. A view at offset 0 is bound with
// size 0, whatever its size field holds, which BufferBinding documents as
// "entire buffer" rather than a zero-length range; a view at a nonzero
// offset is bound with its own size.
func viewBinding(binding uint32, v bufView) gputypes.BindGroupEntry {
	size := v.size
	if v.offset == 0 {
		size = 0
	}
	return gputypes.BindGroupEntry{
		Binding: binding,
		Resource: gputypes.BufferBinding{
			Buffer: v.buf.NativeHandle(),
			Offset: v.offset,
			Size:   size,
		},
	}
}
