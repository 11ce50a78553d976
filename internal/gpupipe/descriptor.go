package gpupipe

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// descriptorFloatSize and descriptorQuantSize are the byte sizes of one
// Descriptor and one QuantDescriptor record, matching
// descriptor_extract_float.wgsl and descriptor_extract_quantized.wgsl.
const (
	descriptorFloatSize = 128 * 4
	descriptorQuantSize = 32 * 4
)

// ComputeDescriptors extracts the 4x4x8 trilinear-interpolated descriptor
// for every keypoint in keypointsBuf, per §4.6, dispatching once per octave
// over the indirect args prepared by PrepareIndirectDispatch. quantized
// selects the packed-byte variant (§6) over the float32 variant. Like
// AssignOrientations, a keypoint whose octave does not match the current
// pass is a no-op in the shader, since only one octave's Gaussian scales
// are bound per dispatch.
func (p *Pipeline) ComputeDescriptors(pyr *PyramidHandle, keypointsBuf, descArgs hal.Buffer, count int, quantized bool) (hal.Buffer, error) {
	cfg := pyr.Cfg
	S := cfg.ScalesPerOctave

	stage := StageDescriptorFloat
	recordSize := uint64(descriptorFloatSize)
	if quantized {
		stage = StageDescriptorQuantized
		recordSize = descriptorQuantSize
	}

	descBuf, err := p.allocateZeroBuffer("descriptors", uint64(count)*recordSize,
		gputypes.BufferUsageStorage|gputypes.BufferUsageCopyDst|gputypes.BufferUsageCopySrc)
	if err != nil {
		return nil, fmt.Errorf("gpupipe: allocate descriptors: %w", err)
	}

	for o := range pyr.Octaves {
		oct := &pyr.Octaves[o]

		var scaleOffset [8]uint32
		for s := 0; s < S+3 && s < 8; s++ {
			scaleOffset[s] = oct.scaleOffsetTexels(s)
		}

		b := newUniform().
			u32(uint32(o)).u32(uint32(S)).f32(float32(cfg.SigmaBase)).
			u32(uint32(oct.Width)).u32(uint32(oct.Height)).u32(uint32(oct.PWidth)).
			pad(2)
		for _, v := range scaleOffset {
			b.u32(v)
		}
		cfgBuf, uerr := p.uploadUniform("descriptor_cfg", b.bytes())
		if uerr != nil {
			p.ctx.DestroyBuffer(descBuf)
			return nil, fmt.Errorf("gpupipe: descriptor config: %w", uerr)
		}

		entries := []gputypes.BindGroupEntry{
			bufBinding(0, cfgBuf),
			bufBinding(1, keypointsBuf),
			viewBinding(2, wholeView(oct.GaussianBuf, oct.planeSize()*uint64(S+3))),
			bufBinding(3, descBuf),
		}
		derr := p.dispatchIndirectOne(stage, entries, descArgs, 0)
		p.ctx.DestroyBuffer(cfgBuf)
		if derr != nil {
			p.ctx.DestroyBuffer(descBuf)
			return nil, fmt.Errorf("gpupipe: octave %d descriptor extract: %w", o, derr)
		}
	}

	return descBuf, nil
}
