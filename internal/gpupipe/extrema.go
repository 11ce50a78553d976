package gpupipe

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// keypointRecordSize is the byte size of one KeypointRecord: x, y, octave,
// scale, sigma, orientation, pad0, pad1, all 4-byte fields, matching the
// WGSL KeypointRecord struct shared by extremum_detect.wgsl,
// orientation_assign.wgsl, and the descriptor_extract_*.wgsl shaders.
const keypointRecordSize = 32

// dispatchArgsSize is the byte size of one DispatchArgs record (x, y, z,
// pad, all u32), matching indirect_dispatch_prep.wgsl's DispatchArgs.
const dispatchArgsSize = 16

// KeypointRecord is the GPU-side keypoint layout, decoded from a
// keypoints buffer readback into host-side siftgpu.Keypoint values.
type KeypointRecord struct {
	X, Y        float32
	Octave      uint32
	Scale       uint32
	Sigma       float32
	Orientation float32
}

func decodeKeypointRecords(data []byte, count int) []KeypointRecord {
	out := make([]KeypointRecord, count)
	for i := 0; i < count; i++ {
		base := i * keypointRecordSize
		out[i] = KeypointRecord{
			X:           math.Float32frombits(binary.LittleEndian.Uint32(data[base:])),
			Y:           math.Float32frombits(binary.LittleEndian.Uint32(data[base+4:])),
			Octave:      binary.LittleEndian.Uint32(data[base+8:]),
			Scale:       binary.LittleEndian.Uint32(data[base+12:]),
			Sigma:       math.Float32frombits(binary.LittleEndian.Uint32(data[base+16:])),
			Orientation: math.Float32frombits(binary.LittleEndian.Uint32(data[base+20:])),
		}
	}
	return out
}

// DetectExtrema scans every middle DoG scale of every octave in pyr for
// contrast-and-edge-passing 3x3x3 extrema, per §4.3, appending survivors to
// one shared keypoint buffer via an atomic counter that is never reset
// between octave/scale dispatches. Returns the counter buffer (one u32),
// the keypoints buffer (cfg.MaxKeypoints records), and the number of
// candidates the GPU actually wrote (capped at MaxKeypoints).
func (p *Pipeline) DetectExtrema(pyr *PyramidHandle) (counterBuf, keypointsBuf hal.Buffer, count int, err error) {
	cfg := pyr.Cfg
	S := cfg.ScalesPerOctave
	threshold := cfg.ContrastThreshold / float64(S)

	counterBuf, err = p.allocateZeroBuffer("keypoint_counter", 4,
		gputypes.BufferUsageStorage|gputypes.BufferUsageCopyDst|gputypes.BufferUsageCopySrc)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("gpupipe: allocate counter: %w", err)
	}
	keypointsBuf, err = p.allocateZeroBuffer("keypoints", uint64(cfg.MaxKeypoints)*keypointRecordSize,
		gputypes.BufferUsageStorage|gputypes.BufferUsageCopyDst|gputypes.BufferUsageCopySrc)
	if err != nil {
		p.ctx.DestroyBuffer(counterBuf)
		return nil, nil, 0, fmt.Errorf("gpupipe: allocate keypoints: %w", err)
	}

	for o := range pyr.Octaves {
		oct := &pyr.Octaves[o]
		if oct.Width < 3 || oct.Height < 3 {
			continue
		}
		for s := 1; s <= S; s++ {
			cfgBuf, uerr := p.uploadUniform("extremum_cfg", newUniform().
				u32(uint32(oct.Width)).u32(uint32(oct.Height)).u32(uint32(oct.PWidth)).
				u32(uint32(o)).u32(uint32(s)).
				f32(float32(cfg.SigmaBase)).f32(float32(threshold)).f32(float32(cfg.EdgeThreshold)).
				u32(uint32(cfg.MaxKeypoints)).u32(uint32(S)).
				bytes())
			if uerr != nil {
				p.ctx.DestroyBuffer(counterBuf)
				p.ctx.DestroyBuffer(keypointsBuf)
				return nil, nil, 0, fmt.Errorf("gpupipe: extremum config: %w", uerr)
			}

			entries := []gputypes.BindGroupEntry{
				bufBinding(0, cfgBuf),
				viewBinding(1, oct.dogView(s-1)),
				viewBinding(2, oct.dogView(s)),
				viewBinding(3, oct.dogView(s+1)),
				bufBinding(4, counterBuf),
				bufBinding(5, keypointsBuf),
			}
			elemX := uint32(oct.Width - 2)
			elemY := uint32(oct.Height - 2)
			derr := p.dispatchOne(StageExtremumDetect, entries, elemX, elemY)
			p.ctx.DestroyBuffer(cfgBuf)
			if derr != nil {
				p.ctx.DestroyBuffer(counterBuf)
				p.ctx.DestroyBuffer(keypointsBuf)
				return nil, nil, 0, fmt.Errorf("gpupipe: octave %d scale %d extremum detect: %w", o, s, derr)
			}
		}
	}

	raw, rerr := p.ctx.ReadBuffer(counterBuf, 0, 4)
	if rerr != nil {
		p.ctx.DestroyBuffer(counterBuf)
		p.ctx.DestroyBuffer(keypointsBuf)
		return nil, nil, 0, fmt.Errorf("gpupipe: read keypoint counter: %w", rerr)
	}
	total := int(binary.LittleEndian.Uint32(raw))
	count = total
	if count > cfg.MaxKeypoints {
		count = cfg.MaxKeypoints
	}
	return counterBuf, keypointsBuf, count, nil
}

// PrepareIndirectDispatch runs the indirect-dispatch preparer (C6a): it
// turns the keypoint counter into the workgroup counts for orientation
// assignment and descriptor extraction on the GPU, reading the counter
// buffer directly. The host-side count that DetectExtrema reads back is
// not used to size these dispatches.
func (p *Pipeline) PrepareIndirectDispatch(counterBuf hal.Buffer, maxKeypoints int) (orientArgs, descArgs hal.Buffer, err error) {
	cfgBuf, err := p.uploadUniform("prep_cfg", newUniform().u32(uint32(maxKeypoints)).bytes())
	if err != nil {
		return nil, nil, fmt.Errorf("gpupipe: prep config: %w", err)
	}
	defer p.ctx.DestroyBuffer(cfgBuf)

	orientArgs, err = p.allocateZeroBuffer("orientation_args", dispatchArgsSize,
		gputypes.BufferUsageStorage|gputypes.BufferUsageIndirect|gputypes.BufferUsageCopyDst)
	if err != nil {
		return nil, nil, fmt.Errorf("gpupipe: allocate orientation args: %w", err)
	}
	descArgs, err = p.allocateZeroBuffer("descriptor_args", dispatchArgsSize,
		gputypes.BufferUsageStorage|gputypes.BufferUsageIndirect|gputypes.BufferUsageCopyDst)
	if err != nil {
		p.ctx.DestroyBuffer(orientArgs)
		return nil, nil, fmt.Errorf("gpupipe: allocate descriptor args: %w", err)
	}

	entries := []gputypes.BindGroupEntry{
		bufBinding(0, cfgBuf), bufBinding(1, counterBuf), bufBinding(2, orientArgs), bufBinding(3, descArgs),
	}
	if err := p.dispatchOne(StageIndirectDispatchPrep, entries, 1, 1); err != nil {
		p.ctx.DestroyBuffer(orientArgs)
		p.ctx.DestroyBuffer(descArgs)
		return nil, nil, fmt.Errorf("gpupipe: indirect dispatch prep: %w", err)
	}
	return orientArgs, descArgs, nil
}
