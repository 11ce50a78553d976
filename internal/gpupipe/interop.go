package gpupipe

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// ReadKeypoints reads count KeypointRecord entries back from buf, for
// callers (the root package) that need host-side keypoint values rather
// than another GPU dispatch consuming the buffer directly.
func (p *Pipeline) ReadKeypoints(buf hal.Buffer, count int) ([]KeypointRecord, error) {
	if count == 0 {
		return nil, nil
	}
	raw, err := p.ctx.ReadBuffer(buf, 0, uint64(count)*keypointRecordSize)
	if err != nil {
		return nil, fmt.Errorf("gpupipe: read keypoints: %w", err)
	}
	return decodeKeypointRecords(raw, count), nil
}

// UploadKeypoints writes records into a fresh keypoints storage buffer
// sized for exactly len(records) records, for the
// compute_descriptors entry point that receives keypoints from the caller
// instead of producing them via DetectExtrema.
func (p *Pipeline) UploadKeypoints(records []KeypointRecord) (hal.Buffer, error) {
	raw := make([]byte, len(records)*keypointRecordSize)
	for i, r := range records {
		base := i * keypointRecordSize
		binary.LittleEndian.PutUint32(raw[base:], math.Float32bits(r.X))
		binary.LittleEndian.PutUint32(raw[base+4:], math.Float32bits(r.Y))
		binary.LittleEndian.PutUint32(raw[base+8:], r.Octave)
		binary.LittleEndian.PutUint32(raw[base+12:], r.Scale)
		binary.LittleEndian.PutUint32(raw[base+16:], math.Float32bits(r.Sigma))
		binary.LittleEndian.PutUint32(raw[base+20:], math.Float32bits(r.Orientation))
	}
	buf, err := p.ctx.CreateBuffer("keypoints_in", uint64(len(raw)),
		gputypes.BufferUsageStorage|gputypes.BufferUsageCopyDst|gputypes.BufferUsageCopySrc)
	if err != nil {
		return nil, fmt.Errorf("gpupipe: allocate uploaded keypoints: %w", err)
	}
	p.ctx.WriteBuffer(buf, 0, raw)
	return buf, nil
}

// DirectDispatchArgs builds a one-record DispatchArgs buffer for a stage
// whose element count is already known on the host (unlike DetectExtrema's
// atomic counter), so compute_descriptors against caller-supplied keypoints
// does not need the indirect-dispatch-prep shader at all: workgroupSize
// must match the consuming stage's @workgroup_size.x (64 for the
// descriptor stages).
func (p *Pipeline) DirectDispatchArgs(count int, workgroupSize uint32) (hal.Buffer, error) {
	x := ceilDiv(uint32(count), workgroupSize)
	raw := make([]byte, dispatchArgsSize)
	binary.LittleEndian.PutUint32(raw[0:], x)
	binary.LittleEndian.PutUint32(raw[4:], 1)
	binary.LittleEndian.PutUint32(raw[8:], 1)
	binary.LittleEndian.PutUint32(raw[12:], uint32(count))
	buf, err := p.ctx.CreateBuffer("direct_dispatch_args", dispatchArgsSize,
		gputypes.BufferUsageStorage|gputypes.BufferUsageIndirect|gputypes.BufferUsageCopyDst)
	if err != nil {
		return nil, fmt.Errorf("gpupipe: allocate direct dispatch args: %w", err)
	}
	p.ctx.WriteBuffer(buf, 0, raw)
	return buf, nil
}

// ReadDescriptorsFloat decodes count 128-float32 descriptor records from
// buf, matching descriptor_extract_float.wgsl's Descriptor layout.
func (p *Pipeline) ReadDescriptorsFloat(buf hal.Buffer, count int) ([][128]float32, error) {
	if count == 0 {
		return nil, nil
	}
	raw, err := p.ctx.ReadBuffer(buf, 0, uint64(count)*descriptorFloatSize)
	if err != nil {
		return nil, fmt.Errorf("gpupipe: read float descriptors: %w", err)
	}
	out := make([][128]float32, count)
	for i := 0; i < count; i++ {
		base := i * descriptorFloatSize
		for k := 0; k < 128; k++ {
			out[i][k] = math.Float32frombits(binary.LittleEndian.Uint32(raw[base+k*4:]))
		}
	}
	return out, nil
}

// ReadDescriptorsQuantized decodes count packed quantized-descriptor
// records from buf, unpacking each of the 32 u32 words into four
// byte-per-component values still stored as float32 in [0,255], matching
// the cpuref quantize convention (the packed four-per-u32 layout is a
// wire/GPU-buffer detail, not an in-memory representation).
func (p *Pipeline) ReadDescriptorsQuantized(buf hal.Buffer, count int) ([][128]float32, error) {
	if count == 0 {
		return nil, nil
	}
	raw, err := p.ctx.ReadBuffer(buf, 0, uint64(count)*descriptorQuantSize)
	if err != nil {
		return nil, fmt.Errorf("gpupipe: read quantized descriptors: %w", err)
	}
	out := make([][128]float32, count)
	for i := 0; i < count; i++ {
		base := i * descriptorQuantSize
		for w := 0; w < 32; w++ {
			word := binary.LittleEndian.Uint32(raw[base+w*4:])
			for c := 0; c < 4; c++ {
				out[i][w*4+c] = float32((word >> (uint(c) * 8)) & 0xFF)
			}
		}
	}
	return out, nil
}
