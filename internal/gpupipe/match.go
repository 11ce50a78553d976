package gpupipe

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// matchResultSize is the byte size of one MatchResult record (query_idx,
// train_idx, distance, pad, all 4 bytes), matching the MatchResult struct
// shared by matcher_plain.wgsl, matcher_quantized.wgsl, and
// matcher_guided.wgsl.
const matchResultSize = 16

// defaultRatio mirrors match.DefaultRatio, duplicated here to keep
// internal/gpupipe decoupled from the match package the way this package
// duplicates internal/cpuref's sigma math rather than importing it.
const defaultRatio = 0.75

func effectiveRatio(ratio float64) float64 {
	if ratio <= 0 {
		return defaultRatio
	}
	return ratio
}

// MatchResult is one accepted correspondence, decoupled from match.Result.
type MatchResult struct {
	QueryIdx int
	TrainIdx int
	Distance float64
}

func decodeMatchResults(data []byte, count int) []MatchResult {
	var out []MatchResult
	for i := 0; i < count; i++ {
		base := i * matchResultSize
		trainIdx := int32(binary.LittleEndian.Uint32(data[base+4:]))
		if trainIdx < 0 {
			continue
		}
		queryIdx := int32(binary.LittleEndian.Uint32(data[base:]))
		dist := math.Float32frombits(binary.LittleEndian.Uint32(data[base+8:]))
		out = append(out, MatchResult{QueryIdx: int(queryIdx), TrainIdx: int(trainIdx), Distance: float64(dist)})
	}
	return out
}

// MatchPlain runs the plain float-descriptor matcher (C7): query and train
// hold queryCount*128 and trainCount*128 flattened float32 components.
func (p *Pipeline) MatchPlain(query, train []float32, queryCount, trainCount int, ratio float64) ([]MatchResult, error) {
	ratio = effectiveRatio(ratio)

	queryBuf, err := p.uploadFloats("match_query", query, gputypes.BufferUsageStorage|gputypes.BufferUsageCopyDst)
	if err != nil {
		return nil, fmt.Errorf("gpupipe: upload query descriptors: %w", err)
	}
	defer p.ctx.DestroyBuffer(queryBuf)
	trainBuf, err := p.uploadFloats("match_train", train, gputypes.BufferUsageStorage|gputypes.BufferUsageCopyDst)
	if err != nil {
		return nil, fmt.Errorf("gpupipe: upload train descriptors: %w", err)
	}
	defer p.ctx.DestroyBuffer(trainBuf)

	cfgBuf, err := p.uploadUniform("match_cfg", newUniform().
		u32(uint32(queryCount)).u32(uint32(trainCount)).f32(float32(ratio*ratio)).pad(1).bytes())
	if err != nil {
		return nil, fmt.Errorf("gpupipe: match config: %w", err)
	}
	defer p.ctx.DestroyBuffer(cfgBuf)

	resultsBuf, err := p.allocateZeroBuffer("match_results", uint64(queryCount)*matchResultSize,
		gputypes.BufferUsageStorage|gputypes.BufferUsageCopyDst|gputypes.BufferUsageCopySrc)
	if err != nil {
		return nil, fmt.Errorf("gpupipe: allocate match results: %w", err)
	}
	defer p.ctx.DestroyBuffer(resultsBuf)

	entries := []gputypes.BindGroupEntry{bufBinding(0, cfgBuf), bufBinding(1, queryBuf), bufBinding(2, trainBuf), bufBinding(3, resultsBuf)}
	if err := p.dispatchOne(StageMatcherPlain, entries, uint32(queryCount), 1); err != nil {
		return nil, fmt.Errorf("gpupipe: matcher plain dispatch: %w", err)
	}

	raw, err := p.ctx.ReadBuffer(resultsBuf, 0, uint64(queryCount)*matchResultSize)
	if err != nil {
		return nil, fmt.Errorf("gpupipe: read match results: %w", err)
	}
	return decodeMatchResults(raw, queryCount), nil
}

// MatchQuantized runs the packed-byte-descriptor matcher: query and train
// hold queryCount*32 and trainCount*32 flattened uint32 words (four
// quantized components packed per word, matching QuantDescriptor).
func (p *Pipeline) MatchQuantized(query, train []uint32, queryCount, trainCount int, ratio float64) ([]MatchResult, error) {
	ratio = effectiveRatio(ratio)

	queryBuf, err := p.uploadUint32s("match_query_q", query)
	if err != nil {
		return nil, fmt.Errorf("gpupipe: upload quantized query descriptors: %w", err)
	}
	defer p.ctx.DestroyBuffer(queryBuf)
	trainBuf, err := p.uploadUint32s("match_train_q", train)
	if err != nil {
		return nil, fmt.Errorf("gpupipe: upload quantized train descriptors: %w", err)
	}
	defer p.ctx.DestroyBuffer(trainBuf)

	cfgBuf, err := p.uploadUniform("match_cfg_q", newUniform().
		u32(uint32(queryCount)).u32(uint32(trainCount)).f32(float32(ratio*ratio)).pad(1).bytes())
	if err != nil {
		return nil, fmt.Errorf("gpupipe: quantized match config: %w", err)
	}
	defer p.ctx.DestroyBuffer(cfgBuf)

	resultsBuf, err := p.allocateZeroBuffer("match_results_q", uint64(queryCount)*matchResultSize,
		gputypes.BufferUsageStorage|gputypes.BufferUsageCopyDst|gputypes.BufferUsageCopySrc)
	if err != nil {
		return nil, fmt.Errorf("gpupipe: allocate quantized match results: %w", err)
	}
	defer p.ctx.DestroyBuffer(resultsBuf)

	entries := []gputypes.BindGroupEntry{bufBinding(0, cfgBuf), bufBinding(1, queryBuf), bufBinding(2, trainBuf), bufBinding(3, resultsBuf)}
	if err := p.dispatchOne(StageMatcherQuantized, entries, uint32(queryCount), 1); err != nil {
		return nil, fmt.Errorf("gpupipe: matcher quantized dispatch: %w", err)
	}

	raw, err := p.ctx.ReadBuffer(resultsBuf, 0, uint64(queryCount)*matchResultSize)
	if err != nil {
		return nil, fmt.Errorf("gpupipe: read quantized match results: %w", err)
	}
	return decodeMatchResults(raw, queryCount), nil
}

// MatchGuided runs the epipolar-guided matcher: queryPts and trainPts hold
// queryCount and trainCount flattened (x, y) pairs, and fMat is the
// fundamental matrix in the column-major layout of match.FundamentalMatrix.
func (p *Pipeline) MatchGuided(query, train []float32, queryPts, trainPts []float32, queryCount, trainCount int, fMat [9]float64, epipolarThreshold, ratio float64) ([]MatchResult, error) {
	ratio = effectiveRatio(ratio)

	queryBuf, err := p.uploadFloats("match_query_g", query, gputypes.BufferUsageStorage|gputypes.BufferUsageCopyDst)
	if err != nil {
		return nil, fmt.Errorf("gpupipe: upload guided query descriptors: %w", err)
	}
	defer p.ctx.DestroyBuffer(queryBuf)
	trainBuf, err := p.uploadFloats("match_train_g", train, gputypes.BufferUsageStorage|gputypes.BufferUsageCopyDst)
	if err != nil {
		return nil, fmt.Errorf("gpupipe: upload guided train descriptors: %w", err)
	}
	defer p.ctx.DestroyBuffer(trainBuf)
	queryPtsBuf, err := p.uploadFloats("match_query_pts", queryPts, gputypes.BufferUsageStorage|gputypes.BufferUsageCopyDst)
	if err != nil {
		return nil, fmt.Errorf("gpupipe: upload query points: %w", err)
	}
	defer p.ctx.DestroyBuffer(queryPtsBuf)
	trainPtsBuf, err := p.uploadFloats("match_train_pts", trainPts, gputypes.BufferUsageStorage|gputypes.BufferUsageCopyDst)
	if err != nil {
		return nil, fmt.Errorf("gpupipe: upload train points: %w", err)
	}
	defer p.ctx.DestroyBuffer(trainPtsBuf)

	b := newUniform().u32(uint32(queryCount)).u32(uint32(trainCount)).f32(float32(ratio * ratio)).f32(float32(epipolarThreshold))
	for col := 0; col < 3; col++ {
		b.f32(float32(fMat[3*col])).f32(float32(fMat[3*col+1])).f32(float32(fMat[3*col+2])).pad(1)
	}
	cfgBuf, err := p.uploadUniform("match_cfg_guided", b.bytes())
	if err != nil {
		return nil, fmt.Errorf("gpupipe: guided match config: %w", err)
	}
	defer p.ctx.DestroyBuffer(cfgBuf)

	resultsBuf, err := p.allocateZeroBuffer("match_results_g", uint64(queryCount)*matchResultSize,
		gputypes.BufferUsageStorage|gputypes.BufferUsageCopyDst|gputypes.BufferUsageCopySrc)
	if err != nil {
		return nil, fmt.Errorf("gpupipe: allocate guided match results: %w", err)
	}
	defer p.ctx.DestroyBuffer(resultsBuf)

	entries := []gputypes.BindGroupEntry{
		bufBinding(0, cfgBuf), bufBinding(1, queryBuf), bufBinding(2, trainBuf),
		bufBinding(3, queryPtsBuf), bufBinding(4, trainPtsBuf), bufBinding(5, resultsBuf),
	}
	if err := p.dispatchOne(StageMatcherGuided, entries, uint32(queryCount), 1); err != nil {
		return nil, fmt.Errorf("gpupipe: matcher guided dispatch: %w", err)
	}

	raw, err := p.ctx.ReadBuffer(resultsBuf, 0, uint64(queryCount)*matchResultSize)
	if err != nil {
		return nil, fmt.Errorf("gpupipe: read guided match results: %w", err)
	}
	return decodeMatchResults(raw, queryCount), nil
}

// uploadUint32s uploads a packed quantized-descriptor buffer, one uint32
// word per four quantized components, matching QuantDescriptor's layout.
func (p *Pipeline) uploadUint32s(label string, data []uint32) (hal.Buffer, error) {
	raw := make([]byte, len(data)*4)
	for i, w := range data {
		binary.LittleEndian.PutUint32(raw[4*i:], w)
	}
	buf, err := p.ctx.CreateBuffer(label, uint64(len(raw)), gputypes.BufferUsageStorage|gputypes.BufferUsageCopyDst)
	if err != nil {
		return nil, err
	}
	p.ctx.WriteBuffer(buf, 0, raw)
	return buf, nil
}
