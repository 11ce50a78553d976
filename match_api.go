package siftgpu

import (
	"fmt"

	"github.com/gogpu/siftgpu/internal/gpupipe"
	"github.com/gogpu/siftgpu/match"
)

// Match runs the plain brute-force matcher (§4.7) against two descriptor
// sets, delegating to the match package's pure-Go implementation. Usable
// standalone, without a Detector.
func Match(query, train []Descriptor, ratio float64) []match.Result {
	return match.Match(toMatchDescriptors(query), toMatchDescriptors(train), ratio)
}

// MatchQuantized is Match's packed-byte-descriptor counterpart.
func MatchQuantized(query, train []QuantizedDescriptor, ratio float64) []match.Result {
	return match.MatchQuantized(toMatchQuantized(query), toMatchQuantized(train), ratio)
}

// MatchGuided is Match's epipolar-guided variant: kpQuery and kpTrain must
// be parallel to query and train respectively.
func MatchGuided(query []Descriptor, kpQuery []match.Point2D, train []Descriptor, kpTrain []match.Point2D, f match.FundamentalMatrix, epipolarThreshold, ratio float64) []match.Result {
	return match.MatchGuided(toMatchDescriptors(query), kpQuery, toMatchDescriptors(train), kpTrain, f, epipolarThreshold, ratio)
}

func toMatchDescriptors(ds []Descriptor) []match.Descriptor {
	out := make([]match.Descriptor, len(ds))
	for i, d := range ds {
		out[i] = match.Descriptor(d)
	}
	return out
}

func toMatchQuantized(ds []QuantizedDescriptor) []match.QuantizedDescriptor {
	out := make([]match.QuantizedDescriptor, len(ds))
	for i, d := range ds {
		out[i] = match.QuantizedDescriptor(d)
	}
	return out
}

func fromGPUResults(recs []gpupipe.MatchResult) []match.Result {
	out := make([]match.Result, len(recs))
	for i, r := range recs {
		out[i] = match.Result{QueryIdx: r.QueryIdx, TrainIdx: r.TrainIdx, Distance: r.Distance}
	}
	return out
}

// MatchPlain runs the plain matcher on the GPU, for a GPU-backed Detector.
// CPU-backed detectors fall back to the match package directly.
func (d *Detector) MatchPlain(query, train []Descriptor, ratio float64) ([]match.Result, error) {
	if d.cpu != nil {
		return match.Match(toMatchDescriptors(query), toMatchDescriptors(train), ratio), nil
	}
	out, err := d.gpu.MatchPlain(flattenDescriptors(query), flattenDescriptors(train), len(query), len(train), ratio)
	if err != nil {
		return nil, fmt.Errorf("siftgpu: match plain: %w", err)
	}
	return fromGPUResults(out), nil
}

// MatchQuantized runs the quantized-descriptor matcher on the GPU.
func (d *Detector) MatchQuantized(query, train []QuantizedDescriptor, ratio float64) ([]match.Result, error) {
	if d.cpu != nil {
		return match.MatchQuantized(toMatchQuantized(query), toMatchQuantized(train), ratio), nil
	}
	out, err := d.gpu.MatchQuantized(packQuantized(query), packQuantized(train), len(query), len(train), ratio)
	if err != nil {
		return nil, fmt.Errorf("siftgpu: match quantized: %w", err)
	}
	return fromGPUResults(out), nil
}

// MatchGuided runs the epipolar-guided matcher on the GPU.
func (d *Detector) MatchGuided(query []Descriptor, kpQuery []match.Point2D, train []Descriptor, kpTrain []match.Point2D, f match.FundamentalMatrix, epipolarThreshold, ratio float64) ([]match.Result, error) {
	if d.cpu != nil {
		return match.MatchGuided(toMatchDescriptors(query), kpQuery, toMatchDescriptors(train), kpTrain, f, epipolarThreshold, ratio), nil
	}
	out, err := d.gpu.MatchGuided(
		flattenDescriptors(query), flattenDescriptors(train),
		flattenPoints(kpQuery), flattenPoints(kpTrain),
		len(query), len(train), [9]float64(f), epipolarThreshold, ratio,
	)
	if err != nil {
		return nil, fmt.Errorf("siftgpu: match guided: %w", err)
	}
	return fromGPUResults(out), nil
}

func flattenDescriptors(ds []Descriptor) []float32 {
	out := make([]float32, len(ds)*128)
	for i, d := range ds {
		copy(out[i*128:], d[:])
	}
	return out
}

func flattenPoints(pts []match.Point2D) []float32 {
	out := make([]float32, len(pts)*2)
	for i, p := range pts {
		out[2*i] = float32(p.X)
		out[2*i+1] = float32(p.Y)
	}
	return out
}

func packQuantized(ds []QuantizedDescriptor) []uint32 {
	out := make([]uint32, len(ds)*32)
	for i, d := range ds {
		for w := 0; w < 32; w++ {
			var word uint32
			for c := 0; c < 4; c++ {
				word |= uint32(d[w*4+c]) << (uint(c) * 8)
			}
			out[i*32+w] = word
		}
	}
	return out
}
