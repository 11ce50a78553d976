package cpuref

import (
	"math"

	"github.com/gogpu/siftgpu/internal/pack"
)

// Descriptor is a 128-dimensional SIFT descriptor, flattened from a
// 4x4x8 (row, col, orientation-bin) histogram as index (ri*4+ci)*8+oi.
type Descriptor [128]float32

const descriptorSafetyBand = 2

// ComputeDescriptors extracts the 4x4x8 trilinear-interpolated descriptor
// for every keypoint, per §4.6. When quantize is true the returned
// descriptor holds round(min(255, d*512)) values still stored as float32
// (the packed four-per-u32 byte layout is a wire/GPU-buffer detail, not an
// in-memory representation).
func ComputeDescriptors(p *Pyramid, cfg Config, kps []Keypoint, quantize bool) []Descriptor {
	S := cfg.ScalesPerOctave
	out := make([]Descriptor, len(kps))

	for i, kp := range kps {
		oct := &p.Octaves[kp.Octave]
		g := oct.Gaussian[kp.Scale]

		scale2o := math.Pow(2, float64(kp.Octave))
		kx := kp.X / scale2o
		ky := kp.Y / scale2o

		theta := kp.Orientation
		cosT, sinT := math.Cos(theta), math.Sin(theta)
		sigmaLocal := sigmaAt(cfg.SigmaBase, kp.Scale, S)
		step := 0.75 * sigmaLocal

		var hist [4][4][8]float64

		for rr := -8; rr < 8; rr++ {
			for cc := -8; cc < 8; cc++ {
				sx := kx + step*(float64(cc)*cosT-float64(rr)*sinT)
				sy := ky + step*(float64(cc)*sinT+float64(rr)*cosT)

				if !withinSafetyBand(g, sx, sy) {
					continue
				}

				gx := bilinear(g, sx+1, sy) - bilinear(g, sx-1, sy)
				gy := bilinear(g, sx, sy+1) - bilinear(g, sx, sy-1)
				m := math.Sqrt(gx*gx + gy*gy)
				m *= math.Exp(-float64(rr*rr+cc*cc) / 128)

				ori := math.Atan2(gy, gx) - theta
				ori = math.Mod(ori, 2*math.Pi)
				if ori < 0 {
					ori += 2 * math.Pi
				}
				obin := ori * 8 / (2 * math.Pi)

				rbin := (float64(rr)+8)/4 - 0.5
				cbin := (float64(cc)+8)/4 - 0.5

				accumulateTrilinear(&hist, rbin, cbin, obin, m)
			}
		}

		flat := flatten(&hist)
		normalizeClampNormalize(flat)

		var d Descriptor
		if quantize {
			for k, v := range flat {
				q := math.Round(math.Min(255, float64(v)*512))
				d[k] = float32(q)
			}
		} else {
			copy(d[:], flat)
		}
		out[i] = d
	}
	return out
}

// withinSafetyBand rejects sample points whose bilinear support falls
// within a 2-pixel band of the octave-local image edge.
func withinSafetyBand(g *pack.Grid, sx, sy float64) bool {
	if sx < descriptorSafetyBand || sx > float64(g.W-1-descriptorSafetyBand) {
		return false
	}
	if sy < descriptorSafetyBand || sy > float64(g.H-1-descriptorSafetyBand) {
		return false
	}
	return true
}

// bilinear samples g at fractional coordinates (x, y).
func bilinear(g *pack.Grid, x, y float64) float64 {
	x0 := math.Floor(x)
	y0 := math.Floor(y)
	fx := x - x0
	fy := y - y0
	ix, iy := int(x0), int(y0)

	v00 := float64(g.At(ix, iy))
	v10 := float64(g.At(ix+1, iy))
	v01 := float64(g.At(ix, iy+1))
	v11 := float64(g.At(ix+1, iy+1))

	top := v00*(1-fx) + v10*fx
	bot := v01*(1-fx) + v11*fx
	return top*(1-fy) + bot*fy
}

// accumulateTrilinear adds a Gaussian-weighted gradient sample into the
// 4x4x8 histogram using the eight-corner trilinear interpolation of §4.6
// step 5.
func accumulateTrilinear(hist *[4][4][8]float64, rbin, cbin, obin, weight float64) {
	r0 := math.Floor(rbin)
	c0 := math.Floor(cbin)
	o0 := math.Floor(obin)
	fr := rbin - r0
	fc := cbin - c0
	fo := obin - o0

	for dr := 0; dr <= 1; dr++ {
		ri := int(r0) + dr
		if ri < 0 || ri >= 4 {
			continue
		}
		wr := fr
		if dr == 0 {
			wr = 1 - fr
		}
		for dc := 0; dc <= 1; dc++ {
			ci := int(c0) + dc
			if ci < 0 || ci >= 4 {
				continue
			}
			wc := fc
			if dc == 0 {
				wc = 1 - fc
			}
			for do := 0; do <= 1; do++ {
				oi := (int(o0) + do) % 8
				if oi < 0 {
					oi += 8
				}
				wo := fo
				if do == 0 {
					wo = 1 - fo
				}
				hist[ri][ci][oi] += weight * wr * wc * wo
			}
		}
	}
}

func flatten(hist *[4][4][8]float64) []float32 {
	flat := make([]float32, 128)
	for ri := 0; ri < 4; ri++ {
		for ci := 0; ci < 4; ci++ {
			for oi := 0; oi < 8; oi++ {
				flat[(ri*4+ci)*8+oi] = float32(hist[ri][ci][oi])
			}
		}
	}
	return flat
}

// normalizeClampNormalize implements the two-stage L2 normalization of
// §4.6 step 6: normalize to unit L2, clamp each element to 0.2, renormalize
// to unit L2.
func normalizeClampNormalize(d []float32) {
	l2Normalize(d)
	for i := range d {
		if d[i] > 0.2 {
			d[i] = 0.2
		}
	}
	l2Normalize(d)
}

func l2Normalize(d []float32) {
	var sum float64
	for _, v := range d {
		sum += float64(v) * float64(v)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return
	}
	inv := float32(1 / norm)
	for i := range d {
		d[i] *= inv
	}
}
