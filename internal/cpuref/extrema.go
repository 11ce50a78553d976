package cpuref

import (
	"math"

	"github.com/gogpu/siftgpu/internal/logging"
	"github.com/gogpu/siftgpu/internal/pack"
)

// Keypoint mirrors siftgpu.Keypoint, decoupled to avoid an import cycle.
type Keypoint struct {
	X, Y        float64
	Octave      int
	Scale       int
	Sigma       float64
	Orientation float64
}

// DetectExtrema scans every middle DoG scale of every octave for
// contrast-and-edge-passing 3x3x3 extrema, per §4.3. Coordinates are
// rescaled to original-image space (multiplied by 2^o); sigma is
// sigma(s)*2^o. Returns the keypoints found and whether max_keypoints was
// reached (truncation).
func DetectExtrema(p *Pyramid, cfg Config) (kps []Keypoint, truncated bool) {
	S := cfg.ScalesPerOctave
	threshold := cfg.ContrastThreshold / float64(S)

	for o := range p.Octaves {
		oct := &p.Octaves[o]
		for s := 1; s <= S; s++ {
			cur := oct.DoG[s]
			below := oct.DoG[s-1]
			above := oct.DoG[s+1]

			for y := 1; y < oct.Height-1; y++ {
				for x := 1; x < oct.Width-1; x++ {
					val := cur.At(x, y)
					if math.Abs(float64(val)) < threshold {
						continue
					}
					if !isExtremum(cur, below, above, x, y, val) {
						continue
					}
					if !passesEdgeTest(cur, x, y, cfg.EdgeThreshold) {
						continue
					}

					scale2o := math.Pow(2, float64(o))
					kps = append(kps, Keypoint{
						X:      float64(x) * scale2o,
						Y:      float64(y) * scale2o,
						Octave: o,
						Scale:  s,
						Sigma:  sigmaAt(cfg.SigmaBase, s, S) * scale2o,
					})

					if len(kps) >= cfg.MaxKeypoints {
						logging.Get().Warn("cpuref: keypoint capacity reached", "max_keypoints", cfg.MaxKeypoints)
						return kps, true
					}
				}
			}
		}
	}
	return kps, false
}

// isExtremum reports whether val is a strict maximum or strict minimum
// across all 26 neighbors spanning the 3x3x3 window at (x,y) over
// {below, cur, above}.
func isExtremum(cur, below, above *pack.Grid, x, y int, val float32) bool {
	isMax, isMin := true, true
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			for _, plane := range [3]*pack.Grid{below, cur, above} {
				if plane == cur && dx == 0 && dy == 0 {
					continue
				}
				n := plane.At(x+dx, y+dy)
				if n >= val {
					isMax = false
				}
				if n <= val {
					isMin = false
				}
				if !isMax && !isMin {
					return false
				}
			}
		}
	}
	return isMax || isMin
}

// passesEdgeTest applies the principal-curvature ratio test from 2-D
// finite differences of the DoG plane at (x,y).
func passesEdgeTest(d *pack.Grid, x, y int, r float64) bool {
	dxx := float64(d.At(x+1, y) + d.At(x-1, y) - 2*d.At(x, y))
	dyy := float64(d.At(x, y+1) + d.At(x, y-1) - 2*d.At(x, y))
	dxy := float64(d.At(x+1, y+1)-d.At(x+1, y-1)-d.At(x-1, y+1)+d.At(x-1, y-1)) / 4

	tr := dxx + dyy
	det := dxx*dyy - dxy*dxy
	if det <= 0 {
		return false
	}
	return tr*tr*r < (r+1)*(r+1)*det
}
