package match

import "math"

// Point2D is a keypoint's pixel coordinate, used by the epipolar-guided
// matcher to test candidates against the epipolar line.
type Point2D struct {
	X, Y float64
}

// FundamentalMatrix is a 3x3 matrix in column-major order, matching the
// uniform-buffer layout used by the GPU guided-matcher shader.
type FundamentalMatrix [9]float64

// apply computes F * (x, y, 1) as a 3-vector (a, b, c) describing the
// epipolar line a*x' + b*y' + c = 0 in the other image.
func (f FundamentalMatrix) apply(p Point2D) (a, b, c float64) {
	// Column-major: column j occupies f[3*j : 3*j+3].
	a = f[0]*p.X + f[3]*p.Y + f[6]
	b = f[1]*p.X + f[4]*p.Y + f[7]
	c = f[2]*p.X + f[5]*p.Y + f[8]
	return
}

// MatchGuided restricts candidates to those within epipolarThreshold of the
// epipolar line implied by F before running the best/second-best search,
// per §4.7's guided variant. kpA and kpB must be parallel to descA and
// descB respectively. An empty surviving candidate set yields no match for
// that query (best_idx = -1, so it is simply omitted from the result).
func MatchGuided(descA []Descriptor, kpA []Point2D, descB []Descriptor, kpB []Point2D, f FundamentalMatrix, epipolarThreshold, ratio float64) []Result {
	ratio = effectiveRatio(ratio)
	rho2 := ratio * ratio

	var results []Result
	for i := range descA {
		a, b, c := f.apply(kpA[i])
		norm := math.Hypot(a, b)

		bestIdx := -1
		best := math.Inf(1)
		second := math.Inf(1)

		for j := range descB {
			if norm > 0 {
				dist := math.Abs(a*kpB[j].X+b*kpB[j].Y+c) / norm
				if dist > epipolarThreshold {
					continue
				}
			}
			d := squaredL2(descA[i], descB[j])
			if d < best {
				second = best
				best = d
				bestIdx = j
			} else if d < second {
				second = d
			}
		}

		if bestIdx >= 0 && best < rho2*second {
			results = append(results, Result{QueryIdx: i, TrainIdx: bestIdx, Distance: best})
		}
	}
	return results
}
