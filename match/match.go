// Package match implements the brute-force L2 descriptor matcher (C7):
// plain, quantized, and epipolar-guided variants, usable standalone
// against two descriptor arrays without a Detector. The shape mirrors a
// flat brute-force distance scan (as opposed to an index structure like an
// HNSW graph) because the matcher here has no persisted index to build or
// maintain — every call streams the full candidate set.
package match

import "math"

// Descriptor is a 128-dimensional float32 SIFT descriptor.
type Descriptor [128]float32

// QuantizedDescriptor is a 128-dimensional descriptor with components
// quantized to [0,255] (§4.6 step 6, §6).
type QuantizedDescriptor [128]byte

// Result is one accepted correspondence: query index i in A, train index j
// in B, and their squared L2 distance.
type Result struct {
	QueryIdx int
	TrainIdx int
	Distance float64 // squared L2 distance
}

// DefaultRatio is Lowe's ratio threshold used when a caller passes 0.
const DefaultRatio = 0.75

func effectiveRatio(ratio float64) float64 {
	if ratio <= 0 {
		return DefaultRatio
	}
	return ratio
}

// Match runs the plain float-descriptor matcher: for each descriptor in a,
// find the best and second-best squared L2 distance among b, and accept
// iff best < ratio^2 * second (§4.7).
func Match(a, b []Descriptor, ratio float64) []Result {
	ratio = effectiveRatio(ratio)
	rho2 := ratio * ratio

	var results []Result
	for i := range a {
		bestIdx, best, second := bestTwo(a[i], b)
		if bestIdx >= 0 && best < rho2*second {
			results = append(results, Result{QueryIdx: i, TrainIdx: bestIdx, Distance: best})
		}
	}
	return results
}

func bestTwo(q Descriptor, candidates []Descriptor) (bestIdx int, best, second float64) {
	bestIdx = -1
	best = math.Inf(1)
	second = math.Inf(1)
	for j := range candidates {
		d := squaredL2(q, candidates[j])
		if d < best {
			second = best
			best = d
			bestIdx = j
		} else if d < second {
			second = d
		}
	}
	return
}

func squaredL2(a, b Descriptor) float64 {
	var sum float64
	for k := range a {
		d := float64(a[k]) - float64(b[k])
		sum += d * d
	}
	return sum
}
