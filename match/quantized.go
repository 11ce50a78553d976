package match

import "math"

// MatchQuantized matches packed-byte descriptors, computing squared
// differences directly on the [0,255] scale (order-preserving relative to
// the float variant); threshold semantics are unchanged from Match.
func MatchQuantized(a, b []QuantizedDescriptor, ratio float64) []Result {
	ratio = effectiveRatio(ratio)
	rho2 := ratio * ratio

	var results []Result
	for i := range a {
		bestIdx, best, second := bestTwoQuantized(a[i], b)
		if bestIdx >= 0 && best < rho2*second {
			results = append(results, Result{QueryIdx: i, TrainIdx: bestIdx, Distance: best})
		}
	}
	return results
}

func bestTwoQuantized(q QuantizedDescriptor, candidates []QuantizedDescriptor) (bestIdx int, best, second float64) {
	bestIdx = -1
	best = math.Inf(1)
	second = math.Inf(1)
	for j := range candidates {
		d := squaredL2Quantized(q, candidates[j])
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

func squaredL2Quantized(a, b QuantizedDescriptor) float64 {
	var sum float64
	for k := range a {
		d := float64(int(a[k]) - int(b[k]))
		sum += d * d
	}
	return sum
}
