package cpuref

import "math"

const orientationBins = 36

// AssignOrientations computes and writes the dominant gradient orientation
// for every keypoint in place, per §4.5. Only the dominant peak is kept;
// secondary orientations are a non-goal.
func AssignOrientations(p *Pyramid, cfg Config, kps []Keypoint) {
	S := cfg.ScalesPerOctave
	for i := range kps {
		kp := &kps[i]
		oct := &p.Octaves[kp.Octave]
		g := oct.Gaussian[kp.Scale]

		scale2o := math.Pow(2, float64(kp.Octave))
		cx := int(math.Round(kp.X / scale2o))
		cy := int(math.Round(kp.Y / scale2o))

		sigma := sigmaAt(cfg.SigmaBase, kp.Scale, S)
		radius := int(math.Round(sigma * 1.5 * 3))
		twoSigmaSq := 2 * (1.5 * sigma) * (1.5 * sigma)

		var hist [orientationBins]float64
		for dy := -radius; dy <= radius; dy++ {
			for dx := -radius; dx <= radius; dx++ {
				if dx*dx+dy*dy > radius*radius {
					continue
				}
				x, y := cx+dx, cy+dy
				gx := float64(g.At(x+1, y) - g.At(x-1, y))
				gy := float64(g.At(x, y+1) - g.At(x, y-1))
				m := math.Sqrt(gx*gx + gy*gy)
				theta := math.Atan2(gy, gx)
				if theta < 0 {
					theta += 2 * math.Pi
				}
				weight := m * math.Exp(-float64(dx*dx+dy*dy)/twoSigmaSq)
				bin := int(theta*orientationBins/(2*math.Pi)) % orientationBins
				hist[bin] += weight
			}
		}

		kp.Orientation = dominantOrientation(hist)
	}
}

// dominantOrientation smooths the histogram with a circular [0.25, 0.5,
// 0.25] kernel, finds the peak bin, and refines it by one-step parabolic
// interpolation against its circular neighbors.
func dominantOrientation(hist [orientationBins]float64) float64 {
	var smoothed [orientationBins]float64
	for i := range hist {
		l := hist[(i-1+orientationBins)%orientationBins]
		c := hist[i]
		r := hist[(i+1)%orientationBins]
		smoothed[i] = 0.25*l + 0.5*c + 0.25*r
	}

	best := 0
	for i := 1; i < orientationBins; i++ {
		if smoothed[i] > smoothed[best] {
			best = i
		}
	}

	l := smoothed[(best-1+orientationBins)%orientationBins]
	m := smoothed[best]
	r := smoothed[(best+1)%orientationBins]

	peak := float64(best)
	denom := l - 2*m + r
	if denom != 0 {
		peak += 0.5 * (l - r) / denom
	}

	orientation := peak * 2 * math.Pi / orientationBins
	if orientation < 0 {
		orientation += 2 * math.Pi
	}
	if orientation >= 2*math.Pi {
		orientation -= 2 * math.Pi
	}
	return orientation
}
