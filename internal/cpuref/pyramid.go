// Package cpuref is the pure-Go reference implementation of the SIFT
// pipeline (C8): grayscale pack, Gaussian/DoG pyramid, extremum detection,
// orientation assignment, and descriptor extraction. It is used both for
// correctness testing against the GPU pipeline's invariants and as the
// Options.ForceCPU execution path.
package cpuref

import (
	"math"

	"github.com/gogpu/siftgpu/internal/kernel"
	"github.com/gogpu/siftgpu/internal/logging"
	"github.com/gogpu/siftgpu/internal/pack"
)

// Config mirrors the fields of siftgpu.Options this package needs,
// decoupled from the root package to avoid an import cycle (the root
// package imports cpuref for the ForceCPU path).
type Config struct {
	NumOctaves        int
	ScalesPerOctave   int
	SigmaBase         float64
	ContrastThreshold float64
	EdgeThreshold     float64
	MaxKeypoints      int
	PackedAtomics     bool // no CPU-side effect; kept for parity with GPU config
}

// Octave holds one pyramid level's Gaussian and DoG stacks.
type Octave struct {
	Gaussian []*pack.Grid // length ScalesPerOctave+3
	DoG      []*pack.Grid // length ScalesPerOctave+2
	Width    int
	Height   int
}

// Pyramid is the full Gaussian/DoG scale space for one image.
type Pyramid struct {
	Octaves []Octave
	Cfg     Config
}

// sigmaAt returns sigma(s) = sigma_base * 2^(s/S).
func sigmaAt(sigmaBase float64, s, scalesPerOctave int) float64 {
	return sigmaBase * math.Pow(2, float64(s)/float64(scalesPerOctave))
}

// BuildPyramid constructs the Gaussian and DoG pyramids from a base
// luminance grid, per §3 and §4.2.
func BuildPyramid(base *pack.Grid, cfg Config, kc *kernel.Cache) *Pyramid {
	S := cfg.ScalesPerOctave
	O := cfg.NumOctaves

	sigmas := make([]float64, S+3)
	for s := 0; s < S+3; s++ {
		sigmas[s] = sigmaAt(cfg.SigmaBase, s, S)
	}

	p := &Pyramid{Octaves: make([]Octave, O), Cfg: cfg}

	for o := 0; o < O; o++ {
		oct := &p.Octaves[o]
		oct.Gaussian = make([]*pack.Grid, S+3)

		if o == 0 {
			oct.Gaussian[0] = separableBlur(base, cfg.SigmaBase, kc)
		} else {
			oct.Gaussian[0] = pack.Downsample(p.Octaves[o-1].Gaussian[S])
		}
		oct.Width, oct.Height = oct.Gaussian[0].W, oct.Gaussian[0].H

		for s := 1; s < S+3; s++ {
			deltaSigma := math.Sqrt(sigmas[s]*sigmas[s] - sigmas[s-1]*sigmas[s-1])
			oct.Gaussian[s] = separableBlur(oct.Gaussian[s-1], deltaSigma, kc)
		}

		oct.DoG = make([]*pack.Grid, S+2)
		for s := 0; s < S+2; s++ {
			oct.DoG[s] = subtract(oct.Gaussian[s+1], oct.Gaussian[s])
		}

		logging.Get().Debug("cpuref: octave built",
			"octave", o, "width", oct.Width, "height", oct.Height)
	}

	return p
}

// separableBlur applies a horizontal then vertical Gaussian pass, matching
// the tiled-shared-memory shader's separable structure at the semantic
// level (the CPU reference has no need for the GPU's tiling for
// correctness, only for the two-pass decomposition).
func separableBlur(src *pack.Grid, sigma float64, kc *kernel.Cache) *pack.Grid {
	radius := kernel.Radius(sigma)
	if radius <= 0 {
		return copyGrid(src)
	}
	taps := kc.Get(sigma, radius)

	tmp := pack.NewGrid(src.W, src.H)
	for y := 0; y < src.H; y++ {
		for x := 0; x < src.W; x++ {
			var acc float32
			for k := -radius; k <= radius; k++ {
				acc += taps[k+radius] * src.At(x+k, y)
			}
			tmp.Set(x, y, acc)
		}
	}

	dst := pack.NewGrid(src.W, src.H)
	for y := 0; y < src.H; y++ {
		for x := 0; x < src.W; x++ {
			var acc float32
			for k := -radius; k <= radius; k++ {
				acc += taps[k+radius] * tmp.At(x, y+k)
			}
			dst.Set(x, y, acc)
		}
	}
	return dst
}

func copyGrid(src *pack.Grid) *pack.Grid {
	dst := pack.NewGrid(src.W, src.H)
	copy(dst.Texels, src.Texels)
	return dst
}

// subtract computes a - b pointwise over logical pixels, implementing
// D[o][s] = G[o][s+1] - G[o][s].
func subtract(a, b *pack.Grid) *pack.Grid {
	dst := pack.NewGrid(a.W, a.H)
	for y := 0; y < a.H; y++ {
		for x := 0; x < a.W; x++ {
			dst.Set(x, y, a.At(x, y)-b.At(x, y))
		}
	}
	return dst
}
