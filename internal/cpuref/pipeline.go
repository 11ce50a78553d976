package cpuref

import (
	"math"

	"github.com/gogpu/siftgpu/internal/kernel"
	"github.com/gogpu/siftgpu/internal/pack"
)

// Pipeline runs the full CPU reference pipeline: grayscale pack, pyramid
// build, extremum detection, orientation assignment, and descriptor
// extraction. It owns the Gaussian kernel cache, mirroring the resource
// manager's shared kernel-buffer cache (§4.1) at the level appropriate for
// a CPU-only path.
type Pipeline struct {
	Cfg     Config
	kernels *kernel.Cache
}

// New creates a Pipeline with its own kernel cache, pre-populated with the
// deterministic sigma set {sigma_base, delta-sigma(1)..delta-sigma(S+2)}.
func New(cfg Config) *Pipeline {
	kc := kernel.NewCache()
	kc.Precompute(deterministicSigmas(cfg))
	return &Pipeline{Cfg: cfg, kernels: kc}
}

func deterministicSigmas(cfg Config) []float64 {
	S := cfg.ScalesPerOctave
	sigmas := make([]float64, 0, S+3)
	sigmas = append(sigmas, cfg.SigmaBase)
	prev := cfg.SigmaBase
	for s := 1; s < S+3; s++ {
		cur := sigmaAt(cfg.SigmaBase, s, S)
		sigmas = append(sigmas, deltaSigma(prev, cur))
		prev = cur
	}
	return sigmas
}

func deltaSigma(prev, cur float64) float64 {
	d := cur*cur - prev*prev
	if d < 0 {
		d = 0
	}
	return math.Sqrt(d)
}

// DetectAndCompute runs the entire pipeline and returns keypoints with
// their descriptors.
func (pl *Pipeline) DetectAndCompute(luma []float32, w, h int) ([]Keypoint, []Descriptor, bool) {
	base := lumaToGrid(luma, w, h)
	pyr := BuildPyramid(base, pl.Cfg, pl.kernels)
	kps, truncated := DetectExtrema(pyr, pl.Cfg)
	AssignOrientations(pyr, pl.Cfg, kps)
	descs := ComputeDescriptors(pyr, pl.Cfg, kps, false)
	return kps, descs, truncated
}

// DetectKeypoints runs pyramid build, extremum detection, and orientation
// assignment, without computing descriptors.
func (pl *Pipeline) DetectKeypoints(luma []float32, w, h int) ([]Keypoint, bool) {
	base := lumaToGrid(luma, w, h)
	pyr := BuildPyramid(base, pl.Cfg, pl.kernels)
	kps, truncated := DetectExtrema(pyr, pl.Cfg)
	AssignOrientations(pyr, pl.Cfg, kps)
	return kps, truncated
}

// ComputeDescriptorsFor rebuilds the pyramid for (luma, w, h) and computes
// descriptors for a caller-supplied keypoint list, reusing the same
// deterministic pyramid math as detect_and_compute (compute_descriptors,
// §6).
func (pl *Pipeline) ComputeDescriptorsFor(luma []float32, w, h int, kps []Keypoint, quantize bool) []Descriptor {
	base := lumaToGrid(luma, w, h)
	pyr := BuildPyramid(base, pl.Cfg, pl.kernels)
	return ComputeDescriptors(pyr, pl.Cfg, kps, quantize)
}

func lumaToGrid(luma []float32, w, h int) *pack.Grid {
	g := pack.NewGrid(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			g.Set(x, y, luma[y*w+x])
		}
	}
	return g
}
