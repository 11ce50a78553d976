package gpupipe

import (
	"fmt"
	"math"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/siftgpu/internal/gpuctx"
	"github.com/gogpu/siftgpu/internal/kernel"
	"github.com/gogpu/siftgpu/internal/pack"
)

// Config mirrors cpuref.Config, decoupled so the GPU pipeline does not
// import the CPU reference package (the root package chooses between the
// two at runtime and converts between their identical field sets).
type Config struct {
	NumOctaves        int
	ScalesPerOctave   int
	SigmaBase         float64
	ContrastThreshold float64
	EdgeThreshold     float64
	MaxKeypoints      int
	PackedAtomics     bool
}

// Octave holds one pyramid level's Gaussian and DoG stacks as two
// concatenated storage buffers, one plane per scale, rather than one
// allocation per scale: the blur, downsample and DoG passes bind a single
// scale plane at a time via buffer-offset views (gaussianView, dogView),
// while orientation and descriptor extraction bind the whole Gaussian
// buffer and select a plane through their scale_offset uniform, so the
// concatenated layout avoids S+3 separate small allocations per octave for
// no loss of addressability.
type Octave struct {
	Width, Height   int
	PWidth, PHeight int
	GaussianBuf     hal.Buffer // S+3 planes
	DoGBuf          hal.Buffer // S+2 planes
}

func (o *Octave) planeSize() uint64 {
	return uint64(o.PWidth) * uint64(o.PHeight) * 16
}

func (o *Octave) gaussianView(scale int) bufView {
	sz := o.planeSize()
	return bufView{buf: o.GaussianBuf, offset: uint64(scale) * sz, size: sz}
}

func (o *Octave) dogView(scale int) bufView {
	sz := o.planeSize()
	return bufView{buf: o.DoGBuf, offset: uint64(scale) * sz, size: sz}
}

// scaleOffsetTexels returns scale's texel offset (not byte offset) within
// this octave's Gaussian buffer, for the scale_offset uniform array read by
// orientation_assign.wgsl and the descriptor_extract_*.wgsl shaders.
func (o *Octave) scaleOffsetTexels(scale int) uint32 {
	return uint32(scale) * uint32(o.PWidth) * uint32(o.PHeight)
}

// PyramidHandle owns every GPU buffer allocated for one image's Gaussian
// and DoG scale space.
type PyramidHandle struct {
	Octaves []Octave
	Cfg     Config
	ctx     *gpuctx.Context
}

// Close releases every octave's Gaussian and DoG buffers.
func (h *PyramidHandle) Close() {
	for i := range h.Octaves {
		h.ctx.DestroyBuffer(h.Octaves[i].GaussianBuf)
		h.ctx.DestroyBuffer(h.Octaves[i].DoGBuf)
	}
}

func sigmaAt(sigmaBase float64, s, scalesPerOctave int) float64 {
	return sigmaBase * math.Pow(2, float64(s)/float64(scalesPerOctave))
}

func deltaSigma(prev, cur float64) float64 {
	d := cur*cur - prev*prev
	if d < 0 {
		d = 0
	}
	return math.Sqrt(d)
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

func (p *Pipeline) uploadUniform(label string, data []byte) (hal.Buffer, error) {
	buf, err := p.ctx.CreateBuffer(label, uint64(len(data)), gputypes.BufferUsageUniform|gputypes.BufferUsageCopyDst)
	if err != nil {
		return nil, err
	}
	p.ctx.WriteBuffer(buf, 0, data)
	return buf, nil
}

func (p *Pipeline) uploadFloats(label string, data []float32, usage gputypes.BufferUsage) (hal.Buffer, error) {
	buf, err := p.ctx.CreateBuffer(label, uint64(len(data))*4, usage)
	if err != nil {
		return nil, err
	}
	p.ctx.WriteBuffer(buf, 0, gpuctx.Float32SliceToBytes(data))
	return buf, nil
}

func (p *Pipeline) allocateZeroBuffer(label string, size uint64, usage gputypes.BufferUsage) (hal.Buffer, error) {
	buf, err := p.ctx.CreateBuffer(label, size, usage)
	if err != nil {
		return nil, err
	}
	p.ctx.WriteBuffer(buf, 0, make([]byte, size))
	return buf, nil
}

// blurInto runs the separable horizontal-then-vertical Gaussian blur of
// §4.2 into dst, using tmp as the intermediate buffer between passes.
func (p *Pipeline) blurInto(src, dst, tmp bufView, w, h, pw, ph int, sigma float64) error {
	radius := kernel.Radius(sigma)
	kernelBuf, err := p.ctx.GetKernelBuffer(sigma, radius)
	if err != nil {
		return fmt.Errorf("gpupipe: blur kernel: %w", err)
	}

	cfgBuf, err := p.uploadUniform("blur_cfg", newUniform().
		u32(uint32(w)).u32(uint32(h)).u32(uint32(pw)).u32(uint32(ph)).u32(uint32(radius)).bytes())
	if err != nil {
		return fmt.Errorf("gpupipe: blur config: %w", err)
	}
	defer p.ctx.DestroyBuffer(cfgBuf)

	hEntries := []gputypes.BindGroupEntry{bufBinding(0, cfgBuf), bufBinding(1, kernelBuf), viewBinding(2, src), viewBinding(3, tmp)}
	if err := p.dispatchOne(StageBlurH, hEntries, uint32(pw), uint32(ph)); err != nil {
		return err
	}

	vEntries := []gputypes.BindGroupEntry{bufBinding(0, cfgBuf), bufBinding(1, kernelBuf), viewBinding(2, tmp), viewBinding(3, dst)}
	return p.dispatchOne(StageBlurV, vEntries, uint32(pw), uint32(ph))
}

// downsampleInto halves src's dimensions into dst, per the octave
// transition rule of internal/pack.Downsample.
func (p *Pipeline) downsampleInto(src bufView, srcW, srcH int, dst bufView, dstPW, dstPH int) error {
	srcPW, srcPH := pack.Dims(srcW, srcH)
	_ = srcPH
	cfgBuf, err := p.uploadUniform("downsample_cfg", newUniform().
		u32(uint32(srcW)).u32(uint32(srcH)).u32(uint32(srcPW)).u32(uint32(dstPW)).u32(uint32(dstPH)).bytes())
	if err != nil {
		return fmt.Errorf("gpupipe: downsample config: %w", err)
	}
	defer p.ctx.DestroyBuffer(cfgBuf)

	entries := []gputypes.BindGroupEntry{bufBinding(0, cfgBuf), viewBinding(1, src), viewBinding(2, dst)}
	return p.dispatchOne(StageDownsample, entries, uint32(dstPW), uint32(dstPH))
}

// dogSubtractInto computes dst = higher - lower over a whole packed-texel
// plane, implementing D[o][s] = G[o][s+1] - G[o][s].
func (p *Pipeline) dogSubtractInto(higher, lower, dst bufView, pw, ph int) error {
	cfgBuf, err := p.uploadUniform("dog_cfg", newUniform().u32(uint32(pw)).u32(uint32(ph)).bytes())
	if err != nil {
		return fmt.Errorf("gpupipe: dog config: %w", err)
	}
	defer p.ctx.DestroyBuffer(cfgBuf)

	entries := []gputypes.BindGroupEntry{bufBinding(0, cfgBuf), viewBinding(1, higher), viewBinding(2, lower), viewBinding(3, dst)}
	return p.dispatchOne(StageDoGSubtract, entries, uint32(pw), uint32(ph))
}

// BuildPyramid constructs the Gaussian and DoG pyramids for a w x h
// luminance image entirely on the GPU, per §3 and §4.2. luma holds w*h
// row-major samples in [0,1], matching Image.Luma.
func (p *Pipeline) BuildPyramid(luma []float32, w, h int, cfg Config) (*PyramidHandle, error) {
	if err := p.ctx.PrecomputeKernels(deterministicSigmas(cfg)); err != nil {
		return nil, fmt.Errorf("gpupipe: precompute kernels: %w", err)
	}

	S := cfg.ScalesPerOctave
	O := cfg.NumOctaves
	sigmas := make([]float64, S+3)
	for s := 0; s < S+3; s++ {
		sigmas[s] = sigmaAt(cfg.SigmaBase, s, S)
	}

	// Replicate luma into an RGBA plane so grayscale_pack's 0.299/0.587/
	// 0.114 recombination is a no-op identity on an already-grayscale
	// source, reusing the same shader the spec's raw-pixel path would use
	// instead of duplicating its luminance math on the CPU a second time.
	rgba := make([]float32, w*h*4)
	for i, l := range luma {
		rgba[4*i] = l
		rgba[4*i+1] = l
		rgba[4*i+2] = l
		rgba[4*i+3] = 1
	}
	rgbaBuf, err := p.uploadFloats("rgba_in", rgba, gputypes.BufferUsageStorage|gputypes.BufferUsageCopyDst)
	if err != nil {
		return nil, fmt.Errorf("gpupipe: upload rgba: %w", err)
	}
	defer p.ctx.DestroyBuffer(rgbaBuf)

	pw0, ph0 := pack.Dims(w, h)
	baseBuf, err := p.ctx.CreateStorageGrid(w, h)
	if err != nil {
		return nil, fmt.Errorf("gpupipe: allocate base grid: %w", err)
	}
	defer p.ctx.DestroyBuffer(baseBuf)

	packCfgBuf, err := p.uploadUniform("grayscale_cfg", newUniform().
		u32(uint32(w)).u32(uint32(h)).u32(uint32(pw0)).u32(uint32(ph0)).bytes())
	if err != nil {
		return nil, fmt.Errorf("gpupipe: grayscale config: %w", err)
	}
	packEntries := []gputypes.BindGroupEntry{
		bufBinding(0, packCfgBuf), bufBinding(1, rgbaBuf), bufBinding(2, baseBuf),
	}
	if err := p.dispatchOne(StageGrayscalePack, packEntries, uint32(pw0), uint32(ph0)); err != nil {
		p.ctx.DestroyBuffer(packCfgBuf)
		return nil, fmt.Errorf("gpupipe: grayscale pack: %w", err)
	}
	p.ctx.DestroyBuffer(packCfgBuf)

	handle := &PyramidHandle{Octaves: make([]Octave, O), Cfg: cfg, ctx: p.ctx}

	curW, curH := w, h
	for o := 0; o < O; o++ {
		oct := &handle.Octaves[o]
		if o == 0 {
			oct.Width, oct.Height = w, h
		} else {
			oct.Width, oct.Height = curW, curH
		}
		oct.PWidth, oct.PHeight = pack.Dims(oct.Width, oct.Height)
		planeSize := uint64(oct.PWidth) * uint64(oct.PHeight) * 16

		oct.GaussianBuf, err = p.allocateZeroBuffer("gaussian_octave",
			planeSize*uint64(S+3), gputypes.BufferUsageStorage|gputypes.BufferUsageCopyDst|gputypes.BufferUsageCopySrc)
		if err != nil {
			handle.Close()
			return nil, fmt.Errorf("gpupipe: allocate octave %d gaussian: %w", o, err)
		}
		oct.DoGBuf, err = p.allocateZeroBuffer("dog_octave",
			planeSize*uint64(S+2), gputypes.BufferUsageStorage|gputypes.BufferUsageCopyDst|gputypes.BufferUsageCopySrc)
		if err != nil {
			handle.Close()
			return nil, fmt.Errorf("gpupipe: allocate octave %d dog: %w", o, err)
		}

		tmpBuf, err := p.allocateZeroBuffer("blur_tmp", planeSize, gputypes.BufferUsageStorage|gputypes.BufferUsageCopyDst)
		if err != nil {
			handle.Close()
			return nil, fmt.Errorf("gpupipe: allocate octave %d scratch: %w", o, err)
		}
		tmpView := wholeView(tmpBuf, planeSize)

		if o == 0 {
			baseView := wholeView(baseBuf, uint64(pw0)*uint64(ph0)*16)
			if err := p.blurInto(baseView, oct.gaussianView(0), tmpView, oct.Width, oct.Height, oct.PWidth, oct.PHeight, cfg.SigmaBase); err != nil {
				p.ctx.DestroyBuffer(tmpBuf)
				handle.Close()
				return nil, fmt.Errorf("gpupipe: octave 0 base blur: %w", err)
			}
		} else {
			prev := &handle.Octaves[o-1]
			if err := p.downsampleInto(prev.gaussianView(S), prev.Width, prev.Height, oct.gaussianView(0), oct.PWidth, oct.PHeight); err != nil {
				p.ctx.DestroyBuffer(tmpBuf)
				handle.Close()
				return nil, fmt.Errorf("gpupipe: octave %d downsample: %w", o, err)
			}
		}

		for s := 1; s < S+3; s++ {
			ds := deltaSigma(sigmas[s-1], sigmas[s])
			if err := p.blurInto(oct.gaussianView(s-1), oct.gaussianView(s), tmpView, oct.Width, oct.Height, oct.PWidth, oct.PHeight, ds); err != nil {
				p.ctx.DestroyBuffer(tmpBuf)
				handle.Close()
				return nil, fmt.Errorf("gpupipe: octave %d scale %d blur: %w", o, s, err)
			}
		}
		p.ctx.DestroyBuffer(tmpBuf)

		for s := 0; s < S+2; s++ {
			if err := p.dogSubtractInto(oct.gaussianView(s+1), oct.gaussianView(s), oct.dogView(s), oct.PWidth, oct.PHeight); err != nil {
				handle.Close()
				return nil, fmt.Errorf("gpupipe: octave %d scale %d dog: %w", o, s, err)
			}
		}

		curW, curH = oct.Width/2, oct.Height/2
		if curW < 1 {
			curW = 1
		}
		if curH < 1 {
			curH = 1
		}
	}

	return handle, nil
}
