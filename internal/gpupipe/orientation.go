package gpupipe

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// AssignOrientations computes the dominant gradient orientation for every
// keypoint in keypointsBuf, in place, per §4.5. It dispatches once per
// octave over the indirect args prepared by PrepareIndirectDispatch,
// reusing the same orientArgs buffer each time; a keypoint belonging to a
// different octave than the current pass is a no-op inside the shader,
// since only that octave's Gaussian scales are bound for any given pass.
func (p *Pipeline) AssignOrientations(pyr *PyramidHandle, keypointsBuf hal.Buffer, orientArgs hal.Buffer) error {
	cfg := pyr.Cfg
	S := cfg.ScalesPerOctave

	for o := range pyr.Octaves {
		oct := &pyr.Octaves[o]

		var scaleOffset [8]uint32
		for s := 0; s < S+3 && s < 8; s++ {
			scaleOffset[s] = oct.scaleOffsetTexels(s)
		}

		b := newUniform().
			u32(uint32(o)).u32(uint32(S)).f32(float32(cfg.SigmaBase)).
			u32(uint32(oct.Width)).u32(uint32(oct.Height)).u32(uint32(oct.PWidth)).
			pad(2)
		for _, v := range scaleOffset {
			b.u32(v)
		}
		cfgBuf, err := p.uploadUniform("orientation_cfg", b.bytes())
		if err != nil {
			return fmt.Errorf("gpupipe: orientation config: %w", err)
		}

		entries := []gputypes.BindGroupEntry{
			bufBinding(0, cfgBuf),
			bufBinding(1, keypointsBuf),
			viewBinding(2, wholeView(oct.GaussianBuf, oct.planeSize()*uint64(S+3))),
		}
		err = p.dispatchIndirectOne(StageOrientationAssign, entries, orientArgs, 0)
		p.ctx.DestroyBuffer(cfgBuf)
		if err != nil {
			return fmt.Errorf("gpupipe: octave %d orientation assign: %w", o, err)
		}
	}
	return nil
}
