// Package pack implements the packed-grayscale-texel coordinate mapping
// shared by the CPU reference implementation and the host-side dispatch
// sizing in the GPU pipeline: each texel encodes a 2x2 block of logical
// luminance pixels as a four-component float tuple in (TL, TR, BL, BR)
// order.
package pack

// Dims returns the packed texel grid dimensions (ceil(w/2), ceil(h/2)) for
// a logical-pixel grid of size w x h.
func Dims(w, h int) (pw, ph int) {
	return (w + 1) / 2, (h + 1) / 2
}

// TexelCoord maps a logical pixel (lx, ly) to its packed texel coordinate.
func TexelCoord(lx, ly int) (tx, ty int) {
	return lx / 2, ly / 2
}

// Component returns the component index (0=TL, 1=TR, 2=BL, 3=BR) of the
// packed texel holding logical pixel (lx, ly).
func Component(lx, ly int) int {
	return (ly%2)*2 + lx%2
}

// Texel is one packed texel: four logical-luminance samples in (TL, TR, BL,
// BR) order.
type Texel [4]float32

// At returns the logical-pixel value at position (lx, ly) within the
// texel's 2x2 block.
func (t Texel) At(lx, ly int) float32 {
	return t[Component(lx, ly)]
}

// Set stores the logical-pixel value at position (lx, ly) within the
// texel's 2x2 block.
func (t *Texel) Set(lx, ly int, v float32) {
	t[Component(lx, ly)] = v
}

// Grid is a packed texel buffer for a logical w x h image.
type Grid struct {
	W, H   int // logical dimensions
	PW, PH int // packed dimensions
	Texels []Texel
}

// NewGrid allocates a packed grid for a logical w x h image.
func NewGrid(w, h int) *Grid {
	pw, ph := Dims(w, h)
	return &Grid{
		W: w, H: h,
		PW: pw, PH: ph,
		Texels: make([]Texel, pw*ph),
	}
}

// At returns the logical-pixel luminance at (lx, ly). Out-of-bounds reads
// clamp to the nearest edge, matching the shaders' bounds-checked halo
// lookups.
func (g *Grid) At(lx, ly int) float32 {
	if lx < 0 {
		lx = 0
	}
	if lx >= g.W {
		lx = g.W - 1
	}
	if ly < 0 {
		ly = 0
	}
	if ly >= g.H {
		ly = g.H - 1
	}
	tx, ty := TexelCoord(lx, ly)
	return g.Texels[ty*g.PW+tx].At(lx, ly)
}

// Set stores the logical-pixel luminance at (lx, ly). It is the caller's
// responsibility to stay within [0,W)x[0,H).
func (g *Grid) Set(lx, ly int, v float32) {
	tx, ty := TexelCoord(lx, ly)
	g.Texels[ty*g.PW+tx].Set(lx, ly, v)
}

// Downsample implements the octave-transition rule: the top-left logical
// sample of every 2x2 block in the source becomes one channel of the
// destination's packed texel, i.e. "take every other logical pixel" in both
// directions. Destination dimensions are floor(src.W/2) x floor(src.H/2),
// with a minimum of 1.
func Downsample(src *Grid) *Grid {
	dw := src.W / 2
	if dw < 1 {
		dw = 1
	}
	dh := src.H / 2
	if dh < 1 {
		dh = 1
	}
	dst := NewGrid(dw, dh)
	for ly := 0; ly < dh; ly++ {
		for lx := 0; lx < dw; lx++ {
			dst.Set(lx, ly, src.At(lx*2, ly*2))
		}
	}
	return dst
}
