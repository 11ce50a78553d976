package siftgpu

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// LoadImage decodes a caller-supplied pixel buffer into an Image, applying
// the max_image_dimension downsample of §6 when configured. The returned
// Image's ScaleRestoreFactor recovers original-image coordinates from
// anything computed against it.
func LoadImage(pixels []byte, w, h, strideBytes int, format PixelFormat, maxDimension int) (*Image, error) {
	if err := validateImageArgs(pixels, w, h, strideBytes, format); err != nil {
		return nil, err
	}

	luma := make([]float32, w*h)
	bpp := format.BytesPerPixel()
	for y := 0; y < h; y++ {
		row := y * strideBytes
		for x := 0; x < w; x++ {
			luma[y*w+x] = luminance(pixels, row+x*bpp, format)
		}
	}

	img := &Image{
		Width:              w,
		Height:             h,
		OrigWidth:          w,
		OrigHeight:         h,
		Luma:               luma,
		ScaleRestoreFactor: 1,
	}

	if maxDimension > 0 && max(w, h) > maxDimension {
		return downsampleImage(img, maxDimension), nil
	}
	return img, nil
}

// downsampleImage rescales img so its longest side equals maxDimension,
// using golang.org/x/image/draw's Catmull-Rom resampler, and records the
// scale-restore factor needed to map results back to original coordinates.
func downsampleImage(img *Image, maxDimension int) *Image {
	scale := float64(maxDimension) / float64(max(img.Width, img.Height))
	dw := max(1, int(float64(img.Width)*scale))
	dh := max(1, int(float64(img.Height)*scale))

	src := image.NewGray16(image.Rect(0, 0, img.Width, img.Height))
	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			v := img.Luma[y*img.Width+x]
			src.SetGray16(x, y, color.Gray16{Y: uint16(clamp01(v) * 65535)})
		}
	}

	dst := image.NewGray16(image.Rect(0, 0, dw, dh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	luma := make([]float32, dw*dh)
	for y := 0; y < dh; y++ {
		for x := 0; x < dw; x++ {
			luma[y*dw+x] = float32(dst.Gray16At(x, y).Y) / 65535
		}
	}

	return &Image{
		Width:              dw,
		Height:             dh,
		OrigWidth:          img.OrigWidth,
		OrigHeight:         img.OrigHeight,
		Luma:               luma,
		ScaleRestoreFactor: float64(img.Width) / float64(dw),
	}
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
