package siftgpu

import (
	"errors"
	"testing"
)

func TestPixelFormatBytesPerPixel(t *testing.T) {
	cases := []struct {
		f    PixelFormat
		want int
	}{
		{FormatRGBA8, 4},
		{FormatRGB8, 3},
		{FormatGray8, 1},
	}
	for _, c := range cases {
		if got := c.f.BytesPerPixel(); got != c.want {
			t.Errorf("%s.BytesPerPixel(): got %d, want %d", c.f, got, c.want)
		}
	}
}

func TestPixelFormatIsValid(t *testing.T) {
	if !FormatGray8.IsValid() {
		t.Errorf("FormatGray8 should be valid")
	}
	if PixelFormat(99).IsValid() {
		t.Errorf("PixelFormat(99) should be invalid")
	}
}

func TestLoadImageRejectsTooSmall(t *testing.T) {
	pixels := make([]byte, 4*7*7)
	_, err := LoadImage(pixels, 7, 7, 7*4, FormatRGBA8, 0)
	if !errors.Is(err, ErrBadConfig) {
		t.Fatalf("got err %v, want ErrBadConfig", err)
	}
}

func TestLoadImageRejectsShortBuffer(t *testing.T) {
	pixels := make([]byte, 4*8*8-1)
	_, err := LoadImage(pixels, 8, 8, 8*4, FormatRGBA8, 0)
	if !errors.Is(err, ErrBadConfig) {
		t.Fatalf("got err %v, want ErrBadConfig", err)
	}
}

func TestLoadImageGray8Passthrough(t *testing.T) {
	pixels := make([]byte, 8*8)
	for i := range pixels {
		pixels[i] = 128
	}
	img, err := LoadImage(pixels, 8, 8, 8, FormatGray8, 0)
	if err != nil {
		t.Fatalf("LoadImage: %v", err)
	}
	if img.Width != 8 || img.Height != 8 {
		t.Fatalf("dims: got %dx%d, want 8x8", img.Width, img.Height)
	}
	want := float32(128) / 255
	for i, v := range img.Luma {
		if v != want {
			t.Fatalf("luma[%d]: got %v, want %v", i, v, want)
		}
	}
	if img.ScaleRestoreFactor != 1 {
		t.Errorf("ScaleRestoreFactor: got %v, want 1", img.ScaleRestoreFactor)
	}
}

func TestLoadImageDownsamplesAboveMaxDimension(t *testing.T) {
	pixels := make([]byte, 64*32)
	img, err := LoadImage(pixels, 64, 32, 64, FormatGray8, 16)
	if err != nil {
		t.Fatalf("LoadImage: %v", err)
	}
	if max(img.Width, img.Height) > 16 {
		t.Fatalf("downsample did not reduce longest side: got %dx%d", img.Width, img.Height)
	}
	if img.OrigWidth != 64 || img.OrigHeight != 32 {
		t.Errorf("orig dims: got %dx%d, want 64x32", img.OrigWidth, img.OrigHeight)
	}
	if img.ScaleRestoreFactor <= 1 {
		t.Errorf("ScaleRestoreFactor: got %v, want > 1 after downsample", img.ScaleRestoreFactor)
	}
}

func TestLoadImageRejectsUnsupportedFormat(t *testing.T) {
	pixels := make([]byte, 8*8)
	_, err := LoadImage(pixels, 8, 8, 8, PixelFormat(99), 0)
	if !errors.Is(err, ErrBadConfig) {
		t.Fatalf("got err %v, want ErrBadConfig", err)
	}
}
