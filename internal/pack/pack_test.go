package pack

import "testing"

func TestDimsEvenOdd(t *testing.T) {
	if pw, ph := Dims(8, 8); pw != 4 || ph != 4 {
		t.Fatalf("Dims(8,8) = %d,%d", pw, ph)
	}
	if pw, ph := Dims(7, 9); pw != 4 || ph != 5 {
		t.Fatalf("Dims(7,9) = %d,%d", pw, ph)
	}
}

func TestComponentOrder(t *testing.T) {
	cases := []struct {
		lx, ly, want int
	}{
		{0, 0, 0}, // TL
		{1, 0, 1}, // TR
		{0, 1, 2}, // BL
		{1, 1, 3}, // BR
	}
	for _, c := range cases {
		if got := Component(c.lx, c.ly); got != c.want {
			t.Fatalf("Component(%d,%d) = %d, want %d", c.lx, c.ly, got, c.want)
		}
	}
}

func TestGridSetAtRoundTrip(t *testing.T) {
	g := NewGrid(6, 5)
	for ly := 0; ly < 5; ly++ {
		for lx := 0; lx < 6; lx++ {
			g.Set(lx, ly, float32(lx*10+ly))
		}
	}
	for ly := 0; ly < 5; ly++ {
		for lx := 0; lx < 6; lx++ {
			want := float32(lx*10 + ly)
			if got := g.At(lx, ly); got != want {
				t.Fatalf("At(%d,%d) = %v, want %v", lx, ly, got, want)
			}
		}
	}
}

func TestDownsampleTakesEveryOtherPixel(t *testing.T) {
	g := NewGrid(8, 8)
	for ly := 0; ly < 8; ly++ {
		for lx := 0; lx < 8; lx++ {
			g.Set(lx, ly, float32(lx*100+ly))
		}
	}
	d := Downsample(g)
	if d.W != 4 || d.H != 4 {
		t.Fatalf("downsampled dims = %d,%d, want 4,4", d.W, d.H)
	}
	for ly := 0; ly < 4; ly++ {
		for lx := 0; lx < 4; lx++ {
			want := float32((lx*2)*100 + ly*2)
			if got := d.At(lx, ly); got != want {
				t.Fatalf("Downsample At(%d,%d) = %v, want %v", lx, ly, got, want)
			}
		}
	}
}

func TestDownsampleFloorsAtOne(t *testing.T) {
	g := NewGrid(1, 1)
	d := Downsample(g)
	if d.W != 1 || d.H != 1 {
		t.Fatalf("Downsample(1,1) dims = %d,%d, want 1,1", d.W, d.H)
	}
}
