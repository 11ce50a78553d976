package kernel

import (
	"math"
	"testing"
)

func TestGaussianNormalizes(t *testing.T) {
	taps := Gaussian(1.6, Radius(1.6))
	sum := float32(0)
	for _, v := range taps {
		sum += v
	}
	if math.Abs(float64(sum)-1) > 1e-5 {
		t.Fatalf("kernel sum = %v, want ~1", sum)
	}
}

func TestGaussianIdentity(t *testing.T) {
	taps := Gaussian(0, 0)
	if len(taps) != 1 || taps[0] != 1 {
		t.Fatalf("identity kernel = %v", taps)
	}
}

func TestGaussianSymmetric(t *testing.T) {
	taps := Gaussian(2.0, Radius(2.0))
	n := len(taps)
	for i := 0; i < n/2; i++ {
		if math.Abs(float64(taps[i]-taps[n-1-i])) > 1e-6 {
			t.Fatalf("kernel not symmetric at %d: %v vs %v", i, taps[i], taps[n-1-i])
		}
	}
}

func TestCacheReusesEntries(t *testing.T) {
	c := NewCache()
	a := c.Get(1.6, 5)
	b := c.Get(1.6, 5)
	if &a[0] != &b[0] {
		t.Fatalf("expected cached slice identity to be reused")
	}
	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", c.Len())
	}
}

func TestKeyQuantization(t *testing.T) {
	a := NewKey(1.60001, 5)
	b := NewKey(1.60002, 5)
	if a != b {
		t.Fatalf("expected keys to collapse under four-decimal quantization: %v vs %v", a, b)
	}
	c := NewKey(1.601, 5)
	if a == c {
		t.Fatalf("expected distinguishable sigmas to produce distinct keys")
	}
}

func TestRadiusZeroForNonPositiveSigma(t *testing.T) {
	if Radius(0) != 0 || Radius(-1) != 0 {
		t.Fatalf("Radius should be 0 for sigma <= 0")
	}
}
