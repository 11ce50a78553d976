// Package kernel generates and caches 1-D Gaussian convolution kernels for
// the pyramid builder and the CPU reference implementation.
package kernel

import (
	"math"

	"github.com/gogpu/siftgpu/internal/cache"
)

// Gaussian returns a 1-D Gaussian kernel of radius r (2r+1 taps), sampled at
// integer offsets -r..r and normalized to sum to 1. Radius is derived by the
// caller as ceil(3*sigma); sigma <= 0 yields the identity kernel [1].
func Gaussian(sigma float64, radius int) []float32 {
	if sigma <= 0 || radius <= 0 {
		return []float32{1}
	}

	size := 2*radius + 1
	taps := make([]float32, size)
	twoSigmaSq := 2 * sigma * sigma
	sum := 0.0
	for i := 0; i < size; i++ {
		x := float64(i - radius)
		v := math.Exp(-(x * x) / twoSigmaSq)
		taps[i] = float32(v)
		sum += v
	}
	if sum > 0 {
		inv := float32(1.0 / sum)
		for i := range taps {
			taps[i] *= inv
		}
	}
	return taps
}

// Radius computes the standard ceil(3*sigma) support radius used throughout
// the pipeline for both the GPU shaders and the CPU reference.
func Radius(sigma float64) int {
	if sigma <= 0 {
		return 0
	}
	return int(math.Ceil(3 * sigma))
}

// Key identifies a cached kernel by sigma quantized to four decimal places
// and an explicit integer radius, per the data model's cache-key contract
// (replacing a stringified-float key with a deterministic comparable type).
type Key struct {
	SigmaQ int32 // sigma * 10000, rounded
	Radius int32
}

// NewKey quantizes sigma to four decimal places and pairs it with radius.
func NewKey(sigma float64, radius int) Key {
	return Key{
		SigmaQ: int32(math.Round(sigma * 10000)),
		Radius: int32(radius),
	}
}

// Cache caches Gaussian kernel taps keyed by (sigma, radius), backed by the
// project's generic LRU cache with a soft limit well above the key set any
// single detector instance actually touches (the deterministic sigma
// progression of one pyramid configuration), so eviction never triggers in
// practice.
type Cache struct {
	c *cache.Cache[Key, []float32]
}

// softLimit bounds the kernel cache well above the largest sigma
// progression a single Config could produce (num_octaves * (S+3), capped
// at 16*19), leaving room without ever evicting a live kernel.
const softLimit = 512

// NewCache creates an empty kernel cache.
func NewCache() *Cache {
	return &Cache{c: cache.New[Key, []float32](softLimit)}
}

// Get returns the cached taps for (sigma, radius), generating and storing
// them on first use.
func (c *Cache) Get(sigma float64, radius int) []float32 {
	key := NewKey(sigma, radius)
	return c.c.GetOrCreate(key, func() []float32 {
		return Gaussian(sigma, radius)
	})
}

// Len reports the number of distinct kernels currently cached.
func (c *Cache) Len() int {
	return c.c.Len()
}

// Precompute populates the cache with kernels for a deterministic sigma set,
// mirroring the resource manager's init-time precompute of {sigma_base,
// delta-sigma(1)..delta-sigma(S+2)}.
func (c *Cache) Precompute(sigmas []float64) {
	for _, sigma := range sigmas {
		c.Get(sigma, Radius(sigma))
	}
}
