package gpupipe

import (
	"encoding/binary"
	"math"
)

// uniformBuilder assembles a WGSL uniform struct's byte layout by hand, the
// same manual little-endian packing style used by descriptorio's binary
// format: each stage's Go-side config struct has no reflection-based
// marshaling, just an explicit field-by-field append matching the WGSL
// struct declaration order.
type uniformBuilder struct {
	buf []byte
}

func newUniform() *uniformBuilder {
	return &uniformBuilder{}
}

func (b *uniformBuilder) u32(v uint32) *uniformBuilder {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	b.buf = append(b.buf, tmp[:]...)
	return b
}

func (b *uniformBuilder) i32(v int32) *uniformBuilder {
	return b.u32(uint32(v))
}

func (b *uniformBuilder) f32(v float32) *uniformBuilder {
	return b.u32(math.Float32bits(v))
}

func (b *uniformBuilder) pad(n int) *uniformBuilder {
	b.buf = append(b.buf, make([]byte, n*4)...)
	return b
}

func (b *uniformBuilder) bytes() []byte {
	// Uniform buffers must be a multiple of 16 bytes.
	for len(b.buf)%16 != 0 {
		b.buf = append(b.buf, 0)
	}
	return b.buf
}
