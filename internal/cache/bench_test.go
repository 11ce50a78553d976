package cache

import (
	"strconv"
	"testing"
)

func BenchmarkCacheGetOrCreate(b *testing.B) {
	c := New[string, int](1000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.GetOrCreate(strconv.Itoa(i%100), func() int {
			return i
		})
	}
}
