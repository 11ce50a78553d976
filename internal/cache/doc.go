// Package cache provides a generic caching primitive.
//
// # Cache[K, V]
//
// A simple thread-safe LRU cache with a soft limit: once the entry count
// exceeds it, the least recently used 25% are evicted.
//
//	c := cache.New[string, int](100)
//	v := c.GetOrCreate("key", func() int { return 42 })
//
// # Thread Safety
//
// Cache is safe for concurrent use. It must not be copied after creation
// (it contains a mutex).
package cache
