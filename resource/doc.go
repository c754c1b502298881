// Package resource bounds the memory, background concurrency and device
// bandwidth consumed by the cache and the page allocator.
//
// The buffer cache reserves its payload memory at construction and the page
// allocator reserves each frame it hands out; both report exhaustion instead
// of blocking. Flush workers take background slots and throttled devices
// draw IO tokens. All methods accept a nil receiver.
package resource
