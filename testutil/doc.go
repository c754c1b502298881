// Package testutil provides helpers for tests and the stress driver: a
// seeded, concurrency-safe RNG and a block device that blocks every read
// until the test releases it.
//
//	dev := testutil.NewBlockingDevice(mem)
//	go func() { dev.Allow(1) }()
//	b, _ := cache.Bread(ctx, 0, 5) // reaches the device
//	cache.Release(b)
//	b, _ = cache.Bread(ctx, 0, 5)  // served from the cache
package testutil
