package testutil

import (
	"math"
	"math/rand"
	"sync"
)

// RNG wraps a seeded random source. It is safe for concurrent use.
type RNG struct {
	rand *rand.Rand
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
	}
}

// Bytes returns n pseudo-random bytes.
func (r *RNG) Bytes(n int) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := make([]byte, n)
	_, _ = r.rand.Read(p)
	return p
}

// Zipf returns a Zipfian-distributed value in [0, n): P(k) ∝ 1/k^s.
// Block workloads use it to model a small hot set of blocks.
func (r *RNG) Zipf(n int, s float64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n <= 1 {
		return 0
	}

	var hns float64
	for i := 1; i <= n; i++ {
		hns += 1.0 / math.Pow(float64(i), s)
	}

	u := r.rand.Float64() * hns
	var cumulative float64
	for k := 1; k <= n; k++ {
		cumulative += 1.0 / math.Pow(float64(k), s)
		if u <= cumulative {
			return k - 1
		}
	}
	return n - 1
}
