// Package storm implements a deterministic bit-flip adversary used to
// exercise a heap's corruption detection between operations. It never
// touches a region while an allocator call is in flight — it is meant to
// run strictly between calls, flipping bits the way a stray write or a
// flaky DIMM would, so the allocator's checksum machinery has something
// real to catch.
package storm

import "math/rand"

// Storm flips random bits in a region on demand. The zero value is not
// usable; construct one with New.
type Storm struct {
	rng  *rand.Rand
	rate float64
}

// New returns a Storm seeded deterministically from seed, so a run can be
// replayed exactly given the same seed and the same sequence of calls.
// rate is the probability, per call to Flip, that any single byte in the
// target region is touched; 0 disables flipping entirely.
func New(seed int64, rate float64) *Storm {
	if rate < 0 {
		rate = 0
	}
	if rate > 1 {
		rate = 1
	}

	return &Storm{
		rng:  rand.New(rand.NewSource(seed)),
		rate: rate,
	}
}

// Flip walks region and, for each byte, flips a single random bit with
// probability s.rate. It returns the number of bytes it touched.
func (s *Storm) Flip(region []byte) int {
	if s.rate == 0 {
		return 0
	}

	touched := 0
	for i := range region {
		if s.rng.Float64() < s.rate {
			bit := uint(s.rng.Intn(8))
			region[i] ^= 1 << bit
			touched++
		}
	}

	return touched
}

// FlipOne flips a single random bit at a random offset within region and
// reports the offset it touched. It is a no-op and returns -1 if region
// is empty.
func (s *Storm) FlipOne(region []byte) int {
	if len(region) == 0 {
		return -1
	}

	off := s.rng.Intn(len(region))
	bit := uint(s.rng.Intn(8))
	region[off] ^= 1 << bit

	return off
}
