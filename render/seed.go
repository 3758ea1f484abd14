package render

import (
	"crypto/rand"
	"encoding/binary"
)

// RandomSeed generates a random non-negative seed for fallback rendering.
// Uses crypto/rand so concurrently drawn seeds never collide through a
// shared PRNG state.
func RandomSeed() int64 {
	var buf [8]byte
	_, err := rand.Read(buf[:])
	if err != nil {
		// Fall back to a fixed seed rather than panicking; the render is
		// still valid, just not unique.
		return 42
	}

	seed := int64(binary.LittleEndian.Uint64(buf[:]))
	if seed < 0 {
		seed = -seed
	}
	if seed < 0 { // -MinInt64 stays negative
		seed = 0
	}
	return seed
}
