package builder

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/shiwani456/dataserv-client/internal/core"
)

// sha256Hex returns the hex encoded SHA-256 digest of s.
func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Seeds derives the first n seeds of the chain for an address. The chain is
// seed[0] = sha256(address), seed[i+1] = sha256(seed[i]) over the hex form,
// so Seeds(a, n) is always a prefix of Seeds(a, m) for n <= m.
func Seeds(address string, n int) ([]string, error) {
	if n < 0 {
		return nil, core.ErrNegativeHeight
	}
	seeds := make([]string, 0, n)
	seed := sha256Hex(address)
	for i := 0; i < n; i++ {
		seeds = append(seeds, seed)
		seed = sha256Hex(seed)
	}
	return seeds, nil
}

// SeedAt derives the single seed at the given height.
func SeedAt(address string, height int) (string, error) {
	if height < 0 {
		return "", core.ErrNegativeHeight
	}
	seed := sha256Hex(address)
	for i := 0; i < height; i++ {
		seed = sha256Hex(seed)
	}
	return seed, nil
}
