package utils

import (
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/zeebo/blake3"
)

func HashStringToUint64(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

// IdempotencyKey hashes the given parts into a hex blake3 digest. Parts are
// trimmed and lowercased so cosmetic differences in resubmitted reports map
// to the same key.
func IdempotencyKey(parts ...string) string {
	h := blake3.New()
	for _, p := range parts {
		_, _ = h.Write([]byte(NormalizeText(p)))
		_, _ = h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// StableID derives a record id from a natural key so re-seeding overwrites
// instead of appending.
func StableID(prefix string, parts ...string) string {
	return fmt.Sprintf("%s-%s", prefix, IdempotencyKey(parts...)[:32])
}

// ContentHash is the hex blake3 digest of raw bytes.
func ContentHash(b []byte) string {
	sum := blake3.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func NormalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
