package sqlstore

import (
	"testing"

	"github.com/letsencrypt/gsb/internal/test"
)

func TestLongestMatchPrefersLongerPrefix(t *testing.T) {
	hash := make([]byte, 32)
	hash[0], hash[1], hash[2], hash[3] = 0xAA, 0xBB, 0xCC, 0xDD

	sorted := [][]byte{
		{0xAA, 0xBB},
		{0xAA, 0xBB, 0xCC, 0xDD},
		{0xFF, 0xFF},
	}
	got := longestMatch(sorted, hash)
	test.AssertByteEquals(t, got, []byte{0xAA, 0xBB, 0xCC, 0xDD})
}

func TestLongestMatchNoneFound(t *testing.T) {
	hash := make([]byte, 32)
	sorted := [][]byte{{0xFF, 0xFF, 0xFF, 0xFF}}
	got := longestMatch(sorted, hash)
	test.Assert(t, got == nil, "expected no match")
}
