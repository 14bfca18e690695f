package reiserfs_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/reiserfs-ng/reiserfs-ng/reiserfs"
)

func TestHashFuncDeterministic(t *testing.T) {
	t.Parallel()
	names := []string{"", "a", "file.txt", "a-rather-longer-name-that-spans-more-than-one-block"}
	hashes := map[string]reiserfs.HashFunc{
		"tea":  reiserfs.TEAHash,
		"yura": reiserfs.YURAHash,
		"r5":   reiserfs.R5Hash,
	}
	for hashName, fn := range hashes {
		fn := fn
		t.Run(hashName, func(t *testing.T) {
			t.Parallel()
			for _, name := range names {
				assert.Equal(t, fn(name), fn(name), "hash of %q must be stable across calls", name)
			}
		})
	}
}

func TestHashFuncDistinguishesNames(t *testing.T) {
	t.Parallel()
	hashes := map[string]reiserfs.HashFunc{
		"tea":  reiserfs.TEAHash,
		"yura": reiserfs.YURAHash,
		"r5":   reiserfs.R5Hash,
	}
	for hashName, fn := range hashes {
		fn := fn
		t.Run(hashName, func(t *testing.T) {
			t.Parallel()
			assert.NotEqual(t, fn("alice"), fn("bob"))
		})
	}
}

// TestTEAHashSignExtendsHighBitBytes pins the reference's signed-char byte
// packing for a non-ASCII name: __tea_hash_func casts each byte through
// `signed char` before widening to uint32, so a high-bit-set byte sign-
// extends into the upper bits of its packed word rather than zero-filling.
func TestTEAHashSignExtendsHighBitBytes(t *testing.T) {
	t.Parallel()
	assert.Equal(t, uint32(0x88e70eb7), reiserfs.TEAHash("réiser"))
}

func TestHashValueDotEntries(t *testing.T) {
	t.Parallel()
	for _, h := range []reiserfs.Hash{reiserfs.HashTEA, reiserfs.HashYURA, reiserfs.HashR5} {
		h := h
		t.Run(h.String(), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, uint32(reiserfs.DotOffset), reiserfs.HashValue(h, "."))
			assert.Equal(t, uint32(reiserfs.DotDotOffset), reiserfs.HashValue(h, ".."))
		})
	}
}

func TestHashValueMasked(t *testing.T) {
	t.Parallel()
	names := []string{"etc", "usr", "home", "var", "a-much-longer-directory-entry-name"}
	for _, h := range []reiserfs.Hash{reiserfs.HashTEA, reiserfs.HashYURA, reiserfs.HashR5} {
		h := h
		t.Run(h.String(), func(t *testing.T) {
			t.Parallel()
			for _, name := range names {
				v := reiserfs.HashValue(h, name)
				assert.Zero(t, v%128, "offset must be a multiple of 128 (GET_HASH_VALUE mask)")
				assert.Zero(t, v&0x80000000, "offset must never set the top bit")
				assert.NotZero(t, v, "zero must be substituted per GET_HASH_VALUE")
			}
		})
	}
}

func TestHashString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "tea", reiserfs.HashTEA.String())
	assert.Equal(t, "yura", reiserfs.HashYURA.String())
	assert.Equal(t, "r5", reiserfs.HashR5.String())
	assert.Equal(t, "unknown", reiserfs.Hash(99).String())
}
