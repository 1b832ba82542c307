package index

import (
	"hash/fnv"
	"strings"
)

// Bloom is a fixed-size Bloom filter over (label, normalized value) bigrams.
// It answers "definitely not seen" cheaply; positives fall through to the
// LSH layer for a real similarity check.
type Bloom struct {
	bits   []uint64
	nbits  uint64
	hashes int
}

// NewBloom creates a filter with the given bit count (rounded up to a
// multiple of 64) and hash count.
func NewBloom(nbits uint64, hashes int) *Bloom {
	if nbits < 64 {
		nbits = 64
	}
	if hashes < 1 {
		hashes = 3
	}
	words := (nbits + 63) / 64
	return &Bloom{
		bits:   make([]uint64, words),
		nbits:  words * 64,
		hashes: hashes,
	}
}

// Add inserts the bigram set of (label, value) into the filter.
func (b *Bloom) Add(label, value string) {
	for _, bg := range keyBigrams(label, value) {
		h1, h2 := bloomHash(bg)
		for i := 0; i < b.hashes; i++ {
			b.set((h1 + uint64(i)*h2) % b.nbits)
		}
	}
}

// MaybeContains reports whether a majority of the bigrams of (label, value)
// are present. False means the pair was definitely never added.
func (b *Bloom) MaybeContains(label, value string) bool {
	bigrams := keyBigrams(label, value)
	if len(bigrams) == 0 {
		return false
	}

	hits := 0
	for _, bg := range bigrams {
		h1, h2 := bloomHash(bg)
		all := true
		for i := 0; i < b.hashes; i++ {
			if !b.get((h1 + uint64(i)*h2) % b.nbits) {
				all = false
				break
			}
		}
		if all {
			hits++
		}
	}
	return hits*2 > len(bigrams)
}

func (b *Bloom) set(pos uint64) {
	b.bits[pos/64] |= 1 << (pos % 64)
}

func (b *Bloom) get(pos uint64) bool {
	return b.bits[pos/64]&(1<<(pos%64)) != 0
}

// keyBigrams produces character bigrams of "label|normalized value".
func keyBigrams(label, value string) []string {
	s := strings.ToLower(strings.TrimSpace(label)) + "|" + normalizeValue(value)
	if len(s) < 2 {
		return nil
	}
	out := make([]string, 0, len(s)-1)
	for i := 0; i < len(s)-1; i++ {
		out = append(out, s[i:i+2])
	}
	return out
}

// normalizeValue lowercases and collapses runs of whitespace to single spaces.
func normalizeValue(v string) string {
	return strings.Join(strings.Fields(strings.ToLower(v)), " ")
}

// bloomHash derives two independent 64-bit hashes for double hashing.
func bloomHash(s string) (uint64, uint64) {
	h := fnv.New64a()
	h.Write([]byte(s))
	h1 := h.Sum64()
	h.Write([]byte{0xff})
	h2 := h.Sum64() | 1 // odd, so the stride cycles the whole table
	return h1, h2
}
