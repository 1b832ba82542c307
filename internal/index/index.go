// Package index implements the three-layer deduplication index: an exact
// concept-key table, a Bloom filter over label/value bigrams for fast
// negatives, and an LSH over embeddings for semantic candidates.
//
// The index holds no lock of its own. Callers must guard it together with
// the node arena so both are updated atomically on insert.
package index

import (
	"strings"
)

// Index is the combined dedup structure.
type Index struct {
	byKey map[string]int64 // normalized concept key → active node id
	bloom *Bloom
	lsh   *LSH
}

// New creates an empty index for embeddings of the given dimension.
// The seed fixes the LSH hyperplanes.
func New(dims int, seed int64) *Index {
	return &Index{
		byKey: make(map[string]int64),
		bloom: NewBloom(1<<16, 4),
		lsh:   NewLSH(8, 12, dims, seed),
	}
}

// NormalizeKey canonicalizes a concept key for exact matching.
func NormalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// Insert registers a node across all three layers. An empty concept key
// skips the exact layer; a nil vector skips the LSH layer.
func (x *Index) Insert(id int64, conceptKey, label, value string, vec []float64) {
	if k := NormalizeKey(conceptKey); k != "" {
		x.byKey[k] = id
	}
	x.bloom.Add(label, value)
	if len(vec) > 0 {
		x.lsh.Add(id, vec)
	}
}

// ActiveByKey returns the active node id for a concept key.
func (x *Index) ActiveByKey(conceptKey string) (int64, bool) {
	id, ok := x.byKey[NormalizeKey(conceptKey)]
	return id, ok
}

// ReplaceKey points a concept key at a new active node (supersession).
func (x *Index) ReplaceKey(conceptKey string, id int64) {
	if k := NormalizeKey(conceptKey); k != "" {
		x.byKey[k] = id
	}
}

// DropKey removes a concept key mapping (retraction of the active version).
func (x *Index) DropKey(conceptKey string) {
	delete(x.byKey, NormalizeKey(conceptKey))
}

// MaybeSeen reports whether a node with a near-identical (label, value) may
// have been inserted before. False is authoritative.
func (x *Index) MaybeSeen(label, value string) bool {
	return x.bloom.MaybeContains(label, value)
}

// Candidates returns semantic dedup candidates for a vector.
func (x *Index) Candidates(vec []float64) []int64 {
	return x.lsh.Candidates(vec)
}

// RemoveVector unbuckets a superseded node so it stops shadowing new writes.
func (x *Index) RemoveVector(id int64, vec []float64) {
	if len(vec) > 0 {
		x.lsh.Remove(id, vec)
	}
}

// Keys returns the number of concept keys currently mapped.
func (x *Index) Keys() int {
	return len(x.byKey)
}
