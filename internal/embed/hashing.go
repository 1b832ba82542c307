package embed

import (
	"context"
	"hash/fnv"
)

// HashingEmbedder generates feature-hashed bag-of-words embeddings as a
// fallback when no external embedder is reachable. Unlike a corpus-fitted
// model, the mapping depends only on the text, so vectors are stable across
// restarts and snapshots.
type HashingEmbedder struct {
	dims int
}

// NewHashingEmbedder creates a deterministic fallback embedder.
func NewHashingEmbedder(dims int) *HashingEmbedder {
	if dims <= 0 {
		dims = 256
	}
	return &HashingEmbedder{dims: dims}
}

func (h *HashingEmbedder) Model() string   { return "hashing" }
func (h *HashingEmbedder) Dimensions() int { return h.dims }

// Embed hashes unigrams and token bigrams into a signed feature vector and
// L2-normalizes it. Empty input yields the zero vector.
func (h *HashingEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	tokens := Tokenize(text)
	vec := make([]float64, h.dims)
	if len(tokens) == 0 {
		return vec, nil
	}

	add := func(feature string, weight float64) {
		idx, sign := h.slot(feature)
		vec[idx] += sign * weight
	}

	for i, tok := range tokens {
		add(tok, 1.0)
		if i+1 < len(tokens) {
			// Bigrams carry word order information the bag loses.
			add(tok+" "+tokens[i+1], 0.5)
		}
	}

	Normalize(vec)
	return vec, nil
}

// slot maps a feature string to a vector index and a ±1 sign.
// The sign bit keeps hash collisions from always adding constructively.
func (h *HashingEmbedder) slot(feature string) (int, float64) {
	hash := fnv.New64a()
	hash.Write([]byte(feature))
	v := hash.Sum64()

	sign := 1.0
	if v&1 == 1 {
		sign = -1.0
	}
	return int((v >> 1) % uint64(h.dims)), sign
}
