package index

import (
	"math"
	"math/rand"
)

// LSH buckets embeddings by random-hyperplane signatures. Each band hashes
// the vector through R hyperplanes into an R-bit signature; vectors sharing
// a signature in any band become dedup candidates.
type LSH struct {
	bands   int
	rows    int
	dims    int
	seed    int64
	planes  [][]float64          // bands*rows hyperplanes
	buckets []map[uint64][]int64 // one bucket map per band
}

// NewLSH creates an index with the given geometry. The seed fixes the
// hyperplanes, so two indexes built with the same seed bucket identically.
func NewLSH(bands, rows, dims int, seed int64) *LSH {
	if bands < 1 {
		bands = 8
	}
	if rows < 1 {
		rows = 12
	}
	l := &LSH{
		bands:   bands,
		rows:    rows,
		dims:    dims,
		seed:    seed,
		planes:  make([][]float64, bands*rows),
		buckets: make([]map[uint64][]int64, bands),
	}

	rng := rand.New(rand.NewSource(seed))
	for i := range l.planes {
		p := make([]float64, dims)
		var norm float64
		for j := range p {
			p[j] = rng.NormFloat64()
			norm += p[j] * p[j]
		}
		norm = math.Sqrt(norm)
		if norm > 0 {
			for j := range p {
				p[j] /= norm
			}
		}
		l.planes[i] = p
	}
	for b := range l.buckets {
		l.buckets[b] = make(map[uint64][]int64)
	}
	return l
}

// Add inserts a vector under the given id.
func (l *LSH) Add(id int64, vec []float64) {
	for b := 0; b < l.bands; b++ {
		sig := l.signature(b, vec)
		l.buckets[b][sig] = append(l.buckets[b][sig], id)
	}
}

// Candidates returns the ids sharing at least one band bucket with vec,
// deduplicated, in insertion order.
func (l *LSH) Candidates(vec []float64) []int64 {
	seen := make(map[int64]bool)
	var out []int64
	for b := 0; b < l.bands; b++ {
		sig := l.signature(b, vec)
		for _, id := range l.buckets[b][sig] {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}

// Remove drops an id from every bucket it occupies. O(total bucket size of
// the vector's bands); called only on supersession, which is rare.
func (l *LSH) Remove(id int64, vec []float64) {
	for b := 0; b < l.bands; b++ {
		sig := l.signature(b, vec)
		ids := l.buckets[b][sig]
		for i, v := range ids {
			if v == id {
				l.buckets[b][sig] = append(ids[:i], ids[i+1:]...)
				break
			}
		}
	}
}

func (l *LSH) signature(band int, vec []float64) uint64 {
	var sig uint64
	base := band * l.rows
	for r := 0; r < l.rows; r++ {
		plane := l.planes[base+r]
		var dot float64
		n := len(vec)
		if n > l.dims {
			n = l.dims
		}
		for i := 0; i < n; i++ {
			dot += plane[i] * vec[i]
		}
		if dot >= 0 {
			sig |= 1 << uint(r)
		}
	}
	return sig
}
