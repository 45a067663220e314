package retrieval

import (
	"math"
	"slices"
)

// Candidate pairs an item with its stored embedding.
type Candidate[T any] struct {
	Item   T
	Vector []float32
}

// Scored is a Candidate's item with its similarity to the query.
type Scored[T any] struct {
	Item  T
	Score float64
}

// Rank scores every candidate against query by cosine similarity and returns
// them in descending score order. Equal scores keep their input order.
// Candidates with a zero-norm vector or a length different from query score
// -Inf and therefore sort last; no score is ever NaN.
func Rank[T any](query []float32, candidates []Candidate[T]) []Scored[T] {
	qNorm := norm(query)
	out := make([]Scored[T], len(candidates))
	for i, c := range candidates {
		out[i] = Scored[T]{Item: c.Item, Score: cosine(query, c.Vector, qNorm)}
	}
	slices.SortStableFunc(out, func(a, b Scored[T]) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})
	return out
}

// Cosine returns the cosine similarity of a and b, or -Inf when it is undefined.
func Cosine(a, b []float32) float64 {
	return cosine(a, b, norm(a))
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float64 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return math.Sqrt(sum)
}

// cosine computes dot(a,b) / (aNorm * bNorm). aNorm is the precomputed L2
// norm of a.
func cosine(a, b []float32, aNorm float64) float64 {
	if len(a) == 0 || len(a) != len(b) || aNorm == 0 {
		return math.Inf(-1)
	}
	var dot, bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	if bNormSq == 0 {
		return math.Inf(-1)
	}
	s := dot / (aNorm * math.Sqrt(bNormSq))
	if math.IsNaN(s) {
		return math.Inf(-1)
	}
	return s
}
