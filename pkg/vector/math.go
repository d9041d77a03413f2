package vector

import (
	"math"
	"sort"
)

// CosineSimilarity returns the cosine similarity of a and b, or 0 when the
// lengths differ or either vector has zero norm.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}

	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

// Normalize returns a unit-length copy of v. A zero vector is returned as a copy.
func Normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		copy(out, v)
		return out
	}

	norm = math.Sqrt(norm)
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// SortResults orders results by score desc, then CreatedAt desc, then Seq desc.
func SortResults(results []QueryResult) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return newer(a.Document, b.Document)
	})
}

// SortNewestFirst orders documents by CreatedAt desc, then Seq desc.
func SortNewestFirst(docs []Document) {
	sort.SliceStable(docs, func(i, j int) bool {
		return newer(docs[i], docs[j])
	})
}

func newer(a, b Document) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.Seq > b.Seq
}

// FinalizeResults drops results below a positive minScore, orders them, and
// caps them at topK.
func FinalizeResults(results []QueryResult, minScore float32, topK int) []QueryResult {
	if topK <= 0 {
		return []QueryResult{}
	}

	kept := make([]QueryResult, 0, len(results))
	for _, r := range results {
		if minScore <= 0 || r.Score >= minScore {
			kept = append(kept, r)
		}
	}

	SortResults(kept)
	if len(kept) > topK {
		kept = kept[:topK]
	}
	return kept
}
