package rag

import (
	"math"
	"sort"
)

// Candidate is a stored document together with its vector, as scanned by
// brute-force backends.
type Candidate struct {
	Doc    Document
	Vector []float32
}

// Rank scores candidates against query, drops those rejected by f, and
// returns at most topK documents ordered by descending similarity. Ties keep
// the candidates' original order.
func Rank(query []float32, cands []Candidate, f Filter, topK int) []Document {
	out := make([]Document, 0, len(cands))
	for _, c := range cands {
		if !f.Match(c.Doc.Metadata) {
			continue
		}
		d := c.Doc
		d.Score = CosineSimilarity(query, c.Vector)
		out = append(out, d)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0 when
// either is a zero vector or their lengths differ.
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

// Distance converts a cosine similarity score into a distance where smaller
// is closer.
func Distance(score float32) float32 { return 1 - score }
