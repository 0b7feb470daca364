package voiceprint

import "math"

// Cosine returns the cosine similarity of two embeddings mapped from
// [-1, 1] onto [0, 1], matching the score range the local engines report.
// Mismatched or empty vectors score 0.
func Cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	sim := dot / (math.Sqrt(na)*math.Sqrt(nb) + 1e-8)
	return (sim + 1) / 2
}

// Normalize rescales v to unit L2 norm in place and returns it.
func Normalize(v []float64) []float64 {
	var n float64
	for _, x := range v {
		n += x * x
	}
	n = math.Sqrt(n) + 1e-8
	for i := range v {
		v[i] /= n
	}
	return v
}
