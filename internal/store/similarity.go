package store

import "math"

// Score computes a higher-is-better similarity between a and b.
// Both vectors must have the same length.
func Score(d Distance, a, b []float32) float32 {
	switch d {
	case Dot:
		return float32(dot(a, b))
	case Euclid:
		var sum float64
		for i := range a {
			diff := float64(a[i]) - float64(b[i])
			sum += diff * diff
		}
		return -float32(math.Sqrt(sum))
	case Manhattan:
		var sum float64
		for i := range a {
			sum += math.Abs(float64(a[i]) - float64(b[i]))
		}
		return -float32(sum)
	default:
		return cosine(a, b)
	}
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func cosine(a, b []float32) float32 {
	var normA, normB float64
	for i := range a {
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot(a, b) / (math.Sqrt(normA) * math.Sqrt(normB)))
}
