// Package embedding holds vector helpers shared by the embedder implementations.
package embedding

import "math"

// Normalize returns a unit-length copy of v. ok is false when v has zero
// norm, in which case the zero copy is returned.
func Normalize(v []float32) (out []float32, ok bool) {
	out = make([]float32, len(v))
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return out, false
	}
	inv := 1 / math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out, true
}
