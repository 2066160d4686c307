package heat

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Coefficients returns the first k terms of the cosine series of dist.
//
// Index 0 is the arithmetic mean. For n >= 1 the n-th coefficient is
//
//	(2/L) · Σ_i dist[i]·cos(nπi/L)
//
// where L is the number of samples.
func Coefficients(dist Distribution, k int) ([]float64, error) {
	if k < 1 {
		return nil, fmt.Errorf("%w: coefficient count %d", ErrInvalidArgument, k)
	}
	length := len(dist)
	if length < 1 {
		return nil, fmt.Errorf("%w: empty distribution", ErrInvalidArgument)
	}
	l := float64(length)
	coeffs := make([]float64, k)
	coeffs[0] = floats.Sum(dist) / l

	basis := make([]float64, length)
	for n := 1; n < k; n++ {
		lambda := float64(n) * math.Pi / l
		for i := range basis {
			basis[i] = math.Cos(lambda * float64(i))
		}
		coeffs[n] = 2 * floats.Dot(dist, basis) / l
	}
	return coeffs, nil
}
