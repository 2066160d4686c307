package heat

import (
	"fmt"
	"math"
)

// EvaluateMesh evaluates the closed-form Neumann solution on a
// divisions×divisions (x, t) lattice at simulated time tau.
//
// For the lattice point (x, t) with normX = x/D and normT = t/D the height is
//
//	[c0 + Σ_{n≥1} c_n·cos(nπ·normX)·exp(−(nπ)²·k·(normT+τ))] / L
//
// Positions are laid out row-major by x then t as (normX−½, height, normT−½)
// so the mesh is centred on the origin. heights carries the same values as the
// y components and is handed to the renderer as a per-vertex scalar.
func EvaluateMesh(coeffs []float64, samples, divisions int, tau, diffusivity float64) (positions, heights []float64, err error) {
	switch {
	case len(coeffs) < 1:
		return nil, nil, fmt.Errorf("%w: no coefficients", ErrInvalidArgument)
	case samples < 1:
		return nil, nil, fmt.Errorf("%w: distribution length %d", ErrInvalidArgument, samples)
	case divisions < 2:
		return nil, nil, fmt.Errorf("%w: resolution %d", ErrInvalidArgument, divisions)
	case math.IsNaN(tau) || math.IsInf(tau, 0) || tau < 0:
		return nil, nil, fmt.Errorf("%w: simulated time %v", ErrInvalidArgument, tau)
	case math.IsNaN(diffusivity) || math.IsInf(diffusivity, 0) || diffusivity < 0:
		return nil, nil, fmt.Errorf("%w: diffusivity %v", ErrInvalidArgument, diffusivity)
	}

	d := float64(divisions)
	k := len(coeffs)

	// decay[n*divisions+t] = exp(−(nπ)²·k·(t/D+τ)); row 0 is unused.
	decay := make([]float64, k*divisions)
	for n := 1; n < k; n++ {
		lambda := float64(n) * math.Pi
		rate := -lambda * lambda * diffusivity
		for t := 0; t < divisions; t++ {
			decay[n*divisions+t] = math.Exp(rate * (float64(t)/d + tau))
		}
	}

	positions = make([]float64, 3*divisions*divisions)
	heights = make([]float64, divisions*divisions)
	modes := make([]float64, k)
	l := float64(samples)
	for x := 0; x < divisions; x++ {
		normX := float64(x) / d
		for n := 1; n < k; n++ {
			modes[n] = coeffs[n] * math.Cos(float64(n)*math.Pi*normX)
		}
		for t := 0; t < divisions; t++ {
			sum := coeffs[0]
			for n := 1; n < k; n++ {
				sum += modes[n] * decay[n*divisions+t]
			}
			h := sum / l
			vertex := x*divisions + t
			heights[vertex] = h
			positions[3*vertex] = normX - 0.5
			positions[3*vertex+1] = h
			positions[3*vertex+2] = float64(t)/d - 0.5
		}
	}
	return positions, heights, nil
}
