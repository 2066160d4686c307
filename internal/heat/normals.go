package heat

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

// Normals estimates a unit normal for every vertex of the grid as
// unit(cross(∂x, ∂t)), where the partials are forward differences of the
// vertex positions. The last row and column have no forward neighbour and use
// the backward difference instead (clamp-to-edge).
func Normals(positions []float64, divisions int) ([]float64, error) {
	if divisions < 2 || len(positions) != 3*divisions*divisions {
		return nil, fmt.Errorf("%w: %d components for resolution %d", ErrMalformedVertices, len(positions), divisions)
	}
	at := func(x, t int) r3.Vec {
		i := 3 * (x*divisions + t)
		return r3.Vec{X: positions[i], Y: positions[i+1], Z: positions[i+2]}
	}
	last := divisions - 1
	normals := make([]float64, len(positions))
	for x := 0; x < divisions; x++ {
		for t := 0; t < divisions; t++ {
			var dx, dt r3.Vec
			if x < last {
				dx = r3.Sub(at(x+1, t), at(x, t))
			} else {
				dx = r3.Sub(at(x, t), at(x-1, t))
			}
			if t < last {
				dt = r3.Sub(at(x, t+1), at(x, t))
			} else {
				dt = r3.Sub(at(x, t), at(x, t-1))
			}
			n := r3.Unit(r3.Cross(dx, dt))
			i := 3 * (x*divisions + t)
			normals[i], normals[i+1], normals[i+2] = n.X, n.Y, n.Z
		}
	}
	return normals, nil
}
