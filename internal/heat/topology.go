package heat

import "fmt"

// TriangleIndices triangulates the divisions×divisions vertex grid. Every
// interior cell emits four triangles: both diagonal halves of the quad, once
// per winding, so the surface stays visible from either side.
//
// A buffer whose length is not a multiple of three, is shorter than two
// vertices, or does not hold divisions² vertices yields ErrMalformedVertices
// and no indices.
func TriangleIndices(positions []float64, divisions int) ([]uint32, error) {
	if len(positions) < 6 || len(positions)%3 != 0 {
		return nil, fmt.Errorf("%w: %d components", ErrMalformedVertices, len(positions))
	}
	if divisions < 2 || len(positions)/3 != divisions*divisions {
		return nil, fmt.Errorf("%w: %d vertices for resolution %d", ErrMalformedVertices, len(positions)/3, divisions)
	}
	cells := divisions - 1
	indices := make([]uint32, 0, 12*cells*cells)
	for x := 0; x < cells; x++ {
		for t := 0; t < cells; t++ {
			corner := uint32(divisions*x + t)
			right := uint32(divisions*(x+1) + t)
			up := corner + 1
			diagonal := right + 1
			indices = append(indices,
				corner, diagonal, up,
				corner, right, diagonal,
				corner, up, diagonal,
				corner, diagonal, right,
			)
		}
	}
	return indices, nil
}

// GridLineIndices emits the wireframe lattice: for every interior cell one
// segment towards +x and one towards +t, without diagonals.
func GridLineIndices(divisions int) ([]uint32, error) {
	if divisions < 2 {
		return nil, fmt.Errorf("%w: resolution %d", ErrInvalidArgument, divisions)
	}
	cells := divisions - 1
	indices := make([]uint32, 0, 4*cells*cells)
	for x := 0; x < cells; x++ {
		for t := 0; t < cells; t++ {
			corner := uint32(divisions*x + t)
			indices = append(indices,
				corner, uint32(divisions*(x+1)+t),
				corner, corner+1,
			)
		}
	}
	return indices, nil
}
