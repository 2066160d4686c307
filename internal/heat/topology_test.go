package heat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gridPositions(divisions int) []float64 {
	return make([]float64, 3*divisions*divisions)
}

func TestTriangleIndicesCountAndRange(t *testing.T) {
	for _, divisions := range []int{2, 3, 10, 100} {
		indices, err := TriangleIndices(gridPositions(divisions), divisions)
		require.NoError(t, err)

		cells := divisions - 1
		assert.Len(t, indices, 12*cells*cells)
		limit := uint32(divisions * divisions)
		for _, idx := range indices {
			assert.Less(t, idx, limit)
		}
	}
}

func TestTriangleIndicesCoverQuadBothWindings(t *testing.T) {
	indices, err := TriangleIndices(gridPositions(2), 2)
	require.NoError(t, err)

	// corner=0, up=1, right=2, diagonal=3
	assert.Equal(t, []uint32{
		0, 3, 1,
		0, 2, 3,
		0, 1, 3,
		0, 3, 2,
	}, indices)
}

func TestTriangleIndicesRejectsMalformedBuffers(t *testing.T) {
	cases := map[string][]float64{
		"too short":        make([]float64, 3),
		"not a multiple":   make([]float64, 13),
		"wrong resolution": make([]float64, 3*9),
	}
	for name, positions := range cases {
		indices, err := TriangleIndices(positions, 4)
		assert.ErrorIsf(t, err, ErrMalformedVertices, name)
		assert.Nilf(t, indices, name)
	}
}

func TestGridLineIndicesConnectNeighbours(t *testing.T) {
	const divisions = 7
	indices, err := GridLineIndices(divisions)
	require.NoError(t, err)

	cells := divisions - 1
	require.Len(t, indices, 4*cells*cells)
	for i := 0; i < len(indices); i += 2 {
		a, b := int(indices[i]), int(indices[i+1])
		ax, at := a/divisions, a%divisions
		bx, bt := b/divisions, b%divisions
		dx, dt := bx-ax, bt-at
		assert.Truef(t, (dx == 1 && dt == 0) || (dx == 0 && dt == 1),
			"segment %d-%d is not a single grid step", a, b)
	}
}

func TestGridLineIndicesRejectsDegenerateResolution(t *testing.T) {
	_, err := GridLineIndices(1)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
