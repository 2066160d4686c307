package heat

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoefficientsUniformDistribution(t *testing.T) {
	const value = 3.5
	for _, length := range []int{10, 100, 1000} {
		dist, err := Sample(Uniform(value), length)
		require.NoError(t, err)

		count := 40
		if length < count {
			count = length
		}
		coeffs, err := Coefficients(dist, count)
		require.NoError(t, err)
		require.Len(t, coeffs, count)
		assert.InDelta(t, value, coeffs[0], 1e-12)

		// Even modes cancel exactly over the sample nodes; odd modes leave a
		// left-endpoint residue of 2·value/L that vanishes as L grows.
		residue := 2 * value / float64(length)
		for n := 1; n < len(coeffs); n++ {
			if n%2 == 0 {
				assert.InDeltaf(t, 0, coeffs[n], 1e-9, "L=%d n=%d", length, n)
			} else {
				assert.InDeltaf(t, 0, coeffs[n], residue+1e-9, "L=%d n=%d", length, n)
			}
		}
	}
}

func TestCoefficientsStepScenario(t *testing.T) {
	dist, err := Sample(Step(0.5), 100)
	require.NoError(t, err)

	coeffs, err := Coefficients(dist, 100)
	require.NoError(t, err)
	require.Len(t, coeffs, 100)
	assert.InDelta(t, 0.5, coeffs[0], 1e-6)
}

func TestCoefficientsMatchDirectSum(t *testing.T) {
	dist, err := Sample(Pulse(0.3, 0.25), 64)
	require.NoError(t, err)

	coeffs, err := Coefficients(dist, 12)
	require.NoError(t, err)
	l := float64(len(dist))
	for n := 1; n < len(coeffs); n++ {
		sum := 0.0
		for i, v := range dist {
			sum += v * math.Cos(float64(n)*math.Pi*float64(i)/l)
		}
		assert.InDeltaf(t, 2*sum/l, coeffs[n], 1e-12, "n=%d", n)
	}
}

func TestCoefficientsRejectsInvalidArguments(t *testing.T) {
	dist, err := Sample(Step(0.5), 8)
	require.NoError(t, err)

	_, err = Coefficients(dist, 0)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = Coefficients(nil, 4)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestSampleRejectsEmptyDistribution(t *testing.T) {
	_, err := Sample(Step(0.5), 0)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = Sample(nil, 4)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestParseInitialCondition(t *testing.T) {
	cases := []struct {
		raw  string
		u    float64
		want float64
	}{
		{raw: "step", u: 0.25, want: 1},
		{raw: "step", u: 0.5, want: 0},
		{raw: "step:0.2", u: 0.25, want: 0},
		{raw: "uniform:2", u: 0.9, want: 2},
		{raw: "pulse:0.5:0.2", u: 0.55, want: 1},
		{raw: "pulse:0.5:0.2", u: 0.75, want: 0},
		{raw: " Cosine:2 ", u: 0.5, want: -1},
	}
	for _, tc := range cases {
		cond, err := ParseInitialCondition(tc.raw)
		require.NoErrorf(t, err, "parse %q", tc.raw)
		assert.InDeltaf(t, tc.want, cond(tc.u), 1e-12, "%q at %v", tc.raw, tc.u)
	}

	_, err := ParseInitialCondition("sawtooth")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = ParseInitialCondition("step:abc")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
