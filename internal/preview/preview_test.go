package preview

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/plot/vg"

	"heatsurface/broker/internal/heat"
)

func buildSurface(t *testing.T, k int, tau float64) *heat.Surface {
	t.Helper()
	pipeline, err := heat.NewPipeline(heat.Params{Divisions: 16, Samples: 50, Diffusivity: 0.6}, heat.Step(0.5))
	require.NoError(t, err)
	surface, err := pipeline.Build(k, tau)
	require.NoError(t, err)
	return surface
}

func TestHeatMapWritesPNG(t *testing.T) {
	var buf bytes.Buffer
	opts := Options{Width: 2 * vg.Inch, Height: 1 * vg.Inch, DPI: 50}
	require.NoError(t, HeatMap(&buf, buildSurface(t, 20, 0.01), opts))

	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, 100, img.Bounds().Dx())
	assert.Equal(t, 50, img.Bounds().Dy())
}

func TestHeatMapHandlesFlatSurface(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, HeatMap(&buf, buildSurface(t, 1, 0), Options{DPI: 30}))
	_, err := png.Decode(&buf)
	assert.NoError(t, err)
}

func TestProfileWritesPNG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Profile(&buf, buildSurface(t, 30, 0.02), Options{DPI: 30}))
	_, err := png.Decode(&buf)
	assert.NoError(t, err)
}

func TestRejectsMissingSurface(t *testing.T) {
	var buf bytes.Buffer
	assert.ErrorIs(t, HeatMap(&buf, nil, DefaultOptions()), ErrNoSurface)
	assert.ErrorIs(t, Profile(&buf, &heat.Surface{Divisions: 4}, DefaultOptions()), ErrNoSurface)
}
