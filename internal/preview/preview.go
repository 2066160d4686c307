// Package preview renders server-side images of the heat surface for clients
// without a GPU viewer.
package preview

import (
	"errors"
	"fmt"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"heatsurface/broker/internal/heat"
)

// ErrNoSurface is returned when there is nothing to render.
var ErrNoSurface = errors.New("preview: no surface")

// Options controls the rendered image.
type Options struct {
	Width  vg.Length
	Height vg.Length
	DPI    int
	Title  string
}

// DefaultOptions is a small image suitable for dashboards.
func DefaultOptions() Options {
	return Options{Width: 6 * vg.Inch, Height: 4.5 * vg.Inch, DPI: 96}
}

func (o Options) normalised() Options {
	def := DefaultOptions()
	if o.Width <= 0 {
		o.Width = def.Width
	}
	if o.Height <= 0 {
		o.Height = def.Height
	}
	if o.DPI <= 0 {
		o.DPI = def.DPI
	}
	return o
}

// surfaceGrid exposes the height buffer as a plotter.GridXYZ with x along
// columns and the time axis along rows.
type surfaceGrid struct {
	divisions int
	heights   []float64
}

func (g surfaceGrid) Dims() (c, r int) { return g.divisions, g.divisions }

func (g surfaceGrid) Z(c, r int) float64 { return g.heights[c*g.divisions+r] }

func (g surfaceGrid) X(c int) float64 { return float64(c) / float64(g.divisions) }

func (g surfaceGrid) Y(r int) float64 { return float64(r) / float64(g.divisions) }

// HeatMap draws the surface heights as a colour map over normalised (x, t)
// and writes it to w as PNG.
func HeatMap(w io.Writer, surface *heat.Surface, opts Options) error {
	if surface == nil || surface.Divisions < 2 || len(surface.Heights) != surface.Divisions*surface.Divisions {
		return ErrNoSurface
	}
	opts = opts.normalised()

	p := plot.New()
	p.Title.Text = opts.Title
	if p.Title.Text == "" {
		p.Title.Text = fmt.Sprintf("Heat surface τ=%.5f K=%d", surface.Time, len(surface.Coefficients))
	}
	p.X.Label.Text = "x"
	p.Y.Label.Text = "t"

	hm := plotter.NewHeatMap(surfaceGrid{divisions: surface.Divisions, heights: surface.Heights}, moreland.SmoothBlueRed().Palette(255))
	if hm.Max-hm.Min < 1e-12 {
		// A fully diffused surface is flat; give the palette a non-empty range.
		hm.Min -= 0.5
		hm.Max += 0.5
	}
	p.Add(hm)
	return writePNG(w, p, opts)
}

// Profile draws the temperature along x at the first time row, which is the
// evaluated series at simulated time τ.
func Profile(w io.Writer, surface *heat.Surface, opts Options) error {
	if surface == nil || surface.Divisions < 2 || len(surface.Heights) != surface.Divisions*surface.Divisions {
		return ErrNoSurface
	}
	opts = opts.normalised()

	p := plot.New()
	p.Title.Text = opts.Title
	if p.Title.Text == "" {
		p.Title.Text = fmt.Sprintf("Temperature profile τ=%.5f", surface.Time)
	}
	p.X.Label.Text = "x"
	p.Y.Label.Text = "u"

	pts := make(plotter.XYs, surface.Divisions)
	for x := range pts {
		pts[x].X = float64(x) / float64(surface.Divisions)
		pts[x].Y = surface.Heights[x*surface.Divisions]
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return fmt.Errorf("profile line: %w", err)
	}
	line.LineStyle.Width = vg.Points(2)
	p.Add(line, plotter.NewGrid())
	return writePNG(w, p, opts)
}

func writePNG(w io.Writer, p *plot.Plot, opts Options) error {
	canvas := vgimg.NewWith(vgimg.UseWH(opts.Width, opts.Height), vgimg.UseDPI(opts.DPI))
	p.Draw(draw.New(canvas))
	if _, err := (vgimg.PngCanvas{Canvas: canvas}).WriteTo(w); err != nil {
		return fmt.Errorf("write png: %w", err)
	}
	return nil
}
