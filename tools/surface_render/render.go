package surfacerender

import (
	"fmt"
	"io"
	"strings"

	"heatsurface/broker/internal/heat"
	"heatsurface/broker/internal/preview"
)

// Views lists the accepted View values.
var Views = []string{"heatmap", "profile"}

// Options describes one offline render.
type Options struct {
	Condition    string
	Samples      int
	Coefficients int
	Time         float64
	Divisions    int
	Diffusivity  float64
	View         string
	Title        string
}

// Defaults mirror the broker's default scene.
func Defaults() Options {
	return Options{
		Condition:    "step",
		Samples:      100,
		Coefficients: 100,
		Divisions:    100,
		Diffusivity:  0.6,
		View:         "heatmap",
	}
}

// Build evaluates the surface described by opts.
func Build(opts Options) (*heat.Surface, error) {
	cond, err := heat.ParseInitialCondition(opts.Condition)
	if err != nil {
		return nil, err
	}
	pipeline, err := heat.NewPipeline(heat.Params{
		Divisions:   opts.Divisions,
		Samples:     opts.Samples,
		Diffusivity: opts.Diffusivity,
		Lighting:    heat.LightingFlat,
	}, cond)
	if err != nil {
		return nil, err
	}
	return pipeline.Build(opts.Coefficients, opts.Time)
}

// Render builds the surface and writes the selected PNG view to w.
func Render(w io.Writer, opts Options) error {
	view := strings.ToLower(strings.TrimSpace(opts.View))
	if view != "" && view != "heatmap" && view != "profile" {
		return fmt.Errorf("%w: unknown view %q, want one of %s", heat.ErrInvalidArgument, opts.View, strings.Join(Views, ", "))
	}
	surface, err := Build(opts)
	if err != nil {
		return err
	}
	popts := preview.DefaultOptions()
	popts.Title = opts.Title
	if view == "profile" {
		return preview.Profile(w, surface, popts)
	}
	return preview.HeatMap(w, surface, popts)
}
