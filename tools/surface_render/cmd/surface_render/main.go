package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"

	surfacerender "heatsurface/broker/tools/surface_render"
)

func main() {
	def := surfacerender.Defaults()
	condition := flag.String("condition", def.Condition, "Initial condition (step, step:0.3, uniform:2, pulse:0.5:0.2, cosine:4)")
	samples := flag.Int("samples", def.Samples, "Distribution samples")
	coefficients := flag.Int("coefficients", def.Coefficients, "Number of Fourier coefficients")
	tau := flag.Float64("time", 0, "Simulated time")
	divisions := flag.Int("divisions", def.Divisions, "Mesh resolution")
	diffusivity := flag.Float64("diffusivity", def.Diffusivity, "Diffusion rate")
	view := flag.String("view", def.View, "heatmap or profile")
	title := flag.String("title", "", "Plot title")
	out := flag.String("out", "", "Output PNG path; stdout when empty")
	flag.Parse()

	var w io.Writer = os.Stdout
	if *out != "" {
		file, err := os.Create(*out)
		if err != nil {
			fmt.Fprintln(os.Stderr, "create output:", err)
			os.Exit(1)
		}
		defer file.Close()
		w = file
	}
	buffered := bufio.NewWriter(w)

	err := surfacerender.Render(buffered, surfacerender.Options{
		Condition:    *condition,
		Samples:      *samples,
		Coefficients: *coefficients,
		Time:         *tau,
		Divisions:    *divisions,
		Diffusivity:  *diffusivity,
		View:         *view,
		Title:        *title,
	})
	if err == nil {
		err = buffered.Flush()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "render error:", err)
		os.Exit(2)
	}
}
