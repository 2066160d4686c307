package frame

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"heatsurface/broker/internal/scene"
)

// HeightStats summarises the evaluated heights of a surface.
type HeightStats struct {
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	Mean     float64 `json:"mean"`
	Variance float64 `json:"variance"`
}

// Snapshot is the JSON rendition of a scene update for HTTP clients.
type Snapshot struct {
	Tick             uint64       `json:"tick"`
	Phase            string       `json:"phase"`
	Time             float64      `json:"time"`
	TimeLabel        string       `json:"time_label"`
	Coefficients     int          `json:"coefficients"`
	CoefficientLabel string       `json:"coefficient_label"`
	Divisions        int          `json:"divisions"`
	Vertices         int          `json:"vertices"`
	Triangles        int          `json:"triangles"`
	Lines            int          `json:"lines"`
	Series           []float64    `json:"series"`
	Heights          *HeightStats `json:"heights,omitempty"`
	World            [16]float32  `json:"world"`
	// ModelViewProjection is present when the client supplied an aspect ratio.
	ModelViewProjection *[16]float32 `json:"model_view_projection,omitempty"`
	RebuildMillis       float64      `json:"rebuild_ms"`
}

// NewSnapshot summarises u. When aspect is positive the combined camera
// matrix for that viewport is included.
func NewSnapshot(u scene.Update, aspect float64) Snapshot {
	snap := Snapshot{
		Tick:             u.Tick,
		Phase:            u.Phase.String(),
		Time:             u.Time,
		TimeLabel:        u.TimeLabel(),
		Coefficients:     u.Coefficients,
		CoefficientLabel: u.CoefficientLabel(),
		World:            u.World,
		RebuildMillis:    float64(u.Rebuild.Microseconds()) / 1000,
	}
	if s := u.Surface; s != nil {
		snap.Divisions = s.Divisions
		snap.Vertices = s.VertexCount()
		snap.Triangles = len(s.Triangles) / 3
		snap.Lines = len(s.Lines) / 2
		snap.Series = s.Coefficients
		if len(s.Heights) > 0 {
			mean, variance := stat.MeanVariance(s.Heights, nil)
			snap.Heights = &HeightStats{
				Min:      floats.Min(s.Heights),
				Max:      floats.Max(s.Heights),
				Mean:     mean,
				Variance: variance,
			}
		}
	}
	if aspect > 0 {
		mvp := [16]float32(scene.ModelViewProjection(u.World, aspect))
		snap.ModelViewProjection = &mvp
	}
	return snap
}
