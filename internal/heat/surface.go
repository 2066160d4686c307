package heat

import (
	"fmt"
	"math"
	"strings"
)

// Lighting selects which optional buffers a rebuild produces.
type Lighting uint8

const (
	// LightingNormals computes per-vertex normals for shaded rendering.
	LightingNormals Lighting = iota
	// LightingFlat skips normal estimation; the renderer colours by height only.
	LightingFlat
)

func (l Lighting) String() string {
	switch l {
	case LightingFlat:
		return "flat"
	default:
		return "normals"
	}
}

// ParseLighting maps "normals" or "flat" to a Lighting mode.
func ParseLighting(raw string) (Lighting, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "normals", "shaded":
		return LightingNormals, nil
	case "flat":
		return LightingFlat, nil
	default:
		return LightingNormals, fmt.Errorf("%w: unknown lighting mode %q", ErrInvalidArgument, raw)
	}
}

// Params configures a surface pipeline.
type Params struct {
	Divisions   int
	Samples     int
	Diffusivity float64
	Lighting    Lighting
}

// Validate reports the first precondition Params violates.
func (p Params) Validate() error {
	switch {
	case p.Divisions < 2:
		return fmt.Errorf("%w: resolution %d", ErrInvalidArgument, p.Divisions)
	case p.Samples < 1:
		return fmt.Errorf("%w: distribution length %d", ErrInvalidArgument, p.Samples)
	case math.IsNaN(p.Diffusivity) || math.IsInf(p.Diffusivity, 0) || p.Diffusivity < 0:
		return fmt.Errorf("%w: diffusivity %v", ErrInvalidArgument, p.Diffusivity)
	}
	return nil
}

// Surface is the complete output of one rebuild. Every field is freshly
// allocated; nothing is shared with earlier rebuilds.
type Surface struct {
	Divisions    int
	Time         float64
	Coefficients []float64
	Positions    []float64
	Heights      []float64
	Normals      []float64
	Triangles    []uint32
	Lines        []uint32
}

// VertexCount reports the number of mesh vertices.
func (s *Surface) VertexCount() int {
	if s == nil {
		return 0
	}
	return len(s.Positions) / 3
}

// Pipeline ties the sampler, coefficient calculator, mesh evaluator,
// topology builder and normal estimator together.
type Pipeline struct {
	params       Params
	distribution Distribution
}

// NewPipeline samples cond once; the distribution is fixed for the
// lifetime of the pipeline.
func NewPipeline(params Params, cond InitialCondition) (*Pipeline, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	dist, err := Sample(cond, params.Samples)
	if err != nil {
		return nil, err
	}
	return &Pipeline{params: params, distribution: dist}, nil
}

// Params returns the pipeline configuration.
func (p *Pipeline) Params() Params { return p.params }

// Distribution returns a copy of the sampled initial condition.
func (p *Pipeline) Distribution() Distribution {
	return append(Distribution(nil), p.distribution...)
}

// Build recomputes every buffer from scratch for numCoefficients terms at
// simulated time tau.
func (p *Pipeline) Build(numCoefficients int, tau float64) (*Surface, error) {
	coeffs, err := Coefficients(p.distribution, numCoefficients)
	if err != nil {
		return nil, err
	}
	positions, heights, err := EvaluateMesh(coeffs, len(p.distribution), p.params.Divisions, tau, p.params.Diffusivity)
	if err != nil {
		return nil, err
	}
	triangles, err := TriangleIndices(positions, p.params.Divisions)
	if err != nil {
		return nil, err
	}
	lines, err := GridLineIndices(p.params.Divisions)
	if err != nil {
		return nil, err
	}
	surface := &Surface{
		Divisions:    p.params.Divisions,
		Time:         tau,
		Coefficients: coeffs,
		Positions:    positions,
		Heights:      heights,
		Triangles:    triangles,
		Lines:        lines,
	}
	if p.params.Lighting == LightingNormals {
		if surface.Normals, err = Normals(positions, p.params.Divisions); err != nil {
			return nil, err
		}
	}
	return surface, nil
}
