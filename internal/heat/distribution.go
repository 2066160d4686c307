package heat

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// InitialCondition maps a normalised position u in [0,1) to a temperature.
type InitialCondition func(u float64) float64

// Distribution holds the sampled initial condition over [0,1).
type Distribution []float64

// Len reports the number of samples.
func (d Distribution) Len() int { return len(d) }

// Sample evaluates cond at u = i/n for i in [0,n).
func Sample(cond InitialCondition, n int) (Distribution, error) {
	if cond == nil {
		return nil, fmt.Errorf("%w: nil initial condition", ErrInvalidArgument)
	}
	if n < 1 {
		return nil, fmt.Errorf("%w: distribution length %d", ErrInvalidArgument, n)
	}
	dist := make(Distribution, n)
	for i := range dist {
		dist[i] = cond(float64(i) / float64(n))
	}
	return dist, nil
}

// Step is hot (1) strictly left of edge and cold (0) from edge onwards.
func Step(edge float64) InitialCondition {
	return func(u float64) float64 {
		if u < edge {
			return 1
		}
		return 0
	}
}

// Uniform is a constant temperature profile.
func Uniform(value float64) InitialCondition {
	return func(float64) float64 { return value }
}

// Pulse is hot within width/2 of center.
func Pulse(center, width float64) InitialCondition {
	half := math.Abs(width) / 2
	return func(u float64) float64 {
		if math.Abs(u-center) <= half {
			return 1
		}
		return 0
	}
}

// Cosine is the single-mode profile cos(mode·π·u).
func Cosine(mode int) InitialCondition {
	lambda := float64(mode) * math.Pi
	return func(u float64) float64 { return math.Cos(lambda * u) }
}

// ParseInitialCondition resolves names such as "step", "step:0.3",
// "uniform:2", "pulse:0.5:0.2" or "cosine:4".
func ParseInitialCondition(raw string) (InitialCondition, error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(raw)), ":")
	args := make([]float64, 0, len(parts)-1)
	for _, part := range parts[1:] {
		value, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: initial condition %q: %v", ErrInvalidArgument, raw, err)
		}
		args = append(args, value)
	}
	arg := func(i int, fallback float64) float64 {
		if i < len(args) {
			return args[i]
		}
		return fallback
	}
	switch parts[0] {
	case "", "step":
		return Step(arg(0, 0.5)), nil
	case "uniform":
		return Uniform(arg(0, 1)), nil
	case "pulse":
		return Pulse(arg(0, 0.5), arg(1, 0.2)), nil
	case "cosine":
		return Cosine(int(arg(0, 4))), nil
	default:
		return nil, fmt.Errorf("%w: unknown initial condition %q", ErrInvalidArgument, raw)
	}
}
