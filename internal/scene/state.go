package scene

import (
	"time"

	"github.com/go-gl/mathgl/mgl32"
)

// Phase is the run state of the scene.
type Phase int

const (
	Paused Phase = iota
	Running
)

func (p Phase) String() string {
	if p == Running {
		return "running"
	}
	return "paused"
}

// Effect reports which parts of the scene an update touched.
type Effect uint8

const (
	// EffectSurface means simulated time or the coefficient count changed and
	// the mesh must be rebuilt.
	EffectSurface Effect = 1 << iota
	// EffectCamera means the world matrix changed.
	EffectCamera
	// EffectStatus means the phase or a display label changed.
	EffectStatus

	EffectNone Effect = 0
)

// Has reports whether all bits of other are set.
func (e Effect) Has(other Effect) bool { return e&other == other && other != 0 }

// State is the complete mutable scene. All transitions are plain functions
// over *State so input handling and the frame loop share no hidden variables.
type State struct {
	Phase        Phase
	Time         float64
	Coefficients int
	// Anchor is the wall-clock instant simulated time was last advanced from.
	Anchor time.Time
	World  mgl32.Mat4
	// Drags holds the last pointer position of every viewer currently dragging.
	Drags map[string]Point
}

// NewState returns a scene at τ = 0 with an identity world matrix.
func NewState(coefficients int, running bool, now time.Time) State {
	s := State{
		Phase:        Paused,
		Coefficients: coefficients,
		World:        mgl32.Ident4(),
		Drags:        make(map[string]Point),
	}
	if running {
		s.Phase = Running
		s.Anchor = now
	}
	return s
}

// Toggle flips between Paused and Running. Entering Running records now as
// the anchor so the paused interval is not counted.
func Toggle(s *State, now time.Time) Effect {
	if s.Phase == Running {
		s.Phase = Paused
		return EffectStatus
	}
	s.Phase = Running
	s.Anchor = now
	return EffectStatus
}

// Advance moves simulated time forward by the wall-clock delta since the
// anchor multiplied by scale. It is a no-op while paused.
func Advance(s *State, now time.Time, scale float64) Effect {
	if s.Phase != Running {
		return EffectNone
	}
	elapsed := now.Sub(s.Anchor)
	if elapsed <= 0 {
		return EffectNone
	}
	s.Anchor = now
	delta := elapsed.Seconds() * scale
	if delta == 0 {
		return EffectNone
	}
	s.Time += delta
	return EffectSurface | EffectStatus
}

// StepTime shifts simulated time by delta, never below zero.
func StepTime(s *State, delta float64) Effect {
	next := s.Time + delta
	if next < 0 {
		next = 0
	}
	if next == s.Time {
		return EffectNone
	}
	s.Time = next
	return EffectSurface | EffectStatus
}

// AdjustCoefficients changes the coefficient count by delta, clamped to
// [1, max].
func AdjustCoefficients(s *State, delta, max int) Effect {
	next := s.Coefficients + delta
	if next < 1 {
		next = 1
	}
	if max > 0 && next > max {
		next = max
	}
	if next == s.Coefficients {
		return EffectNone
	}
	s.Coefficients = next
	return EffectSurface | EffectStatus
}

// Reset rewinds to τ = 0, pauses, and restores the default camera.
func Reset(s *State) Effect {
	s.Phase = Paused
	s.Time = 0
	s.World = mgl32.Ident4()
	for viewer := range s.Drags {
		delete(s.Drags, viewer)
	}
	return EffectSurface | EffectCamera | EffectStatus
}

// BeginDrag records the pointer position at which viewer started dragging.
func BeginDrag(s *State, viewer string, pos Point) Effect {
	if s.Drags == nil {
		s.Drags = make(map[string]Point)
	}
	s.Drags[viewer] = pos
	return EffectNone
}

// Drag rotates the world by the pointer movement since the previous event of
// the same viewer. Movements from viewers that are not dragging are ignored.
func Drag(s *State, viewer string, pos Point, width, height float64) Effect {
	last, ok := s.Drags[viewer]
	if !ok || width <= 0 || height <= 0 {
		return EffectNone
	}
	s.Drags[viewer] = pos
	delta := DragDelta(last, pos, width, height)
	if delta == (Point{}) {
		return EffectNone
	}
	s.World = RotateWorld(s.World, delta)
	return EffectCamera
}

// EndDrag forgets the viewer's drag anchor.
func EndDrag(s *State, viewer string) Effect {
	delete(s.Drags, viewer)
	return EffectNone
}
