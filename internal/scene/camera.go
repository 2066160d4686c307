package scene

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

const (
	// FieldOfView is the vertical field of view of the viewer camera.
	FieldOfView = math.Pi / 3
	nearPlane   = 0.2
	farPlane    = 2000
	// dragGain converts normalised pointer travel into radians.
	dragGain = 5
)

var (
	cameraEye    = mgl32.Vec3{0, 0, 2}
	cameraTarget = mgl32.Vec3{0, 0, 0}
	cameraUp     = mgl32.Vec3{0, 1, 0}
)

// Point is a 2-D pointer coordinate relative to the canvas centre.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Sub returns p − o.
func (p Point) Sub(o Point) Point { return Point{X: p.X - o.X, Y: p.Y - o.Y} }

// Scale multiplies both components by the scalar s.
func (p Point) Scale(s float64) Point { return Point{X: p.X * s, Y: p.Y * s} }

// MulElem multiplies component-wise.
func (p Point) MulElem(o Point) Point { return Point{X: p.X * o.X, Y: p.Y * o.Y} }

// DragDelta maps the pointer movement from last to pos on a width×height
// canvas to rotation angles: X drives yaw, Y drives pitch.
func DragDelta(last, pos Point, width, height float64) Point {
	size := Point{X: 4 / width, Y: 4 / height}
	return last.Sub(pos).MulElem(size).Scale(dragGain)
}

// RotateWorld pitches then yaws the world matrix by delta radians.
func RotateWorld(world mgl32.Mat4, delta Point) mgl32.Mat4 {
	world = mgl32.HomogRotate3DX(float32(delta.Y)).Mul4(world)
	return mgl32.HomogRotate3DY(float32(delta.X)).Mul4(world)
}

// ViewProjection returns the perspective·view matrix of the fixed camera at
// (0, 0, 2) looking at the origin.
func ViewProjection(aspect float64) mgl32.Mat4 {
	if aspect <= 0 || math.IsNaN(aspect) || math.IsInf(aspect, 0) {
		aspect = 1
	}
	projection := mgl32.Perspective(FieldOfView, float32(aspect), nearPlane, farPlane)
	view := mgl32.LookAtV(cameraEye, cameraTarget, cameraUp)
	return projection.Mul4(view)
}

// ModelViewProjection combines the camera with the scene's world matrix.
func ModelViewProjection(world mgl32.Mat4, aspect float64) mgl32.Mat4 {
	return ViewProjection(aspect).Mul4(world)
}
