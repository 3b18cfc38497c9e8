package scene

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// QuadLight is an area light spanning Width x Height around Position, oriented
// by an orthonormal basis (Normal, VX, VY).
type QuadLight struct {
	Emission mgl32.Vec4
	Position mgl32.Vec4
	Normal   mgl32.Vec4
	VX       mgl32.Vec4
	VY       mgl32.Vec4
	Width    float32
	Height   float32
}

// Derive two tangent vectors completing an orthonormal basis around n.
func OrthoBasis(n mgl32.Vec3) (vx, vy mgl32.Vec3) {
	// Cross against the axis n is least aligned with to avoid degeneracy.
	ax := math.Abs(float64(n.X()))
	ay := math.Abs(float64(n.Y()))
	az := math.Abs(float64(n.Z()))

	var axis mgl32.Vec3
	switch {
	case ax <= ay && ax <= az:
		axis = mgl32.Vec3{1, 0, 0}
	case ay <= az:
		axis = mgl32.Vec3{0, 1, 0}
	default:
		axis = mgl32.Vec3{0, 0, 1}
	}

	vx = axis.Cross(n).Normalize()
	vy = n.Cross(vx).Normalize()
	return vx, vy
}

// Synthesize the quad light used when a scene declares none: a 5x5 quad ten
// units away shining back along a fixed diagonal direction.
func DefaultLight(emission float32) QuadLight {
	n := mgl32.Vec3{0.5, -0.8, -0.5}.Normalize()
	vx, vy := OrthoBasis(n)
	return QuadLight{
		Emission: mgl32.Vec4{emission, emission, emission, 1},
		Position: n.Mul(-10).Vec4(1),
		Normal:   n.Vec4(0),
		VX:       vx.Vec4(0),
		VY:       vy.Vec4(0),
		Width:    5,
		Height:   5,
	}
}
