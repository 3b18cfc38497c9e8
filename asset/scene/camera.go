package scene

import "github.com/go-gl/mathgl/mgl32"

// Camera describes a view into the scene.
type Camera struct {
	// Eye position.
	Position mgl32.Vec3

	// Look-at target.
	Center mgl32.Vec3

	// Up vector.
	Up mgl32.Vec3

	// Vertical field of view in degrees.
	FOVY float32
}
