package scene

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
)

// Geometry is one indexed triangle array of a mesh. Normals and UVs are
// optional; when present they run parallel to Positions.
type Geometry struct {
	Positions []mgl32.Vec3
	Normals   []mgl32.Vec3
	UVs       []mgl32.Vec2
	Indices   [][3]uint32
}

// Get the triangle count.
func (g *Geometry) NumTris() int {
	return len(g.Indices)
}

// Check the geometry invariants: every index references a valid position and
// the optional attribute arrays are either empty or parallel to Positions.
func (g *Geometry) Validate() error {
	numVerts := uint32(len(g.Positions))
	for triIndex, tri := range g.Indices {
		for _, index := range tri {
			if index >= numVerts {
				return fmt.Errorf("triangle %d references vertex %d but geometry has %d vertices", triIndex, index, numVerts)
			}
		}
	}
	if len(g.Normals) != 0 && len(g.Normals) != len(g.Positions) {
		return fmt.Errorf("normal array length %d does not match %d positions", len(g.Normals), len(g.Positions))
	}
	if len(g.UVs) != 0 && len(g.UVs) != len(g.Positions) {
		return fmt.Errorf("uv array length %d does not match %d positions", len(g.UVs), len(g.Positions))
	}
	return nil
}

// Mesh is a non-empty ordered list of geometries. A mesh gets exactly one
// bottom-level structure; geometry order inside the mesh fixes the hit-group
// slot each geometry occupies.
type Mesh struct {
	Geometries []Geometry
}

// Get the triangle count over all geometries.
func (m *Mesh) NumTris() int {
	total := 0
	for i := range m.Geometries {
		total += m.Geometries[i].NumTris()
	}
	return total
}
