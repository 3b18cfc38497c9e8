// Package scene defines the unified in-memory scene model every format
// loader produces and the GPU pipeline consumes.
package scene

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
)

// Instance places one mesh in the world. MaterialIDs carries one material
// reference per geometry of the referenced mesh, in geometry order.
type Instance struct {
	Transform   mgl32.Mat4
	MeshID      int
	MaterialIDs []int32
}

// Scene owns every entity of a loaded scene as order-stable, append-only
// lists. Instances reference meshes, materials and textures by index. Once a
// scene has been validated it is read-only for the rest of the session.
type Scene struct {
	Meshes    []Mesh
	Instances []Instance
	Materials []Material
	Textures  []Image
	Lights    []QuadLight
	Cameras   []Camera
}

// Count the triangles over all meshes, ignoring instancing.
func (s *Scene) UniqueTris() int {
	total := 0
	for i := range s.Meshes {
		total += s.Meshes[i].NumTris()
	}
	return total
}

// Count the triangles over all instances.
func (s *Scene) TotalTris() int {
	total := 0
	for _, inst := range s.Instances {
		total += s.Meshes[inst.MeshID].NumTris()
	}
	return total
}

// Count the geometries over all meshes.
func (s *Scene) NumGeometries() int {
	total := 0
	for i := range s.Meshes {
		total += len(s.Meshes[i].Geometries)
	}
	return total
}

// Validate checks the cross-reference invariants and resolves unassigned
// material slots. Instances whose material list is shorter than the mesh
// geometry list are padded with unassigned slots first; if any slot is
// unassigned a single default material is appended to the scene and every
// such slot is rebound to it. Validating an already valid scene is a no-op.
func (s *Scene) Validate() error {
	for meshIndex := range s.Meshes {
		mesh := &s.Meshes[meshIndex]
		if len(mesh.Geometries) == 0 {
			return fmt.Errorf("scene: mesh %d has no geometries", meshIndex)
		}
		for geomIndex := range mesh.Geometries {
			if err := mesh.Geometries[geomIndex].Validate(); err != nil {
				return fmt.Errorf("scene: mesh %d geometry %d: %s", meshIndex, geomIndex, err)
			}
		}
	}

	needDefault := false
	for instIndex := range s.Instances {
		inst := &s.Instances[instIndex]
		if inst.MeshID < 0 || inst.MeshID >= len(s.Meshes) {
			return fmt.Errorf("scene: instance %d references unknown mesh %d", instIndex, inst.MeshID)
		}

		numGeoms := len(s.Meshes[inst.MeshID].Geometries)
		if len(inst.MaterialIDs) > numGeoms {
			return fmt.Errorf("scene: instance %d defines %d material references for a mesh with %d geometries", instIndex, len(inst.MaterialIDs), numGeoms)
		}
		for len(inst.MaterialIDs) < numGeoms {
			inst.MaterialIDs = append(inst.MaterialIDs, UnassignedMaterial)
		}

		for _, matID := range inst.MaterialIDs {
			if matID == UnassignedMaterial {
				needDefault = true
			} else if matID < 0 || int(matID) >= len(s.Materials) {
				return fmt.Errorf("scene: instance %d references unknown material %d", instIndex, matID)
			}
		}
	}

	if needDefault {
		defaultID := int32(len(s.Materials))
		s.Materials = append(s.Materials, DefaultMaterial())
		for instIndex := range s.Instances {
			ids := s.Instances[instIndex].MaterialIDs
			for i, matID := range ids {
				if matID == UnassignedMaterial {
					ids[i] = defaultID
				}
			}
		}
	}

	return nil
}
