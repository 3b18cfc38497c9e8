// Package atlas defines the contract with the UV-atlas chart generator the
// pipeline consumes as a black box, plus a passthrough implementation for
// meshes that already carry a usable parameterization.
package atlas

import (
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
)

// Generator failure classes. Either one aborts scene setup.
var (
	ErrAddMeshFailed  = errors.New("atlas: adding geometry to atlas failed")
	ErrGenerateFailed = errors.New("atlas: chart generation failed")
)

// Mesh is the per-geometry input handed to a generator. Normals are required;
// UVs are an optional seeding hint.
type Mesh struct {
	Positions []mgl32.Vec3
	Normals   []mgl32.Vec3
	UVs       []mgl32.Vec2
	Indices   [][3]uint32
}

// OutputMesh is a re-indexed mesh with atlas-space UVs. Xref maps every output
// vertex back to the input vertex it was split from; UVs are in atlas pixel
// coordinates.
type OutputMesh struct {
	Xref    []uint32
	UVs     []mgl32.Vec2
	Indices [][3]uint32
}

// Atlas is the result of a generation pass: one output mesh per added mesh,
// in add order, plus the atlas pixel resolution.
type Atlas struct {
	Width  uint32
	Height uint32
	Meshes []OutputMesh
}

// Generator lays the charts of every added mesh out into one shared atlas.
type Generator interface {
	// Add one geometry. The hint is the total geometry count of the scene.
	AddMesh(m Mesh, meshCountHint int) error

	// Generate charts for all added meshes.
	Generate() (*Atlas, error)
}

// Passthrough reuses each mesh's own UV set as its chart, scaled to a fixed
// resolution. It stands in where a real chart generator is unavailable.
type Passthrough struct {
	resolution uint32
	meshes     []OutputMesh
}

// Create a passthrough generator emitting a square atlas of the given pixel
// resolution.
func NewPassthrough(resolution uint32) *Passthrough {
	return &Passthrough{resolution: resolution}
}

func (p *Passthrough) AddMesh(m Mesh, meshCountHint int) error {
	if len(m.UVs) != len(m.Positions) || len(m.Positions) == 0 {
		return fmt.Errorf("%w: mesh %d has no source uv set to pass through", ErrAddMeshFailed, len(p.meshes))
	}

	out := OutputMesh{
		Xref:    make([]uint32, len(m.Positions)),
		UVs:     make([]mgl32.Vec2, len(m.UVs)),
		Indices: make([][3]uint32, len(m.Indices)),
	}
	for i := range m.Positions {
		out.Xref[i] = uint32(i)
	}
	for i, uv := range m.UVs {
		out.UVs[i] = uv.Mul(float32(p.resolution))
	}
	copy(out.Indices, m.Indices)

	p.meshes = append(p.meshes, out)
	return nil
}

func (p *Passthrough) Generate() (*Atlas, error) {
	if len(p.meshes) == 0 {
		return nil, fmt.Errorf("%w: no meshes were added", ErrGenerateFailed)
	}
	return &Atlas{
		Width:  p.resolution,
		Height: p.resolution,
		Meshes: p.meshes,
	}, nil
}
