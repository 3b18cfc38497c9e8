// Package tracer turns validated scenes into render-ready acceleration
// structures: geometry staging, the two-level structure build pipeline and
// its configuration surface.
package tracer

import "github.com/auriga-rt/auriga/tracer/device"

// Default atlas resolution when the caller does not request one.
const DefaultAtlasResolution = 1024

// Options configures a pipeline run.
type Options struct {
	// Device name as reported by device.Enumerate; empty selects the
	// first device.
	DeviceName string

	// Square atlas resolution in pixels handed to the chart generator.
	AtlasResolution uint32
}

// RenderScene is the render-ready result of scene setup: the finalized
// top-level structure over the finalized per-mesh bottom-level structures,
// plus the atlas the geometry UVs were rewritten against. The shading
// stages consume this handle as-is.
type RenderScene struct {
	TopLevel *TopLevel
	Meshes   []*BottomLevel

	AtlasWidth  uint32
	AtlasHeight uint32

	dev *device.Device
}

// Release frees all device memory the scene holds. The render scene is
// unusable afterwards.
func (rs *RenderScene) Release() {
	if rs.TopLevel != nil {
		rs.TopLevel.Release()
		rs.TopLevel = nil
	}
	for _, mesh := range rs.Meshes {
		mesh.Release()
	}
	rs.Meshes = nil
}
