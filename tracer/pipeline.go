package tracer

import (
	"fmt"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/auriga-rt/auriga/asset/atlas"
	"github.com/auriga-rt/auriga/asset/scene"
	"github.com/auriga-rt/auriga/log"
	"github.com/auriga-rt/auriga/tracer/device"
)

var logger = log.New("tracer")

// Setup runs the full pipeline against an open device: the atlas pass
// rewrites every geometry against a shared UV atlas, geometries are staged,
// each mesh's bottom-level structure runs its build/compact/finalize
// lifecycle, and the finalized structures are tied together by the
// top-level structure over the scene instances.
//
// The scene must have passed validation. A nil generator falls back to the
// passthrough generator at the configured resolution. On error all device
// memory allocated so far is released and no partial render scene is
// returned.
func Setup(dev *device.Device, sc *scene.Scene, gen atlas.Generator, opts Options) (*RenderScene, error) {
	start := time.Now()

	if gen == nil {
		res := opts.AtlasResolution
		if res == 0 {
			res = DefaultAtlasResolution
		}
		gen = atlas.NewPassthrough(res)
	}

	atlasRes, err := buildAtlas(sc, gen)
	if err != nil {
		return nil, err
	}
	rewriteGeometry(sc, atlasRes)

	rs := &RenderScene{
		AtlasWidth:  atlasRes.Width,
		AtlasHeight: atlasRes.Height,
		dev:         dev,
	}

	for meshID := range sc.Meshes {
		blas, err := setupBottomLevel(dev, &sc.Meshes[meshID])
		if err != nil {
			rs.Release()
			return nil, err
		}
		rs.Meshes = append(rs.Meshes, blas)
	}

	topLevel, err := setupTopLevel(dev, sc, rs.Meshes)
	if err != nil {
		rs.Release()
		return nil, err
	}
	rs.TopLevel = topLevel

	logger.Noticef("scene setup in %d ms", time.Since(start).Nanoseconds()/1e6)
	return rs, nil
}

// Feed every geometry through the chart generator.
func buildAtlas(sc *scene.Scene, gen atlas.Generator) (*atlas.Atlas, error) {
	hint := sc.NumGeometries()
	for meshID := range sc.Meshes {
		for geomIndex := range sc.Meshes[meshID].Geometries {
			geom := &sc.Meshes[meshID].Geometries[geomIndex]
			err := gen.AddMesh(atlas.Mesh{
				Positions: geom.Positions,
				Normals:   geom.Normals,
				UVs:       geom.UVs,
				Indices:   geom.Indices,
			}, hint)
			if err != nil {
				return nil, err
			}
		}
	}
	return gen.Generate()
}

// Rewrite every geometry from its atlas output mesh: vertices are re-split
// per the xref table and UVs become normalized atlas coordinates.
func rewriteGeometry(sc *scene.Scene, atlasRes *atlas.Atlas) {
	outIndex := 0
	for meshID := range sc.Meshes {
		for geomIndex := range sc.Meshes[meshID].Geometries {
			geom := &sc.Meshes[meshID].Geometries[geomIndex]
			out := &atlasRes.Meshes[outIndex]
			outIndex++

			positions := make([]mgl32.Vec3, len(out.Xref))
			normals := make([]mgl32.Vec3, 0, len(out.Xref))
			uvs := make([]mgl32.Vec2, len(out.UVs))

			hasNormals := len(geom.Normals) > 0
			for i, src := range out.Xref {
				positions[i] = geom.Positions[src]
				if hasNormals {
					normals = append(normals, geom.Normals[src])
				}
			}
			for i, uv := range out.UVs {
				uvs[i] = mgl32.Vec2{uv[0] / float32(atlasRes.Width), uv[1] / float32(atlasRes.Height)}
			}

			geom.Positions = positions
			geom.Normals = normals
			geom.UVs = uvs
			geom.Indices = out.Indices
		}
	}
}

// Run one mesh's bottom-level lifecycle: stage, build, read back the true
// size, compact, finalize. Builds run sequentially per mesh so peak scratch
// memory stays bounded by the largest single mesh.
func setupBottomLevel(dev *device.Device, mesh *scene.Mesh) (*BottomLevel, error) {
	staged := make([]*StagedGeometry, 0, len(mesh.Geometries))
	for geomIndex := range mesh.Geometries {
		sg, err := StageGeometry(dev, &mesh.Geometries[geomIndex])
		if err != nil {
			for _, prev := range staged {
				prev.Release()
			}
			return nil, err
		}
		staged = append(staged, sg)
	}

	blas := NewBottomLevel(dev, staged)
	if err := runStructureLifecycle(dev, blas.Build, blas.Compact); err != nil {
		blas.Release()
		return nil, err
	}
	if _, err := blas.Finalize(); err != nil {
		blas.Release()
		return nil, err
	}
	return blas, nil
}

// Build the top-level structure over the scene instances. Each instance's
// hit-group offset is the running sum of the geometry counts of all
// instances placed before it, so consecutive shader table slots line up
// with (instance, geometry) pairs.
func setupTopLevel(dev *device.Device, sc *scene.Scene, meshes []*BottomLevel) (*TopLevel, error) {
	descs, err := instanceDescs(sc, meshes)
	if err != nil {
		return nil, err
	}

	topLevel := NewTopLevel(dev)
	build := func(list *device.CommandList) error {
		return topLevel.Build(list, descs)
	}
	if err := runStructureLifecycle(dev, build, topLevel.Compact); err != nil {
		topLevel.Release()
		return nil, err
	}
	if _, err := topLevel.Finalize(); err != nil {
		topLevel.Release()
		return nil, err
	}
	return topLevel, nil
}

func instanceDescs(sc *scene.Scene, meshes []*BottomLevel) ([]device.InstanceDesc, error) {
	descs := make([]device.InstanceDesc, 0, len(sc.Instances))
	hitGroupOffset := uint32(0)
	for instIndex, inst := range sc.Instances {
		handle, err := meshes[inst.MeshID].Handle()
		if err != nil {
			return nil, fmt.Errorf("instance %d: %w", instIndex, err)
		}

		descs = append(descs, device.InstanceDesc{
			Transform:      inst.Transform,
			InstanceID:     uint32(instIndex),
			Mask:           0xff,
			HitGroupOffset: hitGroupOffset,
			Flags:          device.InstanceFlagForceOpaque,
			AccelStructure: handle.Address(),
		})
		hitGroupOffset += uint32(meshes[inst.MeshID].GeometryCount())
	}
	return descs, nil
}

// Drive a structure through build and compaction with a fence wait after
// each submission, so the size readback and the compacted result are
// visible before the next step.
func runStructureLifecycle(dev *device.Device, build, compact func(*device.CommandList) error) error {
	list := device.NewCommandList()
	if err := build(list); err != nil {
		return err
	}
	value, err := dev.SubmitAndSignal(list)
	if err != nil {
		return err
	}
	if err := dev.Fence().Wait(value); err != nil {
		return err
	}

	list = device.NewCommandList()
	if err := compact(list); err != nil {
		return err
	}
	if value, err = dev.SubmitAndSignal(list); err != nil {
		return err
	}
	return dev.Fence().Wait(value)
}
