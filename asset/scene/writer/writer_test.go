package writer

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/auriga-rt/auriga/asset/scene"
	"github.com/auriga-rt/auriga/asset/scene/reader"
)

func roundTripScene(t *testing.T, src *scene.Scene) *scene.Scene {
	t.Helper()
	path := filepath.Join(t.TempDir(), "roundtrip.crts")
	if err := WriteScene(src, path); err != nil {
		t.Fatal(err)
	}
	sc, err := reader.ReadScene(path)
	if err != nil {
		t.Fatal(err)
	}
	return sc
}

func buildTestScene(t *testing.T) *scene.Scene {
	t.Helper()

	quad := scene.Geometry{
		Positions: []mgl32.Vec3{{0, 0, 0}, {1, 0, 0}, {1, 1, 0}, {0, 1, 0}},
		Normals:   []mgl32.Vec3{{0, 0, 1}, {0, 0, 1}, {0, 0, 1}, {0, 0, 1}},
		UVs:       []mgl32.Vec2{{0, 0}, {1, 0}, {1, 1}, {0, 1}},
		Indices:   [][3]uint32{{0, 1, 2}, {0, 2, 3}},
	}
	tri := scene.Geometry{
		Positions: []mgl32.Vec3{{0, 0, 1}, {1, 0, 1}, {0, 1, 1}},
		Normals:   []mgl32.Vec3{{0, 0, 1}, {0, 0, 1}, {0, 0, 1}},
		Indices:   [][3]uint32{{0, 1, 2}},
	}

	mat := scene.Material{
		BaseColor: scene.ColorValue(mgl32.Vec3{0.5, 0.25, 0.125}),
		Metallic:  scene.ScalarParam(0.5),
		Roughness: scene.TexturedParam(0, 1),
		IOR:       scene.ScalarParam(1.45),
	}

	n := mgl32.Vec3{0, -1, 0}
	vx, vy := scene.OrthoBasis(n)
	light := scene.QuadLight{
		Emission: mgl32.Vec4{4, 4, 4, 1},
		Position: mgl32.Vec4{0, 5, 0, 1},
		Normal:   n.Vec4(0),
		VX:       vx.Vec4(0),
		VY:       vy.Vec4(0),
		Width:    2,
		Height:   3,
	}

	sc := &scene.Scene{
		Meshes: []scene.Mesh{{Geometries: []scene.Geometry{quad, tri}}},
		Instances: []scene.Instance{{
			Transform:   mgl32.Translate3D(1, 2, 3),
			MeshID:      0,
			MaterialIDs: []int32{0, 0},
		}},
		Materials: []scene.Material{mat},
		Textures: []scene.Image{{
			Name:       "checker",
			Width:      2,
			Height:     2,
			Channels:   4,
			ColorSpace: scene.SRGB,
			Pixels: []byte{
				255, 0, 0, 255, 0, 255, 0, 255,
				0, 0, 255, 255, 255, 255, 255, 255,
			},
		}},
		Lights:  []scene.QuadLight{light},
		Cameras: []scene.Camera{{Position: mgl32.Vec3{0, 0, 5}, Center: mgl32.Vec3{0, 0, 0}, Up: mgl32.Vec3{0, 1, 0}, FOVY: 45}},
	}
	if err := sc.Validate(); err != nil {
		t.Fatal(err)
	}
	return sc
}

func TestRoundTripTopology(t *testing.T) {
	src := buildTestScene(t)
	sc := roundTripScene(t, src)

	// The two geometries of the source mesh come back as two container
	// meshes placed by the same instance transform.
	if len(sc.Meshes) != 2 {
		t.Fatalf("expected 2 container meshes; got %d", len(sc.Meshes))
	}
	if sc.Meshes[0].NumTris() != 2 || sc.Meshes[1].NumTris() != 1 {
		t.Fatalf("triangle counts changed: %d/%d", sc.Meshes[0].NumTris(), sc.Meshes[1].NumTris())
	}
	if sc.TotalTris() != src.TotalTris() {
		t.Fatalf("total triangles changed: %d != %d", sc.TotalTris(), src.TotalTris())
	}

	if len(sc.Instances) != 2 {
		t.Fatalf("expected 2 placement objects; got %d", len(sc.Instances))
	}
	want := mgl32.Translate3D(1, 2, 3)
	for i, inst := range sc.Instances {
		if inst.Transform != want {
			t.Fatalf("instance %d transform changed: %v", i, inst.Transform)
		}
	}

	geom := &sc.Meshes[0].Geometries[0]
	if len(geom.Normals) != 4 || len(geom.UVs) != 4 {
		t.Fatal("optional attribute arrays were dropped")
	}
	if geom.Positions[2] != (mgl32.Vec3{1, 1, 0}) {
		t.Fatalf("vertex data changed: %v", geom.Positions[2])
	}
}

func TestRoundTripMaterials(t *testing.T) {
	src := buildTestScene(t)
	sc := roundTripScene(t, src)

	if len(sc.Materials) != len(src.Materials) {
		t.Fatalf("material count changed: %d != %d", len(sc.Materials), len(src.Materials))
	}
	mat := sc.Materials[0]

	color, ok := mat.BaseColor.Color()
	if !ok || color != (mgl32.Vec3{0.5, 0.25, 0.125}) {
		t.Fatalf("base color changed: %v", color)
	}
	if v, _ := mat.Metallic.Scalar(); v != 0.5 {
		t.Fatalf("metallic changed: %v", v)
	}
	tex, channel, ok := mat.Roughness.Texture()
	if !ok || tex != 0 || channel != 1 {
		t.Fatalf("roughness redirection changed: %d/%d ok=%v", tex, channel, ok)
	}
	if v, _ := mat.IOR.Scalar(); v != 1.45 {
		t.Fatalf("ior changed: %v", v)
	}
}

func TestRoundTripImages(t *testing.T) {
	src := buildTestScene(t)
	sc := roundTripScene(t, src)

	if len(sc.Textures) != 1 {
		t.Fatalf("expected 1 texture; got %d", len(sc.Textures))
	}
	img := sc.Textures[0]
	if img.Width != 2 || img.Height != 2 || img.Channels != 4 {
		t.Fatalf("image dimensions changed: %dx%dx%d", img.Width, img.Height, img.Channels)
	}
	if img.ColorSpace != scene.SRGB {
		t.Fatal("color space tag changed")
	}

	// png is lossless and the writer's pre-flip cancels the reader's
	// decode flip, so pixels must match exactly.
	for i, p := range src.Textures[0].Pixels {
		if img.Pixels[i] != p {
			t.Fatalf("pixel byte %d changed: %d != %d", i, img.Pixels[i], p)
		}
	}
}

func TestRoundTripLightsAndCameras(t *testing.T) {
	src := buildTestScene(t)
	sc := roundTripScene(t, src)

	if len(sc.Lights) != 1 {
		t.Fatalf("expected 1 light; got %d", len(sc.Lights))
	}
	light := sc.Lights[0]
	if light.Emission.X() != 4 {
		t.Fatalf("emission changed: %v", light.Emission)
	}
	if light.Width != 2 || light.Height != 3 {
		t.Fatalf("light size changed: %v x %v", light.Width, light.Height)
	}
	if !vec4Near(light.Normal, src.Lights[0].Normal) || !vec4Near(light.Position, src.Lights[0].Position) {
		t.Fatal("light basis changed")
	}

	if len(sc.Cameras) != 1 {
		t.Fatalf("expected 1 camera; got %d", len(sc.Cameras))
	}
	camera := sc.Cameras[0]
	if camera.Position != (mgl32.Vec3{0, 0, 5}) {
		t.Fatalf("camera position changed: %v", camera.Position)
	}
	if math.Abs(float64(camera.FOVY-45)) > 1e-4 {
		t.Fatalf("camera fov changed: %v", camera.FOVY)
	}
}

func vec4Near(a, b mgl32.Vec4) bool {
	const eps = 1e-5
	for i := 0; i < 4; i++ {
		if math.Abs(float64(a[i]-b[i])) > eps {
			return false
		}
	}
	return true
}
