package reader

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

func writeSceneFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestWavefrontTriangle(t *testing.T) {
	path := writeSceneFile(t, "tri.obj", `
v 0 0 0
v 1 0 0
v 0 1 0
vn 0 0 1
f 1//1 2//1 3//1
`)

	sc, err := ReadScene(path)
	if err != nil {
		t.Fatal(err)
	}

	if len(sc.Meshes) != 1 || len(sc.Meshes[0].Geometries) != 1 {
		t.Fatalf("expected a single mesh with a single geometry; got %d meshes", len(sc.Meshes))
	}
	geom := &sc.Meshes[0].Geometries[0]
	if len(geom.Positions) != 3 || len(geom.Indices) != 1 {
		t.Fatalf("expected 3 vertices and 1 triangle; got %d/%d", len(geom.Positions), len(geom.Indices))
	}
	if len(geom.Normals) != 3 {
		t.Fatalf("expected normals for every vertex; got %d", len(geom.Normals))
	}

	if len(sc.Instances) != 1 {
		t.Fatalf("expected 1 instance; got %d", len(sc.Instances))
	}
	if sc.Instances[0].Transform != mgl32.Ident4() {
		t.Fatal("obj instance must use the identity transform")
	}

	// No materials in the file: validation generates exactly one default.
	if len(sc.Materials) != 1 {
		t.Fatalf("expected 1 generated material; got %d", len(sc.Materials))
	}
	if sc.Instances[0].MaterialIDs[0] != 0 {
		t.Fatalf("geometry not bound to the default material; got %d", sc.Instances[0].MaterialIDs[0])
	}

	// obj scenes always get a synthesized light.
	if len(sc.Lights) != 1 {
		t.Fatalf("expected 1 synthesized light; got %d", len(sc.Lights))
	}
	if sc.Lights[0].Emission.X() != 20 {
		t.Fatalf("expected emission 20; got %v", sc.Lights[0].Emission)
	}
}

func TestWavefrontQuadFanTriangulation(t *testing.T) {
	path := writeSceneFile(t, "quad.obj", `
v 0 0 0
v 1 0 0
v 1 1 0
v 0 1 0
f 1 2 3 4
`)

	sc, err := ReadScene(path)
	if err != nil {
		t.Fatal(err)
	}

	geom := &sc.Meshes[0].Geometries[0]
	if len(geom.Indices) != 2 {
		t.Fatalf("expected quad to triangulate into 2 triangles; got %d", len(geom.Indices))
	}
	if geom.Indices[0] != [3]uint32{0, 1, 2} || geom.Indices[1] != [3]uint32{0, 2, 3} {
		t.Fatalf("unexpected fan triangulation %v", geom.Indices)
	}
}

func TestWavefrontRejectsDegenerateFace(t *testing.T) {
	path := writeSceneFile(t, "line.obj", `
v 0 0 0
v 1 0 0
f 1 2
`)

	_, err := ReadScene(path)
	if !errors.Is(err, ErrNonTriangleFace) {
		t.Fatalf("expected ErrNonTriangleFace; got %v", err)
	}
}

func TestWavefrontVertexDedup(t *testing.T) {
	// Two triangles sharing an edge; the shared tuples must not duplicate.
	path := writeSceneFile(t, "shared.obj", `
v 0 0 0
v 1 0 0
v 1 1 0
v 0 1 0
f 1 2 3
f 1 3 4
`)

	sc, err := ReadScene(path)
	if err != nil {
		t.Fatal(err)
	}

	geom := &sc.Meshes[0].Geometries[0]
	if len(geom.Positions) != 4 {
		t.Fatalf("expected 4 deduplicated vertices; got %d", len(geom.Positions))
	}
}

func TestWavefrontGroupsSplitGeometries(t *testing.T) {
	path := writeSceneFile(t, "groups.obj", `
v 0 0 0
v 1 0 0
v 0 1 0
g first
f 1 2 3
g second
f 3 2 1
`)

	sc, err := ReadScene(path)
	if err != nil {
		t.Fatal(err)
	}

	if len(sc.Meshes) != 1 {
		t.Fatalf("expected 1 mesh; got %d", len(sc.Meshes))
	}
	if len(sc.Meshes[0].Geometries) != 2 {
		t.Fatalf("expected groups to produce 2 geometries; got %d", len(sc.Meshes[0].Geometries))
	}
	if len(sc.Instances[0].MaterialIDs) != 2 {
		t.Fatalf("expected 2 material slots; got %d", len(sc.Instances[0].MaterialIDs))
	}
}

func TestWavefrontMaterialMapping(t *testing.T) {
	dir := t.TempDir()
	err := os.WriteFile(filepath.Join(dir, "scene.mtl"), []byte(`
newmtl shiny
Kd 0.2 0.4 0.6
Ns 250
d 0.75
`), 0644)
	if err != nil {
		t.Fatal(err)
	}
	objPath := filepath.Join(dir, "scene.obj")
	err = os.WriteFile(objPath, []byte(`
mtllib scene.mtl
v 0 0 0
v 1 0 0
v 0 1 0
usemtl shiny
f 1 2 3
`), 0644)
	if err != nil {
		t.Fatal(err)
	}

	sc, err := ReadScene(objPath)
	if err != nil {
		t.Fatal(err)
	}

	if len(sc.Materials) != 1 {
		t.Fatalf("expected 1 material; got %d", len(sc.Materials))
	}
	mat := sc.Materials[0]

	color, ok := mat.BaseColor.Color()
	if !ok || color != (mgl32.Vec3{0.2, 0.4, 0.6}) {
		t.Fatalf("unexpected base color %v", color)
	}
	if v, _ := mat.Specular.Scalar(); v != 0.5 {
		t.Fatalf("expected specular 0.5 from shininess 250; got %v", v)
	}
	if v, _ := mat.Roughness.Scalar(); v != 0.5 {
		t.Fatalf("expected roughness 0.5; got %v", v)
	}
	if v, _ := mat.SpecularTransmission.Scalar(); v != 0.25 {
		t.Fatalf("expected transmission 0.25 from dissolve 0.75; got %v", v)
	}

	if sc.Instances[0].MaterialIDs[0] != 0 {
		t.Fatal("geometry not bound to the parsed material")
	}
}
