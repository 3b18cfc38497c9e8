package reader

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

// Build the binary buffer for a single triangle: three vec3 positions
// followed by three uint16 indices.
func triangleBuffer(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	positions := []float32{
		0, 0, 0,
		1, 0, 0,
		0, 1, 0,
	}
	for _, v := range positions {
		if err := binary.Write(&buf, binary.LittleEndian, math.Float32bits(v)); err != nil {
			t.Fatal(err)
		}
	}
	for _, idx := range []uint16{0, 1, 2} {
		if err := binary.Write(&buf, binary.LittleEndian, idx); err != nil {
			t.Fatal(err)
		}
	}
	return buf.Bytes()
}

// Build a minimal single-triangle glTF document with an inline buffer. The
// index component type and primitive mode are parameterized so failure cases
// reuse the same document.
func triangleGLTF(t *testing.T, indexType, mode int) string {
	t.Helper()
	data := triangleBuffer(t)
	return fmt.Sprintf(`{
		"asset": {"version": "2.0"},
		"scene": 0,
		"scenes": [{"nodes": [0]}],
		"nodes": [{"mesh": 0, "translation": [2, 0, 0]}],
		"meshes": [{"primitives": [{
			"attributes": {"POSITION": 0},
			"indices": 1,
			"mode": %d
		}]}],
		"accessors": [
			{"bufferView": 0, "componentType": 5126, "count": 3, "type": "VEC3"},
			{"bufferView": 1, "componentType": %d, "count": 3, "type": "SCALAR"}
		],
		"bufferViews": [
			{"buffer": 0, "byteOffset": 0, "byteLength": 36},
			{"buffer": 0, "byteOffset": 36, "byteLength": 6}
		],
		"buffers": [{"byteLength": %d, "uri": "data:application/octet-stream;base64,%s"}]
	}`, mode, indexType, len(data), base64.StdEncoding.EncodeToString(data))
}

func TestGLTFTriangle(t *testing.T) {
	path := writeSceneFile(t, "tri.gltf", triangleGLTF(t, gltfComponentU16, gltfModeTriangles))

	sc, err := ReadScene(path)
	if err != nil {
		t.Fatal(err)
	}

	if len(sc.Meshes) != 1 || len(sc.Meshes[0].Geometries) != 1 {
		t.Fatalf("expected 1 mesh with 1 geometry; got %d meshes", len(sc.Meshes))
	}
	geom := &sc.Meshes[0].Geometries[0]
	if len(geom.Positions) != 3 || len(geom.Indices) != 1 {
		t.Fatalf("expected 3 vertices and 1 triangle; got %d/%d", len(geom.Positions), len(geom.Indices))
	}
	if geom.Indices[0] != [3]uint32{0, 1, 2} {
		t.Fatalf("unexpected indices %v", geom.Indices[0])
	}

	// The node translation must flatten into the instance transform.
	if len(sc.Instances) != 1 {
		t.Fatalf("expected 1 instance; got %d", len(sc.Instances))
	}
	want := mgl32.Translate3D(2, 0, 0)
	if sc.Instances[0].Transform != want {
		t.Fatalf("unexpected instance transform %v", sc.Instances[0].Transform)
	}

	if len(sc.Lights) != 1 || sc.Lights[0].Emission.X() != 20 {
		t.Fatal("expected a synthesized light with emission 20")
	}
}

func TestGLTFRejectsU8Indices(t *testing.T) {
	path := writeSceneFile(t, "u8.gltf", triangleGLTF(t, 5121, gltfModeTriangles))

	_, err := ReadScene(path)
	if !errors.Is(err, ErrUnsupportedIndexType) {
		t.Fatalf("expected ErrUnsupportedIndexType; got %v", err)
	}
}

func TestGLTFRejectsNonTrianglePrimitives(t *testing.T) {
	path := writeSceneFile(t, "points.gltf", triangleGLTF(t, gltfComponentU16, 0))

	_, err := ReadScene(path)
	if !errors.Is(err, ErrUnsupportedPrimitive) {
		t.Fatalf("expected ErrUnsupportedPrimitive; got %v", err)
	}
}

func TestGLBContainer(t *testing.T) {
	jsonChunk := []byte(triangleGLTF(t, gltfComponentU16, gltfModeTriangles))
	// Chunks are 4 byte aligned; pad the JSON with spaces.
	for len(jsonChunk)%4 != 0 {
		jsonChunk = append(jsonChunk, ' ')
	}

	var glb bytes.Buffer
	binary.Write(&glb, binary.LittleEndian, uint32(glbMagic))
	binary.Write(&glb, binary.LittleEndian, uint32(glbVersion))
	binary.Write(&glb, binary.LittleEndian, uint32(12+8+len(jsonChunk)))
	binary.Write(&glb, binary.LittleEndian, uint32(len(jsonChunk)))
	binary.Write(&glb, binary.LittleEndian, uint32(glbChunkJSON))
	glb.Write(jsonChunk)

	path := writeSceneFile(t, "tri.glb", glb.String())

	sc, err := ReadScene(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(sc.Meshes) != 1 || sc.Meshes[0].NumTris() != 1 {
		t.Fatal("glb container did not produce the embedded triangle")
	}
}

func TestGLBRejectsTruncatedChunk(t *testing.T) {
	var glb bytes.Buffer
	binary.Write(&glb, binary.LittleEndian, uint32(glbMagic))
	binary.Write(&glb, binary.LittleEndian, uint32(glbVersion))
	binary.Write(&glb, binary.LittleEndian, uint32(1024))
	binary.Write(&glb, binary.LittleEndian, uint32(512))
	binary.Write(&glb, binary.LittleEndian, uint32(glbChunkJSON))
	glb.WriteString("{}")

	path := writeSceneFile(t, "short.glb", glb.String())

	_, err := ReadScene(path)
	if !errors.Is(err, ErrTruncatedContainer) {
		t.Fatalf("expected ErrTruncatedContainer; got %v", err)
	}
}
