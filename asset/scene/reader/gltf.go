package reader

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/auriga-rt/auriga/asset"
	"github.com/auriga-rt/auriga/asset/scene"
	"github.com/auriga-rt/auriga/asset/texture"
	"github.com/auriga-rt/auriga/log"
)

// GLB container constants.
const (
	glbMagic     = 0x46546C67
	glbVersion   = 2
	glbChunkJSON = 0x4E4F534A
	glbChunkBIN  = 0x004E4942
)

// glTF component types.
const (
	gltfComponentU16   = 5123
	gltfComponentU32   = 5125
	gltfComponentFloat = 5126

	gltfModeTriangles = 4
)

// Subset of the glTF 2.0 JSON schema the loader consumes.
type gltfDocument struct {
	Scene       *int             `json:"scene"`
	Scenes      []gltfScene      `json:"scenes"`
	Nodes       []gltfNode       `json:"nodes"`
	Meshes      []gltfMesh       `json:"meshes"`
	Accessors   []gltfAccessor   `json:"accessors"`
	BufferViews []gltfBufferView `json:"bufferViews"`
	Buffers     []gltfBuffer     `json:"buffers"`
	Materials   []gltfMaterial   `json:"materials"`
	Textures    []gltfTexture    `json:"textures"`
	Images      []gltfImage      `json:"images"`
}

type gltfScene struct {
	Nodes []int `json:"nodes"`
}

type gltfNode struct {
	Children    []int        `json:"children"`
	Mesh        *int         `json:"mesh"`
	Matrix      *[16]float32 `json:"matrix"`
	Translation *[3]float32  `json:"translation"`
	Rotation    *[4]float32  `json:"rotation"`
	Scale       *[3]float32  `json:"scale"`
}

type gltfMesh struct {
	Name       string          `json:"name"`
	Primitives []gltfPrimitive `json:"primitives"`
}

type gltfPrimitive struct {
	Attributes map[string]int `json:"attributes"`
	Indices    *int           `json:"indices"`
	Material   *int           `json:"material"`
	Mode       *int           `json:"mode"`
}

type gltfAccessor struct {
	BufferView    *int   `json:"bufferView"`
	ByteOffset    int    `json:"byteOffset"`
	ComponentType int    `json:"componentType"`
	Count         int    `json:"count"`
	Type          string `json:"type"`
}

type gltfBufferView struct {
	Buffer     int `json:"buffer"`
	ByteOffset int `json:"byteOffset"`
	ByteLength int `json:"byteLength"`
	ByteStride int `json:"byteStride"`
}

type gltfBuffer struct {
	URI        string `json:"uri"`
	ByteLength int    `json:"byteLength"`

	data []byte
}

type gltfMaterial struct {
	PBRMetallicRoughness struct {
		BaseColorFactor          *[4]float32 `json:"baseColorFactor"`
		BaseColorTexture         *gltfTexRef `json:"baseColorTexture"`
		MetallicFactor           *float32    `json:"metallicFactor"`
		RoughnessFactor          *float32    `json:"roughnessFactor"`
		MetallicRoughnessTexture *gltfTexRef `json:"metallicRoughnessTexture"`
	} `json:"pbrMetallicRoughness"`
}

type gltfTexRef struct {
	Index int `json:"index"`
}

type gltfTexture struct {
	Source *int `json:"source"`
}

type gltfImage struct {
	Name       string `json:"name"`
	URI        string `json:"uri"`
	MimeType   string `json:"mimeType"`
	BufferView *int   `json:"bufferView"`
}

type gltfSceneReader struct {
	logger log.Logger
	binary bool

	doc *gltfDocument
	res *asset.Resource
}

// Create a glTF scene reader; binary selects the GLB container framing.
func newGLTFReader(binary bool) *gltfSceneReader {
	return &gltfSceneReader{
		logger: log.New("gltf scene reader"),
		binary: binary,
	}
}

// Read scene definition.
func (r *gltfSceneReader) Read(sceneRes *asset.Resource) (*scene.Scene, error) {
	r.logger.Noticef(`parsing scene from "%s"`, sceneRes.Path())
	start := time.Now()

	data, err := io.ReadAll(sceneRes)
	if err != nil {
		return nil, fmt.Errorf("gltf: reading %q: %s", sceneRes.Path(), err)
	}
	r.res = sceneRes

	var jsonData, binChunk []byte
	if r.binary {
		jsonData, binChunk, err = splitGLB(data)
		if err != nil {
			return nil, err
		}
	} else {
		jsonData = data
	}

	var doc gltfDocument
	if err := json.Unmarshal(jsonData, &doc); err != nil {
		return nil, fmt.Errorf("gltf: parsing %q: %s", sceneRes.Path(), err)
	}
	r.doc = &doc

	if err := r.loadBuffers(binChunk); err != nil {
		return nil, err
	}

	sc := &scene.Scene{}
	meshMaterialIDs, err := r.loadMeshes(sc)
	if err != nil {
		return nil, err
	}
	if err := r.loadImages(sc); err != nil {
		return nil, err
	}
	r.loadMaterials(sc)
	r.loadInstances(sc, meshMaterialIDs)

	// glTF core carries no lights; synthesize one so the scene is renderable.
	r.logger.Notice("no lights in gltf scene; generating one")
	sc.Lights = append(sc.Lights, scene.DefaultLight(20))

	if err := sc.Validate(); err != nil {
		return nil, err
	}

	r.logger.Noticef("parsed scene in %d ms", time.Since(start).Nanoseconds()/1e6)
	return sc, nil
}

// Split a GLB byte stream into its JSON and binary chunks.
func splitGLB(data []byte) (jsonChunk, binChunk []byte, err error) {
	if len(data) < 12 {
		return nil, nil, fmt.Errorf("gltf: %w: glb header", ErrTruncatedContainer)
	}
	if binary.LittleEndian.Uint32(data) != glbMagic {
		return nil, nil, fmt.Errorf("gltf: not a glb container")
	}
	if v := binary.LittleEndian.Uint32(data[4:]); v != glbVersion {
		return nil, nil, fmt.Errorf("gltf: unsupported glb version %d", v)
	}

	offset := 12
	for offset < len(data) {
		if offset+8 > len(data) {
			return nil, nil, fmt.Errorf("gltf: %w: glb chunk header", ErrTruncatedContainer)
		}
		chunkLen := int(binary.LittleEndian.Uint32(data[offset:]))
		chunkType := binary.LittleEndian.Uint32(data[offset+4:])
		offset += 8
		if offset+chunkLen > len(data) {
			return nil, nil, fmt.Errorf("gltf: %w: glb chunk body", ErrTruncatedContainer)
		}

		switch chunkType {
		case glbChunkJSON:
			jsonChunk = data[offset : offset+chunkLen]
		case glbChunkBIN:
			binChunk = data[offset : offset+chunkLen]
		}
		offset += chunkLen
	}

	if jsonChunk == nil {
		return nil, nil, fmt.Errorf("gltf: glb container has no json chunk")
	}
	return jsonChunk, binChunk, nil
}

// Resolve every buffer to its byte content: the GLB binary chunk, an inline
// base64 data uri or an external file next to the scene file.
func (r *gltfSceneReader) loadBuffers(binChunk []byte) error {
	for i := range r.doc.Buffers {
		buf := &r.doc.Buffers[i]
		switch {
		case buf.URI == "":
			if i != 0 || binChunk == nil {
				return fmt.Errorf("gltf: buffer %d has no uri and no binary chunk", i)
			}
			if len(binChunk) < buf.ByteLength {
				return fmt.Errorf("gltf: %w: buffer %d", ErrTruncatedContainer, i)
			}
			buf.data = binChunk
		case strings.HasPrefix(buf.URI, "data:"):
			comma := strings.IndexByte(buf.URI, ',')
			if comma == -1 || !strings.Contains(buf.URI[:comma], "base64") {
				return fmt.Errorf("gltf: buffer %d has an unsupported data uri", i)
			}
			data, err := base64.StdEncoding.DecodeString(buf.URI[comma+1:])
			if err != nil {
				return fmt.Errorf("gltf: buffer %d: %s", i, err)
			}
			buf.data = data
		default:
			data, err := r.readExternal(buf.URI)
			if err != nil {
				return fmt.Errorf("gltf: buffer %d: %s", i, err)
			}
			buf.data = data
		}

		if len(buf.data) < buf.ByteLength {
			return fmt.Errorf("gltf: %w: buffer %d holds %d of %d bytes", ErrTruncatedContainer, i, len(buf.data), buf.ByteLength)
		}
	}
	return nil
}

func (r *gltfSceneReader) readExternal(uri string) ([]byte, error) {
	res, err := asset.NewResource(uri, r.res)
	if err != nil {
		return nil, err
	}
	defer res.Close()
	return io.ReadAll(res)
}

// Load every mesh primitive as a geometry; returns the per-mesh material
// reference lists used when instancing.
func (r *gltfSceneReader) loadMeshes(sc *scene.Scene) ([][]int32, error) {
	meshMaterialIDs := make([][]int32, 0, len(r.doc.Meshes))
	for meshIndex, m := range r.doc.Meshes {
		mesh := scene.Mesh{}
		materialIDs := make([]int32, 0, len(m.Primitives))

		for primIndex, p := range m.Primitives {
			if p.Mode != nil && *p.Mode != gltfModeTriangles {
				return nil, fmt.Errorf("gltf: %w: mesh %d primitive %d has mode %d", ErrUnsupportedPrimitive, meshIndex, primIndex, *p.Mode)
			}
			if p.Indices == nil {
				return nil, fmt.Errorf("gltf: %w: mesh %d primitive %d is not indexed", ErrUnsupportedPrimitive, meshIndex, primIndex)
			}

			matID := scene.UnassignedMaterial
			if p.Material != nil {
				matID = int32(*p.Material)
			}
			materialIDs = append(materialIDs, matID)

			geom := scene.Geometry{}

			posAccessor, exists := p.Attributes["POSITION"]
			if !exists {
				return nil, fmt.Errorf("gltf: mesh %d primitive %d has no POSITION attribute", meshIndex, primIndex)
			}
			var err error
			if geom.Positions, err = r.readVec3(posAccessor); err != nil {
				return nil, err
			}
			if accessor, exists := p.Attributes["NORMAL"]; exists {
				if geom.Normals, err = r.readVec3(accessor); err != nil {
					return nil, err
				}
			}
			if accessor, exists := p.Attributes["TEXCOORD_0"]; exists {
				if geom.UVs, err = r.readVec2(accessor); err != nil {
					return nil, err
				}
			}
			if geom.Indices, err = r.readIndices(*p.Indices); err != nil {
				return nil, err
			}

			mesh.Geometries = append(mesh.Geometries, geom)
		}

		meshMaterialIDs = append(meshMaterialIDs, materialIDs)
		sc.Meshes = append(sc.Meshes, mesh)
	}
	return meshMaterialIDs, nil
}

// Decode every referenced image through the texture collaborator. Color space
// stays linear until material loading discovers a color usage.
func (r *gltfSceneReader) loadImages(sc *scene.Scene) error {
	for i, img := range r.doc.Images {
		var data []byte
		var err error
		switch {
		case img.BufferView != nil:
			data, err = r.viewBytes(*img.BufferView)
		case strings.HasPrefix(img.URI, "data:"):
			comma := strings.IndexByte(img.URI, ',')
			if comma == -1 {
				err = fmt.Errorf("unsupported data uri")
				break
			}
			data, err = base64.StdEncoding.DecodeString(img.URI[comma+1:])
		case img.URI != "":
			data, err = r.readExternal(img.URI)
		default:
			err = fmt.Errorf("no content source")
		}
		if err != nil {
			return fmt.Errorf("gltf: image %d: %s", i, err)
		}

		name := img.Name
		if name == "" {
			name = img.URI
		}
		decoded, err := texture.Decode(name, data, false)
		if err != nil {
			return fmt.Errorf("gltf: %s", err)
		}
		sc.Textures = append(sc.Textures, *decoded)
	}
	return nil
}

// Map pbrMetallicRoughness onto the Disney parameterization. Metallic reads
// the blue channel and roughness the green channel of the shared
// metallic-roughness texture.
func (r *gltfSceneReader) loadMaterials(sc *scene.Scene) {
	for _, m := range r.doc.Materials {
		pbr := m.PBRMetallicRoughness

		mat := scene.Material{
			BaseColor: scene.ColorValue(mgl32.Vec3{1, 1, 1}),
			Metallic:  scene.ScalarParam(1),
			Roughness: scene.ScalarParam(1),
		}
		if pbr.BaseColorFactor != nil {
			mat.BaseColor = scene.ColorValue(mgl32.Vec3{pbr.BaseColorFactor[0], pbr.BaseColorFactor[1], pbr.BaseColorFactor[2]})
		}
		if pbr.MetallicFactor != nil {
			mat.Metallic = scene.ScalarParam(*pbr.MetallicFactor)
		}
		if pbr.RoughnessFactor != nil {
			mat.Roughness = scene.ScalarParam(*pbr.RoughnessFactor)
		}

		if id, ok := r.textureSource(pbr.BaseColorTexture); ok {
			sc.Textures[id].ColorSpace = scene.SRGB
			mat.BaseColor = scene.TexturedColor(id)
		}
		if id, ok := r.textureSource(pbr.MetallicRoughnessTexture); ok {
			sc.Textures[id].ColorSpace = scene.Linear
			mat.Metallic = scene.TexturedParam(id, 2)
			mat.Roughness = scene.TexturedParam(id, 1)
		}

		sc.Materials = append(sc.Materials, mat)
	}
}

// Resolve a material texture reference to its source image index.
func (r *gltfSceneReader) textureSource(ref *gltfTexRef) (int32, bool) {
	if ref == nil || ref.Index < 0 || ref.Index >= len(r.doc.Textures) {
		return 0, false
	}
	src := r.doc.Textures[ref.Index].Source
	if src == nil {
		return 0, false
	}
	return int32(*src), true
}

// Flatten the node hierarchy of the default scene into world-space instances.
func (r *gltfSceneReader) loadInstances(sc *scene.Scene, meshMaterialIDs [][]int32) {
	sceneIndex := 0
	if r.doc.Scene != nil {
		sceneIndex = *r.doc.Scene
	}
	if sceneIndex < 0 || sceneIndex >= len(r.doc.Scenes) {
		return
	}

	var visit func(nodeIndex int, parent mgl32.Mat4)
	visit = func(nodeIndex int, parent mgl32.Mat4) {
		node := &r.doc.Nodes[nodeIndex]
		world := parent.Mul4(nodeTransform(node))

		if node.Mesh != nil {
			materialIDs := make([]int32, len(meshMaterialIDs[*node.Mesh]))
			copy(materialIDs, meshMaterialIDs[*node.Mesh])
			sc.Instances = append(sc.Instances, scene.Instance{
				Transform:   world,
				MeshID:      *node.Mesh,
				MaterialIDs: materialIDs,
			})
		}
		for _, child := range node.Children {
			visit(child, world)
		}
	}
	for _, root := range r.doc.Scenes[sceneIndex].Nodes {
		visit(root, mgl32.Ident4())
	}
}

// Get a node's local transform: either the explicit column-major matrix or
// the T*R*S decomposition.
func nodeTransform(node *gltfNode) mgl32.Mat4 {
	if node.Matrix != nil {
		var m mgl32.Mat4
		copy(m[:], node.Matrix[:])
		return m
	}

	transform := mgl32.Ident4()
	if node.Translation != nil {
		transform = transform.Mul4(mgl32.Translate3D(node.Translation[0], node.Translation[1], node.Translation[2]))
	}
	if node.Rotation != nil {
		q := mgl32.Quat{
			W: node.Rotation[3],
			V: mgl32.Vec3{node.Rotation[0], node.Rotation[1], node.Rotation[2]},
		}
		transform = transform.Mul4(q.Mat4())
	}
	if node.Scale != nil {
		transform = transform.Mul4(mgl32.Scale3D(node.Scale[0], node.Scale[1], node.Scale[2]))
	}
	return transform
}

// Get the bytes a buffer view covers.
func (r *gltfSceneReader) viewBytes(viewIndex int) ([]byte, error) {
	if viewIndex < 0 || viewIndex >= len(r.doc.BufferViews) {
		return nil, fmt.Errorf("buffer view %d out of range", viewIndex)
	}
	view := &r.doc.BufferViews[viewIndex]
	if view.Buffer < 0 || view.Buffer >= len(r.doc.Buffers) {
		return nil, fmt.Errorf("buffer view %d references unknown buffer %d", viewIndex, view.Buffer)
	}
	buf := &r.doc.Buffers[view.Buffer]
	if view.ByteOffset+view.ByteLength > len(buf.data) {
		return nil, fmt.Errorf("%w: buffer view %d", ErrTruncatedContainer, viewIndex)
	}
	return buf.data[view.ByteOffset : view.ByteOffset+view.ByteLength], nil
}

// Locate an accessor's element data: base byte slice, element stride and
// element count.
func (r *gltfSceneReader) accessorData(accessorIndex, elemSize int) ([]byte, int, int, error) {
	if accessorIndex < 0 || accessorIndex >= len(r.doc.Accessors) {
		return nil, 0, 0, fmt.Errorf("gltf: accessor %d out of range", accessorIndex)
	}
	accessor := &r.doc.Accessors[accessorIndex]
	if accessor.BufferView == nil {
		return nil, 0, 0, fmt.Errorf("gltf: accessor %d has no buffer view", accessorIndex)
	}

	data, err := r.viewBytes(*accessor.BufferView)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("gltf: %s", err)
	}

	stride := r.doc.BufferViews[*accessor.BufferView].ByteStride
	if stride == 0 {
		stride = elemSize
	}
	if accessor.Count > 0 {
		need := accessor.ByteOffset + (accessor.Count-1)*stride + elemSize
		if need > len(data) {
			return nil, 0, 0, fmt.Errorf("gltf: %w: accessor %d", ErrTruncatedContainer, accessorIndex)
		}
	}
	return data[accessor.ByteOffset:], stride, accessor.Count, nil
}

func (r *gltfSceneReader) readVec3(accessorIndex int) ([]mgl32.Vec3, error) {
	data, stride, count, err := r.accessorData(accessorIndex, 12)
	if err != nil {
		return nil, err
	}

	out := make([]mgl32.Vec3, count)
	for i := 0; i < count; i++ {
		elem := data[i*stride:]
		out[i] = mgl32.Vec3{
			math.Float32frombits(binary.LittleEndian.Uint32(elem)),
			math.Float32frombits(binary.LittleEndian.Uint32(elem[4:])),
			math.Float32frombits(binary.LittleEndian.Uint32(elem[8:])),
		}
	}
	return out, nil
}

func (r *gltfSceneReader) readVec2(accessorIndex int) ([]mgl32.Vec2, error) {
	data, stride, count, err := r.accessorData(accessorIndex, 8)
	if err != nil {
		return nil, err
	}

	out := make([]mgl32.Vec2, count)
	for i := 0; i < count; i++ {
		elem := data[i*stride:]
		out[i] = mgl32.Vec2{
			math.Float32frombits(binary.LittleEndian.Uint32(elem)),
			math.Float32frombits(binary.LittleEndian.Uint32(elem[4:])),
		}
	}
	return out, nil
}

// Read a triangle index accessor. Only 16 and 32 bit unsigned component
// types are supported.
func (r *gltfSceneReader) readIndices(accessorIndex int) ([][3]uint32, error) {
	if accessorIndex < 0 || accessorIndex >= len(r.doc.Accessors) {
		return nil, fmt.Errorf("gltf: accessor %d out of range", accessorIndex)
	}
	accessor := &r.doc.Accessors[accessorIndex]

	var elemSize int
	switch accessor.ComponentType {
	case gltfComponentU16:
		elemSize = 2
	case gltfComponentU32:
		elemSize = 4
	default:
		return nil, fmt.Errorf("gltf: %w: component type %d", ErrUnsupportedIndexType, accessor.ComponentType)
	}

	data, stride, count, err := r.accessorData(accessorIndex, elemSize)
	if err != nil {
		return nil, err
	}

	flat := make([]uint32, count)
	for i := 0; i < count; i++ {
		elem := data[i*stride:]
		if elemSize == 2 {
			flat[i] = uint32(binary.LittleEndian.Uint16(elem))
		} else {
			flat[i] = binary.LittleEndian.Uint32(elem)
		}
	}

	out := make([][3]uint32, count/3)
	for i := range out {
		out[i] = [3]uint32{flat[i*3], flat[i*3+1], flat[i*3+2]}
	}
	return out, nil
}
