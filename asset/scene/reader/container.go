package reader

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/auriga-rt/auriga/asset"
	"github.com/auriga-rt/auriga/asset/scene"
	"github.com/auriga-rt/auriga/asset/texture"
	"github.com/auriga-rt/auriga/log"
)

// The crts container: an 8 byte little-endian header length, a JSON header
// and a raw data blob the header's buffer views index into. One geometry per
// mesh; objects reference meshes, lights and cameras by a type tag.

type crtsHeader struct {
	BufferViews []crtsBufferView `json:"buffer_views"`
	Meshes      []crtsMesh       `json:"meshes"`
	Images      []crtsImage      `json:"images"`
	Materials   []crtsMaterial   `json:"materials"`
	Objects     []crtsObject     `json:"objects"`
}

type crtsBufferView struct {
	ByteOffset uint64 `json:"byte_offset"`
	ByteLength uint64 `json:"byte_length"`
	Type       string `json:"type"`
}

type crtsMesh struct {
	Positions uint64  `json:"positions"`
	Indices   uint64  `json:"indices"`
	Texcoords *uint64 `json:"texcoords"`
	Normals   *uint64 `json:"normals"`
}

type crtsImage struct {
	Name       string `json:"name"`
	View       uint64 `json:"view"`
	ColorSpace string `json:"color_space"`
}

type crtsTexRef struct {
	Texture int32 `json:"texture"`
	Channel int32 `json:"channel"`
}

type crtsMaterial struct {
	BaseColor        [3]float32 `json:"base_color"`
	BaseColorTexture *int32     `json:"base_color_texture"`

	Metallic           float32     `json:"metallic"`
	MetallicTexture    *crtsTexRef `json:"metallic_texture"`
	Specular           float32     `json:"specular"`
	SpecularTexture    *crtsTexRef `json:"specular_texture"`
	Roughness          float32     `json:"roughness"`
	RoughnessTexture   *crtsTexRef `json:"roughness_texture"`
	SpecularTint       float32     `json:"specular_tint"`
	SpecularTintTex    *crtsTexRef `json:"specular_tint_texture"`
	Anisotropic        float32     `json:"anisotropic"`
	AnisotropicTexture *crtsTexRef `json:"anisotropic_texture"`
	Sheen              float32     `json:"sheen"`
	SheenTexture       *crtsTexRef `json:"sheen_texture"`
	SheenTint          float32     `json:"sheen_tint"`
	SheenTintTexture   *crtsTexRef `json:"sheen_tint_texture"`
	Clearcoat          float32     `json:"clearcoat"`
	ClearcoatTexture   *crtsTexRef `json:"clearcoat_texture"`
	ClearcoatRoughness float32     `json:"clearcoat_roughness"`
	ClearcoatRoughTex  *crtsTexRef `json:"clearcoat_roughness_texture"`
	IOR                float32     `json:"ior"`
	IORTexture         *crtsTexRef `json:"ior_texture"`
	Transmission       float32     `json:"transmission"`
	TransmissionTex    *crtsTexRef `json:"transmission_texture"`
}

type crtsObject struct {
	Type   string      `json:"type"`
	Matrix [16]float32 `json:"matrix"`

	// MESH fields.
	Mesh     *int   `json:"mesh"`
	Material *int32 `json:"material"`

	// LIGHT fields.
	Color  *[3]float32 `json:"color"`
	Energy *float32    `json:"energy"`
	Size   *[2]float32 `json:"size"`

	// CAMERA fields.
	FOVY *float32 `json:"fov_y"`
}

// Element strides for the buffer view data types.
var crtsStrides = map[string]uint64{
	"UINT8":        1,
	"UINT16":       2,
	"UINT32":       4,
	"FLOAT32":      4,
	"VEC2_FLOAT32": 8,
	"VEC3_FLOAT32": 12,
	"VEC3_UINT32":  12,
}

type containerSceneReader struct {
	logger log.Logger

	header crtsHeader
	blob   []byte
}

// Create a crts container reader.
func newContainerReader() *containerSceneReader {
	return &containerSceneReader{
		logger: log.New("crts scene reader"),
	}
}

// Read scene definition.
func (r *containerSceneReader) Read(sceneRes *asset.Resource) (*scene.Scene, error) {
	r.logger.Noticef(`parsing scene from "%s"`, sceneRes.Path())
	start := time.Now()

	data, err := io.ReadAll(sceneRes)
	if err != nil {
		return nil, fmt.Errorf("crts: reading %q: %s", sceneRes.Path(), err)
	}

	if len(data) < 8 {
		return nil, fmt.Errorf("crts: %w: missing header length", ErrTruncatedContainer)
	}
	headerLen := binary.LittleEndian.Uint64(data)
	if 8+headerLen > uint64(len(data)) {
		return nil, fmt.Errorf("crts: %w: header of %d bytes in a %d byte file", ErrTruncatedContainer, headerLen, len(data))
	}

	if err := json.Unmarshal(data[8:8+headerLen], &r.header); err != nil {
		return nil, fmt.Errorf("crts: parsing header: %s", err)
	}
	r.blob = data[8+headerLen:]

	sc := &scene.Scene{}
	if err := r.loadMeshes(sc); err != nil {
		return nil, err
	}
	if err := r.loadImages(sc); err != nil {
		return nil, err
	}
	r.loadMaterials(sc)
	if err := r.loadObjects(sc); err != nil {
		return nil, err
	}

	if len(sc.Lights) == 0 {
		r.logger.Notice("no lights in scene; generating one")
		sc.Lights = append(sc.Lights, scene.DefaultLight(10))
	}

	if err := sc.Validate(); err != nil {
		return nil, err
	}

	r.logger.Noticef("parsed scene in %d ms", time.Since(start).Nanoseconds()/1e6)
	return sc, nil
}

// Get the blob bytes a view covers, checking the extents against the blob
// before anything dereferences them.
func (r *containerSceneReader) viewBytes(viewID uint64, wantTypes ...string) ([]byte, uint64, error) {
	if viewID >= uint64(len(r.header.BufferViews)) {
		return nil, 0, fmt.Errorf("crts: view %d out of range", viewID)
	}
	view := &r.header.BufferViews[viewID]

	stride, known := crtsStrides[view.Type]
	if !known {
		return nil, 0, fmt.Errorf("crts: view %d has unknown type %q", viewID, view.Type)
	}
	typeOK := len(wantTypes) == 0
	for _, want := range wantTypes {
		typeOK = typeOK || view.Type == want
	}
	if !typeOK {
		return nil, 0, fmt.Errorf("crts: view %d holds %s data; expected %v", viewID, view.Type, wantTypes)
	}

	if view.ByteOffset+view.ByteLength > uint64(len(r.blob)) {
		return nil, 0, fmt.Errorf("crts: %w: view %d covers [%d, %d) of a %d byte blob",
			ErrTruncatedContainer, viewID, view.ByteOffset, view.ByteOffset+view.ByteLength, len(r.blob))
	}
	return r.blob[view.ByteOffset : view.ByteOffset+view.ByteLength], stride, nil
}

func (r *containerSceneReader) readVec3View(viewID uint64) ([]mgl32.Vec3, error) {
	data, stride, err := r.viewBytes(viewID, "VEC3_FLOAT32")
	if err != nil {
		return nil, err
	}

	out := make([]mgl32.Vec3, uint64(len(data))/stride)
	for i := range out {
		elem := data[uint64(i)*stride:]
		out[i] = mgl32.Vec3{
			math.Float32frombits(binary.LittleEndian.Uint32(elem)),
			math.Float32frombits(binary.LittleEndian.Uint32(elem[4:])),
			math.Float32frombits(binary.LittleEndian.Uint32(elem[8:])),
		}
	}
	return out, nil
}

func (r *containerSceneReader) readVec2View(viewID uint64) ([]mgl32.Vec2, error) {
	data, stride, err := r.viewBytes(viewID, "VEC2_FLOAT32")
	if err != nil {
		return nil, err
	}

	out := make([]mgl32.Vec2, uint64(len(data))/stride)
	for i := range out {
		elem := data[uint64(i)*stride:]
		out[i] = mgl32.Vec2{
			math.Float32frombits(binary.LittleEndian.Uint32(elem)),
			math.Float32frombits(binary.LittleEndian.Uint32(elem[4:])),
		}
	}
	return out, nil
}

func (r *containerSceneReader) readTriView(viewID uint64) ([][3]uint32, error) {
	data, stride, err := r.viewBytes(viewID, "VEC3_UINT32")
	if err != nil {
		return nil, err
	}

	out := make([][3]uint32, uint64(len(data))/stride)
	for i := range out {
		elem := data[uint64(i)*stride:]
		out[i] = [3]uint32{
			binary.LittleEndian.Uint32(elem),
			binary.LittleEndian.Uint32(elem[4:]),
			binary.LittleEndian.Uint32(elem[8:]),
		}
	}
	return out, nil
}

// Load the meshes; each container mesh holds exactly one geometry.
func (r *containerSceneReader) loadMeshes(sc *scene.Scene) error {
	for meshIndex, m := range r.header.Meshes {
		geom := scene.Geometry{}

		var err error
		if geom.Positions, err = r.readVec3View(m.Positions); err != nil {
			return fmt.Errorf("mesh %d positions: %w", meshIndex, err)
		}
		if geom.Indices, err = r.readTriView(m.Indices); err != nil {
			return fmt.Errorf("mesh %d indices: %w", meshIndex, err)
		}
		if m.Texcoords != nil {
			if geom.UVs, err = r.readVec2View(*m.Texcoords); err != nil {
				return fmt.Errorf("mesh %d texcoords: %w", meshIndex, err)
			}
		}
		if m.Normals != nil {
			if geom.Normals, err = r.readVec3View(*m.Normals); err != nil {
				return fmt.Errorf("mesh %d normals: %w", meshIndex, err)
			}
		}

		sc.Meshes = append(sc.Meshes, scene.Mesh{Geometries: []scene.Geometry{geom}})
	}
	return nil
}

// Decode the packed images. Containers store images top-down in their
// encoded form but the renderer samples bottom-up, so decoding flips them.
func (r *containerSceneReader) loadImages(sc *scene.Scene) error {
	for imgIndex, img := range r.header.Images {
		data, _, err := r.viewBytes(img.View, "UINT8")
		if err != nil {
			return fmt.Errorf("image %d: %w", imgIndex, err)
		}

		decoded, err := texture.Decode(img.Name, data, true)
		if err != nil {
			return fmt.Errorf("crts: %w", err)
		}
		decoded.ColorSpace = scene.SRGB
		if img.ColorSpace == "LINEAR" {
			decoded.ColorSpace = scene.Linear
		}
		sc.Textures = append(sc.Textures, *decoded)
	}
	return nil
}

func crtsParam(value float32, tex *crtsTexRef) scene.Param {
	if tex != nil {
		return scene.TexturedParam(tex.Texture, tex.Channel)
	}
	return scene.ScalarParam(value)
}

func (r *containerSceneReader) loadMaterials(sc *scene.Scene) {
	for _, m := range r.header.Materials {
		mat := scene.Material{
			BaseColor:            scene.ColorValue(mgl32.Vec3{m.BaseColor[0], m.BaseColor[1], m.BaseColor[2]}),
			Metallic:             crtsParam(m.Metallic, m.MetallicTexture),
			Specular:             crtsParam(m.Specular, m.SpecularTexture),
			Roughness:            crtsParam(m.Roughness, m.RoughnessTexture),
			SpecularTint:         crtsParam(m.SpecularTint, m.SpecularTintTex),
			Anisotropy:           crtsParam(m.Anisotropic, m.AnisotropicTexture),
			Sheen:                crtsParam(m.Sheen, m.SheenTexture),
			SheenTint:            crtsParam(m.SheenTint, m.SheenTintTexture),
			Clearcoat:            crtsParam(m.Clearcoat, m.ClearcoatTexture),
			ClearcoatGloss:       crtsParam(m.ClearcoatRoughness, m.ClearcoatRoughTex),
			IOR:                  crtsParam(m.IOR, m.IORTexture),
			SpecularTransmission: crtsParam(m.Transmission, m.TransmissionTex),
		}
		if m.BaseColorTexture != nil {
			mat.BaseColor = scene.TexturedColor(*m.BaseColorTexture)
		}
		sc.Materials = append(sc.Materials, mat)
	}
}

// Load the object list: mesh placements, quad lights and cameras, each
// carrying a world matrix.
func (r *containerSceneReader) loadObjects(sc *scene.Scene) error {
	for objIndex, obj := range r.header.Objects {
		var matrix mgl32.Mat4
		copy(matrix[:], obj.Matrix[:])

		switch obj.Type {
		case "MESH":
			if obj.Mesh == nil {
				return fmt.Errorf("crts: object %d has no mesh reference", objIndex)
			}
			materialIDs := []int32{scene.UnassignedMaterial}
			if obj.Material != nil {
				materialIDs[0] = *obj.Material
			}
			sc.Instances = append(sc.Instances, scene.Instance{
				Transform:   matrix,
				MeshID:      *obj.Mesh,
				MaterialIDs: materialIDs,
			})
		case "LIGHT":
			light := scene.QuadLight{
				Position: matrix.Col(3),
				Normal:   matrix.Col(2).Mul(-1).Normalize(),
				VX:       matrix.Col(0).Normalize(),
				VY:       matrix.Col(1).Normalize(),
			}
			if obj.Color != nil && obj.Energy != nil {
				emission := mgl32.Vec3{obj.Color[0], obj.Color[1], obj.Color[2]}.Mul(*obj.Energy)
				light.Emission = emission.Vec4(1)
			}
			if obj.Size != nil {
				light.Width = obj.Size[0]
				light.Height = obj.Size[1]
			}
			sc.Lights = append(sc.Lights, light)
		case "CAMERA":
			if obj.FOVY == nil {
				return fmt.Errorf("crts: camera object %d has no fov", objIndex)
			}
			position := matrix.Col(3).Vec3()
			dir := matrix.Col(2).Vec3().Mul(-1).Normalize()
			sc.Cameras = append(sc.Cameras, scene.Camera{
				Position: position,
				Center:   position.Add(dir.Mul(10)),
				Up:       matrix.Col(1).Vec3().Normalize(),
				// Exporter fov values run wide; the correction matches
				// what the authoring tool shows.
				FOVY: *obj.FOVY / 1.18,
			})
		default:
			return fmt.Errorf("crts: object %d has unsupported type %q", objIndex, obj.Type)
		}
	}
	return nil
}
