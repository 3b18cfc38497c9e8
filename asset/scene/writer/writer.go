// Package writer serializes scenes into the crts packed container so any
// supported input format can be recompiled into the engine's native form.
package writer

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"os"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/auriga-rt/auriga/asset/scene"
	"github.com/auriga-rt/auriga/log"
)

type crtsBufferView struct {
	ByteOffset uint64 `json:"byte_offset"`
	ByteLength uint64 `json:"byte_length"`
	Type       string `json:"type"`
}

type crtsMesh struct {
	Positions uint64  `json:"positions"`
	Indices   uint64  `json:"indices"`
	Texcoords *uint64 `json:"texcoords,omitempty"`
	Normals   *uint64 `json:"normals,omitempty"`
}

type crtsImage struct {
	Name       string `json:"name"`
	View       uint64 `json:"view"`
	ColorSpace string `json:"color_space"`
}

type crtsObject struct {
	Type   string      `json:"type"`
	Matrix [16]float32 `json:"matrix"`

	Mesh     *int   `json:"mesh,omitempty"`
	Material *int32 `json:"material,omitempty"`

	Color  *[3]float32 `json:"color,omitempty"`
	Energy *float32    `json:"energy,omitempty"`
	Size   *[2]float32 `json:"size,omitempty"`

	FOVY *float32 `json:"fov_y,omitempty"`
}

type crtsHeader struct {
	BufferViews []crtsBufferView         `json:"buffer_views"`
	Meshes      []crtsMesh               `json:"meshes"`
	Images      []crtsImage              `json:"images"`
	Materials   []map[string]interface{} `json:"materials"`
	Objects     []crtsObject             `json:"objects"`
}

type containerSceneWriter struct {
	logger log.Logger

	header crtsHeader
	blob   bytes.Buffer
}

// Write scene to a crts container file. Multi-geometry meshes are split into
// one container mesh per geometry, with each instance emitting one placement
// object per geometry, since the container binds exactly one material to each
// object.
func WriteScene(sc *scene.Scene, filename string) error {
	w := &containerSceneWriter{logger: log.New("crts scene writer")}
	w.logger.Noticef(`writing scene to "%s"`, filename)
	start := time.Now()

	// Geometry (meshID, geomIndex) -> container mesh index.
	meshBase := make([]int, len(sc.Meshes))
	for meshID := range sc.Meshes {
		meshBase[meshID] = len(w.header.Meshes)
		for geomIndex := range sc.Meshes[meshID].Geometries {
			w.appendMesh(&sc.Meshes[meshID].Geometries[geomIndex])
		}
	}

	for i := range sc.Textures {
		if err := w.appendImage(&sc.Textures[i]); err != nil {
			return err
		}
	}
	for i := range sc.Materials {
		w.appendMaterial(&sc.Materials[i])
	}

	for _, inst := range sc.Instances {
		for geomIndex := range sc.Meshes[inst.MeshID].Geometries {
			meshIndex := meshBase[inst.MeshID] + geomIndex
			matID := inst.MaterialIDs[geomIndex]
			var matrix [16]float32
			copy(matrix[:], inst.Transform[:])
			w.header.Objects = append(w.header.Objects, crtsObject{
				Type:     "MESH",
				Matrix:   matrix,
				Mesh:     &meshIndex,
				Material: &matID,
			})
		}
	}
	for i := range sc.Lights {
		w.appendLight(&sc.Lights[i])
	}
	for i := range sc.Cameras {
		w.appendCamera(&sc.Cameras[i])
	}

	headerJSON, err := json.Marshal(&w.header)
	if err != nil {
		return fmt.Errorf("writer: marshaling header: %s", err)
	}

	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("writer: %s", err)
	}
	defer f.Close()

	if err := binary.Write(f, binary.LittleEndian, uint64(len(headerJSON))); err != nil {
		return fmt.Errorf("writer: %s", err)
	}
	if _, err := f.Write(headerJSON); err != nil {
		return fmt.Errorf("writer: %s", err)
	}
	if _, err := f.Write(w.blob.Bytes()); err != nil {
		return fmt.Errorf("writer: %s", err)
	}

	w.logger.Noticef("wrote scene in %d ms", time.Since(start).Nanoseconds()/1e6)
	return nil
}

// Append raw bytes to the blob as a new buffer view.
func (w *containerSceneWriter) appendView(data []byte, dtype string) uint64 {
	viewID := uint64(len(w.header.BufferViews))
	w.header.BufferViews = append(w.header.BufferViews, crtsBufferView{
		ByteOffset: uint64(w.blob.Len()),
		ByteLength: uint64(len(data)),
		Type:       dtype,
	})
	w.blob.Write(data)
	return viewID
}

func (w *containerSceneWriter) appendVec3View(data []mgl32.Vec3) uint64 {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, data)
	return w.appendView(buf.Bytes(), "VEC3_FLOAT32")
}

func (w *containerSceneWriter) appendVec2View(data []mgl32.Vec2) uint64 {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, data)
	return w.appendView(buf.Bytes(), "VEC2_FLOAT32")
}

func (w *containerSceneWriter) appendTriView(data [][3]uint32) uint64 {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, data)
	return w.appendView(buf.Bytes(), "VEC3_UINT32")
}

func (w *containerSceneWriter) appendMesh(geom *scene.Geometry) {
	mesh := crtsMesh{
		Positions: w.appendVec3View(geom.Positions),
		Indices:   w.appendTriView(geom.Indices),
	}
	if len(geom.UVs) > 0 {
		view := w.appendVec2View(geom.UVs)
		mesh.Texcoords = &view
	}
	if len(geom.Normals) > 0 {
		view := w.appendVec3View(geom.Normals)
		mesh.Normals = &view
	}
	w.header.Meshes = append(w.header.Meshes, mesh)
}

// Encode an image into a png view. The container convention stores rows
// bottom-up relative to the in-memory layout, so rows are flipped before
// encoding; the reader flips them back on decode.
func (w *containerSceneWriter) appendImage(img *scene.Image) error {
	if img.Channels != 4 {
		return fmt.Errorf("writer: image %q has %d channels; expected 4", img.Name, img.Channels)
	}

	flipped := image.NewRGBA(image.Rect(0, 0, img.Width, img.Height))
	rowLen := img.Width * 4
	for y := 0; y < img.Height; y++ {
		src := img.Pixels[y*rowLen : (y+1)*rowLen]
		copy(flipped.Pix[(img.Height-1-y)*flipped.Stride:], src)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, flipped); err != nil {
		return fmt.Errorf("writer: encoding image %q: %s", img.Name, err)
	}

	w.header.Images = append(w.header.Images, crtsImage{
		Name:       img.Name,
		View:       w.appendView(buf.Bytes(), "UINT8"),
		ColorSpace: img.ColorSpace.String(),
	})
	return nil
}

// Emit a scalar material parameter, adding the structural texture
// redirection when the parameter is textured.
func emitParam(entry map[string]interface{}, name string, p scene.Param) {
	if tex, channel, ok := p.Texture(); ok {
		entry[name] = float32(0)
		entry[name+"_texture"] = map[string]int32{"texture": tex, "channel": channel}
		return
	}
	value, _ := p.Scalar()
	entry[name] = value
}

func (w *containerSceneWriter) appendMaterial(mat *scene.Material) {
	entry := make(map[string]interface{})

	if tex, ok := mat.BaseColor.Texture(); ok {
		entry["base_color"] = [3]float32{1, 1, 1}
		entry["base_color_texture"] = tex
	} else {
		color, _ := mat.BaseColor.Color()
		entry["base_color"] = [3]float32{color[0], color[1], color[2]}
	}

	emitParam(entry, "metallic", mat.Metallic)
	emitParam(entry, "specular", mat.Specular)
	emitParam(entry, "roughness", mat.Roughness)
	emitParam(entry, "specular_tint", mat.SpecularTint)
	emitParam(entry, "anisotropic", mat.Anisotropy)
	emitParam(entry, "sheen", mat.Sheen)
	emitParam(entry, "sheen_tint", mat.SheenTint)
	emitParam(entry, "clearcoat", mat.Clearcoat)
	emitParam(entry, "clearcoat_roughness", mat.ClearcoatGloss)
	emitParam(entry, "ior", mat.IOR)
	emitParam(entry, "transmission", mat.SpecularTransmission)

	w.header.Materials = append(w.header.Materials, entry)
}

// Rebuild the light's world matrix from its orthonormal basis. The reader
// inverts this decomposition exactly.
func (w *containerSceneWriter) appendLight(light *scene.QuadLight) {
	var m mgl32.Mat4
	m.SetCol(0, light.VX)
	m.SetCol(1, light.VY)
	m.SetCol(2, light.Normal.Mul(-1))
	m.SetCol(3, light.Position)

	var matrix [16]float32
	copy(matrix[:], m[:])

	color := [3]float32{light.Emission.X(), light.Emission.Y(), light.Emission.Z()}
	energy := float32(1)
	size := [2]float32{light.Width, light.Height}
	w.header.Objects = append(w.header.Objects, crtsObject{
		Type:   "LIGHT",
		Matrix: matrix,
		Color:  &color,
		Energy: &energy,
		Size:   &size,
	})
}

// Rebuild the camera's world matrix from its look parameters.
func (w *containerSceneWriter) appendCamera(camera *scene.Camera) {
	dir := camera.Center.Sub(camera.Position).Normalize()
	up := camera.Up.Normalize()
	right := dir.Cross(up).Normalize()

	var m mgl32.Mat4
	m.SetCol(0, right.Vec4(0))
	m.SetCol(1, up.Vec4(0))
	m.SetCol(2, dir.Mul(-1).Vec4(0))
	m.SetCol(3, camera.Position.Vec4(1))

	var matrix [16]float32
	copy(matrix[:], m[:])

	fov := camera.FOVY * 1.18
	w.header.Objects = append(w.header.Objects, crtsObject{
		Type:   "CAMERA",
		Matrix: matrix,
		FOVY:   &fov,
	})
}
