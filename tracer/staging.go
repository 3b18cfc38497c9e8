package tracer

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/auriga-rt/auriga/asset/scene"
	"github.com/auriga-rt/auriga/tracer/device"
)

// StagedGeometry holds one geometry's device-resident buffers, all in the
// shader-resource state. Normals and UVs are present only when the source
// geometry carried them.
type StagedGeometry struct {
	Vertices *device.Buffer
	Indices  *device.Buffer
	Normals  *device.Buffer
	UVs      *device.Buffer

	VertexCount   uint32
	TriangleCount uint32
}

// Desc points a bottom-level build at this geometry.
func (sg *StagedGeometry) Desc() device.GeometryDesc {
	return device.GeometryDesc{
		VertexBuffer:  sg.Vertices,
		VertexCount:   sg.VertexCount,
		IndexBuffer:   sg.Indices,
		TriangleCount: sg.TriangleCount,
	}
}

// Release frees the device buffers.
func (sg *StagedGeometry) Release() {
	for _, buf := range []*device.Buffer{sg.Vertices, sg.Indices, sg.Normals, sg.UVs} {
		if buf != nil {
			buf.Release()
		}
	}
}

// StageGeometry moves one geometry onto the device: exact-size upload
// buffers are mapped and filled, copied into default heap buffers and
// transitioned to the shader-resource state. The call blocks until the
// copies retire, then releases the upload memory. Geometry without normals
// is rejected before any device memory is touched.
func StageGeometry(dev *device.Device, geom *scene.Geometry) (*StagedGeometry, error) {
	if len(geom.Normals) == 0 {
		return nil, fmt.Errorf("%w: normals", ErrMissingRequiredAttribute)
	}

	arrays := [][]byte{
		packVec3s(geom.Positions),
		packTris(geom.Indices),
		packVec3s(geom.Normals),
	}
	if len(geom.UVs) > 0 {
		arrays = append(arrays, packVec2s(geom.UVs))
	}

	staged := &StagedGeometry{
		VertexCount:   uint32(len(geom.Positions)),
		TriangleCount: uint32(len(geom.Indices)),
	}
	targets := []**device.Buffer{&staged.Vertices, &staged.Indices, &staged.Normals, &staged.UVs}

	uploads := make([]*device.Buffer, 0, len(arrays))
	releaseUploads := func() {
		for _, buf := range uploads {
			buf.Release()
		}
	}

	list := device.NewCommandList()
	for i, data := range arrays {
		upload, err := dev.Upload(uint64(len(data)))
		if err != nil {
			releaseUploads()
			staged.Release()
			return nil, err
		}
		uploads = append(uploads, upload)

		mapped, err := upload.Map()
		if err != nil {
			releaseUploads()
			staged.Release()
			return nil, err
		}
		copy(mapped, data)

		dst, err := dev.Default(uint64(len(data)), device.CopyDest)
		if err != nil {
			releaseUploads()
			staged.Release()
			return nil, err
		}
		*targets[i] = dst

		list.CopyBuffer(dst, upload)
		list.Transition(dst, device.ShaderResource)
	}

	value, err := dev.SubmitAndSignal(list)
	if err != nil {
		releaseUploads()
		staged.Release()
		return nil, err
	}
	if err := dev.Fence().Wait(value); err != nil {
		releaseUploads()
		staged.Release()
		return nil, err
	}

	// The copies retired; upload memory is no longer referenced.
	releaseUploads()
	return staged, nil
}

func packVec3s(vecs []mgl32.Vec3) []byte {
	out := make([]byte, len(vecs)*12)
	for i, v := range vecs {
		for c := 0; c < 3; c++ {
			binary.LittleEndian.PutUint32(out[i*12+c*4:], math.Float32bits(v[c]))
		}
	}
	return out
}

func packVec2s(vecs []mgl32.Vec2) []byte {
	out := make([]byte, len(vecs)*8)
	for i, v := range vecs {
		for c := 0; c < 2; c++ {
			binary.LittleEndian.PutUint32(out[i*8+c*4:], math.Float32bits(v[c]))
		}
	}
	return out
}

func packTris(tris [][3]uint32) []byte {
	out := make([]byte, len(tris)*12)
	for i, tri := range tris {
		for c := 0; c < 3; c++ {
			binary.LittleEndian.PutUint32(out[i*12+c*4:], tri[c])
		}
	}
	return out
}
