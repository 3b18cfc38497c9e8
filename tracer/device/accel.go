package device

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/auriga-rt/auriga/tracer/device/bvh"
)

// Serialized acceleration structure layout: a 16 byte header, the BVH nodes
// and the leaf item records the nodes index into.
const (
	accelMagic uint32 = 0x31535241 // "ARS1"

	kindBottomLevel uint32 = 1
	kindTopLevel    uint32 = 2

	accelHeaderSize = 16
	accelNodeSize   = 32

	// Bottom-level leaf item: geometry index and three vertex indices.
	bottomItemSize = 16

	// Top-level leaf item: instance id, mask, hit group, flags, address.
	topItemSize = 24

	// Leaf granularity for both structure levels.
	accelLeafItems = 4

	// PostbuildInfoSize is the byte size of the postbuild info record a
	// build writes: the structure's exact size as a little-endian uint64.
	PostbuildInfoSize = 8
)

// InstanceFlagForceOpaque disables any-hit processing for an instance.
const InstanceFlagForceOpaque uint8 = 0x4

// InstanceDescSize is the packed byte size of one instance descriptor.
const InstanceDescSize = 64

// InstanceDesc describes one placed bottom-level structure in a top-level
// build: a world transform, identification and shading offsets, and the
// virtual address of the bottom-level structure buffer.
type InstanceDesc struct {
	Transform      mgl32.Mat4
	InstanceID     uint32 // 24 bits
	Mask           uint8
	HitGroupOffset uint32 // 24 bits
	Flags          uint8
	AccelStructure uint64
}

// Encode packs the descriptor into the 64 byte wire layout: a 3x4 row-major
// transform, id|mask and hit-group|flags words, and the structure address.
func (desc *InstanceDesc) Encode(out []byte) {
	_ = out[InstanceDescSize-1]
	offset := 0
	for row := 0; row < 3; row++ {
		for col := 0; col < 4; col++ {
			binary.LittleEndian.PutUint32(out[offset:], math.Float32bits(desc.Transform.At(row, col)))
			offset += 4
		}
	}
	binary.LittleEndian.PutUint32(out[48:], desc.InstanceID&0xffffff|uint32(desc.Mask)<<24)
	binary.LittleEndian.PutUint32(out[52:], desc.HitGroupOffset&0xffffff|uint32(desc.Flags)<<24)
	binary.LittleEndian.PutUint64(out[56:], desc.AccelStructure)
}

// DecodeInstanceDesc unpacks a 64 byte descriptor record.
func DecodeInstanceDesc(data []byte) InstanceDesc {
	_ = data[InstanceDescSize-1]
	desc := InstanceDesc{Transform: mgl32.Ident4()}
	offset := 0
	for row := 0; row < 3; row++ {
		for col := 0; col < 4; col++ {
			desc.Transform.Set(row, col, math.Float32frombits(binary.LittleEndian.Uint32(data[offset:])))
			offset += 4
		}
	}
	idMask := binary.LittleEndian.Uint32(data[48:])
	desc.InstanceID = idMask & 0xffffff
	desc.Mask = uint8(idMask >> 24)
	hitFlags := binary.LittleEndian.Uint32(data[52:])
	desc.HitGroupOffset = hitFlags & 0xffffff
	desc.Flags = uint8(hitFlags >> 24)
	desc.AccelStructure = binary.LittleEndian.Uint64(data[56:])
	return desc
}

// BottomLevelPrebuildSize conservatively bounds the structure size for a
// bottom-level build over the given geometries. The true size is reported
// through the postbuild info buffer once the build retires.
func BottomLevelPrebuildSize(geoms []GeometryDesc) uint64 {
	tris := uint64(0)
	for _, g := range geoms {
		tris += uint64(g.TriangleCount)
	}
	return accelStructureSize(2*tris, tris, bottomItemSize)
}

// TopLevelPrebuildSize conservatively bounds the structure size for a
// top-level build over instanceCount instances.
func TopLevelPrebuildSize(instanceCount int) uint64 {
	n := uint64(instanceCount)
	return accelStructureSize(2*n, n, topItemSize)
}

func accelStructureSize(nodes, items, itemSize uint64) uint64 {
	return accelHeaderSize + nodes*accelNodeSize + items*itemSize
}

// StructureNodeCount parses the node count out of a serialized structure.
func StructureNodeCount(data []byte) uint32 {
	if len(data) < accelHeaderSize {
		return 0
	}
	return binary.LittleEndian.Uint32(data[8:])
}

type buildBottomCommand struct {
	geoms     []GeometryDesc
	dst       *Buffer
	postbuild *Buffer
}

// A triangle volume partitioned by the bottom-level build.
type triVolume struct {
	geomIndex  uint32
	indices    [3]uint32
	v0, v1, v2 mgl32.Vec3
}

func (t *triVolume) BBox() [2]mgl32.Vec3 {
	min := t.v0
	max := t.v0
	for _, v := range [2]mgl32.Vec3{t.v1, t.v2} {
		for i := 0; i < 3; i++ {
			if v[i] < min[i] {
				min[i] = v[i]
			}
			if v[i] > max[i] {
				max[i] = v[i]
			}
		}
	}
	return [2]mgl32.Vec3{min, max}
}

func (t *triVolume) Center() mgl32.Vec3 {
	return t.v0.Add(t.v1).Add(t.v2).Mul(1.0 / 3.0)
}

func (c *buildBottomCommand) execute(d *Device) error {
	if err := checkBuildTargets(c.dst, c.postbuild); err != nil {
		return err
	}

	workList := make([]bvh.Volume, 0)
	for geomIndex, g := range c.geoms {
		if g.VertexBuffer.released || g.IndexBuffer.released {
			return fmt.Errorf("device: build: %w", ErrBufferReleased)
		}
		if g.VertexBuffer.state != ShaderResource || g.IndexBuffer.state != ShaderResource {
			return fmt.Errorf("device: build: geometry %d buffers are not in the %s state", geomIndex, ShaderResource)
		}

		positions, err := unpackVec3(g.VertexBuffer.data, g.VertexCount)
		if err != nil {
			return fmt.Errorf("device: build: geometry %d vertices: %s", geomIndex, err)
		}
		tris, err := unpackTris(g.IndexBuffer.data, g.TriangleCount)
		if err != nil {
			return fmt.Errorf("device: build: geometry %d indices: %s", geomIndex, err)
		}

		for _, tri := range tris {
			for _, idx := range tri {
				if idx >= g.VertexCount {
					return fmt.Errorf("device: build: geometry %d index %d out of range", geomIndex, idx)
				}
			}
			workList = append(workList, &triVolume{
				geomIndex: uint32(geomIndex),
				indices:   tri,
				v0:        positions[tri[0]],
				v1:        positions[tri[1]],
				v2:        positions[tri[2]],
			})
		}
	}
	if len(workList) == 0 {
		return fmt.Errorf("device: build: no triangles")
	}

	items := make([]byte, 0, len(workList)*bottomItemSize)
	nodes := bvh.Build(workList, accelLeafItems, func(node *bvh.Node, leafItems []bvh.Volume) uint32 {
		first := uint32(len(items) / bottomItemSize)
		for _, item := range leafItems {
			tri := item.(*triVolume)
			var rec [bottomItemSize]byte
			binary.LittleEndian.PutUint32(rec[0:], tri.geomIndex)
			binary.LittleEndian.PutUint32(rec[4:], tri.indices[0])
			binary.LittleEndian.PutUint32(rec[8:], tri.indices[1])
			binary.LittleEndian.PutUint32(rec[12:], tri.indices[2])
			items = append(items, rec[:]...)
		}
		return first
	})

	blob := serializeStructure(kindBottomLevel, nodes, items, uint32(len(workList)))
	return commitStructure(c.dst, c.postbuild, blob)
}

type compactCommand struct {
	src, dst *Buffer
}

func (c *compactCommand) execute(d *Device) error {
	if c.src.released || c.dst.released {
		return fmt.Errorf("device: compact: %w", ErrBufferReleased)
	}
	if c.src.asSize == 0 {
		return fmt.Errorf("device: compact: source holds no built structure")
	}
	if c.dst.state != AccelStructure {
		return fmt.Errorf("device: compact destination is in state %s; expected %s", c.dst.state, AccelStructure)
	}
	if c.dst.Size() < c.src.asSize {
		return fmt.Errorf("device: compact destination of %d bytes cannot hold %d structure bytes", c.dst.Size(), c.src.asSize)
	}

	copy(c.dst.data, c.src.data[:c.src.asSize])
	c.dst.asSize = c.src.asSize
	return nil
}

type buildTopCommand struct {
	instances *Buffer
	count     int
	dst       *Buffer
	postbuild *Buffer
}

// A placed instance volume partitioned by the top-level build. The bbox is
// the world-space box of the bottom-level structure's root.
type instanceVolume struct {
	desc     InstanceDesc
	min, max mgl32.Vec3
}

func (v *instanceVolume) BBox() [2]mgl32.Vec3 {
	return [2]mgl32.Vec3{v.min, v.max}
}

func (v *instanceVolume) Center() mgl32.Vec3 {
	return v.min.Add(v.max).Mul(0.5)
}

func (c *buildTopCommand) execute(d *Device) error {
	if err := checkBuildTargets(c.dst, c.postbuild); err != nil {
		return err
	}
	if c.instances.released {
		return fmt.Errorf("device: build: %w", ErrBufferReleased)
	}
	if need := uint64(c.count) * InstanceDescSize; c.instances.Size() < need {
		return fmt.Errorf("device: build: instance buffer holds %d of %d descriptor bytes", c.instances.Size(), need)
	}
	if c.count == 0 {
		return fmt.Errorf("device: build: no instances")
	}

	workList := make([]bvh.Volume, 0, c.count)
	for i := 0; i < c.count; i++ {
		desc := DecodeInstanceDesc(c.instances.data[i*InstanceDescSize:])

		blas, exists := d.resolve(desc.AccelStructure)
		if !exists {
			return fmt.Errorf("device: build: instance %d references unknown structure address %#x", i, desc.AccelStructure)
		}
		if blas.asSize == 0 {
			return fmt.Errorf("device: build: instance %d references a buffer holding no built structure", i)
		}

		min, max, err := structureBounds(blas.data)
		if err != nil {
			return fmt.Errorf("device: build: instance %d: %s", i, err)
		}
		wmin, wmax := transformAABB(desc.Transform, min, max)
		workList = append(workList, &instanceVolume{desc: desc, min: wmin, max: wmax})
	}

	items := make([]byte, 0, len(workList)*topItemSize)
	nodes := bvh.Build(workList, accelLeafItems, func(node *bvh.Node, leafItems []bvh.Volume) uint32 {
		first := uint32(len(items) / topItemSize)
		for _, item := range leafItems {
			inst := item.(*instanceVolume)
			var rec [topItemSize]byte
			binary.LittleEndian.PutUint32(rec[0:], inst.desc.InstanceID)
			binary.LittleEndian.PutUint32(rec[4:], uint32(inst.desc.Mask))
			binary.LittleEndian.PutUint32(rec[8:], inst.desc.HitGroupOffset)
			binary.LittleEndian.PutUint32(rec[12:], uint32(inst.desc.Flags))
			binary.LittleEndian.PutUint64(rec[16:], inst.desc.AccelStructure)
			items = append(items, rec[:]...)
		}
		return first
	})

	blob := serializeStructure(kindTopLevel, nodes, items, uint32(len(workList)))
	return commitStructure(c.dst, c.postbuild, blob)
}

func checkBuildTargets(dst, postbuild *Buffer) error {
	if dst.released || postbuild.released {
		return fmt.Errorf("device: build: %w", ErrBufferReleased)
	}
	if dst.state != AccelStructure {
		return fmt.Errorf("device: build destination is in state %s; expected %s", dst.state, AccelStructure)
	}
	if postbuild.heap != UploadHeap || postbuild.Size() < PostbuildInfoSize {
		return fmt.Errorf("device: postbuild info buffer must be an upload buffer of at least %d bytes", PostbuildInfoSize)
	}
	return nil
}

func serializeStructure(kind uint32, nodes []bvh.Node, items []byte, itemCount uint32) []byte {
	blob := make([]byte, accelHeaderSize+len(nodes)*accelNodeSize+len(items))
	binary.LittleEndian.PutUint32(blob[0:], accelMagic)
	binary.LittleEndian.PutUint32(blob[4:], kind)
	binary.LittleEndian.PutUint32(blob[8:], uint32(len(nodes)))
	binary.LittleEndian.PutUint32(blob[12:], itemCount)

	offset := accelHeaderSize
	for i := range nodes {
		node := &nodes[i]
		for c := 0; c < 3; c++ {
			binary.LittleEndian.PutUint32(blob[offset+c*4:], math.Float32bits(node.Min[c]))
		}
		binary.LittleEndian.PutUint32(blob[offset+12:], uint32(node.LData))
		for c := 0; c < 3; c++ {
			binary.LittleEndian.PutUint32(blob[offset+16+c*4:], math.Float32bits(node.Max[c]))
		}
		binary.LittleEndian.PutUint32(blob[offset+28:], uint32(node.RData))
		offset += accelNodeSize
	}
	copy(blob[offset:], items)
	return blob
}

// Write the serialized structure into the destination and report its exact
// size through the postbuild info buffer.
func commitStructure(dst, postbuild *Buffer, blob []byte) error {
	if uint64(len(blob)) > dst.Size() {
		return fmt.Errorf("device: build needs %d bytes but destination holds %d", len(blob), dst.Size())
	}
	copy(dst.data, blob)
	dst.asSize = uint64(len(blob))
	binary.LittleEndian.PutUint64(postbuild.data, dst.asSize)
	return nil
}

// Parse the root bounding box out of a serialized structure.
func structureBounds(data []byte) (min, max mgl32.Vec3, err error) {
	if len(data) < accelHeaderSize+accelNodeSize {
		return min, max, fmt.Errorf("structure too small for a root node")
	}
	if binary.LittleEndian.Uint32(data) != accelMagic {
		return min, max, fmt.Errorf("bad structure magic")
	}
	offset := accelHeaderSize
	for c := 0; c < 3; c++ {
		min[c] = math.Float32frombits(binary.LittleEndian.Uint32(data[offset+c*4:]))
		max[c] = math.Float32frombits(binary.LittleEndian.Uint32(data[offset+16+c*4:]))
	}
	return min, max, nil
}

// Transform an AABB by taking the bounds over its 8 transformed corners.
func transformAABB(m mgl32.Mat4, min, max mgl32.Vec3) (mgl32.Vec3, mgl32.Vec3) {
	wmin := mgl32.Vec3{math.MaxFloat32, math.MaxFloat32, math.MaxFloat32}
	wmax := mgl32.Vec3{-math.MaxFloat32, -math.MaxFloat32, -math.MaxFloat32}
	for i := 0; i < 8; i++ {
		corner := mgl32.Vec3{min[0], min[1], min[2]}
		if i&1 != 0 {
			corner[0] = max[0]
		}
		if i&2 != 0 {
			corner[1] = max[1]
		}
		if i&4 != 0 {
			corner[2] = max[2]
		}
		world := m.Mul4x1(corner.Vec4(1)).Vec3()
		for c := 0; c < 3; c++ {
			if world[c] < wmin[c] {
				wmin[c] = world[c]
			}
			if world[c] > wmax[c] {
				wmax[c] = world[c]
			}
		}
	}
	return wmin, wmax
}

func unpackVec3(data []byte, count uint32) ([]mgl32.Vec3, error) {
	if uint64(len(data)) < uint64(count)*12 {
		return nil, fmt.Errorf("buffer holds %d of %d bytes", len(data), count*12)
	}
	out := make([]mgl32.Vec3, count)
	for i := range out {
		elem := data[i*12:]
		out[i] = mgl32.Vec3{
			math.Float32frombits(binary.LittleEndian.Uint32(elem)),
			math.Float32frombits(binary.LittleEndian.Uint32(elem[4:])),
			math.Float32frombits(binary.LittleEndian.Uint32(elem[8:])),
		}
	}
	return out, nil
}

func unpackTris(data []byte, count uint32) ([][3]uint32, error) {
	if uint64(len(data)) < uint64(count)*12 {
		return nil, fmt.Errorf("buffer holds %d of %d bytes", len(data), count*12)
	}
	out := make([][3]uint32, count)
	for i := range out {
		elem := data[i*12:]
		out[i] = [3]uint32{
			binary.LittleEndian.Uint32(elem),
			binary.LittleEndian.Uint32(elem[4:]),
			binary.LittleEndian.Uint32(elem[8:]),
		}
	}
	return out, nil
}
