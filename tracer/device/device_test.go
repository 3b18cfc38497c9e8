package device

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

func openTestDevice(t *testing.T) *Device {
	t.Helper()
	dev, err := Open("")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(dev.Close)
	return dev
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

func packIndices(tris [][3]uint32) []byte {
	out := make([]byte, len(tris)*12)
	for i, tri := range tris {
		for c := 0; c < 3; c++ {
			binary.LittleEndian.PutUint32(out[i*12+c*4:], tri[c])
		}
	}
	return out
}

// Stage one triangle into device-resident shader-resource buffers.
func stageTriangle(t *testing.T, dev *Device) (vb, ib *Buffer) {
	t.Helper()

	positions := packVec3s([]mgl32.Vec3{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}})
	indices := packIndices([][3]uint32{{0, 1, 2}})

	upVB, err := dev.Upload(uint64(len(positions)))
	if err != nil {
		t.Fatal(err)
	}
	upIB, err := dev.Upload(uint64(len(indices)))
	if err != nil {
		t.Fatal(err)
	}
	mapped, err := upVB.Map()
	if err != nil {
		t.Fatal(err)
	}
	copy(mapped, positions)
	if mapped, err = upIB.Map(); err != nil {
		t.Fatal(err)
	}
	copy(mapped, indices)

	if vb, err = dev.Default(uint64(len(positions)), CopyDest); err != nil {
		t.Fatal(err)
	}
	if ib, err = dev.Default(uint64(len(indices)), CopyDest); err != nil {
		t.Fatal(err)
	}

	list := NewCommandList()
	list.CopyBuffer(vb, upVB)
	list.CopyBuffer(ib, upIB)
	list.Transition(vb, ShaderResource)
	list.Transition(ib, ShaderResource)

	value, err := dev.SubmitAndSignal(list)
	if err != nil {
		t.Fatal(err)
	}
	if err := dev.Fence().Wait(value); err != nil {
		t.Fatal(err)
	}
	return vb, ib
}

func buildTriangleBLAS(t *testing.T, dev *Device) *Buffer {
	t.Helper()
	vb, ib := stageTriangle(t, dev)

	geoms := []GeometryDesc{{VertexBuffer: vb, VertexCount: 3, IndexBuffer: ib, TriangleCount: 1}}
	dst, err := dev.Default(BottomLevelPrebuildSize(geoms), AccelStructure)
	if err != nil {
		t.Fatal(err)
	}
	postbuild, err := dev.Upload(PostbuildInfoSize)
	if err != nil {
		t.Fatal(err)
	}

	list := NewCommandList()
	list.BuildBottomLevel(geoms, dst, postbuild)
	value, err := dev.SubmitAndSignal(list)
	if err != nil {
		t.Fatal(err)
	}
	if err := dev.Fence().Wait(value); err != nil {
		t.Fatal(err)
	}
	return dst
}

func TestDeviceEnumerateAndOpen(t *testing.T) {
	names := Enumerate()
	if len(names) == 0 {
		t.Fatal("expected at least one device")
	}

	dev, err := Open(names[0])
	if err != nil {
		t.Fatal(err)
	}
	dev.Close()

	if _, err := Open("no-such-adapter"); !errors.Is(err, ErrUnknownDevice) {
		t.Fatalf("expected ErrUnknownDevice; got %v", err)
	}
}

func TestBufferAllocation(t *testing.T) {
	dev := openTestDevice(t)

	up, err := dev.Upload(100)
	if err != nil {
		t.Fatal(err)
	}
	def, err := dev.Default(200, CopyDest)
	if err != nil {
		t.Fatal(err)
	}

	if up.State() != GenericRead {
		t.Fatalf("upload buffer state %s; expected %s", up.State(), GenericRead)
	}
	if up.Address()%addressAlignment != 0 || def.Address()%addressAlignment != 0 {
		t.Fatal("buffer addresses must be alignment multiples")
	}
	if up.Address() == def.Address() {
		t.Fatal("buffer addresses must be unique")
	}

	if _, err := def.Map(); err == nil {
		t.Fatal("default heap buffers must not be mappable")
	}
}

func TestCopyRequiresCopyDestState(t *testing.T) {
	dev := openTestDevice(t)

	src, _ := dev.Upload(64)
	dst, err := dev.Default(64, ShaderResource)
	if err != nil {
		t.Fatal(err)
	}

	list := NewCommandList()
	list.CopyBuffer(dst, src)
	value, err := dev.SubmitAndSignal(list)
	if err != nil {
		t.Fatal(err)
	}

	if err := dev.Fence().Wait(value); !errors.Is(err, ErrDeviceLost) {
		t.Fatalf("expected device loss for copy into %s state; got %v", dst.State(), err)
	}
	if dev.Err() == nil {
		t.Fatal("device must report the loss")
	}

	// Every later submission fails immediately.
	if _, err := dev.SubmitAndSignal(NewCommandList()); !errors.Is(err, ErrDeviceLost) {
		t.Fatalf("expected ErrDeviceLost on post-loss submission; got %v", err)
	}
}

func TestBottomLevelBuildReportsSize(t *testing.T) {
	dev := openTestDevice(t)
	vb, ib := stageTriangle(t, dev)

	geoms := []GeometryDesc{{VertexBuffer: vb, VertexCount: 3, IndexBuffer: ib, TriangleCount: 1}}
	prebuild := BottomLevelPrebuildSize(geoms)
	dst, err := dev.Default(prebuild, AccelStructure)
	if err != nil {
		t.Fatal(err)
	}
	postbuild, err := dev.Upload(PostbuildInfoSize)
	if err != nil {
		t.Fatal(err)
	}

	list := NewCommandList()
	list.BuildBottomLevel(geoms, dst, postbuild)
	value, err := dev.SubmitAndSignal(list)
	if err != nil {
		t.Fatal(err)
	}
	if err := dev.Fence().Wait(value); err != nil {
		t.Fatal(err)
	}

	mapped, err := postbuild.Map()
	if err != nil {
		t.Fatal(err)
	}
	size := binary.LittleEndian.Uint64(mapped)
	if size == 0 || size > prebuild {
		t.Fatalf("reported size %d outside (0, %d]", size, prebuild)
	}
}

func TestCompaction(t *testing.T) {
	dev := openTestDevice(t)
	built := buildTriangleBLAS(t, dev)

	compacted, err := dev.Default(built.asSize, AccelStructure)
	if err != nil {
		t.Fatal(err)
	}

	list := NewCommandList()
	list.Compact(built, compacted)
	value, err := dev.SubmitAndSignal(list)
	if err != nil {
		t.Fatal(err)
	}
	if err := dev.Fence().Wait(value); err != nil {
		t.Fatal(err)
	}

	if compacted.asSize != built.asSize {
		t.Fatalf("compacted structure size %d != built %d", compacted.asSize, built.asSize)
	}
	if StructureNodeCount(compacted.data) != StructureNodeCount(built.data) {
		t.Fatal("compaction changed the node count")
	}
}

func TestCompactionRequiresBuiltSource(t *testing.T) {
	dev := openTestDevice(t)

	src, _ := dev.Default(1024, AccelStructure)
	dst, _ := dev.Default(1024, AccelStructure)

	list := NewCommandList()
	list.Compact(src, dst)
	value, err := dev.SubmitAndSignal(list)
	if err != nil {
		t.Fatal(err)
	}
	if err := dev.Fence().Wait(value); !errors.Is(err, ErrDeviceLost) {
		t.Fatalf("expected device loss compacting an unbuilt source; got %v", err)
	}
}

func TestTopLevelBuild(t *testing.T) {
	dev := openTestDevice(t)
	blas := buildTriangleBLAS(t, dev)

	desc := InstanceDesc{
		Transform:      mgl32.Translate3D(5, 0, 0),
		InstanceID:     7,
		Mask:           0xff,
		HitGroupOffset: 3,
		Flags:          InstanceFlagForceOpaque,
		AccelStructure: blas.Address(),
	}
	instBuf, err := dev.Upload(InstanceDescSize)
	if err != nil {
		t.Fatal(err)
	}
	mapped, _ := instBuf.Map()
	desc.Encode(mapped)

	dst, err := dev.Default(TopLevelPrebuildSize(1), AccelStructure)
	if err != nil {
		t.Fatal(err)
	}
	postbuild, _ := dev.Upload(PostbuildInfoSize)

	list := NewCommandList()
	list.BuildTopLevel(instBuf, 1, dst, postbuild)
	value, err := dev.SubmitAndSignal(list)
	if err != nil {
		t.Fatal(err)
	}
	if err := dev.Fence().Wait(value); err != nil {
		t.Fatal(err)
	}

	// A single instance yields a single leaf whose bbox is the translated
	// triangle bbox.
	min, max, err := structureBounds(dst.data)
	if err != nil {
		t.Fatal(err)
	}
	if min != (mgl32.Vec3{5, 0, 0}) || max != (mgl32.Vec3{6, 1, 0}) {
		t.Fatalf("unexpected world bounds %v %v", min, max)
	}
}

func TestTopLevelBuildRejectsUnknownAddress(t *testing.T) {
	dev := openTestDevice(t)

	desc := InstanceDesc{Transform: mgl32.Ident4(), Mask: 0xff, AccelStructure: 0xdead00}
	instBuf, _ := dev.Upload(InstanceDescSize)
	mapped, _ := instBuf.Map()
	desc.Encode(mapped)

	dst, _ := dev.Default(TopLevelPrebuildSize(1), AccelStructure)
	postbuild, _ := dev.Upload(PostbuildInfoSize)

	list := NewCommandList()
	list.BuildTopLevel(instBuf, 1, dst, postbuild)
	value, err := dev.SubmitAndSignal(list)
	if err != nil {
		t.Fatal(err)
	}
	if err := dev.Fence().Wait(value); !errors.Is(err, ErrDeviceLost) {
		t.Fatalf("expected device loss for unknown structure address; got %v", err)
	}
}

func TestInstanceDescRoundTrip(t *testing.T) {
	desc := InstanceDesc{
		Transform:      mgl32.Translate3D(1, 2, 3),
		InstanceID:     0x123456,
		Mask:           0xab,
		HitGroupOffset: 0x654321,
		Flags:          InstanceFlagForceOpaque,
		AccelStructure: 0xdeadbeefcafe,
	}

	var packed [InstanceDescSize]byte
	desc.Encode(packed[:])
	got := DecodeInstanceDesc(packed[:])

	if got.InstanceID != desc.InstanceID || got.Mask != desc.Mask {
		t.Fatalf("id/mask changed: %x/%x", got.InstanceID, got.Mask)
	}
	if got.HitGroupOffset != desc.HitGroupOffset || got.Flags != desc.Flags {
		t.Fatalf("hit group/flags changed: %x/%x", got.HitGroupOffset, got.Flags)
	}
	if got.AccelStructure != desc.AccelStructure {
		t.Fatalf("address changed: %x", got.AccelStructure)
	}
	// The 3x4 wire transform preserves the affine part.
	if got.Transform != desc.Transform {
		t.Fatalf("transform changed: %v", got.Transform)
	}
}
