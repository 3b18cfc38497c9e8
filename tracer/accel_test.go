package tracer

import (
	"errors"
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/auriga-rt/auriga/tracer/device"
)

func stageTestGeometry(t *testing.T, dev *device.Device) []*StagedGeometry {
	t.Helper()
	geom := triangleGeometry(true)
	staged, err := StageGeometry(dev, &geom)
	if err != nil {
		t.Fatal(err)
	}
	return []*StagedGeometry{staged}
}

func submitAndWait(t *testing.T, dev *device.Device, list *device.CommandList) {
	t.Helper()
	value, err := dev.SubmitAndSignal(list)
	if err != nil {
		t.Fatal(err)
	}
	if err := dev.Fence().Wait(value); err != nil {
		t.Fatal(err)
	}
}

func TestBottomLevelLifecycle(t *testing.T) {
	dev := openTestDevice(t)
	blas := NewBottomLevel(dev, stageTestGeometry(t, dev))
	defer blas.Release()

	if blas.GeometryCount() != 1 {
		t.Fatalf("geometry count %d; expected 1", blas.GeometryCount())
	}

	list := device.NewCommandList()
	if err := blas.Build(list); err != nil {
		t.Fatal(err)
	}
	submitAndWait(t, dev, list)

	size, err := blas.CompactedSize()
	if err != nil {
		t.Fatal(err)
	}
	if size == 0 {
		t.Fatal("build must report a non-zero structure size")
	}

	list = device.NewCommandList()
	if err := blas.Compact(list); err != nil {
		t.Fatal(err)
	}
	submitAndWait(t, dev, list)

	handle, err := blas.Finalize()
	if err != nil {
		t.Fatal(err)
	}
	if handle.Address() == 0 {
		t.Fatal("finalized handle must carry the structure address")
	}
	if blas.Size() != size {
		t.Fatalf("finalized structure size %d; build reported %d", blas.Size(), size)
	}

	got, err := blas.Handle()
	if err != nil {
		t.Fatal(err)
	}
	if got != handle {
		t.Fatal("handle query returned a different handle")
	}
}

func TestBottomLevelRejectsOutOfOrderTransitions(t *testing.T) {
	dev := openTestDevice(t)
	blas := NewBottomLevel(dev, stageTestGeometry(t, dev))
	defer blas.Release()

	// Every operation except Build is invalid on an empty structure.
	if err := blas.Compact(device.NewCommandList()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition compacting an empty structure; got %v", err)
	}
	if _, err := blas.CompactedSize(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition querying an empty structure; got %v", err)
	}
	if _, err := blas.Finalize(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition finalizing an empty structure; got %v", err)
	}
	if _, err := blas.Handle(); !errors.Is(err, ErrNotFinalized) {
		t.Fatalf("expected ErrNotFinalized; got %v", err)
	}

	list := device.NewCommandList()
	if err := blas.Build(list); err != nil {
		t.Fatal(err)
	}
	submitAndWait(t, dev, list)

	// A built structure cannot build again or skip ahead to finalize.
	if err := blas.Build(device.NewCommandList()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on a second build; got %v", err)
	}
	if _, err := blas.Finalize(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition finalizing a built structure; got %v", err)
	}
	if _, err := blas.Handle(); !errors.Is(err, ErrNotFinalized) {
		t.Fatalf("expected ErrNotFinalized on a built structure; got %v", err)
	}
}

func TestTopLevelLifecycle(t *testing.T) {
	dev := openTestDevice(t)

	blas := NewBottomLevel(dev, stageTestGeometry(t, dev))
	defer blas.Release()
	if err := runStructureLifecycle(dev, blas.Build, blas.Compact); err != nil {
		t.Fatal(err)
	}
	handle, err := blas.Finalize()
	if err != nil {
		t.Fatal(err)
	}

	topLevel := NewTopLevel(dev)
	defer topLevel.Release()

	descs := []device.InstanceDesc{{
		Transform:      mgl32.Ident4(),
		Mask:           0xff,
		Flags:          device.InstanceFlagForceOpaque,
		AccelStructure: handle.Address(),
	}}

	list := device.NewCommandList()
	if err := topLevel.Build(list, descs); err != nil {
		t.Fatal(err)
	}
	submitAndWait(t, dev, list)

	list = device.NewCommandList()
	if err := topLevel.Compact(list); err != nil {
		t.Fatal(err)
	}
	submitAndWait(t, dev, list)

	if _, err := topLevel.Finalize(); err != nil {
		t.Fatal(err)
	}
	if _, err := topLevel.Handle(); err != nil {
		t.Fatal(err)
	}
}

func TestTopLevelBuildRequiresInstances(t *testing.T) {
	dev := openTestDevice(t)
	topLevel := NewTopLevel(dev)
	defer topLevel.Release()

	if err := topLevel.Build(device.NewCommandList(), nil); err == nil {
		t.Fatal("expected an error building without instances")
	}
}
