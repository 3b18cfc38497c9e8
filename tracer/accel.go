package tracer

import (
	"encoding/binary"
	"fmt"

	"github.com/auriga-rt/auriga/tracer/device"
)

// Acceleration structure lifecycle. Structures move strictly forward:
// Empty -> Built -> Compacted -> Finalized; any other transition is
// rejected.
type accelState uint8

const (
	stateEmpty accelState = iota
	stateBuilt
	stateCompacted
	stateFinalized
)

func (s accelState) String() string {
	switch s {
	case stateEmpty:
		return "empty"
	case stateBuilt:
		return "built"
	case stateCompacted:
		return "compacted"
	case stateFinalized:
		return "finalized"
	}
	return "unknown"
}

// FinalizedHandle is the address of a finalized structure. Only Finalize
// mints handles, so holding one proves the full lifecycle ran.
type FinalizedHandle struct {
	addr uint64
}

// Get the structure's device address.
func (h FinalizedHandle) Address() uint64 {
	return h.addr
}

// BottomLevel drives the build lifecycle of one mesh's acceleration
// structure over its staged geometries.
type BottomLevel struct {
	dev    *device.Device
	state  accelState
	geoms  []device.GeometryDesc
	staged []*StagedGeometry

	buildBuf  *device.Buffer
	resultBuf *device.Buffer
	postbuild *device.Buffer
	handle    FinalizedHandle
}

// Create a bottom-level structure over staged geometries. The geometry
// order fixes the hit-group slot each geometry occupies.
func NewBottomLevel(dev *device.Device, staged []*StagedGeometry) *BottomLevel {
	geoms := make([]device.GeometryDesc, len(staged))
	for i, sg := range staged {
		geoms[i] = sg.Desc()
	}
	return &BottomLevel{dev: dev, geoms: geoms, staged: staged}
}

// Get the number of geometries the structure covers.
func (b *BottomLevel) GeometryCount() int {
	return len(b.geoms)
}

// Record the structure build into list. Allocates conservatively sized
// storage; the exact size becomes readable once the submission retires.
func (b *BottomLevel) Build(list *device.CommandList) error {
	if b.state != stateEmpty {
		return fmt.Errorf("%w: build on a %s structure", ErrInvalidTransition, b.state)
	}

	var err error
	if b.buildBuf, err = b.dev.Default(device.BottomLevelPrebuildSize(b.geoms), device.AccelStructure); err != nil {
		return err
	}
	if b.postbuild, err = b.dev.Upload(device.PostbuildInfoSize); err != nil {
		return err
	}

	list.BuildBottomLevel(b.geoms, b.buildBuf, b.postbuild)
	b.state = stateBuilt
	return nil
}

// Get the exact structure size the build reported. Valid only after a fence
// wait covering the build submission.
func (b *BottomLevel) CompactedSize() (uint64, error) {
	if b.state != stateBuilt {
		return 0, fmt.Errorf("%w: size query on a %s structure", ErrInvalidTransition, b.state)
	}
	mapped, err := b.postbuild.Map()
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(mapped), nil
}

// Record the compaction copy into exactly sized storage. The caller must
// have waited on the build submission so the reported size is visible.
func (b *BottomLevel) Compact(list *device.CommandList) error {
	size, err := b.CompactedSize()
	if err != nil {
		return err
	}

	if b.resultBuf, err = b.dev.Default(size, device.AccelStructure); err != nil {
		return err
	}
	list.Compact(b.buildBuf, b.resultBuf)
	b.state = stateCompacted
	return nil
}

// Finalize releases the pre-compaction storage and mints the structure's
// handle. Valid only after a fence wait covering the compaction.
func (b *BottomLevel) Finalize() (FinalizedHandle, error) {
	if b.state != stateCompacted {
		return FinalizedHandle{}, fmt.Errorf("%w: finalize on a %s structure", ErrInvalidTransition, b.state)
	}

	b.buildBuf.Release()
	b.buildBuf = nil
	b.postbuild.Release()
	b.postbuild = nil

	b.state = stateFinalized
	b.handle = FinalizedHandle{addr: b.resultBuf.Address()}
	return b.handle, nil
}

// Get the compacted structure's storage size in bytes. Zero before
// compaction allocated the result storage.
func (b *BottomLevel) Size() uint64 {
	if b.resultBuf == nil {
		return 0
	}
	return b.resultBuf.Size()
}

// Get the finalized structure's handle.
func (b *BottomLevel) Handle() (FinalizedHandle, error) {
	if b.state != stateFinalized {
		return FinalizedHandle{}, fmt.Errorf("%w: structure is %s", ErrNotFinalized, b.state)
	}
	return b.handle, nil
}

// Release every buffer the structure still owns, including the staged
// geometry backing it.
func (b *BottomLevel) Release() {
	for _, buf := range []*device.Buffer{b.buildBuf, b.resultBuf, b.postbuild} {
		if buf != nil {
			buf.Release()
		}
	}
	b.buildBuf, b.resultBuf, b.postbuild = nil, nil, nil
	for _, sg := range b.staged {
		sg.Release()
	}
}

// TopLevel drives the build lifecycle of the scene's instance structure.
type TopLevel struct {
	dev   *device.Device
	state accelState

	instanceBuf *device.Buffer
	buildBuf    *device.Buffer
	resultBuf   *device.Buffer
	postbuild   *device.Buffer
	handle      FinalizedHandle
}

// Create an empty top-level structure.
func NewTopLevel(dev *device.Device) *TopLevel {
	return &TopLevel{dev: dev}
}

// Record the structure build over packed instance descriptors. Every
// descriptor must carry the address of a finalized bottom-level structure;
// the descriptors are uploaded through an internal buffer the structure
// owns.
func (t *TopLevel) Build(list *device.CommandList, descs []device.InstanceDesc) error {
	if t.state != stateEmpty {
		return fmt.Errorf("%w: build on a %s structure", ErrInvalidTransition, t.state)
	}
	if len(descs) == 0 {
		return fmt.Errorf("tracer: top-level build without instances")
	}

	var err error
	if t.instanceBuf, err = t.dev.Upload(uint64(len(descs)) * device.InstanceDescSize); err != nil {
		return err
	}
	mapped, err := t.instanceBuf.Map()
	if err != nil {
		return err
	}
	for i := range descs {
		descs[i].Encode(mapped[i*device.InstanceDescSize:])
	}

	if t.buildBuf, err = t.dev.Default(device.TopLevelPrebuildSize(len(descs)), device.AccelStructure); err != nil {
		return err
	}
	if t.postbuild, err = t.dev.Upload(device.PostbuildInfoSize); err != nil {
		return err
	}

	list.BuildTopLevel(t.instanceBuf, len(descs), t.buildBuf, t.postbuild)
	t.state = stateBuilt
	return nil
}

// Get the exact structure size the build reported.
func (t *TopLevel) CompactedSize() (uint64, error) {
	if t.state != stateBuilt {
		return 0, fmt.Errorf("%w: size query on a %s structure", ErrInvalidTransition, t.state)
	}
	mapped, err := t.postbuild.Map()
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(mapped), nil
}

// Record the compaction copy into exactly sized storage.
func (t *TopLevel) Compact(list *device.CommandList) error {
	size, err := t.CompactedSize()
	if err != nil {
		return err
	}

	if t.resultBuf, err = t.dev.Default(size, device.AccelStructure); err != nil {
		return err
	}
	list.Compact(t.buildBuf, t.resultBuf)
	t.state = stateCompacted
	return nil
}

// Finalize releases the build-time storage and mints the handle.
func (t *TopLevel) Finalize() (FinalizedHandle, error) {
	if t.state != stateCompacted {
		return FinalizedHandle{}, fmt.Errorf("%w: finalize on a %s structure", ErrInvalidTransition, t.state)
	}

	t.buildBuf.Release()
	t.buildBuf = nil
	t.postbuild.Release()
	t.postbuild = nil
	t.instanceBuf.Release()
	t.instanceBuf = nil

	t.state = stateFinalized
	t.handle = FinalizedHandle{addr: t.resultBuf.Address()}
	return t.handle, nil
}

// Get the compacted structure's storage size in bytes. Zero before
// compaction allocated the result storage.
func (t *TopLevel) Size() uint64 {
	if t.resultBuf == nil {
		return 0
	}
	return t.resultBuf.Size()
}

// Get the finalized structure's handle.
func (t *TopLevel) Handle() (FinalizedHandle, error) {
	if t.state != stateFinalized {
		return FinalizedHandle{}, fmt.Errorf("%w: structure is %s", ErrNotFinalized, t.state)
	}
	return t.handle, nil
}

// Release every buffer the structure still owns.
func (t *TopLevel) Release() {
	for _, buf := range []*device.Buffer{t.instanceBuf, t.buildBuf, t.resultBuf, t.postbuild} {
		if buf != nil {
			buf.Release()
		}
	}
	t.instanceBuf, t.buildBuf, t.resultBuf, t.postbuild = nil, nil, nil, nil
}
