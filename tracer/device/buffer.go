package device

import "fmt"

// Heap selects where a buffer lives. Upload heap buffers are host-visible
// and mappable; default heap buffers are device-resident and only reachable
// through commands.
type Heap uint8

const (
	UploadHeap Heap = iota
	DefaultHeap
)

func (h Heap) String() string {
	switch h {
	case UploadHeap:
		return "upload"
	case DefaultHeap:
		return "default"
	}
	return "unknown"
}

// ResourceState tracks what a buffer is currently usable as. Commands check
// the state they require instead of trusting the recording order.
type ResourceState uint8

const (
	// GenericRead is the fixed state of upload heap buffers.
	GenericRead ResourceState = iota

	// CopyDest allows the buffer to receive copy commands.
	CopyDest

	// ShaderResource marks staged geometry ready for structure builds.
	ShaderResource

	// AccelStructure marks storage owned by acceleration structure
	// builds and compactions.
	AccelStructure
)

func (s ResourceState) String() string {
	switch s {
	case GenericRead:
		return "generic-read"
	case CopyDest:
		return "copy-dest"
	case ShaderResource:
		return "shader-resource"
	case AccelStructure:
		return "accel-structure"
	}
	return "unknown"
}

// Buffer addresses are aligned the way real device allocators hand them out.
const addressAlignment = 256

// Buffer is a fixed-size device allocation with a unique virtual address.
// After creation a buffer is only touched by the device worker; the host
// reads results through Map after a fence wait covering the writing
// submission.
type Buffer struct {
	dev      *Device
	heap     Heap
	state    ResourceState
	addr     uint64
	data     []byte
	released bool

	// Exact byte size of the structure a build serialized here; zero
	// until a build targets this buffer.
	asSize uint64
}

// Get the buffer byte size.
func (b *Buffer) Size() uint64 {
	return uint64(len(b.data))
}

// Get the buffer's virtual address.
func (b *Buffer) Address() uint64 {
	return b.addr
}

// Get the current resource state.
func (b *Buffer) State() ResourceState {
	return b.state
}

// Get the heap the buffer was allocated on.
func (b *Buffer) Heap() Heap {
	return b.heap
}

// Map the buffer for host access. Only upload heap buffers are mappable;
// the caller must not touch the mapping while a submission using the buffer
// is in flight.
func (b *Buffer) Map() ([]byte, error) {
	if b.released {
		return nil, fmt.Errorf("device: map: %w", ErrBufferReleased)
	}
	if b.heap != UploadHeap {
		return nil, fmt.Errorf("device: cannot map a %s heap buffer", b.heap)
	}
	return b.data, nil
}

// Release the buffer's memory and unregister its address. Using the buffer
// in commands recorded after release fails the device.
func (b *Buffer) Release() {
	if b.released {
		return
	}
	b.released = true
	b.dev.unregister(b.addr)
	b.data = nil
}
