package device

import "fmt"

// A single recorded device operation.
type command interface {
	execute(d *Device) error
}

// GeometryDesc points a bottom-level build at one staged geometry: a vertex
// position buffer and a triangle index buffer, both device-resident.
type GeometryDesc struct {
	VertexBuffer  *Buffer
	VertexCount   uint32
	IndexBuffer   *Buffer
	TriangleCount uint32
}

// CommandList records operations for later execution on a device worker.
// Recording never touches the device; validation against live buffer state
// happens when the list executes.
type CommandList struct {
	commands  []command
	recordErr error
}

func NewCommandList() *CommandList {
	return &CommandList{}
}

func (l *CommandList) record(cmd command, buffers ...*Buffer) {
	if l.recordErr != nil {
		return
	}
	for _, buf := range buffers {
		if buf == nil {
			l.recordErr = fmt.Errorf("device: recorded command references a nil buffer")
			return
		}
		if buf.released {
			l.recordErr = fmt.Errorf("device: recorded command: %w", ErrBufferReleased)
			return
		}
	}
	l.commands = append(l.commands, cmd)
}

// Record a full-buffer copy. The destination must be in the CopyDest state
// when the copy executes and both buffers must have equal sizes.
func (l *CommandList) CopyBuffer(dst, src *Buffer) {
	l.record(&copyCommand{dst: dst, src: src}, dst, src)
}

// Record a resource state transition.
func (l *CommandList) Transition(buf *Buffer, state ResourceState) {
	l.record(&transitionCommand{buf: buf, state: state}, buf)
}

// Record a bottom-level structure build over staged geometries into dst.
// The true structure size is written to the postbuild upload buffer as a
// little-endian uint64 when the build retires.
func (l *CommandList) BuildBottomLevel(geoms []GeometryDesc, dst, postbuild *Buffer) {
	buffers := []*Buffer{dst, postbuild}
	for _, g := range geoms {
		buffers = append(buffers, g.VertexBuffer, g.IndexBuffer)
	}
	l.record(&buildBottomCommand{geoms: geoms, dst: dst, postbuild: postbuild}, buffers...)
}

// Record a compaction copy: exactly the built structure's bytes move from
// src to dst, leaving dst an equivalent, smaller structure.
func (l *CommandList) Compact(src, dst *Buffer) {
	l.record(&compactCommand{src: src, dst: dst}, src, dst)
}

// Record a top-level structure build over instance descriptors. The
// instance buffer holds count packed 64 byte descriptors whose structure
// addresses must resolve to built bottom-level buffers at execution time.
func (l *CommandList) BuildTopLevel(instances *Buffer, count int, dst, postbuild *Buffer) {
	l.record(&buildTopCommand{instances: instances, count: count, dst: dst, postbuild: postbuild}, instances, dst, postbuild)
}

type copyCommand struct {
	dst, src *Buffer
}

func (c *copyCommand) execute(d *Device) error {
	if c.dst.released || c.src.released {
		return fmt.Errorf("device: copy: %w", ErrBufferReleased)
	}
	if c.dst.state != CopyDest {
		return fmt.Errorf("device: copy destination is in state %s; expected %s", c.dst.state, CopyDest)
	}
	if c.dst.Size() != c.src.Size() {
		return fmt.Errorf("device: copy size mismatch: %d != %d", c.dst.Size(), c.src.Size())
	}
	copy(c.dst.data, c.src.data)
	return nil
}

type transitionCommand struct {
	buf   *Buffer
	state ResourceState
}

func (c *transitionCommand) execute(d *Device) error {
	if c.buf.released {
		return fmt.Errorf("device: transition: %w", ErrBufferReleased)
	}
	// Upload heap buffers are permanently GenericRead.
	if c.buf.heap == UploadHeap && c.state != GenericRead {
		return fmt.Errorf("device: cannot transition an upload buffer to %s", c.state)
	}
	c.buf.state = c.state
	return nil
}
