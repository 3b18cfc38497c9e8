// Package device exposes compute devices that consume command lists
// asynchronously: buffer allocation on upload and default heaps, copies and
// state transitions, acceleration structure builds and compaction, with a
// monotonic fence as the only ordering primitive.
package device

import (
	"fmt"
	"sync"

	"github.com/auriga-rt/auriga/log"
)

// The built-in software device. Real backends would enumerate adapters here.
const softwareDeviceName = "auriga-software"

const submitQueueDepth = 16

type submission struct {
	list   *CommandList
	signal uint64
}

// Device executes command lists strictly in submission order on a worker,
// asynchronously from the submitting goroutine. A failed command marks the
// device lost: every queued and future submission fails and all fence
// waiters unblock with the error.
type Device struct {
	Name string

	logger log.Logger
	fence  *Fence

	submitChan chan submission
	workerDone chan struct{}

	mu         sync.Mutex
	err        error
	closed     bool
	nextSignal uint64
	nextAddr   uint64
	buffers    map[uint64]*Buffer
}

// List the compute devices available to this process.
func Enumerate() []string {
	return []string{softwareDeviceName}
}

// Open a device by name. An empty name selects the first enumerated device.
func Open(name string) (*Device, error) {
	if name == "" {
		name = Enumerate()[0]
	}
	found := false
	for _, known := range Enumerate() {
		if known == name {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("device: %w: %q", ErrUnknownDevice, name)
	}

	d := &Device{
		Name:       name,
		logger:     log.New("device"),
		fence:      newFence(),
		submitChan: make(chan submission, submitQueueDepth),
		workerDone: make(chan struct{}),
		nextAddr:   addressAlignment,
		buffers:    make(map[uint64]*Buffer),
	}
	go d.worker()

	d.logger.Noticef("opened device %q", name)
	return d, nil
}

// Close drains the queue and stops the worker. Buffers stay readable.
func (d *Device) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	close(d.submitChan)
	<-d.workerDone
}

// Get the device fence.
func (d *Device) Fence() *Fence {
	return d.fence
}

// Get the error that lost the device, or nil while it is healthy.
func (d *Device) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// Allocate a host-visible upload buffer in the GenericRead state.
func (d *Device) Upload(size uint64) (*Buffer, error) {
	return d.allocate(size, UploadHeap, GenericRead)
}

// Allocate a device-resident buffer in the given initial state.
func (d *Device) Default(size uint64, state ResourceState) (*Buffer, error) {
	return d.allocate(size, DefaultHeap, state)
}

func (d *Device) allocate(size uint64, heap Heap, state ResourceState) (*Buffer, error) {
	if size == 0 {
		return nil, fmt.Errorf("device: cannot allocate an empty buffer")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}

	buf := &Buffer{
		dev:   d,
		heap:  heap,
		state: state,
		addr:  d.nextAddr,
		data:  make([]byte, size),
	}
	aligned := (size + addressAlignment - 1) / addressAlignment * addressAlignment
	d.nextAddr += aligned
	d.buffers[buf.addr] = buf
	return buf, nil
}

// Resolve a virtual address back to its buffer. Used by top-level builds to
// chase the structure addresses packed into instance descriptors.
func (d *Device) resolve(addr uint64) (*Buffer, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf, exists := d.buffers[addr]
	return buf, exists
}

func (d *Device) unregister(addr uint64) {
	d.mu.Lock()
	delete(d.buffers, addr)
	d.mu.Unlock()
}

// Queue a command list for execution without a fence signal.
func (d *Device) Submit(list *CommandList) error {
	_, err := d.enqueue(list, false)
	return err
}

// Queue a command list and signal the device fence when it retires. The
// returned value can be waited on to observe every effect of the list.
func (d *Device) SubmitAndSignal(list *CommandList) (uint64, error) {
	return d.enqueue(list, true)
}

func (d *Device) enqueue(list *CommandList, signal bool) (uint64, error) {
	d.mu.Lock()
	if d.err != nil {
		err := d.err
		d.mu.Unlock()
		return 0, err
	}
	if d.closed {
		d.mu.Unlock()
		return 0, fmt.Errorf("device: submit on a closed device")
	}
	if err := list.recordErr; err != nil {
		d.mu.Unlock()
		return 0, err
	}

	var value uint64
	if signal {
		d.nextSignal++
		value = d.nextSignal
	}
	d.mu.Unlock()

	d.submitChan <- submission{list: list, signal: value}
	return value, nil
}

// The worker drains submissions in order. The first command failure poisons
// the device; later submissions are consumed but not executed so queued
// producers never block forever.
func (d *Device) worker() {
	defer close(d.workerDone)

	for sub := range d.submitChan {
		if d.Err() == nil {
			if err := d.execute(sub.list); err != nil {
				lost := fmt.Errorf("%w: %s", ErrDeviceLost, err)
				d.mu.Lock()
				d.err = lost
				d.mu.Unlock()
				d.logger.Errorf("%s", lost)
				d.fence.fail(lost)
			}
		}
		if sub.signal != 0 && d.Err() == nil {
			d.fence.signal(sub.signal)
		}
	}
}

func (d *Device) execute(list *CommandList) error {
	for _, cmd := range list.commands {
		if err := cmd.execute(d); err != nil {
			return err
		}
	}
	return nil
}
