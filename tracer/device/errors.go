package device

import "errors"

var (
	// ErrDeviceLost marks a device that failed executing a submission. A
	// lost device fails every later submission and unblocks all fence
	// waiters; the session must be torn down.
	ErrDeviceLost = errors.New("device lost")

	// ErrUnknownDevice is returned when opening a device name Enumerate
	// does not report.
	ErrUnknownDevice = errors.New("unknown device")

	// ErrBufferReleased guards command recording against released buffers.
	ErrBufferReleased = errors.New("buffer released")
)
