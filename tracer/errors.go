package tracer

import "errors"

var (
	// ErrMissingRequiredAttribute rejects geometry lacking an attribute
	// staging requires, before any device work happens.
	ErrMissingRequiredAttribute = errors.New("tracer: missing required vertex attribute")

	// ErrInvalidTransition rejects acceleration structure operations
	// invoked outside the Empty -> Built -> Compacted -> Finalized order.
	ErrInvalidTransition = errors.New("tracer: invalid structure state transition")

	// ErrNotFinalized rejects address requests on structures that have
	// not completed their lifecycle.
	ErrNotFinalized = errors.New("tracer: structure not finalized")
)
