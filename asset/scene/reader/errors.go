package reader

import "errors"

// Loader failure classes. Every loader error wraps one of these; loaders
// never hand back a partially populated scene.
var (
	// ErrUnsupportedFormat indicates a file extension no loader claims.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	// ErrNonTriangleFace indicates a face with fewer than three vertices.
	ErrNonTriangleFace = errors.New("non-triangle face")

	// ErrUnsupportedPrimitive indicates a glTF primitive whose mode is not
	// indexed triangles.
	ErrUnsupportedPrimitive = errors.New("unsupported primitive mode")

	// ErrUnsupportedIndexType indicates an index component type other than
	// uint16 or uint32.
	ErrUnsupportedIndexType = errors.New("unsupported index component type")

	// ErrTruncatedContainer indicates a packed container whose header or
	// buffer views point past the end of the file.
	ErrTruncatedContainer = errors.New("truncated container")
)
