// Package reader loads scene files into the in-memory scene model. Supported
// formats are wavefront obj, glTF (text and binary) and the crts packed
// container.
package reader

import (
	"fmt"
	"strings"

	"github.com/auriga-rt/auriga/asset"
	"github.com/auriga-rt/auriga/asset/scene"
)

// The Reader interface is implemented by all scene readers.
type Reader interface {
	// Read scene definition from a resource.
	Read(*asset.Resource) (*scene.Scene, error)
}

// Read scene from file. The loader is selected by file extension.
func ReadScene(filename string) (*scene.Scene, error) {
	res, err := asset.NewResource(filename, nil)
	if err != nil {
		return nil, err
	}
	defer res.Close()

	var reader Reader
	switch {
	case strings.HasSuffix(filename, ".obj"):
		reader = newWavefrontReader()
	case strings.HasSuffix(filename, ".gltf"):
		reader = newGLTFReader(false)
	case strings.HasSuffix(filename, ".glb"):
		reader = newGLTFReader(true)
	case strings.HasSuffix(filename, ".crts"):
		reader = newContainerReader()
	default:
		return nil, fmt.Errorf("reader: %w: %q", ErrUnsupportedFormat, filename)
	}
	return reader.Read(res)
}
