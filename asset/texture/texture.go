// Package texture decodes encoded image buffers into the scene model's
// 4-channel RGBA representation.
package texture

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	// Formats the decoder can sniff.
	_ "image/jpeg"
	_ "image/png"

	"github.com/anthonynsimon/bild/clone"
	"github.com/anthonynsimon/bild/transform"

	"github.com/auriga-rt/auriga/asset/scene"
)

// ErrDecodeFailed indicates an encoded buffer could not be decoded.
var ErrDecodeFailed = errors.New("image decode failed")

// Decode an encoded png/jpeg buffer into an RGBA image. The caller assigns
// the color space once it knows how the texture is referenced; until then the
// image is tagged linear. Packed containers store images bottom-up, so those
// loaders pass flipVertical.
func Decode(name string, data []byte, flipVertical bool) (*scene.Image, error) {
	decoded, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("texture: %w: %q: %s", ErrDecodeFailed, name, err)
	}

	var rgba *image.RGBA
	if flipVertical {
		rgba = transform.FlipV(decoded)
	} else {
		rgba = clone.AsRGBA(decoded)
	}

	bounds := rgba.Bounds()
	return &scene.Image{
		Name:       name,
		Width:      bounds.Dx(),
		Height:     bounds.Dy(),
		Channels:   4,
		ColorSpace: scene.Linear,
		Pixels:     rgba.Pix,
	}, nil
}
