package scene

// ColorSpace tags how texture pixel values must be interpreted. The space is
// assigned by how a texture is referenced (base color reads are perceptual,
// metallic/roughness reads are linear), never by file metadata.
type ColorSpace uint8

const (
	Linear ColorSpace = iota
	SRGB
)

func (cs ColorSpace) String() string {
	if cs == SRGB {
		return "SRGB"
	}
	return "LINEAR"
}

// Image is a decoded texture.
type Image struct {
	Name       string
	Width      int
	Height     int
	Channels   int
	ColorSpace ColorSpace

	// Pixel rows packed tightly, Channels bytes per pixel.
	Pixels []byte
}
