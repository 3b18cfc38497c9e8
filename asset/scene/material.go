package scene

import "github.com/go-gl/mathgl/mgl32"

// UnassignedMaterial marks an instance material slot that the source file left
// unresolved. Scene.Validate rebinds every occurrence to a generated default
// material.
const UnassignedMaterial int32 = -1

// Param is a scalar material parameter that may instead be sourced from one
// channel of a texture. The two cases are kept structurally distinct so no
// scalar value can ever be mistaken for a texture reference.
type Param struct {
	value    float32
	texture  int32
	channel  int32
	textured bool
}

// Create a scalar-valued parameter.
func ScalarParam(value float32) Param {
	return Param{value: value}
}

// Create a parameter sourced from a texture channel.
func TexturedParam(texture, channel int32) Param {
	return Param{texture: texture, channel: channel, textured: true}
}

// Get the scalar value; ok is false for textured parameters.
func (p Param) Scalar() (value float32, ok bool) {
	return p.value, !p.textured
}

// Get the texture reference; ok is false for scalar parameters.
func (p Param) Texture() (texture, channel int32, ok bool) {
	if !p.textured {
		return 0, 0, false
	}
	return p.texture, p.channel, true
}

// ColorParam is the three-component analogue of Param used for base color.
type ColorParam struct {
	color    mgl32.Vec3
	texture  int32
	textured bool
}

// Create a constant color parameter.
func ColorValue(color mgl32.Vec3) ColorParam {
	return ColorParam{color: color}
}

// Create a color parameter sourced from a texture.
func TexturedColor(texture int32) ColorParam {
	return ColorParam{texture: texture, textured: true}
}

// Get the constant color; ok is false for textured parameters.
func (p ColorParam) Color() (color mgl32.Vec3, ok bool) {
	return p.color, !p.textured
}

// Get the texture reference; ok is false for constant colors.
func (p ColorParam) Texture() (texture int32, ok bool) {
	if !p.textured {
		return 0, false
	}
	return p.texture, true
}

// Material is a Disney-style parameter record. Every scalar slot may redirect
// to a texture channel through its Param.
type Material struct {
	BaseColor            ColorParam
	Metallic             Param
	Specular             Param
	Roughness            Param
	SpecularTint         Param
	Anisotropy           Param
	Sheen                Param
	SheenTint            Param
	Clearcoat            Param
	ClearcoatGloss       Param
	IOR                  Param
	SpecularTransmission Param
}

// The material generated for geometry with no assignment.
func DefaultMaterial() Material {
	return Material{
		BaseColor: ColorValue(mgl32.Vec3{0.9, 0.9, 0.9}),
		Roughness: ScalarParam(1),
		IOR:       ScalarParam(1.5),
	}
}
