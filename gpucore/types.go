package gpucore

import "fmt"

// Handle is an opaque identifier for a device-side resource: a buffer,
// texture, sampler, shader, pipeline or uniform set.
//
// Each Device implementation maintains the mapping between handles and
// backend resources. Handles are uint64 to accommodate various backend
// handle sizes.
type Handle uint64

// InvalidHandle is the zero value, representing an invalid/null resource.
const InvalidHandle Handle = 0

// IsValid reports whether h refers to a resource.
func (h Handle) IsValid() bool { return h != InvalidHandle }

// UniformType identifies how a group of handles is bound to a shader slot.
type UniformType uint8

// Uniform types.
const (
	// UniformTypeStorageBuffer is a read-write storage buffer.
	UniformTypeStorageBuffer UniformType = iota + 1

	// UniformTypeUniformBuffer is a read-only uniform buffer.
	UniformTypeUniformBuffer

	// UniformTypeImage is a storage texture accessed with image loads and stores.
	UniformTypeImage

	// UniformTypeSamplerWithTexture pairs a sampler with a sampled texture.
	// The handle list is [sampler, texture].
	UniformTypeSamplerWithTexture

	// UniformTypeTexture is a sampled texture without a sampler.
	UniformTypeTexture

	// UniformTypeSampler is a standalone sampler.
	UniformTypeSampler
)

// String returns the uniform type name.
func (t UniformType) String() string {
	switch t {
	case UniformTypeStorageBuffer:
		return "StorageBuffer"
	case UniformTypeUniformBuffer:
		return "UniformBuffer"
	case UniformTypeImage:
		return "Image"
	case UniformTypeSamplerWithTexture:
		return "SamplerWithTexture"
	case UniformTypeTexture:
		return "Texture"
	case UniformTypeSampler:
		return "Sampler"
	default:
		return fmt.Sprintf("UniformType(%d)", uint8(t))
	}
}

// HandleCount returns how many handles a uniform of this type carries,
// or 0 for an unknown type.
func (t UniformType) HandleCount() int {
	switch t {
	case UniformTypeSamplerWithTexture:
		return 2
	case UniformTypeStorageBuffer, UniformTypeUniformBuffer, UniformTypeImage,
		UniformTypeTexture, UniformTypeSampler:
		return 1
	default:
		return 0
	}
}

// Uniform describes one resource binding within a uniform set.
type Uniform struct {
	// Binding is the shader-declared slot within the set.
	Binding uint32

	// Type selects how IDs are interpreted.
	Type UniformType

	// IDs are the bound resources, in the order required by Type.
	IDs []Handle
}

// Validate checks that the uniform carries exactly the handles its type needs.
func (u Uniform) Validate() error {
	want := u.Type.HandleCount()
	if want == 0 {
		return fmt.Errorf("unknown uniform type %v", u.Type)
	}
	if len(u.IDs) != want {
		return fmt.Errorf("%v uniform at binding %d needs %d handles, got %d",
			u.Type, u.Binding, want, len(u.IDs))
	}
	for i, id := range u.IDs {
		if !id.IsValid() {
			return fmt.Errorf("%v uniform at binding %d: handle %d is invalid", u.Type, u.Binding, i)
		}
	}
	return nil
}

// StorageBufferUniform returns a storage buffer uniform for buf.
func StorageBufferUniform(binding uint32, buf Handle) Uniform {
	return Uniform{Binding: binding, Type: UniformTypeStorageBuffer, IDs: []Handle{buf}}
}

// ImageUniform returns a storage image uniform for tex.
func ImageUniform(binding uint32, tex Handle) Uniform {
	return Uniform{Binding: binding, Type: UniformTypeImage, IDs: []Handle{tex}}
}

// SamplerWithTextureUniform returns a combined sampler and texture uniform.
func SamplerWithTextureUniform(binding uint32, sampler, tex Handle) Uniform {
	return Uniform{Binding: binding, Type: UniformTypeSamplerWithTexture, IDs: []Handle{sampler, tex}}
}

// TextureFormat specifies the format of texture data.
type TextureFormat uint32

// Texture formats.
const (
	// TextureFormatRGBA8Unorm is 8-bit RGBA, normalized unsigned integer.
	TextureFormatRGBA8Unorm TextureFormat = iota + 1

	// TextureFormatRGBA8UnormSRGB is 8-bit RGBA, normalized unsigned integer in sRGB color space.
	TextureFormatRGBA8UnormSRGB

	// TextureFormatBGRA8Unorm is 8-bit BGRA, normalized unsigned integer.
	TextureFormatBGRA8Unorm

	// TextureFormatBGRA8UnormSRGB is 8-bit BGRA, normalized unsigned integer in sRGB color space.
	TextureFormatBGRA8UnormSRGB

	// TextureFormatR8Unorm is 8-bit red channel only, normalized unsigned integer.
	TextureFormatR8Unorm

	// TextureFormatR32Float is 32-bit red channel only, floating point.
	TextureFormatR32Float

	// TextureFormatRG32Float is 32-bit RG, floating point.
	TextureFormatRG32Float

	// TextureFormatRGBA32Float is 32-bit RGBA, floating point.
	TextureFormatRGBA32Float
)

// BytesPerTexel returns the size of one texel, or 0 for an unknown format.
func (f TextureFormat) BytesPerTexel() int {
	switch f {
	case TextureFormatR8Unorm:
		return 1
	case TextureFormatRGBA8Unorm, TextureFormatRGBA8UnormSRGB,
		TextureFormatBGRA8Unorm, TextureFormatBGRA8UnormSRGB, TextureFormatR32Float:
		return 4
	case TextureFormatRG32Float:
		return 8
	case TextureFormatRGBA32Float:
		return 16
	default:
		return 0
	}
}

// TextureType is the dimensionality of a texture.
type TextureType uint8

// Texture types.
const (
	TextureType2D TextureType = iota
	TextureType2DArray
)

// TextureUsage is a bitmask specifying how a texture will be used.
type TextureUsage uint32

// Texture usage flags.
const (
	// TextureUsageSampling allows binding the texture for sampled reads.
	TextureUsageSampling TextureUsage = 1 << 0

	// TextureUsageStorage allows binding the texture as a storage image.
	TextureUsageStorage TextureUsage = 1 << 1

	// TextureUsageCanUpdate allows uploading texel data after creation.
	TextureUsageCanUpdate TextureUsage = 1 << 2

	// TextureUsageCanCopyFrom allows reading texels back to the host.
	TextureUsageCanCopyFrom TextureUsage = 1 << 3
)

// TextureFormatDesc describes a texture to allocate.
type TextureFormatDesc struct {
	Width       uint32
	Height      uint32
	Depth       uint32
	ArrayLayers uint32
	Mipmaps     uint32
	Type        TextureType
	Format      TextureFormat
	Usage       TextureUsage
}

// LayerSize returns the byte size of one tightly packed layer.
func (d *TextureFormatDesc) LayerSize() int {
	return int(d.Width) * int(d.Height) * d.Format.BytesPerTexel()
}

// TextureView selects how a texture is viewed when bound.
// The zero value views the texture in its own format.
type TextureView struct {
	FormatOverride TextureFormat
}

// FilterMode selects how texels are filtered when sampled.
type FilterMode uint8

// Filter modes.
const (
	FilterLinear FilterMode = iota
	FilterNearest
)

// AddressMode selects how out-of-range coordinates are resolved.
type AddressMode uint8

// Address modes.
const (
	AddressClampToEdge AddressMode = iota
	AddressRepeat
	AddressMirrorRepeat
)

// SamplerState describes a sampler. The zero value is a linear,
// clamp-to-edge sampler.
type SamplerState struct {
	MagFilter    FilterMode
	MinFilter    FilterMode
	MipFilter    FilterMode
	AddressModeU AddressMode
	AddressModeV AddressMode
	AddressModeW AddressMode
}

// ShaderLanguage identifies the encoding of a shader source.
type ShaderLanguage uint8

// Shader languages.
const (
	LanguageWGSL ShaderLanguage = iota
	LanguageSPIRV
)

// ShaderSource is preprocessed shader text tagged for the compute stage.
type ShaderSource struct {
	// Name is the path the source was loaded from, used in diagnostics.
	Name string

	// Language is the encoding of Code.
	Language ShaderLanguage

	// Code is the compute stage source.
	Code string
}
