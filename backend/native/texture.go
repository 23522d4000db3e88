//go:build !nogpu

package native

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/compute/gpucore"
)

// copyPitchAlignment is the row pitch alignment required for
// texture-to-buffer copies.
const copyPitchAlignment = 256

type textureEntry struct {
	tex  hal.Texture
	view hal.TextureView
	desc gpucore.TextureFormatDesc
	// viewFormat and viewDim describe the view bound to shaders.
	viewFormat gputypes.TextureFormat
	viewDim    gputypes.TextureViewDimension
}

// CreateTexture allocates a 2D or 2D array texture and uploads one tightly
// packed layer per entry of layers, starting at layer 0.
func (d *Device) CreateTexture(format *gpucore.TextureFormatDesc, view *gpucore.TextureView, layers [][]byte) (gpucore.Handle, error) {
	if format == nil {
		return gpucore.InvalidHandle, fmt.Errorf("%w: nil texture format", ErrInvalidDimensions)
	}
	desc := *format
	if desc.Width == 0 || desc.Height == 0 {
		return gpucore.InvalidHandle, fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, desc.Width, desc.Height)
	}
	if desc.Depth == 0 {
		desc.Depth = 1
	}
	if desc.ArrayLayers == 0 {
		desc.ArrayLayers = 1
	}
	if desc.Mipmaps == 0 {
		desc.Mipmaps = 1
	}
	if desc.Type == gpucore.TextureType2D && desc.ArrayLayers != 1 {
		return gpucore.InvalidHandle, fmt.Errorf("%w: 2D texture with %d layers", ErrInvalidDimensions, desc.ArrayLayers)
	}

	halFormat, ok := convertTextureFormat(desc.Format)
	if !ok {
		return gpucore.InvalidHandle, fmt.Errorf("native: unsupported texture format %d", desc.Format)
	}
	viewFormat := halFormat
	if view != nil && view.FormatOverride != 0 {
		if viewFormat, ok = convertTextureFormat(view.FormatOverride); !ok {
			return gpucore.InvalidHandle, fmt.Errorf("native: unsupported view format %d", view.FormatOverride)
		}
	}

	if len(layers) > int(desc.ArrayLayers) {
		return gpucore.InvalidHandle, fmt.Errorf("%w: %d layers of data for %d array layers",
			ErrInvalidDimensions, len(layers), desc.ArrayLayers)
	}
	layerSize := desc.LayerSize()
	for i, layer := range layers {
		if len(layer) != layerSize {
			return gpucore.InvalidHandle, fmt.Errorf("%w: layer %d has %d bytes, want %d",
				ErrInvalidDimensions, i, len(layer), layerSize)
		}
	}
	if len(layers) > 0 {
		desc.Usage |= gpucore.TextureUsageCanUpdate
	}

	viewDim := gputypes.TextureViewDimension2D
	if desc.Type == gpucore.TextureType2DArray {
		viewDim = gputypes.TextureViewDimension2DArray
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return gpucore.InvalidHandle, ErrDestroyed
	}

	tex, err := d.device.CreateTexture(&hal.TextureDescriptor{
		Label: "compute-texture",
		Size: hal.Extent3D{
			Width:              desc.Width,
			Height:             desc.Height,
			DepthOrArrayLayers: desc.ArrayLayers,
		},
		MipLevelCount: desc.Mipmaps,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        halFormat,
		Usage:         convertTextureUsage(desc.Usage),
	})
	if err != nil {
		return gpucore.InvalidHandle, fmt.Errorf("native: create texture: %w", err)
	}

	texView, err := d.device.CreateTextureView(tex, &hal.TextureViewDescriptor{
		Label:           "compute-texture-view",
		Format:          viewFormat,
		Dimension:       viewDim,
		Aspect:          gputypes.TextureAspectAll,
		MipLevelCount:   desc.Mipmaps,
		BaseArrayLayer:  0,
		ArrayLayerCount: desc.ArrayLayers,
	})
	if err != nil {
		d.device.DestroyTexture(tex)
		return gpucore.InvalidHandle, fmt.Errorf("native: create texture view: %w", err)
	}

	bytesPerRow := desc.Width * uint32(desc.Format.BytesPerTexel())
	for i, layer := range layers {
		d.queue.WriteTexture(
			&hal.ImageCopyTexture{
				Texture:  tex,
				MipLevel: 0,
				Origin:   hal.Origin3D{Z: uint32(i)},
				Aspect:   gputypes.TextureAspectAll,
			},
			layer,
			&hal.ImageDataLayout{Offset: 0, BytesPerRow: bytesPerRow, RowsPerImage: desc.Height},
			&hal.Extent3D{Width: desc.Width, Height: desc.Height, DepthOrArrayLayers: 1},
		)
	}

	h := d.newHandle()
	d.textures[h] = &textureEntry{
		tex:        tex,
		view:       texView,
		desc:       desc,
		viewFormat: viewFormat,
		viewDim:    viewDim,
	}
	return h, nil
}

// TextureLayerData reads one layer of mip level 0 back to host memory,
// tightly packed.
func (d *Device) TextureLayerData(h gpucore.Handle, layer uint32) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return nil, ErrDestroyed
	}

	t, ok := d.textures[h]
	if !ok {
		return nil, fmt.Errorf("%w: texture %d", ErrUnknownHandle, h)
	}
	if t.desc.Usage&gpucore.TextureUsageCanCopyFrom == 0 {
		return nil, fmt.Errorf("native: texture %d was created without copy-from usage", h)
	}
	if layer >= t.desc.ArrayLayers {
		return nil, fmt.Errorf("native: layer %d out of range for %d layers", layer, t.desc.ArrayLayers)
	}

	w, ht := t.desc.Width, t.desc.Height
	bytesPerRow := w * uint32(t.desc.Format.BytesPerTexel())
	alignedBytesPerRow := uint32(alignUp(uint64(bytesPerRow), copyPitchAlignment))
	stagingSize := uint64(alignedBytesPerRow) * uint64(ht)

	staging, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "compute-texture-readback",
		Size:  stagingSize,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("native: create staging buffer: %w", err)
	}
	defer d.device.DestroyBuffer(staging)

	encoder, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "compute-texture-readback"})
	if err != nil {
		return nil, fmt.Errorf("native: create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding("compute-texture-readback"); err != nil {
		return nil, fmt.Errorf("native: begin encoding: %w", err)
	}

	// The copy needs the texture in transfer-source layout. This is a no-op
	// on backends without explicit layouts.
	resting := restingUsage(t.desc.Usage)
	encoder.TransitionTextures([]hal.TextureBarrier{{
		Texture: t.tex,
		Usage:   hal.TextureUsageTransition{OldUsage: resting, NewUsage: gputypes.TextureUsageCopySrc},
	}})
	encoder.CopyTextureToBuffer(t.tex, staging, []hal.BufferTextureCopy{{
		BufferLayout: hal.ImageDataLayout{Offset: 0, BytesPerRow: alignedBytesPerRow, RowsPerImage: ht},
		TextureBase: hal.ImageCopyTexture{
			Texture:  t.tex,
			MipLevel: 0,
			Origin:   hal.Origin3D{Z: layer},
			Aspect:   gputypes.TextureAspectAll,
		},
		Size: hal.Extent3D{Width: w, Height: ht, DepthOrArrayLayers: 1},
	}})
	encoder.TransitionTextures([]hal.TextureBarrier{{
		Texture: t.tex,
		Usage:   hal.TextureUsageTransition{OldUsage: gputypes.TextureUsageCopySrc, NewUsage: resting},
	}})

	cmd, err := encoder.EndEncoding()
	if err != nil {
		return nil, fmt.Errorf("native: end encoding: %w", err)
	}
	if err := d.submitAndWaitLocked(cmd); err != nil {
		return nil, err
	}

	padded := make([]byte, stagingSize)
	if err := d.queue.ReadBuffer(staging, 0, padded); err != nil {
		return nil, fmt.Errorf("native: read staging buffer: %w", err)
	}
	return unpadRows(padded, int(bytesPerRow), int(alignedBytesPerRow), int(ht)), nil
}

// unpadRows strips the row pitch padding of a texture copy.
func unpadRows(padded []byte, rowBytes, pitch, rows int) []byte {
	if rowBytes == pitch {
		return padded[:rowBytes*rows]
	}
	out := make([]byte, rowBytes*rows)
	for y := range rows {
		copy(out[y*rowBytes:(y+1)*rowBytes], padded[y*pitch:y*pitch+rowBytes])
	}
	return out
}

// restingUsage is the state a texture is kept in between copies.
func restingUsage(u gpucore.TextureUsage) gputypes.TextureUsage {
	if u&gpucore.TextureUsageStorage != 0 {
		return gputypes.TextureUsageStorageBinding
	}
	return gputypes.TextureUsageTextureBinding
}

// CreateSampler creates a sampler from state.
func (d *Device) CreateSampler(state *gpucore.SamplerState) (gpucore.Handle, error) {
	var s gpucore.SamplerState
	if state != nil {
		s = *state
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return gpucore.InvalidHandle, ErrDestroyed
	}

	sampler, err := d.device.CreateSampler(&hal.SamplerDescriptor{
		Label:        "compute-sampler",
		AddressModeU: convertAddressMode(s.AddressModeU),
		AddressModeV: convertAddressMode(s.AddressModeV),
		AddressModeW: convertAddressMode(s.AddressModeW),
		MagFilter:    convertFilterMode(s.MagFilter),
		MinFilter:    convertFilterMode(s.MinFilter),
		MipmapFilter: convertFilterMode(s.MipFilter),
	})
	if err != nil {
		return gpucore.InvalidHandle, fmt.Errorf("native: create sampler: %w", err)
	}

	h := d.newHandle()
	d.samplers[h] = sampler
	return h, nil
}

func (d *Device) destroyTexture(t *textureEntry) {
	if t.view != nil {
		d.device.DestroyTextureView(t.view)
	}
	d.device.DestroyTexture(t.tex)
}

// === Type Conversion Helpers ===

// convertTextureFormat converts gpucore.TextureFormat to gputypes.TextureFormat.
func convertTextureFormat(format gpucore.TextureFormat) (gputypes.TextureFormat, bool) {
	switch format {
	case gpucore.TextureFormatRGBA8Unorm:
		return gputypes.TextureFormatRGBA8Unorm, true
	case gpucore.TextureFormatRGBA8UnormSRGB:
		return gputypes.TextureFormatRGBA8UnormSrgb, true
	case gpucore.TextureFormatBGRA8Unorm:
		return gputypes.TextureFormatBGRA8Unorm, true
	case gpucore.TextureFormatBGRA8UnormSRGB:
		return gputypes.TextureFormatBGRA8UnormSrgb, true
	case gpucore.TextureFormatR8Unorm:
		return gputypes.TextureFormatR8Unorm, true
	case gpucore.TextureFormatR32Float:
		return gputypes.TextureFormatR32Float, true
	case gpucore.TextureFormatRG32Float:
		return gputypes.TextureFormatRG32Float, true
	case gpucore.TextureFormatRGBA32Float:
		return gputypes.TextureFormatRGBA32Float, true
	default:
		return gputypes.TextureFormatRGBA8Unorm, false
	}
}

func convertTextureUsage(u gpucore.TextureUsage) gputypes.TextureUsage {
	var result gputypes.TextureUsage
	if u&gpucore.TextureUsageSampling != 0 {
		result |= gputypes.TextureUsageTextureBinding
	}
	if u&gpucore.TextureUsageStorage != 0 {
		result |= gputypes.TextureUsageStorageBinding
	}
	if u&gpucore.TextureUsageCanUpdate != 0 {
		result |= gputypes.TextureUsageCopyDst
	}
	if u&gpucore.TextureUsageCanCopyFrom != 0 {
		result |= gputypes.TextureUsageCopySrc
	}
	return result
}

func convertFilterMode(m gpucore.FilterMode) gputypes.FilterMode {
	if m == gpucore.FilterNearest {
		return gputypes.FilterModeNearest
	}
	return gputypes.FilterModeLinear
}

func convertAddressMode(m gpucore.AddressMode) gputypes.AddressMode {
	switch m {
	case gpucore.AddressRepeat:
		return gputypes.AddressModeRepeat
	case gpucore.AddressMirrorRepeat:
		return gputypes.AddressModeMirrorRepeat
	default:
		return gputypes.AddressModeClampToEdge
	}
}
