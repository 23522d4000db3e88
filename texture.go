package compute

import (
	"fmt"
	"image"
	"image/color"
	"runtime"
	"slices"

	"golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"

	"github.com/gogpu/compute/gpucore"
)

// defaultTextureUsage enables every usage a compute texture may need.
const defaultTextureUsage = gpucore.TextureUsageStorage | gpucore.TextureUsageCanUpdate |
	gpucore.TextureUsageCanCopyFrom | gpucore.TextureUsageSampling

// CreateTextureFormat returns a single-layer 2D texture description of the
// given size and format, usable as a storage image, a sampled texture and a
// copy source and destination.
func CreateTextureFormat(width, height uint32, format gpucore.TextureFormat) *gpucore.TextureFormatDesc {
	return &gpucore.TextureFormatDesc{
		Width:       width,
		Height:      height,
		Depth:       1,
		ArrayLayers: 1,
		Mipmaps:     1,
		Type:        gpucore.TextureType2D,
		Format:      format,
		Usage:       defaultTextureUsage,
	}
}

// RawImage is texel data already laid out for a texture format, rows
// tightly packed. It is uploaded without conversion.
type RawImage struct {
	Width, Height int
	Format        gpucore.TextureFormat
	Pix           []byte
}

// ColorModel implements image.Image.
func (r *RawImage) ColorModel() color.Model { return color.NRGBAModel }

// Bounds implements image.Image.
func (r *RawImage) Bounds() image.Rectangle { return image.Rect(0, 0, r.Width, r.Height) }

// At implements image.Image for the 8-bit formats. Other formats read as
// transparent.
func (r *RawImage) At(x, y int) color.Color {
	if !image.Pt(x, y).In(r.Bounds()) {
		return color.NRGBA{}
	}
	bpp := r.Format.BytesPerTexel()
	i := (y*r.Width + x) * bpp
	if i+bpp > len(r.Pix) {
		return color.NRGBA{}
	}
	p := r.Pix[i : i+bpp]
	switch r.Format {
	case gpucore.TextureFormatRGBA8Unorm, gpucore.TextureFormatRGBA8UnormSRGB:
		return color.NRGBA{R: p[0], G: p[1], B: p[2], A: p[3]}
	case gpucore.TextureFormatBGRA8Unorm, gpucore.TextureFormatBGRA8UnormSRGB:
		return color.NRGBA{R: p[2], G: p[1], B: p[0], A: p[3]}
	case gpucore.TextureFormatR8Unorm:
		return color.Gray{Y: p[0]}
	default:
		return color.NRGBA{}
	}
}

// imageTexels converts img to one tightly packed layer of desc.
func imageTexels(img image.Image, desc *gpucore.TextureFormatDesc) ([]byte, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: nil image", ErrInvalidArgument)
	}
	if raw, ok := img.(*RawImage); ok {
		if raw == nil {
			return nil, fmt.Errorf("%w: nil raw image", ErrInvalidArgument)
		}
		if raw.Format != desc.Format {
			return nil, fmt.Errorf("%w: raw image format %d, texture format %d", ErrUnsupportedFormat, raw.Format, desc.Format)
		}
		if len(raw.Pix) != desc.LayerSize() || raw.Width != int(desc.Width) || raw.Height != int(desc.Height) {
			return nil, fmt.Errorf("%w: raw image %dx%d (%d bytes), texture %dx%d (%d bytes)",
				ErrImageSize, raw.Width, raw.Height, len(raw.Pix), desc.Width, desc.Height, desc.LayerSize())
		}
		return slices.Clone(raw.Pix), nil
	}

	rect := image.Rect(0, 0, int(desc.Width), int(desc.Height))
	if rect.Empty() {
		return nil, fmt.Errorf("%w: texture is %dx%d", ErrImageSize, desc.Width, desc.Height)
	}

	switch desc.Format {
	case gpucore.TextureFormatRGBA8Unorm, gpucore.TextureFormatRGBA8UnormSRGB:
		dst := image.NewNRGBA(rect)
		convertInto(dst, img)
		return dst.Pix, nil
	case gpucore.TextureFormatBGRA8Unorm, gpucore.TextureFormatBGRA8UnormSRGB:
		dst := image.NewNRGBA(rect)
		convertInto(dst, img)
		for i := 0; i < len(dst.Pix); i += 4 {
			dst.Pix[i], dst.Pix[i+2] = dst.Pix[i+2], dst.Pix[i]
		}
		return dst.Pix, nil
	case gpucore.TextureFormatR8Unorm:
		dst := image.NewGray(rect)
		convertInto(dst, img)
		return dst.Pix, nil
	default:
		return nil, fmt.Errorf("%w: %d cannot be converted from image.Image, use RawImage", ErrUnsupportedFormat, desc.Format)
	}
}

// layerTexels converts each image to one layer of desc, in parallel.
func layerTexels(imgs []image.Image, desc *gpucore.TextureFormatDesc) ([][]byte, error) {
	layers := make([][]byte, len(imgs))
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, img := range imgs {
		g.Go(func() error {
			texels, err := imageTexels(img, desc)
			if err != nil {
				return fmt.Errorf("layer %d: %w", i, err)
			}
			layers[i] = texels
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return layers, nil
}

// convertInto draws src into dst, scaling bilinearly when sizes differ.
func convertInto(dst draw.Image, src image.Image) {
	sb := src.Bounds()
	if sb.Size() == dst.Bounds().Size() {
		draw.Draw(dst, dst.Bounds(), src, sb.Min, draw.Src)
		return
	}
	slogger().Debug("compute: scaling image to texture size",
		"from", sb.Size().String(), "to", dst.Bounds().Size().String())
	draw.BiLinear.Scale(dst, dst.Bounds(), src, sb, draw.Src, nil)
}
