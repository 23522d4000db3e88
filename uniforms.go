package compute

import (
	"fmt"
	"image"

	"github.com/gogpu/compute/gpucore"
)

// CreateStorageBufferUniform creates a storage buffer initialized from data
// and binds it at binding in set. The returned handle is used with
// UpdateStorageBufferUniform and StorageBufferUniform, and is released by
// Close.
func (cs *ComputeShader) CreateStorageBufferUniform(data []byte, binding, set uint32) (gpucore.Handle, error) {
	return cs.createBuffer(gpucore.UniformTypeStorageBuffer, data, binding, set)
}

// CreateUniformBufferUniform is CreateStorageBufferUniform for a read-only
// uniform buffer.
func (cs *ComputeShader) CreateUniformBufferUniform(data []byte, binding, set uint32) (gpucore.Handle, error) {
	return cs.createBuffer(gpucore.UniformTypeUniformBuffer, data, binding, set)
}

func (cs *ComputeShader) createBuffer(kind gpucore.UniformType, data []byte, binding, set uint32) (gpucore.Handle, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if err := cs.usableLocked(); err != nil {
		return gpucore.InvalidHandle, err
	}

	var (
		buf gpucore.Handle
		err error
	)
	if kind == gpucore.UniformTypeUniformBuffer {
		buf, err = cs.device.CreateUniformBuffer(data)
	} else {
		buf, err = cs.device.CreateStorageBuffer(data)
	}
	if err != nil {
		return gpucore.InvalidHandle, fmt.Errorf("compute: create %v (%d bytes): %w", kind, len(data), err)
	}

	u := gpucore.Uniform{Binding: binding, Type: kind, IDs: []gpucore.Handle{buf}}
	if err := cs.addLocked(set, u, buf); err != nil {
		return gpucore.InvalidHandle, err
	}
	return buf, nil
}

// UpdateStorageBufferUniform overwrites the content of a buffer from the
// start. data must not be larger than the buffer.
func (cs *ComputeShader) UpdateStorageBufferUniform(buf gpucore.Handle, data []byte) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if err := cs.usableLocked(); err != nil {
		return err
	}
	if err := cs.device.UpdateBuffer(buf, 0, data); err != nil {
		return fmt.Errorf("compute: update buffer %d: %w", buf, err)
	}
	return nil
}

// StorageBufferUniform copies the content of a buffer back to host memory.
func (cs *ComputeShader) StorageBufferUniform(buf gpucore.Handle) ([]byte, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if err := cs.usableLocked(); err != nil {
		return nil, err
	}
	data, err := cs.device.BufferData(buf)
	if err != nil {
		return nil, fmt.Errorf("compute: read buffer %d: %w", buf, err)
	}
	return data, nil
}

// CreateImageUniform creates a single-layer 2D texture from img and binds
// it as a storage image at binding in set.
//
// img is converted to the texel layout of format.Format and scaled to the
// format size if needed; pass a *RawImage to upload texels unchanged.
func (cs *ComputeShader) CreateImageUniform(img image.Image, format *gpucore.TextureFormatDesc, view *gpucore.TextureView, binding, set uint32) (gpucore.Handle, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if err := cs.usableLocked(); err != nil {
		return gpucore.InvalidHandle, err
	}
	if format == nil {
		return gpucore.InvalidHandle, fmt.Errorf("%w: nil texture format", ErrInvalidArgument)
	}
	desc := *format
	desc.Type = gpucore.TextureType2D
	desc.ArrayLayers = 1

	texels, err := imageTexels(img, &desc)
	if err != nil {
		return gpucore.InvalidHandle, err
	}

	tex, err := cs.device.CreateTexture(&desc, viewOrDefault(view), [][]byte{texels})
	if err != nil {
		return gpucore.InvalidHandle, fmt.Errorf("compute: create %dx%d texture: %w", desc.Width, desc.Height, err)
	}
	if err := cs.addLocked(set, gpucore.ImageUniform(binding, tex), tex); err != nil {
		return gpucore.InvalidHandle, err
	}
	return tex, nil
}

// ImageUniformBuffer copies one layer of a texture back to host memory.
func (cs *ComputeShader) ImageUniformBuffer(tex gpucore.Handle, layer uint32) ([]byte, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if err := cs.usableLocked(); err != nil {
		return nil, err
	}
	data, err := cs.device.TextureLayerData(tex, layer)
	if err != nil {
		return nil, fmt.Errorf("compute: read texture %d layer %d: %w", tex, layer, err)
	}
	return data, nil
}

// CreateLayeredImageUniform creates a 2D array texture with one layer per
// image, in order, plus a default linear sampler, and binds the pair as a
// sampler with texture at binding in set. The texture handle is returned.
//
// format is copied; its type and layer count are set for the array.
func (cs *ComputeShader) CreateLayeredImageUniform(imgs []image.Image, format *gpucore.TextureFormatDesc, view *gpucore.TextureView, binding, set uint32) (gpucore.Handle, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if err := cs.usableLocked(); err != nil {
		return gpucore.InvalidHandle, err
	}
	if len(imgs) == 0 {
		return gpucore.InvalidHandle, fmt.Errorf("%w: layered image uniform needs at least one image", ErrInvalidArgument)
	}
	if format == nil {
		return gpucore.InvalidHandle, fmt.Errorf("%w: nil texture format", ErrInvalidArgument)
	}

	desc := *format
	desc.Type = gpucore.TextureType2DArray
	desc.ArrayLayers = uint32(len(imgs))

	layers, err := layerTexels(imgs, &desc)
	if err != nil {
		return gpucore.InvalidHandle, err
	}

	sampler, err := cs.device.CreateSampler(&gpucore.SamplerState{})
	if err != nil {
		return gpucore.InvalidHandle, fmt.Errorf("compute: create sampler: %w", err)
	}
	tex, err := cs.device.CreateTexture(&desc, viewOrDefault(view), layers)
	if err != nil {
		cs.device.Free(sampler)
		return gpucore.InvalidHandle, fmt.Errorf("compute: create %dx%dx%d texture array: %w",
			desc.Width, desc.Height, desc.ArrayLayers, err)
	}

	u := gpucore.SamplerWithTextureUniform(binding, sampler, tex)
	if err := cs.addLocked(set, u, sampler, tex); err != nil {
		return gpucore.InvalidHandle, err
	}
	return tex, nil
}

// AddExistingBuffer binds a resource the caller already owns. The shader
// never releases it.
func (cs *ComputeShader) AddExistingBuffer(h gpucore.Handle, kind gpucore.UniformType, binding, set uint32) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if err := cs.usableLocked(); err != nil {
		return err
	}
	return cs.addLocked(set, gpucore.Uniform{Binding: binding, Type: kind, IDs: []gpucore.Handle{h}})
}

// addLocked records u in set and takes ownership of owned. If the table
// rejects u, owned resources are freed instead.
func (cs *ComputeShader) addLocked(set uint32, u gpucore.Uniform, owned ...gpucore.Handle) error {
	if err := cs.uniforms.Add(set, u); err != nil {
		for _, h := range owned {
			cs.device.Free(h)
		}
		return fmt.Errorf("compute: register %v at set %d binding %d: %w", u.Type, set, u.Binding, err)
	}
	for _, h := range owned {
		cs.resources.Track(h)
	}
	slogger().Debug("compute: uniform registered", "shader", cs.label,
		"type", u.Type.String(), "set", set, "binding", u.Binding)
	return nil
}

func viewOrDefault(v *gpucore.TextureView) *gpucore.TextureView {
	if v == nil {
		return &gpucore.TextureView{}
	}
	return v
}
