//go:build !nogpu

package native

import (
	"cmp"
	"errors"
	"fmt"
	"hash/fnv"
	"slices"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/compute/gpucore"
)

// layoutKind is the HAL binding class of one expanded uniform slot.
type layoutKind uint8

const (
	layoutStorageBuffer layoutKind = iota + 1
	layoutUniformBuffer
	layoutStorageTexture
	layoutSampledTexture
	layoutSampler
)

type layoutEntry struct {
	binding uint32
	kind    layoutKind
	format  gputypes.TextureFormat
	viewDim gputypes.TextureViewDimension
}

type uniformSetEntry struct {
	layout hal.BindGroupLayout
	group  hal.BindGroup
	set    uint32
	// signature identifies the layout; sets with equal signatures are
	// interchangeable in a pipeline layout.
	signature uint64
}

// nativeHandle is implemented by HAL objects that can be referenced from a
// bind group entry.
type nativeHandle interface {
	NativeHandle() uintptr
}

// CreateUniformSet builds a bind group layout and bind group for uniforms.
//
// Each uniform occupies its binding slot, except SamplerWithTexture, which
// binds the sampler at its slot and the texture at the next one, matching
// WGSL, where samplers and textures are separate bindings.
func (d *Device) CreateUniformSet(uniforms []gpucore.Uniform, shader gpucore.Handle, set uint32) (gpucore.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return gpucore.InvalidHandle, ErrDestroyed
	}
	if _, ok := d.shaders[shader]; !ok {
		return gpucore.InvalidHandle, fmt.Errorf("%w: shader %d", ErrUnknownHandle, shader)
	}

	layout := make([]layoutEntry, 0, len(uniforms))
	entries := make([]gputypes.BindGroupEntry, 0, len(uniforms))
	used := make(map[uint32]gpucore.UniformType, len(uniforms))

	claim := func(binding uint32, t gpucore.UniformType) error {
		if prev, taken := used[binding]; taken {
			return fmt.Errorf("%w: set %d binding %d used by %v and %v", ErrBindingCollision, set, binding, prev, t)
		}
		used[binding] = t
		return nil
	}

	for _, u := range uniforms {
		if err := u.Validate(); err != nil {
			return gpucore.InvalidHandle, fmt.Errorf("native: set %d: %w", set, err)
		}
		switch u.Type {
		case gpucore.UniformTypeStorageBuffer, gpucore.UniformTypeUniformBuffer:
			if err := claim(u.Binding, u.Type); err != nil {
				return gpucore.InvalidHandle, err
			}
			le, be, err := d.bufferBinding(u.Binding, u.IDs[0], u.Type == gpucore.UniformTypeUniformBuffer)
			if err != nil {
				return gpucore.InvalidHandle, err
			}
			layout = append(layout, le)
			entries = append(entries, be)

		case gpucore.UniformTypeImage, gpucore.UniformTypeTexture:
			if err := claim(u.Binding, u.Type); err != nil {
				return gpucore.InvalidHandle, err
			}
			le, be, err := d.textureBinding(u.Binding, u.IDs[0], u.Type == gpucore.UniformTypeImage)
			if err != nil {
				return gpucore.InvalidHandle, err
			}
			layout = append(layout, le)
			entries = append(entries, be)

		case gpucore.UniformTypeSampler:
			if err := claim(u.Binding, u.Type); err != nil {
				return gpucore.InvalidHandle, err
			}
			le, be, err := d.samplerBinding(u.Binding, u.IDs[0])
			if err != nil {
				return gpucore.InvalidHandle, err
			}
			layout = append(layout, le)
			entries = append(entries, be)

		case gpucore.UniformTypeSamplerWithTexture:
			if err := claim(u.Binding, u.Type); err != nil {
				return gpucore.InvalidHandle, err
			}
			if err := claim(u.Binding+1, u.Type); err != nil {
				return gpucore.InvalidHandle, err
			}
			sle, sbe, err := d.samplerBinding(u.Binding, u.IDs[0])
			if err != nil {
				return gpucore.InvalidHandle, err
			}
			tle, tbe, err := d.textureBinding(u.Binding+1, u.IDs[1], false)
			if err != nil {
				return gpucore.InvalidHandle, err
			}
			layout = append(layout, sle, tle)
			entries = append(entries, sbe, tbe)
		}
	}

	slices.SortFunc(layout, func(a, b layoutEntry) int { return cmp.Compare(a.binding, b.binding) })
	halLayout := make([]gputypes.BindGroupLayoutEntry, len(layout))
	for i, le := range layout {
		halLayout[i] = le.toHAL()
	}

	label := fmt.Sprintf("compute-set-%d", set)
	bgl, err := d.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   label,
		Entries: halLayout,
	})
	if err != nil {
		return gpucore.InvalidHandle, fmt.Errorf("native: create bind group layout: %w", err)
	}
	bg, err := d.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   label,
		Layout:  bgl,
		Entries: entries,
	})
	if err != nil {
		d.device.DestroyBindGroupLayout(bgl)
		return gpucore.InvalidHandle, fmt.Errorf("native: create bind group: %w", err)
	}

	h := d.newHandle()
	d.uniformSets[h] = &uniformSetEntry{
		layout:    bgl,
		group:     bg,
		set:       set,
		signature: layoutSignature(layout),
	}
	return h, nil
}

func (d *Device) bufferBinding(binding uint32, h gpucore.Handle, uniform bool) (layoutEntry, gputypes.BindGroupEntry, error) {
	b, ok := d.buffers[h]
	if !ok {
		return layoutEntry{}, gputypes.BindGroupEntry{}, fmt.Errorf("%w: buffer %d at binding %d", ErrUnknownHandle, h, binding)
	}
	kind := layoutStorageBuffer
	if uniform {
		kind = layoutUniformBuffer
	}
	return layoutEntry{binding: binding, kind: kind},
		gputypes.BindGroupEntry{
			Binding:  binding,
			Resource: gputypes.BufferBinding{Buffer: b.buf.NativeHandle(), Offset: 0, Size: b.size},
		}, nil
}

func (d *Device) textureBinding(binding uint32, h gpucore.Handle, storage bool) (layoutEntry, gputypes.BindGroupEntry, error) {
	t, ok := d.textures[h]
	if !ok {
		return layoutEntry{}, gputypes.BindGroupEntry{}, fmt.Errorf("%w: texture %d at binding %d", ErrUnknownHandle, h, binding)
	}
	nh, ok := t.view.(nativeHandle)
	if !ok {
		return layoutEntry{}, gputypes.BindGroupEntry{}, errors.New("native: texture view has no native handle")
	}
	kind := layoutSampledTexture
	if storage {
		kind = layoutStorageTexture
	}
	return layoutEntry{binding: binding, kind: kind, format: t.viewFormat, viewDim: t.viewDim},
		gputypes.BindGroupEntry{
			Binding:  binding,
			Resource: gputypes.TextureViewBinding{TextureView: gputypes.TextureViewHandle(nh.NativeHandle())},
		}, nil
}

func (d *Device) samplerBinding(binding uint32, h gpucore.Handle) (layoutEntry, gputypes.BindGroupEntry, error) {
	s, ok := d.samplers[h]
	if !ok {
		return layoutEntry{}, gputypes.BindGroupEntry{}, fmt.Errorf("%w: sampler %d at binding %d", ErrUnknownHandle, h, binding)
	}
	nh, ok := s.(nativeHandle)
	if !ok {
		return layoutEntry{}, gputypes.BindGroupEntry{}, errors.New("native: sampler has no native handle")
	}
	return layoutEntry{binding: binding, kind: layoutSampler},
		gputypes.BindGroupEntry{
			Binding:  binding,
			Resource: gputypes.SamplerBinding{Sampler: gputypes.SamplerHandle(nh.NativeHandle())},
		}, nil
}

func (e layoutEntry) toHAL() gputypes.BindGroupLayoutEntry {
	out := gputypes.BindGroupLayoutEntry{
		Binding:    e.binding,
		Visibility: gputypes.ShaderStageCompute,
	}
	switch e.kind {
	case layoutStorageBuffer:
		out.Buffer = &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage}
	case layoutUniformBuffer:
		out.Buffer = &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}
	case layoutStorageTexture:
		out.StorageTexture = &gputypes.StorageTextureBindingLayout{
			Access:        gputypes.StorageTextureAccessReadWrite,
			Format:        e.format,
			ViewDimension: e.viewDim,
		}
	case layoutSampledTexture:
		out.Texture = &gputypes.TextureBindingLayout{
			SampleType:    gputypes.TextureSampleTypeFloat,
			ViewDimension: e.viewDim,
		}
	case layoutSampler:
		out.Sampler = &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeFiltering}
	}
	return out
}

// layoutSignature hashes entries, which must be sorted by binding.
func layoutSignature(entries []layoutEntry) uint64 {
	h := fnv.New64a()
	hashWriteUint32(h, uint32(len(entries)))
	for _, e := range entries {
		hashWriteUint32(h, e.binding)
		hashWriteUint32(h, uint32(e.kind))
		hashWriteUint32(h, uint32(e.format))
		hashWriteUint32(h, uint32(e.viewDim))
	}
	return h.Sum64()
}

func (d *Device) destroyUniformSet(us *uniformSetEntry) {
	d.device.DestroyBindGroup(us.group)
	d.device.DestroyBindGroupLayout(us.layout)
}
