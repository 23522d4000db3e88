//go:build !nogpu

package native

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/compute/gpucore"
)

// copyAlignment is the alignment the queue requires for buffer writes and
// buffer-to-buffer copies.
const copyAlignment = 4

type bufferEntry struct {
	buf hal.Buffer
	// size is the allocated size, a multiple of copyAlignment.
	size uint64
	// length is the size the buffer was created with.
	length  uint64
	uniform bool
}

func alignUp(n, align uint64) uint64 {
	return (n + align - 1) / align * align
}

// CreateStorageBuffer allocates a storage buffer initialized from data.
func (d *Device) CreateStorageBuffer(data []byte) (gpucore.Handle, error) {
	return d.createBuffer(data, gputypes.BufferUsageStorage, false)
}

// CreateUniformBuffer allocates a uniform buffer initialized from data.
func (d *Device) CreateUniformBuffer(data []byte) (gpucore.Handle, error) {
	return d.createBuffer(data, gputypes.BufferUsageUniform, true)
}

func (d *Device) createBuffer(data []byte, usage gputypes.BufferUsage, uniform bool) (gpucore.Handle, error) {
	if len(data) == 0 {
		return gpucore.InvalidHandle, errors.New("native: buffer data is empty")
	}

	length := uint64(len(data))
	size := alignUp(length, copyAlignment)
	label := "compute-storage"
	if uniform {
		label = "compute-uniform"
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return gpucore.InvalidHandle, ErrDestroyed
	}

	buf, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: label,
		Size:  size,
		Usage: usage | gputypes.BufferUsageCopyDst | gputypes.BufferUsageCopySrc,
	})
	if err != nil {
		return gpucore.InvalidHandle, fmt.Errorf("native: create buffer: %w", err)
	}

	upload := data
	if size != length {
		upload = make([]byte, size)
		copy(upload, data)
	}
	d.queue.WriteBuffer(buf, 0, upload)

	h := d.newHandle()
	d.buffers[h] = &bufferEntry{buf: buf, size: size, length: length, uniform: uniform}
	return h, nil
}

// UpdateBuffer overwrites buffer content starting at offset. Offset and
// length must be multiples of 4 unless the write ends at the buffer end.
func (d *Device) UpdateBuffer(h gpucore.Handle, offset uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return ErrDestroyed
	}

	b, ok := d.buffers[h]
	if !ok {
		return fmt.Errorf("%w: buffer %d", ErrUnknownHandle, h)
	}
	end := offset + uint64(len(data))
	if end > b.length {
		return fmt.Errorf("native: write of %d bytes at %d overflows %d-byte buffer", len(data), offset, b.length)
	}
	if offset%copyAlignment != 0 {
		return fmt.Errorf("native: buffer write offset %d is not %d-byte aligned", offset, copyAlignment)
	}

	upload := data
	if uint64(len(data))%copyAlignment != 0 {
		if end != b.length {
			return fmt.Errorf("native: buffer write of %d bytes is not %d-byte aligned", len(data), copyAlignment)
		}
		// The tail beyond length is padding nobody reads.
		upload = make([]byte, alignUp(uint64(len(data)), copyAlignment))
		copy(upload, data)
	}
	d.queue.WriteBuffer(b.buf, offset, upload)
	return nil
}

// BufferData copies the buffer back through a staging buffer. Work already
// submitted on the queue completes first.
func (d *Device) BufferData(h gpucore.Handle) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return nil, ErrDestroyed
	}

	b, ok := d.buffers[h]
	if !ok {
		return nil, fmt.Errorf("%w: buffer %d", ErrUnknownHandle, h)
	}

	staging, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "compute-readback",
		Size:  b.size,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("native: create staging buffer: %w", err)
	}
	defer d.device.DestroyBuffer(staging)

	encoder, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "compute-readback"})
	if err != nil {
		return nil, fmt.Errorf("native: create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding("compute-readback"); err != nil {
		return nil, fmt.Errorf("native: begin encoding: %w", err)
	}
	encoder.CopyBufferToBuffer(b.buf, staging, []hal.BufferCopy{
		{SrcOffset: 0, DstOffset: 0, Size: b.size},
	})
	cmd, err := encoder.EndEncoding()
	if err != nil {
		return nil, fmt.Errorf("native: end encoding: %w", err)
	}
	if err := d.submitAndWaitLocked(cmd); err != nil {
		return nil, err
	}

	out := make([]byte, b.size)
	if err := d.queue.ReadBuffer(staging, 0, out); err != nil {
		return nil, fmt.Errorf("native: read staging buffer: %w", err)
	}
	return out[:b.length], nil
}
